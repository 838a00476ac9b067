package http

import (
	"time"

	"github.com/vadimbarashkov/shortlink/internal/entity"
)

// urlRequest is the body of the shorten and modify requests.
type urlRequest struct {
	URL string `json:"url" validate:"required"`
}

// listQuery holds the pagination parameters of the list request.
type listQuery struct {
	Skip  int `json:"skip" validate:"gte=0"`
	Limit int `json:"limit" validate:"gte=1,lte=100"`
}

const (
	defaultSkip  = 0
	defaultLimit = 10
)

type urlResponse struct {
	ShortCode   string `json:"short_code"`
	OriginalURL string `json:"original_url"`
}

func toURLResponse(url *entity.URL) urlResponse {
	return urlResponse{
		ShortCode:   url.ShortCode,
		OriginalURL: url.OriginalURL,
	}
}

// urlStatsResponse is used both by the stats endpoint and for list items.
type urlStatsResponse struct {
	ShortCode    string     `json:"short_code"`
	OriginalURL  string     `json:"original_url"`
	AccessCount  int64      `json:"access_count"`
	CreatedAt    time.Time  `json:"created_at"`
	LastAccessed *time.Time `json:"last_accessed"`
}

func toURLStatsResponse(url *entity.URL) urlStatsResponse {
	return urlStatsResponse{
		ShortCode:    url.ShortCode,
		OriginalURL:  url.OriginalURL,
		AccessCount:  url.AccessCount,
		CreatedAt:    url.CreatedAt,
		LastAccessed: url.LastAccessedAt,
	}
}

type urlListResponse struct {
	URLs  []urlStatsResponse `json:"urls"`
	Total int                `json:"total"`
}

func toURLListResponse(urls []*entity.URL, total int) urlListResponse {
	resp := urlListResponse{
		URLs:  make([]urlStatsResponse, 0, len(urls)),
		Total: total,
	}

	for _, url := range urls {
		resp.URLs = append(resp.URLs, toURLStatsResponse(url))
	}

	return resp
}

type statusResponse struct {
	Status string `json:"status"`
}

var healthyResponse = statusResponse{Status: "healthy"}

type messageResponse struct {
	Message string `json:"message"`
}

var urlDeletedResponse = messageResponse{Message: "url deleted"}
