package utils

import (
	"net/http"
	"strconv"
)

type Page struct {
	Page  int
	Limit int
}

func (p Page) Skip() int64 { return int64((p.Page - 1) * p.Limit) }

// TotalPages rounds up; zero results yield zero pages.
func TotalPages(total int64, limit int) int {
	if limit <= 0 {
		return 0
	}
	return int((total + int64(limit) - 1) / int64(limit))
}

// ParsePage reads page and limit, clamping to sane bounds.
func ParsePage(r *http.Request, defLimit, maxLimit int) Page {
	q := r.URL.Query()

	page, _ := strconv.Atoi(q.Get("page"))
	if page < 1 {
		page = 1
	}

	limit, _ := strconv.Atoi(q.Get("limit"))
	if limit < 1 {
		limit = defLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return Page{Page: page, Limit: limit}
}
