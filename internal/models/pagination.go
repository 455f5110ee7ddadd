package models

import "math"

// DefaultPageLimit and MaxPageLimit bound list endpoint page sizes.
const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

// Page is a normalized page request.
type Page struct {
	Page  int
	Limit int
}

// NewPage clamps page and limit to sane values. The page is capped so
// that its offset and end both fit in an int.
func NewPage(page, limit int) Page {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	if maxPage := math.MaxInt / limit; page > maxPage {
		page = maxPage
	}
	return Page{Page: page, Limit: limit}
}

// Offset returns the number of items to skip.
func (p Page) Offset() int {
	return (p.Page - 1) * p.Limit
}

// Bounds returns the slice bounds of this page within n items.
func (p Page) Bounds(n int) (int, int) {
	start := p.Offset()
	if start < 0 || start > n {
		start = n
	}
	end := start + p.Limit
	if end > n {
		end = n
	}
	return start, end
}

// Pagination is the envelope shared by every list endpoint.
type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

// NewPagination builds the envelope for total items.
func NewPagination(p Page, total int) Pagination {
	pages := 0
	if total > 0 {
		pages = (total + p.Limit - 1) / p.Limit
	}
	return Pagination{Page: p.Page, Limit: p.Limit, Total: total, TotalPages: pages}
}

// PageResult is a page of items plus its envelope.
type PageResult[T any] struct {
	Items      []T        `json:"items"`
	Pagination Pagination `json:"pagination"`
}

// Paginate slices items for p.
func Paginate[T any](items []T, p Page) PageResult[T] {
	start, end := p.Bounds(len(items))
	out := make([]T, end-start)
	copy(out, items[start:end])
	return PageResult[T]{Items: out, Pagination: NewPagination(p, len(items))}
}
