// Package catalog serves paginated product listings: an administrative listing over
// every product and a public listing that hides hidden products and marks the rows
// already present in the shopper's cart.
package catalog

import (
	"errors"

	"shop-catalog/internal/domain"

	"github.com/google/uuid"
)

// ErrInvalidQuery is returned for pagination or locale input the engine cannot serve.
var ErrInvalidQuery = errors.New("invalid catalog query")

// Query is the caller-facing listing input.
type Query struct {
	Keyword    string
	CategoryID *uuid.UUID
	Page       int
	PageSize   int
	// Locale is a BCP 47 tag. Empty selects the catalog default. Malformed tags
	// are rejected; matching itself folds case the same way for every locale.
	Locale string
}

// Filter is the predicate and window handed to a ProductFinder. The same Filter
// drives both the page of rows and the total count.
type Filter struct {
	// Keyword is folded for matching and must be treated as a literal substring.
	Keyword     string
	CategoryID  *uuid.UUID
	VisibleOnly bool
	Page        int
	PageSize    int
}

// Offset is the number of matching rows before the requested page.
func (f Filter) Offset() int {
	return (f.Page - 1) * f.PageSize
}

// PageInfo carries the total number of matches independent of the page window.
type PageInfo struct {
	TotalRecords int `json:"totalRecords"`
}

// Result is the listing envelope. PageInfo is empty when nothing matched.
type Result struct {
	ResultData []*domain.ProductView `json:"resultData"`
	PageInfo   []PageInfo            `json:"pageInfo"`
}

// TotalRecords returns the match count, treating an empty PageInfo as zero.
func (r *Result) TotalRecords() int {
	if len(r.PageInfo) == 0 {
		return 0
	}
	return r.PageInfo[0].TotalRecords
}

func newResult(rows []*domain.ProductView, total int) *Result {
	if rows == nil {
		rows = []*domain.ProductView{}
	}
	info := []PageInfo{}
	if total > 0 {
		info = append(info, PageInfo{TotalRecords: total})
	}
	return &Result{ResultData: rows, PageInfo: info}
}
