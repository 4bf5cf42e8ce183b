package domain

import (
	"fmt"
	"math"
)

const (
	DefaultPageLimit = 10
	MaxPageLimit     = 500
)

type PageRequest struct {
	Page  int
	Limit int
}

func (r PageRequest) Validate() error {
	if r.Page < 1 {
		return fmt.Errorf("%w: page must be >= 1", ErrValidation)
	}
	if r.Limit < 1 || r.Limit > MaxPageLimit {
		return fmt.Errorf("%w: limit must be between 1 and %d", ErrValidation, MaxPageLimit)
	}
	return nil
}

// Offset saturates at math.MaxInt, which lies past any real total, so a page
// too large to address is out of range rather than wrapping negative.
func (r PageRequest) Offset() int {
	if r.Page < 1 || r.Limit < 1 {
		return 0
	}
	if r.Page-1 > math.MaxInt/r.Limit {
		return math.MaxInt
	}
	return (r.Page - 1) * r.Limit
}

type Page[T any] struct {
	Items       []T
	CurrentPage int
	TotalItems  int
	TotalPages  int
}

// NewPage computes the page totals; zero items yields zero pages.
func NewPage[T any](req PageRequest, items []T, total int) Page[T] {
	if items == nil {
		items = []T{}
	}
	pages := 0
	if total > 0 {
		pages = (total + req.Limit - 1) / req.Limit
	}
	return Page[T]{
		Items:       items,
		CurrentPage: req.Page,
		TotalItems:  total,
		TotalPages:  pages,
	}
}
