package blog

import (
	"cmp"
	"slices"
	"strings"
)

// DefaultPageSize is used when a listing is created with a non-positive size.
const DefaultPageSize = 6

type SortOrder string

const (
	Ascending  SortOrder = "asc"
	Descending SortOrder = "desc"
)

type SortType string

const (
	SortAlpha SortType = "alpha"
	SortDate  SortType = "date"
)

// Listing filters, sorts and paginates a fetched list. Changing the query or
// the order goes back to page 1. Pages are 1-based.
type Listing[T any] struct {
	items    []T
	fields   func(T) []string
	compare  func(a, b T) int
	query    string
	order    SortOrder
	page     int
	pageSize int
}

// NewListing creates a listing over items. fields returns the searchable
// text of an item and compare defines the ascending order.
func NewListing[T any](items []T, fields func(T) []string, compare func(a, b T) int, pageSize int) *Listing[T] {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Listing[T]{
		items:    items,
		fields:   fields,
		compare:  compare,
		order:    Descending,
		page:     1,
		pageSize: pageSize,
	}
}

func (l *Listing[T]) SetQuery(q string) {
	l.query = q
	l.page = 1
}

func (l *Listing[T]) SetOrder(o SortOrder) {
	if o != Ascending {
		o = Descending
	}
	l.order = o
	l.page = 1
}

func (l *Listing[T]) ToggleOrder() {
	if l.order == Ascending {
		l.SetOrder(Descending)
		return
	}
	l.SetOrder(Ascending)
}

func (l *Listing[T]) Order() SortOrder { return l.order }

func (l *Listing[T]) Page() int { return l.page }

// Results returns every matching item in display order.
func (l *Listing[T]) Results() []T {
	out := make([]T, 0, len(l.items))
	q := strings.ToLower(l.query)
	for _, it := range l.items {
		if q == "" || l.matches(it, q) {
			out = append(out, it)
		}
	}

	slices.SortStableFunc(out, func(a, b T) int {
		if l.order == Ascending {
			return l.compare(a, b)
		}
		return l.compare(b, a)
	})
	return out
}

func (l *Listing[T]) matches(it T, q string) bool {
	for _, f := range l.fields(it) {
		if strings.Contains(strings.ToLower(f), q) {
			return true
		}
	}
	return false
}

// TotalPages is 0 when nothing matches.
func (l *Listing[T]) TotalPages() int {
	n := len(l.Results())
	return (n + l.pageSize - 1) / l.pageSize
}

// Items returns the current page.
func (l *Listing[T]) Items() []T {
	all := l.Results()
	start := (l.page - 1) * l.pageSize
	if start >= len(all) {
		return nil
	}
	end := min(start+l.pageSize, len(all))
	return all[start:end]
}

func (l *Listing[T]) NextPage() {
	if l.page < l.TotalPages() {
		l.page++
	}
}

func (l *Listing[T]) PrevPage() {
	if l.page > 1 {
		l.page--
	}
}

// GoToPage moves to page and reports whether it exists. Out-of-range pages
// leave the listing where it is.
func (l *Listing[T]) GoToPage(page int) bool {
	if page < 1 || page > l.TotalPages() {
		return false
	}
	l.page = page
	return true
}

// ArticleListing searches titles; alpha sorts by title, date by date.
func ArticleListing(items []ArticleSummary, by SortType, pageSize int) *Listing[ArticleSummary] {
	compare := func(a, b ArticleSummary) int { return cmp.Compare(a.Date, b.Date) }
	if by == SortAlpha {
		compare = func(a, b ArticleSummary) int { return compareFold(a.Title, b.Title) }
	}
	return NewListing(items, func(a ArticleSummary) []string {
		return []string{a.Title, a.ID}
	}, compare, pageSize)
}

// FriendListing searches name, description and tags, sorted by name.
func FriendListing(items []Friend, pageSize int) *Listing[Friend] {
	return NewListing(items, func(f Friend) []string {
		return append([]string{f.Name, f.Desc}, f.Tags...)
	}, func(a, b Friend) int { return compareFold(a.Name, b.Name) }, pageSize)
}

// ArtworkListing searches title and description.
func ArtworkListing(items []Artwork, by SortType, pageSize int) *Listing[Artwork] {
	compare := func(a, b Artwork) int { return cmp.Compare(a.Date, b.Date) }
	if by == SortAlpha {
		compare = func(a, b Artwork) int { return compareFold(a.Title, b.Title) }
	}
	return NewListing(items, func(a Artwork) []string {
		return []string{a.Title, a.Description}
	}, compare, pageSize)
}

func compareFold(a, b string) int {
	return strings.Compare(strings.ToLower(a), strings.ToLower(b))
}
