// Package cursor pages through server-sorted result rows for one mailbox.
package cursor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"email-tidy-go/internal/metrics"
	"email-tidy-go/internal/task"
)

// DefaultPageSize is the server page size
const DefaultPageSize = 10

var (
	// ErrSuperseded is returned by a fetch that finished after a newer
	// page or filter request; its rows are dropped
	ErrSuperseded = errors.New("page request superseded")
	// ErrInvalidPage is returned for negative page indexes
	ErrInvalidPage = errors.New("page index must not be negative")
	// ErrDiscarded is returned once the owning view has been torn down
	ErrDiscarded = errors.New("cursor discarded")
)

// Query selects the rows to page through
type Query struct {
	Mailbox task.Mailbox
	// Sender optionally restricts rows to one from address
	Sender string
}

// Page is one page of rows plus the size of the whole sequence at the time
// the page was read
type Page[T any] struct {
	Rows       []T
	TotalCount int
}

// Fetcher reads one zero-based page. A page past the end yields no rows.
type Fetcher[T any] interface {
	FetchPage(ctx context.Context, q Query, page int) (Page[T], error)
}

// FetchFunc adapts a function to Fetcher
type FetchFunc[T any] func(ctx context.Context, q Query, page int) (Page[T], error)

func (f FetchFunc[T]) FetchPage(ctx context.Context, q Query, page int) (Page[T], error) {
	return f(ctx, q, page)
}

// HasMore reports whether rows exist past the first (page+1) pages
func HasMore(pageSize, page, total int) bool {
	return pageSize*(page+1) < total
}

// Options configures a Cursor
type Options struct {
	PageSize int
	Metrics  *metrics.Metrics
}

type mode int

const (
	replace mode = iota
	appendRows
)

// Cursor holds the rows a view is showing. It supports replacing the
// visible page (GoTo, Next, Prev) and accumulating pages (LoadMore).
// Both share one HasMore predicate based on the last page requested.
type Cursor[T any] struct {
	fetcher  Fetcher[T]
	pageSize int
	metrics  *metrics.Metrics

	mu        sync.Mutex
	query     Query
	page      int
	rows      []T
	total     int
	loaded    bool
	gen       uint64
	discarded bool
	selection Selection
}

// New creates an empty cursor. Nothing is fetched until a page is requested.
func New[T any](fetcher Fetcher[T], q Query, opts Options) *Cursor[T] {
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	return &Cursor[T]{
		fetcher:  fetcher,
		pageSize: opts.PageSize,
		metrics:  opts.Metrics,
		query:    q,
	}
}

func (c *Cursor[T]) fetch(ctx context.Context, page int, m mode, change func(*Query)) error {
	if page < 0 {
		return ErrInvalidPage
	}

	c.mu.Lock()
	if c.discarded {
		c.mu.Unlock()
		return ErrDiscarded
	}
	if change != nil {
		change(&c.query)
	}
	if m == replace {
		c.selection.Clear()
	}
	c.gen++
	gen := c.gen
	q := c.query
	c.mu.Unlock()

	start := time.Now()
	p, err := c.fetcher.FetchPage(ctx, q, page)
	c.metrics.ObservePageFetch(time.Since(start).Seconds())

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.discarded {
		return ErrDiscarded
	}
	if gen != c.gen {
		return ErrSuperseded
	}
	if err != nil {
		return fmt.Errorf("fetch page %d: %w", page, err)
	}

	if m == replace {
		// rows picked while the fetch was in flight indexed the old page
		c.selection.Clear()
		c.rows = append([]T(nil), p.Rows...)
	} else {
		c.rows = append(c.rows, p.Rows...)
	}
	c.page = page
	c.total = p.TotalCount
	c.loaded = true
	return nil
}

// GoTo replaces the visible rows with page
func (c *Cursor[T]) GoTo(ctx context.Context, page int) error {
	return c.fetch(ctx, page, replace, nil)
}

// Next moves to the following page. It returns false without fetching
// when there is nothing past the current page.
func (c *Cursor[T]) Next(ctx context.Context) (bool, error) {
	next, ok := c.nextPage()
	if !ok {
		return false, nil
	}
	if err := c.GoTo(ctx, next); err != nil {
		return false, err
	}
	return true, nil
}

func (c *Cursor[T]) nextPage() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.loaded {
		return 0, true
	}
	if !HasMore(c.pageSize, c.page, c.total) {
		return 0, false
	}
	return c.page + 1, true
}

// Prev moves to the preceding page. It returns false on the first page.
func (c *Cursor[T]) Prev(ctx context.Context) (bool, error) {
	c.mu.Lock()
	page := c.page
	c.mu.Unlock()

	if page == 0 {
		return false, nil
	}
	if err := c.GoTo(ctx, page-1); err != nil {
		return false, err
	}
	return true, nil
}

// LoadMore appends the next page to the rows already held. It returns
// false without fetching when everything has been seen.
func (c *Cursor[T]) LoadMore(ctx context.Context) (bool, error) {
	next, ok := c.nextPage()
	if !ok {
		return false, nil
	}
	if err := c.fetch(ctx, next, appendRows, nil); err != nil {
		return false, err
	}
	return true, nil
}

// Refresh re-reads page 0, dropping any accumulated rows
func (c *Cursor[T]) Refresh(ctx context.Context) error {
	return c.fetch(ctx, 0, replace, nil)
}

// SetSender changes the sender filter and reloads page 0. An empty sender
// removes the filter.
func (c *Cursor[T]) SetSender(ctx context.Context, sender string) error {
	return c.fetch(ctx, 0, replace, func(q *Query) { q.Sender = sender })
}

// HasMore reports whether rows exist past the last page requested. It is
// true before the first fetch.
func (c *Cursor[T]) HasMore() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.loaded || HasMore(c.pageSize, c.page, c.total)
}

// Rows returns a copy of the rows held
func (c *Cursor[T]) Rows() []T {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]T(nil), c.rows...)
}

// Total is the totalCount from the most recent fetch
func (c *Cursor[T]) Total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

// Page is the last page requested
func (c *Cursor[T]) Page() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.page
}

func (c *Cursor[T]) PageSize() int { return c.pageSize }

// Query returns the current query
func (c *Cursor[T]) Query() Query {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.query
}

// Selection is the multi-select state for the rows held
func (c *Cursor[T]) Selection() *Selection {
	return &c.selection
}

// Selected returns the selected rows that are still held, in row order
func (c *Cursor[T]) Selected() []T {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []T
	for _, i := range c.selection.Indices() {
		if i < len(c.rows) {
			out = append(out, c.rows[i])
		}
	}
	return out
}

// Discard drops the rows and makes every later call fail with ErrDiscarded.
// Fetches still in flight are dropped when they return.
func (c *Cursor[T]) Discard() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.discarded = true
	c.gen++
	c.rows = nil
	c.total = 0
	c.loaded = false
	c.selection.Clear()
}
