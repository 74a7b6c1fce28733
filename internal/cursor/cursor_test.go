package cursor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"email-tidy-go/internal/task"
)

var mailbox = task.Mailbox{ID: 1, Address: "m@example.com"}

// table is an in-memory row source sliced into pages the way the server does
type table struct {
	mu       sync.Mutex
	rows     []string
	queries  []Query
	pages    []int
	err      error
	pageSize int
}

func newTable(n int) *table {
	t := &table{pageSize: DefaultPageSize}
	for i := 0; i < n; i++ {
		t.rows = append(t.rows, fmt.Sprintf("row-%02d", i))
	}
	return t
}

func (t *table) FetchPage(ctx context.Context, q Query, page int) (Page[string], error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.queries = append(t.queries, q)
	t.pages = append(t.pages, page)
	if t.err != nil {
		return Page[string]{}, t.err
	}

	var rows []string
	for _, r := range t.rows {
		if q.Sender == "" || r[len(r)-1:] == q.Sender {
			rows = append(rows, r)
		}
	}
	total := len(rows)
	start := page * t.pageSize
	if start >= total {
		return Page[string]{TotalCount: total}, nil
	}
	end := start + t.pageSize
	if end > total {
		end = total
	}
	return Page[string]{Rows: rows[start:end], TotalCount: total}, nil
}

func (t *table) insert(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := 0; i < n; i++ {
		t.rows = append(t.rows, fmt.Sprintf("row-%02d", len(t.rows)))
	}
}

func TestHasMorePredicate(t *testing.T) {
	assert.False(t, HasMore(10, 0, 10))
	assert.True(t, HasMore(10, 0, 11))
	assert.False(t, HasMore(10, 1, 20))
	assert.True(t, HasMore(10, 1, 21))
	assert.False(t, HasMore(10, 0, 0))
}

func TestPageBeyondEndIsEmpty(t *testing.T) {
	c := New[string](newTable(10), Query{Mailbox: mailbox}, Options{})

	require.NoError(t, c.GoTo(context.Background(), 5))
	assert.Empty(t, c.Rows())
	assert.Equal(t, 10, c.Total())
	assert.False(t, c.HasMore())
}

func TestNegativePageRejected(t *testing.T) {
	c := New[string](newTable(10), Query{Mailbox: mailbox}, Options{})
	assert.ErrorIs(t, c.GoTo(context.Background(), -1), ErrInvalidPage)
}

func TestReplaceNavigation(t *testing.T) {
	ctx := context.Background()
	c := New[string](newTable(25), Query{Mailbox: mailbox}, Options{})
	assert.True(t, c.HasMore())

	moved, err := c.Next(ctx)
	require.NoError(t, err)
	assert.True(t, moved)
	assert.Equal(t, 0, c.Page())
	assert.Len(t, c.Rows(), 10)

	_, err = c.Next(ctx)
	require.NoError(t, err)
	_, err = c.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, c.Page())
	assert.Equal(t, []string{"row-20", "row-21", "row-22", "row-23", "row-24"}, c.Rows())
	assert.False(t, c.HasMore())

	moved, err = c.Next(ctx)
	require.NoError(t, err)
	assert.False(t, moved)

	moved, err = c.Prev(ctx)
	require.NoError(t, err)
	assert.True(t, moved)
	assert.Equal(t, "row-10", c.Rows()[0])

	_, err = c.Prev(ctx)
	require.NoError(t, err)
	moved, err = c.Prev(ctx)
	require.NoError(t, err)
	assert.False(t, moved)
}

func TestAppendMode(t *testing.T) {
	ctx := context.Background()
	c := New[string](newTable(25), Query{Mailbox: mailbox}, Options{})

	var loads int
	for {
		more, err := c.LoadMore(ctx)
		require.NoError(t, err)
		if !more {
			break
		}
		loads++
	}
	assert.Equal(t, 3, loads)
	assert.Len(t, c.Rows(), 25)
	assert.Equal(t, "row-24", c.Rows()[24])
	assert.False(t, c.HasMore())
}

func TestTotalCountRereadEveryFetch(t *testing.T) {
	ctx := context.Background()
	src := newTable(10)
	c := New[string](src, Query{Mailbox: mailbox}, Options{})

	_, err := c.LoadMore(ctx)
	require.NoError(t, err)
	assert.False(t, c.HasMore())

	// a running scan inserts more rows
	src.insert(5)
	require.NoError(t, c.Refresh(ctx))
	assert.Equal(t, 15, c.Total())
	assert.True(t, c.HasMore())

	more, err := c.LoadMore(ctx)
	require.NoError(t, err)
	assert.True(t, more)
	assert.Len(t, c.Rows(), 15)
}

func TestSelectionClearedOnPageOrFilterChange(t *testing.T) {
	ctx := context.Background()
	c := New[string](newTable(30), Query{Mailbox: mailbox}, Options{})
	require.NoError(t, c.GoTo(ctx, 0))

	sel := c.Selection()
	assert.True(t, sel.Toggle(1))
	assert.True(t, sel.Toggle(3))
	assert.Equal(t, []string{"row-01", "row-03"}, c.Selected())

	_, err := c.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, sel.Len())

	sel.Toggle(2)
	require.NoError(t, c.SetSender(ctx, "2"))
	assert.Equal(t, 0, sel.Len())
	assert.Equal(t, "2", c.Query().Sender)
	assert.Equal(t, []string{"row-02", "row-12", "row-22"}, c.Rows())
	assert.Equal(t, 0, c.Page())
}

func TestSelectionKeptOnAppend(t *testing.T) {
	ctx := context.Background()
	c := New[string](newTable(30), Query{Mailbox: mailbox}, Options{})
	_, err := c.LoadMore(ctx)
	require.NoError(t, err)

	c.Selection().Toggle(4)
	_, err = c.LoadMore(ctx)
	require.NoError(t, err)
	assert.True(t, c.Selection().Has(4))
	assert.Equal(t, []string{"row-04"}, c.Selected())
}

func TestFetchErrorKeepsRows(t *testing.T) {
	ctx := context.Background()
	src := newTable(20)
	c := New[string](src, Query{Mailbox: mailbox}, Options{})
	require.NoError(t, c.GoTo(ctx, 0))

	boom := &task.TransportError{Op: "GET /scanned-emails", StatusCode: 500}
	src.mu.Lock()
	src.err = boom
	src.mu.Unlock()

	err := c.GoTo(ctx, 1)
	assert.ErrorIs(t, err, task.ErrTransport)
	assert.Equal(t, 0, c.Page())
	assert.Len(t, c.Rows(), 10)
}

func TestStaleFetchSuperseded(t *testing.T) {
	ctx := context.Background()
	release := make(chan struct{})
	started := make(chan struct{})
	src := newTable(30)

	var first sync.Once
	slow := FetchFunc[string](func(ctx context.Context, q Query, page int) (Page[string], error) {
		if page == 1 {
			first.Do(func() { close(started) })
			<-release
		}
		return src.FetchPage(ctx, q, page)
	})
	c := New[string](slow, Query{Mailbox: mailbox}, Options{})

	errc := make(chan error, 1)
	go func() { errc <- c.GoTo(ctx, 1) }()
	<-started

	require.NoError(t, c.GoTo(ctx, 2))
	close(release)

	assert.ErrorIs(t, <-errc, ErrSuperseded)
	assert.Equal(t, 2, c.Page())
	assert.Equal(t, "row-20", c.Rows()[0])
}

func TestDiscard(t *testing.T) {
	ctx := context.Background()
	c := New[string](newTable(30), Query{Mailbox: mailbox}, Options{})
	require.NoError(t, c.GoTo(ctx, 0))

	c.Discard()
	assert.Empty(t, c.Rows())
	assert.True(t, errors.Is(c.Refresh(ctx), ErrDiscarded))
	_, err := c.LoadMore(ctx)
	assert.ErrorIs(t, err, ErrDiscarded)
}

func TestSelectionToggle(t *testing.T) {
	var s Selection
	assert.True(t, s.Toggle(5))
	assert.True(t, s.Toggle(2))
	assert.Equal(t, []int{2, 5}, s.Indices())
	assert.False(t, s.Toggle(5))
	assert.False(t, s.Has(5))
	s.Clear()
	assert.Equal(t, 0, s.Len())
}

func TestSelectionMadeDuringFetchIsDropped(t *testing.T) {
	ctx := context.Background()
	release := make(chan struct{})
	started := make(chan struct{})
	src := newTable(30)

	slow := FetchFunc[string](func(ctx context.Context, q Query, page int) (Page[string], error) {
		if page == 1 {
			close(started)
			<-release
		}
		return src.FetchPage(ctx, q, page)
	})
	c := New[string](slow, Query{Mailbox: mailbox}, Options{})
	require.NoError(t, c.GoTo(ctx, 0))

	errc := make(chan error, 1)
	go func() { errc <- c.GoTo(ctx, 1) }()
	<-started

	// page 0 is still shown
	c.Selection().Toggle(3)
	close(release)

	require.NoError(t, <-errc)
	assert.Equal(t, 1, c.Page())
	assert.Equal(t, 0, c.Selection().Len())
	assert.Empty(t, c.Selected())
}
