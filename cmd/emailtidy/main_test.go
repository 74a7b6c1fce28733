package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"email-tidy-go/internal/app"
	"email-tidy-go/internal/config"
	"email-tidy-go/internal/lifecycle"
	"email-tidy-go/internal/metrics"
	"email-tidy-go/internal/model"
	"email-tidy-go/internal/repository"
	"email-tidy-go/internal/task"
)

const token = "cli-token"

type testAPI struct {
	url   string
	repo  *repository.Repository
	posts atomic.Int32
}

func startAPI(t *testing.T) *testAPI {
	t.Helper()
	cfg := &config.Config{
		Server:      config.ServerConfig{Port: "0"},
		Database:    config.DatabaseConfig{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "tidy.db")},
		Auth:        config.AuthConfig{Tokens: []string{token}},
		Sweeper:     config.SweeperConfig{IntervalMinutes: 1},
		Unsubscribe: config.UnsubscribeConfig{SyncTimeout: time.Second},
	}
	srv, err := app.Build(cfg, metrics.NewMetricsWith(prometheus.NewRegistry()))
	require.NoError(t, err)

	a := &testAPI{repo: repository.New(srv.DB)}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			a.posts.Add(1)
		}
		srv.HTTP.Handler.ServeHTTP(w, r)
	}))
	a.url = ts.URL
	t.Cleanup(func() {
		ts.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})

	t.Setenv("EMAILTIDY_TOKEN", "")
	t.Setenv("EMAILTIDY_POLL_INTERVAL", "10ms")
	t.Setenv("EMAILTIDY_MAX_WAIT_ATTEMPTS", "400")
	return a
}

func (a *testAPI) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	full := append([]string{"--base-url", a.url, "--token", token}, args...)
	err := run(ctx, full, &out)
	return out.String(), err
}

// finishScan plays the worker side of a scan job
func (a *testAPI) finishScan(t *testing.T, senders ...string) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		var rec *model.TaskRecord
		for i := 0; i < 400 && rec == nil; i++ {
			rec, _ = a.repo.ClaimTask(task.KindScan)
			if rec == nil {
				time.Sleep(5 * time.Millisecond)
			}
		}
		if rec == nil {
			t.Error("no scan task was queued")
			return
		}
		for i, from := range senders {
			if _, err := a.repo.AddScannedEmail(rec.LinkedEmailID, from, "hello", []string{"https://" + from + "/u"}); err != nil {
				t.Error(err)
				return
			}
			if _, err := a.repo.ReportTask(rec.ID, model.TaskProgress, i+1, len(senders), ""); err != nil {
				t.Error(err)
				return
			}
		}
		if _, err := a.repo.ReportTask(rec.ID, model.TaskSuccess, len(senders), len(senders), ""); err != nil {
			t.Error(err)
		}
	}()
	return done
}

func TestRunUsageErrors(t *testing.T) {
	var out bytes.Buffer
	assert.ErrorIs(t, run(context.Background(), nil, &out), errUsage)
	assert.ErrorIs(t, run(context.Background(), []string{"frobnicate"}, &out), errUsage)
}

func TestRunRequiresToken(t *testing.T) {
	t.Setenv("EMAILTIDY_TOKEN", "")
	var out bytes.Buffer
	err := run(context.Background(), []string{"--base-url", "http://127.0.0.1:1", "mailboxes"}, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "token is required")
}

func TestLookupKnowsEveryCommand(t *testing.T) {
	for _, cmd := range commandList() {
		found, ok := lookup(cmd.name)
		assert.True(t, ok, cmd.name)
		assert.Equal(t, cmd.name, found.name)
	}
	_, ok := lookup("nope")
	assert.False(t, ok)
}

func TestMailboxCommands(t *testing.T) {
	a := startAPI(t)

	out, err := a.run(t, "link", "a@example.com")
	require.NoError(t, err)
	assert.Contains(t, out, "linked a@example.com")

	out, err = a.run(t, "mailboxes")
	require.NoError(t, err)
	assert.Contains(t, out, "a@example.com")

	out, err = a.run(t, "forget", "a@example.com")
	require.NoError(t, err)
	assert.Contains(t, out, "deleted 0 scanned messages")

	out, err = a.run(t, "unlink", "a@example.com")
	require.NoError(t, err)
	assert.Contains(t, out, "unlinked a@example.com")

	_, err = a.run(t, "unlink", "a@example.com")
	assert.Error(t, err)
}

func TestScanAndBrowse(t *testing.T) {
	a := startAPI(t)
	_, err := a.run(t, "link", "a@example.com")
	require.NoError(t, err)

	done := a.finishScan(t, "news@shop.example", "promo@deals.example", "news@shop.example")
	out, err := a.run(t, "scan", "a@example.com", "--how-many", "3")
	<-done
	require.NoError(t, err)
	assert.Contains(t, out, "scan finished")
	assert.Contains(t, out, "news@shop.example")
	assert.Contains(t, out, "2 of 2 senders")

	out, err = a.run(t, "messages", "a@example.com", "--sender", "news@shop.example")
	require.NoError(t, err)
	assert.Contains(t, out, "2 of 2 messages")
	assert.NotContains(t, out, "promo@deals.example")

	out, err = a.run(t, "senders", "a@example.com", "--all")
	require.NoError(t, err)
	assert.Contains(t, out, "promo@deals.example")

	out, err = a.run(t, "watch", "a@example.com")
	require.NoError(t, err)
	assert.Contains(t, out, "no jobs running")

	out, err = a.run(t, "forget", "a@example.com")
	require.NoError(t, err)
	assert.Contains(t, out, "deleted 3 scanned messages")
}

func TestScanRejectsSecondJob(t *testing.T) {
	a := startAPI(t)
	_, err := a.run(t, "link", "a@example.com")
	require.NoError(t, err)

	le, err := a.repo.GetLinkedEmailByAddress("a@example.com")
	require.NoError(t, err)
	_, err = a.repo.CreateTask(le.ID, task.KindScan, model.TaskScope{})
	require.NoError(t, err)

	_, err = a.run(t, "scan", "a@example.com")
	require.Error(t, err)
	assert.ErrorIs(t, err, task.ErrConflict)
	assert.Contains(t, err.Error(), "emailtidy watch a@example.com")
}

func TestUnsubscribeMessagesRejectsSecondJob(t *testing.T) {
	a := startAPI(t)
	_, err := a.run(t, "link", "a@example.com")
	require.NoError(t, err)

	le, err := a.repo.GetLinkedEmailByAddress("a@example.com")
	require.NoError(t, err)
	msg, err := a.repo.AddScannedEmail(le.ID, "news@shop.example", "hi", []string{"https://shop.example/u"})
	require.NoError(t, err)
	rec, err := a.repo.CreateTask(le.ID, task.KindUnsubscribe, model.TaskScope{All: true})
	require.NoError(t, err)

	before := a.posts.Load()
	_, err = a.run(t, "unsubscribe", "a@example.com", "--message-id", strconv.FormatUint(uint64(msg.ID), 10))
	require.Error(t, err)
	assert.ErrorIs(t, err, task.ErrConflict)
	assert.Contains(t, err.Error(), rec.ID)
	assert.Contains(t, err.Error(), "emailtidy watch a@example.com")
	assert.Equal(t, before, a.posts.Load())

	links, err := a.repo.ListLinks(le.ID, msg.ID)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, model.LinkPending, links[0].Status)
}

func TestFailedUnsubscribePointsAtLinkResults(t *testing.T) {
	a := startAPI(t)
	_, err := a.run(t, "link", "a@example.com")
	require.NoError(t, err)

	le, err := a.repo.GetLinkedEmailByAddress("a@example.com")
	require.NoError(t, err)
	_, err = a.repo.AddScannedEmail(le.ID, "news@shop.example", "hi", []string{"https://shop.example/u"})
	require.NoError(t, err)

	worker := make(chan struct{})
	go func() {
		defer close(worker)
		var rec *model.TaskRecord
		for i := 0; i < 400 && rec == nil; i++ {
			rec, _ = a.repo.ClaimTask(task.KindUnsubscribe)
			if rec == nil {
				time.Sleep(5 * time.Millisecond)
			}
		}
		if rec == nil {
			t.Error("no unsubscribe task was queued")
			return
		}
		if _, err := a.repo.ReportTask(rec.ID, model.TaskFailure, 0, 1, "mailer rejected the request"); err != nil {
			t.Error(err)
		}
	}()

	_, err = a.run(t, "unsubscribe", "a@example.com", "--all")
	<-worker
	require.Error(t, err)
	assert.Contains(t, err.Error(), "emailtidy messages a@example.com")
	assert.Contains(t, err.Error(), "emailtidy links a@example.com")
}

func TestLinkResultsHintKeepsCause(t *testing.T) {
	err := linkResultsHint(fmt.Errorf("unsubscribe: %w", task.ErrTaskFailed), task.Mailbox{ID: 1, Address: "b@example.com"})
	assert.ErrorIs(t, err, task.ErrTaskFailed)
	assert.Contains(t, err.Error(), "emailtidy links b@example.com <message-id>")
}

func TestLinksCommand(t *testing.T) {
	a := startAPI(t)
	_, err := a.run(t, "link", "a@example.com")
	require.NoError(t, err)

	le, err := a.repo.GetLinkedEmailByAddress("a@example.com")
	require.NoError(t, err)
	msg, err := a.repo.AddScannedEmail(le.ID, "news@shop.example", "hi", []string{"https://shop.example/u"})
	require.NoError(t, err)

	out, err := a.run(t, "links", "a@example.com", strconv.FormatUint(uint64(msg.ID), 10))
	require.NoError(t, err)
	assert.Contains(t, out, "https://shop.example/u")
	assert.Contains(t, out, "pending")

	_, err = a.run(t, "links", "a@example.com", "abc")
	assert.ErrorIs(t, err, errUsage)
}

func TestUnsubscribeNeedsOneMode(t *testing.T) {
	a := startAPI(t)

	_, err := a.run(t, "unsubscribe", "a@example.com")
	assert.ErrorIs(t, err, errUsage)

	_, err = a.run(t, "unsubscribe", "a@example.com", "--all", "--sender", "x@example.com")
	assert.ErrorIs(t, err, errUsage)
}

func TestProgressPrinterDedupes(t *testing.T) {
	var out bytes.Buffer
	p := newProgressPrinter(&out)

	p.observe(lifecycle.State{Kind: task.KindScan, Phase: lifecycle.Running, Progress: task.Progress{WaitAttempts: 1}})
	p.observe(lifecycle.State{Kind: task.KindScan, Phase: lifecycle.Running, Progress: task.Progress{WaitAttempts: 2}})
	p.observe(lifecycle.State{Kind: task.KindScan, Phase: lifecycle.Running, Progress: task.Progress{Filled: 50}})
	p.observe(lifecycle.State{Kind: task.KindScan, Phase: lifecycle.Running, Progress: task.Progress{Filled: 50}})
	p.observe(lifecycle.State{Kind: task.KindScan, Phase: lifecycle.Succeeded, Progress: task.Progress{Filled: 100}})

	assert.Equal(t, "scan: waiting for a worker\nscan: 50.00%\n", out.String())
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("  short ", 10))
	assert.Equal(t, "abcd…", truncate("abcdefgh", 5))
}
