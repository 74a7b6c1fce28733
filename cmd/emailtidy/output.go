package main

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"text/tabwriter"

	"email-tidy-go/internal/aggregate"
	"email-tidy-go/internal/api"
	"email-tidy-go/internal/lifecycle"
	"email-tidy-go/internal/task"
	"email-tidy-go/internal/view"
)

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}

func printMailboxes(w io.Writer, emails []api.LinkedEmail) {
	tw := newTable(w)
	fmt.Fprintln(tw, "ID\tEMAIL\tACTIVE\tLINKED")
	for _, e := range emails {
		fmt.Fprintf(tw, "%d\t%s\t%t\t%s\n", e.ID, e.Email, e.IsActive, e.InsertTS)
	}
	tw.Flush()
}

func printSenders(w io.Writer, rows []api.SenderAggregate, total int) {
	tw := newTable(w)
	fmt.Fprintln(tw, "SENDER\tMESSAGES\tLINKS\tSTATUS")
	for _, r := range rows {
		p := aggregate.Present(r.UnsubscribeStatuses)
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\n", r.EmailFrom, r.ScannedMessageCount, r.UniqueUnsubscribeLinkCount, p.Label)
	}
	tw.Flush()
	fmt.Fprintf(w, "%d of %d senders\n", len(rows), total)
}

func printMessages(w io.Writer, rows []api.ScannedMessage, total int) {
	tw := newTable(w)
	fmt.Fprintln(tw, "ID\tFROM\tSUBJECT\tLINKS\tSTATUS")
	for _, r := range rows {
		p := aggregate.Present(r.UnsubscribeStatuses)
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\n", r.ID, r.From, truncate(r.Subject, 48), r.UnsubscribeLinkCount, p.Label)
	}
	tw.Flush()
	fmt.Fprintf(w, "%d of %d messages\n", len(rows), total)
}

func printLinks(w io.Writer, links []api.UnsubscribeLink) {
	tw := newTable(w)
	fmt.Fprintln(tw, "ID\tSTATUS\tURL")
	for _, l := range links {
		fmt.Fprintf(tw, "%d\t%s\t%s\n", l.ID, l.Status, l.URL)
	}
	tw.Flush()
}

func printRunning(w io.Writer, m view.Mounted) {
	if m.ScanRunning {
		fmt.Fprintln(w, "a scan is running, results may be incomplete")
	}
	if m.UnsubscribeRunning {
		fmt.Fprintln(w, "an unsubscribe is running, statuses may change")
	}
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// progressPrinter prints a line whenever a running job's progress changes
type progressPrinter struct {
	mu   sync.Mutex
	out  io.Writer
	last map[task.Kind]string
}

func newProgressPrinter(out io.Writer) *progressPrinter {
	return &progressPrinter{out: out, last: make(map[task.Kind]string)}
}

func (p *progressPrinter) observe(s lifecycle.State) {
	if s.Phase != lifecycle.Running {
		return
	}

	line := fmt.Sprintf("%s: %.2f%%", s.Kind, s.Progress.Filled)
	if s.Progress.WaitAttempts > 0 {
		line = fmt.Sprintf("%s: waiting for a worker", s.Kind)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last[s.Kind] == line {
		return
	}
	p.last[s.Kind] = line
	fmt.Fprintln(p.out, line)
}

// syncWriter serializes progress lines written from poll goroutines with
// the command's own output
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}
