package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/pflag"

	"email-tidy-go/internal/api"
	"email-tidy-go/internal/cursor"
	"email-tidy-go/internal/lifecycle"
	"email-tidy-go/internal/poller"
	"email-tidy-go/internal/task"
	"email-tidy-go/internal/view"
)

type command struct {
	name    string
	args    string
	summary string
	run     func(ctx context.Context, c *cli, args []string) error
}

func commandList() []command {
	return []command{
		{"mailboxes", "", "list linked mailboxes", runMailboxes},
		{"link", "<address>", "link a mailbox", runLink},
		{"unlink", "<address>", "unlink a mailbox and drop its scans", runUnlink},
		{"scan", "<address> [--how-many N]", "scan a mailbox for unsubscribe links", runScan},
		{"senders", "<address> [--page N|--all]", "list scanned senders", runSenders},
		{"messages", "<address> [--sender S] [--page N|--all]", "list scanned messages", runMessages},
		{"links", "<address> <message-id>", "list the unsubscribe links of a message", runLinks},
		{"unsubscribe", "<address> --all|--sender S|--message-id ID", "unsubscribe from senders or messages", runUnsubscribe},
		{"watch", "<address>", "follow the jobs running for a mailbox", runWatch},
		{"forget", "<address>", "delete the scan results of a mailbox", runForget},
	}
}

func lookup(name string) (command, bool) {
	for _, cmd := range commandList() {
		if cmd.name == name {
			return cmd, true
		}
	}
	return command{}, false
}

func newFlags(name string) *pflag.FlagSet {
	return pflag.NewFlagSet(name, pflag.ContinueOnError)
}

// mailboxArg resolves the first positional argument to a linked mailbox and
// returns the remaining arguments. want counts the arguments after the address.
func (c *cli) mailboxArg(ctx context.Context, name string, args []string, want int) (task.Mailbox, []string, error) {
	if len(args) != 1+want {
		return task.Mailbox{}, nil, fmt.Errorf("%w: %s expects a mailbox address and %d more argument(s)", errUsage, name, want)
	}
	mb, err := c.client.Mailbox(ctx, args[0])
	return mb, args[1:], err
}

func (c *cli) viewConfig(p *progressPrinter) view.Config {
	return view.Config{
		Poll: poller.Config{
			Interval:        c.cfg.PollInterval,
			MaxWaitAttempts: c.cfg.MaxWaitAttempts,
		},
		PageSize: c.cfg.PageSize,
		Metrics:  c.metrics,
		OnState:  p.observe,
	}
}

func (c *cli) senderView(mb task.Mailbox) *view.View[api.SenderAggregate] {
	return view.New[api.SenderAggregate](c.client, mb, c.client.SenderPages(), c.viewConfig(newProgressPrinter(c.out)))
}

func (c *cli) messageView(mb task.Mailbox) *view.View[api.ScannedMessage] {
	return view.New[api.ScannedMessage](c.client, mb, c.client.MessagePages(), c.viewConfig(newProgressPrinter(c.out)))
}

// await blocks until ctrl's run ends and turns anything but success into an error
func (c *cli) await(ctx context.Context, ctrl *lifecycle.Controller) error {
	final, err := ctrl.Wait(ctx)
	if err != nil {
		return err
	}

	switch final.Phase {
	case lifecycle.Succeeded:
		fmt.Fprintf(c.out, "%s finished\n", ctrl.Kind())
		return nil
	case lifecycle.Failed, lifecycle.Stalled:
		cause := final.Err
		if cause == nil {
			cause = task.ErrTaskFailed
		}
		err := fmt.Errorf("%s %s: %w", ctrl.Kind(), final.Phase, cause)
		if ctrl.Kind() == task.KindUnsubscribe && final.Phase == lifecycle.Failed {
			return linkResultsHint(err, final.Mailbox)
		}
		return err
	default:
		return fmt.Errorf("%s: %w", ctrl.Kind(), lifecycle.ErrReset)
	}
}

// linkResultsHint points at the per-link outcome of a failed unsubscribe
func linkResultsHint(err error, mb task.Mailbox) error {
	return fmt.Errorf("%w; see per-link results with 'emailtidy messages %s' and 'emailtidy links %s <message-id>'", err, mb.Address, mb.Address)
}

func conflictHint(err error, kind task.Kind, mb task.Mailbox) error {
	if errors.Is(err, task.ErrConflict) {
		return fmt.Errorf("%w: a %s job is already running for %s, follow it with 'emailtidy watch %s'", err, kind, mb.Address, mb.Address)
	}
	return err
}

// position moves cur to page, or loads every page in append mode when all is set
func position[T any](ctx context.Context, cur *cursor.Cursor[T], page int, all bool) error {
	if page > 0 {
		if err := cur.GoTo(ctx, page); err != nil {
			return err
		}
	}
	for all && cur.HasMore() {
		more, err := cur.LoadMore(ctx)
		if err != nil {
			return err
		}
		if !more {
			break
		}
	}
	return nil
}

func runMailboxes(ctx context.Context, c *cli, args []string) error {
	emails, err := c.client.LinkedEmails(ctx)
	if err != nil {
		return err
	}
	printMailboxes(c.out, emails)
	return nil
}

func runLink(ctx context.Context, c *cli, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: link expects a mailbox address", errUsage)
	}
	le, err := c.client.LinkEmail(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "linked %s (id %d)\n", le.Email, le.ID)
	return nil
}

func runUnlink(ctx context.Context, c *cli, args []string) error {
	fs := newFlags("unlink")
	if err := fs.Parse(args); err != nil {
		return err
	}
	mb, _, err := c.mailboxArg(ctx, "unlink", fs.Args(), 0)
	if err != nil {
		return err
	}
	if err := c.client.UnlinkEmail(ctx, mb.ID); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "unlinked %s\n", mb.Address)
	return nil
}

func runForget(ctx context.Context, c *cli, args []string) error {
	fs := newFlags("forget")
	if err := fs.Parse(args); err != nil {
		return err
	}
	mb, _, err := c.mailboxArg(ctx, "forget", fs.Args(), 0)
	if err != nil {
		return err
	}
	n, err := c.client.DeleteScannedEmails(ctx, mb)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "deleted %d scanned messages of %s\n", n, mb.Address)
	return nil
}

func runScan(ctx context.Context, c *cli, args []string) error {
	fs := newFlags("scan")
	howMany := fs.Int("how-many", 0, "scan at most this many messages (0 scans the whole inbox)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	mb, _, err := c.mailboxArg(ctx, "scan", fs.Args(), 0)
	if err != nil {
		return err
	}

	v := c.senderView(mb)
	defer v.Teardown()
	if _, err := v.Mount(ctx); err != nil {
		return err
	}

	if _, err := v.Scan.Submit(ctx, task.Request{HowMany: *howMany}); err != nil {
		return conflictHint(err, task.KindScan, mb)
	}
	if err := c.await(ctx, v.Scan); err != nil {
		return err
	}

	printSenders(c.out, v.Cursor.Rows(), v.Cursor.Total())
	return nil
}

func runSenders(ctx context.Context, c *cli, args []string) error {
	fs := newFlags("senders")
	page := fs.Int("page", 0, "page to show")
	all := fs.Bool("all", false, "show every page")
	if err := fs.Parse(args); err != nil {
		return err
	}
	mb, _, err := c.mailboxArg(ctx, "senders", fs.Args(), 0)
	if err != nil {
		return err
	}

	v := c.senderView(mb)
	defer v.Teardown()
	mounted, err := v.Mount(ctx)
	if err != nil {
		return err
	}
	if err := position(ctx, v.Cursor, *page, *all); err != nil {
		return err
	}

	printRunning(c.out, mounted)
	printSenders(c.out, v.Cursor.Rows(), v.Cursor.Total())
	return nil
}

func runMessages(ctx context.Context, c *cli, args []string) error {
	fs := newFlags("messages")
	sender := fs.String("sender", "", "only show messages from this sender")
	page := fs.Int("page", 0, "page to show")
	all := fs.Bool("all", false, "show every page")
	if err := fs.Parse(args); err != nil {
		return err
	}
	mb, _, err := c.mailboxArg(ctx, "messages", fs.Args(), 0)
	if err != nil {
		return err
	}

	v := c.messageView(mb)
	defer v.Teardown()
	mounted, err := v.Mount(ctx)
	if err != nil {
		return err
	}
	if *sender != "" {
		if err := v.Cursor.SetSender(ctx, *sender); err != nil {
			return err
		}
	}
	if err := position(ctx, v.Cursor, *page, *all); err != nil {
		return err
	}

	printRunning(c.out, mounted)
	printMessages(c.out, v.Cursor.Rows(), v.Cursor.Total())
	return nil
}

func runLinks(ctx context.Context, c *cli, args []string) error {
	fs := newFlags("links")
	if err := fs.Parse(args); err != nil {
		return err
	}
	mb, rest, err := c.mailboxArg(ctx, "links", fs.Args(), 1)
	if err != nil {
		return err
	}
	id, err := strconv.ParseUint(rest[0], 10, 32)
	if err != nil {
		return fmt.Errorf("%w: invalid message id %q", errUsage, rest[0])
	}

	links, err := c.client.UnsubscribeLinks(ctx, mb, uint(id))
	if err != nil {
		return err
	}
	printLinks(c.out, links)
	return nil
}

func runUnsubscribe(ctx context.Context, c *cli, args []string) error {
	fs := newFlags("unsubscribe")
	all := fs.Bool("all", false, "unsubscribe from every scanned sender")
	senders := fs.StringSlice("sender", nil, "unsubscribe from this sender (repeatable)")
	ids := fs.UintSlice("message-id", nil, "unsubscribe through the links of this message and wait (repeatable)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	modes := 0
	for _, set := range []bool{*all, len(*senders) > 0, len(*ids) > 0} {
		if set {
			modes++
		}
	}
	if modes != 1 {
		return fmt.Errorf("%w: unsubscribe takes exactly one of --all, --sender or --message-id", errUsage)
	}

	mb, _, err := c.mailboxArg(ctx, "unsubscribe", fs.Args(), 0)
	if err != nil {
		return err
	}

	if len(*ids) > 0 {
		return c.unsubscribeMessages(ctx, mb, *ids)
	}

	v := c.senderView(mb)
	defer v.Teardown()
	if _, err := v.Mount(ctx); err != nil {
		return err
	}

	req := task.Request{All: *all, Senders: *senders}
	if _, err := v.Unsubscribe.Submit(ctx, req); err != nil {
		return conflictHint(err, task.KindUnsubscribe, mb)
	}
	if err := c.await(ctx, v.Unsubscribe); err != nil {
		return err
	}

	printSenders(c.out, v.Cursor.Rows(), v.Cursor.Total())
	return nil
}

// unsubscribeMessages uses the synchronous endpoint and follows the job
// when it outlives the request
func (c *cli) unsubscribeMessages(ctx context.Context, mb task.Mailbox, ids []uint) error {
	running, err := c.client.RunningTasks(ctx, mb)
	if err != nil {
		return err
	}
	if id := running.For(task.KindUnsubscribe); id != "" {
		return conflictHint(fmt.Errorf("%w: unsubscribe task %q for %s", task.ErrConflict, id, mb.Address), task.KindUnsubscribe, mb)
	}

	resp, err := c.client.Unsubscribe(ctx, mb, ids, "")
	if err != nil {
		return conflictHint(err, task.KindUnsubscribe, mb)
	}

	if resp.Done {
		if !resp.Success {
			return linkResultsHint(fmt.Errorf("unsubscribe: %w", task.ErrTaskFailed), mb)
		}
		fmt.Fprintln(c.out, "unsubscribe finished")
		return nil
	}

	fmt.Fprintf(c.out, "unsubscribe still running as %s\n", resp.UnsubscribeTaskID)
	v := c.messageView(mb)
	defer v.Teardown()
	mounted, err := v.Mount(ctx)
	if err != nil {
		return err
	}

	if !mounted.UnsubscribeRunning {
		// finished between the two requests
		status, err := c.client.TaskStatus(ctx, resp.UnsubscribeTaskID)
		if err != nil {
			return err
		}
		if status.State != task.StateSuccess {
			return linkResultsHint(fmt.Errorf("unsubscribe %s: %w", status.State, task.ErrTaskFailed), mb)
		}
		fmt.Fprintln(c.out, "unsubscribe finished")
		return nil
	}
	return c.await(ctx, v.Unsubscribe)
}

func runWatch(ctx context.Context, c *cli, args []string) error {
	fs := newFlags("watch")
	if err := fs.Parse(args); err != nil {
		return err
	}
	mb, _, err := c.mailboxArg(ctx, "watch", fs.Args(), 0)
	if err != nil {
		return err
	}

	v := c.senderView(mb)
	defer v.Teardown()
	mounted, err := v.Mount(ctx)
	if err != nil {
		return err
	}
	if !mounted.ScanRunning && !mounted.UnsubscribeRunning {
		fmt.Fprintf(c.out, "no jobs running for %s\n", mb.Address)
		return nil
	}

	var errs []error
	if mounted.ScanRunning {
		errs = append(errs, c.await(ctx, v.Scan))
	}
	if mounted.UnsubscribeRunning {
		errs = append(errs, c.await(ctx, v.Unsubscribe))
	}

	printSenders(c.out, v.Cursor.Rows(), v.Cursor.Total())
	return errors.Join(errs...)
}
