// Command emailtidy is the command-line client of the email tidy API: it
// links mailboxes, runs scan and unsubscribe jobs and pages through results.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"email-tidy-go/internal/client"
	"email-tidy-go/internal/config"
	"email-tidy-go/internal/metrics"
	"email-tidy-go/internal/task"
)

var errUsage = errors.New("usage")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := run(ctx, os.Args[1:], os.Stdout)
	switch {
	case err == nil:
		return
	case errors.Is(err, errUsage), errors.Is(err, pflag.ErrHelp):
		os.Exit(2)
	case errors.Is(err, task.ErrAuth):
		fmt.Fprintln(os.Stderr, "emailtidy: the API rejected the credential, sign in again and update EMAILTIDY_TOKEN")
	}
	fmt.Fprintf(os.Stderr, "emailtidy: %v\n", err)
	os.Exit(1)
}

// cli holds what every command needs
type cli struct {
	client  *client.Client
	cfg     config.ClientConfig
	metrics *metrics.Metrics
	out     io.Writer
}

func run(ctx context.Context, args []string, out io.Writer) error {
	global := pflag.NewFlagSet("emailtidy", pflag.ContinueOnError)
	global.SetInterspersed(false)
	configPath := global.StringP("config", "c", "", "path to config file")
	global.String("base-url", "", "API base URL (env EMAILTIDY_BASE_URL)")
	global.String("token", "", "API bearer token (env EMAILTIDY_TOKEN)")
	logLevel := global.String("log-level", "warn", "log level")
	metricsAddr := global.String("metrics-addr", "", "serve Prometheus metrics on this address while the command runs")
	global.Usage = func() { usage(global) }

	if err := global.Parse(args); err != nil {
		return err
	}
	rest := global.Args()
	if len(rest) == 0 {
		usage(global)
		return errUsage
	}
	cmd, ok := lookup(rest[0])
	if !ok {
		usage(global)
		return fmt.Errorf("%w: unknown command %q", errUsage, rest[0])
	}

	if err := (config.LogConfig{Level: *logLevel, Format: "text"}).Configure(); err != nil {
		return err
	}

	v := viper.New()
	_ = v.BindPFlag("client.base_url", global.Lookup("base-url"))
	_ = v.BindPFlag("client.token", global.Lookup("token"))
	cfg, err := config.LoadConfigWith(v, *configPath)
	if err != nil {
		return err
	}
	if err := cfg.Client.Validate(); err != nil {
		return fmt.Errorf("client configuration: %w", err)
	}

	c, err := client.New(cfg.Client.BaseURL, cfg.Client.Token, client.WithTimeout(cfg.Client.RequestTimeout))
	if err != nil {
		return err
	}

	app := &cli{client: c, cfg: cfg.Client, out: &syncWriter{w: out}}
	if *metricsAddr != "" {
		app.metrics = metrics.NewMetrics()
		stopMetrics := serveMetrics(*metricsAddr)
		defer stopMetrics()
	}

	return cmd.run(ctx, app, rest[1:])
}

func serveMetrics(addr string) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Error("Metrics server failed")
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

func usage(global *pflag.FlagSet) {
	w := os.Stderr
	fmt.Fprintln(w, "usage: emailtidy [flags] <command> [command flags] [args]")
	fmt.Fprintln(w, "\ncommands:")
	for _, cmd := range commandList() {
		fmt.Fprintf(w, "  %-12s %-28s %s\n", cmd.name, cmd.args, cmd.summary)
	}
	fmt.Fprintln(w, "\nflags:")
	global.PrintDefaults()
}
