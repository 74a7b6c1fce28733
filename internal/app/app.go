package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"email-tidy-go/internal/config"
	"email-tidy-go/internal/db"
	"email-tidy-go/internal/handler"
	"email-tidy-go/internal/metrics"
	"email-tidy-go/internal/repository"
	"email-tidy-go/internal/router"
	"email-tidy-go/internal/scheduler"
)

// Server is the wired API server
type Server struct {
	HTTP    *http.Server
	Sweeper *scheduler.Scheduler
	DB      *gorm.DB
}

// Build opens the database and wires the repository, sweeper and handlers
func Build(cfg *config.Config, m *metrics.Metrics) (*Server, error) {
	dbConn, err := db.Init(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	repo := repository.New(dbConn)
	sweeper := scheduler.NewScheduler(cfg.Sweeper, repo, m)

	h := handler.NewHandlers(dbConn, repo, sweeper, m, cfg)
	engine := router.SetupRouter(h, "")

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      engine,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: writeTimeout(cfg),
	}
	return &Server{HTTP: srv, Sweeper: sweeper, DB: dbConn}, nil
}

// writeTimeout leaves room for the synchronous unsubscribe to answer
func writeTimeout(cfg *config.Config) time.Duration {
	wt := cfg.Server.WriteTimeout
	if wt > 0 && wt <= cfg.Unsubscribe.SyncTimeout {
		wt = cfg.Unsubscribe.SyncTimeout + 5*time.Second
		logrus.Warnf("Raising write timeout to %s to fit the unsubscribe sync timeout", wt)
	}
	return wt
}

// Shutdown stops the sweeper, drains the HTTP server and closes the database
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.Sweeper.Stop(); err != nil {
		logrus.Errorf("Failed to stop sweeper: %v", err)
	}
	s.Sweeper.Wait()

	err := s.HTTP.Shutdown(ctx)
	if err != nil {
		logrus.Errorf("HTTP server shutdown error: %v", err)
	}

	if sqlDB, dbErr := s.DB.DB(); dbErr == nil {
		if cerr := sqlDB.Close(); cerr != nil {
			logrus.Errorf("Failed to close database: %v", cerr)
		}
	}
	return err
}

// Run initializes and starts the application
func Run(configPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Log.Configure(); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	logrus.Info("Starting email tidy API")

	srv, err := Build(cfg, metrics.NewMetrics())
	if err != nil {
		return err
	}

	if err := srv.Sweeper.Start(); err != nil {
		return fmt.Errorf("failed to start sweeper: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		logrus.Infof("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.HTTP.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var serveErr error
	select {
	case <-quit:
	case serveErr = <-errCh:
		logrus.Errorf("HTTP server error: %v", serveErr)
	}

	logrus.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil && serveErr == nil {
		serveErr = err
	}

	logrus.Info("Server stopped gracefully")
	return serveErr
}
