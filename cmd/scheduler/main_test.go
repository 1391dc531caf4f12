package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"escalator/internal/app"
	"escalator/internal/config"
)

var errDBDown = errors.New("db down")

type downDB struct{}

func (downDB) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, errDBDown
}
func (downDB) Query(context.Context, string, ...any) (pgx.Rows, error) { return nil, errDBDown }
func (downDB) QueryRow(context.Context, string, ...any) pgx.Row       { return errRow{} }

type errRow struct{}

func (errRow) Scan(...any) error { return errDBDown }

func buildTestApp(t *testing.T, mutate func(*config.Config)) (*app.App, *slog.Logger) {
	t.Helper()
	cfg := &config.Config{Environment: "local"}
	cfg.Scheduler = config.SchedulerConfig{TickInterval: time.Hour, Timezone: "UTC", TenantWorkers: 1, GuardMode: "atomic"}
	cfg.Dunning = config.DunningConfig{RunAt: "09:00", LookaheadDays: 7}
	cfg.Reminders = config.ReminderConfig{Interval: 30 * time.Minute, WindowStart: 24 * time.Hour, WindowEnd: 30 * time.Hour}
	cfg.Summary = config.SummaryConfig{Weekday: "monday", At: "08:00"}
	cfg.Admin = config.AdminConfig{Enabled: false}
	if mutate != nil {
		mutate(cfg)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a, err := app.New(cfg, app.Deps{DB: downDB{}, Logger: logger})
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	return a, logger
}

func TestServe_StopsOnCancel(t *testing.T) {
	a, logger := buildTestApp(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, a, logger) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean shutdown, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after cancellation")
	}
}

func TestServe_ListenFailure(t *testing.T) {
	a, logger := buildTestApp(t, func(cfg *config.Config) {
		cfg.Admin = config.AdminConfig{Enabled: true, ListenAddr: "256.0.0.1:bad", APIKey: "k"}
	})

	done := make(chan error, 1)
	go func() { done <- serve(context.Background(), a, logger) }()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected listen error")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return on listener failure")
	}
}
