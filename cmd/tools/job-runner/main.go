// Package main implements the job-runner CLI for running escalation jobs by
// hand, bypassing both the tick loop and the trigger Lambda.
//
// It is intended for local development, backfills and operational debugging.
// A run goes through the same TickDriver.RunNow path as the admin API, so the
// progress guard, dispatch audit and job history all apply.
//
// Usage:
//
//	go run ./cmd/tools/job-runner --job=invoice-dunning
//	go run ./cmd/tools/job-runner --job=appointment-reminders --reference-time=2024-03-04T09:00:00Z
//	go run ./cmd/tools/job-runner --dry-run --job=weekly-dunning-summary
//	go run ./cmd/tools/job-runner --summary --tenant=t-42
//	go run ./cmd/tools/job-runner --init-schema
//	go run ./cmd/tools/job-runner --list
//
// Configuration is read from the environment (or a .env file). In --dry-run
// mode the tool prints the trigger Lambda payload and exits without touching
// the database.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/google/uuid"

	"escalator/internal/app"
	"escalator/internal/config"
	"escalator/internal/db"
	"escalator/internal/jobs"
	"escalator/internal/types"
)

// knownJobs mirrors the names registered by jobs.Catalog.
var knownJobs = map[string]string{
	jobs.JobInvoiceDunning:       "Escalate overdue and soon-due invoices one level",
	jobs.JobAppointmentReminders: "Remind appointments starting inside the reminder window",
	jobs.JobWeeklySummary:        "Publish per-tenant dunning summaries to the operator queue",
}

// triggerPayload matches the trigger Lambda's event shape.
type triggerPayload struct {
	Job           string     `json:"job"`
	ReferenceTime *time.Time `json:"reference_time,omitempty"`
}

type options struct {
	job        string
	refTime    *time.Time
	list       bool
	dryRun     bool
	summary    bool
	tenant     string
	initSchema bool
	envFile    string
}

func main() {
	os.Exit(runCLI(os.Args[1:], os.Stdout, os.Stderr))
}

// runCLI parses args and executes the requested action, returning the exit
// code.
func runCLI(args []string, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		if err == flag.ErrHelp {
			return 0
		}
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}

	if opts.list {
		printAvailableJobs(stderr)
		return 0
	}
	if opts.dryRun {
		if err := printPayload(stdout, triggerPayload{Job: opts.job, ReferenceTime: opts.refTime}); err != nil {
			fmt.Fprintf(stderr, "error: %v\n", err)
			return 1
		}
		return 0
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := execute(ctx, opts, stdout); err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	fs := flag.NewFlagSet("job-runner", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var opts options
	var refTime string
	fs.StringVar(&opts.job, "job", "", "Job to run (see --list)")
	fs.StringVar(&refTime, "reference-time", "", "Override the run's reference time (RFC3339, e.g. 2024-03-04T09:00:00Z)")
	fs.BoolVar(&opts.list, "list", false, "List available jobs and exit")
	fs.BoolVar(&opts.dryRun, "dry-run", false, "Print the trigger Lambda payload without executing")
	fs.BoolVar(&opts.summary, "summary", false, "Print a tenant's dunning summary (requires --tenant)")
	fs.StringVar(&opts.tenant, "tenant", "", "Tenant id for --summary")
	fs.BoolVar(&opts.initSchema, "init-schema", false, "Apply the database schema before doing anything else")
	fs.StringVar(&opts.envFile, "env-file", "", "Dotenv file to load (default .env)")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: job-runner [flags]\n\n")
		fmt.Fprintf(stderr, "Run escalation jobs directly, bypassing the scheduler.\n\n")
		fmt.Fprintf(stderr, "Flags:\n")
		fs.PrintDefaults()
		fmt.Fprintf(stderr, "\nUse --list to see all available jobs.\n")
	}

	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	if refTime != "" {
		t, err := time.Parse(time.RFC3339, refTime)
		if err != nil {
			return options{}, fmt.Errorf("invalid --reference-time %q: expected RFC3339, e.g. 2024-03-04T09:00:00Z", refTime)
		}
		opts.refTime = &t
	}

	switch {
	case opts.list:
		return opts, nil
	case opts.summary:
		if opts.tenant == "" {
			return options{}, fmt.Errorf("--summary requires --tenant")
		}
		if opts.job != "" {
			return options{}, fmt.Errorf("--summary and --job are mutually exclusive")
		}
		return opts, nil
	case opts.job == "":
		if opts.initSchema && !opts.dryRun {
			return opts, nil
		}
		return options{}, fmt.Errorf("--job is required")
	}

	if _, ok := knownJobs[opts.job]; !ok {
		printAvailableJobs(stderr)
		return options{}, fmt.Errorf("unknown job %q", opts.job)
	}
	return opts, nil
}

// execute connects to the database, assembles the engine and performs the
// requested action. Results are printed to stdout as JSON.
func execute(ctx context.Context, opts options, stdout io.Writer) error {
	var envFiles []string
	if opts.envFile != "" {
		envFiles = append(envFiles, opts.envFile)
	}
	cfg, err := config.LoadConfig(envFiles...)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	cfg.Admin.Enabled = false

	logger := app.NewLogger(cfg.LogLevel)

	deps, closeDeps, err := app.Connect(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeDeps()

	if opts.initSchema {
		if err := db.ApplySchema(ctx, deps.DB); err != nil {
			return err
		}
		logger.Info("schema applied")
	}

	deps.WorkerID = "job-runner-" + uuid.NewString()
	a, err := app.New(cfg, deps)
	if err != nil {
		return fmt.Errorf("assembling engine: %w", err)
	}

	switch {
	case opts.summary:
		sum, err := a.Summaries.Summary(ctx, opts.tenant)
		if err != nil {
			return err
		}
		return writeJSON(stdout, sum)
	case opts.job == "":
		return nil
	}

	now := types.RealClock{}.Now()
	if opts.refTime != nil {
		now = opts.refTime.UTC()
	}
	logger.Info("running job",
		"job", opts.job,
		"reference_time", now.Format(time.RFC3339),
		"worker_id", deps.WorkerID,
	)

	result, runErr := a.Driver.RunNow(ctx, opts.job, now)
	if result.RunID != "" {
		if err := writeJSON(stdout, result); err != nil {
			return err
		}
	}
	if runErr != nil {
		return fmt.Errorf("job %s failed: %w", opts.job, runErr)
	}
	return nil
}

// printAvailableJobs prints every job and its description, sorted by name.
func printAvailableJobs(w io.Writer) {
	fmt.Fprintf(w, "Available jobs:\n\n")

	names := make([]string, 0, len(knownJobs))
	maxLen := 0
	for name := range knownJobs {
		names = append(names, name)
		if len(name) > maxLen {
			maxLen = len(name)
		}
	}
	sort.Strings(names)

	for _, name := range names {
		fmt.Fprintf(w, "  %-*s  %s\n", maxLen, name, knownJobs[name])
	}
	fmt.Fprintln(w)
}

// printPayload writes the payload as indented JSON for piping into
// `aws lambda invoke`.
func printPayload(w io.Writer, p triggerPayload) error {
	return writeJSON(w, p)
}

func writeJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
