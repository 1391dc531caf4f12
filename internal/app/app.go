// Package app assembles the escalation engine from a loaded Config. The three
// entrypoints (the scheduler service, the trigger Lambda and the job-runner
// CLI) share this wiring so that a manual run executes exactly the job bodies
// the tick loop would.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"escalator/internal/api/handlers"
	"escalator/internal/config"
	"escalator/internal/core"
	"escalator/internal/db"
	"escalator/internal/escalation"
	"escalator/internal/external"
	"escalator/internal/guard"
	"escalator/internal/jobs"
	notifcore "escalator/internal/notifications/core"
	"escalator/internal/notifications/email"
	"escalator/internal/notifications/messaging"
	"escalator/internal/scanner"
	"escalator/internal/scheduler"
	"escalator/internal/types"
)

// Pinger checks database connectivity. *pgxpool.Pool satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the process-level resources New builds on. DB is required; the
// AWS clients are optional and only used when the config enables them.
type Deps struct {
	DB         db.DBTX
	Pinger     Pinger
	SQS        notifcore.SQSSender
	CloudWatch notifcore.CloudWatchClient
	HTTPClient *http.Client
	Clock      types.Clock
	Logger     *slog.Logger
	// WorkerID identifies this process in job claims. Empty generates one.
	WorkerID string
}

// App is the assembled engine.
type App struct {
	Config    *config.Config
	Registry  *scheduler.Registry
	Driver    *scheduler.TickDriver
	Guard     *guard.Guard
	Policies  *escalation.PolicyCache
	Summaries *jobs.SummaryService
	History   *db.JobHistoryRepository
	Attempts  *db.DispatchAttemptRepository
	Operator  notifcore.OperatorNotifier
	// Server is nil when the admin surface is disabled.
	Server *core.Server

	logger *slog.Logger
}

// New wires every component. It performs no I/O.
func New(cfg *config.Config, deps Deps) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if deps.DB == nil {
		return nil, fmt.Errorf("database handle must not be nil")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Clock == nil {
		deps.Clock = types.RealClock{}
	}
	if deps.HTTPClient == nil {
		deps.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	logger := deps.Logger

	loc, err := cfg.Scheduler.Location()
	if err != nil {
		return nil, fmt.Errorf("loading scheduler timezone: %w", err)
	}

	invoices := db.NewInvoiceRepository(deps.DB)
	appointments := db.NewAppointmentRepository(deps.DB)
	progress := db.NewProgressRepository(deps.DB)
	attempts := db.NewDispatchAttemptRepository(deps.DB)
	overrides := db.NewPolicyOverrideRepository(deps.DB)
	history := db.NewJobHistoryRepository(deps.DB)

	g, err := newGuard(cfg.Scheduler.GuardMode, progress, deps.Clock)
	if err != nil {
		return nil, err
	}

	invoicePolicy, err := escalation.NewInvoicePolicy(cfg.Dunning.LookaheadDays)
	if err != nil {
		return nil, fmt.Errorf("building invoice policy: %w", err)
	}
	appointmentPolicy, err := escalation.NewAppointmentPolicy()
	if err != nil {
		return nil, fmt.Errorf("building appointment policy: %w", err)
	}
	policies := escalation.NewPolicyCache(overrides, invoicePolicy, appointmentPolicy)

	scan := scanner.New(invoices, appointments, loc, logger)
	iterator := jobs.NewTenantIterator(cfg.Scheduler.TenantWorkers, logger)

	operator := newOperatorNotifier(cfg, deps, logger)
	metrics := newMetrics(cfg, deps, logger)
	dispatcher := notifcore.NewDispatcher(notifcore.DispatcherConfig{
		Transports: newTransports(cfg, deps, logger),
		RatePerSecond: map[types.ChannelType]float64{
			types.ChannelEmail:    cfg.Email.RatePerSecond,
			types.ChannelSMS:      cfg.Messaging.RatePerSecond,
			types.ChannelWhatsApp: cfg.Messaging.RatePerSecond,
		},
		Recorder: attempts,
		Operator: operator,
		Metrics:  metrics,
		Clock:    deps.Clock,
		Logger:   Adapt(logger.With("component", "dispatcher")),
	})

	dunning := jobs.NewInvoiceDunningJob(jobs.InvoiceDunningConfig{
		Tenants:       invoices,
		Policies:      policies,
		Scanner:       scan,
		Claimer:       g,
		Dispatcher:    dispatcher,
		Iterator:      iterator,
		MaxLevel:      invoicePolicy.Max(),
		LookaheadDays: cfg.Dunning.LookaheadDays,
		Location:      loc,
		Logger:        logger,
	})
	reminders, err := jobs.NewAppointmentReminderJob(jobs.AppointmentReminderConfig{
		Tenants:     appointments,
		Policy:      appointmentPolicy,
		Scanner:     scan,
		Claimer:     g,
		Dispatcher:  dispatcher,
		Iterator:    iterator,
		WindowStart: cfg.Reminders.WindowStart,
		WindowEnd:   cfg.Reminders.WindowEnd,
		Location:    loc,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("building reminder job: %w", err)
	}
	summaries := jobs.NewSummaryService(invoices, deps.Clock)
	weekly := jobs.NewWeeklySummaryJob(invoices, summaries, operator, iterator, logger)

	catalog, err := jobs.Catalog(*cfg, jobs.Runners{
		Dunning:   dunning,
		Reminders: reminders,
		Summary:   weekly,
	})
	if err != nil {
		return nil, err
	}
	registry := scheduler.NewRegistry()
	if err := jobs.Register(registry, catalog); err != nil {
		return nil, err
	}

	opts := scheduler.Options{
		Interval: cfg.Scheduler.TickInterval,
		Location: loc,
		Clock:    deps.Clock,
		WorkerID: deps.WorkerID,
		ClaimTTL: cfg.Scheduler.ClaimTTL,
		History:  history,
		Observer: metrics,
		Logger:   logger,
	}
	if cfg.Scheduler.MultiInstance {
		opts.Claims = db.NewJobClaimRepository(deps.DB)
	}
	driver := scheduler.NewTickDriver(registry, opts)

	a := &App{
		Config:    cfg,
		Registry:  registry,
		Driver:    driver,
		Guard:     g,
		Policies:  policies,
		Summaries: summaries,
		History:   history,
		Attempts:  attempts,
		Operator:  operator,
		logger:    logger,
	}

	if cfg.Admin.Enabled {
		srv, err := a.newServer(deps)
		if err != nil {
			return nil, err
		}
		a.Server = srv
	}

	logger.Info("escalation engine assembled",
		"jobs", registry.Names(),
		"guard_mode", string(g.Mode()),
		"timezone", loc.String(),
		"multi_instance", cfg.Scheduler.MultiInstance,
		"admin", cfg.Admin.Enabled,
	)
	return a, nil
}

func (a *App) newServer(deps Deps) (*core.Server, error) {
	srv, err := core.NewServer(a.Config, a.logger)
	if err != nil {
		return nil, err
	}
	if deps.Pinger != nil {
		srv.HealthProbes = append(srv.HealthProbes, core.ProbeFunc{
			ProbeName: "database",
			Fn:        deps.Pinger.Ping,
		})
	}

	jobHandler := handlers.NewJobHandler(a.Registry, a.Driver, a.History, deps.Clock, a.logger)
	tenantHandler := handlers.NewTenantHandler(a.Summaries, a.Policies, a.Attempts, srv.Validator, a.logger)
	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars,
		func(r chi.Router) { r.Route("/jobs", jobHandler.RegisterRoutes) },
		func(r chi.Router) { r.Route("/tenants/{tenantID}", tenantHandler.RegisterRoutes) },
	)
	srv.MountRoutes()
	return srv, nil
}

func newGuard(mode string, store *db.ProgressRepository, clock types.Clock) (*guard.Guard, error) {
	switch guard.Mode(mode) {
	case guard.ModeAtomic, "":
		return guard.NewGuard(store, clock), nil
	case guard.ModeSerialized:
		return guard.NewSerializedGuard(store, clock), nil
	default:
		return nil, types.NewAppError(types.ErrCodeValidationInvalidValue,
			fmt.Sprintf("unknown guard mode %q", mode), nil)
	}
}

func newOperatorNotifier(cfg *config.Config, deps Deps, logger *slog.Logger) notifcore.OperatorNotifier {
	l := Adapt(logger.With("component", "operator"))
	if cfg.AWS.OperatorQueueURL == "" || deps.SQS == nil {
		logger.Warn("operator queue not configured, alerts will only be logged")
		return notifcore.LogNotifier{Logger: l}
	}
	return notifcore.NewOperatorPublisher(deps.SQS, cfg.AWS.OperatorQueueURL, l)
}

// runMetrics is what both the dispatcher and the tick driver need.
type runMetrics interface {
	notifcore.DispatchMetrics
	scheduler.RunObserver
}

func newMetrics(cfg *config.Config, deps Deps, logger *slog.Logger) runMetrics {
	if !cfg.Observability.EnableMetrics || deps.CloudWatch == nil {
		return notifcore.NoopMetrics{}
	}
	return notifcore.NewCloudWatchMetrics(deps.CloudWatch, cfg.Observability.MetricNamespace,
		Adapt(logger.With("component", "metrics")))
}

// newTransports registers a channel only when its provider is configured.
// Steps on an unconfigured channel are recorded as failed outcomes.
func newTransports(cfg *config.Config, deps Deps, logger *slog.Logger) map[types.ChannelType]notifcore.Transport {
	out := make(map[types.ChannelType]notifcore.Transport, 3)

	if key := cfg.Email.SendGridAPIKey; key.IsSet() {
		provider := external.NewSendGridClient(deps.HTTPClient, external.SendGridClientConfig{
			APIKey:  key,
			BaseURL: cfg.Email.BaseURL,
		})
		out[types.ChannelEmail] = email.NewChannel(email.ChannelConfig{
			Provider: provider,
			Sender: external.SenderIdentity{
				Name:    cfg.Email.FromName,
				Address: cfg.Email.FromAddress,
			},
			Templates: cfg.Email.Templates,
			Logger:    Adapt(logger.With("channel", string(types.ChannelEmail))),
		})
	} else {
		logger.Warn("SENDGRID_API_KEY not set, email channel disabled")
	}

	m := cfg.Messaging
	if m.TwilioAccountSID == "" {
		logger.Warn("TWILIO_ACCOUNT_SID not set, sms and whatsapp channels disabled")
		return out
	}
	provider := external.NewTwilioClient(deps.HTTPClient, external.TwilioClientConfig{
		AccountSID:   m.TwilioAccountSID,
		AuthToken:    m.TwilioAuthToken,
		SMSFrom:      m.SMSFrom,
		WhatsAppFrom: m.WhatsAppFrom,
		BaseURL:      m.BaseURL,
	})
	if m.SMSFrom != "" {
		out[types.ChannelSMS] = messaging.NewSMSChannel(messaging.ChannelConfig{
			Provider:  provider,
			Templates: m.Templates,
			Logger:    Adapt(logger.With("channel", string(types.ChannelSMS))),
		})
	}
	if m.WhatsAppFrom != "" {
		out[types.ChannelWhatsApp] = messaging.NewWhatsAppChannel(messaging.ChannelConfig{
			Provider:  provider,
			Templates: m.Templates,
			Logger:    Adapt(logger.With("channel", string(types.ChannelWhatsApp))),
		})
	}
	return out
}
