// Package intake assembles the ingestion pipeline from configuration:
// signature verification, normalization, identity resolution, throttling,
// the receipt ledger, canonical merge-upserts, the tracker projection,
// and notification. The Service it builds is the single entry point hosts
// embed.
package intake

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-intake/canonical"
	"github.com/goliatone/go-intake/core"
	"github.com/goliatone/go-intake/inbound"
	"github.com/goliatone/go-intake/ledger"
	"github.com/goliatone/go-intake/normalize"
	"github.com/goliatone/go-intake/notify"
	"github.com/goliatone/go-intake/pipeline"
	"github.com/goliatone/go-intake/projection"
	"github.com/goliatone/go-intake/ratelimit"
	sqlstore "github.com/goliatone/go-intake/store/sql"
	"github.com/goliatone/go-intake/webhooks"
)

type Config = core.Config

type SourcesConfig = core.SourcesConfig
type SchedulingConfig = core.SchedulingConfig
type PaymentsConfig = core.PaymentsConfig
type ThrottleConfig = core.ThrottleConfig
type TrackerConfig = core.TrackerConfig
type MailerConfig = core.MailerConfig

type IngestResult = core.IngestResult
type InboundRequest = core.InboundRequest
type Receipt = core.Receipt

func DefaultConfig() Config {
	return core.DefaultConfig()
}

type builder struct {
	runtimeConfig     Config
	logger            core.Logger
	loggerProvider    core.LoggerProvider
	metricsRecorder   core.MetricsRecorder
	configProvider    core.ConfigProvider
	optionsResolver   core.OptionsResolver
	persistenceClient any
	repositoryFactory any
	httpClient        *http.Client

	receiptStore  core.ReceiptStore
	accountStore  core.AccountStore
	orderStore    core.OrderStore
	supportStore  core.SupportStore
	throttleStore ratelimit.StateStore
	trackerClient core.TrackerClient
	mailer        core.MailSender
	verifiers     map[string]webhooks.Verifier
	registry      *normalize.Registry
}

type Option func(*builder)

func WithLogger(logger core.Logger) Option {
	return func(b *builder) { b.logger = logger }
}

func WithLoggerProvider(provider core.LoggerProvider) Option {
	return func(b *builder) { b.loggerProvider = provider }
}

func WithMetricsRecorder(recorder core.MetricsRecorder) Option {
	return func(b *builder) { b.metricsRecorder = recorder }
}

func WithConfigProvider(provider core.ConfigProvider) Option {
	return func(b *builder) { b.configProvider = provider }
}

func WithOptionsResolver(resolver core.OptionsResolver) Option {
	return func(b *builder) { b.optionsResolver = resolver }
}

// WithPersistenceClient accepts a *bun.DB or any client exposing
// DB() *bun.DB; the SQL repository factory is built from it when no
// explicit factory or stores are injected.
func WithPersistenceClient(client any) Option {
	return func(b *builder) { b.persistenceClient = client }
}

func WithRepositoryFactory(factory any) Option {
	return func(b *builder) { b.repositoryFactory = factory }
}

func WithHTTPClient(client *http.Client) Option {
	return func(b *builder) { b.httpClient = client }
}

func WithReceiptStore(store core.ReceiptStore) Option {
	return func(b *builder) { b.receiptStore = store }
}

func WithAccountStore(store core.AccountStore) Option {
	return func(b *builder) { b.accountStore = store }
}

func WithOrderStore(store core.OrderStore) Option {
	return func(b *builder) { b.orderStore = store }
}

func WithSupportStore(store core.SupportStore) Option {
	return func(b *builder) { b.supportStore = store }
}

func WithThrottleStore(store ratelimit.StateStore) Option {
	return func(b *builder) { b.throttleStore = store }
}

func WithTrackerClient(client core.TrackerClient) Option {
	return func(b *builder) { b.trackerClient = client }
}

func WithMailer(mailer core.MailSender) Option {
	return func(b *builder) { b.mailer = mailer }
}

// WithVerifier overrides or adds the signature verifier for one source.
func WithVerifier(source string, verifier webhooks.Verifier) Option {
	return func(b *builder) {
		if b.verifiers == nil {
			b.verifiers = map[string]webhooks.Verifier{}
		}
		b.verifiers[strings.TrimSpace(source)] = verifier
	}
}

func WithRegistry(registry *normalize.Registry) Option {
	return func(b *builder) { b.registry = registry }
}

// storeProvider is the duck-typed surface the SQL repository factory
// exposes; any factory with these accessors can back the service.
type storeProvider interface {
	ReceiptStore() *sqlstore.ReceiptStore
	AccountStore() *sqlstore.AccountStore
	OrderStore() *sqlstore.OrderStore
	SupportTicketStore() *sqlstore.SupportTicketStore
	ThrottleStateStore() *sqlstore.ThrottleStateStore
}

// Service is the assembled intake runtime. It implements the processor
// contract the HTTP dispatcher and command handlers drive, adding metrics
// around each trip through the pipeline.
type Service struct {
	config          Config
	logger          core.Logger
	loggerProvider  core.LoggerProvider
	metricsRecorder core.MetricsRecorder
	pipeline        *pipeline.Pipeline
	dispatcher      *inbound.Dispatcher
	guard           *ratelimit.Guard
	ledger          *ledger.Ledger
	engine          *canonical.Engine
}

var _ pipeline.Processor = (*Service)(nil)

func New(cfg Config, opts ...Option) (*Service, error) {
	b := builder{runtimeConfig: cfg}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&b)
	}

	provider, logger := glog.Resolve("intake", b.loggerProvider, b.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger("intake"); named != nil {
			logger = glog.Ensure(named)
		}
	}

	if b.metricsRecorder == nil {
		b.metricsRecorder = core.NopMetricsRecorder{}
	}
	if b.configProvider == nil {
		b.configProvider = core.NewCfgxConfigProvider(nil)
	}
	if b.optionsResolver == nil {
		b.optionsResolver = core.GoOptionsResolver{}
	}

	defaults := core.DefaultConfig()
	loaded, err := b.configProvider.Load(context.Background(), defaults)
	if err != nil {
		return nil, core.IntakeErrorMapper(err)
	}
	finalConfig, err := b.optionsResolver.Resolve(defaults, loaded, b.runtimeConfig)
	if err != nil {
		return nil, core.IntakeErrorMapper(err)
	}

	if err := b.resolveStores(); err != nil {
		return nil, core.IntakeErrorMapper(err)
	}

	guard, err := ratelimit.NewGuard(b.throttleStore, finalConfig.Throttle)
	if err != nil {
		return nil, core.IntakeErrorMapper(err)
	}
	receiptLedger, err := ledger.New(b.receiptStore, logger)
	if err != nil {
		return nil, core.IntakeErrorMapper(err)
	}
	engine, err := canonical.NewEngine(b.accountStore, b.orderStore, b.supportStore, logger)
	if err != nil {
		return nil, core.IntakeErrorMapper(err)
	}

	trackerClient := b.trackerClient
	if trackerClient == nil && strings.TrimSpace(finalConfig.Tracker.BaseURL) != "" {
		var doer projection.HTTPDoer
		if b.httpClient != nil {
			doer = b.httpClient
		}
		client, buildErr := projection.NewHTTPTrackerClient(finalConfig.Tracker, doer)
		if buildErr != nil {
			return nil, core.IntakeErrorMapper(buildErr)
		}
		trackerClient = client
	}
	var projector *projection.Projector
	if trackerClient != nil {
		projector, err = projection.NewProjector(trackerClient, engine, logger)
		if err != nil {
			return nil, core.IntakeErrorMapper(err)
		}
	}

	mailer := b.mailer
	if mailer == nil && strings.TrimSpace(finalConfig.Mailer.SendURL) != "" {
		var doer notify.HTTPDoer
		if b.httpClient != nil {
			doer = b.httpClient
		}
		httpMailer, buildErr := notify.NewHTTPMailer(finalConfig.Mailer, doer)
		if buildErr != nil {
			return nil, core.IntakeErrorMapper(buildErr)
		}
		mailer = httpMailer
	}

	registry := b.registry
	if registry == nil {
		registry = normalize.DefaultRegistry()
	}

	pipe, err := pipeline.New(pipeline.Options{
		Verifiers: b.buildVerifiers(finalConfig),
		Registry:  registry,
		Guard:     guard,
		Ledger:    receiptLedger,
		Engine:    engine,
		Projector: projector,
		Mailer:    mailer,
		Logger:    logger,
	})
	if err != nil {
		return nil, core.IntakeErrorMapper(err)
	}

	service := &Service{
		config:          finalConfig,
		logger:          logger,
		loggerProvider:  provider,
		metricsRecorder: b.metricsRecorder,
		pipeline:        pipe,
		guard:           guard,
		ledger:          receiptLedger,
		engine:          engine,
	}

	dispatcher, err := inbound.NewDispatcher(service, engine, logger)
	if err != nil {
		return nil, core.IntakeErrorMapper(err)
	}
	for _, source := range []string{core.SourceScheduling, core.SourcePayments, core.SourceForms} {
		if err := dispatcher.RegisterSource(source); err != nil {
			return nil, core.IntakeErrorMapper(err)
		}
	}
	service.dispatcher = dispatcher

	return service, nil
}

func Setup(cfg Config, opts ...Option) (*Service, error) {
	return New(cfg, opts...)
}

func (b *builder) resolveStores() error {
	needsSQL := b.receiptStore == nil || b.accountStore == nil ||
		b.orderStore == nil || b.supportStore == nil || b.throttleStore == nil

	if needsSQL && b.repositoryFactory == nil && b.persistenceClient != nil {
		factory, err := sqlstore.NewRepositoryFactoryFromPersistence(b.persistenceClient)
		if err != nil {
			return err
		}
		b.repositoryFactory = factory
	}
	if provider, ok := b.repositoryFactory.(storeProvider); ok {
		if b.receiptStore == nil {
			b.receiptStore = provider.ReceiptStore()
		}
		if b.accountStore == nil {
			b.accountStore = provider.AccountStore()
		}
		if b.orderStore == nil {
			b.orderStore = provider.OrderStore()
		}
		if b.supportStore == nil {
			b.supportStore = provider.SupportTicketStore()
		}
		if b.throttleStore == nil {
			b.throttleStore = provider.ThrottleStateStore()
		}
	} else if b.repositoryFactory != nil {
		return fmt.Errorf("intake: unsupported repository factory type %T", b.repositoryFactory)
	}

	if b.receiptStore == nil {
		b.receiptStore = ledger.NewMemoryReceiptStore()
	}
	if b.accountStore == nil {
		b.accountStore = canonical.NewMemoryAccountStore()
	}
	if b.orderStore == nil {
		b.orderStore = canonical.NewMemoryOrderStore()
	}
	if b.supportStore == nil {
		b.supportStore = canonical.NewMemorySupportStore()
	}
	if b.throttleStore == nil {
		b.throttleStore = ratelimit.NewMemoryStateStore()
	}
	return nil
}

func (b *builder) buildVerifiers(cfg Config) map[string]webhooks.Verifier {
	verifiers := map[string]webhooks.Verifier{}
	if secret := strings.TrimSpace(cfg.Sources.Scheduling.Secret); secret != "" {
		verifiers[core.SourceScheduling] = webhooks.NewSchedulingVerifier(secret)
	}
	if len(cfg.Sources.Payments.Secrets) > 0 {
		verifiers[core.SourcePayments] = webhooks.NewPaymentsVerifier(
			cfg.Sources.Payments.ReplayWindow,
			cfg.Sources.Payments.Secrets...,
		)
	}
	for source, verifier := range b.verifiers {
		verifiers[source] = verifier
	}
	return verifiers
}

func (s *Service) Config() Config {
	if s == nil {
		return Config{}
	}
	return s.config
}

func (s *Service) Logger() core.Logger {
	if s == nil {
		return glog.Nop()
	}
	return s.logger
}

func (s *Service) Pipeline() *pipeline.Pipeline {
	if s == nil {
		return nil
	}
	return s.pipeline
}

func (s *Service) Ledger() *ledger.Ledger {
	if s == nil {
		return nil
	}
	return s.ledger
}

func (s *Service) Engine() *canonical.Engine {
	if s == nil {
		return nil
	}
	return s.engine
}

func (s *Service) Guard() *ratelimit.Guard {
	if s == nil {
		return nil
	}
	return s.guard
}

// Routes mounts the intake HTTP surface onto mux.
func (s *Service) Routes(mux *http.ServeMux) error {
	if s == nil || s.dispatcher == nil {
		return fmt.Errorf("intake: service is not configured")
	}
	s.dispatcher.Routes(mux)
	return nil
}

// Process runs one inbound delivery through the pipeline and records the
// outcome counters.
func (s *Service) Process(ctx context.Context, req core.InboundRequest) (core.IngestResult, error) {
	if s == nil || s.pipeline == nil {
		return core.IngestResult{}, fmt.Errorf("intake: service is not configured")
	}
	started := time.Now()
	result, err := s.pipeline.Process(ctx, req)
	s.observe(ctx, "intake.process", req.Source, result, started, err)
	return result, err
}

// Replay re-executes a stored receipt without verification or throttling.
func (s *Service) Replay(ctx context.Context, source string, eventID string) (core.IngestResult, error) {
	if s == nil || s.pipeline == nil {
		return core.IngestResult{}, fmt.Errorf("intake: service is not configured")
	}
	started := time.Now()
	result, err := s.pipeline.Replay(ctx, source, eventID)
	s.observe(ctx, "intake.replay", source, result, started, err)
	return result, err
}

// PurgeThrottleState drops stale throttle records; maintenance jobs call
// this through the queue adapter.
func (s *Service) PurgeThrottleState(ctx context.Context) (int, error) {
	if s == nil || s.guard == nil {
		return 0, fmt.Errorf("intake: service is not configured")
	}
	return s.guard.PurgeStale(ctx)
}

func (s *Service) observe(ctx context.Context, name string, source string, result core.IngestResult, started time.Time, err error) {
	tags := map[string]string{
		"source":   strings.TrimSpace(source),
		"accepted": fmt.Sprintf("%t", result.Accepted),
	}
	if err != nil {
		tags["outcome"] = "error"
	} else if result.AlreadyProcessed {
		tags["outcome"] = "duplicate"
	} else {
		tags["outcome"] = "processed"
	}
	s.metricsRecorder.IncCounter(ctx, name, 1, tags)
	s.metricsRecorder.ObserveHistogram(ctx, name+".duration_ms", float64(time.Since(started).Milliseconds()), tags)
}
