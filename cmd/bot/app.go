package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"memoria/internal/audio"
	"memoria/internal/driver"
	"memoria/internal/health"
	"memoria/internal/kernel"
	"memoria/internal/observability"
	"memoria/internal/refine"
	"memoria/internal/store"
	"memoria/internal/summary"
	"memoria/internal/transcribe"
	"memoria/modules/digest"
	"memoria/modules/help"
	"memoria/modules/journal"
	"memoria/pkg/llm"
	llmconfig "memoria/pkg/llm/config"
	"memoria/pkg/memoria"
	"memoria/pkg/transcription"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

const (
	defaultEnvFile   = ".env"
	metricsNamespace = "memoria"
)

type options struct {
	configPath  string
	envFile     string
	envExplicit bool
	logLevel    string
}

func parseFlags(args []string, output io.Writer) (options, error) {
	flags := pflag.NewFlagSet("memoria", pflag.ContinueOnError)
	flags.SetOutput(output)

	var opts options
	flags.StringVarP(&opts.configPath, "config", "c", "", "config file path (JSON or YAML)")
	flags.StringVarP(&opts.envFile, "env", "e", defaultEnvFile, "env file path")
	flags.StringVarP(&opts.logLevel, "log", "l", "", "log level override (debug, info, warn, error)")
	if err := flags.Parse(args); err != nil {
		return options{}, err
	}
	opts.envExplicit = flags.Changed("env")

	return opts, nil
}

// loadEnvFile loads path into the process environment without overriding
// variables that are already set. A missing default file is ignored.
func loadEnvFile(path string, explicit bool) error {
	if path == "" {
		return nil
	}
	err := godotenv.Load(path)
	if err == nil {
		return nil
	}
	if errors.Is(err, os.ErrNotExist) && !explicit {
		return nil
	}

	return fmt.Errorf("load env file %s: %w", path, err)
}

func run(args []string) error {
	opts, err := parseFlags(args, os.Stderr)
	if errors.Is(err, pflag.ErrHelp) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("parse flags: %w", err)
	}
	if err := loadEnvFile(opts.envFile, opts.envExplicit); err != nil {
		return err
	}

	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if opts.logLevel != "" {
		level, err := parseLogLevel(opts.logLevel)
		if err != nil {
			return fmt.Errorf("parse --log: %w", err)
		}
		cfg.logLevel = level
	}

	logger, err := newLogger(os.Stdout, cfg.logLevel, cfg.logFormat)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry, err := driver.NewBuiltinRegistry()
	if err != nil {
		return fmt.Errorf("new builtin driver registry: %w", err)
	}
	app, err := buildApp(ctx, cfg, logger, registry)
	if err != nil {
		return err
	}

	return app.Run(ctx)
}

type serviceEntry struct {
	name    string
	service any
}

// application is the fully wired process: kernel, drivers, modules and the
// liveness server.
type application struct {
	kernel          *kernel.Kernel
	health          *health.Server
	store           *store.Store
	logger          *slog.Logger
	shutdownTimeout time.Duration
}

func buildApp(
	ctx context.Context,
	cfg appConfig,
	logger *slog.Logger,
	registry *driver.Registry,
) (_ *application, err error) {
	if registry == nil {
		return nil, fmt.Errorf("build app: nil driver registry")
	}

	memoryStore, err := store.Open(ctx, cfg.store, logger.With("component", "store"))
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = memoryStore.Close(context.WithoutCancel(ctx))
		}
	}()

	providers, err := buildLLMProviders(ctx, cfg.llm, logger)
	if err != nil {
		return nil, err
	}
	refineProvider, err := resolveTaskProvider(providers, cfg.llm.Refine)
	if err != nil {
		return nil, fmt.Errorf("resolve refine provider: %w", err)
	}
	summaryProvider, err := resolveTaskProvider(providers, cfg.llm.Summary.Task)
	if err != nil {
		return nil, fmt.Errorf("resolve summary provider: %w", err)
	}

	refiner := refine.New(refineProvider, refine.Settings{
		Model:           cfg.llm.Refine.Model,
		MaxOutputTokens: cfg.llm.Refine.MaxOutputTokens,
		Temperature:     cfg.llm.Refine.Temperature,
		Timeout:         cfg.llm.RequestTimeout,
	}, refine.WithLogger(logger.With("component", "refine")))
	summarizer := summary.New(summaryProvider, summary.Settings{
		Model:                  cfg.llm.Summary.Model,
		MonthlyMaxOutputTokens: cfg.llm.Summary.MonthlyMaxOutputTokens,
		YearlyMaxOutputTokens:  cfg.llm.Summary.YearlyMaxOutputTokens,
		Temperature:            cfg.llm.Summary.Temperature,
		Timeout:                cfg.llm.RequestTimeout,
	}, summary.WithLogger(logger.With("component", "summary")))
	transcriber, err := buildTranscriber(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	runtimes, err := registry.BuildEnabled(ctx, cfg.drivers, logger)
	if err != nil {
		return nil, fmt.Errorf("build drivers: %w", err)
	}
	if len(runtimes) == 0 {
		logger.WarnContext(ctx, "no chat driver enabled, only the health endpoint is served")
	}
	sinkDispatcher, err := driver.NewCompositeSinkDispatcher(runtimes)
	if err != nil {
		return nil, fmt.Errorf("build sink dispatcher: %w", err)
	}
	downloader, err := driver.NewCompositeMediaDownloader(runtimes)
	if err != nil {
		return nil, fmt.Errorf("build media downloader: %w", err)
	}

	metrics := observability.NewMetrics(metricsNamespace)
	kernelRuntime := kernel.New(
		kernel.WithLogger(logger),
		kernel.WithModuleHookTimeout(cfg.moduleHookTimeout),
		kernel.WithShutdownTimeout(cfg.shutdownTimeout),
		kernel.WithDefaultSubscriptionBuffer(cfg.subscriptionBuffer),
		kernel.WithDefaultSubscriptionWorkers(cfg.subscriptionWorkers),
	)

	for _, runtime := range runtimes {
		if err := kernelRuntime.RegisterDriver(runtime.Driver); err != nil {
			return nil, fmt.Errorf("register driver %s: %w", runtime.Name, err)
		}
	}

	services := []serviceEntry{
		{name: memoria.ServiceLogger, service: logger},
		{name: memoria.ServiceMemoryStore, service: memoryStore},
		{name: memoria.ServiceTranscriber, service: transcriber},
		{name: memoria.ServiceRefiner, service: refiner},
		{name: memoria.ServiceSummarizer, service: summarizer},
		{name: memoria.ServiceClock, service: memoria.NewZoneClock(cfg.location)},
		{name: memoria.ServicePipelineMetrics, service: metrics},
		{name: memoria.ServiceSinkDispatcher, service: sinkDispatcher},
		{name: memoria.ServiceMediaDownloader, service: downloader},
	}
	if providers != nil {
		services = append(services, serviceEntry{name: memoria.ServiceLLMProviderRegistry, service: providers})
	}
	for _, entry := range services {
		if err := kernelRuntime.RegisterService(entry.name, entry.service); err != nil {
			return nil, fmt.Errorf("register service %s: %w", entry.name, err)
		}
	}

	modules := []memoria.Module{
		help.New(),
		journal.New(
			journal.WithLogger(logger.With("module", "journal")),
			journal.WithWorkers(cfg.journalWorkers),
		),
		digest.New(digest.WithLogger(logger.With("module", "digest"))),
	}
	for _, module := range modules {
		if err := kernelRuntime.RegisterModule(ctx, module); err != nil {
			return nil, fmt.Errorf("register module %s: %w", module.Name(), err)
		}
	}

	chatConnected := len(runtimes) > 0
	healthServer := health.New(cfg.healthAddr,
		health.WithMetrics(metrics.Handler()),
		health.WithLogger(logger.With("component", "health")),
		health.WithStatus(func() health.Status {
			return health.Status{
				StoreBackend:  memoryStore.Backend(),
				StoreDegraded: memoryStore.Degraded(),
				Telegram:      chatConnected,
			}
		}),
	)

	return &application{
		kernel:          kernelRuntime,
		health:          healthServer,
		store:           memoryStore,
		logger:          logger,
		shutdownTimeout: cfg.shutdownTimeout,
	}, nil
}

// Run serves the kernel and the liveness endpoint until ctx ends or either
// fails, then closes the store.
func (a *application) Run(ctx context.Context) error {
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return a.health.Run(groupCtx)
	})
	group.Go(func() error {
		if err := a.kernel.Run(groupCtx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("run kernel: %w", err)
		}
		return nil
	})
	runErr := group.Wait()

	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.shutdownTimeout)
	defer cancel()
	if err := a.store.Close(closeCtx); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("close store: %w", err))
	}
	a.logger.InfoContext(ctx, "bot stopped")

	return runErr
}

// buildLLMProviders returns nil when no provider profile is configured.
func buildLLMProviders(ctx context.Context, cfg llmconfig.Config, logger *slog.Logger) (*llm.Registry, error) {
	providers, err := llm.BuildRegistry(cfg)
	if errors.Is(err, memoria.ErrNotConfigured) {
		logger.WarnContext(ctx, "no language model configured, refinement and summaries use fallbacks")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("build llm providers: %w", err)
	}

	return providers, nil
}

// resolveTaskProvider returns a nil provider for disabled tasks, which the
// refiner and the summary engine treat as "always fall back".
func resolveTaskProvider(registry *llm.Registry, task llmconfig.Task) (memoria.LLMProvider, error) {
	if !task.Enabled() || registry == nil {
		return nil, nil
	}

	return registry.Resolve(task.Provider)
}

func buildTranscriber(ctx context.Context, cfg appConfig, logger *slog.Logger) (memoria.Transcriber, error) {
	provider, err := transcription.Build(cfg.llm)
	if errors.Is(err, memoria.ErrNotConfigured) {
		logger.WarnContext(ctx, "no transcription provider configured, voice messages cannot be processed")
		return unavailableTranscriber{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("build transcriber: %w", err)
	}

	transcribeOptions := []transcribe.Option{
		transcribe.WithLanguage(cfg.llm.Transcription.Language),
		transcribe.WithLogger(logger.With("component", "transcribe")),
	}
	if cfg.llm.Transcription.ConvertToWAV {
		transcribeOptions = append(transcribeOptions,
			transcribe.WithConverter(audio.NewConverter(audio.NewWorkspace(cfg.audioDir))),
		)
	}
	service, err := transcribe.New(provider, transcribeOptions...)
	if err != nil {
		return nil, fmt.Errorf("build transcriber: %w", err)
	}

	return service, nil
}

// unavailableTranscriber fails every request, so voice messages receive the
// generic failure report while the rest of the bot keeps working.
type unavailableTranscriber struct{}

func (unavailableTranscriber) Transcribe(
	context.Context,
	memoria.TranscriptionRequest,
) (memoria.TranscriptionResult, error) {
	return memoria.TranscriptionResult{}, fmt.Errorf("transcribe: %w", memoria.ErrNotConfigured)
}
