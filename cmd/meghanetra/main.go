// Command meghanetra runs the meteorological data acquisition service: a
// five-year sweep over every configured dataset, or a single month selected
// with a natural-language query.
//
// Usage:
//
//	meghanetra                                   # full sweep
//	meghanetra -query "gpm data for June 2023"   # one dataset-month
//	meghanetra -query "era5 2022" -dry-run
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/meghanetra/acquisition-service/internal/adapter/cds"
	"github.com/meghanetra/acquisition-service/internal/adapter/httpserv"
	"github.com/meghanetra/acquisition-service/internal/cache"
	"github.com/meghanetra/acquisition-service/internal/config"
	"github.com/meghanetra/acquisition-service/internal/domain"
	"github.com/meghanetra/acquisition-service/internal/fetch"
	"github.com/meghanetra/acquisition-service/internal/notify"
	"github.com/meghanetra/acquisition-service/internal/observability"
	"github.com/meghanetra/acquisition-service/internal/optimizer"
	"github.com/meghanetra/acquisition-service/internal/pipeline"
	"github.com/meghanetra/acquisition-service/internal/retry"
	"github.com/meghanetra/acquisition-service/internal/scheduler"
	"github.com/meghanetra/acquisition-service/internal/storage"
	"github.com/meghanetra/acquisition-service/internal/txlog"
	"github.com/meghanetra/acquisition-service/internal/validate"
)

func main() {
	configPath := flag.String("config", "./config.json", "path to the dataset config file")
	dataDir := flag.String("data-dir", "", "override DATA_DIR for downloaded artifacts")
	query := flag.String("query", "", "natural-language selection, e.g. \"gpm data for June 2023\"")
	dryRun := flag.Bool("dry-run", false, "plan and journal items without fetching")
	uploadBucket := flag.String("upload-bucket", "", "S3 bucket to upload finished artifacts to")
	flag.Parse()

	// Best effort; environment variables win over .env entries.
	godotenv.Load() //nolint:errcheck

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}

	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	metrics := observability.NewMetrics()

	if err := run(cfg, logger, metrics, *query, *dryRun, *uploadBucket); err != nil {
		logger.Error("run failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics,
	query string, dryRun bool, uploadBucket string) error {
	for _, dir := range []string{cfg.DataDir, cfg.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	contentCache := cache.New()
	if err := contentCache.LoadFrom(cfg.CacheLogFile()); err != nil {
		logger.Warn("cache log unreadable, starting empty", "error", err)
	}

	txns, err := txlog.Open(cfg.TransactionLogFile())
	if err != nil {
		return fmt.Errorf("open transaction log: %w", err)
	}

	notifier := buildNotifier(cfg, logger)
	defer notifier.Close() //nolint:errcheck

	policy := retry.Policy{
		MaxAttempts: cfg.RetryMaxAttempts,
		BaseDelay:   cfg.RetryBaseDelay,
		MaxDelay:    cfg.RetryMaxDelay,
	}

	// The query's region, when given, overrides the configured request area.
	opts := scheduler.Options{DryRun: dryRun}
	area := cfg.Area
	if query != "" {
		sel := domain.ParseQuery(query, cfg.DatasetIDs())
		logger.Info("query parsed",
			"dataset", sel.Dataset, "year", sel.Year, "month", sel.Month, "region", sel.Region)
		opts.Selection = &sel
		area = sel.Area
	}

	strategies, err := buildStrategies(ctx, cfg, policy, area, logger)
	if err != nil {
		return err
	}

	var uploader pipeline.Uploader
	if uploadBucket != "" {
		store, err := storage.New(ctx, uploadBucket, awsRegion(), logger)
		if err != nil {
			return fmt.Errorf("upload bucket %s: %w", uploadBucket, err)
		}
		uploader = store
	}

	runStats := pipeline.NewRunMetrics()
	validator := validate.NewValidator(logger)

	proc := pipeline.New(pipeline.Params{
		Strategies: strategies,
		Validator:  validator,
		Cache:      contentCache,
		Txns:       txns,
		Notifier:   notifier,
		Run:        runStats,
		Metrics:    metrics,
		Retry:      policy,
		DataDir:    cfg.DataDir,
		Uploader:   uploader,
		Logger:     logger,
	})

	sched := scheduler.New(scheduler.Params{
		Datasets:             cfg.Datasets,
		Processor:            proc,
		Optimizer:            optimizer.New(logger),
		Run:                  runStats,
		Validator:            validator,
		Cache:                contentCache,
		Notifier:             notifier,
		Metrics:              metrics,
		Logger:               logger,
		DataDir:              cfg.DataDir,
		MetricsFile:          cfg.MetricsFile(),
		CacheFile:            cfg.CacheLogFile(),
		SuccessRateThreshold: cfg.SuccessRateThreshold,
	})

	if cfg.HTTPAddr != "" {
		srv := httpserv.NewServer(cfg.HTTPAddr, readiness{cfg: cfg, run: runStats}, runStats, logger)
		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server error", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error("http server shutdown error", "error", err)
			}
		}()
	}

	report, err := sched.Run(ctx, opts)
	logger.Info("run finished",
		"total", report.Total,
		"success", report.Metrics.Success,
		"cached", report.Metrics.Cached,
		"failures", report.Metrics.Failures,
		"anomalies", report.Anomalies,
		"package", report.PackageFile)
	return err
}

// buildNotifier returns the console sink, fanned out to Kafka when brokers are
// configured.
func buildNotifier(cfg *config.Config, logger *slog.Logger) notify.Notifier {
	console := notify.NewConsole(logger)
	if len(cfg.KafkaBrokers) == 0 {
		return console
	}
	logger.Info("kafka notifications enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.NotifyTopic)
	return notify.NewMulti(console, notify.NewKafka(cfg.KafkaBrokers, cfg.NotifyTopic, logger))
}

// buildStrategies registers a fetch strategy per configured dataset. Datasets
// whose credentials are missing stay unregistered; their items fail and are
// journaled like any other failure.
func buildStrategies(ctx context.Context, cfg *config.Config, policy retry.Policy,
	area domain.BoundingBox, logger *slog.Logger) (*pipeline.Registry, error) {
	registry := pipeline.NewRegistry()

	httpClient := fetch.NewClient(2 * time.Minute)
	downloader := fetch.NewDownloader(httpClient, policy, logger)

	var auth *fetch.BasicAuth
	if cfg.EarthdataUser != "" {
		auth = &fetch.BasicAuth{Username: cfg.EarthdataUser, Password: cfg.EarthdataPass}
	}

	for id, spec := range cfg.Datasets {
		switch spec.Client {
		case "cdsapi":
			if cfg.CDSAPIKey == "" {
				logger.Warn("CDS_API_KEY not set, dataset disabled", "dataset", id)
				continue
			}
			client, err := cds.NewClient(cfg.CDSAPIURL, cfg.CDSAPIKey, 10*time.Minute, logger)
			if err != nil {
				return nil, fmt.Errorf("dataset %s: %w", id, err)
			}
			registry.Register(id, pipeline.NewERA5Strategy(client, spec.Variables, area, cfg.DataDir))

		case "http":
			registry.Register(id, pipeline.NewListingStrategy(httpClient, downloader, auth,
				cfg.DownloadChunkSize, cfg.DownloadThreads, cfg.DataDir, sourceLabel(id), logger))

		case "s3":
			bucket, _, err := pipeline.SplitS3URL(spec.URL)
			if err != nil {
				return nil, fmt.Errorf("dataset %s: %w", id, err)
			}
			store, err := storage.NewAnonymous(ctx, bucket, awsRegion(), logger)
			if err != nil {
				return nil, fmt.Errorf("dataset %s: %w", id, err)
			}
			registry.Register(id, pipeline.NewGoesStrategy(store, cfg.GoesChannel, cfg.DataDir, logger))

		default:
			return nil, fmt.Errorf("dataset %s: unknown client %q", id, spec.Client)
		}
	}
	return registry, nil
}

func sourceLabel(id string) string {
	switch id {
	case "modis_snow":
		return "MODIS via Earthdata"
	case "gpm":
		return "GPM IMERG via Earthdata"
	}
	return id + " via HTTP listing"
}

func awsRegion() string {
	if r := os.Getenv("AWS_REGION"); r != "" {
		return r
	}
	return "us-east-1"
}

// readiness reports ready once datasets are configured and the run has
// completed its first work item.
type readiness struct {
	cfg *config.Config
	run *pipeline.RunMetrics
}

func (r readiness) CheckReadiness(context.Context) error {
	if len(r.cfg.Datasets) == 0 {
		return errors.New("no datasets configured")
	}
	snap := r.run.Snapshot()
	if snap.Success+snap.Failures == 0 {
		return errors.New("no work items completed yet")
	}
	return nil
}
