// Package scheduler plans a run's work items, sizes the worker pool per date
// batch, and finalizes the run: anomaly screening, the metrics file, the
// delivery package, and cache persistence.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"

	"github.com/meghanetra/acquisition-service/internal/cache"
	"github.com/meghanetra/acquisition-service/internal/domain"
	"github.com/meghanetra/acquisition-service/internal/notify"
	"github.com/meghanetra/acquisition-service/internal/observability"
	"github.com/meghanetra/acquisition-service/internal/pipeline"
	"github.com/meghanetra/acquisition-service/internal/storage"
)

// How many years back the full sweep reaches.
const sweepYears = 5

// Sizes more than this many standard deviations from the run mean are
// flagged as anomalous.
const anomalyZScore = 2.0

// Anomaly screening needs more than this many successful downloads.
const anomalyMinSuccess = 5

// Processor runs one work item. Implemented by pipeline.Pipeline.
type Processor interface {
	Process(ctx context.Context, item domain.WorkItem, dryRun bool) error
}

// WorkerOptimizer sizes the pool and learns from finished items.
type WorkerOptimizer interface {
	Recommend(responseTimes []float64) int
	Observe(responseTime, sizeMiB float64, success bool)
}

// Options select what a run covers.
type Options struct {
	// Selection restricts the run to a single (dataset, month) pair. Nil runs
	// the full sweep over every configured dataset.
	Selection *domain.Selection
	DryRun    bool
}

// Report summarizes a finished run.
type Report struct {
	Total       int
	Anomalies   int
	Metrics     pipeline.Snapshot
	PackageFile string
}

// Params wires a Scheduler.
type Params struct {
	Datasets    map[string]domain.DatasetSpec
	Processor   Processor
	Optimizer   WorkerOptimizer
	Run         *pipeline.RunMetrics
	Validator   pipeline.ArtifactValidator
	Cache       *cache.Cache
	Notifier    notify.Notifier
	Metrics     *observability.Metrics
	Logger      *slog.Logger
	DataDir     string
	MetricsFile string
	CacheFile   string
	// SuccessRateThreshold is the minimum success/total ratio for a run to be
	// considered healthy.
	SuccessRateThreshold float64
}

type Scheduler struct {
	datasets    map[string]domain.DatasetSpec
	processor   Processor
	optimizer   WorkerOptimizer
	run         *pipeline.RunMetrics
	validator   pipeline.ArtifactValidator
	cache       *cache.Cache
	notifier    notify.Notifier
	metrics     *observability.Metrics
	logger      *slog.Logger
	dataDir     string
	metricsFile string
	cacheFile   string
	threshold   float64
}

func New(p Params) *Scheduler {
	return &Scheduler{
		datasets:    p.Datasets,
		processor:   p.Processor,
		optimizer:   p.Optimizer,
		run:         p.Run,
		validator:   p.Validator,
		cache:       p.Cache,
		notifier:    p.Notifier,
		metrics:     p.Metrics,
		logger:      p.Logger,
		dataDir:     p.DataDir,
		metricsFile: p.MetricsFile,
		cacheFile:   p.CacheFile,
		threshold:   p.SuccessRateThreshold,
	}
}

// Run executes the planned batches and finalizes the run. It returns an error
// when the success rate falls below the configured threshold, after all
// finalization steps have completed.
func (s *Scheduler) Run(ctx context.Context, opts Options) (Report, error) {
	s.metrics.PipelineRunning.Set(1)
	defer s.metrics.PipelineRunning.Set(0)

	batches, lastDate := s.planBatches(opts.Selection)
	total := 0
	for _, b := range batches {
		total += len(b)
	}

	done := 0
	for _, batch := range batches {
		if ctx.Err() != nil {
			return Report{Total: total, Metrics: s.run.Snapshot()}, ctx.Err()
		}

		workers := s.optimizer.Recommend(s.run.ResponseTimes())
		s.metrics.WorkerPoolSize.Set(float64(workers))

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(workers)
		for _, item := range batch {
			g.Go(func() error {
				s.runItem(gctx, item, opts.DryRun)
				return nil
			})
		}
		g.Wait()

		done += len(batch)
		s.logger.Info("batch finished", "done", done, "total", total, "workers", workers)
	}

	snap := s.run.Snapshot()
	report := Report{Total: total, Metrics: snap}
	report.Anomalies = s.screenAnomalies(ctx, snap)

	if err := s.writeMetricsFile(snap, lastDate); err != nil {
		s.logger.Error("metrics file write failed", "error", err)
	}

	report.PackageFile = s.packageValidArtifacts(ctx)

	if err := s.cache.SaveTo(s.cacheFile); err != nil {
		s.logger.Error("cache persistence failed", "error", err)
	}

	// Cache hits satisfy their work item, so an idempotent rerun of a fully
	// acquired plan still counts as healthy.
	satisfied := snap.Satisfied()
	rate := 0.0
	if total > 0 {
		rate = float64(satisfied) / float64(total)
	}
	summary := fmt.Sprintf("completed: %d/%d items (%.1f%% success)", satisfied, total, rate*100)
	if rate >= s.threshold {
		s.notifier.Notify(ctx, notify.LevelInfo, summary, nil)
		return report, nil
	}
	s.notifier.Notify(ctx, notify.LevelError, summary, nil)
	return report, fmt.Errorf("success rate %.2f below threshold %.2f", rate, s.threshold)
}

// runItem times one item and feeds the observation to the optimizer. Item
// failures are already journaled and counted by the processor; they never
// abort the batch.
func (s *Scheduler) runItem(ctx context.Context, item domain.WorkItem, dryRun bool) {
	start := domain.Now()
	err := s.processor.Process(ctx, item, dryRun)
	elapsed := domain.Now().Sub(start).Seconds()

	var sizeMiB float64
	if err == nil {
		if info, statErr := os.Stat(item.ArtifactPath(s.dataDir)); statErr == nil {
			sizeMiB = float64(info.Size()) / (1 << 20)
		}
	} else {
		s.logger.Error("item failed", "item", item.String(), "error", err)
	}
	s.optimizer.Observe(elapsed, sizeMiB, err == nil)
}

// planBatches produces date-major batches: the items of one calendar month
// run concurrently, months run in order. The returned time is the latest
// planned month, used for the freshness metric.
func (s *Scheduler) planBatches(sel *domain.Selection) ([][]domain.WorkItem, time.Time) {
	if sel != nil {
		ds, ok := s.datasets[sel.Dataset]
		if !ok {
			// Route the unknown id through the pipeline so the failure is
			// journaled like any other.
			ds = domain.DatasetSpec{ID: sel.Dataset}
		}
		item := domain.WorkItem{Dataset: ds, Year: sel.Year, Month: sel.Month}
		return [][]domain.WorkItem{{item}}, item.Date()
	}

	ids := make([]string, 0, len(s.datasets))
	for id := range s.datasets {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	now := domain.Now().UTC()
	end := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	start := end.AddDate(-sweepYears, 0, 0)

	var batches [][]domain.WorkItem
	for date := start; !date.After(end); date = date.AddDate(0, 1, 0) {
		batch := make([]domain.WorkItem, 0, len(ids))
		for _, id := range ids {
			batch = append(batch, domain.WorkItem{
				Dataset: s.datasets[id],
				Year:    date.Year(),
				Month:   date.Month(),
			})
		}
		batches = append(batches, batch)
	}
	return batches, end
}

// screenAnomalies z-scores the per-item size series and raises a warning for
// every size more than anomalyZScore deviations from the run mean.
func (s *Scheduler) screenAnomalies(ctx context.Context, snap pipeline.Snapshot) int {
	if snap.Success <= anomalyMinSuccess || len(snap.SizesMiB) == 0 {
		return 0
	}

	mean, std := stat.MeanStdDev(snap.SizesMiB, nil)
	if std == 0 || math.IsNaN(std) {
		return 0
	}

	anomalies := 0
	for _, size := range snap.SizesMiB {
		if math.Abs(size-mean)/std > anomalyZScore {
			anomalies++
			s.notifier.Notify(ctx, notify.LevelWarning, "anomalous download size detected",
				map[string]string{
					"size_mib": fmt.Sprintf("%.1f", size),
					"mean_mib": fmt.Sprintf("%.1f", mean),
				})
		}
	}
	return anomalies
}

// writeMetricsFile persists the run counters in the flat key layout consumed
// by the ops dashboards.
func (s *Scheduler) writeMetricsFile(snap pipeline.Snapshot, lastDate time.Time) error {
	freshnessDays := domain.Now().UTC().Sub(lastDate).Hours() / 24
	if freshnessDays < 0 {
		freshnessDays = 0
	}

	metrics := map[string]float64{
		"download_success_total":  float64(snap.Success),
		"download_failures_total": float64(snap.Failures),
		"download_size_mb":        snap.TotalSizeMiB,
		"download_time_seconds":   snap.TotalTime,
		"data_freshness":          freshnessDays,
	}
	data, err := json.MarshalIndent(metrics, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.metricsFile, data, 0o644)
}

// packageValidArtifacts revalidates every artifact in the data directory in
// parallel and bundles the ones that pass into the delivery archive. Returns
// the archive path, or empty when nothing validated.
func (s *Scheduler) packageValidArtifacts(ctx context.Context) string {
	entries, err := os.ReadDir(s.dataDir)
	if err != nil {
		s.logger.Error("data directory scan failed", "error", err)
		return ""
	}

	var (
		mu    sync.Mutex
		valid []string
	)
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !isArtifactName(name) {
			continue
		}
		ds, ok := s.datasets[strings.SplitN(name, "_", 2)[0]]
		if !ok {
			continue
		}
		path := filepath.Join(s.dataDir, name)
		g.Go(func() error {
			if err := s.validator.Validate(path, ds); err != nil {
				s.logger.Warn("artifact excluded from package", "file", name, "error", err)
				return nil
			}
			mu.Lock()
			valid = append(valid, path)
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	if len(valid) == 0 {
		return ""
	}
	sort.Strings(valid)

	dest := filepath.Join(s.dataDir, "data_package.zip")
	if err := storage.PackageArtifacts(valid, dest); err != nil {
		s.logger.Error("packaging failed", "error", err)
		return ""
	}
	s.logger.Info("data package created", "file", dest, "artifacts", len(valid))
	return dest
}

func isArtifactName(name string) bool {
	for _, ext := range []string{".nc", ".hdf", ".hdf5"} {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}
