// Package pipeline drives a work item through its full lifecycle: fetch via
// the dataset's strategy, validate, checksum into the cache, record metrics,
// and journal every transition in the transaction log.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/meghanetra/acquisition-service/internal/cache"
	"github.com/meghanetra/acquisition-service/internal/domain"
	"github.com/meghanetra/acquisition-service/internal/notify"
	"github.com/meghanetra/acquisition-service/internal/observability"
	"github.com/meghanetra/acquisition-service/internal/retry"
	"github.com/meghanetra/acquisition-service/internal/txlog"
	"github.com/meghanetra/acquisition-service/internal/validate"
)

// ErrUnknownDataset reports a work item with no registered fetch strategy.
var ErrUnknownDataset = errors.New("unknown dataset")

// ArtifactValidator checks a finished artifact against its dataset.
type ArtifactValidator interface {
	Validate(path string, ds domain.DatasetSpec) error
}

// Uploader pushes a finished artifact to the delivery target.
type Uploader interface {
	Upload(ctx context.Context, localPath string) (string, error)
}

// Snapshot is a point-in-time copy of the run counters.
type Snapshot struct {
	Success       int
	Cached        int
	Failures      int
	TotalTime     float64
	TotalSizeMiB  float64
	ResponseTimes []float64
	SizesMiB      []float64
}

// Satisfied counts work items that ended with the artifact in place: fresh
// downloads plus cache hits.
func (s Snapshot) Satisfied() int {
	return s.Success + s.Cached
}

// SuccessRate returns satisfied items over processed items, or 1 when nothing
// ran. Cache hits count as satisfied so an idempotent rerun of a fully
// acquired plan reports a healthy run.
func (s Snapshot) SuccessRate() float64 {
	total := s.Satisfied() + s.Failures
	if total == 0 {
		return 1
	}
	return float64(s.Satisfied()) / float64(total)
}

// RunMetrics accumulates per-run counters. Safe for concurrent use by the
// worker pool.
type RunMetrics struct {
	mu            sync.Mutex
	success       int
	cached        int
	failures      int
	totalTime     float64
	totalSizeMiB  float64
	responseTimes []float64
	sizesMiB      []float64
}

func NewRunMetrics() *RunMetrics {
	return &RunMetrics{}
}

func (m *RunMetrics) RecordResponseTime(seconds float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responseTimes = append(m.responseTimes, seconds)
}

func (m *RunMetrics) RecordSuccess(seconds, sizeMiB float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.success++
	m.totalTime += seconds
	m.totalSizeMiB += sizeMiB
	m.sizesMiB = append(m.sizesMiB, sizeMiB)
}

// RecordCached counts a work item satisfied by an existing cached artifact.
func (m *RunMetrics) RecordCached() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cached++
}

func (m *RunMetrics) RecordFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures++
}

// ResponseTimes returns a copy of the per-item wall times observed so far.
func (m *RunMetrics) ResponseTimes() []float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]float64, len(m.responseTimes))
	copy(out, m.responseTimes)
	return out
}

func (m *RunMetrics) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Snapshot{
		Success:       m.success,
		Cached:        m.cached,
		Failures:      m.failures,
		TotalTime:     m.totalTime,
		TotalSizeMiB:  m.totalSizeMiB,
		ResponseTimes: make([]float64, len(m.responseTimes)),
		SizesMiB:      make([]float64, len(m.sizesMiB)),
	}
	copy(s.ResponseTimes, m.responseTimes)
	copy(s.SizesMiB, m.sizesMiB)
	return s
}

// Params wires a Pipeline. Uploader may be nil when no delivery bucket is
// configured.
type Params struct {
	Strategies *Registry
	Validator  ArtifactValidator
	Cache      *cache.Cache
	Txns       *txlog.Log
	Notifier   notify.Notifier
	Run        *RunMetrics
	Metrics    *observability.Metrics
	Retry      retry.Policy
	DataDir    string
	Uploader   Uploader
	Logger     *slog.Logger
}

// Pipeline processes work items. One Pipeline serves all workers of a run.
type Pipeline struct {
	strategies *Registry
	validator  ArtifactValidator
	checksum   func(string) (string, error)
	cache      *cache.Cache
	txns       *txlog.Log
	notifier   notify.Notifier
	run        *RunMetrics
	metrics    *observability.Metrics
	retry      retry.Policy
	dataDir    string
	uploader   Uploader
	logger     *slog.Logger
}

func New(p Params) *Pipeline {
	return &Pipeline{
		strategies: p.Strategies,
		validator:  p.Validator,
		checksum:   validate.Checksum,
		cache:      p.Cache,
		txns:       p.Txns,
		notifier:   p.Notifier,
		run:        p.Run,
		metrics:    p.Metrics,
		retry:      p.Retry,
		dataDir:    p.DataDir,
		uploader:   p.Uploader,
		logger:     p.Logger,
	}
}

// Process runs one work item to completion. A nil return means the artifact
// is on disk, validated, and cached (or the item was a dry run or cache hit).
// Any post-fetch failure removes the artifact so no partial or invalid file
// survives under the final name.
func (p *Pipeline) Process(ctx context.Context, item domain.WorkItem, dryRun bool) (err error) {
	strategy, ok := p.strategies.Get(item.Dataset.ID)
	if !ok {
		p.notifier.Notify(ctx, notify.LevelError, "invalid dataset",
			map[string]string{"dataset": item.Dataset.ID})
		return fmt.Errorf("%w %q", ErrUnknownDataset, item.Dataset.ID)
	}

	path := item.ArtifactPath(p.dataDir)

	if _, statErr := os.Stat(path); statErr == nil {
		if sum, cErr := p.checksum(path); cErr == nil {
			if _, hit := p.cache.Lookup(sum); hit {
				p.metrics.CacheLookups.WithLabelValues("hit").Inc()
				p.run.RecordCached()
				p.notifier.Notify(ctx, notify.LevelInfo, item.String()+" cached", nil)
				return nil
			}
		}
		p.metrics.CacheLookups.WithLabelValues("miss").Inc()
	}

	txID, txErr := p.txns.Begin(item.String())
	if txErr != nil {
		p.logger.Warn("transaction journal write failed", "error", txErr)
	}
	p.metrics.Transactions.WithLabelValues(txlog.ActionStart).Inc()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pipeline panic for %s: %v", item, r)
			p.fail(ctx, item, txID, path, err)
		}
	}()

	if dryRun {
		p.notifier.Notify(ctx, notify.LevelInfo, "[DRY RUN] would fetch "+item.String(), nil)
		p.complete(txID, item.String())
		return nil
	}

	start := domain.Now()
	fetchErr := p.retry.Do(ctx, func() error {
		return strategy.Fetch(ctx, item)
	})
	elapsed := domain.Now().Sub(start).Seconds()
	p.run.RecordResponseTime(elapsed)
	p.metrics.DownloadDuration.Observe(elapsed)

	if fetchErr != nil {
		return p.fail(ctx, item, txID, path, fmt.Errorf("fetch %s: %w", item, fetchErr))
	}

	if vErr := p.validator.Validate(path, item.Dataset); vErr != nil {
		p.rollback(txID, item, "validation failed")
		return p.fail(ctx, item, txID, path, fmt.Errorf("validate %s: %w", item, vErr))
	}

	sum, cErr := p.checksum(path)
	if cErr != nil {
		p.rollback(txID, item, "hash computation failed")
		return p.fail(ctx, item, txID, path, fmt.Errorf("checksum %s: %w", item, cErr))
	}

	if hit := p.cache.Store(sum, path); hit {
		p.metrics.CacheLookups.WithLabelValues("hit").Inc()
	}

	sizeMiB := fileSizeMiB(path)
	p.run.RecordSuccess(elapsed, sizeMiB)
	p.metrics.DownloadSuccess.Inc()
	p.metrics.DownloadSizeMiB.Add(sizeMiB)

	p.complete(txID, fmt.Sprintf("%s sha256=%s", path, sum))

	if p.uploader != nil {
		if key, upErr := p.uploader.Upload(ctx, path); upErr != nil {
			p.notifier.Notify(ctx, notify.LevelWarning, "upload failed for "+item.String(),
				map[string]string{"error": upErr.Error()})
		} else {
			p.metrics.UploadsTotal.Inc()
			p.logger.Info("artifact uploaded", "item", item.String(), "key", key)
		}
	}

	p.notifier.Notify(ctx, notify.LevelInfo, "acquired "+item.String(),
		map[string]string{"size_mib": fmt.Sprintf("%.1f", sizeMiB)})
	return nil
}

func (p *Pipeline) complete(txID, details string) {
	if err := p.txns.Complete(txID, details); err != nil {
		p.logger.Warn("transaction journal write failed", "error", err)
	}
	p.metrics.Transactions.WithLabelValues(txlog.ActionComplete).Inc()
}

func (p *Pipeline) rollback(txID string, item domain.WorkItem, reason string) {
	if err := p.txns.Rollback(txID, fmt.Sprintf("%s: %s", item, reason)); err != nil {
		p.logger.Warn("transaction journal write failed", "error", err)
	}
	p.metrics.Transactions.WithLabelValues(txlog.ActionRollback).Inc()
}

func (p *Pipeline) fail(ctx context.Context, item domain.WorkItem, txID, path string, cause error) error {
	removeArtifact(path)
	p.run.RecordFailure()
	p.metrics.DownloadFailures.Inc()
	if err := p.txns.Fail(txID, fmt.Sprintf("%s: %v", item, cause)); err != nil {
		p.logger.Warn("transaction journal write failed", "error", err)
	}
	p.metrics.Transactions.WithLabelValues(txlog.ActionFail).Inc()
	p.notifier.Notify(ctx, notify.LevelError, "acquisition failed for "+item.String(),
		map[string]string{"error": cause.Error()})
	return cause
}

// removeArtifact deletes the artifact and its provenance sidecar, if present.
func removeArtifact(path string) {
	os.Remove(path)
	os.Remove(domain.ProvenancePath(path))
}

func fileSizeMiB(path string) float64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return float64(info.Size()) / (1 << 20)
}
