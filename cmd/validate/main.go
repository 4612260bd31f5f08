// Command validate performs offline integrity checks over a data directory
// produced by an acquisition run: artifact naming, content validation against
// the dataset descriptors, cache-log checksum consistency, and provenance
// sidecar presence.
//
// Usage:
//
//	go run ./cmd/validate -config ./config.json -data-dir ./data
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/meghanetra/acquisition-service/internal/cache"
	"github.com/meghanetra/acquisition-service/internal/config"
	"github.com/meghanetra/acquisition-service/internal/domain"
	"github.com/meghanetra/acquisition-service/internal/validate"
)

var artifactExts = []string{".nc", ".hdf", ".hdf5"}

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
	mu     sync.Mutex
}

func (p *phase) errorf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	configPath := flag.String("config", "./config.json", "path to the dataset config file")
	dataDir := flag.String("data-dir", "", "directory containing downloaded artifacts")
	flag.Parse()

	if *dataDir == "" {
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load config: %v\n", err)
		os.Exit(1)
	}

	if code := run(cfg, *dataDir); code != 0 {
		os.Exit(code)
	}
}

func run(cfg *config.Config, dataDir string) int {
	fmt.Println("=== Acquisition Data Integrity Validation ===")
	fmt.Println()

	artifacts, err := listArtifacts(dataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: scan data dir: %v\n", err)
		return 1
	}
	if len(artifacts) == 0 {
		fmt.Fprintf(os.Stderr, "FATAL: no artifacts found in %s\n", dataDir)
		return 1
	}

	phases := []*phase{
		validateNaming(artifacts, cfg.Datasets),
		validateContents(artifacts, cfg.Datasets),
		validateCacheLog(artifacts, cfg.CacheLogFile()),
		validateProvenance(artifacts),
	}

	fmt.Println()
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
	}

	fmt.Println()
	fmt.Printf("Artifacts: %d in %s\n", len(artifacts), dataDir)

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

func listArtifacts(dataDir string) ([]string, error) {
	entries, err := os.ReadDir(dataDir)
	if err != nil {
		return nil, err
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		for _, ext := range artifactExts {
			if strings.HasSuffix(e.Name(), ext) {
				paths = append(paths, filepath.Join(dataDir, e.Name()))
				break
			}
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// datasetFor resolves an artifact's dataset from its file-name prefix.
func datasetFor(path string, datasets map[string]domain.DatasetSpec) (domain.DatasetSpec, bool) {
	id := strings.SplitN(filepath.Base(path), "_", 2)[0]
	ds, ok := datasets[id]
	return ds, ok
}

// ── Phase 1: Naming ──
// Every artifact must carry a configured dataset prefix and the extension the
// dataset's format implies.

func validateNaming(artifacts []string, datasets map[string]domain.DatasetSpec) *phase {
	p := &phase{name: "Phase 1: Artifact Naming"}

	for _, path := range artifacts {
		name := filepath.Base(path)
		ds, ok := datasetFor(path, datasets)
		if !ok {
			p.errorf("%s: no configured dataset matches prefix", name)
			continue
		}
		if want := "." + ds.Extension(); !strings.HasSuffix(name, want) {
			p.errorf("%s: dataset %s expects extension %s", name, ds.ID, want)
		}
	}
	return p
}

// ── Phase 2: Contents ──
// Re-runs the pipeline's artifact validator over every file, in parallel.

func validateContents(artifacts []string, datasets map[string]domain.DatasetSpec) *phase {
	p := &phase{name: "Phase 2: Content Validation"}
	v := validate.NewValidator(discardLogger())

	var g errgroup.Group
	g.SetLimit(runtime.NumCPU())
	for _, path := range artifacts {
		ds, ok := datasetFor(path, datasets)
		if !ok {
			continue
		}
		g.Go(func() error {
			if err := v.Validate(path, ds); err != nil {
				p.errorf("%s: %v", filepath.Base(path), err)
			}
			return nil
		})
	}
	g.Wait()
	return p
}

// ── Phase 3: Cache Log ──
// Every artifact's checksum must appear in the persisted cache log, and the
// logged file path must point back at the artifact.

func validateCacheLog(artifacts []string, cachePath string) *phase {
	p := &phase{name: "Phase 3: Cache Log Consistency"}

	c := cache.New()
	if err := c.LoadFrom(cachePath); err != nil {
		p.errorf("load cache log: %v", err)
		return p
	}
	if c.Len() == 0 {
		p.errorf("cache log %s is missing or empty", cachePath)
		return p
	}

	for _, path := range artifacts {
		sum, err := validate.Checksum(path)
		if err != nil {
			p.errorf("%s: checksum: %v", filepath.Base(path), err)
			continue
		}
		entry, ok := c.Lookup(sum)
		if !ok {
			p.errorf("%s: checksum %s not in cache log", filepath.Base(path), sum[:12])
			continue
		}
		if filepath.Base(entry.File) != filepath.Base(path) {
			p.errorf("%s: cache log records file %q for this checksum", filepath.Base(path), entry.File)
		}
	}
	return p
}

// ── Phase 4: Provenance ──
// Every artifact must have a parseable provenance sidecar with a source and a
// download time.

func validateProvenance(artifacts []string) *phase {
	p := &phase{name: "Phase 4: Provenance Sidecars"}

	for _, path := range artifacts {
		name := filepath.Base(path)
		data, err := os.ReadFile(domain.ProvenancePath(path))
		if err != nil {
			p.errorf("%s: provenance sidecar unreadable: %v", name, err)
			continue
		}
		var prov domain.Provenance
		if err := json.Unmarshal(data, &prov); err != nil {
			p.errorf("%s: provenance sidecar malformed: %v", name, err)
			continue
		}
		if prov.Source == "" {
			p.errorf("%s: provenance source is empty", name)
		}
		if prov.DownloadTime.IsZero() {
			p.errorf("%s: provenance download_time is zero", name)
		}
	}
	return p
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
