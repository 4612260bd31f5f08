// Package optimizer sizes the download worker pool from observed transfer
// performance and current host load.
package optimizer

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

const (
	defaultWorkers = 3
	minWorkers     = 1
	maxWorkers     = 5

	// A model is only trusted once it has seen more samples than this.
	fitThreshold = 10
)

// Sensors reports current host load. The production implementation reads
// gopsutil; tests use fakes.
type Sensors interface {
	CPUPercent() (float64, error)
	MemoryPercent() (float64, error)
}

type systemSensors struct{}

func (systemSensors) CPUPercent() (float64, error) {
	vals, err := cpu.Percent(0, false)
	if err != nil {
		return 0, fmt.Errorf("read cpu load: %w", err)
	}
	if len(vals) == 0 {
		return 0, fmt.Errorf("read cpu load: no samples")
	}
	return vals[0], nil
}

func (systemSensors) MemoryPercent() (float64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, fmt.Errorf("read memory load: %w", err)
	}
	return vm.UsedPercent, nil
}

// sample is one observation: response time, size in MiB, cpu and memory load
// at the time, and a 0/1 success flag.
type sample struct {
	responseTime float64
	sizeMiB      float64
	cpuLoad      float64
	memLoad      float64
	success      float64
}

// Optimizer accumulates observations and recommends a worker count. Safe for
// concurrent use.
type Optimizer struct {
	mu      sync.Mutex
	sensors Sensors
	logger  *slog.Logger
	samples []sample
	coef    []float64
}

func New(logger *slog.Logger) *Optimizer {
	return &Optimizer{sensors: systemSensors{}, logger: logger}
}

func newWithSensors(sensors Sensors, logger *slog.Logger) *Optimizer {
	return &Optimizer{sensors: sensors, logger: logger}
}

// Observe records one finished download. Once enough samples accumulate, a
// least-squares model of success against the observed features is refit.
func (o *Optimizer) Observe(responseTime, sizeMiB float64, success bool) {
	cpuLoad, err := o.sensors.CPUPercent()
	if err != nil {
		o.logger.Error("optimizer update failed", "error", err)
		return
	}
	memLoad, err := o.sensors.MemoryPercent()
	if err != nil {
		o.logger.Error("optimizer update failed", "error", err)
		return
	}

	flag := 0.0
	if success {
		flag = 1.0
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	o.samples = append(o.samples, sample{
		responseTime: responseTime,
		sizeMiB:      sizeMiB,
		cpuLoad:      cpuLoad,
		memLoad:      memLoad,
		success:      flag,
	})
	if len(o.samples) > fitThreshold {
		o.fitLocked()
	}
}

// fitLocked solves the least-squares regression of the success flag against
// an intercept plus the four observed features.
func (o *Optimizer) fitLocked() {
	n := len(o.samples)
	a := mat.NewDense(n, 5, nil)
	b := mat.NewVecDense(n, nil)
	for i, s := range o.samples {
		a.SetRow(i, []float64{1, s.responseTime, s.sizeMiB, s.cpuLoad, s.memLoad})
		b.SetVec(i, s.success)
	}

	var x mat.VecDense
	if err := x.SolveVec(a, b); err != nil {
		o.logger.Error("optimizer fit failed", "error", err, "samples", n)
		o.coef = nil
		return
	}
	o.coef = make([]float64, 5)
	copy(o.coef, x.RawVector().Data)
}

// Recommend returns the worker count for the next batch given the response
// times seen so far in this run. Any sensor or model failure falls back to
// the default.
func (o *Optimizer) Recommend(responseTimes []float64) int {
	if len(responseTimes) == 0 {
		return defaultWorkers
	}
	avg := stat.Mean(responseTimes, nil)

	o.mu.Lock()
	coef := o.coef
	o.mu.Unlock()

	if coef == nil {
		if avg < 5 {
			return defaultWorkers
		}
		return minWorkers
	}

	cpuLoad, err := o.sensors.CPUPercent()
	if err != nil {
		o.logger.Error("worker prediction failed", "error", err)
		return defaultWorkers
	}
	memLoad, err := o.sensors.MemoryPercent()
	if err != nil {
		o.logger.Error("worker prediction failed", "error", err)
		return defaultWorkers
	}

	features := []float64{1, avg, 100, cpuLoad, memLoad}
	var pred float64
	for i, c := range coef {
		pred += c * features[i]
	}

	workers := int(pred * 3)
	if workers < minWorkers {
		return minWorkers
	}
	if workers > maxWorkers {
		return maxWorkers
	}
	return workers
}

// HistoryLen reports how many observations have been recorded.
func (o *Optimizer) HistoryLen() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.samples)
}
