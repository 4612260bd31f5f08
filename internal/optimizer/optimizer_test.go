package optimizer

import (
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeSensors struct {
	cpu float64
	mem float64
	err error
}

func (f *fakeSensors) CPUPercent() (float64, error)    { return f.cpu, f.err }
func (f *fakeSensors) MemoryPercent() (float64, error) { return f.mem, f.err }

func TestRecommend_EmptyHistoryDefaultsToThree(t *testing.T) {
	o := newWithSensors(&fakeSensors{cpu: 20, mem: 40}, slog.Default())
	assert.Equal(t, 3, o.Recommend(nil))
}

func TestRecommend_FastAverageBeforeModel(t *testing.T) {
	o := newWithSensors(&fakeSensors{cpu: 20, mem: 40}, slog.Default())

	// Five observed transfers averaging 2.0 seconds.
	times := []float64{1.5, 2.0, 2.5, 1.8, 2.2}
	assert.Equal(t, 3, o.Recommend(times))
}

func TestRecommend_SlowAverageBeforeModel(t *testing.T) {
	o := newWithSensors(&fakeSensors{cpu: 20, mem: 40}, slog.Default())
	assert.Equal(t, 1, o.Recommend([]float64{8.0, 12.0, 10.0}))
}

func TestRecommend_FittedModelWithinBounds(t *testing.T) {
	o := newWithSensors(&fakeSensors{cpu: 20, mem: 40}, slog.Default())

	// Twelve varied all-successful observations: the regression resolves to a
	// constant prediction of 1.0, so the recommendation is 1*3 = 3.
	for i := 0; i < 12; i++ {
		rt := 1.0 + 0.3*float64(i)
		size := 50.0 + 7.0*float64(i%5)
		o.Observe(rt, size, true)
	}
	assert.Greater(t, o.HistoryLen(), 10)

	got := o.Recommend([]float64{2.0, 3.0})
	assert.Equal(t, 3, got)
	assert.GreaterOrEqual(t, got, 1)
	assert.LessOrEqual(t, got, 5)
}

func TestRecommend_FittedModelFloorsAtOne(t *testing.T) {
	o := newWithSensors(&fakeSensors{cpu: 20, mem: 40}, slog.Default())

	// All failures: constant prediction of 0.0 floors at the minimum.
	for i := 0; i < 12; i++ {
		o.Observe(1.0+0.3*float64(i), 50.0+7.0*float64(i%5), false)
	}
	assert.Equal(t, 1, o.Recommend([]float64{2.0}))
}

func TestRecommend_SensorFailureFallsBack(t *testing.T) {
	sensors := &fakeSensors{cpu: 20, mem: 40}
	o := newWithSensors(sensors, slog.Default())
	for i := 0; i < 12; i++ {
		o.Observe(1.0+0.3*float64(i), 50.0+7.0*float64(i%5), true)
	}

	sensors.err = errors.New("proc unavailable")
	assert.Equal(t, 3, o.Recommend([]float64{2.0}))
}

func TestObserve_SensorFailureDropsSample(t *testing.T) {
	o := newWithSensors(&fakeSensors{err: errors.New("proc unavailable")}, slog.Default())
	o.Observe(2.0, 100, true)
	assert.Equal(t, 0, o.HistoryLen())
}

func TestObserve_ConcurrentUpdates(t *testing.T) {
	o := newWithSensors(&fakeSensors{cpu: 20, mem: 40}, slog.Default())

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o.Observe(2.0+float64(i%7), 10.0*float64(1+i%4), i%3 != 0)
		}()
	}
	wg.Wait()

	assert.Equal(t, 30, o.HistoryLen())
	got := o.Recommend([]float64{2.0})
	assert.GreaterOrEqual(t, got, 1)
	assert.LessOrEqual(t, got, 5)
}
