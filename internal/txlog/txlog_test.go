package txlog

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meghanetra/acquisition-service/internal/domain"
)

func tempLog(t *testing.T) *Log {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "transaction_log.json"))
	require.NoError(t, err)
	return l
}

func TestBegin_RecordsStartWithFrozenClock(t *testing.T) {
	frozen := time.Date(2023, 6, 15, 12, 0, 0, 0, time.UTC)
	domain.SetClock(clockwork.NewFakeClockAt(frozen))
	t.Cleanup(func() { domain.SetClock(nil) })

	l := tempLog(t)
	id, err := l.Begin("gpm 2023-06")
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	records := l.Records()
	require.Len(t, records, 1)
	assert.Equal(t, ActionStart, records[0].Action)
	assert.Equal(t, "gpm 2023-06", records[0].Details)
	assert.Equal(t, frozen, records[0].Timestamp)
}

func TestLifecycle_SharesTransactionID(t *testing.T) {
	l := tempLog(t)

	id, err := l.Begin("era5 2022-01")
	require.NoError(t, err)
	require.NoError(t, l.Rollback(id, "validation failed"))
	require.NoError(t, l.Fail(id, "validation failed"))

	records := l.Records()
	require.Len(t, records, 3)
	assert.Equal(t, []string{ActionStart, ActionRollback, ActionFail},
		[]string{records[0].Action, records[1].Action, records[2].Action})
	for _, r := range records {
		assert.Equal(t, id, r.ID)
	}
}

func TestOpen_RestoresExistingJournal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transaction_log.json")

	l, err := Open(path)
	require.NoError(t, err)
	id, err := l.Begin("goes16 2023-06")
	require.NoError(t, err)
	require.NoError(t, l.Complete(id, "goes16 2023-06"))

	reopened, err := Open(path)
	require.NoError(t, err)
	records := reopened.Records()
	require.Len(t, records, 2)
	assert.Equal(t, ActionComplete, records[1].Action)

	// Appends continue after the restored records.
	_, err = reopened.Begin("goes16 2023-07")
	require.NoError(t, err)
	assert.Len(t, reopened.Records(), 3)
}

func TestAppend_ConcurrentWorkers(t *testing.T) {
	l := tempLog(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := l.Begin("item")
			assert.NoError(t, err)
			assert.NoError(t, l.Complete(id, "item"))
		}()
	}
	wg.Wait()

	assert.Len(t, l.Records(), 40)
}

func TestRecords_ReturnsCopy(t *testing.T) {
	l := tempLog(t)
	_, err := l.Begin("item")
	require.NoError(t, err)

	records := l.Records()
	records[0].Action = "tampered"

	assert.Equal(t, ActionStart, l.Records()[0].Action)
}
