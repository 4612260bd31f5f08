package domain

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStampProvenance(t *testing.T) {
	frozen := time.Date(2024, time.July, 1, 9, 30, 0, 0, time.UTC)
	SetClock(clockwork.NewFakeClockAt(frozen))
	defer SetClock(nil)

	artifact := filepath.Join(t.TempDir(), "gpm_202406.hdf5")
	require.NoError(t, os.WriteFile(artifact, []byte("payload"), 0o644))

	require.NoError(t, StampProvenance(artifact, "GPM IMERG via Earthdata"))

	data, err := os.ReadFile(ProvenancePath(artifact))
	require.NoError(t, err)

	var p Provenance
	require.NoError(t, json.Unmarshal(data, &p))
	assert.Equal(t, "GPM IMERG via Earthdata", p.Source)
	assert.True(t, p.DownloadTime.Equal(frozen))

	// The artifact itself must be untouched so its checksum stays stable.
	payload, err := os.ReadFile(artifact)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), payload)
}
