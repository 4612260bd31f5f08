package validate

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/batchatco/go-native-netcdf/netcdf/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meghanetra/acquisition-service/internal/domain"
)

type fakeNC struct {
	vars   map[string]any
	closed bool
}

func (f *fakeNC) ListVariables() []string {
	names := make([]string, 0, len(f.vars))
	for name := range f.vars {
		names = append(names, name)
	}
	return names
}

func (f *fakeNC) GetVariable(name string) (*api.Variable, error) {
	values, ok := f.vars[name]
	if !ok {
		return nil, fmt.Errorf("no such variable %q", name)
	}
	return &api.Variable{Values: values}, nil
}

func (f *fakeNC) Close() { f.closed = true }

func fakeValidator(nc *fakeNC) *Validator {
	open := func(string) (ncFile, error) { return nc, nil }
	return newValidatorWithOpen(open, slog.Default())
}

func writeArtifact(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "artifact.nc")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func gpmSpec() domain.DatasetSpec {
	return domain.DatasetSpec{ID: "gpm", Format: "netcdf", Variables: []string{"precipitationCal"}}
}

func TestValidate_MissingFile(t *testing.T) {
	v := NewValidator(slog.Default())
	err := v.Validate(filepath.Join(t.TempDir(), "absent.nc"), gpmSpec())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing")
}

func TestValidate_EmptyFile(t *testing.T) {
	path := writeArtifact(t, "")
	v := NewValidator(slog.Default())
	err := v.Validate(path, gpmSpec())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty")
}

func TestValidate_MissingExpectedVariable(t *testing.T) {
	path := writeArtifact(t, "not really netcdf")
	nc := &fakeNC{vars: map[string]any{"lat": []float32{1, 2}, "lon": []float32{3, 4}}}

	err := fakeValidator(nc).Validate(path, gpmSpec())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `missing variable "precipitationCal"`)
	assert.True(t, nc.closed)
}

func TestValidate_AllVariablesPresent(t *testing.T) {
	path := writeArtifact(t, "not really netcdf")
	nc := &fakeNC{vars: map[string]any{"precipitationCal": []float32{0.5, 1.2}}}

	require.NoError(t, fakeValidator(nc).Validate(path, gpmSpec()))
	assert.True(t, nc.closed)
}

func TestValidate_TemperatureOutOfRange(t *testing.T) {
	path := writeArtifact(t, "not really netcdf")
	nc := &fakeNC{vars: map[string]any{
		"2m_temperature": []float64{280, 500},
	}}
	ds := domain.DatasetSpec{ID: "era5", Format: "netcdf", Variables: []string{"2m_temperature"}}

	err := fakeValidator(nc).Validate(path, ds)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500.00 outside")
}

func TestValidate_TemperatureWithinRange(t *testing.T) {
	path := writeArtifact(t, "not really netcdf")
	nc := &fakeNC{vars: map[string]any{
		"2m_temperature": [][]float32{{250, 273.15}, {299.9, 300}},
	}}
	ds := domain.DatasetSpec{ID: "era5", Format: "netcdf", Variables: []string{"2m_temperature"}}

	require.NoError(t, fakeValidator(nc).Validate(path, ds))
}

func TestValidate_NonNetCDFOnlyChecksPresence(t *testing.T) {
	path := writeArtifact(t, "GOES radiance payload")
	v := NewValidator(slog.Default())
	ds := domain.DatasetSpec{ID: "goes16", Format: "netcdf4", Variables: []string{"Rad"}}

	require.NoError(t, v.Validate(path, ds))
}

func TestChecksum_MatchesFullFileDigest(t *testing.T) {
	// Larger than one block so the streaming path is exercised.
	content := make([]byte, 3*checksumBlockSize+123)
	for i := range content {
		content[i] = byte(i)
	}
	path := filepath.Join(t.TempDir(), "artifact.nc")
	require.NoError(t, os.WriteFile(path, content, 0o644))

	got, err := Checksum(path)
	require.NoError(t, err)

	want := sha256.Sum256(content)
	assert.Equal(t, hex.EncodeToString(want[:]), got)
}

func TestChecksum_MissingFile(t *testing.T) {
	_, err := Checksum(filepath.Join(t.TempDir(), "absent.nc"))
	require.Error(t, err)
}
