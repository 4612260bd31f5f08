// Package validate checks downloaded artifacts for structural integrity and
// physical plausibility, and computes the content checksums used for
// cache addressing.
package validate

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"reflect"
	"strings"

	"github.com/batchatco/go-native-netcdf/netcdf"
	"github.com/batchatco/go-native-netcdf/netcdf/api"

	"github.com/meghanetra/acquisition-service/internal/domain"
)

// Plausible bounds for air temperature in Kelvin. Values outside this window
// indicate a corrupt or mislabeled granule, not weather.
const (
	minTemperatureK = 200.0
	maxTemperatureK = 350.0
)

const checksumBlockSize = 4096

// ncFile is the slice of the NetCDF reader the validator needs. Tests swap in
// fakes; production goes through go-native-netcdf.
type ncFile interface {
	ListVariables() []string
	GetVariable(name string) (*api.Variable, error)
	Close()
}

type openFunc func(path string) (ncFile, error)

func openNetCDF(path string) (ncFile, error) {
	return netcdf.Open(path)
}

// Validator inspects artifacts on disk against their dataset's declared
// variables.
type Validator struct {
	open   openFunc
	logger *slog.Logger
}

func NewValidator(logger *slog.Logger) *Validator {
	return &Validator{open: openNetCDF, logger: logger}
}

// newValidatorWithOpen is the test seam.
func newValidatorWithOpen(open openFunc, logger *slog.Logger) *Validator {
	return &Validator{open: open, logger: logger}
}

// Validate returns nil when the artifact at path is structurally sound and
// physically plausible for its dataset. Non-NetCDF formats only get the
// existence and non-empty checks.
func (v *Validator) Validate(path string, ds domain.DatasetSpec) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("artifact missing: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("artifact %s is empty", path)
	}

	if ds.Format != "netcdf" {
		return nil
	}

	nc, err := v.open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer nc.Close()

	present := make(map[string]bool)
	for _, name := range nc.ListVariables() {
		present[name] = true
	}

	for _, want := range ds.Variables {
		if !present[want] {
			return fmt.Errorf("artifact %s: missing variable %q", path, want)
		}
	}

	for name := range present {
		if !strings.Contains(strings.ToLower(name), "temperature") {
			continue
		}
		variable, err := nc.GetVariable(name)
		if err != nil {
			return fmt.Errorf("artifact %s: read variable %q: %w", path, name, err)
		}
		if err := checkTemperatureRange(name, variable.Values); err != nil {
			return fmt.Errorf("artifact %s: %w", path, err)
		}
	}

	v.logger.Debug("artifact validated", "path", path, "dataset", ds.ID)
	return nil
}

// checkTemperatureRange walks values of any rank and rejects readings outside
// the plausible Kelvin window.
func checkTemperatureRange(name string, values any) error {
	return walkFloats(values, func(f float64) error {
		if f < minTemperatureK || f > maxTemperatureK {
			return fmt.Errorf("variable %q: value %.2f outside [%.0f, %.0f] K",
				name, f, minTemperatureK, maxTemperatureK)
		}
		return nil
	})
}

func walkFloats(values any, fn func(float64) error) error {
	rv := reflect.ValueOf(values)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		for i := 0; i < rv.Len(); i++ {
			if err := walkFloats(rv.Index(i).Interface(), fn); err != nil {
				return err
			}
		}
		return nil
	case reflect.Float32, reflect.Float64:
		return fn(rv.Float())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return fn(float64(rv.Int()))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return fn(float64(rv.Uint()))
	default:
		return nil
	}
}

// Checksum streams the file through SHA-256 in fixed-size blocks and returns
// the hex digest. The digest addresses entries in the download cache.
func Checksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	buf := make([]byte, checksumBlockSize)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("read %s: %w", path, err)
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
