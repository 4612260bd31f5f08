package domain

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// BoundingBox is a geographic region in [North, West, South, East] degree
// order, matching the CDS API area convention.
type BoundingBox [4]float64

// DatasetSpec is the static descriptor for one dataset kind. Instances are
// immutable after configuration load; one per configured dataset id.
type DatasetSpec struct {
	// ID is the dataset identifier (era5, modis_snow, goes16, gpm).
	ID string
	// URL is the source template. For API-driven sources it names the remote
	// dataset; for HTTP directory sources it is a listing-page template with
	// {year}, {month:02d}, and {day_of_year} placeholders; for object-storage
	// sources it is an s3:// prefix template.
	URL string
	// Client selects the fetch strategy family: "cdsapi", "http", or "s3".
	Client string
	// Format is the artifact file extension (netcdf → nc, hdf, hdf5).
	Format string
	// Variables are the names expected to be present in a valid artifact.
	Variables []string
}

// Extension maps the serialization format to the on-disk file extension.
func (d DatasetSpec) Extension() string {
	if d.Format == "netcdf" {
		return "nc"
	}
	return d.Format
}

// WorkItem is one (dataset, calendar month) acquisition unit. It uniquely
// identifies one output artifact.
type WorkItem struct {
	Dataset DatasetSpec
	Year    int
	Month   time.Month
}

// Date returns the first day of the work item's month in UTC.
func (w WorkItem) Date() time.Time {
	return time.Date(w.Year, w.Month, 1, 0, 0, 0, 0, time.UTC)
}

// ArtifactName returns the deterministic artifact file name,
// {dataset}_{year}{month:02d}.{ext}.
func (w WorkItem) ArtifactName() string {
	return fmt.Sprintf("%s_%d%02d.%s", w.Dataset.ID, w.Year, int(w.Month), w.Dataset.Extension())
}

// ArtifactPath returns the artifact's final path under dataDir.
func (w WorkItem) ArtifactPath(dataDir string) string {
	return filepath.Join(dataDir, w.ArtifactName())
}

// String renders the item as "dataset 2023-06" for notifications and logs.
func (w WorkItem) String() string {
	return fmt.Sprintf("%s %d-%02d", w.Dataset.ID, w.Year, int(w.Month))
}

// ExpandURL fills the dataset URL template for the work item's month.
// Supported placeholders: {year}, {month:02d}, {day_of_year}.
func (w WorkItem) ExpandURL() string {
	r := strings.NewReplacer(
		"{year}", fmt.Sprintf("%d", w.Year),
		"{month:02d}", fmt.Sprintf("%02d", int(w.Month)),
		"{day_of_year}", fmt.Sprintf("%03d", w.Date().YearDay()),
	)
	return r.Replace(w.Dataset.URL)
}
