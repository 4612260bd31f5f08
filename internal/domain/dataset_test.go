package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWorkItem_ArtifactName(t *testing.T) {
	tests := []struct {
		name string
		item WorkItem
		want string
	}{
		{
			name: "netcdf maps to nc extension",
			item: WorkItem{Dataset: DatasetSpec{ID: "era5", Format: "netcdf"}, Year: 2023, Month: time.June},
			want: "era5_202306.nc",
		},
		{
			name: "hdf kept as-is",
			item: WorkItem{Dataset: DatasetSpec{ID: "modis_snow", Format: "hdf"}, Year: 2021, Month: time.January},
			want: "modis_snow_202101.hdf",
		},
		{
			name: "hdf5 kept as-is",
			item: WorkItem{Dataset: DatasetSpec{ID: "gpm", Format: "hdf5"}, Year: 2024, Month: time.December},
			want: "gpm_202412.hdf5",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.item.ArtifactName())
		})
	}
}

func TestWorkItem_ExpandURL(t *testing.T) {
	item := WorkItem{
		Dataset: DatasetSpec{
			ID:  "modis_snow",
			URL: "https://e4ftl01.cr.usgs.gov/MOLT/MOD10A1.061/{year}.{month:02d}.01/",
		},
		Year:  2023,
		Month: time.June,
	}
	assert.Equal(t, "https://e4ftl01.cr.usgs.gov/MOLT/MOD10A1.061/2023.06.01/", item.ExpandURL())
}

func TestWorkItem_ExpandURL_DayOfYear(t *testing.T) {
	item := WorkItem{
		Dataset: DatasetSpec{
			ID:  "goes16",
			URL: "ABI-L1b-RadF/{year}/{day_of_year}/00/",
		},
		Year:  2023,
		Month: time.June,
	}
	// June 1st 2023 is day 152.
	assert.Equal(t, "ABI-L1b-RadF/2023/152/00/", item.ExpandURL())
}

func TestWorkItem_String(t *testing.T) {
	item := WorkItem{Dataset: DatasetSpec{ID: "gpm"}, Year: 2023, Month: time.June}
	assert.Equal(t, "gpm 2023-06", item.String())
}
