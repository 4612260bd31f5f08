package domain

import (
	"regexp"
	"sort"
	"strings"
	"time"
)

// Selection is the constrained work-item selector parsed from a free-text
// query. It restricts a run to a single (dataset, month) pair and pins the
// request area to a named region.
type Selection struct {
	Dataset string
	Year    int
	Month   time.Month
	Region  string
	Area    BoundingBox
}

// Regions maps region keywords to fixed bounding boxes ([N, W, S, E]).
var Regions = map[string]BoundingBox{
	"india":         {37, 68, 6, 97},
	"north america": {60, -130, 20, -60},
}

// seasons maps season keywords to their months. The first month of the
// matched season is used as the representative month.
var seasons = []struct {
	name   string
	months []time.Month
}{
	{"summer", []time.Month{time.June, time.July, time.August}},
	{"winter", []time.Month{time.December, time.January, time.February}},
}

const (
	defaultDataset = "gpm"
	defaultRegion  = "north america"
)

var yearPattern = regexp.MustCompile(`\b(20\d{2})\b`)

// ParseQuery parses a natural-language query into a Selection using
// best-effort keyword matching. Unmatched fields fall back to defaults:
// dataset gpm, the current year, January, region north america. datasetIDs
// is the set of configured dataset identifiers to match against.
func ParseQuery(query string, datasetIDs []string) Selection {
	q := strings.ToLower(query)

	sel := Selection{
		Dataset: defaultDataset,
		Year:    Now().Year(),
		Month:   time.January,
		Region:  defaultRegion,
	}

	ids := append([]string(nil), datasetIDs...)
	sort.Strings(ids)
	for _, id := range ids {
		if strings.Contains(q, id) {
			sel.Dataset = id
			break
		}
	}

	if m := yearPattern.FindStringSubmatch(q); m != nil {
		var year int
		for _, c := range m[1] {
			year = year*10 + int(c-'0')
		}
		sel.Year = year
	}

	for _, s := range seasons {
		if strings.Contains(q, s.name) {
			sel.Month = s.months[0]
			break
		}
	}

	for name := range Regions {
		if strings.Contains(q, name) {
			sel.Region = name
			break
		}
	}
	sel.Area = Regions[sel.Region]

	return sel
}
