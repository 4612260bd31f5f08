package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/meghanetra/acquisition-service/internal/adapter/cds"
	"github.com/meghanetra/acquisition-service/internal/domain"
	"github.com/meghanetra/acquisition-service/internal/fetch"
)

// Strategy fetches the artifact for one work item into the data directory.
// Implementations do not retry; the pipeline wraps every fetch in the uniform
// retry policy.
type Strategy interface {
	Fetch(ctx context.Context, item domain.WorkItem) error
}

// Registry maps dataset ids to their fetch strategies.
type Registry struct {
	strategies map[string]Strategy
}

func NewRegistry() *Registry {
	return &Registry{strategies: make(map[string]Strategy)}
}

func (r *Registry) Register(id string, s Strategy) {
	r.strategies[id] = s
}

func (r *Registry) Get(id string) (Strategy, bool) {
	s, ok := r.strategies[id]
	return s, ok
}

// Retriever is the CDS task protocol the reanalysis strategy depends on.
type Retriever interface {
	Retrieve(ctx context.Context, product string, req cds.Request, dest string) error
}

// FileDownloader fetches one file by URL.
type FileDownloader interface {
	Download(ctx context.Context, url, dest string, opts fetch.Options) error
}

// ObjectStore lists and fetches keys from an object-storage bucket.
type ObjectStore interface {
	ListKeys(ctx context.Context, prefix string) ([]string, error)
	DownloadTo(ctx context.Context, key, dest string) error
}

// era5Strategy retrieves reanalysis products through the CDS task API.
type era5Strategy struct {
	client    Retriever
	variables []string
	area      domain.BoundingBox
	dataDir   string
}

func NewERA5Strategy(client Retriever, variables []string, area domain.BoundingBox, dataDir string) Strategy {
	return &era5Strategy{client: client, variables: variables, area: area, dataDir: dataDir}
}

func (s *era5Strategy) Fetch(ctx context.Context, item domain.WorkItem) error {
	req := cds.Request{
		ProductType: "reanalysis",
		Variable:    s.variables,
		Year:        fmt.Sprintf("%d", item.Year),
		Month:       []string{fmt.Sprintf("%02d", int(item.Month))},
		Day:         []string{"01"},
		Time:        []string{"00:00"},
		Format:      "netcdf",
		Area:        [4]float64(s.area),
	}
	dest := item.ArtifactPath(s.dataDir)
	if err := s.client.Retrieve(ctx, item.Dataset.URL, req, dest); err != nil {
		return err
	}
	return domain.StampProvenance(dest, "ERA5 via CDS API")
}

// listingStrategy scrapes an HTTP directory index for the month and downloads
// the first file matching the dataset's extension. Covers the Earthdata
// archives (MODIS, GPM).
type listingStrategy struct {
	client     *http.Client
	downloader FileDownloader
	auth       *fetch.BasicAuth
	chunkSize  int64
	threads    int
	dataDir    string
	source     string
	logger     *slog.Logger
}

func NewListingStrategy(client *http.Client, downloader FileDownloader, auth *fetch.BasicAuth,
	chunkSize int64, threads int, dataDir, source string, logger *slog.Logger) Strategy {
	return &listingStrategy{
		client:     client,
		downloader: downloader,
		auth:       auth,
		chunkSize:  chunkSize,
		threads:    threads,
		dataDir:    dataDir,
		source:     source,
		logger:     logger,
	}
}

func (s *listingStrategy) Fetch(ctx context.Context, item domain.WorkItem) error {
	listURL := item.ExpandURL()
	ext := "." + item.Dataset.Extension()

	links, err := fetch.ScrapeListing(ctx, s.client, listURL, ext, s.auth)
	if err != nil {
		return err
	}

	fileURL := listURL + links[0]
	dest := item.ArtifactPath(s.dataDir)
	err = s.downloader.Download(ctx, fileURL, dest, fetch.Options{
		Auth:      s.auth,
		ChunkSize: s.chunkSize,
		Threads:   s.threads,
	})
	if err != nil {
		return err
	}
	return domain.StampProvenance(dest, s.source)
}

// goesStrategy lists the public NOAA bucket for the month's first day and
// downloads the first object on the configured channel.
type goesStrategy struct {
	store   ObjectStore
	channel string
	dataDir string
	logger  *slog.Logger
}

func NewGoesStrategy(store ObjectStore, channel, dataDir string, logger *slog.Logger) Strategy {
	return &goesStrategy{store: store, channel: channel, dataDir: dataDir, logger: logger}
}

func (s *goesStrategy) Fetch(ctx context.Context, item domain.WorkItem) error {
	_, prefix, err := SplitS3URL(item.ExpandURL())
	if err != nil {
		return err
	}

	keys, err := s.store.ListKeys(ctx, prefix)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return fmt.Errorf("no objects under %s", prefix)
	}

	var key string
	for _, k := range keys {
		if strings.Contains(k, s.channel) {
			key = k
			break
		}
	}
	if key == "" {
		return fmt.Errorf("no %s objects under %s", s.channel, prefix)
	}

	dest := item.ArtifactPath(s.dataDir)
	if err := s.store.DownloadTo(ctx, key, dest); err != nil {
		return err
	}
	return domain.StampProvenance(dest, "GOES-16 via NOAA S3")
}

// SplitS3URL splits s3://bucket/prefix into its bucket and prefix parts.
func SplitS3URL(url string) (bucket, prefix string, err error) {
	rest, ok := strings.CutPrefix(url, "s3://")
	if !ok {
		return "", "", fmt.Errorf("not an s3 url: %s", url)
	}
	bucket, prefix, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" {
		return "", "", fmt.Errorf("malformed s3 url: %s", url)
	}
	return bucket, prefix, nil
}
