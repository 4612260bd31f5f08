// Package fetch implements the ranged multi-threaded HTTP downloader and the
// directory-listing scraper used by the HTTP fetch strategies.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/meghanetra/acquisition-service/internal/retry"
)

// ErrSizeUnknown signals a probe response without a usable content length.
// Chunked range fetch requires a known total size, so this fails fast.
var ErrSizeUnknown = errors.New("content length unknown or zero")

// BasicAuth carries credentials for authenticated directory services.
type BasicAuth struct {
	Username string
	Password string
}

// Options tune one download call.
type Options struct {
	Auth      *BasicAuth
	ChunkSize int64
	Threads   int
}

// Downloader performs ranged, multi-threaded fetches of single files with
// retry-on-failure. The whole operation (probe plus all chunk fetches) is one
// retry unit under the configured policy.
type Downloader struct {
	client *http.Client
	retry  retry.Policy
	logger *slog.Logger
}

// NewDownloader creates a Downloader. client should come from NewClient so
// transient status codes are retried at the transport layer as well.
func NewDownloader(client *http.Client, policy retry.Policy, logger *slog.Logger) *Downloader {
	return &Downloader{client: client, retry: policy, logger: logger}
}

// byteRange is one contiguous chunk of the file, inclusive on both ends.
type byteRange struct {
	start int64
	end   int64
}

// planChunks splits [0, size) into contiguous ranges of at least chunkSize
// bytes, growing the chunk so the file is covered by roughly `threads` ranges.
func planChunks(size, chunkSize int64, threads int) []byteRange {
	if threads < 1 {
		threads = 1
	}
	if per := size / int64(threads); per > chunkSize {
		chunkSize = per
	}
	var ranges []byteRange
	for start := int64(0); start < size; start += chunkSize {
		end := start + chunkSize - 1
		if end > size-1 {
			end = size - 1
		}
		ranges = append(ranges, byteRange{start: start, end: end})
	}
	return ranges
}

// Download fetches url into dest. The destination only ever appears as a
// complete file: the temporary file is preallocated to the full size, each
// chunk is streamed to its own offset, and the file is renamed into place at
// the end. Returns ErrSizeUnknown (without retrying) when the server does not
// report a length.
func (d *Downloader) Download(ctx context.Context, url, dest string, opts Options) error {
	op := func() error {
		err := d.download(ctx, url, dest, opts)
		if errors.Is(err, ErrSizeUnknown) {
			return retry.Permanent(err)
		}
		return err
	}
	if err := d.retry.Do(ctx, op); err != nil {
		d.logger.Error("download failed", "url", url, "error", err)
		return err
	}
	d.logger.Info("downloaded", "url", url, "dest", dest)
	return nil
}

func (d *Downloader) download(ctx context.Context, url, dest string, opts Options) error {
	size, err := d.probe(ctx, url, opts.Auth)
	if err != nil {
		return err
	}

	ranges := planChunks(size, opts.ChunkSize, opts.Threads)

	tmp := dest + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if err := f.Truncate(size); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("preallocate temp file: %w", err)
	}

	threads := opts.Threads
	if threads < 1 {
		threads = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(threads)
	for _, r := range ranges {
		g.Go(func() error {
			return d.fetchChunk(gctx, url, f, r, opts.Auth)
		})
	}
	if err := g.Wait(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}

	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close temp file: %w", err)
	}
	return os.Rename(tmp, dest)
}

// probe issues a HEAD request to learn the total size.
func (d *Downloader) probe(ctx context.Context, url string, auth *BasicAuth) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return 0, fmt.Errorf("create probe request: %w", err)
	}
	setAuth(req, auth)

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("probe %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return 0, fmt.Errorf("probe %s: status %d", url, resp.StatusCode)
	}
	if resp.ContentLength <= 0 {
		d.logger.Warn("no content-length reported", "url", url)
		return 0, ErrSizeUnknown
	}
	return resp.ContentLength, nil
}

// fetchChunk streams one range into the file at its own offset. os.File
// WriteAt is safe for concurrent use, so chunks never contend on a shared
// file position.
func (d *Downloader) fetchChunk(ctx context.Context, url string, f *os.File, r byteRange, auth *BasicAuth) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create chunk request: %w", err)
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", r.start, r.end))
	setAuth(req, auth)

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch chunk %d-%d: %w", r.start, r.end, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusPartialContent && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch chunk %d-%d: status %d", r.start, r.end, resp.StatusCode)
	}

	n, err := io.Copy(io.NewOffsetWriter(f, r.start), resp.Body)
	if err != nil {
		return fmt.Errorf("write chunk %d-%d: %w", r.start, r.end, err)
	}
	if want := r.end - r.start + 1; n != want {
		return fmt.Errorf("chunk %d-%d: wrote %d of %d bytes", r.start, r.end, n, want)
	}
	return nil
}

func setAuth(req *http.Request, auth *BasicAuth) {
	if auth != nil {
		req.SetBasicAuth(auth.Username, auth.Password)
	}
}
