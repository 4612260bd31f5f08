package cds

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRequest() Request {
	return Request{
		ProductType: "reanalysis",
		Variable:    []string{"2m_temperature"},
		Year:        "2023",
		Month:       []string{"06"},
		Day:         []string{"01"},
		Time:        []string{"00:00"},
		Format:      "netcdf",
		Area:        [4]float64{37, 68, 6, 97},
	}
}

func testClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	c, err := NewClient(baseURL, "12345:abcdef", 5*time.Second, slog.Default())
	require.NoError(t, err)
	c.pollInterval = time.Millisecond
	return c
}

func TestNewClient_RejectsMalformedKey(t *testing.T) {
	for _, key := range []string{"", "nouid", ":apikey", "12345:"} {
		_, err := NewClient("https://cds.example", key, time.Second, slog.Default())
		assert.Error(t, err, "key %q", key)
	}
}

func TestRetrieve_SubmitPollDownload(t *testing.T) {
	var polls atomic.Int32
	mux := http.NewServeMux()
	var srv *httptest.Server

	mux.HandleFunc("POST /resources/reanalysis-era5-single-levels", func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "12345", user)
		assert.Equal(t, "abcdef", pass)

		var req Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "reanalysis", req.ProductType)
		assert.Equal(t, []string{"06"}, req.Month)
		assert.Equal(t, [4]float64{37, 68, 6, 97}, req.Area)

		json.NewEncoder(w).Encode(map[string]string{"state": "queued", "request_id": "req-1"})
	})
	mux.HandleFunc("GET /tasks/req-1", func(w http.ResponseWriter, r *http.Request) {
		if polls.Add(1) < 2 {
			json.NewEncoder(w).Encode(map[string]string{"state": "running", "request_id": "req-1"})
			return
		}
		json.NewEncoder(w).Encode(map[string]string{
			"state":      "completed",
			"request_id": "req-1",
			"location":   srv.URL + "/download/req-1.nc",
		})
	})
	mux.HandleFunc("GET /download/req-1.nc", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("netcdf payload"))
	})
	srv = httptest.NewServer(mux)
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "era5_202306.nc")
	c := testClient(t, srv.URL)

	err := c.Retrieve(context.Background(), "reanalysis-era5-single-levels", testRequest(), dest)
	require.NoError(t, err)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, []byte("netcdf payload"), got)
	assert.GreaterOrEqual(t, polls.Load(), int32(2))
}

func TestRetrieve_FailedTask(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /resources/reanalysis-era5-single-levels", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"state": "queued", "request_id": "req-2"})
	})
	mux.HandleFunc("GET /tasks/req-2", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"state":      "failed",
			"request_id": "req-2",
			"error":      map[string]string{"message": "quota exceeded", "reason": "too many requests"},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "era5_202306.nc")
	err := testClient(t, srv.URL).Retrieve(context.Background(), "reanalysis-era5-single-levels", testRequest(), dest)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")

	_, statErr := os.Stat(dest)
	assert.True(t, os.IsNotExist(statErr))
}

func TestRetrieve_APIErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "era5_202306.nc")
	err := testClient(t, srv.URL).Retrieve(context.Background(), "reanalysis-era5-single-levels", testRequest(), dest)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
}

func TestRetrieve_ContextCancelledDuringPoll(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /resources/reanalysis-era5-single-levels", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"state": "queued", "request_id": "req-3"})
	})
	mux.HandleFunc("GET /tasks/req-3", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"state": "running", "request_id": "req-3"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	dest := filepath.Join(t.TempDir(), "era5_202306.nc")
	err := testClient(t, srv.URL).Retrieve(ctx, "reanalysis-era5-single-levels", testRequest(), dest)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
