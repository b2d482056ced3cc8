package docs

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garescout/tender-cli/internal/config"
	"github.com/garescout/tender-cli/internal/model"
)

func testFetcher(t *testing.T) *Fetcher {
	t.Helper()
	return NewFetcher(config.DocumentsConfig{
		DownloadDir:       t.TempDir(),
		MaxFileSizeMB:     1,
		AllowedExtensions: []string{"pdf", "xlsx"},
		DownloadTimeout:   5,
	})
}

func TestFetchRejectsBadExtensionBeforeNetwork(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	f := testFetcher(t)
	res := f.Fetch(context.Background(), "cig:A000000001", model.Attachment{
		FileName:  "malware.exe",
		SourceURL: srv.URL + "/malware.exe",
	})

	assert.Equal(t, model.DownloadSkippedBadExtension, res.Status)
	assert.False(t, called, "extension gate must run before any network call")
}

func TestFetchDownloads(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("%PDF-1.4 fake content"))
	}))
	defer srv.Close()

	f := testFetcher(t)
	res := f.Fetch(context.Background(), "cig:A000000001", model.Attachment{
		FileName:  "bando.pdf",
		SourceURL: srv.URL + "/bando.pdf",
	})

	require.Equal(t, model.DownloadDownloaded, res.Status)
	assert.NotEmpty(t, res.LocalPath)
	assert.Equal(t, int64(len("%PDF-1.4 fake content")), res.SizeBytes)

	data, err := os.ReadFile(res.LocalPath)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4 fake content", string(data))
}

func TestFetchSkipsTooLargeAndRemovesPartial(t *testing.T) {
	big := strings.Repeat("x", 2*1024*1024)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Omit Content-Length so the streaming cap has to catch it.
		w.Header().Set("Transfer-Encoding", "chunked")
		_, _ = w.Write([]byte(big))
	}))
	defer srv.Close()

	f := testFetcher(t)
	res := f.Fetch(context.Background(), "cig:A000000001", model.Attachment{
		FileName:  "huge.pdf",
		SourceURL: srv.URL + "/huge.pdf",
	})

	assert.Equal(t, model.DownloadSkippedTooLarge, res.Status)

	dest := filepath.Join(f.cfg.DownloadDir, "cig_A000000001", "huge.pdf")
	_, err := os.Stat(dest)
	assert.True(t, os.IsNotExist(err), "partial file must be removed")
}

func TestFetchSkipsTooLargeFromContentLength(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "999999999")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := testFetcher(t)
	res := f.Fetch(context.Background(), "cig:A000000001", model.Attachment{
		FileName:  "huge.pdf",
		SourceURL: srv.URL + "/huge.pdf",
	})
	assert.Equal(t, model.DownloadSkippedTooLarge, res.Status)
}

func TestFetchIdempotentOnExistingFile(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		_, _ = w.Write([]byte("content"))
	}))
	defer srv.Close()

	f := testFetcher(t)
	a := model.Attachment{FileName: "bando.pdf", SourceURL: srv.URL + "/bando.pdf"}

	first := f.Fetch(context.Background(), "cig:A000000001", a)
	require.Equal(t, model.DownloadDownloaded, first.Status)

	second := f.Fetch(context.Background(), "cig:A000000001", a)
	assert.Equal(t, model.DownloadDownloaded, second.Status)
	assert.Equal(t, first.LocalPath, second.LocalPath)
	assert.Equal(t, 1, calls, "existing non-empty file must not be re-fetched")
}

func TestFetchRecordsHTTPFailureAsData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	f := testFetcher(t)
	res := f.Fetch(context.Background(), "cig:A000000001", model.Attachment{
		FileName:  "missing.pdf",
		SourceURL: srv.URL + "/missing.pdf",
	})

	assert.Equal(t, model.DownloadFailed, res.Status)
	assert.Contains(t, res.Error, "404")
}

func TestSanitizeFileName(t *testing.T) {
	assert.Equal(t, "a_b_c.pdf", SanitizeFileName(`a/b\c.pdf`))
	assert.Equal(t, "name.pdf", SanitizeFileName("  name.pdf. "))

	long := strings.Repeat("a", 300) + ".pdf"
	sanitized := SanitizeFileName(long)
	assert.LessOrEqual(t, len(sanitized), 200)
	assert.True(t, strings.HasSuffix(sanitized, ".pdf"))
}
