package docs

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/garescout/tender-cli/internal/config"
	"github.com/garescout/tender-cli/internal/model"
	"github.com/garescout/tender-cli/internal/resilience"
)

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

// Result is the terminal outcome of one attachment fetch. Failures are
// recorded here, never returned as errors: one bad attachment must not
// abort sibling downloads.
type Result struct {
	Status    model.DownloadStatus
	LocalPath string
	SizeBytes int64
	Error     string
}

// Fetcher downloads attachments with extension and size guards. HTTP hosts
// are rate limited individually; ftp:// URLs go through an FTP client.
type Fetcher struct {
	cfg     config.DocumentsConfig
	client  *http.Client
	allowed map[string]bool

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewFetcher creates a Fetcher from config.
func NewFetcher(cfg config.DocumentsConfig) *Fetcher {
	timeout := time.Duration(cfg.DownloadTimeout) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	allowed := make(map[string]bool, len(cfg.AllowedExtensions))
	for _, ext := range cfg.AllowedExtensions {
		allowed[strings.ToLower(strings.TrimPrefix(ext, "."))] = true
	}

	return &Fetcher{
		cfg: cfg,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				MaxConnsPerHost:     20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		allowed:  allowed,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Fetch retrieves one attachment into the tender's download folder.
// The extension gate runs before any network call; an existing non-empty
// file at the destination counts as Downloaded without re-fetching.
func (f *Fetcher) Fetch(ctx context.Context, tenderKey string, a model.Attachment) Result {
	ext := fileExtension(a.FileName)
	if ext == "" || !f.allowed[ext] {
		return Result{
			Status: model.DownloadSkippedBadExtension,
			Error:  fmt.Sprintf("extension %q not allowed", ext),
		}
	}

	dir := filepath.Join(f.cfg.DownloadDir, SanitizeFileName(tenderKey))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Result{Status: model.DownloadFailed, Error: "create folder: " + err.Error()}
	}
	dest := filepath.Join(dir, SanitizeFileName(a.FileName))

	if info, err := os.Stat(dest); err == nil && info.Size() > 0 {
		zap.L().Debug("attachment already downloaded",
			zap.String("tender", tenderKey),
			zap.String("file", a.FileName),
		)
		return Result{Status: model.DownloadDownloaded, LocalPath: dest, SizeBytes: info.Size()}
	}

	u, err := url.Parse(strings.TrimSpace(a.SourceURL))
	if err != nil || u.Host == "" {
		return Result{Status: model.DownloadFailed, Error: "invalid source url"}
	}

	var res Result
	if u.Scheme == "ftp" {
		res = f.fetchFTP(ctx, u, dest)
	} else {
		res = f.fetchHTTP(ctx, a.SourceURL, dest)
	}

	if res.Status == model.DownloadDownloaded {
		zap.L().Debug("attachment downloaded",
			zap.String("tender", tenderKey),
			zap.String("file", a.FileName),
			zap.Int64("bytes", res.SizeBytes),
		)
	} else {
		zap.L().Warn("attachment not downloaded",
			zap.String("tender", tenderKey),
			zap.String("file", a.FileName),
			zap.String("status", string(res.Status)),
			zap.String("reason", res.Error),
		)
	}
	return res
}

func (f *Fetcher) fetchHTTP(ctx context.Context, rawURL, dest string) Result {
	if err := f.limiterFor(rawURL).Wait(ctx); err != nil {
		return Result{Status: model.DownloadFailed, Error: "rate limiter wait: " + err.Error()}
	}

	cfg := resilience.DefaultRetryConfig()
	cfg.OnRetry = resilience.RetryLogger("docs", "download")

	resp, err := resilience.DoVal(ctx, cfg, func(ctx context.Context) (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, resilience.NewPermanentError(err)
		}
		req.Header.Set("User-Agent", userAgent)

		resp, err := f.client.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			_ = resp.Body.Close()
			err := eris.Errorf("http %d from %s", resp.StatusCode, rawURL)
			if resilience.IsTransientHTTPStatus(resp.StatusCode) {
				return nil, resilience.NewTransientError(err, resp.StatusCode)
			}
			return nil, resilience.NewPermanentError(err)
		}
		return resp, nil
	})
	if err != nil {
		return Result{Status: model.DownloadFailed, Error: err.Error()}
	}
	defer resp.Body.Close()

	maxBytes := f.maxBytes()
	if resp.ContentLength > 0 && resp.ContentLength > maxBytes {
		return Result{
			Status: model.DownloadSkippedTooLarge,
			Error:  fmt.Sprintf("content-length %d exceeds cap %d", resp.ContentLength, maxBytes),
		}
	}

	return writeCapped(resp.Body, dest, maxBytes)
}

func (f *Fetcher) fetchFTP(ctx context.Context, u *url.URL, dest string) Result {
	host := u.Host
	if !strings.Contains(host, ":") {
		host += ":21"
	}

	conn, err := ftp.Dial(host, ftp.DialWithTimeout(f.client.Timeout), ftp.DialWithContext(ctx))
	if err != nil {
		return Result{Status: model.DownloadFailed, Error: "ftp dial: " + err.Error()}
	}
	defer conn.Quit()

	if err := conn.Login("anonymous", "anonymous@"); err != nil {
		return Result{Status: model.DownloadFailed, Error: "ftp login: " + err.Error()}
	}

	resp, err := conn.Retr(u.Path)
	if err != nil {
		return Result{Status: model.DownloadFailed, Error: "ftp retrieve: " + err.Error()}
	}
	defer resp.Close()

	return writeCapped(resp, dest, f.maxBytes())
}

// writeCapped streams src to dest, aborting the moment the cumulative size
// exceeds maxBytes. Partial files are removed on abort or error.
func writeCapped(src io.Reader, dest string, maxBytes int64) Result {
	file, err := os.Create(dest)
	if err != nil {
		return Result{Status: model.DownloadFailed, Error: "create file: " + err.Error()}
	}

	n, err := io.Copy(file, io.LimitReader(src, maxBytes+1))
	closeErr := file.Close()

	switch {
	case err != nil:
		_ = os.Remove(dest)
		return Result{Status: model.DownloadFailed, Error: "write file: " + err.Error()}
	case n > maxBytes:
		_ = os.Remove(dest)
		return Result{
			Status: model.DownloadSkippedTooLarge,
			Error:  fmt.Sprintf("size exceeded cap of %d bytes during download", maxBytes),
		}
	case closeErr != nil:
		_ = os.Remove(dest)
		return Result{Status: model.DownloadFailed, Error: "close file: " + closeErr.Error()}
	}

	return Result{Status: model.DownloadDownloaded, LocalPath: dest, SizeBytes: n}
}

func (f *Fetcher) maxBytes() int64 {
	if f.cfg.MaxFileSizeMB <= 0 {
		return 50 * 1024 * 1024
	}
	return f.cfg.MaxFileSizeMB * 1024 * 1024
}

func (f *Fetcher) limiterFor(rawURL string) *rate.Limiter {
	host := ""
	if u, err := url.Parse(rawURL); err == nil {
		host = u.Host
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	lim, ok := f.limiters[host]
	if !ok {
		lim = rate.NewLimiter(5, 5)
		f.limiters[host] = lim
	}
	return lim
}

// SanitizeFileName replaces characters unsafe in file paths and caps the
// length, keeping the extension.
func SanitizeFileName(name string) string {
	for _, c := range `<>:"/\|?*` {
		name = strings.ReplaceAll(name, string(c), "_")
	}
	name = strings.Trim(name, ". ")

	if len(name) > 200 {
		ext := filepath.Ext(name)
		name = name[:200-len(ext)] + ext
	}
	return name
}

func fileExtension(name string) string {
	ext := filepath.Ext(name)
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}
