// Package download implements the model-blob download protocol from
// spec.md §6: HTTP GET with retry-with-exponential-backoff, streaming to a
// ".tmp" sidecar, optional SHA-256 verification against the descriptor, and
// an atomic rename to the final path. Cancellation removes the ".tmp" file.
//
// Checksum verification is grounded on internal/config/watcher.go's
// crypto/sha256 content-hashing idiom from the teacher. The retry loop is
// hand-written (not a generic backoff library) to match the spec's exact
// 3-attempt/1s-doubling contract.
package download

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/edge-veda/runtime/pkg/runtime"
)

const (
	maxAttempts  = 3
	initialDelay = time.Second
)

// Progress reports download progress. Reported values are monotonic: total
// and downloaded never decrease across successive events for one download.
type Progress struct {
	TotalBytes      int64
	DownloadedBytes int64
	BytesPerSecond  float64
	ETA             time.Duration
}

// Options configures a single Fetch call.
type Options struct {
	// URL is the source to GET. Required.
	URL string
	// DestPath is the final path the blob is renamed to on success.
	DestPath string
	// SHA256 is the expected checksum, hex-encoded. Empty skips verification.
	SHA256 string
	// OnProgress, if non-nil, is invoked after each chunk is written.
	OnProgress func(Progress)
}

// Fetch downloads a model blob per Options. If SHA256 is set and DestPath
// already exists with a matching checksum, Fetch returns immediately
// without touching the network — this is the idempotent-cache behaviour
// required by spec.md §8's "idempotent download cache" scenario. Without
// SHA256 the blob is always fetched, even if DestPath exists.
func Fetch(ctx context.Context, client *http.Client, opts Options) error {
	if opts.SHA256 != "" {
		if ok, _ := verifyChecksum(opts.DestPath, opts.SHA256); ok {
			slog.Info("download: cache hit, skipping network fetch", "dest", opts.DestPath)
			return nil
		}
	}

	if inner := opts.OnProgress; inner != nil {
		var reported int64
		opts.OnProgress = func(p Progress) {
			// A retried attempt counts from zero again; its events are
			// held back until it passes what was already reported.
			if p.DownloadedBytes < reported {
				return
			}
			reported = p.DownloadedBytes
			inner(p)
		}
	}

	tmpPath := opts.DestPath + ".tmp"
	var lastErr error
	delay := initialDelay

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := attemptFetch(ctx, client, opts, tmpPath)
		if err == nil {
			lastErr = nil
			break
		}
		lastErr = err
		if ctx.Err() != nil || !isRetryable(err) {
			break
		}
		if attempt < maxAttempts {
			slog.Warn("download: attempt failed, retrying", "attempt", attempt, "err", err, "delay", delay)
			select {
			case <-ctx.Done():
				lastErr = ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
	}

	if lastErr != nil {
		os.Remove(tmpPath)
		if ctx.Err() != nil {
			return &runtime.DownloadError{Reason: "cancelled", Err: ctx.Err()}
		}
		var fe *fileError
		if errors.As(lastErr, &fe) {
			return &runtime.DownloadError{Reason: "insufficient disk space", Err: fe.err}
		}
		return &runtime.DownloadError{Reason: "network error after retries", Err: lastErr}
	}

	if opts.SHA256 != "" {
		ok, err := verifyChecksum(tmpPath, opts.SHA256)
		if err != nil {
			os.Remove(tmpPath)
			return &runtime.DownloadError{Reason: "verify failed", Err: err}
		}
		if !ok {
			os.Remove(tmpPath)
			return &runtime.DownloadError{Reason: "verify failed", Err: errors.New("checksum mismatch")}
		}
	}

	if err := os.Rename(tmpPath, opts.DestPath); err != nil {
		return &runtime.DownloadError{Reason: "rename failed", Err: err}
	}
	return nil
}

func attemptFetch(ctx context.Context, client *http.Client, opts Options, tmpPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, opts.URL, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	f, err := os.Create(tmpPath)
	if err != nil {
		return &fileError{err}
	}
	defer f.Close()

	total := resp.ContentLength
	var downloaded int64
	start := time.Now()
	buf := make([]byte, 64*1024)

	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				return &fileError{werr}
			}
			downloaded += int64(n)
			if opts.OnProgress != nil {
				elapsed := time.Since(start).Seconds()
				var bps float64
				if elapsed > 0 {
					bps = float64(downloaded) / elapsed
				}
				var eta time.Duration
				if bps > 0 && total > 0 {
					remaining := total - downloaded
					eta = time.Duration(float64(remaining)/bps) * time.Second
				}
				opts.OnProgress(Progress{
					TotalBytes:      total,
					DownloadedBytes: downloaded,
					BytesPerSecond:  bps,
					ETA:             eta,
				})
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return rerr
		}
	}
	return nil
}

// fileError marks an attemptFetch failure as originating from a local
// filesystem operation (os.Create, f.Write) rather than the network —
// spec.md §7 taxonomizes "insufficient disk space" as its own download-error
// kind and excludes it from the retry policy, which only covers network-kind
// errors.
type fileError struct{ err error }

func (e *fileError) Error() string { return e.err.Error() }
func (e *fileError) Unwrap() error { return e.err }

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	var fe *fileError
	return !errors.As(err, &fe)
}

func verifyChecksum(path, expectedHex string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return false, err
	}
	actual := hex.EncodeToString(h.Sum(nil))
	return actual == expectedHex, nil
}
