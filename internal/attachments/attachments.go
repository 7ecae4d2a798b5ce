// Package attachments implements orchestrator.AttachmentDownloader —
// fetching comment attachment URLs into a session's attachments
// directory, named out of scope by spec.md §1 ("only their interfaces
// matter"). Grounded on the teacher's
// internal/channels/zalo/personal/channel.go downloadFile: an
// http.Get plus a size-capped io.Copy into a local file, generalized
// from one hardcoded temp-file image download to many URLs written
// into a caller-supplied destination directory.
package attachments

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// maxBytes bounds a single attachment download, mirroring the
// teacher's maxImageBytes guard against an unbounded response body.
const maxBytes = 20 * 1024 * 1024

// Downloader is the default AttachmentDownloader.
type Downloader struct {
	Client *http.Client
}

// New builds a Downloader using http.DefaultClient.
func New() *Downloader {
	return &Downloader{Client: http.DefaultClient}
}

// Download fetches every url into destDir, logging (not failing) on a
// per-url error — one bad attachment link must never block the rest
// of a session's startup.
func (d *Downloader) Download(ctx context.Context, urls []string, destDir string) error {
	if len(urls) == 0 {
		return nil
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("attachments: mkdir %s: %w", destDir, err)
	}
	for i, url := range urls {
		if err := d.downloadOne(ctx, url, destDir, i); err != nil {
			slog.Warn("attachments.download_failed", "url", url, "error", err)
		}
	}
	return nil
}

func (d *Downloader) downloadOne(ctx context.Context, url, destDir string, index int) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := d.Client.Do(req)
	if err != nil {
		return fmt.Errorf("get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}

	name := filepath.Join(destDir, attachmentName(url, index))
	f, err := os.Create(name)
	if err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}
	defer f.Close()

	written, err := io.Copy(f, io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		os.Remove(name)
		return fmt.Errorf("save: %w", err)
	}
	if written > maxBytes {
		os.Remove(name)
		return fmt.Errorf("attachment exceeds %d bytes", maxBytes)
	}
	return nil
}

// attachmentName derives a stable local filename from url's path,
// stripping any query string, falling back to an index-numbered name
// when the URL carries no usable file name.
func attachmentName(url string, index int) string {
	p := url
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	base := filepath.Base(p)
	if base == "" || base == "." || base == "/" {
		return "attachment-" + strconv.Itoa(index)
	}
	return base
}
