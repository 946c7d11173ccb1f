package webhook

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	rcerrors "github.com/recapworks/recapd/pkg/errors"
)

// RecordingDownloader fetches recording artifacts from the platform's
// short-lived download URLs.
type RecordingDownloader struct {
	client *http.Client
}

// NewRecordingDownloader creates a downloader with a bounded request timeout.
func NewRecordingDownloader(timeout time.Duration) *RecordingDownloader {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &RecordingDownloader{
		client: &http.Client{Timeout: timeout},
	}
}

// Download fetches the artifact at url. The event-scoped download token, when
// present, authorizes the fetch as a bearer credential. The caller owns the
// returned body.
func (d *RecordingDownloader) Download(ctx context.Context, url, token string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build download request: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: download request: %v", rcerrors.ErrUpstream, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: download returned status %d", rcerrors.ErrUpstream, resp.StatusCode)
	}
	return resp.Body, nil
}

var _ Downloader = (*RecordingDownloader)(nil)
