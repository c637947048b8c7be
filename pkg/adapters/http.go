package adapters

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// defaultUserAgent identifies hydrastral to public upstream APIs, which ask
// callers to send a contact-bearing agent string.
const defaultUserAgent = "hydrastral (+https://github.com/HatiCode/hydrastral)"

// maxBodyBytes bounds a single upstream response. Twenty-five years of daily
// values for one site is well under this.
const maxBodyBytes = 64 << 20

// httpGetter performs a GET and classifies the outcome into FetchError kinds.
type httpGetter struct {
	client    *http.Client
	userAgent string
	accept    string
}

func newGetter(client *http.Client, userAgent, accept string) httpGetter {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return httpGetter{client: client, userAgent: userAgent, accept: accept}
}

// get returns the response body for a 200 response. A 400 or 404 is
// reported as NoSuchGauge; everything else that fails is TransientNetwork.
func (g httpGetter) get(ctx context.Context, gaugeID, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fetchErr(gaugeID, TransientNetwork, fmt.Errorf("create request: %w", err))
	}
	if g.accept != "" {
		req.Header.Set("Accept", g.accept)
	}
	req.Header.Set("User-Agent", g.userAgent)

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fetchErr(gaugeID, TransientNetwork, fmt.Errorf("http request: %w", err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusBadRequest:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fetchErr(gaugeID, NoSuchGauge, fmt.Errorf("http status %d: %s", resp.StatusCode, string(body)))
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fetchErr(gaugeID, TransientNetwork, fmt.Errorf("http status %d: %s", resp.StatusCode, string(body)))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fetchErr(gaugeID, TransientNetwork, fmt.Errorf("read response: %w", err))
	}
	return body, nil
}

// IsTimeout reports whether err stems from a deadline, either the caller's
// context or the HTTP client's own timeout.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}
