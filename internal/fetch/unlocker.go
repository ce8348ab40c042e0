package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Unlocker fetches pages through the content-unlocking zone of the
// scraping proxy, which solves anti-bot challenges server-side and returns
// the rendered body.
type Unlocker struct {
	BaseURL    string
	APIKey     string
	Zone       string
	HTTPClient *http.Client
	UserAgent  string
}

type unlockRequest struct {
	Zone   string `json:"zone"`
	URL    string `json:"url"`
	Format string `json:"format"`
}

// Fetch returns the unlocked page body. The proxy reports the upstream
// status code in a response header; absent that, a 2xx proxy response is
// treated as an upstream 200.
func (u *Unlocker) Fetch(ctx context.Context, pageURL string) (string, int, error) {
	if u.BaseURL == "" {
		return "", 0, fmt.Errorf("missing unlocker base url")
	}
	body, err := json.Marshal(unlockRequest{Zone: u.Zone, URL: pageURL, Format: "raw"})
	if err != nil {
		return "", 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(u.BaseURL, "/")+"/request", bytes.NewReader(body))
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if u.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+u.APIKey)
	}
	if u.UserAgent != "" {
		req.Header.Set("User-Agent", u.UserAgent)
	}
	hc := u.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 60 * time.Second}
	}
	resp, err := hc.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", resp.StatusCode, fmt.Errorf("unlocker status: %d", resp.StatusCode)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return "", resp.StatusCode, err
	}
	upstream := http.StatusOK
	if h := resp.Header.Get("X-Upstream-Status"); h != "" {
		fmt.Sscanf(h, "%d", &upstream)
	}
	return string(raw), upstream, nil
}
