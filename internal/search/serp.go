package search

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

// SERPProxy implements Provider against the SERP zone of the scraping
// proxy's request API. The proxy executes the engine query server-side and
// returns parsed JSON.
type SERPProxy struct {
	BaseURL    string
	APIKey     string
	Zone       string
	HTTPClient *http.Client
	UserAgent  string
	Timeout    time.Duration
}

func (s *SERPProxy) Name() string { return "serp-proxy" }

type serpRequest struct {
	Zone   string `json:"zone"`
	Query  string `json:"query"`
	Locale string `json:"locale,omitempty"`
	Num    int    `json:"num,omitempty"`
	Format string `json:"format"`
}

type serpResponse struct {
	Organic []struct {
		Title       string `json:"title"`
		Link        string `json:"link"`
		Description string `json:"description"`
		Rank        int    `json:"rank"`
	} `json:"organic"`
	AIOverview struct {
		Text string `json:"text"`
	} `json:"ai_overview"`
	KnowledgeGraph  json.RawMessage `json:"knowledge_graph"`
	FeaturedSnippet struct {
		Text string `json:"text"`
	} `json:"featured_snippet"`
	PeopleAlsoAsk []struct {
		Question string `json:"question"`
	} `json:"people_also_ask"`
}

// Search executes one engine query. Domain restriction is expressed in the
// query string by the caller; domains is accepted only so the provider
// signature stays uniform.
func (s *SERPProxy) Search(ctx context.Context, query string, _ []string, locale string, limit int) (*Payload, error) {
	if s.BaseURL == "" {
		return nil, fmt.Errorf("missing serp proxy base url")
	}
	if limit <= 0 {
		limit = 10
	}
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}
	body, err := json.Marshal(serpRequest{
		Zone: s.Zone, Query: query, Locale: locale, Num: limit, Format: "json",
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(s.BaseURL, "/")+"/request", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.APIKey)
	}
	if s.UserAgent != "" {
		req.Header.Set("User-Agent", s.UserAgent)
	}
	hc := s.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 20 * time.Second}
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("serp proxy status: %d", resp.StatusCode)
	}
	raw, err := decodeRaw(resp)
	if err != nil {
		return nil, err
	}
	var sr serpResponse
	if err := json.Unmarshal(raw, &sr); err != nil {
		return nil, fmt.Errorf("decode serp response: %w", err)
	}

	p := &Payload{
		AIOverview: strings.TrimSpace(sr.AIOverview.Text),
		Snippet:    strings.TrimSpace(sr.FeaturedSnippet.Text),
		Raw:        raw,
	}
	if len(sr.KnowledgeGraph) > 0 && string(sr.KnowledgeGraph) != "null" {
		p.KnowledgeGraph = sr.KnowledgeGraph
	}
	for _, q := range sr.PeopleAlsoAsk {
		if q.Question != "" {
			p.PeopleAlsoAsk = append(p.PeopleAlsoAsk, q.Question)
		}
	}
	for i, r := range sr.Organic {
		if r.Link == "" || r.Title == "" {
			continue
		}
		pos := r.Rank
		if pos == 0 {
			pos = i + 1
		}
		p.Organic = append(p.Organic, Result{
			Title:    strings.TrimSpace(r.Title),
			URL:      strings.TrimSpace(r.Link),
			Snippet:  strings.TrimSpace(r.Description),
			Position: pos,
			Source:   s.Name(),
		})
		if len(p.Organic) >= limit {
			break
		}
	}
	return p, nil
}

func decodeRaw(resp *http.Response) (json.RawMessage, error) {
	const maxBody = 2 << 20 // same cap the unlocker path applies
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("read serp body: %w", err)
	}
	return json.RawMessage(raw), nil
}
