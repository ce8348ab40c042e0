// Package extract turns fetched page text into structured rating records
// via an OpenAI-compatible chat model. The model is opaque to the rest of
// the pipeline: this package only builds text in and parses JSON out, and
// keeps results in the extraction cache keyed by wine and content hash.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"

	"github.com/cellarist/winesleuth/internal/cache"
	"github.com/cellarist/winesleuth/internal/wine"
)

// ChatClient mirrors the subset we need from the OpenAI client for testability.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// TypeRatings is the extraction kind this package produces.
const TypeRatings = "ratings"

// Rating is one third-party score found on a page.
type Rating struct {
	Source   string  `json:"source"`
	Score    float64 `json:"score"`
	Scale    string  `json:"scale"` // "100", "20", "5-star", "medal"
	Reviewer string  `json:"reviewer,omitempty"`
	Award    string  `json:"award,omitempty"`
	Vintage  string  `json:"vintage,omitempty"`
}

// DrinkWindow is a suggested drinking range in years.
type DrinkWindow struct {
	From int `json:"from"`
	To   int `json:"to"`
}

// Result is the structured output for one page of text.
type Result struct {
	Ratings      []Rating     `json:"ratings"`
	Window       *DrinkWindow `json:"drink_window,omitempty"`
	TastingNotes string       `json:"tasting_notes,omitempty"`
}

// Extractor runs the extraction pass with a cache in front of the model.
type Extractor struct {
	Client ChatClient
	Cache  *cache.Store
	Model  string
	// SystemPrompt, when non-empty, overrides the default system message.
	SystemPrompt string
	// MaxContentChars truncates page text before prompting; defaults to 12000.
	MaxContentChars int
}

// Extract returns the ratings found in content, consulting the extraction
// cache first. The bool reports whether the result came from cache.
func (e *Extractor) Extract(ctx context.Context, w wine.Wine, pageURL, content string) (Result, bool, error) {
	id := WineID(w)
	hash := cache.ContentHash(content)

	if e.Cache != nil {
		entry, err := e.Cache.GetExtraction(ctx, id, hash, TypeRatings, false)
		if err != nil {
			return Result{}, false, fmt.Errorf("extraction cache lookup: %w", err)
		}
		if entry != nil && entry.Status == cache.StatusValid {
			res, err := fromRecord(entry.Record)
			if err == nil {
				log.Debug().Str("wine", id).Str("url", pageURL).Msg("extraction cache hit")
				return res, true, nil
			}
			log.Warn().Err(err).Str("wine", id).Msg("discarding malformed extraction cache row")
		}
	}

	if e.Client == nil || strings.TrimSpace(e.Model) == "" {
		return Result{}, false, fmt.Errorf("extraction model not configured")
	}

	sys := buildSystemMessage()
	if strings.TrimSpace(e.SystemPrompt) != "" {
		sys = e.SystemPrompt
	}
	req := openai.ChatCompletionRequest{
		Model: e.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: sys},
			{Role: openai.ChatMessageRoleUser, Content: buildUserMessage(w, pageURL, e.truncate(content))},
		},
		Temperature: 0.0,
		N:           1,
	}
	resp, err := e.Client.CreateChatCompletion(ctx, req)
	if err != nil {
		return Result{}, false, fmt.Errorf("extraction completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Result{}, false, fmt.Errorf("extraction completion: empty response")
	}

	raw := strings.TrimSpace(resp.Choices[0].Message.Content)
	var res Result
	if err := json.Unmarshal([]byte(raw), &res); err != nil {
		return Result{}, false, fmt.Errorf("parse extraction response: %w", err)
	}

	if e.Cache != nil {
		rec, err := toRecord(id, hash, res, resp.Model)
		if err == nil {
			if err := e.Cache.PutExtraction(ctx, rec, cache.StatusValid, 0); err != nil {
				log.Warn().Err(err).Str("wine", id).Msg("extraction cache write failed")
			}
		}
	}
	return res, false, nil
}

func (e *Extractor) truncate(content string) string {
	max := e.MaxContentChars
	if max <= 0 {
		max = 12000
	}
	if len(content) <= max {
		return content
	}
	for max > 0 && !utf8.RuneStart(content[max]) {
		max--
	}
	return content[:max]
}

// WineID derives the stable cache identity of a wine from its folded
// display name, so accents and casing do not split cache rows.
func WineID(w wine.Wine) string {
	return cache.ContentHash(strings.ToLower(wine.Fold(w.DisplayName())))
}

func fromRecord(rec cache.ExtractionRecord) (Result, error) {
	var res Result
	if len(rec.Ratings) > 0 {
		if err := json.Unmarshal(rec.Ratings, &res.Ratings); err != nil {
			return Result{}, fmt.Errorf("decode cached ratings: %w", err)
		}
	}
	if len(rec.Windows) > 0 {
		if err := json.Unmarshal(rec.Windows, &res.Window); err != nil {
			return Result{}, fmt.Errorf("decode cached drink window: %w", err)
		}
	}
	res.TastingNotes = rec.TastingNotes
	return res, nil
}

func toRecord(wineID, contentHash string, res Result, model string) (cache.ExtractionRecord, error) {
	rec := cache.ExtractionRecord{
		WineID:       wineID,
		ContentHash:  contentHash,
		Type:         TypeRatings,
		TastingNotes: res.TastingNotes,
		ModelVersion: model,
	}
	if len(res.Ratings) > 0 {
		b, err := json.Marshal(res.Ratings)
		if err != nil {
			return rec, err
		}
		rec.Ratings = b
	}
	if res.Window != nil {
		b, err := json.Marshal(res.Window)
		if err != nil {
			return rec, err
		}
		rec.Windows = b
	}
	return rec, nil
}

func buildSystemMessage() string {
	return "You extract wine ratings from web page text. Respond with strict JSON only: " +
		`{"ratings":[{"source":string,"score":number,"scale":"100|20|5-star|medal","reviewer":string,"award":string,"vintage":string}],"drink_window":{"from":int,"to":int},"tasting_notes":string}. ` +
		"Only report scores that the text explicitly attributes to the named wine. Omit drink_window and tasting_notes when absent. Never invent values."
}

func buildUserMessage(w wine.Wine, pageURL, content string) string {
	var sb strings.Builder
	sb.WriteString("Wine: ")
	sb.WriteString(w.DisplayName())
	sb.WriteString("\n")
	if w.Country != "" {
		sb.WriteString("Origin: ")
		sb.WriteString(w.Country)
		if w.Region != "" {
			sb.WriteString(", ")
			sb.WriteString(w.Region)
		}
		sb.WriteString("\n")
	}
	sb.WriteString("Page: ")
	sb.WriteString(pageURL)
	sb.WriteString("\n\nPage text:\n\n")
	sb.WriteString(content)
	return sb.String()
}
