// Package extractor turns uploaded images into store records and store
// records into Google Maps links. Where the work happens (this process via
// Gemini, or a remote backend) is a configuration choice behind Service.
package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"net/url"
	"strings"

	"mspro-labs/koredoko/internal/ai"
	"mspro-labs/koredoko/internal/jsonscan"
	"mspro-labs/koredoko/internal/models"
)

const (
	// ParseFailed marks a degraded extraction record.
	ParseFailed = "parse failed"
	// MapURLFailed marks a degraded map URL answer.
	MapURLFailed = "failed to generate map URL"
	// InsufficientInfo is returned when a record has neither name nor address.
	InsufficientInfo = "not enough information to generate a URL"

	mapsSearchBase = "https://www.google.com/maps/search/?api=1&query="
	mapsHost       = "www.google.com"
	mapsPathPrefix = "/maps/"
)

// Service is implemented by Direct and Remote.
type Service interface {
	Extract(ctx context.Context, img Upload) ([]models.StoreRecord, error)
	GenerateMapURL(ctx context.Context, rec models.StoreRecord) (models.MapURLResult, error)
}

// Model is the generative model used by Direct. *ai.Client satisfies it.
type Model interface {
	Generate(ctx context.Context, prompt string, images ...ai.Image) (string, error)
}

// MapURLCache stores successful map URLs by search query.
type MapURLCache interface {
	GetMapURL(ctx context.Context, query string) (string, bool, error)
	PutMapURL(ctx context.Context, query, mapURL string) error
}

// Upload is an image received from a client.
type Upload struct {
	Filename string
	ai.Image
}

// ParseRecords decodes store records from raw model text. It never fails:
// unparseable text yields a single degraded record carrying the raw text.
func ParseRecords(text string) ([]models.StoreRecord, bool) {
	var recs []models.StoreRecord
	if err := jsonscan.Decode(text, jsonscan.Array, &recs); err == nil {
		if recs == nil {
			recs = []models.StoreRecord{}
		}
		return recs, false
	}

	var rec models.StoreRecord
	if err := jsonscan.Decode(text, jsonscan.Object, &rec); err == nil {
		return []models.StoreRecord{rec}, false
	}

	return degradedRecords(text), true
}

// NormalizeRecords accepts a store_info value that may be an array or a
// single object, as returned by backends.
func NormalizeRecords(raw json.RawMessage) ([]models.StoreRecord, bool) {
	if trimmed := bytes.TrimSpace(raw); len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return degradedRecords(string(raw)), true
	}
	var recs []models.StoreRecord
	if err := json.Unmarshal(raw, &recs); err == nil && recs != nil {
		return recs, false
	}
	var rec models.StoreRecord
	if err := json.Unmarshal(raw, &rec); err == nil {
		return []models.StoreRecord{rec}, false
	}
	return degradedRecords(string(raw)), true
}

// IsDegraded reports whether recs is the parse-failure fallback.
func IsDegraded(recs []models.StoreRecord) bool {
	return len(recs) == 1 && recs[0].Error == ParseFailed
}

func degradedRecords(text string) []models.StoreRecord {
	return []models.StoreRecord{{Error: ParseFailed, RawResponse: text}}
}

// ParseMapURL decodes a map URL answer from raw model text. See
// SettleMapURL for what counts as a usable answer.
func ParseMapURL(text string) (models.MapURLResult, bool) {
	var res models.MapURLResult
	if err := jsonscan.Decode(text, jsonscan.Object, &res); err != nil {
		return models.MapURLResult{Error: MapURLFailed, RawResponse: text}, true
	}
	res.RawResponse = ""
	return SettleMapURL(res, text)
}

// SettleMapURL reduces a decoded answer to exactly one of map_url or error.
// An error wins over a URL. A URL that is not a Google Maps https link, or an
// answer with neither field, is degraded and carries raw.
func SettleMapURL(res models.MapURLResult, raw string) (models.MapURLResult, bool) {
	switch {
	case res.Error != "":
		return models.MapURLResult{Error: res.Error, RawResponse: res.RawResponse}, res.Error == MapURLFailed
	case res.MapURL != "" && IsMapsURL(res.MapURL):
		return models.MapURLResult{MapURL: res.MapURL}, false
	default:
		return models.MapURLResult{Error: MapURLFailed, RawResponse: raw}, true
	}
}

// IsMapsURL reports whether u is an https Google Maps link.
func IsMapsURL(u string) bool {
	parsed, err := url.Parse(u)
	if err != nil {
		return false
	}
	return parsed.Scheme == "https" &&
		strings.EqualFold(parsed.Host, mapsHost) &&
		strings.HasPrefix(parsed.Path, mapsPathPrefix) &&
		parsed.User == nil
}

// BuildMapURL composes the search URL for rec without asking a model.
func BuildMapURL(rec models.StoreRecord) (string, bool) {
	q := rec.Query()
	if q == "" {
		return "", false
	}
	return mapsSearchBase + url.QueryEscape(q), true
}
