package extractor

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"mspro-labs/koredoko/internal/ai"
	"mspro-labs/koredoko/internal/apperr"
	"mspro-labs/koredoko/internal/config"
	"mspro-labs/koredoko/internal/imaging"
	"mspro-labs/koredoko/internal/metrics"
	"mspro-labs/koredoko/internal/models"
)

// Direct runs extraction in-process against a generative model.
type Direct struct {
	model      Model
	logger     *zap.Logger
	imgOpts    imaging.Options
	mapURLMode string
	cache      MapURLCache
}

// DirectOption configures a Direct.
type DirectOption func(*Direct)

// WithImageOptions sets the normalization applied before upload.
func WithImageOptions(opts imaging.Options) DirectOption {
	return func(d *Direct) { d.imgOpts = opts }
}

// WithMapURLMode selects config.MapURLModel or config.MapURLLocal.
func WithMapURLMode(mode string) DirectOption {
	return func(d *Direct) { d.mapURLMode = mode }
}

// WithMapURLCache enables the map URL cache.
func WithMapURLCache(c MapURLCache) DirectOption {
	return func(d *Direct) { d.cache = c }
}

// NewDirect returns a Direct backed by model.
func NewDirect(model Model, logger *zap.Logger, opts ...DirectOption) *Direct {
	d := &Direct{
		model:      model,
		logger:     logger.Named("extractor"),
		mapURLMode: config.MapURLModel,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Extract sends the upload to the vision model and parses its answer.
func (d *Direct) Extract(ctx context.Context, up Upload) ([]models.StoreRecord, error) {
	if len(up.Data) == 0 {
		metrics.Extractions.WithLabelValues(metrics.OutcomeRejected).Inc()
		return nil, apperr.Validation("no image uploaded")
	}

	img, resized, err := imaging.Normalize(up.Image, d.imgOpts)
	if errors.Is(err, imaging.ErrTooManyPixels) {
		d.logger.Warn("rejecting oversized image", zap.String("filename", up.Filename), zap.Error(err))
		metrics.Extractions.WithLabelValues(metrics.OutcomeRejected).Inc()
		return nil, apperr.Validation(imaging.ErrTooManyPixels.Error())
	}
	if err != nil {
		d.logger.Warn("image normalization failed, sending original", zap.String("filename", up.Filename), zap.Error(err))
		img = up.Image
	} else if resized {
		d.logger.Debug("image resized",
			zap.String("filename", up.Filename),
			zap.Int("original_bytes", len(up.Data)),
			zap.Int("resized_bytes", len(img.Data)),
		)
	}

	text, err := d.model.Generate(ctx, ai.ExtractionPrompt, img)
	if err != nil {
		metrics.Extractions.WithLabelValues(metrics.OutcomeError).Inc()
		return nil, apperr.Upstream("failed to analyze image", err)
	}

	recs, degraded := ParseRecords(text)
	if degraded {
		d.logger.Warn("could not parse model answer", zap.String("filename", up.Filename), zap.String("raw_response", text))
		metrics.Extractions.WithLabelValues(metrics.OutcomeDegraded).Inc()
	} else {
		metrics.Extractions.WithLabelValues(metrics.OutcomeOK).Inc()
	}
	return recs, nil
}

// GenerateMapURL returns a Google Maps search link for rec.
func (d *Direct) GenerateMapURL(ctx context.Context, rec models.StoreRecord) (models.MapURLResult, error) {
	if rec.Failed() {
		metrics.MapURLs.WithLabelValues(metrics.OutcomeRejected).Inc()
		return models.MapURLResult{}, apperr.Validation(rec.Error)
	}

	if d.mapURLMode == config.MapURLLocal {
		u, ok := BuildMapURL(rec)
		if !ok {
			metrics.MapURLs.WithLabelValues(metrics.OutcomeRejected).Inc()
			return models.MapURLResult{Error: InsufficientInfo}, nil
		}
		metrics.MapURLs.WithLabelValues(metrics.OutcomeOK).Inc()
		return models.MapURLResult{MapURL: u}, nil
	}

	query := rec.Query()
	if cached, ok := d.lookupCache(ctx, query); ok {
		metrics.MapURLCacheHits.Inc()
		metrics.MapURLs.WithLabelValues(metrics.OutcomeOK).Inc()
		return models.MapURLResult{MapURL: cached}, nil
	}

	text, err := d.model.Generate(ctx, ai.MapURLPrompt(rec.StoreName, rec.Address))
	if err != nil {
		metrics.MapURLs.WithLabelValues(metrics.OutcomeError).Inc()
		return models.MapURLResult{}, apperr.Upstream("failed to generate map URL", err)
	}

	res, degraded := ParseMapURL(text)
	switch {
	case degraded:
		d.logger.Warn("could not parse map URL answer", zap.String("query", query), zap.String("raw_response", text))
		metrics.MapURLs.WithLabelValues(metrics.OutcomeDegraded).Inc()
	case res.MapURL != "":
		d.storeCache(ctx, query, res.MapURL)
		metrics.MapURLs.WithLabelValues(metrics.OutcomeOK).Inc()
	default:
		metrics.MapURLs.WithLabelValues(metrics.OutcomeRejected).Inc()
	}
	return res, nil
}

func (d *Direct) lookupCache(ctx context.Context, query string) (string, bool) {
	if d.cache == nil || query == "" {
		return "", false
	}
	u, ok, err := d.cache.GetMapURL(ctx, query)
	if err != nil {
		d.logger.Warn("map URL cache lookup failed", zap.String("query", query), zap.Error(err))
		return "", false
	}
	if ok && !IsMapsURL(u) {
		d.logger.Warn("ignoring cached map URL that is not a Google Maps link", zap.String("query", query))
		return "", false
	}
	return u, ok
}

// storeCache never fails the request.
func (d *Direct) storeCache(ctx context.Context, query, mapURL string) {
	if d.cache == nil || query == "" {
		return
	}
	if err := d.cache.PutMapURL(ctx, query, mapURL); err != nil {
		d.logger.Warn("failed to save map URL to cache", zap.String("query", query), zap.Error(err))
	}
}
