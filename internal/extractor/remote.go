package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"go.uber.org/zap"

	"mspro-labs/koredoko/internal/apperr"
	"mspro-labs/koredoko/internal/metrics"
	"mspro-labs/koredoko/internal/models"
)

// maxBackendBody bounds how much of a backend answer is read.
const maxBackendBody = 4 << 20

// Remote forwards requests to a backend exposing /upload,
// /generate-map-url and /health.
type Remote struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewRemote returns a Remote for the backend at baseURL.
func NewRemote(baseURL string, timeout time.Duration, logger *zap.Logger) *Remote {
	return &Remote{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  logger.Named("remote").With(zap.String("backend", baseURL)),
	}
}

// Extract re-posts the upload as multipart form data.
func (r *Remote) Extract(ctx context.Context, up Upload) ([]models.StoreRecord, error) {
	if len(up.Data) == 0 {
		metrics.Extractions.WithLabelValues(metrics.OutcomeRejected).Inc()
		return nil, apperr.Validation("no image uploaded")
	}

	body, contentType, err := multipartBody(up)
	if err != nil {
		return nil, fmt.Errorf("build multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/upload", body)
	if err != nil {
		return nil, fmt.Errorf("build backend request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	raw, status, err := r.do(req)
	if err != nil {
		metrics.Extractions.WithLabelValues(metrics.OutcomeError).Inc()
		return nil, apperr.Upstream("failed to upload file", err)
	}
	if status < 200 || status > 299 {
		metrics.Extractions.WithLabelValues(metrics.OutcomeError).Inc()
		r.logger.Warn("backend upload failed", zap.Int("status", status), zap.ByteString("body", raw))
		return nil, apperr.Upstream("failed to upload file", fmt.Errorf("backend status %d", status))
	}

	var result struct {
		StoreInfo json.RawMessage `json:"store_info"`
	}
	if err := json.Unmarshal(raw, &result); err != nil || len(result.StoreInfo) == 0 {
		metrics.Extractions.WithLabelValues(metrics.OutcomeDegraded).Inc()
		return degradedRecords(string(raw)), nil
	}

	recs, degraded := NormalizeRecords(result.StoreInfo)
	if degraded {
		metrics.Extractions.WithLabelValues(metrics.OutcomeDegraded).Inc()
	} else {
		metrics.Extractions.WithLabelValues(metrics.OutcomeOK).Inc()
	}
	return recs, nil
}

// GenerateMapURL relays the record to the backend.
func (r *Remote) GenerateMapURL(ctx context.Context, rec models.StoreRecord) (models.MapURLResult, error) {
	if rec.Failed() {
		metrics.MapURLs.WithLabelValues(metrics.OutcomeRejected).Inc()
		return models.MapURLResult{}, apperr.Validation(rec.Error)
	}

	payload, err := json.Marshal(models.MapURLRequest{StoreInfo: &rec})
	if err != nil {
		return models.MapURLResult{}, fmt.Errorf("encode map URL request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/generate-map-url", bytes.NewReader(payload))
	if err != nil {
		return models.MapURLResult{}, fmt.Errorf("build backend request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	raw, status, err := r.do(req)
	if err != nil {
		metrics.MapURLs.WithLabelValues(metrics.OutcomeError).Inc()
		return models.MapURLResult{}, apperr.Upstream(MapURLFailed, err)
	}

	var res models.MapURLResult
	decodeErr := json.Unmarshal(raw, &res)

	switch {
	case status == http.StatusBadRequest:
		metrics.MapURLs.WithLabelValues(metrics.OutcomeRejected).Inc()
		msg := res.Error
		if msg == "" {
			msg = "invalid store information"
		}
		return models.MapURLResult{}, apperr.Validation(msg)
	case status < 200 || status > 299:
		metrics.MapURLs.WithLabelValues(metrics.OutcomeError).Inc()
		return models.MapURLResult{}, apperr.Upstream(MapURLFailed, fmt.Errorf("backend status %d", status))
	case decodeErr != nil:
		metrics.MapURLs.WithLabelValues(metrics.OutcomeDegraded).Inc()
		return models.MapURLResult{Error: MapURLFailed, RawResponse: string(raw)}, nil
	}

	res, degraded := SettleMapURL(res, string(raw))
	switch {
	case degraded:
		r.logger.Warn("unusable map URL answer from backend", zap.ByteString("body", raw))
		metrics.MapURLs.WithLabelValues(metrics.OutcomeDegraded).Inc()
	case res.MapURL != "":
		metrics.MapURLs.WithLabelValues(metrics.OutcomeOK).Inc()
	default:
		metrics.MapURLs.WithLabelValues(metrics.OutcomeRejected).Inc()
	}
	return res, nil
}

// Health asks the backend for its status.
func (r *Remote) Health(ctx context.Context) (models.HealthStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/health", nil)
	if err != nil {
		return models.HealthStatus{}, fmt.Errorf("build health request: %w", err)
	}

	raw, status, err := r.do(req)
	if err != nil {
		return models.HealthStatus{}, apperr.Upstream("backend server is not available", err)
	}

	var hs models.HealthStatus
	if err := json.Unmarshal(raw, &hs); err != nil {
		hs = models.HealthStatus{}
	}
	if status < 200 || status > 299 {
		return hs, apperr.Upstream("backend server is unhealthy", fmt.Errorf("backend status %d", status))
	}
	if hs.Status == "" {
		hs.Status = models.StatusHealthy
	}
	return hs, nil
}

func (r *Remote) do(req *http.Request) ([]byte, int, error) {
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBackendBody))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read backend response: %w", err)
	}
	return raw, resp.StatusCode, nil
}

func multipartBody(up Upload) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	filename := up.Filename
	if filename == "" {
		filename = "upload"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename=%q`, filename))
	if up.MIMEType != "" {
		h.Set("Content-Type", up.MIMEType)
	} else {
		h.Set("Content-Type", "application/octet-stream")
	}

	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(up.Data); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}
