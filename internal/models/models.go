package models

import "strings"

// StoreRecord holds the data extracted for a single store.
// When Error is set the other fields must be ignored.
type StoreRecord struct {
	StoreName   string `json:"store_name,omitempty"`
	Address     string `json:"address,omitempty"`
	Phone       string `json:"phone,omitempty"`
	Hours       string `json:"hours,omitempty"`
	Error       string `json:"error,omitempty"`
	RawResponse string `json:"raw_response,omitempty"`
}

// Failed reports whether the record marks an extraction failure.
func (r StoreRecord) Failed() bool {
	return r.Error != ""
}

// Query is the "name address" search text used for map links.
func (r StoreRecord) Query() string {
	return strings.TrimSpace(strings.TrimSpace(r.StoreName) + " " + strings.TrimSpace(r.Address))
}

// UploadResult is the body returned by the extraction endpoint.
type UploadResult struct {
	StoreInfo []StoreRecord `json:"store_info"`
	Filename  string        `json:"filename,omitempty"`
	Filepath  string        `json:"filepath,omitempty"`
}

// MapURLRequest is the body accepted by the map URL endpoint.
type MapURLRequest struct {
	StoreInfo *StoreRecord `json:"store_info"`
}

// MapURLResult is the body returned by the map URL endpoint.
type MapURLResult struct {
	MapURL      string `json:"map_url,omitempty"`
	Error       string `json:"error,omitempty"`
	RawResponse string `json:"raw_response,omitempty"`
}

// HealthStatus is the body returned by the health endpoint.
type HealthStatus struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp,omitempty"`
	Service   string `json:"service,omitempty"`
	Error     string `json:"error,omitempty"`
}

const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)
