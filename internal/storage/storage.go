// Package storage persists uploaded images under generated unique names.
package storage

import (
	"context"
	"fmt"
	"mime"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"mspro-labs/koredoko/internal/config"
)

// Store saves an upload and returns where it can be found again.
type Store interface {
	Save(ctx context.Context, filename, contentType string, data []byte) (string, error)
}

// New builds the Store selected by settings. It returns nil for the
// "none" driver.
func New(ctx context.Context, s config.StorageSettings, app config.AppConfig) (Store, error) {
	switch s.Driver {
	case config.StorageNone, "":
		return nil, nil
	case config.StorageLocal:
		return NewLocal(s.Dir)
	case config.StorageS3:
		return NewS3(ctx, S3Options{
			Bucket:        s.Bucket,
			Endpoint:      s.Endpoint,
			Region:        s.Region,
			PublicBaseURL: s.PublicBaseURL,
			AccessKey:     app.StorageAccessKey,
			SecretKey:     app.StorageSecretKey,
		})
	default:
		return nil, fmt.Errorf("unknown storage driver %q", s.Driver)
	}
}

// ObjectName returns a collision-free name that keeps the upload's extension.
func ObjectName(filename, contentType string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" && contentType != "" {
		if exts, err := mime.ExtensionsByType(contentType); err == nil && len(exts) > 0 {
			ext = exts[0]
		}
	}
	return uuid.NewString() + ext
}
