// Package evidence keeps trade receipt images on the local filesystem.
package evidence

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"go.uber.org/fx"

	"github.com/fatflowers/roleguard/pkg/config"
)

var safeID = regexp.MustCompile(`^[A-Za-z0-9-]+$`)

type FileStore struct {
	dir string
}

func NewFileStore(cfg *config.Config) *FileStore {
	return &FileStore{dir: cfg.Trade.EvidenceDir}
}

// Save writes data to <dir>/<tradeID>.png and returns the path. The file appears atomically.
func (s *FileStore) Save(ctx context.Context, tradeID string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", errors.New("empty evidence")
	}
	if !safeID.MatchString(tradeID) {
		return "", fmt.Errorf("invalid trade id %q", tradeID)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("creating evidence dir: %w", err)
	}
	tmp, err := os.CreateTemp(s.dir, tradeID+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("creating evidence file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("writing evidence: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("closing evidence: %w", err)
	}
	path := filepath.Join(s.dir, tradeID+".png")
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("storing evidence: %w", err)
	}
	return path, nil
}

var Module = fx.Options(
	fx.Provide(NewFileStore),
)
