package jobs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// ErrArtifactNotFound is returned by Load for a key that was never saved.
var ErrArtifactNotFound = errors.New("artifact not found")

// ArtifactStore keeps the CSV files produced by jobs.  Keys are slash
// separated relative paths; saving an existing key replaces it.
type ArtifactStore interface {
	Save(ctx context.Context, key string, data []byte) (string, error)
	Load(ctx context.Context, key string) ([]byte, error)
}

// ExportKey is where a user's history export lives.  There is one per user.
func ExportKey(userID uint64) string {
	return fmt.Sprintf("exports/user_%d.csv", userID)
}

// ReportKey is where a report generated under filename lives.
func ReportKey(filename string) string {
	return path.Join("reports", filename)
}

// DirStore stores artifacts below a base directory.  Writes go to a temp
// file that is renamed into place, so readers never see a partial file.
type DirStore struct {
	base string
}

func NewDirStore(base string) (*DirStore, error) {
	if strings.TrimSpace(base) == "" {
		return nil, errors.New("artifact directory is required")
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact directory: %w", err)
	}
	return &DirStore{base: base}, nil
}

func (d *DirStore) Save(_ context.Context, key string, data []byte) (string, error) {
	dst, err := d.resolve(key)
	if err != nil {
		return "", err
	}
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("DirStore.Save: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".artifact-*")
	if err != nil {
		return "", fmt.Errorf("DirStore.Save: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmp.Name())
		}
	}()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("DirStore.Save: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("DirStore.Save: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", fmt.Errorf("DirStore.Save: %w", err)
	}
	committed = true
	return dst, nil
}

func (d *DirStore) Load(_ context.Context, key string) ([]byte, error) {
	src, err := d.resolve(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(src)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrArtifactNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("DirStore.Load: %w", err)
	}
	return data, nil
}

func (d *DirStore) resolve(key string) (string, error) {
	clean := path.Clean("/" + key)
	if clean == "/" || key != strings.TrimPrefix(clean, "/") {
		return "", fmt.Errorf("invalid artifact key %q", key)
	}
	return filepath.Join(d.base, filepath.FromSlash(clean[1:])), nil
}
