package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Sink stores one archived object under a slash-separated key.
type Sink interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
}

// DirSink writes objects below a local directory.
type DirSink struct {
	Root string
}

func (d DirSink) Put(ctx context.Context, key string, body []byte, _ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.Contains(key, "..") {
		return fmt.Errorf("archive: invalid key %q", key)
	}
	path := filepath.Join(d.Root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("archive mkdir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, body, 0o644); err != nil {
		return fmt.Errorf("archive write %s: %w", key, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("archive rename %s: %w", key, err)
	}
	return nil
}
