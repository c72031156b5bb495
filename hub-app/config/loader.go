package config

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/compose-network/datahub/x/snapshot"
	"github.com/compose-network/datahub/x/supervisor"
)

// FileLoader re-reads the config file when its modification time or size
// changes. It implements supervisor.Loader.
type FileLoader struct {
	path     string
	override func(*Config)

	mu      sync.Mutex
	modTime time.Time
	size    int64
}

// NewFileLoader stamps the current state of path so the first poll only
// reloads after the file changes. override, when set, is applied to every
// reloaded config before it is validated; the CLI uses it to keep flag values.
func NewFileLoader(path string, override func(*Config)) (*FileLoader, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file %s: %w", path, err)
	}
	return &FileLoader{
		path:     path,
		override: override,
		modTime:  info.ModTime(),
		size:     info.Size(),
	}, nil
}

// Load returns supervisor.ErrNotModified while the file is unchanged. A file
// that fails to parse is stamped anyway, so the error is reported once per
// edit rather than on every poll.
func (l *FileLoader) Load(ctx context.Context) (*snapshot.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	info, err := os.Stat(l.path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file %s: %w", l.path, err)
	}

	l.mu.Lock()
	unchanged := info.ModTime().Equal(l.modTime) && info.Size() == l.size
	l.modTime, l.size = info.ModTime(), info.Size()
	l.mu.Unlock()

	if unchanged {
		return nil, supervisor.ErrNotModified
	}

	cfg, err := Load(l.path)
	if err != nil {
		return nil, err
	}
	if l.override != nil {
		l.override(cfg)
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}
	return cfg.Snapshot()
}
