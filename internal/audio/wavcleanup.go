package audio

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// wavCleanupInterval is how often the retention scan runs.
const wavCleanupInterval = 1 * time.Hour

// wavCleanup periodically deletes dumped WAV files older than maxDays,
// adapted from the teacher's recording retention ticker: no database here,
// just the dump directory's file mtimes, since this subsystem keeps no
// durable state beyond the files themselves.
type wavCleanup struct {
	dir     string
	maxDays int
	logger  *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

func newWAVCleanup(dir string, maxDays int, logger *slog.Logger) *wavCleanup {
	return &wavCleanup{
		dir:     dir,
		maxDays: maxDays,
		logger:  logger.With("subsystem", "audio-wav-retention"),
	}
}

// Start launches the cleanup goroutine. A maxDays of 0 disables it.
func (c *wavCleanup) Start() {
	if c.maxDays <= 0 {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.run(ctx)
}

// Stop signals the cleanup goroutine to stop and waits for it to finish.
func (c *wavCleanup) Stop() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	<-c.done
}

func (c *wavCleanup) run(ctx context.Context) {
	defer close(c.done)

	ticker := time.NewTicker(wavCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

func (c *wavCleanup) sweep() {
	cutoff := time.Now().AddDate(0, 0, -c.maxDays)

	entries, err := os.ReadDir(c.dir)
	if err != nil {
		c.logger.Error("wav retention: failed to read dump directory", "error", err)
		return
	}

	var removed int
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(c.dir, entry.Name())
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			c.logger.Warn("failed to remove expired wav dump", "path", path, "error", err)
			continue
		}
		removed++
	}

	if removed > 0 {
		c.logger.Info("wav dump retention cleanup", "deleted", removed, "max_days", c.maxDays)
	}
}
