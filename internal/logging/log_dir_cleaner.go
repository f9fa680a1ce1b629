package logging

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

const pruneInterval = time.Minute

var stopPruner context.CancelFunc

// logRetention caps the total size of the log files kept in dir. The file currently
// written by lumberjack is never removed.
type logRetention struct {
	dir      string
	maxBytes int64
	active   string
}

type logEntry struct {
	path    string
	size    int64
	modTime time.Time
}

// startLogPrunerLocked replaces the running pruner. maxTotalSizeMB <= 0 disables it.
func startLogPrunerLocked(logDir string, maxTotalSizeMB int, activePath string) {
	stopLogPrunerLocked()
	dir := strings.TrimSpace(logDir)
	if maxTotalSizeMB <= 0 || dir == "" {
		return
	}
	r := logRetention{
		dir:      filepath.Clean(dir),
		maxBytes: int64(maxTotalSizeMB) << 20,
		active:   cleanPath(activePath),
	}
	ctx, cancel := context.WithCancel(context.Background())
	stopPruner = cancel
	go r.run(ctx)
}

func stopLogPrunerLocked() {
	if stopPruner != nil {
		stopPruner()
		stopPruner = nil
	}
}

func cleanPath(p string) string {
	if p = strings.TrimSpace(p); p == "" {
		return ""
	}
	return filepath.Clean(p)
}

func (r logRetention) run(ctx context.Context) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		removed, err := r.prune()
		switch {
		case err != nil:
			log.WithError(err).Warn("logging: prune log directory")
		case removed > 0:
			log.Debugf("logging: pruned %d log file(s) from %s", removed, r.dir)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// prune removes the oldest log files until the directory fits maxBytes.
func (r logRetention) prune() (int, error) {
	if r.maxBytes <= 0 {
		return 0, nil
	}
	files, total, err := r.scan()
	if err != nil || total <= r.maxBytes {
		return 0, err
	}
	slices.SortFunc(files, func(a, b logEntry) int { return a.modTime.Compare(b.modTime) })

	removed := 0
	for _, f := range files {
		if total <= r.maxBytes {
			break
		}
		if f.path == r.active {
			continue
		}
		if errRemove := os.Remove(f.path); errRemove != nil {
			log.WithError(errRemove).Warnf("logging: remove %s", filepath.Base(f.path))
			continue
		}
		total -= f.size
		removed++
	}
	return removed, nil
}

func (r logRetention) scan() ([]logEntry, int64, error) {
	entries, err := os.ReadDir(r.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, err
	}
	var (
		files []logEntry
		total int64
	)
	for _, entry := range entries {
		if !entry.Type().IsRegular() || !isLogFile(entry.Name()) {
			continue
		}
		info, errInfo := entry.Info()
		if errInfo != nil {
			continue
		}
		files = append(files, logEntry{path: filepath.Join(r.dir, entry.Name()), size: info.Size(), modTime: info.ModTime()})
		total += info.Size()
	}
	return files, total, nil
}

// isLogFile matches lumberjack's active and rotated file names.
func isLogFile(name string) bool {
	name = strings.ToLower(strings.TrimSpace(name))
	return strings.HasSuffix(name, ".log") || strings.HasSuffix(name, ".log.gz")
}
