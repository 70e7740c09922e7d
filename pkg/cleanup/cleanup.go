// Package cleanup prunes run artifact directories under the output directory.
package cleanup

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/psantana5/farmsim/pkg/logging"
)

// Policy defines which runs are retained
type Policy struct {
	Keep   int           // newest runs always kept; 0 keeps none by count
	MaxAge time.Duration // older runs are removed; 0 disables the age check
	DryRun bool
}

// Stats describes a pruning pass
type Stats struct {
	Scanned  int
	Removed  []string
	Duration time.Duration
}

type runDir struct {
	path    string
	modTime time.Time
}

// marker identifies a directory as a run's artifact directory
const marker = "report.json"

// Prune removes run directories under root that fall outside the policy.
// A run survives when it is among the Keep newest and, if MaxAge is set,
// younger than MaxAge. Directories without a report are never touched.
func Prune(root string, policy Policy, logger *logging.Logger) (*Stats, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	if policy.Keep < 0 {
		return nil, fmt.Errorf("keep must be >= 0 (got %d)", policy.Keep)
	}
	start := time.Now()

	entries, err := os.ReadDir(root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Stats{}, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", root, err)
	}

	var runs []runDir
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		path := filepath.Join(root, e.Name())
		info, err := os.Stat(filepath.Join(path, marker))
		if err != nil {
			continue
		}
		runs = append(runs, runDir{path: path, modTime: info.ModTime()})
	}

	// newest first
	sort.Slice(runs, func(i, j int) bool { return runs[i].modTime.After(runs[j].modTime) })

	stats := &Stats{Scanned: len(runs)}
	cutoff := start.Add(-policy.MaxAge)
	for i, run := range runs {
		expired := i >= policy.Keep
		if policy.MaxAge > 0 && i >= policy.Keep {
			expired = run.modTime.Before(cutoff)
		}
		if !expired {
			continue
		}
		if !policy.DryRun {
			if err := os.RemoveAll(run.path); err != nil {
				logger.Error("Failed to remove run directory", logging.Fields{"path": run.path, "error": err.Error()})
				continue
			}
		}
		stats.Removed = append(stats.Removed, run.path)
	}

	stats.Duration = time.Since(start)
	logger.Info("Prune complete", logging.Fields{
		"scanned": stats.Scanned,
		"removed": len(stats.Removed),
		"dry_run": policy.DryRun,
	})
	return stats, nil
}
