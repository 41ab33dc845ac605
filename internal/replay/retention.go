package replay

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gobanos/some-platformer/internal/logging"
)

// RetentionPolicy bounds how many bundles stay on disk and for how long.
type RetentionPolicy struct {
	MaxBundles int
	MaxAge     time.Duration
}

// StorageStats summarises the disk footprint of persisted bundles.
type StorageStats struct {
	Bundles   int
	Bytes     int64
	Removed   int
	LastSweep time.Time
}

// Retention prunes bundle directories according to a policy.
type Retention struct {
	mu        sync.RWMutex
	dir       string
	policy    RetentionPolicy
	log       *logging.Logger
	now       func() time.Time
	protected map[string]struct{}
	stats     StorageStats
}

// NewRetention constructs a sweeper for root. Protected bundle directories,
// typically the journal being written, are never removed.
func NewRetention(root string, policy RetentionPolicy, logger *logging.Logger, protected ...string) *Retention {
	if logger == nil {
		logger = logging.L()
	}
	keep := make(map[string]struct{}, len(protected))
	for _, dir := range protected {
		keep[filepath.Clean(dir)] = struct{}{}
	}
	return &Retention{
		dir:       root,
		policy:    policy,
		log:       logger.With(logging.String("component", "replay_retention")),
		now:       time.Now,
		protected: keep,
	}
}

// Run sweeps immediately and then every interval until ctx is cancelled.
func (r *Retention) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	r.Sweep()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// Stats returns the figures recorded by the last sweep.
func (r *Retention) Stats() StorageStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stats
}

type bundleDir struct {
	path    string
	size    int64
	modTime time.Time
}

// Sweep applies the policy once and returns how many bundles were removed.
func (r *Retention) Sweep() int {
	if strings.TrimSpace(r.dir) == "" {
		return 0
	}
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		r.log.Warn("replay retention scan failed", logging.Error(err), logging.String("directory", r.dir))
		return 0
	}
	bundles := r.collect(entries)
	now := r.now()
	stats := StorageStats{LastSweep: now}
	kept := 0
	for _, bundle := range bundles {
		reason := r.removalReason(bundle, now, kept)
		if reason != "" {
			err := os.RemoveAll(bundle.path)
			if err == nil {
				r.log.Info("replay retention removed bundle", logging.String("bundle", filepath.Base(bundle.path)), logging.String("reason", reason))
				stats.Removed++
				continue
			}
			r.log.Warn("replay retention removal failed", logging.Error(err), logging.String("bundle", bundle.path))
		}
		kept++
		stats.Bundles++
		stats.Bytes += bundle.size
	}
	r.mu.Lock()
	r.stats = stats
	r.mu.Unlock()
	return stats.Removed
}

// collect lists bundle directories newest first. The freshest file inside a
// bundle decides its age so a journal still being written looks recent.
func (r *Retention) collect(entries []os.DirEntry) []bundleDir {
	bundles := make([]bundleDir, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(r.dir, entry.Name())
		if _, err := os.Stat(filepath.Join(path, HeaderFile)); err != nil {
			continue
		}
		bundle, err := inspect(path)
		if err != nil {
			r.log.Warn("replay retention stat failed", logging.Error(err), logging.String("bundle", path))
			continue
		}
		bundles = append(bundles, bundle)
	}
	sort.Slice(bundles, func(i, j int) bool { return bundles[i].modTime.After(bundles[j].modTime) })
	return bundles
}

func (r *Retention) removalReason(bundle bundleDir, now time.Time, kept int) string {
	if _, ok := r.protected[filepath.Clean(bundle.path)]; ok {
		return ""
	}
	if r.policy.MaxAge > 0 && now.Sub(bundle.modTime) > r.policy.MaxAge {
		return fmt.Sprintf("age>%s", r.policy.MaxAge)
	}
	if r.policy.MaxBundles > 0 && kept >= r.policy.MaxBundles {
		return fmt.Sprintf("count>%d", r.policy.MaxBundles)
	}
	return ""
}

func inspect(path string) (bundleDir, error) {
	bundle := bundleDir{path: path}
	err := filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if info.ModTime().After(bundle.modTime) {
			bundle.modTime = info.ModTime()
		}
		if !d.IsDir() {
			bundle.size += info.Size()
		}
		return nil
	})
	return bundle, err
}
