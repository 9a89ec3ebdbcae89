// Package reconciler sweeps the uploads tree against the asset database.
// Files nobody references are removed, directories of deleted recipes are
// pruned, legacy-layout files are migrated to their canonical locations,
// and database rows pointing at missing files are dropped. The sweep is
// best-effort: individual failures are logged and counted, never fatal.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"recipe-media/internal/database"
	"recipe-media/internal/filesystem"
	"recipe-media/internal/logging"
	"recipe-media/internal/metrics"
	"recipe-media/internal/storage"
	"recipe-media/internal/workers"
)

const (
	// legacyFlatDir is the pre-namespacing image directory under
	// uploads/recipes/ that older installs wrote into.
	legacyFlatDir = "images"

	// legacyGalleryDir is the old per-recipe gallery subdirectory.
	legacyGalleryDir = "gallery"

	defaultSweepTimeout = 10 * time.Minute

	// removalGrace protects files written after the sweep's reference
	// snapshot was taken: an upload stores its file before its database row
	// lands, so anything this fresh is left for the next pass.
	removalGrace = 2 * time.Minute
)

// ErrSweepInProgress is returned when a sweep is requested while one is
// already running.
var ErrSweepInProgress = errors.New("sweep already in progress")

// Result summarizes one sweep.
type Result struct {
	ScannedFiles  int           `json:"scannedFiles"`
	RemovedFiles  int           `json:"removedFiles"`
	RemovedDirs   int           `json:"removedDirs"`
	MigratedFiles int           `json:"migratedFiles"`
	DanglingRows  int           `json:"danglingRows"`
	Errors        int           `json:"errors"`
	StartedAt     time.Time     `json:"startedAt"`
	Duration      time.Duration `json:"duration"`
}

// Reconciler runs periodic sweeps of the uploads tree.
type Reconciler struct {
	store    *storage.Store
	db       *database.Database
	interval time.Duration
	workers  int

	stopChan chan struct{}
	stopOnce sync.Once

	mu         sync.Mutex
	sweeping   bool
	lastResult Result
	hasResult  bool
}

// New creates a Reconciler. interval <= 0 disables the periodic loop;
// Sweep can still be invoked directly.
func New(store *storage.Store, db *database.Database, interval time.Duration) *Reconciler {
	return &Reconciler{
		store:    store,
		db:       db,
		interval: interval,
		workers:  workers.ForIO(8),
		stopChan: make(chan struct{}),
	}
}

// Start begins the periodic sweep loop.
func (r *Reconciler) Start() {
	if r.interval <= 0 {
		logging.Info("Orphan sweep disabled (no interval configured)")
		return
	}
	logging.Info("Orphan sweep every %v with %d workers", r.interval, r.workers)
	go r.sweepLoop()
}

// Stop stops the periodic sweep loop.
func (r *Reconciler) Stop() {
	r.stopOnce.Do(func() { close(r.stopChan) })
}

// LastResult returns the most recent sweep result, if any sweep has run.
func (r *Reconciler) LastResult() (Result, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastResult, r.hasResult
}

func (r *Reconciler) sweepLoop() {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), defaultSweepTimeout)
			if _, err := r.Sweep(ctx); err != nil {
				logging.Error("Scheduled sweep failed: %v", err)
			}
			cancel()
		case <-r.stopChan:
			return
		}
	}
}

// counters aggregates sweep progress across workers.
type counters struct {
	scanned  atomic.Int64
	removed  atomic.Int64
	dirs     atomic.Int64
	migrated atomic.Int64
	errors   atomic.Int64
}

// refSet is the set of database-referenced URLs, shared across sweep
// workers.
type refSet struct {
	mu   sync.RWMutex
	urls map[string]struct{}
}

func newRefSet(urls map[string]struct{}) *refSet {
	return &refSet{urls: urls}
}

func (s *refSet) has(url string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.urls[url]
	return ok
}

func (s *refSet) rewrite(oldURL, newURL string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.urls, oldURL)
	s.urls[newURL] = struct{}{}
}

func (s *refSet) all() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	urls := make([]string, 0, len(s.urls))
	for url := range s.urls {
		urls = append(urls, url)
	}
	return urls
}

// Sweep runs one reconciliation pass. Only one sweep runs at a time; a
// second call while one is in flight returns an error rather than racing.
func (r *Reconciler) Sweep(ctx context.Context) (Result, error) {
	r.mu.Lock()
	if r.sweeping {
		r.mu.Unlock()
		return Result{}, ErrSweepInProgress
	}
	r.sweeping = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.sweeping = false
		r.mu.Unlock()
	}()

	start := time.Now()
	logging.Info("Starting orphan sweep of %s", r.store.Root())

	urls, err := r.db.ReferencedURLs(ctx)
	if err != nil {
		// Without the reference set every file looks orphaned, so this
		// one failure is fatal for the whole sweep.
		metrics.SweepErrors.Inc()
		return Result{}, fmt.Errorf("loading referenced urls: %w", err)
	}
	referenced := newRefSet(urls)

	var c counters

	r.migrateLegacyFlat(ctx, referenced, &c)
	r.sweepOwnerDirs(ctx, storage.OwnerRecipes, referenced, &c)
	r.sweepOwnerDirs(ctx, storage.OwnerUsers, referenced, &c)
	dangling := r.dropDanglingRows(ctx, referenced, &c)

	result := Result{
		ScannedFiles:  int(c.scanned.Load()),
		RemovedFiles:  int(c.removed.Load()),
		RemovedDirs:   int(c.dirs.Load()),
		MigratedFiles: int(c.migrated.Load()),
		DanglingRows:  dangling,
		Errors:        int(c.errors.Load()),
		StartedAt:     start,
		Duration:      time.Since(start),
	}

	r.mu.Lock()
	r.lastResult = result
	r.hasResult = true
	r.mu.Unlock()

	metrics.SweepRunsTotal.Inc()
	metrics.SweepRemovedFiles.Add(float64(result.RemovedFiles))
	metrics.SweepRemovedDirs.Add(float64(result.RemovedDirs))
	metrics.SweepMigratedFiles.Add(float64(result.MigratedFiles))
	metrics.SweepDuration.Observe(result.Duration.Seconds())
	metrics.SweepLastRunTimestamp.SetToCurrentTime()

	if err := r.db.RefreshStats(ctx); err != nil {
		logging.Warn("Refreshing asset stats after sweep: %v", err)
	}

	logging.Info("Sweep done in %v: scanned=%d removed=%d dirs=%d migrated=%d dangling=%d errors=%d",
		result.Duration.Round(time.Millisecond), result.ScannedFiles, result.RemovedFiles,
		result.RemovedDirs, result.MigratedFiles, result.DanglingRows, result.Errors)

	return result, nil
}

// migrateLegacyFlat relocates files from uploads/recipes/images/ into
// their owning recipe's directory. Ownership comes from the asset table;
// files no recipe references are orphans and get removed.
func (r *Reconciler) migrateLegacyFlat(ctx context.Context, referenced *refSet, c *counters) {
	flatDir := filepath.Join(r.store.Root(), storage.OwnerRecipes, legacyFlatDir)
	entries, err := filesystem.ReadDirWithRetry(flatDir, filesystem.DefaultRetryConfig())
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			logging.Warn("Reading legacy image directory: %v", err)
			c.errors.Add(1)
		}
		return
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		c.scanned.Add(1)
		name := entry.Name()
		if !storage.ValidFilename(name) {
			logging.Warn("Legacy file with unexpected name, skipping: %s", name)
			continue
		}

		owner, err := r.db.LegacyOwner(ctx, name)
		if err != nil {
			logging.Warn("Looking up legacy owner of %s: %v", name, err)
			c.errors.Add(1)
			continue
		}

		src := filepath.Join(flatDir, name)
		if owner == "" {
			if err := filesystem.RemoveWithRetry(src, filesystem.DefaultRetryConfig()); err != nil {
				logging.Warn("Removing orphaned legacy file %s: %v", name, err)
				c.errors.Add(1)
				continue
			}
			logging.Debug("Removed orphaned legacy file %s", name)
			c.removed.Add(1)
			continue
		}

		oldURL := "/" + storage.OwnerRecipes + "/" + legacyFlatDir + "/" + name
		newURL, err := storage.MigrateLegacyURL(oldURL, owner)
		if err != nil {
			logging.Warn("Migrating legacy url %s: %v", oldURL, err)
			c.errors.Add(1)
			continue
		}
		if err := r.moveAndRewrite(ctx, src, oldURL, newURL, referenced); err != nil {
			logging.Warn("Migrating legacy file %s: %v", name, err)
			c.errors.Add(1)
			continue
		}
		logging.Debug("Migrated %s -> %s", oldURL, newURL)
		c.migrated.Add(1)
	}

	// Drop the legacy directory once nothing is left in it.
	if remaining, err := os.ReadDir(flatDir); err == nil && len(remaining) == 0 {
		if err := filesystem.RemoveWithRetry(flatDir, filesystem.DefaultRetryConfig()); err != nil {
			logging.Warn("Removing empty legacy directory: %v", err)
		} else {
			c.dirs.Add(1)
		}
	}
}

// moveAndRewrite relocates a file on disk and rewrites its database row,
// keeping the in-memory reference set in step.
func (r *Reconciler) moveAndRewrite(ctx context.Context, src, oldURL, newURL string, referenced *refSet) error {
	dst, err := r.store.URLToPath(newURL)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	if err := os.Rename(src, dst); err != nil {
		return err
	}
	if err := r.db.UpdateAssetURL(ctx, oldURL, newURL); err != nil {
		return err
	}
	referenced.rewrite(oldURL, newURL)
	return nil
}

// sweepOwnerDirs fans entity directories under uploads/{ownerKind}/ out
// to a worker pool.
func (r *Reconciler) sweepOwnerDirs(ctx context.Context, ownerKind string, referenced *refSet, c *counters) {
	base := filepath.Join(r.store.Root(), ownerKind)
	entries, err := filesystem.ReadDirWithRetry(base, filesystem.DefaultRetryConfig())
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			logging.Warn("Reading %s directory: %v", ownerKind, err)
			c.errors.Add(1)
		}
		return
	}

	dirChan := make(chan string)
	var wg sync.WaitGroup
	for i := 0; i < r.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for entityID := range dirChan {
				r.sweepEntityDir(ctx, ownerKind, entityID, referenced, c)
			}
		}()
	}

	for _, entry := range entries {
		if !entry.IsDir() || entry.Name() == legacyFlatDir {
			continue
		}
		if !storage.ValidEntityID(entry.Name()) {
			logging.Warn("Unexpected directory under %s, skipping: %s", ownerKind, entry.Name())
			continue
		}
		select {
		case dirChan <- entry.Name():
		case <-ctx.Done():
			close(dirChan)
			wg.Wait()
			return
		}
	}
	close(dirChan)
	wg.Wait()
}

// sweepEntityDir reconciles one entity's directory: gallery files are
// migrated up to the canonical layout, unreferenced files are removed,
// and a directory left empty is pruned.
func (r *Reconciler) sweepEntityDir(ctx context.Context, ownerKind, entityID string, referenced *refSet, c *counters) {
	dir := filepath.Join(r.store.Root(), ownerKind, entityID)

	if ownerKind == storage.OwnerRecipes {
		r.migrateGallery(ctx, entityID, referenced, c)
	}

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			logging.Warn("Walking %s: %v", path, err)
			c.errors.Add(1)
			return nil
		}
		if d.IsDir() {
			return nil
		}
		c.scanned.Add(1)

		rel, err := filepath.Rel(r.store.Root(), path)
		if err != nil {
			c.errors.Add(1)
			return nil
		}
		url := "/" + filepath.ToSlash(rel)
		if referenced.has(url) {
			return nil
		}

		if info, err := d.Info(); err == nil && time.Since(info.ModTime()) < removalGrace {
			logging.Debug("Leaving fresh unreferenced file %s for the next sweep", url)
			return nil
		}

		if err := filesystem.RemoveWithRetry(path, filesystem.DefaultRetryConfig()); err != nil {
			logging.Warn("Removing orphaned file %s: %v", url, err)
			c.errors.Add(1)
			return nil
		}
		logging.Debug("Removed orphaned file %s", url)
		c.removed.Add(1)
		return nil
	})
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		logging.Warn("Sweeping %s/%s: %v", ownerKind, entityID, err)
		c.errors.Add(1)
	}

	r.pruneIfEmpty(dir, c)
}

// migrateGallery moves files from a recipe's old gallery/ subdirectory up
// into the recipe directory itself.
func (r *Reconciler) migrateGallery(ctx context.Context, recipeID string, referenced *refSet, c *counters) {
	galleryDir := filepath.Join(r.store.Root(), storage.OwnerRecipes, recipeID, legacyGalleryDir)
	entries, err := os.ReadDir(galleryDir)
	if err != nil {
		return
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !storage.ValidFilename(name) {
			continue
		}
		oldURL := "/" + storage.OwnerRecipes + "/" + recipeID + "/" + legacyGalleryDir + "/" + name
		newURL, err := storage.MigrateLegacyURL(oldURL, recipeID)
		if err != nil {
			c.errors.Add(1)
			continue
		}
		src := filepath.Join(galleryDir, name)
		if err := r.moveAndRewrite(ctx, src, oldURL, newURL, referenced); err != nil {
			logging.Warn("Migrating gallery file %s: %v", oldURL, err)
			c.errors.Add(1)
			continue
		}
		logging.Debug("Migrated %s -> %s", oldURL, newURL)
		c.migrated.Add(1)
	}

	if remaining, err := os.ReadDir(galleryDir); err == nil && len(remaining) == 0 {
		if err := filesystem.RemoveWithRetry(galleryDir, filesystem.DefaultRetryConfig()); err == nil {
			c.dirs.Add(1)
		}
	}
}

// pruneIfEmpty removes a directory that the sweep has emptied, walking up
// through now-empty subdirectories first.
func (r *Reconciler) pruneIfEmpty(dir string, c *counters) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			r.pruneIfEmpty(filepath.Join(dir, entry.Name()), c)
		}
	}
	entries, err = os.ReadDir(dir)
	if err != nil || len(entries) > 0 {
		return
	}
	if err := filesystem.RemoveWithRetry(dir, filesystem.DefaultRetryConfig()); err != nil {
		logging.Warn("Removing empty directory %s: %v", dir, err)
		c.errors.Add(1)
		return
	}
	logging.Debug("Removed empty directory %s", dir)
	c.dirs.Add(1)
}

// dropDanglingRows deletes asset rows whose file no longer exists.
func (r *Reconciler) dropDanglingRows(ctx context.Context, referenced *refSet, c *counters) int {
	dangling := 0
	for _, url := range referenced.all() {
		if storage.IsLegacyURL(url) {
			// Legacy rows are handled by the migration passes; a row
			// that survived means its file was never found, so it is
			// dangling too.
			path := filepath.Join(r.store.Root(), filepath.FromSlash(url))
			if _, err := os.Stat(path); err == nil {
				continue
			}
			if err := r.db.DeleteAssetByURL(ctx, url); err != nil {
				c.errors.Add(1)
				continue
			}
			dangling++
			continue
		}

		path, err := r.store.URLToPath(url)
		if err != nil {
			logging.Warn("Unparseable asset url in database: %s", url)
			c.errors.Add(1)
			continue
		}
		if _, err := os.Stat(path); err == nil {
			continue
		} else if !errors.Is(err, fs.ErrNotExist) {
			c.errors.Add(1)
			continue
		}

		if err := r.db.DeleteAssetByURL(ctx, url); err != nil {
			logging.Warn("Dropping dangling row %s: %v", url, err)
			c.errors.Add(1)
			continue
		}
		logging.Debug("Dropped dangling row %s", url)
		dangling++
	}
	return dangling
}
