package reconciler

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"recipe-media/internal/database"
	"recipe-media/internal/imagenorm"
	"recipe-media/internal/storage"
)

const (
	recipeA = "1b4e28ba-2fa1-11d2-883f-0016d3cca427"
	recipeB = "6ba7b810-9dad-11d1-80b4-00c04fd430c8"
	userA   = "7d444840-9dc0-11d1-b245-5ffdce74fad2"
)

type fixture struct {
	store *storage.Store
	db    *database.Database
	rec   *Reconciler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := storage.New(t.TempDir(), storage.DefaultLimits(), imagenorm.New(imagenorm.Options{}))
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	db, err := database.New(context.Background(), filepath.Join(t.TempDir(), "media.db"))
	if err != nil {
		t.Fatalf("database.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return &fixture{store: store, db: db, rec: New(store, db, 0)}
}

// placeFile writes a file at the disk location behind url, bypassing the
// save pipeline. The modtime is backdated past the removal grace window so
// sweeps treat the file as settled.
func (f *fixture) placeFile(t *testing.T, relPath string) string {
	t.Helper()
	path := f.placeFreshFile(t, relPath)
	old := time.Now().Add(-time.Hour)
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}
	return path
}

// placeFreshFile writes a file with its natural just-written modtime.
func (f *fixture) placeFreshFile(t *testing.T, relPath string) string {
	t.Helper()
	path := filepath.Join(f.store.Root(), filepath.FromSlash(relPath))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(path, []byte("payload"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func (f *fixture) reference(t *testing.T, ownerID, url string) {
	t.Helper()
	err := f.db.InsertAsset(context.Background(), &database.Asset{
		OwnerID: ownerID, URL: url, Kind: "image", SizeBytes: 7,
	})
	if err != nil {
		t.Fatalf("InsertAsset: %v", err)
	}
}

func TestSweepRemovesOrphansKeepsReferenced(t *testing.T) {
	f := newFixture(t)

	keptURL := "/recipes/" + recipeA + "/kept.jpg"
	keptPath := f.placeFile(t, "recipes/"+recipeA+"/kept.jpg")
	f.reference(t, recipeA, keptURL)

	orphanPath := f.placeFile(t, "recipes/"+recipeA+"/orphan.jpg")
	avatarOrphan := f.placeFile(t, "users/"+userA+"/stale.jpg")

	result, err := f.rec.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	if _, err := os.Stat(keptPath); err != nil {
		t.Errorf("referenced file removed: %v", err)
	}
	for _, p := range []string{orphanPath, avatarOrphan} {
		if _, err := os.Stat(p); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("orphan %s survived sweep", p)
		}
	}
	if result.RemovedFiles != 2 {
		t.Errorf("RemovedFiles = %d, want 2", result.RemovedFiles)
	}
	if result.Errors != 0 {
		t.Errorf("Errors = %d", result.Errors)
	}
}

func TestSweepMigratesLegacyFlatImages(t *testing.T) {
	f := newFixture(t)

	// A legacy flat file referenced by a recipe moves to that recipe's
	// directory and its row is rewritten.
	f.placeFile(t, "recipes/images/owned.jpg")
	f.reference(t, recipeA, "/recipes/images/owned.jpg")

	// An unreferenced legacy file is an orphan.
	f.placeFile(t, "recipes/images/unowned.jpg")

	result, err := f.rec.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	migrated := filepath.Join(f.store.Root(), "recipes", recipeA, "owned.jpg")
	if _, err := os.Stat(migrated); err != nil {
		t.Errorf("migrated file missing: %v", err)
	}
	if result.MigratedFiles != 1 {
		t.Errorf("MigratedFiles = %d, want 1", result.MigratedFiles)
	}
	if result.RemovedFiles != 1 {
		t.Errorf("RemovedFiles = %d, want 1", result.RemovedFiles)
	}

	// The row now points at the canonical URL.
	ctx := context.Background()
	if _, err := f.db.GetAssetByURL(ctx, "/recipes/images/owned.jpg"); !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("legacy row still present: %v", err)
	}
	if _, err := f.db.GetAssetByURL(ctx, "/recipes/"+recipeA+"/owned.jpg"); err != nil {
		t.Errorf("canonical row missing: %v", err)
	}

	// The flat directory itself is gone.
	if _, err := os.Stat(filepath.Join(f.store.Root(), "recipes", "images")); !errors.Is(err, os.ErrNotExist) {
		t.Error("legacy flat directory survived")
	}
}

func TestSweepMigratesGalleryFiles(t *testing.T) {
	f := newFixture(t)

	legacyURL := "/recipes/" + recipeA + "/gallery/pic.jpg"
	f.placeFile(t, "recipes/"+recipeA+"/gallery/pic.jpg")
	f.reference(t, recipeA, legacyURL)

	result, err := f.rec.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	if _, err := os.Stat(filepath.Join(f.store.Root(), "recipes", recipeA, "pic.jpg")); err != nil {
		t.Errorf("migrated gallery file missing: %v", err)
	}
	if result.MigratedFiles != 1 {
		t.Errorf("MigratedFiles = %d, want 1", result.MigratedFiles)
	}
	if _, err := f.db.GetAssetByURL(context.Background(), "/recipes/"+recipeA+"/pic.jpg"); err != nil {
		t.Errorf("canonical row missing after gallery migration: %v", err)
	}
}

func TestSweepPrunesEmptyEntityDirs(t *testing.T) {
	f := newFixture(t)

	// Recipe B was deleted: its files have no rows.
	f.placeFile(t, "recipes/"+recipeB+"/a.jpg")
	f.placeFile(t, "recipes/"+recipeB+"/steps/b.jpg")

	result, err := f.rec.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	if _, err := os.Stat(filepath.Join(f.store.Root(), "recipes", recipeB)); !errors.Is(err, os.ErrNotExist) {
		t.Error("deleted recipe's directory survived")
	}
	if result.RemovedFiles != 2 {
		t.Errorf("RemovedFiles = %d, want 2", result.RemovedFiles)
	}
	if result.RemovedDirs == 0 {
		t.Error("RemovedDirs = 0")
	}
}

func TestSweepDropsDanglingRows(t *testing.T) {
	f := newFixture(t)

	// Row with no file behind it.
	f.reference(t, recipeA, "/recipes/"+recipeA+"/ghost.jpg")

	result, err := f.rec.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	if result.DanglingRows != 1 {
		t.Errorf("DanglingRows = %d, want 1", result.DanglingRows)
	}
	if _, err := f.db.GetAssetByURL(context.Background(), "/recipes/"+recipeA+"/ghost.jpg"); !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("dangling row still present: %v", err)
	}
}

func TestSweepSkipsUnexpectedNames(t *testing.T) {
	f := newFixture(t)

	// Directories and files outside the layout are left alone, not
	// deleted; the sweep only touches what it understands.
	stray := f.placeFile(t, "recipes/not-an-entity-id/file.jpg")

	result, err := f.rec.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if _, err := os.Stat(stray); err != nil {
		t.Errorf("stray file was touched: %v", err)
	}
	if result.RemovedFiles != 0 {
		t.Errorf("RemovedFiles = %d, want 0", result.RemovedFiles)
	}
}

func TestSweepLeavesFreshUnreferencedFiles(t *testing.T) {
	f := newFixture(t)

	// A file placed moments ago may be an upload whose row has not landed
	// yet; the sweep must not race it.
	fresh := f.placeFreshFile(t, "recipes/"+recipeA+"/inflight.jpg")

	result, err := f.rec.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	if _, err := os.Stat(fresh); err != nil {
		t.Errorf("fresh file removed: %v", err)
	}
	if result.RemovedFiles != 0 {
		t.Errorf("RemovedFiles = %d, want 0", result.RemovedFiles)
	}
}

func TestSweepRecordsLastResult(t *testing.T) {
	f := newFixture(t)

	if _, ok := f.rec.LastResult(); ok {
		t.Error("LastResult reported before any sweep")
	}
	if _, err := f.rec.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	result, ok := f.rec.LastResult()
	if !ok {
		t.Fatal("LastResult missing after sweep")
	}
	if result.StartedAt.IsZero() || result.Duration < 0 {
		t.Errorf("LastResult = %+v", result)
	}
}
