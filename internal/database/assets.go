package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"recipe-media/internal/logging"
	"recipe-media/internal/metrics"
)

// UpsertRecipe records a recipe id so assets can be attached to it.
func (d *Database) UpsertRecipe(ctx context.Context, id, name string) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("upsert_recipe", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err = d.db.ExecContext(ctx, `
		INSERT INTO recipes (id, name) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			updated_at = strftime('%s', 'now')
	`, id, name)
	if err != nil {
		return fmt.Errorf("failed to upsert recipe: %w", err)
	}
	return nil
}

// RecipeExists reports whether a recipe id is known.
func (d *Database) RecipeExists(ctx context.Context, id string) (bool, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("recipe_exists", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var count int
	err = d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM recipes WHERE id = ?", id).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// RecipeIDs returns all known recipe ids.
func (d *Database) RecipeIDs(ctx context.Context) ([]string, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("recipe_ids", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	rows, err := d.db.QueryContext(ctx, "SELECT id FROM recipes")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err = rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	err = rows.Err()
	return ids, err
}

// DeleteRecipe removes a recipe and all of its asset rows. The files on
// disk are the store's problem; callers pair this with DeleteRecipeDir.
func (d *Database) DeleteRecipe(ctx context.Context, id string) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("delete_recipe", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	if _, err = d.db.ExecContext(ctx, "DELETE FROM assets WHERE owner_id = ?", id); err != nil {
		return fmt.Errorf("failed to delete recipe assets: %w", err)
	}
	if _, err = d.db.ExecContext(ctx, "DELETE FROM recipes WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete recipe: %w", err)
	}
	return nil
}

// InsertAsset records a stored asset. Saving identical content twice
// yields the same URL, so conflicts just refresh the row.
func (d *Database) InsertAsset(ctx context.Context, asset *Asset) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("insert_asset", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err = d.db.ExecContext(ctx, `
		INSERT INTO assets (owner_id, url, kind, content_hash, size_bytes)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(url) DO UPDATE SET
			owner_id = excluded.owner_id,
			kind = excluded.kind,
			content_hash = excluded.content_hash,
			size_bytes = excluded.size_bytes
	`, asset.OwnerID, asset.URL, asset.Kind, asset.ContentHash, asset.SizeBytes)
	if err != nil {
		return fmt.Errorf("failed to insert asset: %w", err)
	}
	return nil
}

// DeleteAssetByURL removes the asset row for a URL. Missing rows are not
// an error; disk and database can disagree until the next sweep.
func (d *Database) DeleteAssetByURL(ctx context.Context, url string) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("delete_asset", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	result, err := d.db.ExecContext(ctx, "DELETE FROM assets WHERE url = ?", url)
	if err != nil {
		return fmt.Errorf("failed to delete asset: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		logging.Debug("Delete asset: no row for %s", url)
	}
	return nil
}

// GetAssetByURL returns the asset row for a URL, or sql.ErrNoRows.
func (d *Database) GetAssetByURL(ctx context.Context, url string) (*Asset, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("get_asset", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var a Asset
	var hash sql.NullString
	var createdAt int64
	err = d.db.QueryRowContext(ctx, `
		SELECT id, owner_id, url, kind, content_hash, size_bytes, created_at
		FROM assets WHERE url = ?
	`, url).Scan(&a.ID, &a.OwnerID, &a.URL, &a.Kind, &hash, &a.SizeBytes, &createdAt)
	if err != nil {
		return nil, err
	}
	a.ContentHash = hash.String
	a.CreatedAt = time.Unix(createdAt, 0)
	return &a, nil
}

// ListAssetsByOwner returns all asset rows owned by an entity.
func (d *Database) ListAssetsByOwner(ctx context.Context, ownerID string) ([]Asset, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("list_assets", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	rows, err := d.db.QueryContext(ctx, `
		SELECT id, owner_id, url, kind, content_hash, size_bytes, created_at
		FROM assets WHERE owner_id = ? ORDER BY created_at
	`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assets []Asset
	for rows.Next() {
		var a Asset
		var hash sql.NullString
		var createdAt int64
		if err = rows.Scan(&a.ID, &a.OwnerID, &a.URL, &a.Kind, &hash, &a.SizeBytes, &createdAt); err != nil {
			return nil, err
		}
		a.ContentHash = hash.String
		a.CreatedAt = time.Unix(createdAt, 0)
		assets = append(assets, a)
	}
	err = rows.Err()
	return assets, err
}

// ReferencedURLs returns the set of every asset URL the database knows
// about. The reconciler diffs this against what is actually on disk.
func (d *Database) ReferencedURLs(ctx context.Context) (map[string]struct{}, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("referenced_urls", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	rows, err := d.db.QueryContext(ctx, "SELECT url FROM assets")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	urls := make(map[string]struct{})
	for rows.Next() {
		var url string
		if err = rows.Scan(&url); err != nil {
			return nil, err
		}
		urls[url] = struct{}{}
	}
	err = rows.Err()
	return urls, err
}

// LegacyOwner finds the recipe that references a legacy flat image by its
// bare filename. Flat URLs carry no owner, so this lookup is what makes
// their migration possible. Returns "" when no recipe references it.
func (d *Database) LegacyOwner(ctx context.Context, filename string) (string, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("legacy_owner", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var ownerID string
	err = d.db.QueryRowContext(ctx,
		"SELECT owner_id FROM assets WHERE url = ?",
		"/recipes/images/"+filename,
	).Scan(&ownerID)
	if errors.Is(err, sql.ErrNoRows) {
		err = nil
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return ownerID, nil
}

// UpdateAssetURL rewrites an asset row's URL, used when a legacy file is
// migrated to its canonical location.
func (d *Database) UpdateAssetURL(ctx context.Context, oldURL, newURL string) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("update_asset_url", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err = d.db.ExecContext(ctx,
		"UPDATE assets SET url = ? WHERE url = ?",
		newURL, oldURL,
	)
	if err != nil {
		return fmt.Errorf("failed to update asset url: %w", err)
	}
	return nil
}

// GetAssetStats summarizes the asset inventory by kind.
func (d *Database) GetAssetStats(ctx context.Context) (AssetStats, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("asset_stats", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	rows, err := d.db.QueryContext(ctx, `
		SELECT kind, COUNT(*), COALESCE(SUM(size_bytes), 0)
		FROM assets GROUP BY kind
	`)
	if err != nil {
		return AssetStats{}, err
	}
	defer rows.Close()

	var stats AssetStats
	for rows.Next() {
		var kind string
		var count int
		var bytes int64
		if err = rows.Scan(&kind, &count, &bytes); err != nil {
			return AssetStats{}, err
		}
		switch strings.ToLower(kind) {
		case "video":
			stats.Videos = count
		case "avatar":
			stats.Avatars = count
		default:
			stats.Images += count
		}
		stats.TotalBytes += bytes
	}
	err = rows.Err()
	return stats, err
}

// UpdateStats caches an inventory snapshot for the metrics collector.
func (d *Database) UpdateStats(stats metrics.Stats) {
	d.statsMu.Lock()
	defer d.statsMu.Unlock()
	d.stats = stats
}

// GetStats returns the cached inventory snapshot.
func (d *Database) GetStats() metrics.Stats {
	d.statsMu.RLock()
	defer d.statsMu.RUnlock()
	return d.stats
}

// RefreshStats recomputes the inventory snapshot from the assets table.
func (d *Database) RefreshStats(ctx context.Context) error {
	stats, err := d.GetAssetStats(ctx)
	if err != nil {
		return err
	}
	d.UpdateStats(metrics.Stats{
		TotalImages:  stats.Images,
		TotalVideos:  stats.Videos,
		TotalAvatars: stats.Avatars,
		TotalBytes:   stats.TotalBytes,
	})
	return nil
}
