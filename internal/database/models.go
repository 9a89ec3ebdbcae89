package database

import "time"

// Asset is one stored media file referenced by a recipe or user.
type Asset struct {
	ID          int64     `json:"id"`
	OwnerID     string    `json:"ownerId"`
	URL         string    `json:"url"`
	Kind        string    `json:"kind"`
	ContentHash string    `json:"contentHash,omitempty"`
	SizeBytes   int64     `json:"sizeBytes"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Recipe is the media service's view of a recipe: just enough to anchor
// asset ownership.
type Recipe struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// AssetStats summarizes the asset inventory.
type AssetStats struct {
	Images     int   `json:"images"`
	Videos     int   `json:"videos"`
	Avatars    int   `json:"avatars"`
	TotalBytes int64 `json:"totalBytes"`
}
