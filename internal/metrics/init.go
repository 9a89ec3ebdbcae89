package metrics

// InitializeMetrics pre-populates all expected label combinations so that
// every metric is exported from the first Prometheus scrape.
// Call this once at startup after metric registration.
func InitializeMetrics() {
	// --- Save pipeline (per kind × status) ---
	for _, kind := range []string{"image", "avatar", "video"} {
		SavesTotal.WithLabelValues(kind, "success")
		SavesTotal.WithLabelValues(kind, "error")
		SavedBytes.WithLabelValues(kind)
		AssetsTotal.WithLabelValues(kind)
	}

	// --- Image normalization by sniffed source format ---
	for _, format := range []string{"jpeg", "png", "gif", "webp", "avif", "heic", "unknown"} {
		ImageNormalizeTotal.WithLabelValues(format, "success")
		ImageNormalizeTotal.WithLabelValues(format, "error")
		ImageNormalizeDuration.WithLabelValues(format)
	}

	// --- Video conversion outcomes ---
	for _, method := range []string{"none", "remux", "transcode", "original"} {
		VideoConversionsTotal.WithLabelValues(method)
		VideoConversionDuration.WithLabelValues(method)
	}

	// --- Downloads ---
	for _, status := range []string{"success", "http_error", "bad_content", "timeout", "error"} {
		DownloadsTotal.WithLabelValues(status)
	}

	// --- Auth ---
	AuthAttemptsTotal.WithLabelValues("success")
	AuthAttemptsTotal.WithLabelValues("failure")

	// --- Filesystem retry metrics (per retry-operation × volume) ---
	volumes := []string{"uploads", "database", "unknown"}
	retryOps := []string{"stat", "remove", "removeall", "readdir"}

	for _, op := range retryOps {
		for _, vol := range volumes {
			FilesystemRetryAttempts.WithLabelValues(op, vol)
			FilesystemRetrySuccess.WithLabelValues(op, vol)
			FilesystemRetryFailures.WithLabelValues(op, vol)
			FilesystemStaleErrors.WithLabelValues(op, vol)
			FilesystemRetryDuration.WithLabelValues(op, vol)
		}
	}

	// --- DB query operations ---
	for _, op := range []string{"initialize_schema", "insert_asset", "delete_asset",
		"referenced_urls", "legacy_owner", "update_asset_url", "upsert_recipe",
		"delete_recipe", "recipe_ids", "asset_stats", "create_user",
		"validate_password", "create_session", "validate_session",
		"clean_expired_sessions", "update_password"} {
		DBQueryTotal.WithLabelValues(op, "success")
		DBQueryTotal.WithLabelValues(op, "error")
		DBQueryDuration.WithLabelValues(op)
	}
}
