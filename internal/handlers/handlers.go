package handlers

import (
	"time"

	"recipe-media/internal/database"
	"recipe-media/internal/fetch"
	"recipe-media/internal/reconciler"
	"recipe-media/internal/startup"
	"recipe-media/internal/storage"
	"recipe-media/internal/videonorm"
)

type Handlers struct {
	db         *database.Database
	store      *storage.Store
	downloader *fetch.Downloader
	converter  *videonorm.Converter
	reconciler *reconciler.Reconciler
	tmpDir     string
	startedAt  time.Time
}

func New(db *database.Database, store *storage.Store, downloader *fetch.Downloader, converter *videonorm.Converter, rec *reconciler.Reconciler, config *startup.Config) *Handlers {
	return &Handlers{
		db:         db,
		store:      store,
		downloader: downloader,
		converter:  converter,
		reconciler: rec,
		tmpDir:     config.TmpDir,
		startedAt:  time.Now(),
	}
}
