package metrics

import (
	"time"

	"recipe-media/internal/logging"
)

// StatsProvider supplies current asset inventory numbers.
type StatsProvider interface {
	GetStats() Stats
}

// Stats holds the asset inventory snapshot exported as gauges.
type Stats struct {
	TotalImages  int
	TotalVideos  int
	TotalAvatars int
	TotalBytes   int64
}

// Collector periodically refreshes the inventory gauges.
type Collector struct {
	statsProvider StatsProvider
	interval      time.Duration
	stopChan      chan struct{}
}

// NewCollector creates a new metrics collector.
func NewCollector(provider StatsProvider, interval time.Duration) *Collector {
	return &Collector{
		statsProvider: provider,
		interval:      interval,
		stopChan:      make(chan struct{}),
	}
}

// Start begins the metrics collection loop.
func (c *Collector) Start() {
	go c.collectLoop()
}

// Stop stops the metrics collection.
func (c *Collector) Stop() {
	close(c.stopChan)
}

func (c *Collector) collectLoop() {
	// Collect immediately on start
	c.collect()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.collect()
		case <-c.stopChan:
			return
		}
	}
}

func (c *Collector) collect() {
	if c.statsProvider == nil {
		return
	}

	stats := c.statsProvider.GetStats()

	AssetsTotal.WithLabelValues("image").Set(float64(stats.TotalImages))
	AssetsTotal.WithLabelValues("video").Set(float64(stats.TotalVideos))
	AssetsTotal.WithLabelValues("avatar").Set(float64(stats.TotalAvatars))
	AssetBytesTotal.Set(float64(stats.TotalBytes))

	logging.Debug("Metrics collected: images=%d, videos=%d, avatars=%d, bytes=%d",
		stats.TotalImages, stats.TotalVideos, stats.TotalAvatars, stats.TotalBytes)
}
