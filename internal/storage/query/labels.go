package query

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// LabelSource provides tag labels and the modification time of their
// backing file.
type LabelSource interface {
	Labels(ctx context.Context) (map[string]string, error)
	ModTime() time.Time
}

// LabelCache caches labels until the source's modification time changes.
// Concurrent refreshes share one load.
type LabelCache struct {
	src   LabelSource
	group singleflight.Group

	mu     sync.RWMutex
	labels map[string]string
	stamp  time.Time
	loaded bool
}

// NewLabelCache creates a cache over src.
func NewLabelCache(src LabelSource) *LabelCache {
	return &LabelCache{src: src}
}

// Labels returns the cached labels, reloading them when the source changed.
// The returned map must not be modified.
func (c *LabelCache) Labels(ctx context.Context) (map[string]string, error) {
	stamp := c.src.ModTime()

	c.mu.RLock()
	if c.loaded && c.stamp.Equal(stamp) {
		labels := c.labels
		c.mu.RUnlock()
		return labels, nil
	}
	c.mu.RUnlock()

	v, err, _ := c.group.Do("labels", func() (any, error) {
		labels, err := c.src.Labels(ctx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.labels = labels
		c.stamp = stamp
		c.loaded = true
		c.mu.Unlock()
		return labels, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(map[string]string), nil
}
