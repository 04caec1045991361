// Package quota gates job admission on storage usage.
package quota

import (
	"sync"
	"time"

	"github.com/waqarahm3d/qoqnuzmedia/internal/fsutil"
	"github.com/waqarahm3d/qoqnuzmedia/internal/observability"
)

// Provider supplies storage usage figures. The default implementation scans
// the download directory; tests substitute a fake.
type Provider interface {
	UsedBytes() (int64, error)
	FreeBytes() (int64, error)
}

// DirProvider measures usage with a recursive scan of the download root.
type DirProvider struct {
	Root string
}

func (p DirProvider) UsedBytes() (int64, error) {
	return fsutil.DirSize(p.Root)
}

func (p DirProvider) FreeBytes() (int64, error) {
	return fsutil.FreeBytes(p.Root)
}

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed    bool
	UsedBytes  int64
	LimitBytes int64
	FreeBytes  int64
}

// Guard rejects admission when used storage reaches the configured ceiling.
// The usage figure is a cached approximation: scans are expensive and the
// counter only needs eventual consistency.
type Guard struct {
	provider   Provider
	limitBytes int64
	cacheTTL   time.Duration
	logger     observability.Logger

	mu         sync.Mutex
	cachedUsed int64
	cachedAt   time.Time
}

// NewGuard creates a guard with the given ceiling and cache TTL. A TTL of
// zero disables caching, every Admit rescans.
func NewGuard(provider Provider, limitBytes int64, cacheTTL time.Duration, logger observability.Logger) *Guard {
	return &Guard{
		provider:   provider,
		limitBytes: limitBytes,
		cacheTTL:   cacheTTL,
		logger:     logger.WithFields(map[string]interface{}{"component": "quota"}),
	}
}

// Admit checks current usage against the ceiling. It is called both at job
// creation (fast-fail before enqueue) and again inside the worker right
// before the fetch phase, since usage may have grown in between.
func (g *Guard) Admit() (Decision, error) {
	used, err := g.usedBytes()
	if err != nil {
		return Decision{}, err
	}

	free, err := g.provider.FreeBytes()
	if err != nil {
		g.logger.Warn("failed to read free space", "error", err)
		free = 0
	}

	decision := Decision{
		Allowed:    used < g.limitBytes,
		UsedBytes:  used,
		LimitBytes: g.limitBytes,
		FreeBytes:  free,
	}

	if !decision.Allowed {
		g.logger.Warn("storage quota exceeded",
			"used_bytes", used,
			"limit_bytes", g.limitBytes)
	}
	return decision, nil
}

// UsedBytes exposes the (possibly cached) usage figure for stats snapshots.
func (g *Guard) UsedBytes() (int64, error) {
	return g.usedBytes()
}

// Invalidate drops the cached usage so the next Admit rescans.
func (g *Guard) Invalidate() {
	g.mu.Lock()
	g.cachedAt = time.Time{}
	g.mu.Unlock()
}

func (g *Guard) usedBytes() (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.cacheTTL > 0 && time.Since(g.cachedAt) < g.cacheTTL {
		return g.cachedUsed, nil
	}

	used, err := g.provider.UsedBytes()
	if err != nil {
		return 0, err
	}

	g.cachedUsed = used
	g.cachedAt = time.Now()
	return used, nil
}
