// Package platform defines the pluggable contracts for fetching media from a
// source platform and post-processing the fetched files. The orchestration
// layers only ever see these interfaces.
package platform

import (
	"context"
	"fmt"

	"github.com/waqarahm3d/qoqnuzmedia/internal/entity"
)

// Metadata describes a source URL before anything is fetched.
type Metadata struct {
	Title        string
	Artist       string
	ThumbnailURL string
	// ItemCount is how many individual items the URL resolves to under the
	// requested selection mode.
	ItemCount int
}

// FetchResult describes one fetched item on local disk.
type FetchResult struct {
	SourceID        string
	SourceURL       string
	FilePath        string
	Title           string
	Artist          string
	DurationSeconds float64
	SizeBytes       int64
}

// ProgressFunc receives fetch progress in percent of the overall fetch phase.
type ProgressFunc func(percent float64)

// Fetcher pulls media from one source platform.
type Fetcher interface {
	// Validate reports whether the URL belongs to this platform.
	Validate(rawURL string) bool
	// ExtractInfo resolves metadata without downloading anything.
	ExtractInfo(ctx context.Context, rawURL string, mode entity.SelectionMode) (*Metadata, error)
	// Fetch downloads every item the URL resolves to into destDir. Items that
	// fail individually are skipped; Fetch only errors when nothing could be
	// fetched at all.
	Fetch(ctx context.Context, rawURL, destDir string, mode entity.SelectionMode, progress ProgressFunc) ([]FetchResult, error)
}

// ProcessResult describes one finalized output file.
type ProcessResult struct {
	OutputPath string
	SizeBytes  int64
	FileHash   string
	Normalized bool
	Enhanced   bool
}

// Processor turns a fetched file into its final form according to the
// processing snapshot frozen onto the job.
type Processor interface {
	Process(ctx context.Context, filePath string, snapshot entity.ProcessingSnapshot) (*ProcessResult, error)
}

// Registry maps source platforms to their fetchers and holds the processor.
type Registry struct {
	fetchers  map[entity.SourcePlatform]Fetcher
	processor Processor
}

func NewRegistry(processor Processor) *Registry {
	return &Registry{
		fetchers:  make(map[entity.SourcePlatform]Fetcher),
		processor: processor,
	}
}

// Register installs a fetcher for a platform, replacing any previous one.
func (r *Registry) Register(p entity.SourcePlatform, f Fetcher) {
	r.fetchers[p] = f
}

// Fetcher returns the fetcher for a platform.
func (r *Registry) Fetcher(p entity.SourcePlatform) (Fetcher, error) {
	f, ok := r.fetchers[p]
	if !ok {
		return nil, fmt.Errorf("no fetcher registered for platform %s", p)
	}
	return f, nil
}

// Processor returns the shared post-processor.
func (r *Registry) Processor() Processor {
	return r.processor
}
