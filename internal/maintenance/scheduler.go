// Package maintenance runs the periodic housekeeping: expiring temp files and
// appending statistics snapshots. The two tasks tick independently, a stalled
// rollup never delays cleanup.
package maintenance

import (
	"context"
	"time"

	"github.com/waqarahm3d/qoqnuzmedia/internal/entity"
	"github.com/waqarahm3d/qoqnuzmedia/internal/fsutil"
	"github.com/waqarahm3d/qoqnuzmedia/internal/observability"
)

// JobCounter reports job counts grouped by status.
type JobCounter interface {
	CountByStatus(ctx context.Context) (map[entity.JobStatus]int, error)
}

// TrackRoller aggregates track statistics.
type TrackRoller interface {
	Rollup(ctx context.Context) (total int, totalDuration float64, byPlatform map[entity.SourcePlatform]int, err error)
}

// StatsSink appends finished snapshots.
type StatsSink interface {
	Append(ctx context.Context, snap *entity.StatsSnapshot) error
}

// UsageSource reports current storage usage.
type UsageSource interface {
	UsedBytes() (int64, error)
}

// Options carries the housekeeping policy.
type Options struct {
	TempDir         string
	DownloadDir     string
	CleanupInterval time.Duration
	TempFileMaxAge  time.Duration
	StatsInterval   time.Duration
}

// Scheduler drives the periodic tasks until its context is cancelled.
type Scheduler struct {
	jobs   JobCounter
	tracks TrackRoller
	stats  StatsSink
	usage  UsageSource
	opts   Options
	logger observability.Logger
}

func NewScheduler(jobs JobCounter, tracks TrackRoller, stats StatsSink, usage UsageSource, opts Options, logger observability.Logger) *Scheduler {
	return &Scheduler{
		jobs:   jobs,
		tracks: tracks,
		stats:  stats,
		usage:  usage,
		opts:   opts,
		logger: logger.WithFields(map[string]interface{}{"component": "maintenance"}),
	}
}

// Run blocks until ctx is cancelled, executing both tasks on their intervals.
func (s *Scheduler) Run(ctx context.Context) {
	cleanup := time.NewTicker(s.opts.CleanupInterval)
	defer cleanup.Stop()
	stats := time.NewTicker(s.opts.StatsInterval)
	defer stats.Stop()

	s.logger.Info("maintenance scheduler started",
		"cleanup_interval", s.opts.CleanupInterval.String(),
		"stats_interval", s.opts.StatsInterval.String())

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("maintenance scheduler stopped")
			return
		case <-cleanup.C:
			s.RunCleanup()
		case <-stats.C:
			if err := s.RunStatsSnapshot(ctx); err != nil {
				s.logger.Error("stats snapshot failed", "error", err)
			}
		}
	}
}

// RunCleanup removes temp files past their maximum age.
func (s *Scheduler) RunCleanup() {
	removed, err := fsutil.RemoveOlderThan(s.opts.TempDir, s.opts.TempFileMaxAge)
	if err != nil {
		s.logger.Error("temp cleanup failed", "error", err)
		return
	}
	if removed > 0 {
		s.logger.Info("temp files removed", "count", removed)
	}
}

// RunStatsSnapshot gathers a point-in-time rollup and appends it.
func (s *Scheduler) RunStatsSnapshot(ctx context.Context) error {
	byStatus, err := s.jobs.CountByStatus(ctx)
	if err != nil {
		return err
	}

	totalJobs := 0
	for _, n := range byStatus {
		totalJobs += n
	}
	activeJobs := byStatus[entity.StatusQueued] +
		byStatus[entity.StatusDownloading] +
		byStatus[entity.StatusProcessing]

	totalTracks, totalDuration, byPlatform, err := s.tracks.Rollup(ctx)
	if err != nil {
		return err
	}

	usedBytes, err := s.usage.UsedBytes()
	if err != nil {
		s.logger.Warn("failed to measure storage usage", "error", err)
	}

	totalFiles := 0
	if counts, err := fsutil.CountFilesByExt(s.opts.DownloadDir); err == nil {
		for _, n := range counts {
			totalFiles += n
		}
	}

	snap := &entity.StatsSnapshot{
		StorageUsedBytes: usedBytes,
		TotalFiles:       totalFiles,
		TotalJobs:        totalJobs,
		CompletedJobs:    byStatus[entity.StatusCompleted],
		FailedJobs:       byStatus[entity.StatusFailed],
		ActiveJobs:       activeJobs,
		TotalTracks:      totalTracks,
		TotalDurationSec: totalDuration,
		YouTubeTracks:    byPlatform[entity.PlatformYouTube],
		SoundCloudTracks: byPlatform[entity.PlatformSoundCloud],
		RecordedAt:       time.Now().UTC(),
	}
	if err := s.stats.Append(ctx, snap); err != nil {
		return err
	}

	s.logger.Debug("stats snapshot recorded",
		"total_jobs", totalJobs, "total_tracks", totalTracks, "storage_used", usedBytes)
	return nil
}
