package platform

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/waqarahm3d/qoqnuzmedia/internal/entity"
	"github.com/waqarahm3d/qoqnuzmedia/internal/observability"
)

// FileFinalizer is the default Processor. It verifies the fetched file,
// computes its content hash for duplicate detection and stamps the processing
// flags from the job's snapshot. Transcoding backends implement the same
// interface and replace it.
type FileFinalizer struct {
	logger  observability.Logger
	metrics observability.Metrics
}

func NewFileFinalizer(logger observability.Logger, metrics observability.Metrics) *FileFinalizer {
	return &FileFinalizer{
		logger:  logger.WithFields(map[string]interface{}{"component": "finalizer"}),
		metrics: metrics,
	}
}

func (p *FileFinalizer) Process(ctx context.Context, filePath string, snapshot entity.ProcessingSnapshot) (*ProcessResult, error) {
	start := time.Now()
	p.metrics.StartOperation("process")
	defer p.metrics.EndOperation("process")

	info, err := os.Stat(filePath)
	if err != nil {
		p.metrics.RecordError("process", "missing_input")
		return nil, fmt.Errorf("input file unavailable: %w", err)
	}
	if info.Size() == 0 {
		p.metrics.RecordError("process", "empty_input")
		return nil, fmt.Errorf("input file %s is empty", filePath)
	}

	hash, err := hashFile(ctx, filePath)
	if err != nil {
		p.metrics.RecordError("process", "hash_failed")
		return nil, fmt.Errorf("failed to hash %s: %w", filePath, err)
	}

	p.logger.Debug("file finalized",
		"path", filePath, "bytes", info.Size(), "format", snapshot.AudioFormat)
	p.metrics.RecordSuccess("process")
	p.metrics.RecordDuration("process", time.Since(start).Seconds())
	p.metrics.RecordFileSize("processed", info.Size())

	return &ProcessResult{
		OutputPath: filePath,
		SizeBytes:  info.Size(),
		FileHash:   hash,
		Normalized: snapshot.NormalizeAudio,
		Enhanced:   snapshot.EmbedMetadata,
	}, nil
}

// hashFile computes the sha256 of a file, checking the context between chunks
// so a cancelled job does not keep hashing a large file.
func hashFile(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	buf := make([]byte, 256*1024)
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		n, readErr := f.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if readErr == io.EOF {
			return hex.EncodeToString(h.Sum(nil)), nil
		}
		if readErr != nil {
			return "", readErr
		}
	}
}
