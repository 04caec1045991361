package platform

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waqarahm3d/qoqnuzmedia/internal/entity"
	"github.com/waqarahm3d/qoqnuzmedia/internal/observability"
)

func newTestFetcher(hosts []string) *HTTPFetcher {
	return NewHTTPFetcher(hosts, observability.NopLogger{}, observability.NopMetrics{})
}

func TestHTTPFetcher_Validate(t *testing.T) {
	f := newTestFetcher([]string{"youtube.com", "youtu.be"})

	assert.True(t, f.Validate("https://www.youtube.com/watch?v=abc"))
	assert.True(t, f.Validate("https://music.youtube.com/watch?v=abc"))
	assert.True(t, f.Validate("https://youtu.be/abc"))
	assert.False(t, f.Validate("https://soundcloud.com/artist/track"))
	assert.False(t, f.Validate("ftp://youtube.com/x"))
	assert.False(t, f.Validate("not a url"))

	open := newTestFetcher(nil)
	assert.True(t, open.Validate("https://anything.example.com/a.mp3"))
}

func TestHTTPFetcher_Fetch(t *testing.T) {
	payload := []byte("pretend this is audio data, long enough to chunk")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	defer srv.Close()

	f := newTestFetcher(nil)
	dest := t.TempDir()

	var lastPercent float64
	results, err := f.Fetch(context.Background(), srv.URL+"/track.mp3", dest,
		entity.SelectionSingle, func(p float64) { lastPercent = p })
	require.NoError(t, err)
	require.Len(t, results, 1)

	assert.Equal(t, filepath.Join(dest, "track.mp3"), results[0].FilePath)
	assert.Equal(t, int64(len(payload)), results[0].SizeBytes)
	assert.Equal(t, float64(100), lastPercent)

	data, err := os.ReadFile(results[0].FilePath)
	require.NoError(t, err)
	assert.Equal(t, payload, data)
}

func TestHTTPFetcher_FetchServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := newTestFetcher(nil)
	_, err := f.Fetch(context.Background(), srv.URL+"/missing.mp3", t.TempDir(),
		entity.SelectionSingle, nil)
	require.Error(t, err)

	var de *entity.DomainError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, entity.CodeFetch, de.Code)
	assert.True(t, de.Retryable)
}

func TestFileFinalizer_Process(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "track.mp3")
	require.NoError(t, os.WriteFile(file, []byte("audio bytes"), 0644))

	p := NewFileFinalizer(observability.NopLogger{}, observability.NopMetrics{})
	snapshot := entity.ProcessingSnapshot{NormalizeAudio: true, EmbedMetadata: false}

	result, err := p.Process(context.Background(), file, snapshot)
	require.NoError(t, err)

	assert.Equal(t, file, result.OutputPath)
	assert.Equal(t, int64(len("audio bytes")), result.SizeBytes)
	assert.Len(t, result.FileHash, 64)
	assert.True(t, result.Normalized)
	assert.False(t, result.Enhanced)

	// Same content hashes the same; that is what duplicate detection rests on.
	file2 := filepath.Join(dir, "copy.mp3")
	require.NoError(t, os.WriteFile(file2, []byte("audio bytes"), 0644))
	result2, err := p.Process(context.Background(), file2, snapshot)
	require.NoError(t, err)
	assert.Equal(t, result.FileHash, result2.FileHash)
}

func TestFileFinalizer_ProcessEmptyFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "empty.mp3")
	require.NoError(t, os.WriteFile(file, nil, 0644))

	p := NewFileFinalizer(observability.NopLogger{}, observability.NopMetrics{})
	_, err := p.Process(context.Background(), file, entity.ProcessingSnapshot{})
	assert.Error(t, err)
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry(NewFileFinalizer(observability.NopLogger{}, observability.NopMetrics{}))
	reg.Register(entity.PlatformYouTube, newTestFetcher([]string{"youtube.com"}))

	f, err := reg.Fetcher(entity.PlatformYouTube)
	require.NoError(t, err)
	assert.NotNil(t, f)

	_, err = reg.Fetcher(entity.PlatformSoundCloud)
	assert.Error(t, err)

	assert.NotNil(t, reg.Processor())
}
