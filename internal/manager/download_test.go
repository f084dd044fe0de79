package manager

import (
	"fmt"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vllmgate/internal/artifacts"
)

const (
	waitFor = 5 * time.Second
	tick    = 5 * time.Millisecond
)

func TestDownload_IdleByDefault(t *testing.T) {
	f := newFixture(t, nil)
	job := f.m.Download()
	assert.Equal(t, DownloadIdle, job.Status)
	assert.Equal(t, 0, job.Progress)
}

func TestTriggerDownload_ManualHasNoSideEffects(t *testing.T) {
	f := newFixture(t, func(c *ManagerConfig) { c.Source = artifacts.NewHuggingFace(artifacts.HFConfig{}) })
	res, err := f.m.TriggerDownload("org/model", false)
	require.NoError(t, err)
	assert.True(t, res.Manual)
	assert.Contains(t, res.Command, "huggingface-cli download org/model")
	assert.Contains(t, strings.Join(res.Instructions, "\n"), "POST /download-model?model_id=org/model&auto=true")
	assert.Equal(t, DownloadIdle, f.m.Download().Status)
	_, writes := f.store.snapshot()
	assert.Zero(t, writes)
}

func TestTriggerDownload_ManualWithoutSource(t *testing.T) {
	f := newFixture(t, func(c *ManagerConfig) { c.Source = nil })
	res, err := f.m.TriggerDownload("org/model", false)
	require.NoError(t, err)
	assert.NotEmpty(t, res.Command)

	_, err = f.m.TriggerDownload("org/model", true)
	assert.True(t, IsDownloadUnavailable(err), "got %v", err)
}

func TestTriggerDownload_InvalidID(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.m.TriggerDownload("../etc", true)
	assert.True(t, IsInvalidArgument(err), "got %v", err)
	assert.Zero(t, f.src.callCount())
}

func TestTriggerDownload_RunsToCompletion(t *testing.T) {
	f := newFixture(t, nil)
	gate := f.src.gate("org/model")

	res, err := f.m.TriggerDownload("org/model", true)
	require.NoError(t, err)
	assert.False(t, res.Manual)
	assert.NotEmpty(t, res.OperationID)

	job := f.m.Download()
	assert.Equal(t, DownloadDownloading, job.Status)
	assert.Less(t, job.Progress, 100)
	assert.Equal(t, res.OperationID, job.OperationID)

	close(gate)
	require.Eventually(t, func() bool { return f.m.Download().Status == DownloadComplete }, waitFor, tick)
	job = f.m.Download()
	assert.Equal(t, 100, job.Progress)
	assert.False(t, job.CompletedAt.IsZero())
	assert.Empty(t, job.Error)

	sel, writes := f.store.snapshot()
	assert.Equal(t, "org/model", sel)
	assert.Equal(t, 1, writes)
	assert.True(t, f.cache.Exists("org/model"))
	assert.Len(t, f.pub.Named(EventDownloadComplete), 1)
}

func TestTriggerDownload_ProgressNeverDecreases(t *testing.T) {
	f := newFixture(t, nil)
	gate := f.src.gate("org/model")
	_, err := f.m.TriggerDownload("org/model", true)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return f.m.Download().Progress == 60 }, waitFor, tick)
	close(gate)
	require.Eventually(t, func() bool { return f.m.Download().Status == DownloadComplete }, waitFor, tick)

	last := 0
	for _, e := range f.pub.Named(EventDownloadProgress) {
		p := e.Fields["progress"].(int)
		assert.Greater(t, p, last)
		last = p
	}
}

func TestTriggerDownload_ErrorKeepsProgress(t *testing.T) {
	f := newFixture(t, nil)
	f.src.fail("org/model", errBoom)
	_, err := f.m.TriggerDownload("org/model", true)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return f.m.Download().Status == DownloadError }, waitFor, tick)
	job := f.m.Download()
	assert.Equal(t, 60, job.Progress)
	assert.Equal(t, "Download failed: boom", job.Error)
	_, writes := f.store.snapshot()
	assert.Zero(t, writes)
	assert.Len(t, f.pub.Named(EventDownloadFailed), 1)
}

func TestTriggerDownload_SourceUnavailable(t *testing.T) {
	f := newFixture(t, nil)
	f.src.fail("org/missing", fmt.Errorf("%w: org/missing", artifacts.ErrUnavailable))
	_, err := f.m.TriggerDownload("org/missing", true)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return f.m.Download().Status == DownloadError }, waitFor, tick)
	assert.True(t, strings.HasPrefix(f.m.Download().Error, "Artifact source error:"))
}

func TestTriggerDownload_PersistFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.store.err = errBoom
	_, err := f.m.TriggerDownload("org/model", true)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return f.m.Download().Status == DownloadError }, waitFor, tick)
	assert.Contains(t, f.m.Download().Error, "persist model selection")
	assert.Equal(t, 90, f.m.Download().Progress)
}

func TestTriggerDownload_DiskPreflight(t *testing.T) {
	f := newFixture(t, func(c *ManagerConfig) { c.MinFreeDiskBytes = math.MaxUint64 })
	_, err := f.m.TriggerDownload("org/model", true)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return f.m.Download().Status == DownloadError }, waitFor, tick)
	job := f.m.Download()
	assert.Contains(t, job.Error, "insufficient disk space")
	assert.Equal(t, progressCacheReady, job.Progress)
	assert.Zero(t, f.src.callCount())
}

func TestTriggerDownload_LastWriteWins(t *testing.T) {
	f := newFixture(t, nil)
	gateA := f.src.gate("org/a")

	first, err := f.m.TriggerDownload("org/a", true)
	require.NoError(t, err)
	second, err := f.m.TriggerDownload("org/b", true)
	require.NoError(t, err)
	assert.NotEqual(t, first.OperationID, second.OperationID)

	require.Eventually(t, func() bool { return f.m.Download().Status == DownloadComplete }, waitFor, tick)
	assert.Equal(t, "org/b", f.m.Download().ModelID)

	// The superseded task finishes later without touching state.
	close(gateA)
	require.NoError(t, f.m.Close())

	job := f.m.Download()
	assert.Equal(t, "org/b", job.ModelID)
	assert.Equal(t, second.OperationID, job.OperationID)
	assert.Equal(t, DownloadComplete, job.Status)
	sel, writes := f.store.snapshot()
	assert.Equal(t, "org/b", sel)
	assert.Equal(t, 1, writes)
}

func TestDownloadErrorMessage(t *testing.T) {
	assert.Equal(t, "Download failed: x", downloadErrorMessage(fmt.Errorf("x")))
	assert.True(t, strings.HasPrefix(downloadErrorMessage(artifacts.ErrUnavailable), "Artifact source error:"))
}
