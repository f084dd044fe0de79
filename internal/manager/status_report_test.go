package manager

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vllmgate/internal/registry"
)

func TestModelStatus_MissingDir(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, os.RemoveAll(f.dir))

	st, err := f.m.ModelStatus(context.Background())
	require.NoError(t, err)
	assert.False(t, st.ModelsDirExists)
	assert.False(t, st.ModelsAvailable)
	assert.Empty(t, st.DownloadedModels)
	assert.NotNil(t, st.DownloadedModels)
	assert.Equal(t, "Models directory not found. Please download a model first.", st.Message)
}

func TestModelStatus_Empty(t *testing.T) {
	f := newFixture(t, nil)
	st, err := f.m.ModelStatus(context.Background())
	require.NoError(t, err)
	assert.True(t, st.ModelsDirExists)
	assert.False(t, st.ModelsAvailable)
	assert.NotNil(t, st.Models)
	assert.True(t, st.VLLMHealthy)
	assert.Nil(t, st.CurrentModel)
	assert.Equal(t, "No models downloaded yet", st.Message)
}

func TestModelStatus_WithModels(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t, "org/a")
	f.seed(t, "org/b")
	// stray entries are not artifacts
	require.NoError(t, os.MkdirAll(filepath.Join(f.dir, ".locks"), 0o755))
	f.store.selected = "org/b"
	f.vllm.setModels("org/a")

	st, err := f.m.ModelStatus(context.Background())
	require.NoError(t, err)
	assert.True(t, st.ModelsAvailable)
	assert.ElementsMatch(t, []string{"org/a", "org/b"}, st.DownloadedModels)
	require.Len(t, st.Models, 2)
	for _, rec := range st.Models {
		assert.True(t, rec.Downloaded)
		require.NotNil(t, rec.SizeBytes)
		assert.Positive(t, *rec.SizeBytes)
	}
	require.NotNil(t, st.CurrentModel)
	assert.Equal(t, "org/a", *st.CurrentModel)
	require.NotNil(t, st.SelectedModel)
	assert.Equal(t, "org/b", *st.SelectedModel)
	assert.True(t, st.VLLMHealthy)
	assert.Positive(t, st.DiskFreeBytes)
	assert.Equal(t, "Models found", st.Message)
	assert.True(t, f.cache.Exists("org/a"))
	assert.Equal(t, filepath.Join(f.dir, registry.DirName("org/a")), f.cache.Path("org/a"))
}

func TestModelStatus_PartialNotDownloaded(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t, "org/a")
	f.seedPartial(t, "org/partial")

	st, err := f.m.ModelStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"org/a"}, st.DownloadedModels)
	require.Len(t, st.Models, 2)
	for _, rec := range st.Models {
		assert.Equal(t, rec.ID == "org/a", rec.Downloaded, rec.ID)
	}
}

func TestModelStatus_UpstreamDown(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t, "org/a")
	f.vllm.srv.Close()

	st, err := f.m.ModelStatus(context.Background())
	require.NoError(t, err)
	assert.False(t, st.VLLMHealthy)
	assert.Nil(t, st.CurrentModel)
	assert.Equal(t, []string{"org/a"}, st.DownloadedModels)
}
