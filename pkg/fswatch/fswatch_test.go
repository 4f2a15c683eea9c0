package fswatch

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyOperationsUpdateMainDevice(t *testing.T) {
	opsDir := "/etc/tedge/operations/c8y"
	update, ok := ClassifyOperationsUpdate(opsDir, Event{
		Kind: FileCreated,
		Path: filepath.Join(opsDir, "c8y_UploadConfigFile"),
	})
	assert.True(t, ok)
	assert.True(t, update.IsMainDevice)
	assert.Empty(t, update.ChildExternalID)
}

func TestClassifyOperationsUpdateChildDevice(t *testing.T) {
	opsDir := "/etc/tedge/operations/c8y"
	update, ok := ClassifyOperationsUpdate(opsDir, Event{
		Kind: Modified,
		Path: filepath.Join(opsDir, "child1", "c8y_DownloadConfigFile"),
	})
	assert.True(t, ok)
	assert.False(t, update.IsMainDevice)
	assert.Equal(t, "child1", update.ChildExternalID)
}

func TestClassifyOperationsUpdateIgnoresDeeperNesting(t *testing.T) {
	opsDir := "/etc/tedge/operations/c8y"
	_, ok := ClassifyOperationsUpdate(opsDir, Event{
		Kind: FileCreated,
		Path: filepath.Join(opsDir, "child1", "nested", "marker"),
	})
	assert.False(t, ok)
}

func TestClassifyOperationsUpdateChildDirectoryDeleted(t *testing.T) {
	opsDir := "/etc/tedge/operations/c8y"
	update, ok := ClassifyOperationsUpdate(opsDir, Event{
		Kind: DirectoryDeleted,
		Path: filepath.Join(opsDir, "child1"),
	})
	assert.True(t, ok)
	assert.Equal(t, "child1", update.ChildExternalID)
}

func TestClassifyOperationsUpdateIgnoresPathsOutsideRoot(t *testing.T) {
	_, ok := ClassifyOperationsUpdate("/etc/tedge/operations/c8y", Event{
		Kind: FileCreated,
		Path: "/var/somewhere/else",
	})
	assert.False(t, ok)
}
