package engine

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
)

func writeCollectFile(t *testing.T, dir string, n int) string {
	t.Helper()
	path := filepath.Join(dir, "store1-openarchive-iopx") + "." + strconv.Itoa(n)
	var lines []string
	for i := 0; i < n; i++ {
		lines = append(lines, filepath.Join("path", strconv.Itoa(i)))
	}
	assert.NoError(t, writeLines(path, lines))
	return path
}

func TestSplitCollectFileBatchesEvenly(t *testing.T) {
	dir := t.TempDir()
	path := writeCollectFile(t, dir, 10)

	batches, err := splitCollectFile(path, 3)
	assert.NoError(t, err)
	assert.Len(t, batches, 3) // ceil(10/3) = 4 per batch, 2 full + 1 partial

	total := 0
	for _, b := range batches {
		lines, err := readCollectFile(b)
		assert.NoError(t, err)
		total += len(lines)
	}
	assert.Equal(t, 10, total)

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "original collect file is renamed to .save")
	_, err = os.Stat(collectFileBase(path) + ".save")
	assert.NoError(t, err)
}

func TestSplitCollectFileSingleBatchWhenSmall(t *testing.T) {
	dir := t.TempDir()
	path := writeCollectFile(t, dir, 2)

	// One work item: ceil(2/1) = 2 paths per batch, so a single batch.
	batches, err := splitCollectFile(path, 1)
	assert.NoError(t, err)
	assert.Len(t, batches, 1)
	lines, err := readCollectFile(batches[0])
	assert.NoError(t, err)
	assert.Len(t, lines, 2)
}

func TestSplitCollectFileEmptyProducesOneEmptyBatch(t *testing.T) {
	dir := t.TempDir()
	path := writeCollectFile(t, dir, 0)

	batches, err := splitCollectFile(path, 8)
	assert.NoError(t, err)
	assert.Len(t, batches, 1)
	lines, err := readCollectFile(batches[0])
	assert.NoError(t, err)
	assert.Empty(t, lines)
}

func TestCollectFileBaseStripsNumericSuffix(t *testing.T) {
	assert.Equal(t, "/tmp/store1-openarchive-iopx", collectFileBase("/tmp/store1-openarchive-iopx.42"))
	assert.Equal(t, "/tmp/no-suffix", collectFileBase("/tmp/no-suffix"))
}
