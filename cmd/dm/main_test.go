package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/quorumfs/dm/engine"
)

func TestBackupCommandRejectsWrongArgCount(t *testing.T) {
	rootCommand.SetArgs([]string{"backup", "clusterfs", "store1"})
	err := rootCommand.Execute()
	assert.Error(t, err)
}

func TestScanCommandRejectsWrongArgCount(t *testing.T) {
	rootCommand.SetArgs([]string{"scan", "full", "clusterfs"})
	err := rootCommand.Execute()
	assert.Error(t, err)
}

func TestScanCommandRejectsInvalidMode(t *testing.T) {
	rootCommand.SetArgs([]string{"scan", "bogus", "clusterfs", "store1", "/tmp/out.txt"})
	err := rootCommand.Execute()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "mode must be")
}

func TestLocationForUsesProductAndStore(t *testing.T) {
	loc := locationFor(engine.StoreConfig{Product: "clusterfs", Store: "store1"})
	assert.Equal(t, "clusterfs", loc.Product)
	assert.Equal(t, "store1", loc.Store)
}
