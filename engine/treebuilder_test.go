package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/quorumfs/dm/iopx"
)

const tbArgs = "cc=1:cn=client1:ph=proxyhost:pp=9999:at=29:in=inst1:bs=bset1:sc=sub1:jt=full-backup:ns=1"

func newTestEngine() *Engine {
	return New(16, 8)
}

func layerNames(root *iopx.Node) []string {
	var names []string
	n := root
	for {
		names = append(names, n.Name())
		if len(n.Children()) == 0 {
			break
		}
		n = n.Children()[0]
	}
	return names
}

func TestBuildTreeCachesByProductStoreRole(t *testing.T) {
	e := newTestEngine()
	defer e.Stop()
	cfg := StoreConfig{Product: ProductBackupService, Store: "s1", BackupServiceArgs: tbArgs}

	t1, err := e.BuildTree(cfg, RoleSource)
	assert.NoError(t, err)
	t2, err := e.BuildTree(cfg, RoleSource)
	assert.NoError(t, err)
	assert.Same(t, t1, t2)

	t3, err := e.BuildTree(cfg, RoleSink)
	assert.NoError(t, err)
	assert.NotSame(t, t1, t3, "different role must build a distinct tree")
}

func TestBuildTreeRestoreSourceForcesMetaAndFDCache(t *testing.T) {
	e := newTestEngine()
	defer e.Stop()
	cfg := StoreConfig{Product: ProductBackupService, Store: "s1", BackupServiceArgs: tbArgs}

	tree, err := e.BuildTree(cfg, RoleRestoreSource)
	assert.NoError(t, err)
	assert.Equal(t, []string{"perf", "meta", "fdcache", "backupservice"}, layerNames(tree))
}

func TestBuildTreePlainSourceSkipsMetaAndFDCacheByDefault(t *testing.T) {
	e := newTestEngine()
	defer e.Stop()
	cfg := StoreConfig{Product: ProductBackupService, Store: "s2", BackupServiceArgs: tbArgs}

	tree, err := e.BuildTree(cfg, RoleSource)
	assert.NoError(t, err)
	assert.Equal(t, []string{"perf", "backupservice"}, layerNames(tree))
}

func TestBuildTreeUnknownProductFails(t *testing.T) {
	e := newTestEngine()
	defer e.Stop()
	cfg := StoreConfig{Product: "bogus", Store: "s3"}

	_, err := e.BuildTree(cfg, RoleSource)
	assert.Error(t, err)
}
