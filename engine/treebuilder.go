package engine

import (
	"fmt"
	"time"

	"github.com/quorumfs/dm/backend/backupservice"
	"github.com/quorumfs/dm/backend/clusterfs"
	"github.com/quorumfs/dm/fdcache"
	"github.com/quorumfs/dm/iopx"
	"github.com/quorumfs/dm/meta"
	"github.com/quorumfs/dm/perf"
)

// treeKey identifies a cached tree by product, store, and role.
func treeKey(product, store string, role Role) string {
	return fmt.Sprintf("%s/%s/%s", product, store, role)
}

// BuildTree returns the cached iopx tree for (cfg.Product, cfg.Store,
// role), building it on first use (spec §4.E lifecycle: "Iopx trees
// are created lazily on first use per (product, store, role)").
// Backup-service restore trees always enable fdcache and meta,
// regardless of cfg's settings (spec §4.E).
func (e *Engine) BuildTree(cfg StoreConfig, role Role) (*iopx.Node, error) {
	key := treeKey(cfg.Product, cfg.Store, role)

	e.mu.Lock()
	if t, ok := e.trees[key]; ok {
		e.mu.Unlock()
		return t, nil
	}
	e.mu.Unlock()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	adapter, err := e.newAdapter(cfg, role)
	if err != nil {
		return nil, err
	}

	leaf := iopx.NewNode(adapter, e.Fast)

	useMeta := cfg.MetaCache
	useFD := cfg.FDCache
	if role == RoleRestoreSource {
		useMeta, useFD = true, true
	}

	node := leaf
	if useFD {
		fdLayer := fdcache.New(maxInt(cfg.FDCacheSize, 1))
		fdNode := iopx.NewNode(fdLayer, e.Fast)
		fdNode.AddChild(node)
		node = fdNode
	}
	if useMeta {
		ttl := metaTTL(cfg.MetaTTLDays)
		metaLayer := meta.New(ttl)
		metaNode := iopx.NewNode(metaLayer, e.Fast)
		metaNode.AddChild(node)
		node = metaNode
	}

	root := iopx.NewNode(perf.New(), e.Fast)
	root.AddChild(node)

	e.mu.Lock()
	if t, ok := e.trees[key]; ok {
		e.mu.Unlock()
		return t, nil
	}
	e.trees[key] = root
	e.mu.Unlock()

	return root, nil
}

func (e *Engine) newAdapter(cfg StoreConfig, role Role) (iopx.Layer, error) {
	switch cfg.Product {
	case ProductClusterFS:
		vc := cfg.ClusterFS
		vc.Store = cfg.Store
		vc.Sharded = cfg.Sharded
		return clusterfs.New(vc)
	case ProductBackupService:
		argStr := cfg.BackupServiceArgs
		mode := backupservice.ModeBackup
		if role == RoleRestoreSource {
			rewritten, err := backupservice.RestoreStoreID(argStr)
			if err != nil {
				return nil, err
			}
			argStr = rewritten
			mode = backupservice.ModeRestore
		}
		return backupservice.New(argStr, mode)
	default:
		return nil, errUnknownProduct
	}
}

func metaTTL(days int) time.Duration {
	if days <= 0 {
		return meta.DefaultTTL
	}
	return time.Duration(days) * 24 * time.Hour
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
