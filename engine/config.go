package engine

import "github.com/quorumfs/dm/backend/clusterfs"

// Product names the backend family a store's Location.Product field
// selects (spec §3).
const (
	ProductClusterFS     = "glusterfs"
	ProductBackupService = "commvault"
)

// StoreConfig describes one (product, store) pair's backend binding
// and the tree features the builder may turn on for it (spec §4.E
// tree config: product, store, role, fast?, meta-cache?, meta-ttl,
// fd-cache?, fd-cache-size).
type StoreConfig struct {
	Product string
	Store   string

	// ClusterFS is used when Product == ProductClusterFS.
	ClusterFS clusterfs.VolumeConfig

	// BackupServiceArgs is the colon-separated store id used when
	// Product == ProductBackupService.
	BackupServiceArgs string

	MetaCache    bool
	MetaTTLDays  int
	FDCache      bool
	FDCacheSize  int

	// ExtentBased enables the backup worker's per-extent transfer
	// size cap (spec §4.E step 2).
	ExtentBased bool
	// ExtentSize must be a positive multiple of 4 MiB (spec §9(c));
	// no upper bound is enforced here, matching the source - very
	// large values risk OOM, a risk this module does not mitigate.
	ExtentSize int64

	// Sharded enables the clusterfs adapter's resolve() fragment
	// expansion for archive (spec §4.A).
	Sharded bool
}

// DefaultExtentSize is the 4 MiB default transfer extent (spec §4.E).
const DefaultExtentSize = 4 << 20

// Validate checks ExtentSize is a positive multiple of 4 MiB.
func (c *StoreConfig) Validate() error {
	if c.ExtentSize == 0 {
		c.ExtentSize = DefaultExtentSize
	}
	if c.ExtentSize <= 0 || c.ExtentSize%(4<<20) != 0 {
		return errInvalidExtentSize
	}
	return nil
}
