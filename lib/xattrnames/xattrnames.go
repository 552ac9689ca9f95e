// Package xattrnames holds the extended attribute names used verbatim
// on the source filesystem (spec §6), shared by backend/clusterfs
// (writer) and engine (reader, for archive idempotence checks).
package xattrnames

const (
	// ArchiveSize holds a native-endian uint64 byte count, set by archive.
	ArchiveSize = "OPAR_XATTR_ARCHIVE_SIZE"
	// ArchiveBlocks holds a uint64 block count, set by archive.
	ArchiveBlocks = "OPAR_XATTR_ARCHIVE_BLOCKS"
	// ArchiveBlockSize holds a uint64 block size, set by archive.
	ArchiveBlockSize = "OPAR_XATTR_ARCHIVE_BLOCKSIZE"
	// ArchiveUUID holds the 16-byte backend-assigned GUID, set by backup.
	ArchiveUUID = "OPAR_XATTR_ARCHIVE_UUID"
	// ProductID holds the ASCII product name, set by backup.
	ProductID = "OPAR_XATTR_PRODUCT_ID"
	// StoreID holds the ASCII store id, set by backup.
	StoreID = "OPAR_XATTR_STORE_ID"
)

// BackupAttrs lists the three attributes a backup run writes, in the
// order the worker writes them (spec §4.E step 6).
var BackupAttrs = []string{ArchiveUUID, ProductID, StoreID}

// ArchiveAttrs lists the three attributes an archive run writes.
var ArchiveAttrs = []string{ArchiveSize, ArchiveBlocks, ArchiveBlockSize}
