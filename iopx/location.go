// Package iopx implements the composable I/O translator stack: the
// Location/Request/Handle/Node types shared by every layer (perf,
// meta, fdcache, and the backend adapters) and the default fan-out
// behavior a Node gets for free.
package iopx

import (
	"encoding/hex"
	"fmt"
)

// UUID is a 16-byte content identifier: a clustered-filesystem handle
// or a backend-assigned GUID, depending on Location.Product.
type UUID [16]byte

// String renders the UUID as lowercase hex, the form used to build
// meta cache keys ("<uuid>.<attr-name>").
func (u UUID) String() string {
	return hex.EncodeToString(u[:])
}

// IsZero reports whether the UUID has never been assigned.
func (u UUID) IsZero() bool {
	return u == UUID{}
}

// Location identifies content: the backend family that owns it, the
// store (volume/subclient) it lives in, its path, and its UUID.
type Location struct {
	Product string
	Store   string
	Path    string
	UUID    UUID
}

// String renders a Location for logging.
func (l Location) String() string {
	return fmt.Sprintf("%s:%s:%s(%s)", l.Product, l.Store, l.Path, l.UUID)
}

// Key returns the hashable key for a Location: its UUID string.
func (l Location) Key() string {
	return l.UUID.String()
}
