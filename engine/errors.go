package engine

import (
	"syscall"

	"github.com/quorumfs/dm/dmerrors"
)

var errInvalidExtentSize = dmerrors.New(dmerrors.Invariant, syscall.EINVAL, "engine: extent size must be a positive multiple of 4 MiB")

var errUnknownProduct = dmerrors.New(dmerrors.NotApplicable, syscall.ENOSYS, "engine: unknown backend product")
