package engine

import (
	"github.com/quorumfs/dm/iopx"
)

// ScanMode selects a full or incremental scan (spec §6 CLI surface:
// "scan <full|incr> ...").
type ScanMode string

const (
	ScanFull        ScanMode = "full"
	ScanIncremental ScanMode = "incr"
)

// Scan builds a source-only tree for cfg.Product and issues scan at
// loc, returning the collect file path the backend produced (spec
// §4.E "Scan workflow").
func (e *Engine) Scan(cfg StoreConfig, loc iopx.Location, mode ScanMode) (string, error) {
	tree, err := e.BuildTree(cfg, RoleSource)
	if err != nil {
		return "", err
	}

	h, err := iopx.Open(tree, loc, 0)
	if err != nil {
		return "", err
	}
	defer iopx.Close(tree, h)

	r := iopx.NewRequest(iopx.OpScan, h)
	r.Payload = iopx.Payload{Kind: iopx.PayloadText, Text: string(mode)}
	if err := tree.Do(h, r); err != nil {
		return "", err
	}
	return r.Payload.AsText(), nil
}
