package iopx

import "os"

// PayloadKind tags which field of a Payload is populated. Readers
// must assert Kind before touching a field - this is the Go rendering
// of the source's variant-like unions (spec §9).
type PayloadKind int

const (
	// PayloadNone carries no data (e.g. close, ftruncate by length only).
	PayloadNone PayloadKind = iota
	// PayloadIOVec carries a caller-owned read destination.
	PayloadIOVec
	// PayloadBuffer carries an owned write source.
	PayloadBuffer
	// PayloadStat carries a stat result.
	PayloadStat
	// PayloadLocations carries a location list (resolve's shard fragments).
	PayloadLocations
	// PayloadHosts carries a host list (gethosts's brick names).
	PayloadHosts
	// PayloadText carries a single string (an xattr name, a collect
	// file path, a store id).
	PayloadText
)

// StatResult mirrors the subset of os.FileInfo the engine needs
// without requiring a live os.FileInfo value (restore synthesizes one).
type StatResult struct {
	Size    int64
	Mode    os.FileMode
	ModTime int64
	IsDir   bool
}

// Payload is the tagged union backing Request's "payload variant".
// Name sits outside the tag: xattr ops carry both an attribute name
// and a data field (IOVec on get, Buffer on set), so it is always
// valid to read regardless of Kind.
type Payload struct {
	Kind      PayloadKind
	Name      string
	IOVec     []byte
	Buffer    []byte
	Stat      StatResult
	Locations []Location
	Hosts     []string
	Text      string
}

// AsIOVec asserts the payload is an IOVec and returns it.
func (p *Payload) AsIOVec() []byte {
	if p.Kind != PayloadIOVec {
		panic("iopx: payload is not PayloadIOVec")
	}
	return p.IOVec
}

// AsBuffer asserts the payload is a Buffer and returns it.
func (p *Payload) AsBuffer() []byte {
	if p.Kind != PayloadBuffer {
		panic("iopx: payload is not PayloadBuffer")
	}
	return p.Buffer
}

// AsLocations asserts the payload is a Locations list and returns it.
func (p *Payload) AsLocations() []Location {
	if p.Kind != PayloadLocations {
		panic("iopx: payload is not PayloadLocations")
	}
	return p.Locations
}

// AsHosts asserts the payload is a Hosts list and returns it.
func (p *Payload) AsHosts() []string {
	if p.Kind != PayloadHosts {
		panic("iopx: payload is not PayloadHosts")
	}
	return p.Hosts
}

// AsText asserts the payload is Text and returns it.
func (p *Payload) AsText() string {
	if p.Kind != PayloadText {
		panic("iopx: payload is not PayloadText")
	}
	return p.Text
}
