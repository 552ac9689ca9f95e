package iopx

import "sync"

// OpKind enumerates the file/filesystem operations an iopx Node
// supports (spec §3: "op-kind, enum of ~20").
type OpKind int

const (
	OpOpen OpKind = iota
	OpClose
	OpPread
	OpPwrite
	OpFstat
	OpStat
	OpFtruncate
	OpTruncate
	OpFsetxattr
	OpSetxattr
	OpFgetxattr
	OpGetxattr
	OpFremovexattr
	OpRemovexattr
	OpLseek
	OpMkdir
	OpGetuuid
	OpResolve
	OpGethosts
	OpScan
	OpDup
)

func (k OpKind) String() string {
	names := [...]string{
		"open", "close", "pread", "pwrite", "fstat", "stat",
		"ftruncate", "truncate", "fsetxattr", "setxattr", "fgetxattr",
		"getxattr", "fremovexattr", "removexattr", "lseek", "mkdir",
		"getuuid", "resolve", "gethosts", "scan", "dup",
	}
	if int(k) < len(names) {
		return names[k]
	}
	return "unknown-op"
}

// Callback is invoked exactly once per request, climbing back up the
// tree from the layer that completed it.
type Callback func(h *Handle, r *Request, err error)

// Request represents one in-flight file operation: invariant 5 (spec
// §3) requires child-count to be recorded before any child callback
// can run, and a parent callback to fire only once response-count
// equals child-count at every layer.
type Request struct {
	Op      OpKind
	Handle  *Handle
	Payload Payload

	Length int64
	Offset int64
	Flags  int

	Ret   int64
	Async bool
	Err   error

	Callback Callback

	mu           sync.Mutex
	childCount   map[string]int
	responseCnt  map[string]int
	layerRet     map[string]error
	layerCorrID  map[string]uint64
}

// NewRequest builds a Request for op against h.
func NewRequest(op OpKind, h *Handle) *Request {
	return &Request{
		Op:          op,
		Handle:      h,
		childCount:  make(map[string]int),
		responseCnt: make(map[string]int),
		layerRet:    make(map[string]error),
		layerCorrID: make(map[string]uint64),
	}
}

// SetChildCount records, before any child is scheduled, how many
// children layer `layer` fanned this request out to.
func (r *Request) SetChildCount(layer string, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.childCount[layer] = n
}

// Ack records one child response for layer and reports whether this
// was the last one expected (response-count == child-count), meaning
// the parent callback for this layer should fire now.
func (r *Request) Ack(layer string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.responseCnt[layer]++
	return r.responseCnt[layer] == r.childCount[layer]
}

// SetLayerReturn records the return code a specific layer produced.
func (r *Request) SetLayerReturn(layer string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.layerRet[layer] = err
}

// LayerReturn returns the return code a specific layer produced.
func (r *Request) LayerReturn(layer string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.layerRet[layer]
}

// SetCorrelationID stashes a layer-assigned correlation id (used by
// perf to match pread_cbk back to its submission time).
func (r *Request) SetCorrelationID(layer string, id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.layerCorrID[layer] = id
}

// CorrelationID retrieves a layer-assigned correlation id.
func (r *Request) CorrelationID(layer string) (uint64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.layerCorrID[layer]
	return id, ok
}
