// Package meta implements the attribute cache translator (spec §4.C):
// a key/value cache of extended attributes keyed by
// "<uuid>.<attr-name>", backed by a memcache daemon discovered from
// the store's host set via the child chain's gethosts.
//
// The source keeps one cache-backend handle per OS thread; Go
// goroutines don't map 1:1 onto OS threads, so this layer keeps a
// single lazily-connected client shared by every caller instead (see
// DESIGN.md) and adds a small local TTL mirror
// (github.com/patrickmn/go-cache, already a teacher dependency) in
// front of it to avoid a network round trip on every hot getxattr.
package meta

import (
	"sync"
	"syscall"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/bradfitz/gomemcache/memcache"

	"github.com/quorumfs/dm/dmerrors"
	"github.com/quorumfs/dm/dmlog"
	"github.com/quorumfs/dm/iopx"
)

const layerName = "meta"

// DefaultTTL is the default entry lifetime for restore trees (spec §4.C).
const DefaultTTL = 10 * 24 * time.Hour

// Layer is the attribute-cache translator.
type Layer struct {
	ttl time.Duration

	local *gocache.Cache

	mu       sync.Mutex
	client   *memcache.Client
	connErr  error
	connOnce sync.Once
	hosts    []string
}

// New constructs a meta Layer with the given entry TTL.
func New(ttl time.Duration) *Layer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Layer{
		ttl:   ttl,
		local: gocache.New(ttl, ttl/2),
	}
}

func (l *Layer) Name() string                  { return layerName }
func (l *Layer) String() string                { return layerName }
func (l *Layer) ScheduleOp(iopx.OpKind) bool    { return false }

func key(u iopx.UUID, attr string) string {
	return u.String() + "." + attr
}

// connect discovers the store's memcache daemons via the child
// chain's gethosts, then dials them. It runs at most once per Layer;
// later callers reuse the same client (or the same connection error).
func (l *Layer) connect(n *iopx.Node, h *iopx.Handle) (*memcache.Client, error) {
	l.connOnce.Do(func() {
		r := iopx.NewRequest(iopx.OpGethosts, h)
		if err := n.PassThrough(h, r); err != nil {
			l.connErr = err
			return
		}
		hosts := r.Payload.AsHosts()
		if len(hosts) == 0 {
			l.connErr = dmerrors.New(dmerrors.LookupMiss, syscall.ENODATA, "no memcache hosts for store")
			return
		}
		l.hosts = hosts
		l.client = memcache.New(hosts...)
		dmlog.Infof(l, "connected to %d memcache host(s)", len(hosts))
	})
	return l.client, l.connErr
}

// Do intercepts the six xattr ops; everything else passes through
// unchanged.
func (l *Layer) Do(n *iopx.Node, h *iopx.Handle, r *iopx.Request) error {
	switch r.Op {
	case iopx.OpGetxattr, iopx.OpFgetxattr:
		return l.get(n, h, r)
	case iopx.OpSetxattr, iopx.OpFsetxattr:
		return l.set(n, h, r)
	case iopx.OpRemovexattr, iopx.OpFremovexattr:
		return l.remove(n, h, r)
	default:
		return n.PassThrough(h, r)
	}
}

func (l *Layer) get(n *iopx.Node, h *iopx.Handle, r *iopx.Request) error {
	k := key(h.Location.UUID, r.Payload.Name)

	if v, ok := l.local.Get(k); ok {
		copyInto(r, v.([]byte))
		return nil
	}

	if client, err := l.connect(n, h); err == nil {
		if item, err := client.Get(k); err == nil {
			l.local.Set(k, item.Value, l.ttl)
			copyInto(r, item.Value)
			return nil
		}
	}

	// Miss: delegate down, then populate both cache tiers.
	if err := n.PassThrough(h, r); err != nil {
		return err
	}
	v := r.Payload.AsIOVec()
	if v != nil {
		l.populate(n, h, k, v)
	}
	return nil
}

// copyInto honors the "nil buffer = query length" convention: when
// the caller's IOVec is nil, only the return length is reported.
func copyInto(r *iopx.Request, v []byte) {
	if r.Payload.IOVec == nil {
		r.Ret = int64(len(v))
		return
	}
	n := copy(r.Payload.IOVec, v)
	r.Ret = int64(n)
}

func (l *Layer) populate(n *iopx.Node, h *iopx.Handle, k string, v []byte) {
	l.local.Set(k, v, l.ttl)
	if client, err := l.connect(n, h); err == nil {
		_ = client.Set(&memcache.Item{Key: k, Value: v, Expiration: int32(l.ttl.Seconds())})
	}
}

func (l *Layer) set(n *iopx.Node, h *iopx.Handle, r *iopx.Request) error {
	if err := n.PassThrough(h, r); err != nil {
		return err
	}
	k := key(h.Location.UUID, r.Payload.Name)
	l.populate(n, h, k, append([]byte(nil), r.Payload.AsBuffer()...))
	return nil
}

func (l *Layer) remove(n *iopx.Node, h *iopx.Handle, r *iopx.Request) error {
	if err := n.PassThrough(h, r); err != nil {
		return err
	}
	k := key(h.Location.UUID, r.Payload.Name)
	l.local.Delete(k)
	if client, err := l.connect(n, h); err == nil {
		_ = client.Delete(k)
	}
	return nil
}
