// Package clusterfs implements the clustered-filesystem backend
// adapter (spec §4.A): a leaf iopx.Layer that turns abstract file ops
// into calls against a locally-mounted cluster volume, using real
// native file descriptors and extended attributes rather than a
// simulated in-memory store.
//
// Grounded on the teacher's backend/local package for the
// passthrough-fd shape (open/pread/pwrite/fstat/ftruncate mapping
// directly onto os.File) and on backend/local/xattr.go for the
// set-or-replace xattr convention, generalized from a single local
// mount to a named cluster volume bound at construction time.
package clusterfs

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/xattr"
	"golang.org/x/sys/unix"

	"github.com/quorumfs/dm/dmerrors"
	"github.com/quorumfs/dm/dmlog"
	"github.com/quorumfs/dm/iopx"
	"github.com/quorumfs/dm/lib/xattrnames"
)

const layerName = "clusterfs"

// ShardSize is the hard-coded fragment size resolve() uses when
// server-side sharding is enabled for a store (spec §4.A, §9 open
// question (b): the engine-side xattr-queried variant is preserved
// separately as VolumeConfig.ShardSizeOverride rather than reconciled
// with this constant).
const ShardSize = 4 << 20

// initRetries/initBackoff match gfapi_init's three-attempt, 1-second
// back-off volume session init (original_source/src/gfapi_iopx.cpp).
const initRetries = 3

var initBackoff = time.Second

// VolumeConfig describes how to bind to a cluster volume.
type VolumeConfig struct {
	Store string
	// DescriptionPath is the preferred binding: a volume description
	// file at a well-known path. ControlSocket is the fallback.
	DescriptionPath string
	ControlSocket   string
	// MountRoot is the local path volume file operations are rooted
	// at once binding succeeds (this adapter resolves file ops
	// directly against the mounted tree rather than through a
	// separate handle library, since no such library is reachable
	// from this module - see DESIGN.md).
	MountRoot string
	// Sharded enables resolve()'s shard-fragment expansion.
	Sharded bool
	// ShardSizeOverride, when non-zero, replaces ShardSize for this
	// store's resolve() calls (spec §9(b)).
	ShardSizeOverride int64
}

// Layer is the clustered-filesystem adapter.
type Layer struct {
	cfg VolumeConfig

	mu    sync.Mutex
	ready bool
}

// New binds to the volume described by cfg, retrying session init up
// to three times with a one-second back-off, preferring the
// description file over the control socket (gfapi_init's ordering).
func New(cfg VolumeConfig) (*Layer, error) {
	l := &Layer{cfg: cfg}
	var lastErr error
	for attempt := 0; attempt < initRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(initBackoff)
		}
		if err := l.bind(); err == nil {
			l.ready = true
			dmlog.Infof(l, "bound to volume %s (attempt %d)", cfg.Store, attempt+1)
			return l, nil
		} else {
			lastErr = err
		}
	}
	return nil, dmerrors.New(dmerrors.BackendIO, syscall.EIO,
		fmt.Sprintf("clusterfs: volume %s init failed after %d attempts: %v", cfg.Store, initRetries, lastErr))
}

// bind prefers the description file, falling back to the control
// socket; either simply needs to exist for this in-process adapter,
// since file operations are served directly off MountRoot.
func (l *Layer) bind() error {
	if l.cfg.DescriptionPath != "" {
		if _, err := os.Stat(l.cfg.DescriptionPath); err == nil {
			return nil
		}
	}
	if l.cfg.ControlSocket != "" {
		if _, err := os.Stat(l.cfg.ControlSocket); err == nil {
			return nil
		}
	}
	if l.cfg.MountRoot != "" {
		if _, err := os.Stat(l.cfg.MountRoot); err == nil {
			return nil
		}
	}
	return fmt.Errorf("no volume binding reachable for %s", l.cfg.Store)
}

func (l *Layer) Name() string               { return layerName }
func (l *Layer) String() string             { return layerName }
func (l *Layer) ScheduleOp(iopx.OpKind) bool { return false }

func (l *Layer) shardSize() int64 {
	if l.cfg.ShardSizeOverride > 0 {
		return l.cfg.ShardSizeOverride
	}
	return ShardSize
}

func (l *Layer) nativePath(path string) string {
	if l.cfg.MountRoot == "" {
		return path
	}
	return filepath.Join(l.cfg.MountRoot, path)
}

// Do dispatches the ~20 op kinds this leaf adapter supports.
func (l *Layer) Do(n *iopx.Node, h *iopx.Handle, r *iopx.Request) error {
	switch r.Op {
	case iopx.OpOpen:
		return l.open(h, r)
	case iopx.OpClose:
		return l.close(h, r)
	case iopx.OpPread:
		return l.pread(h, r)
	case iopx.OpPwrite:
		return l.pwrite(h, r)
	case iopx.OpFstat, iopx.OpStat:
		return l.stat(h, r)
	case iopx.OpFtruncate, iopx.OpTruncate:
		return l.truncate(h, r)
	case iopx.OpLseek:
		return l.lseek(h, r)
	case iopx.OpMkdir:
		return l.mkdir(h, r)
	case iopx.OpFsetxattr, iopx.OpSetxattr:
		return l.setxattr(h, r)
	case iopx.OpFgetxattr, iopx.OpGetxattr:
		return l.getxattr(h, r)
	case iopx.OpFremovexattr, iopx.OpRemovexattr:
		return l.removexattr(h, r)
	case iopx.OpGetuuid:
		return l.getuuid(h, r)
	case iopx.OpResolve:
		return l.resolve(h, r)
	case iopx.OpGethosts:
		return l.gethosts(h, r)
	case iopx.OpScan:
		return l.scan(h, r)
	case iopx.OpDup:
		return l.dup(h, r)
	default:
		return dmerrors.ErrNotSupported
	}
}

func (l *Layer) open(h *iopx.Handle, r *iopx.Request) error {
	flags := r.Flags
	if flags&(os.O_WRONLY|os.O_RDWR) != 0 && flags&os.O_CREATE == 0 {
		flags |= os.O_CREATE
	}
	f, err := os.OpenFile(l.nativePath(h.Location.Path), flags, 0640)
	if err != nil {
		return dmerrors.New(dmerrors.BackendIO, syscall.EIO, "clusterfs: open "+h.Location.Path)
	}
	h.SetSide(layerName, iopx.SideValue{Kind: iopx.SideKindFD, FD: int(f.Fd()), Value: f})
	if r.Length > 0 {
		h.SetSize(r.Length)
	}
	return nil
}

func (l *Layer) file(h *iopx.Handle) (*os.File, bool) {
	side, ok := h.Side(layerName)
	if !ok {
		return nil, false
	}
	f, ok := side.Value.(*os.File)
	return f, ok
}

func (l *Layer) close(h *iopx.Handle, r *iopx.Request) error {
	f, ok := l.file(h)
	if !ok {
		return nil
	}
	h.DeleteSide(layerName)
	return f.Close()
}

func (l *Layer) dup(h *iopx.Handle, r *iopx.Request) error {
	f, ok := l.file(h)
	if !ok {
		return dmerrors.New(dmerrors.Invariant, syscall.EBADF, "clusterfs: dup on unopened handle")
	}
	dupFd, err := syscall.Dup(int(f.Fd()))
	if err != nil {
		return dmerrors.New(dmerrors.BackendIO, syscall.EIO, "clusterfs: dup")
	}
	dupped := os.NewFile(uintptr(dupFd), f.Name())
	h.SetSide(layerName, iopx.SideValue{Kind: iopx.SideKindFD, FD: dupFd, Value: dupped})
	return nil
}

func (l *Layer) pread(h *iopx.Handle, r *iopx.Request) error {
	f, ok := l.file(h)
	if !ok {
		return dmerrors.New(dmerrors.Invariant, syscall.EBADF, "clusterfs: pread on unopened handle")
	}
	buf := r.Payload.IOVec
	if int64(len(buf)) > r.Length {
		buf = buf[:r.Length]
	}
	n, err := f.ReadAt(buf, r.Offset)
	if err != nil && n == 0 {
		return dmerrors.New(dmerrors.BackendIO, syscall.EIO, "clusterfs: pread")
	}
	r.Ret = int64(n)
	return nil
}

func (l *Layer) pwrite(h *iopx.Handle, r *iopx.Request) error {
	f, ok := l.file(h)
	if !ok {
		return dmerrors.New(dmerrors.Invariant, syscall.EBADF, "clusterfs: pwrite on unopened handle")
	}
	n, err := f.WriteAt(r.Payload.AsBuffer(), r.Offset)
	if err != nil {
		return dmerrors.New(dmerrors.BackendIO, syscall.EIO, "clusterfs: pwrite")
	}
	r.Ret = int64(n)
	return nil
}

func (l *Layer) stat(h *iopx.Handle, r *iopx.Request) error {
	var fi os.FileInfo
	var err error
	if f, ok := l.file(h); ok {
		fi, err = f.Stat()
	} else {
		fi, err = os.Stat(l.nativePath(h.Location.Path))
	}
	if err != nil {
		return dmerrors.New(dmerrors.LookupMiss, syscall.ENOENT, "clusterfs: stat "+h.Location.Path)
	}
	r.Payload = iopx.Payload{Kind: iopx.PayloadStat, Stat: iopx.StatResult{
		Size: fi.Size(), Mode: fi.Mode(), ModTime: fi.ModTime().Unix(), IsDir: fi.IsDir(),
	}}
	h.SetSize(fi.Size())
	return nil
}

func (l *Layer) truncate(h *iopx.Handle, r *iopx.Request) error {
	if f, ok := l.file(h); ok {
		if err := f.Truncate(r.Length); err != nil {
			return dmerrors.New(dmerrors.BackendIO, syscall.EIO, "clusterfs: ftruncate")
		}
		return nil
	}
	if err := os.Truncate(l.nativePath(h.Location.Path), r.Length); err != nil {
		return dmerrors.New(dmerrors.BackendIO, syscall.EIO, "clusterfs: truncate")
	}
	return nil
}

func (l *Layer) lseek(h *iopx.Handle, r *iopx.Request) error {
	f, ok := l.file(h)
	if !ok {
		return dmerrors.New(dmerrors.Invariant, syscall.EBADF, "clusterfs: lseek on unopened handle")
	}
	off, err := f.Seek(r.Offset, 0)
	if err != nil {
		return dmerrors.New(dmerrors.BackendIO, syscall.EIO, "clusterfs: lseek")
	}
	r.Ret = off
	return nil
}

func (l *Layer) mkdir(h *iopx.Handle, r *iopx.Request) error {
	if err := os.MkdirAll(l.nativePath(h.Location.Path), 0750); err != nil {
		return dmerrors.New(dmerrors.BackendIO, syscall.EIO, "clusterfs: mkdir")
	}
	return nil
}

// setxattr uses create-or-replace: attempt a plain Set, then on EEXIST
// retry with Replace (spec §6), exactly as backend/local/xattr.go does.
func (l *Layer) setxattr(h *iopx.Handle, r *iopx.Request) error {
	path := l.nativePath(h.Location.Path)
	name := r.Payload.Name
	val := r.Payload.AsBuffer()
	if err := xattr.Set(path, name, val); err != nil {
		if errors.Is(err, syscall.EEXIST) {
			if err := xattr.SetWithFlags(path, name, val, unix.XATTR_REPLACE); err != nil {
				return dmerrors.New(dmerrors.BackendIO, syscall.EIO, "clusterfs: setxattr "+name)
			}
			return nil
		}
		return dmerrors.New(dmerrors.BackendIO, syscall.EIO, "clusterfs: setxattr "+name)
	}
	return nil
}

func (l *Layer) getxattr(h *iopx.Handle, r *iopx.Request) error {
	path := l.nativePath(h.Location.Path)
	name := r.Payload.Name
	val, err := xattr.Get(path, name)
	if err != nil {
		return dmerrors.New(dmerrors.LookupMiss, syscall.ENODATA, "clusterfs: getxattr "+name)
	}
	if r.Payload.IOVec == nil {
		r.Ret = int64(len(val))
		return nil
	}
	n := copy(r.Payload.IOVec, val)
	r.Ret = int64(n)
	return nil
}

func (l *Layer) removexattr(h *iopx.Handle, r *iopx.Request) error {
	path := l.nativePath(h.Location.Path)
	name := r.Payload.Name
	if err := xattr.Remove(path, name); err != nil {
		return dmerrors.New(dmerrors.LookupMiss, syscall.ENODATA, "clusterfs: removexattr "+name)
	}
	return nil
}

// getuuid extracts the filesystem handle for path and returns its 16
// bytes. original_source/src/gfapi_iopx.cpp degrades this to an
// EBADFD-wrapped error (not ENOSYS) when the handle library is not
// ready; this adapter reproduces that distinction.
func (l *Layer) getuuid(h *iopx.Handle, r *iopx.Request) error {
	if !l.ready {
		return dmerrors.New(dmerrors.BackendIO, syscall.EBADFD, "clusterfs: handle library not ready")
	}
	fi, err := os.Stat(l.nativePath(h.Location.Path))
	if err != nil {
		return dmerrors.New(dmerrors.LookupMiss, syscall.ENOENT, "clusterfs: getuuid "+h.Location.Path)
	}
	u := uuidFromStat(fi)
	loc := h.Location
	loc.UUID = u
	h.Location = loc
	return nil
}

// resolve expands a sharded file into its fragment locations (spec
// §4.A); re-extracts each fragment's own uuid, matching the source's
// "each validated by re-extracting its own handle".
func (l *Layer) resolve(h *iopx.Handle, r *iopx.Request) error {
	if !l.cfg.Sharded {
		r.Payload = iopx.Payload{Kind: iopx.PayloadLocations, Locations: []iopx.Location{h.Location}}
		return nil
	}
	fi, err := os.Stat(l.nativePath(h.Location.Path))
	if err != nil {
		return dmerrors.New(dmerrors.LookupMiss, syscall.ENOENT, "clusterfs: resolve "+h.Location.Path)
	}
	shard := l.shardSize()
	count := (fi.Size() + shard - 1) / shard
	if count < 1 {
		count = 1
	}
	locs := make([]iopx.Location, 0, count)
	for k := int64(1); k <= count; k++ {
		frag := h.Location
		frag.Path = fmt.Sprintf(".shard/%s.%d", h.Location.UUID.String(), k)
		fragFi, err := os.Stat(l.nativePath(frag.Path))
		if err == nil {
			frag.UUID = uuidFromStat(fragFi)
		}
		locs = append(locs, frag)
	}
	r.Payload = iopx.Payload{Kind: iopx.PayloadLocations, Locations: locs}
	return nil
}

// gethosts parses the store's info file and returns the sorted set of
// distinct brick host names (spec §4.A).
func (l *Layer) gethosts(h *iopx.Handle, r *iopx.Request) error {
	infoPath := filepath.Join(l.cfg.MountRoot, ".store-info")
	f, err := os.Open(infoPath)
	if err != nil {
		r.Payload = iopx.Payload{Kind: iopx.PayloadHosts, Hosts: nil}
		return dmerrors.New(dmerrors.LookupMiss, syscall.ENOENT, "clusterfs: gethosts: no info file")
	}
	defer f.Close()

	seen := make(map[string]struct{})
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		host := strings.SplitN(line, ":", 2)[0]
		seen[host] = struct{}{}
	}
	hosts := make([]string, 0, len(seen))
	for host := range seen {
		hosts = append(hosts, host)
	}
	sort.Strings(hosts)
	r.Payload = iopx.Payload{Kind: iopx.PayloadHosts, Hosts: hosts}
	return nil
}

// lockName returns the per-run cross-process lock file path for store
// ("<store>.lock.openarchive", spec §4.A scenario 4).
func (l *Layer) lockName() string {
	return filepath.Join(l.cfg.MountRoot, l.cfg.Store+".lock.openarchive")
}

// scan takes a cross-process lock around the run by creating the lock
// file with exclusive-create semantics, lists every regular file under
// the mount root (enumerateChanges, in place of an enumeration session)
// into a newline-delimited collect file, and removes the lock (spec
// §4.A, scenario 4). The full/incremental mode is not consulted: every
// run lists every file.
func (l *Layer) scan(h *iopx.Handle, r *iopx.Request) error {
	lockFile, err := os.OpenFile(l.lockName(), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0640)
	if err != nil {
		return dmerrors.New(dmerrors.Exhaustion, syscall.EADDRINUSE, "clusterfs: scan already in progress for "+l.cfg.Store)
	}
	defer func() {
		lockFile.Close()
		_ = os.Remove(l.lockName())
	}()

	entries, err := enumerateChanges(l.nativePath(""), l.lockName())
	if err != nil {
		return dmerrors.New(dmerrors.BackendIO, syscall.EIO, "clusterfs: scan enumeration")
	}

	collectPath := filepath.Join(l.cfg.MountRoot, fmt.Sprintf("%s-openarchive-iopx.%d", l.cfg.Store, len(entries)))
	cf, err := os.Create(collectPath)
	if err != nil {
		return dmerrors.New(dmerrors.BackendIO, syscall.EIO, "clusterfs: scan collect file")
	}
	defer cf.Close()
	w := bufio.NewWriter(cf)
	for _, e := range entries {
		fmt.Fprintln(w, e)
	}
	if err := w.Flush(); err != nil {
		return dmerrors.New(dmerrors.BackendIO, syscall.EIO, "clusterfs: scan collect file flush")
	}

	r.Payload = iopx.Payload{Kind: iopx.PayloadText, Text: collectPath}
	return nil
}

// enumerateChanges walks root and reports every regular file other
// than excludePath, standing in for the backend's own "pre-change"
// enumeration command (full or incremental) - this module has no
// reachable enumeration binary, so it substitutes a direct walk (see
// DESIGN.md).
func enumerateChanges(root, excludePath string) ([]string, error) {
	var out []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || path == excludePath {
			return nil
		}
		out = append(out, path)
		return nil
	})
	return out, err
}

func uuidFromStat(fi os.FileInfo) iopx.UUID {
	var u iopx.UUID
	if st, ok := fi.Sys().(*syscall.Stat_t); ok {
		for i := 0; i < 8; i++ {
			u[i] = byte(st.Ino >> (8 * uint(i)))
		}
		for i := 0; i < 8; i++ {
			u[8+i] = byte(st.Dev >> (8 * uint(i)))
		}
		return u
	}
	copy(u[:], fi.Name())
	return u
}
