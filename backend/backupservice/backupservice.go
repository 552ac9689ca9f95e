package backupservice

import (
	"context"
	"encoding/binary"
	"fmt"
	"syscall"
	"time"

	guuid "github.com/google/uuid"

	"github.com/quorumfs/dm/dmerrors"
	"github.com/quorumfs/dm/dmlog"
	"github.com/quorumfs/dm/iopx"
)

const layerName = "backupservice"

// Mode selects which half of the adapter's op table is active for a
// given tree: backup-mode trees write, restore-mode trees read.
type Mode int

const (
	ModeBackup Mode = iota
	ModeRestore
)

// metadataID is the fixed id byte of the 24-byte metadata record
// (spec §6).
const metadataID = 0x01

// Layer is the backup-service adapter. Construction performs the
// spec's two-phase init (name-mode resolve, then id-mode with
// direct-pipeline) - both phases are no-ops against globalStore since
// there is no real session library reachable here (see DESIGN.md) -
// and, for backup/restore jobs, reserves the requested stream count.
type Layer struct {
	args *Args
	mode Mode
	mgr  *Manager
}

// New parses argStr, performs the two-phase init, and reserves
// args.StreamCount streams. Restore-mode jobs enable stream
// reservation (spec §4.A/§5); backup-mode jobs use the simple
// freelist allocator.
func New(argStr string, mode Mode) (*Layer, error) {
	args, err := ParseArgs(argStr)
	if err != nil {
		return nil, err
	}
	if err := initNameMode(args); err != nil {
		return nil, err
	}
	if err := initIDMode(args); err != nil {
		return nil, err
	}
	l := &Layer{
		args: args,
		mode: mode,
		mgr:  NewManager(args.StreamCount, mode == ModeRestore),
	}
	dmlog.Infof(l, "job started, kind=%s streams=%d", args.JobType, args.StreamCount)
	return l, nil
}

func (l *Layer) Name() string               { return layerName }
func (l *Layer) String() string             { return fmt.Sprintf("%s:%s", layerName, l.args.JobType) }
func (l *Layer) ScheduleOp(iopx.OpKind) bool { return false }

// initNameMode resolves the commcell/client/instance/backupset/
// subclient names to numeric ids - a name-mode session in the
// original; here, validation only (spec §4.A phase 1).
func initNameMode(a *Args) error {
	if a.CommcellID == "" || a.ClientName == "" {
		return dmerrors.New(dmerrors.Invariant, syscall.EINVAL, "backupservice: name-mode init missing commcell/client")
	}
	return nil
}

// initIDMode starts an id-mode session with direct-pipeline enabled
// (spec §4.A phase 2); the name-mode session is released afterward in
// the original - no session handle exists here to release.
func initIDMode(a *Args) error {
	if a.ProxyHost == "" || a.ProxyPort <= 0 {
		return dmerrors.New(dmerrors.Invariant, syscall.EINVAL, "backupservice: id-mode init missing proxy")
	}
	return nil
}

func (l *Layer) Do(n *iopx.Node, h *iopx.Handle, r *iopx.Request) error {
	switch r.Op {
	case iopx.OpOpen:
		return l.open(h, r)
	case iopx.OpClose:
		return l.close(h, r)
	case iopx.OpPwrite:
		return l.pwrite(h, r)
	case iopx.OpPread:
		return l.pread(n, h, r)
	default:
		return dmerrors.ErrNotSupported
	}
}

func (l *Layer) streamSide(h *iopx.Handle) (*Stream, bool) {
	side, ok := h.Side(layerName)
	if !ok {
		return nil, false
	}
	s, ok := side.Value.(*Stream)
	return s, ok
}

func (l *Layer) open(h *iopx.Handle, r *iopx.Request) error {
	if l.mode == ModeBackup {
		return l.openBackup(h, r)
	}
	return l.openRestore(h, r)
}

// openBackup allocates a stream, begins an item keyed by the file's
// uuid, and writes the fixed 24-byte metadata record before any data
// (original_source/src/cvlt_fops.cpp: metadata precedes pwrite),
// spec §4.A step 4/6.
func (l *Layer) openBackup(h *iopx.Handle, r *iopx.Request) error {
	// The engine issues a second OpOpen against the same handle once it
	// knows the real transfer size (spec §4.E step 4: creat, then the
	// size becomes known from source stat). That second call must only
	// refresh the size/metadata record, not re-acquire a stream.
	if _, ok := l.streamSide(h); ok {
		return l.announceSize(h, r)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	s, err := l.mgr.Acquire(ctx)
	if err != nil {
		return err
	}

	var uuid [16]byte
	if !h.Location.UUID.IsZero() {
		uuid = [16]byte(h.Location.UUID)
	} else {
		uuid = [16]byte(guuid.New())
		loc := h.Location
		loc.UUID = uuid
		h.Location = loc
	}

	if err := s.transition(StreamItemOpen); err != nil {
		l.mgr.Release(s)
		return err
	}

	meta := make([]byte, 24)
	copy(meta[0:16], uuid[:])
	binary.LittleEndian.PutUint64(meta[16:24], uint64(r.Length))
	globalStore.create(uuid, r.Length, meta)

	h.SetSide(layerName, iopx.SideValue{Kind: iopx.SideKindStream, GUID: h.Location.UUID, Value: s})
	h.SetSize(r.Length)
	return nil
}

// announceSize refreshes the item's recorded length and metadata once
// the engine learns the true transfer size, without touching the
// stream already claimed for this handle.
func (l *Layer) announceSize(h *iopx.Handle, r *iopx.Request) error {
	uuid := [16]byte(h.Location.UUID)
	meta := make([]byte, 24)
	copy(meta[0:16], uuid[:])
	binary.LittleEndian.PutUint64(meta[16:24], uint64(r.Length))
	globalStore.create(uuid, r.Length, meta)
	h.SetSize(r.Length)
	return nil
}

// openRestore initializes a large sentinel file size; the true size
// is learned from the metadata callback on the first read (spec
// §4.A).
func (l *Layer) openRestore(h *iopx.Handle, r *iopx.Request) error {
	h.SetSize(1 << 62)
	return nil
}

func (l *Layer) pwrite(h *iopx.Handle, r *iopx.Request) error {
	s, ok := l.streamSide(h)
	if !ok {
		return dmerrors.New(dmerrors.Invariant, syscall.ENOSR, "backupservice: pwrite with no claimed stream")
	}
	if err := s.transition(StreamItemSending); err != nil {
		return err
	}
	buf := r.Payload.AsBuffer()
	globalStore.append([16]byte(h.Location.UUID), buf)
	r.Ret = int64(len(buf))
	return nil
}

func (l *Layer) close(h *iopx.Handle, r *iopx.Request) error {
	if l.mode != ModeBackup {
		return nil
	}
	s, ok := l.streamSide(h)
	if !ok {
		return nil
	}
	if err := s.transition(StreamItemEnd); err != nil {
		return err
	}
	_ = s.transition(StreamIdle)
	l.mgr.Release(s)
	h.DeleteSide(layerName)
	return nil
}

// pread services a restore read, allocating a stream and walking the
// header/metadata/data/eof callback sequence of spec §4.A. pread holds
// no latch of its own: each return path invokes an async caller's
// callback at most once, and the handle-wide latch is left to the
// engine's completion wrapper.
func (l *Layer) pread(n *iopx.Node, h *iopx.Handle, r *iopx.Request) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	s, err := l.mgr.Acquire(ctx)
	if err != nil {
		return err
	}
	defer l.mgr.Release(s)

	if err := s.transition(StreamItemOpen); err != nil {
		return err
	}

	uuid := [16]byte(h.Location.UUID)
	it, ok := globalStore.get(uuid)
	if !ok {
		_ = s.transition(StreamIdle)
		return dmerrors.New(dmerrors.LookupMiss, syscall.ENOENT, "backupservice: restore of unknown item")
	}

	// metadata callback: set true file size.
	h.SetSize(it.length)

	if err := s.transition(StreamItemSending); err != nil {
		return err
	}

	// data callback: copy until the caller's buffer is exhausted or
	// source is exhausted; ENOBUFS only if more source bytes exist
	// than fit, matching cvlt_restore_data_cbk's early-return branch.
	start := r.Offset
	if start >= int64(len(it.data)) {
		r.Ret = 0
		_ = s.transition(StreamItemEnd)
		_ = s.transition(StreamIdle)
		if r.Async && r.Callback != nil {
			r.Callback(h, r, nil)
		}
		return nil
	}
	end := start + r.Length
	overrun := false
	if end > int64(len(it.data)) {
		end = int64(len(it.data))
	}
	src := it.data[start:end]
	copied := copy(r.Payload.IOVec, src)
	if int64(copied) < int64(len(src)) {
		overrun = true
	}

	_ = s.transition(StreamItemEnd)
	_ = s.transition(StreamIdle)

	// eof callback.
	if overrun {
		r.Ret = -1
		r.Err = dmerrors.New(dmerrors.Protocol, syscall.ENOBUFS, "backupservice: restore buffer overrun")
		if r.Async && r.Callback != nil {
			r.Callback(h, r, r.Err)
		}
		return r.Err
	}
	r.Ret = int64(copied)
	if r.Async && r.Callback != nil {
		r.Callback(h, r, nil)
	}
	return nil
}
