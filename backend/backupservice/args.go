// Package backupservice implements the backup-service adapter (spec
// §4.A): a leaf iopx.Layer that streams file content to and from a
// proprietary backup job over a direct-pipeline session, modeled as
// an in-process job/stream simulation since the actual session
// library is an opaque external collaborator out of scope here (spec
// §1) — see DESIGN.md.
package backupservice

import (
	"fmt"
	"strconv"
	"strings"
)

// JobType is the kind of job a store id's "jt" field names.
type JobType string

const (
	JobBrowse     JobType = "browse"
	JobFullBackup JobType = "full-backup"
	JobIncrBackup JobType = "incr-backup"
	JobRestore    JobType = "restore"
)

// Args is the parsed form of a colon-separated key=value store id
// string (spec §6): keys cc, cn, ph, pp, at, in, bs, sc, ji, jk, jt, ns.
type Args struct {
	CommcellID   string // cc
	ClientName   string // cn
	ProxyHost    string // ph
	ProxyPort    int    // pp
	AppType      string // at
	InstanceName string // in
	BackupSet    string // bs
	Subclient    string // sc
	JobID        string // ji
	JobToken     string // jk
	JobType      JobType
	StreamCount  int // ns

	raw map[string]string
}

// restoreSubsetKeys is the subset of keys RestoreStoreID keeps when the
// engine rewrites a store id for a restore tree (spec §4.E).
var restoreSubsetKeys = []string{"cc", "cn", "ph", "pp", "at", "in", "bs", "sc"}

// ParseArgs decodes and validates a colon-separated key=value store
// id. Every required field must be present and non-empty; app type is
// treated as an opaque validated string and is never interpreted
// further (spec §9 open question (a): app-type 29 is not special-cased).
func ParseArgs(s string) (*Args, error) {
	raw := make(map[string]string)
	for _, pair := range strings.Split(s, ":") {
		if pair == "" {
			continue
		}
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("backupservice: malformed store-id segment %q", pair)
		}
		raw[kv[0]] = kv[1]
	}

	a := &Args{raw: raw}
	var err error
	required := []string{"cc", "cn", "ph", "pp", "at", "in", "bs", "sc", "jt", "ns"}
	for _, k := range required {
		if raw[k] == "" {
			return nil, fmt.Errorf("backupservice: missing required store-id field %q", k)
		}
	}

	a.CommcellID = raw["cc"]
	a.ClientName = raw["cn"]
	a.ProxyHost = raw["ph"]
	a.AppType = raw["at"]
	a.InstanceName = raw["in"]
	a.BackupSet = raw["bs"]
	a.Subclient = raw["sc"]
	a.JobID = raw["ji"]
	a.JobToken = raw["jk"]

	if a.ProxyPort, err = strconv.Atoi(raw["pp"]); err != nil {
		return nil, fmt.Errorf("backupservice: invalid proxy port %q", raw["pp"])
	}
	if a.StreamCount, err = strconv.Atoi(raw["ns"]); err != nil {
		return nil, fmt.Errorf("backupservice: invalid stream count %q", raw["ns"])
	}

	switch JobType(raw["jt"]) {
	case JobBrowse, JobFullBackup, JobIncrBackup, JobRestore:
		a.JobType = JobType(raw["jt"])
	default:
		return nil, fmt.Errorf("backupservice: invalid job type %q", raw["jt"])
	}

	return a, nil
}

// String reconstructs a canonical colon-separated representation.
func (a *Args) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "cc=%s:cn=%s:ph=%s:pp=%d:at=%s:in=%s:bs=%s:sc=%s",
		a.CommcellID, a.ClientName, a.ProxyHost, a.ProxyPort, a.AppType, a.InstanceName, a.BackupSet, a.Subclient)
	if a.JobID != "" {
		fmt.Fprintf(&b, ":ji=%s", a.JobID)
	}
	if a.JobToken != "" {
		fmt.Fprintf(&b, ":jk=%s", a.JobToken)
	}
	fmt.Fprintf(&b, ":jt=%s:ns=%d", a.JobType, a.StreamCount)
	return b.String()
}

// RestoreStoreID rewrites a store id for a restore tree, keeping only
// the read-relevant subset of fields and appending jt=restore:ns=1
// (spec §4.E).
func RestoreStoreID(orig string) (string, error) {
	a, err := ParseArgs(orig)
	if err != nil {
		return "", err
	}
	parts := make([]string, 0, len(restoreSubsetKeys)+2)
	for _, k := range restoreSubsetKeys {
		if v := a.raw[k]; v != "" {
			parts = append(parts, k+"="+v)
		}
	}
	parts = append(parts, "jt=restore", "ns=1")
	return strings.Join(parts, ":"), nil
}
