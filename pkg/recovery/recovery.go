// Package recovery implements the crash-recovery pass that runs once
// per table (and once for the shared frame manager) before a freshly
// opened database accepts any client I/O. It heals three independent
// failure shapes left behind by a process that died mid-write: a torn
// version.log tail, a current.csv that drifted out of step with the
// log, and an Active frame nobody ever committed or rolled back.
// The pass is plain functions (RunTable, RunFrames, RollbackParticipant)
// rather than a strategy manager; the frame half of the pass uses
// the same explicit state-machine style as frame commit/rollback.
package recovery

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/reedbase/reedbase/pkg/csvcodec"
	"github.com/reedbase/reedbase/pkg/delta"
	"github.com/reedbase/reedbase/pkg/frame"
	"github.com/reedbase/reedbase/pkg/reederr"
	"github.com/reedbase/reedbase/pkg/table"
	"github.com/reedbase/reedbase/pkg/versionlog"
)

// TableReport summarizes what the recovery pass did for one table.
type TableReport struct {
	Table           string
	LogTruncated    bool
	LogTruncatedAt  int64
	BrokenTailPath  string
	SnapshotRebuilt bool
	SnapshotHash    string
	NoActionNeeded  bool
}

// FrameReport summarizes one crashed frame the pass force-closed.
type FrameReport struct {
	FrameID      uint64
	Name         string
	Participants []frame.Participant
}

// Report is the full result of one Run.
type Report struct {
	Tables []TableReport
	Frames []FrameReport
}

// RunTable performs log repair and snapshot repair for one table
// directory. It is idempotent: calling it again on an already-healthy
// table is a no-op.
func RunTable(name string, t *table.Table) (TableReport, error) {
	report := TableReport{Table: name}

	truncated, truncatedAt, brokenPath, err := repairLog(t)
	if err != nil {
		return report, err
	}
	report.LogTruncated = truncated
	report.LogTruncatedAt = truncatedAt
	report.BrokenTailPath = brokenPath

	entries, err := versionlog.ParseAll(t.LogPath())
	if err != nil {
		return report, err
	}

	rebuilt, hash, err := repairSnapshot(t, entries)
	if err != nil {
		return report, err
	}
	report.SnapshotRebuilt = rebuilt
	report.SnapshotHash = hash
	report.NoActionNeeded = !truncated && !rebuilt
	return report, nil
}

// repairLog truncates version.log at the first CRC/parse failure,
// renaming the untruncated original aside to .broken-<n> first so the
// garbage tail is preserved for forensics rather than destroyed.
func repairLog(t *table.Table) (truncated bool, goodOffset int64, brokenPath string, err error) {
	path := t.LogPath()
	info, statErr := os.Stat(path)
	if os.IsNotExist(statErr) {
		return false, 0, "", nil
	}
	if statErr != nil {
		return false, 0, "", reederr.Wrap(reederr.KindIO, "statting version.log", statErr).WithPath(path)
	}

	_, offset, err := versionlog.ParseAllStrict(path)
	if err != nil {
		return false, 0, "", err
	}
	if offset == info.Size() {
		return false, offset, "", nil
	}

	broken := nextBrokenPath(path)
	if err := os.Rename(path, broken); err != nil {
		return false, 0, "", reederr.Wrap(reederr.KindIO, "renaming broken version.log", err).WithPath(path)
	}
	data, err := os.ReadFile(broken)
	if err != nil {
		return false, 0, "", reederr.Wrap(reederr.KindIO, "reading broken version.log", err).WithPath(broken)
	}
	good := data[:offset]
	if err := os.WriteFile(path, good, 0o644); err != nil {
		return false, 0, "", reederr.Wrap(reederr.KindIO, "writing truncated version.log", err).WithPath(path)
	}
	return true, offset, broken, nil
}

func nextBrokenPath(path string) string {
	for n := 1; ; n++ {
		candidate := fmt.Sprintf("%s.broken-%d", path, n)
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}

// repairSnapshot compares current.csv's content hash against the newest
// surviving log entry. A mismatch means the crash happened between
// publishAtomic and the log append (or vice versa); it reconstructs
// current.csv by replaying the delta chain from the oldest entry
// forward against an empty table, the only state the log and delta
// files agree was ever durable.
func repairSnapshot(t *table.Table, entries []versionlog.Entry) (rebuilt bool, finalHash string, err error) {
	if len(entries) == 0 {
		return false, "", nil
	}
	newest := entries[len(entries)-1]

	current, err := t.ReadCurrentBytes()
	if err != nil {
		return false, "", err
	}
	if table.ContentHash(current) == newest.ContentHash {
		return false, newest.ContentHash, nil
	}

	rebuilt, hash, err := rebuildFromDeltaChain(t, entries)
	if err != nil {
		return false, "", err
	}
	return rebuilt, hash, nil
}

func rebuildFromDeltaChain(t *table.Table, entries []versionlog.Entry) (bool, string, error) {
	var data []byte
	for _, e := range entries {
		if !t.HasDelta(e.Timestamp) {
			return false, "", reederr.New(reederr.KindVersionNotFound, "missing delta in reconstruction chain").
				WithHint(fmt.Sprintf("table=%s ts=%d", t.Name, e.Timestamp))
		}
		d, err := t.ReadDelta(e.Timestamp)
		if err != nil {
			return false, "", err
		}
		next, err := delta.Patch(data, d)
		if err != nil {
			return false, "", err
		}
		if table.ContentHash(next) != e.ContentHash {
			return false, "", reederr.New(reederr.KindDeltaCorrupted, "reconstructed snapshot hash mismatch").
				WithHint(fmt.Sprintf("table=%s ts=%d", t.Name, e.Timestamp))
		}
		data = next
	}

	if _, err := csvcodec.Parse(data); err != nil {
		return false, "", err
	}
	if err := publishRebuilt(t, data); err != nil {
		return false, "", err
	}
	return true, table.ContentHash(data), nil
}

// rebuildChainDataUnchecked replays chain's deltas from an empty table without
// the per-step hash check rebuildFromDeltaChain performs: used by
// RollbackParticipant, where chain may stop short of the newest log
// entry on purpose.
func rebuildChainDataUnchecked(t *table.Table, chain []versionlog.Entry) ([]byte, error) {
	var data []byte
	for _, e := range chain {
		d, err := t.ReadDelta(e.Timestamp)
		if err != nil {
			return nil, err
		}
		next, err := delta.Patch(data, d)
		if err != nil {
			return nil, err
		}
		data = next
	}
	return data, nil
}

func publishRebuilt(t *table.Table, data []byte) error {
	path := filepath.Join(t.Dir, "current.csv")
	tmp := path + ".recover.tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return reederr.Wrap(reederr.KindIO, "writing recovered snapshot", err).WithPath(tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		return reederr.Wrap(reederr.KindIO, "publishing recovered snapshot", err).WithPath(path)
	}
	return nil
}

// RollbackParticipant reverts one crashed frame's touched table back to
// the snapshot it had before the frame's write, expressed as a new
// forward version rather than a rewrite of version.log. p.BaseTS
// identifies the version the frame's write was based on; 0 means the
// table had no prior write and rolls back to empty.
func RollbackParticipant(t *table.Table, log *versionlog.Log, p frame.Participant, nowUnix int64) (table.WriteResult, error) {
	entries, err := versionlog.ParseAll(t.LogPath())
	if err != nil {
		return table.WriteResult{}, err
	}

	var target []byte
	if p.BaseTS != 0 {
		var chain []versionlog.Entry
		for _, e := range entries {
			chain = append(chain, e)
			if e.Timestamp == p.BaseTS {
				break
			}
		}
		if len(chain) == 0 || chain[len(chain)-1].Timestamp != p.BaseTS {
			return table.WriteResult{}, reederr.New(reederr.KindVersionNotFound, "rollback base version not found").
				WithHint(fmt.Sprintf("table=%s base_ts=%d", t.Name, p.BaseTS))
		}
		rebuilt, err := rebuildChainDataUnchecked(t, chain)
		if err != nil {
			return table.WriteResult{}, err
		}
		target = rebuilt
	}

	return t.Write(func([]csvcodec.Row) ([]csvcodec.Row, error) {
		return csvcodec.Parse(target)
	}, table.WriteMeta{}, log, nowUnix, p.Timestamp)
}

// RunFrames force-closes every frame left Active in frame.log (the
// signature of a process that died mid-frame) and reports their
// participants so the caller can append a rollback-to-previous-snapshot
// version on each affected table.
func RunFrames(mgr *frame.Manager) ([]FrameReport, error) {
	unresolved, err := mgr.ReadLog()
	if err != nil {
		return nil, err
	}

	var reports []FrameReport
	for _, uf := range unresolved {
		f := &frame.Frame{ID: uf.ID, Name: uf.Name, SharedTS: uf.SharedTS, Status: frame.Active}
		for _, p := range uf.Participants {
			f.AddParticipant(p)
		}
		if err := mgr.ForceCrashed(f); err != nil {
			return reports, err
		}
		reports = append(reports, FrameReport{FrameID: f.ID, Name: f.Name, Participants: uf.Participants})
	}
	return reports, nil
}
