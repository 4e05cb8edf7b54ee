// admin.go wires the façade's CLI-facing verbs (backup, point-in-time
// restore, version history, frame lifecycle, conflict resolution) on
// top of the same packages Open's recovery pass uses.
package reedbase

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/reedbase/reedbase/pkg/backup"
	"github.com/reedbase/reedbase/pkg/csvcodec"
	"github.com/reedbase/reedbase/pkg/frame"
	"github.com/reedbase/reedbase/pkg/merge"
	"github.com/reedbase/reedbase/pkg/recovery"
	"github.com/reedbase/reedbase/pkg/reederr"
	"github.com/reedbase/reedbase/pkg/table"
	"github.com/reedbase/reedbase/pkg/versionlog"
	"github.com/reedbase/reedbase/pkg/workerpool"
)

// BackupCreate archives the whole `.reed` root into backups/<ts>.tar.zst.
func (db *Database) BackupCreate() (string, error) {
	return backup.Create(db.Root, filepath.Join(db.Root, "backups"), db.clock())
}

// BackupList returns every backup's timestamp, oldest first.
func (db *Database) BackupList() ([]int64, error) {
	return backup.List(filepath.Join(db.Root, "backups"))
}

// RestorePointInTime rolls every table forward to its newest version at
// or before targetTS, each as a brand-new durable version. Tables are
// independent (each under its own coordinator lock), so the restores run
// concurrently across a worker pool rather than one at a time.
func (db *Database) RestorePointInTime(targetTS int64) ([]backup.TableRestore, error) {
	names, err := db.ListTables()
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, nil
	}

	poolSize := len(names)
	if poolSize > 8 {
		poolSize = 8
	}
	cfg := workerpool.DefaultConfig()
	cfg.Size = poolSize
	cfg.QueueSize = len(names)
	pool, err := workerpool.New(cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Start(); err != nil {
		return nil, err
	}
	defer pool.Close()

	results := make([]backup.TableRestore, len(names))
	tasks := make([]workerpool.Task, len(names))
	for i, name := range names {
		i, name := i, name
		tasks[i] = func(ctx context.Context) error {
			restored, err := backup.PointInTime(db.Root, []string{name}, targetTS, db.clock(), openVersionLog)
			if err != nil {
				return err
			}
			if len(restored) == 1 {
				results[i] = restored[0]
			}
			return nil
		}
	}

	resultCh, err := pool.SubmitBatch(context.Background(), tasks)
	if err != nil {
		return nil, err
	}
	for r := range resultCh {
		if r.Error != nil {
			return nil, r.Error
		}
	}
	return results, nil
}

// VersionList returns every version.log entry for tableName, oldest
// first.
func (db *Database) VersionList(tableName string) ([]versionlog.Entry, error) {
	tbl, err := table.Open(db.Root, tableName)
	if err != nil {
		return nil, err
	}
	return versionlog.ParseAll(tbl.LogPath())
}

// VersionRollback rewinds tableName to the version at or before
// targetTS, appending it as a new forward version (never a rewrite).
func (db *Database) VersionRollback(tableName string, targetTS int64) (table.WriteResult, error) {
	tbl, err := table.Open(db.Root, tableName)
	if err != nil {
		return table.WriteResult{}, err
	}
	log, err := openVersionLog(tbl)
	if err != nil {
		return table.WriteResult{}, err
	}
	defer log.Close()

	entries, err := versionlog.ParseAll(tbl.LogPath())
	if err != nil {
		return table.WriteResult{}, err
	}
	latest := int64(0)
	if len(entries) > 0 {
		latest = entries[len(entries)-1].Timestamp
	}
	if e, ok := nearestEntry(entries, targetTS); ok {
		targetTS = e.Timestamp
	}
	return recovery.RollbackParticipant(tbl, log, frame.Participant{
		Table:     tableName,
		BaseTS:    targetTS,
		Timestamp: latest,
	}, db.clock())
}

// VersionDiff returns the two log entries bracketing a comparison: the
// newest entry at or before each of tsA and tsB.
func (db *Database) VersionDiff(tableName string, tsA, tsB int64) (versionlog.Entry, versionlog.Entry, error) {
	tbl, err := table.Open(db.Root, tableName)
	if err != nil {
		return versionlog.Entry{}, versionlog.Entry{}, err
	}
	entries, err := versionlog.ParseAll(tbl.LogPath())
	if err != nil {
		return versionlog.Entry{}, versionlog.Entry{}, err
	}
	a, aok := nearestEntry(entries, tsA)
	b, bok := nearestEntry(entries, tsB)
	if !aok || !bok {
		return versionlog.Entry{}, versionlog.Entry{}, reederr.New(reederr.KindVersionNotFound, "no version at or before the requested timestamp")
	}
	return a, b, nil
}

func nearestEntry(entries []versionlog.Entry, ts int64) (versionlog.Entry, bool) {
	var best versionlog.Entry
	found := false
	for _, e := range entries {
		if e.Timestamp <= ts && (!found || e.Timestamp > best.Timestamp) {
			best = e
			found = true
		}
	}
	return best, found
}

// FrameBegin starts a new frame grouping writes under one shared
// timestamp.
func (db *Database) FrameBegin(name string) (*frame.Frame, error) { return db.Frames.Begin(name) }

// FrameCommit finalises f, writing its shared-timestamp snapshot.
func (db *Database) FrameCommit(f *frame.Frame) error { return db.Frames.Commit(f) }

// FrameRollback abandons f without writing a snapshot.
func (db *Database) FrameRollback(f *frame.Frame) error { return db.Frames.Rollback(f) }

// FrameList returns the frame index (frames/index.csv), sorted by
// timestamp.
func (db *Database) FrameList() ([]frame.IndexEntry, error) { return db.Frames.ReadIndex() }

// FrameStatus returns every frame still open in this process.
func (db *Database) FrameStatus() []*frame.Frame { return db.Frames.ActiveFrames() }

// FrameRollbackCrashed force-closes the unresolved frame identified by
// id (as left behind by a crash) and rolls every participant table back
// to its pre-frame version, each as a new forward version.
func (db *Database) FrameRollbackCrashed(id uint64) ([]frame.Participant, error) {
	unresolved, err := db.Frames.ReadLog()
	if err != nil {
		return nil, err
	}
	var target *frame.UnresolvedFrame
	for i := range unresolved {
		if unresolved[i].ID == id {
			target = &unresolved[i]
			break
		}
	}
	if target == nil {
		return nil, reederr.New(reederr.KindFrameNotFound, "no unresolved frame with that id")
	}
	for _, p := range target.Participants {
		tbl, err := table.Open(db.Root, p.Table)
		if err != nil {
			return nil, err
		}
		log, err := openVersionLog(tbl)
		if err != nil {
			return nil, err
		}
		_, err = recovery.RollbackParticipant(tbl, log, p, db.clock())
		log.Close()
		if err != nil {
			return nil, err
		}
	}
	return target.Participants, nil
}

// FrameCleanup removes frame snapshot files older than retentionDays,
// per the frames.retention_days config key.
func (db *Database) FrameCleanup(retentionDays int) (int, error) {
	dir := filepath.Join(db.Root, "frames")
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, reederr.Wrap(reederr.KindIO, "listing frames directory", err).WithPath(dir)
	}
	cutoff := time.Now().Unix() - int64(retentionDays)*86400
	removed := 0
	for _, e := range entries {
		ts, ok := parseSnapshotTimestamp(e.Name())
		if !ok || ts >= cutoff {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
			return removed, reederr.Wrap(reederr.KindIO, "removing frame snapshot", err).WithPath(e.Name())
		}
		removed++
	}
	return removed, nil
}

func parseSnapshotTimestamp(name string) (int64, bool) {
	const suffix = ".snapshot.csv"
	if len(name) <= len(suffix) || name[len(name)-len(suffix):] != suffix {
		return 0, false
	}
	ts, err := strconv.ParseInt(name[:len(name)-len(suffix)], 10, 64)
	if err != nil {
		return 0, false
	}
	return ts, true
}

// ConflictList returns every pending conflict file path for tableName.
func (db *Database) ConflictList(tableName string) ([]string, error) {
	tbl, err := table.Open(db.Root, tableName)
	if err != nil {
		return nil, err
	}
	return merge.ListConflictFiles(tbl.Dir)
}

// ConflictShow parses one conflict file for display.
func (db *Database) ConflictShow(path string) (merge.ConflictFile, error) {
	return merge.ReadConflictFile(path)
}

// ConflictResolve applies the named side ("a" or "b") of a persisted
// conflict as a normal versioned write and deletes the conflict file.
func (db *Database) ConflictResolve(ctx context.Context, tableName, path, accept string) error {
	doc, err := merge.ReadConflictFile(path)
	if err != nil {
		return err
	}
	var winner csvcodec.Row
	switch accept {
	case "a":
		winner = merge.RowFromValues(doc.ChangeA.Values)
	case "b":
		winner = merge.RowFromValues(doc.ChangeB.Values)
	default:
		return reederr.New(reederr.KindValidationError, "accept must be \"a\" or \"b\"")
	}

	err = db.writeTableDirect(ctx, tableName, func(rows []csvcodec.Row) ([]csvcodec.Row, error) {
		out := make([]csvcodec.Row, 0, len(rows)+1)
		for _, r := range rows {
			if r.Key == winner.Key {
				continue
			}
			out = append(out, r)
		}
		out = append(out, winner)
		return out, nil
	})
	if err != nil {
		return err
	}
	return merge.DeleteConflictFile(path)
}

// writeTableDirect runs modifier against tableName under the
// coordinator's lock, the same protocol query.Executor.writeTable uses,
// for façade-level writes that don't originate from a parsed statement.
func (db *Database) writeTableDirect(ctx context.Context, tableName string, modifier table.Modifier) error {
	tbl, err := table.Open(db.Root, tableName)
	if err != nil {
		return err
	}
	log, err := openVersionLog(tbl)
	if err != nil {
		return err
	}
	defer log.Close()

	return db.Coordinator.Submit(ctx, tableName, func(ctx context.Context) error {
		entries, err := versionlog.ParseAll(tbl.LogPath())
		if err != nil {
			return err
		}
		baseTS := int64(0)
		if len(entries) > 0 {
			baseTS = entries[len(entries)-1].Timestamp
		}
		_, err = tbl.Write(modifier, table.WriteMeta{}, log, db.clock(), baseTS)
		return err
	})
}
