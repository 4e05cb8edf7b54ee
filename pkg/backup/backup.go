// Package backup implements whole-root archival and the engine-internal
// point-in-time restore primitive: Create writes a tar archive of an
// entire `.reed/` root, List enumerates the archives, and PointInTime
// restores tables from their own version history. Compresses
// with the zstd codec the delta engine already pulls in
// (github.com/klauspost/compress) rather than adding a second
// compression dependency for the same job.
package backup

import (
	"archive/tar"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/reedbase/reedbase/pkg/csvcodec"
	"github.com/reedbase/reedbase/pkg/delta"
	"github.com/reedbase/reedbase/pkg/frame"
	"github.com/reedbase/reedbase/pkg/reederr"
	"github.com/reedbase/reedbase/pkg/table"
	"github.com/reedbase/reedbase/pkg/versionlog"
)

// Create archives root (a `.reed/` directory) into dir/<unixSeconds>.tar.zst
// and returns the archive's path.
func Create(root, dir string, unixSeconds int64) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", reederr.Wrap(reederr.KindIO, "creating backup directory", err).WithPath(dir)
	}
	name := strconv.FormatInt(unixSeconds, 10) + ".tar.zst"
	path := filepath.Join(dir, name)
	tmp := path + ".tmp"

	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return "", reederr.Wrap(reederr.KindIO, "creating backup archive", err).WithPath(tmp)
	}

	zw, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		f.Close()
		return "", reederr.Wrap(reederr.KindCompressionFailed, "opening backup zstd writer", err)
	}
	tw := tar.NewWriter(zw)

	walkErr := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		src, err := os.Open(p)
		if err != nil {
			return err
		}
		defer src.Close()
		_, err = io.Copy(tw, src)
		return err
	})
	if walkErr != nil {
		tw.Close()
		zw.Close()
		f.Close()
		os.Remove(tmp)
		return "", reederr.Wrap(reederr.KindIO, "archiving reed root", walkErr).WithPath(root)
	}
	if err := tw.Close(); err != nil {
		zw.Close()
		f.Close()
		return "", reederr.Wrap(reederr.KindCompressionFailed, "closing tar writer", err)
	}
	if err := zw.Close(); err != nil {
		f.Close()
		return "", reederr.Wrap(reederr.KindCompressionFailed, "closing zstd writer", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return "", reederr.Wrap(reederr.KindIO, "fsyncing backup archive", err).WithPath(tmp)
	}
	if err := f.Close(); err != nil {
		return "", reederr.Wrap(reederr.KindIO, "closing backup archive", err).WithPath(tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", reederr.Wrap(reederr.KindIO, "publishing backup archive", err).WithPath(path)
	}
	return path, nil
}

// List returns every backups/<ts>.tar.zst archive under dir, sorted
// oldest first.
func List(dir string) ([]int64, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, reederr.Wrap(reederr.KindIO, "listing backups", err).WithPath(dir)
	}
	var out []int64
	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, ".tar.zst") {
			continue
		}
		ts, err := strconv.ParseInt(strings.TrimSuffix(name, ".tar.zst"), 10, 64)
		if err != nil {
			continue
		}
		out = append(out, ts)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// TableRestore describes the outcome of rolling one table forward to a
// target timestamp.
type TableRestore struct {
	Table     string
	Rolled    bool
	ToVersion int64
	Skipped   bool
}

// PointInTime implements restore:point-in-time(target_ts): for each
// table, find the newest version at or before targetTS and roll the
// table forward to reproduce that snapshot's bytes as a brand new
// version. This is itself a versioned write, so no history is ever
// lost, and it is always expressed relative to durable log entries, not
// an in-place file copy. A table with no version at or before targetTS
// (it did not exist yet) is skipped.
func PointInTime(root string, tableNames []string, targetTS, nowUnix int64, openLog func(t *table.Table) (*versionlog.Log, error)) ([]TableRestore, error) {
	var results []TableRestore
	for _, name := range tableNames {
		r, err := restoreTable(root, name, targetTS, nowUnix, openLog)
		if err != nil {
			return results, err
		}
		results = append(results, r)
	}
	return results, nil
}

func restoreTable(root, name string, targetTS, nowUnix int64, openLog func(t *table.Table) (*versionlog.Log, error)) (TableRestore, error) {
	t, err := table.Open(root, name)
	if err != nil {
		return TableRestore{}, err
	}
	entries, err := versionlog.ParseAll(t.LogPath())
	if err != nil {
		return TableRestore{}, err
	}

	best, ok := newestAtOrBefore(entries, targetTS)
	if !ok {
		return TableRestore{Table: name, Skipped: true}, nil
	}

	var chain []versionlog.Entry
	for _, e := range entries {
		chain = append(chain, e)
		if e.Timestamp == best.Timestamp {
			break
		}
	}
	target, err := replayChain(t, chain)
	if err != nil {
		return TableRestore{}, err
	}
	targetRows, err := csvcodec.Parse(target)
	if err != nil {
		return TableRestore{}, err
	}

	log, err := openLog(t)
	if err != nil {
		return TableRestore{}, err
	}
	newest := entries[len(entries)-1]
	_, err = t.Write(func([]csvcodec.Row) ([]csvcodec.Row, error) {
		return targetRows, nil
	}, table.WriteMeta{}, log, nowUnix, newest.Timestamp)
	if err != nil {
		return TableRestore{}, err
	}
	return TableRestore{Table: name, Rolled: true, ToVersion: best.Timestamp}, nil
}

func replayChain(t *table.Table, chain []versionlog.Entry) ([]byte, error) {
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

func newestAtOrBefore(entries []versionlog.Entry, targetTS int64) (versionlog.Entry, bool) {
	var best versionlog.Entry
	found := false
	for _, e := range entries {
		if e.Timestamp <= targetTS && (!found || e.Timestamp > best.Timestamp) {
			best = e
			found = true
		}
	}
	return best, found
}

// FrameAccelerated checks whether a frame snapshot exists at or before
// targetTS and, if so, returns its participants directly: the 100x
// acceleration path that avoids a per-table log walk (a handful of CSV
// lines instead of a full version.log scan per table).
func FrameAccelerated(mgr *frame.Manager, targetTS int64) ([]frame.Participant, bool, error) {
	index, err := mgr.ReadIndex()
	if err != nil {
		return nil, false, err
	}
	entry, ok := mgr.NearestAtOrBefore(index, targetTS)
	if !ok {
		return nil, false, nil
	}
	participants, err := mgr.SnapshotAt(entry.Timestamp)
	if err != nil {
		return nil, false, err
	}
	return participants, true, nil
}
