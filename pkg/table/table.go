// Package table implements the universal table engine: directory
// layout, current-snapshot access, and the write protocol that ties the
// CSV codec, delta engine, and version log into one durable step, with
// write-then-fsync sequencing before the log append.
package table

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/reedbase/reedbase/pkg/csvcodec"
	"github.com/reedbase/reedbase/pkg/delta"
	"github.com/reedbase/reedbase/pkg/reederr"
	"github.com/reedbase/reedbase/pkg/versionlog"
)

// Table owns one tables/<name>/ directory.
type Table struct {
	Name string
	Dir  string
}

// Open returns a handle to tables/<name>/ under root, creating the
// directory and an empty current.csv if it does not yet exist.
func Open(root, name string) (*Table, error) {
	dir := filepath.Join(root, "tables", name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, reederr.Wrap(reederr.KindIO, "creating table directory", err).WithPath(dir)
	}
	t := &Table{Name: name, Dir: dir}
	currentPath := t.currentPath()
	if _, err := os.Stat(currentPath); os.IsNotExist(err) {
		if err := os.WriteFile(currentPath, nil, 0o644); err != nil {
			return nil, reederr.Wrap(reederr.KindIO, "creating current.csv", err).WithPath(currentPath)
		}
	}
	return t, nil
}

// Exists reports whether tables/<name>/ already exists under root.
func Exists(root, name string) bool {
	_, err := os.Stat(filepath.Join(root, "tables", name))
	return err == nil
}

// Drop atomically renames the table directory into
// .reed/trash/<name>.<YYYYMMDDTHHMMSS> (UTC) for deferred deletion; the
// caller is responsible for the sweep.
func Drop(root, name string) error {
	dir := filepath.Join(root, "tables", name)
	trash := filepath.Join(root, "trash")
	if err := os.MkdirAll(trash, 0o755); err != nil {
		return reederr.Wrap(reederr.KindIO, "creating trash directory", err).WithPath(trash)
	}
	dest := filepath.Join(trash, fmtTrashName(name))
	if err := os.Rename(dir, dest); err != nil {
		return reederr.Wrap(reederr.KindIO, "moving table to trash", err).WithPath(dir)
	}
	return nil
}

func fmtTrashName(name string) string {
	return name + "." + time.Now().UTC().Format("20060102T150405")
}

func (t *Table) currentPath() string       { return filepath.Join(t.Dir, "current.csv") }
func (t *Table) deltaPath(ts int64) string { return filepath.Join(t.Dir, strconv.FormatInt(ts, 10)+".bsdiff") }

// LogPath returns the path to this table's version.log.
func (t *Table) LogPath() string { return filepath.Join(t.Dir, "version.log") }

// LockPath returns the path to this table's .lock sentinel.
func (t *Table) LockPath() string { return filepath.Join(t.Dir, ".lock") }

// ReadCurrentBytes returns the raw bytes of current.csv.
func (t *Table) ReadCurrentBytes() ([]byte, error) {
	data, err := os.ReadFile(t.currentPath())
	if err != nil {
		return nil, reederr.Wrap(reederr.KindIO, "reading current.csv", err).WithPath(t.currentPath())
	}
	return data, nil
}

// ReadCurrent parses current.csv into rows.
func (t *Table) ReadCurrent() ([]csvcodec.Row, error) {
	data, err := t.ReadCurrentBytes()
	if err != nil {
		return nil, err
	}
	return csvcodec.Parse(data)
}

// ContentHash returns the lowercase hex SHA-256 of data, the value
// stored as versionlog.Entry.ContentHash and checked against current.csv by
// crash recovery.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// WriteMeta carries the interned action/user codes and frame tag for
// one write.
type WriteMeta struct {
	Action  uint32
	User    uint32
	FrameID uint64
}

// WriteResult summarizes one completed write protocol step.
type WriteResult struct {
	Timestamp   int64
	ContentHash string
	DeltaBytes  int
	Rows        int
	NoOp        bool
}

// Modifier transforms the current row set into the next one.
type Modifier func(rows []csvcodec.Row) ([]csvcodec.Row, error)

// Write executes the write protocol: read S0, apply modifier to get S1,
// reject a no-op, enforce sort/uniqueness, atomically publish S1, write
// the delta against S0, and append one version log entry. The caller
// must hold the table's lock (pkg/coordinator) before calling Write.
func (t *Table) Write(modifier Modifier, meta WriteMeta, log *versionlog.Log, nowUnix int64, baseTS int64) (WriteResult, error) {
	oldBytes, err := t.ReadCurrentBytes()
	if err != nil {
		return WriteResult{}, err
	}
	oldRows, err := csvcodec.Parse(oldBytes)
	if err != nil {
		return WriteResult{}, err
	}

	newRows, err := modifier(oldRows)
	if err != nil {
		return WriteResult{}, err
	}
	newRows = csvcodec.Dedupe(csvcodec.SortRows(newRows))

	newBytes, err := csvcodec.Serialize(newRows)
	if err != nil {
		return WriteResult{}, err
	}

	if string(newBytes) == string(oldBytes) {
		return WriteResult{NoOp: true}, nil
	}

	if err := t.publishAtomic(newBytes); err != nil {
		return WriteResult{}, err
	}

	deltaBytes, err := delta.Diff(oldBytes, newBytes)
	if err != nil {
		return WriteResult{}, err
	}
	if err := t.writeDeltaFile(nowUnix, deltaBytes); err != nil {
		return WriteResult{}, err
	}

	hash := ContentHash(newBytes)
	entry := versionlog.Entry{
		Timestamp:   nowUnix,
		Action:      meta.Action,
		User:        meta.User,
		BaseTS:      baseTS,
		Size:        int64(len(newBytes)),
		Rows:        int64(len(newRows)),
		ContentHash: hash,
		FrameID:     meta.FrameID,
	}
	if err := log.Append(entry); err != nil {
		return WriteResult{}, err
	}

	return WriteResult{
		Timestamp:   nowUnix,
		ContentHash: hash,
		DeltaBytes:  len(deltaBytes),
		Rows:        len(newRows),
	}, nil
}

// publishAtomic writes data to a sibling temp file, fsyncs it, and
// renames it over current.csv so readers never observe a torn file.
func (t *Table) publishAtomic(data []byte) error {
	tmp := t.currentPath() + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return reederr.Wrap(reederr.KindIO, "creating temp snapshot", err).WithPath(tmp)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return reederr.Wrap(reederr.KindIO, "writing temp snapshot", err).WithPath(tmp)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return reederr.Wrap(reederr.KindIO, "fsyncing temp snapshot", err).WithPath(tmp)
	}
	if err := f.Close(); err != nil {
		return reederr.Wrap(reederr.KindIO, "closing temp snapshot", err).WithPath(tmp)
	}
	if err := os.Rename(tmp, t.currentPath()); err != nil {
		return reederr.Wrap(reederr.KindIO, "publishing snapshot", err).WithPath(t.currentPath())
	}
	return nil
}

func (t *Table) writeDeltaFile(ts int64, deltaBytes []byte) error {
	path := t.deltaPath(ts)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return reederr.Wrap(reederr.KindIO, "creating delta file", err).WithPath(path)
	}
	defer f.Close()
	if _, err := f.Write(deltaBytes); err != nil {
		return reederr.Wrap(reederr.KindIO, "writing delta file", err).WithPath(path)
	}
	return f.Sync()
}

// ReadDelta returns the raw bytes of the delta file named by ts.
func (t *Table) ReadDelta(ts int64) ([]byte, error) {
	path := t.deltaPath(ts)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, reederr.Wrap(reederr.KindDeltaCorrupted, "reading delta file", err).WithPath(path)
	}
	return data, nil
}

// HasDelta reports whether a delta file exists for ts.
func (t *Table) HasDelta(ts int64) bool {
	_, err := os.Stat(t.deltaPath(ts))
	return err == nil
}
