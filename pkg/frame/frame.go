// Package frame implements the multi-table atomicity unit: a
// shared-timestamp batch of writes across several tables, with a
// snapshot file on commit and crash-safe forward recovery if the
// process dies mid-frame. Uses an explicit transaction-state struct
// with no implicit coroutine yields, and status-enum dispatch rather
// than a virtual-method tree.
package frame

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/reedbase/reedbase/pkg/reederr"
)

// Status is a frame's lifecycle state.
type Status int

const (
	Active Status = iota
	Committed
	RolledBack
	Crashed
)

func (s Status) String() string {
	switch s {
	case Active:
		return "active"
	case Committed:
		return "committed"
	case RolledBack:
		return "rolled_back"
	case Crashed:
		return "crashed"
	default:
		return "unknown"
	}
}

// Participant is one table's versioned write performed inside a frame.
type Participant struct {
	Table       string
	Timestamp   int64
	BaseTS      int64
	ContentHash string
}

// Frame is a named batch of writes sharing one timestamp and id.
type Frame struct {
	ID           uint64
	Name         string
	SharedTS     int64
	Status       Status
	mu           sync.Mutex
	participants []Participant
}

// Timestamp returns the timestamp every write inside this frame must be
// tagged with.
func (f *Frame) Timestamp() int64 { return f.SharedTS }

// AddParticipant records one table's committed write as part of this
// frame.
func (f *Frame) AddParticipant(p Participant) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.participants = append(f.participants, p)
}

// Participants returns a snapshot of the frame's recorded writes so far.
func (f *Frame) Participants() []Participant {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Participant, len(f.participants))
	copy(out, f.participants)
	return out
}

// RecordWrite attaches one table write to f and persists it to
// frames/frame.log so that a replay after a crash can reconstruct which
// tables an Active frame had touched, even though Frame.participants
// itself only lives in memory.
func (m *Manager) RecordWrite(f *Frame, p Participant) error {
	f.AddParticipant(p)
	return m.appendLog(fmt.Sprintf("write|%d|%s|%d|%d|%s", f.ID, p.Table, p.Timestamp, p.BaseTS, p.ContentHash))
}

// Manager owns every frame for one ReedBase root: the active-frame
// registry, the sorted frames/index.csv, and the append-only
// frames/frame.log.
type Manager struct {
	root string

	mu      sync.Mutex
	active  map[uint64]*Frame
	nextID  uint64
	tsClock func() int64
}

// NewManager creates a frame manager rooted at root (expects
// root/frames/ to exist or be creatable), using now to read the
// monotonic clock a frame's SharedTS is stamped from.
func NewManager(root string, now func() int64) (*Manager, error) {
	dir := filepath.Join(root, "frames")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, reederr.Wrap(reederr.KindIO, "creating frames directory", err).WithPath(dir)
	}
	return &Manager{root: root, active: make(map[uint64]*Frame), tsClock: now}, nil
}

func (m *Manager) framesDir() string  { return filepath.Join(m.root, "frames") }
func (m *Manager) indexPath() string  { return filepath.Join(m.framesDir(), "index.csv") }
func (m *Manager) logPath() string    { return filepath.Join(m.framesDir(), "frame.log") }
func (m *Manager) snapshotPath(ts int64) string {
	return filepath.Join(m.framesDir(), strconv.FormatInt(ts, 10)+".snapshot.csv")
}

// Begin opens a new Active frame named name, stamped with the current
// monotonic timestamp.
func (m *Manager) Begin(name string) (*Frame, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	f := &Frame{
		ID:       m.nextID,
		Name:     name,
		SharedTS: m.tsClock(),
		Status:   Active,
	}
	m.active[f.ID] = f
	if err := m.appendLog(fmt.Sprintf("begin|%d|%s|%d", f.ID, f.Name, f.SharedTS)); err != nil {
		return nil, err
	}
	return f, nil
}

// Commit walks f's participants, writes frames/<shared_ts>.snapshot.csv,
// appends f's entry to the sorted frames/index.csv, and marks f
// Committed.
func (m *Manager) Commit(f *Frame) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	participants := f.Participants()
	if err := m.writeSnapshot(f.SharedTS, participants); err != nil {
		return err
	}
	if err := m.appendIndex(f.SharedTS, f.ID); err != nil {
		return err
	}
	f.Status = Committed
	delete(m.active, f.ID)
	return m.appendLog(fmt.Sprintf("commit|%d|%d|%d", f.ID, f.SharedTS, len(participants)))
}

// Rollback marks f RolledBack without writing a snapshot: its partial
// writes remain as durable table versions (forward recovery), never
// rewritten.
func (m *Manager) Rollback(f *Frame) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f.Status = RolledBack
	delete(m.active, f.ID)
	return m.appendLog(fmt.Sprintf("rollback|%d", f.ID))
}

func (m *Manager) writeSnapshot(ts int64, participants []Participant) error {
	var b strings.Builder
	sorted := append([]Participant(nil), participants...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Table < sorted[j].Table })
	for _, p := range sorted {
		fmt.Fprintf(&b, "%s|%d|%s\n", p.Table, p.Timestamp, p.ContentHash)
	}
	path := m.snapshotPath(ts)
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return reederr.Wrap(reederr.KindIO, "writing frame snapshot", err).WithPath(path)
	}
	return nil
}

func (m *Manager) appendIndex(ts int64, frameID uint64) error {
	f, err := os.OpenFile(m.indexPath(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return reederr.Wrap(reederr.KindIO, "opening frames index", err).WithPath(m.indexPath())
	}
	defer f.Close()
	line := fmt.Sprintf("%d|%d\n", ts, frameID)
	if _, err := f.WriteString(line); err != nil {
		return reederr.Wrap(reederr.KindIO, "appending frames index", err).WithPath(m.indexPath())
	}
	return f.Sync()
}

func (m *Manager) appendLog(line string) error {
	f, err := os.OpenFile(m.logPath(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return reederr.Wrap(reederr.KindIO, "opening frame log", err).WithPath(m.logPath())
	}
	defer f.Close()
	if _, err := f.WriteString(line + "\n"); err != nil {
		return reederr.Wrap(reederr.KindIO, "appending frame log", err).WithPath(m.logPath())
	}
	return f.Sync()
}

// UnresolvedFrame is a frame whose frame.log shows a "begin" with no
// matching commit/rollback/crashed line, the signature of a process that
// died mid-frame.
type UnresolvedFrame struct {
	ID           uint64
	Name         string
	SharedTS     int64
	Participants []Participant
}

// ReadLog replays frames/frame.log and returns every frame left Active
// when the log ends. A fresh Manager starts with an empty in-memory
// active map, so crash recovery calls this instead of ActiveFrames to
// learn which frames (and which tables within them) a prior process
// never finished.
func (m *Manager) ReadLog() ([]UnresolvedFrame, error) {
	data, err := os.ReadFile(m.logPath())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, reederr.Wrap(reederr.KindIO, "reading frame log", err).WithPath(m.logPath())
	}

	open := make(map[uint64]*UnresolvedFrame)
	var order []uint64
	for _, line := range strings.Split(strings.TrimRight(string(data), "\n"), "\n") {
		if line == "" {
			continue
		}
		fields := strings.Split(line, "|")
		if len(fields) < 2 {
			continue
		}
		id, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			continue
		}
		switch fields[0] {
		case "begin":
			if len(fields) != 4 {
				continue
			}
			ts, err := strconv.ParseInt(fields[3], 10, 64)
			if err != nil {
				continue
			}
			open[id] = &UnresolvedFrame{ID: id, Name: fields[2], SharedTS: ts}
			order = append(order, id)
		case "write":
			if len(fields) != 6 {
				continue
			}
			uf, ok := open[id]
			if !ok {
				continue
			}
			ts, err1 := strconv.ParseInt(fields[3], 10, 64)
			base, err2 := strconv.ParseInt(fields[4], 10, 64)
			if err1 != nil || err2 != nil {
				continue
			}
			uf.Participants = append(uf.Participants, Participant{
				Table: fields[2], Timestamp: ts, BaseTS: base, ContentHash: fields[5],
			})
		case "commit", "rollback", "crashed":
			delete(open, id)
		}
	}

	out := make([]UnresolvedFrame, 0, len(open))
	for _, id := range order {
		if uf, ok := open[id]; ok {
			out = append(out, *uf)
		}
	}
	return out, nil
}

// IndexEntry is one sorted row of frames/index.csv.
type IndexEntry struct {
	Timestamp int64
	FrameID   uint64
}

// ReadIndex parses frames/index.csv, sorted ascending by Timestamp.
func (m *Manager) ReadIndex() ([]IndexEntry, error) {
	data, err := os.ReadFile(m.indexPath())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, reederr.Wrap(reederr.KindIO, "reading frames index", err).WithPath(m.indexPath())
	}
	var entries []IndexEntry
	for _, line := range strings.Split(strings.TrimRight(string(data), "\n"), "\n") {
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "|", 2)
		if len(parts) != 2 {
			return nil, reederr.New(reederr.KindFrameSnapshotCorrupted, "malformed frames index line").WithHint(line)
		}
		ts, err1 := strconv.ParseInt(parts[0], 10, 64)
		id, err2 := strconv.ParseUint(parts[1], 10, 64)
		if err1 != nil || err2 != nil {
			return nil, reederr.New(reederr.KindFrameSnapshotCorrupted, "malformed frames index line").WithHint(line)
		}
		entries = append(entries, IndexEntry{Timestamp: ts, FrameID: id})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Timestamp < entries[j].Timestamp })
	return entries, nil
}

// SnapshotAt parses frames/<ts>.snapshot.csv.
func (m *Manager) SnapshotAt(ts int64) ([]Participant, error) {
	path := m.snapshotPath(ts)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, reederr.Wrap(reederr.KindFrameSnapshotCorrupted, "reading frame snapshot", err).WithPath(path)
	}
	var out []Participant
	for _, line := range strings.Split(strings.TrimRight(string(data), "\n"), "\n") {
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "|", 3)
		if len(parts) != 3 {
			return nil, reederr.New(reederr.KindFrameSnapshotCorrupted, "malformed frame snapshot line").WithHint(line)
		}
		ts, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return nil, reederr.New(reederr.KindFrameSnapshotCorrupted, "malformed frame snapshot timestamp").WithHint(line)
		}
		out = append(out, Participant{Table: parts[0], Timestamp: ts, ContentHash: parts[2]})
	}
	return out, nil
}

// NearestAtOrBefore returns the snapshot index entry with the largest
// timestamp <= target, and ok=false if none exists (the 100x acceleration
// path point-in-time restore uses before falling back to a per-table log
// walk).
func (m *Manager) NearestAtOrBefore(entries []IndexEntry, target int64) (IndexEntry, bool) {
	var best IndexEntry
	found := false
	for _, e := range entries {
		if e.Timestamp <= target && (!found || e.Timestamp > best.Timestamp) {
			best = e
			found = true
		}
	}
	return best, found
}

// ActiveFrames returns every frame currently tracked as Active, used by
// crash recovery to force them to Crashed on open.
func (m *Manager) ActiveFrames() []*Frame {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Frame, 0, len(m.active))
	for _, f := range m.active {
		out = append(out, f)
	}
	return out
}

// ForceCrashed marks f Crashed; its partial writes are left as durable
// versions (forward recovery never rewrites history), and the caller is
// expected to append a rollback-to-previous-snapshot version on each
// participant table.
func (m *Manager) ForceCrashed(f *Frame) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f.Status = Crashed
	delete(m.active, f.ID)
	return m.appendLog(fmt.Sprintf("crashed|%d", f.ID))
}
