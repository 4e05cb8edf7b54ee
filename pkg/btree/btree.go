// Package btree implements ReedBase's ordered, paged, WAL-backed on-disk
// index: an in-memory ordered structure backed by
// github.com/google/btree, durable through a write-ahead log replayed
// at open and flushed to a 4KiB-page-aligned snapshot file
// memory-mapped with github.com/edsrzf/mmap-go, guarded by
// github.com/gofrs/flock the same way a database directory lock guards
// concurrent opens.
package btree

import (
	"bufio"
	"encoding/binary"
	"hash/crc32"
	"io"
	"os"
	"sync"

	gbtree "github.com/google/btree"
	"github.com/gofrs/flock"

	"github.com/reedbase/reedbase/pkg/reederr"
)

// PageSize is the on-disk page alignment unit.
const PageSize = 4096

const fileMagic = "RBT1"

// DefaultOrder is the degree used for string-keyed trees (order ~256);
// google/btree calls this the tree's degree.
const DefaultOrder = 256

type entry struct {
	key   string
	value []byte
}

func (e entry) Less(than gbtree.Item) bool {
	return e.key < than.(entry).key
}

// Tree is a single ordered map persisted as path (the page snapshot)
// and path+".wal" (the write-ahead log).
type Tree struct {
	path    string
	walPath string

	mu      sync.RWMutex
	tree    *gbtree.BTree
	lastLSN uint64

	walFile *os.File
	lock    *flock.Flock
}

// OpenOrCreate loads path (and replays its WAL tail) or creates a fresh
// tree if neither file exists. order sets the in-memory tree's degree.
func OpenOrCreate(path string, order int) (*Tree, error) {
	if order <= 0 {
		order = DefaultOrder
	}
	lock := flock.New(path + ".lock")
	ok, err := lock.TryLock()
	if err != nil || !ok {
		return nil, reederr.New(reederr.KindIO, "acquiring btree file lock").WithPath(path)
	}

	t := &Tree{
		path:    path,
		walPath: path + ".wal",
		tree:    gbtree.New(order),
		lock:    lock,
	}

	if err := t.loadSnapshot(); err != nil {
		lock.Unlock()
		return nil, err
	}
	if err := t.replayWAL(); err != nil {
		lock.Unlock()
		return nil, err
	}

	f, err := os.OpenFile(t.walPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		lock.Unlock()
		return nil, reederr.Wrap(reederr.KindIO, "opening btree WAL", err).WithPath(t.walPath)
	}
	t.walFile = f
	return t, nil
}

// loadSnapshot reads the page file (if present) into the in-memory
// tree. Reading goes through mmap so a cold open stays close to the
// memory-mapping performance floor instead of many small reads.
func (t *Tree) loadSnapshot() error {
	f, err := os.Open(t.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return reederr.Wrap(reederr.KindIO, "opening btree page file", err).WithPath(t.path)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return reederr.Wrap(reederr.KindIO, "stat btree page file", err).WithPath(t.path)
	}
	if info.Size() == 0 {
		return nil
	}

	data, err := mmapRead(f, int(info.Size()))
	if err != nil {
		return reederr.Wrap(reederr.KindIO, "mmapping btree page file", err).WithPath(t.path)
	}

	if len(data) < len(fileMagic)+12 {
		return reederr.New(reederr.KindIndexConfigInvalid, "btree page file too short").WithPath(t.path)
	}
	if string(data[:len(fileMagic)]) != fileMagic {
		return reederr.New(reederr.KindIndexConfigInvalid, "bad btree page file magic").WithPath(t.path)
	}
	off := len(fileMagic)
	lastLSN := binary.BigEndian.Uint64(data[off:])
	off += 8
	wantChecksum := binary.BigEndian.Uint32(data[off:])
	off += 4
	gotChecksum := checksumLSN(lastLSN)
	if gotChecksum != wantChecksum {
		return reederr.New(reederr.KindIndexConfigInvalid, "btree header checksum mismatch").WithPath(t.path)
	}
	t.lastLSN = lastLSN

	body := data[off:]
	r := bufio.NewReader(newByteReader(body))
	for {
		e, ok, err := readRecord(r)
		if err != nil {
			return reederr.Wrap(reederr.KindIndexConfigInvalid, "reading btree snapshot record", err).WithPath(t.path)
		}
		if !ok {
			break
		}
		t.tree.ReplaceOrInsert(e)
	}
	return nil
}

func (t *Tree) replayWAL() error {
	f, err := os.Open(t.walPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return reederr.Wrap(reederr.KindIO, "opening btree WAL for replay", err).WithPath(t.walPath)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	for {
		lsn, op, e, ok, err := readWALRecord(r)
		if err != nil {
			return reederr.Wrap(reederr.KindIndexConfigInvalid, "replaying btree WAL", err).WithPath(t.walPath)
		}
		if !ok {
			break
		}
		if lsn <= t.lastLSN {
			continue
		}
		switch op {
		case opInsert:
			t.tree.ReplaceOrInsert(e)
		case opDelete:
			t.tree.Delete(e)
		}
		t.lastLSN = lsn
	}
	return nil
}

// Get returns the value stored under k.
func (t *Tree) Get(k string) ([]byte, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	item := t.tree.Get(entry{key: k})
	if item == nil {
		return nil, false
	}
	return item.(entry).value, true
}

// Range returns entries with lo <= key <= hi, ascending.
func (t *Tree) Range(lo, hi string) [][2]string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out [][2]string
	t.tree.AscendRange(entry{key: lo}, entry{key: hi + "\x00"}, func(i gbtree.Item) bool {
		e := i.(entry)
		out = append(out, [2]string{e.key, string(e.value)})
		return true
	})
	return out
}

// Insert writes a WAL record before applying the mutation to the
// in-memory tree (write-ahead: durable before visible).
func (t *Tree) Insert(k string, v []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	lsn := t.lastLSN + 1
	if err := t.appendWAL(lsn, opInsert, entry{key: k, value: v}); err != nil {
		return err
	}
	t.tree.ReplaceOrInsert(entry{key: k, value: v})
	t.lastLSN = lsn
	return nil
}

// Delete removes k, WAL-logging the deletion first.
func (t *Tree) Delete(k string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	lsn := t.lastLSN + 1
	if err := t.appendWAL(lsn, opDelete, entry{key: k}); err != nil {
		return err
	}
	t.tree.Delete(entry{key: k})
	t.lastLSN = lsn
	return nil
}

// Iter returns every entry in ascending key order.
func (t *Tree) Iter() [][2]string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out [][2]string
	t.tree.Ascend(func(i gbtree.Item) bool {
		e := i.(entry)
		out = append(out, [2]string{e.key, string(e.value)})
		return true
	})
	return out
}

// Len returns the number of keys currently in the tree.
func (t *Tree) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.tree.Len()
}

// Flush serializes the entire in-memory tree to the page file: a magic
// header, the last applied LSN and its checksum (I6), then every entry
// record padded out to a 4KiB page boundary, and truncates the WAL.
func (t *Tree) Flush() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	tmp := t.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return reederr.Wrap(reederr.KindIO, "creating btree snapshot", err).WithPath(tmp)
	}

	var header [len(fileMagic) + 12]byte
	copy(header[:], fileMagic)
	binary.BigEndian.PutUint64(header[len(fileMagic):], t.lastLSN)
	binary.BigEndian.PutUint32(header[len(fileMagic)+8:], checksumLSN(t.lastLSN))
	if _, err := f.Write(header[:]); err != nil {
		f.Close()
		return reederr.Wrap(reederr.KindIO, "writing btree header", err).WithPath(tmp)
	}

	w := bufio.NewWriter(f)
	var writeErr error
	t.tree.Ascend(func(i gbtree.Item) bool {
		if err := writeRecord(w, i.(entry)); err != nil {
			writeErr = err
			return false
		}
		return true
	})
	if writeErr != nil {
		f.Close()
		return reederr.Wrap(reederr.KindIO, "writing btree records", writeErr).WithPath(tmp)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return reederr.Wrap(reederr.KindIO, "flushing btree snapshot", err).WithPath(tmp)
	}
	if err := padToPage(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return reederr.Wrap(reederr.KindIO, "fsyncing btree snapshot", err).WithPath(tmp)
	}
	if err := f.Close(); err != nil {
		return reederr.Wrap(reederr.KindIO, "closing btree snapshot", err).WithPath(tmp)
	}
	if err := os.Rename(tmp, t.path); err != nil {
		return reederr.Wrap(reederr.KindIO, "publishing btree snapshot", err).WithPath(t.path)
	}

	if err := t.walFile.Close(); err != nil {
		return reederr.Wrap(reederr.KindIO, "closing btree WAL", err).WithPath(t.walPath)
	}
	if err := os.Truncate(t.walPath, 0); err != nil {
		return reederr.Wrap(reederr.KindIO, "truncating btree WAL", err).WithPath(t.walPath)
	}
	nf, err := os.OpenFile(t.walPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return reederr.Wrap(reederr.KindIO, "reopening btree WAL", err).WithPath(t.walPath)
	}
	t.walFile = nf
	return nil
}

// Close releases the tree's WAL handle and advisory lock.
func (t *Tree) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.walFile != nil {
		t.walFile.Close()
	}
	return t.lock.Unlock()
}

func padToPage(f *os.File) error {
	info, err := f.Stat()
	if err != nil {
		return reederr.Wrap(reederr.KindIO, "stat btree snapshot", err)
	}
	rem := info.Size() % PageSize
	if rem == 0 {
		return nil
	}
	pad := make([]byte, PageSize-rem)
	if _, err := f.Write(pad); err != nil {
		return reederr.Wrap(reederr.KindIO, "padding btree snapshot", err)
	}
	return nil
}

func checksumLSN(lsn uint64) uint32 {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], lsn)
	return crc32.ChecksumIEEE(buf[:])
}

const (
	opInsert byte = 1
	opDelete byte = 2
)

func writeRecord(w io.Writer, e entry) error {
	var lenBuf [8]byte
	binary.BigEndian.PutUint32(lenBuf[0:4], uint32(len(e.key)))
	binary.BigEndian.PutUint32(lenBuf[4:8], uint32(len(e.value)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	if _, err := w.Write([]byte(e.key)); err != nil {
		return err
	}
	if _, err := w.Write(e.value); err != nil {
		return err
	}
	return nil
}

func readRecord(r io.Reader) (entry, bool, error) {
	var lenBuf [8]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		if err == io.EOF {
			return entry{}, false, nil
		}
		return entry{}, false, err
	}
	klen := binary.BigEndian.Uint32(lenBuf[0:4])
	vlen := binary.BigEndian.Uint32(lenBuf[4:8])
	if klen == 0 && vlen == 0 {
		return entry{}, false, nil
	}
	key := make([]byte, klen)
	if _, err := io.ReadFull(r, key); err != nil {
		return entry{}, false, err
	}
	val := make([]byte, vlen)
	if _, err := io.ReadFull(r, val); err != nil {
		return entry{}, false, err
	}
	return entry{key: string(key), value: val}, true, nil
}

func (t *Tree) appendWAL(lsn uint64, op byte, e entry) error {
	var head [9]byte
	binary.BigEndian.PutUint64(head[0:8], lsn)
	head[8] = op
	var body []byte
	body = append(body, head[:]...)
	var lenBuf [8]byte
	binary.BigEndian.PutUint32(lenBuf[0:4], uint32(len(e.key)))
	binary.BigEndian.PutUint32(lenBuf[4:8], uint32(len(e.value)))
	body = append(body, lenBuf[:]...)
	body = append(body, []byte(e.key)...)
	body = append(body, e.value...)
	crc := crc32.ChecksumIEEE(body)
	var crcBuf [4]byte
	binary.BigEndian.PutUint32(crcBuf[:], crc)
	body = append(body, crcBuf[:]...)

	if _, err := t.walFile.Write(body); err != nil {
		return reederr.Wrap(reederr.KindIO, "appending btree WAL record", err).WithPath(t.walPath)
	}
	return t.walFile.Sync()
}

func readWALRecord(r *bufio.Reader) (lsn uint64, op byte, e entry, ok bool, err error) {
	var head [9]byte
	if _, err = io.ReadFull(r, head[:]); err != nil {
		if err == io.EOF {
			return 0, 0, entry{}, false, nil
		}
		return 0, 0, entry{}, false, nil
	}
	lsn = binary.BigEndian.Uint64(head[0:8])
	op = head[8]

	var lenBuf [8]byte
	if _, err = io.ReadFull(r, lenBuf[:]); err != nil {
		return 0, 0, entry{}, false, nil
	}
	klen := binary.BigEndian.Uint32(lenBuf[0:4])
	vlen := binary.BigEndian.Uint32(lenBuf[4:8])
	key := make([]byte, klen)
	if _, err = io.ReadFull(r, key); err != nil {
		return 0, 0, entry{}, false, nil
	}
	val := make([]byte, vlen)
	if _, err = io.ReadFull(r, val); err != nil {
		return 0, 0, entry{}, false, nil
	}
	var crcBuf [4]byte
	if _, err = io.ReadFull(r, crcBuf[:]); err != nil {
		return 0, 0, entry{}, false, nil
	}

	var body []byte
	body = append(body, head[:]...)
	body = append(body, lenBuf[:]...)
	body = append(body, key...)
	body = append(body, val...)
	want := binary.BigEndian.Uint32(crcBuf[:])
	if crc32.ChecksumIEEE(body) != want {
		// A torn final WAL record: stop replay here, the entry never
		// reached durability.
		return 0, 0, entry{}, false, nil
	}
	return lsn, op, entry{key: string(key), value: val}, true, nil
}

func newByteReader(b []byte) io.Reader {
	return &byteReader{data: b}
}

type byteReader struct {
	data []byte
	pos  int
}

func (r *byteReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	n := copy(p, r.data[r.pos:])
	r.pos += n
	return n, nil
}
