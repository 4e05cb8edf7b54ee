// Package delta implements ReedBase's binary delta engine: a
// line-granular diff/patch pair, the natural unit for the
// newline-delimited CSV grammar, compressed with zstd via
// github.com/klauspost/compress, the stream codec badger itself pulls
// in indirectly for its value-log compression.
//
// Contract: Patch(old, Diff(old, new)) == new, byte for byte (the
// round-trip law).
package delta

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/klauspost/compress/zstd"

	"github.com/reedbase/reedbase/pkg/reederr"
)

const magic = "RBD1"

type opTag byte

const (
	opCopy opTag = iota
	opInsert
)

// Diff computes the delta that transforms old into next, encoded then
// zstd-compressed. old and next are treated as opaque byte streams; the
// line-based granularity is an implementation detail that happens to fit
// the CSV grammar well.
func Diff(old, next []byte) ([]byte, error) {
	oldLines := splitLines(old)
	newLines := splitLines(next)
	ops := diffLines(oldLines, newLines)

	var raw bytes.Buffer
	raw.WriteString(magic)
	writeUvarint(&raw, uint64(len(ops)))
	for _, op := range ops {
		raw.WriteByte(byte(op.tag))
		switch op.tag {
		case opCopy:
			writeUvarint(&raw, uint64(op.start))
			writeUvarint(&raw, uint64(op.count))
		case opInsert:
			writeUvarint(&raw, uint64(len(op.data)))
			raw.Write(op.data)
		}
	}

	compressed, err := compress(raw.Bytes())
	if err != nil {
		return nil, reederr.Wrap(reederr.KindDeltaGenerationFailed, "compressing delta", err)
	}
	return compressed, nil
}

// Patch applies delta (as produced by Diff) to old, reconstructing next.
func Patch(old, deltaBytes []byte) ([]byte, error) {
	raw, err := decompress(deltaBytes)
	if err != nil {
		return nil, reederr.Wrap(reederr.KindDecompressionFailed, "decompressing delta", err)
	}
	if len(raw) < len(magic) || string(raw[:len(magic)]) != magic {
		return nil, reederr.New(reederr.KindDeltaCorrupted, "bad delta magic")
	}
	buf := bytes.NewReader(raw[len(magic):])

	numOps, err := binary.ReadUvarint(buf)
	if err != nil {
		return nil, reederr.Wrap(reederr.KindDeltaCorrupted, "reading op count", err)
	}

	oldLines := splitLines(old)
	var out bytes.Buffer
	for i := uint64(0); i < numOps; i++ {
		tagByte, err := buf.ReadByte()
		if err != nil {
			return nil, reederr.Wrap(reederr.KindDeltaCorrupted, "reading op tag", err)
		}
		switch opTag(tagByte) {
		case opCopy:
			start, err := binary.ReadUvarint(buf)
			if err != nil {
				return nil, reederr.Wrap(reederr.KindDeltaCorrupted, "reading copy start", err)
			}
			count, err := binary.ReadUvarint(buf)
			if err != nil {
				return nil, reederr.Wrap(reederr.KindDeltaCorrupted, "reading copy count", err)
			}
			if start+count > uint64(len(oldLines)) {
				return nil, reederr.New(reederr.KindDeltaCorrupted, "copy range out of bounds")
			}
			for _, l := range oldLines[start : start+count] {
				out.Write(l)
			}
		case opInsert:
			n, err := binary.ReadUvarint(buf)
			if err != nil {
				return nil, reederr.Wrap(reederr.KindDeltaCorrupted, "reading insert length", err)
			}
			chunk := make([]byte, n)
			if _, err := io.ReadFull(buf, chunk); err != nil {
				return nil, reederr.Wrap(reederr.KindDeltaApplicationFailed, "reading insert payload", err)
			}
			out.Write(chunk)
		default:
			return nil, reederr.New(reederr.KindDeltaCorrupted, "unknown op tag")
		}
	}
	return out.Bytes(), nil
}

type op struct {
	tag   opTag
	start int
	count int
	data  []byte
}

// splitLines splits data into lines that each retain their trailing '\n'
// (the last line may lack one), so concatenating all lines reproduces
// data exactly.
func splitLines(data []byte) [][]byte {
	if len(data) == 0 {
		return nil
	}
	parts := bytes.SplitAfter(data, []byte{'\n'})
	if len(parts) > 0 && len(parts[len(parts)-1]) == 0 {
		parts = parts[:len(parts)-1]
	}
	return parts
}

// diffLines computes a minimal edit script between old and new lines
// using a classic LCS dynamic program, then emits copy/insert ops. Table
// snapshots are small enough in practice
// that the O(n*m) DP is not a bottleneck.
func diffLines(oldLines, newLines [][]byte) []op {
	n, m := len(oldLines), len(newLines)
	lcs := make([][]int32, n+1)
	for i := range lcs {
		lcs[i] = make([]int32, m+1)
	}
	for i := n - 1; i >= 0; i-- {
		for j := m - 1; j >= 0; j-- {
			if bytes.Equal(oldLines[i], newLines[j]) {
				lcs[i][j] = lcs[i+1][j+1] + 1
			} else if lcs[i+1][j] >= lcs[i][j+1] {
				lcs[i][j] = lcs[i+1][j]
			} else {
				lcs[i][j] = lcs[i][j+1]
			}
		}
	}

	var ops []op
	flushInsert := func(data *bytes.Buffer) {
		if data.Len() > 0 {
			ops = append(ops, op{tag: opInsert, data: append([]byte(nil), data.Bytes()...)})
			data.Reset()
		}
	}
	var pendingCopyStart, pendingCopyCount int
	flushCopy := func() {
		if pendingCopyCount > 0 {
			ops = append(ops, op{tag: opCopy, start: pendingCopyStart, count: pendingCopyCount})
			pendingCopyCount = 0
		}
	}

	var insertBuf bytes.Buffer
	i, j := 0, 0
	for i < n && j < m {
		if bytes.Equal(oldLines[i], newLines[j]) {
			flushInsert(&insertBuf)
			if pendingCopyCount == 0 {
				pendingCopyStart = i
			}
			pendingCopyCount++
			i++
			j++
			continue
		}
		flushCopy()
		if lcs[i+1][j] >= lcs[i][j+1] {
			i++
		} else {
			insertBuf.Write(newLines[j])
			j++
		}
	}
	for j < m {
		insertBuf.Write(newLines[j])
		j++
	}
	flushCopy()
	flushInsert(&insertBuf)
	return ops
}

func writeUvarint(buf *bytes.Buffer, v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	buf.Write(tmp[:n])
}

func compress(data []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, err
	}
	defer enc.Close()
	return enc.EncodeAll(data, nil), nil
}

func decompress(data []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return dec.DecodeAll(data, nil)
}
