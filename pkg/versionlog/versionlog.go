// Package versionlog implements the append-only, CRC32-checked version
// history. Each line is
// ts|action|user|base_ts|size|rows|content_hash|frame_id|crc32\n, where
// action/user are dictionary codes (pkg/dictionary) and crc32 covers
// every field up to (not including) the trailing crc32 field itself.
package versionlog

import (
	"bufio"
	"fmt"
	"hash/crc32"
	"os"
	"strconv"
	"strings"

	"github.com/reedbase/reedbase/pkg/reederr"
)

// Entry is one parsed version.log line.
type Entry struct {
	Timestamp   int64
	Action      uint32
	User        uint32
	BaseTS      int64
	Size        int64
	Rows        int64
	ContentHash string
	FrameID     uint64
	CRC32       uint32
}

// Log wraps an append-only version.log file.
type Log struct {
	path string
	file *os.File
}

// Open opens (creating if absent) the version log at path for
// append-only writes.
func Open(path string) (*Log, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, reederr.Wrap(reederr.KindIO, "opening version.log", err).WithPath(path)
	}
	return &Log{path: path, file: f}, nil
}

// Close releases the log's file handle.
func (l *Log) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

// lineBody renders every field except the trailing CRC32.
func lineBody(e Entry) string {
	return fmt.Sprintf("%d|%d|%d|%d|%d|%d|%s|%d",
		e.Timestamp, e.Action, e.User, e.BaseTS, e.Size, e.Rows, e.ContentHash, e.FrameID)
}

// Append writes one entry as a single write+fsync, computing its CRC32
// over the rendered body.
func (l *Log) Append(e Entry) error {
	body := lineBody(e)
	e.CRC32 = crc32.ChecksumIEEE([]byte(body))
	line := fmt.Sprintf("%s|%d\n", body, e.CRC32)
	if _, err := l.file.WriteString(line); err != nil {
		return reederr.Wrap(reederr.KindIO, "appending version log entry", err).WithPath(l.path)
	}
	return l.file.Sync()
}

// ParseAll reads every well-formed entry from path. It never returns a
// CRC error to the caller, a failing line simply ends the scan (the
// rest is recovery garbage); use ParseAllStrict for a
// variant that reports how many valid bytes preceded the break.
func ParseAll(path string) ([]Entry, error) {
	entries, _, err := ParseAllStrict(path)
	return entries, err
}

// ParseAllStrict returns the well-formed prefix of path's entries along
// with the byte offset immediately after the last good line, the point
// at which recovery should truncate.
func ParseAllStrict(path string) ([]Entry, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, nil
		}
		return nil, 0, reederr.Wrap(reederr.KindVersionLogRead, "opening version.log", err).WithPath(path)
	}
	defer f.Close()

	var entries []Entry
	var goodOffset int64
	reader := bufio.NewReader(f)
	var offset int64
	for {
		line, err := reader.ReadString('\n')
		if len(line) == 0 && err != nil {
			break
		}
		trimmed := strings.TrimSuffix(line, "\n")
		consumed := int64(len(line))
		if trimmed == "" {
			offset += consumed
			if err != nil {
				break
			}
			continue
		}
		entry, ok := parseAndVerify(trimmed)
		if !ok {
			// First CRC/parse failure: stop here, everything before is
			// the durable prefix.
			break
		}
		entries = append(entries, entry)
		offset += consumed
		goodOffset = offset
		if err != nil {
			break
		}
	}
	return entries, goodOffset, nil
}

func parseAndVerify(line string) (Entry, bool) {
	idx := strings.LastIndex(line, "|")
	if idx < 0 {
		return Entry{}, false
	}
	body := line[:idx]
	crcStr := line[idx+1:]
	crc, err := strconv.ParseUint(crcStr, 10, 32)
	if err != nil {
		return Entry{}, false
	}
	if crc32.ChecksumIEEE([]byte(body)) != uint32(crc) {
		return Entry{}, false
	}

	fields := strings.Split(body, "|")
	if len(fields) != 8 {
		return Entry{}, false
	}
	parseInt := func(s string) (int64, bool) {
		v, err := strconv.ParseInt(s, 10, 64)
		return v, err == nil
	}
	ts, ok1 := parseInt(fields[0])
	action, ok2 := parseInt(fields[1])
	user, ok3 := parseInt(fields[2])
	base, ok4 := parseInt(fields[3])
	size, ok5 := parseInt(fields[4])
	rows, ok6 := parseInt(fields[5])
	frameID, ok7 := parseInt(fields[7])
	if !(ok1 && ok2 && ok3 && ok4 && ok5 && ok6 && ok7) {
		return Entry{}, false
	}
	return Entry{
		Timestamp:   ts,
		Action:      uint32(action),
		User:        uint32(user),
		BaseTS:      base,
		Size:        size,
		Rows:        rows,
		ContentHash: fields[6],
		FrameID:     uint64(frameID),
		CRC32:       uint32(crc),
	}, true
}
