// Package dictionary implements the action/user name <-> small integer
// encoding. Two independent Dictionary values back registry/actions.dict
// and registry/users.dict; each keeps an in-memory two-way map rebuilt
// at Open and fronted by a ristretto cache for the sub-100ns warm
// lookup floor, the same cache library badger itself pulls in for its
// hot-path reads.
package dictionary

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/reedbase/reedbase/pkg/reederr"
)

// SystemCode is reserved for the "system"/"delete" pseudo-name: code 0
// is never interned by a normal caller.
const SystemCode = 0

// Entry is one dictionary line: code|name|created_at.
type Entry struct {
	Code      uint32
	Name      string
	CreatedAt int64
}

// Dictionary is a single append-only code<->name table.
type Dictionary struct {
	path string

	mu        sync.RWMutex
	byCode    map[uint32]string
	byName    map[string]uint32
	highWater uint32

	cache *ristretto.Cache[uint32, string]

	file *os.File
}

// Open loads path (creating it with the reserved system/delete entry if
// absent) and rebuilds the in-memory two-way map.
func Open(path string) (*Dictionary, error) {
	cache, err := ristretto.NewCache(&ristretto.Config[uint32, string]{
		NumCounters: 10_000,
		MaxCost:     1_000,
		BufferItems: 64,
	})
	if err != nil {
		return nil, reederr.Wrap(reederr.KindIO, "creating dictionary cache", err)
	}

	d := &Dictionary{
		path:   path,
		byCode: make(map[uint32]string),
		byName: make(map[string]uint32),
		cache:  cache,
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := d.bootstrap(); err != nil {
			return nil, err
		}
	}

	if err := d.load(); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, reederr.Wrap(reederr.KindIO, "opening dictionary for append", err).WithPath(path)
	}
	d.file = f
	return d, nil
}

func (d *Dictionary) bootstrap() error {
	f, err := os.OpenFile(d.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return reederr.Wrap(reederr.KindIO, "creating dictionary file", err).WithPath(d.path)
	}
	defer f.Close()
	line := fmt.Sprintf("%d|%s|%d\n", SystemCode, "system", time.Now().Unix())
	if _, err := f.WriteString(line); err != nil {
		return reederr.Wrap(reederr.KindIO, "writing dictionary bootstrap entry", err)
	}
	return f.Sync()
}

func (d *Dictionary) load() error {
	f, err := os.Open(d.path)
	if err != nil {
		return reederr.Wrap(reederr.KindIO, "opening dictionary file", err).WithPath(d.path)
	}
	defer f.Close()

	d.mu.Lock()
	defer d.mu.Unlock()

	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if line == "" {
			continue
		}
		entry, err := parseLine(line)
		if err != nil {
			return reederr.Wrap(reederr.KindDictionaryCorrupted, "unparsable dictionary line", err).
				WithPath(d.path).WithLine(lineNo)
		}
		if _, dup := d.byCode[entry.Code]; dup {
			return reederr.New(reederr.KindDuplicateCode, fmt.Sprintf("duplicate code %d", entry.Code)).
				WithPath(d.path).WithLine(lineNo)
		}
		d.byCode[entry.Code] = entry.Name
		d.byName[entry.Name] = entry.Code
		if entry.Code > d.highWater {
			d.highWater = entry.Code
		}
	}
	if err := scanner.Err(); err != nil {
		return reederr.Wrap(reederr.KindIO, "scanning dictionary file", err)
	}
	return nil
}

func parseLine(line string) (Entry, error) {
	parts := strings.SplitN(line, "|", 3)
	if len(parts) < 2 {
		return Entry{}, fmt.Errorf("expected at least code|name, got %q", line)
	}
	code, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return Entry{}, fmt.Errorf("invalid code %q: %w", parts[0], err)
	}
	entry := Entry{Code: uint32(code), Name: parts[1]}
	if len(parts) == 3 {
		if ts, err := strconv.ParseInt(parts[2], 10, 64); err == nil {
			entry.CreatedAt = ts
		}
	}
	return entry, nil
}

// LookupCode returns the code for name, or UnknownAction if it was never
// interned.
func (d *Dictionary) LookupCode(name string) (uint32, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	code, ok := d.byName[name]
	if !ok {
		return 0, reederr.New(reederr.KindUnknownAction, fmt.Sprintf("name %q not interned", name))
	}
	return code, nil
}

// LookupName returns the name for code, or an UnknownActionCode error if it doesn't
// exist. Reads are served from the ristretto cache when present.
func (d *Dictionary) LookupName(code uint32) (string, error) {
	if name, ok := d.cache.Get(code); ok {
		return name, nil
	}
	d.mu.RLock()
	name, ok := d.byCode[code]
	d.mu.RUnlock()
	if !ok {
		return "", reederr.New(reederr.KindUnknownActionCode, fmt.Sprintf("code %d not registered", code))
	}
	d.cache.Set(code, name, 1)
	return name, nil
}

// Intern returns the code for name, appending a new entry under the
// dictionary's lock if it is not already present. Idempotent: a second
// call for the same name returns the same code without writing again.
func (d *Dictionary) Intern(name string) (uint32, error) {
	d.mu.RLock()
	if code, ok := d.byName[name]; ok {
		d.mu.RUnlock()
		return code, nil
	}
	d.mu.RUnlock()

	d.mu.Lock()
	defer d.mu.Unlock()

	// Re-check under the write lock: another goroutine may have interned
	// name while we waited.
	if code, ok := d.byName[name]; ok {
		return code, nil
	}

	code := d.highWater + 1
	line := fmt.Sprintf("%d|%s|%d\n", code, name, time.Now().Unix())
	if _, err := d.file.WriteString(line); err != nil {
		return 0, reederr.Wrap(reederr.KindIO, "appending dictionary entry", err)
	}
	if err := d.file.Sync(); err != nil {
		return 0, reederr.Wrap(reederr.KindIO, "fsyncing dictionary file", err)
	}

	d.byCode[code] = name
	d.byName[name] = code
	d.highWater = code
	d.cache.Set(code, name, 1)
	return code, nil
}

// Close releases the dictionary's file handle and cache.
func (d *Dictionary) Close() error {
	d.cache.Close()
	if d.file == nil {
		return nil
	}
	return d.file.Close()
}
