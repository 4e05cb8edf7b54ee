// Package reedbase implements the database façade: the single entry
// point that opens a `.reed` root, runs crash recovery, wires the
// dictionary/coordinator/frame manager/advisor into one query
// executor, and exposes the query/execute/table/index surface a CLI or
// embedding host calls into. Follows the config -> logger -> store ->
// serve wiring order of a long-lived server process, adapted into an
// embeddable handle.
package reedbase

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/reedbase/reedbase/pkg/config"
	"github.com/reedbase/reedbase/pkg/coordinator"
	"github.com/reedbase/reedbase/pkg/dictionary"
	"github.com/reedbase/reedbase/pkg/frame"
	"github.com/reedbase/reedbase/pkg/index"
	"github.com/reedbase/reedbase/pkg/logging"
	"github.com/reedbase/reedbase/pkg/merge"
	"github.com/reedbase/reedbase/pkg/metrics"
	"github.com/reedbase/reedbase/pkg/monitor"
	"github.com/reedbase/reedbase/pkg/query"
	"github.com/reedbase/reedbase/pkg/recovery"
	"github.com/reedbase/reedbase/pkg/reederr"
	"github.com/reedbase/reedbase/pkg/table"
)

// Database is one opened `.reed` root.
type Database struct {
	Root    string
	Config  *config.Config
	Logger  *zap.Logger
	Metrics metrics.Recorder

	Actions *dictionary.Dictionary
	Users   *dictionary.Dictionary

	Coordinator *coordinator.Coordinator
	Frames      *frame.Manager
	Advisor     *index.Advisor
	Executor    *query.Executor

	QueryCache *monitor.QueryCache
	SlowQuery  *monitor.SlowQueryAnalyzer
	Stats      *monitor.MetricsCollector

	clockSeq int64
}

// clock returns a strictly increasing Unix-second-scale timestamp: real
// wall time, tie-broken upward so two writes in the same second never
// collide (required by the delta-file-per-timestamp layout).
func (db *Database) clock() int64 {
	now := time.Now().Unix()
	for {
		prev := atomic.LoadInt64(&db.clockSeq)
		next := now
		if next <= prev {
			next = prev + 1
		}
		if atomic.CompareAndSwapInt64(&db.clockSeq, prev, next) {
			return next
		}
	}
}

// Open opens (creating if absent) the `.reed` root at path: lays out
// the standard subdirectories, loads config.toml, opens both
// dictionaries, runs crash recovery over every table and frame, and
// wires the query executor.
func Open(path string) (*Database, error) {
	dirs := []string{path, filepath.Join(path, "tables"), filepath.Join(path, "registry"), filepath.Join(path, "indices"), filepath.Join(path, "backups")}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, reederr.Wrap(reederr.KindIO, "creating reed directory", err).WithPath(d)
		}
	}

	cfg, err := config.Load(filepath.Join(path, "config.toml"))
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(logging.DefaultConfig())
	if err != nil {
		return nil, reederr.Wrap(reederr.KindIO, "building logger", err)
	}

	meter := otel.GetMeterProvider().Meter("reedbase")
	recorder, err := metrics.New(meter)
	if err != nil {
		return nil, reederr.Wrap(reederr.KindIO, "building metrics recorder", err)
	}

	actions, err := dictionary.Open(filepath.Join(path, "registry", "actions.dict"))
	if err != nil {
		return nil, err
	}
	users, err := dictionary.Open(filepath.Join(path, "registry", "users.dict"))
	if err != nil {
		return nil, err
	}

	db := &Database{
		Root:    path,
		Config:  cfg,
		Logger:  logger,
		Metrics: recorder,
		Actions: actions,
		Users:   users,
	}
	db.clockSeq = time.Now().Unix()

	db.Coordinator = coordinator.New(cfg.LockTimeout(), cfg.Concurrency.QueueSize)

	frames, err := frame.NewManager(path, db.clock)
	if err != nil {
		return nil, err
	}
	db.Frames = frames

	advisor, err := index.OpenAdvisor(filepath.Join(path, "indices", "advisor"), index.DefaultThreshold)
	if err != nil {
		return nil, err
	}
	db.Advisor = advisor

	if err := db.recover(); err != nil {
		return nil, err
	}

	db.QueryCache = monitor.NewQueryCache(1000, 30*time.Second)
	db.SlowQuery = monitor.NewSlowQueryAnalyzer(200*time.Millisecond, 500)
	db.Stats = monitor.NewMetricsCollector()

	policy, err := merge.ParsePolicy(cfg.Concurrency.MergeStrategy)
	if err != nil {
		return nil, err
	}

	db.Executor = &query.Executor{
		Root:        path,
		Coordinator: db.Coordinator,
		Advisor:     db.Advisor,
		Now:         db.clock,
		Cache:       db.QueryCache,
		CacheTTL:    30 * time.Second,
		SlowQuery:   db.SlowQuery,
		Stats:       db.Stats,
		MergePolicy: policy,
	}

	return db, nil
}

// recover runs the crash-recovery pass over every table directory and
// every unresolved frame, healing the log/snapshot/frame
// inconsistencies a crash can leave behind before any query is served.
func (db *Database) recover() error {
	names, err := db.ListTables()
	if err != nil {
		return err
	}
	for _, name := range names {
		tbl, err := table.Open(db.Root, name)
		if err != nil {
			return err
		}
		if _, err := recovery.RunTable(name, tbl); err != nil {
			return err
		}
	}

	frameReports, err := recovery.RunFrames(db.Frames)
	if err != nil {
		return err
	}
	for _, fr := range frameReports {
		for _, p := range fr.Participants {
			tbl, err := table.Open(db.Root, p.Table)
			if err != nil {
				return err
			}
			log, err := openVersionLog(tbl)
			if err != nil {
				return err
			}
			_, err = recovery.RollbackParticipant(tbl, log, p, db.clock())
			log.Close()
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// Close releases the dictionaries' and advisor's handles and flushes
// the logger.
func (db *Database) Close() error {
	if err := db.Advisor.Close(); err != nil {
		return err
	}
	if err := db.Actions.Close(); err != nil {
		return err
	}
	if err := db.Users.Close(); err != nil {
		return err
	}
	_ = db.Logger.Sync()
	return nil
}

// QuerySnapshot reports cumulative query counters and the cache's hit
// rate since Open.
func (db *Database) QuerySnapshot() (*monitor.QueryMetrics, *monitor.CacheStats) {
	return db.Stats.GetSnapshot(), db.QueryCache.GetStats()
}

// SlowQueries returns every recorded slow query, most recent last.
func (db *Database) SlowQueries() []*monitor.SlowQueryLog {
	return db.SlowQuery.GetAllSlowQueries()
}

// CreateTable creates tables/<name>/ and its empty current.csv.
func (db *Database) CreateTable(name string) error {
	if table.Exists(db.Root, name) {
		return reederr.New(reederr.KindTableExists, "table already exists: "+name)
	}
	_, err := table.Open(db.Root, name)
	return err
}

// DropTable moves tables/<name>/ to trash. confirm must be true: this
// call is destructive and the façade refuses to guess.
func (db *Database) DropTable(name string, confirm bool) error {
	if !confirm {
		return reederr.New(reederr.KindValidationError, "drop_table requires explicit confirmation").
			WithHint("pass confirm=true")
	}
	if !table.Exists(db.Root, name) {
		return reederr.New(reederr.KindTableNotFound, "no such table: "+name)
	}
	return table.Drop(db.Root, name)
}

// ListTables returns every table directory name under tables/.
func (db *Database) ListTables() ([]string, error) {
	dir := filepath.Join(db.Root, "tables")
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, reederr.Wrap(reederr.KindIO, "listing tables directory", err).WithPath(dir)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}
