package monitor

import (
	"sync"
	"time"
)

// MetricsCollector tracks query volume, error rates, and per-table access
// counts for one open Database. The engine installs one on every Database
// it opens and feeds it from Executor.recordQueryStats on every SELECT.
type MetricsCollector struct {
	mu               sync.RWMutex
	queryCount       int64
	querySuccess     int64
	queryError       int64
	totalDuration    time.Duration
	slowQueryCount   int64
	activeQueries    int64
	errorCount       map[string]int64
	tableAccessCount map[string]int64
	startTime        time.Time
}

// NewMetricsCollector returns a collector with its counters zeroed and its
// uptime clock started now.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		errorCount:       make(map[string]int64),
		tableAccessCount: make(map[string]int64),
		startTime:        time.Now(),
	}
}

// RecordQuery accounts for one completed statement against tableName.
func (m *MetricsCollector) RecordQuery(duration time.Duration, success bool, tableName string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.queryCount++
	m.totalDuration += duration

	if success {
		m.querySuccess++
	} else {
		m.queryError++
	}

	if tableName != "" {
		m.tableAccessCount[tableName]++
	}
}

// RecordError tags one failure under errType, in addition to the per-query
// counters RecordQuery already tracks.
func (m *MetricsCollector) RecordError(errType string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.errorCount[errType]++
	m.queryError++
}

// RecordSlowQuery increments the slow-query counter. Callers should also
// hand the query to a SlowQueryAnalyzer for per-statement detail.
func (m *MetricsCollector) RecordSlowQuery() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.slowQueryCount++
}

// StartQuery marks a statement as in flight.
func (m *MetricsCollector) StartQuery() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.activeQueries++
}

// EndQuery marks an in-flight statement as finished.
func (m *MetricsCollector) EndQuery() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.activeQueries > 0 {
		m.activeQueries--
	}
}

// GetQueryCount returns the total number of statements recorded.
func (m *MetricsCollector) GetQueryCount() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.queryCount
}

// GetQuerySuccess returns the number of statements that completed without error.
func (m *MetricsCollector) GetQuerySuccess() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.querySuccess
}

// GetQueryError returns the number of statements that returned an error.
func (m *MetricsCollector) GetQueryError() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.queryError
}

// GetSuccessRate returns the success percentage, 0 when no queries have run.
func (m *MetricsCollector) GetSuccessRate() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.queryCount == 0 {
		return 0
	}
	return float64(m.querySuccess) / float64(m.queryCount) * 100
}

// GetAvgDuration returns the mean statement duration across all recorded queries.
func (m *MetricsCollector) GetAvgDuration() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.queryCount == 0 {
		return 0
	}
	return m.totalDuration / time.Duration(m.queryCount)
}

// GetSlowQueryCount returns how many statements crossed the slow-query threshold.
func (m *MetricsCollector) GetSlowQueryCount() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.slowQueryCount
}

// GetActiveQueries returns how many statements are currently in flight.
func (m *MetricsCollector) GetActiveQueries() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeQueries
}

// GetErrorCount returns how many failures were recorded under errType.
func (m *MetricsCollector) GetErrorCount(errType string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.errorCount[errType]
}

// GetAllErrors returns a snapshot of every error-type counter.
func (m *MetricsCollector) GetAllErrors() map[string]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]int64)
	for k, v := range m.errorCount {
		result[k] = v
	}
	return result
}

// GetTableAccessCount returns how many statements touched tableName.
func (m *MetricsCollector) GetTableAccessCount(tableName string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tableAccessCount[tableName]
}

// GetAllTableAccessCount returns a snapshot of every table's access counter.
func (m *MetricsCollector) GetAllTableAccessCount() map[string]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]int64)
	for k, v := range m.tableAccessCount {
		result[k] = v
	}
	return result
}

// GetUptime returns how long this collector has been running.
func (m *MetricsCollector) GetUptime() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return time.Since(m.startTime)
}

// Reset zeroes every counter and restarts the uptime clock.
func (m *MetricsCollector) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.queryCount = 0
	m.querySuccess = 0
	m.queryError = 0
	m.totalDuration = 0
	m.slowQueryCount = 0
	m.activeQueries = 0
	m.errorCount = make(map[string]int64)
	m.tableAccessCount = make(map[string]int64)
	m.startTime = time.Now()
}

// QueryMetrics is a point-in-time copy of a MetricsCollector, safe to hand
// to a caller (e.g. `reedbase stats`) without holding the collector's lock.
type QueryMetrics struct {
	QueryCount       int64
	QuerySuccess     int64
	QueryError       int64
	SuccessRate      float64
	AvgDuration      time.Duration
	SlowQueryCount   int64
	ActiveQueries    int64
	ErrorCount       map[string]int64
	TableAccessCount map[string]int64
	Uptime           time.Duration
}

// GetSnapshot copies the current counters into a QueryMetrics value.
func (m *MetricsCollector) GetSnapshot() *QueryMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var successRate float64
	var avgDuration time.Duration
	if m.queryCount > 0 {
		successRate = float64(m.querySuccess) / float64(m.queryCount) * 100
		avgDuration = m.totalDuration / time.Duration(m.queryCount)
	}

	errorsCopy := make(map[string]int64, len(m.errorCount))
	for k, v := range m.errorCount {
		errorsCopy[k] = v
	}

	tableAccessCopy := make(map[string]int64, len(m.tableAccessCount))
	for k, v := range m.tableAccessCount {
		tableAccessCopy[k] = v
	}

	return &QueryMetrics{
		QueryCount:       m.queryCount,
		QuerySuccess:     m.querySuccess,
		QueryError:       m.queryError,
		SuccessRate:      successRate,
		AvgDuration:      avgDuration,
		SlowQueryCount:   m.slowQueryCount,
		ActiveQueries:    m.activeQueries,
		ErrorCount:       errorsCopy,
		TableAccessCount: tableAccessCopy,
		Uptime:           time.Since(m.startTime),
	}
}
