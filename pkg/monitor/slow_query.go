package monitor

import (
	"fmt"
	"sync"
	"time"
)

// SlowQueryLog is one statement that crossed the slow-query threshold.
type SlowQueryLog struct {
	ID          int64
	SQL         string
	Duration    time.Duration
	Timestamp   time.Time
	TableName   string
	RowCount    int64
	ExecutedBy  string
	Error       string
	ExplainPlan string
}

// SlowQueryAnalyzer keeps a bounded ring of recent slow statements and can
// summarize them into per-table statistics and operator recommendations.
type SlowQueryAnalyzer struct {
	mu           sync.RWMutex
	slowQueries  []*SlowQueryLog
	slowQueryMap map[int64]*SlowQueryLog
	threshold    time.Duration
	maxEntries   int
	nextID       int64
}

// NewSlowQueryAnalyzer returns an analyzer that treats any statement at or
// above threshold as slow and retains at most maxEntries of them.
func NewSlowQueryAnalyzer(threshold time.Duration, maxEntries int) *SlowQueryAnalyzer {
	return &SlowQueryAnalyzer{
		slowQueries:  make([]*SlowQueryLog, 0, maxEntries),
		slowQueryMap: make(map[int64]*SlowQueryLog),
		threshold:    threshold,
		maxEntries:   maxEntries,
		nextID:       1,
	}
}

// IsSlowQuery reports whether duration meets or exceeds the configured threshold.
func (s *SlowQueryAnalyzer) IsSlowQuery(duration time.Duration) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return duration >= s.threshold
}

// RecordSlowQuery appends a slow-query entry and returns its ID, or 0 if
// duration does not actually qualify as slow.
func (s *SlowQueryAnalyzer) RecordSlowQuery(sql string, duration time.Duration, tableName string, rowCount int64) int64 {
	if !s.IsSlowQuery(duration) {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	log := &SlowQueryLog{
		ID:         s.nextID,
		SQL:        sql,
		Duration:   duration,
		Timestamp:  time.Now(),
		TableName:  tableName,
		RowCount:   rowCount,
		ExecutedBy: "system",
	}

	s.slowQueryMap[log.ID] = log
	s.slowQueries = append(s.slowQueries, log)
	s.nextID++

	if len(s.slowQueries) > s.maxEntries {
		oldest := s.slowQueries[0]
		delete(s.slowQueryMap, oldest.ID)
		s.slowQueries = s.slowQueries[1:]
	}

	return log.ID
}

// RecordSlowQueryWithError is RecordSlowQuery for a statement that also failed.
func (s *SlowQueryAnalyzer) RecordSlowQueryWithError(sql string, duration time.Duration, tableName string, rowCount int64, errMsg string) int64 {
	if !s.IsSlowQuery(duration) {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	log := &SlowQueryLog{
		ID:         s.nextID,
		SQL:        sql,
		Duration:   duration,
		Timestamp:  time.Now(),
		TableName:  tableName,
		RowCount:   rowCount,
		ExecutedBy: "system",
		Error:      errMsg,
	}

	s.slowQueryMap[log.ID] = log
	s.slowQueries = append(s.slowQueries, log)
	s.nextID++

	if len(s.slowQueries) > s.maxEntries {
		oldest := s.slowQueries[0]
		delete(s.slowQueryMap, oldest.ID)
		s.slowQueries = s.slowQueries[1:]
	}

	return log.ID
}

// GetSlowQuery returns the entry recorded under id, if any.
func (s *SlowQueryAnalyzer) GetSlowQuery(id int64) (*SlowQueryLog, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log, ok := s.slowQueryMap[id]
	return log, ok
}

// GetAllSlowQueries returns every retained slow-query entry, oldest first.
func (s *SlowQueryAnalyzer) GetAllSlowQueries() []*SlowQueryLog {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*SlowQueryLog, len(s.slowQueries))
	copy(result, s.slowQueries)
	return result
}

// GetSlowQueriesByTable returns the slow entries recorded against tableName.
func (s *SlowQueryAnalyzer) GetSlowQueriesByTable(tableName string) []*SlowQueryLog {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []*SlowQueryLog{}
	for _, log := range s.slowQueries {
		if log.TableName == tableName {
			result = append(result, log)
		}
	}
	return result
}

// GetSlowQueriesByTimeRange returns slow entries timestamped within
// [start, end], inclusive of both bounds.
func (s *SlowQueryAnalyzer) GetSlowQueriesByTimeRange(start, end time.Time) []*SlowQueryLog {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []*SlowQueryLog{}
	for _, log := range s.slowQueries {
		if !log.Timestamp.Before(start) && !log.Timestamp.After(end) {
			result = append(result, log)
		}
	}
	return result
}

// GetSlowQueriesAfter returns slow entries timestamped at or after start.
func (s *SlowQueryAnalyzer) GetSlowQueriesAfter(start time.Time) []*SlowQueryLog {
	return s.GetSlowQueriesByTimeRange(start, time.Now())
}

// GetSlowQueryCount returns how many slow-query entries are currently retained.
func (s *SlowQueryAnalyzer) GetSlowQueryCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.slowQueries)
}

// SetExplainPlan attaches an execution plan to a previously recorded entry.
func (s *SlowQueryAnalyzer) SetExplainPlan(id int64, explainPlan string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if log, ok := s.slowQueryMap[id]; ok {
		log.ExplainPlan = explainPlan
	}
}

// DeleteSlowQuery removes a previously recorded entry, reporting whether it existed.
func (s *SlowQueryAnalyzer) DeleteSlowQuery(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.slowQueryMap[id]; !ok {
		return false
	}

	delete(s.slowQueryMap, id)
	for i, log := range s.slowQueries {
		if log.ID == id {
			s.slowQueries = append(s.slowQueries[:i], s.slowQueries[i+1:]...)
			break
		}
	}
	return true
}

// Clear discards every retained slow-query entry.
func (s *SlowQueryAnalyzer) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.slowQueries = make([]*SlowQueryLog, 0, s.maxEntries)
	s.slowQueryMap = make(map[int64]*SlowQueryLog)
	s.nextID = 1
}

// SetThreshold changes the slow-query cutoff.
func (s *SlowQueryAnalyzer) SetThreshold(threshold time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threshold = threshold
}

// GetThreshold returns the current slow-query cutoff.
func (s *SlowQueryAnalyzer) GetThreshold() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.threshold
}

// AnalyzeSlowQueries rolls up the retained entries into overall and
// per-table statistics. Returns a zero-value analysis when nothing has
// been recorded yet.
func (s *SlowQueryAnalyzer) AnalyzeSlowQueries() *SlowQueryAnalysis {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.slowQueries) == 0 {
		return &SlowQueryAnalysis{}
	}

	analysis := &SlowQueryAnalysis{
		TotalQueries:  len(s.slowQueries),
		TableStats:    make(map[string]*TableSlowQueryStats),
		ErrorCount:    0,
		AvgDuration:   0,
		MaxDuration:   s.slowQueries[0].Duration,
		MinDuration:   s.slowQueries[0].Duration,
		TotalDuration: 0,
		AvgRowCount:   0,
		TotalRowCount: 0,
	}

	totalDuration := time.Duration(0)
	totalRowCount := int64(0)

	for _, log := range s.slowQueries {
		totalDuration += log.Duration
		totalRowCount += log.RowCount

		if log.Duration > analysis.MaxDuration {
			analysis.MaxDuration = log.Duration
		}
		if log.Duration < analysis.MinDuration {
			analysis.MinDuration = log.Duration
		}

		if log.Error != "" {
			analysis.ErrorCount++
		}

		if stats, ok := analysis.TableStats[log.TableName]; ok {
			stats.QueryCount++
			stats.TotalDuration += log.Duration
			stats.TotalRowCount += log.RowCount
			if log.Duration > stats.MaxDuration {
				stats.MaxDuration = log.Duration
			}
		} else {
			analysis.TableStats[log.TableName] = &TableSlowQueryStats{
				TableName:     log.TableName,
				QueryCount:    1,
				TotalDuration: log.Duration,
				MaxDuration:   log.Duration,
				TotalRowCount: log.RowCount,
			}
		}
	}

	analysis.TotalDuration = totalDuration
	analysis.AvgDuration = totalDuration / time.Duration(len(s.slowQueries))
	analysis.TotalRowCount = totalRowCount
	if len(s.slowQueries) > 0 {
		analysis.AvgRowCount = totalRowCount / int64(len(s.slowQueries))
	}

	for _, stats := range analysis.TableStats {
		if stats.QueryCount > 0 {
			stats.AvgDuration = stats.TotalDuration / time.Duration(stats.QueryCount)
			stats.AvgRowCount = stats.TotalRowCount / int64(stats.QueryCount)
		}
	}

	return analysis
}

// SlowQueryAnalysis is the result of rolling up every retained slow-query entry.
type SlowQueryAnalysis struct {
	TotalQueries  int
	AvgDuration   time.Duration
	MaxDuration   time.Duration
	MinDuration   time.Duration
	TotalDuration time.Duration
	AvgRowCount   int64
	TotalRowCount int64
	ErrorCount    int
	TableStats    map[string]*TableSlowQueryStats
}

// TableSlowQueryStats is one table's share of a SlowQueryAnalysis.
type TableSlowQueryStats struct {
	TableName     string
	QueryCount    int
	TotalDuration time.Duration
	MaxDuration   time.Duration
	AvgDuration   time.Duration
	TotalRowCount int64
	AvgRowCount   int64
}

// GetRecommendations turns the current analysis into a short list of
// plain-English operator hints. cmd/reedbase's stats command prints these
// alongside the raw counters.
func (s *SlowQueryAnalyzer) GetRecommendations() []string {
	analysis := s.AnalyzeSlowQueries()
	recommendations := []string{}

	if analysis.TotalQueries > 100 {
		recommendations = append(recommendations, fmt.Sprintf("%d slow queries recorded; review query patterns for this workload", analysis.TotalQueries))
	}

	if analysis.AvgDuration > time.Second {
		recommendations = append(recommendations, fmt.Sprintf("average slow-query duration is %v; consider an index or a narrower WHERE clause", analysis.AvgDuration))
	}

	if analysis.TotalQueries > 0 {
		errorRate := float64(analysis.ErrorCount) / float64(analysis.TotalQueries)
		if errorRate > 0.1 {
			recommendations = append(recommendations, fmt.Sprintf("%.2f%% of slow queries also failed; investigate the underlying errors", errorRate*100))
		}
	}

	for tableName, stats := range analysis.TableStats {
		if stats.QueryCount > 10 {
			recommendations = append(recommendations, fmt.Sprintf("table %s has %d slow queries; consider indexing its common filter columns", tableName, stats.QueryCount))
		}
		if stats.AvgDuration > time.Second*2 {
			recommendations = append(recommendations, fmt.Sprintf("table %s averages %v per slow query; add an index on its most-filtered column", tableName, stats.AvgDuration))
		}
	}

	return recommendations
}
