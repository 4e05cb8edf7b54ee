package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/reedbase/reedbase/pkg/reedbase"
)

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "show cumulative query counters, cache hit rate, and slow queries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(func(db *reedbase.Database) error {
				qm, cs := db.QuerySnapshot()
				fmt.Printf("queries: %d  success=%.1f%%  avg=%s  slow=%d\n", qm.QueryCount, qm.SuccessRate, qm.AvgDuration, qm.SlowQueryCount)
				fmt.Printf("cache:   size=%d/%d  hit_rate=%.1f%%  evictions=%d\n", cs.Size, cs.MaxSize, cs.HitRate, cs.Evictions)
				for _, sq := range db.SlowQueries() {
					fmt.Printf("slow: table=%s duration=%s sql=%q\n", sq.TableName, sq.Duration, sq.SQL)
				}
				for _, rec := range db.SlowQuery.GetRecommendations() {
					fmt.Printf("hint: %s\n", rec)
				}
				return nil
			})
		},
	}
}
