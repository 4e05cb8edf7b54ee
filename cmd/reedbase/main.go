// Command reedbase is the operator-facing CLI over the façade in
// pkg/reedbase: table/version/backup/restore/conflict/frame/index
// management plus ad-hoc SQL-subset queries. Loads config, builds one
// long-lived handle, and dispatches, restructured into a Cobra command
// tree rather than a single-protocol server.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/reedbase/reedbase/pkg/reedbase"
)

var rootPath string

func main() {
	root := &cobra.Command{
		Use:   "reedbase",
		Short: "ReedBase: a versioned, row-structured CSV key/value store",
	}
	root.PersistentFlags().StringVar(&rootPath, "root", ".reed", "path to the .reed data root")

	root.AddCommand(
		newTableCmd(),
		newVersionCmd(),
		newBackupCmd(),
		newRestoreCmd(),
		newConflictCmd(),
		newFrameCmd(),
		newIndexCmd(),
		newQueryCmd(),
		newStatsCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func openDB() (*reedbase.Database, error) {
	return reedbase.Open(rootPath)
}

func withDB(fn func(db *reedbase.Database) error) error {
	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(db)
}
