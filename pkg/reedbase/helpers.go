package reedbase

import (
	"github.com/reedbase/reedbase/pkg/table"
	"github.com/reedbase/reedbase/pkg/versionlog"
)

// openVersionLog opens tbl's version.log for append, the shape every
// recovery/backup/version helper in this package needs.
func openVersionLog(tbl *table.Table) (*versionlog.Log, error) {
	return versionlog.Open(tbl.LogPath())
}
