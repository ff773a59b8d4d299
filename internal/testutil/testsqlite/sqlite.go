package testsqlite

import (
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
)

var seq atomic.Int64

// DSN returns a connection string for a private in-memory SQLite database.
// The database lives as long as at least one connection to it stays open.
func DSN(tb testing.TB) string {
	tb.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(tb.Name())
	return fmt.Sprintf("file:%s_%d?mode=memory&cache=shared&_busy_timeout=5000", name, seq.Add(1))
}
