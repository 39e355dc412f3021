package database

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/shelfopds/shelfopds/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
)

// newTestConfig creates a config with a temp file database. A file is used
// instead of :memory: so WAL mode and lock contention are exercised.
func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.NewForTest()
	cfg.DatabaseFilePath = filepath.Join(t.TempDir(), "test.db")
	cfg.DatabaseMaxRetries = 0
	return cfg
}

// TestConcurrentTransactions runs many small transactions at once, the way
// the scan flusher, the watcher and download logging share the database.
func TestConcurrentTransactions(t *testing.T) {
	t.Parallel()

	cfg := newTestConfig(t)
	db, err := New(cfg)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`CREATE TABLE concurrency_test (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		value TEXT NOT NULL
	)`)
	require.NoError(t, err)

	const numWorkers = 10
	const txPerWorker = 20

	var wg sync.WaitGroup
	var failures atomic.Int32
	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for i := 0; i < txPerWorker; i++ {
				ctx := context.Background()
				err := Retry(ctx, cfg.DatabaseMaxRetries, func() error {
					return db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
						_, err := tx.ExecContext(ctx, "INSERT INTO concurrency_test (value) VALUES (?)",
							fmt.Sprintf("worker-%d-%d", workerID, i))
						return err
					})
				})
				if err != nil {
					failures.Add(1)
				}
			}
		}(w)
	}
	wg.Wait()

	assert.Equal(t, int32(0), failures.Load())

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM concurrency_test").Scan(&count))
	assert.Equal(t, numWorkers*txPerWorker, count)
}

func TestNew_InMemory(t *testing.T) {
	t.Parallel()

	db, err := New(config.NewForTest())
	require.NoError(t, err)
	defer db.Close()

	var one int
	require.NoError(t, db.QueryRow("SELECT 1").Scan(&one))
	assert.Equal(t, 1, one)
}
