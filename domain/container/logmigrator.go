package container

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/mattn/go-isatty"
	"github.com/uptrace/bun"
)

const logMigrationConcurrency = 64

// LogMigrator implements spec.md §4.5's one-shot, idempotent migration of
// legacy log rows into per-execution JSONL files.
type LogMigrator struct {
	db        *bun.DB
	store     *Store
	assetRoot string
}

// NewLogMigrator builds a LogMigrator bound to db (used both for the
// store queries and the final VACUUM, which needs a single dedicated
// connection).
func NewLogMigrator(db *bun.DB, store *Store, assetRoot string) *LogMigrator {
	return &LogMigrator{db: db, store: store, assetRoot: assetRoot}
}

// Run executes the migration. Safe to call on every startup: step 1's
// early-abort on an empty legacy table is itself the "already migrated"
// detection, per spec.md §9's one-shot-migration design note.
func (m *LogMigrator) Run(ctx context.Context) error {
	count, err := m.store.CountLegacyLogs(ctx)
	if err != nil {
		return err
	}
	if count == 0 {
		return nil
	}

	keys, err := m.store.DistinctLegacyExecutions(ctx)
	if err != nil {
		return err
	}

	total := len(keys)
	var completed int64
	progress := newMigrationProgress(total)

	sem := make(chan struct{}, logMigrationConcurrency)
	var wg sync.WaitGroup
	var firstErr error
	var mu sync.Mutex

	for _, key := range keys {
		key := key
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			if err := m.migrateOne(ctx, key); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}

			n := atomic.AddInt64(&completed, 1)
			progress.report(int(n))
		}()
	}
	wg.Wait()
	progress.done()

	if firstErr != nil {
		return firstErr
	}

	return m.compact(ctx)
}

// migrateOne migrates one (session_id, execution_id) pair's rows to its
// on-disk file, per spec.md §4.5 step 3.
func (m *LogMigrator) migrateOne(ctx context.Context, key LegacyExecutionKey) error {
	path := ProcessLogFilePath(m.assetRoot, key.SessionID, key.ExecutionID)
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	rows, err := m.store.LegacyLogsForExecution(ctx, key.SessionID, key.ExecutionID)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}

	tmpPath := path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(tmpPath), 0o755); err != nil {
		return ErrIO("create log directory", err)
	}

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return ErrIO("create temp log file", err)
	}

	for _, row := range rows {
		line := append(append([]byte{}, row.Payload...), '\n')
		if _, err := f.Write(line); err != nil {
			f.Close()
			os.Remove(tmpPath)
			return ErrIO("write migrated log line", err)
		}
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return ErrIO("fsync migrated log file", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return ErrIO("close migrated log file", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return ErrIO("rename migrated log file", err)
	}
	return nil
}

// compact deletes all legacy rows, then reopens a single connection to
// run VACUUM (which cannot run inside a pooled transaction-capable
// connection in Postgres when other sessions hold locks on the table
// being vacuumed).
func (m *LogMigrator) compact(ctx context.Context) error {
	if _, err := m.db.NewDelete().Model((*LegacyExecutionLog)(nil)).Where("1 = 1").Exec(ctx); err != nil {
		return ErrDatabase("delete legacy execution logs", err)
	}

	conn, err := m.db.Conn(ctx)
	if err != nil {
		return ErrDatabase("acquire vacuum connection", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "VACUUM container.legacy_execution_logs"); err != nil {
		return ErrDatabase("vacuum legacy execution logs", err)
	}
	return nil
}

// migrationProgress reports progress per spec.md §4.5: a terminal
// spinner when stderr is a TTY, otherwise percent lines every 100
// completions.
type migrationProgress struct {
	total int
	isTTY bool
}

func newMigrationProgress(total int) *migrationProgress {
	return &migrationProgress{
		total: total,
		isTTY: isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd()),
	}
}

func (p *migrationProgress) report(n int) {
	if p.total == 0 {
		return
	}
	if p.isTTY {
		fmt.Fprintf(os.Stderr, "\rsqlite-migration: %d/%d", n, p.total)
		return
	}
	if n%100 == 0 {
		fmt.Fprintf(os.Stderr, "sqlite-migration:%d\n", n*100/p.total)
	}
}

func (p *migrationProgress) done() {
	if p.total == 0 {
		return
	}
	if p.isTTY {
		fmt.Fprintln(os.Stderr)
	}
	fmt.Fprintln(os.Stderr, "sqlite-migration:done")
}
