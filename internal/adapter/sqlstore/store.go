// Package sqlstore implements domain.Repository on PostgreSQL or SQLite
// through sqlx.
package sqlstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/couchcryptid/crime-data-service/internal/domain"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Driver names accepted by Open.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

func init() {
	// modernc registers as "sqlite", which sqlx does not map to a bind type.
	sqlx.BindDriver(DriverSQLite, sqlx.QUESTION)
}

// Store is a SQL-backed domain.Repository.
type Store struct {
	reader
	db *sqlx.DB
}

// Open connects to the database and verifies the connection.
func Open(ctx context.Context, driver, dsn string, maxOpenConns int) (*Store, error) {
	switch driver {
	case DriverPostgres:
	case DriverSQLite:
		dsn = sqliteDSN(dsn)
		if strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory") {
			// Every connection to an in-memory database is a separate database.
			maxOpenConns = 1
		}
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", driver, err)
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxOpenConns)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s database: %w", driver, err)
	}

	return &Store{reader: reader{q: db}, db: db}, nil
}

// sqliteDSN enables foreign keys and a sortable timestamp encoding unless the
// caller already chose otherwise.
func sqliteDSN(dsn string) string {
	var params []string
	if !strings.Contains(dsn, "foreign_keys") {
		params = append(params, "_pragma=foreign_keys(1)")
	}
	if !strings.Contains(dsn, "_time_format") {
		params = append(params, "_time_format=sqlite")
	}
	if len(params) == 0 {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(params, "&")
}

// Migrate creates the schema if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	ddl, err := migrations.ReadFile("migrations/" + s.db.DriverName() + ".sql")
	if err != nil {
		return fmt.Errorf("read migration: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, string(ddl)); err != nil {
		return fmt.Errorf("apply migration: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// CheckReadiness pings the database.
func (s *Store) CheckReadiness(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx domain.IngestTx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if err := fn(ctx, writer{reader{q: tx}}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// ReadSnapshot runs fn in a read-only REPEATABLE READ transaction on
// PostgreSQL. SQLite transactions are already serializable.
func (s *Store) ReadSnapshot(ctx context.Context, fn func(ctx context.Context, r domain.IncidentReader) error) error {
	var opts *sql.TxOptions
	if s.db.DriverName() == DriverPostgres {
		opts = &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}
	}
	tx, err := s.db.BeginTxx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin snapshot: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // read-only

	return fn(ctx, reader{q: tx})
}

// writer adds the ingest writes to a reader bound to a transaction.
type writer struct {
	reader
}

func (w writer) InsertDataset(ctx context.Context, d domain.Dataset) (domain.Dataset, error) {
	const q = `INSERT INTO dataset (file_path, created_at) VALUES (?, ?) RETURNING id`
	if err := w.q.QueryRowxContext(ctx, w.q.Rebind(q), d.FilePath, d.CreatedAt).Scan(&d.ID); err != nil {
		if isUniqueViolation(err) {
			return domain.Dataset{}, &domain.ConflictError{FilePath: d.FilePath}
		}
		return domain.Dataset{}, fmt.Errorf("insert dataset: %w", err)
	}
	return d, nil
}

// BulkInsertIncidents writes one multi-row INSERT per batch.
func (w writer) BulkInsertIncidents(ctx context.Context, datasetID int64, incidents []domain.Incident, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = len(incidents)
	}
	inserted := 0
	for start := 0; start < len(incidents); start += batchSize {
		end := min(start+batchSize, len(incidents))
		batch := make([]domain.Incident, end-start)
		copy(batch, incidents[start:end])
		for i := range batch {
			batch[i].DatasetID = datasetID
		}
		if _, err := sqlx.NamedExecContext(ctx, w.q, insertIncident, batch); err != nil {
			return inserted, fmt.Errorf("insert incidents %d-%d: %w", start, end, err)
		}
		inserted += len(batch)
	}
	return inserted, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	}
	return false
}
