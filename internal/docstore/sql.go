package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
	_ "modernc.org/sqlite"             // pure go sqlite driver
)

// Compile-time contract assertion.
var _ Persister = (*SQLPersister)(nil)

type dialect struct {
	name   string
	schema []string
	insert string
	load   string
	wipe   string
}

var sqliteDialect = dialect{
	name: "sqlite",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS documents (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			collection TEXT NOT NULL,
			body TEXT NOT NULL,
			stored_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
		);`,
		`CREATE INDEX IF NOT EXISTS idx_documents_collection ON documents(collection, id);`,
	},
	insert: `INSERT INTO documents (collection, body) VALUES (?, ?);`,
	load:   `SELECT collection, body FROM documents ORDER BY id ASC;`,
	wipe:   `DELETE FROM documents;`,
}

var postgresDialect = dialect{
	name: "postgres",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS documents (
			id BIGSERIAL PRIMARY KEY,
			collection TEXT NOT NULL,
			body JSONB NOT NULL,
			stored_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_collection ON documents(collection, id)`,
	},
	insert: `INSERT INTO documents (collection, body) VALUES ($1, $2)`,
	load:   `SELECT collection, body FROM documents ORDER BY id ASC`,
	wipe:   `DELETE FROM documents`,
}

const defaultPostgresDSN = "postgres://localhost/consultant?sslmode=disable"

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// SQLPersister stores one row per document in a relational database.
type SQLPersister struct {
	db      *sql.DB
	dialect dialect
}

// OpenSQLite initializes a SQLite-backed persister, creating directories as needed.
func OpenSQLite(ctx context.Context, path string) (*SQLPersister, error) {
	if path == "" {
		path = "data/consultant.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", path)
	db, err := open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(5 * time.Minute)

	p := &SQLPersister{db: db, dialect: sqliteDialect}
	if err := p.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return p, nil
}

// OpenPostgres initializes a Postgres-backed persister using pgx through database/sql.
func OpenPostgres(ctx context.Context, dsn string) (*SQLPersister, error) {
	if dsn == "" {
		dsn = defaultPostgresDSN
	}
	db, err := open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	p := &SQLPersister{db: db, dialect: postgresDialect}
	if err := p.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return p, nil
}

func open(driver, dsn string) (*sql.DB, error) {
	openMu.Lock()
	defer openMu.Unlock()
	return sqlOpen(driver, dsn)
}

// OverrideSQLOpen swaps the sql.Open function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}

// DB exposes the underlying sql.DB for callers that need raw access.
func (p *SQLPersister) DB() *sql.DB { return p.db }

// Driver names the SQL dialect in use.
func (p *SQLPersister) Driver() string { return p.dialect.name }

func (p *SQLPersister) initSchema(ctx context.Context) error {
	for _, stmt := range p.dialect.schema {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init %s schema: %w", p.dialect.name, err)
		}
	}
	return nil
}

// Load returns every stored document grouped by collection in insertion order.
func (p *SQLPersister) Load(ctx context.Context) (map[string][]Document, error) {
	if p.db == nil {
		return nil, fmt.Errorf("store not initialized")
	}

	rows, err := p.db.QueryContext(ctx, p.dialect.load)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	data := make(map[string][]Document)
	for rows.Next() {
		var (
			collection string
			body       []byte
		)
		if err := rows.Scan(&collection, &body); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		var doc Document
		if err := json.Unmarshal(body, &doc); err != nil {
			return nil, fmt.Errorf("decode %s document: %w", collection, err)
		}
		data[collection] = append(data[collection], doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return data, nil
}

// Import replaces every stored document inside a single transaction.
func (p *SQLPersister) Import(ctx context.Context, data map[string][]Document) (retErr error) {
	if p.db == nil {
		return fmt.Errorf("store not initialized")
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err := tx.ExecContext(ctx, p.dialect.wipe); err != nil {
		return fmt.Errorf("wipe documents: %w", err)
	}
	for _, collection := range Collections {
		for _, doc := range data[collection] {
			body, err := json.Marshal(doc)
			if err != nil {
				return fmt.Errorf("encode %s document: %w", collection, err)
			}
			if _, err := tx.ExecContext(ctx, p.dialect.insert, collection, string(body)); err != nil {
				return fmt.Errorf("insert %s document: %w", collection, err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Append inserts one document.
func (p *SQLPersister) Append(ctx context.Context, collection string, doc Document) error {
	if p.db == nil {
		return fmt.Errorf("store not initialized")
	}

	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode %s document: %w", collection, err)
	}
	if _, err := p.db.ExecContext(ctx, p.dialect.insert, collection, string(body)); err != nil {
		return fmt.Errorf("insert %s document: %w", collection, err)
	}
	return nil
}

// Close releases the underlying database handle.
func (p *SQLPersister) Close() error {
	if p.db == nil {
		return nil
	}
	return p.db.Close()
}
