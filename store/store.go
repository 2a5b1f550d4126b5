package store

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"

	"mmcd/config"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

const (
	driverSQLite   = "sqlite"
	driverPostgres = "postgres"

	pingTimeout = 5 * time.Second
)

// DB is the controller's SQL store. Timestamps are written by the store in
// UTC so both drivers sort and compare them the same way.
type DB struct {
	*sql.DB
	driver string
	now    func() time.Time
}

// Open opens the configured database, checks it answers and applies the schema.
func Open(cfg *config.DatabaseConfig) (*DB, error) {
	var (
		db  *DB
		err error
	)
	switch cfg.Driver {
	case driverSQLite, "":
		db, err = openSQLite(cfg.SQLite.Path)
	case driverPostgres:
		db, err = openPostgres(&cfg.Postgres)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%s ping: %w", db.driver, err)
	}
	if err := db.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate %s: %w", db.driver, err)
	}
	return db, nil
}

func openSQLite(path string) (*DB, error) {
	q := url.Values{}
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "foreign_keys(1)")
	sqlDB, err := sql.Open("sqlite", "file:"+path+"?"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer; WAL lets readers share it.
	sqlDB.SetMaxOpenConns(1)
	return &DB{DB: sqlDB, driver: driverSQLite, now: time.Now}, nil
}

func openPostgres(cfg *config.PostgresConfig) (*DB, error) {
	dsn := fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.Database, cfg.User, cfg.Password, cfg.SSLMode)
	sqlDB, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if cfg.MaxConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxConns)
		sqlDB.SetMaxIdleConns(cfg.MaxConns)
	}
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)
	return &DB{DB: sqlDB, driver: driverPostgres, now: time.Now}, nil
}

// Driver names the SQL backend in use.
func (db *DB) Driver() string { return db.driver }

// Q rebinds ? placeholders for postgres.
func (db *DB) Q(query string) string {
	if db.driver == driverPostgres {
		return Rebind(query)
	}
	return query
}

// insert runs an INSERT and returns the new row id on either driver.
func (db *DB) insert(query string, args ...any) (int64, error) {
	if db.driver == driverPostgres {
		var id int64
		err := db.QueryRow(Rebind(query+" RETURNING id"), args...).Scan(&id)
		return id, err
	}
	res, err := db.Exec(query, args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (db *DB) migrate() error {
	schema := schemaSQLite
	if db.driver == driverPostgres {
		schema = schemaPostgres
	}
	_, err := db.Exec(schema)
	return err
}
