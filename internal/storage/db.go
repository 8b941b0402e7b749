package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver
)

// DB wraps the database connection and provides health checks. It is the
// single durable source of truth shared by all gateway replicas.
type DB struct {
	conn         *sqlx.DB
	queryTimeout time.Duration
}

// DBConfig holds database configuration
type DBConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	QueryTimeout    time.Duration
}

// NewDB creates a new database connection
func NewDB(cfg DBConfig) (*DB, error) {
	conn, err := sqlx.Connect("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	conn.SetMaxOpenConns(cfg.MaxOpenConns)
	conn.SetMaxIdleConns(cfg.MaxIdleConns)
	conn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	conn.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	timeout := cfg.QueryTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &DB{conn: conn, queryTimeout: timeout}, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping checks if the database is reachable
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Health returns the health status of the database
func (db *DB) Health(ctx context.Context) error {
	if err := db.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	var result int
	if err := db.conn.GetContext(ctx, &result, "SELECT 1"); err != nil {
		return fmt.Errorf("health check query failed: %w", err)
	}
	return nil
}

// Conn returns the underlying sqlx connection for custom queries
func (db *DB) Conn() *sqlx.DB {
	return db.conn
}

// hotPathCtx bounds a hot-path store query well under the overall request
// budget. A timeout here is treated by callers as "entity unknown", not a
// hard failure, unless the decision is security relevant (fail closed).
func (db *DB) hotPathCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, db.queryTimeout)
}

// Repository factory methods

func (db *DB) NewKeyRepository() *KeyRepository           { return NewKeyRepository(db) }
func (db *DB) NewUserRepository() *UserRepository         { return NewUserRepository(db) }
func (db *DB) NewTeamRepository() *TeamRepository         { return NewTeamRepository(db) }
func (db *DB) NewOrgRepository() *OrgRepository           { return NewOrgRepository(db) }
func (db *DB) NewEndUserRepository() *EndUserRepository   { return NewEndUserRepository(db) }
func (db *DB) NewBudgetRepository() *BudgetRepository     { return NewBudgetRepository(db) }
func (db *DB) NewDeploymentRepository() *DeploymentRepository {
	return NewDeploymentRepository(db)
}
func (db *DB) NewSpendRepository() *SpendRepository { return NewSpendRepository(db) }
