package blob

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jacktea/blobsvc/pkg/xerrors"
)

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// PostgresConfig configures PostgresStore.
type PostgresConfig struct {
	DSN      string
	Table    string
	MaxConns int32
	Logger   *slog.Logger
}

// PostgresStore keeps blobs in a two-column table (key text, content bytea).
type PostgresStore struct {
	pool  *pgxpool.Pool
	table string
	log   *slog.Logger
}

// NewPostgresStore connects to cfg.DSN and creates the blob table when
// it does not exist yet.
func NewPostgresStore(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres: dsn is required")
	}
	if cfg.Table == "" {
		cfg.Table = "blobs"
	}
	if !tableName.MatchString(cfg.Table) {
		return nil, fmt.Errorf("postgres: invalid table name %q", cfg.Table)
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &PostgresStore{pool: pool, table: cfg.Table, log: log}
	if err := store.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	log.Info("database connected", slog.String("table", cfg.Table))
	return store, nil
}

func (p *PostgresStore) migrate(ctx context.Context) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	key        text PRIMARY KEY,
	content    bytea NOT NULL,
	updated_at timestamptz NOT NULL DEFAULT now()
)`, p.table)
	if _, err := p.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("postgres: create table %s: %w", p.table, err)
	}
	return nil
}

func (p *PostgresStore) Put(ctx context.Context, key string, data []byte) error {
	clean, err := CleanKey(key)
	if err != nil {
		return err
	}
	if data == nil {
		data = []byte{}
	}
	query := fmt.Sprintf(`INSERT INTO %s (key, content) VALUES ($1, $2)
ON CONFLICT (key) DO UPDATE SET content = EXCLUDED.content, updated_at = now()`, p.table)
	if _, err := p.pool.Exec(ctx, query, clean, data); err != nil {
		p.log.Error("postgres upsert failed", slog.String("key", clean), "err", err)
		return xerrors.Wrap(xerrors.KindStorage, "PostgresStore.Put", key, err)
	}
	return nil
}

func (p *PostgresStore) Fetch(ctx context.Context, key string) ([]byte, error) {
	clean, err := CleanKey(key)
	if err != nil {
		return nil, err
	}
	var data []byte
	query := fmt.Sprintf(`SELECT content FROM %s WHERE key = $1`, p.table)
	err = p.pool.QueryRow(ctx, query, clean).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("PostgresStore.Fetch", key)
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindStorage, "PostgresStore.Fetch", key, err)
	}
	return data, nil
}

func (p *PostgresStore) Delete(ctx context.Context, key string) error {
	clean, err := CleanKey(key)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE key = $1`, p.table)
	tag, err := p.pool.Exec(ctx, query, clean)
	if err != nil {
		return xerrors.Wrap(xerrors.KindStorage, "PostgresStore.Delete", key, err)
	}
	if tag.RowsAffected() == 0 {
		return notFound("PostgresStore.Delete", key)
	}
	return nil
}

// Close closes the connection pool.
func (p *PostgresStore) Close() error {
	p.pool.Close()
	return nil
}
