package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/S-Corkum/remstore/pkg/observability"
)

// Pool wraps a sqlx connection pool and enforces per-connection recycling:
// a connection is destroyed after MaxUsagePerConn queries or MaxLifetime
// elapsed, whichever comes first. Borrowed connections are pinged before
// use when PingOnBorrow is set.
type Pool struct {
	db     *sqlx.DB
	cfg    Config
	logger observability.Logger

	mu    sync.Mutex
	stats map[string]*connStats
}

type connStats struct {
	uses int64
	born time.Time
}

// NewPool builds a Pool over an open sqlx.DB
func NewPool(db *sqlx.DB, cfg Config, logger observability.Logger) *Pool {
	if logger == nil {
		logger = observability.NewStandardLogger("storage.pool")
	}
	if cfg.MaxConnections > 0 {
		db.SetMaxOpenConns(cfg.MaxConnections)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.MaxLifetime > 0 {
		db.SetConnMaxLifetime(time.Duration(cfg.MaxLifetime) * time.Second)
	}
	return &Pool{
		db:     db,
		cfg:    cfg,
		logger: logger,
		stats:  make(map[string]*connStats),
	}
}

// DB exposes the underlying sqlx.DB for struct-scanning queries. All
// mutation on the DB path goes through pool checkout/return or this
// handle's own internal pooling.
func (p *Pool) DB() *sqlx.DB {
	return p.db
}

// Conn is a checked-out connection with usage accounting
type Conn struct {
	conn *sql.Conn
	pool *Pool
	key  string
}

// Checkout borrows a connection from the pool. The connection is pinged
// before being handed out; a connection past its usage or lifetime budget
// is destroyed and a fresh one is borrowed instead.
func (p *Pool) Checkout(ctx context.Context) (*Conn, error) {
	for attempt := 0; attempt < 5; attempt++ {
		conn, err := p.db.DB.Conn(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to checkout connection: %w", err)
		}

		key, err := connIdentity(conn)
		if err != nil {
			_ = conn.Close()
			return nil, err
		}

		p.mu.Lock()
		st, ok := p.stats[key]
		if !ok {
			st = &connStats{born: time.Now()}
			p.stats[key] = st
		}
		expired := p.expiredLocked(st)
		p.mu.Unlock()

		if expired {
			p.discard(conn, key)
			continue
		}

		if p.cfg.PingOnBorrow {
			if err := conn.PingContext(ctx); err != nil {
				p.discard(conn, key)
				continue
			}
		}

		return &Conn{conn: conn, pool: p, key: key}, nil
	}
	return nil, fmt.Errorf("failed to checkout a usable connection after retries")
}

func (p *Pool) expiredLocked(st *connStats) bool {
	if p.cfg.MaxUsagePerConn > 0 && st.uses >= p.cfg.MaxUsagePerConn {
		return true
	}
	if p.cfg.MaxLifetime > 0 && time.Since(st.born) >= time.Duration(p.cfg.MaxLifetime)*time.Second {
		return true
	}
	return false
}

// discard destroys the backend connection instead of returning it to the
// pool. Returning driver.ErrBadConn from Raw marks the connection bad.
func (p *Pool) discard(conn *sql.Conn, key string) {
	_ = conn.Raw(func(driverConn interface{}) error {
		return driver.ErrBadConn
	})
	_ = conn.Close()
	p.mu.Lock()
	delete(p.stats, key)
	p.mu.Unlock()
}

func connIdentity(conn *sql.Conn) (string, error) {
	var key string
	err := conn.Raw(func(driverConn interface{}) error {
		key = fmt.Sprintf("%p", driverConn)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to identify connection: %w", err)
	}
	return key, nil
}

// ExecContext executes a statement on the checked-out connection
func (c *Conn) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	c.use()
	return c.conn.ExecContext(ctx, query, args...)
}

// QueryContext runs a query on the checked-out connection
func (c *Conn) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	c.use()
	return c.conn.QueryContext(ctx, query, args...)
}

// QueryRowContext runs a single-row query on the checked-out connection
func (c *Conn) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	c.use()
	return c.conn.QueryRowContext(ctx, query, args...)
}

func (c *Conn) use() {
	c.pool.mu.Lock()
	if st, ok := c.pool.stats[c.key]; ok {
		st.uses++
	}
	c.pool.mu.Unlock()
}

// Release returns the connection to the pool, destroying it if it has
// exceeded its usage or lifetime budget
func (c *Conn) Release() {
	c.pool.mu.Lock()
	st, ok := c.pool.stats[c.key]
	expired := ok && c.pool.expiredLocked(st)
	c.pool.mu.Unlock()

	if expired {
		c.pool.discard(c.conn, c.key)
		return
	}
	_ = c.conn.Close()
}

// Execute runs a query through a pooled checkout and returns the rows as
// maps. Used by the REM executor's SELECT path.
func (p *Pool) Execute(ctx context.Context, query string, args ...interface{}) ([]map[string]interface{}, error) {
	conn, err := p.Checkout(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}

	var out []map[string]interface{}
	for rows.Next() {
		vals := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		row := make(map[string]interface{}, len(cols))
		for i, col := range cols {
			v := vals[i]
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			row[col] = v
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration failed: %w", err)
	}
	return out, nil
}

// Close closes the underlying pool
func (p *Pool) Close() error {
	return p.db.Close()
}
