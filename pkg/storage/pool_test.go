package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingDriver hands out connections it keeps references to, so tests
// can count how many backend connections the pool has consumed.
type countingDriver struct {
	mu    sync.Mutex
	conns []*countingConn
}

func (d *countingDriver) Open(string) (driver.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c := &countingConn{}
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *countingDriver) opened() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

type countingConn struct{}

func (c *countingConn) Prepare(string) (driver.Stmt, error) { return nil, driver.ErrSkip }
func (c *countingConn) Close() error                        { return nil }
func (c *countingConn) Begin() (driver.Tx, error)           { return nil, driver.ErrSkip }

func (c *countingConn) ExecContext(context.Context, string, []driver.NamedValue) (driver.Result, error) {
	return driver.RowsAffected(1), nil
}

func (c *countingConn) QueryContext(context.Context, string, []driver.NamedValue) (driver.Rows, error) {
	return &countingRows{}, nil
}

type countingRows struct{ done bool }

func (r *countingRows) Columns() []string { return []string{"id"} }
func (r *countingRows) Close() error      { return nil }
func (r *countingRows) Next(dest []driver.Value) error {
	if r.done {
		return io.EOF
	}
	r.done = true
	dest[0] = []byte("row-1")
	return nil
}

var testDriverSeq atomic.Int64

func newCountingPool(t *testing.T, cfg Config) (*Pool, *countingDriver) {
	t.Helper()

	drv := &countingDriver{}
	name := fmt.Sprintf("pool-counting-%d", testDriverSeq.Add(1))
	sql.Register(name, drv)

	db, err := sql.Open(name, "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	// One backend connection, so reuse vs. recycle is observable
	cfg.MaxConnections = 1
	return NewPool(sqlx.NewDb(db, name), cfg, nil), drv
}

func TestPool_RecyclesAfterMaxUsage(t *testing.T) {
	pool, drv := newCountingPool(t, Config{MaxUsagePerConn: 2})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		conn, err := pool.Checkout(ctx)
		require.NoError(t, err)
		_, err = conn.ExecContext(ctx, "UPDATE t SET x = 1")
		require.NoError(t, err)
		conn.Release()
	}
	assert.Equal(t, 1, drv.opened(), "both uses should ride one backend connection")

	// The budget is spent; the next checkout must land on a new connection
	conn, err := pool.Checkout(ctx)
	require.NoError(t, err)
	conn.Release()
	assert.Equal(t, 2, drv.opened())
}

func TestPool_RecyclesAfterMaxLifetime(t *testing.T) {
	pool, drv := newCountingPool(t, Config{MaxLifetime: 3600})
	ctx := context.Background()

	conn, err := pool.Checkout(ctx)
	require.NoError(t, err)
	conn.Release()
	require.Equal(t, 1, drv.opened())

	// Age the connection past its lifetime budget
	pool.mu.Lock()
	for _, st := range pool.stats {
		st.born = time.Now().Add(-2 * time.Hour)
	}
	pool.mu.Unlock()

	conn, err = pool.Checkout(ctx)
	require.NoError(t, err)
	conn.Release()
	assert.Equal(t, 2, drv.opened())
}

func TestPool_ExecuteCountsUsage(t *testing.T) {
	pool, drv := newCountingPool(t, Config{MaxUsagePerConn: 2})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		rows, err := pool.Execute(ctx, "SELECT id FROM t")
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, "row-1", rows[0]["id"])
	}
	assert.Equal(t, 1, drv.opened())

	_, err := pool.Execute(ctx, "SELECT id FROM t")
	require.NoError(t, err)
	assert.Equal(t, 2, drv.opened())
}
