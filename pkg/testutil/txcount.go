package testutil

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"sync/atomic"
	"testing"
)

// TxCounter counts transactions opened on a DB from NewTxCountingDB.
type TxCounter struct {
	Begins    atomic.Int64
	Commits   atomic.Int64
	Rollbacks atomic.Int64
}

// NewTxCountingDB returns a *sql.DB whose connections only support
// BEGIN/COMMIT/ROLLBACK. It lets tests built on in-memory stores see how a
// tx.SQLRunner splits work into transactions.
func NewTxCountingDB(t *testing.T) (*sql.DB, *TxCounter) {
	t.Helper()
	c := &TxCounter{}
	db := sql.OpenDB(txConnector{counter: c})
	t.Cleanup(func() { _ = db.Close() })
	return db, c
}

type txConnector struct{ counter *TxCounter }

func (c txConnector) Connect(context.Context) (driver.Conn, error) {
	return txConn{counter: c.counter}, nil
}

func (c txConnector) Driver() driver.Driver { return txDriver{counter: c.counter} }

type txDriver struct{ counter *TxCounter }

func (d txDriver) Open(string) (driver.Conn, error) { return txConn(d), nil }

type txConn struct{ counter *TxCounter }

var errNoStatements = errors.New("tx counting driver does not run statements")

func (c txConn) Prepare(string) (driver.Stmt, error) { return nil, errNoStatements }
func (c txConn) Close() error                        { return nil }

func (c txConn) Begin() (driver.Tx, error) {
	c.counter.Begins.Add(1)
	return countedTx(c), nil
}

type countedTx struct{ counter *TxCounter }

func (t countedTx) Commit() error {
	t.counter.Commits.Add(1)
	return nil
}

func (t countedTx) Rollback() error {
	t.counter.Rollbacks.Add(1)
	return nil
}
