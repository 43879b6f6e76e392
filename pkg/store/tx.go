package store

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// session is one goroutine's connection and transaction stack. Only its
// owning goroutine touches depth and mutated while the write lock is held;
// the registry map itself is guarded by the database's state mutex.
type session struct {
	gid     int64
	conn    *sql.Conn
	depth   int
	mutated bool
}

// Transaction is a scoped execution unit bound to the calling goroutine.
// The outermost transaction on a goroutine holds the database's write lock
// and an open BEGIN IMMEDIATE; nested transactions on the same goroutine
// share it and only grow the stack.
type Transaction struct {
	db   *Database
	sess *session
}

// goroutineID extracts the current goroutine's id from its stack header.
// It keys the session registry the way the per-thread connection map would
// in a threaded runtime.
func goroutineID() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	header := bytes.TrimPrefix(buf[:n], []byte("goroutine "))
	if i := bytes.IndexByte(header, ' '); i > 0 {
		if id, err := strconv.ParseInt(string(header[:i]), 10, 64); err == nil {
			return id
		}
	}
	return 0
}

// Transaction enters a transaction scope for the calling goroutine.
// Every Transaction must be paired with End.
func (db *Database) Transaction() (*Transaction, error) {
	gid := goroutineID()

	db.mu.Lock()
	sess := db.sessions[gid]
	if sess == nil {
		sess = &session{gid: gid}
		db.sessions[gid] = sess
	}
	if sess.depth > 0 {
		sess.depth++
		db.mu.Unlock()
		return &Transaction{db, sess}, nil
	}
	db.mu.Unlock()

	db.writeMu.Lock()
	if sess.conn == nil {
		conn, err := db.sqldb.Conn(context.Background())
		if err != nil {
			db.dropSession(sess)
			db.writeMu.Unlock()
			return nil, db.classifyStorage(err)
		}
		sess.conn = conn
	}
	if _, err := sess.conn.ExecContext(context.Background(), "BEGIN IMMEDIATE"); err != nil {
		db.dropSession(sess)
		db.writeMu.Unlock()
		return nil, db.classifyStorage(err)
	}
	sess.depth = 1
	sess.mutated = false
	return &Transaction{db, sess}, nil
}

// dropSession returns the session's connection to the pool and removes it
// from the registry. Goroutine ids are never reused, so a session kept past
// its outermost scope would pin its connection for the process lifetime.
func (db *Database) dropSession(sess *session) {
	db.mu.Lock()
	delete(db.sessions, sess.gid)
	db.mu.Unlock()
	if sess.conn != nil {
		sess.conn.Close()
		sess.conn = nil
	}
}

// End exits the transaction scope. Exiting an inner scope only pops the
// stack. Exiting the outermost scope commits (or rolls back when err is
// non-nil), bumps the database revision if any scope mutated, returns the
// connection to the pool, and releases the write lock. It returns err
// unchanged unless commit itself fails.
func (tx *Transaction) End(err error) error {
	tx.sess.depth--
	if tx.sess.depth > 0 {
		return err
	}
	ctx := context.Background()
	if err != nil {
		tx.sess.conn.ExecContext(ctx, "ROLLBACK")
		tx.db.dropSession(tx.sess)
		tx.db.writeMu.Unlock()
		return err
	}
	_, commitErr := tx.sess.conn.ExecContext(ctx, "COMMIT")
	if commitErr == nil && tx.sess.mutated {
		tx.db.mu.Lock()
		tx.db.revision++
		tx.db.mu.Unlock()
	}
	tx.db.dropSession(tx.sess)
	tx.db.writeMu.Unlock()
	if commitErr != nil {
		return tx.db.classifyStorage(commitErr)
	}
	return nil
}

// Query runs a read-only statement and returns its rows.
func (tx *Transaction) Query(stmt string, args ...any) (*sql.Rows, error) {
	rows, err := tx.sess.conn.QueryContext(context.Background(), stmt, args...)
	if err != nil {
		return nil, tx.db.classifyStorage(err)
	}
	return rows, nil
}

// Mutate runs a write statement and returns the inserted row id where
// applicable. Failures caused by inaccessible storage come back wrapped in
// ErrStorageInaccessible.
func (tx *Transaction) Mutate(stmt string, args ...any) (int64, error) {
	res, err := tx.sess.conn.ExecContext(context.Background(), stmt, args...)
	if err != nil {
		return 0, tx.db.classifyStorage(err)
	}
	tx.sess.mutated = true
	id, _ := res.LastInsertId()
	return id, nil
}

// transact runs fn inside one transaction scope.
func (db *Database) transact(fn func(tx *Transaction) error) error {
	tx, err := db.Transaction()
	if err != nil {
		return err
	}
	return tx.End(fn(tx))
}

// classifyStorage distinguishes "the database file went away or became
// unwritable" from ordinary statement failures.
func (db *Database) classifyStorage(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"readonly", "read-only", "disk i/o", "unable to open", "no such file",
	} {
		if strings.Contains(msg, marker) {
			return fmt.Errorf("%w: %v", ErrStorageInaccessible, err)
		}
	}
	if fi, statErr := os.Stat(db.path); statErr != nil {
		return fmt.Errorf("%w: %v", ErrStorageInaccessible, err)
	} else if fi.Mode().Perm()&0o200 == 0 {
		return fmt.Errorf("%w: %v", ErrStorageInaccessible, err)
	}
	return err
}
