package store

import (
	"database/sql"
	"fmt"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/kittclouds/flexstore/pkg/query"
)

const rowCacheSize = 1024

// rawRow is one fetched main-table row, column name to driver value.
type rawRow struct {
	id   int64
	cols map[string]any
}

type rowKey struct {
	kind string
	id   int64
}

// rowEntry is a point-lookup cache entry; it is only served while the
// database revision still matches the one it was read under.
type rowEntry struct {
	cols     map[string]any
	flex     map[string]string
	revision int64
}

// Database owns the SQLite file, the registered entity kinds, the revision
// counter and the per-goroutine session registry.
type Database struct {
	path  string
	sqldb *sql.DB
	kinds map[string]*Kind

	// mu guards revision and the session registry; writeMu serializes
	// outermost transactions across goroutines. Keeping them separate means
	// registering a new goroutine's connection never waits on another
	// goroutine's in-progress transaction.
	mu       sync.Mutex
	revision int64
	sessions map[int64]*session
	writeMu  sync.Mutex

	rowCache *lru.Cache[rowKey, rowEntry]
}

// Open opens or creates the database file and registers the given entity
// kinds, creating or additively migrating their tables.
func Open(path string, cfgs ...KindConfig) (*Database, error) {
	kinds := make(map[string]*Kind, len(cfgs))
	for _, cfg := range cfgs {
		k, err := newKind(cfg)
		if err != nil {
			return nil, err
		}
		if _, dup := kinds[k.name]; dup {
			return nil, fmt.Errorf("duplicate kind %q", k.name)
		}
		kinds[k.name] = k
	}
	// resolve relations once every kind exists
	for _, cfg := range cfgs {
		if cfg.Relation == nil {
			continue
		}
		related, ok := kinds[cfg.Relation.Kind]
		if !ok {
			return nil, fmt.Errorf("kind %s: unknown related kind %q", cfg.Name, cfg.Relation.Kind)
		}
		kinds[cfg.Name].related = related
		kinds[cfg.Name].relationJoin = cfg.Relation.Join
	}

	sqldb, err := sql.Open("sqlite3",
		"file:"+path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(wal)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	cache, err := lru.New[rowKey, rowEntry](rowCacheSize)
	if err != nil {
		sqldb.Close()
		return nil, err
	}
	db := &Database{
		path:     path,
		sqldb:    sqldb,
		kinds:    kinds,
		sessions: make(map[int64]*session),
		rowCache: cache,
	}
	err = db.transact(func(tx *Transaction) error {
		for _, k := range kinds {
			if err := db.setupKind(tx, k); err != nil {
				return fmt.Errorf("kind %s: %w", k.name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Kind returns a registered kind, nil when unknown.
func (db *Database) Kind(name string) *Kind { return db.kinds[name] }

// Revision is the counter bumped once per committed outermost transaction
// that wrote data. Entities use it to decide whether a reload is needed.
func (db *Database) Revision() int64 {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.revision
}

// Close shuts down every tracked session connection and the underlying pool.
func (db *Database) Close() error {
	db.mu.Lock()
	for gid, sess := range db.sessions {
		if sess.conn != nil {
			sess.conn.Close()
		}
		delete(db.sessions, gid)
	}
	db.mu.Unlock()
	return db.sqldb.Close()
}

// setupKind creates the kind's tables on first use and additively migrates
// the main table when the descriptor set has grown. Columns are never
// dropped or renamed.
func (db *Database) setupKind(tx *Transaction, k *Kind) error {
	existing, err := tableColumns(tx, k.table)
	if err != nil {
		return err
	}
	if len(existing) == 0 {
		cols := make([]string, 0, len(k.fields))
		for _, f := range k.fields {
			cols = append(cols, columnDDL(f))
		}
		ddl := "CREATE TABLE IF NOT EXISTS " + k.table + " (" + strings.Join(cols, ", ") + ")"
		if _, err := tx.Mutate(ddl); err != nil {
			return err
		}
	} else {
		for _, f := range k.fields {
			if existing[f.Name] {
				continue
			}
			if _, err := tx.Mutate("ALTER TABLE " + k.table + " ADD COLUMN " + columnDDL(f)); err != nil {
				return err
			}
		}
	}
	flexDDL := "CREATE TABLE IF NOT EXISTS " + k.flexTable + " (" +
		"id INTEGER PRIMARY KEY, " +
		"entity_id INTEGER, " +
		"key TEXT, " +
		"value TEXT, " +
		"UNIQUE(entity_id, key) ON CONFLICT REPLACE)"
	if _, err := tx.Mutate(flexDDL); err != nil {
		return err
	}
	idx := "CREATE INDEX IF NOT EXISTS " + k.flexTable + "_by_entity ON " +
		k.flexTable + " (entity_id)"
	_, err = tx.Mutate(idx)
	return err
}

func columnDDL(f FieldDef) string {
	if f.Name == "id" {
		return "id INTEGER PRIMARY KEY"
	}
	return f.Name + " " + string(f.Type.Affinity())
}

func tableColumns(tx *Transaction, table string) (map[string]bool, error) {
	rows, err := tx.Query("PRAGMA table_info(" + table + ")")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	cols := make(map[string]bool)
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt any
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return nil, err
		}
		cols[name] = true
	}
	return cols, rows.Err()
}

// Fetch compiles the query's fast clause and the sort's fast fragment into
// one statement over the kind's main table (joining the related kind only
// when the query or sort references its fields), pulls the matching rows'
// flexible attributes with a second statement, and wraps both with any
// residual slow query and slow sort passes into a lazy result set.
func (db *Database) Fetch(kindName string, q query.Query, s query.Sort) (*Results, error) {
	k := db.kinds[kindName]
	if k == nil {
		return nil, fmt.Errorf("unknown kind %q", kindName)
	}

	clause, args := "1", []any(nil)
	var slowQuery query.Query
	if q != nil {
		if c, a, fast := q.Clause(); fast {
			clause, args = c, a
		} else {
			slowQuery = q
		}
	}
	order, slowSorts := query.Order(s)

	join := ""
	if k.touchesRelated(q, s) {
		join = " LEFT JOIN " + k.related.table + " ON " + k.relationJoin
	}
	stmt := "SELECT " + k.table + ".* FROM " + k.table + join + " WHERE " + clause
	if order != "" {
		stmt += " ORDER BY " + order
	}
	flexStmt := "SELECT entity_id, key, value FROM " + k.flexTable +
		" WHERE entity_id IN (SELECT " + k.table + ".id FROM " + k.table + join +
		" WHERE " + clause + ")"

	var rows []rawRow
	var flex map[int64]map[string]string
	err := db.transact(func(tx *Transaction) error {
		var err error
		if rows, err = fetchRows(tx, stmt, args); err != nil {
			return err
		}
		flex, err = fetchFlex(tx, flexStmt, args)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &Results{
		db:        db,
		kind:      k,
		rows:      rows,
		flex:      flex,
		slowQuery: slowQuery,
		slowSorts: slowSorts,
		revision:  db.Revision(),
	}, nil
}

func fetchRows(tx *Transaction, stmt string, args []any) ([]rawRow, error) {
	rows, err := tx.Query(stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []rawRow
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		m := make(map[string]any, len(cols))
		for i, c := range cols {
			m[c] = vals[i]
		}
		id, _ := m["id"].(int64)
		out = append(out, rawRow{id: id, cols: m})
	}
	return out, rows.Err()
}

func fetchFlex(tx *Transaction, stmt string, args []any) (map[int64]map[string]string, error) {
	rows, err := tx.Query(stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	flex := make(map[int64]map[string]string)
	for rows.Next() {
		var entityID int64
		var key, value string
		if err := rows.Scan(&entityID, &key, &value); err != nil {
			return nil, err
		}
		if flex[entityID] == nil {
			flex[entityID] = make(map[string]string)
		}
		flex[entityID][key] = value
	}
	return flex, rows.Err()
}

// GetByID is a point lookup backed by the revision-guarded row cache.
// It returns nil without error when no such entity exists.
func (db *Database) GetByID(kindName string, id int64) (*Entity, error) {
	k := db.kinds[kindName]
	if k == nil {
		return nil, fmt.Errorf("unknown kind %q", kindName)
	}
	rev := db.Revision()
	if entry, ok := db.rowCache.Get(rowKey{k.name, id}); ok && entry.revision == rev {
		return entityFromRow(db, k, entry.cols, entry.flex, rev), nil
	}
	cols, flex, found, err := db.loadRow(k, id)
	if err != nil || !found {
		return nil, err
	}
	db.rowCache.Add(rowKey{k.name, id}, rowEntry{cols: cols, flex: flex, revision: rev})
	return entityFromRow(db, k, cols, flex, rev), nil
}

// loadRow reads one entity's fixed and flexible rows.
func (db *Database) loadRow(k *Kind, id int64) (map[string]any, map[string]string, bool, error) {
	var cols map[string]any
	var flex map[string]string
	found := false
	err := db.transact(func(tx *Transaction) error {
		rows, err := fetchRows(tx, "SELECT * FROM "+k.table+" WHERE id = ?", []any{id})
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		found = true
		cols = rows[0].cols
		byID, err := fetchFlex(tx,
			"SELECT entity_id, key, value FROM "+k.flexTable+" WHERE entity_id = ?",
			[]any{id})
		if err != nil {
			return err
		}
		flex = byID[id]
		return nil
	})
	return cols, flex, found, err
}
