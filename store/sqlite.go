package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"

	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	_ "github.com/mattn/go-sqlite3"
)

// handle is the common query surface of *goqu.Database and *goqu.TxDatabase,
// so accessors work identically inside and outside a transaction.
type handle interface {
	From(cols ...interface{}) *goqu.SelectDataset
	Insert(table interface{}) *goqu.InsertDataset
	Update(table interface{}) *goqu.UpdateDataset
	Delete(table interface{}) *goqu.DeleteDataset
}

// SQLiteStore implements Store on a shared SQLite database. Writes go
// through a single connection opened with _txlock=immediate, which makes
// the store serialize concurrent write transactions; the release engine
// relies on that to keep same-namespace publishes race-free.
type SQLiteStore struct {
	writeDB *sql.DB
	readDB  *sql.DB

	// write/read are the goqu handles; inside WithTx both point at the tx.
	write handle
	read  handle

	txBound bool
}

// Ensure SQLiteStore implements Store
var _ Store = (*SQLiteStore)(nil)

// Open opens (and migrates) the shared SQLite store at path.
func Open(path string, busyTimeoutMS, readPoolSize int) (*SQLiteStore, error) {
	isMemoryDB := strings.Contains(path, ":memory:")

	writeDSN := path
	readDSN := path
	if !isMemoryDB {
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		writeDSN += fmt.Sprintf("%s_journal_mode=WAL&_busy_timeout=%d&_txlock=immediate&_loc=UTC", sep, busyTimeoutMS)
		readDSN += fmt.Sprintf("%s_journal_mode=WAL&_busy_timeout=%d&_loc=UTC", sep, busyTimeoutMS)
	}

	writeDB, err := sql.Open("sqlite3", writeDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open write database: %w", err)
	}
	writeDB.SetMaxOpenConns(1)
	writeDB.SetMaxIdleConns(1)
	writeDB.SetConnMaxLifetime(0)

	readDB, err := sql.Open("sqlite3", readDSN)
	if err != nil {
		writeDB.Close()
		return nil, fmt.Errorf("failed to open read database: %w", err)
	}
	if readPoolSize < 1 {
		readPoolSize = 4
	}
	readDB.SetMaxOpenConns(readPoolSize)
	readDB.SetMaxIdleConns(readPoolSize)
	readDB.SetConnMaxLifetime(0)

	if !isMemoryDB {
		for _, db := range []*sql.DB{writeDB, readDB} {
			for _, pragma := range []string{
				"PRAGMA journal_mode=WAL",
				"PRAGMA synchronous=NORMAL",
				"PRAGMA temp_store=MEMORY",
			} {
				if _, err := db.Exec(pragma); err != nil {
					writeDB.Close()
					readDB.Close()
					return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
				}
			}
		}
	}

	for _, schema := range Schemas() {
		if _, err := writeDB.Exec(schema); err != nil {
			writeDB.Close()
			readDB.Close()
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}

	s := &SQLiteStore{
		writeDB: writeDB,
		readDB:  readDB,
		write:   goqu.New("sqlite3", writeDB),
		read:    goqu.New("sqlite3", readDB),
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	if s.txBound {
		return nil
	}
	err := s.writeDB.Close()
	if rerr := s.readDB.Close(); err == nil {
		err = rerr
	}
	return err
}

// WithTx runs fn against a transaction-bound view. Joins the transaction
// when the receiver is already bound to one.
func (s *SQLiteStore) WithTx(ctx context.Context, fn func(tx Store) error) error {
	if s.txBound {
		return fn(s)
	}
	gdb, ok := s.write.(*goqu.Database)
	if !ok {
		return fmt.Errorf("write handle is not transactable")
	}
	return gdb.WithTx(func(td *goqu.TxDatabase) error {
		bound := &SQLiteStore{
			writeDB: s.writeDB,
			readDB:  s.readDB,
			write:   td,
			read:    td,
			txBound: true,
		}
		return fn(bound)
	})
}

func (s *SQLiteStore) Releases() Releases           { return &sqlReleases{s} }
func (s *SQLiteStore) Items() Items                 { return &sqlItems{s} }
func (s *SQLiteStore) Namespaces() Namespaces       { return &sqlNamespaces{s} }
func (s *SQLiteStore) Locks() Locks                 { return &sqlLocks{s} }
func (s *SQLiteStore) GrayRules() GrayRules         { return &sqlGrayRules{s} }
func (s *SQLiteStore) Histories() Histories         { return &sqlHistories{s} }
func (s *SQLiteStore) Messages() Messages           { return &sqlMessages{s} }
func (s *SQLiteStore) AppNamespaces() AppNamespaces { return &sqlAppNamespaces{s} }
func (s *SQLiteStore) Audits() Audits               { return &sqlAudits{s} }

func now() time.Time {
	return time.Now().UTC()
}

// lastInsertID executes an insert dataset and returns the assigned row id.
func lastInsertID(ctx context.Context, ds *goqu.InsertDataset) (int64, error) {
	res, err := ds.Executor().ExecContext(ctx)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}
