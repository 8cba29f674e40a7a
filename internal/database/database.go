// Package database opens the SQLite database of the service and brings its schema up to date
package database

import (
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3" // Just needed for the sqlite driver
	"github.com/sirupsen/logrus"

	"github.com/derWhity/tipqueue/internal/log"
	"github.com/derWhity/tipqueue/internal/migrate"
)

// Writers wait for each other instead of failing with SQLITE_BUSY. Transactions take the write lock right away so
// that conditional status updates cannot deadlock on a lock upgrade.
const fileOptions = "?_busy_timeout=5000&_txlock=immediate"

// Open opens the database file at the given location and performs pending migrations
func Open(filename string, logger *logrus.Entry) (*sqlx.DB, error) {
	logger.WithField(log.FldFile, filename).Info("Opening database")
	db, err := sqlx.Open("sqlite3", "file:"+filename+fileOptions)
	if err != nil {
		return nil, err
	}
	if err = migrate.ExecuteMigrationsOnDb(db, logger); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// OpenMemory opens a fresh in-memory database with the current schema. Every connection to ":memory:" sees its own
// database, so the pool is limited to a single connection.
func OpenMemory(logger *logrus.Entry) (*sqlx.DB, error) {
	db, err := sqlx.Open("sqlite3", ":memory:")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if err = migrate.ExecuteMigrationsOnDb(db, logger); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
