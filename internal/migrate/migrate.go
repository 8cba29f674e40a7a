// Package migrate handles SQL database migration for the internal tipqueue database
package migrate

import (
	"database/sql"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
)

var migrations []dbMigration

type dbMigration struct {
	Version uint
	Queries []string
}

// Execute runs the current DB migration on the given database
func (mig *dbMigration) Execute(db *sqlx.DB, logger *logrus.Entry) error {
	// Check if the migration has already run
	query := `SELECT success FROM Migrations WHERE version = $1`
	var success = false
	err := db.QueryRow(query, mig.Version).Scan(&success)
	if err != nil && err != sql.ErrNoRows {
		logger.WithError(err).Error("Failed to fetch version information")
		return err
	}
	if success {
		return nil
	}
	logger.Infof("Executing DB migration #%d", mig.Version)
	tx, err := db.Beginx()
	if err != nil {
		return err
	}
	for i, query := range mig.Queries {
		logger.Debugf("Query %d of %d...", (i + 1), len(mig.Queries))
		if _, err := tx.Exec(query); err != nil {
			logger.WithError(err).Errorf("Query #%d failed", (i + 1))
			tx.Rollback()
			db.Exec(`REPLACE INTO Migrations(version, success) VALUES($1, 0)`, mig.Version)
			return err
		}
	}
	// Queries executed successfully - save our status
	if _, err := tx.Exec(`REPLACE INTO Migrations(version, success) VALUES($1, 1)`, mig.Version); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// ExecuteMigrationsOnDb executes the database migrations on the given database instance
func ExecuteMigrationsOnDb(db *sqlx.DB, logger *logrus.Entry) error {
	// Create the migrations table if it does not exist, yet
	query := `CREATE TABLE IF NOT EXISTS Migrations (
                version   INTEGER NOT NULL,
                success   INTEGER NOT NULL DEFAULT 0,
                PRIMARY KEY(version)
            )`
	if _, err := db.Exec(query); err != nil {
		logger.WithError(err).Error("Failed to create migrations table")
		return err
	}
	for _, mig := range migrations {
		if err := mig.Execute(db, logger); err != nil {
			logger.WithError(err).Errorf("Failed to execute migration #%d", mig.Version)
			return err
		}
	}
	return nil
}

// For now, the migrations are part of the package...
func init() {
	migrations = []dbMigration{
		{
			Version: 1,
			Queries: []string{
				`CREATE TABLE "Shows" (
                    id VARCHAR(36) NOT NULL PRIMARY KEY,
                    performerId VARCHAR(128) NOT NULL,
                    name VARCHAR(128) NOT NULL DEFAULT '',
                    venue VARCHAR(255) NOT NULL DEFAULT '',
                    scheduledAt DATETIME NOT NULL,
                    maxRequestsPerUser INTEGER NOT NULL CHECK (maxRequestsPerUser >= 1),
                    requireTip BOOLEAN NOT NULL DEFAULT 0,
                    suggestedTip TEXT NOT NULL DEFAULT '0',
                    status VARCHAR(16) NOT NULL DEFAULT 'scheduled',
                    createdAt DATETIME NOT NULL,
                    updatedAt DATETIME NOT NULL
                );`,
				`CREATE TABLE "Songs" (
                    id VARCHAR(36) NOT NULL PRIMARY KEY,
                    performerId VARCHAR(128) NOT NULL,
                    name VARCHAR(128) NOT NULL DEFAULT '',
                    artist VARCHAR(128) NOT NULL DEFAULT '',
                    songKey VARCHAR(16) NOT NULL DEFAULT '',
                    bpm INTEGER NOT NULL DEFAULT 0,
                    tags TEXT NOT NULL DEFAULT '[]',
                    language VARCHAR(35) NOT NULL DEFAULT '',
                    isActive BOOLEAN NOT NULL DEFAULT 1,
                    isAvailable BOOLEAN NOT NULL DEFAULT 1,
                    restrictions TEXT NOT NULL DEFAULT '',
                    createdAt DATETIME NOT NULL,
                    updatedAt DATETIME NOT NULL
                );`,
				`CREATE TABLE "Requests" (
                    id VARCHAR(36) NOT NULL PRIMARY KEY,
                    showId VARCHAR(36) NOT NULL REFERENCES Shows(id),
                    requesterId VARCHAR(128) NOT NULL,
                    songId VARCHAR(36) NOT NULL REFERENCES Songs(id),
                    status VARCHAR(16) NOT NULL DEFAULT 'pending',
                    requestedAt DATETIME NOT NULL,
                    scheduledTime DATETIME NULL,
                    completedAt DATETIME NULL,
                    paymentAmount TEXT NOT NULL DEFAULT '0',
                    paymentStatus VARCHAR(16) NOT NULL DEFAULT 'pending',
                    venmoTransactionId VARCHAR(128) NOT NULL DEFAULT '',
                    refundTransactionId VARCHAR(128) NOT NULL DEFAULT '',
                    updatedAt DATETIME NOT NULL,
                    CHECK ((status IN ('completed', 'rejected', 'cancelled')) = (completedAt IS NOT NULL)),
                    CHECK (paymentStatus <> 'refunded' OR status = 'cancelled')
                );`,
				`CREATE TABLE "RequestNotifications" (
                    id INTEGER NOT NULL PRIMARY KEY AUTOINCREMENT,
                    requestId VARCHAR(36) NOT NULL REFERENCES Requests(id),
                    type VARCHAR(32) NOT NULL,
                    message VARCHAR(1024) NOT NULL DEFAULT '',
                    sentAt DATETIME NOT NULL,
                    status VARCHAR(16) NOT NULL DEFAULT 'pending',
                    attempts INTEGER NOT NULL DEFAULT 0
                );`,
				`CREATE INDEX idx_show_performer ON Shows (performerId ASC, scheduledAt ASC);`,
				`CREATE INDEX idx_song_performer ON Songs (performerId ASC, name ASC);`,
			},
		},
		{
			Version: 2,
			Queries: []string{
				`CREATE INDEX idx_request_admission ON Requests (showId ASC, requesterId ASC, status ASC);`,
				`CREATE INDEX idx_request_queue ON Requests (showId ASC, status ASC, requestedAt ASC);`,
			},
		},
		{
			Version: 3,
			Queries: []string{
				`CREATE INDEX idx_notification_request ON RequestNotifications (requestId ASC, id ASC);`,
				`CREATE INDEX idx_notification_outbox ON RequestNotifications (status ASC, sentAt ASC);`,
			},
		},
	}
}
