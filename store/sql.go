/*
 * This file is part of Chihaya.
 *
 * Chihaya is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * Chihaya is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with Chihaya.  If not, see <http://www.gnu.org/licenses/>.
 */

package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-sql-driver/mysql"

	"unit3d-announce/collector"
	"unit3d-announce/config"
	"unit3d-announce/log"
	"unit3d-announce/util"
)

// Open dials the MySQL backend with a pool sized for the scheduler's five
// consumers plus admin traffic (§5 "shared resources... announces never
// borrow a connection").
func Open(cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open("mysql", cfg.DBDSN)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(util.Max(cfg.DBPoolSize, 8))
	db.SetMaxIdleConns(util.Max(cfg.DBPoolSize, 8))
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

const (
	mysqlErrDeadlock  = 1213
	mysqlErrLockWait  = 1205
)

// perform retries fn on MySQL deadlock/lock-wait-timeout errors with a
// linearly increasing backoff, the same policy the teacher's database.go
// used, up to config.MaxDeadlockRetries, after which it logs and returns
// the last error; the calling flusher then re-enqueues the batch, and only
// drops it once config.MaxFlushAttempts is exceeded.
func perform(ctx context.Context, fn func() error) error {
	var lastErr error

	for try := 0; try < config.MaxDeadlockRetries; try++ {
		err := fn()
		if err == nil {
			return nil
		}

		lastErr = err

		var mysqlErr *mysql.MySQLError
		if !errors.As(err, &mysqlErr) || (mysqlErr.Number != mysqlErrDeadlock && mysqlErr.Number != mysqlErrLockWait) {
			collector.IncrementSQLErrorCount()
			return err
		}

		collector.IncrementDeadlockCount()

		wait := config.DeadlockWaitTime * time.Duration(try+1)

		collector.IncrementDeadlockTime(wait)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}

	collector.IncrementDeadlockAborted()
	log.Error.Printf("giving up on a query after %d deadlock retries: %v", config.MaxDeadlockRetries, lastErr)

	return lastErr
}
