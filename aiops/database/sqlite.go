/*
 *     Copyright 2023 The Dragonfly Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *      http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package database

import (
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"d7y.io/aiops/aiops/config"
)

func newSqlite(cfg *config.Config) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(formatSqliteDSN(&cfg.Database.Sqlite)), gormConfig(cfg))
	if err != nil {
		return nil, err
	}

	// Sqlite allows a single writer, one connection keeps writers from
	// failing with a busy database.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	// Embedded databases are always migrated.
	if err := migrate(db); err != nil {
		return nil, err
	}

	return db, nil
}

func formatSqliteDSN(cfg *config.SqliteConfig) string {
	return fmt.Sprintf("%s?_busy_timeout=5000&_journal_mode=WAL", cfg.Path)
}
