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
	"context"
	"fmt"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
	"moul.io/zapgorm2"

	"d7y.io/aiops/aiops/config"
	"d7y.io/aiops/aiops/models"
	logger "d7y.io/aiops/internal/dflog"
	"d7y.io/aiops/pkg/retry"
)

const (
	// connectMaxAttempts is the number of connection attempts to a remote database.
	connectMaxAttempts = 5

	// connectInitBackoff is the first backoff in seconds between connection attempts.
	connectInitBackoff = 0.5

	// connectMaxBackoff is the maximum backoff in seconds between connection attempts.
	connectMaxBackoff = 8
)

type Database struct {
	DB *gorm.DB
}

func New(cfg *config.Config) (*Database, error) {
	var (
		db  *gorm.DB
		err error
	)
	switch cfg.Database.Type {
	case config.DatabaseTypeMysql:
		db, err = connect(cfg.Database.Type, func() (*gorm.DB, error) { return newMysql(cfg) })
	case config.DatabaseTypePostgres:
		db, err = connect(cfg.Database.Type, func() (*gorm.DB, error) { return newPostgres(cfg) })
	case config.DatabaseTypeSqlite:
		db, err = newSqlite(cfg)
	default:
		return nil, fmt.Errorf("invalid database type %s", cfg.Database.Type)
	}
	if err != nil {
		return nil, err
	}

	return &Database{DB: db}, nil
}

// Close closes the underlying connection pool.
func (d *Database) Close() error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return err
	}

	return sqlDB.Close()
}

// connect opens a remote database, retrying while it is unreachable.
func connect(name string, open func() (*gorm.DB, error)) (*gorm.DB, error) {
	var attempt int
	db, _, err := retry.Run(context.Background(), connectInitBackoff, connectMaxBackoff, connectMaxAttempts, func() (any, bool, error) {
		attempt++
		db, err := open()
		if err != nil {
			logger.Warnf("connect to %s failed in attempt %d: %s", name, attempt, err.Error())
			return nil, false, err
		}

		return db, false, nil
	})
	if err != nil {
		return nil, err
	}

	return db.(*gorm.DB), nil
}

func gormConfig(cfg *config.Config) *gorm.Config {
	// Initialize gorm logger.
	logLevel := gormlogger.Info
	if !cfg.Verbose {
		logLevel = gormlogger.Warn
	}

	return &gorm.Config{
		NamingStrategy: schema.NamingStrategy{
			SingularTable: true,
		},
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   zapgorm2.New(logger.CoreLogger.Desugar()).LogMode(logLevel),
	}
}

func migrate(db *gorm.DB) error {
	return db.AutoMigrate(models.All()...)
}
