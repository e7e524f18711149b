package db

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/NikKowPHP/meetup/internal/config"
)

type DB struct {
	Gorm *gorm.DB
	SQL  *sql.DB
}

// Open connects to Postgres. Timestamps are written in UTC and the session
// time zone is set from cfg.Timezone when it names a real zone.
func Open(cfg config.DBConfig) (*DB, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errors.New("db dsn is empty")
	}
	gdb, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: NowUTC,
	})
	if err != nil {
		return nil, err
	}
	sqldb, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	applyPool(sqldb, cfg)

	conn := &DB{Gorm: gdb, SQL: sqldb}
	if err := conn.setTimezone(cfg.Timezone); err != nil {
		_ = sqldb.Close()
		return nil, err
	}
	return conn, nil
}

func applyPool(sqldb *sql.DB, cfg config.DBConfig) {
	if cfg.MaxOpenConns > 0 {
		sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqldb.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqldb.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if cfg.ConnMaxIdleTime > 0 {
		sqldb.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}
}

// setTimezone only accepts names the Go zone database knows; SET cannot take
// a bind parameter, so the name is validated before it is quoted in.
func (d *DB) setTimezone(tz string) error {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return nil
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return fmt.Errorf("db timezone %q: %w", tz, err)
	}
	return d.Gorm.Exec("SET TIME ZONE '" + strings.ReplaceAll(tz, "'", "") + "'").Error
}

func Close(db *DB) error {
	if db == nil || db.SQL == nil {
		return nil
	}
	return db.SQL.Close()
}

func NowUTC() time.Time {
	return time.Now().UTC()
}
