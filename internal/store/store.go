// Package store persists finished order units and closed trades with gorm.
package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	boterrors "github.com/ducminhle1904/crypto-signal-bot/internal/errors"
	"github.com/ducminhle1904/crypto-signal-bot/internal/execution"
	"github.com/ducminhle1904/crypto-signal-bot/internal/logger"
)

type Config struct {
	Enabled            bool   `json:"enabled" toml:"enabled"`
	Driver             string `json:"driver" toml:"driver"` // sqlite or mysql
	DSN                string `json:"dsn" toml:"dsn"`
	MaxOpenConnections int    `json:"max_open_connections" toml:"max_open_connections"`
	MaxIdleConnections int    `json:"max_idle_connections" toml:"max_idle_connections"`
	ConnMaxLifetimeSec int    `json:"conn_max_lifetime_sec" toml:"conn_max_lifetime_sec"`
}

func DefaultConfig() Config {
	return Config{
		Enabled:            true,
		Driver:             "sqlite",
		DSN:                "data/signal-bot.db",
		MaxOpenConnections: 10,
		MaxIdleConnections: 2,
		ConnMaxLifetimeSec: 7200,
	}
}

func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	switch c.Driver {
	case "sqlite", "mysql":
	default:
		return fmt.Errorf("unsupported store driver %q", c.Driver)
	}
	if c.DSN == "" {
		return fmt.Errorf("store dsn is required")
	}
	return nil
}

// Store writes order and trade history
type Store struct {
	db  *gorm.DB
	log zerolog.Logger
}

// gormWriter routes gorm's own logging through the component logger
type gormWriter struct {
	log zerolog.Logger
}

func (w gormWriter) Printf(format string, args ...any) {
	w.log.Warn().Msgf(format, args...)
}

// Open connects to the configured database and migrates the history tables
func Open(cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, boterrors.NewConfigurationError("store", "open", err.Error())
	}
	log := logger.Component("store")

	var dialector gorm.Dialector
	switch cfg.Driver {
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	default:
		if err := ensureSQLiteDir(cfg.DSN); err != nil {
			return nil, boterrors.WrapError(err, boterrors.ErrorCategoryConfiguration, "store", "open")
		}
		dialector = sqlite.Open(cfg.DSN)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.New(gormWriter{log: log}, gormlogger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, boterrors.WrapError(err, boterrors.ErrorCategoryFatal, "store", "open").
			WithContext("driver", cfg.Driver)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, boterrors.WrapError(err, boterrors.ErrorCategoryFatal, "store", "open")
	}
	if cfg.MaxOpenConnections > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConnections)
	}
	if cfg.MaxIdleConnections > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConnections)
	}
	if cfg.ConnMaxLifetimeSec > 0 {
		sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeSec) * time.Second)
	}

	s, err := New(db)
	if err != nil {
		return nil, err
	}
	log.Info().Str("driver", cfg.Driver).Msg("store connected")
	return s, nil
}

// ensureSQLiteDir creates the parent directory of a plain file DSN
func ensureSQLiteDir(dsn string) error {
	if dsn == ":memory:" || strings.HasPrefix(dsn, "file:") {
		return nil
	}
	if dir := filepath.Dir(dsn); dir != "." && dir != "" {
		return os.MkdirAll(dir, 0755)
	}
	return nil
}

// New wraps an open gorm handle and migrates the history tables
func New(db *gorm.DB) (*Store, error) {
	s := &Store{db: db, log: logger.Component("store")}
	for _, model := range []any{&OrderRecord{}, &TradeRecord{}} {
		if err := db.AutoMigrate(model); err != nil {
			return nil, boterrors.WrapError(err, boterrors.ErrorCategoryFatal, "store", "migrate")
		}
	}
	return s, nil
}

// SaveOrder inserts the unit or overwrites the row with the same id
func (s *Store) SaveOrder(ctx context.Context, mo execution.ManagedOrder) error {
	rec := NewOrderRecord(mo)
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, UpdateAll: true}).
		Create(&rec).Error
	if err != nil {
		s.log.Error().Err(err).Str("order_id", mo.ID).Msg("save order failed")
		return fmt.Errorf("save order %s: %w", mo.ID, err)
	}
	return nil
}

func (s *Store) SaveTrade(ctx context.Context, t TradeRecord) error {
	if err := s.db.WithContext(ctx).Create(&t).Error; err != nil {
		s.log.Error().Err(err).Str("symbol", t.Symbol).Msg("save trade failed")
		return fmt.Errorf("save trade %s: %w", t.Symbol, err)
	}
	return nil
}

// RecentOrders returns up to limit orders, newest placement first
func (s *Store) RecentOrders(ctx context.Context, limit int) ([]OrderRecord, error) {
	var out []OrderRecord
	q := s.db.WithContext(ctx).Order("placed_at DESC").Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	return out, nil
}

// RecentTrades returns up to limit trades, newest close first
func (s *Store) RecentTrades(ctx context.Context, limit int) ([]TradeRecord, error) {
	var out []TradeRecord
	q := s.db.WithContext(ctx).Order("closed_at DESC").Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	return out, nil
}

// Order looks one unit up by id
func (s *Store) Order(ctx context.Context, id string) (*OrderRecord, error) {
	var rec OrderRecord
	if err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("query order %s: %w", id, err)
	}
	return &rec, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
