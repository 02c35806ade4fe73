package db

import (
	"fmt"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/lojf/academy/internal/config"
	"github.com/lojf/academy/internal/logger"
	"github.com/lojf/academy/internal/models"
)

var conn *gorm.DB

// Init opens the configured database, migrates it and keeps the handle for Conn.
func Init(cfg config.DatabaseConfig, log logger.Logger) error {
	c, err := Open(cfg)
	if err != nil {
		return err
	}
	if err := Migrate(c); err != nil {
		return err
	}
	conn = c
	log.Info("database ready", map[string]interface{}{"driver": cfg.Driver})
	return nil
}

func Conn() *gorm.DB {
	return conn
}

// Open connects without migrating.
func Open(cfg config.DatabaseConfig) (*gorm.DB, error) {
	gcfg := &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)}

	var (
		c   *gorm.DB
		err error
	)
	switch strings.ToLower(cfg.Driver) {
	case "postgres":
		dsn := cfg.DSN
		if dsn == "" {
			dsn = cfg.Postgres.GetDSN()
		}
		c, err = gorm.Open(postgres.Open(dsn), gcfg)
	case "", "sqlite":
		c, err = gorm.Open(sqlite.Open(cfg.DSN), gcfg)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Driver, err)
	}

	sqlDB, err := c.DB()
	if err != nil {
		return nil, err
	}
	if cfg.Driver == "postgres" {
		if cfg.MaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		if cfg.MaxIdleConns > 0 {
			sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
		}
	} else {
		// SQLite works best with a single writer; cap the pool accordingly.
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
		sqlDB.SetConnMaxLifetime(0)
	}
	return c, nil
}

// Migrate creates the tables and the composite indexes GORM doesn't derive from tags.
func Migrate(c *gorm.DB) error {
	if err := c.AutoMigrate(
		&models.Program{},
		&models.Skill{},
		&models.PlanPrice{},
		&models.FormSchema{},
		&models.Registration{},
	); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}

	for _, stmt := range []string{
		"CREATE INDEX IF NOT EXISTS idx_reg_draft_owner ON registrations(user_id, program_id, registration_kind, is_draft)",
		"CREATE INDEX IF NOT EXISTS idx_reg_pending_account ON registrations(user_id, kind, status)",
		"CREATE INDEX IF NOT EXISTS idx_reg_pending_email ON registrations(user_email, kind, status)",
	} {
		if err := c.Exec(stmt).Error; err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}
	return nil
}
