package tagrepo

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/malloctag/mtag/pkg/mtagconfig"
	"github.com/malloctag/mtag/pkg/mtagtelemetry"
)

// NewGormDB opens a GORM connection for cfg, migrating the snapshot table.
func NewGormDB(cfg *mtagconfig.DatabaseConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector

	switch cfg.Type {
	case "postgres", "postgresql":
		dsn := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
			cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database,
		)
		dialector = postgres.Open(dsn)
	case "mysql":
		dsn := fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true&loc=Local",
			cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database,
		)
		dialector = mysql.Open(dsn)
	case "sqlite", "":
		path := cfg.Database
		if path == "" {
			path = "mtag.db"
		}
		dialector = sqlite.Open(path)
	default:
		return nil, fmt.Errorf("tagrepo: unsupported database type: %s", cfg.Type)
	}

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, fmt.Errorf("tagrepo: open database: %w", err)
	}

	if mtagtelemetry.Enabled() {
		if err := db.Use(tracing.NewPlugin()); err != nil {
			return nil, fmt.Errorf("tagrepo: enable telemetry: %w", err)
		}
	}

	if cfg.Type != "sqlite" && cfg.Type != "" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("tagrepo: get underlying sql.DB: %w", err)
		}

		maxConns := cfg.MaxConns
		if maxConns <= 0 {
			maxConns = 10
		}
		sqlDB.SetMaxOpenConns(maxConns)
		sqlDB.SetMaxIdleConns(maxConns / 2)
		sqlDB.SetConnMaxLifetime(time.Hour)
		sqlDB.SetConnMaxIdleTime(30 * time.Minute)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := sqlDB.PingContext(ctx); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("tagrepo: ping database: %w", err)
		}
	}

	if err := db.AutoMigrate(&SnapshotRecord{}); err != nil {
		return nil, fmt.Errorf("tagrepo: migrate schema: %w", err)
	}

	return db, nil
}

// Store bundles the GORM connection with its repository.
type Store struct {
	Snapshots SnapshotRepository
	gormDB    *gorm.DB
}

// NewStore builds a Store backed by gormDB.
func NewStore(gormDB *gorm.DB) *Store {
	return &Store{Snapshots: NewGormSnapshotRepository(gormDB), gormDB: gormDB}
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s.gormDB == nil {
		return nil
	}
	sqlDB, err := s.gormDB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// HealthCheck verifies the database connection is still alive.
func (s *Store) HealthCheck(ctx context.Context) error {
	sqlDB, err := s.gormDB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// DB returns the underlying sql.DB connection.
func (s *Store) DB() *sql.DB {
	sqlDB, _ := s.gormDB.DB()
	return sqlDB
}
