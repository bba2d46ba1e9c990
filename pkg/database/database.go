package database

import (
	"fmt"
	"os"
	"path/filepath"

	"seevideo/automation/internal/config"
	"seevideo/automation/internal/models"
	applog "seevideo/automation/pkg/logger"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

// InitDatabase opens the shared see-video database and stores it in DB.
func InitDatabase(cfg *config.Config) error {
	db, err := Open(cfg)
	if err != nil {
		return err
	}
	DB = db
	return nil
}

// Open connects to the configured dialect. SQLite files are created on
// demand and switched to WAL so the relay and see-video-server can share them.
func Open(cfg *config.Config) (*gorm.DB, error) {
	logLevel := logger.Warn
	if cfg.Server.Mode == "debug" {
		logLevel = logger.Info
	}
	gormCfg := &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	}

	var dialector gorm.Dialector
	switch cfg.Database.Driver {
	case "mysql":
		dialector = mysql.Open(cfg.GetDSN())
	default:
		dsn := cfg.GetDSN()
		if dsn != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(dsn), 0755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		dialector = sqlite.Open(dsn)
	}

	db, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	if cfg.Database.Driver == "sqlite" {
		// one writer at a time; WAL lets see-video-server keep reading
		sqlDB.SetMaxOpenConns(1)
		if err := db.Exec("PRAGMA journal_mode = WAL").Error; err != nil {
			return nil, fmt.Errorf("failed to enable WAL: %w", err)
		}
	} else {
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetMaxOpenConns(100)
	}

	if err = sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	applog.Component("DB").WithField("driver", cfg.Database.Driver).Infof("Connected to database: %s", redactDSN(cfg))

	if cfg.Database.AutoMigrate {
		if err := AutoMigrate(db); err != nil {
			return nil, err
		}
	}
	return db, nil
}

// AutoMigrate creates the tables missing from the database and adds missing
// columns to existing ones. Tables see-video-server created are never
// rebuilt: their constraints and defaults stay as they are.
func AutoMigrate(db *gorm.DB) error {
	log := applog.Component("DB")
	migrator := db.Migrator()

	for _, model := range []interface{}{
		&models.User{},
		&models.VideoGeneration{},
		&models.CreditTransaction{},
	} {
		stmt := &gorm.Statement{DB: db}
		if err := stmt.Parse(model); err != nil {
			return fmt.Errorf("failed to parse model: %w", err)
		}
		table := stmt.Schema.Table

		if !migrator.HasTable(model) {
			if err := migrator.CreateTable(model); err != nil {
				return fmt.Errorf("failed to migrate database: create %s: %w", table, err)
			}
			log.WithField("table", table).Info("Created table")
			continue
		}

		for _, field := range stmt.Schema.Fields {
			if field.DBName == "" || migrator.HasColumn(model, field.DBName) {
				continue
			}
			if err := migrator.AddColumn(model, field.Name); err != nil {
				return fmt.Errorf("failed to migrate database: add %s.%s: %w", table, field.DBName, err)
			}
			log.WithFields(map[string]interface{}{"table": table, "column": field.DBName}).Info("Added column")
		}
	}

	log.Debug("Database migration completed")
	return nil
}

func redactDSN(cfg *config.Config) string {
	if cfg.Database.Driver == "sqlite" {
		return cfg.Database.Path
	}
	return fmt.Sprintf("%s@%s:%s/%s", cfg.Database.Username, cfg.Database.Host, cfg.Database.Port, cfg.Database.Database)
}
