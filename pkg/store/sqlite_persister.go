package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// kvBlob is one row of the kv_blobs table
type kvBlob struct {
	Key       string `gorm:"column:blob_key;primaryKey"`
	Data      []byte `gorm:"column:data"`
	UpdatedAt time.Time
}

func (kvBlob) TableName() string { return "kv_blobs" }

// SQLitePersister keeps blobs in a SQLite table
type SQLitePersister struct {
	db *gorm.DB
}

// OpenSQLite opens (or creates) the database at path. ":memory:" works for tests.
func OpenSQLite(path string) (*SQLitePersister, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying DB: %w", err)
	}
	// One connection: SQLite has a single writer and :memory: is per connection
	sqlDB.SetMaxOpenConns(1)

	p, err := NewSQLitePersister(db)
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return p, nil
}

// NewSQLitePersister migrates the kv_blobs table on an existing connection
func NewSQLitePersister(db *gorm.DB) (*SQLitePersister, error) {
	if err := db.AutoMigrate(&kvBlob{}); err != nil {
		return nil, fmt.Errorf("failed to migrate kv_blobs: %w", err)
	}
	return &SQLitePersister{db: db}, nil
}

// Load reads the blob for key
func (p *SQLitePersister) Load(ctx context.Context, key string) ([]byte, error) {
	var row kvBlob
	err := p.db.WithContext(ctx).Where("blob_key = ?", key).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.Data, nil
}

// Save upserts the blob for key
func (p *SQLitePersister) Save(ctx context.Context, key string, data []byte) error {
	row := kvBlob{Key: key, Data: data, UpdatedAt: time.Now()}
	return p.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "blob_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"data", "updated_at"}),
		}).
		Create(&row).Error
}

// Close releases the database connection
func (p *SQLitePersister) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
