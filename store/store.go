// Package store persists scenic score records in a sqlite database.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/scenic-viber/viber/scenic"
)

// Record is one scored image.
type Record struct {
	ID uuid.UUID `gorm:"type:text;primaryKey" json:"id"`
	// Source is the file path or image URL that was scored.
	Source string `gorm:"index;not null" json:"source"`
	// Lat and Lon are set for images fetched by coordinate.
	Lat      *float64      `json:"lat,omitempty"`
	Lon      *float64      `json:"lon,omitempty"`
	Backbone string        `json:"backbone"`
	Task     string        `json:"task"`
	Score    float64       `json:"score"`
	Status   string        `gorm:"index" json:"status"`
	Ratios   scenic.Ratios `gorm:"serializer:json" json:"ratios"`
	// Error holds the failure message for records with status Error.
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

// BeforeCreate assigns a random id to new records.
func (r *Record) BeforeCreate(*gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

// NewRecord builds a record from a scenic report.
func NewRecord(source, backbone, task string, report *scenic.Report) *Record {
	return &Record{
		Source:   source,
		Backbone: backbone,
		Task:     task,
		Score:    report.Score,
		Status:   string(report.Status),
		Ratios:   report.Ratios,
	}
}

// WithLocation sets the coordinate of the record.
func (r *Record) WithLocation(lat, lon float64) *Record {
	r.Lat, r.Lon = &lat, &lon
	return r
}

// Store is a sqlite backed record store.
type Store struct {
	db *gorm.DB
}

// Open opens or creates the database at path and migrates the schema.
//
// Arguments:
//   - path: The sqlite file path.
//
// Returns:
//   - *Store: The store.
//   - error: An error if the database cannot be opened or migrated.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database %s", path)
	}

	if err := db.AutoMigrate(&Record{}); err != nil {
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			_ = sqlDB.Close()
		}
		return nil, errors.Wrap(err, "failed to migrate database")
	}

	return &Store{db: db}, nil
}

// Save inserts a record.
func (s *Store) Save(ctx context.Context, rec *Record) error {
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return errors.Wrapf(err, "failed to save record for %s", rec.Source)
	}
	return nil
}

// List returns the most recent records first. A limit of zero or less returns all.
func (s *Store) List(ctx context.Context, limit int) ([]Record, error) {
	var records []Record
	q := s.db.WithContext(ctx).Order("created_at desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&records).Error; err != nil {
		return nil, errors.Wrap(err, "failed to list records")
	}
	return records, nil
}

// Close closes the database.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
