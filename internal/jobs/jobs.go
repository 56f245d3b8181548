// Package jobs records the processing jobs created for uploaded recordings
// so their progress can be checked later.
package jobs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Job is one server-side processing job tied to an uploaded recording.
type Job struct {
	ID        uint   `gorm:"primarykey"`
	JobID     string `gorm:"uniqueIndex;not null"`
	ContentID string
	ScopeID   string `gorm:"index"`
	Title     string
	CreatedAt time.Time
}

// Registry is a local sqlite-backed job ledger.
type Registry struct {
	db *gorm.DB
}

// Open creates or migrates the registry database at path.
func Open(path string) (*Registry, error) {
	if path == "" {
		return nil, fmt.Errorf("jobs database path is not configured")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create jobs database directory: %w", err)
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open jobs database: %w", err)
	}
	if err := db.AutoMigrate(&Job{}); err != nil {
		return nil, fmt.Errorf("migrate jobs database: %w", err)
	}
	return &Registry{db: db}, nil
}

// Register stores one job. Registering the same job ID twice updates the
// existing row instead of failing, so a retried upload stays a single entry.
func (r *Registry) Register(ctx context.Context, jobID, contentID, scopeID, title string) error {
	if jobID == "" {
		return fmt.Errorf("job ID is required")
	}

	job := Job{JobID: jobID, ContentID: contentID, ScopeID: scopeID, Title: title}
	err := r.db.WithContext(ctx).
		Where(Job{JobID: jobID}).
		Assign(Job{ContentID: contentID, ScopeID: scopeID, Title: title}).
		FirstOrCreate(&job).Error
	if err != nil {
		return fmt.Errorf("register job %s: %w", jobID, err)
	}
	return nil
}

// List returns all registered jobs, newest first.
func (r *Registry) List(ctx context.Context) ([]Job, error) {
	var all []Job
	err := r.db.WithContext(ctx).Order("created_at DESC, id DESC").Find(&all).Error
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return all, nil
}

// Close releases the underlying database handle.
func (r *Registry) Close() error {
	db, err := r.db.DB()
	if err != nil {
		return err
	}
	return db.Close()
}
