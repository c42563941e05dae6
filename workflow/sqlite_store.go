package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// instanceRecord is the relational row backing one persisted instance.
// The full state lives in the serialized State column; the indexed
// columns exist for operational queries.
type instanceRecord struct {
	ID         string `gorm:"primaryKey;size:64"`
	TemplateID string `gorm:"size:128;index"`
	Status     string `gorm:"size:32;index"`
	State      []byte
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (instanceRecord) TableName() string {
	return "workflow_instances"
}

// SQLiteStateStore persists instances in a SQLite database. Each Save
// is a single-row upsert inside an implicit transaction, so a crash
// never leaves a half-written record.
type SQLiteStateStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

var _ StateStore = (*SQLiteStateStore)(nil)

// NewSQLiteStateStore opens (creating if needed) the database at path
// and migrates the schema.
func NewSQLiteStateStore(path string, logger *zap.Logger) (*SQLiteStateStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to open workflow database: %w", err)
	}
	if err := db.AutoMigrate(&instanceRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate workflow schema: %w", err)
	}

	return &SQLiteStateStore{
		db:     db,
		logger: logger.With(zap.String("component", "workflow_sqlite")),
	}, nil
}

// Save upserts the full instance state.
func (s *SQLiteStateStore) Save(ctx context.Context, instance *Instance) error {
	state, err := json.Marshal(instance)
	if err != nil {
		return fmt.Errorf("failed to encode workflow instance: %w", err)
	}

	record := instanceRecord{
		ID:         instance.ID,
		TemplateID: instance.TemplateID,
		Status:     string(instance.Status()),
		State:      state,
		CreatedAt:  instance.CreatedAt,
		UpdatedAt:  instance.UpdatedAt,
	}

	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"template_id", "status", "state", "updated_at"}),
		}).
		Create(&record).Error
	if err != nil {
		return fmt.Errorf("failed to save workflow instance: %w", err)
	}
	return nil
}

// Load returns the instance, or ErrInstanceNotFound.
func (s *SQLiteStateStore) Load(ctx context.Context, id string) (*Instance, error) {
	var record instanceRecord
	err := s.db.WithContext(ctx).First(&record, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInstanceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow instance: %w", err)
	}

	var instance Instance
	if err := json.Unmarshal(record.State, &instance); err != nil {
		return nil, fmt.Errorf("failed to decode workflow instance %s: %w", id, err)
	}
	return &instance, nil
}

// List returns ids of all persisted instances.
func (s *SQLiteStateStore) List(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).
		Model(&instanceRecord{}).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list workflow instances: %w", err)
	}
	return ids, nil
}

// Delete removes an instance record.
func (s *SQLiteStateStore) Delete(ctx context.Context, id string) error {
	err := s.db.WithContext(ctx).Delete(&instanceRecord{}, "id = ?", id).Error
	if err != nil {
		return fmt.Errorf("failed to delete workflow instance: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *SQLiteStateStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
