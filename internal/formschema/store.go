package formschema

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lojf/academy/internal/apperr"
	"github.com/lojf/academy/internal/logger"
	"github.com/lojf/academy/internal/models"
)

// Store loads schemas from the database, with an optional redis read-through cache.
type Store struct {
	db    *gorm.DB
	cache *redis.Client
	ttl   time.Duration
	log   logger.Logger
}

// NewStore builds a Store. cache may be nil.
func NewStore(db *gorm.DB, cache *redis.Client, ttl time.Duration, log logger.Logger) *Store {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Store{db: db, cache: cache, ttl: ttl, log: log}
}

func cacheKey(programID uint, planType string) string {
	return fmt.Sprintf("schema:%d:%s", programID, planType)
}

// Get returns the schema for a program and plan type, or apperr.ErrNotFound.
func (s *Store) Get(ctx context.Context, programID uint, planType string) (*Schema, error) {
	key := cacheKey(programID, planType)
	if s.cache != nil {
		raw, err := s.cache.Get(ctx, key).Bytes()
		switch {
		case err == nil:
			if sch, perr := Parse(raw); perr == nil {
				return sch, nil
			}
			s.log.Warn("discarding unreadable cached schema", map[string]interface{}{"key": key})
		case !errors.Is(err, redis.Nil):
			s.log.Warn("schema cache read failed", map[string]interface{}{"key": key, "error": err.Error()})
		}
	}

	var row models.FormSchema
	err := s.db.WithContext(ctx).
		Where("program_id = ? AND plan_type = ?", programID, planType).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("schema for program %d (%s): %w", programID, planType, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	sch, err := Parse([]byte(row.Document))
	if err != nil {
		return nil, fmt.Errorf("stored schema %d: %w", row.ID, err)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, row.Document, s.ttl).Err(); err != nil {
			s.log.Warn("schema cache write failed", map[string]interface{}{"key": key, "error": err.Error()})
		}
	}
	return sch, nil
}

// Put stores a schema, replacing any previous one for the same program and plan type.
func (s *Store) Put(ctx context.Context, programID uint, planType string, sch *Schema) error {
	sch.Normalize()
	if err := sch.Check(); err != nil {
		return err
	}
	doc, err := sch.JSON()
	if err != nil {
		return err
	}
	row := models.FormSchema{ProgramID: programID, PlanType: planType, Document: string(doc)}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "program_id"}, {Name: "plan_type"}},
		DoUpdates: clause.AssignmentColumns([]string{"document", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return err
	}
	if s.cache != nil {
		if err := s.cache.Del(ctx, cacheKey(programID, planType)).Err(); err != nil {
			s.log.Warn("schema cache invalidation failed", map[string]interface{}{"program_id": programID, "error": err.Error()})
		}
	}
	return nil
}
