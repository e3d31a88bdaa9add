package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	apperrors "github.com/ipo-callgraph/pkg/errors"
	"github.com/ipo-callgraph/pkg/model"
)

// insertBatchSize bounds the rows per INSERT for edges and waves.
const insertBatchSize = 500

// GormBuildRepository implements BuildRepository using GORM.
type GormBuildRepository struct {
	db *gorm.DB
}

// NewGormBuildRepository creates a new GormBuildRepository.
func NewGormBuildRepository(db *gorm.DB) *GormBuildRepository {
	return &GormBuildRepository{db: db}
}

// SaveReport stores the run, its removed edges and its waves in one
// transaction.
func (r *GormBuildRepository) SaveReport(ctx context.Context, report *model.BuildReport) (int64, error) {
	run, err := NewBuildRun(report)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.CodeDatabaseError, "failed to encode report", err)
	}
	edges, waves := run.RemovedEdges, run.Waves
	run.RemovedEdges, run.Waves = nil, nil

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(run).Error; err != nil {
			return fmt.Errorf("failed to insert run: %w", err)
		}
		for i := range edges {
			edges[i].RunID = run.ID
		}
		for i := range waves {
			waves[i].RunID = run.ID
		}
		if len(edges) > 0 {
			if err := tx.CreateInBatches(edges, insertBatchSize).Error; err != nil {
				return fmt.Errorf("failed to insert removed edges: %w", err)
			}
		}
		if len(waves) > 0 {
			if err := tx.CreateInBatches(waves, insertBatchSize).Error; err != nil {
				return fmt.Errorf("failed to insert waves: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, apperrors.Wrap(apperrors.CodeDatabaseError, "failed to save report", err)
	}

	report.ID = run.ID
	return run.ID, nil
}

// UpdateStatus updates the status of a run.
func (r *GormBuildRepository) UpdateStatus(ctx context.Context, id int64, status model.BuildStatus, info string) error {
	result := r.db.WithContext(ctx).
		Model(&BuildRun{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":      status,
			"status_info": info,
		})

	if result.Error != nil {
		return apperrors.Wrap(apperrors.CodeDatabaseError, "failed to update status", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperrors.Newf(apperrors.CodeNotFound, "run not found: %d", id)
	}

	return nil
}

// GetReport retrieves a run by its ID.
func (r *GormBuildRepository) GetReport(ctx context.Context, id int64) (*model.BuildReport, error) {
	return r.first(ctx, fmt.Sprintf("run not found: %d", id), func(db *gorm.DB) *gorm.DB {
		return db.Where("id = ?", id)
	})
}

// LatestReport retrieves the newest run of name.
func (r *GormBuildRepository) LatestReport(ctx context.Context, name string) (*model.BuildReport, error) {
	return r.first(ctx, fmt.Sprintf("no runs named %s", name), func(db *gorm.DB) *gorm.DB {
		return db.Where("name = ?", name).Order("id DESC")
	})
}

func (r *GormBuildRepository) first(ctx context.Context, notFound string, scope func(*gorm.DB) *gorm.DB) (*model.BuildReport, error) {
	var run BuildRun

	err := scope(r.db.WithContext(ctx)).
		Preload("RemovedEdges", func(db *gorm.DB) *gorm.DB { return db.Order("seq") }).
		Preload("Waves", func(db *gorm.DB) *gorm.DB { return db.Order("wave, seq") }).
		First(&run).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.New(apperrors.CodeNotFound, notFound)
		}
		return nil, apperrors.Wrap(apperrors.CodeDatabaseError, "failed to get run", err)
	}

	report, err := run.ToModel()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeDatabaseError, "failed to decode run", err)
	}
	return report, nil
}
