package jobs

import (
	"context"
	"fmt"
	"time"

	"gdp_atlas_go/models"
	"gdp_atlas_go/services"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// snapshotTimeout bounds a single scheduled export
const snapshotTimeout = 10 * time.Minute

// ExportJob publishes dataset snapshots and prunes old ones
type ExportJob struct {
	DB       *gorm.DB
	Exporter *services.DatasetExporter
	Storage  services.StorageProvider
	Logger   *zap.SugaredLogger
	// Keep is the number of snapshots retained per format; zero keeps everything
	Keep int
}

// StartExportScheduler runs job.Run on the given cron spec (e.g. "0 3 * * *").
// The returned scheduler is already started; callers stop it on shutdown.
func StartExportScheduler(spec string, job *ExportJob) (*cron.Cron, error) {
	c := cron.New(cron.WithLocation(time.UTC))

	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
		defer cancel()
		job.Run(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("invalid export schedule %q: %w", spec, err)
	}

	c.Start()
	job.Logger.Infow("export scheduler started", "schedule", spec)
	return c, nil
}

// Run publishes a CSV and an XLSX snapshot of the full dataset, then prunes old snapshots
func (j *ExportJob) Run(ctx context.Context) {
	j.Logger.Info("starting scheduled dataset export")

	for _, format := range []string{models.ExportFormatCSV, models.ExportFormatXLSX} {
		export, err := j.Exporter.Publish(ctx, format, services.EntryFilter{}, services.ExportTriggerSchedule)
		if err != nil {
			j.Logger.Errorw("scheduled export failed", "format", format, "error", err)
			continue
		}
		j.Logger.Infow("published dataset snapshot", "format", format, "key", export.StorageKey, "rows", export.RowCount)

		if err := j.Prune(ctx, format); err != nil {
			j.Logger.Warnw("failed to prune old snapshots", "format", format, "error", err)
		}
	}

	j.Logger.Info("scheduled dataset export completed")
}

// Prune deletes snapshots of format beyond the newest Keep, from storage and the export log
func (j *ExportJob) Prune(ctx context.Context, format string) error {
	if j.Keep <= 0 {
		return nil
	}

	var exports []models.DatasetExport
	err := j.DB.WithContext(ctx).
		Where("format = ?", format).
		Order("created_at DESC").
		Find(&exports).Error
	if err != nil {
		return fmt.Errorf("failed to find old snapshots: %w", err)
	}
	if len(exports) <= j.Keep {
		return nil
	}

	for _, export := range exports[j.Keep:] {
		if err := j.Storage.Delete(ctx, export.StorageKey); err != nil {
			return err
		}
		if err := j.DB.WithContext(ctx).Delete(&export).Error; err != nil {
			return fmt.Errorf("failed to delete export %s: %w", export.ID, err)
		}
		j.Logger.Infow("pruned dataset snapshot", "key", export.StorageKey)
	}
	return nil
}
