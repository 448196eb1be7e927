package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/fidunova/cabinet_backend/config"
	"bitbucket.org/fidunova/cabinet_backend/utils"
	"gorm.io/gorm"
)

const (
	SyncPhasePreview = "preview"
	SyncPhaseCommit  = "commit"
)

const (
	SyncRunStatusQueued    = "queued"
	SyncRunStatusRunning   = "running"
	SyncRunStatusSuccess   = "success"
	SyncRunStatusFailed    = "failed"
	SyncRunStatusPartial   = "partial"
	SyncRunStatusAccepted  = "accepted"
	SyncRunStatusCancelled = "cancelled"
)

const (
	SyncTriggeredManual = "manual"
	SyncTriggeredRetry  = "retry"
	SyncTriggeredSystem = "system"
)

// SyncRun is one preview or commit pass. A successful preview run carries the
// aggregated report in ReportJSON; accepting it creates the commit run that
// replays the stored report cabinet by cabinet (ParentRunId points back).
type SyncRun struct {
	ID             uint       `gorm:"primary_key" json:"id"`
	Phase          string     `gorm:"size:20;index;not null" json:"phase"`
	Status         string     `gorm:"size:20;index;not null" json:"status"`
	TriggeredBy    string     `gorm:"size:20" json:"triggered_by"`
	CorrelationId  string     `gorm:"size:64;index" json:"correlation_id"`
	CabinetIdsJSON []byte     `gorm:"type:json" json:"cabinet_ids"`
	ReportJSON     []byte     `gorm:"type:json" json:"-"`
	StatsJSON      []byte     `gorm:"type:json" json:"stats"`
	RecordsSynced  int        `json:"records_synced"`
	ErrorCount     int        `json:"error_count"`
	ParentRunId    *uint      `gorm:"index" json:"parent_run_id"`
	StartedAt      *time.Time `json:"started_at"`
	FinishedAt     *time.Time `json:"finished_at"`
	DurationMs     int64      `json:"duration_ms"`
	CreatedAt      time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// SyncError is one per-record failure inside a run. Failures never abort the
// run; they accumulate here for inspection.
type SyncError struct {
	ID          uint      `gorm:"primary_key" json:"id"`
	SyncRunId   uint      `gorm:"index;not null" json:"sync_run_id"`
	CabinetId   uint      `gorm:"index" json:"cabinet_id"`
	EntityType  string    `gorm:"size:50" json:"entity_type"`
	ExternalId  string    `gorm:"size:128" json:"external_id"`
	ErrorCode   string    `gorm:"size:64" json:"error_code"`
	Message     string    `gorm:"type:text" json:"message"`
	PayloadJSON []byte    `gorm:"type:json" json:"payload"`
	Retryable   bool      `gorm:"default:false" json:"retryable"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func GetSyncRun(ctx context.Context, id uint) (*SyncRun, error) {
	var run SyncRun
	if err := config.GetDB().WithContext(ctx).Where("id = ?", id).Take(&run).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &run, nil
}

func ListSyncRuns(ctx context.Context, phase string, limit int) ([]SyncRun, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var runs []SyncRun
	db := config.GetDB().WithContext(ctx).Order("id DESC").Limit(limit)
	if phase != "" {
		db = db.Where("phase = ?", phase)
	}
	err := db.Find(&runs).Error
	return runs, err
}

func ListSyncErrors(ctx context.Context, runId uint) ([]SyncError, error) {
	var errs []SyncError
	err := config.GetDB().WithContext(ctx).
		Where("sync_run_id = ?", runId).
		Order("id").
		Find(&errs).Error
	return errs, err
}
