package factosync

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"bitbucket.org/fidunova/cabinet_backend/config"
	"bitbucket.org/fidunova/cabinet_backend/models"
	"bitbucket.org/fidunova/cabinet_backend/utils"
	"github.com/bsm/redislock"
	"github.com/gin-gonic/gin"
)

const runLockKey = "facto-sync:run-lock"

func reportCacheKey(runId uint) string {
	return fmt.Sprintf("facto-sync:report:%d", runId)
}

type TriggerPreviewRequest struct {
	CabinetIds []uint `json:"cabinet_ids"`
}

type SyncRunResponse struct {
	ID            uint    `json:"id"`
	Phase         string  `json:"phase"`
	Status        string  `json:"status"`
	TriggeredBy   string  `json:"triggered_by"`
	ParentRunId   *uint   `json:"parent_run_id,omitempty"`
	StartedAt     *string `json:"started_at"`
	FinishedAt    *string `json:"finished_at"`
	DurationMs    int64   `json:"duration_ms"`
	RecordsSynced int     `json:"records_synced"`
	ErrorCount    int     `json:"error_count"`
}

type SyncErrorResponse struct {
	ID         uint   `json:"id"`
	CabinetId  uint   `json:"cabinet_id"`
	EntityType string `json:"entity_type"`
	ExternalId string `json:"external_id"`
	ErrorCode  string `json:"error_code"`
	Message    string `json:"message"`
	Retryable  bool   `json:"retryable"`
}

type SyncHistoryResponse struct {
	Items []SyncRunResponse `json:"items"`
}

type SyncRunDetailResponse struct {
	SyncRunResponse
	Errors []SyncErrorResponse `json:"errors"`
}

type PreviewReportResponse struct {
	Run    SyncRunResponse `json:"run"`
	Report *PreviewReport  `json:"report"`
}

// TriggerPreviewHandler queues a preview run. A short redis lock guards the
// creation step so two concurrent triggers cannot both pass the
// active-run check.
func TriggerPreviewHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req TriggerPreviewRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
				return
			}
		}

		ctx := c.Request.Context()
		if locker := config.GetRedisLock(); locker != nil {
			lock, err := locker.Obtain(ctx, runLockKey, 10*time.Second, nil)
			if err != nil {
				if errors.Is(err, redislock.ErrNotObtained) {
					c.JSON(http.StatusConflict, gin.H{"error": "une synchronisation est déjà en cours"})
					return
				}
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			defer lock.Release(ctx)
		}

		db := config.GetDB().WithContext(ctx)
		var active int64
		if err := db.Model(&models.SyncRun{}).
			Where("status IN ?", []string{models.SyncRunStatusQueued, models.SyncRunStatusRunning}).
			Count(&active).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if active > 0 {
			c.JSON(http.StatusConflict, gin.H{"error": "une synchronisation est déjà en cours"})
			return
		}

		correlationId, _ := utils.GetCorrelationIdFromContext(ctx)
		run := models.SyncRun{
			Phase:          models.SyncPhasePreview,
			Status:         models.SyncRunStatusQueued,
			TriggeredBy:    models.SyncTriggeredManual,
			CorrelationId:  correlationId,
			CabinetIdsJSON: EncodeCabinetIds(req.CabinetIds),
		}
		if err := db.Create(&run).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		if err := PublishSyncRun(ctx, run.ID, models.SyncPhasePreview); err != nil {
			config.LogError(config.GetLogger(), "factosync", "TriggerPreviewHandler", "", run.ID, err)
		}

		c.JSON(http.StatusOK, gin.H{"id": run.ID})
	}
}

// PreviewReportHandler returns the stored report of a finished preview run,
// with anomalies ordered by severity for display. Responses are cached in
// redis briefly; accept and cancel invalidate the cache.
func PreviewReportHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		run, ok := loadRun(c)
		if !ok {
			return
		}
		if run.Phase != models.SyncPhasePreview {
			c.JSON(http.StatusBadRequest, gin.H{"error": "not a preview run"})
			return
		}
		if len(run.ReportJSON) == 0 {
			c.JSON(http.StatusConflict, gin.H{"error": "report not available", "status": run.Status})
			return
		}

		var cached PreviewReportResponse
		if found, err := config.GetRedisObject(reportCacheKey(run.ID), &cached); err == nil && found {
			c.JSON(http.StatusOK, cached)
			return
		}

		report, err := DecodePreviewReport(run.ReportJSON)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		report.Anomalies = SortAnomaliesForDisplay(report.Anomalies)

		resp := PreviewReportResponse{Run: mapRunToResponse(*run), Report: report}
		_ = config.SetRedisObject(reportCacheKey(run.ID), resp, 10*time.Minute)
		c.JSON(http.StatusOK, resp)
	}
}

// AcceptPreviewHandler marks a finished preview as accepted and queues the
// commit run that will replay its stored report.
func AcceptPreviewHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		run, ok := loadRun(c)
		if !ok {
			return
		}
		if run.Phase != models.SyncPhasePreview {
			c.JSON(http.StatusBadRequest, gin.H{"error": "not a preview run"})
			return
		}
		if run.Status != models.SyncRunStatusSuccess && run.Status != models.SyncRunStatusPartial {
			c.JSON(http.StatusConflict, gin.H{"error": "preview is not acceptable", "status": run.Status})
			return
		}
		if len(run.ReportJSON) == 0 {
			c.JSON(http.StatusConflict, gin.H{"error": "report not available"})
			return
		}

		ctx := c.Request.Context()
		db := config.GetDB().WithContext(ctx)
		if err := db.Model(run).Update("status", models.SyncRunStatusAccepted).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		_ = config.RemoveRedisKey(reportCacheKey(run.ID))

		correlationId, _ := utils.GetCorrelationIdFromContext(ctx)
		commitRun := models.SyncRun{
			Phase:          models.SyncPhaseCommit,
			Status:         models.SyncRunStatusQueued,
			TriggeredBy:    models.SyncTriggeredManual,
			CorrelationId:  correlationId,
			CabinetIdsJSON: run.CabinetIdsJSON,
			ParentRunId:    &run.ID,
		}
		if err := db.Create(&commitRun).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		if err := PublishSyncRun(ctx, commitRun.ID, models.SyncPhaseCommit); err != nil {
			config.LogError(config.GetLogger(), "factosync", "AcceptPreviewHandler", "", commitRun.ID, err)
		}

		c.JSON(http.StatusOK, gin.H{"id": commitRun.ID})
	}
}

// CancelPreviewHandler discards a finished preview. The stored report is
// cleared so a cancelled run can never be accepted later.
func CancelPreviewHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		run, ok := loadRun(c)
		if !ok {
			return
		}
		if run.Phase != models.SyncPhasePreview {
			c.JSON(http.StatusBadRequest, gin.H{"error": "not a preview run"})
			return
		}
		if run.Status == models.SyncRunStatusAccepted {
			c.JSON(http.StatusConflict, gin.H{"error": "preview already accepted"})
			return
		}

		db := config.GetDB().WithContext(c.Request.Context())
		if err := db.Model(run).Updates(map[string]interface{}{
			"status":      models.SyncRunStatusCancelled,
			"report_json": nil,
		}).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		_ = config.RemoveRedisKey(reportCacheKey(run.ID))
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

func SyncHistoryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := 20
		if v := strings.TrimSpace(c.Query("limit")); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
				limit = n
			}
		}
		phase := strings.TrimSpace(c.Query("phase"))

		runs, err := models.ListSyncRuns(c.Request.Context(), phase, limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		items := make([]SyncRunResponse, 0, len(runs))
		for _, run := range runs {
			items = append(items, mapRunToResponse(run))
		}
		c.JSON(http.StatusOK, SyncHistoryResponse{Items: items})
	}
}

func SyncRunDetailHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		run, ok := loadRun(c)
		if !ok {
			return
		}

		errs, err := models.ListSyncErrors(c.Request.Context(), run.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, SyncRunDetailResponse{
			SyncRunResponse: mapRunToResponse(*run),
			Errors:          mapErrors(errs),
		})
	}
}

// RetrySyncRunHandler queues a fresh preview over the same cabinet set as a
// previous run. Commit runs are never retried directly; re-preview first.
func RetrySyncRunHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		run, ok := loadRun(c)
		if !ok {
			return
		}
		if run.Phase != models.SyncPhasePreview {
			c.JSON(http.StatusBadRequest, gin.H{"error": "only preview runs can be retried"})
			return
		}

		ctx := c.Request.Context()
		correlationId, _ := utils.GetCorrelationIdFromContext(ctx)
		newRun := models.SyncRun{
			Phase:          models.SyncPhasePreview,
			Status:         models.SyncRunStatusQueued,
			TriggeredBy:    models.SyncTriggeredRetry,
			CorrelationId:  correlationId,
			CabinetIdsJSON: run.CabinetIdsJSON,
			ParentRunId:    &run.ID,
		}
		if err := config.GetDB().WithContext(ctx).Create(&newRun).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		if err := PublishSyncRun(ctx, newRun.ID, models.SyncPhasePreview); err != nil {
			config.LogError(config.GetLogger(), "factosync", "RetrySyncRunHandler", "", newRun.ID, err)
		}

		c.JSON(http.StatusOK, gin.H{"id": newRun.ID})
	}
}

func loadRun(c *gin.Context) (*models.SyncRun, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
		return nil, false
	}
	run, err := models.GetSyncRun(c.Request.Context(), uint(id))
	if err != nil {
		if errors.Is(err, utils.ErrorRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return nil, false
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return nil, false
	}
	return run, true
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}

func mapRunToResponse(run models.SyncRun) SyncRunResponse {
	return SyncRunResponse{
		ID:            run.ID,
		Phase:         run.Phase,
		Status:        run.Status,
		TriggeredBy:   run.TriggeredBy,
		ParentRunId:   run.ParentRunId,
		StartedAt:     formatTime(run.StartedAt),
		FinishedAt:    formatTime(run.FinishedAt),
		DurationMs:    run.DurationMs,
		RecordsSynced: run.RecordsSynced,
		ErrorCount:    run.ErrorCount,
	}
}

func mapErrors(errorsList []models.SyncError) []SyncErrorResponse {
	out := make([]SyncErrorResponse, 0, len(errorsList))
	for _, errItem := range errorsList {
		out = append(out, SyncErrorResponse{
			ID:         errItem.ID,
			CabinetId:  errItem.CabinetId,
			EntityType: errItem.EntityType,
			ExternalId: errItem.ExternalId,
			ErrorCode:  errItem.ErrorCode,
			Message:    errItem.Message,
			Retryable:  errItem.Retryable,
		})
	}
	return out
}
