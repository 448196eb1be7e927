package factosync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/fidunova/cabinet_backend/config"
	"bitbucket.org/fidunova/cabinet_backend/models"
)

// ProcessRun executes one queued run. Invoked from the pubsub push endpoint
// or inline when FACTO_SYNC_INLINE is set.
func ProcessRun(ctx context.Context, payload RunPayload) error {
	if payload.RunId == 0 {
		return errors.New("invalid payload")
	}
	switch payload.Phase {
	case models.SyncPhasePreview:
		return processPreviewRun(ctx, payload.RunId)
	case models.SyncPhaseCommit:
		return processCommitRun(ctx, payload.RunId)
	default:
		return fmt.Errorf("unknown run phase %q", payload.Phase)
	}
}

// processPreviewRun generates per-cabinet preview reports sequentially and
// stores the aggregated report on the run. Preview never writes to the
// billing tables; only the run bookkeeping rows are touched. A cabinet whose
// fetch fails is recorded and skipped; the remaining cabinets still run.
func processPreviewRun(ctx context.Context, runId uint) error {
	db := config.GetDB().WithContext(ctx)
	logger := config.GetLogger()

	run, err := models.GetSyncRun(ctx, runId)
	if err != nil {
		return err
	}
	if run.Phase != models.SyncPhasePreview {
		return fmt.Errorf("run %d is not a preview run", runId)
	}
	if run.Status != models.SyncRunStatusQueued && run.Status != models.SyncRunStatusRunning {
		// Already processed (pubsub redelivery).
		config.LogWarn(logger, "factosync", "processPreviewRun", run.Status, "run already processed, skipping")
		return nil
	}

	startedAt := time.Now()
	if err := db.Model(run).Updates(map[string]interface{}{
		"status":     models.SyncRunStatusRunning,
		"started_at": startedAt,
	}).Error; err != nil {
		return err
	}

	cabinets, err := resolveCabinets(ctx, run)
	if err != nil {
		return finishRun(ctx, run, models.SyncRunStatusFailed, startedAt, nil, 0, 1)
	}

	allClients, err := models.ListAllClients(ctx)
	if err != nil {
		return finishRun(ctx, run, models.SyncRunStatusFailed, startedAt, nil, 0, 1)
	}

	progress := LoggerProgress(logger, run.ID)
	var reports []CabinetReport
	errorCount := 0

	for _, cabinet := range cabinets {
		notify(progress, fmt.Sprintf("Analyse du cabinet %s", cabinet.Name))
		report, err := previewCabinet(ctx, cabinet, allClients)
		if err != nil {
			errorCount++
			config.LogError(logger, "factosync", "processPreviewRun", cabinet.Name, nil, err)
			_ = createSyncError(ctx, run.ID, cabinet.ID, "cabinet", "", "fetch_failed", err.Error(), nil, true)
			continue
		}
		reports = append(reports, report)
		notify(progress, fmt.Sprintf("Cabinet %s : %d clients rapprochés, %d anomalies",
			cabinet.Name, report.Summary.ClientsMatched, len(report.Anomalies)))
	}

	merged := MergeReports(reports)

	status := models.SyncRunStatusSuccess
	if errorCount > 0 && len(reports) == 0 {
		status = models.SyncRunStatusFailed
	} else if errorCount > 0 {
		status = models.SyncRunStatusPartial
	}

	statsJSON, _ := json.Marshal(merged.Summary)
	finishedAt := time.Now()
	return db.Model(run).Updates(map[string]interface{}{
		"status":         status,
		"report_json":    EncodePreviewReport(merged),
		"stats_json":     statsJSON,
		"records_synced": merged.Summary.ClientsMatched,
		"error_count":    errorCount,
		"finished_at":    finishedAt,
		"duration_ms":    finishedAt.Sub(startedAt).Milliseconds(),
	}).Error
}

// previewCabinet runs the full in-memory pipeline for one cabinet: fetch,
// match, diff, classify, build. Fails fast on any fetch error, leaving the
// multi-cabinet loop to decide whether to continue.
func previewCabinet(ctx context.Context, cabinet models.Cabinet, allClients []models.Client) (CabinetReport, error) {
	client, err := newFactoClient(cabinet.FactoAPIKey)
	if err != nil {
		return CabinetReport{}, err
	}

	records, err := client.fetchCustomers(ctx)
	if err != nil {
		return CabinetReport{}, err
	}

	outcome := Match(cabinet.ID, records, allClients)

	subsByCustomer := make(map[string][]Subscription, len(records))
	for _, rec := range records {
		subsByCustomer[rec.Customer.ID] = rec.Subscriptions
	}

	var diffs []ClientDiff
	for _, match := range outcome.Matches {
		localSubs, err := models.ListAbonnementsByClient(ctx, match.Client.ID)
		if err != nil {
			return CabinetReport{}, err
		}
		externalSubs := subsByCustomer[match.Customer.ID]
		diffs = append(diffs, ClientDiff{
			Match:        match,
			ExternalSubs: externalSubs,
			Diff:         Diff(match.Client, externalSubs, localSubs),
		})
	}

	return BuildCabinetReport(cabinet, outcome, diffs), nil
}

// processCommitRun replays the accepted preview report stored on the parent
// run. Per-cabinet failures are isolated in the commit result; the run
// itself only fails when every cabinet fails.
func processCommitRun(ctx context.Context, runId uint) error {
	db := config.GetDB().WithContext(ctx)
	logger := config.GetLogger()

	run, err := models.GetSyncRun(ctx, runId)
	if err != nil {
		return err
	}
	if run.Phase != models.SyncPhaseCommit {
		return fmt.Errorf("run %d is not a commit run", runId)
	}
	if run.Status != models.SyncRunStatusQueued && run.Status != models.SyncRunStatusRunning {
		return nil
	}
	if run.ParentRunId == nil {
		return fmt.Errorf("commit run %d has no parent preview run", runId)
	}

	parent, err := models.GetSyncRun(ctx, *run.ParentRunId)
	if err != nil {
		return err
	}
	report, err := DecodePreviewReport(parent.ReportJSON)
	if err != nil {
		return fmt.Errorf("decode preview report of run %d: %w", parent.ID, err)
	}

	startedAt := time.Now()
	if err := db.Model(run).Updates(map[string]interface{}{
		"status":     models.SyncRunStatusRunning,
		"started_at": startedAt,
	}).Error; err != nil {
		return err
	}

	result := CommitReport(ctx, report, LoggerProgress(logger, run.ID))

	for _, commitErr := range result.Errors {
		_ = createSyncError(ctx, run.ID, commitErr.CabinetId, "cabinet", "", "commit_failed", commitErr.Message, nil, true)
	}

	status := models.SyncRunStatusSuccess
	if len(result.Errors) > 0 {
		status = models.SyncRunStatusPartial
		failedAll := true
		for _, outcome := range result.PerCabinet {
			if outcome.Status == CabinetCommitDone {
				failedAll = false
				break
			}
		}
		if failedAll {
			status = models.SyncRunStatusFailed
		}
	}

	statsJSON, _ := json.Marshal(result)
	finishedAt := time.Now()
	return db.Model(run).Updates(map[string]interface{}{
		"status":         status,
		"stats_json":     statsJSON,
		"records_synced": result.AbonnementsCreated + result.AbonnementsUpdated + result.LignesCreated,
		"error_count":    len(result.Errors),
		"finished_at":    finishedAt,
		"duration_ms":    finishedAt.Sub(startedAt).Milliseconds(),
	}).Error
}

func resolveCabinets(ctx context.Context, run *models.SyncRun) ([]models.Cabinet, error) {
	ids := DecodeCabinetIds(run.CabinetIdsJSON)
	if len(ids) == 0 {
		return models.ListActiveCabinets(ctx)
	}
	return models.ListCabinetsByIds(ctx, ids)
}

func finishRun(ctx context.Context, run *models.SyncRun, status string, startedAt time.Time, stats []byte, records, errCount int) error {
	finishedAt := time.Now()
	updates := map[string]interface{}{
		"status":         status,
		"records_synced": records,
		"error_count":    errCount,
		"finished_at":    finishedAt,
		"duration_ms":    finishedAt.Sub(startedAt).Milliseconds(),
	}
	if stats != nil {
		updates["stats_json"] = stats
	}
	return config.GetDB().WithContext(ctx).Model(run).Updates(updates).Error
}

func createSyncError(ctx context.Context, runId uint, cabinetId uint, entityType, externalId, code, message string, payload []byte, retryable bool) error {
	errRec := models.SyncError{
		SyncRunId:   runId,
		CabinetId:   cabinetId,
		EntityType:  entityType,
		ExternalId:  externalId,
		ErrorCode:   code,
		Message:     message,
		PayloadJSON: payload,
		Retryable:   retryable,
	}
	return config.GetDB().WithContext(ctx).Create(&errRec).Error
}
