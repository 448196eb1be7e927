package factosync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/fidunova/cabinet_backend/config"
	"bitbucket.org/fidunova/cabinet_backend/models"
	"bitbucket.org/fidunova/cabinet_backend/utils"
	"gorm.io/gorm"
)

// CommitReport replays an accepted preview, one cabinet at a time, writing
// creates and updates to the local store and the price-history ledger.
//
// Replay is best-effort and non-transactional: a cabinet that fails partway
// is not rolled back further than the store's native write atomicity, which
// is why every step checks existence by external id before inserting —
// re-applying the same report must not double-create anything. A failed
// cabinet never aborts the remaining ones; the engine always returns a
// result, never an error.
func CommitReport(ctx context.Context, report *PreviewReport, progress ProgressFunc) *CommitResult {
	result := &CommitResult{}

	for i := range report.PerCabinet {
		rep := &report.PerCabinet[i]
		outcome := CabinetCommitOutcome{
			CabinetId:   rep.CabinetId,
			CabinetName: rep.CabinetName,
			Status:      CabinetCommitPending,
		}
		notify(progress, fmt.Sprintf("Application des modifications pour le cabinet %s", rep.CabinetName))

		outcome.Status = CabinetCommitWriting
		counters, err := commitCabinet(ctx, rep)
		outcome.Counters = counters
		if err != nil {
			outcome.Status = CabinetCommitFailed
			outcome.Error = err.Error()
			result.Errors = append(result.Errors, CommitError{
				CabinetId:   rep.CabinetId,
				CabinetName: rep.CabinetName,
				Message:     err.Error(),
			})
		} else {
			outcome.Status = CabinetCommitDone
		}

		result.CommitCounters.add(counters)
		result.UnmatchedCustomers = append(result.UnmatchedCustomers, rep.ClientsNew...)
		result.NoSubscriptionCustomers = append(result.NoSubscriptionCustomers, rep.ClientsNoSubscription...)
		result.PerCabinet = append(result.PerCabinet, outcome)
	}

	return result
}

// commitCabinet applies one cabinet's report in sequence. The first write
// error stops this cabinet; everything already written stays written.
func commitCabinet(ctx context.Context, rep *CabinetReport) (CommitCounters, error) {
	db := config.GetDB().WithContext(ctx)
	counters := CommitCounters{
		CustomersMatched:    len(rep.Matches),
		CustomersNotMatched: len(rep.ClientsNew),
	}

	// 1. Create mirrors for new subscriptions.
	for _, sn := range rep.AbonnementsNew {
		created, err := createAbonnement(db, sn)
		if err != nil {
			return counters, fmt.Errorf("create abonnement %s: %w", sn.Sub.ID, err)
		}
		if created {
			counters.AbonnementsCreated++
			counters.LignesCreated += len(sn.Sub.Lines)
		}
	}

	// 2. Apply header updates and status changes.
	for _, su := range rep.AbonnementsUpdated {
		if err := applyHeaderUpdate(db, su); err != nil {
			return counters, fmt.Errorf("update abonnement %s: %w", su.Sub.ID, err)
		}
		counters.AbonnementsUpdated++
	}
	for _, sc := range rep.StatusChanges {
		err := db.Model(&models.Abonnement{}).
			Where("facto_subscription_id = ?", sc.Sub.ID).
			Update("status", models.AbonnementStatus(sc.NewStatus)).Error
		if err != nil {
			return counters, fmt.Errorf("update status of abonnement %s: %w", sc.Sub.ID, err)
		}
	}

	// 3. Price-history rows, then the live line values.
	for _, lm := range rep.LignesModified {
		wrote, err := applyLineModification(db, lm)
		if err != nil {
			return counters, fmt.Errorf("update ligne %d: %w", lm.LigneId, err)
		}
		if wrote {
			counters.HistoriquePrixCreated++
		}
	}

	// 4. New and removed lines.
	for _, ln := range rep.LignesNew {
		created, err := createLigne(db, ln)
		if err != nil {
			return counters, fmt.Errorf("create ligne on abonnement %d: %w", ln.AbonnementId, err)
		}
		if created {
			counters.LignesCreated++
		}
	}
	for _, lr := range rep.LignesRemoved {
		res := db.Where("id = ?", lr.LigneId).Delete(&models.AbonnementLigne{})
		if res.Error != nil {
			return counters, fmt.Errorf("remove ligne %d: %w", lr.LigneId, res.Error)
		}
		if res.RowsAffected > 0 {
			counters.LignesRemoved++
		}
	}

	// 5. Persist confirmed linkage and cabinet reassignment on the client.
	for _, m := range rep.Matches {
		if m.Client == nil {
			continue
		}
		needsLink := m.Client.FactoCustomerId == ""
		var newCabinet uint
		if m.CabinetChange != nil {
			newCabinet = m.CabinetChange.ToCabinetId
		}
		if !needsLink && newCabinet == 0 {
			continue
		}
		if err := models.LinkFactoCustomer(ctx, m.Client.ID, m.Customer.ID, string(m.Level), newCabinet); err != nil {
			return counters, fmt.Errorf("link client %d: %w", m.Client.ID, err)
		}
	}

	return counters, nil
}

// createAbonnement inserts a mirror unless one already exists for the
// external id. Returns whether a row was actually created.
func createAbonnement(db *gorm.DB, sn SubscriptionNew) (bool, error) {
	var existing models.Abonnement
	err := db.Where("facto_subscription_id = ?", sn.Sub.ID).Take(&existing).Error
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, err
	}

	abonnement := models.Abonnement{
		ClientId:            sn.ClientId,
		FactoSubscriptionId: sn.Sub.ID,
		Label:               sn.Sub.Label,
		Status:              models.AbonnementStatus(sn.Sub.Status),
		Frequency:           sn.Sub.Frequency,
		IntervalCount:       sn.Sub.Interval,
		TotalHT:             sn.Sub.TotalHT,
	}
	for _, line := range sn.Sub.Lines {
		abonnement.Lignes = append(abonnement.Lignes, &models.AbonnementLigne{
			FactoLineId: line.ID,
			Label:       line.Label,
			Quantity:    line.Quantity,
			MontantHT:   line.MontantHT,
		})
	}
	return true, db.Create(&abonnement).Error
}

func applyHeaderUpdate(db *gorm.DB, su SubscriptionUpdated) error {
	return db.Model(&models.Abonnement{}).
		Where("facto_subscription_id = ?", su.Sub.ID).
		Updates(map[string]interface{}{
			"label":          su.Sub.Label,
			"frequency":      su.Sub.Frequency,
			"interval_count": su.Sub.Interval,
			"total_ht":       su.Sub.TotalHT,
		}).Error
}

// applyLineModification appends one price-history row, then updates the live
// value. When the live value already equals the target the delta was applied
// before; skipping keeps the ledger free of duplicate rows on retry.
func applyLineModification(db *gorm.DB, lm LineModified) (bool, error) {
	var ligne models.AbonnementLigne
	if err := db.Where("id = ?", lm.LigneId).Take(&ligne).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}
	if utils.SameHT(ligne.MontantHT, lm.NewMontantHT) {
		return false, nil
	}

	history := models.PrixHistorique{
		LigneId:      ligne.ID,
		OldMontantHT: utils.RoundHT(ligne.MontantHT),
		NewMontantHT: lm.NewMontantHT,
		ChangedAt:    time.Now(),
	}
	if err := db.Create(&history).Error; err != nil {
		return false, err
	}
	if err := db.Model(&models.AbonnementLigne{}).
		Where("id = ?", ligne.ID).
		Update("montant_ht", lm.NewMontantHT).Error; err != nil {
		return false, err
	}
	return true, nil
}

// createLigne inserts a line unless one with the same external id (or, when
// ids are absent, the same normalized label) already exists on the
// abonnement.
func createLigne(db *gorm.DB, ln LineNew) (bool, error) {
	var existing []models.AbonnementLigne
	if err := db.Where("abonnement_id = ?", ln.AbonnementId).Find(&existing).Error; err != nil {
		return false, err
	}
	for _, lg := range existing {
		if ln.Line.ID != "" && lg.FactoLineId == ln.Line.ID {
			return false, nil
		}
		if ln.Line.ID == "" && normalizeName(lg.Label) == normalizeName(ln.Line.Label) {
			return false, nil
		}
	}

	ligne := models.AbonnementLigne{
		AbonnementId: ln.AbonnementId,
		FactoLineId:  ln.Line.ID,
		Label:        ln.Line.Label,
		Quantity:     ln.Line.Quantity,
		MontantHT:    ln.Line.MontantHT,
	}
	return true, db.Create(&ligne).Error
}
