package factosync

import (
	"bitbucket.org/fidunova/cabinet_backend/models"
	"bitbucket.org/fidunova/cabinet_backend/utils"
	"github.com/shopspring/decimal"
)

// Diff compares the external subscription set of one matched client against
// the locally persisted mirrors. Subscriptions are correlated by external
// subscription id; the three categories (new, correlated, disappeared)
// partition the union of external and local ids. Pure function.
func Diff(client *models.Client, externalSubs []Subscription, localSubs []models.Abonnement) DiffResult {
	result := DiffResult{}

	localById := make(map[string]*models.Abonnement, len(localSubs))
	for i := range localSubs {
		localById[localSubs[i].FactoSubscriptionId] = &localSubs[i]
	}

	seen := make(map[string]bool, len(externalSubs))
	for _, sub := range externalSubs {
		seen[sub.ID] = true
		local, ok := localById[sub.ID]
		if !ok {
			result.New = append(result.New, SubscriptionNew{
				ClientId:   client.ID,
				ClientName: client.Name,
				Sub:        sub,
			})
			continue
		}
		diffCorrelated(client, sub, local, &result)
	}

	// Present locally, absent externally: disappeared regardless of local
	// status. Local iteration order is the persisted id order.
	for i := range localSubs {
		local := &localSubs[i]
		if seen[local.FactoSubscriptionId] {
			continue
		}
		result.Disappeared = append(result.Disappeared, SubscriptionDisappeared{
			AbonnementId:        local.ID,
			FactoSubscriptionId: local.FactoSubscriptionId,
			ClientName:          client.Name,
			Label:               local.Label,
			Status:              local.Status,
			TotalHT:             local.TotalHT,
		})
	}

	return result
}

// diffCorrelated compares header fields and lines of one correlated pair.
// A status change is reported separately from other field changes.
func diffCorrelated(client *models.Client, sub Subscription, local *models.Abonnement, result *DiffResult) {
	if sub.Status != string(local.Status) {
		result.StatusChanged = append(result.StatusChanged, SubscriptionStatusChanged{
			AbonnementId: local.ID,
			ClientName:   client.Name,
			Sub:          sub,
			OldStatus:    string(local.Status),
			NewStatus:    sub.Status,
		})
	}

	changes := map[string]FieldChange{}
	if sub.Label != local.Label {
		changes["label"] = FieldChange{Old: local.Label, New: sub.Label}
	}
	if !utils.SameHT(sub.TotalHT, local.TotalHT) {
		changes["total_ht"] = FieldChange{Old: utils.RoundHT(local.TotalHT), New: utils.RoundHT(sub.TotalHT)}
	}
	if sub.Frequency != local.Frequency {
		changes["frequency"] = FieldChange{Old: local.Frequency, New: sub.Frequency}
	}
	if sub.Interval != local.IntervalCount {
		changes["interval"] = FieldChange{Old: local.IntervalCount, New: sub.Interval}
	}
	if len(changes) > 0 {
		result.Updated = append(result.Updated, SubscriptionUpdated{
			AbonnementId: local.ID,
			ClientName:   client.Name,
			Sub:          sub,
			Changes:      changes,
		})
	}

	diffLines(client, sub, local, result)
}

// diffLines correlates lines by external line id when available, else by
// normalized label. A subscription with zero lines still diffed above at the
// header level.
func diffLines(client *models.Client, sub Subscription, local *models.Abonnement, result *DiffResult) {
	matchedLocal := make(map[uint]bool, len(local.Lignes))

	findLocal := func(line Line) *models.AbonnementLigne {
		if line.ID != "" {
			for _, lg := range local.Lignes {
				if !matchedLocal[lg.ID] && lg.FactoLineId != "" && lg.FactoLineId == line.ID {
					return lg
				}
			}
		}
		label := normalizeName(line.Label)
		for _, lg := range local.Lignes {
			if !matchedLocal[lg.ID] && normalizeName(lg.Label) == label {
				return lg
			}
		}
		return nil
	}

	for _, line := range sub.Lines {
		lg := findLocal(line)
		if lg == nil {
			result.LignesNew = append(result.LignesNew, LineNew{
				AbonnementId: local.ID,
				ClientName:   client.Name,
				Line:         line,
			})
			continue
		}
		matchedLocal[lg.ID] = true

		if utils.SameHT(line.MontantHT, lg.MontantHT) {
			continue
		}
		oldHT := utils.RoundHT(lg.MontantHT)
		newHT := utils.RoundHT(line.MontantHT)
		deltaHT := newHT.Sub(oldHT)
		modified := LineModified{
			LigneId:      lg.ID,
			AbonnementId: local.ID,
			ClientName:   client.Name,
			Label:        lg.Label,
			OldMontantHT: oldHT,
			NewMontantHT: newHT,
			DeltaHT:      deltaHT,
		}
		if !oldHT.IsZero() {
			pct := deltaHT.Div(oldHT).Mul(decimal.NewFromInt(100)).Round(2)
			modified.DeltaPct = &pct
		}
		result.LignesModified = append(result.LignesModified, modified)
	}

	for _, lg := range local.Lignes {
		if matchedLocal[lg.ID] {
			continue
		}
		result.LignesRemoved = append(result.LignesRemoved, LineRemoved{
			LigneId:      lg.ID,
			AbonnementId: local.ID,
			ClientName:   client.Name,
			Label:        lg.Label,
			MontantHT:    lg.MontantHT,
		})
	}
}
