package factosync

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// priceVariationThresholdPct flags a line change as an outsized swing.
var priceVariationThresholdPct = decimal.NewFromInt(20)

func subscriptionActive(status string) bool {
	return status == StatusInProgress
}

// Classify scans match results and deltas for risk conditions and emits
// severity-tagged anomalies. Rules run in fixed precedence per client; one
// item may trigger more than one anomaly. Every condition found is reported;
// nothing is dropped or auto-resolved.
func Classify(diffs []ClientDiff) []Anomaly {
	var anomalies []Anomaly

	for _, cd := range diffs {
		match := cd.Match

		if match.Level.Weak() {
			anomalies = append(anomalies, Anomaly{
				Type:     AnomalyWeakMatch,
				Severity: SeverityWarning,
				Message: fmt.Sprintf("Correspondance faible entre %q et %q (%s)",
					match.Customer.Name, match.Client.Name, match.Level),
				Details: map[string]any{
					"customer_name": match.Customer.Name,
					"client_name":   match.Client.Name,
					"level":         string(match.Level),
				},
			})
		}

		if len(cd.Diff.Disappeared) > 0 {
			details := make([]map[string]any, 0, len(cd.Diff.Disappeared))
			for _, d := range cd.Diff.Disappeared {
				details = append(details, map[string]any{
					"client_name": d.ClientName,
					"label":       d.Label,
					"status":      string(d.Status),
					"total_ht":    d.TotalHT,
				})
			}
			anomalies = append(anomalies, Anomaly{
				Type:     AnomalySubscriptionsDisappeared,
				Severity: SeverityWarning,
				Message: fmt.Sprintf("%d abonnement(s) de %q ne figurent plus chez Facto",
					len(cd.Diff.Disappeared), match.Client.Name),
				Details: map[string]any{"disappeared": details},
			})
		}

		for _, lm := range cd.Diff.LignesModified {
			if lm.DeltaPct == nil || lm.DeltaPct.Abs().LessThanOrEqual(priceVariationThresholdPct) {
				continue
			}
			anomalies = append(anomalies, Anomaly{
				Type:     AnomalyPriceVariationHigh,
				Severity: SeverityWarning,
				Message: fmt.Sprintf("Variation de prix de %s%% sur %q (%s)",
					lm.DeltaPct.StringFixed(1), lm.Label, lm.ClientName),
				Details: map[string]any{
					"client_name":    lm.ClientName,
					"label":          lm.Label,
					"old_montant_ht": lm.OldMontantHT,
					"new_montant_ht": lm.NewMontantHT,
					"delta_ht":       lm.DeltaHT,
					"delta_pct":      lm.DeltaPct,
				},
			})
		}

		if match.Client != nil && match.Client.IsActive != nil && !*match.Client.IsActive {
			var active []map[string]any
			totalHT := decimal.Zero
			for _, sub := range cd.ExternalSubs {
				if !subscriptionActive(sub.Status) {
					continue
				}
				active = append(active, map[string]any{
					"label":    sub.Label,
					"status":   sub.Status,
					"total_ht": sub.TotalHT,
				})
				totalHT = totalHT.Add(sub.TotalHT)
			}
			if len(active) > 0 {
				anomalies = append(anomalies, Anomaly{
					Type:     AnomalyInactiveWithSubs,
					Severity: SeverityError,
					Message: fmt.Sprintf("Client inactif %q avec %d abonnement(s) actif(s) chez Facto",
						match.Client.Name, len(active)),
					Details: map[string]any{
						"client_name":   match.Client.Name,
						"subscriptions": active,
						"total_ht":      totalHT.Round(2),
					},
				})
			}
		}
	}

	return anomalies
}

// SortAnomaliesForDisplay orders anomalies by severity (errors first) while
// keeping the emission order inside each severity. Display concern only; the
// stored report keeps emission order.
func SortAnomaliesForDisplay(anomalies []Anomaly) []Anomaly {
	sorted := make([]Anomaly, len(anomalies))
	copy(sorted, anomalies)
	sort.SliceStable(sorted, func(i, j int) bool {
		return severityRank(sorted[i].Severity) < severityRank(sorted[j].Severity)
	})
	return sorted
}
