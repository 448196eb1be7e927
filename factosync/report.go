package factosync

import (
	"bitbucket.org/fidunova/cabinet_backend/models"
	"github.com/shopspring/decimal"
)

// BuildCabinetReport assembles matcher, differ and classifier output into
// one immutable preview report for a cabinet. List order follows the order
// in which clients were matched and, within a client, the source iteration
// order of external subscriptions.
func BuildCabinetReport(cabinet models.Cabinet, outcome MatchOutcome, diffs []ClientDiff) CabinetReport {
	report := CabinetReport{
		CabinetId:             cabinet.ID,
		CabinetName:           cabinet.Name,
		Matches:               outcome.Matches,
		ClientsNew:            outcome.ClientsNew,
		ClientsMissing:        outcome.ClientsMissing,
		ClientsNoSubscription: outcome.ClientsNoSubscription,
	}

	for _, cd := range diffs {
		report.AbonnementsNew = append(report.AbonnementsNew, cd.Diff.New...)
		report.AbonnementsUpdated = append(report.AbonnementsUpdated, cd.Diff.Updated...)
		report.Disappeared = append(report.Disappeared, cd.Diff.Disappeared...)
		report.StatusChanges = append(report.StatusChanges, cd.Diff.StatusChanged...)
		report.LignesModified = append(report.LignesModified, cd.Diff.LignesModified...)
		report.LignesNew = append(report.LignesNew, cd.Diff.LignesNew...)
		report.LignesRemoved = append(report.LignesRemoved, cd.Diff.LignesRemoved...)
	}

	report.Anomalies = Classify(diffs)
	report.Summary = buildSummary(&report)
	return report
}

func buildSummary(report *CabinetReport) Summary {
	summary := Summary{
		ClientsMatched:         len(report.Matches),
		ClientsNew:             len(report.ClientsNew),
		ClientsMissing:         len(report.ClientsMissing),
		ClientsNoSubscription:  len(report.ClientsNoSubscription),
		AbonnementsNew:         len(report.AbonnementsNew),
		AbonnementsUpdated:     len(report.AbonnementsUpdated),
		AbonnementsDisappeared: len(report.Disappeared),
		StatusChanges:          len(report.StatusChanges),
		LignesModified:         len(report.LignesModified),
		LignesNew:              len(report.LignesNew),
		LignesRemoved:          len(report.LignesRemoved),
		BySeverity:             map[Severity]int{},
	}

	for _, a := range report.Anomalies {
		summary.BySeverity[a.Severity]++
	}

	total := decimal.Zero
	for _, lm := range report.LignesModified {
		total = total.Add(lm.DeltaHT)
	}
	summary.TotalDeltaHT = total.Round(2)

	return summary
}

// MergeReports merges per-cabinet reports into a single UI-facing report:
// every list field is concatenated in cabinet processing order and every
// summary count summed. The originals are retained under PerCabinet so
// commit can replay cabinet by cabinet; merging is reversible.
func MergeReports(reports []CabinetReport) *PreviewReport {
	merged := PreviewReport{
		PerCabinet: reports,
	}
	merged.Summary.BySeverity = map[Severity]int{}
	merged.Summary.TotalDeltaHT = decimal.Zero

	for _, r := range reports {
		merged.Matches = append(merged.Matches, r.Matches...)
		merged.ClientsNew = append(merged.ClientsNew, r.ClientsNew...)
		merged.ClientsMissing = append(merged.ClientsMissing, r.ClientsMissing...)
		merged.ClientsNoSubscription = append(merged.ClientsNoSubscription, r.ClientsNoSubscription...)
		merged.AbonnementsNew = append(merged.AbonnementsNew, r.AbonnementsNew...)
		merged.AbonnementsUpdated = append(merged.AbonnementsUpdated, r.AbonnementsUpdated...)
		merged.Disappeared = append(merged.Disappeared, r.Disappeared...)
		merged.StatusChanges = append(merged.StatusChanges, r.StatusChanges...)
		merged.LignesModified = append(merged.LignesModified, r.LignesModified...)
		merged.LignesNew = append(merged.LignesNew, r.LignesNew...)
		merged.LignesRemoved = append(merged.LignesRemoved, r.LignesRemoved...)
		merged.Anomalies = append(merged.Anomalies, r.Anomalies...)

		merged.Summary.ClientsMatched += r.Summary.ClientsMatched
		merged.Summary.ClientsNew += r.Summary.ClientsNew
		merged.Summary.ClientsMissing += r.Summary.ClientsMissing
		merged.Summary.ClientsNoSubscription += r.Summary.ClientsNoSubscription
		merged.Summary.AbonnementsNew += r.Summary.AbonnementsNew
		merged.Summary.AbonnementsUpdated += r.Summary.AbonnementsUpdated
		merged.Summary.AbonnementsDisappeared += r.Summary.AbonnementsDisappeared
		merged.Summary.StatusChanges += r.Summary.StatusChanges
		merged.Summary.LignesModified += r.Summary.LignesModified
		merged.Summary.LignesNew += r.Summary.LignesNew
		merged.Summary.LignesRemoved += r.Summary.LignesRemoved
		for sev, n := range r.Summary.BySeverity {
			merged.Summary.BySeverity[sev] += n
		}
		merged.Summary.TotalDeltaHT = merged.Summary.TotalDeltaHT.Add(r.Summary.TotalDeltaHT)
	}

	merged.Summary.TotalDeltaHT = merged.Summary.TotalDeltaHT.Round(2)
	return &merged
}
