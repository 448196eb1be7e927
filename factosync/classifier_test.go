package factosync

import (
	"testing"

	"bitbucket.org/fidunova/cabinet_backend/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func matchedDiff(level MatchLevel, clientActive bool, diff DiffResult, externalSubs ...Subscription) ClientDiff {
	return ClientDiff{
		Match: MatchResult{
			Customer:   Customer{ID: "c1", Name: "Boulangerie Martin SARL"},
			Client:     &models.Client{ID: 7, CabinetId: 1, Name: "Boulangerie Martin", IsActive: boolPtr(clientActive)},
			Level:      level,
			LevelLabel: level.Label(),
		},
		ExternalSubs: externalSubs,
		Diff:         diff,
	}
}

func boolPtr(b bool) *bool { return &b }

func TestClassifyWeakMatch(t *testing.T) {
	anomalies := Classify([]ClientDiff{matchedDiff(MatchLevelNamePartial, true, DiffResult{})})

	require.Len(t, anomalies, 1)
	assert.Equal(t, AnomalyWeakMatch, anomalies[0].Type)
	assert.Equal(t, SeverityWarning, anomalies[0].Severity)
	assert.Contains(t, anomalies[0].Message, "Correspondance faible")
}

func TestClassifyStrongMatchIsQuiet(t *testing.T) {
	anomalies := Classify([]ClientDiff{matchedDiff(MatchLevelSiren, true, DiffResult{})})
	assert.Empty(t, anomalies)
}

func TestClassifyDisappearedSubscriptions(t *testing.T) {
	diff := DiffResult{Disappeared: []SubscriptionDisappeared{
		{AbonnementId: 1, FactoSubscriptionId: "s1", ClientName: "Boulangerie Martin", Label: "forfait", TotalHT: dec("100")},
		{AbonnementId: 2, FactoSubscriptionId: "s2", ClientName: "Boulangerie Martin", Label: "option", TotalHT: dec("20")},
	}}
	anomalies := Classify([]ClientDiff{matchedDiff(MatchLevelSiren, true, diff)})

	require.Len(t, anomalies, 1)
	assert.Equal(t, AnomalySubscriptionsDisappeared, anomalies[0].Type)
	assert.Contains(t, anomalies[0].Message, "2 abonnement(s)")
}

func TestClassifyPriceVariationThreshold(t *testing.T) {
	above := dec("20.01")
	exactly := dec("20")
	diff := DiffResult{LignesModified: []LineModified{
		{LigneId: 1, Label: "tenue comptable", ClientName: "Boulangerie Martin", OldMontantHT: dec("100"), NewMontantHT: dec("120.01"), DeltaHT: dec("20.01"), DeltaPct: &above},
		{LigneId: 2, Label: "social", ClientName: "Boulangerie Martin", OldMontantHT: dec("100"), NewMontantHT: dec("120"), DeltaHT: dec("20"), DeltaPct: &exactly},
		{LigneId: 3, Label: "cree de zero", ClientName: "Boulangerie Martin", OldMontantHT: dec("0"), NewMontantHT: dec("50"), DeltaHT: dec("50")},
	}}
	anomalies := Classify([]ClientDiff{matchedDiff(MatchLevelSiren, true, diff)})

	// Only the strictly-above-threshold line; nil DeltaPct never triggers.
	require.Len(t, anomalies, 1)
	assert.Equal(t, AnomalyPriceVariationHigh, anomalies[0].Type)
	assert.Contains(t, anomalies[0].Message, "tenue comptable")
}

func TestClassifyNegativeVariationUsesAbsoluteValue(t *testing.T) {
	down := dec("-35")
	diff := DiffResult{LignesModified: []LineModified{
		{LigneId: 1, Label: "forfait", ClientName: "Boulangerie Martin", OldMontantHT: dec("100"), NewMontantHT: dec("65"), DeltaHT: dec("-35"), DeltaPct: &down},
	}}
	anomalies := Classify([]ClientDiff{matchedDiff(MatchLevelSiren, true, diff)})

	require.Len(t, anomalies, 1)
	assert.Equal(t, AnomalyPriceVariationHigh, anomalies[0].Type)
}

func TestClassifyInactiveClientWithActiveSubscriptions(t *testing.T) {
	subs := []Subscription{
		{ID: "s1", Label: "forfait", Status: StatusInProgress, TotalHT: dec("100")},
		{ID: "s2", Label: "ancien", Status: StatusStopped, TotalHT: dec("40")},
	}
	anomalies := Classify([]ClientDiff{matchedDiff(MatchLevelSiren, false, DiffResult{}, subs...)})

	require.Len(t, anomalies, 1)
	assert.Equal(t, AnomalyInactiveWithSubs, anomalies[0].Type)
	assert.Equal(t, SeverityError, anomalies[0].Severity)
	assert.Contains(t, anomalies[0].Message, "1 abonnement(s) actif(s)")
}

func TestClassifyInactiveClientWithOnlyStoppedSubscriptions(t *testing.T) {
	subs := []Subscription{{ID: "s1", Label: "ancien", Status: StatusStopped, TotalHT: dec("40")}}
	anomalies := Classify([]ClientDiff{matchedDiff(MatchLevelSiren, false, DiffResult{}, subs...)})
	assert.Empty(t, anomalies)
}

func TestClassifyMultipleAnomaliesForOneClient(t *testing.T) {
	diff := DiffResult{Disappeared: []SubscriptionDisappeared{
		{AbonnementId: 1, FactoSubscriptionId: "s9", ClientName: "Boulangerie Martin", Label: "forfait", TotalHT: dec("100")},
	}}
	subs := []Subscription{{ID: "s1", Label: "forfait", Status: StatusInProgress, TotalHT: dec("100")}}
	anomalies := Classify([]ClientDiff{matchedDiff(MatchLevelNameCleanPartial, false, diff, subs...)})

	require.Len(t, anomalies, 3)
	assert.Equal(t, AnomalyWeakMatch, anomalies[0].Type)
	assert.Equal(t, AnomalySubscriptionsDisappeared, anomalies[1].Type)
	assert.Equal(t, AnomalyInactiveWithSubs, anomalies[2].Type)
}

func TestSortAnomaliesForDisplay(t *testing.T) {
	anomalies := []Anomaly{
		{Type: AnomalyWeakMatch, Severity: SeverityWarning, Message: "w1"},
		{Type: AnomalyInactiveWithSubs, Severity: SeverityError, Message: "e1"},
		{Type: AnomalyPriceVariationHigh, Severity: SeverityWarning, Message: "w2"},
	}

	sorted := SortAnomaliesForDisplay(anomalies)

	require.Len(t, sorted, 3)
	assert.Equal(t, "e1", sorted[0].Message)
	assert.Equal(t, "w1", sorted[1].Message)
	assert.Equal(t, "w2", sorted[2].Message)

	// Input order untouched.
	assert.Equal(t, "w1", anomalies[0].Message)
}
