package factosync

import (
	"testing"

	"bitbucket.org/fidunova/cabinet_backend/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}

func testClient() *models.Client {
	return &models.Client{ID: 7, CabinetId: 1, Name: "Boulangerie Martin"}
}

func localSub(id uint, factoId, label, status, frequency string, interval int, totalHT string, lignes ...*models.AbonnementLigne) models.Abonnement {
	return models.Abonnement{
		ID:                  id,
		ClientId:            7,
		FactoSubscriptionId: factoId,
		Label:               label,
		Status:              models.AbonnementStatus(status),
		Frequency:           frequency,
		IntervalCount:       interval,
		TotalHT:             dec(totalHT),
		Lignes:              lignes,
	}
}

func TestDiffPartitionsByExternalId(t *testing.T) {
	external := []Subscription{
		{ID: "s1", Label: "forfait compta", Status: StatusInProgress, Frequency: "monthly", Interval: 1, TotalHT: dec("100")},
		{ID: "s3", Label: "forfait paie", Status: StatusInProgress, Frequency: "monthly", Interval: 1, TotalHT: dec("50")},
	}
	local := []models.Abonnement{
		localSub(1, "s1", "forfait compta", StatusInProgress, "monthly", 1, "100"),
		localSub(2, "s2", "forfait juridique", StatusInProgress, "monthly", 1, "80"),
	}

	result := Diff(testClient(), external, local)

	require.Len(t, result.New, 1)
	assert.Equal(t, "s3", result.New[0].Sub.ID)
	assert.Equal(t, uint(7), result.New[0].ClientId)

	require.Len(t, result.Disappeared, 1)
	assert.Equal(t, "s2", result.Disappeared[0].FactoSubscriptionId)
	assert.True(t, result.Disappeared[0].TotalHT.Equal(dec("80")))

	assert.Empty(t, result.Updated)
	assert.Empty(t, result.StatusChanged)
}

func TestDiffHeaderFieldChanges(t *testing.T) {
	external := []Subscription{
		{ID: "s1", Label: "forfait premium", Status: StatusInProgress, Frequency: "yearly", Interval: 2, TotalHT: dec("120")},
	}
	local := []models.Abonnement{
		localSub(1, "s1", "forfait compta", StatusInProgress, "monthly", 1, "100"),
	}

	result := Diff(testClient(), external, local)

	require.Len(t, result.Updated, 1)
	changes := result.Updated[0].Changes
	assert.Len(t, changes, 4)
	assert.Equal(t, "forfait compta", changes["label"].Old)
	assert.Equal(t, "forfait premium", changes["label"].New)
	assert.Equal(t, "monthly", changes["frequency"].Old)
	assert.Equal(t, 1, changes["interval"].Old)
	assert.Equal(t, 2, changes["interval"].New)
}

func TestDiffAmountComparedAtTwoDecimals(t *testing.T) {
	// 100.004 rounds to 100.00: no change reported.
	external := []Subscription{
		{ID: "s1", Label: "forfait", Status: StatusInProgress, Frequency: "monthly", Interval: 1, TotalHT: dec("100.004")},
	}
	local := []models.Abonnement{
		localSub(1, "s1", "forfait", StatusInProgress, "monthly", 1, "100"),
	}
	result := Diff(testClient(), external, local)
	assert.Empty(t, result.Updated)

	// 100.01 is a real change.
	external[0].TotalHT = dec("100.01")
	result = Diff(testClient(), external, local)
	require.Len(t, result.Updated, 1)
	assert.Contains(t, result.Updated[0].Changes, "total_ht")
}

func TestDiffStatusChangeSeparateFromFieldChanges(t *testing.T) {
	external := []Subscription{
		{ID: "s1", Label: "forfait", Status: StatusStopped, Frequency: "monthly", Interval: 1, TotalHT: dec("100")},
	}
	local := []models.Abonnement{
		localSub(1, "s1", "forfait", StatusInProgress, "monthly", 1, "100"),
	}

	result := Diff(testClient(), external, local)

	require.Len(t, result.StatusChanged, 1)
	assert.Equal(t, StatusInProgress, result.StatusChanged[0].OldStatus)
	assert.Equal(t, StatusStopped, result.StatusChanged[0].NewStatus)
	assert.Empty(t, result.Updated)
}

func TestDiffLineModification(t *testing.T) {
	external := []Subscription{
		{ID: "s1", Label: "forfait", Status: StatusInProgress, Frequency: "monthly", Interval: 1, TotalHT: dec("125"),
			Lines: []Line{{ID: "l1", Label: "tenue comptable", Quantity: dec("1"), MontantHT: dec("125")}}},
	}
	local := []models.Abonnement{
		localSub(1, "s1", "forfait", StatusInProgress, "monthly", 1, "100",
			&models.AbonnementLigne{ID: 11, AbonnementId: 1, FactoLineId: "l1", Label: "tenue comptable", Quantity: dec("1"), MontantHT: dec("100")}),
	}

	result := Diff(testClient(), external, local)

	require.Len(t, result.LignesModified, 1)
	lm := result.LignesModified[0]
	assert.Equal(t, uint(11), lm.LigneId)
	assert.True(t, lm.DeltaHT.Equal(dec("25")))
	require.NotNil(t, lm.DeltaPct)
	assert.True(t, lm.DeltaPct.Equal(dec("25")))
}

func TestDiffLineDeltaPctNilWhenOldZero(t *testing.T) {
	external := []Subscription{
		{ID: "s1", Label: "forfait", Status: StatusInProgress, Frequency: "monthly", Interval: 1, TotalHT: dec("50"),
			Lines: []Line{{ID: "l1", Label: "option", Quantity: dec("1"), MontantHT: dec("50")}}},
	}
	local := []models.Abonnement{
		localSub(1, "s1", "forfait", StatusInProgress, "monthly", 1, "50",
			&models.AbonnementLigne{ID: 11, AbonnementId: 1, FactoLineId: "l1", Label: "option", MontantHT: dec("0")}),
	}

	result := Diff(testClient(), external, local)

	require.Len(t, result.LignesModified, 1)
	assert.Nil(t, result.LignesModified[0].DeltaPct)
	assert.True(t, result.LignesModified[0].DeltaHT.Equal(dec("50")))
}

func TestDiffLineCorrelatedByLabelWhenIdMissing(t *testing.T) {
	external := []Subscription{
		{ID: "s1", Label: "forfait", Status: StatusInProgress, Frequency: "monthly", Interval: 1, TotalHT: dec("100"),
			Lines: []Line{{Label: "Tenue   Comptable", Quantity: dec("1"), MontantHT: dec("110")}}},
	}
	local := []models.Abonnement{
		localSub(1, "s1", "forfait", StatusInProgress, "monthly", 1, "100",
			&models.AbonnementLigne{ID: 11, AbonnementId: 1, Label: "tenue comptable", MontantHT: dec("100")}),
	}

	result := Diff(testClient(), external, local)

	assert.Empty(t, result.LignesNew)
	assert.Empty(t, result.LignesRemoved)
	require.Len(t, result.LignesModified, 1)
	assert.Equal(t, uint(11), result.LignesModified[0].LigneId)
}

func TestDiffLinesNewAndRemoved(t *testing.T) {
	external := []Subscription{
		{ID: "s1", Label: "forfait", Status: StatusInProgress, Frequency: "monthly", Interval: 1, TotalHT: dec("100"),
			Lines: []Line{{ID: "l2", Label: "social", Quantity: dec("1"), MontantHT: dec("40")}}},
	}
	local := []models.Abonnement{
		localSub(1, "s1", "forfait", StatusInProgress, "monthly", 1, "100",
			&models.AbonnementLigne{ID: 11, AbonnementId: 1, FactoLineId: "l1", Label: "fiscal", MontantHT: dec("60")}),
	}

	result := Diff(testClient(), external, local)

	require.Len(t, result.LignesNew, 1)
	assert.Equal(t, "l2", result.LignesNew[0].Line.ID)
	require.Len(t, result.LignesRemoved, 1)
	assert.Equal(t, uint(11), result.LignesRemoved[0].LigneId)
}
