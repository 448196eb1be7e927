package factosync

import (
	"testing"

	"bitbucket.org/fidunova/cabinet_backend/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func client(id, cabinetId uint, name, siren, factoId string) models.Client {
	return models.Client{ID: id, CabinetId: cabinetId, Name: name, Siren: siren, FactoCustomerId: factoId}
}

func record(id, name, siren string, subs ...Subscription) CustomerRecord {
	if len(subs) == 0 {
		subs = []Subscription{{ID: "sub-" + id, CustomerId: id, Label: "forfait", Status: StatusInProgress, TotalHT: decimal.NewFromInt(100)}}
	}
	return CustomerRecord{
		Customer:      Customer{ID: id, Name: name, Siren: siren},
		Subscriptions: subs,
	}
}

func TestMatchByExternalReference(t *testing.T) {
	clients := []models.Client{client(1, 1, "Quelconque", "", "cust-42")}
	outcome := Match(1, []CustomerRecord{record("cust-42", "Nom Totalement Different", "")}, clients)

	require.Len(t, outcome.Matches, 1)
	assert.Equal(t, MatchLevelUUID, outcome.Matches[0].Level)
	assert.Equal(t, uint(1), outcome.Matches[0].Client.ID)
	assert.Nil(t, outcome.Matches[0].CabinetChange)
}

func TestMatchBySirenNormalization(t *testing.T) {
	// Local side holds a spaced SIREN, external side a full SIRET.
	clients := []models.Client{client(1, 1, "Garage Dupont", "123 456 789", "")}
	outcome := Match(1, []CustomerRecord{record("c1", "Autre Nom", "12345678900012")}, clients)

	require.Len(t, outcome.Matches, 1)
	assert.Equal(t, MatchLevelSiren, outcome.Matches[0].Level)
}

func TestMatchSirenRequiresNineDigits(t *testing.T) {
	clients := []models.Client{client(1, 1, "Garage Dupont", "12345", "")}
	outcome := Match(1, []CustomerRecord{record("c1", "Autre Nom", "12345")}, clients)

	assert.Empty(t, outcome.Matches)
	require.Len(t, outcome.ClientsNew, 1)
}

func TestMatchNameExactIgnoresCaseAndSpacing(t *testing.T) {
	clients := []models.Client{client(1, 1, "Cabinet   Lefèvre", "", "")}
	outcome := Match(1, []CustomerRecord{record("c1", "cabinet lefèvre", "")}, clients)

	require.Len(t, outcome.Matches, 1)
	assert.Equal(t, MatchLevelNameExact, outcome.Matches[0].Level)
}

func TestMatchNameCleanDropsLegalForm(t *testing.T) {
	clients := []models.Client{client(1, 1, "BOULANGERIE MARTIN", "", "")}
	outcome := Match(1, []CustomerRecord{record("c1", "Boulangerie Martin SARL", "")}, clients)

	require.Len(t, outcome.Matches, 1)
	assert.Equal(t, MatchLevelNameClean, outcome.Matches[0].Level)
	assert.False(t, outcome.Matches[0].Level.Weak())
}

func TestMatchPartialIsWeak(t *testing.T) {
	clients := []models.Client{client(1, 1, "Menuiserie Blanc", "", "")}
	outcome := Match(1, []CustomerRecord{record("c1", "Menuiserie Blanc et Fils", "")}, clients)

	require.Len(t, outcome.Matches, 1)
	assert.Equal(t, MatchLevelNamePartial, outcome.Matches[0].Level)
	assert.True(t, outcome.Matches[0].Level.Weak())
}

func TestPartialRejectsShortAndDisproportionateNames(t *testing.T) {
	assert.False(t, partialMatch("abc", "abcdef"))
	assert.False(t, partialMatch("dupont", "dupont et associes conseil gestion patrimoine"))
	assert.True(t, partialMatch("menuiserie blanc", "menuiserie blanc et fils"))
}

func TestAmbiguousTierFallsThrough(t *testing.T) {
	// Two clients share the SIREN; only the name tier disambiguates.
	clients := []models.Client{
		client(1, 1, "Dupont Batiment", "123456789", ""),
		client(2, 1, "Dupont Conseil", "123456789", ""),
	}
	outcome := Match(1, []CustomerRecord{record("c1", "Dupont Conseil", "123456789")}, clients)

	require.Len(t, outcome.Matches, 1)
	assert.Equal(t, MatchLevelNameExact, outcome.Matches[0].Level)
	assert.Equal(t, uint(2), outcome.Matches[0].Client.ID)
}

func TestAmbiguousEverywhereStaysUnmatched(t *testing.T) {
	clients := []models.Client{
		client(1, 1, "Dupont", "123456789", ""),
		client(2, 1, "Dupont", "123456789", ""),
	}
	outcome := Match(1, []CustomerRecord{record("c1", "Dupont", "123456789")}, clients)

	assert.Empty(t, outcome.Matches)
	require.Len(t, outcome.ClientsNew, 1)
	assert.Len(t, outcome.ClientsMissing, 2)
}

func TestClientMatchedAtMostOnce(t *testing.T) {
	clients := []models.Client{client(1, 1, "Martin", "", "")}
	outcome := Match(1, []CustomerRecord{
		record("c1", "Martin", ""),
		record("c2", "Martin", ""),
	}, clients)

	require.Len(t, outcome.Matches, 1)
	assert.Equal(t, "c1", outcome.Matches[0].Customer.ID)
	require.Len(t, outcome.ClientsNew, 1)
	assert.Equal(t, "c2", outcome.ClientsNew[0].ID)
}

func TestCustomersWithoutSubscriptionsExcluded(t *testing.T) {
	clients := []models.Client{client(1, 1, "Martin", "", "")}
	rec := CustomerRecord{Customer: Customer{ID: "c1", Name: "Martin"}}
	outcome := Match(1, []CustomerRecord{rec}, clients)

	assert.Empty(t, outcome.Matches)
	require.Len(t, outcome.ClientsNoSubscription, 1)
	// The client stays unconsumed and shows up as missing.
	assert.Len(t, outcome.ClientsMissing, 1)
}

func TestCrossCabinetMatchFlagsCabinetChange(t *testing.T) {
	clients := []models.Client{
		client(1, 2, "Transports Morel", "", ""),
		client(2, 1, "Autre Client", "", ""),
	}
	outcome := Match(1, []CustomerRecord{record("c1", "Transports Morel", "")}, clients)

	require.Len(t, outcome.Matches, 1)
	change := outcome.Matches[0].CabinetChange
	require.NotNil(t, change)
	assert.Equal(t, uint(2), change.FromCabinetId)
	assert.Equal(t, uint(1), change.ToCabinetId)

	// ClientsMissing only covers the current cabinet's roster.
	require.Len(t, outcome.ClientsMissing, 1)
	assert.Equal(t, uint(2), outcome.ClientsMissing[0].ID)
}

func TestMatchIsDeterministic(t *testing.T) {
	clients := []models.Client{
		client(1, 1, "Boulangerie Martin", "111111111", ""),
		client(2, 1, "Garage Dupont", "222222222", ""),
		client(3, 2, "Transports Morel", "", "cust-3"),
	}
	records := []CustomerRecord{
		record("cust-3", "Morel", ""),
		record("c1", "Boulangerie Martin SAS", ""),
		record("c2", "Inconnu Total", ""),
	}

	first := Match(1, records, clients)
	second := Match(1, records, clients)
	assert.Equal(t, first, second)
}

func TestNormalizeHelpers(t *testing.T) {
	assert.Equal(t, "123456789", normalizeSiren(" 123 456 789 00012"))
	assert.Equal(t, "boulangerie martin", normalizeName("  BOULANGERIE   Martin "))
	assert.Equal(t, "boulangerie martin", cleanName("Boulangerie-Martin, SARL"))
	assert.Equal(t, "martin", cleanName("Société MARTIN"))
}
