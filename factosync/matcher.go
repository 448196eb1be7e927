package factosync

import "bitbucket.org/fidunova/cabinet_backend/models"

// matchTiers in cascade order, strongest first. First hit wins; a tier with
// more than one candidate is ambiguous and falls through to the next tier.
var matchTiers = []struct {
	level MatchLevel
	fits  func(c Customer, cl *models.Client) bool
}{
	{MatchLevelUUID, func(c Customer, cl *models.Client) bool {
		if cl.FactoCustomerId == "" {
			return false
		}
		return cl.FactoCustomerId == c.ID || (c.Reference != "" && cl.FactoCustomerId == c.Reference)
	}},
	{MatchLevelSiren, func(c Customer, cl *models.Client) bool {
		return sirenEqual(c.Siren, cl.Siren)
	}},
	{MatchLevelNameExact, func(c Customer, cl *models.Client) bool {
		n := normalizeName(c.Name)
		return n != "" && n == normalizeName(cl.Name)
	}},
	{MatchLevelNameClean, func(c Customer, cl *models.Client) bool {
		n := cleanName(c.Name)
		return n != "" && n == cleanName(cl.Name)
	}},
	{MatchLevelNamePartial, func(c Customer, cl *models.Client) bool {
		return partialMatch(normalizeName(c.Name), normalizeName(cl.Name))
	}},
	{MatchLevelNameCleanPartial, func(c Customer, cl *models.Client) bool {
		return partialMatch(cleanName(c.Name), cleanName(cl.Name))
	}},
}

// Match resolves each external customer with at least one subscription to
// zero-or-one local client. Customers without subscriptions are excluded
// from matching and reported under ClientsNoSubscription. Pure function over
// the snapshots: no I/O, no hidden state, deterministic for fixed input.
//
// clients may span several cabinets; a match outside cabinetId is still a
// match but carries a CabinetChange flag. ClientsMissing only counts this
// cabinet's own roster.
func Match(cabinetId uint, records []CustomerRecord, clients []models.Client) MatchOutcome {
	outcome := MatchOutcome{}
	matchedClients := make(map[uint]bool)

	for _, rec := range records {
		if len(rec.Subscriptions) == 0 {
			outcome.ClientsNoSubscription = append(outcome.ClientsNoSubscription, rec.Customer)
			continue
		}

		result, ok := matchOne(rec.Customer, clients, matchedClients)
		if !ok {
			outcome.ClientsNew = append(outcome.ClientsNew, rec.Customer)
			continue
		}
		matchedClients[result.Client.ID] = true
		if result.Client.CabinetId != cabinetId {
			result.CabinetChange = &CabinetChange{
				FromCabinetId: result.Client.CabinetId,
				ToCabinetId:   cabinetId,
			}
		}
		outcome.Matches = append(outcome.Matches, result)
	}

	for i := range clients {
		cl := clients[i]
		if cl.CabinetId == cabinetId && !matchedClients[cl.ID] {
			outcome.ClientsMissing = append(outcome.ClientsMissing, cl)
		}
	}

	return outcome
}

// matchOne walks the cascade for a single customer. Exactly one candidate at
// a tier is a match; zero or several candidates move on to the next tier, so
// an ambiguous strong tier degrades to a weaker unambiguous one, or to
// unmatched.
func matchOne(customer Customer, clients []models.Client, taken map[uint]bool) (MatchResult, bool) {
	for _, tier := range matchTiers {
		var candidate *models.Client
		ambiguous := false
		for i := range clients {
			cl := &clients[i]
			if taken[cl.ID] {
				continue
			}
			if !tier.fits(customer, cl) {
				continue
			}
			if candidate != nil {
				ambiguous = true
				break
			}
			candidate = cl
		}
		if ambiguous || candidate == nil {
			continue
		}
		return MatchResult{
			Customer:   customer,
			Client:     candidate,
			Level:      tier.level,
			LevelLabel: tier.level.Label(),
		}, true
	}
	return MatchResult{Customer: customer}, false
}
