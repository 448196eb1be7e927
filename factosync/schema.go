package factosync

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// Facto payloads are loosely typed JSON. They are decoded into the tagged
// structs below, validated, and converted into the strict internal types
// before anything downstream sees them. Matcher/differ never touch raw data.

var validate = validator.New()

type factoCustomer struct {
	ID        string `json:"id" validate:"required"`
	Name      string `json:"name"`
	Siren     string `json:"siren"`
	Reference string `json:"reference"`
	Archived  bool   `json:"archived"`
}

type factoSubscription struct {
	ID        string      `json:"id" validate:"required"`
	Label     string      `json:"label"`
	Status    string      `json:"status" validate:"omitempty,oneof=not_started in_progress stopped finished"`
	Frequency string      `json:"frequency"`
	Interval  int         `json:"interval"`
	TotalHT   json.Number `json:"total_ht"`
	Lines     []factoLine `json:"lines"`
}

type factoLine struct {
	ID        string      `json:"id"`
	Label     string      `json:"label"`
	Quantity  json.Number `json:"quantity"`
	MontantHT json.Number `json:"montant_ht"`
}

func decodeCustomer(raw json.RawMessage) (Customer, error) {
	var fc factoCustomer
	if err := json.Unmarshal(raw, &fc); err != nil {
		return Customer{}, err
	}
	if err := validate.Struct(fc); err != nil {
		return Customer{}, fmt.Errorf("invalid customer payload: %w", err)
	}
	return Customer{
		ID:        strings.TrimSpace(fc.ID),
		Name:      strings.TrimSpace(fc.Name),
		Siren:     strings.TrimSpace(fc.Siren),
		Reference: strings.TrimSpace(fc.Reference),
		Archived:  fc.Archived,
	}, nil
}

func decodeSubscription(customerId string, raw json.RawMessage) (Subscription, error) {
	var fs factoSubscription
	if err := json.Unmarshal(raw, &fs); err != nil {
		return Subscription{}, err
	}
	if err := validate.Struct(fs); err != nil {
		return Subscription{}, fmt.Errorf("invalid subscription payload: %w", err)
	}

	status := strings.TrimSpace(fs.Status)
	if status == "" {
		status = StatusNotStarted
	}
	interval := fs.Interval
	if interval <= 0 {
		interval = 1
	}

	sub := Subscription{
		ID:         strings.TrimSpace(fs.ID),
		CustomerId: customerId,
		Label:      strings.TrimSpace(fs.Label),
		Status:     status,
		Frequency:  strings.TrimSpace(fs.Frequency),
		Interval:   interval,
		TotalHT:    decimalFromNumber(fs.TotalHT),
	}
	for _, fl := range fs.Lines {
		qty := decimalFromNumber(fl.Quantity)
		if qty.IsZero() {
			qty = decimal.NewFromInt(1)
		}
		sub.Lines = append(sub.Lines, Line{
			ID:        strings.TrimSpace(fl.ID),
			Label:     strings.TrimSpace(fl.Label),
			Quantity:  qty,
			MontantHT: decimalFromNumber(fl.MontantHT),
		})
	}
	return sub, nil
}

func decimalFromNumber(num json.Number) decimal.Decimal {
	if num.String() == "" {
		return decimal.Zero
	}
	if d, err := decimal.NewFromString(num.String()); err == nil {
		return d
	}
	return decimal.Zero
}
