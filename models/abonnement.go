package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/fidunova/cabinet_backend/config"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type AbonnementStatus string

const (
	AbonnementStatusNotStarted AbonnementStatus = "not_started"
	AbonnementStatusInProgress AbonnementStatus = "in_progress"
	AbonnementStatusStopped    AbonnementStatus = "stopped"
	AbonnementStatusFinished   AbonnementStatus = "finished"
)

// Abonnement is the locally persisted mirror of one Facto subscription,
// keyed by the external subscription id once linked.
type Abonnement struct {
	ID                  uint               `gorm:"primary_key" json:"id"`
	ClientId            uint               `gorm:"index;not null" json:"client_id"`
	FactoSubscriptionId string             `gorm:"size:128;uniqueIndex;not null" json:"facto_subscription_id"`
	Label               string             `gorm:"size:255" json:"label"`
	Status              AbonnementStatus   `gorm:"type:enum('not_started','in_progress','stopped','finished');not null;default:'not_started'" json:"status"`
	Frequency           string             `gorm:"size:20" json:"frequency"`
	IntervalCount       int                `gorm:"default:1" json:"interval_count"`
	TotalHT             decimal.Decimal    `gorm:"type:decimal(20,4);default:0" json:"total_ht"`
	Lignes              []*AbonnementLigne `json:"lignes"`
	CreatedAt           time.Time          `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time          `gorm:"autoUpdateTime" json:"updated_at"`
}

// AbonnementLigne is one billed line of an abonnement. FactoLineId may be
// empty for rows created before the platform exposed line ids; those are
// correlated by normalized label instead.
type AbonnementLigne struct {
	ID           uint            `gorm:"primary_key" json:"id"`
	AbonnementId uint            `gorm:"index;not null" json:"abonnement_id"`
	FactoLineId  string          `gorm:"size:128;index" json:"facto_line_id"`
	Label        string          `gorm:"size:255" json:"label"`
	Quantity     decimal.Decimal `gorm:"type:decimal(20,4);default:1" json:"quantity"`
	MontantHT    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"montant_ht"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// PrixHistorique is the append-only price ledger. Rows are written by the
// commit engine before the live line value changes and are never rewritten.
type PrixHistorique struct {
	ID           uint            `gorm:"primary_key" json:"id"`
	LigneId      uint            `gorm:"index;not null" json:"ligne_id"`
	OldMontantHT decimal.Decimal `gorm:"type:decimal(20,4)" json:"old_montant_ht"`
	NewMontantHT decimal.Decimal `gorm:"type:decimal(20,4)" json:"new_montant_ht"`
	ChangedAt    time.Time       `gorm:"not null" json:"changed_at"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

// ListAbonnementsByClient loads the client's abonnements with lines, in id
// order so diffs iterate the local side deterministically.
func ListAbonnementsByClient(ctx context.Context, clientId uint) ([]Abonnement, error) {
	var abonnements []Abonnement
	err := config.GetDB().WithContext(ctx).
		Preload("Lignes", func(db *gorm.DB) *gorm.DB { return db.Order("abonnement_lignes.id") }).
		Where("client_id = ?", clientId).
		Order("id").
		Find(&abonnements).Error
	return abonnements, err
}

// GetAbonnementByFactoId resolves the local mirror for one external
// subscription id. Returns (nil, nil) when no mirror exists yet.
func GetAbonnementByFactoId(ctx context.Context, factoSubscriptionId string) (*Abonnement, error) {
	var abonnement Abonnement
	err := config.GetDB().WithContext(ctx).
		Preload("Lignes").
		Where("facto_subscription_id = ?", factoSubscriptionId).
		Take(&abonnement).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &abonnement, nil
}
