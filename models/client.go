package models

import (
	"context"
	"time"

	"bitbucket.org/fidunova/cabinet_backend/config"
)

// Client is a locally managed firm client. FactoCustomerId links it to the
// customer record on the billing platform once a match has been confirmed.
type Client struct {
	ID              uint      `gorm:"primary_key" json:"id"`
	CabinetId       uint      `gorm:"index;not null" json:"cabinet_id" binding:"required"`
	Name            string    `gorm:"size:255;not null" json:"name" binding:"required"`
	Siren           string    `gorm:"size:20;index" json:"siren"`
	FactoCustomerId string    `gorm:"size:128;index" json:"facto_customer_id"`
	MatchLevel      string    `gorm:"size:32" json:"match_level"`
	IsActive        *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// ListClientsByCabinet returns the cabinet's roster in id order.
func ListClientsByCabinet(ctx context.Context, cabinetId uint) ([]Client, error) {
	var clients []Client
	err := config.GetDB().WithContext(ctx).
		Where("cabinet_id = ?", cabinetId).
		Order("id").
		Find(&clients).Error
	return clients, err
}

// ListAllClients returns the whole roster across cabinets, in id order.
// The matcher needs it to detect cabinet reassignments.
func ListAllClients(ctx context.Context) ([]Client, error) {
	var clients []Client
	err := config.GetDB().WithContext(ctx).
		Order("id").
		Find(&clients).Error
	return clients, err
}

// LinkFactoCustomer persists the external reference, the match level that
// confirmed it and, on a cabinet reassignment, the new cabinet. Only written
// during commit, when the match resolves an ambiguity.
func LinkFactoCustomer(ctx context.Context, clientId uint, factoCustomerId, matchLevel string, cabinetId uint) error {
	updates := map[string]interface{}{
		"facto_customer_id": factoCustomerId,
		"match_level":       matchLevel,
	}
	if cabinetId != 0 {
		updates["cabinet_id"] = cabinetId
	}
	return config.GetDB().WithContext(ctx).
		Model(&Client{}).
		Where("id = ?", clientId).
		Updates(updates).Error
}
