package models

import (
	"context"
	"time"

	"bitbucket.org/fidunova/cabinet_backend/config"
)

// Cabinet is one organizational unit of the firm: its own client roster and
// its own Facto credential.
type Cabinet struct {
	ID          uint      `gorm:"primary_key" json:"id"`
	Name        string    `gorm:"size:100;not null;uniqueIndex" json:"name" binding:"required"`
	FactoAPIKey string    `gorm:"type:text" json:"-"`
	IsActive    *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func GetCabinet(ctx context.Context, id uint) (*Cabinet, error) {
	var cabinet Cabinet
	if err := config.GetDB().WithContext(ctx).Where("id = ?", id).Take(&cabinet).Error; err != nil {
		return nil, err
	}
	return &cabinet, nil
}

// ListActiveCabinets returns every cabinet eligible for a sync run,
// ordered by id so multi-cabinet runs are processed deterministically.
func ListActiveCabinets(ctx context.Context) ([]Cabinet, error) {
	var cabinets []Cabinet
	err := config.GetDB().WithContext(ctx).
		Where("is_active = ?", true).
		Order("id").
		Find(&cabinets).Error
	return cabinets, err
}

func ListCabinetsByIds(ctx context.Context, ids []uint) ([]Cabinet, error) {
	var cabinets []Cabinet
	err := config.GetDB().WithContext(ctx).
		Where("id IN ?", ids).
		Order("id").
		Find(&cabinets).Error
	return cabinets, err
}
