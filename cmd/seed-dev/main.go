// seed-dev provisions a local development database with a couple of cabinets
// and clients so the preview flow has something to match against.
//
// Usage:
//   DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... go run ./cmd/seed-dev
package main

import (
	"fmt"
	"os"

	"bitbucket.org/fidunova/cabinet_backend/config"
	"bitbucket.org/fidunova/cabinet_backend/models"
	"bitbucket.org/fidunova/cabinet_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

func main() {
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}
	models.MigrateTable()

	cabinets := []models.Cabinet{
		{Name: "Cabinet Nord", FactoAPIKey: "dev-key-nord"},
		{Name: "Cabinet Sud", FactoAPIKey: "dev-key-sud"},
	}
	for i := range cabinets {
		if err := upsertCabinet(db, &cabinets[i]); err != nil {
			fmt.Fprintf(os.Stderr, "seed cabinet %s: %v\n", cabinets[i].Name, err)
			os.Exit(1)
		}
	}

	clients := []models.Client{
		{CabinetId: cabinets[0].ID, Name: "Boulangerie Martin", Siren: "123456789", IsActive: utils.NewTrue()},
		{CabinetId: cabinets[0].ID, Name: "Garage Dupont", Siren: "987654321", IsActive: utils.NewTrue()},
		// Inactive on purpose: surfaces the inactive-client anomaly in previews.
		{CabinetId: cabinets[1].ID, Name: "Transports Morel", Siren: "456789123", IsActive: utils.NewFalse()},
	}
	for i := range clients {
		if err := upsertClient(db, &clients[i]); err != nil {
			fmt.Fprintf(os.Stderr, "seed client %s: %v\n", clients[i].Name, err)
			os.Exit(1)
		}
	}

	abonnement := models.Abonnement{
		ClientId:            clients[0].ID,
		FactoSubscriptionId: "dev-sub-1",
		Label:               "forfait compta",
		Status:              models.AbonnementStatusInProgress,
		Frequency:           "monthly",
		IntervalCount:       1,
		TotalHT:             decimal.NewFromInt(100),
		Lignes: []*models.AbonnementLigne{
			{FactoLineId: "dev-line-1", Label: "tenue comptable", Quantity: decimal.NewFromInt(1), MontantHT: decimal.NewFromInt(100)},
		},
	}
	var existing models.Abonnement
	err := db.Where("facto_subscription_id = ?", abonnement.FactoSubscriptionId).Take(&existing).Error
	if err == gorm.ErrRecordNotFound {
		if err := db.Create(&abonnement).Error; err != nil {
			fmt.Fprintf(os.Stderr, "seed abonnement: %v\n", err)
			os.Exit(1)
		}
	} else if err != nil {
		fmt.Fprintf(os.Stderr, "seed abonnement: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("seeded %d cabinets, %d clients\n", len(cabinets), len(clients))
}

func upsertCabinet(db *gorm.DB, cabinet *models.Cabinet) error {
	var existing models.Cabinet
	err := db.Where("name = ?", cabinet.Name).Take(&existing).Error
	if err == gorm.ErrRecordNotFound {
		return db.Create(cabinet).Error
	}
	if err != nil {
		return err
	}
	cabinet.ID = existing.ID
	return db.Model(&existing).Update("facto_api_key", cabinet.FactoAPIKey).Error
}

func upsertClient(db *gorm.DB, client *models.Client) error {
	var existing models.Client
	err := db.Where("siren = ?", client.Siren).Take(&existing).Error
	if err == gorm.ErrRecordNotFound {
		return db.Create(client).Error
	}
	if err != nil {
		return err
	}
	client.ID = existing.ID
	return nil
}
