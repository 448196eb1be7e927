package models

import (
	"log"

	"bitbucket.org/fidunova/cabinet_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Cabinet{}, &Client{},
		&Abonnement{}, &AbonnementLigne{}, &PrixHistorique{},
		&SyncRun{}, &SyncError{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
