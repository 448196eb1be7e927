package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"bitbucket.org/fidunova/cabinet_backend/factosync"
	"bitbucket.org/fidunova/cabinet_backend/models"
)

// preview-harness runs the matching and diffing pipeline offline over JSON
// fixtures, without a database or a Facto credential. Useful for replaying
// a customer payload that produced a surprising report.
//
// Example:
//   go run ./cmd/preview-harness \
//     --cabinet_id=1 --cabinet_name=Cabinet-Nord \
//     --customers=fixtures/customers.json \
//     --clients=fixtures/clients.json \
//     --abonnements=fixtures/abonnements.json
func main() {
	var (
		cabinetID       = flag.Uint("cabinet_id", 1, "cabinet id to match against")
		cabinetName     = flag.String("cabinet_name", "harness", "cabinet name for the report")
		customersPath   = flag.String("customers", "", "JSON file: array of {customer, subscriptions} records (required)")
		clientsPath     = flag.String("clients", "", "JSON file: array of local clients (required)")
		abonnementsPath = flag.String("abonnements", "", "JSON file: map of client id -> local abonnements (optional)")
	)
	flag.Parse()

	if *customersPath == "" || *clientsPath == "" {
		fmt.Fprintln(os.Stderr, "missing required flags")
		flag.Usage()
		os.Exit(2)
	}

	var records []factosync.CustomerRecord
	mustLoad(*customersPath, &records)

	var clients []models.Client
	mustLoad(*clientsPath, &clients)

	abonnements := map[uint][]models.Abonnement{}
	if *abonnementsPath != "" {
		mustLoad(*abonnementsPath, &abonnements)
	}

	outcome := factosync.Match(*cabinetID, records, clients)

	subsByCustomer := make(map[string][]factosync.Subscription, len(records))
	for _, rec := range records {
		subsByCustomer[rec.Customer.ID] = rec.Subscriptions
	}

	var diffs []factosync.ClientDiff
	for _, match := range outcome.Matches {
		externalSubs := subsByCustomer[match.Customer.ID]
		diffs = append(diffs, factosync.ClientDiff{
			Match:        match,
			ExternalSubs: externalSubs,
			Diff:         factosync.Diff(match.Client, externalSubs, abonnements[match.Client.ID]),
		})
	}

	report := factosync.BuildCabinetReport(models.Cabinet{ID: *cabinetID, Name: *cabinetName}, outcome, diffs)
	report.Anomalies = factosync.SortAnomaliesForDisplay(report.Anomalies)

	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "encode report: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(out))
}

func mustLoad(path string, dest interface{}) {
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read %s: %v\n", path, err)
		os.Exit(2)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		fmt.Fprintf(os.Stderr, "parse %s: %v\n", path, err)
		os.Exit(2)
	}
}
