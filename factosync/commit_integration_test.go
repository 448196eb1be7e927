package factosync_test

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"testing"
	"time"

	"bitbucket.org/fidunova/cabinet_backend/config"
	"bitbucket.org/fidunova/cabinet_backend/factosync"
	"bitbucket.org/fidunova/cabinet_backend/models"
	"github.com/shopspring/decimal"
)

func TestCommitReplayIsIdempotent(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := context.Background()

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	// Wire env for config.Connect* helpers.
	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "cabinet_test")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	db := config.GetDB()
	if db == nil {
		t.Fatalf("db is nil after ConnectDatabaseWithRetry")
	}

	// Seed one cabinet with one client that already mirrors subscription s1.
	cabinet := models.Cabinet{Name: "Cabinet Test", FactoAPIKey: "key"}
	if err := db.Create(&cabinet).Error; err != nil {
		t.Fatalf("create cabinet: %v", err)
	}
	seededClient := models.Client{CabinetId: cabinet.ID, Name: "Boulangerie Martin", Siren: "123456789"}
	if err := db.Create(&seededClient).Error; err != nil {
		t.Fatalf("create client: %v", err)
	}
	existing := models.Abonnement{
		ClientId:            seededClient.ID,
		FactoSubscriptionId: "s1",
		Label:               "forfait compta",
		Status:              models.AbonnementStatusInProgress,
		Frequency:           "monthly",
		IntervalCount:       1,
		TotalHT:             decimal.NewFromInt(100),
		Lignes: []*models.AbonnementLigne{
			{FactoLineId: "l1", Label: "tenue comptable", Quantity: decimal.NewFromInt(1), MontantHT: decimal.NewFromInt(100)},
		},
	}
	if err := db.Create(&existing).Error; err != nil {
		t.Fatalf("create abonnement: %v", err)
	}

	// External snapshot: s1 with a new line price, plus a brand-new s2.
	records := []factosync.CustomerRecord{{
		Customer: factosync.Customer{ID: "c-100", Name: "Boulangerie Martin SARL", Siren: "123456789"},
		Subscriptions: []factosync.Subscription{
			{
				ID: "s1", CustomerId: "c-100", Label: "forfait compta",
				Status: factosync.StatusInProgress, Frequency: "monthly", Interval: 1,
				TotalHT: decimal.NewFromInt(130),
				Lines:   []factosync.Line{{ID: "l1", Label: "tenue comptable", Quantity: decimal.NewFromInt(1), MontantHT: decimal.NewFromInt(130)}},
			},
			{
				ID: "s2", CustomerId: "c-100", Label: "forfait paie",
				Status: factosync.StatusInProgress, Frequency: "monthly", Interval: 1,
				TotalHT: decimal.NewFromInt(50),
				Lines:   []factosync.Line{{ID: "l2", Label: "bulletins", Quantity: decimal.NewFromInt(1), MontantHT: decimal.NewFromInt(50)}},
			},
		},
	}}

	clients, err := models.ListAllClients(ctx)
	if err != nil {
		t.Fatalf("list clients: %v", err)
	}
	outcome := factosync.Match(cabinet.ID, records, clients)
	if len(outcome.Matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(outcome.Matches))
	}

	localSubs, err := models.ListAbonnementsByClient(ctx, seededClient.ID)
	if err != nil {
		t.Fatalf("list abonnements: %v", err)
	}
	diffs := []factosync.ClientDiff{{
		Match:        outcome.Matches[0],
		ExternalSubs: records[0].Subscriptions,
		Diff:         factosync.Diff(outcome.Matches[0].Client, records[0].Subscriptions, localSubs),
	}}
	report := factosync.MergeReports([]factosync.CabinetReport{
		factosync.BuildCabinetReport(cabinet, outcome, diffs),
	})

	// First replay.
	result := factosync.CommitReport(ctx, report, nil)
	if len(result.Errors) != 0 {
		t.Fatalf("first commit errors: %+v", result.Errors)
	}
	if result.AbonnementsCreated != 1 {
		t.Fatalf("expected 1 abonnement created, got %d", result.AbonnementsCreated)
	}
	if result.HistoriquePrixCreated != 1 {
		t.Fatalf("expected 1 price-history row, got %d", result.HistoriquePrixCreated)
	}

	var linked models.Client
	if err := db.Where("id = ?", seededClient.ID).Take(&linked).Error; err != nil {
		t.Fatalf("reload client: %v", err)
	}
	if linked.FactoCustomerId != "c-100" {
		t.Fatalf("expected client linked to c-100, got %q", linked.FactoCustomerId)
	}

	// Second replay of the same stored report must not double-write.
	again := factosync.CommitReport(ctx, report, nil)
	if len(again.Errors) != 0 {
		t.Fatalf("second commit errors: %+v", again.Errors)
	}
	if again.AbonnementsCreated != 0 {
		t.Fatalf("second commit created %d abonnements", again.AbonnementsCreated)
	}
	if again.HistoriquePrixCreated != 0 {
		t.Fatalf("second commit created %d price-history rows", again.HistoriquePrixCreated)
	}

	var abonnementCount, historyCount int64
	if err := db.Model(&models.Abonnement{}).Count(&abonnementCount).Error; err != nil {
		t.Fatalf("count abonnements: %v", err)
	}
	if abonnementCount != 2 {
		t.Fatalf("expected 2 abonnements, got %d", abonnementCount)
	}
	if err := db.Model(&models.PrixHistorique{}).Count(&historyCount).Error; err != nil {
		t.Fatalf("count prix historique: %v", err)
	}
	if historyCount != 1 {
		t.Fatalf("expected 1 prix historique row, got %d", historyCount)
	}

	var updatedLigne models.AbonnementLigne
	if err := db.Where("facto_line_id = ?", "l1").Take(&updatedLigne).Error; err != nil {
		t.Fatalf("reload ligne: %v", err)
	}
	if !updatedLigne.MontantHT.Equal(decimal.NewFromInt(130)) {
		t.Fatalf("expected ligne at 130, got %s", updatedLigne.MontantHT.String())
	}
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("cabinet-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-p", "127.0.0.1:0:6379",
		"redis:7-alpine",
	)
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "redis-cli", "ping")
		if err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("cabinet-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=cabinet_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	// Example: "127.0.0.1:49154\n"
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
