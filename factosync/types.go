package factosync

import (
	"encoding/json"

	"bitbucket.org/fidunova/cabinet_backend/models"
	"github.com/shopspring/decimal"
)

// Subscription statuses as Facto reports them. They map 1:1 onto
// models.AbonnementStatus.
const (
	StatusNotStarted = "not_started"
	StatusInProgress = "in_progress"
	StatusStopped    = "stopped"
	StatusFinished   = "finished"
)

// Customer is the strict internal form of one Facto customer, produced by the
// ingestion boundary. Immutable within one sync run.
type Customer struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Siren     string `json:"siren"`
	Reference string `json:"reference"`
	Archived  bool   `json:"archived"`
}

// Subscription is the strict internal form of one Facto subscription.
type Subscription struct {
	ID         string          `json:"id"`
	CustomerId string          `json:"customer_id"`
	Label      string          `json:"label"`
	Status     string          `json:"status"`
	Frequency  string          `json:"frequency"`
	Interval   int             `json:"interval"`
	TotalHT    decimal.Decimal `json:"total_ht"`
	Lines      []Line          `json:"lines"`
}

type Line struct {
	ID        string          `json:"id"`
	Label     string          `json:"label"`
	Quantity  decimal.Decimal `json:"quantity"`
	MontantHT decimal.Decimal `json:"montant_ht"`
}

// CustomerRecord pairs a customer with its subscriptions for one sync run.
type CustomerRecord struct {
	Customer      Customer       `json:"customer"`
	Subscriptions []Subscription `json:"subscriptions"`
}

// MatchLevel is one rule of the matching cascade, strongest first.
type MatchLevel string

const (
	MatchLevelUUID             MatchLevel = "uuid"
	MatchLevelSiren            MatchLevel = "siren"
	MatchLevelNameExact        MatchLevel = "name_exact"
	MatchLevelNameClean        MatchLevel = "name_clean"
	MatchLevelNamePartial      MatchLevel = "name_partial"
	MatchLevelNameCleanPartial MatchLevel = "name_clean_partial"
)

var matchLevelLabels = map[MatchLevel]string{
	MatchLevelUUID:             "Référence externe",
	MatchLevelSiren:            "SIREN",
	MatchLevelNameExact:        "Nom exact",
	MatchLevelNameClean:        "Nom (forme juridique ignorée)",
	MatchLevelNamePartial:      "Nom partiel",
	MatchLevelNameCleanPartial: "Nom partiel (forme juridique ignorée)",
}

func (l MatchLevel) Label() string {
	return matchLevelLabels[l]
}

// Weak reports whether the level is one of the partial tiers that warrant a
// weak_match anomaly.
func (l MatchLevel) Weak() bool {
	return l == MatchLevelNamePartial || l == MatchLevelNameCleanPartial
}

// CabinetChange records a detected cabinet reassignment: the matched client
// is stored under a different cabinet than the one whose credential returned
// the customer.
type CabinetChange struct {
	FromCabinetId uint `json:"from_cabinet_id"`
	ToCabinetId   uint `json:"to_cabinet_id"`
}

// MatchResult resolves one external customer to zero-or-one local client.
type MatchResult struct {
	Customer      Customer       `json:"customer"`
	Client        *models.Client `json:"client"`
	Level         MatchLevel     `json:"level"`
	LevelLabel    string         `json:"level_label"`
	CabinetChange *CabinetChange `json:"cabinet_change,omitempty"`
}

// MatchOutcome is the full matcher output for one cabinet.
type MatchOutcome struct {
	Matches               []MatchResult   `json:"matches"`
	ClientsNew            []Customer      `json:"clients_new"`
	ClientsMissing        []models.Client `json:"clients_missing"`
	ClientsNoSubscription []Customer      `json:"clients_no_subscription"`
}

// FieldChange is one changed subscription header field, typed old → new.
type FieldChange struct {
	Old any `json:"old"`
	New any `json:"new"`
}

// SubscriptionNew is an external subscription with no local mirror yet.
// Sub carries the full external state so commit can create the mirror from
// the stored report alone.
type SubscriptionNew struct {
	ClientId   uint         `json:"client_id"`
	ClientName string       `json:"client_name"`
	Sub        Subscription `json:"sub"`
}

// SubscriptionUpdated is a correlated pair whose header fields differ.
type SubscriptionUpdated struct {
	AbonnementId uint                   `json:"abonnement_id"`
	ClientName   string                 `json:"client_name"`
	Sub          Subscription           `json:"sub"`
	Changes      map[string]FieldChange `json:"changes"`
}

// SubscriptionDisappeared is a local mirror whose external counterpart is
// gone. Amounts are the locally stored values.
type SubscriptionDisappeared struct {
	AbonnementId        uint                    `json:"abonnement_id"`
	FactoSubscriptionId string                  `json:"facto_subscription_id"`
	ClientName          string                  `json:"client_name"`
	Label               string                  `json:"label"`
	Status              models.AbonnementStatus `json:"status"`
	TotalHT             decimal.Decimal         `json:"total_ht"`
}

type SubscriptionStatusChanged struct {
	AbonnementId uint         `json:"abonnement_id"`
	ClientName   string       `json:"client_name"`
	Sub          Subscription `json:"sub"`
	OldStatus    string       `json:"old_status"`
	NewStatus    string       `json:"new_status"`
}

// LineModified is a correlated line whose amount changed. DeltaPct is nil
// when the old amount is zero.
type LineModified struct {
	LigneId      uint             `json:"ligne_id"`
	AbonnementId uint             `json:"abonnement_id"`
	ClientName   string           `json:"client_name"`
	Label        string           `json:"label"`
	OldMontantHT decimal.Decimal  `json:"old_montant_ht"`
	NewMontantHT decimal.Decimal  `json:"new_montant_ht"`
	DeltaHT      decimal.Decimal  `json:"delta_ht"`
	DeltaPct     *decimal.Decimal `json:"delta_pct,omitempty"`
}

type LineNew struct {
	AbonnementId uint   `json:"abonnement_id"`
	ClientName   string `json:"client_name"`
	Line         Line   `json:"line"`
}

type LineRemoved struct {
	LigneId      uint            `json:"ligne_id"`
	AbonnementId uint            `json:"abonnement_id"`
	ClientName   string          `json:"client_name"`
	Label        string          `json:"label"`
	MontantHT    decimal.Decimal `json:"montant_ht"`
}

// DiffResult is the categorized delta set for one matched client.
type DiffResult struct {
	New            []SubscriptionNew           `json:"new"`
	Updated        []SubscriptionUpdated       `json:"updated"`
	Disappeared    []SubscriptionDisappeared   `json:"disappeared"`
	StatusChanged  []SubscriptionStatusChanged `json:"status_changed"`
	LignesModified []LineModified              `json:"lignes_modified"`
	LignesNew      []LineNew                   `json:"lignes_new"`
	LignesRemoved  []LineRemoved               `json:"lignes_removed"`
}

// ClientDiff bundles everything the classifier and report builder need about
// one matched customer/client pair.
type ClientDiff struct {
	Match        MatchResult    `json:"match"`
	ExternalSubs []Subscription `json:"external_subs"`
	Diff         DiffResult     `json:"diff"`
}

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// severityRank orders severities for display, highest first.
func severityRank(s Severity) int {
	switch s {
	case SeverityError:
		return 0
	case SeverityWarning:
		return 1
	default:
		return 2
	}
}

type AnomalyType string

const (
	AnomalyWeakMatch                AnomalyType = "weak_match"
	AnomalySubscriptionsDisappeared AnomalyType = "subscriptions_disappeared"
	AnomalyPriceVariationHigh       AnomalyType = "price_variation_high"
	AnomalyInactiveWithSubs         AnomalyType = "inactive_with_subscriptions"
)

// Anomaly is a data-quality finding for human review. Anomalies are data,
// never errors: they are always reported and never auto-resolved.
type Anomaly struct {
	Type     AnomalyType    `json:"type"`
	Severity Severity       `json:"severity"`
	Message  string         `json:"message"`
	Details  map[string]any `json:"details,omitempty"`
}

// Summary rolls up one report's counts. TotalDeltaHT is the sum of every
// LineModified delta, rounded to 2 decimals.
type Summary struct {
	ClientsMatched         int              `json:"clients_matched"`
	ClientsNew             int              `json:"clients_new"`
	ClientsMissing         int              `json:"clients_missing"`
	ClientsNoSubscription  int              `json:"clients_no_subscription"`
	AbonnementsNew         int              `json:"abonnements_new"`
	AbonnementsUpdated     int              `json:"abonnements_updated"`
	AbonnementsDisappeared int              `json:"abonnements_disappeared"`
	StatusChanges          int              `json:"status_changes"`
	LignesModified         int              `json:"lignes_modified"`
	LignesNew              int              `json:"lignes_new"`
	LignesRemoved          int              `json:"lignes_removed"`
	BySeverity             map[Severity]int `json:"by_severity"`
	TotalDeltaHT           decimal.Decimal  `json:"total_delta_ht"`
}

// CabinetReport is the immutable preview report for one cabinet. List order
// follows the source iteration order of external subscriptions; nothing is
// re-sorted here.
type CabinetReport struct {
	CabinetId             uint                        `json:"cabinet_id"`
	CabinetName           string                      `json:"cabinet_name"`
	Matches               []MatchResult               `json:"matches"`
	ClientsNew            []Customer                  `json:"clients_new"`
	ClientsMissing        []models.Client             `json:"clients_missing"`
	ClientsNoSubscription []Customer                  `json:"clients_no_subscription"`
	AbonnementsNew        []SubscriptionNew           `json:"abonnements_new"`
	AbonnementsUpdated    []SubscriptionUpdated       `json:"abonnements_updated"`
	Disappeared           []SubscriptionDisappeared   `json:"disappeared"`
	StatusChanges         []SubscriptionStatusChanged `json:"status_changes"`
	LignesModified        []LineModified              `json:"lignes_modified"`
	LignesNew             []LineNew                   `json:"lignes_new"`
	LignesRemoved         []LineRemoved               `json:"lignes_removed"`
	Anomalies             []Anomaly                   `json:"anomalies"`
	Summary               Summary                     `json:"summary"`
}

// PreviewReport is the UI-facing aggregation across cabinets. PerCabinet
// retains the original reports so commit can replay cabinet by cabinet;
// merging never loses which cabinet a record came from.
type PreviewReport struct {
	CabinetReport
	PerCabinet []CabinetReport `json:"per_cabinet"`
}

func DecodePreviewReport(raw []byte) (*PreviewReport, error) {
	var report PreviewReport
	if err := json.Unmarshal(raw, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

func EncodePreviewReport(report *PreviewReport) []byte {
	b, _ := json.Marshal(report)
	return b
}

// CommitCounters are the per-cabinet write counts.
type CommitCounters struct {
	CustomersMatched      int `json:"customersMatched"`
	CustomersNotMatched   int `json:"customersNotMatched"`
	AbonnementsCreated    int `json:"abonnementsCreated"`
	AbonnementsUpdated    int `json:"abonnementsUpdated"`
	LignesCreated         int `json:"lignesCreated"`
	LignesRemoved         int `json:"lignesRemoved"`
	HistoriquePrixCreated int `json:"historiquePrixCreated"`
}

func (c *CommitCounters) add(other CommitCounters) {
	c.CustomersMatched += other.CustomersMatched
	c.CustomersNotMatched += other.CustomersNotMatched
	c.AbonnementsCreated += other.AbonnementsCreated
	c.AbonnementsUpdated += other.AbonnementsUpdated
	c.LignesCreated += other.LignesCreated
	c.LignesRemoved += other.LignesRemoved
	c.HistoriquePrixCreated += other.HistoriquePrixCreated
}

const (
	CabinetCommitPending = "pending"
	CabinetCommitWriting = "writing"
	CabinetCommitDone    = "done"
	CabinetCommitFailed  = "failed"
)

// CabinetCommitOutcome is one cabinet's replay result, recorded whether the
// cabinet succeeded or failed.
type CabinetCommitOutcome struct {
	CabinetId   uint           `json:"cabinet_id"`
	CabinetName string         `json:"cabinet_name"`
	Status      string         `json:"status"`
	Counters    CommitCounters `json:"counters"`
	Error       string         `json:"error,omitempty"`
}

type CommitError struct {
	CabinetId   uint   `json:"cabinet_id"`
	CabinetName string `json:"cabinet_name"`
	Message     string `json:"message"`
}

// CommitResult aggregates every cabinet's outcome. The commit engine always
// returns a result, never an error, so callers can inspect partial success.
type CommitResult struct {
	CommitCounters
	UnmatchedCustomers      []Customer             `json:"unmatched_customers"`
	NoSubscriptionCustomers []Customer             `json:"no_subscription_customers"`
	Errors                  []CommitError          `json:"errors"`
	PerCabinet              []CabinetCommitOutcome `json:"per_cabinet"`
}

// RunPayload is the pubsub message that triggers run processing.
type RunPayload struct {
	RunId uint   `json:"run_id"`
	Phase string `json:"phase"`
}

// PubSubPushEnvelope is the push-delivery wrapper Google sends.
type PubSubPushEnvelope struct {
	Message struct {
		Data []byte `json:"data"`
		ID   string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

func DecodeCabinetIds(raw []byte) []uint {
	if len(raw) == 0 {
		return nil
	}
	var ids []uint
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil
	}
	return ids
}

func EncodeCabinetIds(ids []uint) []byte {
	b, _ := json.Marshal(ids)
	return b
}
