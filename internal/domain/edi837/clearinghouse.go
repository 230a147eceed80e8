package edi837

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AcknowledgmentStatus is the clearinghouse's overall verdict on a batch.
type AcknowledgmentStatus string

const (
	AckAccepted           AcknowledgmentStatus = "accepted"
	AckAcceptedWithErrors AcknowledgmentStatus = "accepted_with_errors"
	AckRejected           AcknowledgmentStatus = "rejected"
)

// PayerSummary is the per-payer accepted/denied tally in an acknowledgment.
type PayerSummary struct {
	PayerID   string `json:"payer_id"`
	PayerName string `json:"payer_name"`
	Accepted  int    `json:"accepted"`
	Denied    int    `json:"denied"`
}

// AcknowledgmentRaw echoes submission identifiers back for audit.
type AcknowledgmentRaw struct {
	FileName                 string `json:"file_name"`
	InterchangeControlNumber string `json:"interchange_control_number"`
}

// Acknowledgment is a clearinghouse response to one submitted interchange.
type Acknowledgment struct {
	ID             string               `json:"id"`
	Status         AcknowledgmentStatus `json:"status"`
	ReceivedAt     time.Time            `json:"received_at"`
	Notes          string               `json:"notes,omitempty"`
	PayerSummaries []PayerSummary       `json:"payer_summaries"`
	Raw            AcknowledgmentRaw    `json:"raw"`
}

// SubmissionPayload is everything a clearinghouse needs about one export.
type SubmissionPayload struct {
	Transaction *Transaction      `json:"transaction"`
	File        *ExportFileRecord `json:"file"`
	Claims      []*Claim          `json:"claims"`
}

// SubmissionResult is an acknowledgment plus itemized denials and the raw
// wire response for audit storage.
type SubmissionResult struct {
	Acknowledgment *Acknowledgment    `json:"acknowledgment"`
	Denials        []ClaimDenialInput `json:"denials"`
	RawResponse    json.RawMessage    `json:"raw_response"`
}

// ClearinghouseClient submits a generated 837P transaction to a payer
// network and returns the acknowledgment.
type ClearinghouseClient interface {
	Submit837(ctx context.Context, payload SubmissionPayload) (*SubmissionResult, error)
}

// DenialRule is a data-driven denial predicate: when Matches returns true
// for a claim, the sandbox denies it with Code and Reason.
type DenialRule struct {
	Code    string
	Reason  string
	Matches func(claim *Claim) bool
}

// PayerFixture configures one payer in the sandbox clearinghouse.
type PayerFixture struct {
	PayerID              string
	PayerName            string
	AcknowledgmentStatus AcknowledgmentStatus
	DenialRules          []DenialRule
}

// SandboxPayerFixtures returns the default payer set used for dry runs:
// Texas Medicaid denies 97155 lines missing the KH modifier, Aetna denies
// claims whose total charge exceeds $500, BCBS NY accepts everything.
func SandboxPayerFixtures() []PayerFixture {
	return []PayerFixture{
		{
			PayerID:              "MEDICAID_TX",
			PayerName:            "Texas Medicaid",
			AcknowledgmentStatus: AckAccepted,
			DenialRules: []DenialRule{
				{
					Code:   "CO16",
					Reason: "Missing KH modifier for adaptive behavior",
					Matches: func(claim *Claim) bool {
						for _, line := range claim.ServiceLines {
							if line.CPTCode == "97155" && !hasModifier(line, "KH") {
								return true
							}
						}
						return false
					},
				},
			},
		},
		{
			PayerID:              "AETNA_COMMERCIAL",
			PayerName:            "Aetna Commercial",
			AcknowledgmentStatus: AckAccepted,
			DenialRules: []DenialRule{
				{
					Code:   "CO45",
					Reason: "Charge exceeds payer maximum",
					Matches: func(claim *Claim) bool {
						return claim.TotalCharge() > 500
					},
				},
			},
		},
		{
			PayerID:              "BCBS_NY",
			PayerName:            "BlueCross BlueShield NY",
			AcknowledgmentStatus: AckAccepted,
		},
	}
}

func hasModifier(line ServiceLine, modifier string) bool {
	for _, m := range line.Modifiers {
		if m == modifier {
			return true
		}
	}
	return false
}

// SandboxClient is a deterministic, rule-driven ClearinghouseClient for
// testing and demos. It never performs network I/O.
type SandboxClient struct {
	fixtures map[string]PayerFixture
	now      func() time.Time
}

// NewSandboxClient builds a sandbox over the given payer fixtures. At least
// one fixture is required; a sandbox with no payers cannot acknowledge
// anything meaningfully.
func NewSandboxClient(fixtures []PayerFixture, now func() time.Time) (*SandboxClient, error) {
	if len(fixtures) == 0 {
		return nil, fmt.Errorf("edi837: at least one payer fixture is required for the clearinghouse sandbox")
	}
	if now == nil {
		now = time.Now
	}
	byID := make(map[string]PayerFixture, len(fixtures))
	for _, fixture := range fixtures {
		byID[fixture.PayerID] = fixture
	}
	return &SandboxClient{fixtures: byID, now: now}, nil
}

func payerIDForClaim(claim *Claim) string {
	if claim.Payer != nil && claim.Payer.ID != "" {
		return claim.Payer.ID
	}
	return "DEFAULT"
}

func (s *SandboxClient) fixtureForClaim(claim *Claim) PayerFixture {
	payerID := payerIDForClaim(claim)
	if fixture, ok := s.fixtures[payerID]; ok {
		return fixture
	}
	name := "Unknown Payer"
	if claim.Payer != nil && claim.Payer.Name != "" {
		name = claim.Payer.Name
	}
	return PayerFixture{PayerID: payerID, PayerName: name, AcknowledgmentStatus: AckAccepted}
}

func (s *SandboxClient) Submit837(_ context.Context, payload SubmissionPayload) (*SubmissionResult, error) {
	receivedAt := s.now()
	ackID := "ack_" + uuid.NewString()

	summaries := make(map[string]*PayerSummary)
	var order []string
	var denials []ClaimDenialInput

	for _, claim := range payload.Claims {
		fixture := s.fixtureForClaim(claim)

		summary, ok := summaries[fixture.PayerID]
		if !ok {
			summary = &PayerSummary{PayerID: fixture.PayerID, PayerName: fixture.PayerName}
			summaries[fixture.PayerID] = summary
			order = append(order, fixture.PayerID)
		}

		rule := firstMatchingRule(fixture.DenialRules, claim)
		if rule == nil {
			summary.Accepted++
			continue
		}

		summary.Denied++
		controlNumber := payload.Transaction.ClaimControlNumbers[claim.BillingRecord.ID]
		if controlNumber == "" {
			controlNumber = claim.BillingRecord.ClaimNumber
		}
		denials = append(denials, ClaimDenialInput{
			BillingRecordID:    claim.BillingRecord.ID,
			SessionID:          claim.SessionID,
			DenialCode:         rule.Code,
			Description:        rule.Reason,
			PayerControlNumber: fixture.PayerID + "-" + controlNumber,
			ReceivedAt:         receivedAt,
		})
	}

	summaryList := make([]PayerSummary, 0, len(order))
	var totalAccepted, totalDenied int
	for _, payerID := range order {
		summaryList = append(summaryList, *summaries[payerID])
		totalAccepted += summaries[payerID].Accepted
		totalDenied += summaries[payerID].Denied
	}

	status := s.resolveStatus(summaryList, totalAccepted, totalDenied)

	ack := &Acknowledgment{
		ID:             ackID,
		Status:         status,
		ReceivedAt:     receivedAt,
		Notes:          fmt.Sprintf("%d accepted, %d denied", totalAccepted, totalDenied),
		PayerSummaries: summaryList,
		Raw: AcknowledgmentRaw{
			FileName:                 payload.File.FileName,
			InterchangeControlNumber: payload.Transaction.InterchangeControlNumber,
		},
	}

	raw, err := json.Marshal(struct {
		Acknowledgment *Acknowledgment    `json:"acknowledgment"`
		Denials        []ClaimDenialInput `json:"denials"`
	}{ack, denials})
	if err != nil {
		return nil, fmt.Errorf("edi837: marshal sandbox response: %w", err)
	}

	return &SubmissionResult{Acknowledgment: ack, Denials: denials, RawResponse: raw}, nil
}

func firstMatchingRule(rules []DenialRule, claim *Claim) *DenialRule {
	for i := range rules {
		if rules[i].Matches != nil && rules[i].Matches(claim) {
			return &rules[i]
		}
	}
	return nil
}

// resolveStatus combines per-payer outcomes: everything denied means the
// batch is rejected, a mix means accepted_with_errors, and a clean batch
// falls back to the worst configured base status among the payers seen.
func (s *SandboxClient) resolveStatus(summaries []PayerSummary, totalAccepted, totalDenied int) AcknowledgmentStatus {
	if totalDenied == 0 {
		return s.baseStatus(summaries)
	}
	if totalAccepted == 0 {
		return AckRejected
	}
	return AckAcceptedWithErrors
}

func (s *SandboxClient) baseStatus(summaries []PayerSummary) AcknowledgmentStatus {
	if len(summaries) == 0 {
		return AckAccepted
	}
	worst := AckAccepted
	for _, summary := range summaries {
		status := AckAccepted
		if fixture, ok := s.fixtures[summary.PayerID]; ok && fixture.AcknowledgmentStatus != "" {
			status = fixture.AcknowledgmentStatus
		}
		switch status {
		case AckRejected:
			return AckRejected
		case AckAcceptedWithErrors:
			worst = AckAcceptedWithErrors
		}
	}
	return worst
}
