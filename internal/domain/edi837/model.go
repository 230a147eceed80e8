package edi837

import "time"

// ClaimStatus is the lifecycle state of a billing record.
type ClaimStatus string

const (
	StatusPending   ClaimStatus = "pending"
	StatusSubmitted ClaimStatus = "submitted"
	StatusPaid      ClaimStatus = "paid"
	StatusRejected  ClaimStatus = "rejected"
)

// ValidClaimStatus reports whether s is one of the known lifecycle states.
func ValidClaimStatus(s string) bool {
	switch ClaimStatus(s) {
	case StatusPending, StatusSubmitted, StatusPaid, StatusRejected:
		return true
	}
	return false
}

// Relationship of the patient to the subscriber, as stored on the claim.
type Relationship string

const (
	RelationshipSelf   Relationship = "self"
	RelationshipSpouse Relationship = "spouse"
	RelationshipChild  Relationship = "child"
	RelationshipOther  Relationship = "other"
)

// ServiceLine is one billable CPT entry on a claim.
//
// ServiceDate is kept as a string on purpose: a literal YYYY-MM-DD value
// must reach the wire with its dashes stripped, never round-tripped
// through a time.Time where the local zone could shift the day.
type ServiceLine struct {
	LineNumber    int      `json:"line_number"`
	CPTCode       string   `json:"cpt_code"`
	Modifiers     []string `json:"modifiers"`
	Units         int      `json:"units"`
	ChargeAmount  float64  `json:"charge_amount"`
	ServiceDate   string   `json:"service_date"`
	Description   string   `json:"description,omitempty"`
	BilledMinutes int      `json:"billed_minutes,omitempty"`
}

// BillingRecordSummary is the claim's billing record as the pipeline sees it.
type BillingRecordSummary struct {
	ID          string      `json:"id"`
	ClaimNumber string      `json:"claim_number"`
	Amount      float64     `json:"amount"`
	Status      ClaimStatus `json:"status"`
}

// Person is a subscriber or patient identity on a claim.
type Person struct {
	ID           string       `json:"id"`
	FirstName    string       `json:"first_name"`
	MiddleName   string       `json:"middle_name,omitempty"`
	LastName     string       `json:"last_name"`
	MemberID     string       `json:"member_id,omitempty"`
	DateOfBirth  string       `json:"date_of_birth,omitempty"`
	Gender       string       `json:"gender,omitempty"`
	Relationship Relationship `json:"relationship,omitempty"`
	AddressLine1 string       `json:"address_line1,omitempty"`
	AddressLine2 string       `json:"address_line2,omitempty"`
	City         string       `json:"city,omitempty"`
	State        string       `json:"state,omitempty"`
	PostalCode   string       `json:"postal_code,omitempty"`
	Phone        string       `json:"phone,omitempty"`
}

// Provider is a billing or rendering provider. Organization providers set
// OrganizationName; individual providers set First/LastName.
type Provider struct {
	ID               string `json:"id"`
	OrganizationName string `json:"organization_name,omitempty"`
	FirstName        string `json:"first_name,omitempty"`
	LastName         string `json:"last_name,omitempty"`
	NPI              string `json:"npi,omitempty"`
	TaxonomyCode     string `json:"taxonomy_code,omitempty"`
	TaxID            string `json:"tax_id,omitempty"`
	AddressLine1     string `json:"address_line1,omitempty"`
	AddressLine2     string `json:"address_line2,omitempty"`
	City             string `json:"city,omitempty"`
	State            string `json:"state,omitempty"`
	PostalCode       string `json:"postal_code,omitempty"`
	Phone            string `json:"phone,omitempty"`
}

// Payer identifies the payer a claim is billed against.
type Payer struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Claim is one claim ready for inclusion in an 837P transaction. The
// repository only returns claims that carry at least one service line with
// a non-empty procedure code.
type Claim struct {
	SessionID          string               `json:"session_id"`
	ServiceDate        string               `json:"service_date"`
	PlaceOfServiceCode string               `json:"place_of_service_code,omitempty"`
	DiagnosisCodes     []string             `json:"diagnosis_codes"`
	Subscriber         Person               `json:"subscriber"`
	Patient            Person               `json:"patient"`
	BillingProvider    Provider             `json:"billing_provider"`
	RenderingProvider  Provider             `json:"rendering_provider"`
	BillingRecord      BillingRecordSummary `json:"billing_record"`
	ServiceLines       []ServiceLine        `json:"service_lines"`
	Payer              *Payer               `json:"payer,omitempty"`
}

// TotalCharge sums the claim's service-line charges.
func (c *Claim) TotalCharge() float64 {
	var total float64
	for _, line := range c.ServiceLines {
		total += line.ChargeAmount
	}
	return total
}

// ClaimStatusUpdate is one entry in the append-only status history. The
// current status of a billing record is the projection of its latest entry.
type ClaimStatusUpdate struct {
	BillingRecordID    string      `json:"billing_record_id"`
	SessionID          string      `json:"session_id"`
	Status             ClaimStatus `json:"status"`
	ExportFileID       string      `json:"export_file_id,omitempty"`
	ClaimControlNumber string      `json:"claim_control_number,omitempty"`
	Notes              string      `json:"notes,omitempty"`
	EffectiveAt        time.Time   `json:"effective_at"`
}

// ExportFileRecord is the persisted export artifact. It is created once per
// successful export and never modified afterwards.
type ExportFileRecord struct {
	ID                          string    `json:"id"`
	CreatedAt                   time.Time `json:"created_at"`
	FileName                    string    `json:"file_name"`
	Checksum                    string    `json:"checksum"`
	ClaimCount                  int       `json:"claim_count"`
	InterchangeControlNumber    string    `json:"interchange_control_number"`
	GroupControlNumber          string    `json:"group_control_number"`
	TransactionSetControlNumber string    `json:"transaction_set_control_number"`
}

// SaveExportFileInput carries the generated interchange to the repository.
type SaveExportFileInput struct {
	Content                     string `json:"content"`
	FileName                    string `json:"file_name"`
	InterchangeControlNumber    string `json:"interchange_control_number"`
	GroupControlNumber          string `json:"group_control_number"`
	TransactionSetControlNumber string `json:"transaction_set_control_number"`
	ClaimCount                  int    `json:"claim_count"`
	Checksum                    string `json:"checksum"`
}

// ClaimDenialInput is a denial as reported by a payer or clearinghouse.
type ClaimDenialInput struct {
	BillingRecordID    string    `json:"billing_record_id"`
	SessionID          string    `json:"session_id"`
	DenialCode         string    `json:"denial_code"`
	Description        string    `json:"description,omitempty"`
	PayerControlNumber string    `json:"payer_control_number,omitempty"`
	ReceivedAt         time.Time `json:"received_at"`
}

// ClaimDenialRecord is a persisted denial. Denials are append-only; one
// claim may accumulate several over its lifetime.
type ClaimDenialRecord struct {
	ClaimDenialInput
	ID         string    `json:"id"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Transaction is the output of the 837P generator.
type Transaction struct {
	Content                     string            `json:"content"`
	InterchangeControlNumber    string            `json:"interchange_control_number"`
	GroupControlNumber          string            `json:"group_control_number"`
	TransactionSetControlNumber string            `json:"transaction_set_control_number"`
	ClaimControlNumbers         map[string]string `json:"claim_control_numbers"`
	CreatedAt                   time.Time         `json:"created_at"`
}
