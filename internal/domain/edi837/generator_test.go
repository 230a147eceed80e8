package edi837

import (
	"math/rand"
	"strconv"
	"strings"
	"testing"
	"time"
)

func sampleClaim() *Claim {
	person := Person{
		ID:           "client-001",
		FirstName:    "Jamie",
		LastName:     "Smith",
		MiddleName:   "A",
		MemberID:     "MEM123",
		DateOfBirth:  "2014-05-06",
		Gender:       "F",
		Relationship: RelationshipSelf,
		AddressLine1: "123 Main St",
		City:         "Austin",
		State:        "TX",
		PostalCode:   "78701",
		Phone:        "5125550000",
	}
	return &Claim{
		SessionID:          "session-123",
		ServiceDate:        "2025-01-02T15:00:00.000Z",
		PlaceOfServiceCode: "11",
		DiagnosisCodes:     []string{"F84.0", "R62.5"},
		Subscriber:         person,
		Patient:            person,
		BillingProvider: Provider{
			ID:               "provider-01",
			OrganizationName: "Apex Therapy",
			FirstName:        "Alex",
			LastName:         "Doe",
			NPI:              "1234567890",
			TaxonomyCode:     "103K00000X",
			TaxID:            "12-3456789",
			AddressLine1:     "456 Care Way",
			City:             "Austin",
			State:            "TX",
			PostalCode:       "78702",
			Phone:            "5125559999",
		},
		RenderingProvider: Provider{
			ID:           "provider-01",
			FirstName:    "Alex",
			LastName:     "Doe",
			NPI:          "1234567890",
			TaxonomyCode: "103K00000X",
			TaxID:        "12-3456789",
			AddressLine1: "456 Care Way",
			City:         "Austin",
			State:        "TX",
			PostalCode:   "78702",
			Phone:        "5125559999",
		},
		BillingRecord: BillingRecordSummary{
			ID:          "billing-001",
			ClaimNumber: "CLM1",
			Amount:      120,
			Status:      StatusPending,
		},
		ServiceLines: []ServiceLine{
			{
				LineNumber:    1,
				CPTCode:       "97153",
				Modifiers:     []string{"GT"},
				Units:         2,
				ChargeAmount:  120,
				ServiceDate:   "2025-01-02",
				Description:   "Adaptive behavior treatment",
				BilledMinutes: 60,
			},
		},
	}
}

func fixedOptions() GeneratorOptions {
	return GeneratorOptions{
		SenderID:                    "SENDERID",
		ReceiverID:                  "RECEIVERID",
		UsageIndicator:              "T",
		InterchangeControlNumber:    "000000123",
		GroupControlNumber:          "000000456",
		TransactionSetControlNumber: "0001",
		Now:                         time.Date(2025, 2, 3, 10, 30, 0, 0, time.UTC),
	}
}

func splitSegments(content string) []string {
	var segments []string
	for _, s := range strings.Split(content, "~") {
		if s != "" {
			segments = append(segments, s)
		}
	}
	return segments
}

func containsSegment(segments []string, want string) bool {
	for _, s := range segments {
		if s == want {
			return true
		}
	}
	return false
}

func TestBuild837PEnvelope(t *testing.T) {
	transaction, err := Build837P([]*Claim{sampleClaim()}, fixedOptions())
	if err != nil {
		t.Fatalf("Build837P returned error: %v", err)
	}

	if transaction.InterchangeControlNumber != "000000123" {
		t.Errorf("InterchangeControlNumber = %q, want 000000123", transaction.InterchangeControlNumber)
	}
	if got := transaction.ClaimControlNumbers["billing-001"]; got != "CLM1" {
		t.Errorf("ClaimControlNumbers[billing-001] = %q, want CLM1", got)
	}

	segments := splitSegments(transaction.Content)
	if !strings.HasPrefix(segments[0], "ISA*00*") {
		t.Errorf("first segment = %q, want ISA*00* prefix", segments[0])
	}

	var hasGS bool
	for _, s := range segments {
		if strings.HasPrefix(s, "GS*HC*SENDERID*RECEIVERID*") {
			hasGS = true
		}
	}
	if !hasGS {
		t.Error("missing GS*HC*SENDERID*RECEIVERID* segment")
	}

	for _, want := range []string{
		"ST*837*0001*005010X222A1",
		"NM1*85*2*APEX THERAPY*****XX*1234567890",
		"CLM*CLM1*120.00***11:B:1*Y*A*Y*I*P*11",
		"SV1*HC:97153:GT*120.00*UN*2***1",
		"DTP*472*D8*20250102",
		"REF*EI*123456789",
		"PRV*BI*PXC*103K00000X",
		"HI*ABK:F840*ABK:R625",
		"SBR*P*18******CI",
		"GE*1*000000456",
		"IEA*1*000000123",
	} {
		if !containsSegment(segments, want) {
			t.Errorf("missing segment %q", want)
		}
	}

	var hasRendering bool
	for _, s := range segments {
		if strings.HasPrefix(s, "NM1*82*1*DOE*ALEX*") {
			hasRendering = true
		}
	}
	if !hasRendering {
		t.Error("missing rendering provider NM1*82*1*DOE*ALEX* segment")
	}

	if !strings.HasSuffix(transaction.Content, "~") {
		t.Error("content should end with the segment terminator")
	}
}

func TestBuild837PEmptyClaims(t *testing.T) {
	if _, err := Build837P(nil, fixedOptions()); err == nil {
		t.Fatal("expected error for empty claim list")
	}
}

func TestBuild837PDeterministicWithSeededRand(t *testing.T) {
	opts := GeneratorOptions{
		SenderID:   "SENDERID",
		ReceiverID: "RECEIVERID",
		Rand:       rand.New(rand.NewSource(42)),
		Now:        time.Date(2025, 2, 3, 10, 30, 0, 0, time.UTC),
	}
	first, err := Build837P([]*Claim{sampleClaim()}, opts)
	if err != nil {
		t.Fatalf("Build837P returned error: %v", err)
	}

	opts.Rand = rand.New(rand.NewSource(42))
	second, err := Build837P([]*Claim{sampleClaim()}, opts)
	if err != nil {
		t.Fatalf("Build837P returned error: %v", err)
	}

	if first.Content != second.Content {
		t.Error("same seed should produce identical content")
	}
	if len(first.InterchangeControlNumber) != 9 {
		t.Errorf("generated interchange control number %q should be 9 digits", first.InterchangeControlNumber)
	}
	if first.TransactionSetControlNumber != "0001" {
		t.Errorf("default transaction set control number = %q, want 0001", first.TransactionSetControlNumber)
	}
}

func TestBuild837PSyntheticClaimControlNumber(t *testing.T) {
	claim := sampleClaim()
	claim.BillingRecord.ClaimNumber = ""

	transaction, err := Build837P([]*Claim{claim}, fixedOptions())
	if err != nil {
		t.Fatalf("Build837P returned error: %v", err)
	}

	if got := transaction.ClaimControlNumbers["billing-001"]; got != "00010001" {
		t.Errorf("synthetic control number = %q, want 00010001", got)
	}
}

func TestBuild837PHLHierarchy(t *testing.T) {
	first := sampleClaim()
	second := sampleClaim()
	second.BillingRecord.ID = "billing-002"
	second.BillingRecord.ClaimNumber = "CLM2"
	second.SessionID = "session-456"

	transaction, err := Build837P([]*Claim{first, second}, fixedOptions())
	if err != nil {
		t.Fatalf("Build837P returned error: %v", err)
	}

	segments := splitSegments(transaction.Content)
	var hls []string
	for _, s := range segments {
		if strings.HasPrefix(s, "HL*") {
			hls = append(hls, s)
		}
	}

	want := []string{
		"HL*1**20*1",
		"HL*2*1*22*0",
		"HL*3*2*23*0",
		"HL*4*1*22*0",
		"HL*5*4*23*0",
	}
	if len(hls) != len(want) {
		t.Fatalf("got %d HL segments, want %d", len(hls), len(want))
	}
	for i := range want {
		if hls[i] != want[i] {
			t.Errorf("HL segment %d = %q, want %q", i, hls[i], want[i])
		}
	}
}

func TestBuild837PSECount(t *testing.T) {
	transaction, err := Build837P([]*Claim{sampleClaim()}, fixedOptions())
	if err != nil {
		t.Fatalf("Build837P returned error: %v", err)
	}

	segments := splitSegments(transaction.Content)
	var se string
	var counted int
	var inTransaction bool
	for _, s := range segments {
		if strings.HasPrefix(s, "ST*") {
			inTransaction = true
		}
		if inTransaction {
			counted++
		}
		if strings.HasPrefix(s, "SE*") {
			se = s
			break
		}
	}
	if se == "" {
		t.Fatal("missing SE segment")
	}

	elements := strings.Split(se, "*")
	if got := elements[1]; got != strconv.Itoa(counted) {
		t.Errorf("SE01 = %s, want %d (ST through SE inclusive)", got, counted)
	}
	if elements[2] != "0001" {
		t.Errorf("SE02 = %q, want 0001", elements[2])
	}
}

func TestBuildSBRRelationships(t *testing.T) {
	tests := []struct {
		relationship Relationship
		want         string
	}{
		{RelationshipSelf, "SBR*P*18******CI"},
		{"", "SBR*P*18******CI"},
		{RelationshipSpouse, "SBR*S*01******CI"},
		{RelationshipChild, "SBR*S*19******CI"},
		{RelationshipOther, "SBR*S*34******CI"},
	}
	for _, tt := range tests {
		claim := sampleClaim()
		claim.Subscriber.Relationship = tt.relationship
		if got := buildSBR(claim); got != tt.want {
			t.Errorf("buildSBR(%q) = %q, want %q", tt.relationship, got, tt.want)
		}
	}
}

func TestFormatDateValue(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"2025-01-02", "20250102"},
		{"2025-01-02T15:00:00Z", "20250102"},
		{"2025-01-02T15:00:00.000Z", "20250102"},
		{"not a date", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := formatDateValue(tt.in); got != tt.want {
			t.Errorf("formatDateValue(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestServiceLineDateFallback(t *testing.T) {
	claim := sampleClaim()
	claim.ServiceLines[0].ServiceDate = ""

	transaction, err := Build837P([]*Claim{claim}, fixedOptions())
	if err != nil {
		t.Fatalf("Build837P returned error: %v", err)
	}

	// Falls back to the claim's service date.
	if !containsSegment(splitSegments(transaction.Content), "DTP*472*D8*20250102") {
		t.Error("service line should fall back to the claim service date")
	}
}

func TestServiceLineUnitsFloor(t *testing.T) {
	claim := sampleClaim()
	claim.ServiceLines[0].Units = 0

	transaction, err := Build837P([]*Claim{claim}, fixedOptions())
	if err != nil {
		t.Fatalf("Build837P returned error: %v", err)
	}

	if !containsSegment(splitSegments(transaction.Content), "SV1*HC:97153:GT*120.00*UN*1***1") {
		t.Error("units below 1 should be floored to 1")
	}
}

func TestDiagnosisCodesCappedAtTwelve(t *testing.T) {
	claim := sampleClaim()
	claim.DiagnosisCodes = nil
	for i := 0; i < 15; i++ {
		claim.DiagnosisCodes = append(claim.DiagnosisCodes, "F84.0")
	}

	transaction, err := Build837P([]*Claim{claim}, fixedOptions())
	if err != nil {
		t.Fatalf("Build837P returned error: %v", err)
	}

	for _, s := range splitSegments(transaction.Content) {
		if strings.HasPrefix(s, "HI*") {
			if got := strings.Count(s, "ABK:"); got != 12 {
				t.Errorf("HI segment carries %d diagnoses, want 12", got)
			}
			return
		}
	}
	t.Fatal("missing HI segment")
}

func TestSanitizationStripsWireCharacters(t *testing.T) {
	claim := sampleClaim()
	claim.Subscriber.LastName = "Smi*th~:^"

	transaction, err := Build837P([]*Claim{claim}, fixedOptions())
	if err != nil {
		t.Fatalf("Build837P returned error: %v", err)
	}

	if !containsSegment(splitSegments(transaction.Content), "NM1*IL*1*SMITH*JAMIE*A***MI*MEM123") {
		t.Error("wire characters should be stripped from names")
	}
}
