package edi837

import (
	"fmt"
	"math/rand"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// X12 envelope delimiters. These are fixed for every interchange we emit;
// free text is sanitized so none of them can appear inside an element.
const (
	segmentTerminator   = "~"
	elementSeparator    = "*"
	subElementSeparator = ":"
	repetitionSeparator = "^"

	versionCode      = "005010X222A1"
	interchangeVersn = "00501"
)

// GeneratorOptions configures one 837P build. Control numbers left empty are
// generated from Rand (or the package default source) at the required width;
// supplying them makes the output fully deterministic.
type GeneratorOptions struct {
	SenderID   string
	ReceiverID string
	// UsageIndicator is ISA15: "T" for test (default) or "P" for production.
	UsageIndicator              string
	InterchangeControlNumber    string
	GroupControlNumber          string
	TransactionSetControlNumber string
	// Rand supplies control numbers when none are given.
	Rand *rand.Rand
	// Now overrides the interchange creation time; zero means time.Now().
	Now time.Time
}

var (
	alphaNumericRe = regexp.MustCompile(`[^0-9A-Za-z]`)
	wireCharsRe    = regexp.MustCompile(`[~*^:]`)
	literalDateRe  = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
)

func sanitizeAlphaNumeric(value string) string {
	return alphaNumericRe.ReplaceAllString(value, "")
}

func sanitizeText(value string) string {
	return strings.TrimSpace(wireCharsRe.ReplaceAllString(value, ""))
}

func padRight(value string, length int) string {
	if len(value) >= length {
		return value[:length]
	}
	return value + strings.Repeat(" ", length-len(value))
}

func toCurrency(amount float64) string {
	return strconv.FormatFloat(amount, 'f', 2, 64)
}

func formatDate(t time.Time) string      { return t.Format("20060102") }
func formatDateShort(t time.Time) string { return t.Format("060102") }
func formatTime(t time.Time) string      { return t.Format("1504") }

// formatDateValue renders a stored date string as CCYYMMDD. A literal
// YYYY-MM-DD value has its dashes stripped rather than being parsed, so the
// emitted day can never drift across a timezone boundary.
func formatDateValue(value string) string {
	if literalDateRe.MatchString(value) {
		return strings.ReplaceAll(value, "-", "")
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return formatDate(t)
	}
	return ""
}

func generateControlNumber(r *rand.Rand, length int) string {
	max := int64(1)
	for i := 0; i < length; i++ {
		max *= 10
	}
	return fmt.Sprintf("%0*d", length, r.Int63n(max))
}

// joinElements joins segment elements with "*". Empty trailing elements are
// kept; payer parsers rely on the positional layout.
func joinElements(values ...string) string {
	return strings.Join(values, elementSeparator)
}

func buildSubscriberNM1(claim *Claim) string {
	sub := claim.Subscriber
	lastName := strings.ToUpper(sanitizeText(sub.LastName))
	firstName := strings.ToUpper(sanitizeText(sub.FirstName))
	middle := strings.ToUpper(sanitizeText(sub.MiddleName))
	if lastName == "" {
		lastName = "UNKNOWN"
	}
	if firstName == "" {
		firstName = "UNKNOWN"
	}
	id := sub.MemberID
	if id == "" {
		id = sub.ID
	}
	return joinElements("NM1", "IL", "1", lastName, firstName, middle, "", "", "MI", sanitizeAlphaNumeric(id))
}

func buildPatientNM1(claim *Claim) string {
	pat := claim.Patient
	lastName := strings.ToUpper(sanitizeText(pat.LastName))
	firstName := strings.ToUpper(sanitizeText(pat.FirstName))
	middle := strings.ToUpper(sanitizeText(pat.MiddleName))
	if lastName == "" {
		lastName = "UNKNOWN"
	}
	if firstName == "" {
		firstName = "UNKNOWN"
	}
	return joinElements("NM1", "QC", "1", lastName, firstName, middle)
}

// buildProviderNM1 emits NM1 loop 2010AA (qualifier "85", billing) or 2310B
// (qualifier "82", rendering). Organizations use entity type 2, individuals
// entity type 1; both identify with XX/NPI.
func buildProviderNM1(qualifier string, provider Provider) string {
	npi := provider.NPI
	if npi == "" {
		npi = provider.ID
	}
	npi = sanitizeAlphaNumeric(npi)

	if name := strings.ToUpper(sanitizeText(provider.OrganizationName)); name != "" {
		return joinElements("NM1", qualifier, "2", name, "", "", "", "", "XX", npi)
	}

	lastName := strings.ToUpper(sanitizeText(provider.LastName))
	firstName := strings.ToUpper(sanitizeText(provider.FirstName))
	if lastName == "" {
		lastName = "UNKNOWN"
	}
	if firstName == "" {
		firstName = "UNKNOWN"
	}
	return joinElements("NM1", qualifier, "1", lastName, firstName, "", "", "", "XX", npi)
}

type postalAddress struct {
	line1, line2, city, state, postal string
}

func providerAddress(p Provider) postalAddress {
	return postalAddress{p.AddressLine1, p.AddressLine2, p.City, p.State, p.PostalCode}
}

func personAddress(p Person) postalAddress {
	return postalAddress{p.AddressLine1, p.AddressLine2, p.City, p.State, p.PostalCode}
}

func buildAddressSegments(addr postalAddress) []string {
	line1 := sanitizeText(addr.line1)
	line2 := sanitizeText(addr.line2)
	city := sanitizeText(addr.city)
	state := strings.ToUpper(sanitizeText(addr.state))
	postal := sanitizeAlphaNumeric(addr.postal)

	var segments []string
	if line1 != "" || line2 != "" {
		if line1 == "" {
			line1 = "UNKNOWN"
		}
		segments = append(segments, joinElements("N3", line1, line2))
	}
	if city != "" || state != "" || postal != "" {
		if city == "" {
			city = "UNKNOWN"
		}
		segments = append(segments, joinElements("N4", city, state, postal))
	}
	return segments
}

func buildSBR(claim *Claim) string {
	rel := claim.Subscriber.Relationship
	if rel == "" || rel == RelationshipSelf {
		return joinElements("SBR", "P", "18", "", "", "", "", "", "CI")
	}
	code := "34"
	switch rel {
	case RelationshipSpouse:
		code = "01"
	case RelationshipChild:
		code = "19"
	}
	return joinElements("SBR", "S", code, "", "", "", "", "", "CI")
}

func formatDiagnosisCode(code string) string {
	return strings.ToUpper(sanitizeAlphaNumeric(code))
}

// ensureControlNumber returns the billing record's claim number when it is
// non-empty alphanumeric, otherwise synthesizes one from the transaction set
// control number and the claim's row index.
func ensureControlNumber(provided, fallback, suffix string) string {
	if cleaned := sanitizeAlphaNumeric(provided); cleaned != "" {
		return cleaned
	}
	return sanitizeAlphaNumeric(fallback) + suffix
}

func buildServiceLineSegments(claim *Claim, line ServiceLine, index int) []string {
	parts := []string{sanitizeAlphaNumeric(line.CPTCode)}
	for _, modifier := range line.Modifiers {
		if m := sanitizeAlphaNumeric(modifier); m != "" {
			parts = append(parts, m)
		}
	}
	procedure := "HC" + subElementSeparator + strings.Join(parts, subElementSeparator)

	serviceDate := formatDateValue(line.ServiceDate)
	if serviceDate == "" {
		serviceDate = formatDateValue(claim.ServiceDate)
	}

	units := line.Units
	if units < 1 {
		units = 1
	}

	return []string{
		joinElements("LX", strconv.Itoa(index+1)),
		joinElements("SV1", procedure, toCurrency(line.ChargeAmount), "UN", strconv.Itoa(units), "", "", "1"),
		joinElements("DTP", "472", "D8", serviceDate),
	}
}

// Build837P renders claims into a single 837 Professional interchange
// (ISA through IEA) and reports the control numbers actually used. The
// returned ClaimControlNumbers map lets callers correlate acknowledgments
// and denials back to billing records.
func Build837P(claims []*Claim, opts GeneratorOptions) (*Transaction, error) {
	if len(claims) == 0 {
		return nil, fmt.Errorf("edi837: no claims available to build 837P transaction")
	}

	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	rnd := opts.Rand
	if rnd == nil {
		rnd = rand.New(rand.NewSource(now.UnixNano()))
	}

	interchangeControlNumber := opts.InterchangeControlNumber
	if interchangeControlNumber == "" {
		interchangeControlNumber = generateControlNumber(rnd, 9)
	}
	groupControlNumber := opts.GroupControlNumber
	if groupControlNumber == "" {
		groupControlNumber = generateControlNumber(rnd, 9)
	}
	transactionSetControlNumber := opts.TransactionSetControlNumber
	if transactionSetControlNumber == "" {
		transactionSetControlNumber = "0001"
	}
	usageIndicator := opts.UsageIndicator
	if usageIndicator == "" {
		usageIndicator = "T"
	}

	senderID := padRight(strings.ToUpper(sanitizeAlphaNumeric(opts.SenderID)), 15)
	receiverID := padRight(strings.ToUpper(sanitizeAlphaNumeric(opts.ReceiverID)), 15)

	headerSegments := []string{
		joinElements(
			"ISA",
			"00", padRight("", 10),
			"00", padRight("", 10),
			"ZZ", senderID,
			"ZZ", receiverID,
			formatDateShort(now), formatTime(now),
			repetitionSeparator,
			interchangeVersn,
			interchangeControlNumber,
			"1",
			usageIndicator,
			subElementSeparator,
		),
		joinElements(
			"GS", "HC",
			strings.TrimSpace(senderID), strings.TrimSpace(receiverID),
			formatDate(now), formatTime(now),
			groupControlNumber,
			"X", versionCode,
		),
	}

	transactionSegments := []string{
		joinElements("ST", "837", transactionSetControlNumber, versionCode),
		joinElements("BHT", "0019", "00", transactionSetControlNumber, formatDate(now), formatTime(now), "CH"),
	}

	billingProvider := claims[0].BillingProvider

	submitterID := strings.TrimSpace(senderID)
	if submitterID == "" {
		submitterID = "SENDER"
	}
	transactionSegments = append(transactionSegments,
		joinElements("NM1", "41", "2", sanitizeText(billingProvider.OrganizationName), "", "", "", "", "46", submitterID))

	contactName := sanitizeText(billingProvider.FirstName)
	if contactName == "" {
		contactName = "Billing"
	}
	contactPhone := sanitizeAlphaNumeric(billingProvider.Phone)
	if contactPhone == "" {
		contactPhone = "0000000000"
	}
	transactionSegments = append(transactionSegments,
		joinElements("PER", "IC", contactName, "TE", contactPhone))

	receiverName := strings.TrimSpace(receiverID)
	if receiverName == "" {
		receiverName = "RECEIVER"
	}
	transactionSegments = append(transactionSegments, joinElements("NM1", "40", "2", receiverName))

	// Billing provider is HL 1 with no parent; each claim then allocates a
	// subscriber HL parented to it and a patient HL parented to the
	// subscriber. A single counter numbers every level in the interchange.
	hlCounter := 1
	transactionSegments = append(transactionSegments, joinElements("HL", "1", "", "20", "1"))
	transactionSegments = append(transactionSegments, buildProviderNM1("85", billingProvider))
	transactionSegments = append(transactionSegments, buildAddressSegments(providerAddress(billingProvider))...)
	if billingProvider.TaxID != "" {
		transactionSegments = append(transactionSegments,
			joinElements("REF", "EI", sanitizeAlphaNumeric(billingProvider.TaxID)))
	}
	if billingProvider.TaxonomyCode != "" {
		transactionSegments = append(transactionSegments,
			joinElements("PRV", "BI", "PXC", sanitizeAlphaNumeric(billingProvider.TaxonomyCode)))
	}

	claimControlNumbers := make(map[string]string, len(claims))

	for index, claim := range claims {
		hlCounter++
		subscriberHL := hlCounter
		transactionSegments = append(transactionSegments,
			joinElements("HL", strconv.Itoa(subscriberHL), "1", "22", "0"))
		transactionSegments = append(transactionSegments, buildSubscriberNM1(claim))
		transactionSegments = append(transactionSegments, buildAddressSegments(personAddress(claim.Subscriber))...)
		transactionSegments = append(transactionSegments, buildSBR(claim))

		hlCounter++
		transactionSegments = append(transactionSegments,
			joinElements("HL", strconv.Itoa(hlCounter), strconv.Itoa(subscriberHL), "23", "0"))
		transactionSegments = append(transactionSegments, buildPatientNM1(claim))
		transactionSegments = append(transactionSegments, buildAddressSegments(personAddress(claim.Patient))...)

		if claim.Patient.DateOfBirth != "" {
			if dob := formatDateValue(claim.Patient.DateOfBirth); dob != "" {
				gender := strings.ToUpper(claim.Patient.Gender)
				if gender == "" {
					gender = "U"
				}
				transactionSegments = append(transactionSegments, joinElements("DMG", "D8", dob, gender))
			}
		}

		transactionSegments = append(transactionSegments, buildProviderNM1("82", claim.RenderingProvider))
		transactionSegments = append(transactionSegments, buildAddressSegments(providerAddress(claim.RenderingProvider))...)

		claimControl := ensureControlNumber(
			claim.BillingRecord.ClaimNumber,
			transactionSetControlNumber,
			fmt.Sprintf("%04d", index+1),
		)
		claimControlNumbers[claim.BillingRecord.ID] = claimControl

		placeOfService := claim.PlaceOfServiceCode
		if placeOfService == "" {
			placeOfService = "11"
		}
		transactionSegments = append(transactionSegments, joinElements(
			"CLM",
			claimControl,
			toCurrency(claim.TotalCharge()),
			"", "",
			"11:B:1",
			"Y", "A", "Y", "I", "P",
			placeOfService,
		))

		diagnoses := claim.DiagnosisCodes
		if len(diagnoses) > 12 {
			diagnoses = diagnoses[:12]
		}
		if len(diagnoses) > 0 {
			elements := []string{"HI"}
			for _, code := range diagnoses {
				elements = append(elements, "ABK"+subElementSeparator+formatDiagnosisCode(code))
			}
			transactionSegments = append(transactionSegments, joinElements(elements...))
		}

		transactionSegments = append(transactionSegments, joinElements("REF", "D9", claimControl))

		for lineIndex, line := range claim.ServiceLines {
			transactionSegments = append(transactionSegments, buildServiceLineSegments(claim, line, lineIndex)...)
		}
	}

	// SE01 counts every transaction-set segment, ST and SE included.
	seCount := len(transactionSegments) + 1
	transactionSegments = append(transactionSegments,
		joinElements("SE", strconv.Itoa(seCount), transactionSetControlNumber))

	trailerSegments := []string{
		joinElements("GE", "1", groupControlNumber),
		joinElements("IEA", "1", interchangeControlNumber),
	}

	all := make([]string, 0, len(headerSegments)+len(transactionSegments)+len(trailerSegments))
	all = append(all, headerSegments...)
	all = append(all, transactionSegments...)
	all = append(all, trailerSegments...)
	content := strings.Join(all, segmentTerminator) + segmentTerminator

	return &Transaction{
		Content:                     content,
		InterchangeControlNumber:    interchangeControlNumber,
		GroupControlNumber:          groupControlNumber,
		TransactionSetControlNumber: transactionSetControlNumber,
		ClaimControlNumbers:         claimControlNumbers,
		CreatedAt:                   now,
	}, nil
}
