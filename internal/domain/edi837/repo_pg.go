package edi837

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type repoPG struct{ pool *pgxpool.Pool }

// NewRepoPG returns the Postgres Repository adapter. Status batches run
// inside a single transaction, so a batch of updates is applied
// all-or-nothing; saving the export file and recording statuses remain two
// separate calls (see the pipeline docs for the partial-failure window).
func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefInt(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}

// resolvePlaceOfService falls back from the session's explicit code to a
// mapping of its location type, defaulting to office (11).
func resolvePlaceOfService(code, locationType *string) string {
	if c := deref(code); c != "" {
		return c
	}
	location := strings.ToLower(deref(locationType))
	switch {
	case strings.Contains(location, "home"):
		return "12"
	case strings.Contains(location, "school"):
		return "03"
	case strings.Contains(location, "tele"):
		return "02"
	}
	return "11"
}

// computeLineCharge is rate x units, clamped to zero when the rate is
// missing. Charges are rounded to cents.
func computeLineCharge(rate *float64, units int) float64 {
	if rate == nil || *rate == 0 {
		return 0
	}
	if units < 1 {
		units = 1
	}
	cents := *rate * float64(units) * 100
	return float64(int64(cents+0.5)) / 100
}

type claimRow struct {
	billingID    string
	sessionID    string
	amount       *float64
	amountDue    *float64
	status       string
	claimNumber  *string
	startTime    time.Time
	posCode      *string
	locationType *string
	therapist    providerRow
	client       clientRow
	payerID      *string
	payerName    *string
}

type providerRow struct {
	id           string
	firstName    *string
	lastName     *string
	facility     *string
	orgName      *string
	npi          *string
	taxonomy     *string
	taxID        *string
	ein          *string
	phone        *string
	street       *string
	addressLine2 *string
	city         *string
	state        *string
	zipCode      *string
}

type clientRow struct {
	id           string
	firstName    *string
	middleName   *string
	lastName     *string
	cinNumber    *string
	dateOfBirth  *time.Time
	gender       *string
	addressLine1 *string
	addressLine2 *string
	city         *string
	state        *string
	zipCode      *string
	phone        *string
	diagnosis    []string
}

type serviceLineRow struct {
	sessionID     string
	lineNumber    *int
	units         *int
	rate          *float64
	billedMinutes *int
	notes         *string
	cptCode       *string
	description   *string
	modifiers     []string
}

func toProvider(row providerRow) Provider {
	org := deref(row.facility)
	if org == "" {
		org = deref(row.orgName)
	}
	taxID := deref(row.taxID)
	if taxID == "" {
		taxID = deref(row.ein)
	}
	return Provider{
		ID:               row.id,
		OrganizationName: org,
		FirstName:        deref(row.firstName),
		LastName:         deref(row.lastName),
		NPI:              deref(row.npi),
		TaxonomyCode:     deref(row.taxonomy),
		TaxID:            taxID,
		AddressLine1:     deref(row.street),
		AddressLine2:     deref(row.addressLine2),
		City:             deref(row.city),
		State:            deref(row.state),
		PostalCode:       deref(row.zipCode),
		Phone:            deref(row.phone),
	}
}

func toPerson(row clientRow) Person {
	memberID := deref(row.cinNumber)
	if memberID == "" {
		memberID = row.id
	}
	dob := ""
	if row.dateOfBirth != nil {
		dob = row.dateOfBirth.UTC().Format("2006-01-02")
	}
	return Person{
		ID:           row.id,
		FirstName:    deref(row.firstName),
		MiddleName:   deref(row.middleName),
		LastName:     deref(row.lastName),
		MemberID:     memberID,
		DateOfBirth:  dob,
		Gender:       deref(row.gender),
		Relationship: RelationshipSelf,
		AddressLine1: deref(row.addressLine1),
		AddressLine2: deref(row.addressLine2),
		City:         deref(row.city),
		State:        deref(row.state),
		PostalCode:   deref(row.zipCode),
		Phone:        deref(row.phone),
	}
}

func (r *repoPG) LoadPendingClaims(ctx context.Context) ([]*Claim, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT b.id, b.session_id, b.amount, b.amount_due, b.status, b.claim_number,
			s.start_time, s.place_of_service_code, s.location_type,
			t.id, t.first_name, t.last_name, t.facility, t.organization_name,
			t.npi_number, t.taxonomy_code, t.tax_id, t.ein, t.phone,
			t.street, t.address_line2, t.city, t.state, t.zip_code,
			c.id, c.first_name, c.middle_name, c.last_name, c.cin_number,
			c.date_of_birth, c.gender, c.address_line1, c.address_line2,
			c.city, c.state, c.zip_code, c.phone, c.diagnosis,
			p.code, p.name
		FROM billing_records b
		JOIN sessions s ON s.id = b.session_id
		JOIN therapists t ON t.id = s.therapist_id
		JOIN clients c ON c.id = s.client_id
		LEFT JOIN payers p ON p.id = b.payer_id
		WHERE b.status = 'pending'
		ORDER BY b.created_at`)
	if err != nil {
		return nil, fmt.Errorf("load billing records: %w", err)
	}
	defer rows.Close()

	var claimRows []claimRow
	sessionIDs := make([]string, 0)
	seenSessions := make(map[string]bool)
	for rows.Next() {
		var cr claimRow
		if err := rows.Scan(
			&cr.billingID, &cr.sessionID, &cr.amount, &cr.amountDue, &cr.status, &cr.claimNumber,
			&cr.startTime, &cr.posCode, &cr.locationType,
			&cr.therapist.id, &cr.therapist.firstName, &cr.therapist.lastName,
			&cr.therapist.facility, &cr.therapist.orgName,
			&cr.therapist.npi, &cr.therapist.taxonomy, &cr.therapist.taxID, &cr.therapist.ein, &cr.therapist.phone,
			&cr.therapist.street, &cr.therapist.addressLine2, &cr.therapist.city, &cr.therapist.state, &cr.therapist.zipCode,
			&cr.client.id, &cr.client.firstName, &cr.client.middleName, &cr.client.lastName, &cr.client.cinNumber,
			&cr.client.dateOfBirth, &cr.client.gender, &cr.client.addressLine1, &cr.client.addressLine2,
			&cr.client.city, &cr.client.state, &cr.client.zipCode, &cr.client.phone, &cr.client.diagnosis,
			&cr.payerID, &cr.payerName,
		); err != nil {
			return nil, fmt.Errorf("scan billing record: %w", err)
		}
		claimRows = append(claimRows, cr)
		if !seenSessions[cr.sessionID] {
			seenSessions[cr.sessionID] = true
			sessionIDs = append(sessionIDs, cr.sessionID)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate billing records: %w", err)
	}
	if len(claimRows) == 0 {
		return nil, nil
	}

	lines, err := r.loadServiceLines(ctx, sessionIDs)
	if err != nil {
		return nil, err
	}

	claims := make([]*Claim, 0, len(claimRows))
	for _, cr := range claimRows {
		if claim := buildClaim(cr, lines[cr.sessionID]); claim != nil {
			claims = append(claims, claim)
		}
	}
	return claims, nil
}

func (r *repoPG) loadServiceLines(ctx context.Context, sessionIDs []string) (map[string][]serviceLineRow, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT e.session_id, e.line_number, e.units, e.rate, e.billed_minutes, e.notes,
			cc.code, cc.description,
			COALESCE((
				SELECT array_agg(bm.code ORDER BY scm.position)
				FROM session_cpt_modifiers scm
				JOIN billing_modifiers bm ON bm.id = scm.modifier_id
				WHERE scm.entry_id = e.id
			), '{}') AS modifiers
		FROM session_cpt_entries e
		LEFT JOIN cpt_codes cc ON cc.id = e.cpt_code_id
		WHERE e.session_id = ANY($1)
		ORDER BY e.session_id, e.line_number`, sessionIDs)
	if err != nil {
		return nil, fmt.Errorf("load session CPT entries: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]serviceLineRow)
	for rows.Next() {
		var lr serviceLineRow
		if err := rows.Scan(&lr.sessionID, &lr.lineNumber, &lr.units, &lr.rate,
			&lr.billedMinutes, &lr.notes, &lr.cptCode, &lr.description, &lr.modifiers); err != nil {
			return nil, fmt.Errorf("scan session CPT entry: %w", err)
		}
		out[lr.sessionID] = append(out[lr.sessionID], lr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session CPT entries: %w", err)
	}
	return out, nil
}

// buildClaim hydrates one claim, dropping it when no usable service line
// remains after mapping. That exclusion is a repository responsibility; the
// generator never sees such claims.
func buildClaim(cr claimRow, lineRows []serviceLineRow) *Claim {
	patient := toPerson(cr.client)
	provider := toProvider(cr.therapist)
	serviceDate := cr.startTime.UTC().Format(time.RFC3339)

	lines := make([]ServiceLine, 0, len(lineRows))
	for i, lr := range lineRows {
		code := deref(lr.cptCode)
		if code == "" {
			continue
		}
		lineNumber := derefInt(lr.lineNumber)
		if lineNumber == 0 {
			lineNumber = i + 1
		}
		units := derefInt(lr.units)
		if units < 1 {
			units = 1
		}
		description := deref(lr.description)
		if description == "" {
			description = deref(lr.notes)
		}
		lines = append(lines, ServiceLine{
			LineNumber:    lineNumber,
			CPTCode:       code,
			Modifiers:     lr.modifiers,
			Units:         units,
			ChargeAmount:  computeLineCharge(lr.rate, units),
			ServiceDate:   serviceDate,
			Description:   description,
			BilledMinutes: derefInt(lr.billedMinutes),
		})
	}
	if len(lines) == 0 {
		return nil
	}

	var amount float64
	switch {
	case cr.amount != nil:
		amount = *cr.amount
	case cr.amountDue != nil:
		amount = *cr.amountDue
	default:
		for _, line := range lines {
			amount += line.ChargeAmount
		}
	}

	status := StatusPending
	if ValidClaimStatus(cr.status) {
		status = ClaimStatus(cr.status)
	}
	claimNumber := deref(cr.claimNumber)
	if claimNumber == "" {
		claimNumber = cr.billingID
	}

	diagnoses := make([]string, 0, len(cr.client.diagnosis))
	for _, code := range cr.client.diagnosis {
		if code != "" {
			diagnoses = append(diagnoses, code)
		}
	}
	if len(diagnoses) == 0 {
		diagnoses = []string{"F840"}
	}

	var payer *Payer
	if deref(cr.payerID) != "" {
		payer = &Payer{ID: deref(cr.payerID), Name: deref(cr.payerName)}
	}

	subscriber := patient

	return &Claim{
		SessionID:          cr.sessionID,
		ServiceDate:        serviceDate,
		PlaceOfServiceCode: resolvePlaceOfService(cr.posCode, cr.locationType),
		DiagnosisCodes:     diagnoses,
		Subscriber:         subscriber,
		Patient:            patient,
		BillingProvider:    provider,
		RenderingProvider:  provider,
		BillingRecord: BillingRecordSummary{
			ID:          cr.billingID,
			ClaimNumber: claimNumber,
			Amount:      amount,
			Status:      status,
		},
		ServiceLines: lines,
		Payer:        payer,
	}
}

const exportFileCols = `id, created_at, file_name, checksum, claim_count,
	interchange_control_number, group_control_number, transaction_set_control_number`

func (r *repoPG) SaveExportFile(ctx context.Context, input SaveExportFileInput) (*ExportFileRecord, error) {
	id := uuid.New()
	row := r.pool.QueryRow(ctx, `
		INSERT INTO edi_export_files (id, file_name, content, checksum, claim_count,
			interchange_control_number, group_control_number, transaction_set_control_number)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING `+exportFileCols,
		id, input.FileName, input.Content, input.Checksum, input.ClaimCount,
		input.InterchangeControlNumber, input.GroupControlNumber, input.TransactionSetControlNumber)

	record, err := scanExportFile(row)
	if err != nil {
		return nil, fmt.Errorf("persist EDI export file: %w", err)
	}
	return record, nil
}

func scanExportFile(row pgx.Row) (*ExportFileRecord, error) {
	var rec ExportFileRecord
	err := row.Scan(&rec.ID, &rec.CreatedAt, &rec.FileName, &rec.Checksum, &rec.ClaimCount,
		&rec.InterchangeControlNumber, &rec.GroupControlNumber, &rec.TransactionSetControlNumber)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *repoPG) RecordClaimStatuses(ctx context.Context, updates []ClaimStatusUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin status transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, update := range updates {
		var exportFileID interface{}
		if update.ExportFileID != "" {
			exportFileID = update.ExportFileID
		}
		var controlNumber interface{}
		if update.ClaimControlNumber != "" {
			controlNumber = update.ClaimControlNumber
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO edi_claim_statuses (billing_record_id, session_id, status,
				export_file_id, claim_control_number, notes, effective_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			update.BillingRecordID, update.SessionID, string(update.Status),
			exportFileID, controlNumber, update.Notes, update.EffectiveAt)
		if err != nil {
			return fmt.Errorf("record claim status for %s: %w", update.BillingRecordID, err)
		}

		if update.Status == StatusSubmitted {
			_, err = tx.Exec(ctx, `
				UPDATE billing_records
				SET status = $2, claim_number = COALESCE(NULLIF($3, ''), claim_number), submitted_at = $4
				WHERE id = $1`,
				update.BillingRecordID, string(update.Status), update.ClaimControlNumber, update.EffectiveAt)
		} else {
			_, err = tx.Exec(ctx, `
				UPDATE billing_records
				SET status = $2, claim_number = COALESCE(NULLIF($3, ''), claim_number)
				WHERE id = $1`,
				update.BillingRecordID, string(update.Status), update.ClaimControlNumber)
		}
		if err != nil {
			return fmt.Errorf("update billing record %s: %w", update.BillingRecordID, err)
		}
	}

	return tx.Commit(ctx)
}

func (r *repoPG) IngestClaimDenials(ctx context.Context, denials []ClaimDenialInput) ([]*ClaimDenialRecord, error) {
	if len(denials) == 0 {
		return nil, nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin denial transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	records := make([]*ClaimDenialRecord, 0, len(denials))
	ids := make([]string, 0, len(denials))
	for _, denial := range denials {
		id := uuid.New()
		var recordedAt time.Time
		err := tx.QueryRow(ctx, `
			INSERT INTO edi_claim_denials (id, billing_record_id, session_id, denial_code,
				description, payer_control_number, received_at)
			VALUES ($1,$2,$3,$4,NULLIF($5,''),NULLIF($6,''),$7)
			RETURNING recorded_at`,
			id, denial.BillingRecordID, denial.SessionID, denial.DenialCode,
			denial.Description, denial.PayerControlNumber, denial.ReceivedAt).Scan(&recordedAt)
		if err != nil {
			return nil, fmt.Errorf("store claim denial for %s: %w", denial.BillingRecordID, err)
		}
		records = append(records, &ClaimDenialRecord{
			ClaimDenialInput: denial,
			ID:               id.String(),
			RecordedAt:       recordedAt,
		})
		ids = append(ids, denial.BillingRecordID)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE billing_records SET status = 'rejected' WHERE id = ANY($1)`, ids); err != nil {
		return nil, fmt.Errorf("mark billing records rejected: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit denial transaction: %w", err)
	}
	return records, nil
}

func (r *repoPG) ListExportFiles(ctx context.Context, limit, offset int) ([]*ExportFileRecord, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM edi_export_files`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count export files: %w", err)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+exportFileCols+`
		FROM edi_export_files
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list export files: %w", err)
	}
	defer rows.Close()

	var records []*ExportFileRecord
	for rows.Next() {
		record, err := scanExportFile(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan export file: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate export files: %w", err)
	}
	return records, total, nil
}

func (r *repoPG) GetExportFile(ctx context.Context, id string) (*ExportFileRecord, string, error) {
	var rec ExportFileRecord
	var content string
	err := r.pool.QueryRow(ctx, `
		SELECT id, created_at, file_name, checksum, claim_count,
			interchange_control_number, group_control_number, transaction_set_control_number, content
		FROM edi_export_files WHERE id = $1`, id).
		Scan(&rec.ID, &rec.CreatedAt, &rec.FileName, &rec.Checksum, &rec.ClaimCount,
			&rec.InterchangeControlNumber, &rec.GroupControlNumber, &rec.TransactionSetControlNumber, &content)
	if err != nil {
		return nil, "", fmt.Errorf("get export file %s: %w", id, err)
	}
	return &rec, content, nil
}
