package edi837

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Service orchestrates the export pipeline: repository -> generator ->
// hasher -> repository, plus denial ingestion and the clearinghouse
// dry-run flow.
type Service struct {
	repo   Repository
	logger zerolog.Logger
}

func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// ExportParams configures one pipeline run.
type ExportParams struct {
	GeneratorOptions GeneratorOptions
	// FileNamePrefix defaults to "837P".
	FileNamePrefix string
	// Now stamps the export file name; zero means time.Now().
	Now time.Time
}

// ExportResult reports what one pipeline run produced. Claims is exactly
// the set that was exported; callers correlate acknowledgments against it
// instead of re-querying pending claims.
type ExportResult struct {
	Exported    bool              `json:"exported"`
	Transaction *Transaction      `json:"transaction,omitempty"`
	File        *ExportFileRecord `json:"file,omitempty"`
	ClaimCount  int               `json:"claim_count"`
	Claims      []*Claim          `json:"claims,omitempty"`
}

func buildFileName(prefix, controlNumber string, timestamp time.Time) string {
	return fmt.Sprintf("%s_%s_%s.txt", prefix, timestamp.UTC().Format("20060102T150405"), controlNumber)
}

// RunExportPipeline loads pending claims, builds and hashes one 837P
// interchange, persists it, and records every exported claim as submitted.
// With nothing pending it returns exported=false without touching storage,
// so re-running an empty export is always safe.
func (s *Service) RunExportPipeline(ctx context.Context, params ExportParams) (*ExportResult, error) {
	claims, err := s.repo.LoadPendingClaims(ctx)
	if err != nil {
		return nil, fmt.Errorf("load pending claims: %w", err)
	}
	if len(claims) == 0 {
		return &ExportResult{Exported: false, ClaimCount: 0, Claims: []*Claim{}}, nil
	}

	transaction, err := Build837P(claims, params.GeneratorOptions)
	if err != nil {
		return nil, err
	}
	checksum := HashContent(transaction.Content)

	prefix := params.FileNamePrefix
	if prefix == "" {
		prefix = "837P"
	}
	now := params.Now
	if now.IsZero() {
		now = time.Now()
	}
	fileName := buildFileName(prefix, transaction.InterchangeControlNumber, now)

	file, err := s.repo.SaveExportFile(ctx, SaveExportFileInput{
		Content:                     transaction.Content,
		FileName:                    fileName,
		InterchangeControlNumber:    transaction.InterchangeControlNumber,
		GroupControlNumber:          transaction.GroupControlNumber,
		TransactionSetControlNumber: transaction.TransactionSetControlNumber,
		ClaimCount:                  len(claims),
		Checksum:                    checksum,
	})
	if err != nil {
		return nil, fmt.Errorf("save export file: %w", err)
	}

	updates := make([]ClaimStatusUpdate, 0, len(claims))
	for _, claim := range claims {
		updates = append(updates, ClaimStatusUpdate{
			BillingRecordID:    claim.BillingRecord.ID,
			SessionID:          claim.SessionID,
			Status:             StatusSubmitted,
			ExportFileID:       file.ID,
			ClaimControlNumber: transaction.ClaimControlNumbers[claim.BillingRecord.ID],
			Notes:              fmt.Sprintf("Submitted via EDI export %s", file.FileName),
			EffectiveAt:        transaction.CreatedAt,
		})
	}
	if err := s.repo.RecordClaimStatuses(ctx, updates); err != nil {
		return nil, fmt.Errorf("record submitted statuses: %w", err)
	}

	return &ExportResult{
		Exported:    true,
		Transaction: transaction,
		File:        file,
		ClaimCount:  len(claims),
		Claims:      claims,
	}, nil
}

// IngestDenials persists denial records and appends a rejected status entry
// per persisted record. It is a no-op on an empty list. Recording is
// at-least-once: replaying identical denials appends again unless the
// repository de-duplicates.
func (s *Service) IngestDenials(ctx context.Context, denials []ClaimDenialInput) ([]*ClaimDenialRecord, error) {
	if len(denials) == 0 {
		return nil, nil
	}

	records, err := s.repo.IngestClaimDenials(ctx, denials)
	if err != nil {
		return nil, fmt.Errorf("ingest claim denials: %w", err)
	}
	if len(records) == 0 {
		return records, nil
	}

	updates := make([]ClaimStatusUpdate, 0, len(records))
	for _, record := range records {
		notes := fmt.Sprintf("Denial %s", record.DenialCode)
		if record.Description != "" {
			notes = fmt.Sprintf("Denial %s - %s", record.DenialCode, record.Description)
		}
		updates = append(updates, ClaimStatusUpdate{
			BillingRecordID: record.BillingRecordID,
			SessionID:       record.SessionID,
			Status:          StatusRejected,
			Notes:           notes,
			EffectiveAt:     record.ReceivedAt,
		})
	}
	if err := s.repo.RecordClaimStatuses(ctx, updates); err != nil {
		return nil, fmt.Errorf("record rejected statuses: %w", err)
	}

	return records, nil
}

// DryRunParams configures a clearinghouse dry run.
type DryRunParams struct {
	ExportParams
	Clearinghouse ClearinghouseClient
	// AuditContext tags every log line the dry run emits.
	AuditContext map[string]string
}

// DryRunResult is the export result plus the clearinghouse outcome.
type DryRunResult struct {
	ExportResult
	Acknowledgment           *Acknowledgment      `json:"acknowledgment,omitempty"`
	DenialRecords            []*ClaimDenialRecord `json:"denial_records,omitempty"`
	RawClearinghouseResponse json.RawMessage      `json:"raw_clearinghouse_response,omitempty"`
}

// RunClearinghouseDryRun exports pending claims, submits the result through
// the given clearinghouse client, applies the acknowledgment to claim
// status, ingests returned denials, and logs the outcome for audit.
func (s *Service) RunClearinghouseDryRun(ctx context.Context, params DryRunParams) (*DryRunResult, error) {
	if params.Clearinghouse == nil {
		return nil, fmt.Errorf("edi837: clearinghouse client is required for a dry run")
	}

	exportResult, err := s.RunExportPipeline(ctx, params.ExportParams)
	if err != nil {
		return nil, err
	}
	if !exportResult.Exported {
		return &DryRunResult{ExportResult: *exportResult}, nil
	}

	submission, err := params.Clearinghouse.Submit837(ctx, SubmissionPayload{
		Transaction: exportResult.Transaction,
		File:        exportResult.File,
		Claims:      exportResult.Claims,
	})
	if err != nil {
		return nil, fmt.Errorf("submit 837 to clearinghouse: %w", err)
	}
	ack := submission.Acknowledgment

	updates := make([]ClaimStatusUpdate, 0, len(exportResult.Claims))
	for _, claim := range exportResult.Claims {
		updates = append(updates, ClaimStatusUpdate{
			BillingRecordID:    claim.BillingRecord.ID,
			SessionID:          claim.SessionID,
			Status:             StatusSubmitted,
			ExportFileID:       exportResult.File.ID,
			ClaimControlNumber: exportResult.Transaction.ClaimControlNumbers[claim.BillingRecord.ID],
			Notes:              fmt.Sprintf("Clearinghouse ack %s status %s (%s)", ack.ID, ack.Status, ack.Notes),
			EffectiveAt:        ack.ReceivedAt,
		})
	}
	if err := s.repo.RecordClaimStatuses(ctx, updates); err != nil {
		return nil, fmt.Errorf("record acknowledgment statuses: %w", err)
	}

	denialRecords, err := s.IngestDenials(ctx, submission.Denials)
	if err != nil {
		return nil, err
	}

	s.logAcknowledgment(ack, params.AuditContext)
	for _, record := range denialRecords {
		s.logDenial(ack, record, params.AuditContext)
	}

	return &DryRunResult{
		ExportResult:             *exportResult,
		Acknowledgment:           ack,
		DenialRecords:            denialRecords,
		RawClearinghouseResponse: submission.RawResponse,
	}, nil
}

func (s *Service) logAcknowledgment(ack *Acknowledgment, auditContext map[string]string) {
	evt := s.logger.Info().
		Str("ack_id", ack.ID).
		Str("status", string(ack.Status)).
		Str("notes", ack.Notes).
		Time("received_at", ack.ReceivedAt).
		Interface("payer_summaries", ack.PayerSummaries)
	for key, value := range auditContext {
		evt = evt.Str(key, value)
	}
	evt.Msg("clearinghouse acknowledgment received")
}

func (s *Service) logDenial(ack *Acknowledgment, record *ClaimDenialRecord, auditContext map[string]string) {
	evt := s.logger.Warn().
		Str("ack_id", ack.ID).
		Str("billing_record_id", record.BillingRecordID).
		Str("session_id", record.SessionID).
		Str("denial_code", record.DenialCode).
		Str("description", record.Description).
		Str("payer_control_number", record.PayerControlNumber).
		Time("received_at", record.ReceivedAt)
	for key, value := range auditContext {
		evt = evt.Str(key, value)
	}
	evt.Msg("clearinghouse denial recorded")
}
