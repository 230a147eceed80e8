package edi837

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryRepository is the reference Repository adapter. It keeps claims,
// export files, status history, and denials in process memory and is safe
// for concurrent use, but it does not serialize whole pipeline runs against
// each other the way a transactional store would.
type InMemoryRepository struct {
	mu            sync.Mutex
	claims        map[string]*Claim
	exportFiles   []*ExportFileRecord
	fileContents  map[string]string
	statusHistory []ClaimStatusUpdate
	denials       []*ClaimDenialRecord
	now           func() time.Time
}

// NewInMemoryRepository seeds the repository with deep copies of the given
// claims so callers cannot mutate stored state from the outside.
func NewInMemoryRepository(initial []*Claim) *InMemoryRepository {
	r := &InMemoryRepository{
		claims:       make(map[string]*Claim, len(initial)),
		fileContents: make(map[string]string),
		now:          time.Now,
	}
	for _, claim := range initial {
		r.claims[claim.BillingRecord.ID] = cloneClaim(claim)
	}
	return r
}

// SetClock overrides the repository clock, for tests.
func (r *InMemoryRepository) SetClock(now func() time.Time) { r.now = now }

func cloneClaim(c *Claim) *Claim {
	raw, _ := json.Marshal(c)
	var out Claim
	_ = json.Unmarshal(raw, &out)
	return &out
}

func (r *InMemoryRepository) LoadPendingClaims(_ context.Context) ([]*Claim, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var pending []*Claim
	for _, claim := range r.claims {
		if claim.BillingRecord.Status == StatusPending {
			pending = append(pending, cloneClaim(claim))
		}
	}
	return pending, nil
}

func (r *InMemoryRepository) SaveExportFile(_ context.Context, input SaveExportFileInput) (*ExportFileRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	record := &ExportFileRecord{
		ID:                          uuid.NewString(),
		CreatedAt:                   r.now(),
		FileName:                    input.FileName,
		Checksum:                    input.Checksum,
		ClaimCount:                  input.ClaimCount,
		InterchangeControlNumber:    input.InterchangeControlNumber,
		GroupControlNumber:          input.GroupControlNumber,
		TransactionSetControlNumber: input.TransactionSetControlNumber,
	}
	r.exportFiles = append(r.exportFiles, record)
	r.fileContents[record.ID] = input.Content
	copied := *record
	return &copied, nil
}

func (r *InMemoryRepository) RecordClaimStatuses(_ context.Context, updates []ClaimStatusUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, update := range updates {
		r.statusHistory = append(r.statusHistory, update)
		claim, ok := r.claims[update.BillingRecordID]
		if !ok {
			continue
		}
		claim.BillingRecord.Status = update.Status
		if update.ClaimControlNumber != "" {
			claim.BillingRecord.ClaimNumber = update.ClaimControlNumber
		}
	}
	return nil
}

func (r *InMemoryRepository) IngestClaimDenials(_ context.Context, denials []ClaimDenialInput) ([]*ClaimDenialRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	records := make([]*ClaimDenialRecord, 0, len(denials))
	for _, denial := range denials {
		record := &ClaimDenialRecord{
			ClaimDenialInput: denial,
			ID:               uuid.NewString(),
			RecordedAt:       r.now(),
		}
		r.denials = append(r.denials, record)
		if claim, ok := r.claims[denial.BillingRecordID]; ok {
			claim.BillingRecord.Status = StatusRejected
		}
		copied := *record
		records = append(records, &copied)
	}
	return records, nil
}

func (r *InMemoryRepository) ListExportFiles(_ context.Context, limit, offset int) ([]*ExportFileRecord, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	total := len(r.exportFiles)
	if offset < 0 || offset >= total {
		return nil, total, nil
	}
	end := total
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}

	// Newest first.
	out := make([]*ExportFileRecord, 0, end-offset)
	for i := total - 1 - offset; i >= total-end; i-- {
		copied := *r.exportFiles[i]
		out = append(out, &copied)
	}
	return out, total, nil
}

func (r *InMemoryRepository) GetExportFile(_ context.Context, id string) (*ExportFileRecord, string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, record := range r.exportFiles {
		if record.ID == id {
			copied := *record
			return &copied, r.fileContents[id], nil
		}
	}
	return nil, "", fmt.Errorf("edi837: export file %s not found", id)
}

// ExportFiles returns a snapshot of the stored export records, for tests.
func (r *InMemoryRepository) ExportFiles() []*ExportFileRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*ExportFileRecord, len(r.exportFiles))
	for i, record := range r.exportFiles {
		copied := *record
		out[i] = &copied
	}
	return out
}

// StatusHistory returns a snapshot of the append-only status log, for tests.
func (r *InMemoryRepository) StatusHistory() []ClaimStatusUpdate {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ClaimStatusUpdate, len(r.statusHistory))
	copy(out, r.statusHistory)
	return out
}

// Denials returns a snapshot of the recorded denials, for tests.
func (r *InMemoryRepository) Denials() []*ClaimDenialRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*ClaimDenialRecord, len(r.denials))
	for i, record := range r.denials {
		copied := *record
		out[i] = &copied
	}
	return out
}
