package edi837

import "context"

// Repository is the storage contract the export pipeline depends on. The
// production adapter is backed by Postgres; InMemoryRepository is the
// reference adapter for tests and demos.
//
// A production implementation must make LoadPendingClaims plus the
// subsequent submitted-status batch effectively exclusive (row locks or a
// transaction), otherwise two concurrent exports can double-export the same
// pending set. The in-memory adapter intentionally does not enforce this.
type Repository interface {
	// LoadPendingClaims returns every claim whose billing record is
	// pending, fully hydrated. Claims that end up with zero usable
	// service lines are excluded here, not by the generator.
	LoadPendingClaims(ctx context.Context) ([]*Claim, error)

	// SaveExportFile persists generated content with its checksum and
	// control numbers. Export files are append-only.
	SaveExportFile(ctx context.Context, input SaveExportFileInput) (*ExportFileRecord, error)

	// RecordClaimStatuses appends one history entry per update and moves
	// each billing record's current status to match.
	RecordClaimStatuses(ctx context.Context, updates []ClaimStatusUpdate) error

	// IngestClaimDenials appends denial records and flips the affected
	// billing records to rejected.
	IngestClaimDenials(ctx context.Context, denials []ClaimDenialInput) ([]*ClaimDenialRecord, error)

	// ListExportFiles returns export artifacts, newest first.
	ListExportFiles(ctx context.Context, limit, offset int) ([]*ExportFileRecord, int, error)

	// GetExportFile returns one export artifact and its content.
	GetExportFile(ctx context.Context, id string) (*ExportFileRecord, string, error)
}
