package lifecycle

import "context"

// CaseStore persists cases and extension requests with optimistic
// versioning.  Writes are conditioned on the caller's expected version and
// fail with a ConcurrencyConflict error when it no longer matches; the store
// never retries on the caller's behalf.  Missing rows are CaseNotFound or
// ExtensionNotFound.
type CaseStore interface {
	GetCase(ctx context.Context, id string) (*Case, error)
	// CreateCase inserts c and sets c.Version to 1.
	CreateCase(ctx context.Context, c *Case) error
	// UpdateCase writes c when the stored version equals expectedVersion and
	// sets c.Version to expectedVersion+1.
	UpdateCase(ctx context.Context, c *Case, expectedVersion int64) error
	// ListActiveCases returns every case that is not closed.
	ListActiveCases(ctx context.Context) ([]*Case, error)

	// CreateExtension inserts a pending request.  A second pending request
	// for the same case and stage is ExtensionAlreadyPending.
	CreateExtension(ctx context.Context, r *ExtensionRequest) error
	GetExtension(ctx context.Context, id string) (*ExtensionRequest, error)
	// FindPendingExtension returns the pending request for the case and
	// stage, or nil when there is none.
	FindPendingExtension(ctx context.Context, caseID string, stage ProcessStage) (*ExtensionRequest, error)
	// SaveExtensionDecision writes the decided request and the updated case
	// in one transaction, each conditioned on its expected version.  c is nil
	// when the decision leaves the case unchanged.
	SaveExtensionDecision(ctx context.Context, c *Case, expectedCaseVersion int64, r *ExtensionRequest, expectedRequestVersion int64) error
}
