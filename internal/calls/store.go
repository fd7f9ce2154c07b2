package calls

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrSessionNotFound  = errors.New("call session not found")
	ErrStoreUnavailable = errors.New("call session store unavailable")
	ErrInvalidSession   = errors.New("invalid call session")
)

// Store persists call sessions.
//
// Contract:
//   - UpsertOnInitiation is idempotent by a uniqueness constraint on call id, never by
//     read-then-write. A duplicate returns the existing row with created == false.
//   - ApplyStatus moves status forward only and writes duration/cost at most once
//     (guarded by "duration is unset"), and only for billable sessions. The minute
//     increment commits atomically with that guarded write.
//   - ApplyStatus returns ErrSessionNotFound when no session exists for the call id.
//   - Failures reaching the backend are wrapped with ErrStoreUnavailable.
type Store interface {
	UpsertOnInitiation(ctx context.Context, s NewSession) (Session, bool, error)
	ApplyStatus(ctx context.Context, u StatusUpdate) (StatusResult, error)
	Get(ctx context.Context, callID string) (Session, error)
	List(ctx context.Context, f ListFilter) ([]Session, error)
}

func validateNew(s NewSession) error {
	if s.CallID == "" || s.TenantID == "" {
		return ErrInvalidSession
	}
	return nil
}

func wrapUnavailable(err error) error {
	return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}
