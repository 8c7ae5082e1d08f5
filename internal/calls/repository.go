package calls

import (
	"context"
	"errors"
)

var (
	ErrNotFound     = errors.New("calls: not found")
	ErrInvalidState = errors.New("calls: invalid state for operation")
	ErrInvalidCall  = errors.New("calls: invalid call")
	// ErrDuplicateProviderCall means a live call already uses the provider call id.
	ErrDuplicateProviderCall = errors.New("calls: provider call id already live")
)

// Repository persists calls and their transcripts.
//
// Update must run fn under a per-call lock (row lock in SQL) and persist the
// result only when fn returns nil.
type Repository interface {
	Create(ctx context.Context, c Call) error
	Get(ctx context.Context, id string) (Call, error)
	// GetByProviderCallID returns the most recently created call for the id.
	GetByProviderCallID(ctx context.Context, provider, providerCallID string) (Call, error)
	Update(ctx context.Context, id string, fn func(*Call) error) (Call, error)
	List(ctx context.Context, f ListFilter) ([]Call, error)

	AddTranscript(ctx context.Context, t Transcript) error
	Transcripts(ctx context.Context, callID string) ([]Transcript, error)
}
