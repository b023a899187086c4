package source

import (
	"context"
	"errors"
	"fmt"

	"calmirror/internal/model"
)

// AuthError indicates that authentication has failed or expired for the
// workspace service. It is returned by source clients when a 401 response
// is received.
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth error: %s", e.Message)
}

// IsAuthError reports whether err (or any error in its chain) is an AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// Source defines the task retrieval contract the reconciliation engine
// consumes. Implementations return normalized Task records; eligibility
// filtering is the engine's concern, not the source's.
type Source interface {
	// FetchAll retrieves every active task record.
	FetchAll(ctx context.Context) ([]model.Task, error)

	// FetchByIDs retrieves the given task records. Ids that no longer
	// resolve are silently omitted; archived records are returned with
	// Archived set so callers can treat them as not-desired.
	FetchByIDs(ctx context.Context, ids []string) ([]model.Task, error)
}
