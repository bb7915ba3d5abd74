package punish

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/NicolasHaas/warden/pkg/model"
)

// ErrNoStore is returned by New when Options.Store is nil.
var ErrNoStore = errors.New("punish: store is required")

// OperationError reports which engine operation failed and for whom.
// Err is passed through unchanged: a model validation error when the
// record was rejected before reaching the store, otherwise the store
// failure, usually a *datastore.StorageError.
type OperationError struct {
	Op      string
	Subject model.SubjectID
	Err     error
}

func (e *OperationError) Error() string {
	if e.Subject == uuid.Nil {
		return fmt.Sprintf("punish: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("punish: %s %s: %v", e.Op, e.Subject, e.Err)
}

func (e *OperationError) Unwrap() error {
	return e.Err
}

func opErr(op string, subject model.SubjectID, err error) error {
	return &OperationError{Op: op, Subject: subject, Err: err}
}
