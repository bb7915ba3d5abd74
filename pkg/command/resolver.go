package command

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/NicolasHaas/warden/pkg/model"
)

// Resolver maps a moderator-typed target to a subject. It returns an
// error wrapping ErrSubjectNotResolved when the target is unknown.
type Resolver interface {
	Resolve(ctx context.Context, target string) (model.SubjectID, error)
}

// UUIDResolver accepts targets that are already subject UUIDs, so
// offline subjects can always be addressed.
type UUIDResolver struct{}

func (UUIDResolver) Resolve(_ context.Context, target string) (model.SubjectID, error) {
	id, err := uuid.Parse(strings.TrimSpace(target))
	if err != nil || id == uuid.Nil {
		return model.SubjectID{}, fmt.Errorf("%w: %q", ErrSubjectNotResolved, target)
	}
	return id, nil
}

// Chain tries each resolver in order and returns the first match. Any
// failure other than ErrSubjectNotResolved stops the search.
type Chain []Resolver

func (c Chain) Resolve(ctx context.Context, target string) (model.SubjectID, error) {
	for _, r := range c {
		id, err := r.Resolve(ctx, target)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, ErrSubjectNotResolved) {
			return model.SubjectID{}, err
		}
	}
	return model.SubjectID{}, fmt.Errorf("%w: %q", ErrSubjectNotResolved, target)
}
