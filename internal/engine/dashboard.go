package engine

import (
	"context"

	"frequency/internal/domain"
	"frequency/internal/progress"
)

// Dashboard summarizes live objectives, optionally of one type.
func (e Engine) Dashboard(ctx context.Context, typ domain.ObjectiveType) (progress.Summary, error) {
	objs, err := e.ListObjectives(ctx, ObjectiveQuery{Type: typ})
	if err != nil {
		return progress.Summary{}, err
	}
	return progress.Summarize(objs), nil
}
