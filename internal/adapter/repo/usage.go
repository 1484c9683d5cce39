package repo

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"server/internal/infra"
	"server/internal/regen"
	"server/internal/sqlinline"
)

// UsageRecorderPG appends generation attempts for cost and latency
// observability. Rows are never updated in place.
type UsageRecorderPG struct {
	sql     infra.SQLExecutor
	pricing map[string]int
}

// NewUsageRecorder takes a pricing table of cost in cents per model call.
// Unknown models are recorded at zero cost.
func NewUsageRecorder(sql infra.SQLExecutor, pricing map[string]int) *UsageRecorderPG {
	if pricing == nil {
		pricing = map[string]int{}
	}
	return &UsageRecorderPG{sql: sql, pricing: pricing}
}

func (u *UsageRecorderPG) RecordGeneration(ctx context.Context, rec regen.GenerationRecord) error {
	_, err := u.sql.Exec(ctx, sqlinline.QInsertGenerationAttempt,
		uuid.NewString(), rec.UserID, string(rec.Kind), rec.Model, string(rec.Status), u.pricing[rec.Model], rec.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("record generation attempt: %w", err)
	}
	return nil
}

var _ regen.UsageRecorder = (*UsageRecorderPG)(nil)
