package repo

import (
	"context"
	"fmt"

	"server/internal/domain"
	"server/internal/infra"
	"server/internal/regen"
	"server/internal/sqlinline"
)

// EntitlementsPG enforces the daily quota stored on the user row. The whole
// job's item count is consumed up front; items are not re-checked.
type EntitlementsPG struct {
	sql infra.SQLExecutor
}

func NewEntitlements(sql infra.SQLExecutor) *EntitlementsPG {
	return &EntitlementsPG{sql: sql}
}

func (e *EntitlementsPG) CheckAllowed(ctx context.Context, userID string, kind domain.ActionKind, itemCount int) error {
	if itemCount <= 0 {
		return fmt.Errorf("%w: empty job", domain.ErrInvalidOperation)
	}
	row := e.sql.QueryRow(ctx, sqlinline.QConsumeQuota, userID, itemCount)
	var remaining int
	if err := row.Scan(&remaining); err != nil {
		if infra.IsNoRows(err) {
			return fmt.Errorf("%s for %d items: %w", kind, itemCount, domain.ErrQuotaExceeded)
		}
		return fmt.Errorf("consume quota: %w", err)
	}
	return nil
}

var _ regen.Entitlements = (*EntitlementsPG)(nil)
