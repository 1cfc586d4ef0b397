package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// WithTenant executes fn in a transaction scoped to one tenant.
//
// On postgres the tenant is exposed to row level security policies through
// the transaction-local setting app.current_tenant:
//
//	USING (tenant_id = current_setting('app.current_tenant', true))
//
// SQLite has no RLS, so repositories must also filter on tenant_id
// explicitly; they do so on both drivers.
func (db *DB) WithTenant(ctx context.Context, tenantID string, fn func(*sqlx.Tx) error) error {
	return db.Transaction(ctx, func(tx *sqlx.Tx) error {
		if !db.IsSQLite() {
			// set_config with is_local=true behaves like SET LOCAL but takes parameters
			if _, err := tx.ExecContext(ctx, "SELECT set_config('app.current_tenant', $1, true)", tenantID); err != nil {
				return fmt.Errorf("failed to set app.current_tenant: %w", err)
			}
		}
		return fn(tx)
	})
}
