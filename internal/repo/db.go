package repo

import (
	"context"
	"database/sql"
	"time"

	"github.com/quarryai/quarry/internal/db"
	"github.com/quarryai/quarry/internal/tenant"
)

// Runner exposes the shared transaction helper to pipeline code without
// handing it the raw connection.
type Runner struct {
	conn *sql.DB
}

func NewRunner(conn *sql.DB) *Runner {
	return &Runner{conn: conn}
}

func (r *Runner) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return db.InTx(ctx, r.conn, fn)
}

func nowMilli() int64 {
	return time.Now().UnixMilli()
}

// fillTenant stamps the active tenant onto rows created without one.
func fillTenant(ctx context.Context, tenantID *string) {
	if *tenantID != "" {
		return
	}
	if id, ok := tenant.FromContext(ctx); ok {
		*tenantID = id
	}
}
