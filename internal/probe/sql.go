package probe

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/andressep95/broker-auth-service/internal/domain"
)

// SQLProbe pings the database and runs a trivial query
type SQLProbe struct {
	base
	db *sqlx.DB
}

func NewSQLProbe(name string, db *sqlx.DB, opts Options) *SQLProbe {
	return &SQLProbe{
		base: base{name: name, component: domain.ComponentDatabase, opts: opts.withDefaults()},
		db:   db,
	}
}

func (p *SQLProbe) Run(ctx context.Context) domain.HealthCheckResult {
	return p.run(ctx, func(ctx context.Context) error {
		if err := p.db.PingContext(ctx); err != nil {
			return connectivity(err)
		}
		var one int
		if err := p.db.GetContext(ctx, &one, "SELECT 1"); err != nil {
			return connectivity(err)
		}
		if one != 1 {
			return &domain.ValidationError{Message: fmt.Sprintf("SELECT 1 returned %d", one)}
		}
		return nil
	})
}
