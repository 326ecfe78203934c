// Package abusereports is the append-only audit trail of abuse reports.
package abusereports

import (
	"context"

	"github.com/dmitrijs2005/blindrelay/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, report *models.AbuseReport) error
}
