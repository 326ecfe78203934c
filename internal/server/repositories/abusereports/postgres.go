package abusereports

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/blindrelay/internal/dbx"
	"github.com/dmitrijs2005/blindrelay/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, report *models.AbuseReport) error {

	query :=
		`INSERT INTO abuse_reports (reporter_hash, reported_hash, reason, created_at)
         VALUES ($1, $2, $3, $4)
		 `

	_, err := r.db.ExecContext(ctx, query, report.ReporterHash, report.ReportedHash, report.Reason, report.CreatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	return nil
}
