package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/benbjohnson/clock"
	"github.com/dmitrijs2005/blindrelay/internal/common"
	"github.com/dmitrijs2005/blindrelay/internal/dbx"
	"github.com/dmitrijs2005/blindrelay/internal/logging"
	"github.com/dmitrijs2005/blindrelay/internal/server/config"
	"github.com/dmitrijs2005/blindrelay/internal/server/models"
	"github.com/dmitrijs2005/blindrelay/internal/server/repositories/repomanager"
)

// ReportOutcome is the result of a recorded abuse report.
type ReportOutcome struct {
	// Known is false when the reported address has no directory entry.
	Known bool
	Score int
	// Enforce is true when the new score is at or above the threshold.
	Enforce bool
}

// AbuseService records abuse reports and maintains abuse scores.
type AbuseService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	clock       clock.Clock
	logger      logging.Logger
	threshold   int
}

// NewAbuseService constructs an AbuseService.
func NewAbuseService(db *sql.DB, m repomanager.RepositoryManager, cfg *config.Config, clk clock.Clock, l logging.Logger) *AbuseService {
	return &AbuseService{
		db:          db,
		repomanager: m,
		clock:       clk,
		logger:      l.With("module", "abuse"),
		threshold:   cfg.AbuseThreshold,
	}
}

// Report appends an audit row, then increments the reported identity's score
// under a row lock. Reports with an empty target or reason return
// common.ErrorIncorrectData.
func (s *AbuseService) Report(ctx context.Context, reporter, reported, reason string) (*ReportOutcome, error) {
	if strings.TrimSpace(reported) == "" || strings.TrimSpace(reason) == "" {
		return nil, common.ErrorIncorrectData
	}

	report := &models.AbuseReport{
		ReporterHash: reporter,
		ReportedHash: reported,
		Reason:       reason,
		CreatedAt:    s.clock.Now(),
	}
	// the audit row is kept even when the score update below fails
	if err := s.repomanager.AbuseReports(s.db).Create(ctx, report); err != nil {
		return nil, fmt.Errorf("error recording report: %w", err)
	}

	outcome := &ReportOutcome{}

	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		users := s.repomanager.Users(tx)
		score, err := users.LockAbuseScore(ctx, reported)
		if errors.Is(err, common.ErrorNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		score++
		if err := users.SetAbuseScore(ctx, reported, score); err != nil {
			return err
		}

		outcome.Known = true
		outcome.Score = score
		outcome.Enforce = score >= s.threshold
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("error updating abuse score: %w", err)
	}

	s.logger.Info(ctx, "abuse report recorded",
		"reporter", logging.ShortAddress(reporter),
		"reported", logging.ShortAddress(reported),
		"score", outcome.Score,
	)
	return outcome, nil
}
