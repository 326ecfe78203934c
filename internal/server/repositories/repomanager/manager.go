package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/blindrelay/internal/dbx"
	"github.com/dmitrijs2005/blindrelay/internal/server/repositories/abusereports"
	"github.com/dmitrijs2005/blindrelay/internal/server/repositories/messages"
	"github.com/dmitrijs2005/blindrelay/internal/server/repositories/users"
)

// RepositoryManager vends repositories bound to either the pool or an open
// transaction, so services can choose per call.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Users(db dbx.DBTX) users.Repository
	Messages(db dbx.DBTX) messages.Repository
	AbuseReports(db dbx.DBTX) abusereports.Repository
}
