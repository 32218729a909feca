package store

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucy-a11y/shuffle/internal/apperr"
	"github.com/lucy-a11y/shuffle/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	return newPostgresStore(mock), mock
}

func TestPostgresStore_GetSession_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, project_id, user_id, .* FROM shuffle_sessions WHERE id = \$1`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetSession(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.NotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetSession_QueryError(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM shuffle_sessions WHERE id = \$1`).
		WithArgs("s-1").
		WillReturnError(errors.New("connection reset"))

	_, err := s.GetSession(context.Background(), "s-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres: get session")
	assert.Equal(t, apperr.Internal, apperr.KindOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_IncrementSessionCounters(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE shuffle_sessions SET updated_at = \$1, scanned_sites = scanned_sites \+ \$2, non_compliant_sites = non_compliant_sites \+ \$3, leads_generated = leads_generated \+ \$4 WHERE id = \$5`).
		WithArgs(pgxmock.AnyArg(), 1, 1, 4, "s-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.IncrementSessionCounters(context.Background(), "s-1", model.SessionCounters{Scanned: 1, NonCompliant: 1, Leads: 4})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_IncrementSessionCounters_ZeroDeltaSkipsQuery(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	require.NoError(t, s.IncrementSessionCounters(context.Background(), "s-1", model.SessionCounters{}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RequestCancel(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE shuffle_sessions SET cancel_requested = \$1, updated_at = \$2 WHERE id = \$3 AND status = \$4`).
		WithArgs(true, pgxmock.AnyArg(), "s-1", "running").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	ok, err := s.RequestCancel(context.Background(), "s-1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RecordScanResult_Conditional(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE discovered_companies SET .* WHERE id = \$\d+ AND risk_score IS NULL`).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectCommit()

	applied, err := s.RecordScanResult(context.Background(), 7, model.ScanResult{RiskScore: 71, TotalIssues: 9},
		model.SessionCounters{Scanned: 1, NonCompliant: 1})
	require.NoError(t, err)
	assert.False(t, applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RecordScanResult_CountsInSameTx(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE discovered_companies SET .* WHERE id = \$\d+ AND risk_score IS NULL`).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE shuffle_sessions SET updated_at = \$1, scanned_sites = scanned_sites \+ \$2, non_compliant_sites = non_compliant_sites \+ \$3 WHERE id = \(SELECT session_id FROM discovered_companies WHERE id = \$4\)`).
		WithArgs(pgxmock.AnyArg(), 1, 1, int64(7)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	applied, err := s.RecordScanResult(context.Background(), 7, model.ScanResult{RiskScore: 71, TotalIssues: 9},
		model.SessionCounters{Scanned: 1, NonCompliant: 1})
	require.NoError(t, err)
	assert.True(t, applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RecordScanResult_CounterFailureRollsBack(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE discovered_companies`).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE shuffle_sessions`).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	applied, err := s.RecordScanResult(context.Background(), 7, model.ScanResult{RiskScore: 20},
		model.SessionCounters{Scanned: 1, Compliant: 1})
	require.Error(t, err)
	assert.False(t, applied)
	assert.Contains(t, err.Error(), "record scan result")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertCompanies_SkipsConflicts(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO discovered_companies .* ON CONFLICT \(project_id, domain\) DO NOTHING RETURNING id`).
		WillReturnRows(mock.NewRows([]string{"id"}).AddRow(int64(11)))
	mock.ExpectQuery(`INSERT INTO discovered_companies`).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectCommit()

	created, err := s.InsertCompanies(context.Background(), []model.DiscoveredCompany{
		{SessionID: "s-1", ProjectID: 1, CompanyName: "Acme", WebsiteURL: "https://acme.com", Domain: "acme.com"},
		{SessionID: "s-1", ProjectID: 1, CompanyName: "Acme Again", WebsiteURL: "https://acme.com", Domain: "acme.com"},
	})
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, int64(11), created[0].ID)
	assert.Equal(t, model.ScanStatusPending, created[0].ScanStatus)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertLeads_CountsCreatedRows(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO leads .* ON CONFLICT \(company_id, dedupe_key\) DO NOTHING`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO leads`).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectCommit()

	n, err := s.InsertLeads(context.Background(), []model.Lead{
		model.NewLead(3, model.Contact{Name: "Jane", Email: "jane@acme.com"}, "perplexity"),
		model.NewLead(3, model.Contact{Name: "Jane D", Email: "jane@acme.com"}, "perplexity"),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ApplyContactTransition_StaleStatusRollsBack(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE discovered_companies SET contact_status = \$1`).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	_, err := s.ApplyContactTransition(context.Background(), ContactTransition{
		CompanyID: 5,
		From:      model.ContactStatusContacted,
		To:        model.ContactStatusResponded,
		UserID:    "user-1",
	})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.Precondition))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateSalesScript_RollsBackOnAuditFailure(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO sales_scripts .* RETURNING id`).
		WillReturnRows(mock.NewRows([]string{"id"}).AddRow(int64(21)))
	mock.ExpectExec(`UPDATE discovered_companies SET sales_script_id = \$1`).
		WithArgs(int64(21), pgxmock.AnyArg(), int64(4)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`INSERT INTO audit_logs`).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	script := &model.SalesScript{ProjectID: 1, CompanyID: 4, Content: "Hi", Tone: model.ToneFriendly}
	err := s.CreateSalesScript(context.Background(), script, model.AuditLog{
		UserID: "user-1", Action: model.AuditSalesScriptGenerated, ResourceType: "company", ResourceID: "4",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "append audit")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListProjectIDs(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id FROM projects WHERE owner_id = \$1 ORDER BY id`).
		WithArgs("owner-a").
		WillReturnRows(mock.NewRows([]string{"id"}).AddRow(int64(1)).AddRow(int64(4)))

	ids, err := s.ListProjectIDs(context.Background(), "owner-a")
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 4}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_PingAndMigrateGuard(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	require.NoError(t, s.Ping(context.Background()))

	err := s.Migrate(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "live pool")
	assert.NoError(t, mock.ExpectationsWereMet())
}
