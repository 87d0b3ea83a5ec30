package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"BreachWatch/internal/domain"
	"BreachWatch/internal/ports"
)

//go:embed schema.sql
var schemaSQL string

const uniqueViolation = "23505"

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var (
	emailColumns = []string{"id", "address", "frequency", "last_scanned_at", "created_at"}
	runColumns   = []string{"id", "status", "tier", "started_at", "completed_at", "emails_scanned", "new_breaches", "errors"}
)

func breachColumns(alias string) []string {
	cols := []string{
		"id", "email_id", "name", "title", "domain", "breach_date", "added_date", "description",
		"data_classes", "pwn_count", "is_verified", "discovered_at", "notification_sent_at", "status",
	}
	if alias == "" {
		return cols
	}
	prefixed := make([]string, len(cols))
	for i, c := range cols {
		prefixed[i] = alias + "." + c
	}
	return prefixed
}

// PostgresRepository persists monitored emails, breaches and scan runs into Postgres.
type PostgresRepository struct {
	db *sql.DB
}

var _ ports.Store = (*PostgresRepository)(nil)

// NewPostgresRepository wires a sql.DB implementation.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Migrate creates missing tables and indexes. It is safe to run on every start.
func (r *PostgresRepository) Migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (r *PostgresRepository) exec(ctx context.Context, b sq.Sqlizer) (sql.Result, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	return r.db.ExecContext(ctx, query, args...)
}

func (r *PostgresRepository) query(ctx context.Context, b sq.Sqlizer) (*sql.Rows, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	return r.db.QueryContext(ctx, query, args...)
}

func (r *PostgresRepository) queryRow(ctx context.Context, b sq.Sqlizer) (*sql.Row, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	return r.db.QueryRowContext(ctx, query, args...), nil
}

// ListEmails returns every monitored address, or only one tier when tier is set.
func (r *PostgresRepository) ListEmails(ctx context.Context, tier *domain.Frequency) ([]domain.MonitoredEmail, error) {
	rows, err := r.query(ctx, listEmailsQuery(tier))
	if err != nil {
		return nil, fmt.Errorf("query emails: %w", err)
	}
	return collect(rows, scanEmail)
}

func listEmailsQuery(tier *domain.Frequency) sq.SelectBuilder {
	q := psql.Select(emailColumns...).From("monitored_emails").OrderBy("created_at", "id")
	if tier != nil {
		q = q.Where(sq.Eq{"frequency": string(*tier)})
	}
	return q
}

func (r *PostgresRepository) GetEmail(ctx context.Context, id string) (domain.MonitoredEmail, error) {
	row, err := r.queryRow(ctx, psql.Select(emailColumns...).From("monitored_emails").Where(sq.Eq{"id": id}))
	if err != nil {
		return domain.MonitoredEmail{}, err
	}
	email, err := scanEmail(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.MonitoredEmail{}, fmt.Errorf("email %s: %w", id, ports.ErrNotFound)
	}
	if err != nil {
		return domain.MonitoredEmail{}, fmt.Errorf("get email: %w", err)
	}
	return email, nil
}

func (r *PostgresRepository) CreateEmail(ctx context.Context, email domain.MonitoredEmail) error {
	_, err := r.exec(ctx, psql.Insert("monitored_emails").
		Columns(emailColumns...).
		Values(email.ID, email.Address, string(email.Frequency), nullTime(email.LastScannedAt), email.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert email: %w", mapError(err))
	}
	return nil
}

func (r *PostgresRepository) UpdateFrequency(ctx context.Context, id string, freq domain.Frequency) error {
	res, err := r.exec(ctx, psql.Update("monitored_emails").Set("frequency", string(freq)).Where(sq.Eq{"id": id}))
	if err != nil {
		return fmt.Errorf("update frequency: %w", err)
	}
	return expectAffected(res, "email "+id)
}

func (r *PostgresRepository) MarkScanned(ctx context.Context, id string, at time.Time) error {
	res, err := r.exec(ctx, psql.Update("monitored_emails").Set("last_scanned_at", at).Where(sq.Eq{"id": id}))
	if err != nil {
		return fmt.Errorf("mark scanned: %w", err)
	}
	return expectAffected(res, "email "+id)
}

func (r *PostgresRepository) DeleteEmail(ctx context.Context, id string) error {
	res, err := r.exec(ctx, psql.Delete("monitored_emails").Where(sq.Eq{"id": id}))
	if err != nil {
		return fmt.Errorf("delete email: %w", err)
	}
	return expectAffected(res, "email "+id)
}

// CountBreaches returns breach counts keyed by email id. Emails without breaches are absent.
func (r *PostgresRepository) CountBreaches(ctx context.Context) (map[string]int, error) {
	rows, err := r.query(ctx, psql.Select("email_id", "COUNT(*)").From("breaches").GroupBy("email_id"))
	if err != nil {
		return nil, fmt.Errorf("count breaches: %w", err)
	}

	type count struct {
		emailID string
		n       int
	}
	counts, err := collect(rows, func(s scanner) (count, error) {
		var c count
		err := s.Scan(&c.emailID, &c.n)
		return c, err
	})
	if err != nil {
		return nil, err
	}

	result := make(map[string]int, len(counts))
	for _, c := range counts {
		result[c.emailID] = c.n
	}
	return result, nil
}

func (r *PostgresRepository) FindBreach(ctx context.Context, emailID, name string) (*domain.BreachRecord, error) {
	row, err := r.queryRow(ctx, psql.Select(breachColumns("")...).From("breaches").
		Where(sq.Eq{"email_id": emailID, "name": name}))
	if err != nil {
		return nil, err
	}
	record, err := scanBreach(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find breach: %w", err)
	}
	return &record, nil
}

// InsertBreach relies on the (email_id, name) constraint; a concurrent duplicate is a no-op.
func (r *PostgresRepository) InsertBreach(ctx context.Context, record domain.BreachRecord) (bool, error) {
	res, err := r.exec(ctx, insertBreachQuery(record))
	if err != nil {
		return false, fmt.Errorf("insert breach: %w", mapError(err))
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert breach rows: %w", err)
	}
	return affected == 1, nil
}

func insertBreachQuery(record domain.BreachRecord) sq.InsertBuilder {
	classes := record.DataClasses
	if classes == nil {
		classes = []string{}
	}
	return psql.Insert("breaches").
		Columns(breachColumns("")...).
		Values(
			record.ID, record.EmailID, record.Name, record.Title, record.Domain,
			nullTime(record.BreachDate), nullTime(record.AddedDate), record.Description,
			pq.StringArray(classes), record.PwnCount, record.IsVerified, record.DiscoveredAt,
			nullTime(record.NotificationSentAt), string(record.Status),
		).
		Suffix("ON CONFLICT (email_id, name) DO NOTHING")
}

func (r *PostgresRepository) ListBreaches(ctx context.Context, emailID string) ([]domain.BreachRecord, error) {
	rows, err := r.query(ctx, psql.Select(breachColumns("")...).From("breaches").
		Where(sq.Eq{"email_id": emailID}).
		OrderBy("discovered_at DESC", "name"))
	if err != nil {
		return nil, fmt.Errorf("query breaches: %w", err)
	}
	return collect(rows, scanBreach)
}

// ListUnsentBreaches is the notification outbox, ordered by address then discovery.
func (r *PostgresRepository) ListUnsentBreaches(ctx context.Context) ([]domain.PendingBreach, error) {
	rows, err := r.query(ctx, unsentBreachesQuery())
	if err != nil {
		return nil, fmt.Errorf("query unsent breaches: %w", err)
	}
	return collect(rows, func(s scanner) (domain.PendingBreach, error) {
		var address string
		record, err := scanBreachWith(s, &address)
		return domain.PendingBreach{BreachRecord: record, Address: address}, err
	})
}

func unsentBreachesQuery() sq.SelectBuilder {
	return psql.Select(append(breachColumns("b"), "e.address")...).
		From("breaches b").
		Join("monitored_emails e ON e.id = b.email_id").
		Where(sq.Eq{"b.notification_sent_at": nil}).
		OrderBy("e.address", "b.discovered_at", "b.id")
}

// MarkBreachesSent only stamps records that are still unsent.
func (r *PostgresRepository) MarkBreachesSent(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.exec(ctx, psql.Update("breaches").
		Set("notification_sent_at", at).
		Where(sq.Eq{"id": ids, "notification_sent_at": nil}))
	if err != nil {
		return fmt.Errorf("mark breaches sent: %w", err)
	}
	return nil
}

func (r *PostgresRepository) CreateNotification(ctx context.Context, n domain.Notification) error {
	_, err := r.exec(ctx, psql.Insert("notifications").
		Columns("id", "email_id", "type", "message", "read", "created_at").
		Values(n.ID, n.EmailID, string(n.Type), n.Message, n.Read, n.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// CreateRun maps the single-RUNNING index violation to ports.ErrConflict.
func (r *PostgresRepository) CreateRun(ctx context.Context, run domain.ScanRun) error {
	_, err := r.exec(ctx, psql.Insert("scan_runs").
		Columns(runColumns...).
		Values(run.ID, string(run.Status), nullTier(run.Tier), run.StartedAt, nullTime(run.CompletedAt),
			run.EmailsScanned, run.NewBreaches, nullString(run.Errors)))
	if err != nil {
		return fmt.Errorf("insert scan run: %w", mapError(err))
	}
	return nil
}

// FinishRun writes the terminal state. Only a RUNNING row can be finished.
func (r *PostgresRepository) FinishRun(ctx context.Context, run domain.ScanRun) error {
	res, err := r.exec(ctx, finishRunQuery(run))
	if err != nil {
		return fmt.Errorf("finish scan run: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish scan run rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("scan run %s: %w", run.ID, domain.ErrAlreadyTerminal)
	}
	return nil
}

func finishRunQuery(run domain.ScanRun) sq.UpdateBuilder {
	return psql.Update("scan_runs").
		Set("status", string(run.Status)).
		Set("completed_at", nullTime(run.CompletedAt)).
		Set("emails_scanned", run.EmailsScanned).
		Set("new_breaches", run.NewBreaches).
		Set("errors", nullString(run.Errors)).
		Where(sq.Eq{"id": run.ID, "status": string(domain.RunRunning)})
}

func (r *PostgresRepository) ListRuns(ctx context.Context, limit int) ([]domain.ScanRun, error) {
	q := psql.Select(runColumns...).From("scan_runs").OrderBy("started_at DESC", "id")
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	rows, err := r.query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query scan runs: %w", err)
	}
	return collect(rows, scanRun)
}

func (r *PostgresRepository) LatestRun(ctx context.Context, status domain.RunStatus) (*domain.ScanRun, error) {
	row, err := r.queryRow(ctx, psql.Select(runColumns...).From("scan_runs").
		Where(sq.Eq{"status": string(status)}).
		OrderBy("started_at DESC").
		Limit(1))
	if err != nil {
		return nil, err
	}
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest scan run: %w", err)
	}
	return &run, nil
}

// FailStaleRuns closes runs left RUNNING by a crashed process.
func (r *PostgresRepository) FailStaleRuns(ctx context.Context, at time.Time, reason string) (int, error) {
	res, err := r.exec(ctx, psql.Update("scan_runs").
		Set("status", string(domain.RunFailed)).
		Set("completed_at", at).
		Set("errors", reason).
		Where(sq.Eq{"status": string(domain.RunRunning)}))
	if err != nil {
		return 0, fmt.Errorf("fail stale runs: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("fail stale runs rows: %w", err)
	}
	return int(affected), nil
}

type scanner interface {
	Scan(dest ...any) error
}

func collect[T any](rows *sql.Rows, scan func(scanner) (T, error)) ([]T, error) {
	var result []T
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan row: %w", err)
		}
		result = append(result, item)
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("rows iteration: %w", rowsErr)
	}

	if closeErr := rows.Close(); closeErr != nil {
		return nil, fmt.Errorf("close rows: %w", closeErr)
	}

	return result, nil
}

func scanEmail(s scanner) (domain.MonitoredEmail, error) {
	var (
		email     domain.MonitoredEmail
		frequency string
		scannedAt sql.NullTime
	)
	if err := s.Scan(&email.ID, &email.Address, &frequency, &scannedAt, &email.CreatedAt); err != nil {
		return email, err
	}
	email.Frequency = domain.Frequency(frequency)
	email.LastScannedAt = timePtr(scannedAt)
	return email, nil
}

func scanBreach(s scanner) (domain.BreachRecord, error) {
	return scanBreachWith(s)
}

// scanBreachWith scans the breach columns followed by extra destinations.
func scanBreachWith(s scanner, extra ...any) (domain.BreachRecord, error) {
	var (
		record                        domain.BreachRecord
		breachDate, addedDate, sentAt sql.NullTime
		classes                       pq.StringArray
		status                        string
	)
	dest := append([]any{
		&record.ID, &record.EmailID, &record.Name, &record.Title, &record.Domain,
		&breachDate, &addedDate, &record.Description, &classes, &record.PwnCount,
		&record.IsVerified, &record.DiscoveredAt, &sentAt, &status,
	}, extra...)
	if err := s.Scan(dest...); err != nil {
		return record, err
	}

	record.BreachDate = timePtr(breachDate)
	record.AddedDate = timePtr(addedDate)
	record.NotificationSentAt = timePtr(sentAt)
	record.DataClasses = []string(classes)
	if record.DataClasses == nil {
		record.DataClasses = []string{}
	}
	record.Status = domain.BreachStatus(status)
	return record, nil
}

func scanRun(s scanner) (domain.ScanRun, error) {
	var (
		run         domain.ScanRun
		status      string
		tier        sql.NullString
		completedAt sql.NullTime
		errs        sql.NullString
	)
	if err := s.Scan(&run.ID, &status, &tier, &run.StartedAt, &completedAt,
		&run.EmailsScanned, &run.NewBreaches, &errs); err != nil {
		return run, err
	}
	run.Status = domain.RunStatus(status)
	if tier.Valid {
		f := domain.Frequency(tier.String)
		run.Tier = &f
	}
	run.CompletedAt = timePtr(completedAt)
	if errs.Valid {
		run.Errors = &errs.String
	}
	return run, nil
}

func mapError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", ports.ErrConflict, pqErr.Constraint)
	}
	return err
}

func expectAffected(res sql.Result, what string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%s: %w", what, ports.ErrNotFound)
	}
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullTier(f *domain.Frequency) sql.NullString {
	if f == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*f), Valid: true}
}
