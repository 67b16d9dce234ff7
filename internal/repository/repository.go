// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// seqAttempts bounds how often an insert that lost a seq race is retried.
const seqAttempts = 5

// Unique indexes that hand out append positions.
const (
	ruleSeqIndex    = "idx_rules_seq"
	messageSeqIndex = "idx_chat_messages_seq"
)

// sqliteSeqColumns maps a seq index to the column list SQLite names in its
// constraint errors.
var sqliteSeqColumns = map[string]string{
	ruleSeqIndex:    "rules.seq",
	messageSeqIndex: "chat_messages.session_id, chat_messages.seq",
}

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (*SQLRepository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		for _, stmt := range splitStatements(schema) {
			if _, err := r.db.Exec(stmt); err != nil {
				return err
			}
		}
	}
	return nil
}

// splitStatements breaks a schema block into single statements; lib/pq
// rejects multi-statement Exec calls with placeholders and some drivers
// silently stop after the first statement.
func splitStatements(schema string) []string {
	var out []string
	for _, stmt := range strings.Split(schema, ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}

// CreateRule stores a new rule at the end of the evaluation order.
func (r *SQLRepository) CreateRule(ctx context.Context, rule *domain.Rule) error {
	if rule.ID == "" || rule.Name == "" {
		return fmt.Errorf("%w: rule id and name are required", ErrInvalidInput)
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO rules (
			id, seq, name, keywords, value, operation, active, condition, created_at, updated_at
		) VALUES (?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM rules), ?, ?, ?, ?, ?, ?, ?, ?)
	`

	err := withSeqRetry(ruleSeqIndex, func() error {
		_, err := r.db.ExecContext(ctx, r.rebind(query),
			rule.ID, rule.Name, rule.Keywords, rule.Value, rule.Operation,
			boolToInt(rule.Active), rule.Condition, now, now,
		)
		return err
	})
	if err != nil {
		return err
	}

	if err := r.db.QueryRowContext(ctx, r.rebind(`SELECT seq FROM rules WHERE id = ?`), rule.ID).Scan(&rule.Seq); err != nil {
		return err
	}
	rule.CreatedAt = now
	rule.UpdatedAt = now
	return nil
}

// UpdateRule edits a rule in place. Its position in the evaluation order is kept.
func (r *SQLRepository) UpdateRule(ctx context.Context, rule *domain.Rule) error {
	if rule.ID == "" {
		return fmt.Errorf("%w: rule id is required", ErrInvalidInput)
	}

	now := time.Now().UTC()

	query := `
		UPDATE rules
		SET name = ?, keywords = ?, value = ?, operation = ?, active = ?, condition = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.Name, rule.Keywords, rule.Value, rule.Operation,
		boolToInt(rule.Active), rule.Condition, now, rule.ID,
	)
	if err != nil {
		return err
	}
	if err := expectAffected(result); err != nil {
		return err
	}
	rule.UpdatedAt = now
	return nil
}

const ruleColumns = `id, seq, name, keywords, value, operation, active, condition, created_at, updated_at`

// GetRule retrieves a rule regardless of its active flag.
func (r *SQLRepository) GetRule(ctx context.Context, ruleID string) (*domain.Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM rules WHERE id = ?`

	rule, err := scanRule(r.db.QueryRowContext(ctx, r.rebind(query), ruleID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rule, nil
}

// ListRules returns every rule in evaluation order.
func (r *SQLRepository) ListRules(ctx context.Context) ([]*domain.Rule, error) {
	return r.queryRules(ctx, `SELECT `+ruleColumns+` FROM rules ORDER BY seq`)
}

// ListActiveRules returns the active rule snapshot in evaluation order.
func (r *SQLRepository) ListActiveRules(ctx context.Context) ([]*domain.Rule, error) {
	return r.queryRules(ctx, `SELECT `+ruleColumns+` FROM rules WHERE active = 1 ORDER BY seq`)
}

func (r *SQLRepository) queryRules(ctx context.Context, query string, args ...any) ([]*domain.Rule, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}

// SetRuleActive flips the active flag of a rule.
func (r *SQLRepository) SetRuleActive(ctx context.Context, ruleID string, active bool) error {
	query := `UPDATE rules SET active = ?, updated_at = ? WHERE id = ?`

	result, err := r.db.ExecContext(ctx, r.rebind(query), boolToInt(active), time.Now().UTC(), ruleID)
	if err != nil {
		return err
	}
	return expectAffected(result)
}

// DeleteRule removes a rule permanently.
func (r *SQLRepository) DeleteRule(ctx context.Context, ruleID string) error {
	result, err := r.db.ExecContext(ctx, r.rebind(`DELETE FROM rules WHERE id = ?`), ruleID)
	if err != nil {
		return err
	}
	return expectAffected(result)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (*domain.Rule, error) {
	var rule domain.Rule
	var active int

	if err := row.Scan(
		&rule.ID, &rule.Seq, &rule.Name, &rule.Keywords, &rule.Value,
		&rule.Operation, &active, &rule.Condition, &rule.CreatedAt, &rule.UpdatedAt,
	); err != nil {
		return nil, err
	}
	rule.Active = active == 1
	return &rule, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// DB exposes the underlying handle for maintenance tooling.
func (r *SQLRepository) DB() *sql.DB {
	return r.db
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
// withSeqRetry runs insert until it stops colliding on the seq index. Two
// writers can read the same MAX(seq) under read committed; the loser sees
// the winner's row on the next attempt.
func withSeqRetry(index string, insert func() error) error {
	var err error
	for attempt := 0; attempt < seqAttempts; attempt++ {
		if err = insert(); err == nil || !isSeqConflict(err, index) {
			return err
		}
	}
	return fmt.Errorf("seq still contended after %d attempts: %w", seqAttempts, err)
}

// isSeqConflict reports whether err is a unique violation on index.
func isSeqConflict(err error, index string) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505" && pqErr.Constraint == index
	}
	cols, ok := sqliteSeqColumns[index]
	return ok && strings.Contains(err.Error(), "UNIQUE constraint failed: "+cols)
}

func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			n++
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// placeholders returns "?, ?, ?" for n arguments.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func expectAffected(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func stringArgs(values []string) []any {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}
