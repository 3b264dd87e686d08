package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/joescharf/council/internal/models"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// The CLI and the API server may share the file; one connection per process
	// keeps writes serialized and avoids "database is locked".
	db.SetMaxOpenConns(1)

	pragmas := []struct{ stmt, what string }{
		{"PRAGMA journal_mode=WAL", "enable WAL mode"},
		{"PRAGMA busy_timeout=5000", "set busy timeout"},
		{"PRAGMA foreign_keys=ON", "enable foreign keys"},
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p.stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", p.what, err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Migrate runs all embedded SQL migration files in order.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()

		var count int
		err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", name).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Reviewers ---

const reviewerColumns = `id, name, icon, color, model, system_prompt, is_editor, enabled, sort_order, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanReviewer(row scanner) (*models.Reviewer, error) {
	r := &models.Reviewer{}
	err := row.Scan(&r.ID, &r.Name, &r.Icon, &r.Color, &r.Model, &r.SystemPrompt,
		&r.IsEditor, &r.Enabled, &r.SortOrder, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}

// ListReviewers returns every reviewer in configuration order.
func (s *SQLiteStore) ListReviewers(ctx context.Context) ([]*models.Reviewer, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+reviewerColumns+` FROM reviewers ORDER BY sort_order, name`)
	if err != nil {
		return nil, fmt.Errorf("list reviewers: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var reviewers []*models.Reviewer
	for rows.Next() {
		r, err := scanReviewer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reviewer: %w", err)
		}
		reviewers = append(reviewers, r)
	}
	return reviewers, rows.Err()
}

func (s *SQLiteStore) GetReviewer(ctx context.Context, id string) (*models.Reviewer, error) {
	r, err := scanReviewer(s.db.QueryRowContext(ctx,
		`SELECT `+reviewerColumns+` FROM reviewers WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("reviewer %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get reviewer: %w", err)
	}
	return r, nil
}

// SaveReviewer inserts or updates a reviewer by ID.
func (s *SQLiteStore) SaveReviewer(ctx context.Context, r *models.Reviewer) error {
	if strings.TrimSpace(r.ID) == "" {
		return fmt.Errorf("save reviewer: id required")
	}
	if strings.TrimSpace(r.Model) == "" {
		r.Model = models.DefaultReviewerModel
	}
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reviewers (`+reviewerColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name=excluded.name, icon=excluded.icon, color=excluded.color, model=excluded.model,
			system_prompt=excluded.system_prompt, is_editor=excluded.is_editor, enabled=excluded.enabled,
			sort_order=excluded.sort_order, updated_at=excluded.updated_at`,
		r.ID, r.Name, r.Icon, r.Color, r.Model, r.SystemPrompt,
		boolToInt(r.IsEditor), boolToInt(r.Enabled), r.SortOrder, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save reviewer: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SetReviewerEnabled(ctx context.Context, id string, enabled bool) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE reviewers SET enabled=?, updated_at=? WHERE id=?`,
		boolToInt(enabled), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update reviewer: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("reviewer %s: %w", id, ErrNotFound)
	}
	return nil
}

// SeedReviewers inserts reviewers only when the table is empty. It returns the number inserted.
func (s *SQLiteStore) SeedReviewers(ctx context.Context, reviewers []*models.Reviewer) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM reviewers").Scan(&count); err != nil {
		return 0, fmt.Errorf("count reviewers: %w", err)
	}
	if count > 0 {
		return 0, nil
	}
	for _, r := range reviewers {
		if err := s.SaveReviewer(ctx, r); err != nil {
			return 0, err
		}
	}
	return len(reviewers), nil
}

// --- Reviews ---

// SaveReview writes a session and its document, replacing any earlier copy of the same session.
func (s *SQLiteStore) SaveReview(ctx context.Context, session *models.ReviewSession, doc *models.ReviewDocument) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save review: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM review_sessions WHERE id = ?", session.ID); err != nil {
		return fmt.Errorf("clear review: %w", err)
	}

	var selection string
	if doc != nil && doc.Selection != nil {
		b, err := json.Marshal(doc.Selection)
		if err != nil {
			return fmt.Errorf("encode selection: %w", err)
		}
		selection = string(b)
	}
	var completedAt any
	if session.CompletedAt != nil {
		completedAt = *session.CompletedAt
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO review_sessions (id, document_path, document_content, selection, reviewer_ids, status, summary, errors, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		session.ID, session.DocumentPath, session.DocumentContent, selection,
		mustJSON(session.ReviewerIDs), string(session.Status), session.Summary, mustJSON(session.Errors),
		session.StartedAt, completedAt,
	)
	if err != nil {
		return fmt.Errorf("insert review session: %w", err)
	}

	position := 0
	if doc != nil {
		for i, fb := range doc.CouncilFeedback {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO council_feedback (session_id, position, reviewer_id, reviewer_name, reviewer_icon, model, summary, failed, error)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				session.ID, i, fb.ReviewerID, fb.ReviewerName, fb.ReviewerIcon, fb.Model, fb.Summary, boolToInt(fb.Failed), fb.Error,
			)
			if err != nil {
				return fmt.Errorf("insert council feedback: %w", err)
			}
			for _, f := range fb.Findings {
				if err := insertFinding(ctx, tx, session.ID, position, f); err != nil {
					return err
				}
				position++
			}
		}
		if syn := doc.EditorSynthesis; syn != nil {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO editor_syntheses (session_id, overall_assessment, prioritized_changes, conflicting_feedback, recommended_focus, degraded, model, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				session.ID, syn.OverallAssessment, mustJSON(syn.PrioritizedChanges), mustJSON(syn.ConflictingFeedback),
				syn.RecommendedFocus, boolToInt(syn.Degraded), syn.Model, syn.CreatedAt,
			)
			if err != nil {
				return fmt.Errorf("insert editor synthesis: %w", err)
			}
		}
	} else {
		for _, f := range session.Findings {
			if err := insertFinding(ctx, tx, session.ID, position, f); err != nil {
				return err
			}
			position++
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save review: %w", err)
	}
	return nil
}

func insertFinding(ctx context.Context, tx *sql.Tx, sessionID string, position int, f models.Finding) error {
	if f.ID == "" {
		f.ID = models.NewID()
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO findings (id, session_id, position, reviewer_id, reviewer_name, reviewer_icon, reviewer_color, line_start, line_end, original_text, type, severity, comment, suggestion, confidence, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, sessionID, position, f.ReviewerID, f.ReviewerName, f.ReviewerIcon, f.ReviewerColor,
		f.LineStart, f.LineEnd, f.OriginalText, string(f.Type), string(f.Severity), f.Comment, f.Suggestion,
		f.Confidence, string(f.Status), f.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert finding: %w", err)
	}
	return nil
}

const sessionColumns = `id, document_path, document_content, selection, reviewer_ids, status, summary, errors, started_at, completed_at`

func scanSession(row scanner) (*models.ReviewSession, string, error) {
	var (
		sess                     models.ReviewSession
		selection, ids, errs, st string
		completedAt              sql.NullTime
	)
	if err := row.Scan(&sess.ID, &sess.DocumentPath, &sess.DocumentContent, &selection, &ids, &st,
		&sess.Summary, &errs, &sess.StartedAt, &completedAt); err != nil {
		return nil, "", err
	}
	sess.Status = models.SessionStatus(st)
	_ = json.Unmarshal([]byte(ids), &sess.ReviewerIDs)
	_ = json.Unmarshal([]byte(errs), &sess.Errors)
	if completedAt.Valid {
		t := completedAt.Time
		sess.CompletedAt = &t
	}
	return &sess, selection, nil
}

// GetReview loads a session together with its reconstructed review document.
func (s *SQLiteStore) GetReview(ctx context.Context, id string) (*models.ReviewSession, *models.ReviewDocument, error) {
	sess, selection, err := scanSession(s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM review_sessions WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil, fmt.Errorf("review %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("get review: %w", err)
	}

	findings, err := s.listFindings(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	sess.Findings = findings

	doc := &models.ReviewDocument{
		SessionID:       sess.ID,
		DocumentPath:    sess.DocumentPath,
		DocumentContent: sess.DocumentContent,
		CouncilFeedback: []models.CouncilFeedback{},
		CreatedAt:       sess.StartedAt,
	}
	if selection != "" {
		var sel models.Selection
		if err := json.Unmarshal([]byte(selection), &sel); err == nil {
			doc.Selection = &sel
		}
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT reviewer_id, reviewer_name, reviewer_icon, model, summary, failed, error
		FROM council_feedback WHERE session_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, nil, fmt.Errorf("list council feedback: %w", err)
	}
	defer func() { _ = rows.Close() }()

	byReviewer := make(map[string][]models.Finding)
	for _, f := range findings {
		byReviewer[f.ReviewerID] = append(byReviewer[f.ReviewerID], f)
	}
	for rows.Next() {
		var fb models.CouncilFeedback
		if err := rows.Scan(&fb.ReviewerID, &fb.ReviewerName, &fb.ReviewerIcon, &fb.Model, &fb.Summary, &fb.Failed, &fb.Error); err != nil {
			return nil, nil, fmt.Errorf("scan council feedback: %w", err)
		}
		fb.Findings = byReviewer[fb.ReviewerID]
		if fb.Findings == nil {
			fb.Findings = []models.Finding{}
		}
		doc.CouncilFeedback = append(doc.CouncilFeedback, fb)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	_ = rows.Close()

	syn, err := s.getSynthesis(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	doc.EditorSynthesis = syn
	return sess, doc, nil
}

func (s *SQLiteStore) getSynthesis(ctx context.Context, sessionID string) (*models.EditorSynthesis, error) {
	var (
		syn               models.EditorSynthesis
		changes, conflict string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT overall_assessment, prioritized_changes, conflicting_feedback, recommended_focus, degraded, model, created_at
		FROM editor_syntheses WHERE session_id = ?`, sessionID,
	).Scan(&syn.OverallAssessment, &changes, &conflict, &syn.RecommendedFocus, &syn.Degraded, &syn.Model, &syn.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get editor synthesis: %w", err)
	}
	if err := json.Unmarshal([]byte(changes), &syn.PrioritizedChanges); err != nil {
		return nil, fmt.Errorf("decode prioritized changes: %w", err)
	}
	if syn.PrioritizedChanges == nil {
		syn.PrioritizedChanges = []models.PrioritizedChange{}
	}
	_ = json.Unmarshal([]byte(conflict), &syn.ConflictingFeedback)
	return &syn, nil
}

func (s *SQLiteStore) listFindings(ctx context.Context, sessionID string) ([]models.Finding, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, reviewer_id, reviewer_name, reviewer_icon, reviewer_color, line_start, line_end, original_text, type, severity, comment, suggestion, confidence, status, created_at
		FROM findings WHERE session_id = ? ORDER BY position`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list findings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var findings []models.Finding
	for rows.Next() {
		var (
			f                    models.Finding
			typ, severity, state string
		)
		if err := rows.Scan(&f.ID, &f.ReviewerID, &f.ReviewerName, &f.ReviewerIcon, &f.ReviewerColor,
			&f.LineStart, &f.LineEnd, &f.OriginalText, &typ, &severity, &f.Comment, &f.Suggestion,
			&f.Confidence, &state, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan finding: %w", err)
		}
		f.Type = models.FindingType(typ)
		f.Severity = models.Severity(severity)
		f.Status = models.FindingStatus(state)
		findings = append(findings, f)
	}
	return findings, rows.Err()
}

// ListReviewSessions returns sessions newest first, with their findings.
func (s *SQLiteStore) ListReviewSessions(ctx context.Context, filter ReviewListFilter) ([]*models.ReviewSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM review_sessions`
	var args []any
	if filter.DocumentPath != "" {
		query += ` WHERE document_path = ?`
		args = append(args, filter.DocumentPath)
	}
	query += ` ORDER BY started_at DESC, id DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list review sessions: %w", err)
	}
	var sessions []*models.ReviewSession
	for rows.Next() {
		sess, _, err := scanSession(rows)
		if err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan review session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	// Findings are loaded after the cursor is closed; the pool holds a single connection.
	for _, sess := range sessions {
		findings, err := s.listFindings(ctx, sess.ID)
		if err != nil {
			return nil, err
		}
		sess.Findings = findings
	}
	return sessions, nil
}

func (s *SQLiteStore) UpdateFindingStatus(ctx context.Context, findingID string, status models.FindingStatus) error {
	if !status.Valid() {
		return fmt.Errorf("invalid finding status %q", status)
	}
	result, err := s.db.ExecContext(ctx, `UPDATE findings SET status=? WHERE id=?`, string(status), findingID)
	if err != nil {
		return fmt.Errorf("update finding: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("finding %s: %w", findingID, ErrNotFound)
	}
	return nil
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil || string(b) == "null" {
		return "[]"
	}
	return string(b)
}
