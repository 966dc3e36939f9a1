package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/josephgoksu/specwing/models"
)

// SQLiteStore implements Store on a single SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path. ":memory:" gives an
// ephemeral store for tests.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("create data directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS specs (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS spec_dependencies (
		from_id TEXT NOT NULL REFERENCES specs(id) ON DELETE CASCADE,
		to_id TEXT NOT NULL REFERENCES specs(id) ON DELETE CASCADE,
		PRIMARY KEY (from_id, to_id)
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		spec_id TEXT NOT NULL REFERENCES specs(id) ON DELETE CASCADE,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		token_count INTEGER NOT NULL DEFAULT 0,
		model TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_spec ON messages(spec_id, created_at);

	CREATE TABLE IF NOT EXISTS file_changes (
		id TEXT PRIMARY KEY,
		message_id TEXT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
		file_path TEXT NOT NULL,
		kind TEXT NOT NULL,
		new_path TEXT NOT NULL DEFAULT '',
		original_content TEXT NOT NULL DEFAULT '',
		new_content TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_file_changes_message ON file_changes(message_id);

	CREATE TABLE IF NOT EXISTS executions (
		id TEXT PRIMARY KEY,
		spec_id TEXT NOT NULL REFERENCES specs(id) ON DELETE CASCADE,
		backend_id TEXT NOT NULL,
		model TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		prompt_tokens INTEGER NOT NULL DEFAULT 0,
		completion_tokens INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT '',
		started_at TEXT NOT NULL,
		completed_at TEXT,
		duration_ms INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_executions_spec ON executions(spec_id, started_at);

	CREATE TABLE IF NOT EXISTS backends (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		provider TEXT NOT NULL,
		model TEXT NOT NULL DEFAULT '',
		base_url TEXT NOT NULL DEFAULT '',
		capabilities TEXT NOT NULL DEFAULT '[]',
		is_default INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const timeLayout = time.RFC3339Nano

func fmtTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// ---- specs ----

func (s *SQLiteStore) CreateSpec(ctx context.Context, spec models.Spec) (models.Spec, error) {
	if spec.Version == 0 {
		spec.Version = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO specs (id, title, description, status, version, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		spec.ID, spec.Title, spec.Description, string(spec.Status), spec.Version,
		fmtTime(spec.CreatedAt), fmtTime(spec.UpdatedAt))
	if err != nil {
		return models.Spec{}, fmt.Errorf("insert spec: %w", err)
	}
	for _, dep := range spec.Dependencies {
		if err := s.AddDependency(ctx, spec.ID, dep); err != nil {
			return models.Spec{}, err
		}
	}
	return s.GetSpec(ctx, spec.ID)
}

func (s *SQLiteStore) GetSpec(ctx context.Context, id string) (models.Spec, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, title, description, status, version, created_at, updated_at
		 FROM specs WHERE id = ?`, id)

	var spec models.Spec
	var status, createdAt, updatedAt string
	err := row.Scan(&spec.ID, &spec.Title, &spec.Description, &status, &spec.Version, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return models.Spec{}, ErrNotFound
	}
	if err != nil {
		return models.Spec{}, fmt.Errorf("scan spec: %w", err)
	}
	spec.Status = models.SpecStatus(status)
	spec.CreatedAt = parseTime(createdAt)
	spec.UpdatedAt = parseTime(updatedAt)

	if spec.Dependencies, err = s.dependencyColumn(ctx, "from_id", "to_id", id); err != nil {
		return models.Spec{}, err
	}
	if spec.Dependents, err = s.dependencyColumn(ctx, "to_id", "from_id", id); err != nil {
		return models.Spec{}, err
	}
	return spec, nil
}

func (s *SQLiteStore) dependencyColumn(ctx context.Context, whereCol, selectCol, id string) ([]string, error) {
	// Column names come from the two call sites above, never from input.
	query := fmt.Sprintf("SELECT %s FROM spec_dependencies WHERE %s = ? ORDER BY %s", selectCol, whereCol, selectCol)
	rows, err := s.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("query dependencies: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []string{}
	for rows.Next() {
		var dep string
		if err := rows.Scan(&dep); err != nil {
			return nil, fmt.Errorf("scan dependency: %w", err)
		}
		out = append(out, dep)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UpdateSpec(ctx context.Context, spec models.Spec) (models.Spec, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE specs SET title = ?, description = ?, status = ?, version = ?, updated_at = ?
		 WHERE id = ? AND version = ?`,
		spec.Title, spec.Description, string(spec.Status), spec.Version,
		fmtTime(spec.UpdatedAt), spec.ID, spec.Version-1)
	if err != nil {
		return models.Spec{}, fmt.Errorf("update spec: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return models.Spec{}, fmt.Errorf("update spec rows: %w", err)
	}
	if n == 0 {
		// Distinguish a stale version from a missing spec.
		if _, err := s.GetSpec(ctx, spec.ID); err != nil {
			return models.Spec{}, err
		}
		return models.Spec{}, ErrVersionConflict
	}
	return s.GetSpec(ctx, spec.ID)
}

func (s *SQLiteStore) ListSpecs(ctx context.Context) ([]models.Spec, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM specs ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list specs: %w", err)
	}
	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan spec id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	specs := make([]models.Spec, 0, len(ids))
	for _, id := range ids {
		spec, err := s.GetSpec(ctx, id)
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

func (s *SQLiteStore) AddDependency(ctx context.Context, fromID, toID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO spec_dependencies (from_id, to_id) VALUES (?, ?)`, fromID, toID)
	if err != nil {
		return fmt.Errorf("insert dependency: %w", err)
	}
	return nil
}

func (s *SQLiteStore) RemoveDependency(ctx context.Context, fromID, toID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM spec_dependencies WHERE from_id = ? AND to_id = ?`, fromID, toID)
	if err != nil {
		return fmt.Errorf("delete dependency: %w", err)
	}
	return nil
}

// ---- messages ----

func (s *SQLiteStore) ListMessages(ctx context.Context, specID string) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, spec_id, role, content, token_count, model, created_at
		 FROM messages WHERE spec_id = ? ORDER BY created_at, id`, specID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	msgs := []models.Message{}
	for rows.Next() {
		var m models.Message
		var role, createdAt string
		if err := rows.Scan(&m.ID, &m.SpecID, &role, &m.Content, &m.TokenCount, &m.Model, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Role = models.MessageRole(role)
		m.CreatedAt = parseTime(createdAt)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (s *SQLiteStore) CreateMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, spec_id, role, content, token_count, model, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.SpecID, string(msg.Role), msg.Content, msg.TokenCount, msg.Model, fmtTime(msg.CreatedAt))
	if err != nil {
		return models.Message{}, fmt.Errorf("insert message: %w", err)
	}
	return msg, nil
}

// ---- file changes ----

func (s *SQLiteStore) CreateFileChange(ctx context.Context, fc models.FileChange) (models.FileChange, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO file_changes (id, message_id, file_path, kind, new_path, original_content, new_content, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		fc.ID, fc.MessageID, fc.FilePath, string(fc.Kind), fc.NewPath,
		fc.OriginalContent, fc.NewContent, string(fc.Status), fmtTime(fc.CreatedAt), fmtTime(fc.UpdatedAt))
	if err != nil {
		return models.FileChange{}, fmt.Errorf("insert file change: %w", err)
	}
	return fc, nil
}

func (s *SQLiteStore) GetFileChange(ctx context.Context, id string) (models.FileChange, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, message_id, file_path, kind, new_path, original_content, new_content, status, created_at, updated_at
		 FROM file_changes WHERE id = ?`, id)
	return scanFileChange(row)
}

func (s *SQLiteStore) UpdateFileChange(ctx context.Context, fc models.FileChange) (models.FileChange, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE file_changes SET status = ?, updated_at = ? WHERE id = ?`,
		string(fc.Status), fmtTime(fc.UpdatedAt), fc.ID)
	if err != nil {
		return models.FileChange{}, fmt.Errorf("update file change: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.FileChange{}, ErrNotFound
	}
	return s.GetFileChange(ctx, fc.ID)
}

func (s *SQLiteStore) ListFileChanges(ctx context.Context, messageID string) ([]models.FileChange, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, message_id, file_path, kind, new_path, original_content, new_content, status, created_at, updated_at
		 FROM file_changes WHERE message_id = ? ORDER BY created_at, id`, messageID)
	if err != nil {
		return nil, fmt.Errorf("list file changes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []models.FileChange{}
	for rows.Next() {
		fc, err := scanFileChange(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, fc)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFileChange(row rowScanner) (models.FileChange, error) {
	var fc models.FileChange
	var kind, status, createdAt, updatedAt string
	err := row.Scan(&fc.ID, &fc.MessageID, &fc.FilePath, &kind, &fc.NewPath,
		&fc.OriginalContent, &fc.NewContent, &status, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return models.FileChange{}, ErrNotFound
	}
	if err != nil {
		return models.FileChange{}, fmt.Errorf("scan file change: %w", err)
	}
	fc.Kind = models.FileChangeKind(kind)
	fc.Status = models.FileChangeStatus(status)
	fc.CreatedAt = parseTime(createdAt)
	fc.UpdatedAt = parseTime(updatedAt)
	return fc, nil
}

// ---- executions ----

func (s *SQLiteStore) CreateExecution(ctx context.Context, ex models.Execution) (models.Execution, error) {
	var completedAt any
	if ex.CompletedAt != nil {
		completedAt = fmtTime(*ex.CompletedAt)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO executions (id, spec_id, backend_id, model, status, prompt_tokens, completion_tokens, error, started_at, completed_at, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ex.ID, ex.SpecID, ex.BackendID, ex.Model, string(ex.Status),
		ex.PromptTokens, ex.CompletionTokens, ex.Error, fmtTime(ex.StartedAt), completedAt, ex.DurationMs)
	if err != nil {
		return models.Execution{}, fmt.Errorf("insert execution: %w", err)
	}
	return ex, nil
}

func (s *SQLiteStore) GetExecution(ctx context.Context, id string) (models.Execution, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, spec_id, backend_id, model, status, prompt_tokens, completion_tokens, error, started_at, completed_at, duration_ms
		 FROM executions WHERE id = ?`, id)
	return scanExecution(row)
}

func (s *SQLiteStore) UpdateExecution(ctx context.Context, ex models.Execution) (models.Execution, error) {
	var completedAt any
	if ex.CompletedAt != nil {
		completedAt = fmtTime(*ex.CompletedAt)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE executions SET status = ?, prompt_tokens = ?, completion_tokens = ?, error = ?, completed_at = ?, duration_ms = ?
		 WHERE id = ?`,
		string(ex.Status), ex.PromptTokens, ex.CompletionTokens, ex.Error, completedAt, ex.DurationMs, ex.ID)
	if err != nil {
		return models.Execution{}, fmt.Errorf("update execution: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.Execution{}, ErrNotFound
	}
	return ex, nil
}

func (s *SQLiteStore) ListExecutions(ctx context.Context, specID string) ([]models.Execution, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, spec_id, backend_id, model, status, prompt_tokens, completion_tokens, error, started_at, completed_at, duration_ms
		 FROM executions WHERE spec_id = ? ORDER BY started_at, id`, specID)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []models.Execution{}
	for rows.Next() {
		ex, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ex)
	}
	return out, rows.Err()
}

func scanExecution(row rowScanner) (models.Execution, error) {
	var ex models.Execution
	var status, startedAt string
	var completedAt sql.NullString
	err := row.Scan(&ex.ID, &ex.SpecID, &ex.BackendID, &ex.Model, &status,
		&ex.PromptTokens, &ex.CompletionTokens, &ex.Error, &startedAt, &completedAt, &ex.DurationMs)
	if err == sql.ErrNoRows {
		return models.Execution{}, ErrNotFound
	}
	if err != nil {
		return models.Execution{}, fmt.Errorf("scan execution: %w", err)
	}
	ex.Status = models.ExecutionStatus(status)
	ex.StartedAt = parseTime(startedAt)
	if completedAt.Valid {
		t := parseTime(completedAt.String)
		ex.CompletedAt = &t
	}
	return ex, nil
}

// ---- backends ----

func (s *SQLiteStore) CreateBackend(ctx context.Context, cfg models.BackendConfig) (models.BackendConfig, error) {
	caps, err := json.Marshal(cfg.Capabilities)
	if err != nil {
		return models.BackendConfig{}, fmt.Errorf("marshal capabilities: %w", err)
	}
	isDefault := 0
	if cfg.IsDefault {
		isDefault = 1
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO backends (id, name, provider, model, base_url, capabilities, is_default, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		cfg.ID, cfg.Name, cfg.Provider, cfg.Model, cfg.BaseURL, string(caps), isDefault, fmtTime(cfg.CreatedAt))
	if err != nil {
		return models.BackendConfig{}, fmt.Errorf("insert backend: %w", err)
	}
	return cfg, nil
}

func (s *SQLiteStore) ListBackends(ctx context.Context) ([]models.BackendConfig, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, provider, model, base_url, capabilities, is_default, created_at
		 FROM backends ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list backends: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []models.BackendConfig{}
	for rows.Next() {
		var cfg models.BackendConfig
		var caps, createdAt string
		var isDefault int
		if err := rows.Scan(&cfg.ID, &cfg.Name, &cfg.Provider, &cfg.Model, &cfg.BaseURL, &caps, &isDefault, &createdAt); err != nil {
			return nil, fmt.Errorf("scan backend: %w", err)
		}
		if err := json.Unmarshal([]byte(caps), &cfg.Capabilities); err != nil {
			return nil, fmt.Errorf("unmarshal capabilities: %w", err)
		}
		cfg.IsDefault = isDefault == 1
		cfg.CreatedAt = parseTime(createdAt)
		out = append(out, cfg)
	}
	return out, rows.Err()
}
