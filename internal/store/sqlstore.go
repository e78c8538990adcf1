package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// tsLayout is fixed-width so stored timestamps sort lexically.
const tsLayout = "2006-01-02T15:04:05.000000000Z"

func formatTS(t time.Time) string { return t.UTC().Format(tsLayout) }

func parseTS(s string) time.Time {
	t, err := time.Parse(tsLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t.UTC()
}

// nullStr converts a sql.NullString to a plain string (empty if null).
func nullStr(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// nullable stores empty strings as NULL.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var _ Store = (*SqlStore)(nil)

// SqlStore implements Store with SQLite.
type SqlStore struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates a SQLite DB at path and runs migrations.
// Creates the parent directory (e.g. .agentrank) if it does not exist.
func Open(path string) (*SqlStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	return open(db)
}

// OpenMemory opens a private in-memory SQLite DB, for tests.
func OpenMemory() (*SqlStore, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open memory sqlite: %w", err)
	}
	// Every pooled connection to :memory: would see its own empty database.
	db.SetMaxOpenConns(1)
	return open(db)
}

func open(db *sql.DB) (*SqlStore, error) {
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	s := &SqlStore{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SqlStore) migrate() error {
	var tableCount int
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableCount)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}

	if tableCount == 0 {
		if _, err := s.db.Exec(schemaV1); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
		if _, err := s.db.Exec("INSERT INTO schema_version(version) VALUES(?)", schemaVersion); err != nil {
			return fmt.Errorf("set schema version: %w", err)
		}
		return nil
	}

	var v int
	err = s.db.QueryRow("SELECT version FROM schema_version LIMIT 1").Scan(&v)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if v != schemaVersion {
		return fmt.Errorf("unknown schema version %d", v)
	}
	return nil
}

// Close closes the database connection.
func (s *SqlStore) Close() error {
	return s.db.Close()
}

// --- Agents ---

func (s *SqlStore) SaveAgent(ctx context.Context, a *Agent) error {
	if a == nil || a.ID == "" {
		return errors.New("agent id is required")
	}
	normalizeAgent(a)
	now := s.now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save agent: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var version int
	var createdAt string
	err = tx.QueryRowContext(ctx, "SELECT version, created_at FROM agents WHERE id = ?", a.ID).Scan(&version, &createdAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		a.CreatedAt = now
		a.UpdatedAt = now
		_, err = tx.ExecContext(ctx,
			`INSERT INTO agents(id, name, role, prompt, provider, model, temperature, enabled, version, created_at, updated_at)
			 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			a.ID, a.Name, a.Role, a.Prompt, a.Provider, a.Model, a.Temperature, boolInt(a.Enabled), a.Version,
			formatTS(now), formatTS(now))
		if err != nil {
			return fmt.Errorf("insert agent: %w", err)
		}
	case err != nil:
		return fmt.Errorf("read agent version: %w", err)
	default:
		a.Version = version + 1
		a.CreatedAt = parseTS(createdAt)
		a.UpdatedAt = now
		_, err = tx.ExecContext(ctx,
			`UPDATE agents SET name = ?, role = ?, prompt = ?, provider = ?, model = ?, temperature = ?,
			        enabled = ?, version = ?, updated_at = ?
			 WHERE id = ?`,
			a.Name, a.Role, a.Prompt, a.Provider, a.Model, a.Temperature, boolInt(a.Enabled), a.Version,
			formatTS(now), a.ID)
		if err != nil {
			return fmt.Errorf("update agent: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save agent: %w", err)
	}
	return nil
}

const agentCols = `id, name, role, prompt, provider, model, temperature, enabled, version, created_at, updated_at`

func scanAgent(row interface{ Scan(...any) error }) (*Agent, error) {
	var a Agent
	var role, prompt, model sql.NullString
	var enabled int
	var createdAt, updatedAt string
	if err := row.Scan(&a.ID, &a.Name, &role, &prompt, &a.Provider, &model, &a.Temperature,
		&enabled, &a.Version, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	a.Role = nullStr(role)
	a.Prompt = nullStr(prompt)
	a.Model = nullStr(model)
	a.Enabled = enabled != 0
	a.CreatedAt = parseTS(createdAt)
	a.UpdatedAt = parseTS(updatedAt)
	return &a, nil
}

func (s *SqlStore) GetAgent(ctx context.Context, id string) (*Agent, error) {
	a, err := scanAgent(s.db.QueryRowContext(ctx, "SELECT "+agentCols+" FROM agents WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get agent: %w", err)
	}
	return a, nil
}

func (s *SqlStore) ListAgents(ctx context.Context) ([]*Agent, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+agentCols+" FROM agents ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()
	var out []*Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// --- Links ---

func (s *SqlStore) CreateLink(ctx context.Context, l *Link) error {
	if l == nil || l.SourceAgent == "" || l.TargetAgent == "" {
		return errors.New("link source and target are required")
	}
	normalizeLink(l)
	if l.CreatedAt.IsZero() {
		l.CreatedAt = s.now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO links(id, source_agent, target_agent, kind, strength, context, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.SourceAgent, l.TargetAgent, l.Kind, l.Strength, nullable(l.Context), formatTS(l.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert link: %w", err)
	}
	return nil
}

const linkCols = `id, source_agent, target_agent, kind, strength, context, created_at`

func scanLinks(rows *sql.Rows) ([]*Link, error) {
	defer rows.Close()
	var out []*Link
	for rows.Next() {
		var l Link
		var lctx sql.NullString
		var createdAt string
		if err := rows.Scan(&l.ID, &l.SourceAgent, &l.TargetAgent, &l.Kind, &l.Strength, &lctx, &createdAt); err != nil {
			return nil, fmt.Errorf("scan link: %w", err)
		}
		l.Context = nullStr(lctx)
		l.CreatedAt = parseTS(createdAt)
		out = append(out, &l)
	}
	return out, rows.Err()
}

func (s *SqlStore) ListLinks(ctx context.Context) ([]*Link, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+linkCols+" FROM links ORDER BY created_at DESC, rowid DESC")
	if err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}
	return scanLinks(rows)
}

func (s *SqlStore) ListLinksBySource(ctx context.Context, sourceAgent string, limit int) ([]*Link, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+linkCols+" FROM links WHERE source_agent = ? ORDER BY created_at DESC, rowid DESC LIMIT ?",
		sourceAgent, sqlLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list links by source: %w", err)
	}
	return scanLinks(rows)
}

// sqlLimit maps "no limit" to SQLite's -1.
func sqlLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}

// --- Behaviors ---

func (s *SqlStore) CreateBehavior(ctx context.Context, b *Behavior) error {
	if b == nil || b.AgentID == "" || b.ActionType == "" {
		return errors.New("behavior agent_id and action_type are required")
	}
	if b.ID == "" {
		b.ID = NewID()
	}
	if b.Version < 1 {
		b.Version = 1
	}
	now := s.now().UTC()
	b.CreatedAt, b.UpdatedAt = now, now
	cfg, err := json.Marshal(configOrEmpty(b.Config))
	if err != nil {
		return fmt.Errorf("marshal behavior config: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO behaviors(id, agent_id, name, action_type, trigger_type, config, enabled, version, created_at, updated_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.AgentID, b.Name, b.ActionType, b.TriggerType, string(cfg), boolInt(b.Enabled), b.Version,
		formatTS(now), formatTS(now))
	if err != nil {
		return fmt.Errorf("insert behavior: %w", err)
	}
	return nil
}

func configOrEmpty(c map[string]any) map[string]any {
	if c == nil {
		return map[string]any{}
	}
	return c
}

const behaviorCols = `id, agent_id, name, action_type, trigger_type, config, enabled, version, created_at, updated_at`

func scanBehavior(row interface{ Scan(...any) error }) (*Behavior, error) {
	var b Behavior
	var cfg string
	var enabled int
	var createdAt, updatedAt string
	if err := row.Scan(&b.ID, &b.AgentID, &b.Name, &b.ActionType, &b.TriggerType, &cfg, &enabled,
		&b.Version, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if cfg != "" {
		if err := json.Unmarshal([]byte(cfg), &b.Config); err != nil {
			return nil, fmt.Errorf("unmarshal behavior config: %w", err)
		}
	}
	b.Enabled = enabled != 0
	b.CreatedAt = parseTS(createdAt)
	b.UpdatedAt = parseTS(updatedAt)
	return &b, nil
}

func (s *SqlStore) queryBehaviors(ctx context.Context, query string, args ...any) ([]*Behavior, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Behavior
	for rows.Next() {
		b, err := scanBehavior(rows)
		if err != nil {
			return nil, fmt.Errorf("scan behavior: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *SqlStore) GetBehavior(ctx context.Context, id string) (*Behavior, error) {
	b, err := scanBehavior(s.db.QueryRowContext(ctx, "SELECT "+behaviorCols+" FROM behaviors WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get behavior: %w", err)
	}
	return b, nil
}

func (s *SqlStore) ListBehaviors(ctx context.Context) ([]*Behavior, error) {
	out, err := s.queryBehaviors(ctx, "SELECT "+behaviorCols+" FROM behaviors ORDER BY agent_id, created_at, rowid")
	if err != nil {
		return nil, fmt.Errorf("list behaviors: %w", err)
	}
	return out, nil
}

func (s *SqlStore) ListBehaviorsByAgent(ctx context.Context, agentID string) ([]*Behavior, error) {
	out, err := s.queryBehaviors(ctx,
		"SELECT "+behaviorCols+" FROM behaviors WHERE agent_id = ? ORDER BY created_at, rowid", agentID)
	if err != nil {
		return nil, fmt.Errorf("list behaviors by agent: %w", err)
	}
	return out, nil
}

func (s *SqlStore) FindEnabledBehavior(ctx context.Context, agentID, actionType string) (*Behavior, error) {
	b, err := scanBehavior(s.db.QueryRowContext(ctx,
		"SELECT "+behaviorCols+` FROM behaviors
		 WHERE agent_id = ? AND action_type = ? AND enabled = 1
		 ORDER BY updated_at DESC, rowid DESC LIMIT 1`,
		agentID, actionType))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find enabled behavior: %w", err)
	}
	return b, nil
}

func (s *SqlStore) SetBehaviorEnabled(ctx context.Context, id string, enabled bool) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE behaviors SET enabled = ?, version = version + 1, updated_at = ?
		 WHERE id = ? AND enabled != ?`,
		boolInt(enabled), formatTS(s.now()), id, boolInt(enabled))
	if err != nil {
		return false, fmt.Errorf("set behavior enabled: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		return true, nil
	}
	var exists int
	err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM behaviors WHERE id = ?", id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check behavior: %w", err)
	}
	if exists == 0 {
		return false, fmt.Errorf("behavior %s: %w", id, ErrNotFound)
	}
	return false, nil
}

// --- Runs ---

func (s *SqlStore) InsertRun(ctx context.Context, r *Run) error {
	if r.ID == "" {
		r.ID = NewID()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs(id, behavior_id, conversation_id, agent_id, sender_agent, input, output,
		                  provider, model, duration_ms, success, error, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, nullable(r.BehaviorID), nullable(r.ConversationID), r.AgentID, nullable(r.SenderAgent),
		r.Input, nullable(r.Output), r.Provider, nullable(r.Model), r.DurationMS, boolInt(r.Success),
		nullable(r.Error), formatTS(r.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

func (s *SqlStore) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, behavior_id, conversation_id, agent_id, sender_agent, input, output,
		        provider, model, duration_ms, success, error, created_at
		 FROM runs ORDER BY created_at DESC, rowid DESC LIMIT ?`, sqlLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()
	var out []*Run
	for rows.Next() {
		var r Run
		var behaviorID, convID, sender, output, model, errMsg sql.NullString
		var success int
		var createdAt string
		if err := rows.Scan(&r.ID, &behaviorID, &convID, &r.AgentID, &sender, &r.Input, &output,
			&r.Provider, &model, &r.DurationMS, &success, &errMsg, &createdAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.BehaviorID = nullStr(behaviorID)
		r.ConversationID = nullStr(convID)
		r.SenderAgent = nullStr(sender)
		r.Output = nullStr(output)
		r.Model = nullStr(model)
		r.Error = nullStr(errMsg)
		r.Success = success != 0
		r.CreatedAt = parseTS(createdAt)
		out = append(out, &r)
	}
	return out, rows.Err()
}

// --- Memories ---

func (s *SqlStore) InsertMemory(ctx context.Context, m *Memory) error {
	if m.ID == "" {
		m.ID = NewID()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO memories(id, agent_id, kind, content, created_at) VALUES(?, ?, ?, ?, ?)",
		m.ID, m.AgentID, m.Kind, m.Content, formatTS(m.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert memory: %w", err)
	}
	return nil
}

func (s *SqlStore) ListMemories(ctx context.Context, agentID string, limit int) ([]*Memory, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, agent_id, kind, content, created_at FROM memories
		 WHERE agent_id = ? ORDER BY created_at DESC, rowid DESC LIMIT ?`, agentID, sqlLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	defer rows.Close()
	var out []*Memory
	for rows.Next() {
		var m Memory
		var createdAt string
		if err := rows.Scan(&m.ID, &m.AgentID, &m.Kind, &m.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		m.CreatedAt = parseTS(createdAt)
		out = append(out, &m)
	}
	return out, rows.Err()
}

// --- Reflections ---

func (s *SqlStore) InsertReflection(ctx context.Context, r *Reflection) error {
	if r.ID == "" {
		r.ID = NewID()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now().UTC()
	}
	r.Confidence = Clamp01(r.Confidence)
	meta, err := json.Marshal(reflectionMetadata(r))
	if err != nil {
		return fmt.Errorf("marshal reflection metadata: %w", err)
	}
	var impact any
	if r.Impact != nil {
		impact = *r.Impact
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO reflections(id, agent_id, behavior_id, kind, summary, content, confidence, impact, metadata, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.AgentID, nullable(r.BehaviorID), r.Kind, r.Summary, nullable(r.Content), r.Confidence,
		impact, string(meta), formatTS(r.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert reflection: %w", err)
	}
	return nil
}

// reflectionMetadata mirrors Impact into the metadata object.
func reflectionMetadata(r *Reflection) map[string]any {
	meta := make(map[string]any, len(r.Metadata)+1)
	for k, v := range r.Metadata {
		meta[k] = v
	}
	if r.Impact != nil {
		meta["impact"] = *r.Impact
	}
	r.Metadata = meta
	return meta
}

const reflectionCols = `id, agent_id, behavior_id, kind, summary, content, confidence, impact, metadata, created_at`

func (s *SqlStore) queryReflections(ctx context.Context, query string, args ...any) ([]*Reflection, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Reflection
	for rows.Next() {
		var r Reflection
		var behaviorID, content sql.NullString
		var impact sql.NullFloat64
		var meta, createdAt string
		if err := rows.Scan(&r.ID, &r.AgentID, &behaviorID, &r.Kind, &r.Summary, &content,
			&r.Confidence, &impact, &meta, &createdAt); err != nil {
			return nil, fmt.Errorf("scan reflection: %w", err)
		}
		r.BehaviorID = nullStr(behaviorID)
		r.Content = nullStr(content)
		if impact.Valid {
			r.Impact = Float(impact.Float64)
		}
		if meta != "" {
			if err := json.Unmarshal([]byte(meta), &r.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal reflection metadata: %w", err)
			}
		}
		r.CreatedAt = parseTS(createdAt)
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (s *SqlStore) ListReflections(ctx context.Context, limit int) ([]*Reflection, error) {
	out, err := s.queryReflections(ctx,
		"SELECT "+reflectionCols+" FROM reflections ORDER BY created_at DESC, rowid DESC LIMIT ?", sqlLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list reflections: %w", err)
	}
	return out, nil
}

func (s *SqlStore) ListReflectionsByBehavior(ctx context.Context, behaviorID string, limit int) ([]*Reflection, error) {
	out, err := s.queryReflections(ctx,
		"SELECT "+reflectionCols+` FROM reflections WHERE behavior_id = ?
		 ORDER BY created_at DESC, rowid DESC LIMIT ?`, behaviorID, sqlLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list reflections by behavior: %w", err)
	}
	return out, nil
}

// --- Metric snapshots ---

func (s *SqlStore) InsertMetricSnapshots(ctx context.Context, snaps []*MetricSnapshot) error {
	if len(snaps) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert snapshots: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, m := range snaps {
		if m.CalculatedAt.IsZero() {
			m.CalculatedAt = s.now().UTC()
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO metric_snapshots(agent_id, average_impact, consistency, reflection_count, behavior_count, calculated_at)
			 VALUES(?, ?, ?, ?, ?, ?)`,
			m.AgentID, m.AverageImpact, m.Consistency, m.ReflectionCount, m.BehaviorCount, formatTS(m.CalculatedAt))
		if err != nil {
			return fmt.Errorf("insert snapshot %s: %w", m.AgentID, err)
		}
		if m.ID, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("last insert id: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit snapshots: %w", err)
	}
	return nil
}

const snapshotCols = `id, agent_id, average_impact, consistency, reflection_count, behavior_count, calculated_at`

func (s *SqlStore) querySnapshots(ctx context.Context, query string, args ...any) ([]*MetricSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*MetricSnapshot
	for rows.Next() {
		var m MetricSnapshot
		var calculatedAt string
		if err := rows.Scan(&m.ID, &m.AgentID, &m.AverageImpact, &m.Consistency,
			&m.ReflectionCount, &m.BehaviorCount, &calculatedAt); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		m.CalculatedAt = parseTS(calculatedAt)
		out = append(out, &m)
	}
	return out, rows.Err()
}

func (s *SqlStore) LatestMetrics(ctx context.Context) ([]*MetricSnapshot, error) {
	out, err := s.querySnapshots(ctx,
		"SELECT "+snapshotCols+` FROM metric_snapshots
		 WHERE id IN (SELECT MAX(id) FROM metric_snapshots GROUP BY agent_id)
		 ORDER BY agent_id`)
	if err != nil {
		return nil, fmt.Errorf("latest metrics: %w", err)
	}
	return out, nil
}

func (s *SqlStore) MetricHistory(ctx context.Context, agentID string, limit int) ([]*MetricSnapshot, error) {
	out, err := s.querySnapshots(ctx,
		"SELECT "+snapshotCols+" FROM metric_snapshots WHERE agent_id = ? ORDER BY id DESC LIMIT ?",
		agentID, sqlLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("metric history: %w", err)
	}
	return out, nil
}

// --- Leaderboard ---

func (s *SqlStore) ReplaceLeaderboard(ctx context.Context, rows []*LeaderboardRow) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace leaderboard: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM leaderboard"); err != nil {
		return fmt.Errorf("clear leaderboard: %w", err)
	}
	for _, r := range rows {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO leaderboard(agent_id, position, rank_score, impact_avg, consistency,
			                         consistency_rank, collaboration_weight_sum, computed_at)
			 VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
			r.AgentID, r.Position, r.RankScore, r.ImpactAvg, r.Consistency, r.ConsistencyRank,
			r.CollaborationWeightSum, formatTS(r.ComputedAt))
		if err != nil {
			return fmt.Errorf("insert leaderboard row %s: %w", r.AgentID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit leaderboard: %w", err)
	}
	return nil
}

func (s *SqlStore) ListLeaderboard(ctx context.Context, limit int) ([]*LeaderboardRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT agent_id, position, rank_score, impact_avg, consistency, consistency_rank,
		        collaboration_weight_sum, computed_at
		 FROM leaderboard ORDER BY position LIMIT ?`, sqlLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list leaderboard: %w", err)
	}
	defer rows.Close()
	var out []*LeaderboardRow
	for rows.Next() {
		var r LeaderboardRow
		var computedAt string
		if err := rows.Scan(&r.AgentID, &r.Position, &r.RankScore, &r.ImpactAvg, &r.Consistency,
			&r.ConsistencyRank, &r.CollaborationWeightSum, &computedAt); err != nil {
			return nil, fmt.Errorf("scan leaderboard row: %w", err)
		}
		r.ComputedAt = parseTS(computedAt)
		out = append(out, &r)
	}
	return out, rows.Err()
}

// --- Insights ---

func (s *SqlStore) InsertInsights(ctx context.Context, insights []*Insight) error {
	if len(insights) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert insights: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, in := range insights {
		if in.ID == "" {
			in.ID = NewID()
		}
		if in.CreatedAt.IsZero() {
			in.CreatedAt = s.now().UTC()
		}
		_, err := tx.ExecContext(ctx,
			"INSERT INTO insights(id, agent_id, category, summary, created_at) VALUES(?, ?, ?, ?, ?)",
			in.ID, in.AgentID, in.Category, in.Summary, formatTS(in.CreatedAt))
		if err != nil {
			return fmt.Errorf("insert insight: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insights: %w", err)
	}
	return nil
}

func (s *SqlStore) ListInsights(ctx context.Context, limit int) ([]*Insight, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, agent_id, category, summary, created_at FROM insights
		 ORDER BY created_at DESC, rowid DESC LIMIT ?`, sqlLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list insights: %w", err)
	}
	defer rows.Close()
	var out []*Insight
	for rows.Next() {
		var in Insight
		var createdAt string
		if err := rows.Scan(&in.ID, &in.AgentID, &in.Category, &in.Summary, &createdAt); err != nil {
			return nil, fmt.Errorf("scan insight: %w", err)
		}
		in.CreatedAt = parseTS(createdAt)
		out = append(out, &in)
	}
	return out, rows.Err()
}
