package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/mysqldialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "modernc.org/sqlite"

	"github.com/ashureev/formtrack/internal/domain"
)

const (
	maxRetries     = 3
	baseRetryDelay = 100 * time.Millisecond
)

type userModel struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID        int64     `bun:"id,pk,autoincrement"`
	Name      string    `bun:"name,notnull"`
	Email     string    `bun:"email,notnull,unique"`
	CreatedAt time.Time `bun:"created_at,notnull"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
}

type sessionModel struct {
	bun.BaseModel `bun:"table:workout_sessions,alias:ws"`

	ID            int64     `bun:"id,pk,autoincrement"`
	UserID        int64     `bun:"user_id,notnull"`
	ExerciseType  string    `bun:"exercise_type,notnull"`
	PlannedSets   int       `bun:"planned_sets,notnull"`
	PlannedReps   int       `bun:"planned_reps,notnull"`
	CompletedReps int       `bun:"completed_reps,notnull"`
	FormScore     int       `bun:"form_score,notnull"`
	Mistakes      string    `bun:"mistakes,type:text"`
	RecordedAt    time.Time `bun:"recorded_at,notnull"`
}

type analysisModel struct {
	bun.BaseModel `bun:"table:analyses,alias:a"`

	ID             string    `bun:"id,pk,type:varchar(64)"`
	Exercise       string    `bun:"exercise,notnull"`
	Source         string    `bun:"source"`
	ExpectedReps   int       `bun:"expected_reps,notnull"`
	ActualReps     int       `bun:"actual_reps,notnull"`
	Count          float64   `bun:"count,notnull"`
	FormScore      string    `bun:"form_score"`
	Score          int       `bun:"score,notnull"`
	Feedback       string    `bun:"feedback"`
	FormCorrect    bool      `bun:"form_correct,notnull"`
	Mistakes       string    `bun:"mistakes,type:text"`
	FramesTotal    int       `bun:"frames_total,notnull"`
	FramesAnalyzed int       `bun:"frames_analyzed,notnull"`
	FramesSkipped  int       `bun:"frames_skipped,notnull"`
	CreatedAt      time.Time `bun:"created_at,notnull"`
}

// SQLStore implements Repository on bun over SQLite, Postgres or MySQL.
type SQLStore struct {
	db     *bun.DB
	dbType string
}

// NewSQL opens the database, applies the schema and returns the store.
// MySQL DSNs need parseTime=true.
func NewSQL(ctx context.Context, dbType, dsn string) (*SQLStore, error) {
	driver := dbType
	switch dbType {
	case BackendSQLite:
		if dsn == "" {
			return nil, errors.New("sqlite dsn is required")
		}
		if err := ensureDir(dsn); err != nil {
			return nil, err
		}
		dsn = sqlitePragmas(dsn)
	case BackendPostgres:
		driver = "pgx"
	case BackendMySQL:
	default:
		return nil, fmt.Errorf("unsupported database type: %s", dbType)
	}

	sqlDB, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dbType == BackendSQLite {
		// One writer; WAL lets readers proceed.
		sqlDB.SetMaxOpenConns(1)
	}

	db, err := createBunDB(sqlDB, dbType)
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	s := &SQLStore{db: db, dbType: dbType}
	if err := s.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return s, nil
}

func createBunDB(sqlDB *sql.DB, dbType string) (*bun.DB, error) {
	switch dbType {
	case BackendSQLite:
		return bun.NewDB(sqlDB, sqlitedialect.New()), nil
	case BackendPostgres:
		return bun.NewDB(sqlDB, pgdialect.New()), nil
	case BackendMySQL:
		return bun.NewDB(sqlDB, mysqldialect.New()), nil
	default:
		return nil, fmt.Errorf("unsupported database type: %s", dbType)
	}
}

func ensureDir(dsn string) error {
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" || path == ":memory:" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create database directory: %w", err)
	}
	return nil
}

func sqlitePragmas(dsn string) string {
	if strings.Contains(dsn, "_pragma=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

func (s *SQLStore) migrate(ctx context.Context) error {
	models := []any{(*userModel)(nil), (*sessionModel)(nil), (*analysisModel)(nil)}
	for _, m := range models {
		if _, err := s.db.NewCreateTable().Model(m).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}

	// MySQL has no CREATE INDEX IF NOT EXISTS.
	if s.dbType == BackendMySQL {
		return nil
	}
	indexes := []struct {
		model  any
		name   string
		column string
	}{
		{(*sessionModel)(nil), "idx_workout_sessions_user_id", "user_id"},
		{(*analysisModel)(nil), "idx_analyses_created_at", "created_at"},
	}
	for _, ix := range indexes {
		_, err := s.db.NewCreateIndex().Model(ix.model).Index(ix.name).Column(ix.column).IfNotExists().Exec(ctx)
		if err != nil {
			return fmt.Errorf("create index %s: %w", ix.name, err)
		}
	}
	return nil
}

// withRetry runs fn, retrying with exponential backoff while the backend
// reports a write conflict (SQLite busy, Postgres serialization failure,
// MySQL deadlock).
func (s *SQLStore) withRetry(ctx context.Context, op string, fn func(context.Context) error) error {
	var err error
	for attempt := 0; attempt < maxRetries; attempt++ {
		err = fn(ctx)
		if err == nil || !retryable(err) {
			return err
		}
		delay := baseRetryDelay * time.Duration(1<<attempt)
		slog.Warn("Database busy, retrying", "op", op, "attempt", attempt+1, "delay", delay, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("%s: retries exhausted: %w", op, err)
}

func encodeList(list []string) (string, error) {
	if list == nil {
		list = []string{}
	}
	b, err := json.Marshal(list)
	if err != nil {
		return "", fmt.Errorf("encode list: %w", err)
	}
	return string(b), nil
}

func decodeList(raw string) []string {
	out := []string{}
	if raw == "" {
		return out
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		slog.Warn("Discarding malformed list column", "error", err)
		return []string{}
	}
	return out
}

func (m *userModel) toDomain() *domain.User {
	return &domain.User{
		ID:        m.ID,
		Name:      m.Name,
		Email:     m.Email,
		CreatedAt: m.CreatedAt.UTC(),
		UpdatedAt: m.UpdatedAt.UTC(),
	}
}

// CreateUser inserts user and writes the generated id back.
func (s *SQLStore) CreateUser(ctx context.Context, user *domain.User) error {
	user.Normalize()
	ts := now()
	m := &userModel{Name: user.Name, Email: user.Email, CreatedAt: ts, UpdatedAt: ts}

	err := s.withRetry(ctx, "create user", func(ctx context.Context) error {
		_, err := s.db.NewInsert().Model(m).Exec(ctx)
		return err
	})
	if err != nil {
		if mapped := MapDBError(err); errors.Is(mapped, ErrDuplicate) {
			return ErrDuplicate
		}
		return fmt.Errorf("create user: %w", err)
	}

	user.ID = m.ID
	user.CreatedAt, user.UpdatedAt = ts, ts
	return nil
}

// GetUser retrieves a user by id.
func (s *SQLStore) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	m := new(userModel)
	err := s.db.NewSelect().Model(m).Where("id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return m.toDomain(), nil
}

// ListUsers returns all users in id order.
func (s *SQLStore) ListUsers(ctx context.Context) ([]*domain.User, error) {
	var rows []userModel
	if err := s.db.NewSelect().Model(&rows).Order("id ASC").Scan(ctx); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	out := make([]*domain.User, len(rows))
	for i := range rows {
		out[i] = rows[i].toDomain()
	}
	return out, nil
}

// UpdateUser applies a partial update.
func (s *SQLStore) UpdateUser(ctx context.Context, id int64, upd domain.UserUpdate) (*domain.User, error) {
	user, err := s.GetUser(ctx, id)
	if err != nil || user == nil {
		return nil, err
	}
	user.Apply(upd)
	user.UpdatedAt = now()

	m := &userModel{
		ID:        user.ID,
		Name:      user.Name,
		Email:     user.Email,
		CreatedAt: user.CreatedAt,
		UpdatedAt: user.UpdatedAt,
	}
	err = s.withRetry(ctx, "update user", func(ctx context.Context) error {
		_, err := s.db.NewUpdate().Model(m).Column("name", "email", "updated_at").WherePK().Exec(ctx)
		return err
	})
	if err != nil {
		if mapped := MapDBError(err); errors.Is(mapped, ErrDuplicate) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("update user: %w", err)
	}
	return user, nil
}

func (m *sessionModel) toDomain() *domain.Session {
	return &domain.Session{
		ID:            m.ID,
		UserID:        m.UserID,
		ExerciseType:  m.ExerciseType,
		PlannedSets:   m.PlannedSets,
		PlannedReps:   m.PlannedReps,
		CompletedReps: m.CompletedReps,
		FormScore:     m.FormScore,
		Mistakes:      decodeList(m.Mistakes),
		Timestamp:     m.RecordedAt.UTC(),
	}
}

// CreateSession inserts session and writes the generated id back.
func (s *SQLStore) CreateSession(ctx context.Context, session *domain.Session) error {
	if session.Timestamp.IsZero() {
		session.Timestamp = now()
	} else {
		session.Timestamp = session.Timestamp.UTC().Truncate(time.Microsecond)
	}
	if session.Mistakes == nil {
		session.Mistakes = []string{}
	}
	mistakes, err := encodeList(session.Mistakes)
	if err != nil {
		return err
	}

	m := &sessionModel{
		UserID:        session.UserID,
		ExerciseType:  session.ExerciseType,
		PlannedSets:   session.PlannedSets,
		PlannedReps:   session.PlannedReps,
		CompletedReps: session.CompletedReps,
		FormScore:     session.FormScore,
		Mistakes:      mistakes,
		RecordedAt:    session.Timestamp,
	}
	err = s.withRetry(ctx, "create session", func(ctx context.Context) error {
		_, err := s.db.NewInsert().Model(m).Exec(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	session.ID = m.ID
	return nil
}

// GetSession retrieves a session by id.
func (s *SQLStore) GetSession(ctx context.Context, id int64) (*domain.Session, error) {
	m := new(sessionModel)
	err := s.db.NewSelect().Model(m).Where("id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return m.toDomain(), nil
}

// ListSessions returns all sessions in id order.
func (s *SQLStore) ListSessions(ctx context.Context) ([]*domain.Session, error) {
	return s.listSessions(ctx, nil)
}

// ListSessionsByUser returns the sessions for one user in id order.
func (s *SQLStore) ListSessionsByUser(ctx context.Context, userID int64) ([]*domain.Session, error) {
	return s.listSessions(ctx, &userID)
}

func (s *SQLStore) listSessions(ctx context.Context, userID *int64) ([]*domain.Session, error) {
	var rows []sessionModel
	q := s.db.NewSelect().Model(&rows).Order("id ASC")
	if userID != nil {
		q = q.Where("user_id = ?", *userID)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	out := make([]*domain.Session, len(rows))
	for i := range rows {
		out[i] = rows[i].toDomain()
	}
	return out, nil
}

func (m *analysisModel) toDomain() *domain.Analysis {
	return &domain.Analysis{
		ID:             m.ID,
		Exercise:       m.Exercise,
		Source:         m.Source,
		ExpectedReps:   m.ExpectedReps,
		ActualReps:     m.ActualReps,
		Count:          m.Count,
		FormScore:      m.FormScore,
		Score:          m.Score,
		Feedback:       m.Feedback,
		FormCorrect:    m.FormCorrect,
		Mistakes:       decodeList(m.Mistakes),
		FramesTotal:    m.FramesTotal,
		FramesAnalyzed: m.FramesAnalyzed,
		FramesSkipped:  m.FramesSkipped,
		CreatedAt:      m.CreatedAt.UTC(),
	}
}

// SaveAnalysis stores or replaces an analysis.
func (s *SQLStore) SaveAnalysis(ctx context.Context, a *domain.Analysis) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now()
	} else {
		a.CreatedAt = a.CreatedAt.UTC().Truncate(time.Microsecond)
	}
	mistakes, err := encodeList(a.Mistakes)
	if err != nil {
		return err
	}

	m := &analysisModel{
		ID:             a.ID,
		Exercise:       a.Exercise,
		Source:         a.Source,
		ExpectedReps:   a.ExpectedReps,
		ActualReps:     a.ActualReps,
		Count:          a.Count,
		FormScore:      a.FormScore,
		Score:          a.Score,
		Feedback:       a.Feedback,
		FormCorrect:    a.FormCorrect,
		Mistakes:       mistakes,
		FramesTotal:    a.FramesTotal,
		FramesAnalyzed: a.FramesAnalyzed,
		FramesSkipped:  a.FramesSkipped,
		CreatedAt:      a.CreatedAt,
	}

	// Delete then insert keeps the upsert portable across dialects.
	err = s.withRetry(ctx, "save analysis", func(ctx context.Context) error {
		return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
			if _, err := tx.NewDelete().Model((*analysisModel)(nil)).Where("id = ?", a.ID).Exec(ctx); err != nil {
				return err
			}
			_, err := tx.NewInsert().Model(m).Exec(ctx)
			return err
		})
	})
	if err != nil {
		return fmt.Errorf("save analysis: %w", err)
	}
	return nil
}

// GetAnalysis retrieves an analysis by id.
func (s *SQLStore) GetAnalysis(ctx context.Context, id string) (*domain.Analysis, error) {
	m := new(analysisModel)
	err := s.db.NewSelect().Model(m).Where("id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get analysis: %w", err)
	}
	return m.toDomain(), nil
}

// ListAnalyses returns analyses newest first.
func (s *SQLStore) ListAnalyses(ctx context.Context, limit int) ([]*domain.Analysis, error) {
	var rows []analysisModel
	q := s.db.NewSelect().Model(&rows).Order("created_at DESC", "id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("list analyses: %w", err)
	}
	out := make([]*domain.Analysis, len(rows))
	for i := range rows {
		out[i] = rows[i].toDomain()
	}
	return out, nil
}

// DeleteAnalysesBefore removes analyses created before cutoff.
func (s *SQLStore) DeleteAnalysesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	err := s.withRetry(ctx, "delete analyses", func(ctx context.Context) error {
		res, err := s.db.NewDelete().
			Model((*analysisModel)(nil)).
			Where("created_at < ?", cutoff.UTC()).
			Exec(ctx)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("delete analyses: %w", err)
	}
	return n, nil
}

// Ping verifies the database connection.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

var _ Repository = (*SQLStore)(nil)
