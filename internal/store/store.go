package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"mamabot/internal/domain"
)

// SQLiteStore implements domain.UserStore using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection for SQLite.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db, logger: logger}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return store, nil
}

// DB exposes the underlying connection so other stores can share it.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id                     TEXT PRIMARY KEY,
		whatsapp_id            TEXT NOT NULL UNIQUE,
		phone_number           TEXT,
		phase                  TEXT NOT NULL,
		name                   TEXT,
		gestational_age_weeks  INTEGER DEFAULT 0,
		expected_delivery_date DATETIME,
		language               TEXT DEFAULT 'en',
		study_group            TEXT,
		county                 TEXT,
		active                 INTEGER DEFAULT 1,
		consent_at             DATETIME,
		enrolled_at            DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_users_wa ON users(whatsapp_id);

	CREATE TABLE IF NOT EXISTS conversation_log (
		id                   INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id              TEXT NOT NULL REFERENCES users(id),
		direction            TEXT NOT NULL,
		text                 TEXT,
		gestational_age      INTEGER DEFAULT 0,
		danger_sign_detected INTEGER DEFAULT 0,
		danger_sign_keywords TEXT,
		response_time_ms     INTEGER DEFAULT 0,
		model_used           TEXT,
		created_at           DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_log_user ON conversation_log(user_id, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) GetByWhatsAppID(ctx context.Context, waID string) (*domain.User, error) {
	var u domain.User
	var name, studyGroup, county sql.NullString
	var edd, consentAt sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT id, whatsapp_id, phone_number, phase, name, gestational_age_weeks,
		 expected_delivery_date, language, study_group, county, active, consent_at, enrolled_at
		 FROM users WHERE whatsapp_id = ?`, waID,
	).Scan(&u.ID, &u.WhatsAppID, &u.PhoneNumber, &u.Phase, &name, &u.GestationalAgeWeeks,
		&edd, &u.Language, &studyGroup, &county, &u.Active, &consentAt, &u.EnrolledAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	u.Name = name.String
	u.StudyGroup = domain.StudyGroup(studyGroup.String)
	u.County = county.String
	if edd.Valid {
		u.ExpectedDeliveryDate = &edd.Time
	}
	if consentAt.Valid {
		u.ConsentAt = &consentAt.Time
	}
	return &u, nil
}

func (s *SQLiteStore) Create(ctx context.Context, u domain.User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.EnrolledAt.IsZero() {
		u.EnrolledAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, whatsapp_id, phone_number, phase, name, gestational_age_weeks,
		 expected_delivery_date, language, study_group, county, active, consent_at, enrolled_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.WhatsAppID, u.PhoneNumber, u.Phase, u.Name, u.GestationalAgeWeeks,
		u.ExpectedDeliveryDate, u.Language, u.StudyGroup, u.County, u.Active, u.ConsentAt, u.EnrolledAt,
	)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	s.logger.Info("user created", "whatsapp_id", u.WhatsAppID, "phase", u.Phase)
	return nil
}

func (s *SQLiteStore) Update(ctx context.Context, u domain.User) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET phone_number=?, phase=?, name=?, gestational_age_weeks=?,
		 expected_delivery_date=?, language=?, study_group=?, county=?, active=?, consent_at=?
		 WHERE whatsapp_id=?`,
		u.PhoneNumber, u.Phase, u.Name, u.GestationalAgeWeeks,
		u.ExpectedDeliveryDate, u.Language, u.StudyGroup, u.County, u.Active, u.ConsentAt,
		u.WhatsAppID,
	)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update user: no user with whatsapp id %s", u.WhatsAppID)
	}
	return nil
}

func (s *SQLiteStore) CountByStudyGroup(ctx context.Context, group domain.StudyGroup) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM users WHERE study_group = ? AND active = 1`, group,
	).Scan(&n)
	return n, err
}

func (s *SQLiteStore) LogMessage(ctx context.Context, rec domain.ConversationRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversation_log (user_id, direction, text, gestational_age,
		 danger_sign_detected, danger_sign_keywords, response_time_ms, model_used, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.UserID, rec.Direction, rec.Text, rec.GestationalAge,
		rec.DangerSignDetected, rec.DangerSignKeywords, rec.ResponseTimeMs, rec.ModelUsed, rec.CreatedAt,
	)
	return err
}

// RecentMessages returns the last N log rows for a user, oldest first.
func (s *SQLiteStore) RecentMessages(ctx context.Context, userID string, limit int) ([]domain.ConversationRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, direction, text, gestational_age, danger_sign_detected,
		 danger_sign_keywords, response_time_ms, model_used, created_at
		 FROM conversation_log WHERE user_id = ?
		 ORDER BY created_at DESC, id DESC LIMIT ?`, userID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []domain.ConversationRecord
	for rows.Next() {
		var r domain.ConversationRecord
		var keywords, model sql.NullString
		if err := rows.Scan(&r.ID, &r.UserID, &r.Direction, &r.Text, &r.GestationalAge,
			&r.DangerSignDetected, &keywords, &r.ResponseTimeMs, &model, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.DangerSignKeywords = keywords.String
		r.ModelUsed = model.String
		recs = append(recs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(recs)-1; i < j; i, j = i+1, j-1 {
		recs[i], recs[j] = recs[j], recs[i]
	}
	return recs, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
