package facility

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"mamabot/internal/domain"
)

// SQLiteStore implements domain.FacilityStore using SQLite.
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
		return nil, fmt.Errorf("facility schema migration failed: %w", err)
	}
	return store, nil
}

// NewSQLiteStoreOnDB wraps an existing connection (shared with the user store).
func NewSQLiteStoreOnDB(db *sql.DB, logger *slog.Logger) (*SQLiteStore, error) {
	store := &SQLiteStore{db: db, logger: logger}
	if err := store.migrate(); err != nil {
		return nil, fmt.Errorf("facility schema migration failed: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS facilities (
		id               TEXT PRIMARY KEY,
		name             TEXT NOT NULL,
		contact_numbers  TEXT,
		county           TEXT NOT NULL,
		has_maternity    INTEGER DEFAULT 0,
		has_emergency    INTEGER DEFAULT 0,
		open_24h         INTEGER DEFAULT 0,
		has_ambulance    INTEGER DEFAULT 0,
		verified         INTEGER DEFAULT 0,
		display_priority INTEGER DEFAULT 100,
		active           INTEGER DEFAULT 1,
		created_at       DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at       DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_facilities_county ON facilities(county, active);
	`
	_, err := s.db.Exec(schema)
	return err
}

const facilityColumns = `id, name, contact_numbers, county, has_maternity, has_emergency,
	open_24h, has_ambulance, verified, display_priority, active, created_at, updated_at`

func (s *SQLiteStore) Get(ctx context.Context, id string) (*domain.FacilityRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+facilityColumns+` FROM facilities WHERE id = ?`, id)
	f, err := scanFacility(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (s *SQLiteStore) List(ctx context.Context, county string, activeOnly bool) ([]domain.FacilityRecord, error) {
	query := `SELECT ` + facilityColumns + ` FROM facilities`
	var args []any
	var where []string
	if county != "" {
		where = append(where, `lower(county) = lower(?)`)
		args = append(args, county)
	}
	if activeOnly {
		where = append(where, `active = 1`)
	}
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, ` AND `)
	}
	query += ` ORDER BY verified DESC, display_priority ASC, name ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanFacilities(rows)
}

// EmergencyFacilities returns the top facilities for an advisory: active
// entries ordered verified first, then display priority, then name as the
// stable tie-break. Verified is preferred, not required.
func (s *SQLiteStore) EmergencyFacilities(ctx context.Context, county string, limit int) ([]domain.FacilityRecord, error) {
	if limit <= 0 {
		limit = 3
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+facilityColumns+` FROM facilities
		 WHERE lower(county) = lower(?) AND active = 1
		 ORDER BY verified DESC, display_priority ASC, name ASC
		 LIMIT ?`, county, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanFacilities(rows)
}

func (s *SQLiteStore) Create(ctx context.Context, f domain.FacilityRecord) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	now := time.Now()
	if f.CreatedAt.IsZero() {
		f.CreatedAt = now
	}
	f.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO facilities (`+facilityColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.Name, strings.Join(f.ContactNumbers, ","), f.County,
		f.HasMaternity, f.HasEmergency, f.OpenTwentyFour, f.HasAmbulance,
		f.Verified, f.DisplayPriority, f.Active, f.CreatedAt, f.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create facility: %w", err)
	}
	s.logger.Info("facility created", "name", f.Name, "county", f.County)
	return nil
}

func (s *SQLiteStore) Update(ctx context.Context, f domain.FacilityRecord) error {
	f.UpdatedAt = time.Now()
	res, err := s.db.ExecContext(ctx,
		`UPDATE facilities SET name=?, contact_numbers=?, county=?, has_maternity=?,
		 has_emergency=?, open_24h=?, has_ambulance=?, verified=?, display_priority=?,
		 active=?, updated_at=? WHERE id=?`,
		f.Name, strings.Join(f.ContactNumbers, ","), f.County, f.HasMaternity,
		f.HasEmergency, f.OpenTwentyFour, f.HasAmbulance, f.Verified,
		f.DisplayPriority, f.Active, f.UpdatedAt, f.ID)
	if err != nil {
		return fmt.Errorf("update facility: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update facility: no facility with id %s", f.ID)
	}
	return nil
}

// Deactivate is a soft delete: the record stays for the admin surface but
// stops appearing in advisories.
func (s *SQLiteStore) Deactivate(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE facilities SET active = 0, updated_at = ? WHERE id = ?`, time.Now(), id)
	if err != nil {
		return fmt.Errorf("deactivate facility: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("deactivate facility: no facility with id %s", id)
	}
	s.logger.Info("facility deactivated", "id", id)
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFacility(row rowScanner) (*domain.FacilityRecord, error) {
	var f domain.FacilityRecord
	var contacts string
	if err := row.Scan(&f.ID, &f.Name, &contacts, &f.County, &f.HasMaternity,
		&f.HasEmergency, &f.OpenTwentyFour, &f.HasAmbulance, &f.Verified,
		&f.DisplayPriority, &f.Active, &f.CreatedAt, &f.UpdatedAt); err != nil {
		return nil, err
	}
	if contacts != "" {
		f.ContactNumbers = strings.Split(contacts, ",")
	}
	return &f, nil
}

func scanFacilities(rows *sql.Rows) ([]domain.FacilityRecord, error) {
	var out []domain.FacilityRecord
	for rows.Next() {
		f, err := scanFacility(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *f)
	}
	return out, rows.Err()
}
