package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

type Store struct {
	DB *sql.DB
}

// Encodings of the chart_image column.
const (
	EncodingBase64 = "base64"
	EncodingPath   = "path"
)

// UserRecord is a requester profile as seen by the chat transport.
type UserRecord struct {
	ID         int64
	TelegramID int64
	FirstName  string
	LastName   string
	Username   string
	CreatedAt  time.Time
}

// ChartRecord is one persisted chart. ChartImage holds either base64 bytes or a
// filesystem path, as tagged by ImageEncoding.
type ChartRecord struct {
	ID            int64
	UserID        int64
	Day           int
	Month         int
	Year          int
	BirthTime     string
	Gender        string
	ChartImage    string
	StorageForm   string
	ImageEncoding string
	MediaType     string
	CreatedAt     time.Time
}

// ChartKey selects charts by the full request fingerprint.
type ChartKey struct {
	UserID    int64
	Day       int
	Month     int
	Year      int
	BirthTime string
	Gender    string
}

// NewWithDSN constructs the Store using an explicit Postgres DSN
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{DB: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.DB.PingContext(ctx)
}

// UpsertUser creates the requester or refreshes their profile fields.
func (s *Store) UpsertUser(ctx context.Context, u UserRecord) error {
	if u.TelegramID == 0 {
		return fmt.Errorf("telegram_id required")
	}
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO users (telegram_id, first_name, last_name, username)
VALUES ($1,$2,$3,$4)
ON CONFLICT (telegram_id) DO UPDATE SET
    first_name = EXCLUDED.first_name,
    last_name = EXCLUDED.last_name,
    username = EXCLUDED.username
`, u.TelegramID, nullableString(u.FirstName), nullableString(u.LastName), nullableString(u.Username))
	return err
}

// CountUsers returns the number of known requesters.
func (s *Store) CountUsers(ctx context.Context) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n)
	return n, err
}

// InsertChart appends a chart row. The owning user row is created on demand so
// a chart is never lost to a missed profile upsert.
func (s *Store) InsertChart(ctx context.Context, rec ChartRecord) (ChartRecord, error) {
	if rec.UserID == 0 {
		return ChartRecord{}, fmt.Errorf("user_id required")
	}
	if strings.TrimSpace(rec.ChartImage) == "" {
		return ChartRecord{}, fmt.Errorf("chart_image required")
	}
	switch rec.ImageEncoding {
	case EncodingBase64, EncodingPath:
	default:
		return ChartRecord{}, fmt.Errorf("unknown image encoding %q", rec.ImageEncoding)
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return ChartRecord{}, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `INSERT INTO users (telegram_id) VALUES ($1) ON CONFLICT (telegram_id) DO NOTHING`, rec.UserID); err != nil {
		return ChartRecord{}, err
	}
	row := tx.QueryRowContext(ctx, `
INSERT INTO charts (user_id, day, month, year, birth_time, gender, chart_image, storage_form, image_encoding, media_type)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
RETURNING id, created_at
`, rec.UserID, rec.Day, rec.Month, rec.Year, rec.BirthTime, rec.Gender, rec.ChartImage, rec.StorageForm, rec.ImageEncoding, rec.MediaType)
	if err := row.Scan(&rec.ID, &rec.CreatedAt); err != nil {
		return ChartRecord{}, err
	}
	if err := tx.Commit(); err != nil {
		return ChartRecord{}, err
	}
	return rec, nil
}

const chartColumns = `id, user_id, day, month, year, birth_time, gender, chart_image, storage_form, image_encoding, media_type, created_at`

func scanChart(sc interface{ Scan(...any) error }) (ChartRecord, error) {
	var rec ChartRecord
	err := sc.Scan(&rec.ID, &rec.UserID, &rec.Day, &rec.Month, &rec.Year, &rec.BirthTime, &rec.Gender,
		&rec.ChartImage, &rec.StorageForm, &rec.ImageEncoding, &rec.MediaType, &rec.CreatedAt)
	return rec, err
}

// LatestChart returns the newest chart matching every fingerprint field.
func (s *Store) LatestChart(ctx context.Context, key ChartKey) (ChartRecord, bool, error) {
	row := s.DB.QueryRowContext(ctx, `
SELECT `+chartColumns+`
FROM charts
WHERE user_id=$1 AND day=$2 AND month=$3 AND year=$4 AND birth_time=$5 AND gender=$6
ORDER BY created_at DESC, id DESC
LIMIT 1
`, key.UserID, key.Day, key.Month, key.Year, key.BirthTime, key.Gender)
	rec, err := scanChart(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ChartRecord{}, false, nil
	}
	if err != nil {
		return ChartRecord{}, false, err
	}
	return rec, true, nil
}

// ListCharts returns the user's newest charts first.
func (s *Store) ListCharts(ctx context.Context, userID int64, limit int) ([]ChartRecord, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT `+chartColumns+`
FROM charts
WHERE user_id=$1
ORDER BY created_at DESC, id DESC
LIMIT $2
`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ChartRecord
	for rows.Next() {
		rec, err := scanChart(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// GetChart loads one of the user's charts.
func (s *Store) GetChart(ctx context.Context, userID, id int64) (ChartRecord, bool, error) {
	row := s.DB.QueryRowContext(ctx, `
SELECT `+chartColumns+`
FROM charts
WHERE id=$1 AND user_id=$2
`, id, userID)
	rec, err := scanChart(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ChartRecord{}, false, nil
	}
	if err != nil {
		return ChartRecord{}, false, err
	}
	return rec, true, nil
}

// DeleteChart removes one of the user's charts. sql.ErrNoRows when absent.
func (s *Store) DeleteChart(ctx context.Context, userID, id int64) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM charts WHERE id=$1 AND user_id=$2`, id, userID)
	if err != nil {
		return err
	}
	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		return sql.ErrNoRows
	} else if err != nil {
		return err
	}
	return nil
}

// CountCharts returns how many charts the user has.
func (s *Store) CountCharts(ctx context.Context, userID int64) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM charts WHERE user_id=$1`, userID).Scan(&n)
	return n, err
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
