package store

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

var chartCols = []string{
	"id", "user_id", "day", "month", "year", "birth_time", "gender",
	"chart_image", "storage_form", "image_encoding", "media_type", "created_at",
}

func TestUpsertUser(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	mock.ExpectExec(regexp.QuoteMeta(`ON CONFLICT (telegram_id) DO UPDATE SET`)).
		WithArgs(int64(42), "An", nil, "an_nguyen").
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := st.UpsertUser(context.Background(), UserRecord{TelegramID: 42, FirstName: "An", Username: "an_nguyen"}); err != nil {
		t.Fatalf("UpsertUser: %v", err)
	}
	if err := st.UpsertUser(context.Background(), UserRecord{}); err == nil {
		t.Fatal("expected error for missing telegram id")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestInsertChart(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO users (telegram_id) VALUES ($1) ON CONFLICT (telegram_id) DO NOTHING`)).
		WithArgs(int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO charts (user_id, day, month, year, birth_time, gender, chart_image, storage_form, image_encoding, media_type)`)).
		WithArgs(int64(42), 15, 8, 1990, "Ngọ", "Nam", "assets/42_1.jpg", "image_bytes", EncodingPath, "image/jpeg").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(7), now))
	mock.ExpectCommit()

	rec, err := st.InsertChart(context.Background(), ChartRecord{
		UserID: 42, Day: 15, Month: 8, Year: 1990, BirthTime: "Ngọ", Gender: "Nam",
		ChartImage: "assets/42_1.jpg", StorageForm: "image_bytes", ImageEncoding: EncodingPath, MediaType: "image/jpeg",
	})
	if err != nil {
		t.Fatalf("InsertChart: %v", err)
	}
	if rec.ID != 7 || !rec.CreatedAt.Equal(now) {
		t.Fatalf("unexpected record: %#v", rec)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestInsertChartValidation(t *testing.T) {
	st := &Store{}
	cases := []ChartRecord{
		{ChartImage: "x", ImageEncoding: EncodingPath},
		{UserID: 1, ImageEncoding: EncodingPath},
		{UserID: 1, ChartImage: "x", ImageEncoding: "guess"},
	}
	for i, rec := range cases {
		if _, err := st.InsertChart(context.Background(), rec); err == nil {
			t.Fatalf("case %d: expected validation error", i)
		}
	}
}

func TestInsertChartRollsBackOnError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO users (telegram_id)`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO charts`)).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	_, err = st.InsertChart(context.Background(), ChartRecord{UserID: 1, ChartImage: "abc", ImageEncoding: EncodingBase64})
	if err == nil {
		t.Fatal("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestLatestChart(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	now := time.Now()
	key := ChartKey{UserID: 42, Day: 15, Month: 8, Year: 1990, BirthTime: "Ngọ", Gender: "Nam"}

	query := regexp.QuoteMeta(`WHERE user_id=$1 AND day=$2 AND month=$3 AND year=$4 AND birth_time=$5 AND gender=$6
ORDER BY created_at DESC, id DESC
LIMIT 1`)
	mock.ExpectQuery(query).
		WithArgs(int64(42), 15, 8, 1990, "Ngọ", "Nam").
		WillReturnRows(sqlmock.NewRows(chartCols).AddRow(
			int64(9), int64(42), 15, 8, 1990, "Ngọ", "Nam", "assets/42_3.jpg", "image_bytes", "path", "image/jpeg", now,
		))
	mock.ExpectQuery(query).
		WithArgs(int64(42), 15, 8, 1990, "Ngọ", "Nam").
		WillReturnRows(sqlmock.NewRows(chartCols))

	rec, ok, err := st.LatestChart(context.Background(), key)
	if err != nil || !ok {
		t.Fatalf("LatestChart: ok=%v err=%v", ok, err)
	}
	if rec.ID != 9 || rec.ChartImage != "assets/42_3.jpg" || rec.ImageEncoding != EncodingPath {
		t.Fatalf("unexpected record: %#v", rec)
	}

	_, ok, err = st.LatestChart(context.Background(), key)
	if err != nil {
		t.Fatalf("LatestChart (empty): %v", err)
	}
	if ok {
		t.Fatal("expected miss on empty result")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestListCharts(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta(`WHERE user_id=$1
ORDER BY created_at DESC, id DESC
LIMIT $2`)).
		WithArgs(int64(42), 5).
		WillReturnRows(sqlmock.NewRows(chartCols).
			AddRow(int64(2), int64(42), 1, 1, 2000, "Tý", "Nữ", "b64", "image_bytes", "base64", "image/png", now).
			AddRow(int64(1), int64(42), 15, 8, 1990, "Ngọ", "Nam", "p", "raw_page_bytes", "path", "text/html", now.Add(-time.Hour)))

	out, err := st.ListCharts(context.Background(), 42, 0)
	if err != nil {
		t.Fatalf("ListCharts: %v", err)
	}
	if len(out) != 2 || out[0].ID != 2 || out[1].StorageForm != "raw_page_bytes" {
		t.Fatalf("unexpected charts: %#v", out)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetAndDeleteChart(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	mock.ExpectQuery(regexp.QuoteMeta(`WHERE id=$1 AND user_id=$2`)).
		WithArgs(int64(5), int64(42)).
		WillReturnRows(sqlmock.NewRows(chartCols))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM charts WHERE id=$1 AND user_id=$2`)).
		WithArgs(int64(5), int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM charts WHERE id=$1 AND user_id=$2`)).
		WithArgs(int64(6), int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if _, ok, err := st.GetChart(context.Background(), 42, 5); err != nil || ok {
		t.Fatalf("GetChart: ok=%v err=%v", ok, err)
	}
	if err := st.DeleteChart(context.Background(), 42, 5); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
	if err := st.DeleteChart(context.Background(), 42, 6); err != nil {
		t.Fatalf("DeleteChart: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCountCharts(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM charts WHERE user_id=$1`)).
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	n, err := st.CountCharts(context.Background(), 42)
	if err != nil || n != 3 {
		t.Fatalf("CountCharts: n=%d err=%v", n, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCountUsers(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM users`)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(12))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM users`)).
		WillReturnError(errors.New("connection reset"))

	if n, err := st.CountUsers(context.Background()); err != nil || n != 12 {
		t.Fatalf("CountUsers: n=%d err=%v", n, err)
	}
	if _, err := st.CountUsers(context.Background()); err == nil {
		t.Fatal("expected error from failed query")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
