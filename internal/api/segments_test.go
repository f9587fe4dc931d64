package api

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-chi/chi/v5"

	"github.com/brightwell/donorhub/internal/segment"
)

func setupSegmentsAPI(t *testing.T) (*SegmentsAPI, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return &SegmentsAPI{deps: Deps{Segments: segment.NewStore(db)}}, mock
}

func segmentRow() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "organization_id", "name", "description", "rules",
		"generated_sql", "estimated_count", "last_calculated_at",
		"created_by", "created_at", "updated_at",
	}).AddRow("seg-1", "default", "Lapsed donors", "Major gift prospects",
		[]byte(`{"combinator":"AND"}`), "active = TRUE", 7, nil,
		"u-1", time.Now(), time.Now())
}

func putSegment(t *testing.T, a *SegmentsAPI, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("PUT", "/api/segments/seg-1", strings.NewReader(body))
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("segmentID", "seg-1")
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	rec := httptest.NewRecorder()
	a.UpdateSegment(rec, req)
	return rec
}

func TestUpdateSegmentOmittedDescriptionPreserved(t *testing.T) {
	a, mock := setupSegmentsAPI(t)

	mock.ExpectQuery("SELECT (.+) FROM donor_segments").
		WithArgs("seg-1", "default").
		WillReturnRows(segmentRow())
	mock.ExpectQuery("SELECT COUNT").
		WithArgs("default").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))
	mock.ExpectExec("UPDATE donor_segments").
		WithArgs("Lapsed donors", "Major gift prospects", sqlmock.AnyArg(),
			"active = TRUE", 7, sqlmock.AnyArg(), sqlmock.AnyArg(),
			"seg-1", "default").
		WillReturnResult(sqlmock.NewResult(0, 1))

	rec := putSegment(t, a, `{"rules":{"combinator":"AND"}}`)
	if rec.Code != 200 {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestUpdateSegmentExplicitEmptyDescriptionClears(t *testing.T) {
	a, mock := setupSegmentsAPI(t)

	mock.ExpectQuery("SELECT (.+) FROM donor_segments").
		WithArgs("seg-1", "default").
		WillReturnRows(segmentRow())
	mock.ExpectQuery("SELECT COUNT").
		WithArgs("default").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))
	mock.ExpectExec("UPDATE donor_segments").
		WithArgs("Lapsed donors", "", sqlmock.AnyArg(),
			"active = TRUE", 7, sqlmock.AnyArg(), sqlmock.AnyArg(),
			"seg-1", "default").
		WillReturnResult(sqlmock.NewResult(0, 1))

	rec := putSegment(t, a, `{"description":"","rules":{"combinator":"AND"}}`)
	if rec.Code != 200 {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}
