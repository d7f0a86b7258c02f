package db

import (
	"context"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/apsviz/workflow-supervisor/pkg/types"
)

func newMockDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return newForConn(conn), mock
}

func TestGetJobDefsReturnsRawJSON(t *testing.T) {
	d, mock := newMockDB(t)

	want := []byte(`{"obs_mod":{"command_line":["run.sh"]}}`)
	mock.ExpectQuery(`SELECT public.get_job_defs_json\(\)`).
		WillReturnRows(sqlmock.NewRows([]string{"get_job_defs_json"}).AddRow(want))

	got, err := d.GetJobDefs(context.Background())
	if err != nil {
		t.Fatalf("GetJobDefs() error: %v", err)
	}
	if string(got) != string(want) {
		t.Errorf("GetJobDefs() = %s, want %s", got, want)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestGetNewRunsEmptyIsNoRows(t *testing.T) {
	d, mock := newMockDB(t)

	mock.ExpectQuery(`SELECT public.get_supervisor_config_items_json\(\)`).
		WillReturnRows(sqlmock.NewRows([]string{"get_supervisor_config_items_json"}).AddRow([]byte{}))

	_, err := d.GetNewRuns(context.Background())
	if err != ErrNoRows {
		t.Errorf("GetNewRuns() error = %v, want ErrNoRows", err)
	}
}

func TestGetFirstJobResolvesJobType(t *testing.T) {
	d, mock := newMockDB(t)

	mock.ExpectQuery(`SELECT public.get_first_job`).
		WithArgs("ASGS").
		WillReturnRows(sqlmock.NewRows([]string{"get_first_job"}).AddRow("staging"))

	jobType, err := d.GetFirstJob(context.Background(), "ASGS")
	if err != nil {
		t.Fatalf("GetFirstJob() error: %v", err)
	}
	if jobType != types.JobType("staging") {
		t.Errorf("GetFirstJob() = %q, want staging", jobType)
	}
}

func TestUpdateProvenanceSplitsRunID(t *testing.T) {
	d, mock := newMockDB(t)

	runID, err := types.ParseRunID("7-abc-def")
	if err != nil {
		t.Fatalf("ParseRunID() error: %v", err)
	}

	mock.ExpectExec(`SELECT public.set_config_item`).
		WithArgs(int64(7), "abc-def", "staging running").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = d.UpdateProvenance(context.Background(), runID, "staging running")
	if err != nil {
		t.Fatalf("UpdateProvenance() error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestUpdateProvenanceTruncatesAt1024(t *testing.T) {
	d, mock := newMockDB(t)

	runID, _ := types.ParseRunID("1-x-y")
	long := strings.Repeat("a", 2000)
	mock.ExpectExec(`SELECT public.set_config_item`).
		WithArgs(int64(1), "x-y", strings.Repeat("a", 1024)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := d.UpdateProvenance(context.Background(), runID, long); err != nil {
		t.Fatalf("UpdateProvenance() error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestUpdateProvenanceWrapsError(t *testing.T) {
	d, mock := newMockDB(t)

	runID, _ := types.ParseRunID("1-x-y")
	mock.ExpectExec(`SELECT public.set_config_item`).
		WillReturnError(context.DeadlineExceeded)

	if err := d.UpdateProvenance(context.Background(), runID, "staging failed"); err == nil {
		t.Fatal("UpdateProvenance() with a failing exec returned no error")
	}
}
