package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"

	"fitlog/pkg/supabase"
)

func newActivityService(t *testing.T, handler http.HandlerFunc) *ActivityService {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewActivityService(supabase.NewClient(server.URL, "secret-key"))
}

func decimalPtr(t *testing.T, value string) *decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(value)
	if err != nil {
		t.Fatalf("parse decimal %q: %v", value, err)
	}
	return &d
}

func intPtr(v int) *int { return &v }

func TestCreateWithRecordsCoercesDecimalsToFloats(t *testing.T) {
	var recordRows []map[string]any
	svc := newActivityService(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/rest/v1/training_sessions":
			_, _ = w.Write([]byte(`[{"id":"sess-1","user_id":"user-1","date":"2026-03-10"}]`))
		case r.Method == http.MethodPost && r.URL.Path == "/rest/v1/training_activities":
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`[{"id":"act-1","session_id":"sess-1","name":"Squat"}]`))
		case r.Method == http.MethodPost && r.URL.Path == "/rest/v1/activity_records":
			data, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(data, &recordRows)
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`[{"id":"rec-1","activity_id":"act-1","set_number":1,"repetition":5,"weight":82.5}]`))
		default:
			t.Errorf("unexpected call %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	})

	created, err := svc.CreateWithRecords(context.Background(), "user-1", ActivityCreate{
		SessionID: "sess-1",
		Name:      "Squat",
		Records: []RecordCreate{{
			SetNumber: 1,
			Reps:      intPtr(5),
			Weight:    decimalPtr(t, "82.5"),
		}},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.ID != "act-1" || len(created.Records) != 1 {
		t.Fatalf("unexpected result %+v", created)
	}
	if len(recordRows) != 1 {
		t.Fatalf("expected one record row, got %v", recordRows)
	}
	row := recordRows[0]
	if row["activity_id"] != "act-1" {
		t.Fatalf("expected generated activity id, got %v", row)
	}
	if weight, ok := row["weight"].(float64); !ok || weight != 82.5 {
		t.Fatalf("expected plain float weight, got %T %v", row["weight"], row["weight"])
	}
	if reps, ok := row["repetition"].(float64); !ok || reps != 5 {
		t.Fatalf("expected reps alias applied, got %v", row["repetition"])
	}
}

func TestCreateWithRecordsPrefersRepetitionOverReps(t *testing.T) {
	record := RecordCreate{SetNumber: 1, Reps: intPtr(8), Repetition: intPtr(5)}
	if got := record.effectiveReps(); got == nil || *got != 5 {
		t.Fatalf("expected repetition to win, got %v", got)
	}
}

func TestCreateWithRecordsUnknownSessionIsNotFound(t *testing.T) {
	svc := newActivityService(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[]`))
	})

	_, err := svc.CreateWithRecords(context.Background(), "user-1", ActivityCreate{SessionID: "missing", Name: "Squat"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateWithRecordsCompensatesOnRecordFailure(t *testing.T) {
	var compensated bool
	svc := newActivityService(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/rest/v1/training_sessions":
			_, _ = w.Write([]byte(`[{"id":"sess-1","user_id":"user-1","date":"2026-03-10"}]`))
		case r.Method == http.MethodPost && r.URL.Path == "/rest/v1/training_activities":
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`[{"id":"act-1","session_id":"sess-1","name":"Squat"}]`))
		case r.Method == http.MethodPost && r.URL.Path == "/rest/v1/activity_records":
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"message":"constraint violation"}`))
		case r.Method == http.MethodDelete && r.URL.Path == "/rest/v1/training_activities":
			if got := r.URL.Query().Get("id"); got != "eq.act-1" {
				t.Errorf("compensating delete targeted %q", got)
			}
			compensated = true
			_, _ = w.Write([]byte(`[{"id":"act-1","session_id":"sess-1","name":"Squat"}]`))
		default:
			t.Errorf("unexpected call %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	})

	_, err := svc.CreateWithRecords(context.Background(), "user-1", ActivityCreate{
		SessionID: "sess-1",
		Name:      "Squat",
		Records:   []RecordCreate{{SetNumber: 1}},
	})
	if !errors.Is(err, ErrServiceFailure) {
		t.Fatalf("expected ErrServiceFailure, got %v", err)
	}
	if !compensated {
		t.Fatalf("expected compensating delete of the orphaned activity")
	}
}

func TestUpdateRecordsRejectsForeignRecord(t *testing.T) {
	svc := newActivityService(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("no data service call expected, got %s %s", r.Method, r.URL.Path)
	})

	err := svc.UpdateRecords(context.Background(), "act-1", []RecordUpdate{
		{ID: "rec-9", ActivityID: "act-2", SetNumber: 1},
	})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestUpdateRecordsDeletesStaleThenUpserts(t *testing.T) {
	var deleteQuery map[string][]string
	var upsertRows []map[string]any
	var upsertPrefer string
	svc := newActivityService(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.Method {
		case http.MethodDelete:
			deleteQuery = r.URL.Query()
			_, _ = w.Write([]byte(`[]`))
		case http.MethodPost:
			upsertPrefer = r.Header.Get("Prefer")
			data, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(data, &upsertRows)
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`[]`))
		default:
			t.Errorf("unexpected method %s", r.Method)
		}
	})

	err := svc.UpdateRecords(context.Background(), "act-1", []RecordUpdate{
		{ID: "rec-1", ActivityID: "act-1", SetNumber: 1, Repetition: intPtr(5), Weight: decimalPtr(t, "100")},
		{ActivityID: "act-1", SetNumber: 2, Repetition: intPtr(3)},
	})
	if err != nil {
		t.Fatalf("update records: %v", err)
	}

	if got := deleteQuery["id"]; len(got) != 1 || got[0] != "not.in.(rec-1)" {
		t.Fatalf("expected stale rows excluded by kept ids, got %v", deleteQuery["id"])
	}
	if got := deleteQuery["activity_id"]; len(got) != 1 || got[0] != "eq.act-1" {
		t.Fatalf("unexpected activity filter %v", deleteQuery["activity_id"])
	}
	if upsertPrefer != "resolution=merge-duplicates,return=representation" {
		t.Fatalf("unexpected Prefer %q", upsertPrefer)
	}
	if len(upsertRows) != 2 {
		t.Fatalf("expected two upserted rows, got %v", upsertRows)
	}
	if upsertRows[0]["id"] != "rec-1" {
		t.Fatalf("expected existing id kept, got %v", upsertRows[0])
	}
	if _, present := upsertRows[1]["id"]; present {
		t.Fatalf("new record must omit id so the service assigns one, got %v", upsertRows[1])
	}
	if weight, ok := upsertRows[0]["weight"].(float64); !ok || weight != 100 {
		t.Fatalf("expected float weight, got %v", upsertRows[0]["weight"])
	}
}

func TestUpdateRecordsEmptyInputClearsActivity(t *testing.T) {
	var deleteQuery map[string][]string
	var upserted bool
	svc := newActivityService(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.Method {
		case http.MethodDelete:
			deleteQuery = r.URL.Query()
			_, _ = w.Write([]byte(`[]`))
		case http.MethodPost:
			upserted = true
		}
	})

	if err := svc.UpdateRecords(context.Background(), "act-1", nil); err != nil {
		t.Fatalf("update records: %v", err)
	}
	if _, present := deleteQuery["id"]; present {
		t.Fatalf("empty input must delete all activity records, got id filter %v", deleteQuery["id"])
	}
	if upserted {
		t.Fatalf("no upsert expected for empty input")
	}
}

func TestDeleteActivityNotOwnedIsForbidden(t *testing.T) {
	svc := newActivityService(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.Method == http.MethodDelete {
			t.Errorf("delete must not run for a foreign activity")
		}
		_, _ = w.Write([]byte(`[{"id":"act-1","training_sessions":{"user_id":"someone-else"}}]`))
	})

	err := svc.Delete(context.Background(), "user-1", "act-1")
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestDeleteActivityUnknownIDIsNotFound(t *testing.T) {
	svc := newActivityService(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[]`))
	})

	err := svc.Delete(context.Background(), "user-1", "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteActivityOwnedSucceeds(t *testing.T) {
	var deleted bool
	svc := newActivityService(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.Method {
		case http.MethodGet:
			_, _ = w.Write([]byte(`[{"id":"act-1","training_sessions":{"user_id":"user-1"}}]`))
		case http.MethodDelete:
			deleted = true
			_, _ = w.Write([]byte(`[]`))
		}
	})

	if err := svc.Delete(context.Background(), "user-1", "act-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !deleted {
		t.Fatalf("expected delete call")
	}
}
