package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"fitlog/pkg/domain"
	"fitlog/pkg/supabase"
)

// ActivityService holds the two non-trivial write procedures:
// create-with-records (two-phase, best-effort compensating) and
// record set replacement (diff, delete, upsert).
type ActivityService struct {
	db *supabase.Client
}

// NewActivityService constructs the activity ledger.
func NewActivityService(db *supabase.Client) *ActivityService {
	return &ActivityService{db: db}
}

// RecordCreate is one set to log under a new activity.
// repetition and reps carry the same value; repetition wins when both
// are supplied. Decimal fields are coerced to plain floats on the wire.
type RecordCreate struct {
	SetNumber  int              `json:"set_number"`
	Reps       *int             `json:"reps"`
	Repetition *int             `json:"repetition"`
	Weight     *decimal.Decimal `json:"weight"`
	Duration   *string          `json:"duration"`
	Distance   *decimal.Decimal `json:"distance"`
	Score      *decimal.Decimal `json:"score"`
}

func (r RecordCreate) effectiveReps() *int {
	if r.Repetition != nil {
		return r.Repetition
	}
	return r.Reps
}

// ActivityCreate is the create-with-records request payload.
type ActivityCreate struct {
	SessionID   string         `json:"session_id"`
	Name        string         `json:"name"`
	Category    *string        `json:"category"`
	Description *string        `json:"description"`
	Records     []RecordCreate `json:"activity_records"`
}

// RecordUpdate is one desired record in a set-replacement call.
// Records without an id are pure inserts.
type RecordUpdate struct {
	ID         string           `json:"id"`
	ActivityID string           `json:"activity_id"`
	SetNumber  int              `json:"set_number"`
	Repetition *int             `json:"repetition"`
	Weight     *decimal.Decimal `json:"weight"`
	Duration   *string          `json:"duration"`
	Distance   *decimal.Decimal `json:"distance"`
	Score      *decimal.Decimal `json:"score"`
}

// CreateWithRecords verifies session ownership, inserts the activity,
// then batch-inserts its records. A failed record insert triggers a
// best-effort delete of the just-created activity before failing; the
// compensation has no retry and its own failure is only logged, so a
// failed compensation leaves an orphaned activity with zero records.
func (s *ActivityService) CreateWithRecords(ctx context.Context, userID string, in ActivityCreate) (domain.ActivityWithRecords, error) {
	var sessions []domain.TrainingSession
	err := s.db.From("training_sessions").
		Select("*").
		Eq("id", in.SessionID).
		Eq("user_id", userID).
		Execute(ctx, &sessions)
	if err != nil {
		slog.Error("session lookup failed", "session_id", in.SessionID, "err", err)
		return domain.ActivityWithRecords{}, fmt.Errorf("%w: failed to create activity", ErrServiceFailure)
	}
	if len(sessions) == 0 {
		return domain.ActivityWithRecords{}, fmt.Errorf("%w: training session not found or you don't have permission", ErrNotFound)
	}

	activityPayload := map[string]any{
		"session_id":  in.SessionID,
		"name":        in.Name,
		"category":    in.Category,
		"description": in.Description,
	}
	var activities []domain.TrainingActivity
	if err := s.db.From("training_activities").Insert(ctx, activityPayload, &activities); err != nil {
		slog.Error("activity insert failed", "session_id", in.SessionID, "err", err)
		return domain.ActivityWithRecords{}, fmt.Errorf("%w: failed to create training activity", ErrServiceFailure)
	}
	if len(activities) == 0 {
		return domain.ActivityWithRecords{}, fmt.Errorf("%w: failed to create training activity", ErrServiceFailure)
	}
	activity := activities[0]

	records := []domain.ActivityRecord{}
	if len(in.Records) > 0 {
		recordRows := make([]map[string]any, 0, len(in.Records))
		for _, record := range in.Records {
			recordRows = append(recordRows, map[string]any{
				"activity_id": activity.ID,
				"set_number":  record.SetNumber,
				"repetition":  record.effectiveReps(),
				"weight":      decimalToFloat(record.Weight),
				"duration":    record.Duration,
				"distance":    decimalToFloat(record.Distance),
				"score":       decimalToFloat(record.Score),
			})
		}
		var inserted []domain.ActivityRecord
		err := s.db.From("activity_records").Insert(ctx, recordRows, &inserted)
		if err != nil || len(inserted) == 0 {
			if err != nil {
				slog.Error("record batch insert failed", "activity_id", activity.ID, "err", err)
			}
			s.compensateActivityInsert(ctx, activity.ID)
			return domain.ActivityWithRecords{}, fmt.Errorf("%w: failed to create activity records", ErrServiceFailure)
		}
		records = inserted
	}

	return domain.ActivityWithRecords{TrainingActivity: activity, Records: records}, nil
}

// compensateActivityInsert removes the parent activity after its record
// insert failed. Fire-and-forget: failure is observable in the log only.
func (s *ActivityService) compensateActivityInsert(ctx context.Context, activityID string) {
	var deleted []domain.TrainingActivity
	if err := s.db.From("training_activities").Eq("id", activityID).Delete(ctx, &deleted); err != nil {
		slog.Error("compensating activity delete failed, orphaned activity left behind",
			"activity_id", activityID, "err", err)
	}
}

// UpdateRecords reconciles an activity's stored records to exactly the
// supplied set: rows whose id is absent from the input are deleted, the
// rest are upserted in one batch. An empty input clears the activity.
// Non-transactional: a failure between the delete and the upsert leaves
// the record set in an intermediate state.
func (s *ActivityService) UpdateRecords(ctx context.Context, activityID string, records []RecordUpdate) error {
	idsToKeep := make([]string, 0, len(records))
	for _, record := range records {
		if record.ActivityID != activityID {
			return fmt.Errorf("%w: record %s does not belong to activity %s", ErrInvalidRequest, record.ID, activityID)
		}
		if record.ID != "" {
			idsToKeep = append(idsToKeep, record.ID)
		}
	}

	query := s.db.From("activity_records").Eq("activity_id", activityID)
	if len(idsToKeep) > 0 {
		query = query.NotIn("id", idsToKeep)
	}
	if err := query.Delete(ctx, nil); err != nil {
		slog.Error("record reconcile delete failed", "activity_id", activityID, "err", err)
		return fmt.Errorf("%w: failed to update activity records", ErrServiceFailure)
	}

	if len(records) == 0 {
		return nil
	}

	rows := make([]map[string]any, 0, len(records))
	for _, record := range records {
		row := map[string]any{
			"activity_id": record.ActivityID,
			"set_number":  record.SetNumber,
		}
		if record.ID != "" {
			row["id"] = record.ID
		}
		if record.Repetition != nil {
			row["repetition"] = *record.Repetition
		}
		if record.Weight != nil {
			row["weight"] = record.Weight.InexactFloat64()
		}
		if record.Duration != nil {
			row["duration"] = *record.Duration
		}
		if record.Distance != nil {
			row["distance"] = record.Distance.InexactFloat64()
		}
		if record.Score != nil {
			row["score"] = record.Score.InexactFloat64()
		}
		rows = append(rows, row)
	}
	if err := s.db.From("activity_records").Upsert(ctx, rows, nil); err != nil {
		slog.Error("record upsert failed", "activity_id", activityID, "err", err)
		return fmt.Errorf("%w: failed to update activity records", ErrServiceFailure)
	}
	return nil
}

// Delete removes an activity after checking, through its parent
// session, that the caller owns it. Child records cascade at the
// storage layer.
func (s *ActivityService) Delete(ctx context.Context, userID, activityID string) error {
	var rows []struct {
		ID      string `json:"id"`
		Session struct {
			UserID string `json:"user_id"`
		} `json:"training_sessions"`
	}
	err := s.db.From("training_activities").
		Select("id, training_sessions(user_id)").
		Eq("id", activityID).
		Execute(ctx, &rows)
	if err != nil {
		slog.Error("activity lookup failed", "activity_id", activityID, "err", err)
		return fmt.Errorf("%w: failed to delete activity", ErrServiceFailure)
	}
	if len(rows) == 0 {
		return fmt.Errorf("%w: training activity not found", ErrNotFound)
	}
	if rows[0].Session.UserID != userID {
		return fmt.Errorf("%w: you don't have permission to delete this activity", ErrForbidden)
	}

	if err := s.db.From("training_activities").Eq("id", activityID).Delete(ctx, nil); err != nil {
		slog.Error("activity delete failed", "activity_id", activityID, "err", err)
		return fmt.Errorf("%w: failed to delete activity", ErrServiceFailure)
	}
	return nil
}

// decimalToFloat converts an optional exact decimal into the plain
// float the data service expects, keeping nil as nil so absent fields
// serialize as null.
func decimalToFloat(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.InexactFloat64()
}
