package app

import (
	"context"
	"fmt"
	"log/slog"

	"fitlog/pkg/domain"
	"fitlog/pkg/supabase"
)

const sessionWithActivitiesSelect = "*, activities:training_activities(*, records:activity_records(*))"

// SessionService is CRUD over training session rows, always scoped to
// the authenticated user's id.
type SessionService struct {
	db *supabase.Client
}

// NewSessionService constructs the session catalog.
func NewSessionService(db *supabase.Client) *SessionService {
	return &SessionService{db: db}
}

// SessionCreate is the payload for creating a session.
type SessionCreate struct {
	Title *string     `json:"title"`
	Date  domain.Date `json:"date"`
	Note  *string     `json:"note"`
}

// SessionUpdate is a partial update; nil fields are left untouched.
type SessionUpdate struct {
	Title *string      `json:"title"`
	Date  *domain.Date `json:"date"`
	Note  *string      `json:"note"`
}

// Create inserts one session row with user_id forced to the caller.
func (s *SessionService) Create(ctx context.Context, userID string, in SessionCreate) (domain.TrainingSession, error) {
	payload := map[string]any{
		"user_id": userID,
		"title":   in.Title,
		"date":    in.Date.String(),
		"note":    in.Note,
	}
	var rows []domain.TrainingSession
	if err := s.db.From("training_sessions").Insert(ctx, payload, &rows); err != nil {
		slog.Error("session insert failed", "user_id", userID, "err", err)
		return domain.TrainingSession{}, fmt.Errorf("%w: failed to create training session", ErrServiceFailure)
	}
	if len(rows) == 0 {
		return domain.TrainingSession{}, fmt.Errorf("%w: failed to create training session", ErrServiceFailure)
	}
	return rows[0], nil
}

// ListWithActivities returns the caller's sessions with nested
// activities and records, newest first.
//
// Date filter policy: endDate is an upper bound whenever present.
// startDate without endDate pins the upper bound to startDate as well,
// so the query matches exactly that day. Documented current behavior;
// covered by a dedicated test so any change is deliberate.
func (s *SessionService) ListWithActivities(ctx context.Context, userID string, startDate, endDate *domain.Date) ([]domain.SessionWithActivities, error) {
	query := s.db.From("training_sessions").
		Select(sessionWithActivitiesSelect).
		Eq("user_id", userID)
	if startDate != nil {
		query = query.Gte("date", startDate.String())
	}
	if endDate != nil {
		query = query.Lte("date", endDate.String())
	} else if startDate != nil {
		query = query.Lte("date", startDate.String())
	}
	query = query.Order("created_at", true)

	var rows []domain.SessionWithActivities
	if err := query.Execute(ctx, &rows); err != nil {
		slog.Error("session list failed", "user_id", userID, "err", err)
		return nil, fmt.Errorf("%w: failed to fetch sessions with activities", ErrServiceFailure)
	}
	if rows == nil {
		rows = []domain.SessionWithActivities{}
	}
	return rows, nil
}

// Update verifies ownership, then applies only the supplied fields.
func (s *SessionService) Update(ctx context.Context, userID, sessionID string, in SessionUpdate) (domain.TrainingSession, error) {
	var existing []domain.TrainingSession
	err := s.db.From("training_sessions").
		Select("*").
		Eq("id", sessionID).
		Eq("user_id", userID).
		Execute(ctx, &existing)
	if err != nil {
		slog.Error("session ownership check failed", "session_id", sessionID, "err", err)
		return domain.TrainingSession{}, fmt.Errorf("%w: failed to update training session", ErrServiceFailure)
	}
	if len(existing) == 0 {
		return domain.TrainingSession{}, fmt.Errorf("%w: training session not found", ErrNotFound)
	}

	payload := map[string]any{}
	if in.Title != nil {
		payload["title"] = *in.Title
	}
	if in.Date != nil {
		payload["date"] = in.Date.String()
	}
	if in.Note != nil {
		payload["note"] = *in.Note
	}
	if len(payload) == 0 {
		return domain.TrainingSession{}, fmt.Errorf("%w: no fields to update", ErrInvalidRequest)
	}

	var rows []domain.TrainingSession
	err = s.db.From("training_sessions").
		Eq("id", sessionID).
		Update(ctx, payload, &rows)
	if err != nil || len(rows) == 0 {
		if err != nil {
			slog.Error("session update failed", "session_id", sessionID, "err", err)
		}
		return domain.TrainingSession{}, fmt.Errorf("%w: failed to update training session", ErrServiceFailure)
	}
	return rows[0], nil
}

// Delete removes the row scoped to (id, user_id). Zero affected rows
// means the id is absent or owned by someone else.
func (s *SessionService) Delete(ctx context.Context, userID, sessionID string) error {
	var deleted []domain.TrainingSession
	err := s.db.From("training_sessions").
		Eq("id", sessionID).
		Eq("user_id", userID).
		Delete(ctx, &deleted)
	if err != nil {
		slog.Error("session delete failed", "session_id", sessionID, "err", err)
		return fmt.Errorf("%w: failed to delete training session", ErrServiceFailure)
	}
	if len(deleted) == 0 {
		return fmt.Errorf("%w: training session not found", ErrNotFound)
	}
	return nil
}
