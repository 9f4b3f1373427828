package domain

import (
	"fmt"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

// Date is a calendar date without a time component.
// It always serializes as "YYYY-MM-DD".
type Date struct {
	time.Time
}

// ParseDate parses a "YYYY-MM-DD" string.
func ParseDate(value string) (Date, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(value))
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q (expected YYYY-MM-DD)", value)
	}
	return Date{Time: t}, nil
}

func (d Date) String() string {
	return d.Format(dateLayout)
}

func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

func (d *Date) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(string(data), `"`)
	parsed, err := ParseDate(raw)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// User is the authenticated caller identity resolved from the identity provider.
type User struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Username string `json:"username"`
}

// TrainingSession is a parent training record owned by a user.
// Fields mirror the data service's training_sessions columns.
type TrainingSession struct {
	ID        string  `json:"id"`
	UserID    string  `json:"user_id"`
	Title     *string `json:"title"`
	Date      string  `json:"date"`
	Note      *string `json:"note"`
	CreatedAt string  `json:"created_at"`
}

// TrainingActivity is one exercise within a session.
type TrainingActivity struct {
	ID          string  `json:"id"`
	SessionID   string  `json:"session_id"`
	Name        string  `json:"name"`
	Category    *string `json:"category"`
	Description *string `json:"description"`
}

// ActivityRecord is a single set logged for an activity.
// Decimal columns come back from the data service as plain numbers.
type ActivityRecord struct {
	ID         string   `json:"id"`
	ActivityID string   `json:"activity_id"`
	SetNumber  int      `json:"set_number"`
	Repetition *int     `json:"repetition"`
	Weight     *float64 `json:"weight"`
	Duration   *string  `json:"duration"`
	Distance   *float64 `json:"distance"`
	Score      *float64 `json:"score"`
}

// ActivityWithRecords is an activity plus its nested records.
type ActivityWithRecords struct {
	TrainingActivity
	Records []ActivityRecord `json:"records"`
}

// SessionWithActivities is a session plus its nested activities and records.
type SessionWithActivities struct {
	TrainingSession
	Activities []ActivityWithRecords `json:"activities"`
}
