package app

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"fitlog/pkg/ai"
	"fitlog/pkg/domain"
	"fitlog/pkg/supabase"
)

const (
	insightHistoryLimit = 20
	noRecordsText       = "無近期訓練紀錄。"

	insightSelect = "date, note, title, activities:training_activities(category, description, name, records:activity_records(repetition, set_number, weight))"

	insightPromptTemplate = `你是一位專業的肌力與體能訓練教練。
請根據使用者的提問與提供的近期訓練紀錄進行評估與分析。

使用者問題: %s

%s

指示：
1. 若有訓練紀錄，請具體引用數據來支持你的建議。
2. 若無相關紀錄或問題與訓練無關，請委婉說明。
3. 回答請保持簡潔專業，重點在於優化訓練成效。`
)

// InsightService answers questions about the caller's training history
// by fetching a bounded slice of it, compacting it into text and
// forwarding a templated prompt to the generative-text service.
type InsightService struct {
	db        *supabase.Client
	generator ai.TextGenerator
}

// NewInsightService constructs the assistant.
func NewInsightService(db *supabase.Client, generator ai.TextGenerator) *InsightService {
	return &InsightService{db: db, generator: generator}
}

// DateRange bounds the history slice sent to the model.
type DateRange struct {
	StartDate *domain.Date `json:"start_date"`
	EndDate   *domain.Date `json:"end_date"`
}

type insightRecord struct {
	Repetition *int     `json:"repetition"`
	SetNumber  int      `json:"set_number"`
	Weight     *float64 `json:"weight"`
}

type insightActivity struct {
	Category    *string         `json:"category"`
	Description *string         `json:"description"`
	Name        string          `json:"name"`
	Records     []insightRecord `json:"records"`
}

type insightSession struct {
	Date       string            `json:"date"`
	Note       *string           `json:"note"`
	Title      *string           `json:"title"`
	Activities []insightActivity `json:"activities"`
}

// Chat answers a user message, optionally grounded in the date-bounded
// training history. With no range, no data-service call is made at all.
// Every failure collapses to ErrServiceFailure.
func (s *InsightService) Chat(ctx context.Context, userID, message string, dateRange *DateRange) (string, error) {
	var sessions []insightSession
	if dateRange != nil {
		query := s.db.From("training_sessions").
			Select(insightSelect).
			Eq("user_id", userID)
		if dateRange.StartDate != nil {
			query = query.Gte("date", dateRange.StartDate.String())
		}
		if dateRange.EndDate != nil {
			query = query.Lte("date", dateRange.EndDate.String())
		}
		query = query.Order("date", true).Limit(insightHistoryLimit)
		if err := query.Execute(ctx, &sessions); err != nil {
			slog.Error("insight history query failed", "user_id", userID, "err", err)
			return "", fmt.Errorf("%w: AI service error", ErrServiceFailure)
		}
	}

	prompt := fmt.Sprintf(insightPromptTemplate, message, formatTrainingData(sessions))
	reply, err := s.generator.GenerateText(ctx, "", prompt)
	if err != nil {
		slog.Error("insight generation failed", "user_id", userID, "err", err)
		return "", fmt.Errorf("%w: AI service error", ErrServiceFailure)
	}
	return reply, nil
}

// formatTrainingData compacts sessions into the fixed plain-text block
// interpolated into the prompt: one paragraph per session headed by its
// date, the note when present, then one line per activity listing
// weight x repetition pairs.
func formatTrainingData(sessions []insightSession) string {
	if len(sessions) == 0 {
		return noRecordsText
	}
	var sb strings.Builder
	sb.WriteString("近期訓練紀錄:\n")
	for _, session := range sessions {
		date := session.Date
		if date == "" {
			date = "Unknown Date"
		}
		fmt.Fprintf(&sb, "=== 日期: %s ===\n", date)
		if session.Note != nil && *session.Note != "" {
			fmt.Fprintf(&sb, "心得: %s\n", *session.Note)
		}
		for _, activity := range session.Activities {
			pairs := make([]string, 0, len(activity.Records))
			for _, record := range activity.Records {
				pairs = append(pairs, formatFloat(record.Weight)+"kgx"+formatInt(record.Repetition))
			}
			fmt.Fprintf(&sb, "- %s: %s\n", activity.Name, strings.Join(pairs, ", "))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func formatFloat(v *float64) string {
	if v == nil {
		return "0"
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func formatInt(v *int) string {
	if v == nil {
		return "0"
	}
	return strconv.Itoa(*v)
}
