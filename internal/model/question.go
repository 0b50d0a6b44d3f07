package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Direction classifies the sign of a variance.
type Direction string

const (
	DirectionIncrease Direction = "increase"
	DirectionDecline  Direction = "decline"
	DirectionFlat     Direction = "flat"
)

// DirectionOf returns the direction for a signed percentage value.
func DirectionOf(value decimal.Decimal) Direction {
	switch value.Sign() {
	case 1:
		return DirectionIncrease
	case -1:
		return DirectionDecline
	default:
		return DirectionFlat
	}
}

// QuestionStatus is the review lifecycle state of a live question.
// Only the transition into "active" is owned by this system; resolution
// belongs to the analyst review workflow.
type QuestionStatus string

const (
	QuestionActive    QuestionStatus = "active"
	QuestionResolved  QuestionStatus = "resolved"
	QuestionDismissed QuestionStatus = "dismissed"
)

// Scorecard captures how a question's rank score was computed.
type Scorecard struct {
	Magnitude decimal.Decimal `json:"magnitude"`
	Weight    decimal.Decimal `json:"weight"`
	Score     decimal.Decimal `json:"score"`
	Direction Direction       `json:"direction"`
}

// LiveQuestion is an investigation prompt surfaced to an analyst.
// At most one active question may reference a given derived metric.
type LiveQuestion struct {
	ID              string          `json:"id"`
	DerivedMetricID string          `json:"derived_metric_id"`
	Text            string          `json:"text"`
	Weight          decimal.Decimal `json:"weight"`
	Scorecard       Scorecard       `json:"scorecard"`
	RankScore       decimal.Decimal `json:"rank_score"`
	RankPosition    *int            `json:"rank_position,omitempty"`
	Status          QuestionStatus  `json:"status"`
	LastUpdated     time.Time       `json:"last_updated"`
}

// Question log change types.
const (
	ChangeQuestionCreated = "question_created"
	ChangeRankUpdated     = "rank_updated"
)

// QuestionLogEntry is one row of the append-only question audit trail.
// The pipeline only ever writes these; it never reads them back.
type QuestionLogEntry struct {
	ID             int64     `json:"id,omitempty"`
	LiveQuestionID string    `json:"live_question_id"`
	ChangeType     string    `json:"change_type"`
	ChangedBy      string    `json:"changed_by"`
	OldValue       string    `json:"old_value,omitempty"`
	NewValue       string    `json:"new_value,omitempty"`
	Note           string    `json:"note,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}
