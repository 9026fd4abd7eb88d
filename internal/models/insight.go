package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ChartSummary condenses a price series into the indicators used as AI context.
type ChartSummary struct {
	Days      int                 `json:"days"`
	Points    int                 `json:"points"`
	First     decimal.NullDecimal `json:"first"`
	Last      decimal.NullDecimal `json:"last"`
	High      decimal.NullDecimal `json:"high"`
	Low       decimal.NullDecimal `json:"low"`
	SMA       decimal.NullDecimal `json:"sma"`
	RSI       decimal.NullDecimal `json:"rsi"`
	Trend     string              `json:"trend"`      // "up", "down", "sideways"
	RSISignal string              `json:"rsi_signal"` // "oversold", "overbought", "neutral"
}

// QuestionType classifies a user question about an asset.
type QuestionType string

const (
	QuestionPrice      QuestionType = "price"
	QuestionInvestment QuestionType = "investment"
	QuestionTechnical  QuestionType = "technical"
	QuestionTechnology QuestionType = "technology"
	QuestionComparison QuestionType = "comparison"
	QuestionRisk       QuestionType = "risk"
	QuestionGeneral    QuestionType = "general"
)

// AIAnswer is the reply to a question about an asset.
type AIAnswer struct {
	Query        string        `json:"query"`
	Question     string        `json:"question"`
	QuestionType QuestionType  `json:"question_type"`
	Answer       string        `json:"answer"`
	Fallback     bool          `json:"fallback"`
	Market       *MarketData   `json:"market,omitempty"`
	Chart        *ChartSummary `json:"chart,omitempty"`
	GeneratedAt  time.Time     `json:"generated_at"`
}

// SimilarCoin is one recommendation returned for an asset.
type SimilarCoin struct {
	Symbol string  `json:"symbol"`
	Name   string  `json:"name"`
	Reason string  `json:"reason"`
	Score  float64 `json:"score"`
}
