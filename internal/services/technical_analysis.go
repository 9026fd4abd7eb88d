package services

import (
	"github.com/cinar/indicator/v2/helper"
	"github.com/cinar/indicator/v2/momentum"
	"github.com/cinar/indicator/v2/trend"
	"github.com/shopspring/decimal"

	"github.com/irfndi/crypto-insight-go/internal/models"
)

// Indicator settings for chart summaries.
const (
	DefaultSMAPeriod = 7
	DefaultRSIPeriod = 14

	rsiOversold   = 30.0
	rsiOverbought = 70.0
	// trendThreshold is the relative move over the range that counts as a trend.
	trendThreshold = 0.02
)

// Trend and RSI labels used in ChartSummary.
const (
	TrendUp       = "up"
	TrendDown     = "down"
	TrendSideways = "sideways"

	SignalOversold   = "oversold"
	SignalOverbought = "overbought"
	SignalNeutral    = "neutral"
)

// SummarizeChart condenses a price series into the figures used as AI
// context. Indicators that need more points than the series has stay null.
func SummarizeChart(days int, series []models.ChartPoint) *models.ChartSummary {
	summary := &models.ChartSummary{
		Days:      days,
		Points:    len(series),
		Trend:     TrendSideways,
		RSISignal: SignalNeutral,
	}
	if len(series) == 0 {
		return summary
	}

	prices := make([]float64, len(series))
	high, low := series[0].Price, series[0].Price
	for i, p := range series {
		prices[i] = p.Price.InexactFloat64()
		if p.Price.GreaterThan(high) {
			high = p.Price
		}
		if p.Price.LessThan(low) {
			low = p.Price
		}
	}
	first, last := series[0].Price, series[len(series)-1].Price
	summary.First = decimal.NewNullDecimal(first)
	summary.Last = decimal.NewNullDecimal(last)
	summary.High = decimal.NewNullDecimal(high)
	summary.Low = decimal.NewNullDecimal(low)
	summary.Trend = classifyTrend(first, last)

	if sma, ok := calculateSMA(prices, DefaultSMAPeriod); ok {
		summary.SMA = decimal.NewNullDecimal(decimal.NewFromFloat(sma).Round(8))
	}
	if rsi, ok := calculateRSI(prices, DefaultRSIPeriod); ok {
		summary.RSI = decimal.NewNullDecimal(decimal.NewFromFloat(rsi).Round(2))
		summary.RSISignal = classifyRSI(rsi)
	}
	return summary
}

// calculateSMA returns the latest simple moving average over period.
func calculateSMA(prices []float64, period int) (float64, bool) {
	if len(prices) < period {
		return 0, false
	}
	smaIndicator := trend.NewSmaWithPeriod[float64](period)
	result := helper.ChanToSlice(smaIndicator.Compute(helper.SliceToChan(prices)))
	if len(result) == 0 {
		return 0, false
	}
	return result[len(result)-1], true
}

// calculateRSI returns the latest relative strength index over period.
func calculateRSI(prices []float64, period int) (float64, bool) {
	if len(prices) < period+1 {
		return 0, false
	}
	rsiIndicator := momentum.NewRsiWithPeriod[float64](period)
	result := helper.ChanToSlice(rsiIndicator.Compute(helper.SliceToChan(prices)))
	if len(result) == 0 {
		return 0, false
	}
	return result[len(result)-1], true
}

func classifyTrend(first, last decimal.Decimal) string {
	if first.IsZero() {
		return TrendSideways
	}
	change := last.Sub(first).Div(first).InexactFloat64()
	switch {
	case change > trendThreshold:
		return TrendUp
	case change < -trendThreshold:
		return TrendDown
	default:
		return TrendSideways
	}
}

func classifyRSI(rsi float64) string {
	switch {
	case rsi <= rsiOversold:
		return SignalOversold
	case rsi >= rsiOverbought:
		return SignalOverbought
	default:
		return SignalNeutral
	}
}
