package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/irfndi/crypto-insight-go/internal/cache"
	"github.com/irfndi/crypto-insight-go/internal/metrics"
	"github.com/irfndi/crypto-insight-go/internal/models"
	"github.com/irfndi/crypto-insight-go/internal/utils"
)

const (
	MaxQuestionLength = 500
	DefaultSimilar    = 5
	MaxSimilar        = 10

	askChartDays = 30
)

// AI request outcomes recorded in metrics.
const (
	aiAnswered = "answered"
	aiFallback = "fallback"
	aiCached   = "cached"
	aiStatic   = "static"
)

// questionKeywords is checked in order; the first type with a matching
// keyword wins.
var questionKeywords = []struct {
	kind     models.QuestionType
	keywords []string
}{
	{models.QuestionInvestment, []string{"buy", "invest", "should i", "worth", "hold"}},
	{models.QuestionPrice, []string{"price", "predict", "forecast", "will it", "target"}},
	{models.QuestionTechnical, []string{"technical", "chart", "support", "resistance", "rsi", "moving average"}},
	{models.QuestionTechnology, []string{"technology", "team", "roadmap", "use case", "blockchain", "consensus"}},
	{models.QuestionComparison, []string{"compare", "better", " vs ", "versus", "difference"}},
	{models.QuestionRisk, []string{"risk", "safe", "dangerous", "volatile", "scam"}},
}

// ClassifyQuestion maps a question to the kind of answer it needs.
func ClassifyQuestion(question string) models.QuestionType {
	q := " " + NormalizeQuery(question) + " "
	for _, group := range questionKeywords {
		for _, kw := range group.keywords {
			if strings.Contains(q, kw) {
				return group.kind
			}
		}
	}
	return models.QuestionGeneral
}

// AIService answers questions about an asset using live market context.
// Without a reachable model it answers from templates.
type AIService struct {
	ai      AIProvider
	market  *MarketDataService
	answers *cache.Region[*models.AIAnswer]
	clock   utils.Clock
	logger  *logrus.Logger
	metrics *metrics.MetricsCollector
}

// NewAIService creates the service. ai may be nil to always use templates.
func NewAIService(ai AIProvider, market *MarketDataService, answers *cache.Region[*models.AIAnswer], clock utils.Clock, logger *logrus.Logger, mc *metrics.MetricsCollector) *AIService {
	if clock == nil {
		clock = utils.RealClock{}
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &AIService{
		ai:      ai,
		market:  market,
		answers: answers,
		clock:   clock,
		logger:  logger,
		metrics: mc,
	}
}

// Ask answers question about the asset named by query.
func (s *AIService) Ask(ctx context.Context, query, question string) (*models.AIAnswer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, utils.NewValidationError("question must not be empty")
	}
	if len(question) > MaxQuestionLength {
		return nil, utils.NewValidationErrorf("question must be at most %d characters", MaxQuestionLength)
	}

	identity, err := s.market.Resolve(ctx, query)
	if err != nil {
		return nil, err
	}
	kind := ClassifyQuestion(question)
	key := answerKey(identity, kind, question)

	if cached, ok := s.answers.Get(ctx, key); ok && cached != nil {
		s.metrics.RecordAIRequest("ask", aiCached)
		return copyAnswer(cached), nil
	}

	md, err := s.market.GetMarketData(ctx, query, Options{})
	if err != nil {
		return nil, err
	}
	series, _ := s.market.GetChartData(ctx, query, askChartDays, Options{})
	chart := SummarizeChart(askChartDays, series)

	answer := &models.AIAnswer{
		Query:        query,
		Question:     question,
		QuestionType: kind,
		Market:       md,
		Chart:        chart,
		GeneratedAt:  s.clock.Now(),
	}

	text, genErr := s.generate(ctx, buildPrompt(identity, md, chart, kind, question))
	if genErr != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.logger.WithFields(logrus.Fields{
			"symbol":        identity.Symbol,
			"question_type": kind,
		}).WithError(genErr).Warn("AI unavailable, answering from template")
		answer.Answer = fallbackAnswer(md, chart, kind)
		answer.Fallback = true
		s.metrics.RecordAIRequest("ask", aiFallback)
		return answer, nil
	}

	answer.Answer = text
	if md.Degraded {
		s.logger.WithField("symbol", identity.Symbol).Debug("Answer built on degraded market data, not caching")
	} else {
		s.answers.Put(ctx, key, copyAnswer(answer))
	}
	s.metrics.RecordAIRequest("ask", aiAnswered)
	return answer, nil
}

// Similar recommends up to limit assets comparable to the one named by
// query. Curated pairs are preferred; the model is asked only for assets
// outside that list.
func (s *AIService) Similar(ctx context.Context, query string, limit int) ([]models.SimilarCoin, error) {
	if limit <= 0 {
		limit = DefaultSimilar
	}
	if limit > MaxSimilar {
		limit = MaxSimilar
	}

	identity, err := s.market.Resolve(ctx, query)
	if err != nil {
		return nil, err
	}
	symbol := strings.ToUpper(identity.Symbol)

	if coins := staticSimilar(symbol, limit); len(coins) > 0 {
		s.metrics.RecordAIRequest("similar", aiStatic)
		return coins, nil
	}

	prompt := fmt.Sprintf("List up to %d cryptocurrencies most similar to %s (%s) in purpose and technology. "+
		"Reply with ticker symbols only, separated by commas.", limit, identity.Name, symbol)
	text, genErr := s.generate(ctx, prompt)
	if genErr != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.logger.WithField("symbol", symbol).WithError(genErr).Warn("AI unavailable for similar assets")
		s.metrics.RecordAIRequest("similar", aiFallback)
		return []models.SimilarCoin{}, nil
	}

	coins := parseSymbols(text, symbol, limit)
	s.metrics.RecordAIRequest("similar", aiAnswered)
	return coins, nil
}

func (s *AIService) generate(ctx context.Context, prompt string) (string, error) {
	if s.ai == nil {
		return "", &utils.AIUnavailableError{Err: errors.New("ai disabled")}
	}
	return s.ai.Generate(ctx, prompt)
}

func answerKey(identity *models.CryptoIdentity, kind models.QuestionType, question string) string {
	digest := uuid.NewSHA1(uuid.NameSpaceOID, []byte(NormalizeQuery(question)))
	return fmt.Sprintf("%s:%s:%s", identity.CacheKey(), kind, digest)
}

func copyAnswer(a *models.AIAnswer) *models.AIAnswer {
	out := *a
	if a.Market != nil {
		out.Market = a.Market.Clone()
	}
	if a.Chart != nil {
		chart := *a.Chart
		out.Chart = &chart
	}
	return &out
}

var promptFocus = map[models.QuestionType]string{
	models.QuestionInvestment: "Discuss the investment case, weighing upside against risk. Do not give personal financial advice.",
	models.QuestionPrice:      "Discuss recent price action and what the indicators suggest. Do not promise a price target.",
	models.QuestionTechnical:  "Interpret the technical indicators and the trend.",
	models.QuestionTechnology: "Explain the technology and what the asset is used for.",
	models.QuestionComparison: "Compare the asset with the alternatives the user names.",
	models.QuestionRisk:       "Describe the main risks, including volatility.",
	models.QuestionGeneral:    "Answer clearly for a non-expert.",
}

func buildPrompt(identity *models.CryptoIdentity, md *models.MarketData, chart *models.ChartSummary, kind models.QuestionType, question string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a cryptocurrency analyst. Answer the question about %s (%s) in at most 200 words.\n", identity.Name, identity.Symbol)
	b.WriteString(promptFocus[kind])
	b.WriteString("\n\nMarket data:\n")
	fmt.Fprintf(&b, "- Price (USD): %s\n", formatDecimal(md.Price, 2))
	fmt.Fprintf(&b, "- 24h change: %s%%\n", formatDecimal(md.PercentChange24h, 2))
	fmt.Fprintf(&b, "- 7d change: %s%%\n", formatDecimal(md.PercentChange7d, 2))
	fmt.Fprintf(&b, "- Market cap (USD): %s\n", formatDecimal(md.MarketCap, 0))
	fmt.Fprintf(&b, "- 24h volume (USD): %s\n", formatDecimal(md.Volume24h, 0))
	if md.MarketCapRank != nil {
		fmt.Fprintf(&b, "- Market cap rank: %d\n", *md.MarketCapRank)
	}
	if chart != nil && chart.Points > 0 {
		fmt.Fprintf(&b, "\n%d-day chart: trend %s, high %s, low %s, SMA(%d) %s, RSI(%d) %s (%s)\n",
			chart.Days, chart.Trend, formatDecimal(chart.High, 2), formatDecimal(chart.Low, 2),
			DefaultSMAPeriod, formatDecimal(chart.SMA, 2), DefaultRSIPeriod, formatDecimal(chart.RSI, 1), chart.RSISignal)
	}
	fmt.Fprintf(&b, "\nQuestion: %s\nAnswer:", question)
	return b.String()
}

func fallbackAnswer(md *models.MarketData, chart *models.ChartSummary, kind models.QuestionType) string {
	name := md.Name
	if name == "" {
		name = md.Symbol
	}
	if md.Degraded || !md.Price.Valid {
		return fmt.Sprintf("Live data for %s is temporarily unavailable, so no analysis can be given right now. Please try again shortly.", name)
	}

	snapshot := fmt.Sprintf("%s trades at $%s, %s%% over 24 hours.", name, formatDecimal(md.Price, 2), formatDecimal(md.PercentChange24h, 2))
	trend := ""
	if chart != nil && chart.Points > 0 {
		trend = fmt.Sprintf(" Over %d days the trend is %s and RSI reads %s.", chart.Days, chart.Trend, chart.RSISignal)
	}

	switch kind {
	case models.QuestionInvestment:
		return snapshot + trend + " Crypto assets are volatile; size any position to what you can afford to lose and do your own research."
	case models.QuestionPrice, models.QuestionTechnical:
		return snapshot + trend + " Short-term moves are hard to predict, so treat any forecast with caution."
	case models.QuestionRisk:
		return snapshot + trend + " Expect large swings; regulation, liquidity and security incidents are the main risks."
	case models.QuestionComparison:
		return snapshot + " Compare market cap, adoption and technology before choosing between assets."
	default:
		return snapshot + trend
	}
}

func formatDecimal(d decimal.NullDecimal, places int32) string {
	if !d.Valid {
		return "n/a"
	}
	return d.Decimal.StringFixed(places)
}

var assetCategories = map[string]string{
	"BTC": "store of value", "LTC": "store of value", "BCH": "store of value", "BSV": "store of value",
	"ETH": "smart contract platform", "ADA": "smart contract platform", "SOL": "smart contract platform",
	"DOT": "smart contract platform", "AVAX": "smart contract platform", "NEAR": "smart contract platform",
	"ALGO": "smart contract platform", "ATOM": "smart contract platform", "BNB": "smart contract platform",
	"MATIC": "scaling", "ARB": "scaling", "OP": "scaling",
	"UNI": "DeFi", "AAVE": "DeFi", "MKR": "DeFi", "COMP": "DeFi", "CRV": "DeFi", "SUSHI": "DeFi", "LINK": "DeFi",
	"DOGE": "meme", "SHIB": "meme", "PEPE": "meme",
	"XRP": "payments", "XLM": "payments",
	"XMR": "privacy", "ZEC": "privacy", "DASH": "privacy",
	"AXS": "gaming", "SAND": "gaming", "MANA": "gaming", "ENJ": "gaming",
}

var assetNames = map[string]string{
	"BTC": "Bitcoin", "LTC": "Litecoin", "BCH": "Bitcoin Cash", "BSV": "Bitcoin SV",
	"ETH": "Ethereum", "ADA": "Cardano", "SOL": "Solana", "DOT": "Polkadot", "AVAX": "Avalanche",
	"NEAR": "NEAR Protocol", "ALGO": "Algorand", "ATOM": "Cosmos", "BNB": "BNB",
	"MATIC": "Polygon", "ARB": "Arbitrum", "OP": "Optimism",
	"UNI": "Uniswap", "AAVE": "Aave", "MKR": "Maker", "COMP": "Compound", "CRV": "Curve DAO", "SUSHI": "SushiSwap", "LINK": "Chainlink",
	"DOGE": "Dogecoin", "SHIB": "Shiba Inu", "PEPE": "Pepe",
	"XRP": "XRP", "XLM": "Stellar",
	"XMR": "Monero", "ZEC": "Zcash", "DASH": "Dash",
	"AXS": "Axie Infinity", "SAND": "The Sandbox", "MANA": "Decentraland", "ENJ": "Enjin Coin",
}

// similarAssets lists curated peers, most similar first.
var similarAssets = map[string][]string{
	"BTC":   {"LTC", "BCH", "BSV", "ETH", "DOGE", "XRP", "ADA", "SOL", "DOT", "AVAX"},
	"ETH":   {"ADA", "SOL", "DOT", "AVAX", "NEAR", "ALGO", "ATOM", "BNB", "MATIC", "BTC"},
	"ADA":   {"ETH", "SOL", "DOT", "ALGO", "AVAX", "NEAR", "ATOM"},
	"SOL":   {"ETH", "AVAX", "NEAR", "ADA", "DOT", "ALGO", "MATIC"},
	"DOT":   {"ATOM", "ETH", "ADA", "AVAX", "SOL", "NEAR"},
	"AVAX":  {"SOL", "ETH", "NEAR", "DOT", "ADA", "MATIC"},
	"BNB":   {"ETH", "SOL", "AVAX", "MATIC", "ADA"},
	"MATIC": {"ARB", "OP", "ETH", "AVAX", "SOL"},
	"UNI":   {"SUSHI", "AAVE", "COMP", "CRV", "MKR"},
	"AAVE":  {"COMP", "MKR", "UNI", "CRV", "SUSHI"},
	"LINK":  {"UNI", "AAVE", "MKR", "ETH", "DOT"},
	"MKR":   {"AAVE", "COMP", "UNI", "CRV"},
	"DOGE":  {"SHIB", "PEPE", "LTC", "BTC"},
	"SHIB":  {"DOGE", "PEPE"},
	"XMR":   {"ZEC", "DASH", "LTC"},
	"XRP":   {"XLM", "ALGO", "LTC"},
	"XLM":   {"XRP", "ALGO"},
	"AXS":   {"SAND", "MANA", "ENJ"},
	"SAND":  {"MANA", "AXS", "ENJ"},
}

func staticSimilar(symbol string, limit int) []models.SimilarCoin {
	peers, ok := similarAssets[symbol]
	if !ok {
		return nil
	}
	category := assetCategories[symbol]
	coins := make([]models.SimilarCoin, 0, limit)
	for i, peer := range peers {
		if len(coins) == limit {
			break
		}
		reason := fmt.Sprintf("Frequently compared with %s", symbol)
		if c := assetCategories[peer]; c != "" && c == category {
			reason = fmt.Sprintf("Also a %s", c)
		}
		coins = append(coins, models.SimilarCoin{
			Symbol: peer,
			Name:   assetNames[peer],
			Reason: reason,
			Score:  similarityScore(i),
		})
	}
	return coins
}

// parseSymbols extracts upper-case ticker symbols from a model reply.
func parseSymbols(text, self string, limit int) []models.SimilarCoin {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return r == ',' || r == '\n' || unicode.IsSpace(r)
	})
	seen := map[string]bool{self: true}
	coins := make([]models.SimilarCoin, 0, limit)
	for _, f := range fields {
		sym := strings.Trim(f, " .;:-*()[]\"'")
		if sym == "" || len(sym) > 10 || seen[sym] || !isTicker(sym) {
			continue
		}
		seen[sym] = true
		coins = append(coins, models.SimilarCoin{
			Symbol: sym,
			Name:   assetNames[sym],
			Reason: "Suggested by AI analysis",
			Score:  similarityScore(len(coins)) - 0.1,
		})
		if len(coins) == limit {
			break
		}
	}
	return coins
}

func isTicker(s string) bool {
	for _, r := range s {
		if !unicode.IsUpper(r) && !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

func similarityScore(position int) float64 {
	score := 0.95 - 0.05*float64(position)
	if score < 0.3 {
		score = 0.3
	}
	return decimal.NewFromFloat(score).Round(2).InexactFloat64()
}
