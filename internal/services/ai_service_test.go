package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/irfndi/crypto-insight-go/internal/cache"
	"github.com/irfndi/crypto-insight-go/internal/config"
	"github.com/irfndi/crypto-insight-go/internal/models"
	"github.com/irfndi/crypto-insight-go/internal/utils"
)

func newTestAIService(ai AIProvider, stubs ...*stubProvider) (*AIService, *MarketDataService, *cache.Store) {
	svc, store := newTestService(nil, stubs...)
	return NewAIService(ai, svc, store.Answers, nil, quietLogger(), nil), svc, store
}

func TestClassifyQuestion(t *testing.T) {
	tests := []struct {
		question string
		want     models.QuestionType
	}{
		{"Should I buy bitcoin now?", models.QuestionInvestment},
		{"What will the price be next week?", models.QuestionPrice},
		{"Where is the support level on the chart?", models.QuestionTechnical},
		{"Who is the team behind it?", models.QuestionTechnology},
		{"ETH vs SOL", models.QuestionComparison},
		{"Is it too volatile for me?", models.QuestionRisk},
		{"What is Bitcoin?", models.QuestionGeneral},
	}
	for _, tt := range tests {
		t.Run(tt.question, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyQuestion(tt.question))
		})
	}
}

func TestAIService_AskAnswersAndCaches(t *testing.T) {
	ai := new(MockAIProvider)
	ai.On("Generate", mock.Anything, mock.MatchedBy(func(prompt string) bool {
		return strings.Contains(prompt, "Bitcoin (BTC)") && strings.Contains(prompt, "Price (USD): 65000.00")
	})).Return("Bitcoin is the largest crypto asset.", nil).Once()

	svc, _, _ := newTestAIService(ai, btcGecko(65000))
	ctx := context.Background()

	answer, err := svc.Ask(ctx, "bitcoin", "What is Bitcoin?")
	require.NoError(t, err)
	assert.Equal(t, "Bitcoin is the largest crypto asset.", answer.Answer)
	assert.False(t, answer.Fallback)
	assert.Equal(t, models.QuestionGeneral, answer.QuestionType)
	require.NotNil(t, answer.Market)
	require.NotNil(t, answer.Chart)

	again, err := svc.Ask(ctx, "BTC", "  what is bitcoin? ")
	require.NoError(t, err)
	assert.Equal(t, answer.Answer, again.Answer)
	ai.AssertNumberOfCalls(t, "Generate", 1)
}

func TestAIService_AskFallsBackWhenAIUnavailable(t *testing.T) {
	ai := new(MockAIProvider)
	ai.On("Generate", mock.Anything, mock.Anything).Return("", &utils.AIUnavailableError{Err: errors.New("connection refused")})

	svc, _, _ := newTestAIService(ai, btcGecko(65000))
	ctx := context.Background()

	answer, err := svc.Ask(ctx, "BTC", "Should I invest?")
	require.NoError(t, err)
	assert.True(t, answer.Fallback)
	assert.Equal(t, models.QuestionInvestment, answer.QuestionType)
	assert.Contains(t, answer.Answer, "$65000.00")
	assert.Contains(t, answer.Answer, "do your own research")

	// Template answers are not cached.
	_, err = svc.Ask(ctx, "BTC", "Should I invest?")
	require.NoError(t, err)
	ai.AssertNumberOfCalls(t, "Generate", 2)
}

func TestAIService_AskWithoutAIUsesTemplate(t *testing.T) {
	svc, _, _ := newTestAIService(nil, btcGecko(65000))

	answer, err := svc.Ask(context.Background(), "BTC", "Is it risky?")
	require.NoError(t, err)
	assert.True(t, answer.Fallback)
	assert.Contains(t, answer.Answer, "large swings")
}

func TestAIService_AskDegradedData(t *testing.T) {
	gecko := newStub(cg)
	gecko.searchFn = candidates(cg, candidate(cg, "bitcoin", "Bitcoin", "BTC", 1))
	gecko.marketFn = marketErr(cg, 404)
	svc, _, _ := newTestAIService(nil, gecko)

	answer, err := svc.Ask(context.Background(), "BTC", "What is the price?")
	require.NoError(t, err)
	assert.Contains(t, answer.Answer, "temporarily unavailable")
}

func TestAIService_AskDoesNotCacheAnswersOnDegradedData(t *testing.T) {
	ai := new(MockAIProvider)
	ai.On("Generate", mock.Anything, mock.Anything).Return("Bitcoin is a crypto asset.", nil)

	var down atomic.Bool
	down.Store(true)
	healthy := marketOK(cg, func(md *models.MarketData) { md.Price = models.Dec(65000) })
	gecko := newStub(cg)
	gecko.searchFn = candidates(cg, candidate(cg, "bitcoin", "Bitcoin", "BTC", 1))
	gecko.marketFn = func(ctx context.Context, identity *models.CryptoIdentity) models.ProviderResult[*models.MarketData] {
		if down.Load() {
			return marketErr(cg, 404)(ctx, identity)
		}
		return healthy(ctx, identity)
	}
	svc, _, store := newTestAIService(ai, gecko)
	ctx := context.Background()

	first, err := svc.Ask(ctx, "BTC", "What is Bitcoin?")
	require.NoError(t, err)
	require.NotNil(t, first.Market)
	assert.True(t, first.Market.Degraded)
	assert.Equal(t, 0, store.Answers.Len())

	down.Store(false)
	second, err := svc.Ask(ctx, "BTC", "What is Bitcoin?")
	require.NoError(t, err)
	assert.False(t, second.Market.Degraded)
	assert.True(t, second.Market.Price.Valid)
	ai.AssertNumberOfCalls(t, "Generate", 2)
	assert.Equal(t, 1, store.Answers.Len())
}

func TestAIService_AskValidation(t *testing.T) {
	svc, _, _ := newTestAIService(nil, btcGecko(1))
	ctx := context.Background()
	var ve *utils.ValidationError

	_, err := svc.Ask(ctx, "BTC", "  ")
	assert.ErrorAs(t, err, &ve)

	_, err = svc.Ask(ctx, "BTC", strings.Repeat("a", MaxQuestionLength+1))
	assert.ErrorAs(t, err, &ve)

	_, err = svc.Ask(ctx, "not-a-coin", "What is it?")
	assert.True(t, utils.IsNotFound(err))
}

func TestAIService_InvalidateDropsAnswers(t *testing.T) {
	ai := new(MockAIProvider)
	ai.On("Generate", mock.Anything, mock.Anything).Return("answer", nil)
	svc, market, _ := newTestAIService(ai, btcGecko(65000))
	ctx := context.Background()

	_, err := svc.Ask(ctx, "BTC", "What is Bitcoin?")
	require.NoError(t, err)
	require.NoError(t, market.InvalidateCache(ctx, "BTC"))
	_, err = svc.Ask(ctx, "BTC", "What is Bitcoin?")
	require.NoError(t, err)

	ai.AssertNumberOfCalls(t, "Generate", 2)
}

func TestAIService_SimilarFromCuratedList(t *testing.T) {
	ai := new(MockAIProvider)
	svc, _, _ := newTestAIService(ai, btcGecko(1))

	coins, err := svc.Similar(context.Background(), "bitcoin", 3)
	require.NoError(t, err)
	require.Len(t, coins, 3)
	assert.Equal(t, "LTC", coins[0].Symbol)
	assert.Equal(t, "Litecoin", coins[0].Name)
	assert.Equal(t, "Also a store of value", coins[0].Reason)
	assert.Equal(t, 0.95, coins[0].Score)
	assert.Equal(t, 0.85, coins[2].Score)
	ai.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
}

func TestAIService_SimilarAsksAIForUnlistedAsset(t *testing.T) {
	gecko := newStub(cg)
	gecko.searchFn = candidates(cg, candidate(cg, "the-open-network", "Toncoin", "TON", 10))
	ai := new(MockAIProvider)
	ai.On("Generate", mock.Anything, mock.MatchedBy(func(prompt string) bool {
		return strings.Contains(prompt, "Toncoin (TON)")
	})).Return("Here are some: SOL, NEAR, TON, AVAX.", nil)
	svc, _, _ := newTestAIService(ai, gecko)

	coins, err := svc.Similar(context.Background(), "toncoin", 0)
	require.NoError(t, err)
	require.Len(t, coins, 3)
	assert.Equal(t, []string{"SOL", "NEAR", "AVAX"}, []string{coins[0].Symbol, coins[1].Symbol, coins[2].Symbol})
	assert.Equal(t, "Solana", coins[0].Name)
}

func TestAIService_SimilarWithoutAIIsEmpty(t *testing.T) {
	gecko := newStub(cg)
	gecko.searchFn = candidates(cg, candidate(cg, "the-open-network", "Toncoin", "TON", 10))
	svc, _, _ := newTestAIService(nil, gecko)

	coins, err := svc.Similar(context.Background(), "TON", 5)
	require.NoError(t, err)
	assert.Empty(t, coins)
}

func TestOllamaClient_Generate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/generate", r.URL.Path)

		var req ollamaGenerateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "llama3.1:8b", req.Model)
		assert.False(t, req.Stream)
		assert.Equal(t, 0.7, req.Options.Temperature)
		assert.Equal(t, "hello", req.Prompt)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model":"llama3.1:8b","response":"  hi there \n","done":true}`))
	}))
	defer server.Close()

	client := NewOllamaClient(config.AIConfig{BaseURL: server.URL + "/", Model: "llama3.1:8b", Timeout: time.Second})
	text, err := client.Generate(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "hi there", text)
}

func TestOllamaClient_Failures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/tags" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"model not loaded"}`))
	}))
	defer server.Close()

	client := NewOllamaClient(config.AIConfig{BaseURL: server.URL, Model: "m"})
	_, err := client.Generate(context.Background(), "hello")
	var unavailable *utils.AIUnavailableError
	assert.ErrorAs(t, err, &unavailable)
	assert.NoError(t, client.Ping(context.Background()))

	server.Close()
	_, err = client.Generate(context.Background(), "hello")
	assert.ErrorAs(t, err, &unavailable)
}
