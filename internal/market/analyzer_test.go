package market

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"

	apperrors "bagging-bot/internal/errors"
	"bagging-bot/internal/models"
)

type stubSource struct {
	ticker    *models.Ticker
	book      *models.OrderBook
	tickerErr error
	bookErr   error
	deadline  bool
}

func (s *stubSource) Ticker24h(ctx context.Context, symbol string) (*models.Ticker, error) {
	_, s.deadline = ctx.Deadline()
	if s.tickerErr != nil {
		return nil, s.tickerErr
	}
	t := *s.ticker
	return &t, nil
}

func (s *stubSource) OrderBook(ctx context.Context, symbol string, limit int) (*models.OrderBook, error) {
	if s.bookErr != nil {
		return nil, s.bookErr
	}
	return s.book, nil
}

func TestClassifySentiment(t *testing.T) {
	cfg := DefaultConfig()
	tests := []struct {
		change float64
		want   models.Sentiment
	}{
		{-5.0, models.SentimentBearish},
		{-2.0, models.SentimentBearish},
		{-1.99, models.SentimentNeutral},
		{0, models.SentimentNeutral},
		{1.99, models.SentimentNeutral},
		{2.0, models.SentimentBullish},
		{12.5, models.SentimentBullish},
	}

	for _, tt := range tests {
		if got := ClassifySentiment(tt.change, cfg); got != tt.want {
			t.Errorf("ClassifySentiment(%v) = %s, want %s", tt.change, got, tt.want)
		}
	}
}

func TestSnapshot(t *testing.T) {
	ticker := &models.Ticker{Symbol: "BSTUSDT", LastPrice: 0.0823, PriceChangePercent: -3.1, Volume: 120000}
	book := &models.OrderBook{
		Bids: []models.PriceLevel{{Price: 0.0820, Quantity: 100}},
		Asks: []models.PriceLevel{{Price: 0.0825, Quantity: 100}},
	}
	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	snap := Snapshot(ticker, book, DefaultConfig(), at)

	if snap.Sentiment != models.SentimentBearish {
		t.Errorf("expected BEARISH, got %s", snap.Sentiment)
	}
	wantSpread := (0.0825 - 0.0820) / 0.0820 * 100
	if math.Abs(snap.SpreadPercent-wantSpread) > 1e-9 {
		t.Errorf("spread = %v, want %v", snap.SpreadPercent, wantSpread)
	}
	if !snap.Timestamp.Equal(at) {
		t.Errorf("timestamp = %v, want %v", snap.Timestamp, at)
	}

	again := Snapshot(ticker, book, DefaultConfig(), at)
	if *again != *snap {
		t.Error("Snapshot should be deterministic")
	}
}

func TestSnapshot_EmptyBook(t *testing.T) {
	ticker := &models.Ticker{Symbol: "BSTUSDT", LastPrice: 1, PriceChangePercent: 0.5}
	snap := Snapshot(ticker, &models.OrderBook{}, DefaultConfig(), time.Now())
	if snap.BestBid != 0 || snap.BestAsk != 0 || snap.SpreadPercent != 0 {
		t.Errorf("empty book should yield zero bid/ask/spread, got %+v", snap)
	}
}

func TestAnalyzer_Analyze(t *testing.T) {
	src := &stubSource{
		ticker: &models.Ticker{LastPrice: 0.09, PriceChangePercent: 2.5, Volume: 10},
		book: &models.OrderBook{
			Bids: []models.PriceLevel{{Price: 0.089}},
			Asks: []models.PriceLevel{{Price: 0.091}},
		},
	}
	a := NewAnalyzer(src, DefaultConfig(), zerolog.Nop())

	snap, err := a.Analyze(context.Background(), "BSTUSDT")
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if snap.Symbol != "BSTUSDT" {
		t.Errorf("symbol = %q, want BSTUSDT", snap.Symbol)
	}
	if snap.Sentiment != models.SentimentBullish {
		t.Errorf("sentiment = %s, want BULLISH", snap.Sentiment)
	}
	if !src.deadline {
		t.Error("exchange calls should carry a deadline")
	}
}

func TestAnalyzer_Errors(t *testing.T) {
	boom := errors.New("boom")

	t.Run("ticker failure", func(t *testing.T) {
		a := NewAnalyzer(&stubSource{tickerErr: boom}, DefaultConfig(), zerolog.Nop())
		if _, err := a.Analyze(context.Background(), "X"); !errors.Is(err, boom) {
			t.Errorf("expected wrapped boom, got %v", err)
		}
	})

	t.Run("zero price", func(t *testing.T) {
		a := NewAnalyzer(&stubSource{ticker: &models.Ticker{}}, DefaultConfig(), zerolog.Nop())
		if _, err := a.Analyze(context.Background(), "X"); !errors.Is(err, apperrors.ErrMissingMarketData) {
			t.Errorf("expected ErrMissingMarketData, got %v", err)
		}
	})

	t.Run("book failure", func(t *testing.T) {
		src := &stubSource{ticker: &models.Ticker{LastPrice: 1}, bookErr: boom}
		a := NewAnalyzer(src, DefaultConfig(), zerolog.Nop())
		if _, err := a.Analyze(context.Background(), "X"); !errors.Is(err, boom) {
			t.Errorf("expected wrapped boom, got %v", err)
		}
	})
}
