package quotesim_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/leosinghh/crypto-trading-simulator/cmd/quotesim/internal/quotesim"
	"github.com/leosinghh/crypto-trading-simulator/pkg/models"
)

func setupServer(t *testing.T, failureRate float64, rnd *scriptedRand) *httptest.Server {
	t.Helper()
	clock := &fakeClock{current: time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)}
	engine := newEngine(rnd, clock)
	srv := quotesim.NewServer(engine, rnd, failureRate, zap.NewNop())

	mux := http.NewServeMux()
	srv.Register(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func TestServer_Quotes(t *testing.T) {
	ts := setupServer(t, 0, &scriptedRand{ints: []int{0}, floats: []float64{0.5}})

	resp, err := http.Get(ts.URL + "/api/quotes?symbols=aapl,%20tsla")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}

	var quotes []models.Quote
	if err := json.NewDecoder(resp.Body).Decode(&quotes); err != nil {
		t.Fatal(err)
	}
	if len(quotes) != 2 {
		t.Errorf("Expected 2 quotes for normalized symbols, got %d", len(quotes))
	}
}

func TestServer_MissingSymbolsParam(t *testing.T) {
	ts := setupServer(t, 0, &scriptedRand{ints: []int{0}, floats: []float64{0.5}})

	resp, err := http.Get(ts.URL + "/api/quotes")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 without symbols, got %d", resp.StatusCode)
	}
}

func TestServer_InjectedRateLimit(t *testing.T) {
	// failureRate 1.0 trips on every request
	ts := setupServer(t, 1.0, &scriptedRand{ints: []int{0}, floats: []float64{0.5}})

	resp, err := http.Get(ts.URL + "/api/quotes?symbols=AAPL")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("Expected 429 with failure rate 1.0, got %d", resp.StatusCode)
	}
}
