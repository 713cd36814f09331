package quotesim

import (
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// Server answers the quote API the scheduler's source adapter polls.
// FailureRate injects 429s so backoff paths can be exercised end to end.
type Server struct {
	engine      *Engine
	rand        Rand
	failureRate float64
	logger      *zap.Logger
}

func NewServer(engine *Engine, rnd Rand, failureRate float64, logger *zap.Logger) *Server {
	return &Server{engine: engine, rand: rnd, failureRate: failureRate, logger: logger}
}

// Register wires the quote route onto the mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/quotes", s.quotes)
}

func (s *Server) quotes(w http.ResponseWriter, r *http.Request) {
	if s.failureRate > 0 && s.rand.Float64() < s.failureRate {
		s.logger.Debug("Injecting rate-limit response")
		http.Error(w, "simulated rate limit", http.StatusTooManyRequests)
		return
	}

	raw := r.URL.Query().Get("symbols")
	if raw == "" {
		http.Error(w, "symbols query parameter required", http.StatusBadRequest)
		return
	}

	symbols := strings.Split(raw, ",")
	for i := range symbols {
		symbols[i] = strings.ToUpper(strings.TrimSpace(symbols[i]))
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.engine.Quotes(symbols))
}
