package testutils

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/leosinghh/crypto-trading-simulator/cmd/server/internal/audit"
	"github.com/leosinghh/crypto-trading-simulator/cmd/server/internal/protocol"
	"github.com/leosinghh/crypto-trading-simulator/pkg/models"
)

// FakeClock is a hand-cranked clock for deterministic tests.
type FakeClock struct {
	Mu      sync.Mutex
	Current time.Time
	Slept   []time.Duration
}

func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{Current: start}
}

func (c *FakeClock) Now() time.Time {
	c.Mu.Lock()
	defer c.Mu.Unlock()
	return c.Current
}

func (c *FakeClock) Sleep(d time.Duration) {
	c.Mu.Lock()
	defer c.Mu.Unlock()
	c.Slept = append(c.Slept, d)
	c.Current = c.Current.Add(d)
}

func (c *FakeClock) Advance(d time.Duration) {
	c.Mu.Lock()
	defer c.Mu.Unlock()
	c.Current = c.Current.Add(d)
}

// MockClient simulates a connected websocket client
type MockClient struct {
	IDVal    string
	Messages []protocol.WSResponse // Stores decoded JSON messages
	RawBytes []string              // Stores raw bytes
	Closed   bool
	Mu       sync.Mutex
}

func NewMockClient(id string) *MockClient {
	return &MockClient{IDVal: id, Messages: make([]protocol.WSResponse, 0)}
}

func (m *MockClient) ID() string { return m.IDVal }

func (m *MockClient) Close() {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Closed = true
}

func (m *MockClient) SendJSON(v interface{}) {
	m.Mu.Lock()
	defer m.Mu.Unlock()

	if resp, ok := v.(protocol.WSResponse); ok {
		m.Messages = append(m.Messages, resp)
	}
}

func (m *MockClient) SendBytes(b []byte) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.RawBytes = append(m.RawBytes, string(b))
}

func (m *MockClient) LastMsgType() string {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if len(m.Messages) == 0 {
		return ""
	}
	return m.Messages[len(m.Messages)-1].Type
}

// MockPriceFeed simulates the Redis mirror
type MockPriceFeed struct {
	SubscribedChannels map[string]int // symbol -> count
	Published          []models.Quote
	Mu                 sync.Mutex
}

func NewMockFeed() *MockPriceFeed {
	return &MockPriceFeed{SubscribedChannels: make(map[string]int)}
}

func (m *MockPriceFeed) PublishQuote(ctx context.Context, q models.Quote) error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Published = append(m.Published, q)
	return nil
}

func (m *MockPriceFeed) GetSnapshots(ctx context.Context, symbols []string) ([]string, error) {
	return []string{`{"symbol":"AAPL","price":"150"}`}, nil
}

func (m *MockPriceFeed) SubscribeToFeed(ctx context.Context, symbol string) error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.SubscribedChannels[symbol]++
	return nil
}

func (m *MockPriceFeed) UnsubscribeFromFeed(ctx context.Context, symbol string) error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.SubscribedChannels[symbol]--
	if m.SubscribedChannels[symbol] <= 0 {
		delete(m.SubscribedChannels, symbol)
	}
	return nil
}

func (m *MockPriceFeed) RunPubSub(ctx context.Context, onMessage func(symbol string, payload string)) {
	// No-op for unit tests
}

func (m *MockPriceFeed) Close() error { return nil }

// MockQuoteSource scripts fetch results per symbol
type MockQuoteSource struct {
	Mu      sync.Mutex
	Quotes  map[string]models.Quote
	Err     error
	Fetches [][]string // recorded batches, in call order
}

func NewMockSource() *MockQuoteSource {
	return &MockQuoteSource{Quotes: make(map[string]models.Quote)}
}

func (m *MockQuoteSource) Fetch(ctx context.Context, symbols []string) (map[string]models.Quote, error) {
	m.Mu.Lock()
	defer m.Mu.Unlock()

	batch := make([]string, len(symbols))
	copy(batch, symbols)
	m.Fetches = append(m.Fetches, batch)

	if m.Err != nil {
		return nil, m.Err
	}
	out := make(map[string]models.Quote)
	for _, sym := range symbols {
		if q, ok := m.Quotes[sym]; ok {
			out[sym] = q
		}
	}
	return out, nil
}

// StaticUniverse is a fixed watch universe
type StaticUniverse struct {
	Symbols []string
}

func (s *StaticUniverse) Universe() []string { return s.Symbols }

// StaticHoldings is a fixed held-symbol set
type StaticHoldings struct {
	Symbols []string
}

func (s *StaticHoldings) HeldSymbols(ctx context.Context) ([]string, error) {
	return s.Symbols, nil
}

type MockKafkaWriter struct {
	Messages   []kafka.Message
	Mu         sync.Mutex
	ShouldFail bool
}

func (m *MockKafkaWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if m.ShouldFail {
		return errors.New("kafka error")
	}
	m.Messages = append(m.Messages, msgs...)
	return nil
}

func (m *MockKafkaWriter) Close() error { return nil }

type MockKafkaConn struct {
	CreatedTopics []string
}

func (m *MockKafkaConn) Controller() (kafka.Broker, error) {
	return kafka.Broker{Host: "localhost", Port: 9092}, nil
}
func (m *MockKafkaConn) Close() error { return nil }
func (m *MockKafkaConn) CreateTopics(topics ...kafka.TopicConfig) error {
	for _, t := range topics {
		m.CreatedTopics = append(m.CreatedTopics, t.Topic)
	}
	return nil
}
func (m *MockKafkaConn) ReadPartitions(topics ...string) ([]kafka.Partition, error) {
	// Simulate "Ready" state immediately
	return []kafka.Partition{{ID: 0}}, nil
}

type MockKafkaDialer struct {
	ConnSpy *MockKafkaConn
}

func (m *MockKafkaDialer) DialContext(ctx context.Context, network, address string) (audit.KafkaConn, error) {
	if m.ConnSpy == nil {
		m.ConnSpy = &MockKafkaConn{}
	}
	return m.ConnSpy, nil
}
