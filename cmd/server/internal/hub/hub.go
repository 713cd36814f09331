package hub

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/leosinghh/crypto-trading-simulator/cmd/server/internal/mirror"
	"github.com/leosinghh/crypto-trading-simulator/cmd/server/internal/protocol"
	"github.com/leosinghh/crypto-trading-simulator/cmd/server/internal/watchlist"
)

// streamOwner is the watch-universe owner for websocket subscriptions, so
// symbols streamed to any client are also kept fresh by the scheduler.
const streamOwner = "stream"

type ClientInterface interface {
	ID() string
	SendJSON(v interface{})
	SendBytes(b []byte)
	Close()
}

// Registrar is the slice of the watchlist manager the hub uses to keep
// streamed symbols inside the refresh universe.
type Registrar interface {
	Watch(owner string, symbols ...string) []string
	Unwatch(owner string, symbols ...string) []string
}

// Hub fans quote updates out to websocket clients. Upstream feed
// subscriptions are ref-counted per symbol: the first subscriber opens the
// channel, the last one closes it.
type Hub struct {
	subscribers map[string]map[ClientInterface]bool
	clientSubs  map[ClientInterface]map[string]bool

	feed     mirror.PriceFeed
	universe Registrar
	logger   *zap.Logger
	mu       sync.RWMutex
	refCount map[string]int
}

func NewHub(feed mirror.PriceFeed, universe Registrar, logger *zap.Logger) *Hub {
	h := &Hub{
		subscribers: make(map[string]map[ClientInterface]bool),
		clientSubs:  make(map[ClientInterface]map[string]bool),
		feed:        feed,
		universe:    universe,
		logger:      logger,
		refCount:    make(map[string]int),
	}

	go h.feed.RunPubSub(context.Background(), h.Broadcast)

	return h
}

func (h *Hub) HandleCommand(client ClientInterface, req protocol.WSRequest) {
	switch req.Action {
	case protocol.ActionSubscribe:
		h.handleSubscribe(client, req)
	case protocol.ActionUnsubscribe:
		h.handleUnsubscribe(client, req)
	case protocol.ActionUnsubscribeAll:
		h.handleUnsubscribeAll(client, req)
	default:
		h.sendError(client, req.ID, "Unknown action: "+req.Action)
	}
}

func (h *Hub) handleSubscribe(client ClientInterface, req protocol.WSRequest) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var accepted []string
	for _, s := range req.Payload.Symbols {
		sym := watchlist.Normalize(s)
		if sym == "" {
			continue
		}
		// Idempotency: ignore if already subscribed
		if h.clientSubs[client] != nil && h.clientSubs[client][sym] {
			continue
		}
		accepted = append(accepted, sym)
	}

	if len(accepted) == 0 {
		h.sendError(client, req.ID, "No valid/new symbols provided")
		return
	}

	if h.clientSubs[client] == nil {
		h.clientSubs[client] = make(map[string]bool)
	}

	for _, sym := range accepted {
		h.clientSubs[client][sym] = true
		if h.subscribers[sym] == nil {
			h.subscribers[sym] = make(map[ClientInterface]bool)
		}
		h.subscribers[sym][client] = true

		// Manage upstream subscription (ref counting). The watch
		// registration pulls the symbol into the refresh universe.
		h.refCount[sym]++
		if h.refCount[sym] == 1 {
			h.universe.Watch(streamOwner, sym)
			if err := h.feed.SubscribeToFeed(context.Background(), sym); err != nil {
				h.logger.Error("Failed to subscribe upstream", zap.String("symbol", sym), zap.Error(err))
			}
		}
	}

	h.sendAck(client, req.ID, "success", fmt.Sprintf("Subscribed to %v", accepted))

	// Send snapshots (async to avoid blocking lock)
	go func(targets []string) {
		snapshots, err := h.feed.GetSnapshots(context.Background(), targets)
		if err == nil {
			for _, snap := range snapshots {
				client.SendBytes([]byte(snap))
			}
		}
	}(accepted)
}

func (h *Hub) handleUnsubscribe(client ClientInterface, req protocol.WSRequest) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var removed []string
	if subs, ok := h.clientSubs[client]; ok {
		for _, s := range req.Payload.Symbols {
			sym := watchlist.Normalize(s)
			if subs[sym] {
				delete(subs, sym)
				delete(h.subscribers[sym], client)
				removed = append(removed, sym)
				h.decreaseRefCount(sym)
			}
		}
	}

	if len(removed) > 0 {
		h.sendAck(client, req.ID, "success", fmt.Sprintf("Unsubscribed from %v", removed))
	} else {
		h.sendError(client, req.ID, fmt.Sprintf("Not subscribed to: %v", req.Payload.Symbols))
	}
}

func (h *Hub) handleUnsubscribeAll(client ClientInterface, req protocol.WSRequest) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if subs, ok := h.clientSubs[client]; ok {
		for sym := range subs {
			delete(h.subscribers[sym], client)
			h.decreaseRefCount(sym)
		}
		// Clear the map but keep the client registered
		h.clientSubs[client] = make(map[string]bool)
	}
	h.sendAck(client, req.ID, "success", "Unsubscribed from all symbols")
}

func (h *Hub) Unregister(client ClientInterface) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if subs, ok := h.clientSubs[client]; ok {
		for sym := range subs {
			delete(h.subscribers[sym], client)
			h.decreaseRefCount(sym)
		}
		delete(h.clientSubs, client)
	}
	client.Close()
}

func (h *Hub) Broadcast(symbol string, payload string) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if clients, ok := h.subscribers[symbol]; ok {
		msgBytes := []byte(payload)
		for client := range clients {
			client.SendBytes(msgBytes)
		}
	}
}

func (h *Hub) decreaseRefCount(symbol string) {
	h.refCount[symbol]--
	if h.refCount[symbol] <= 0 {
		h.universe.Unwatch(streamOwner, symbol)
		if err := h.feed.UnsubscribeFromFeed(context.Background(), symbol); err != nil {
			h.logger.Error("Failed to unsubscribe upstream", zap.String("symbol", symbol), zap.Error(err))
		}
		delete(h.refCount, symbol)
		delete(h.subscribers, symbol)
	}
}

func (h *Hub) sendAck(c ClientInterface, id, status, msg string) {
	c.SendJSON(protocol.WSResponse{Type: "ack", ID: id, Status: status, Message: msg})
}

func (h *Hub) sendError(c ClientInterface, id, msg string) {
	c.SendJSON(protocol.WSResponse{Type: "error", ID: id, Message: msg})
}
