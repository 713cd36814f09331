package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/leosinghh/crypto-trading-simulator/pkg/models"
)

// TradeLog streams executed transactions to a Kafka topic so downstream
// consumers (reporting, compliance replay) get the same append-only record
// the store keeps. Keyed by account so per-account ordering survives
// partitioning.
type TradeLog struct {
	writer KafkaWriter
	logger *zap.Logger
}

func NewTradeLog(writer KafkaWriter, logger *zap.Logger) *TradeLog {
	return &TradeLog{writer: writer, logger: logger}
}

// NewTradeWriter builds the production Kafka writer for the trade topic.
func NewTradeWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},
		// Trades are low volume next to market ticks; small batches keep
		// the audit stream close to real time.
		BatchSize:    10,
		BatchTimeout: 10 * time.Millisecond,
		Async:        true,
	}
}

// PublishTrade emits one transaction. Errors are returned for the caller to
// log; the trade itself is already committed and is never rolled back.
func (t *TradeLog) PublishTrade(ctx context.Context, tx models.Transaction) error {
	payload, err := json.Marshal(tx)
	if err != nil {
		return err
	}

	err = t.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(tx.AccountID),
		Value: payload,
	})
	if err != nil {
		return err
	}

	t.logger.Debug("Trade published",
		zap.String("account", tx.AccountID), zap.String("symbol", tx.Symbol))
	return nil
}

func (t *TradeLog) Close() error {
	return t.writer.Close()
}
