package intake

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"

	"github.com/ducminhle1904/crypto-signal-bot/internal/logger"
)

type KafkaConfig struct {
	Enabled       bool     `json:"enabled" toml:"enabled"`
	Brokers       []string `json:"brokers" toml:"brokers"`
	GroupID       string   `json:"group_id" toml:"group_id"`
	Topic         string   `json:"topic" toml:"topic"`
	InitialOffset string   `json:"initial_offset" toml:"initial_offset"` // newest or oldest
}

func DefaultKafkaConfig() KafkaConfig {
	return KafkaConfig{
		Brokers:       []string{"localhost:9092"},
		GroupID:       "crypto-signal-bot",
		Topic:         "trading.signals",
		InitialOffset: "newest",
	}
}

func (c KafkaConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if len(c.Brokers) == 0 {
		return fmt.Errorf("kafka brokers are required")
	}
	if c.GroupID == "" || c.Topic == "" {
		return fmt.Errorf("kafka group_id and topic are required")
	}
	switch c.InitialOffset {
	case "", "newest", "oldest":
	default:
		return fmt.Errorf("kafka initial_offset must be newest or oldest, got %q", c.InitialOffset)
	}
	return nil
}

// Consumer wraps a sarama consumer group reading the signal topic
type Consumer struct {
	client  sarama.ConsumerGroup
	topic   string
	handler Handler
	log     zerolog.Logger
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	ready     chan struct{}
	readyOnce sync.Once
}

func NewConsumer(cfg KafkaConfig, h Handler) (*Consumer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	config.Consumer.Offsets.Initial = sarama.OffsetNewest
	if cfg.InitialOffset == "oldest" {
		config.Consumer.Offsets.Initial = sarama.OffsetOldest
	}
	config.Version = sarama.V2_8_0_0

	client, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, config)
	if err != nil {
		return nil, err
	}
	return newConsumer(client, cfg.Topic, h), nil
}

func newConsumer(client sarama.ConsumerGroup, topic string, h Handler) *Consumer {
	return &Consumer{
		client:  client,
		topic:   topic,
		handler: h,
		log:     logger.Component("intake"),
		ready:   make(chan struct{}),
	}
}

// Start consumes in the background and returns once the first session is set up
func (c *Consumer) Start(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			handler := &groupHandler{consumer: c}
			if err := c.client.Consume(ctx, []string{c.topic}, handler); err != nil {
				c.log.Error().Err(err).Str("topic", c.topic).Msg("kafka consume failed")
				select {
				case <-ctx.Done():
				case <-time.After(time.Second):
				}
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	select {
	case <-c.ready:
		c.log.Info().Str("topic", c.topic).Msg("kafka consumer ready")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops consuming and closes the group client
func (c *Consumer) Close() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	return c.client.Close()
}

// handle decodes one message. Malformed messages are logged and skipped so
// they never block the partition.
func (c *Consumer) handle(ctx context.Context, msg *sarama.ConsumerMessage) {
	req, err := Decode(msg.Value, msg.Timestamp)
	if err != nil {
		c.log.Warn().Err(err).Int32("partition", msg.Partition).Int64("offset", msg.Offset).
			Msg("skipping malformed signal")
		return
	}
	if req.ReceivedAt.IsZero() {
		req.ReceivedAt = time.Now()
	}
	if err := c.handler(ctx, req); err != nil {
		c.log.Warn().Err(err).Str("symbol", req.Symbol).Int64("offset", msg.Offset).Msg("signal handler failed")
	}
}

type groupHandler struct {
	consumer *Consumer
}

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error {
	h.consumer.readyOnce.Do(func() { close(h.consumer.ready) })
	return nil
}

func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			h.consumer.handle(session.Context(), msg)
			session.MarkMessage(msg, "")
		case <-session.Context().Done():
			return nil
		}
	}
}
