package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/Shopify/sarama"

	"loudness-monitor/internal/loudness/application"
	loudness "loudness-monitor/internal/loudness/domain"
	"loudness-monitor/internal/observability/metrics"
)

// Config selects the submission topic.
type Config struct {
	Brokers []string
	Topic   string
	GroupID string
}

// Submitter records a submission.
type Submitter interface {
	Submit(ctx context.Context, sub application.Submission) (application.Recorded, error)
}

// Consumer feeds analyzer submissions published on Kafka into the ingest path.
type Consumer struct {
	cfg    Config
	group  sarama.ConsumerGroup
	logger *log.Logger
	h      *handler
}

// NewConsumer joins the consumer group.
func NewConsumer(cfg Config, ingest Submitter, logger *log.Logger) (*Consumer, error) {
	if ingest == nil {
		return nil, errors.New("kafka: nil submitter")
	}
	if len(cfg.Brokers) == 0 || cfg.Topic == "" || cfg.GroupID == "" {
		return nil, errors.New("kafka: brokers, topic and group id are required")
	}
	if logger == nil {
		logger = log.Default()
	}

	saramaConfig := sarama.NewConfig()
	saramaConfig.Consumer.Return.Errors = true
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetOldest
	saramaConfig.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategyRoundRobin
	saramaConfig.Consumer.MaxWaitTime = 250 * time.Millisecond

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaConfig)
	if err != nil {
		return nil, err
	}
	return &Consumer{
		cfg:    cfg,
		group:  group,
		logger: logger,
		h:      &handler{ingest: ingest, logger: logger},
	}, nil
}

// Run consumes until ctx is done. Sessions end on rebalance or on a store
// failure; the unmarked message is redelivered in the next session.
func (c *Consumer) Run(ctx context.Context) error {
	go func() {
		for err := range c.group.Errors() {
			c.logger.Printf("kafka: consumer error topic=%s err=%v", c.cfg.Topic, err)
		}
	}()
	for {
		if err := c.group.Consume(ctx, []string{c.cfg.Topic}, c.h); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) || errors.Is(err, context.Canceled) {
				return nil
			}
			c.logger.Printf("kafka: session ended topic=%s err=%v", c.cfg.Topic, err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(time.Second):
		}
	}
}

// Close leaves the group.
func (c *Consumer) Close() error {
	return c.group.Close()
}

type handler struct {
	ingest Submitter
	logger *log.Logger
}

func (h *handler) Setup(_ sarama.ConsumerGroupSession) error   { return nil }
func (h *handler) Cleanup(_ sarama.ConsumerGroupSession) error { return nil }

func (h *handler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := session.Context()
	for message := range claim.Messages() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := h.handle(ctx, message); err != nil {
			metrics.IncConsumerMessage(metrics.ResultError)
			return err
		}
		session.MarkMessage(message, "")
	}
	return nil
}

// handle returns an error only for failures worth redelivering.
func (h *handler) handle(ctx context.Context, message *sarama.ConsumerMessage) error {
	var sub application.Submission
	if err := json.Unmarshal(message.Value, &sub); err != nil {
		h.logger.Printf("kafka: dropping undecodable message partition=%d offset=%d err=%v", message.Partition, message.Offset, err)
		metrics.IncConsumerMessage(metrics.ResultInvalid)
		return nil
	}
	if _, err := h.ingest.Submit(ctx, sub); err != nil {
		var inputErr *loudness.InputError
		if errors.As(err, &inputErr) {
			h.logger.Printf("kafka: dropping invalid submission partition=%d offset=%d err=%v", message.Partition, message.Offset, err)
			metrics.IncConsumerMessage(metrics.ResultInvalid)
			return nil
		}
		return err
	}
	metrics.IncConsumerMessage(metrics.ResultSuccess)
	return nil
}
