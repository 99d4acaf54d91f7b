package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/jackc/pgx/v5"
	"github.com/sakashimaa/marketplace-checkout/internal/domain"
	"github.com/sakashimaa/marketplace-checkout/internal/service"
	"github.com/sakashimaa/marketplace-checkout/pkg/db"
	"github.com/sakashimaa/marketplace-checkout/pkg/kafka"
	"github.com/sakashimaa/marketplace-checkout/pkg/mylogger"
	outboxUtils "github.com/sakashimaa/marketplace-checkout/pkg/outbox/utils"
	"go.uber.org/zap"
)

type Config struct {
	Brokers []string
	GroupID string
	Topic   string
}

// Consumer invalidates cached catalog entries when the catalog publishes a change.
type Consumer struct {
	catalog   service.CatalogService
	txManager db.TxManager
	cfg       Config
	logger    *zap.Logger
}

func NewConsumer(catalog service.CatalogService, txManager db.TxManager, cfg Config, logger *zap.Logger) *Consumer {
	return &Consumer{
		catalog:   catalog,
		txManager: txManager,
		cfg:       cfg,
		logger:    logger,
	}
}

func (c *Consumer) Start(ctx context.Context) error {
	consumerGroup := kafka.NewConsumerGroup(
		c.cfg.Brokers,
		c.cfg.GroupID,
		[]string{c.cfg.Topic},
		c.ProcessMessage,
		c.logger,
	)

	return consumerGroup.Run(ctx)
}

type eventWrapper struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	EventID *int64          `json:"event_id"`
}

func (c *Consumer) ProcessMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	mylogger.Debug(
		ctx,
		c.logger,
		"Processing message",
		zap.String("topic", msg.Topic),
	)

	var wrapper eventWrapper
	if err := json.Unmarshal(msg.Value, &wrapper); err != nil {
		mylogger.Error(ctx, c.logger, "Error unmarshalling wrapper", zap.Error(err))
		return nil
	}

	switch wrapper.Event {
	case domain.EventProductUpdated, domain.EventProductDeleted:
		var event domain.CatalogChangedEvent
		if err := json.Unmarshal(wrapper.Payload, &event); err != nil || event.CatalogItemID == "" {
			mylogger.Warn(ctx, c.logger, "Error unmarshalling event structure", zap.String("event_type", wrapper.Event))
			return nil
		}

		return c.invalidate(ctx, msg.Topic, wrapper.EventID, event.CatalogItemID)
	default:
		mylogger.Debug(ctx, c.logger, "Ignored event type", zap.String("event_type", wrapper.Event))
	}

	return nil
}

func (c *Consumer) invalidate(ctx context.Context, topic string, eventID *int64, catalogItemID string) error {
	if eventID == nil {
		return c.catalog.Invalidate(ctx, catalogItemID)
	}

	key := fmt.Sprintf("%s:%d", topic, *eventID)
	return outboxUtils.ProcessOnce(ctx, c.txManager, c.logger, key, func(ctx context.Context, _ pgx.Tx) error {
		if err := c.catalog.Invalidate(ctx, catalogItemID); err != nil {
			return err
		}

		mylogger.Info(
			ctx,
			c.logger,
			"Catalog cache invalidated",
			zap.String("catalog_item_id", catalogItemID),
			zap.String("event_key", key),
		)

		return nil
	})
}
