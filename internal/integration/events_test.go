package integration

import (
	"context"
	"strconv"
	"time"

	"github.com/IBM/sarama"
	"github.com/sakashimaa/marketplace-checkout/internal/domain"
	transportKafka "github.com/sakashimaa/marketplace-checkout/internal/transport/kafka"
	kafka2 "github.com/sakashimaa/marketplace-checkout/pkg/kafka"
	"github.com/sakashimaa/marketplace-checkout/pkg/outbox/worker"
	"go.uber.org/zap"
)

type invalidationLog struct {
	ids []string
}

func (l *invalidationLog) GetItem(_ context.Context, _ string) (*domain.CatalogEntry, error) {
	return nil, domain.ErrCatalogItemNotFound
}

func (l *invalidationLog) Invalidate(_ context.Context, id string) error {
	l.ids = append(l.ids, id)
	return nil
}

func (s *IntegrationTestSuite) TestOutbox_RelaysOrderPlacedToKafka() {
	s.seedMarketplace()
	card := s.seedCard(100, "5000")
	s.addToCart(100, 1, "a-1", 1)

	result, err := s.CheckoutService.Checkout(context.Background(), domain.CheckoutRequest{
		UserID:              100,
		PaymentInstrumentID: card,
		Delivery:            domain.DeliveryInfo{Address: "Main st 1"},
	})
	s.Require().NoError(err)

	producer, err := kafka2.NewProducer(s.KafkaBrokers, zap.NewNop())
	s.Require().NoError(err)
	defer producer.Close()

	processor := worker.NewOutboxProcessor(
		s.TxManager,
		s.OutboxRepo,
		producer,
		s.Metrics,
		worker.Config{BatchSize: 10, Interval: 50 * time.Millisecond},
		zap.NewNop(),
	)

	workerCtx, cancel := context.WithCancel(s.Ctx)
	defer cancel()
	go processor.Start(workerCtx)

	s.Require().Eventually(func() bool {
		var publishedAt *time.Time

		err := s.DbPool.QueryRow(s.Ctx, `SELECT published_at FROM outbox WHERE event_type = 'OrderPlaced'`).
			Scan(&publishedAt)
		return err == nil && publishedAt != nil
	}, 15*time.Second, 100*time.Millisecond)

	consumer, err := sarama.NewConsumer(s.KafkaBrokers, sarama.NewConfig())
	s.Require().NoError(err)
	defer consumer.Close()

	partitions, err := consumer.Partitions("order_events")
	s.Require().NoError(err)
	s.Require().NotEmpty(partitions)

	found := false
	for _, partition := range partitions {
		pc, err := consumer.ConsumePartition("order_events", partition, sarama.OffsetOldest)
		s.Require().NoError(err)

		select {
		case msg := <-pc.Messages():
			s.Equal(strconv.FormatInt(result.Orders[0].ID, 10), string(msg.Key))
			s.Contains(string(msg.Value), `"event":"OrderPlaced"`)
			found = true
		case <-time.After(5 * time.Second):
		}
		_ = pc.Close()

		if found {
			break
		}
	}
	s.True(found, "OrderPlaced was not published")
}

func (s *IntegrationTestSuite) TestConsumer_ProcessesEventOnce() {
	catalog := &invalidationLog{}
	consumer := transportKafka.NewConsumer(catalog, s.TxManager, transportKafka.Config{Topic: "product_events"}, zap.NewNop())

	msg := &sarama.ConsumerMessage{
		Topic: "product_events",
		Value: []byte(`{"event":"ProductUpdated","payload":{"catalogItemId":"a-1"},"event_id":7}`),
	}

	s.Require().NoError(consumer.ProcessMessage(s.Ctx, msg))
	s.Require().NoError(consumer.ProcessMessage(s.Ctx, msg))

	s.Equal([]string{"a-1"}, catalog.ids)
	s.Equal(1, s.count(`SELECT COUNT(*) FROM processed_events WHERE event_key = 'product_events:7'`))
}
