package integration

import (
	"time"

	"github.com/IBM/sarama"
	"github.com/redis/go-redis/v9"
	"github.com/sakashimaa/marketplace-checkout/internal/repository"
	"github.com/sakashimaa/marketplace-checkout/internal/service"
	transportKafka "github.com/sakashimaa/marketplace-checkout/internal/transport/kafka"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func (s *IntegrationTestSuite) TestCatalogCache_InvalidatedByProductEvent() {
	s.seedMarketplace()

	client := redis.NewClient(&redis.Options{Addr: s.RedisAddr})
	defer client.Close()
	s.Require().NoError(client.FlushDB(s.Ctx).Err())

	logger := zap.NewNop()
	cached := service.NewCachedCatalogService(
		service.NewCatalogService(repository.NewCatalogRepository(s.DbPool, logger), logger),
		client,
		time.Minute,
		s.Metrics,
		logger,
	)

	entry, err := cached.GetItem(s.Ctx, "a-1")
	s.Require().NoError(err)
	s.True(decimal.NewFromInt(500).Equal(entry.Price))

	_, err = s.DbPool.Exec(s.Ctx, `UPDATE catalog_items SET price = 650 WHERE article = 'a-1'`)
	s.Require().NoError(err)

	stale, err := cached.GetItem(s.Ctx, "a-1")
	s.Require().NoError(err)
	s.True(decimal.NewFromInt(500).Equal(stale.Price))

	consumer := transportKafka.NewConsumer(cached, s.TxManager, transportKafka.Config{Topic: "product_events"}, logger)
	err = consumer.ProcessMessage(s.Ctx, &sarama.ConsumerMessage{
		Topic: "product_events",
		Value: []byte(`{"event":"ProductUpdated","payload":{"catalogItemId":"a-1"},"event_id":1}`),
	})
	s.Require().NoError(err)

	exists, err := client.Exists(s.Ctx, "catalog:a-1").Result()
	s.Require().NoError(err)
	s.Zero(exists)

	fresh, err := cached.GetItem(s.Ctx, "a-1")
	s.Require().NoError(err)
	s.True(decimal.NewFromInt(650).Equal(fresh.Price))
}
