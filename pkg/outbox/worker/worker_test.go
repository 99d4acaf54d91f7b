package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sakashimaa/marketplace-checkout/pkg/db"
	"github.com/sakashimaa/marketplace-checkout/pkg/metrics"
	"github.com/sakashimaa/marketplace-checkout/pkg/outbox/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type passthroughTx struct{}

func (passthroughTx) WithinTx(ctx context.Context, _ pgx.TxOptions, fn db.TxFunc) error {
	return fn(ctx, nil)
}

type memOutbox struct {
	pending   []*domain.OutboxEvent
	published []int64
	failed    map[int64]string
	fetchErr  error
}

func (r *memOutbox) SaveOutboxEvent(_ context.Context, _ pgx.Tx, event *domain.OutboxEvent) error {
	event.Id = int64(len(r.pending) + 1)
	r.pending = append(r.pending, event)
	return nil
}

func (r *memOutbox) GetUnpublishedEvents(_ context.Context, _ pgx.Tx, batchSize int) ([]*domain.OutboxEvent, error) {
	if r.fetchErr != nil {
		return nil, r.fetchErr
	}
	if len(r.pending) > batchSize {
		return r.pending[:batchSize], nil
	}
	return r.pending, nil
}

func (r *memOutbox) MarkEventPublished(_ context.Context, _ pgx.Tx, eventID int64) error {
	r.published = append(r.published, eventID)
	return nil
}

func (r *memOutbox) MarkEventFailed(_ context.Context, _ pgx.Tx, eventID int64, reason string) error {
	if r.failed == nil {
		r.failed = map[int64]string{}
	}
	r.failed[eventID] = reason
	return nil
}

type sentMessage struct {
	topic string
	key   string
	body  map[string]any
}

type recordingProducer struct {
	sent   []sentMessage
	failOn map[string]error
}

func (p *recordingProducer) ProduceMessage(_ context.Context, topic, key string, message any) error {
	if err := p.failOn[key]; err != nil {
		return err
	}
	p.sent = append(p.sent, sentMessage{topic: topic, key: key, body: message.(map[string]any)})
	return nil
}

func orderPlaced(t *testing.T, repo *memOutbox, aggregateID string) {
	t.Helper()

	event, err := domain.NewEvent("order_events", "order", aggregateID, "OrderPlaced", map[string]any{"orderId": aggregateID})
	require.NoError(t, err)
	require.NoError(t, repo.SaveOutboxEvent(context.Background(), nil, event))
}

func newProcessor(repo *memOutbox, producer *recordingProducer, batchSize int) (*OutboxProcessor, *metrics.Metrics) {
	m := metrics.New("test", prometheus.NewRegistry())
	return NewOutboxProcessor(passthroughTx{}, repo, producer, m, Config{BatchSize: batchSize}, zap.NewNop()), m
}

func TestProcessBatch_PublishesPendingEvents(t *testing.T) {
	repo := &memOutbox{}
	orderPlaced(t, repo, "11")
	orderPlaced(t, repo, "12")

	producer := &recordingProducer{}
	processor, m := newProcessor(repo, producer, 10)

	published, err := processor.ProcessBatch(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, published)
	assert.Equal(t, []int64{1, 2}, repo.published)
	require.Len(t, producer.sent, 2)

	first := producer.sent[0]
	assert.Equal(t, "order_events", first.topic)
	assert.Equal(t, "11", first.key)
	assert.Equal(t, "OrderPlaced", first.body["event"])
	assert.Equal(t, int64(1), first.body["event_id"])

	assert.Equal(t, 2.0, testutil.ToFloat64(m.OutboxPublished))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.OutboxFailed))
}

func TestProcessBatch_RespectsBatchSize(t *testing.T) {
	repo := &memOutbox{}
	for _, id := range []string{"1", "2", "3"} {
		orderPlaced(t, repo, id)
	}

	processor, _ := newProcessor(repo, &recordingProducer{}, 2)

	published, err := processor.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, published)
}

func TestProcessBatch_FailedPublishIsRecorded(t *testing.T) {
	repo := &memOutbox{}
	orderPlaced(t, repo, "11")
	orderPlaced(t, repo, "12")

	producer := &recordingProducer{failOn: map[string]error{"11": errors.New("broker unavailable")}}
	processor, m := newProcessor(repo, producer, 10)

	published, err := processor.ProcessBatch(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, published)
	assert.Equal(t, []int64{2}, repo.published)
	assert.Equal(t, "broker unavailable", repo.failed[1])
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OutboxFailed))
}

func TestProcessBatch_CorruptPayloadIsRecorded(t *testing.T) {
	repo := &memOutbox{pending: []*domain.OutboxEvent{{
		Id:          1,
		AggregateID: "11",
		Topic:       "order_events",
		Payload:     json.RawMessage(`"not an object"`),
	}}}

	producer := &recordingProducer{}
	processor, _ := newProcessor(repo, producer, 10)

	published, err := processor.ProcessBatch(context.Background())
	require.NoError(t, err)

	assert.Zero(t, published)
	assert.Empty(t, producer.sent)
	assert.Contains(t, repo.failed, int64(1))
}

func TestProcessBatch_FetchError(t *testing.T) {
	repo := &memOutbox{fetchErr: errors.New("connection reset")}
	processor, _ := newProcessor(repo, &recordingProducer{}, 10)

	_, err := processor.ProcessBatch(context.Background())
	assert.Error(t, err)
}

func TestNewOutboxProcessor_Defaults(t *testing.T) {
	processor := NewOutboxProcessor(passthroughTx{}, &memOutbox{}, &recordingProducer{}, nil, Config{}, zap.NewNop())

	assert.Equal(t, 50, processor.batchSize)
	assert.Positive(t, processor.interval)
}
