package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type writerStub struct {
	msgs []kafka.Message
	err  error
}

func (w *writerStub) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *writerStub) Close() error { return nil }

func TestKafkaPublisherEncodesEvent(t *testing.T) {
	stub := &writerStub{}
	p := &KafkaPublisher{writer: stub, logger: zap.NewNop()}
	score := 1.8
	at := time.Date(2024, 5, 2, 10, 0, 0, 0, time.UTC)

	require.NoError(t, p.Publish(context.Background(), Event{Type: TypeAlertRaised, OwnerID: "owner-1", ResponseID: "resp-1", Score: &score, OccurredAt: at}))
	require.Len(t, stub.msgs, 1)

	msg := stub.msgs[0]
	assert.Equal(t, []byte("owner-1"), msg.Key)
	assert.Equal(t, "type", msg.Headers[0].Key)
	assert.Equal(t, []byte("alert.raised"), msg.Headers[0].Value)

	var decoded Event
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, TypeAlertRaised, decoded.Type)
	assert.Equal(t, "resp-1", decoded.ResponseID)
	assert.InDelta(t, 1.8, *decoded.Score, 1e-9)
	assert.True(t, at.Equal(decoded.OccurredAt))
}

func TestKafkaPublisherWrapsWriterError(t *testing.T) {
	p := &KafkaPublisher{writer: &writerStub{err: errors.New("broker down")}, logger: zap.NewNop()}
	err := p.Publish(context.Background(), Event{Type: TypeResponseSubmitted, OwnerID: "owner-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "response.submitted")
}

func TestNoopPublisher(t *testing.T) {
	var p Publisher = Noop{}
	assert.NoError(t, p.Publish(context.Background(), Event{}))
	assert.NoError(t, p.Close())
}
