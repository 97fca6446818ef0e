package kafka_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-checkin/internal/broadcast"
	ckafka "ms-checkin/internal/kafka"
	"ms-checkin/internal/logger"
)

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

type fakeReader struct {
	msgs      chan kafka.Message
	mu        sync.Mutex
	committed []int64
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case m := <-r.msgs:
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (r *fakeReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

func (r *fakeReader) commits() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

func TestProducerKeysByChannel(t *testing.T) {
	w := &fakeWriter{}
	p := &ckafka.Producer{Writer: w, Logger: logger.Discard(), Topic: "checkin.events"}

	msg := broadcast.Message{
		Channel: broadcast.OccupancyChannel(12),
		EventID: 12,
		Kind:    broadcast.KindOccupancy,
		Payload: map[string]int{"inside": 4},
	}
	require.NoError(t, p.Broadcast(context.Background(), msg))

	require.Len(t, w.msgs, 1)
	assert.Equal(t, "event:12:occupancy", string(w.msgs[0].Key))
	assert.Equal(t, "occupancy", string(w.msgs[0].Headers[0].Value))

	var decoded broadcast.Message
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &decoded))
	assert.Equal(t, int64(12), decoded.EventID)
}

func TestProducerSurfacesWriteErrors(t *testing.T) {
	w := &fakeWriter{err: errors.New("leader not available")}
	p := &ckafka.Producer{Writer: w, Logger: logger.Discard(), Topic: "checkin.events"}
	assert.Error(t, p.Broadcast(context.Background(), broadcast.Message{Channel: "event:1:stats"}))
}

func TestConsumerHandlesAndCommits(t *testing.T) {
	r := &fakeReader{msgs: make(chan kafka.Message, 3)}
	r.msgs <- kafka.Message{Offset: 1, Value: []byte(`{"event_id":42}`)}
	r.msgs <- kafka.Message{Offset: 2, Value: []byte(`not json`)}
	r.msgs <- kafka.Message{Offset: 3, Value: []byte(`{"event_id":43}`)}

	c := ckafka.NewConsumerWithReader(r, "checkin.sync-requests", logger.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var seen []int64
	done := make(chan error, 1)
	go func() {
		done <- c.Start(ctx, func(ctx context.Context, req ckafka.SyncRequest) error {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, req.EventID)
			if req.EventID == 43 {
				return errors.New("sync already running")
			}
			return nil
		})
	}()

	require.Eventually(t, func() bool { return len(r.commits()) == 3 }, time.Second, 5*time.Millisecond)
	cancel()
	assert.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int64{42, 43}, seen)
	assert.Equal(t, []int64{1, 2, 3}, r.commits())
}
