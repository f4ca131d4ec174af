package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mathtutor-gateway/internal/graphcache"
	"mathtutor-gateway/internal/vectorstore"
)

type ackResult struct {
	acked   bool
	nacked  bool
	requeue bool
}

type fakeAcknowledger struct {
	result ackResult
}

func (f *fakeAcknowledger) Ack(uint64, bool) error {
	f.result.acked = true
	return nil
}

func (f *fakeAcknowledger) Nack(_ uint64, _ bool, requeue bool) error {
	f.result.nacked = true
	f.result.requeue = requeue
	return nil
}

func (f *fakeAcknowledger) Reject(_ uint64, requeue bool) error {
	return f.Nack(0, false, requeue)
}

func TestCacheWriteWorkerHandle(t *testing.T) {
	body, err := json.Marshal(graphcache.Write{NodeID: "child", ParentID: "parent", QueryText: "yes"})
	require.NoError(t, err)

	tests := []struct {
		name        string
		body        []byte
		applyErr    error
		redelivered bool
		want        ackResult
	}{
		{name: "stored", body: body, want: ackResult{acked: true}},
		{name: "parent in flight", body: body, applyErr: vectorstore.ErrParentNotFound, want: ackResult{nacked: true, requeue: true}},
		{name: "parent still missing on redelivery", body: body, applyErr: vectorstore.ErrParentNotFound, redelivered: true, want: ackResult{nacked: true}},
		{name: "store down", body: body, applyErr: vectorstore.ErrUnavailable, want: ackResult{nacked: true, requeue: true}},
		{name: "duplicate", body: body, applyErr: vectorstore.ErrDuplicateNode, want: ackResult{nacked: true}},
		{name: "other failure", body: body, applyErr: errors.New("boom"), want: ackResult{nacked: true}},
		{name: "undecodable", body: []byte("{"), want: ackResult{nacked: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			applier := &recordingApplier{err: tt.applyErr}
			w := NewCacheWriteWorker(nil, applier, "cache_writes", zerolog.Nop())
			ack := &fakeAcknowledger{}

			w.handle(context.Background(), amqp.Delivery{
				Acknowledger: ack,
				DeliveryTag:  1,
				Body:         tt.body,
				Redelivered:  tt.redelivered,
			})
			assert.Equal(t, tt.want, ack.result)
		})
	}
}
