package ingest

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/invisible-tech/ips-responder/internal/types"
)

type fakeReader struct {
	mu        sync.Mutex
	msgs      []kafka.Message
	committed []int64
	fetchErr  error
	closed    bool
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.msgs) > 0 {
		m := r.msgs[0]
		r.msgs = r.msgs[1:]
		r.mu.Unlock()
		return m, nil
	}
	err := r.fetchErr
	r.mu.Unlock()
	if err != nil {
		return kafka.Message{}, err
	}
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}

func (r *fakeReader) commits() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

type fakeHandler struct {
	mu       sync.Mutex
	payloads []string
	done     chan struct{}
	want     int
}

func (h *fakeHandler) HandlePayload(_ context.Context, data []byte) (types.Outcome, error) {
	h.mu.Lock()
	h.payloads = append(h.payloads, string(data))
	if len(h.payloads) == h.want {
		close(h.done)
	}
	h.mu.Unlock()
	if string(data) == "garbage" {
		return types.Outcome{}, errors.New("malformed")
	}
	return types.Outcome{Kind: types.OutcomeNoMatchingRule}, nil
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func TestConsumer_HandlesAndCommitsEveryMessage(t *testing.T) {
	reader := &fakeReader{msgs: []kafka.Message{
		{Offset: 1, Value: []byte(`{"signature_id":1,"src_ip":"10.0.0.1"}`)},
		{Offset: 2, Value: []byte("garbage")},
		{Offset: 3, Value: []byte(`{"signature_id":3,"src_ip":"10.0.0.3"}`)},
	}}
	h := &fakeHandler{done: make(chan struct{}), want: 3}
	c := NewConsumerWithReader(reader, "ids.alerts", h, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(ctx) }()

	<-h.done
	require.Eventually(t, func() bool { return len(reader.commits()) == 3 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-errCh)

	assert.Equal(t, []int64{1, 2, 3}, reader.commits(), "invalid messages are committed too")
	assert.Equal(t, "garbage", h.payloads[1])
}

func TestConsumer_ReturnsReaderError(t *testing.T) {
	reader := &fakeReader{fetchErr: errors.New("broker gone")}
	c := NewConsumerWithReader(reader, "ids.alerts", &fakeHandler{done: make(chan struct{}), want: -1}, quietLogger())

	err := c.Run(context.Background())
	assert.ErrorContains(t, err, "broker gone")
}

func TestConsumer_Close(t *testing.T) {
	reader := &fakeReader{}
	c := NewConsumerWithReader(reader, "ids.alerts", &fakeHandler{done: make(chan struct{})}, quietLogger())
	require.NoError(t, c.Close())
	assert.True(t, reader.closed)
}

func TestNewConsumer_Validation(t *testing.T) {
	h := &fakeHandler{done: make(chan struct{})}
	_, err := NewConsumer(nil, "t", "g", h, quietLogger())
	assert.Error(t, err)
	_, err = NewConsumer([]string{"localhost:9092"}, "", "g", h, quietLogger())
	assert.Error(t, err)
	_, err = NewConsumer([]string{"localhost:9092"}, "t", "", h, quietLogger())
	assert.Error(t, err)
}
