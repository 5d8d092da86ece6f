package eventlog

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memWriter struct {
	mu       sync.Mutex
	events   []Event
	failures int // fail this many writes first
	attempts int
	closed   bool
	block    chan struct{}
}

func (w *memWriter) Write(_ context.Context, ev Event) error {
	if w.block != nil {
		<-w.block
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.attempts++
	if w.failures > 0 {
		w.failures--
		return errors.New("connection reset")
	}
	w.events = append(w.events, ev)
	return nil
}

func (w *memWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *memWriter) infos() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []string
	for _, ev := range w.events {
		out = append(out, ev.Info)
	}
	return out
}

func TestQueueDeliversInOrder(t *testing.T) {
	w := &memWriter{}
	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	q := NewQueue([]Writer{w}, Options{SystemID: "van-1", Now: func() time.Time { return fixed }}, zap.NewNop())

	q.Record("System armed")
	q.Record("System breached: motion")
	q.Record("System disarmed")

	require.NoError(t, q.Close(context.Background()))
	assert.Equal(t, []string{"System armed", "System breached: motion", "System disarmed"}, w.infos())
	assert.True(t, w.closed)

	ev := w.events[1]
	assert.Equal(t, "van-1", ev.SystemID)
	assert.Equal(t, TypeSecurity, ev.Type)
	assert.Equal(t, fixed, ev.At)
	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, TypeUser, w.events[0].Type)
}

func TestQueueRetriesTransientFailures(t *testing.T) {
	w := &memWriter{failures: 2}
	q := NewQueue([]Writer{w}, Options{MaxRetries: 3}, nil)

	q.Record("System armed")
	require.NoError(t, q.Close(context.Background()))

	assert.Equal(t, []string{"System armed"}, w.infos())
	assert.Equal(t, 3, w.attempts)
}

func TestQueueWritersAreIndependent(t *testing.T) {
	broken := &memWriter{failures: 100}
	ok := &memWriter{}
	q := NewQueue([]Writer{broken, ok}, Options{MaxRetries: 1}, nil)

	q.Record("System armed")
	require.NoError(t, q.Close(context.Background()))

	assert.Equal(t, []string{"System armed"}, ok.infos())
	assert.Equal(t, 1, ok.attempts)
	assert.Empty(t, broken.infos())
	assert.Equal(t, 2, broken.attempts)
}

func TestQueueDropsWhenFull(t *testing.T) {
	w := &memWriter{block: make(chan struct{})}
	q := NewQueue([]Writer{w}, Options{Size: 1}, nil)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			q.Record("event")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Record blocked on a full queue")
	}

	close(w.block)
	require.NoError(t, q.Close(context.Background()))
	assert.LessOrEqual(t, len(w.infos()), 2)
	assert.NotEmpty(t, w.infos())
}

func TestQueueRecordAfterClose(t *testing.T) {
	w := &memWriter{}
	q := NewQueue([]Writer{w}, Options{}, nil)
	require.NoError(t, q.Close(context.Background()))

	q.Record("late")
	assert.Empty(t, w.infos())
}

func TestClassify(t *testing.T) {
	assert.Equal(t, TypeSecurity, Classify("System breached: shock"))
	assert.Equal(t, TypeSecurity, Classify("Recording saved: breach_2024-01-01_00-00-00"))
	assert.Equal(t, TypeUser, Classify("System armed"))
	assert.Equal(t, TypeUser, Classify("Security breach false alarm"))
}

type fakeToken struct {
	err  error
	done chan struct{}
}

func newFakeToken(err error) *fakeToken {
	t := &fakeToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type fakeMQTT struct {
	mqtt.Client

	mu           sync.Mutex
	topics       []string
	payloads     [][]byte
	qos          []byte
	err          error
	disconnected bool
}

func (c *fakeMQTT) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.topics = append(c.topics, topic)
	c.payloads = append(c.payloads, payload.([]byte))
	c.qos = append(c.qos, qos)
	return newFakeToken(c.err)
}

func (c *fakeMQTT) Disconnect(uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected = true
}

func TestMQTTWriterPublishesJSON(t *testing.T) {
	client := &fakeMQTT{}
	w := NewMQTTWriterWithClient(client, "vehicle/security/events/van-1", 1, zap.NewNop())

	ev := Event{ID: "e1", SystemID: "van-1", Info: "System armed", Type: TypeUser, At: time.Unix(0, 0).UTC()}
	require.NoError(t, w.Write(context.Background(), ev))

	require.Len(t, client.payloads, 1)
	assert.Equal(t, "vehicle/security/events/van-1", client.topics[0])
	assert.Equal(t, byte(1), client.qos[0])

	var got Event
	require.NoError(t, json.Unmarshal(client.payloads[0], &got))
	assert.Equal(t, ev, got)

	require.NoError(t, w.Close())
	assert.True(t, client.disconnected)
}

func TestMQTTWriterPublishError(t *testing.T) {
	client := &fakeMQTT{err: errors.New("not connected")}
	w := NewMQTTWriterWithClient(client, "t", 0, zap.NewNop())

	err := w.Write(context.Background(), Event{Info: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not connected")
}
