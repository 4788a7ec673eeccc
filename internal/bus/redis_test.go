package bus

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (*Service, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	svc, err := NewService(mr.Addr(), "")
	require.NoError(t, err)

	return svc, mr
}

func TestNewService(t *testing.T) {
	svc, mr := newTestService(t)
	defer mr.Close()
	defer func() { _ = svc.Close() }()

	assert.NotNil(t, svc.Client())
	assert.NoError(t, svc.Ping(context.Background()))
}

func TestPublishSubscribe(t *testing.T) {
	svc, mr := newTestService(t)
	defer mr.Close()
	defer func() { _ = svc.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	topic := ChannelTopic("chan-1")
	received := make(chan Envelope, 1)
	var wg sync.WaitGroup
	svc.Subscribe(ctx, topic, &wg, func(e Envelope) {
		received <- e
	})
	time.Sleep(50 * time.Millisecond)

	err := svc.Publish(ctx, topic, "message.created", map[string]string{"foo": "bar"}, "sender-1")
	require.NoError(t, err)

	select {
	case env := <-received:
		assert.Equal(t, topic, env.Topic)
		assert.Equal(t, "message.created", env.Event)
		assert.Equal(t, "sender-1", env.SenderID)
		var payload map[string]string
		require.NoError(t, json.Unmarshal(env.Payload, &payload))
		assert.Equal(t, "bar", payload["foo"])
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for published message")
	}

	cancel()
	wg.Wait()
}

func TestNilServiceIsSingleInstanceSafe(t *testing.T) {
	var svc *Service
	assert.Nil(t, svc.Client())
	assert.NoError(t, svc.Publish(context.Background(), "t", "e", nil, "s"))
	assert.NoError(t, svc.Ping(context.Background()))
	assert.NoError(t, svc.Close())
}

func TestCallEventStreamAppendAndRead(t *testing.T) {
	svc, mr := newTestService(t)
	defer mr.Close()
	defer func() { _ = svc.Close() }()

	ctx := context.Background()
	channelID := "dm-channel-1"

	_, err := svc.AppendCallEvent(ctx, channelID, []byte(`{"type":"started"}`), 120*time.Second)
	require.NoError(t, err)
	_, err = svc.AppendCallEvent(ctx, channelID, []byte(`{"type":"joined"}`), 0)
	require.NoError(t, err)

	events, err := svc.ReadCallEvents(ctx, channelID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.JSONEq(t, `{"type":"started"}`, string(events[0]))
	assert.JSONEq(t, `{"type":"joined"}`, string(events[1]))
}
