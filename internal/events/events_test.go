package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startTestNATSServer(t *testing.T) *natsserver.Server {
	opts := &natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1, // Random port
		NoLog:  true,
		NoSigs: true,
	}

	server, err := natsserver.NewServer(opts)
	require.NoError(t, err)

	go server.Start()

	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}

	t.Cleanup(func() {
		server.Shutdown()
		server.WaitForShutdown()
	})

	return server
}

func TestNATSPublisher(t *testing.T) {
	server := startTestNATSServer(t)

	sub, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer sub.Close()

	msgs := make(chan *nats.Msg, 4)
	_, err = sub.ChanSubscribe("cora.>", msgs)
	require.NoError(t, err)
	require.NoError(t, sub.Flush())

	pub, err := NewNATSPublisher(server.ClientURL(), "cora")
	require.NoError(t, err)
	defer pub.Close()

	pub.Publish(context.Background(), UserRegistered, map[string]string{"user_id": "u1"})
	require.NoError(t, pub.Flush(time.Second))

	select {
	case msg := <-msgs:
		assert.Equal(t, "cora.user.registered", msg.Subject)

		var env struct {
			Type       string            `json:"type"`
			OccurredAt int64             `json:"occurred_at"`
			Data       map[string]string `json:"data"`
		}
		require.NoError(t, json.Unmarshal(msg.Data, &env))
		assert.Equal(t, UserRegistered, env.Type)
		assert.Equal(t, "u1", env.Data["user_id"])
		assert.NotZero(t, env.OccurredAt)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestSubjectWithoutPrefix(t *testing.T) {
	p := &NATSPublisher{}
	assert.Equal(t, "expense.created", p.Subject(ExpenseCreated))
}

func TestPublishUnencodablePayloadDoesNotPanic(t *testing.T) {
	server := startTestNATSServer(t)
	pub, err := NewNATSPublisher(server.ClientURL(), "cora")
	require.NoError(t, err)
	defer pub.Close()

	pub.Publish(context.Background(), "bad", make(chan int))
}

func TestRecorderAndNoop(t *testing.T) {
	var p Publisher = &Recorder{}
	p.Publish(context.Background(), ExpenseCreated, nil)
	p.Publish(context.Background(), FeedbackSubmitted, nil)
	assert.Equal(t, []string{ExpenseCreated, FeedbackSubmitted}, p.(*Recorder).Types())

	Noop{}.Publish(context.Background(), ExpenseCreated, nil)
	Noop{}.Close()
}
