package escalation_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/navigatord/internal/escalation"
	"github.com/fyrsmithlabs/navigatord/internal/session"
)

// startTestNATSServer starts an embedded NATS server for testing.
func startTestNATSServer(t *testing.T) *natsserver.Server {
	t.Helper()

	opts := &natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1,
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

func sampleTicket() escalation.Ticket {
	return escalation.BuildTicket("conv-1",
		escalation.Decision{Escalate: true, Reason: escalation.ReasonUserRequested, Priority: escalation.PriorityHigh},
		session.Turn{Role: "user", Text: "I want to talk to a person"},
		[]session.Turn{
			{Role: "user", Text: "earlier question"},
			{Role: "assistant", Text: "earlier answer"},
		}, 0)
}

func TestNATSSink_SubmitDeliversTicket(t *testing.T) {
	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	received := make(chan *nats.Msg, 1)
	sub, err := nc.ChanSubscribe("navigatord.escalations", received)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	sink, err := escalation.NewNATSSink(escalation.NATSConfig{}, nc, nil)
	require.NoError(t, err)

	require.NoError(t, sink.Submit(context.Background(), sampleTicket()))

	select {
	case msg := <-received:
		var ticket escalation.Ticket
		require.NoError(t, json.Unmarshal(msg.Data, &ticket))
		assert.Equal(t, "conv-1", ticket.ConversationID)
		assert.Equal(t, escalation.ReasonUserRequested, ticket.Reason)
		assert.Equal(t, escalation.PriorityHigh, ticket.Priority)
		assert.Equal(t, "I want to talk to a person", ticket.Triggering.Text)
		assert.Len(t, ticket.Context, 2)
	case <-time.After(5 * time.Second):
		t.Fatal("ticket not delivered")
	}
}

func TestBuildTicket_BoundedContext(t *testing.T) {
	history := make([]session.Turn, 10)
	for i := range history {
		history[i] = session.Turn{Role: "user", Text: string(rune('a' + i))}
	}

	ticket := escalation.BuildTicket("conv-2",
		escalation.Decision{Reason: escalation.ReasonRepeatedFailure, Priority: escalation.PriorityNormal},
		session.Turn{Role: "user", Text: "latest"}, history, 4)

	require.Len(t, ticket.Context, 4)
	assert.Equal(t, "g", ticket.Context[0].Text, "only the most recent turns are carried")
	assert.Equal(t, "j", ticket.Context[3].Text)
}

// flakySink fails a scripted number of times.
type flakySink struct {
	failures int
	calls    int
}

func (s *flakySink) Submit(ctx context.Context, ticket escalation.Ticket) error {
	s.calls++
	if s.calls <= s.failures {
		return errors.New("broker unreachable")
	}
	return nil
}

func TestRetrySink_RecoversFromTransientFailure(t *testing.T) {
	inner := &flakySink{failures: 2}
	sink := escalation.NewRetrySink(escalation.RetryConfig{
		MaxAttempts: 3,
		BaseBackoff: time.Millisecond,
	}, inner, nil)

	require.NoError(t, sink.Submit(context.Background(), sampleTicket()))
	assert.Equal(t, 3, inner.calls)
}

func TestRetrySink_ExhaustionSurfacesSinkUnavailable(t *testing.T) {
	inner := &flakySink{failures: 10}
	sink := escalation.NewRetrySink(escalation.RetryConfig{
		MaxAttempts: 3,
		BaseBackoff: time.Millisecond,
	}, inner, nil)

	err := sink.Submit(context.Background(), sampleTicket())
	assert.ErrorIs(t, err, escalation.ErrSinkUnavailable)
	assert.Equal(t, 3, inner.calls)
}
