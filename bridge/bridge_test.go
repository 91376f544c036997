package bridge

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"hard-bridge/metrics"
	"hard-bridge/pattern"
)

// loopMedium records published messages and lets tests inject inbound ones.
type loopMedium struct {
	mu        sync.Mutex
	published []Message
	handlers  map[int]func(Message)
	next      int
	failWith  error
}

func newLoopMedium() *loopMedium {
	return &loopMedium{handlers: make(map[int]func(Message))}
}

func (m *loopMedium) Publish(_ context.Context, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	m.published = append(m.published, msg)
	return nil
}

func (m *loopMedium) Subscribe(fn func(Message)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	id := m.next
	m.handlers[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.handlers, id)
	}
}

func (m *loopMedium) inject(msg Message) {
	m.mu.Lock()
	handlers := make([]func(Message), 0, len(m.handlers))
	for _, h := range m.handlers {
		handlers = append(handlers, h)
	}
	m.mu.Unlock()
	for _, h := range handlers {
		h(msg)
	}
}

func (m *loopMedium) sent() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.published...)
}

func newTestBridge(t *testing.T, version int) (*Bridge, *loopMedium, *clockwork.FakeClock) {
	t.Helper()
	m := newLoopMedium()
	clock := clockwork.NewFakeClock()
	b, err := New(&Config{
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Clock:   clock,
		Medium:  m,
		Version: version,
	})
	require.NoError(t, err)
	t.Cleanup(b.Close)
	return b, m, clock
}

func settled(t *testing.T, p *Pending) (*Event, error) {
	t.Helper()
	select {
	case <-p.Done():
		return p.Result()
	case <-time.After(2 * time.Second):
		t.Fatalf("pending %s did not settle", p.Kind())
		return nil, nil
	}
}

func requireUnsettled(t *testing.T, p *Pending) {
	t.Helper()
	select {
	case <-p.Done():
		t.Fatalf("pending %s settled unexpectedly", p.Kind())
	default:
	}
}

func TestBridge_Config_Validate(t *testing.T) {
	t.Parallel()

	_, err := New(&Config{Medium: newLoopMedium()})
	require.ErrorContains(t, err, "logger is required")
	_, err = New(&Config{Logger: slog.Default()})
	require.ErrorContains(t, err, "medium is required")
	_, err = New(&Config{Logger: slog.Default(), Medium: newLoopMedium(), Timeout: -time.Second})
	require.ErrorContains(t, err, "timeout must be > 0")

	cfg := &Config{Logger: slog.Default(), Medium: newLoopMedium()}
	require.NoError(t, cfg.Validate())
	require.Equal(t, DefaultTimeout, cfg.Timeout)
	require.NotNil(t, cfg.Clock)
}

func TestBridge_Send_EncodesEnvelope(t *testing.T) {
	t.Parallel()

	b, m, _ := newTestBridge(t, 7)
	require.NoError(t, b.Send(context.Background(), "QueryMesh", "m1", nil))
	require.NoError(t, b.Send(context.Background(), "ListMeshes", nil, []byte{1}))

	sent := m.sent()
	require.Len(t, sent, 2)
	require.Equal(t, Message{Kind: "QueryMesh", Version: 7, Text: `"m1"`}, sent[0])
	require.Equal(t, Message{Kind: "ListMeshes", Version: 7, Binary: []byte{1}}, sent[1])
	require.Equal(t, 7, b.Version())
}

func TestBridge_Send_PublishFailure(t *testing.T) {
	t.Parallel()

	b, m, _ := newTestBridge(t, 0)
	m.failWith = errors.New("boom")
	require.ErrorContains(t, b.Send(context.Background(), "CheckPulse", nil, nil), "boom")

	_, err := b.Request(context.Background(), "CheckPulse", nil, nil)
	require.Error(t, err)
	require.Zero(t, b.PendingCount())
}

func TestBridge_Receive_ResolvesFirstMatchingEvent(t *testing.T) {
	t.Parallel()

	b, m, _ := newTestBridge(t, 0)
	p := b.Receive("Mesh", pattern.Nested{"id": pattern.Eq("m1")})

	m.inject(Message{Kind: "Mesh", Text: `{"id":"m2"}`})
	requireUnsettled(t, p)
	m.inject(Message{Kind: "Pipeline", Text: `{"id":"m1"}`})
	requireUnsettled(t, p)
	m.inject(Message{Kind: "Mesh", Text: `{"id":"m1","vertex_layout":{}}`, Binary: []byte{4}})

	ev, err := settled(t, p)
	require.NoError(t, err)
	require.Equal(t, "Mesh", ev.Kind)
	require.Equal(t, []byte{4}, ev.Binary)
	require.NotEmpty(t, ev.ID)

	var decoded struct {
		ID string `json:"id"`
	}
	require.NoError(t, ev.Decode(&decoded))
	require.Equal(t, "m1", decoded.ID)
	require.Zero(t, b.PendingCount())
}

func TestBridge_Receive_FanOutResolvesEveryMatchingEntryOnce(t *testing.T) {
	t.Parallel()

	b, m, _ := newTestBridge(t, 0)
	p1 := b.Receive("ListMeshes", nil)
	p2 := b.Receive("ListMeshes", pattern.Wildcard)
	p3 := b.Receive("ListImages", nil)

	m.inject(Message{Kind: "ListMeshes", Text: `["m1","m2"]`})
	ev1, err := settled(t, p1)
	require.NoError(t, err)
	ev2, err := settled(t, p2)
	require.NoError(t, err)
	require.Same(t, ev1, ev2)
	require.Equal(t, []any{"m1", "m2"}, ev1.Value())
	requireUnsettled(t, p3)
	require.Equal(t, 1, b.PendingCount())

	m.inject(Message{Kind: "ListMeshes", Text: `["m3"]`})
	ev, _ := p1.Result()
	require.Same(t, ev1, ev)
}

func TestBridge_Receive_IgnoresMessagesBeforeRegistration(t *testing.T) {
	t.Parallel()

	b, m, _ := newTestBridge(t, 0)
	m.inject(Message{Kind: "CheckPulse"})
	p := b.Receive("CheckPulse", nil)
	requireUnsettled(t, p)

	m.inject(Message{Kind: "CheckPulse"})
	ev, err := settled(t, p)
	require.NoError(t, err)
	require.ErrorIs(t, ev.Decode(&struct{}{}), ErrNoPayload)
	require.Nil(t, ev.Value())
}

func TestBridge_Receive_DropsForeignVersion(t *testing.T) {
	t.Parallel()

	b, m, _ := newTestBridge(t, 0)
	p := b.Receive("ListMeshes", nil)
	m.inject(Message{Kind: "ListMeshes", Version: 1, Text: `["x"]`})
	requireUnsettled(t, p)

	m.inject(Message{Kind: "ListMeshes", Version: 0, Text: `["m1","m2"]`})
	ev, err := settled(t, p)
	require.NoError(t, err)
	require.Equal(t, []any{"m1", "m2"}, ev.Value())
}

func TestBridge_Receive_TimeoutRejects(t *testing.T) {
	t.Parallel()

	b, m, clock := newTestBridge(t, 0)
	p := b.Receive("QueryPipeline", nil)
	require.Equal(t, clock.Now().Add(DefaultTimeout), p.Deadline())

	clock.Advance(DefaultTimeout - time.Millisecond)
	requireUnsettled(t, p)
	clock.Advance(time.Millisecond)

	_, err := settled(t, p)
	require.ErrorIs(t, err, ErrTimeout)
	require.ErrorContains(t, err, "QueryPipeline")
	require.Zero(t, b.PendingCount())

	// A late response no longer resolves the expired entry.
	m.inject(Message{Kind: "QueryPipeline"})
	_, err = p.Result()
	require.ErrorIs(t, err, ErrTimeout)
}

func TestBridge_Receive_CancelUnregisters(t *testing.T) {
	t.Parallel()

	b, m, clock := newTestBridge(t, 0)
	p := b.Receive("Image", nil)
	require.Equal(t, 1, b.PendingCount())
	p.Cancel()
	p.Cancel()
	require.Zero(t, b.PendingCount())

	_, err := settled(t, p)
	require.ErrorIs(t, err, ErrCanceled)

	m.inject(Message{Kind: "Image"})
	clock.Advance(DefaultTimeout)
	_, err = p.Result()
	require.ErrorIs(t, err, ErrCanceled)
}

func TestBridge_Pending_WaitCancelsOnContext(t *testing.T) {
	t.Parallel()

	b, _, _ := newTestBridge(t, 0)
	p := b.Receive("Image", nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Wait(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, b.PendingCount())
}

func TestBridge_Provide_DispatchesSynchronously(t *testing.T) {
	t.Parallel()

	b, m, _ := newTestBridge(t, 0)
	p := b.Receive("Stages", nil)
	require.NoError(t, b.Provide("Stages", []map[string]any{{"type": "ClearStage"}}, []byte{1, 2}))

	select {
	case <-p.Done():
	default:
		t.Fatal("provide did not resolve synchronously")
	}
	ev, err := p.Result()
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2}, ev.Binary)
	require.Empty(t, m.sent())
}

func TestBridge_Subscribe_RunsBeforeReceivers(t *testing.T) {
	t.Parallel()

	b, m, _ := newTestBridge(t, 0)
	p := b.Receive("TakeSnapshot", nil)

	var seenPendingSettled []bool
	unsubscribe := b.Subscribe("TakeSnapshot", func(ev *Event) {
		select {
		case <-p.Done():
			seenPendingSettled = append(seenPendingSettled, true)
		default:
			seenPendingSettled = append(seenPendingSettled, false)
		}
	})

	m.inject(Message{Kind: "TakeSnapshot", Text: `{}`})
	_, err := settled(t, p)
	require.NoError(t, err)
	require.Equal(t, []bool{false}, seenPendingSettled)

	unsubscribe()
	m.inject(Message{Kind: "TakeSnapshot", Text: `{}`})
	require.Len(t, seenPendingSettled, 1)
}

func TestBridge_Close_RejectsOutstanding(t *testing.T) {
	t.Parallel()

	b, m, _ := newTestBridge(t, 0)
	p := b.Receive("Mesh", nil)
	b.Close()

	_, err := settled(t, p)
	require.ErrorIs(t, err, ErrClosed)

	late := b.Receive("Mesh", nil)
	_, err = settled(t, late)
	require.ErrorIs(t, err, ErrClosed)

	m.mu.Lock()
	require.Empty(t, m.handlers)
	m.mu.Unlock()
}

func TestBridge_Event_UndecodablePayloadOnlyMatchesWildcard(t *testing.T) {
	t.Parallel()

	b, m, _ := newTestBridge(t, 0)
	strict := b.Receive("Mesh", pattern.Nested{"id": pattern.Wildcard})
	loose := b.Receive("Mesh", pattern.Wildcard)

	m.inject(Message{Kind: "Mesh", Text: `{not json`})
	_, err := settled(t, loose)
	require.NoError(t, err)
	requireUnsettled(t, strict)
}

func TestBridge_Subscribe_AllKinds(t *testing.T) {
	t.Parallel()

	b, m, _ := newTestBridge(t, 0)
	var kinds []string
	b.Subscribe(AllKinds, func(ev *Event) { kinds = append(kinds, ev.Kind) })
	var meshes int
	b.Subscribe("ListMeshes", func(*Event) { meshes++ })

	m.inject(Message{Kind: "ListMeshes"})
	m.inject(Message{Kind: "Whatever"})
	require.NoError(t, b.Provide("SnapshotChanged", nil, nil))

	require.Equal(t, []string{"ListMeshes", "Whatever", "SnapshotChanged"}, kinds)
	require.Equal(t, 1, meshes)
}

func TestBridge_Metrics_ForeignKindsShareOneLabel(t *testing.T) {
	t.Parallel()

	_, m, _ := newTestBridge(t, 0)
	m.inject(Message{Kind: "RandomKind-7f3a", Version: 0})

	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(metrics.MessagesReceived))
	families, err := reg.Gather()
	require.NoError(t, err)

	var unknown float64
	for _, family := range families {
		for _, metric := range family.GetMetric() {
			for _, label := range metric.GetLabel() {
				require.NotEqual(t, "RandomKind-7f3a", label.GetValue())
				if label.GetName() == "kind" && label.GetValue() == "unknown" {
					unknown = metric.GetCounter().GetValue()
				}
			}
		}
	}
	require.GreaterOrEqual(t, unknown, float64(1))
}
