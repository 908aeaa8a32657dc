package controller_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafaeljc/beacon/internal/cache"
	"github.com/rafaeljc/beacon/internal/controller"
	"github.com/rafaeljc/beacon/internal/scheduler"
	"github.com/rafaeljc/beacon/internal/store"
	"github.com/rafaeljc/beacon/internal/testsupport"
	"github.com/rafaeljc/beacon/internal/trigger"
)

var epoch = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

// recorder is a Presenter collecting presented message ids.
type recorder struct {
	mu  sync.Mutex
	ids []string
}

func (r *recorder) Present(_ context.Context, m *trigger.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, m.ID)
}

func (r *recorder) presented() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ids...)
}

type harness struct {
	ctrl   *controller.Controller
	clock  *testsupport.FakeClock
	values *store.Values
	shown  *recorder
	stop   func()
}

func start(t *testing.T, opts controller.Options) *harness {
	t.Helper()

	h := &harness{
		clock:  testsupport.NewFakeClock(epoch),
		values: opts.Values,
		shown:  &recorder{},
	}
	if h.values == nil {
		h.values = store.New()
	}

	opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	opts.Clock = h.clock
	opts.Values = h.values
	opts.Presenter = h.shown
	h.ctrl = controller.New(opts)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.ctrl.Run(ctx) }()

	var once sync.Once
	h.stop = func() {
		once.Do(func() {
			cancel()
			require.NoError(t, <-done)
		})
	}
	t.Cleanup(h.stop)
	return h
}

func message(t *testing.T, id string, groups ...[]map[string]any) *trigger.Message {
	t.Helper()

	raw, err := json.Marshal(map[string]any{
		"id":               id,
		"content_id":       "content-" + id,
		"max_display_time": 15,
		"triggers":         groups,
	})
	require.NoError(t, err)

	m, err := trigger.CompileMessage(raw)
	require.NoError(t, err)
	return m
}

func cond(id, property, op string, value any) map[string]any {
	c := map[string]any{"id": id, "property": property, "operator": op}
	if value != nil {
		c["value"] = value
	}
	return c
}

func TestController_StaticTriggerPresentsOnce(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := start(t, controller.Options{})

	msg := message(t, "level-up", []map[string]any{cond("t1", "level", ">=", 10)})
	require.NoError(t, h.ctrl.SetMessages(ctx, []*trigger.Message{msg}))
	assert.Empty(t, h.shown.presented())

	require.NoError(t, h.ctrl.AddTrigger(ctx, "level", 12))
	assert.Equal(t, []string{"level-up"}, h.shown.presented())

	active, err := h.ctrl.ActiveMessages(ctx)
	require.NoError(t, err)
	assert.Empty(t, active, "a presented message leaves the active set")

	require.NoError(t, h.ctrl.AddTrigger(ctx, "level", 13))
	require.NoError(t, h.ctrl.SetMessages(ctx, []*trigger.Message{msg}))
	assert.Equal(t, []string{"level-up"}, h.shown.presented(), "presented at most once per session")
}

func TestController_NoTriggersPresentsImmediately(t *testing.T) {
	t.Parallel()

	h := start(t, controller.Options{})

	require.NoError(t, h.ctrl.SetMessages(context.Background(), []*trigger.Message{{ID: "always", ContentID: "c"}}))
	assert.Equal(t, []string{"always"}, h.shown.presented())
}

func TestController_SessionDurationFiresAfterTimer(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := start(t, controller.Options{})

	msg := message(t, "welcome", []map[string]any{cond("t1", scheduler.PropertySessionDuration, ">=", 3)})
	require.NoError(t, h.ctrl.SetMessages(ctx, []*trigger.Message{msg}))

	assert.Empty(t, h.shown.presented())
	pending := h.ctrl.PendingTimers()
	require.Len(t, pending, 1)
	assert.Equal(t, []string{"welcome"}, pending[0].MessageIDs)
	assert.Equal(t, epoch.Add(3*time.Second), pending[0].FireAt)

	h.clock.Advance(2 * time.Second)
	_, err := h.ctrl.ActiveMessages(ctx) // drains the queue
	require.NoError(t, err)
	assert.Empty(t, h.shown.presented(), "not due yet")

	h.clock.Advance(time.Second)
	require.Eventually(t, func() bool {
		return len(h.shown.presented()) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, h.ctrl.PendingTimers())
}

func TestController_OSTimeFiresAfterTimer(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := start(t, controller.Options{})

	at := epoch.Add(time.Minute).Unix()
	msg := message(t, "promo", []map[string]any{cond("t1", scheduler.PropertyTime, ">", at)})
	require.NoError(t, h.ctrl.SetMessages(ctx, []*trigger.Message{msg}))
	require.Len(t, h.ctrl.PendingTimers(), 1)

	h.clock.Advance(time.Minute + time.Second)
	require.Eventually(t, func() bool {
		return len(h.shown.presented()) == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestController_RemovedMessageCancelsItsTimers(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := start(t, controller.Options{})

	msg := message(t, "welcome", []map[string]any{cond("t1", scheduler.PropertySessionDuration, ">=", 30)})
	require.NoError(t, h.ctrl.SetMessages(ctx, []*trigger.Message{msg}))
	require.Equal(t, 1, h.clock.Pending())

	require.NoError(t, h.ctrl.SetMessages(ctx, nil))

	assert.Empty(t, h.ctrl.PendingTimers())
	assert.Zero(t, h.clock.Pending(), "the timer was stopped, not left to fire")

	h.clock.Advance(time.Minute)
	_, err := h.ctrl.ActiveMessages(ctx)
	require.NoError(t, err)
	assert.Empty(t, h.shown.presented())
}

func TestController_SharedTriggerKeepsTimerForRemainingOwner(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := start(t, controller.Options{})

	shared := []map[string]any{cond("shared", scheduler.PropertySessionDuration, ">=", 5)}
	a := message(t, "a", shared)
	b := message(t, "b", shared)
	require.NoError(t, h.ctrl.SetMessages(ctx, []*trigger.Message{a, b}))

	pending := h.ctrl.PendingTimers()
	require.Len(t, pending, 1, "one timer per trigger id")
	assert.Equal(t, []string{"a", "b"}, pending[0].MessageIDs)

	require.NoError(t, h.ctrl.MessageDismissed(ctx, "a"))
	pending = h.ctrl.PendingTimers()
	require.Len(t, pending, 1)
	assert.Equal(t, []string{"b"}, pending[0].MessageIDs)

	h.clock.Advance(5 * time.Second)
	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{"b"}, h.shown.presented())
	}, 2*time.Second, 5*time.Millisecond)
}

func TestController_RedrivesOnlyReferencingMessages(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := start(t, controller.Options{})

	levelMsg := message(t, "level", []map[string]any{cond("t1", "level", ">", 1)})
	planMsg := message(t, "plan", []map[string]any{cond("t2", "plan", "exists", nil)})
	require.NoError(t, h.ctrl.SetMessages(ctx, []*trigger.Message{levelMsg, planMsg}))

	require.NoError(t, h.ctrl.AddTrigger(ctx, "level", 2))
	assert.Equal(t, []string{"level"}, h.shown.presented())

	active, err := h.ctrl.ActiveMessages(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"plan"}, active)
}

func TestController_RemoveTriggerRedrives(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := start(t, controller.Options{})

	require.NoError(t, h.ctrl.AddTrigger(ctx, "onboarded", true))
	msg := message(t, "tour", []map[string]any{cond("t1", "onboarded", "not_exists", nil)})
	require.NoError(t, h.ctrl.SetMessages(ctx, []*trigger.Message{msg}))
	assert.Empty(t, h.shown.presented())

	require.NoError(t, h.ctrl.RemoveTrigger(ctx, "onboarded"))
	assert.Equal(t, []string{"tour"}, h.shown.presented())

	_, ok := h.ctrl.TriggerValue("onboarded")
	assert.False(t, ok)
	require.NoError(t, h.ctrl.RemoveTrigger(ctx, "onboarded"), "removing an absent key is a no-op")
}

func TestController_BatchIsAppliedAtomically(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := start(t, controller.Options{})

	// Either trigger alone would leave the group unsatisfied.
	msg := message(t, "combo", []map[string]any{
		cond("a", "a", "==", 1),
		cond("b", "b", "==", "two"),
	})
	require.NoError(t, h.ctrl.SetMessages(ctx, []*trigger.Message{msg}))

	require.NoError(t, h.ctrl.AddTriggers(ctx, map[string]any{"a": 1, "b": "two"}))
	assert.Equal(t, []string{"combo"}, h.shown.presented())

	v, ok := h.ctrl.TriggerValue("b")
	require.True(t, ok)
	assert.Equal(t, "two", v)
}

func TestController_StoreChangeCancelsDynamicEntries(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := start(t, controller.Options{})

	msg := message(t, "m", []map[string]any{
		cond("level", "level", ">=", 5),
		cond("session", scheduler.PropertySessionDuration, ">=", 10),
	})
	require.NoError(t, h.ctrl.SetMessages(ctx, []*trigger.Message{msg}))
	assert.Empty(t, h.ctrl.PendingTimers(), "the static trigger short-circuits the group")

	require.NoError(t, h.ctrl.AddTrigger(ctx, "level", 6))
	require.Len(t, h.ctrl.PendingTimers(), 1)

	// Re-evaluation after an unrelated change keeps the same single timer.
	require.NoError(t, h.ctrl.AddTrigger(ctx, "level", 7))
	assert.Len(t, h.ctrl.PendingTimers(), 1)
	assert.Equal(t, 1, h.clock.Pending())

	require.NoError(t, h.ctrl.AddTrigger(ctx, "level", 1))
	assert.Len(t, h.ctrl.PendingTimers(), 1, "the entry is owned by a message, not by the level trigger")

	h.clock.Advance(10 * time.Second)
	_, err := h.ctrl.ActiveMessages(ctx)
	require.NoError(t, err)
	assert.Empty(t, h.shown.presented(), "level dropped below the threshold")
}

func TestController_RejectsInvalidTriggers(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := start(t, controller.Options{})

	err := h.ctrl.AddTrigger(ctx, scheduler.PropertySessionDuration, 5)
	assert.ErrorIs(t, err, controller.ErrReservedKey)

	err = h.ctrl.AddTrigger(ctx, "", 5)
	assert.Error(t, err)

	err = h.ctrl.AddTriggers(ctx, map[string]any{"ok": 1, "bad": map[string]int{"x": 1}})
	require.Error(t, err)
	_, ok := h.ctrl.TriggerValue("ok")
	assert.False(t, ok, "nothing is stored when one value is invalid")
}

func TestController_LoadMessages(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := start(t, controller.Options{})

	raw := []byte(`[
		{"id": "good", "content_id": "c1", "triggers": [[{"id": "t1", "property": "level", "operator": ">", "value": 3}]]},
		{"id": "bad", "content_id": "c2", "triggers": [[{"id": "t2", "property": "level", "operator": "~="}]]},
		{"id": "empty", "content_id": "c3", "triggers": [[]]}
	]`)

	err := h.ctrl.LoadMessages(ctx, raw)
	require.ErrorIs(t, err, trigger.ErrInvalidDefinition)
	assert.Contains(t, err.Error(), "messages[1]")
	assert.Contains(t, err.Error(), "messages[2]")

	active, err := h.ctrl.ActiveMessages(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"good"}, active)

	err = h.ctrl.LoadMessages(ctx, []byte(`{"not": "an array"}`))
	assert.ErrorIs(t, err, trigger.ErrInvalidDefinition)
}

func TestController_LoadMessagesThroughDefinitionCache(t *testing.T) {
	defs, err := cache.NewDefinitionCache(16, time.Minute)
	require.NoError(t, err)
	t.Cleanup(defs.Close)

	ctx := context.Background()
	h := start(t, controller.Options{Compiler: defs})

	raw := []byte(`[{"id": "m", "content_id": "c", "triggers": [[{"id": "t", "property": "p", "operator": "exists"}]]}]`)

	testsupport.AssertMetricDelta(t, "beacon_cache_definition_misses_total", nil, 1, func() {
		require.NoError(t, h.ctrl.LoadMessages(ctx, raw))
	})
	testsupport.AssertMetricDelta(t, "beacon_cache_definition_hits_total", nil, 1, func() {
		require.NoError(t, h.ctrl.LoadMessages(ctx, raw))
	})
	assert.Equal(t, 1, defs.Len())
}

func TestController_DismissedMessageStaysResolved(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := start(t, controller.Options{})

	msg := message(t, "survey", []map[string]any{cond("t1", "score", "<", 5)})
	require.NoError(t, h.ctrl.SetMessages(ctx, []*trigger.Message{msg}))
	require.NoError(t, h.ctrl.MessageDismissed(ctx, "survey"))

	require.NoError(t, h.ctrl.SetMessages(ctx, []*trigger.Message{msg}))
	require.NoError(t, h.ctrl.AddTrigger(ctx, "score", 1))

	assert.Empty(t, h.shown.presented())
	active, err := h.ctrl.ActiveMessages(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestController_ResetSession(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := start(t, controller.Options{})
	first := h.ctrl.Session()

	msg := message(t, "welcome", []map[string]any{cond("t1", scheduler.PropertySessionDuration, ">=", 10)})
	require.NoError(t, h.ctrl.SetMessages(ctx, []*trigger.Message{msg}))

	h.clock.Advance(4 * time.Second)
	require.NoError(t, h.ctrl.ResetSession(ctx))

	second := h.ctrl.Session()
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, epoch.Add(4*time.Second), second.Start)

	pending := h.ctrl.PendingTimers()
	require.Len(t, pending, 1)
	assert.Equal(t, second.Start.Add(10*time.Second), pending[0].FireAt, "re-armed relative to the new session")
	assert.Equal(t, 1, h.clock.Pending())
}

func TestController_RestoredValuesAreRedriven(t *testing.T) {
	t.Parallel()

	values := store.New()
	h := start(t, controller.Options{Values: values})
	ctx := context.Background()

	msg := message(t, "vip", []map[string]any{cond("t1", "tier", "==", "gold")})
	require.NoError(t, h.ctrl.SetMessages(ctx, []*trigger.Message{msg}))

	// Mutations made outside the controller, as the syncer does on restore.
	values.SetMany(map[string]trigger.Value{"tier": trigger.String("gold")})

	require.Eventually(t, func() bool {
		return len(h.shown.presented()) == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestController_Status(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := start(t, controller.Options{})

	require.NoError(t, h.ctrl.AddTrigger(ctx, "level", 1))
	msg := message(t, "welcome", []map[string]any{cond("t1", scheduler.PropertySessionDuration, ">", 2)})
	require.NoError(t, h.ctrl.SetMessages(ctx, []*trigger.Message{msg}))

	st, err := h.ctrl.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, h.ctrl.Session().ID, st.SessionID)
	assert.Equal(t, []string{"welcome"}, st.ActiveMessages)
	assert.Equal(t, 1, st.TriggerValues)
	require.Len(t, st.PendingTimers, 1)
	assert.Equal(t, "t1", st.PendingTimers[0].TriggerID)

	body, err := json.Marshal(st)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"pending_timers":[{"trigger_id":"t1"`)

	assert.Equal(t, "controller", h.ctrl.Name())
	assert.NoError(t, h.ctrl.Check(ctx))
}

func TestController_StopTearsDown(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := start(t, controller.Options{})

	msg := message(t, "welcome", []map[string]any{cond("t1", scheduler.PropertySessionDuration, ">=", 60)})
	require.NoError(t, h.ctrl.SetMessages(ctx, []*trigger.Message{msg}))
	require.Equal(t, 1, h.clock.Pending())

	h.stop()

	assert.Empty(t, h.ctrl.PendingTimers())
	assert.Zero(t, h.clock.Pending())
	assert.ErrorIs(t, h.ctrl.AddTrigger(ctx, "level", 1), controller.ErrStopped)
	assert.ErrorIs(t, h.ctrl.Check(ctx), controller.ErrStopped)

	// A timer racing the teardown must not block.
	h.clock.Advance(2 * time.Minute)
}

func TestController_CallerContextCancellation(t *testing.T) {
	t.Parallel()

	// Never started: commands queue up until the caller gives up.
	ctrl := controller.New(controller.Options{
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		QueueSize: 1,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := ctrl.AddTrigger(ctx, "level", 1)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.EqualError(t, ctrl.Check(context.Background()), "controller not started")
}

func TestController_RunTwice(t *testing.T) {
	t.Parallel()

	h := start(t, controller.Options{})

	// A processed command proves the first Run claimed the controller.
	_, err := h.ctrl.ActiveMessages(context.Background())
	require.NoError(t, err)
	assert.Error(t, h.ctrl.Run(context.Background()))
}
