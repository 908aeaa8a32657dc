// Package controller is the single owner of the trigger engine state. Every
// store mutation, message set refresh, evaluation and timer fire is executed
// as a command on the goroutine running Run, so evaluation never observes a
// half-applied update.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rafaeljc/beacon/internal/engine"
	"github.com/rafaeljc/beacon/internal/observability"
	"github.com/rafaeljc/beacon/internal/scheduler"
	"github.com/rafaeljc/beacon/internal/store"
	"github.com/rafaeljc/beacon/internal/trigger"
)

var (
	// ErrStopped is returned by calls made after Run returned.
	ErrStopped = errors.New("controller stopped")

	// ErrReservedKey is returned when the host tries to set a property that
	// is derived from the clock.
	ErrReservedKey = errors.New("reserved trigger key")
)

const defaultQueueSize = 64

// Presenter receives messages that became eligible. It is called on the
// controller goroutine and must not call back into the Controller
// synchronously.
type Presenter interface {
	Present(ctx context.Context, m *trigger.Message)
}

// PresenterFunc adapts a function to Presenter.
type PresenterFunc func(ctx context.Context, m *trigger.Message)

// Present implements Presenter.
func (f PresenterFunc) Present(ctx context.Context, m *trigger.Message) { f(ctx, m) }

// Compiler turns one raw message definition into a Message.
// cache.DefinitionCache implements it.
type Compiler interface {
	CompileMessage(raw []byte) (*trigger.Message, error)
}

type compilerFunc func(raw []byte) (*trigger.Message, error)

func (f compilerFunc) CompileMessage(raw []byte) (*trigger.Message, error) { return f(raw) }

// Options configures a Controller. Every field is optional.
type Options struct {
	Logger *slog.Logger
	Clock  scheduler.Clock

	// Values is the trigger value store. Pass a store shared with the
	// syncer so restored values reach the controller.
	Values *store.Values

	// Presenter defaults to logging eligible messages.
	Presenter Presenter

	// Compiler defaults to trigger.CompileMessage.
	Compiler Compiler

	// QueueSize bounds the command queue.
	QueueSize int
}

type command func(ctx context.Context)

// Controller serializes all engine work on one goroutine.
type Controller struct {
	logger    *slog.Logger
	values    *store.Values
	timers    *scheduler.Scheduler
	engine    *engine.Engine
	presenter Presenter
	compiler  Compiler

	commands chan command
	kick     chan struct{}
	done     chan struct{}
	running  atomic.Bool

	dirtyMu sync.Mutex
	dirty   map[string]struct{}

	// Owned by the Run goroutine.
	runCtx   context.Context
	active   []*trigger.Message
	resolved map[string]struct{}
}

// New creates a Controller. Nothing is evaluated until Run is started.
func New(opts Options) *Controller {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Values == nil {
		opts.Values = store.New()
	}
	if opts.Presenter == nil {
		opts.Presenter = LogPresenter(opts.Logger)
	}
	if opts.Compiler == nil {
		opts.Compiler = compilerFunc(trigger.CompileMessage)
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}

	c := &Controller{
		logger:    opts.Logger,
		values:    opts.Values,
		presenter: opts.Presenter,
		compiler:  opts.Compiler,
		commands:  make(chan command, opts.QueueSize),
		kick:      make(chan struct{}, 1),
		done:      make(chan struct{}),
		dirty:     make(map[string]struct{}),
		runCtx:    context.Background(),
		resolved:  make(map[string]struct{}),
	}

	c.timers = scheduler.New(scheduler.Options{
		Clock:    opts.Clock,
		Logger:   opts.Logger,
		Dispatch: c.dispatch,
		OnFire:   c.onFire,
	})
	c.engine = engine.New(opts.Logger, c.values, c.timers)
	c.values.OnChange(c.onValuesChanged)

	return c
}

// LogPresenter returns a Presenter that only logs.
func LogPresenter(logger *slog.Logger) Presenter {
	return PresenterFunc(func(_ context.Context, m *trigger.Message) {
		logger.Info("message ready for display",
			slog.String("message_id", m.ID),
			slog.String("content_id", m.ContentID),
			slog.Float64("max_display_time", m.MaxDisplayTime),
		)
	})
}

// Run drains the command queue until ctx is cancelled. On return every
// pending timer is cancelled and later calls fail with ErrStopped.
// Run must be called once.
func (c *Controller) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return errors.New("controller: Run called twice")
	}

	c.runCtx = ctx
	session := c.timers.Session()
	c.logger.Info("starting trigger controller", slog.String("session_id", session.ID))

	defer func() {
		c.timers.CancelAll()
		close(c.done)
		c.logger.Info("trigger controller stopped", slog.String("session_id", c.timers.Session().ID))
	}()

	// Values restored before Run still need their redrive.
	c.flushChanges(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case cmd := <-c.commands:
			cmd(ctx)
			c.flushChanges(ctx)
		case <-c.kick:
			c.flushChanges(ctx)
		}
	}
}

// do runs fn on the owner goroutine and waits for it, including the
// redrive caused by any store change fn made.
func (c *Controller) do(ctx context.Context, fn command) error {
	finished := make(chan struct{})
	cmd := func(ctx context.Context) {
		defer close(finished)
		fn(ctx)
		c.flushChanges(ctx)
	}

	select {
	case c.commands <- cmd:
	case <-c.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-finished:
		return nil
	case <-c.done:
		select {
		case <-finished:
			return nil
		default:
			return ErrStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// dispatch hands a timer callback to the owner goroutine.
func (c *Controller) dispatch(fn func()) {
	select {
	case c.commands <- func(context.Context) { fn() }:
	case <-c.done:
	}
}

// onFire runs on the owner once a dynamic trigger timer fired.
func (c *Controller) onFire(e scheduler.Entry) {
	var owners []*trigger.Message
	for _, m := range c.active {
		if slices.Contains(e.MessageIDs, m.ID) {
			owners = append(owners, m)
		}
	}
	c.evaluate(c.runCtx, owners)
}

// onValuesChanged may run on any goroutine: it only records the keys and
// wakes the owner.
func (c *Controller) onValuesChanged(keys []string) {
	c.dirtyMu.Lock()
	for _, k := range keys {
		c.dirty[k] = struct{}{}
	}
	c.dirtyMu.Unlock()

	select {
	case c.kick <- struct{}{}:
	default:
	}
}

func (c *Controller) takeDirty() []string {
	c.dirtyMu.Lock()
	defer c.dirtyMu.Unlock()

	if len(c.dirty) == 0 {
		return nil
	}
	keys := make([]string, 0, len(c.dirty))
	for k := range c.dirty {
		keys = append(keys, k)
	}
	clear(c.dirty)
	slices.Sort(keys)
	return keys
}

// flushChanges cancels the timers reading a changed key and re-evaluates,
// once, every active message that reads one of them.
func (c *Controller) flushChanges(ctx context.Context) {
	keys := c.takeDirty()
	if len(keys) == 0 {
		return
	}

	owners := make(map[string]struct{})
	for _, k := range keys {
		for _, id := range c.timers.CancelProperty(k) {
			owners[id] = struct{}{}
		}
	}

	var redrive []*trigger.Message
	for _, m := range c.active {
		_, owned := owners[m.ID]
		if owned || m.References(keys...) {
			redrive = append(redrive, m)
		}
	}

	c.logger.Debug("trigger values changed",
		slog.Any("keys", keys),
		slog.Int("redriven", len(redrive)),
	)
	c.evaluate(ctx, redrive)
}

func (c *Controller) evaluate(ctx context.Context, msgs []*trigger.Message) {
	for _, m := range msgs {
		if !c.isActive(m.ID) {
			continue
		}
		if c.engine.EvaluateMessage(m) {
			c.present(ctx, m)
		}
	}
}

func (c *Controller) isActive(id string) bool {
	return slices.ContainsFunc(c.active, func(m *trigger.Message) bool { return m.ID == id })
}

// present resolves m: it leaves the active set, its timers are cancelled
// and the presenter receives it.
func (c *Controller) present(ctx context.Context, m *trigger.Message) {
	c.deactivate(m.ID, "presented")

	observability.PresentedMessages.Inc()
	c.logger.Info("message eligible", slog.String("message_id", m.ID), slog.String("content_id", m.ContentID))

	c.presenter.Present(ctx, m)
}

func (c *Controller) deactivate(id, reason string) bool {
	i := slices.IndexFunc(c.active, func(m *trigger.Message) bool { return m.ID == id })
	c.resolved[id] = struct{}{}
	if i < 0 {
		return false
	}

	c.active = slices.Delete(c.active, i, i+1)
	observability.ActiveMessages.Set(float64(len(c.active)))

	cancelled := c.timers.CancelMessage(id)
	c.logger.Debug("message left the active set",
		slog.String("message_id", id),
		slog.String("reason", reason),
		slog.Int("cancelled_timers", cancelled),
	)
	return true
}

// AddTrigger sets one trigger value. value may be nil, a bool, a number, a
// string or a list of strings.
func (c *Controller) AddTrigger(ctx context.Context, key string, value any) error {
	return c.AddTriggers(ctx, map[string]any{key: value})
}

// AddTriggers sets several trigger values as one batch: affected messages
// are re-evaluated once. Nothing is stored if any value is invalid.
func (c *Controller) AddTriggers(ctx context.Context, values map[string]any) error {
	converted := make(map[string]trigger.Value, len(values))
	for k, raw := range values {
		if err := checkKey(k); err != nil {
			return err
		}
		v, err := trigger.FromAny(raw)
		if err != nil {
			return fmt.Errorf("trigger %q: %w", k, err)
		}
		converted[k] = v
	}
	if len(converted) == 0 {
		return nil
	}

	return c.do(ctx, func(context.Context) {
		c.values.SetMany(converted)
	})
}

// RemoveTrigger deletes one trigger value. Removing an absent key is a no-op.
func (c *Controller) RemoveTrigger(ctx context.Context, key string) error {
	return c.RemoveTriggers(ctx, key)
}

// RemoveTriggers deletes several trigger values as one batch.
func (c *Controller) RemoveTriggers(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.do(ctx, func(context.Context) {
		c.values.RemoveMany(keys...)
	})
}

// TriggerValue returns the stored value for key in its plain Go form.
func (c *Controller) TriggerValue(key string) (any, bool) {
	v, ok := c.values.Get(key)
	if !ok {
		return nil, false
	}
	return v.Interface(), true
}

func checkKey(key string) error {
	if key == "" {
		return errors.New("trigger key cannot be empty")
	}
	if scheduler.IsDynamic(key) {
		return fmt.Errorf("%w: %q is derived from the clock", ErrReservedKey, key)
	}
	return nil
}

// SetMessages replaces the active message set and evaluates it. Messages
// already presented or dismissed in this session are not re-activated.
// Timers of messages that left the set are cancelled.
func (c *Controller) SetMessages(ctx context.Context, msgs []*trigger.Message) error {
	return c.do(ctx, func(ctx context.Context) {
		next := make([]*trigger.Message, 0, len(msgs))
		ids := make(map[string]struct{}, len(msgs))
		for _, m := range msgs {
			if m == nil {
				continue
			}
			if _, dup := ids[m.ID]; dup {
				c.logger.Warn("duplicate message id ignored", slog.String("message_id", m.ID))
				continue
			}
			if _, done := c.resolved[m.ID]; done {
				continue
			}
			ids[m.ID] = struct{}{}
			next = append(next, m)
		}

		for _, old := range c.active {
			if _, kept := ids[old.ID]; !kept {
				c.timers.CancelMessage(old.ID)
			}
		}

		c.active = next
		observability.ActiveMessages.Set(float64(len(c.active)))
		c.logger.Info("message set refreshed", slog.Int("active", len(next)))

		c.evaluate(ctx, slices.Clone(next))
	})
}

// LoadMessages compiles a JSON array of message definitions and installs
// the valid ones. Invalid definitions are reported in the returned error,
// which wraps trigger.ErrInvalidDefinition.
func (c *Controller) LoadMessages(ctx context.Context, raw []byte) error {
	msgs, compileErr := trigger.CompileMessages(raw, c.compiler.CompileMessage)
	if msgs == nil {
		return compileErr
	}

	if err := c.SetMessages(ctx, msgs); err != nil {
		return err
	}
	return compileErr
}

// MessageDismissed resolves id for the rest of the session, whether or not
// it is still active.
func (c *Controller) MessageDismissed(ctx context.Context, id string) error {
	return c.do(ctx, func(context.Context) {
		if !c.deactivate(id, "dismissed") {
			c.logger.Debug("dismissed message was not active", slog.String("message_id", id))
		}
	})
}

// ActiveMessages returns the ids of the messages still waiting to become
// eligible, in load order.
func (c *Controller) ActiveMessages(ctx context.Context) ([]string, error) {
	var ids []string
	err := c.do(ctx, func(context.Context) {
		ids = make([]string, 0, len(c.active))
		for _, m := range c.active {
			ids = append(ids, m.ID)
		}
	})
	return ids, err
}

// ResetSession starts a new session: pending timers are dropped, session
// duration restarts from zero, and every active message is re-evaluated.
func (c *Controller) ResetSession(ctx context.Context) error {
	return c.do(ctx, func(ctx context.Context) {
		c.timers.Restart()
		clear(c.resolved)
		c.evaluate(ctx, slices.Clone(c.active))
	})
}

// Session returns the current session.
func (c *Controller) Session() scheduler.Session {
	return c.timers.Session()
}

// PendingTimers returns the armed dynamic trigger timers.
func (c *Controller) PendingTimers() []scheduler.Entry {
	return c.timers.Entries()
}

// PendingTimer is the JSON form of a scheduler.Entry.
type PendingTimer struct {
	TriggerID  string    `json:"trigger_id"`
	Property   string    `json:"property"`
	FireAt     time.Time `json:"fire_at"`
	MessageIDs []string  `json:"message_ids"`
}

// Status is a point-in-time view of the controller.
type Status struct {
	SessionID      string         `json:"session_id"`
	SessionStart   time.Time      `json:"session_start"`
	ActiveMessages []string       `json:"active_messages"`
	PendingTimers  []PendingTimer `json:"pending_timers"`
	TriggerValues  int            `json:"trigger_values"`
}

// Status reports the controller state. It goes through the command queue
// so the view is consistent.
func (c *Controller) Status(ctx context.Context) (Status, error) {
	var st Status
	err := c.do(ctx, func(context.Context) {
		session := c.timers.Session()
		st.SessionID = session.ID
		st.SessionStart = session.Start
		st.TriggerValues = c.values.Len()

		st.ActiveMessages = make([]string, 0, len(c.active))
		for _, m := range c.active {
			st.ActiveMessages = append(st.ActiveMessages, m.ID)
		}

		entries := c.timers.Entries()
		st.PendingTimers = make([]PendingTimer, 0, len(entries))
		for _, e := range entries {
			st.PendingTimers = append(st.PendingTimers, PendingTimer(e))
		}
	})
	return st, err
}

// Name implements observability.Checker.
func (c *Controller) Name() string {
	return "controller"
}

// Check implements observability.Checker: the controller is healthy while
// its goroutine keeps draining commands.
func (c *Controller) Check(ctx context.Context) error {
	if !c.running.Load() {
		return errors.New("controller not started")
	}
	return c.do(ctx, func(context.Context) {})
}
