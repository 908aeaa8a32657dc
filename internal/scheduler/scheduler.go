// Package scheduler implements dynamic triggers: conditions on values that
// only change as time passes. When such a condition is not met yet, the
// scheduler arms a one-shot timer for the earliest instant it could be met
// and reports the fire back to its owner for re-evaluation.
package scheduler

import (
	"log/slog"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/rafaeljc/beacon/internal/observability"
	"github.com/rafaeljc/beacon/internal/trigger"
)

const (
	// PropertySessionDuration holds the seconds elapsed since session start.
	PropertySessionDuration = "os_session_duration"

	// PropertyTime holds the current Unix time in seconds.
	PropertyTime = "os_time"

	// TimeAccuracy is the window within which a time equality holds.
	// Elapsed time is continuous, so exact equality would never be observed.
	TimeAccuracy = 300 * time.Millisecond
)

// IsDynamic reports whether property is derived from the passage of time
// rather than set in the trigger value store.
func IsDynamic(property string) bool {
	return property == PropertySessionDuration || property == PropertyTime
}

// Entry describes a pending timer.
type Entry struct {
	TriggerID string
	Property  string
	FireAt    time.Time

	// MessageIDs lists the messages to re-evaluate when the timer fires.
	MessageIDs []string
}

type entry struct {
	triggerID string
	property  string
	fireAt    time.Time
	owners    map[string]struct{}
	timer     Timer
	gen       uint64
}

func (e *entry) snapshot() Entry {
	ids := make([]string, 0, len(e.owners))
	for id := range e.owners {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return Entry{TriggerID: e.triggerID, Property: e.property, FireAt: e.fireAt, MessageIDs: ids}
}

// Options configures a Scheduler. Every field is optional.
type Options struct {
	Clock  Clock
	Logger *slog.Logger

	// Dispatch moves a timer callback onto the goroutine that owns the
	// scheduler. The default runs it on the timer goroutine.
	Dispatch func(fn func())

	// OnFire receives each entry whose timer fired and was not cancelled.
	OnFire func(Entry)
}

// Scheduler owns at most one timer per dynamic trigger id.
type Scheduler struct {
	clock    Clock
	logger   *slog.Logger
	dispatch func(fn func())
	onFire   func(Entry)

	mu      sync.Mutex
	session Session
	entries map[string]*entry
	gen     uint64
}

// New creates a Scheduler and starts its first session.
func New(opts Options) *Scheduler {
	if opts.Clock == nil {
		opts.Clock = SystemClock()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Dispatch == nil {
		opts.Dispatch = func(fn func()) { fn() }
	}
	if opts.OnFire == nil {
		opts.OnFire = func(Entry) {}
	}

	return &Scheduler{
		clock:    opts.Clock,
		logger:   opts.Logger,
		dispatch: opts.Dispatch,
		onFire:   opts.OnFire,
		session:  newSession(opts.Clock),
		entries:  make(map[string]*entry),
	}
}

// Session returns the current session.
func (s *Scheduler) Session() Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

// Restart cancels every pending entry and starts a new session at the
// current instant.
func (s *Scheduler) Restart() Session {
	s.CancelAll()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = newSession(s.clock)
	s.logger.Info("trigger session started", slog.String("session_id", s.session.ID))
	return s.session
}

// ShouldFire reports whether the dynamic condition of t holds right now.
// It never schedules anything.
func (s *Scheduler) ShouldFire(t trigger.Trigger, messageID string) bool {
	current, ok := s.current(t.Property)
	if !ok {
		return false
	}

	fire := evalTime(t.Operator, current, t.Value)
	s.logger.Debug("dynamic trigger checked",
		slog.String("trigger_id", t.ID),
		slog.String("message_id", messageID),
		slog.String("property", t.Property),
		slog.Float64("current", current),
		slog.Bool("fire", fire),
	)
	return fire
}

// NextFire returns the earliest future instant at which t could start to
// hold. It reports false when t holds already or time moving forward can
// never make it hold.
func (s *Scheduler) NextFire(t trigger.Trigger) (time.Time, bool) {
	threshold, ok := t.Value.Float()
	if !ok || math.IsNaN(threshold) || math.IsInf(threshold, 0) {
		return time.Time{}, false
	}

	target, ok := s.instant(t.Property, threshold)
	if !ok {
		return time.Time{}, false
	}

	current, _ := s.current(t.Property)
	if evalTime(t.Operator, current, t.Value) {
		return time.Time{}, false
	}

	now := s.clock.Now()
	var at time.Time
	switch t.Operator {
	case trigger.GreaterThanOrEqualTo:
		at = target
	case trigger.GreaterThan:
		at = target.Add(time.Millisecond)
	case trigger.EqualTo:
		if now.After(target.Add(TimeAccuracy)) {
			return time.Time{}, false
		}
		at = target
	case trigger.NotEqualTo:
		at = target.Add(TimeAccuracy + time.Millisecond)
	default:
		// <, <=, exists, not_exists and in never turn true as time passes.
		return time.Time{}, false
	}

	// Rounding can leave the instant at or before now while the condition
	// still fails; retry shortly after instead of giving up.
	if earliest := now.Add(time.Millisecond); at.Before(earliest) {
		at = earliest
	}
	return at, true
}

// Schedule arms a timer for t on behalf of messageID. A pending entry for
// the same trigger id at the same instant only gains messageID as an owner;
// an entry at a different instant is cancelled and superseded. It reports
// whether a new timer was armed.
func (s *Scheduler) Schedule(t trigger.Trigger, messageID string) bool {
	at, ok := s.NextFire(t)
	if !ok {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.entries[t.ID]; ok {
		if existing.fireAt.Equal(at) {
			existing.owners[messageID] = struct{}{}
			return false
		}
		s.cancelLocked(existing, "superseded")
	}

	s.gen++
	e := &entry{
		triggerID: t.ID,
		property:  t.Property,
		fireAt:    at,
		owners:    map[string]struct{}{messageID: {}},
		gen:       s.gen,
	}

	id, gen := t.ID, e.gen
	delay := at.Sub(s.clock.Now())
	e.timer = s.clock.AfterFunc(delay, func() {
		s.dispatch(func() { s.fire(id, gen) })
	})

	s.entries[t.ID] = e
	observability.ScheduledTriggers.Set(float64(len(s.entries)))

	s.logger.Debug("dynamic trigger scheduled",
		slog.String("trigger_id", t.ID),
		slog.String("message_id", messageID),
		slog.Duration("delay", delay),
	)
	return true
}

// fire runs on the owner. A callback whose entry was cancelled or
// superseded in the meantime is dropped.
func (s *Scheduler) fire(triggerID string, gen uint64) {
	s.mu.Lock()
	e, ok := s.entries[triggerID]
	if !ok || e.gen != gen {
		s.mu.Unlock()
		observability.TimerFires.WithLabelValues("stale").Inc()
		s.logger.Debug("stale dynamic trigger timer ignored", slog.String("trigger_id", triggerID))
		return
	}
	delete(s.entries, triggerID)
	observability.ScheduledTriggers.Set(float64(len(s.entries)))
	fired := e.snapshot()
	s.mu.Unlock()

	observability.TimerFires.WithLabelValues("fired").Inc()
	s.logger.Debug("dynamic trigger timer fired",
		slog.String("trigger_id", triggerID),
		slog.Any("message_ids", fired.MessageIDs),
	)
	s.onFire(fired)
}

// Cancel drops the entry for triggerID. It is idempotent.
func (s *Scheduler) Cancel(triggerID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[triggerID]
	if !ok {
		return false
	}
	s.cancelLocked(e, "trigger")
	return true
}

// CancelMessage removes messageID from every entry and cancels entries
// left without owners. It returns the number of cancelled timers.
func (s *Scheduler) CancelMessage(messageID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, e := range s.entries {
		if _, ok := e.owners[messageID]; !ok {
			continue
		}
		delete(e.owners, messageID)
		if len(e.owners) == 0 {
			s.cancelLocked(e, "message")
			n++
		}
	}
	return n
}

// CancelProperty cancels every entry reading property and returns the
// owners of the cancelled entries.
func (s *Scheduler) CancelProperty(property string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var owners []string
	for _, e := range s.entries {
		if e.property != property {
			continue
		}
		for id := range e.owners {
			owners = append(owners, id)
		}
		s.cancelLocked(e, "property")
	}
	slices.Sort(owners)
	return slices.Compact(owners)
}

// CancelAll tears down every pending entry.
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.entries {
		s.cancelLocked(e, "teardown")
	}
}

// Entries returns the pending entries ordered by fire time.
func (s *Scheduler) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.snapshot())
	}
	slices.SortFunc(out, func(a, b Entry) int {
		if c := a.FireAt.Compare(b.FireAt); c != 0 {
			return c
		}
		if a.TriggerID < b.TriggerID {
			return -1
		}
		if a.TriggerID > b.TriggerID {
			return 1
		}
		return 0
	})
	return out
}

// Len returns the number of pending entries.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *Scheduler) cancelLocked(e *entry, reason string) {
	// Stop may lose the race against a timer that already fired; the
	// generation check in fire discards that callback.
	e.timer.Stop()
	delete(s.entries, e.triggerID)
	observability.ScheduledTriggers.Set(float64(len(s.entries)))
	observability.ScheduleCancellations.WithLabelValues(reason).Inc()
}

// current returns the present value of a dynamic property in seconds.
func (s *Scheduler) current(property string) (float64, bool) {
	switch property {
	case PropertySessionDuration:
		return s.clock.Now().Sub(s.Session().Start).Seconds(), true
	case PropertyTime:
		return float64(s.clock.Now().UnixMilli()) / 1000, true
	default:
		return 0, false
	}
}

// instant maps a threshold in seconds onto the wall clock. Thresholds
// outside the time.Duration range have no instant.
func (s *Scheduler) instant(property string, seconds float64) (time.Time, bool) {
	ns := math.Ceil(seconds * float64(time.Second))
	if ns >= math.MaxInt64 || ns <= math.MinInt64 {
		return time.Time{}, false
	}
	d := time.Duration(ns)
	switch property {
	case PropertySessionDuration:
		return s.Session().Start.Add(d), true
	case PropertyTime:
		return time.Unix(0, int64(d)), true
	default:
		return time.Time{}, false
	}
}

func evalTime(op trigger.Operator, current float64, operand trigger.Value) bool {
	switch op {
	case trigger.Exists:
		return true
	case trigger.NotExists:
		return false
	}

	threshold, ok := operand.Float()
	if !ok {
		return false
	}

	accuracy := TimeAccuracy.Seconds()
	switch op {
	case trigger.GreaterThan:
		return current > threshold
	case trigger.GreaterThanOrEqualTo:
		return current >= threshold
	case trigger.LessThan:
		return current < threshold
	case trigger.LessThanOrEqualTo:
		return current <= threshold
	case trigger.EqualTo:
		return math.Abs(current-threshold) < accuracy
	case trigger.NotEqualTo:
		return math.Abs(current-threshold) >= accuracy
	default:
		return false
	}
}
