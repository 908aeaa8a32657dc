// Package engine decides whether an in-app message currently qualifies for
// display. Static triggers are compared against the trigger value store;
// dynamic triggers are delegated to the scheduler, which arms a timer when
// the condition may only hold later.
package engine

import (
	"log/slog"

	"github.com/rafaeljc/beacon/internal/observability"
	"github.com/rafaeljc/beacon/internal/scheduler"
	"github.com/rafaeljc/beacon/internal/trigger"
	"github.com/rafaeljc/beacon/internal/validation"
)

// ValueSource supplies the left-hand side of static comparisons.
type ValueSource interface {
	Get(key string) (trigger.Value, bool)
}

// DynamicScheduler evaluates and schedules time-based triggers.
type DynamicScheduler interface {
	ShouldFire(t trigger.Trigger, messageID string) bool
	Schedule(t trigger.Trigger, messageID string) bool
}

// Engine is the orchestrator for message evaluation.
type Engine struct {
	values ValueSource
	timers DynamicScheduler
	logger *slog.Logger
}

// New creates a new Engine.
// If logger is nil, it defaults to slog.Default().
func New(logger *slog.Logger, values ValueSource, timers DynamicScheduler) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	validation.AssertPresent(values, "engine: value source")
	validation.AssertPresent(timers, "engine: dynamic scheduler")

	return &Engine{
		values: values,
		timers: timers,
		logger: logger,
	}
}

// EvaluateMessage reports whether m is eligible for display right now.
// Its only side effect is scheduling timers for dynamic triggers that are
// not satisfied yet.
func (e *Engine) EvaluateMessage(m *trigger.Message) bool {
	eligible := trigger.IsEligible(m, func(t trigger.Trigger) bool {
		return e.EvaluateTrigger(t, m.ID)
	})

	result := "ineligible"
	if eligible {
		result = "eligible"
	}
	observability.MessageEvaluations.WithLabelValues(result).Inc()

	e.logger.Debug("message evaluated",
		slog.String("message_id", m.ID),
		slog.Bool("eligible", eligible),
	)
	return eligible
}

// EvaluateTrigger checks a single trigger of messageID.
func (e *Engine) EvaluateTrigger(t trigger.Trigger, messageID string) bool {
	if !t.Operator.Valid() {
		// Compiled messages never carry one; hand-built triggers might.
		e.logger.Warn("skipping trigger with unknown operator",
			slog.String("trigger_id", t.ID),
			slog.String("message_id", messageID),
			slog.String("operator", t.Operator.String()),
		)
		return false
	}

	if scheduler.IsDynamic(t.Property) {
		observability.TriggerEvaluations.WithLabelValues(t.Operator.String(), "dynamic").Inc()

		if e.timers.ShouldFire(t, messageID) {
			return true
		}
		// Not satisfied yet: make sure a re-evaluation is pending.
		e.timers.Schedule(t, messageID)
		return false
	}

	observability.TriggerEvaluations.WithLabelValues(t.Operator.String(), "static").Inc()

	stored, present := e.values.Get(t.Property)
	return t.Operator.Evaluate(stored, present, t.Value)
}
