// Package trigger provides the data model of in-app message targeting.
// A message carries an OR of AND groups of triggers; each trigger compares
// one property of the local context against an operand using a fixed set of
// operators.
package trigger

import "errors"

// ErrInvalidDefinition is wrapped by every error produced while compiling
// a message definition. Callers use errors.Is to tell structural problems
// apart from I/O failures.
var ErrInvalidDefinition = errors.New("invalid message definition")

// Trigger is a single condition of a message.
// It is built once by the compiler and must be treated as read-only.
type Trigger struct {
	// ID correlates scheduled re-evaluations back to this condition.
	ID string

	// Property is the key looked up in the trigger value store.
	Property string

	Operator Operator

	// Value is the right-hand side of the comparison.
	// It is Null for Exists and NotExists.
	Value Value
}

// Message is the targeting specification of one in-app message.
type Message struct {
	ID        string
	ContentID string

	// MaxDisplayTime is expressed in seconds.
	MaxDisplayTime float64

	// Triggers is an OR of AND groups. An empty outer slice makes the
	// message unconditionally eligible; inner slices are never empty.
	Triggers [][]Trigger
}

// Properties returns the distinct properties referenced by the message.
func (m *Message) Properties() map[string]struct{} {
	props := make(map[string]struct{})
	for _, group := range m.Triggers {
		for _, t := range group {
			props[t.Property] = struct{}{}
		}
	}
	return props
}

// References reports whether any trigger of the message reads one of keys.
func (m *Message) References(keys ...string) bool {
	for _, group := range m.Triggers {
		for _, t := range group {
			for _, k := range keys {
				if t.Property == k {
					return true
				}
			}
		}
	}
	return false
}
