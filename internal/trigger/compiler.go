package trigger

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// messageDefinition mirrors the serialized message payload.
// Pointers distinguish missing fields from zero values.
type messageDefinition struct {
	ID             *string                `json:"id"`
	ContentID      *string                `json:"content_id"`
	MaxDisplayTime *float64               `json:"max_display_time"`
	Triggers       *[][]triggerDefinition `json:"triggers"`
}

type triggerDefinition struct {
	ID       *string `json:"id"`
	Property *string `json:"property"`
	Operator *string `json:"operator"`

	// Value stays raw so an absent value can be told apart from null.
	Value json.RawMessage `json:"value"`
}

// CompileMessage parses and validates a single message definition.
func CompileMessage(raw []byte) (*Message, error) {
	var def messageDefinition
	if err := json.Unmarshal(raw, &def); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}
	return compileDefinition(def)
}

// CompileFunc compiles one raw message definition.
type CompileFunc func(raw []byte) (*Message, error)

// CompileMessages parses a JSON array of message definitions, the payload
// of a message-set refresh, compiling each item with compile (CompileMessage
// when nil). Valid messages are returned even when others fail; the
// failures are joined into the returned error. A payload that is not an
// array yields no messages.
func CompileMessages(raw []byte, compile CompileFunc) ([]*Message, error) {
	if compile == nil {
		compile = CompileMessage
	}

	var defs []json.RawMessage
	if err := json.Unmarshal(raw, &defs); err != nil {
		return nil, fmt.Errorf("%w: message set: %v", ErrInvalidDefinition, err)
	}

	messages := make([]*Message, 0, len(defs))
	var errs []error
	for i, d := range defs {
		m, err := compile(d)
		if err != nil {
			errs = append(errs, fmt.Errorf("messages[%d]: %w", i, err))
			continue
		}
		messages = append(messages, m)
	}

	return messages, errors.Join(errs...)
}

func compileDefinition(def messageDefinition) (*Message, error) {
	if def.ID == nil || *def.ID == "" {
		return nil, invalid("id", "is required")
	}
	if def.ContentID == nil || *def.ContentID == "" {
		return nil, invalid("content_id", "is required")
	}

	msg := &Message{
		ID:        *def.ID,
		ContentID: *def.ContentID,
	}

	if def.MaxDisplayTime != nil {
		mdt := *def.MaxDisplayTime
		if mdt < 0 || math.IsNaN(mdt) || math.IsInf(mdt, 0) {
			return nil, invalid("max_display_time", "must be a non-negative number, got %v", mdt)
		}
		msg.MaxDisplayTime = mdt
	}

	if def.Triggers == nil {
		return nil, invalid("triggers", "is required")
	}

	groups := *def.Triggers
	msg.Triggers = make([][]Trigger, 0, len(groups))
	for i, group := range groups {
		if len(group) == 0 {
			return nil, invalid(fmt.Sprintf("triggers[%d]", i), "AND group cannot be empty")
		}

		compiled := make([]Trigger, 0, len(group))
		for j, td := range group {
			t, err := compileTrigger(fmt.Sprintf("triggers[%d][%d]", i, j), td)
			if err != nil {
				return nil, err
			}
			compiled = append(compiled, t)
		}
		msg.Triggers = append(msg.Triggers, compiled)
	}

	return msg, nil
}

// parseTrigger parses and validates a single trigger definition.
func parseTrigger(raw []byte) (Trigger, error) {
	var td triggerDefinition
	if err := json.Unmarshal(raw, &td); err != nil {
		return Trigger{}, fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}
	return compileTrigger("trigger", td)
}

func compileTrigger(path string, td triggerDefinition) (Trigger, error) {
	if td.ID == nil || *td.ID == "" {
		return Trigger{}, invalid(path+".id", "is required")
	}
	if td.Property == nil || *td.Property == "" {
		return Trigger{}, invalid(path+".property", "is required")
	}
	if td.Operator == nil {
		return Trigger{}, invalid(path+".operator", "is required")
	}

	op, err := ParseOperator(*td.Operator)
	if err != nil {
		return Trigger{}, invalid(path+".operator", "%v", err)
	}

	t := Trigger{
		ID:       *td.ID,
		Property: *td.Property,
		Operator: op,
	}

	absent := len(td.Value) == 0 || bytes.Equal(bytes.TrimSpace(td.Value), []byte("null"))
	if !op.RequiresOperand() {
		// The operand of Exists/NotExists is meaningless and ignored.
		return t, nil
	}
	if absent {
		return Trigger{}, invalid(path+".value", "is required for operator %s", op.Symbol())
	}

	if err := json.Unmarshal(td.Value, &t.Value); err != nil {
		return Trigger{}, invalid(path+".value", "%v", err)
	}
	if err := checkOperand(op, t.Value); err != nil {
		return Trigger{}, invalid(path+".value", "%v", err)
	}

	return t, nil
}

// checkOperand rejects operands the operator can never match against.
func checkOperand(op Operator, v Value) error {
	switch {
	case op == Contains:
		if v.Kind() != KindString {
			return fmt.Errorf("operator %s requires a string, got %s", op.Symbol(), v.Kind())
		}
	case op.IsOrdering():
		if _, ok := v.Float(); !ok {
			return fmt.Errorf("operator %s requires a number, got %s %v", op.Symbol(), v.Kind(), v)
		}
	default:
		if v.Kind() != KindNumber && v.Kind() != KindString {
			return fmt.Errorf("operator %s requires a number or string, got %s", op.Symbol(), v.Kind())
		}
	}
	return nil
}

func invalid(path, format string, args ...any) error {
	return fmt.Errorf("%w: %s %s", ErrInvalidDefinition, path, fmt.Sprintf(format, args...))
}
