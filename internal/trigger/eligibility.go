package trigger

// Predicate decides whether a single trigger currently holds.
type Predicate func(t Trigger) bool

// AllSatisfied reports whether every trigger of an AND group holds.
// It stops at the first false trigger. An empty group is never satisfied
// because a group must carry at least one concrete condition.
func AllSatisfied(group []Trigger, holds Predicate) bool {
	if len(group) == 0 {
		return false
	}
	for _, t := range group {
		if !holds(t) {
			return false
		}
	}
	return true
}

// IsEligible reports whether at least one OR group of the message is
// satisfied, stopping at the first one that is. A message without any
// group is unconditionally eligible.
func IsEligible(m *Message, holds Predicate) bool {
	if len(m.Triggers) == 0 {
		return true
	}
	for _, group := range m.Triggers {
		if AllSatisfied(group, holds) {
			return true
		}
	}
	return false
}
