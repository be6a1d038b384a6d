package domain

import "slices"

// Subscription is a subscriber registration owned by the subscription registry. Read-only here.
type Subscription struct {
	ID         int64
	TargetURL  string
	Secret     string
	Active     bool
	EventNames []EventName
}

// InterestedIn reports whether the subscription is active and registered for name.
func (s *Subscription) InterestedIn(name EventName) bool {
	return s.Active && slices.Contains(s.EventNames, name)
}
