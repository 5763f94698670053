package models

import "strings"

// Status is the delivery lifecycle state of a notification.
type Status string

const (
	StatusPending    Status = "pending"
	StatusScheduled  Status = "scheduled"
	StatusProcessing Status = "processing"
	StatusSent       Status = "sent"
	StatusDelivered  Status = "delivered"
	StatusRead       Status = "read"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

var statusTransitions = map[Status][]Status{
	StatusPending:    {StatusScheduled, StatusProcessing, StatusFailed, StatusCancelled},
	StatusScheduled:  {StatusPending, StatusScheduled, StatusProcessing, StatusFailed, StatusCancelled},
	StatusProcessing: {StatusSent, StatusFailed, StatusScheduled},
	StatusSent:       {StatusDelivered, StatusRead},
	StatusDelivered:  {StatusRead},
}

// ParseStatus normalises a raw status string, reporting whether it is known.
func ParseStatus(raw string) (Status, bool) {
	status := Status(strings.ToLower(strings.TrimSpace(raw)))
	return status, status.Valid()
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusScheduled, StatusProcessing, StatusSent,
		StatusDelivered, StatusRead, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// CanTransitionTo reports whether moving from s to next is allowed.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range statusTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return len(statusTransitions[s]) == 0
}

// Reschedulable reports whether the scheduled time may still be moved.
func (s Status) Reschedulable() bool {
	return s == StatusPending || s == StatusScheduled
}

// AllowsReadAt reports whether a notification in this status may carry a read timestamp.
func (s Status) AllowsReadAt() bool {
	return s == StatusSent || s == StatusDelivered || s == StatusRead
}

// Sources returns every status from which next is reachable.
func Sources(next Status) []Status {
	var out []Status
	for from, targets := range statusTransitions {
		for _, target := range targets {
			if target == next {
				out = append(out, from)
				break
			}
		}
	}
	return out
}
