package domain

// ProgressStatus is the milestone state of one participant on one assignment.
type ProgressStatus string

const (
	ProgressPending          ProgressStatus = "pending"
	ProgressWakeup           ProgressStatus = "wakeup"
	ProgressWakeupDelayed    ProgressStatus = "wakeup_delayed"
	ProgressDeparture        ProgressStatus = "departure"
	ProgressDepartureDelayed ProgressStatus = "departure_delayed"
	ProgressArrival          ProgressStatus = "arrival"
	ProgressArrivalDelayed   ProgressStatus = "arrival_delayed"
	ProgressCompleted        ProgressStatus = "completed"
	ProgressCanceled         ProgressStatus = "canceled"
	// ProgressDelayed is a generic display-only state kept for older records.
	ProgressDelayed ProgressStatus = "delayed"
)

// reportPredecessors maps each worker-reportable status to the statuses it
// may legally follow. Delayed variants count as their base state, so a
// participant the engine marked late can still report the next milestone.
var reportPredecessors = map[ProgressStatus][]ProgressStatus{
	ProgressWakeup:    {ProgressPending},
	ProgressDeparture: {ProgressWakeup, ProgressWakeupDelayed},
	ProgressArrival:   {ProgressDeparture, ProgressDepartureDelayed},
	ProgressCompleted: {ProgressArrival, ProgressArrivalDelayed},
}

// Valid reports whether s is a known progress status.
func (s ProgressStatus) Valid() bool {
	switch s {
	case ProgressPending, ProgressWakeup, ProgressWakeupDelayed,
		ProgressDeparture, ProgressDepartureDelayed,
		ProgressArrival, ProgressArrivalDelayed,
		ProgressCompleted, ProgressCanceled, ProgressDelayed:
		return true
	}
	return false
}

// Reportable reports whether s is a forward milestone a worker may set.
func (s ProgressStatus) Reportable() bool {
	_, ok := reportPredecessors[s]
	return ok
}

// IsDelayed reports whether s is one of the engine-written shadow states.
func (s ProgressStatus) IsDelayed() bool {
	switch s {
	case ProgressWakeupDelayed, ProgressDepartureDelayed, ProgressArrivalDelayed:
		return true
	}
	return false
}

// CanReport reports whether a worker self-report may move from -> to.
// Out-of-order reports are rejected: the engine assumes strict ordering and
// allowing skips would race its delayed writes.
func CanReport(from, to ProgressStatus) bool {
	preds, ok := reportPredecessors[to]
	if !ok {
		return false
	}
	for _, p := range preds {
		if p == from {
			return true
		}
	}
	return false
}

// Step returns the 0-3 milestone index used by UI progress bars.
func (s ProgressStatus) Step() int {
	switch s {
	case ProgressWakeup, ProgressWakeupDelayed:
		return 1
	case ProgressDeparture, ProgressDepartureDelayed:
		return 2
	case ProgressArrival, ProgressArrivalDelayed:
		return 3
	case ProgressCompleted:
		return 3
	default:
		return 0
	}
}

// Assignment lifecycle states.
const (
	AssignmentUnassigned = "unassigned"
	AssignmentAssigned   = "assigned"
	AssignmentConfirmed  = "confirmed"
)

// CanTransitionAssignment enforces the forward-only assignment lifecycle.
// Confirmed assignments never revert.
func CanTransitionAssignment(from, to string) bool {
	switch from {
	case AssignmentUnassigned:
		return to == AssignmentAssigned || to == AssignmentConfirmed
	case AssignmentAssigned:
		return to == AssignmentConfirmed
	}
	return false
}
