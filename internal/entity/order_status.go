package entity

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusRouting   OrderStatus = "routing"
	OrderStatusBuilding  OrderStatus = "building"
	OrderStatusSubmitted OrderStatus = "submitted"
	OrderStatusConfirmed OrderStatus = "confirmed"
	OrderStatusFailed    OrderStatus = "failed"
)

// OrderLifecycle is the normal progression of a market order.
var OrderLifecycle = []OrderStatus{
	OrderStatusPending,
	OrderStatusRouting,
	OrderStatusBuilding,
	OrderStatusSubmitted,
	OrderStatusConfirmed,
}

func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusConfirmed || s == OrderStatusFailed
}

func (s OrderStatus) IsValid() bool {
	return s == OrderStatusFailed || s.lifecycleIndex() >= 0
}

func (s OrderStatus) lifecycleIndex() int {
	for i, status := range OrderLifecycle {
		if status == s {
			return i
		}
	}

	return -1
}

// CanTransitionTo reports whether next may follow s. Staying on pending is allowed
// because the coordinator re-affirms the status written by the submission path.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	if s.IsTerminal() || !s.IsValid() || !next.IsValid() {
		return false
	}

	if next == OrderStatusFailed {
		return true
	}

	if s == OrderStatusPending && next == OrderStatusPending {
		return true
	}

	return next.lifecycleIndex() == s.lifecycleIndex()+1
}

// MissingTransitions returns the statuses that must follow recorded to reach target,
// target included. recorded must be a legal prefix of the lifecycle.
func MissingTransitions(recorded []OrderStatus, target OrderStatus) []OrderStatus {
	if len(recorded) > 0 && recorded[len(recorded)-1].IsTerminal() {
		return nil
	}

	if target == OrderStatusFailed {
		return []OrderStatus{OrderStatusFailed}
	}

	idx := target.lifecycleIndex()
	if idx < len(recorded) {
		return nil
	}

	return append([]OrderStatus(nil), OrderLifecycle[len(recorded):idx+1]...)
}
