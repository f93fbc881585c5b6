// Package order stores orders and moves them through their status lifecycle:
//
//	created → submitted → processing → shipped → delivered
//
// cancelled is reachable before shipped, failed from any non-terminal
// state. Nothing moves backward, and submitted is only entered through a
// successful hand-off to the fulfillment partner.
package order

import "storefront/internal/model"

// rank orders the main progression.
var rank = map[model.OrderStatus]int{
	model.OrderCreated:    0,
	model.OrderSubmitted:  1,
	model.OrderProcessing: 2,
	model.OrderShipped:    3,
	model.OrderDelivered:  4,
}

// ValidStatus reports whether s is a known status.
func ValidStatus(s model.OrderStatus) bool {
	_, ok := rank[s]
	return ok || s == model.OrderCancelled || s == model.OrderFailed
}

// IsTerminal reports whether no further transitions are possible from s.
func IsTerminal(s model.OrderStatus) bool {
	return s == model.OrderDelivered || s == model.OrderCancelled || s == model.OrderFailed
}

// CanTransition reports whether an order may move from one status to
// another. A created order may only be submitted, cancelled or failed;
// from submitted on, forward skips along the main progression are allowed.
func CanTransition(from, to model.OrderStatus) bool {
	if !ValidStatus(from) || !ValidStatus(to) || IsTerminal(from) || from == to {
		return false
	}
	switch to {
	case model.OrderFailed:
		return true
	case model.OrderCancelled:
		return rank[from] < rank[model.OrderShipped]
	}
	if from == model.OrderCreated {
		return to == model.OrderSubmitted
	}
	return rank[to] > rank[from]
}
