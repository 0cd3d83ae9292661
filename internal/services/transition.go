package service

import (
	"github.com/paypass/wash-service/internal/gateway"
	"github.com/paypass/wash-service/internal/models"
)

// SideEffect names work the reconciler must perform after a transition.
type SideEffect int

const (
	EffectIssuePackage SideEffect = iota
	EffectPublishEvent
)

// Decision is the outcome of applying a gateway result to a payment state.
// When Transition is false the payment is left untouched: either the result
// is a duplicate delivery for a terminal payment, or the gateway is still
// processing and no terminal verdict exists yet.
type Decision struct {
	Next       models.PaymentStatus
	Transition bool
	Duplicate  bool
	Effects    []SideEffect
}

// Decide is the payment state machine: pending -> completed | failed, both
// terminal. It is pure so the transition table can be tested without any
// transport or storage in the picture.
func Decide(current models.PaymentStatus, outcome gateway.Outcome) Decision {
	if current.Terminal() {
		return Decision{Next: current, Duplicate: true}
	}

	switch outcome {
	case gateway.OutcomeSuccess:
		return Decision{
			Next:       models.PaymentCompleted,
			Transition: true,
			Effects:    []SideEffect{EffectIssuePackage, EffectPublishEvent},
		}
	case gateway.OutcomeFailure:
		return Decision{
			Next:       models.PaymentFailed,
			Transition: true,
			Effects:    []SideEffect{EffectPublishEvent},
		}
	default:
		// Still processing at the gateway: stay pending, wait for the next
		// delivery or poll.
		return Decision{Next: models.PaymentPending}
	}
}

func (d Decision) has(effect SideEffect) bool {
	for _, e := range d.Effects {
		if e == effect {
			return true
		}
	}
	return false
}
