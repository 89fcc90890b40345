package escrow

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/quitanda/escrowops/internal/domain"
)

// Action identifies an escrow operation for authorization purposes.
type Action string

const (
	ActionConfirm Action = "confirm"
	ActionRelease Action = "release"
	ActionDispute Action = "dispute"
)

// Authorizer decides whether an actor may perform an action on a
// transaction. It is injected into the engine so the policy can evolve
// independently of the transition logic.
type Authorizer interface {
	Authorize(actorID uuid.UUID, txn *domain.PaymentTransaction, action Action) error
}

// PartyAuthorizer is the default policy: confirm and dispute require the
// actor to be a party to the transaction, release requires the buyer.
type PartyAuthorizer struct{}

func (PartyAuthorizer) Authorize(actorID uuid.UUID, txn *domain.PaymentTransaction, action Action) error {
	switch action {
	case ActionRelease:
		if actorID != txn.BuyerID {
			return ErrNotBuyer
		}
	case ActionConfirm, ActionDispute:
		if actorID != txn.BuyerID && actorID != txn.SellerID {
			return ErrNotParty
		}
	default:
		return fmt.Errorf("unknown action %q", action)
	}
	return nil
}
