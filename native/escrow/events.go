package escrow

import (
	"encoding/hex"
	"strconv"

	"agentescrow/core/types"
)

const (
	EventTypeEscrowCreated      = "escrow.created"
	EventTypeEscrowAccepted     = "escrow.accepted"
	EventTypeEscrowReleased     = "escrow.released"
	EventTypeEscrowAutoReleased = "escrow.autoReleased"
	EventTypeEscrowRefunded     = "escrow.refunded"
	EventTypeEscrowDisputed     = "escrow.disputed"
	EventTypeEscrowResolved     = "escrow.resolved"

	EventTypeMilestoneCreated  = "escrow.milestone.created"
	EventTypeMilestoneAccepted = "escrow.milestone.accepted"
	EventTypeMilestoneReleased = "escrow.milestone.released"
	EventTypeMilestoneDisputed = "escrow.milestone.disputed"
	EventTypeMilestoneResolved = "escrow.milestone.resolved"
	EventTypeMilestoneRefunded = "escrow.milestone.refunded"
)

// NewCreatedEvent returns the canonical event payload for a newly created
// escrow of either kind.
func NewCreatedEvent(e *Escrow) *types.Event { return newEscrowEvent(EventTypeEscrowCreated, e) }

// NewAcceptedEvent returns the canonical event payload emitted when the
// recipient accepts the task.
func NewAcceptedEvent(e *Escrow) *types.Event { return newEscrowEvent(EventTypeEscrowAccepted, e) }

// NewReleasedEvent returns the canonical event payload for a release of
// escrowed funds to the recipient.
func NewReleasedEvent(e *Escrow) *types.Event { return newEscrowEvent(EventTypeEscrowReleased, e) }

// NewAutoReleasedEvent returns the payload for the caller-independent release
// path, recording which identity triggered it.
func NewAutoReleasedEvent(e *Escrow, caller [20]byte) *types.Event {
	evt := newEscrowEvent(EventTypeEscrowAutoReleased, e)
	evt.Attributes["caller"] = hex.EncodeToString(caller[:])
	return evt
}

// NewRefundedEvent returns the canonical event payload for a refund or
// cancellation back to the creator.
func NewRefundedEvent(e *Escrow) *types.Event { return newEscrowEvent(EventTypeEscrowRefunded, e) }

// NewDisputedEvent returns the payload emitted when an escrow is disputed.
func NewDisputedEvent(e *Escrow, disputer [20]byte) *types.Event {
	evt := newEscrowEvent(EventTypeEscrowDisputed, e)
	evt.Attributes["disputer"] = hex.EncodeToString(disputer[:])
	return evt
}

// NewResolvedEvent returns the payload emitted when an arbiter resolves a
// dispute.
func NewResolvedEvent(e *Escrow, winner DisputeWinner) *types.Event {
	evt := newEscrowEvent(EventTypeEscrowResolved, e)
	evt.Attributes["winner"] = winnerLabel(winner)
	return evt
}

func newEscrowEvent(eventType string, e *Escrow) *types.Event {
	attrs := make(map[string]string)
	if e == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["address"] = hex.EncodeToString(e.Address[:])
	attrs["creator"] = hex.EncodeToString(e.Creator[:])
	attrs["recipient"] = hex.EncodeToString(e.Recipient[:])
	attrs["amount"] = strconv.FormatUint(e.Amount, 10)
	attrs["feeBps"] = strconv.FormatUint(uint64(e.FeeBasisPoints), 10)
	attrs["status"] = e.Status.String()
	attrs["escrowId"] = strconv.FormatUint(e.EscrowID, 10)
	attrs["deadline"] = strconv.FormatInt(e.Deadline, 10)
	attrs["createdAt"] = strconv.FormatInt(e.CreatedAt, 10)
	if e.Kind == KindToken {
		attrs["mint"] = hex.EncodeToString(e.Mint[:])
		attrs["vault"] = hex.EncodeToString(e.Vault[:])
	}
	if e.AutoReleaseAt != 0 {
		attrs["autoReleaseAt"] = strconv.FormatInt(e.AutoReleaseAt, 10)
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}

// NewMilestoneCreatedEvent returns the payload for a new milestone escrow.
func NewMilestoneCreatedEvent(m *MilestoneEscrow) *types.Event {
	return newMilestoneEvent(EventTypeMilestoneCreated, m)
}

// NewMilestoneAcceptedEvent returns the payload emitted when the recipient
// accepts a milestone escrow.
func NewMilestoneAcceptedEvent(m *MilestoneEscrow) *types.Event {
	return newMilestoneEvent(EventTypeMilestoneAccepted, m)
}

// NewMilestoneReleasedEvent returns the payload for a single milestone
// payout.
func NewMilestoneReleasedEvent(m *MilestoneEscrow, index uint8) *types.Event {
	evt := newMilestoneEvent(EventTypeMilestoneReleased, m)
	evt.Attributes["milestoneIndex"] = strconv.FormatUint(uint64(index), 10)
	return evt
}

// NewMilestoneDisputedEvent returns the payload for a milestone dispute.
func NewMilestoneDisputedEvent(m *MilestoneEscrow, index uint8, disputer [20]byte) *types.Event {
	evt := newMilestoneEvent(EventTypeMilestoneDisputed, m)
	evt.Attributes["milestoneIndex"] = strconv.FormatUint(uint64(index), 10)
	evt.Attributes["disputer"] = hex.EncodeToString(disputer[:])
	return evt
}

// NewMilestoneResolvedEvent returns the payload for an arbiter ruling on one
// milestone.
func NewMilestoneResolvedEvent(m *MilestoneEscrow, index uint8, winner DisputeWinner) *types.Event {
	evt := newMilestoneEvent(EventTypeMilestoneResolved, m)
	evt.Attributes["milestoneIndex"] = strconv.FormatUint(uint64(index), 10)
	evt.Attributes["winner"] = winnerLabel(winner)
	return evt
}

// NewMilestoneRefundedEvent returns the payload for a refund of the
// unreleased remainder.
func NewMilestoneRefundedEvent(m *MilestoneEscrow, unreleased uint64) *types.Event {
	evt := newMilestoneEvent(EventTypeMilestoneRefunded, m)
	evt.Attributes["unreleased"] = strconv.FormatUint(unreleased, 10)
	return evt
}

func newMilestoneEvent(eventType string, m *MilestoneEscrow) *types.Event {
	attrs := make(map[string]string)
	if m == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["address"] = hex.EncodeToString(m.Address[:])
	attrs["creator"] = hex.EncodeToString(m.Creator[:])
	attrs["recipient"] = hex.EncodeToString(m.Recipient[:])
	attrs["totalAmount"] = strconv.FormatUint(m.TotalAmount, 10)
	attrs["releasedAmount"] = strconv.FormatUint(m.ReleasedAmount, 10)
	attrs["status"] = m.Status.String()
	attrs["escrowId"] = strconv.FormatUint(m.EscrowID, 10)
	attrs["milestoneCount"] = strconv.Itoa(len(m.Milestones))
	return &types.Event{Type: eventType, Attributes: attrs}
}

func winnerLabel(w DisputeWinner) string {
	if w == WinnerRecipient {
		return "recipient"
	}
	return "creator"
}
