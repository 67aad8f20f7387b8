package reputation

import (
	"encoding/hex"
	"strconv"

	"agentescrow/core/types"
)

const (
	EventTypeInitialized = "reputation.initialized"
	EventTypeUpdated     = "reputation.updated"
)

type reputationEvent struct {
	evt *types.Event
}

func (e reputationEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e reputationEvent) Event() *types.Event { return e.evt }

// NewInitializedEvent returns the payload emitted when an agent's account is
// first created.
func NewInitializedEvent(rep *Reputation) *types.Event {
	return newReputationEvent(EventTypeInitialized, rep)
}

// NewUpdatedEvent returns the payload emitted after counters change.
func NewUpdatedEvent(rep *Reputation) *types.Event {
	return newReputationEvent(EventTypeUpdated, rep)
}

func newReputationEvent(eventType string, rep *Reputation) *types.Event {
	attrs := make(map[string]string)
	if rep == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["address"] = hex.EncodeToString(rep.Address[:])
	attrs["agent"] = hex.EncodeToString(rep.Agent[:])
	attrs["escrowsCreated"] = strconv.FormatUint(uint64(rep.EscrowsCreated), 10)
	attrs["escrowsCompleted"] = strconv.FormatUint(uint64(rep.EscrowsCompleted), 10)
	attrs["escrowsReceived"] = strconv.FormatUint(uint64(rep.EscrowsReceived), 10)
	attrs["tasksCompleted"] = strconv.FormatUint(uint64(rep.TasksCompleted), 10)
	attrs["disputesInitiated"] = strconv.FormatUint(uint64(rep.DisputesInitiated), 10)
	attrs["disputesWon"] = strconv.FormatUint(uint64(rep.DisputesWon), 10)
	attrs["disputesLost"] = strconv.FormatUint(uint64(rep.DisputesLost), 10)
	attrs["totalVolume"] = strconv.FormatUint(rep.TotalVolume, 10)
	attrs["lastActivity"] = strconv.FormatInt(rep.LastActivity, 10)
	return &types.Event{Type: eventType, Attributes: attrs}
}
