package reputation

// Reputation accumulates per-agent activity counters across unrelated
// escrows. The account is keyed by the agent identity alone and lives
// independently of any single escrow's lifecycle.
type Reputation struct {
	Address [20]byte
	Bump    uint8
	Agent   [20]byte

	EscrowsCreated   uint32
	EscrowsCompleted uint32
	EscrowsReceived  uint32
	TasksCompleted   uint32

	DisputesInitiated uint32
	DisputesWon       uint32
	DisputesLost      uint32

	TotalVolume  uint64
	LastActivity int64
}

// Clone returns a deep copy.
func (r *Reputation) Clone() *Reputation {
	if r == nil {
		return nil
	}
	clone := *r
	return &clone
}

// CompletionRate derives the share of an agent's engagements that reached a
// successful payout. Returns 0 when the agent has no engagements.
func (r *Reputation) CompletionRate() float64 {
	if r == nil {
		return 0
	}
	denom := uint64(r.EscrowsCreated) + uint64(r.EscrowsReceived)
	if denom == 0 {
		return 0
	}
	num := uint64(r.EscrowsCompleted) + uint64(r.TasksCompleted)
	return float64(num) / float64(denom)
}

// TrustScore derives the agent's dispute win rate. Agents with no dispute
// history score 1.0.
func (r *Reputation) TrustScore() float64 {
	if r == nil {
		return 1.0
	}
	denom := uint64(r.DisputesWon) + uint64(r.DisputesLost)
	if denom == 0 {
		return 1.0
	}
	return float64(r.DisputesWon) / float64(denom)
}

func satAdd32(a, b uint32) uint32 {
	if sum := a + b; sum >= a {
		return sum
	}
	return ^uint32(0)
}

func satAdd64(a, b uint64) uint64 {
	if sum := a + b; sum >= a {
		return sum
	}
	return ^uint64(0)
}
