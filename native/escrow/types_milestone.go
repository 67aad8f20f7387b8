package escrow

import (
	"fmt"

	"agentescrow/native/fees"
)

// MaxMilestones caps the milestones of a single escrow. Exceeding the cap is a
// protocol rejection, never a silent truncation.
const MaxMilestones = 10

// MilestoneStatus represents the state of an individual milestone.
type MilestoneStatus uint8

const (
	MilestonePending MilestoneStatus = iota
	MilestoneReleased
	MilestoneDisputed
)

// Valid reports whether the milestone status is within the supported range.
func (s MilestoneStatus) Valid() bool {
	return s <= MilestoneDisputed
}

func (s MilestoneStatus) String() string {
	switch s {
	case MilestonePending:
		return "pending"
	case MilestoneReleased:
		return "released"
	case MilestoneDisputed:
		return "disputed"
	default:
		return fmt.Sprintf("milestoneStatus(%d)", uint8(s))
	}
}

// Milestone is one independently releasable slice of a milestone escrow.
type Milestone struct {
	Amount          uint64
	Status          MilestoneStatus
	DescriptionHash [32]byte
}

// MilestoneInput is the caller-supplied definition of a milestone at creation.
type MilestoneInput struct {
	Amount          uint64
	DescriptionHash [32]byte
}

// MilestoneEscrow is an escrow split into 1..MaxMilestones independently
// releasable and disputable milestones. TotalAmount is fixed at creation;
// ReleasedAmount accumulates as milestones pay out.
type MilestoneEscrow struct {
	Address        [20]byte
	Bump           uint8
	Creator        [20]byte
	Recipient      [20]byte
	TotalAmount    uint64
	ReleasedAmount uint64
	Status         Status
	Deadline       int64
	TermsHash      [32]byte
	Arbiter        [20]byte
	FeeBasisPoints uint16
	FeeRecipient   [20]byte
	CreatedAt      int64
	EscrowID       uint64
	Milestones     []Milestone
}

// Clone returns a deep copy of the milestone escrow.
func (m *MilestoneEscrow) Clone() *MilestoneEscrow {
	if m == nil {
		return nil
	}
	clone := *m
	clone.Milestones = make([]Milestone, len(m.Milestones))
	copy(clone.Milestones, m.Milestones)
	return &clone
}

// AllReleased reports whether every milestone has been released.
func (m *MilestoneEscrow) AllReleased() bool {
	for i := range m.Milestones {
		if m.Milestones[i].Status != MilestoneReleased {
			return false
		}
	}
	return len(m.Milestones) > 0
}

// Sanitize validates the structural invariants of a milestone escrow record.
func (m *MilestoneEscrow) Sanitize() error {
	if m == nil {
		return fmt.Errorf("escrow: nil milestone escrow")
	}
	if !m.Status.Valid() {
		return fmt.Errorf("escrow: invalid status %d", m.Status)
	}
	if len(m.Milestones) == 0 || len(m.Milestones) > MaxMilestones {
		return ErrTooManyMilestones
	}
	if m.FeeBasisPoints > 1000 {
		return ErrFeeTooHigh
	}
	amounts := make([]uint64, len(m.Milestones))
	for i := range m.Milestones {
		if !m.Milestones[i].Status.Valid() {
			return fmt.Errorf("escrow: invalid milestone status %d", m.Milestones[i].Status)
		}
		amounts[i] = m.Milestones[i].Amount
	}
	total, err := fees.SumAmounts(amounts)
	if err != nil {
		return ErrOverflow
	}
	if total != m.TotalAmount {
		return ErrMilestoneAmountMismatch
	}
	if m.ReleasedAmount > m.TotalAmount {
		return fmt.Errorf("escrow: released amount exceeds total")
	}
	return nil
}
