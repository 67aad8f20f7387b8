package rpc

import (
	"encoding/hex"
	"fmt"
	"strings"

	"agentescrow/crypto"
	"agentescrow/native/escrow"
	"agentescrow/native/reputation"
)

// EscrowResult is the JSON view of a single-payout escrow account.
type EscrowResult struct {
	Address        string `json:"address"`
	Kind           string `json:"kind"`
	Creator        string `json:"creator"`
	Recipient      string `json:"recipient"`
	Mint           string `json:"mint,omitempty"`
	Vault          string `json:"vault,omitempty"`
	Amount         string `json:"amount"`
	Status         string `json:"status"`
	Deadline       int64  `json:"deadline"`
	TermsHash      string `json:"termsHash"`
	Arbiter        string `json:"arbiter"`
	FeeBasisPoints uint16 `json:"feeBasisPoints"`
	FeeRecipient   string `json:"feeRecipient"`
	CreatedAt      int64  `json:"createdAt"`
	EscrowID       uint64 `json:"escrowId"`
	DisputeReason  string `json:"disputeReason,omitempty"`
	AutoReleaseAt  int64  `json:"autoReleaseAt,omitempty"`
}

// MilestoneResult is the JSON view of one milestone within a milestone
// escrow.
type MilestoneResult struct {
	Index           int    `json:"index"`
	Amount          string `json:"amount"`
	Status          string `json:"status"`
	DescriptionHash string `json:"descriptionHash"`
}

// MilestoneEscrowResult is the JSON view of a milestone escrow account.
type MilestoneEscrowResult struct {
	Address        string            `json:"address"`
	Creator        string            `json:"creator"`
	Recipient      string            `json:"recipient"`
	TotalAmount    string            `json:"totalAmount"`
	ReleasedAmount string            `json:"releasedAmount"`
	Status         string            `json:"status"`
	Deadline       int64             `json:"deadline"`
	TermsHash      string            `json:"termsHash"`
	Arbiter        string            `json:"arbiter"`
	FeeBasisPoints uint16            `json:"feeBasisPoints"`
	FeeRecipient   string            `json:"feeRecipient"`
	CreatedAt      int64             `json:"createdAt"`
	EscrowID       uint64            `json:"escrowId"`
	Milestones     []MilestoneResult `json:"milestones"`
}

// ReputationResult is the JSON view of an agent's reputation account,
// including the derived rates.
type ReputationResult struct {
	Address           string  `json:"address"`
	Agent             string  `json:"agent"`
	EscrowsCreated    uint32  `json:"escrowsCreated"`
	EscrowsCompleted  uint32  `json:"escrowsCompleted"`
	EscrowsReceived   uint32  `json:"escrowsReceived"`
	TasksCompleted    uint32  `json:"tasksCompleted"`
	DisputesInitiated uint32  `json:"disputesInitiated"`
	DisputesWon       uint32  `json:"disputesWon"`
	DisputesLost      uint32  `json:"disputesLost"`
	TotalVolume       string  `json:"totalVolume"`
	LastActivity      int64   `json:"lastActivity"`
	CompletionRate    float64 `json:"completionRate"`
	TrustScore        float64 `json:"trustScore"`
}

func formatAddress(addr [20]byte) string {
	return crypto.NewAddress(crypto.AgentPrefix, addr[:]).String()
}

func parseAddress(raw string) ([20]byte, error) {
	var out [20]byte
	decoded, err := crypto.DecodeAddress(strings.TrimSpace(raw))
	if err != nil {
		return out, err
	}
	copy(out[:], decoded.Bytes())
	return out, nil
}

func parseHash32(raw string) ([32]byte, error) {
	var out [32]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return out, fmt.Errorf("invalid hash: %w", err)
	}
	if len(decoded) != 32 {
		return out, fmt.Errorf("invalid hash: expected 32 bytes, got %d", len(decoded))
	}
	copy(out[:], decoded)
	return out, nil
}

func parseWinner(raw string) (escrow.DisputeWinner, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "creator":
		return escrow.WinnerCreator, nil
	case "recipient":
		return escrow.WinnerRecipient, nil
	default:
		return 0, fmt.Errorf("invalid winner %q: expected creator or recipient", raw)
	}
}

func formatEscrowResult(esc *escrow.Escrow) EscrowResult {
	if esc == nil {
		return EscrowResult{}
	}
	result := EscrowResult{
		Address:        formatAddress(esc.Address),
		Kind:           esc.Kind.String(),
		Creator:        formatAddress(esc.Creator),
		Recipient:      formatAddress(esc.Recipient),
		Amount:         fmt.Sprintf("%d", esc.Amount),
		Status:         esc.Status.String(),
		Deadline:       esc.Deadline,
		TermsHash:      hex.EncodeToString(esc.TermsHash[:]),
		Arbiter:        formatAddress(esc.Arbiter),
		FeeBasisPoints: esc.FeeBasisPoints,
		FeeRecipient:   formatAddress(esc.FeeRecipient),
		CreatedAt:      esc.CreatedAt,
		EscrowID:       esc.EscrowID,
		AutoReleaseAt:  esc.AutoReleaseAt,
	}
	if esc.Kind == escrow.KindToken {
		result.Mint = formatAddress(esc.Mint)
		result.Vault = formatAddress(esc.Vault)
	}
	if reason := strings.TrimRight(string(esc.DisputeReason[:]), "\x00"); reason != "" {
		result.DisputeReason = reason
	}
	return result
}

func formatMilestoneEscrowResult(esc *escrow.MilestoneEscrow) MilestoneEscrowResult {
	if esc == nil {
		return MilestoneEscrowResult{}
	}
	milestones := make([]MilestoneResult, len(esc.Milestones))
	for i := range esc.Milestones {
		milestones[i] = MilestoneResult{
			Index:           i,
			Amount:          fmt.Sprintf("%d", esc.Milestones[i].Amount),
			Status:          esc.Milestones[i].Status.String(),
			DescriptionHash: hex.EncodeToString(esc.Milestones[i].DescriptionHash[:]),
		}
	}
	return MilestoneEscrowResult{
		Address:        formatAddress(esc.Address),
		Creator:        formatAddress(esc.Creator),
		Recipient:      formatAddress(esc.Recipient),
		TotalAmount:    fmt.Sprintf("%d", esc.TotalAmount),
		ReleasedAmount: fmt.Sprintf("%d", esc.ReleasedAmount),
		Status:         esc.Status.String(),
		Deadline:       esc.Deadline,
		TermsHash:      hex.EncodeToString(esc.TermsHash[:]),
		Arbiter:        formatAddress(esc.Arbiter),
		FeeBasisPoints: esc.FeeBasisPoints,
		FeeRecipient:   formatAddress(esc.FeeRecipient),
		CreatedAt:      esc.CreatedAt,
		EscrowID:       esc.EscrowID,
		Milestones:     milestones,
	}
}

func formatReputationResult(rep *reputation.Reputation) ReputationResult {
	if rep == nil {
		return ReputationResult{}
	}
	return ReputationResult{
		Address:           formatAddress(rep.Address),
		Agent:             formatAddress(rep.Agent),
		EscrowsCreated:    rep.EscrowsCreated,
		EscrowsCompleted:  rep.EscrowsCompleted,
		EscrowsReceived:   rep.EscrowsReceived,
		TasksCompleted:    rep.TasksCompleted,
		DisputesInitiated: rep.DisputesInitiated,
		DisputesWon:       rep.DisputesWon,
		DisputesLost:      rep.DisputesLost,
		TotalVolume:       fmt.Sprintf("%d", rep.TotalVolume),
		LastActivity:      rep.LastActivity,
		CompletionRate:    rep.CompletionRate(),
		TrustScore:        rep.TrustScore(),
	}
}
