package crypto

import (
	"encoding/binary"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Protocol-derived addresses (PDAs) give every escrow, vault and reputation
// account a deterministic location with no private key behind it. Each account
// family carries its own tag so identical seed material can never collide
// across families.
const (
	PDATagEscrow          = "escrow"
	PDATagTokenEscrow     = "token_escrow"
	PDATagTokenVault      = "token_vault"
	PDATagMilestoneEscrow = "milestone_escrow"
	PDATagReputation      = "reputation"
)

var pdaDomain = []byte("agentescrow/pda/")

// DerivePDA maps a tag plus an ordered list of seeds to a 20-byte account
// address and a disambiguation bump. The function is pure and total: the bump
// is folded out of the seed digest rather than searched for, so identical
// inputs always yield identical outputs.
func DerivePDA(tag string, seeds ...[]byte) ([20]byte, uint8) {
	material := make([][]byte, 0, len(seeds)+2)
	material = append(material, pdaDomain, []byte(tag))
	material = append(material, seeds...)
	digest := ethcrypto.Keccak256(material...)
	bump := digest[len(digest)-1]
	final := ethcrypto.Keccak256(digest, []byte{bump})
	var addr [20]byte
	copy(addr[:], final[12:])
	return addr, bump
}

func escrowIDSeed(escrowID uint64) []byte {
	seed := make([]byte, 8)
	binary.LittleEndian.PutUint64(seed, escrowID)
	return seed
}

// EscrowPDA derives the account address for a native escrow. The (creator,
// escrowId) pair is the uniqueness scope.
func EscrowPDA(creator [20]byte, escrowID uint64) ([20]byte, uint8) {
	return DerivePDA(PDATagEscrow, creator[:], escrowIDSeed(escrowID))
}

// TokenEscrowPDA derives the account address for a token escrow.
func TokenEscrowPDA(creator [20]byte, escrowID uint64) ([20]byte, uint8) {
	return DerivePDA(PDATagTokenEscrow, creator[:], escrowIDSeed(escrowID))
}

// TokenVaultPDA derives the custody vault address for a token escrow account.
func TokenVaultPDA(escrowAddr [20]byte) ([20]byte, uint8) {
	return DerivePDA(PDATagTokenVault, escrowAddr[:])
}

// MilestoneEscrowPDA derives the account address for a milestone escrow.
func MilestoneEscrowPDA(creator [20]byte, escrowID uint64) ([20]byte, uint8) {
	return DerivePDA(PDATagMilestoneEscrow, creator[:], escrowIDSeed(escrowID))
}

// ReputationPDA derives the reputation account address for an agent. There is
// exactly one reputation account per agent identity.
func ReputationPDA(agent [20]byte) ([20]byte, uint8) {
	return DerivePDA(PDATagReputation, agent[:])
}
