package state

import (
	"errors"
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"agentescrow/core/types"
	"agentescrow/native/escrow"
	"agentescrow/native/reputation"
	"agentescrow/storage"
)

// ErrInsufficientBalance rejects debits and token transfers that exceed the
// source balance.
var ErrInsufficientBalance = errors.New("state: insufficient balance")

var (
	accountPrefix      = []byte("account/")
	escrowPrefix       = []byte("escrow/")
	milestonePrefix    = []byte("milestone-escrow/")
	reputationPrefix   = []byte("reputation/")
	tokenBalancePrefix = []byte("token-balance/")
	escrowIndexPrefix  = []byte("escrow-index/")
)

func prefixedKey(prefix []byte, parts ...[]byte) []byte {
	size := len(prefix)
	for _, p := range parts {
		size += len(p) + 1
	}
	buf := make([]byte, 0, size)
	buf = append(buf, prefix...)
	for _, p := range parts {
		buf = append(buf, p...)
		buf = append(buf, ':')
	}
	return ethcrypto.Keccak256(buf)
}

func accountKey(addr [20]byte) []byte     { return prefixedKey(accountPrefix, addr[:]) }
func escrowKey(addr [20]byte) []byte      { return prefixedKey(escrowPrefix, addr[:]) }
func milestoneKey(addr [20]byte) []byte   { return prefixedKey(milestonePrefix, addr[:]) }
func reputationKey(addr [20]byte) []byte  { return prefixedKey(reputationPrefix, addr[:]) }
func escrowIndexKey(creator [20]byte) []byte {
	return prefixedKey(escrowIndexPrefix, creator[:])
}
func tokenBalanceKey(mint, addr [20]byte) []byte {
	return prefixedKey(tokenBalancePrefix, mint[:], addr[:])
}

// Manager buffers one atomic state transition over the backing database.
// Reads observe buffered writes; nothing reaches the database until Commit.
// A Manager is not safe for concurrent use; the owner serialises operations.
type Manager struct {
	db     storage.Database
	writes map[string][]byte
}

// NewManager creates a transaction-scoped manager over db.
func NewManager(db storage.Database) *Manager {
	return &Manager{
		db:     db,
		writes: make(map[string][]byte),
	}
}

// Commit flushes every buffered write to the database through a single
// atomic batch. A nil buffered value is a deletion. On error nothing has
// been persisted and the buffer is kept, so the owner can still Discard.
func (m *Manager) Commit() error {
	if len(m.writes) == 0 {
		return nil
	}
	batch := new(storage.Batch)
	for key, value := range m.writes {
		if value == nil {
			batch.Delete([]byte(key))
			continue
		}
		batch.Put([]byte(key), value)
	}
	if err := m.db.Write(batch); err != nil {
		return fmt.Errorf("state: commit: %w", err)
	}
	m.writes = make(map[string][]byte)
	return nil
}

// Discard drops every buffered write.
func (m *Manager) Discard() {
	m.writes = make(map[string][]byte)
}

func (m *Manager) rawGet(key []byte) ([]byte, bool, error) {
	if value, staged := m.writes[string(key)]; staged {
		if value == nil {
			return nil, false, nil
		}
		return value, true, nil
	}
	value, err := m.db.Get(key)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (m *Manager) rawPut(key, value []byte) {
	m.writes[string(key)] = value
}

func (m *Manager) rawDelete(key []byte) {
	m.writes[string(key)] = nil
}

// GetAccount loads the native balance account for addr, defaulting to a
// zero-balance account when none exists yet.
func (m *Manager) GetAccount(addr [20]byte) (*types.Account, error) {
	data, ok, err := m.rawGet(accountKey(addr))
	if err != nil {
		return nil, err
	}
	if !ok {
		return types.NewAccount(), nil
	}
	account := new(types.Account)
	if err := rlp.DecodeBytes(data, account); err != nil {
		return nil, fmt.Errorf("state: decode account: %w", err)
	}
	if account.Balance == nil {
		account.Balance = big.NewInt(0)
	}
	return account, nil
}

// PutAccount stores the native balance account for addr.
func (m *Manager) PutAccount(addr [20]byte, account *types.Account) error {
	if account == nil {
		return errors.New("state: nil account")
	}
	if account.Balance == nil {
		account.Balance = big.NewInt(0)
	}
	encoded, err := rlp.EncodeToBytes(account)
	if err != nil {
		return fmt.Errorf("state: encode account: %w", err)
	}
	m.rawPut(accountKey(addr), encoded)
	return nil
}

// NativeCredit adds amount to addr's native balance.
func (m *Manager) NativeCredit(addr [20]byte, amount uint64) error {
	account, err := m.GetAccount(addr)
	if err != nil {
		return err
	}
	account.Balance = new(big.Int).Add(account.Balance, new(big.Int).SetUint64(amount))
	return m.PutAccount(addr, account)
}

// NativeDebit removes amount from addr's native balance, rejecting
// overdrafts.
func (m *Manager) NativeDebit(addr [20]byte, amount uint64) error {
	account, err := m.GetAccount(addr)
	if err != nil {
		return err
	}
	delta := new(big.Int).SetUint64(amount)
	if account.Balance.Cmp(delta) < 0 {
		return ErrInsufficientBalance
	}
	account.Balance = new(big.Int).Sub(account.Balance, delta)
	return m.PutAccount(addr, account)
}

// TokenBalance reads addr's balance in the given mint.
func (m *Manager) TokenBalance(mint, addr [20]byte) (uint64, error) {
	data, ok, err := m.rawGet(tokenBalanceKey(mint, addr))
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	var balance uint64
	if err := rlp.DecodeBytes(data, &balance); err != nil {
		return 0, fmt.Errorf("state: decode token balance: %w", err)
	}
	return balance, nil
}

func (m *Manager) setTokenBalance(mint, addr [20]byte, balance uint64) error {
	key := tokenBalanceKey(mint, addr)
	if balance == 0 {
		m.rawDelete(key)
		return nil
	}
	encoded, err := rlp.EncodeToBytes(balance)
	if err != nil {
		return fmt.Errorf("state: encode token balance: %w", err)
	}
	m.rawPut(key, encoded)
	return nil
}

// TokenTransfer moves amount of mint from one holder to another, rejecting
// overdrafts and receiver overflow.
func (m *Manager) TokenTransfer(mint, from, to [20]byte, amount uint64) error {
	if amount == 0 {
		return nil
	}
	if from == to {
		return nil
	}
	fromBalance, err := m.TokenBalance(mint, from)
	if err != nil {
		return err
	}
	if fromBalance < amount {
		return ErrInsufficientBalance
	}
	toBalance, err := m.TokenBalance(mint, to)
	if err != nil {
		return err
	}
	if toBalance+amount < toBalance {
		return errors.New("state: token balance overflow")
	}
	if err := m.setTokenBalance(mint, from, fromBalance-amount); err != nil {
		return err
	}
	return m.setTokenBalance(mint, to, toBalance+amount)
}

// TokenMint credits freshly issued units of mint to addr.
func (m *Manager) TokenMint(mint, addr [20]byte, amount uint64) error {
	balance, err := m.TokenBalance(mint, addr)
	if err != nil {
		return err
	}
	if balance+amount < balance {
		return errors.New("state: token balance overflow")
	}
	return m.setTokenBalance(mint, addr, balance+amount)
}

// EscrowPut stores esc under its derived address.
func (m *Manager) EscrowPut(esc *escrow.Escrow) error {
	if esc == nil {
		return errors.New("state: nil escrow")
	}
	encoded, err := escrow.EncodeEscrow(esc)
	if err != nil {
		return err
	}
	m.rawPut(escrowKey(esc.Address), encoded)
	return nil
}

// EscrowGet loads the escrow stored at addr.
func (m *Manager) EscrowGet(addr [20]byte) (*escrow.Escrow, bool, error) {
	data, ok, err := m.rawGet(escrowKey(addr))
	if err != nil || !ok {
		return nil, false, err
	}
	esc, err := escrow.DecodeEscrow(data)
	if err != nil {
		return nil, false, err
	}
	return esc, true, nil
}

// EscrowDelete removes the escrow account at addr.
func (m *Manager) EscrowDelete(addr [20]byte) error {
	m.rawDelete(escrowKey(addr))
	return nil
}

// MilestoneEscrowPut stores esc under its derived address.
func (m *Manager) MilestoneEscrowPut(esc *escrow.MilestoneEscrow) error {
	if esc == nil {
		return errors.New("state: nil milestone escrow")
	}
	encoded, err := escrow.EncodeMilestoneEscrow(esc)
	if err != nil {
		return err
	}
	m.rawPut(milestoneKey(esc.Address), encoded)
	return nil
}

// MilestoneEscrowGet loads the milestone escrow stored at addr.
func (m *Manager) MilestoneEscrowGet(addr [20]byte) (*escrow.MilestoneEscrow, bool, error) {
	data, ok, err := m.rawGet(milestoneKey(addr))
	if err != nil || !ok {
		return nil, false, err
	}
	esc, err := escrow.DecodeMilestoneEscrow(data)
	if err != nil {
		return nil, false, err
	}
	return esc, true, nil
}

// MilestoneEscrowDelete removes the milestone escrow account at addr.
func (m *Manager) MilestoneEscrowDelete(addr [20]byte) error {
	m.rawDelete(milestoneKey(addr))
	return nil
}

// ReputationPut stores rep under its derived address.
func (m *Manager) ReputationPut(rep *reputation.Reputation) error {
	if rep == nil {
		return errors.New("state: nil reputation")
	}
	encoded, err := reputation.Encode(rep)
	if err != nil {
		return err
	}
	m.rawPut(reputationKey(rep.Address), encoded)
	return nil
}

// ReputationGet loads the reputation account stored at addr.
func (m *Manager) ReputationGet(addr [20]byte) (*reputation.Reputation, bool, error) {
	data, ok, err := m.rawGet(reputationKey(addr))
	if err != nil || !ok {
		return nil, false, err
	}
	rep, err := reputation.Decode(data)
	if err != nil {
		return nil, false, err
	}
	return rep, true, nil
}

func (m *Manager) loadEscrowIndex(creator [20]byte) ([][]byte, error) {
	data, ok, err := m.rawGet(escrowIndexKey(creator))
	if err != nil || !ok {
		return nil, err
	}
	var list [][]byte
	if err := rlp.DecodeBytes(data, &list); err != nil {
		return nil, fmt.Errorf("state: decode escrow index: %w", err)
	}
	return list, nil
}

func (m *Manager) writeEscrowIndex(creator [20]byte, list [][]byte) error {
	key := escrowIndexKey(creator)
	if len(list) == 0 {
		m.rawDelete(key)
		return nil
	}
	encoded, err := rlp.EncodeToBytes(list)
	if err != nil {
		return fmt.Errorf("state: encode escrow index: %w", err)
	}
	m.rawPut(key, encoded)
	return nil
}

// EscrowIndexAppend records addr in creator's open-escrow index.
func (m *Manager) EscrowIndexAppend(creator, addr [20]byte) error {
	list, err := m.loadEscrowIndex(creator)
	if err != nil {
		return err
	}
	for _, entry := range list {
		if len(entry) == 20 && [20]byte(entry) == addr {
			return nil
		}
	}
	list = append(list, addr[:])
	return m.writeEscrowIndex(creator, list)
}

// EscrowIndexRemove drops addr from creator's open-escrow index.
func (m *Manager) EscrowIndexRemove(creator, addr [20]byte) error {
	list, err := m.loadEscrowIndex(creator)
	if err != nil {
		return err
	}
	filtered := list[:0]
	for _, entry := range list {
		if len(entry) == 20 && [20]byte(entry) == addr {
			continue
		}
		filtered = append(filtered, entry)
	}
	return m.writeEscrowIndex(creator, filtered)
}

// EscrowIndex returns the addresses of creator's open escrows, both
// single-payout and milestone.
func (m *Manager) EscrowIndex(creator [20]byte) ([][20]byte, error) {
	list, err := m.loadEscrowIndex(creator)
	if err != nil {
		return nil, err
	}
	addrs := make([][20]byte, 0, len(list))
	for _, entry := range list {
		if len(entry) != 20 {
			return nil, fmt.Errorf("state: malformed escrow index entry of %d bytes", len(entry))
		}
		addrs = append(addrs, [20]byte(entry))
	}
	return addrs, nil
}
