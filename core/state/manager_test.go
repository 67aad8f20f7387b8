package state

import (
	"errors"
	"math"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"agentescrow/crypto"
	"agentescrow/native/escrow"
	"agentescrow/native/reputation"
	"agentescrow/storage"
)

func testAddr(tag byte) [20]byte {
	var out [20]byte
	for i := range out {
		out[i] = tag
	}
	return out
}

// writeFailDB simulates a backend whose atomic write fails outright.
type writeFailDB struct {
	*storage.MemDB
	failWrites bool
}

func (db *writeFailDB) Write(batch *storage.Batch) error {
	if db.failWrites {
		return errors.New("write failed")
	}
	return db.MemDB.Write(batch)
}

func TestCommitFlushesOverlayToStorage(t *testing.T) {
	db := storage.NewMemDB()
	addr := testAddr(0x01)

	first := NewManager(db)
	require.NoError(t, first.NativeCredit(addr, 500))

	// Uncommitted writes are invisible to a second transaction.
	other := NewManager(db)
	account, err := other.GetAccount(addr)
	require.NoError(t, err)
	require.Zero(t, account.Balance.Sign())

	require.NoError(t, first.Commit())

	after := NewManager(db)
	account, err = after.GetAccount(addr)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(500), account.Balance)
}

func TestCommitIsAtomicWhenBackendFails(t *testing.T) {
	db := &writeFailDB{MemDB: storage.NewMemDB(), failWrites: true}
	first := testAddr(0x0a)
	second := testAddr(0x0b)

	mgr := NewManager(db)
	require.NoError(t, mgr.NativeCredit(first, 700))
	require.NoError(t, mgr.NativeCredit(second, 300))
	require.Error(t, mgr.Commit())

	// Neither account from the failed transaction is durable.
	fresh := NewManager(db)
	account, err := fresh.GetAccount(first)
	require.NoError(t, err)
	require.Zero(t, account.Balance.Sign())
	account, err = fresh.GetAccount(second)
	require.NoError(t, err)
	require.Zero(t, account.Balance.Sign())

	// The buffer survives the failure and commits intact once the backend
	// recovers.
	db.failWrites = false
	require.NoError(t, mgr.Commit())
	account, err = NewManager(db).GetAccount(first)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(700), account.Balance)
	account, err = NewManager(db).GetAccount(second)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(300), account.Balance)
}

func TestDiscardDropsOverlay(t *testing.T) {
	db := storage.NewMemDB()
	addr := testAddr(0x02)

	mgr := NewManager(db)
	require.NoError(t, mgr.NativeCredit(addr, 500))
	require.NoError(t, mgr.Commit())

	mgr = NewManager(db)
	require.NoError(t, mgr.NativeDebit(addr, 300))
	mgr.Discard()
	require.NoError(t, mgr.Commit())

	account, err := NewManager(db).GetAccount(addr)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(500), account.Balance)
}

func TestOverlayReadsItsOwnWrites(t *testing.T) {
	db := storage.NewMemDB()
	addr := testAddr(0x03)

	mgr := NewManager(db)
	require.NoError(t, mgr.NativeCredit(addr, 100))
	require.NoError(t, mgr.NativeDebit(addr, 40))

	account, err := mgr.GetAccount(addr)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(60), account.Balance)
}

func TestNativeDebitRejectsOverdraft(t *testing.T) {
	db := storage.NewMemDB()
	addr := testAddr(0x04)

	mgr := NewManager(db)
	require.NoError(t, mgr.NativeCredit(addr, 10))
	require.ErrorIs(t, mgr.NativeDebit(addr, 11), ErrInsufficientBalance)
}

func TestTokenTransferSemantics(t *testing.T) {
	db := storage.NewMemDB()
	mint := testAddr(0x10)
	from := testAddr(0x11)
	to := testAddr(0x12)

	mgr := NewManager(db)
	require.NoError(t, mgr.TokenMint(mint, from, 1_000))
	require.NoError(t, mgr.TokenTransfer(mint, from, to, 400))

	fromBal, err := mgr.TokenBalance(mint, from)
	require.NoError(t, err)
	require.Equal(t, uint64(600), fromBal)
	toBal, err := mgr.TokenBalance(mint, to)
	require.NoError(t, err)
	require.Equal(t, uint64(400), toBal)

	// Overdraft and self/zero transfers.
	require.ErrorIs(t, mgr.TokenTransfer(mint, from, to, 601), ErrInsufficientBalance)
	require.NoError(t, mgr.TokenTransfer(mint, from, from, 600))
	require.NoError(t, mgr.TokenTransfer(mint, from, to, 0))
	fromBal, err = mgr.TokenBalance(mint, from)
	require.NoError(t, err)
	require.Equal(t, uint64(600), fromBal)
}

func TestTokenTransferRejectsReceiverOverflow(t *testing.T) {
	db := storage.NewMemDB()
	mint := testAddr(0x10)
	from := testAddr(0x11)
	to := testAddr(0x12)

	mgr := NewManager(db)
	require.NoError(t, mgr.TokenMint(mint, from, 2))
	require.NoError(t, mgr.TokenMint(mint, to, math.MaxUint64))
	require.Error(t, mgr.TokenTransfer(mint, from, to, 1))
}

func TestTokenBalanceDistinctPerMint(t *testing.T) {
	db := storage.NewMemDB()
	holder := testAddr(0x20)

	mgr := NewManager(db)
	require.NoError(t, mgr.TokenMint(testAddr(0x21), holder, 7))

	other, err := mgr.TokenBalance(testAddr(0x22), holder)
	require.NoError(t, err)
	require.Zero(t, other)
}

func TestEscrowPersistenceRoundTrip(t *testing.T) {
	db := storage.NewMemDB()
	creator := testAddr(0x30)

	esc := &escrow.Escrow{
		Kind:           escrow.KindNative,
		Creator:        creator,
		Recipient:      testAddr(0x31),
		Arbiter:        testAddr(0x32),
		FeeRecipient:   testAddr(0x33),
		Amount:         1_000,
		Status:         escrow.StatusCreated,
		Deadline:       2_000,
		FeeBasisPoints: 100,
		CreatedAt:      1_000,
		EscrowID:       1,
	}
	esc.Address, esc.Bump = crypto.EscrowPDA(creator, esc.EscrowID)

	mgr := NewManager(db)
	require.NoError(t, mgr.EscrowPut(esc))
	require.NoError(t, mgr.Commit())

	mgr = NewManager(db)
	got, ok, err := mgr.EscrowGet(esc.Address)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, esc, got)

	require.NoError(t, mgr.EscrowDelete(esc.Address))
	require.NoError(t, mgr.Commit())

	_, ok, err = NewManager(db).EscrowGet(esc.Address)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestReputationPersistenceRoundTrip(t *testing.T) {
	db := storage.NewMemDB()
	agent := testAddr(0x40)

	rep := &reputation.Reputation{
		Agent:            agent,
		EscrowsCreated:   2,
		EscrowsCompleted: 1,
		TotalVolume:      50_000_000,
		LastActivity:     1_500,
	}
	rep.Address, rep.Bump = crypto.ReputationPDA(agent)

	mgr := NewManager(db)
	require.NoError(t, mgr.ReputationPut(rep))
	require.NoError(t, mgr.Commit())

	got, ok, err := NewManager(db).ReputationGet(rep.Address)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, rep, got)
}

func TestEscrowIndexTracksCreatorEscrows(t *testing.T) {
	db := storage.NewMemDB()
	creator := testAddr(0x50)
	first := testAddr(0x51)
	second := testAddr(0x52)

	mgr := NewManager(db)
	require.NoError(t, mgr.EscrowIndexAppend(creator, first))
	require.NoError(t, mgr.EscrowIndexAppend(creator, second))
	require.NoError(t, mgr.EscrowIndexAppend(creator, first)) // dedupe
	require.NoError(t, mgr.Commit())

	mgr = NewManager(db)
	entries, err := mgr.EscrowIndex(creator)
	require.NoError(t, err)
	require.Equal(t, [][20]byte{first, second}, entries)

	require.NoError(t, mgr.EscrowIndexRemove(creator, first))
	require.NoError(t, mgr.Commit())

	entries, err = NewManager(db).EscrowIndex(creator)
	require.NoError(t, err)
	require.Equal(t, [][20]byte{second}, entries)

	// Removing the last entry clears the index record entirely.
	mgr = NewManager(db)
	require.NoError(t, mgr.EscrowIndexRemove(creator, second))
	require.NoError(t, mgr.Commit())

	entries, err = NewManager(db).EscrowIndex(creator)
	require.NoError(t, err)
	require.Empty(t, entries)
}
