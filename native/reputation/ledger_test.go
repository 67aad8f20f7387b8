package reputation

import (
	"errors"
	"math"
	"testing"

	"agentescrow/crypto"
)

type mockStore struct {
	accounts map[[20]byte]*Reputation
}

func newMockStore() *mockStore {
	return &mockStore{accounts: make(map[[20]byte]*Reputation)}
}

func (m *mockStore) ReputationPut(rep *Reputation) error {
	m.accounts[rep.Address] = rep.Clone()
	return nil
}

func (m *mockStore) ReputationGet(addr [20]byte) (*Reputation, bool, error) {
	rep, ok := m.accounts[addr]
	if !ok {
		return nil, false, nil
	}
	return rep.Clone(), true, nil
}

func agentAddr(tag byte) [20]byte {
	var out [20]byte
	for i := range out {
		out[i] = tag
	}
	return out
}

var (
	aliceAddr = agentAddr(0xaa)
	bobAddr   = agentAddr(0xbb)
)

const ledgerNow = int64(5_000)

func newTestLedger() (*Ledger, *mockStore) {
	store := newMockStore()
	ledger := NewLedger(store)
	ledger.SetNowFunc(func() int64 { return ledgerNow })
	return ledger, store
}

func mustInit(t *testing.T, ledger *Ledger, agent [20]byte) *Reputation {
	t.Helper()
	rep, err := ledger.Init(agent)
	if err != nil {
		t.Fatalf("init %x: %v", agent[:4], err)
	}
	return rep
}

func mustGet(t *testing.T, ledger *Ledger, agent [20]byte) *Reputation {
	t.Helper()
	rep, ok, err := ledger.Get(agent)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !ok {
		t.Fatalf("account missing for %x", agent[:4])
	}
	return rep
}

func TestInitCreatesZeroedAccount(t *testing.T) {
	ledger, store := newTestLedger()

	rep := mustInit(t, ledger, aliceAddr)
	wantAddr, wantBump := crypto.ReputationPDA(aliceAddr)
	if rep.Address != wantAddr || rep.Bump != wantBump {
		t.Fatalf("account not at derived address")
	}
	if rep.Agent != aliceAddr {
		t.Fatalf("agent mismatch")
	}
	if rep.EscrowsCreated != 0 || rep.TotalVolume != 0 {
		t.Fatalf("counters not zeroed: %+v", rep)
	}
	if rep.LastActivity != ledgerNow {
		t.Fatalf("last activity = %d, want %d", rep.LastActivity, ledgerNow)
	}
	if _, ok := store.accounts[wantAddr]; !ok {
		t.Fatalf("account not persisted")
	}
}

func TestInitRejectsDoubleInitialization(t *testing.T) {
	ledger, _ := newTestLedger()
	mustInit(t, ledger, aliceAddr)
	if _, err := ledger.Init(aliceAddr); !errors.Is(err, ErrAlreadyInitialized) {
		t.Fatalf("err = %v, want ErrAlreadyInitialized", err)
	}
}

func TestEscrowCreatedCountsBothSides(t *testing.T) {
	ledger, _ := newTestLedger()
	mustInit(t, ledger, aliceAddr)
	mustInit(t, ledger, bobAddr)

	ledger.EscrowCreated(aliceAddr, bobAddr, DefaultMinVolume, ledgerNow+1)

	alice := mustGet(t, ledger, aliceAddr)
	if alice.EscrowsCreated != 1 || alice.TotalVolume != DefaultMinVolume {
		t.Fatalf("creator side wrong: %+v", alice)
	}
	if alice.LastActivity != ledgerNow+1 {
		t.Fatalf("creator last activity not touched")
	}
	bob := mustGet(t, ledger, bobAddr)
	if bob.EscrowsReceived != 1 || bob.TotalVolume != 0 {
		t.Fatalf("recipient side wrong: %+v", bob)
	}
}

func TestEscrowCreatedSkipsUnderFloor(t *testing.T) {
	ledger, _ := newTestLedger()
	mustInit(t, ledger, aliceAddr)
	mustInit(t, ledger, bobAddr)

	ledger.EscrowCreated(aliceAddr, bobAddr, DefaultMinVolume-1, ledgerNow+1)

	alice := mustGet(t, ledger, aliceAddr)
	bob := mustGet(t, ledger, bobAddr)
	if alice.EscrowsCreated != 0 || alice.TotalVolume != 0 || bob.EscrowsReceived != 0 {
		t.Fatalf("sub-floor escrow recorded: alice=%+v bob=%+v", alice, bob)
	}
}

func TestEscrowCompletedAccruesVolumeOnBothSides(t *testing.T) {
	ledger, _ := newTestLedger()
	mustInit(t, ledger, aliceAddr)
	mustInit(t, ledger, bobAddr)

	amount := DefaultMinVolume * 3
	ledger.EscrowCompleted(aliceAddr, bobAddr, amount, ledgerNow+2)

	alice := mustGet(t, ledger, aliceAddr)
	if alice.EscrowsCompleted != 1 || alice.TotalVolume != amount {
		t.Fatalf("creator completion wrong: %+v", alice)
	}
	bob := mustGet(t, ledger, bobAddr)
	if bob.TasksCompleted != 1 || bob.TotalVolume != amount {
		t.Fatalf("recipient completion wrong: %+v", bob)
	}
}

func TestDisputeCountersAreNeverGated(t *testing.T) {
	ledger, _ := newTestLedger()
	mustInit(t, ledger, aliceAddr)
	mustInit(t, ledger, bobAddr)

	ledger.DisputeInitiated(aliceAddr, ledgerNow+1)
	ledger.DisputeResolved(bobAddr, aliceAddr, ledgerNow+2)

	alice := mustGet(t, ledger, aliceAddr)
	if alice.DisputesInitiated != 1 || alice.DisputesLost != 1 {
		t.Fatalf("disputer counters wrong: %+v", alice)
	}
	bob := mustGet(t, ledger, bobAddr)
	if bob.DisputesWon != 1 {
		t.Fatalf("winner counters wrong: %+v", bob)
	}
}

func TestUpdatesSkipUninitializedAgents(t *testing.T) {
	ledger, store := newTestLedger()
	mustInit(t, ledger, aliceAddr)

	// Bob never initialized an account; only alice's side is recorded.
	ledger.EscrowCreated(aliceAddr, bobAddr, DefaultMinVolume, ledgerNow+1)
	ledger.DisputeResolved(bobAddr, aliceAddr, ledgerNow+2)

	alice := mustGet(t, ledger, aliceAddr)
	if alice.EscrowsCreated != 1 || alice.DisputesLost != 1 {
		t.Fatalf("initialized side skipped: %+v", alice)
	}
	if len(store.accounts) != 1 {
		t.Fatalf("account conjured for uninitialized agent")
	}
	if _, ok, err := ledger.Get(bobAddr); err != nil || ok {
		t.Fatalf("uninitialized agent readable: ok=%v err=%v", ok, err)
	}
}

func TestSetMinVolumeZeroDisablesGating(t *testing.T) {
	ledger, _ := newTestLedger()
	ledger.SetMinVolume(0)
	mustInit(t, ledger, aliceAddr)

	ledger.EscrowCreated(aliceAddr, bobAddr, 1, ledgerNow+1)
	alice := mustGet(t, ledger, aliceAddr)
	if alice.EscrowsCreated != 1 || alice.TotalVolume != 1 {
		t.Fatalf("ungated escrow not recorded: %+v", alice)
	}
}

func TestCountersSaturateAtCapacity(t *testing.T) {
	ledger, store := newTestLedger()
	rep := mustInit(t, ledger, aliceAddr)
	stored := store.accounts[rep.Address]
	stored.EscrowsCompleted = math.MaxUint32
	stored.TotalVolume = math.MaxUint64

	ledger.EscrowCompleted(aliceAddr, bobAddr, DefaultMinVolume, ledgerNow+1)

	alice := mustGet(t, ledger, aliceAddr)
	if alice.EscrowsCompleted != math.MaxUint32 || alice.TotalVolume != math.MaxUint64 {
		t.Fatalf("counters wrapped: %+v", alice)
	}
}

func TestDerivedRates(t *testing.T) {
	rep := &Reputation{}
	if got := rep.CompletionRate(); got != 0 {
		t.Fatalf("empty completion rate = %v, want 0", got)
	}
	if got := rep.TrustScore(); got != 1.0 {
		t.Fatalf("empty trust score = %v, want 1.0", got)
	}

	rep.EscrowsCreated = 4
	rep.EscrowsReceived = 4
	rep.EscrowsCompleted = 3
	rep.TasksCompleted = 3
	if got := rep.CompletionRate(); got != 0.75 {
		t.Fatalf("completion rate = %v, want 0.75", got)
	}

	rep.DisputesWon = 3
	rep.DisputesLost = 1
	if got := rep.TrustScore(); got != 0.75 {
		t.Fatalf("trust score = %v, want 0.75", got)
	}
}
