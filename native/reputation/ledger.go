package reputation

import (
	"errors"
	"time"

	"agentescrow/core/events"
	"agentescrow/core/types"
	"agentescrow/crypto"
)

// storage abstracts the subset of state manager functionality required by the
// reputation ledger.
type storage interface {
	ReputationPut(*Reputation) error
	ReputationGet(addr [20]byte) (*Reputation, bool, error)
}

// DefaultMinVolume is the floor under which escrow activity leaves the
// counters untouched. Sub-floor escrows settle normally; only the accounting
// is skipped.
const DefaultMinVolume uint64 = 10_000_000

var (
	// ErrAlreadyInitialized marks a second initialization attempt for an
	// agent whose account already exists. Double-init is rejected, not
	// idempotent.
	ErrAlreadyInitialized = errors.New("reputation: account already initialized")
	// ErrNotFound marks reads against agents with no reputation account.
	ErrNotFound = errors.New("reputation: account not found")
)

// Ledger persists per-agent reputation counters and applies the side effects
// reported by the escrow state machines. Recording has no public failure
// mode: an agent without an initialized account, or an escrow under the
// volume floor, is skipped silently.
type Ledger struct {
	store     storage
	emitter   events.Emitter
	minVolume uint64
	nowFn     func() int64
}

// NewLedger constructs a ledger bound to the provided storage backend.
func NewLedger(store storage) *Ledger {
	return &Ledger{
		store:     store,
		emitter:   events.NoopEmitter{},
		minVolume: DefaultMinVolume,
		nowFn:     func() int64 { return time.Now().Unix() },
	}
}

// SetEmitter overrides the event emitter.
func (l *Ledger) SetEmitter(emitter events.Emitter) {
	if l == nil {
		return
	}
	if emitter == nil {
		l.emitter = events.NoopEmitter{}
		return
	}
	l.emitter = emitter
}

// SetMinVolume overrides the accounting floor. Zero disables gating.
func (l *Ledger) SetMinVolume(minVolume uint64) {
	if l == nil {
		return
	}
	l.minVolume = minVolume
}

// SetNowFunc overrides the wall clock. Primarily leveraged in tests to
// provide deterministic timestamps.
func (l *Ledger) SetNowFunc(now func() int64) {
	if l == nil {
		return
	}
	if now == nil {
		l.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	l.nowFn = now
}

func (l *Ledger) now() int64 {
	if l == nil || l.nowFn == nil {
		return time.Now().Unix()
	}
	return l.nowFn()
}

// Init creates the reputation account for agent with zeroed counters. Any
// caller may initialize any agent. An existing account at the derived
// address is proof of prior creation and rejects the operation.
func (l *Ledger) Init(agent [20]byte) (*Reputation, error) {
	if l == nil || l.store == nil {
		return nil, errors.New("reputation: ledger not initialised")
	}
	addr, bump := crypto.ReputationPDA(agent)
	if _, ok, err := l.store.ReputationGet(addr); err != nil {
		return nil, err
	} else if ok {
		return nil, ErrAlreadyInitialized
	}
	rep := &Reputation{
		Address:      addr,
		Bump:         bump,
		Agent:        agent,
		LastActivity: l.now(),
	}
	if err := l.store.ReputationPut(rep); err != nil {
		return nil, err
	}
	l.emit(NewInitializedEvent(rep))
	return rep.Clone(), nil
}

// Get fetches the reputation account for agent, if one was initialized.
func (l *Ledger) Get(agent [20]byte) (*Reputation, bool, error) {
	if l == nil || l.store == nil {
		return nil, false, errors.New("reputation: ledger not initialised")
	}
	addr, _ := crypto.ReputationPDA(agent)
	rep, ok, err := l.store.ReputationGet(addr)
	if err != nil || !ok {
		return nil, false, err
	}
	return rep.Clone(), true, nil
}

// EscrowCreated records a funded escrow: the creator's created counter and
// volume, and the recipient's received counter. Skipped entirely when the
// amount is under the floor.
func (l *Ledger) EscrowCreated(creator, recipient [20]byte, amount uint64, now int64) {
	if !l.meetsFloor(amount) {
		return
	}
	l.update(creator, now, func(rep *Reputation) {
		rep.EscrowsCreated = satAdd32(rep.EscrowsCreated, 1)
		rep.TotalVolume = satAdd64(rep.TotalVolume, amount)
	})
	l.update(recipient, now, func(rep *Reputation) {
		rep.EscrowsReceived = satAdd32(rep.EscrowsReceived, 1)
	})
}

// EscrowCompleted records a successful payout: completion counters and
// settled volume on both sides. Skipped entirely when the amount is under
// the floor.
func (l *Ledger) EscrowCompleted(creator, recipient [20]byte, amount uint64, now int64) {
	if !l.meetsFloor(amount) {
		return
	}
	l.update(creator, now, func(rep *Reputation) {
		rep.EscrowsCompleted = satAdd32(rep.EscrowsCompleted, 1)
		rep.TotalVolume = satAdd64(rep.TotalVolume, amount)
	})
	l.update(recipient, now, func(rep *Reputation) {
		rep.TasksCompleted = satAdd32(rep.TasksCompleted, 1)
		rep.TotalVolume = satAdd64(rep.TotalVolume, amount)
	})
}

// DisputeInitiated records a dispute opening. Dispute counters are never
// gated by the volume floor.
func (l *Ledger) DisputeInitiated(disputer [20]byte, now int64) {
	l.update(disputer, now, func(rep *Reputation) {
		rep.DisputesInitiated = satAdd32(rep.DisputesInitiated, 1)
	})
}

// DisputeResolved records an arbiter ruling on both parties. Dispute
// counters are never gated by the volume floor.
func (l *Ledger) DisputeResolved(winner, loser [20]byte, now int64) {
	l.update(winner, now, func(rep *Reputation) {
		rep.DisputesWon = satAdd32(rep.DisputesWon, 1)
	})
	l.update(loser, now, func(rep *Reputation) {
		rep.DisputesLost = satAdd32(rep.DisputesLost, 1)
	})
}

func (l *Ledger) meetsFloor(amount uint64) bool {
	if l == nil {
		return false
	}
	return amount >= l.minVolume
}

// update applies fn to agent's reputation account if one exists. Agents who
// never initialized an account accrue nothing.
func (l *Ledger) update(agent [20]byte, now int64, fn func(*Reputation)) {
	if l == nil || l.store == nil {
		return
	}
	addr, _ := crypto.ReputationPDA(agent)
	rep, ok, err := l.store.ReputationGet(addr)
	if err != nil || !ok {
		return
	}
	fn(rep)
	rep.LastActivity = now
	if err := l.store.ReputationPut(rep); err != nil {
		return
	}
	l.emit(NewUpdatedEvent(rep))
}

func (l *Ledger) emit(evt *types.Event) {
	if l == nil || l.emitter == nil || evt == nil {
		return
	}
	l.emitter.Emit(reputationEvent{evt: evt})
}
