package core

import (
	"errors"
	"math/big"
	"sync"

	"agentescrow/core/events"
	"agentescrow/core/state"
	"agentescrow/core/types"
	"agentescrow/native/escrow"
	"agentescrow/native/reputation"
	"agentescrow/storage"
)

// ErrEscrowNotFound is returned when an escrow record is missing from state.
var ErrEscrowNotFound = errors.New("escrow not found")

// Node owns the protocol state and serialises every operation against it.
// Each operation runs on a transaction-scoped state manager: mutations commit
// as one unit on success and are discarded wholesale on any rejection.
type Node struct {
	stateMu sync.Mutex

	db        storage.Database
	emitter   events.Emitter
	eventLog  []*types.Event
	minVolume uint64
	nowFn     func() int64
}

// NewNode creates a node over the provided database.
func NewNode(db storage.Database) (*Node, error) {
	if db == nil {
		return nil, errors.New("node: database required")
	}
	return &Node{
		db:        db,
		minVolume: reputation.DefaultMinVolume,
	}, nil
}

// SetEmitter forwards protocol events to an external sink in addition to the
// node's own event log.
func (n *Node) SetEmitter(emitter events.Emitter) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	n.emitter = emitter
}

// SetMinReputationVolume overrides the volume floor for reputation
// accounting.
func (n *Node) SetMinReputationVolume(minVolume uint64) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	n.minVolume = minVolume
}

// SetNowFunc overrides the wall clock for every engine the node constructs.
func (n *Node) SetNowFunc(now func() int64) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	n.nowFn = now
}

// Events returns a snapshot of the protocol events emitted so far.
func (n *Node) Events() []*types.Event {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	out := make([]*types.Event, len(n.eventLog))
	copy(out, n.eventLog)
	return out
}

type nodeEventEmitter struct {
	node    *Node
	pending []*types.Event
}

type eventWithPayload interface {
	Event() *types.Event
}

func (e *nodeEventEmitter) Emit(evt events.Event) {
	if e == nil || evt == nil {
		return
	}
	payload, ok := evt.(eventWithPayload)
	if !ok {
		return
	}
	event := payload.Event()
	if event == nil {
		return
	}
	e.pending = append(e.pending, event)
}

// flush publishes events buffered during an operation that committed.
func (e *nodeEventEmitter) flush() {
	if e == nil || e.node == nil {
		return
	}
	for _, event := range e.pending {
		e.node.eventLog = append(e.node.eventLog, event)
		if e.node.emitter != nil {
			e.node.emitter.Emit(loggedEvent{evt: event})
		}
	}
	e.pending = nil
}

type loggedEvent struct {
	evt *types.Event
}

func (e loggedEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e loggedEvent) Event() *types.Event { return e.evt }

func (n *Node) newLedger(manager *state.Manager, sink events.Emitter) *reputation.Ledger {
	ledger := reputation.NewLedger(manager)
	ledger.SetMinVolume(n.minVolume)
	ledger.SetEmitter(sink)
	if n.nowFn != nil {
		ledger.SetNowFunc(n.nowFn)
	}
	return ledger
}

func (n *Node) newEscrowEngine(manager *state.Manager, sink events.Emitter) *escrow.Engine {
	engine := escrow.NewEngine()
	engine.SetState(manager)
	engine.SetEmitter(sink)
	engine.SetRecorder(n.newLedger(manager, sink))
	if n.nowFn != nil {
		engine.SetNowFunc(n.nowFn)
	}
	return engine
}

// withState runs fn inside one atomic state transaction. fn's mutations
// commit together on success; any error discards them all.
func (n *Node) withState(fn func(manager *state.Manager, sink *nodeEventEmitter) error) error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()

	manager := state.NewManager(n.db)
	sink := &nodeEventEmitter{node: n}
	if err := fn(manager, sink); err != nil {
		manager.Discard()
		return err
	}
	if err := manager.Commit(); err != nil {
		return err
	}
	sink.flush()
	return nil
}

// EscrowCreate locks params.Amount from creator and opens a native escrow.
func (n *Node) EscrowCreate(creator [20]byte, params escrow.CreateParams) (*escrow.Escrow, error) {
	return n.escrowOp(func(engine *escrow.Engine) (*escrow.Escrow, error) {
		return engine.Create(creator, params)
	})
}

// EscrowAccept transitions a native escrow to Active on behalf of its
// recipient.
func (n *Node) EscrowAccept(addr, caller [20]byte) (*escrow.Escrow, error) {
	return n.escrowOp(func(engine *escrow.Engine) (*escrow.Escrow, error) {
		return engine.Accept(addr, caller)
	})
}

// EscrowRelease pays out a native escrow at the creator's request.
func (n *Node) EscrowRelease(addr, caller [20]byte) (*escrow.Escrow, error) {
	return n.escrowOp(func(engine *escrow.Engine) (*escrow.Escrow, error) {
		return engine.Release(addr, caller)
	})
}

// EscrowAutoRelease pays out a native escrow past its auto-release time.
// Any caller may trigger it.
func (n *Node) EscrowAutoRelease(addr, caller [20]byte) (*escrow.Escrow, error) {
	return n.escrowOp(func(engine *escrow.Engine) (*escrow.Escrow, error) {
		return engine.AutoRelease(addr, caller)
	})
}

// EscrowRefund cancels or refunds a native escrow back to its creator.
func (n *Node) EscrowRefund(addr, caller [20]byte) (*escrow.Escrow, error) {
	return n.escrowOp(func(engine *escrow.Engine) (*escrow.Escrow, error) {
		return engine.Refund(addr, caller)
	})
}

// EscrowDispute opens a dispute on a native escrow.
func (n *Node) EscrowDispute(addr, caller [20]byte, reason []byte) (*escrow.Escrow, error) {
	return n.escrowOp(func(engine *escrow.Engine) (*escrow.Escrow, error) {
		return engine.Dispute(addr, caller, reason)
	})
}

// EscrowResolve settles a disputed native escrow by arbiter ruling.
func (n *Node) EscrowResolve(addr, caller [20]byte, winner escrow.DisputeWinner) (*escrow.Escrow, error) {
	return n.escrowOp(func(engine *escrow.Engine) (*escrow.Escrow, error) {
		return engine.Resolve(addr, caller, winner)
	})
}

// TokenEscrowCreate moves params.Amount of mint from creator into a vault
// and opens a token escrow.
func (n *Node) TokenEscrowCreate(creator, mint [20]byte, params escrow.CreateParams) (*escrow.Escrow, error) {
	return n.escrowOp(func(engine *escrow.Engine) (*escrow.Escrow, error) {
		return engine.CreateToken(creator, mint, params)
	})
}

// TokenEscrowAccept transitions a token escrow to Active.
func (n *Node) TokenEscrowAccept(addr, caller [20]byte) (*escrow.Escrow, error) {
	return n.escrowOp(func(engine *escrow.Engine) (*escrow.Escrow, error) {
		return engine.AcceptToken(addr, caller)
	})
}

// TokenEscrowRelease pays out a token escrow from its vault.
func (n *Node) TokenEscrowRelease(addr, caller [20]byte) (*escrow.Escrow, error) {
	return n.escrowOp(func(engine *escrow.Engine) (*escrow.Escrow, error) {
		return engine.ReleaseToken(addr, caller)
	})
}

// TokenEscrowAutoRelease pays out a token escrow past its auto-release time.
func (n *Node) TokenEscrowAutoRelease(addr, caller [20]byte) (*escrow.Escrow, error) {
	return n.escrowOp(func(engine *escrow.Engine) (*escrow.Escrow, error) {
		return engine.AutoReleaseToken(addr, caller)
	})
}

// TokenEscrowRefund returns vault funds to the creator.
func (n *Node) TokenEscrowRefund(addr, caller [20]byte) (*escrow.Escrow, error) {
	return n.escrowOp(func(engine *escrow.Engine) (*escrow.Escrow, error) {
		return engine.RefundToken(addr, caller)
	})
}

// TokenEscrowDispute opens a dispute on a token escrow.
func (n *Node) TokenEscrowDispute(addr, caller [20]byte, reason []byte) (*escrow.Escrow, error) {
	return n.escrowOp(func(engine *escrow.Engine) (*escrow.Escrow, error) {
		return engine.DisputeToken(addr, caller, reason)
	})
}

// TokenEscrowResolve settles a disputed token escrow by arbiter ruling.
func (n *Node) TokenEscrowResolve(addr, caller [20]byte, winner escrow.DisputeWinner) (*escrow.Escrow, error) {
	return n.escrowOp(func(engine *escrow.Engine) (*escrow.Escrow, error) {
		return engine.ResolveToken(addr, caller, winner)
	})
}

func (n *Node) escrowOp(fn func(engine *escrow.Engine) (*escrow.Escrow, error)) (*escrow.Escrow, error) {
	var esc *escrow.Escrow
	err := n.withState(func(manager *state.Manager, sink *nodeEventEmitter) error {
		var err error
		esc, err = fn(n.newEscrowEngine(manager, sink))
		return err
	})
	if err != nil {
		return nil, err
	}
	return esc, nil
}

func (n *Node) milestoneOp(fn func(engine *escrow.Engine) (*escrow.MilestoneEscrow, error)) (*escrow.MilestoneEscrow, error) {
	var esc *escrow.MilestoneEscrow
	err := n.withState(func(manager *state.Manager, sink *nodeEventEmitter) error {
		var err error
		esc, err = fn(n.newEscrowEngine(manager, sink))
		return err
	})
	if err != nil {
		return nil, err
	}
	return esc, nil
}

// MilestoneEscrowCreate locks the summed milestone amounts from creator and
// opens a milestone escrow.
func (n *Node) MilestoneEscrowCreate(creator [20]byte, params escrow.MilestoneCreateParams) (*escrow.MilestoneEscrow, error) {
	return n.milestoneOp(func(engine *escrow.Engine) (*escrow.MilestoneEscrow, error) {
		return engine.CreateMilestone(creator, params)
	})
}

// MilestoneEscrowAccept transitions a milestone escrow to Active.
func (n *Node) MilestoneEscrowAccept(addr, caller [20]byte) (*escrow.MilestoneEscrow, error) {
	return n.milestoneOp(func(engine *escrow.Engine) (*escrow.MilestoneEscrow, error) {
		return engine.AcceptMilestone(addr, caller)
	})
}

// MilestoneEscrowRelease pays out one pending milestone.
func (n *Node) MilestoneEscrowRelease(addr, caller [20]byte, index uint8) (*escrow.MilestoneEscrow, error) {
	return n.milestoneOp(func(engine *escrow.Engine) (*escrow.MilestoneEscrow, error) {
		return engine.ReleaseMilestone(addr, caller, index)
	})
}

// MilestoneEscrowDispute disputes one pending milestone.
func (n *Node) MilestoneEscrowDispute(addr, caller [20]byte, index uint8) (*escrow.MilestoneEscrow, error) {
	return n.milestoneOp(func(engine *escrow.Engine) (*escrow.MilestoneEscrow, error) {
		return engine.DisputeMilestone(addr, caller, index)
	})
}

// MilestoneEscrowResolve settles one disputed milestone by arbiter ruling.
func (n *Node) MilestoneEscrowResolve(addr, caller [20]byte, index uint8, winner escrow.DisputeWinner) (*escrow.MilestoneEscrow, error) {
	return n.milestoneOp(func(engine *escrow.Engine) (*escrow.MilestoneEscrow, error) {
		return engine.ResolveMilestoneDispute(addr, caller, index, winner)
	})
}

// MilestoneEscrowRefund returns the unreleased remainder to the creator.
func (n *Node) MilestoneEscrowRefund(addr, caller [20]byte) (*escrow.MilestoneEscrow, error) {
	return n.milestoneOp(func(engine *escrow.Engine) (*escrow.MilestoneEscrow, error) {
		return engine.RefundMilestone(addr, caller)
	})
}

// EscrowGet reads the single-payout escrow stored at addr.
func (n *Node) EscrowGet(addr [20]byte) (*escrow.Escrow, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()

	manager := state.NewManager(n.db)
	esc, ok, err := manager.EscrowGet(addr)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrEscrowNotFound
	}
	return esc, nil
}

// MilestoneEscrowGet reads the milestone escrow stored at addr.
func (n *Node) MilestoneEscrowGet(addr [20]byte) (*escrow.MilestoneEscrow, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()

	manager := state.NewManager(n.db)
	esc, ok, err := manager.MilestoneEscrowGet(addr)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrEscrowNotFound
	}
	return esc, nil
}

// EscrowList returns the creator's open escrows of both payout granularities.
func (n *Node) EscrowList(creator [20]byte) ([]*escrow.Escrow, []*escrow.MilestoneEscrow, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()

	manager := state.NewManager(n.db)
	addrs, err := manager.EscrowIndex(creator)
	if err != nil {
		return nil, nil, err
	}
	var singles []*escrow.Escrow
	var milestones []*escrow.MilestoneEscrow
	for _, addr := range addrs {
		if esc, ok, err := manager.EscrowGet(addr); err != nil {
			return nil, nil, err
		} else if ok {
			singles = append(singles, esc)
			continue
		}
		if esc, ok, err := manager.MilestoneEscrowGet(addr); err != nil {
			return nil, nil, err
		} else if ok {
			milestones = append(milestones, esc)
		}
	}
	return singles, milestones, nil
}

// ReputationInit creates agent's reputation account with zeroed counters.
func (n *Node) ReputationInit(agent [20]byte) (*reputation.Reputation, error) {
	var rep *reputation.Reputation
	err := n.withState(func(manager *state.Manager, sink *nodeEventEmitter) error {
		var err error
		rep, err = n.newLedger(manager, sink).Init(agent)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rep, nil
}

// ReputationGet reads agent's reputation account, if initialized.
func (n *Node) ReputationGet(agent [20]byte) (*reputation.Reputation, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()

	manager := state.NewManager(n.db)
	rep, ok, err := reputation.NewLedger(manager).Get(agent)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, reputation.ErrNotFound
	}
	return rep, nil
}

// Balance reads addr's native balance.
func (n *Node) Balance(addr [20]byte) (*big.Int, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()

	account, err := state.NewManager(n.db).GetAccount(addr)
	if err != nil {
		return nil, err
	}
	return account.Balance, nil
}

// Mint credits freshly issued native units to addr. Operator surface, not a
// protocol operation.
func (n *Node) Mint(addr [20]byte, amount uint64) error {
	return n.withState(func(manager *state.Manager, _ *nodeEventEmitter) error {
		return manager.NativeCredit(addr, amount)
	})
}

// TokenBalance reads addr's balance in mint.
func (n *Node) TokenBalance(mint, addr [20]byte) (uint64, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()

	return state.NewManager(n.db).TokenBalance(mint, addr)
}

// TokenMint credits freshly issued units of mint to addr. Operator surface,
// not a protocol operation.
func (n *Node) TokenMint(mint, addr [20]byte, amount uint64) error {
	return n.withState(func(manager *state.Manager, _ *nodeEventEmitter) error {
		return manager.TokenMint(mint, addr, amount)
	})
}
