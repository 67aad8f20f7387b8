package escrow

import (
	"errors"
	"testing"

	"agentescrow/crypto"
)

func (f *engineFixture) mustCreateToken(t *testing.T, params CreateParams) *Escrow {
	t.Helper()
	f.state.setTokenBalance(mintAddr, creatorAddr, params.Amount)
	esc, err := f.engine.CreateToken(creatorAddr, mintAddr, params)
	if err != nil {
		t.Fatalf("create token: %v", err)
	}
	return esc
}

func (f *engineFixture) mustActivateToken(t *testing.T, params CreateParams) *Escrow {
	t.Helper()
	esc := f.mustCreateToken(t, params)
	active, err := f.engine.AcceptToken(esc.Address, recipAddr)
	if err != nil {
		t.Fatalf("accept token: %v", err)
	}
	return active
}

func TestCreateTokenMovesFundsIntoVault(t *testing.T) {
	fix := newFixture(t)
	esc := fix.mustCreateToken(t, baseCreateParams(1))

	wantAddr, _ := crypto.TokenEscrowPDA(creatorAddr, 1)
	wantVault, wantVaultBump := crypto.TokenVaultPDA(wantAddr)
	if esc.Address != wantAddr || esc.Vault != wantVault || esc.VaultBump != wantVaultBump {
		t.Fatalf("token escrow not at derived addresses")
	}
	if esc.Kind != KindToken || esc.Mint != mintAddr {
		t.Fatalf("token fields not recorded: %+v", esc)
	}
	if got, _ := fix.state.TokenBalance(mintAddr, esc.Vault); got != 10_000 {
		t.Fatalf("vault balance = %d, want 10000", got)
	}
	if got, _ := fix.state.TokenBalance(mintAddr, creatorAddr); got != 0 {
		t.Fatalf("creator token balance = %d, want 0", got)
	}
}

func TestCreateTokenInsufficientBalance(t *testing.T) {
	fix := newFixture(t)
	fix.state.setTokenBalance(mintAddr, creatorAddr, 1)
	if _, err := fix.engine.CreateToken(creatorAddr, mintAddr, baseCreateParams(1)); !errors.Is(err, errMockInsufficient) {
		t.Fatalf("err = %v, want insufficient funds", err)
	}
	if len(fix.state.escrows) != 0 {
		t.Fatalf("escrow persisted despite failed transfer")
	}
}

func TestTokenAndNativeEscrowsShareNoAddressSpace(t *testing.T) {
	fix := newFixture(t)
	native := fix.mustCreate(t, baseCreateParams(1))
	token := fix.mustCreateToken(t, baseCreateParams(1))
	if native.Address == token.Address {
		t.Fatalf("native and token escrows collided on escrow id")
	}
	if _, err := fix.engine.Accept(token.Address, recipAddr); !errors.Is(err, ErrNotFound) {
		t.Fatalf("native op on token escrow err = %v", err)
	}
	if _, err := fix.engine.AcceptToken(native.Address, recipAddr); !errors.Is(err, ErrNotFound) {
		t.Fatalf("token op on native escrow err = %v", err)
	}
}

func TestReleaseTokenDrainsVaultWithFeeSplit(t *testing.T) {
	fix := newFixture(t)
	esc := fix.mustActivateToken(t, baseCreateParams(1))

	released, err := fix.engine.ReleaseToken(esc.Address, creatorAddr)
	if err != nil {
		t.Fatalf("release token: %v", err)
	}
	if released.Status != StatusCompleted {
		t.Fatalf("status = %v, want Completed", released.Status)
	}
	if got, _ := fix.state.TokenBalance(mintAddr, recipAddr); got != 9_750 {
		t.Fatalf("recipient token payout = %d, want 9750", got)
	}
	if got, _ := fix.state.TokenBalance(mintAddr, feeAddr); got != 250 {
		t.Fatalf("fee token payout = %d, want 250", got)
	}
	if got, _ := fix.state.TokenBalance(mintAddr, esc.Vault); got != 0 {
		t.Fatalf("vault residual = %d, want 0", got)
	}
	if _, ok := fix.state.escrows[esc.Address]; ok {
		t.Fatalf("account survived terminal transition")
	}
}

func TestReleaseTokenRejectsResidualVaultBalance(t *testing.T) {
	fix := newFixture(t)
	esc := fix.mustActivateToken(t, baseCreateParams(1))

	// Deposit stray funds into the vault outside the escrow's accounting.
	fix.state.setTokenBalance(mintAddr, otherAddr, 5)
	if err := fix.state.TokenTransfer(mintAddr, otherAddr, esc.Vault, 5); err != nil {
		t.Fatalf("seed vault: %v", err)
	}

	if _, err := fix.engine.ReleaseToken(esc.Address, creatorAddr); !errors.Is(err, ErrVaultResidualBalance) {
		t.Fatalf("err = %v, want ErrVaultResidualBalance", err)
	}
}

func TestRefundTokenReturnsFullAmount(t *testing.T) {
	fix := newFixture(t)
	esc := fix.mustCreateToken(t, baseCreateParams(1))

	refunded, err := fix.engine.RefundToken(esc.Address, creatorAddr)
	if err != nil {
		t.Fatalf("refund token: %v", err)
	}
	if refunded.Status != StatusCancelled {
		t.Fatalf("status = %v, want Cancelled", refunded.Status)
	}
	if got, _ := fix.state.TokenBalance(mintAddr, creatorAddr); got != 10_000 {
		t.Fatalf("creator refund = %d, want full 10000", got)
	}
	if got, _ := fix.state.TokenBalance(mintAddr, feeAddr); got != 0 {
		t.Fatalf("fee taken on refund path: %d", got)
	}
}

func TestResolveTokenDispute(t *testing.T) {
	fix := newFixture(t)
	esc := fix.mustActivateToken(t, baseCreateParams(1))
	if _, err := fix.engine.DisputeToken(esc.Address, recipAddr, []byte("quality dispute")); err != nil {
		t.Fatalf("dispute token: %v", err)
	}

	resolved, err := fix.engine.ResolveToken(esc.Address, arbiterAddr, WinnerCreator)
	if err != nil {
		t.Fatalf("resolve token: %v", err)
	}
	if resolved.Status != StatusResolved {
		t.Fatalf("status = %v, want Resolved", resolved.Status)
	}
	if got, _ := fix.state.TokenBalance(mintAddr, creatorAddr); got != 10_000 {
		t.Fatalf("creator win payout = %d, want 10000", got)
	}
	if got, _ := fix.state.TokenBalance(mintAddr, esc.Vault); got != 0 {
		t.Fatalf("vault residual = %d", got)
	}
}

func TestAutoReleaseTokenHonoursTimestamp(t *testing.T) {
	fix := newFixture(t)
	params := baseCreateParams(1)
	params.AutoReleaseAt = testAutoReleaseAt
	esc := fix.mustActivateToken(t, params)

	if _, err := fix.engine.AutoReleaseToken(esc.Address, otherAddr); !errors.Is(err, ErrAutoReleaseNotReady) {
		t.Fatalf("early auto release err = %v", err)
	}

	fix.now = testAutoReleaseAt + 1
	released, err := fix.engine.AutoReleaseToken(esc.Address, otherAddr)
	if err != nil {
		t.Fatalf("auto release token: %v", err)
	}
	if released.Status != StatusCompleted {
		t.Fatalf("status = %v, want Completed", released.Status)
	}
	if got, _ := fix.state.TokenBalance(mintAddr, recipAddr); got != 9_750 {
		t.Fatalf("recipient payout = %d, want 9750", got)
	}
}
