package ledger

import (
	apperrors "WagerLedger/internal/errors"
	fpmath "WagerLedger/internal/math"
	"fmt"
	"strings"
	"time"
)

// AccountType is the namespace of a journal account
type AccountType string

const (
	AccountPartyWallet    AccountType = "party_wallet"
	AccountEscrow         AccountType = "escrow"
	AccountPlatformWallet AccountType = "platform_wallet"
	// AccountExternal is the payment-rail boundary. Deposits and withdrawals
	// move funds between it and a party wallet.
	AccountExternal AccountType = "external"
)

// Valid reports whether t is a known account type.
func (t AccountType) Valid() bool {
	switch t {
	case AccountPartyWallet, AccountEscrow, AccountPlatformWallet, AccountExternal:
		return true
	}
	return false
}

// ExternalRailRef is the single external account every deployment uses.
const ExternalRailRef = "payments"

// AccountKey identifies a journal account
type AccountKey struct {
	Type AccountType
	Ref  string
}

func PartyWalletKey(ownerID string) AccountKey {
	return AccountKey{Type: AccountPartyWallet, Ref: ownerID}
}

func EscrowKey(escrowID string) AccountKey {
	return AccountKey{Type: AccountEscrow, Ref: escrowID}
}

func PlatformWalletKey(platformID string) AccountKey {
	return AccountKey{Type: AccountPlatformWallet, Ref: platformID}
}

func ExternalKey() AccountKey {
	return AccountKey{Type: AccountExternal, Ref: ExternalRailRef}
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	return string(k.Type) + ":" + k.Ref
}

// ParseAccountPath is the inverse of AccountPath.
func ParseAccountPath(path string) (AccountKey, error) {
	typ, ref, ok := strings.Cut(path, ":")
	if !ok || ref == "" {
		return AccountKey{}, fmt.Errorf("malformed account path %q", path)
	}
	k := AccountKey{Type: AccountType(typ), Ref: ref}
	if !k.Type.Valid() {
		return AccountKey{}, fmt.Errorf("unknown account type %q", typ)
	}
	return k, nil
}

// AccountKind distinguishes party balances from the platform fee account.
type AccountKind string

const (
	KindParty    AccountKind = "party"
	KindPlatform AccountKind = "platform"
)

// Account is the durable balance row of one owner.
// Spendable and Locked are never negative.
type Account struct {
	OwnerID   string
	Kind      AccountKind
	Spendable int64
	Locked    int64
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Key is the journal account backing the spendable balance.
func (a *Account) Key() AccountKey {
	if a.Kind == KindPlatform {
		return PlatformWalletKey(a.OwnerID)
	}
	return PartyWalletKey(a.OwnerID)
}

// Total is spendable + locked.
func (a *Account) Total() int64 {
	return a.Spendable + a.Locked
}

// Lock moves amount from spendable to locked.
func (a *Account) Lock(amount int64) error {
	if err := requirePositive(amount); err != nil {
		return err
	}
	if a.Spendable < amount {
		return apperrors.WithMetadata(apperrors.CodeInsufficientFunds,
			fmt.Sprintf("spendable %d below stake %d", a.Spendable, amount),
			map[string]string{"owner_id": a.OwnerID})
	}
	locked, err := fpmath.CheckedAdd(a.Locked, amount)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, "locked balance overflow", err)
	}
	a.Spendable -= amount
	a.Locked = locked
	return nil
}

// Forfeit removes amount from locked without returning it to spendable.
// Used on release, where the stake is redistributed through the escrow.
func (a *Account) Forfeit(amount int64) error {
	if err := requirePositive(amount); err != nil {
		return err
	}
	if a.Locked < amount {
		return apperrors.WithMetadata(apperrors.CodeInternal,
			fmt.Sprintf("locked %d below stake %d", a.Locked, amount),
			map[string]string{"owner_id": a.OwnerID})
	}
	a.Locked -= amount
	return nil
}

// Unlock moves amount from locked back to spendable.
func (a *Account) Unlock(amount int64) error {
	if err := a.Forfeit(amount); err != nil {
		return err
	}
	a.Spendable += amount
	return nil
}

// Credit adds amount to spendable.
func (a *Account) Credit(amount int64) error {
	if err := requirePositive(amount); err != nil {
		return err
	}
	spendable, err := fpmath.CheckedAdd(a.Spendable, amount)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, "spendable balance overflow", err)
	}
	a.Spendable = spendable
	return nil
}

// Debit removes amount from spendable.
func (a *Account) Debit(amount int64) error {
	if err := requirePositive(amount); err != nil {
		return err
	}
	if a.Spendable < amount {
		return apperrors.WithMetadata(apperrors.CodeInsufficientFunds,
			fmt.Sprintf("spendable %d below amount %d", a.Spendable, amount),
			map[string]string{"owner_id": a.OwnerID})
	}
	a.Spendable -= amount
	return nil
}

func requirePositive(amount int64) error {
	if amount <= 0 {
		return apperrors.Newf(apperrors.CodePolicyViolation, "amount must be positive, got %d", amount)
	}
	return nil
}
