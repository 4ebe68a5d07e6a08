package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"WagerLedger/internal/core"
	"WagerLedger/internal/fee"
	"WagerLedger/internal/money"

	"golang.org/x/text/currency"
	"gopkg.in/yaml.v3"
)

// DefaultCurrency is used when the policy file names none.
const DefaultCurrency = "USD"

// Currency is the ledger currency and its number of minor-unit digits.
type Currency struct {
	Code  string
	Scale int
}

// ParseCurrency resolves an ISO 4217 code to its standard minor-unit scale.
func ParseCurrency(code string) (Currency, error) {
	unit, err := currency.ParseISO(code)
	if err != nil {
		return Currency{}, fmt.Errorf("currency %q: %w", code, err)
	}
	scale, _ := currency.Standard.Rounding(unit)
	return Currency{Code: unit.String(), Scale: scale}, nil
}

// Format renders minor units in this currency.
func (c Currency) Format(minor int64) string {
	return money.Format(minor, int32(c.Scale))
}

// Parse converts a decimal amount in this currency to minor units.
func (c Currency) Parse(s string) (int64, error) {
	return money.Parse(s, int32(c.Scale))
}

// policyFile is the YAML shape. Amounts are decimal strings in the policy
// currency; absent fields keep the default for that currency.
type policyFile struct {
	Currency        string  `yaml:"currency"`
	FeeBasisPoints  *int64  `yaml:"fee_basis_points"`
	MinStake        *string `yaml:"min_stake"`
	MaxStake        *string `yaml:"max_stake"`
	MinWithdrawal   *string `yaml:"min_withdrawal"`
	MaxWithdrawal   *string `yaml:"max_withdrawal"`
	MaxParties      *int    `yaml:"max_parties"`
	GroupPayout     *string `yaml:"group_payout"`
	PlatformOwnerID *string `yaml:"platform_owner_id"`
}

// LoadPolicy reads the settlement policy from path. An empty path yields
// the defaults for DefaultCurrency.
func LoadPolicy(path string) (core.Policy, Currency, error) {
	if path == "" {
		return DecodePolicy(nil)
	}
	f, err := os.Open(path)
	if err != nil {
		return core.Policy{}, Currency{}, fmt.Errorf("open policy file: %w", err)
	}
	defer f.Close()
	return DecodePolicy(f)
}

// DecodePolicy reads a YAML policy from r and overlays it on the defaults.
// A nil reader yields the defaults.
func DecodePolicy(r io.Reader) (core.Policy, Currency, error) {
	var pf policyFile
	if r != nil {
		data, err := io.ReadAll(r)
		if err != nil {
			return core.Policy{}, Currency{}, fmt.Errorf("read policy: %w", err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&pf); err != nil && !errors.Is(err, io.EOF) {
			return core.Policy{}, Currency{}, fmt.Errorf("decode policy: %w", err)
		}
	}

	code := pf.Currency
	if code == "" {
		code = DefaultCurrency
	}
	cur, err := ParseCurrency(code)
	if err != nil {
		return core.Policy{}, Currency{}, err
	}

	p := core.PolicyForScale(cur.Scale)
	if pf.FeeBasisPoints != nil {
		p.FeeBasisPoints = *pf.FeeBasisPoints
	}
	amounts := []struct {
		name string
		src  *string
		dst  *int64
	}{
		{"min_stake", pf.MinStake, &p.MinStake},
		{"max_stake", pf.MaxStake, &p.MaxStake},
		{"min_withdrawal", pf.MinWithdrawal, &p.MinWithdrawal},
		{"max_withdrawal", pf.MaxWithdrawal, &p.MaxWithdrawal},
	}
	for _, a := range amounts {
		if a.src == nil {
			continue
		}
		v, err := cur.Parse(*a.src)
		if err != nil {
			return core.Policy{}, Currency{}, fmt.Errorf("%s: %w", a.name, err)
		}
		*a.dst = v
	}
	if pf.MaxParties != nil {
		p.MaxParties = *pf.MaxParties
	}
	if pf.GroupPayout != nil {
		payout, err := fee.ParsePayoutPolicy(*pf.GroupPayout)
		if err != nil {
			return core.Policy{}, Currency{}, fmt.Errorf("group_payout: %w", err)
		}
		p.GroupPayout = payout
	}
	if pf.PlatformOwnerID != nil {
		p.PlatformOwnerID = *pf.PlatformOwnerID
	}

	if err := p.Validate(); err != nil {
		return core.Policy{}, Currency{}, fmt.Errorf("settlement policy: %w", err)
	}
	return p, cur, nil
}
