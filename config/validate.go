package config

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"exchangefunds/native/fees"
)

func parseUintAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, nil
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	if value.Sign() < 0 {
		return nil, fmt.Errorf("amount %q must not be negative", raw)
	}
	return value, nil
}

func parseAddress(field, raw string) (common.Address, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return common.Address{}, nil
	}
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("%s: invalid address %q", field, raw)
	}
	return common.HexToAddress(trimmed), nil
}

// Validate checks storage selection, wallet addresses and the fee policy.
func (c *Config) Validate() error {
	switch c.Storage {
	case StorageMemory:
	case StorageLevelDB:
		if strings.TrimSpace(c.DataDir) == "" {
			return fmt.Errorf("storage: leveldb requires DataDir")
		}
	default:
		return fmt.Errorf("storage: unknown backend %q", c.Storage)
	}
	if _, err := c.VaultAddress(); err != nil {
		return err
	}
	if _, err := c.TreasuryAddress(); err != nil {
		return err
	}
	if _, err := c.Policy(); err != nil {
		return err
	}
	return nil
}

// VaultAddress returns the address that custodies deposited funds.
func (c *Config) VaultAddress() (common.Address, error) {
	addr, err := parseAddress("vault", c.Vault)
	if err != nil {
		return common.Address{}, err
	}
	if addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("vault: address required")
	}
	return addr, nil
}

// TreasuryAddress returns the wallet protocol fees are withdrawn to.
func (c *Config) TreasuryAddress() (common.Address, error) {
	return parseAddress("treasury", c.Treasury)
}

// Policy converts the [Fees] section into a validated fee policy.
func (c *Config) Policy() (fees.Policy, error) {
	f := c.Fees
	policy := fees.Policy{
		ProtocolFeeBps:            f.ProtocolFeeBps,
		MaxRoyaltyBps:             f.MaxRoyaltyBps,
		MaxTotalFeeBps:            f.MaxTotalFeeBps,
		BuyerEscalationDepositBps: f.BuyerEscalationDepositBps,
	}
	flat, err := parseUintAmount(f.FlatFee)
	if err != nil {
		return fees.Policy{}, fmt.Errorf("invalid fees.FlatFee: %w", err)
	}
	policy.FlatFee = flat
	if policy.FeeToken, err = parseAddress("fees.FeeToken", f.FeeToken); err != nil {
		return fees.Policy{}, err
	}
	for i, tier := range f.Tiers {
		token, err := parseAddress(fmt.Sprintf("fees.Tiers[%d].Token", i), tier.Token)
		if err != nil {
			return fees.Policy{}, err
		}
		converted := fees.Tier{Token: token, FeeBps: append([]uint16(nil), tier.FeeBps...)}
		for _, raw := range tier.PriceLimits {
			limit, err := parseUintAmount(raw)
			if err != nil || limit == nil {
				return fees.Policy{}, fmt.Errorf("invalid fees.Tiers[%d].PriceLimits: %q", i, raw)
			}
			converted.PriceLimits = append(converted.PriceLimits, limit)
		}
		policy.Tiers = append(policy.Tiers, converted)
	}
	if err := policy.Validate(); err != nil {
		return fees.Policy{}, err
	}
	return policy, nil
}
