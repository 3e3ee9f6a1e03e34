package config

// Tier assigns protocol fee percentages to ascending price limits of a token.
type Tier struct {
	Token       string   `toml:"Token"`
	PriceLimits []string `toml:"PriceLimits"`
	FeeBps      []uint16 `toml:"FeeBps"`
}

// Fees mirrors the global fee policy. Amounts are decimal strings.
type Fees struct {
	ProtocolFeeBps            uint16 `toml:"ProtocolFeeBps"`
	FlatFee                   string `toml:"FlatFee,omitempty"`
	FeeToken                  string `toml:"FeeToken,omitempty"`
	MaxRoyaltyBps             uint16 `toml:"MaxRoyaltyBps"`
	MaxTotalFeeBps            uint16 `toml:"MaxTotalFeeBps"`
	BuyerEscalationDepositBps uint16 `toml:"BuyerEscalationDepositBps"`
	Tiers                     []Tier `toml:"Tiers,omitempty"`
}

// Log controls the structured logger and optional file rotation.
type Log struct {
	Level      string `toml:"Level"`
	File       string `toml:"File,omitempty"`
	MaxSizeMB  int    `toml:"MaxSizeMB,omitempty"`
	MaxBackups int    `toml:"MaxBackups,omitempty"`
	MaxAgeDays int    `toml:"MaxAgeDays,omitempty"`
}

type Metrics struct {
	Enabled bool   `toml:"Enabled"`
	Address string `toml:"Address,omitempty"`
}

// Telemetry configures the OTLP exporters.
type Telemetry struct {
	Endpoint string `toml:"Endpoint,omitempty"`
	Insecure bool   `toml:"Insecure"`
	Headers  string `toml:"Headers,omitempty"`
	Traces   bool   `toml:"Traces"`
	Metrics  bool   `toml:"Metrics"`
}
