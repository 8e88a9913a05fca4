// Package chain holds the raw options-chain data model and the snapshot
// validator that gates every downstream aggregation.
package chain

import (
	"math"
	"time"
)

// OptionType identifies the contract side.
type OptionType string

const (
	Call OptionType = "CALL"
	Put  OptionType = "PUT"
)

// ContractRecord is one option leg at snapshot time. Greeks and implied
// volatility are optional on ingest; the validator rejects contracts that
// lack them so downstream consumers never re-check.
type ContractRecord struct {
	Strike     float64    `json:"strike"`
	Expiration time.Time  `json:"expiration"`
	Type       OptionType `json:"type"`

	Delta *float64 `json:"delta,omitempty"`
	Gamma *float64 `json:"gamma,omitempty"`
	IV    *float64 `json:"iv,omitempty"`

	OpenInterest int64 `json:"open_interest"`
	Volume       int64 `json:"volume"`

	Bid float64 `json:"bid"`
	Ask float64 `json:"ask"`
}

// Mid returns the bid/ask midpoint.
func (c ContractRecord) Mid() float64 {
	return (c.Bid + c.Ask) / 2
}

// DTE returns the contract's calendar days to expiry as of the given time.
// Expired contracts return a negative count.
func (c ContractRecord) DTE(asOf time.Time) int {
	return int(c.Expiration.Sub(asOf).Hours() / 24)
}

// HasGreeks reports whether delta, gamma and IV are all present and finite.
func (c ContractRecord) HasGreeks() bool {
	return finite(c.Delta) && finite(c.Gamma) && finite(c.IV)
}

func finite(v *float64) bool {
	return v != nil && !math.IsNaN(*v) && !math.IsInf(*v, 0)
}

// Snapshot is an ordered collection of contracts for one symbol at one as-of
// time. All records share the symbol and the underlying price reference.
// Snapshots are ephemeral: created per run, discarded after aggregation.
type Snapshot struct {
	Symbol     string           `json:"symbol"`
	AsOf       time.Time        `json:"as_of"`
	Underlying float64          `json:"underlying"`
	Contracts  []ContractRecord `json:"contracts"`
}

// Empty reports whether the snapshot carries no contracts.
func (s Snapshot) Empty() bool {
	return len(s.Contracts) == 0
}

// F is a convenience constructor for optional float fields.
func F(v float64) *float64 {
	return &v
}
