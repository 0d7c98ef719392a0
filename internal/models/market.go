package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ContractKey deterministically identifies a tradable instrument the way
// spec.md §3's market -> (sec_type, exchange, currency) mapping resolves
// it. Currency is always USD per spec.md's non-goal on cross-currency.
type ContractKey struct {
	Symbol   string
	SecType  string // STK | FUT
	Exchange string
	Currency string
}

func (c ContractKey) String() string {
	return c.SecType + ":" + c.Exchange + ":" + c.Symbol + ":" + c.Currency
}

// Bar is one OHLCV sample at a given size, keyed by (contract, bar_size,
// ts) and idempotent on re-fetch.
type Bar struct {
	Contract ContractKey
	BarSize  string
	Ts       time.Time
	Open     decimal.Decimal
	High     decimal.Decimal
	Low      decimal.Decimal
	Close    decimal.Decimal
	Volume   decimal.Decimal
	Amount   decimal.Decimal // notional turnover, used by AMOUNT_RATIO
}

// BarFetchMeta describes how a getHistoricalBars call was served.
type BarFetchMeta struct {
	HitRatio       float64
	FetchSegments  int
	CoverageStart  time.Time
	CoverageEnd    time.Time
	Truncated      bool
}

type AccountSnapshot struct {
	NetLiquidationUSD decimal.Decimal
	AvailableFundsUSD decimal.Decimal
	AsOf              time.Time
}

type Position struct {
	Contract ContractKey
	Quantity decimal.Decimal
	AvgCost  decimal.Decimal
}
