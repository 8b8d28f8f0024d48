package event

import "github.com/google/uuid"

// All amount fields are decimal strings so payloads survive JSON round trips
// without precision loss.

type LiquidityDeposited struct {
	Tier         string `json:"tier"`
	Amount       string `json:"amount"`
	SharesMinted string `json:"shares_minted"`
}

type LiquidityWithdrawn struct {
	Tier         string `json:"tier"`
	SharesBurned string `json:"shares_burned"`
	AmountOut    string `json:"amount_out"`
}

type AccountFunded struct {
	Amount string `json:"amount"`
}

type AccountWithdrawal struct {
	Amount string `json:"amount"`
}

type MarginSwapped struct {
	TokenIn   string `json:"token_in"`
	TokenOut  string `json:"token_out"`
	AmountIn  string `json:"amount_in"`
	AmountOut string `json:"amount_out"`
}

type PositionOpened struct {
	PositionID     uuid.UUID `json:"position_id"`
	DebtToken      string    `json:"debt_token"`
	PositionToken  string    `json:"position_token"`
	MarginAmount   string    `json:"margin_amount"`
	DebtAmount     string    `json:"debt_amount"`
	DebtShares     string    `json:"debt_shares"`
	PositionAmount string    `json:"position_amount"`
	OpenFee        string    `json:"open_fee"`
}

type MarginAdded struct {
	PositionID uuid.UUID `json:"position_id"`
	Amount     string    `json:"amount"`
}

type MarginRemoved struct {
	PositionID uuid.UUID `json:"position_id"`
	Amount     string    `json:"amount"`
}

type PositionReduced struct {
	PositionID     uuid.UUID `json:"position_id"`
	SellAmount     string    `json:"sell_amount"`
	Proceeds       string    `json:"proceeds"`
	DebtRepaid     string    `json:"debt_repaid"`
	SharesBurned   string    `json:"shares_burned"`
	MarginReleased string    `json:"margin_released"`
}

type PositionClosed struct {
	PositionID   uuid.UUID `json:"position_id"`
	Proceeds     string    `json:"proceeds"`
	DebtValue    string    `json:"debt_value"`
	MarginCredit string    `json:"margin_credit"`
	Shortfall    string    `json:"shortfall"`
}

type PositionLiquidated struct {
	PositionID   uuid.UUID `json:"position_id"`
	Liquidator   uuid.UUID `json:"liquidator"`
	Proceeds     string    `json:"proceeds"`
	DebtValue    string    `json:"debt_value"`
	Penalty      string    `json:"penalty"`
	MarginCredit string    `json:"margin_credit"`
	Shortfall    string    `json:"shortfall"`
}

type BadDebtRecognized struct {
	PositionID uuid.UUID `json:"position_id"`
	Amount     string    `json:"amount"`
}

type BadDebtRepaid struct {
	Amount string `json:"amount"`
}

type InterestAccrued struct {
	Interest     string `json:"interest"`
	BaseShare    string `json:"base_share"`
	SafetyShare  string `json:"safety_share"`
	RatePerYear  uint64 `json:"rate_per_year"`
	Utilization  uint64 `json:"utilization"`
	ElapsedSecs  int64  `json:"elapsed_secs"`
	NewTotalDebt string `json:"new_total_debt"`
}

type FeeDistributed struct {
	Source      string `json:"source"`
	Total       string `json:"total"`
	BaseShare   string `json:"base_share"`
	SafetyShare string `json:"safety_share"`
	Receiver    string `json:"receiver"`
}
