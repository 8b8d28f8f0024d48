package server

import (
	"errors"
	"net/http"
	"time"

	"MarginVault/internal/asset"
	"MarginVault/internal/config"
	"MarginVault/internal/vault"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

var errMissingTokens = errors.New("debt_token and position_token required")

// positionView is the wire form of one open position.
type positionView struct {
	UID            uuid.UUID `json:"uid"`
	Account        uuid.UUID `json:"account"`
	DebtToken      string    `json:"debt_token"`
	PositionToken  string    `json:"position_token"`
	MarginAmount   string    `json:"margin_amount"`
	DebtShares     string    `json:"debt_shares"`
	PositionAmount string    `json:"position_amount"`
	OpenedAt       time.Time `json:"opened_at"`
}

func viewOf(p *vault.Position) positionView {
	return positionView{
		UID:            p.UID,
		Account:        p.Account,
		DebtToken:      string(p.DebtToken),
		PositionToken:  string(p.PositionToken),
		MarginAmount:   p.MarginAmount.Dec(),
		DebtShares:     p.DebtShares.Dec(),
		PositionAmount: p.PositionAmount.Dec(),
		OpenedAt:       p.OpenedAt,
	}
}

// --- pool queries ---

func (s *Server) handleListPools(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	overviews := s.engine.Overviews()
	s.mu.Unlock()
	s.writeJSON(w, http.StatusOK, overviews)
}

func (s *Server) handleGetPool(w http.ResponseWriter, r *http.Request) {
	token := pathToken(r)
	s.mu.Lock()
	overview := s.engine.Overview(token)
	s.mu.Unlock()
	s.writeJSON(w, http.StatusOK, overview)
}

// --- account queries ---

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	account, err := pathUUID(r, "account")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	token := pathToken(r)

	s.mu.Lock()
	balance := s.engine.MarginBalance(account, token)
	s.mu.Unlock()

	s.writeJSON(w, http.StatusOK, map[string]string{
		"account": account.String(),
		"token":   string(token),
		"balance": balance.Dec(),
	})
}

func (s *Server) handleGetShares(w http.ResponseWriter, r *http.Request) {
	account, err := pathUUID(r, "account")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	tier, err := parseTier(r.URL.Query().Get("tier"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	token := pathToken(r)

	s.mu.Lock()
	shares := s.engine.LiquiditySharesOf(token, tier, account)
	s.mu.Unlock()

	s.writeJSON(w, http.StatusOK, map[string]string{
		"account": account.String(),
		"token":   string(token),
		"tier":    tier.String(),
		"shares":  shares.Dec(),
	})
}

func (s *Server) handleListPositions(w http.ResponseWriter, r *http.Request) {
	account, err := pathUUID(r, "account")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	s.mu.Lock()
	positions := s.engine.Positions(account)
	s.mu.Unlock()

	out := make([]positionView, 0, len(positions))
	for _, p := range positions {
		out = append(out, viewOf(p))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetPosition(w http.ResponseWriter, r *http.Request) {
	uid, err := pathUUID(r, "uid")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	s.mu.Lock()
	pos, ok := s.engine.GetPosition(uid)
	var leverage uint64
	var debt string
	if ok {
		if lev, lerr := s.engine.EffectiveLeverage(uid); lerr == nil {
			leverage = lev
		}
		if d, derr := s.engine.DebtOf(uid); derr == nil {
			debt = d.Dec()
		}
	}
	s.mu.Unlock()

	if !ok {
		s.writeEngineError(w, vault.ErrPositionNotFound)
		return
	}

	s.writeJSON(w, http.StatusOK, struct {
		positionView
		EffectiveLeverage uint64 `json:"effective_leverage"`
		Debt              string `json:"debt"`
	}{viewOf(pos), leverage, debt})
}

// --- account operations ---

type fundRequest struct {
	Token  string `json:"token"`
	Amount string `json:"amount"`
}

// handleFund stands in for an inbound token transfer settled upstream of this
// service, so the credit goes to the named account regardless of who calls.
// Withdrawals are the guarded direction: only the owner or a delegate can
// move funds out.
func (s *Server) handleFund(w http.ResponseWriter, r *http.Request) {
	account, err := pathUUID(r, "account")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	var req fundRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	s.mu.Lock()
	err = s.engine.FundAccount(account, asset.Token(req.Token), amount)
	s.mu.Unlock()
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	callerID, err := caller(r)
	if err != nil {
		s.writeError(w, http.StatusUnauthorized, err)
		return
	}
	account, err := pathUUID(r, "account")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	var req fundRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	s.mu.Lock()
	err = s.engine.WithdrawFromAccount(callerID, account, asset.Token(req.Token), amount)
	s.mu.Unlock()
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type swapRequest struct {
	TokenIn      string   `json:"token_in"`
	TokenOut     string   `json:"token_out"`
	AmountIn     string   `json:"amount_in"`
	MinAmountOut string   `json:"min_amount_out"`
	Path         []string `json:"path,omitempty"`
}

func (s *Server) handleSwapMargin(w http.ResponseWriter, r *http.Request) {
	callerID, err := caller(r)
	if err != nil {
		s.writeError(w, http.StatusUnauthorized, err)
		return
	}
	account, err := pathUUID(r, "account")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	var req swapRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	amountIn, err := parseAmount(req.AmountIn)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	minOut, err := parseOptionalAmount(req.MinAmountOut)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	s.mu.Lock()
	out, err := s.engine.SwapMargin(callerID, account, asset.Token(req.TokenIn), asset.Token(req.TokenOut), amountIn, minOut, parsePath(req.Path))
	s.mu.Unlock()
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"amount_out": out.Dec()})
}

// --- liquidity ---

type liquidityRequest struct {
	Account string `json:"account"`
	Token   string `json:"token"`
	Tier    string `json:"tier"`
	Amount  string `json:"amount"`
}

func (s *Server) handleDepositLiquidity(w http.ResponseWriter, r *http.Request) {
	callerID, err := caller(r)
	if err != nil {
		s.writeError(w, http.StatusUnauthorized, err)
		return
	}
	var req liquidityRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	account, err := uuid.Parse(req.Account)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	tier, err := parseTier(req.Tier)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	s.mu.Lock()
	minted, err := s.engine.DepositLiquidity(callerID, account, asset.Token(req.Token), tier, amount)
	s.mu.Unlock()
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"shares_minted": minted.Dec()})
}

func (s *Server) handleWithdrawLiquidity(w http.ResponseWriter, r *http.Request) {
	callerID, err := caller(r)
	if err != nil {
		s.writeError(w, http.StatusUnauthorized, err)
		return
	}
	var req liquidityRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	account, err := uuid.Parse(req.Account)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	tier, err := parseTier(req.Tier)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	s.mu.Lock()
	err = s.engine.WithdrawLiquidity(callerID, account, asset.Token(req.Token), tier, amount)
	s.mu.Unlock()
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- position lifecycle ---

type openRequest struct {
	Account        string   `json:"account"`
	PositionToken  string   `json:"position_token"`
	MinPositionOut string   `json:"min_position_out"`
	DebtToken      string   `json:"debt_token"`
	DebtAmount     string   `json:"debt_amount"`
	MarginAmount   string   `json:"margin_amount"`
	Path           []string `json:"path,omitempty"`
}

func (s *Server) handleOpenPosition(w http.ResponseWriter, r *http.Request) {
	callerID, err := caller(r)
	if err != nil {
		s.writeError(w, http.StatusUnauthorized, err)
		return
	}
	var req openRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	account, err := uuid.Parse(req.Account)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	minOut, err := parseOptionalAmount(req.MinPositionOut)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	debtAmount, err := parseOptionalAmount(req.DebtAmount)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	marginAmount, err := parseAmount(req.MarginAmount)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	s.mu.Lock()
	uid, bought, err := s.engine.OpenPosition(callerID, account,
		asset.Token(req.PositionToken), minOut,
		asset.Token(req.DebtToken), debtAmount, marginAmount, parsePath(req.Path))
	s.mu.Unlock()
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"uid":             uid.String(),
		"position_amount": bought.Dec(),
	})
}

type amountRequest struct {
	Amount string `json:"amount"`
}

func (s *Server) handleAddMargin(w http.ResponseWriter, r *http.Request) {
	callerID, uid, amount, ok := s.positionAmountArgs(w, r)
	if !ok {
		return
	}
	s.mu.Lock()
	err := s.engine.AddMargin(callerID, uid, amount)
	s.mu.Unlock()
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRemoveMargin(w http.ResponseWriter, r *http.Request) {
	callerID, uid, amount, ok := s.positionAmountArgs(w, r)
	if !ok {
		return
	}
	s.mu.Lock()
	err := s.engine.RemoveMargin(callerID, uid, amount)
	s.mu.Unlock()
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type reduceRequest struct {
	SellAmount string   `json:"sell_amount"`
	MinDebtOut string   `json:"min_debt_out"`
	Path       []string `json:"path,omitempty"`
}

func (s *Server) handleReducePosition(w http.ResponseWriter, r *http.Request) {
	callerID, err := caller(r)
	if err != nil {
		s.writeError(w, http.StatusUnauthorized, err)
		return
	}
	uid, err := pathUUID(r, "uid")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	var req reduceRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	sellAmount, err := parseAmount(req.SellAmount)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	minDebtOut, err := parseOptionalAmount(req.MinDebtOut)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	s.mu.Lock()
	err = s.engine.ReducePosition(callerID, uid, sellAmount, minDebtOut, parsePath(req.Path))
	s.mu.Unlock()
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type closeRequest struct {
	MinDebtOut string   `json:"min_debt_out"`
	Path       []string `json:"path,omitempty"`
}

func (s *Server) handleClosePosition(w http.ResponseWriter, r *http.Request) {
	callerID, err := caller(r)
	if err != nil {
		s.writeError(w, http.StatusUnauthorized, err)
		return
	}
	uid, err := pathUUID(r, "uid")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	var req closeRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	minDebtOut, err := parseOptionalAmount(req.MinDebtOut)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	s.mu.Lock()
	credit, err := s.engine.ClosePosition(callerID, uid, minDebtOut, parsePath(req.Path))
	s.mu.Unlock()
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"margin_credit": credit.Dec()})
}

type liquidateRequest struct {
	Path []string `json:"path,omitempty"`
}

func (s *Server) handleLiquidate(w http.ResponseWriter, r *http.Request) {
	callerID, err := caller(r)
	if err != nil {
		s.writeError(w, http.StatusUnauthorized, err)
		return
	}
	uid, err := pathUUID(r, "uid")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	var req liquidateRequest
	if r.ContentLength > 0 {
		if err := decodeBody(r, &req); err != nil {
			s.writeError(w, http.StatusBadRequest, err)
			return
		}
	}

	s.mu.Lock()
	err = s.engine.Liquidate(callerID, uid, parsePath(req.Path))
	s.mu.Unlock()
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) positionAmountArgs(w http.ResponseWriter, r *http.Request) (uuid.UUID, uuid.UUID, *uint256.Int, bool) {
	callerID, err := caller(r)
	if err != nil {
		s.writeError(w, http.StatusUnauthorized, err)
		return uuid.Nil, uuid.Nil, nil, false
	}
	uid, err := pathUUID(r, "uid")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return uuid.Nil, uuid.Nil, nil, false
	}
	var req amountRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return uuid.Nil, uuid.Nil, nil, false
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return uuid.Nil, uuid.Nil, nil, false
	}
	return callerID, uid, amount, true
}

// --- maintenance ---

func (s *Server) handleAccrue(w http.ResponseWriter, r *http.Request) {
	token := pathToken(r)
	s.mu.Lock()
	s.engine.AccrueInterest(token)
	overview := s.engine.Overview(token)
	s.mu.Unlock()
	s.writeJSON(w, http.StatusOK, overview)
}

type repayRequest struct {
	Account string `json:"account"`
	Token   string `json:"token"`
	Amount  string `json:"amount"`
}

func (s *Server) handleRepayBadDebt(w http.ResponseWriter, r *http.Request) {
	callerID, err := caller(r)
	if err != nil {
		s.writeError(w, http.StatusUnauthorized, err)
		return
	}
	var req repayRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	account, err := uuid.Parse(req.Account)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	s.mu.Lock()
	applied, err := s.engine.RepayBadDebt(callerID, account, asset.Token(req.Token), amount)
	s.mu.Unlock()
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"applied": applied.Dec()})
}

// --- admin ---

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	status := map[string]interface{}{
		"sequence":             s.engine.Sequence(),
		"accepting_new_orders": s.engine.AcceptingNewOrders(),
	}
	s.mu.Unlock()
	s.writeJSON(w, http.StatusOK, status)
}

type marketRequest struct {
	DebtToken              string `json:"debt_token"`
	PositionToken          string `json:"position_token"`
	MaxLeverage            uint64 `json:"max_leverage"`
	LiquidationSlippageBps uint64 `json:"liquidation_slippage_bps"`
	Enabled                bool   `json:"enabled"`
}

func (s *Server) handleSetMarket(w http.ResponseWriter, r *http.Request) {
	var req marketRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.DebtToken == "" || req.PositionToken == "" {
		s.writeError(w, http.StatusBadRequest, errMissingTokens)
		return
	}

	s.mu.Lock()
	err := s.engine.Config().SetMarket(
		config.MarketKey{DebtToken: asset.Token(req.DebtToken), PositionToken: asset.Token(req.PositionToken)},
		config.Market{
			MaxLeverage:            req.MaxLeverage,
			LiquidationSlippageBps: req.LiquidationSlippageBps,
			Enabled:                req.Enabled,
		},
	)
	s.mu.Unlock()
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSetFees(w http.ResponseWriter, r *http.Request) {
	var req config.Fees
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	s.mu.Lock()
	err := s.engine.Config().SetFees(req)
	s.mu.Unlock()
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type acceptingOrdersRequest struct {
	Accepting bool `json:"accepting"`
}

func (s *Server) handleSetAcceptingOrders(w http.ResponseWriter, r *http.Request) {
	var req acceptingOrdersRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	s.mu.Lock()
	s.engine.Config().SetAcceptingNewOrders(req.Accepting)
	s.mu.Unlock()
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
