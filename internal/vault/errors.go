package vault

import "errors"

var (
	ErrUnauthorized          = errors.New("unauthorized")
	ErrInsufficientMargin    = errors.New("not enough margin")
	ErrInsufficientShares    = errors.New("cannot withdraw more than you own")
	ErrInsufficientLiquidity = errors.New("not enough liquidity")
	ErrExceedsMaxLeverage    = errors.New("exceeds max leverage")
	ErrNotLiquidatable       = errors.New("position not liquidateable")
	ErrCooldown              = errors.New("cooldown")
	ErrOracle                = errors.New("oracle error")
	ErrMarketDisabled        = errors.New("market disabled")
	ErrNotAcceptingOrders    = errors.New("not accepting new orders")
	ErrPositionNotFound      = errors.New("position not found")
	ErrTokenNotWhitelisted   = errors.New("token not whitelisted")
	ErrZeroAmount            = errors.New("zero amount")
)
