package strategy

import (
	"context"

	"valrtrader/pkg/valr"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Executor acts on a decision. Implementations must be safe for concurrent use.
type Executor interface {
	Execute(ctx context.Context, pair string, sig Signal) error
}

// Journal persists decisions. The storage package provides one.
type Journal interface {
	RecordSignal(ctx context.Context, pair string, sig Signal) error
}

type BalanceReader interface {
	Balance(currency string) (valr.Balance, bool)
}

// LogExecutor reports buy and sell decisions without placing orders.
type LogExecutor struct {
	BaseCurrency  string
	QuoteCurrency string
	Balances      BalanceReader
	Journal       Journal // optional
	Logger        *zap.Logger
}

func (x *LogExecutor) Execute(ctx context.Context, pair string, sig Signal) error {
	var (
		currency string
		total    decimal.Decimal
	)
	switch sig.Direction {
	case DirectionBuy:
		currency = x.QuoteCurrency
	case DirectionSell:
		currency = x.BaseCurrency
	default:
		return nil
	}
	if x.Balances != nil {
		if bal, ok := x.Balances.Balance(currency); ok {
			total = bal.Total
		}
	}

	x.Logger.Info("place order",
		zap.String("pair", pair),
		zap.String("side", string(sig.Direction)),
		zap.Stringer("price", sig.Price),
		zap.Stringer("quantity", sig.Quantity),
		zap.String("balance_currency", currency),
		zap.Stringer("balance_total", total),
		zap.Stringer("swing_high", sig.SwingHigh),
		zap.Stringer("swing_low", sig.SwingLow),
		zap.Stringer("previous_close", sig.PreviousClose),
	)

	if x.Journal != nil {
		return x.Journal.RecordSignal(ctx, pair, sig)
	}
	return nil
}
