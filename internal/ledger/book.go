package ledger

import (
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/victornm/afribourse/internal/domain"
	"github.com/victornm/afribourse/internal/errors"
)

// averagePricePlaces is the precision of a position's average buy price.
const averagePricePlaces = 4

// moneyPlaces is the precision money columns are stored with.
const moneyPlaces = 4

var tickerPattern = regexp.MustCompile(`^[A-Z0-9]{2,10}$`)

// NormalizeTicker upper-cases the ticker and checks its format.
func NormalizeTicker(s string) (string, error) {
	t := strings.ToUpper(strings.TrimSpace(s))
	if !tickerPattern.MatchString(t) {
		return "", errors.New(errors.CodeInvalidArgument, errors.WithMessagef("invalid ticker: %q", s))
	}
	return t, nil
}

// checkPrecision refuses amounts the store would round.
func checkPrecision(field string, d decimal.Decimal) error {
	if d.Exponent() < -moneyPlaces && !d.Equal(d.Truncate(moneyPlaces)) {
		return errors.New(errors.CodeInvalidArgument, errors.WithMessagef("%s has more than %d decimal places", field, moneyPlaces))
	}
	return nil
}

// book is the cash and single position an order works on. Orders mutate a book only
// after every check passed.
type book struct {
	cash     decimal.Decimal
	position *domain.Position
}

func (b *book) buy(portfolioID, ticker string, qty int64, price decimal.Decimal, now time.Time) error {
	cost := price.Mul(decimal.NewFromInt(qty))
	if cost.GreaterThan(b.cash) {
		return errors.New(errors.CodeFailedPrecondition,
			errors.WithReason(errors.ReasonInsufficientFunds),
			errors.WithMessagef("order costs %s, cash balance is %s", cost, b.cash),
		)
	}

	b.cash = b.cash.Sub(cost)

	if b.position == nil {
		b.position = &domain.Position{
			PortfolioID:     portfolioID,
			Ticker:          ticker,
			Quantity:        qty,
			AverageBuyPrice: price,
			UpdateTime:      now,
		}
		return nil
	}

	p := *b.position
	p.AverageBuyPrice = averagePrice(p.Quantity, p.AverageBuyPrice, qty, price)
	p.Quantity += qty
	p.UpdateTime = now
	b.position = &p
	return nil
}

func (b *book) sell(ticker string, qty int64, price decimal.Decimal, now time.Time) error {
	if b.position == nil {
		return errors.New(errors.CodeFailedPrecondition,
			errors.WithReason(errors.ReasonPositionNotFound),
			errors.WithMessagef("no position in %s", ticker),
		)
	}

	if qty > b.position.Quantity {
		return errors.New(errors.CodeFailedPrecondition,
			errors.WithReason(errors.ReasonInsufficientShares),
			errors.WithMessagef("selling %d %s, holding %d", qty, ticker, b.position.Quantity),
		)
	}

	b.cash = b.cash.Add(price.Mul(decimal.NewFromInt(qty)))

	p := *b.position
	p.Quantity -= qty
	p.UpdateTime = now
	b.position = &p
	return nil
}

// averagePrice is the quantity weighted average of the held and bought lots.
func averagePrice(heldQty int64, heldAvg decimal.Decimal, qty int64, price decimal.Decimal) decimal.Decimal {
	total := heldAvg.Mul(decimal.NewFromInt(heldQty)).Add(price.Mul(decimal.NewFromInt(qty)))
	return total.DivRound(decimal.NewFromInt(heldQty+qty), averagePricePlaces)
}

// valuation returns the value of the positions, pricing each ticker at its latest price or,
// without one, at its average buy price.
func valuation(positions []domain.Position, prices map[string]decimal.Decimal) decimal.Decimal {
	v := decimal.Zero
	for _, p := range positions {
		price, ok := prices[p.Ticker]
		if !ok {
			price = p.AverageBuyPrice
		}
		v = v.Add(price.Mul(decimal.NewFromInt(p.Quantity)))
	}
	return v
}
