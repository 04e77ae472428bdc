package binance

import (
	"errors"
	"math"
	"strings"

	"github.com/segmentio/encoding/json"
	"github.com/shopspring/decimal"
	"streamex.com/internal/quotes/event"
	"streamex.com/pkg/xerr"
)

var symbolTable = map[string]string{
	"BTCUSDT": "BTC/USD",
	"ETHUSDT": "ETH/USD",
	"SOLUSDT": "SOL/USD",
}

// NormalizeSymbol maps an exchange symbol to the canonical one; unknown
// symbols pass through uppercased.
func NormalizeSymbol(raw string) string {
	up := strings.ToUpper(raw)
	if s, ok := symbolTable[up]; ok {
		return s
	}
	return up
}

var maxVolume = decimal.NewFromInt(math.MaxInt64)

// 24hr rolling ticker: only the fields we translate
type bnTicker struct {
	Symbol *string `json:"s"`
	Last   *string `json:"c"`
	Volume *string `json:"v"`
}

// ParseTicker translates a <symbol>@ticker payload into a Price stamped with now.
func ParseTicker(b []byte, now int64) (event.Price, error) {
	var t bnTicker
	if err := json.Unmarshal(b, &t); err != nil {
		return event.Price{}, malformed(err)
	}
	if t.Symbol == nil || t.Last == nil || t.Volume == nil {
		return event.Price{}, malformed(errors.New("ticker: missing s/c/v"))
	}
	price, err := decimal.NewFromString(*t.Last)
	if err != nil {
		return event.Price{}, malformed(err)
	}
	vol, err := decimal.NewFromString(*t.Volume)
	// volume must fit the event's uint64 without wrapping through IntPart
	if err != nil || vol.IsNegative() || vol.GreaterThan(maxVolume) {
		return event.Price{}, malformed(errors.New("ticker: bad volume " + *t.Volume))
	}
	return event.Price{
		Symbol: NormalizeSymbol(*t.Symbol),
		Price:  price.InexactFloat64(),
		Volume: uint64(vol.IntPart()), // truncated
		Ts:     now,
	}, nil
}

type bnTrade struct {
	Symbol       *string `json:"s"`
	Price        *string `json:"p"`
	Qty          *string `json:"q"`
	BuyerIsMaker *bool   `json:"m"`
}

// combined-stream frames wrap the payload: {"stream":"btcusdt@trade","data":{...}}
type bnCombined struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// ParseTrade translates a trade payload, either wrapped in a combined-stream
// envelope or flat, into a Trade stamped with now.
func ParseTrade(b []byte, now int64) (event.Trade, error) {
	var env bnCombined
	if err := json.Unmarshal(b, &env); err != nil {
		return event.Trade{}, malformed(err)
	}

	body := b
	switch {
	case len(env.Data) > 0 && string(env.Data) != "null":
		body = env.Data
	default:
		// flat payload from a single /ws/<sym>@trade stream
	}

	var t bnTrade
	if err := json.Unmarshal(body, &t); err != nil {
		return event.Trade{}, malformed(err)
	}
	if t.Symbol == nil || t.Price == nil || t.Qty == nil || t.BuyerIsMaker == nil {
		return event.Trade{}, malformed(errors.New("trade: missing s/p/q/m"))
	}
	price, err := decimal.NewFromString(*t.Price)
	if err != nil {
		return event.Trade{}, malformed(err)
	}
	qty, err := decimal.NewFromString(*t.Qty)
	if err != nil {
		return event.Trade{}, malformed(err)
	}

	// m=true: buyer is the maker, so the aggressor sold
	side := event.SideBuy
	if *t.BuyerIsMaker {
		side = event.SideSell
	}
	return event.Trade{
		Symbol: NormalizeSymbol(*t.Symbol),
		Price:  price.InexactFloat64(),
		Size:   qty.InexactFloat64(),
		Side:   side,
		Ts:     now,
	}, nil
}

func malformed(err error) error {
	return xerr.Wrap(err, xerr.MalformedPayload, "binance payload")
}
