// Package event is the canonical, origin-independent market-data model.
// Every producer emits one of the four variants and every subscriber
// receives them as tagged JSON records.
package event

import (
	"errors"
	"time"

	"github.com/segmentio/encoding/json"
)

type Type string

const (
	TypePrice  Type = "price"
	TypeTrade  Type = "trade"
	TypeBook   Type = "book"
	TypeSystem Type = "system"
)

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

var ErrUnknownType = errors.New("event: unknown type")

// Event is implemented by Price, Trade, BookDepth and SystemMetric only.
type Event interface {
	Kind() Type
}

type Price struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
	Volume uint64  `json:"volume"`
	Ts     int64   `json:"ts"` // micros since epoch
}

type Trade struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
	Size   float64 `json:"size"`
	Side   Side    `json:"side"`
	Ts     int64   `json:"ts"`
}

// Level is one book level, encoded as [price, size].
type Level [2]float64

func (l Level) Price() float64 { return l[0] }
func (l Level) Size() float64  { return l[1] }

type BookDepth struct {
	Symbol string  `json:"symbol"`
	Bids   []Level `json:"bids"`
	Asks   []Level `json:"asks"`
	Ts     int64   `json:"ts"`
}

type SystemMetric struct {
	CPUPct  float64 `json:"cpu_pct"`
	MemMB   uint64  `json:"mem_mb"`
	MsgRate uint64  `json:"msg_rate"`
	Ts      int64   `json:"ts"`
}

func (Price) Kind() Type        { return TypePrice }
func (Trade) Kind() Type        { return TypeTrade }
func (BookDepth) Kind() Type    { return TypeBook }
func (SystemMetric) Kind() Type { return TypeSystem }

// NowMicros is the canonical clock used to stamp events at production or receipt.
func NowMicros() int64 { return time.Now().UnixMicro() }

// wire shapes: "type" first, then the variant fields
type (
	priceWire struct {
		Type Type `json:"type"`
		Price
	}
	tradeWire struct {
		Type Type `json:"type"`
		Trade
	}
	bookWire struct {
		Type Type `json:"type"`
		BookDepth
	}
	systemWire struct {
		Type Type `json:"type"`
		SystemMetric
	}
)

// Encode serializes ev as a tagged record.
func Encode(ev Event) ([]byte, error) {
	switch e := ev.(type) {
	case Price:
		return json.Marshal(priceWire{TypePrice, e})
	case Trade:
		return json.Marshal(tradeWire{TypeTrade, e})
	case BookDepth:
		return json.Marshal(bookWire{TypeBook, e})
	case SystemMetric:
		return json.Marshal(systemWire{TypeSystem, e})
	case *Price:
		return Encode(*e)
	case *Trade:
		return Encode(*e)
	case *BookDepth:
		return Encode(*e)
	case *SystemMetric:
		return Encode(*e)
	}
	return nil, ErrUnknownType
}

// TypeOf reads only the discriminator.
func TypeOf(b []byte) (Type, error) {
	var head struct {
		Type Type `json:"type"`
	}
	if err := json.Unmarshal(b, &head); err != nil {
		return "", err
	}
	return head.Type, nil
}

// Decode parses a tagged record. Records with an unrecognized type return
// ErrUnknownType and must be skipped by the caller, not treated as fatal.
func Decode(b []byte) (Event, error) {
	t, err := TypeOf(b)
	if err != nil {
		return nil, err
	}
	switch t {
	case TypePrice:
		var w priceWire
		if err := json.Unmarshal(b, &w); err != nil {
			return nil, err
		}
		return w.Price, nil
	case TypeTrade:
		var w tradeWire
		if err := json.Unmarshal(b, &w); err != nil {
			return nil, err
		}
		return w.Trade, nil
	case TypeBook:
		var w bookWire
		if err := json.Unmarshal(b, &w); err != nil {
			return nil, err
		}
		return w.BookDepth, nil
	case TypeSystem:
		var w systemWire
		if err := json.Unmarshal(b, &w); err != nil {
			return nil, err
		}
		return w.SystemMetric, nil
	}
	return nil, ErrUnknownType
}
