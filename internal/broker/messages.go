// messages.go builds and parses the broker's Open API protobuf payloads.
//
// The schema is encoded by hand with protowire: the runtime only touches a
// small slice of the published message set, and the field numbers below are
// fixed by the broker's schema. Prices arrive as integers in units of
// 10^digits, order and position volumes as integer units (100 000 units to
// the standard lot), and trendbar open/high/close as deltas from the bar's
// low. Scaling is applied in the adapter, not here.
package broker

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"oracle-trader/internal/wire"
	"oracle-trader/pkg/types"
)

// TimeframeToPeriod maps a timeframe label to the broker's trendbar period
// enum value.
var TimeframeToPeriod = map[types.Timeframe]uint64{
	types.M1:  1,
	types.M5:  5,
	types.M15: 7,
	types.M30: 8,
	types.H1:  9,
	types.H4:  10,
	types.D1:  12,
}

// Trade side enum values on the wire.
const (
	tradeSideBuy  = 1
	tradeSideSell = 2
)

// orderTypeMarket is the only order type the runtime submits.
const orderTypeMarket = 1

// positionStatusClosed marks a position record that must be evicted from the
// cache when it arrives in an execution event.
const positionStatusClosed = 2

// ————————————————————————————————————————————————————————————————————————
// Encoding helpers
// ————————————————————————————————————————————————————————————————————————

type msgBuilder struct {
	b []byte
}

func (m *msgBuilder) varint(num protowire.Number, v uint64) {
	m.b = protowire.AppendTag(m.b, num, protowire.VarintType)
	m.b = protowire.AppendVarint(m.b, v)
}

func (m *msgBuilder) int64(num protowire.Number, v int64) {
	m.varint(num, uint64(v))
}

func (m *msgBuilder) double(num protowire.Number, v float64) {
	m.b = protowire.AppendTag(m.b, num, protowire.Fixed64Type)
	m.b = protowire.AppendFixed64(m.b, math.Float64bits(v))
}

func (m *msgBuilder) str(num protowire.Number, v string) {
	m.b = protowire.AppendTag(m.b, num, protowire.BytesType)
	m.b = protowire.AppendString(m.b, v)
}

func (m *msgBuilder) bytes(num protowire.Number, v []byte) {
	m.b = protowire.AppendTag(m.b, num, protowire.BytesType)
	m.b = protowire.AppendBytes(m.b, v)
}

// walkFields iterates a protobuf message, invoking fn for each field. The
// val argument carries the varint/fixed64 value for scalar fields and is 0
// for length-delimited fields, which are passed through raw instead.
func walkFields(data []byte, fn func(num protowire.Number, typ protowire.Type, val uint64, raw []byte) error) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("bad tag: %w", protowire.ParseError(n))
		}
		data = data[n:]

		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return fmt.Errorf("field %d: %w", num, protowire.ParseError(n))
			}
			if err := fn(num, typ, v, nil); err != nil {
				return err
			}
			data = data[n:]
		case protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(data)
			if n < 0 {
				return fmt.Errorf("field %d: %w", num, protowire.ParseError(n))
			}
			if err := fn(num, typ, v, nil); err != nil {
				return err
			}
			data = data[n:]
		case protowire.Fixed32Type:
			v, n := protowire.ConsumeFixed32(data)
			if n < 0 {
				return fmt.Errorf("field %d: %w", num, protowire.ParseError(n))
			}
			if err := fn(num, typ, uint64(v), nil); err != nil {
				return err
			}
			data = data[n:]
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return fmt.Errorf("field %d: %w", num, protowire.ParseError(n))
			}
			if err := fn(num, typ, 0, v); err != nil {
				return err
			}
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return fmt.Errorf("field %d: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return nil
}

// ————————————————————————————————————————————————————————————————————————
// Request builders
// ————————————————————————————————————————————————————————————————————————

// BuildApplicationAuthReq identifies the application. First auth step.
func BuildApplicationAuthReq(clientID, clientSecret string) []byte {
	var m msgBuilder
	m.str(2, clientID)
	m.str(3, clientSecret)
	return m.b
}

// BuildAccountAuthReq authorizes one trading account. Second auth step.
func BuildAccountAuthReq(accountID int64, accessToken string) []byte {
	var m msgBuilder
	m.int64(2, accountID)
	m.str(3, accessToken)
	return m.b
}

// BuildVersionReq is the harmless inspection request used as a liveness
// fallback when the heartbeat event is unavailable.
func BuildVersionReq() []byte {
	return nil
}

// BuildHeartbeatEvent is the protocol-level keepalive payload.
func BuildHeartbeatEvent() []byte {
	return nil
}

// BuildSymbolsListReq requests every (name, id) pair on the account.
func BuildSymbolsListReq(accountID int64) []byte {
	var m msgBuilder
	m.int64(2, accountID)
	return m.b
}

// BuildSymbolByIDReq requests full descriptors for up to 100 symbol ids.
func BuildSymbolByIDReq(accountID int64, symbolIDs []int64) []byte {
	var m msgBuilder
	m.int64(2, accountID)
	for _, id := range symbolIDs {
		m.int64(3, id)
	}
	return m.b
}

// BuildTraderReq requests the account record (balance).
func BuildTraderReq(accountID int64) []byte {
	var m msgBuilder
	m.int64(2, accountID)
	return m.b
}

// BuildReconcileReq requests the authoritative open-position set.
func BuildReconcileReq(accountID int64) []byte {
	var m msgBuilder
	m.int64(2, accountID)
	return m.b
}

// BuildSubscribeSpotsReq subscribes tick quotes for a batch of symbols.
func BuildSubscribeSpotsReq(accountID int64, symbolIDs []int64) []byte {
	var m msgBuilder
	m.int64(2, accountID)
	for _, id := range symbolIDs {
		m.int64(3, id)
	}
	return m.b
}

// BuildUnsubscribeSpotsReq cancels a spot subscription.
func BuildUnsubscribeSpotsReq(accountID int64, symbolIDs []int64) []byte {
	var m msgBuilder
	m.int64(2, accountID)
	for _, id := range symbolIDs {
		m.int64(3, id)
	}
	return m.b
}

// BuildGetTrendbarsReq requests historical bars for [fromMs, toMs].
func BuildGetTrendbarsReq(accountID int64, symbolID int64, tf types.Timeframe, fromMs, toMs int64) []byte {
	var m msgBuilder
	m.int64(2, accountID)
	m.int64(3, fromMs)
	m.int64(4, toMs)
	m.varint(5, TimeframeToPeriod[tf])
	m.int64(6, symbolID)
	return m.b
}

// BuildNewOrderReq submits a market order. Volume is in integer units
// (100 000 per lot); stop and take prices are absolute, 0 means none.
func BuildNewOrderReq(accountID, symbolID int64, direction int, volumeUnits int64, slPrice, tpPrice float64, comment string) []byte {
	var m msgBuilder
	m.int64(2, accountID)
	m.int64(3, symbolID)
	m.varint(4, orderTypeMarket)
	if direction == 1 {
		m.varint(5, tradeSideBuy)
	} else {
		m.varint(5, tradeSideSell)
	}
	m.int64(6, volumeUnits)
	if slPrice > 0 {
		m.double(11, slPrice)
	}
	if tpPrice > 0 {
		m.double(12, tpPrice)
	}
	if comment != "" {
		if len(comment) > 100 {
			comment = comment[:100]
		}
		m.str(13, comment)
	}
	return m.b
}

// BuildClosePositionReq closes volumeUnits of a position (partial or full).
func BuildClosePositionReq(accountID, positionID, volumeUnits int64) []byte {
	var m msgBuilder
	m.int64(2, accountID)
	m.int64(3, positionID)
	m.int64(4, volumeUnits)
	return m.b
}

// BuildAmendPositionSLTPReq rewrites the stop and take prices of a position.
func BuildAmendPositionSLTPReq(accountID, positionID int64, slPrice, tpPrice float64) []byte {
	var m msgBuilder
	m.int64(2, accountID)
	m.int64(3, positionID)
	if slPrice > 0 {
		m.double(4, slPrice)
	}
	if tpPrice > 0 {
		m.double(5, tpPrice)
	}
	return m.b
}

// BuildDealListReq requests the closed-deal history for [fromMs, toMs].
func BuildDealListReq(accountID, fromMs, toMs int64, maxRows int) []byte {
	var m msgBuilder
	m.int64(2, accountID)
	m.int64(3, fromMs)
	m.int64(4, toMs)
	if maxRows > 0 {
		m.varint(5, uint64(maxRows))
	}
	return m.b
}

// ————————————————————————————————————————————————————————————————————————
// Response / event parsers
// ————————————————————————————————————————————————————————————————————————

// LightSymbol is one (name, id) pair from the symbols-list response.
type LightSymbol struct {
	ID   int64
	Name string
}

// ParseSymbolsListRes extracts the (name, id) pairs.
func ParseSymbolsListRes(payload []byte) ([]LightSymbol, error) {
	var out []LightSymbol
	err := walkFields(payload, func(num protowire.Number, typ protowire.Type, val uint64, raw []byte) error {
		if num != 3 || typ != protowire.BytesType {
			return nil
		}
		var ls LightSymbol
		err := walkFields(raw, func(n protowire.Number, t protowire.Type, v uint64, r []byte) error {
			switch {
			case n == 1 && t == protowire.VarintType:
				ls.ID = int64(v)
			case n == 2 && t == protowire.BytesType:
				ls.Name = string(r)
			}
			return nil
		})
		if err != nil {
			return err
		}
		out = append(out, ls)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("symbols list: %w", err)
	}
	return out, nil
}

// RawSymbol is a full symbol descriptor before lot/price scaling.
type RawSymbol struct {
	ID          int64
	Digits      int
	PipPosition int
	MaxVolume   int64 // hundredths of a lot
	MinVolume   int64
	StepVolume  int64
	LotSize     int64 // hundredths of a unit, 0 if not reported
}

// ParseSymbolByIDRes extracts full descriptors from a details response.
func ParseSymbolByIDRes(payload []byte) ([]RawSymbol, error) {
	var out []RawSymbol
	err := walkFields(payload, func(num protowire.Number, typ protowire.Type, val uint64, raw []byte) error {
		if num != 3 || typ != protowire.BytesType {
			return nil
		}
		var rs RawSymbol
		err := walkFields(raw, func(n protowire.Number, t protowire.Type, v uint64, r []byte) error {
			switch n {
			case 1:
				rs.ID = int64(v)
			case 2:
				rs.Digits = int(v)
			case 3:
				rs.PipPosition = int(v)
			case 9:
				rs.MaxVolume = int64(v)
			case 10:
				rs.MinVolume = int64(v)
			case 11:
				rs.StepVolume = int64(v)
			case 30:
				rs.LotSize = int64(v)
			}
			return nil
		})
		if err != nil {
			return err
		}
		out = append(out, rs)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("symbol details: %w", err)
	}
	return out, nil
}

// ParseTraderRes extracts the account balance in cents.
func ParseTraderRes(payload []byte) (balanceCents int64, err error) {
	err = walkFields(payload, func(num protowire.Number, typ protowire.Type, val uint64, raw []byte) error {
		if num != 3 || typ != protowire.BytesType {
			return nil
		}
		return walkFields(raw, func(n protowire.Number, t protowire.Type, v uint64, r []byte) error {
			if n == 2 && t == protowire.VarintType {
				balanceCents = int64(v)
			}
			return nil
		})
	})
	if err != nil {
		return 0, fmt.Errorf("trader: %w", err)
	}
	return balanceCents, nil
}

// RawPosition is one open position before price scaling.
type RawPosition struct {
	PositionID    int64
	SymbolID      int64
	VolumeUnits   int64 // integer units, 100 000 per lot
	TradeSide     int   // 1 buy, 2 sell
	OpenTimestamp int64 // ms
	Price         float64
	StopLoss      float64
	TakeProfit    float64
	Status        int
	Comment       string
}

func parsePosition(raw []byte) (RawPosition, error) {
	var rp RawPosition
	err := walkFields(raw, func(n protowire.Number, t protowire.Type, v uint64, r []byte) error {
		switch {
		case n == 1 && t == protowire.VarintType:
			rp.PositionID = int64(v)
		case n == 2 && t == protowire.BytesType:
			return walkFields(r, func(tn protowire.Number, tt protowire.Type, tv uint64, tr []byte) error {
				switch {
				case tn == 1 && tt == protowire.VarintType:
					rp.SymbolID = int64(tv)
				case tn == 2 && tt == protowire.VarintType:
					rp.VolumeUnits = int64(tv)
				case tn == 3 && tt == protowire.VarintType:
					rp.TradeSide = int(tv)
				case tn == 4 && tt == protowire.VarintType:
					rp.OpenTimestamp = int64(tv)
				case tn == 7 && tt == protowire.BytesType:
					rp.Comment = string(tr)
				}
				return nil
			})
		case n == 3 && t == protowire.VarintType:
			rp.Status = int(v)
		case n == 5 && t == protowire.Fixed64Type:
			rp.Price = math.Float64frombits(v)
		case n == 6 && t == protowire.Fixed64Type:
			rp.StopLoss = math.Float64frombits(v)
		case n == 7 && t == protowire.Fixed64Type:
			rp.TakeProfit = math.Float64frombits(v)
		}
		return nil
	})
	return rp, err
}

// ParseReconcileRes extracts all open positions.
func ParseReconcileRes(payload []byte) ([]RawPosition, error) {
	var out []RawPosition
	err := walkFields(payload, func(num protowire.Number, typ protowire.Type, val uint64, raw []byte) error {
		if num != 3 || typ != protowire.BytesType {
			return nil
		}
		rp, err := parsePosition(raw)
		if err != nil {
			return err
		}
		out = append(out, rp)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reconcile: %w", err)
	}
	return out, nil
}

// SpotQuote is one decoded spot event before digit scaling.
type SpotQuote struct {
	SymbolID  int64
	BidRaw    int64 // integer in units of 10^digits, 0 if absent
	AskRaw    int64
	Timestamp int64 // ms, 0 if absent
}

// ParseSpotEvent decodes a tick quote event.
func ParseSpotEvent(payload []byte) (SpotQuote, error) {
	var sq SpotQuote
	err := walkFields(payload, func(num protowire.Number, typ protowire.Type, val uint64, raw []byte) error {
		switch {
		case num == 3 && typ == protowire.VarintType:
			sq.SymbolID = int64(val)
		case num == 4 && typ == protowire.VarintType:
			sq.BidRaw = int64(val)
		case num == 5 && typ == protowire.VarintType:
			sq.AskRaw = int64(val)
		case num == 8 && typ == protowire.VarintType:
			sq.Timestamp = int64(val)
		}
		return nil
	})
	if err != nil {
		return sq, fmt.Errorf("spot event: %w", err)
	}
	return sq, nil
}

// RawTrendbar is one delta-coded historical bar.
type RawTrendbar struct {
	Volume      int64
	Low         int64 // absolute, units of 10^digits
	DeltaOpen   uint64
	DeltaClose  uint64
	DeltaHigh   uint64
	TimestampMn uint32 // minutes since epoch
}

// ParseGetTrendbarsRes extracts the delta-coded bar array.
func ParseGetTrendbarsRes(payload []byte) ([]RawTrendbar, error) {
	var out []RawTrendbar
	err := walkFields(payload, func(num protowire.Number, typ protowire.Type, val uint64, raw []byte) error {
		if num != 5 || typ != protowire.BytesType {
			return nil
		}
		var tb RawTrendbar
		err := walkFields(raw, func(n protowire.Number, t protowire.Type, v uint64, r []byte) error {
			switch n {
			case 3:
				tb.Volume = int64(v)
			case 5:
				tb.Low = int64(v)
			case 6:
				tb.DeltaOpen = v
			case 7:
				tb.DeltaClose = v
			case 8:
				tb.DeltaHigh = v
			case 9:
				tb.TimestampMn = uint32(v)
			}
			return nil
		})
		if err != nil {
			return err
		}
		out = append(out, tb)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("trendbars: %w", err)
	}
	return out, nil
}

// ExecutionEvent is a decoded order/position lifecycle event.
type ExecutionEvent struct {
	ExecutionType int
	Position      *RawPosition
	ErrorCode     string
}

// ParseExecutionEvent decodes an execution event. The embedded position, if
// present, is the authoritative record for the cache.
func ParseExecutionEvent(payload []byte) (ExecutionEvent, error) {
	var ev ExecutionEvent
	err := walkFields(payload, func(num protowire.Number, typ protowire.Type, val uint64, raw []byte) error {
		switch {
		case num == 3 && typ == protowire.VarintType:
			ev.ExecutionType = int(val)
		case num == 5 && typ == protowire.BytesType:
			rp, err := parsePosition(raw)
			if err != nil {
				return err
			}
			ev.Position = &rp
		case num == 10 && typ == protowire.BytesType:
			ev.ErrorCode = string(raw)
		}
		return nil
	})
	if err != nil {
		return ev, fmt.Errorf("execution event: %w", err)
	}
	return ev, nil
}

// RawDeal is one entry of the closed-deal history.
type RawDeal struct {
	DealID         int64
	PositionID     int64
	VolumeUnits    int64
	SymbolID       int64
	ExecutionTime  int64 // ms
	ExecutionPrice float64
	TradeSide      int
}

// ParseDealListRes extracts the deal history.
func ParseDealListRes(payload []byte) ([]RawDeal, error) {
	var out []RawDeal
	err := walkFields(payload, func(num protowire.Number, typ protowire.Type, val uint64, raw []byte) error {
		if num != 3 || typ != protowire.BytesType {
			return nil
		}
		var d RawDeal
		err := walkFields(raw, func(n protowire.Number, t protowire.Type, v uint64, r []byte) error {
			switch n {
			case 1:
				d.DealID = int64(v)
			case 3:
				d.PositionID = int64(v)
			case 4:
				d.VolumeUnits = int64(v)
			case 6:
				d.SymbolID = int64(v)
			case 8:
				d.ExecutionTime = int64(v)
			case 10:
				if t == protowire.Fixed64Type {
					d.ExecutionPrice = math.Float64frombits(v)
				}
			case 11:
				d.TradeSide = int(v)
			}
			return nil
		})
		if err != nil {
			return err
		}
		out = append(out, d)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("deal list: %w", err)
	}
	return out, nil
}

// ProtoError is a decoded protocol error response.
type ProtoError struct {
	Code string
	Desc string
}

// ParseErrorRes decodes both the protocol-level (50) and trading-level (2142)
// error shapes; the field layout differs by one position.
func ParseErrorRes(payloadType uint32, payload []byte) (ProtoError, error) {
	var pe ProtoError
	codeField, descField := protowire.Number(2), protowire.Number(3)
	if payloadType == wire.PayloadOAErrorRes {
		codeField, descField = 3, 4
	}
	err := walkFields(payload, func(num protowire.Number, typ protowire.Type, val uint64, raw []byte) error {
		switch {
		case num == codeField && typ == protowire.BytesType:
			pe.Code = string(raw)
		case num == descField && typ == protowire.BytesType:
			pe.Desc = string(raw)
		}
		return nil
	})
	if err != nil {
		return pe, fmt.Errorf("error res: %w", err)
	}
	return pe, nil
}
