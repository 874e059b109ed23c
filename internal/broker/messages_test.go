package broker

import (
	"strings"
	"testing"

	"google.golang.org/protobuf/encoding/protowire"

	"oracle-trader/internal/wire"
)

// Server payloads are synthesized with the same msgBuilder the request side
// uses; field numbers follow the broker's published schema.

func TestParseSymbolsListRes(t *testing.T) {
	t.Parallel()

	var inner1, inner2 msgBuilder
	inner1.varint(1, 1)
	inner1.str(2, "EURUSD")
	inner2.varint(1, 41)
	inner2.str(2, "USDJPY")

	var m msgBuilder
	m.int64(2, 5001)
	m.bytes(3, inner1.b)
	m.bytes(3, inner2.b)

	syms, err := ParseSymbolsListRes(m.b)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(syms) != 2 {
		t.Fatalf("got %d symbols, want 2", len(syms))
	}
	if syms[0].ID != 1 || syms[0].Name != "EURUSD" {
		t.Errorf("first symbol = %+v", syms[0])
	}
	if syms[1].ID != 41 || syms[1].Name != "USDJPY" {
		t.Errorf("second symbol = %+v", syms[1])
	}
}

func TestParseTraderRes(t *testing.T) {
	t.Parallel()

	var trader msgBuilder
	trader.varint(2, 1_234_567) // cents

	var m msgBuilder
	m.bytes(3, trader.b)

	cents, err := ParseTraderRes(m.b)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cents != 1_234_567 {
		t.Fatalf("balance = %d cents, want 1234567", cents)
	}
}

func TestParseReconcileRes(t *testing.T) {
	t.Parallel()

	var tradeData msgBuilder
	tradeData.varint(1, 1)        // symbol id
	tradeData.varint(2, 1000)     // units, 0.01 lot
	tradeData.varint(3, 2)        // sell
	tradeData.varint(4, 1700000000000)
	tradeData.str(7, "O|2|3|6|bot-v2|1.1|10.5|1.2")

	var pos msgBuilder
	pos.varint(1, 987654)
	pos.bytes(2, tradeData.b)
	pos.varint(3, 1)
	pos.double(5, 1.08542)
	pos.double(6, 1.09000)

	var m msgBuilder
	m.bytes(3, pos.b)

	positions, err := ParseReconcileRes(m.b)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(positions) != 1 {
		t.Fatalf("got %d positions, want 1", len(positions))
	}
	p := positions[0]
	if p.PositionID != 987654 || p.SymbolID != 1 || p.VolumeUnits != 1000 {
		t.Errorf("identity fields = %+v", p)
	}
	if p.TradeSide != 2 || p.OpenTimestamp != 1700000000000 {
		t.Errorf("trade fields = %+v", p)
	}
	if p.Price != 1.08542 || p.StopLoss != 1.09000 {
		t.Errorf("price fields = %+v", p)
	}
	if !strings.HasPrefix(p.Comment, "O|") {
		t.Errorf("comment = %q", p.Comment)
	}
}

func TestParseSpotEventPartialQuote(t *testing.T) {
	t.Parallel()

	// Bid-only update: ask and timestamp fields absent.
	var m msgBuilder
	m.varint(3, 1)
	m.varint(4, 108542)

	sq, err := ParseSpotEvent(m.b)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if sq.SymbolID != 1 || sq.BidRaw != 108542 {
		t.Fatalf("quote = %+v", sq)
	}
	if sq.AskRaw != 0 || sq.Timestamp != 0 {
		t.Fatalf("absent fields not zero: %+v", sq)
	}
}

func TestParseGetTrendbarsRes(t *testing.T) {
	t.Parallel()

	var bar msgBuilder
	bar.varint(3, 1500)    // volume
	bar.varint(5, 108500)  // low
	bar.varint(6, 10)      // delta open
	bar.varint(7, 25)      // delta close
	bar.varint(8, 40)      // delta high
	bar.varint(9, 28333333)

	var m msgBuilder
	m.varint(2, 7)
	m.bytes(5, bar.b)

	bars, err := ParseGetTrendbarsRes(m.b)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(bars) != 1 {
		t.Fatalf("got %d bars, want 1", len(bars))
	}
	b := bars[0]
	if b.Low != 108500 || b.DeltaOpen != 10 || b.DeltaClose != 25 || b.DeltaHigh != 40 {
		t.Errorf("bar = %+v", b)
	}
	if b.Volume != 1500 || b.TimestampMn != 28333333 {
		t.Errorf("bar meta = %+v", b)
	}
}

func TestParseExecutionEventWithError(t *testing.T) {
	t.Parallel()

	var m msgBuilder
	m.varint(3, 3) // execution type
	m.str(10, "NOT_ENOUGH_MONEY")

	ev, err := ParseExecutionEvent(m.b)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if ev.ExecutionType != 3 {
		t.Errorf("execution type = %d", ev.ExecutionType)
	}
	if ev.ErrorCode != "NOT_ENOUGH_MONEY" {
		t.Errorf("error code = %q", ev.ErrorCode)
	}
	if ev.Position != nil {
		t.Errorf("unexpected position: %+v", ev.Position)
	}
}

func TestParseErrorResBothShapes(t *testing.T) {
	t.Parallel()

	var proto msgBuilder
	proto.str(2, "CH_CLIENT_AUTH_FAILURE")
	proto.str(3, "bad credentials")

	pe, err := ParseErrorRes(wire.PayloadErrorRes, proto.b)
	if err != nil {
		t.Fatalf("parse protocol error: %v", err)
	}
	if pe.Code != "CH_CLIENT_AUTH_FAILURE" || pe.Desc != "bad credentials" {
		t.Errorf("protocol error = %+v", pe)
	}

	var oa msgBuilder
	oa.int64(2, 5001)
	oa.str(3, "TRADING_BAD_VOLUME")
	oa.str(4, "volume below minimum")

	pe, err = ParseErrorRes(wire.PayloadOAErrorRes, oa.b)
	if err != nil {
		t.Fatalf("parse trading error: %v", err)
	}
	if pe.Code != "TRADING_BAD_VOLUME" || pe.Desc != "volume below minimum" {
		t.Errorf("trading error = %+v", pe)
	}
}

func TestBuildNewOrderReqOmitsZeroStops(t *testing.T) {
	t.Parallel()

	payload := BuildNewOrderReq(5001, 1, 1, 100, 0, 0, "")

	seen := map[protowire.Number]bool{}
	err := walkFields(payload, func(num protowire.Number, typ protowire.Type, val uint64, raw []byte) error {
		seen[num] = true
		return nil
	})
	if err != nil {
		t.Fatalf("walk: %v", err)
	}
	for _, num := range []protowire.Number{2, 3, 4, 5, 6} {
		if !seen[num] {
			t.Errorf("required field %d missing", num)
		}
	}
	for _, num := range []protowire.Number{11, 12, 13} {
		if seen[num] {
			t.Errorf("zero-valued field %d should be omitted", num)
		}
	}
}

func TestBuildNewOrderReqTruncatesComment(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("x", 150)
	payload := BuildNewOrderReq(5001, 1, -1, 100, 1.08, 1.10, long)

	var comment string
	err := walkFields(payload, func(num protowire.Number, typ protowire.Type, val uint64, raw []byte) error {
		if num == 13 && typ == protowire.BytesType {
			comment = string(raw)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("walk: %v", err)
	}
	if len(comment) != 100 {
		t.Fatalf("comment length = %d, want 100", len(comment))
	}
}
