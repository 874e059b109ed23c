package broker

import (
	"context"
	"math"
	"testing"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"oracle-trader/internal/wire"
	"oracle-trader/pkg/types"
)

// cannedRes is the scripted reply for one request payload type.
type cannedRes struct {
	payloadType uint32
	payload     []byte
}

// serveCanned answers every request whose payload type has a scripted reply,
// echoing the correlation id. Unsolicited traffic still goes out via fs.send.
func serveCanned(t *testing.T, fs *fakeServer, canned map[uint32]cannedRes) {
	t.Helper()
	stop := make(chan struct{})
	t.Cleanup(func() { close(stop) })
	go func() {
		for {
			select {
			case <-stop:
				return
			case env := <-fs.notify:
				res, ok := canned[env.PayloadType]
				if !ok {
					continue
				}
				out := wire.Envelope{PayloadType: res.payloadType, Payload: res.payload, ClientMsgID: env.ClientMsgID}
				fs.conn.Write(wire.EncodeFrame(wire.MarshalEnvelope(out)))
			}
		}
	}()
}

func symbolsListPayload() []byte {
	var sym msgBuilder
	sym.varint(1, 1)
	sym.str(2, "EURUSD")
	var m msgBuilder
	m.bytes(3, sym.b)
	return m.b
}

func symbolDetailsPayload() []byte {
	var sym msgBuilder
	sym.varint(1, 1)  // id
	sym.varint(2, 5)  // digits
	sym.varint(3, 4)  // pip position
	sym.varint(9, 100000)
	sym.varint(10, 1)
	sym.varint(11, 1)
	var m msgBuilder
	m.bytes(3, sym.b)
	return m.b
}

func traderPayload(balanceCents int64) []byte {
	var trader msgBuilder
	trader.varint(2, uint64(balanceCents))
	var m msgBuilder
	m.bytes(3, trader.b)
	return m.b
}

func positionPayload(posID, symbolID, volumeUnits int64, side int, price float64) []byte {
	var td msgBuilder
	td.varint(1, uint64(symbolID))
	td.varint(2, uint64(volumeUnits))
	td.varint(3, uint64(side))
	td.varint(4, 1700000000000)
	var pos msgBuilder
	pos.varint(1, uint64(posID))
	pos.bytes(2, td.b)
	pos.double(5, price)
	return pos.b
}

func reconcilePayload(positions ...[]byte) []byte {
	var m msgBuilder
	for _, p := range positions {
		m.bytes(3, p)
	}
	return m.b
}

// bootScript is the canned reply set for the Connect boot sequence.
func bootScript(reconcile []byte) map[uint32]cannedRes {
	return map[uint32]cannedRes{
		wire.PayloadApplicationAuthReq: {wire.PayloadApplicationAuthRes, nil},
		wire.PayloadAccountAuthReq:     {wire.PayloadAccountAuthRes, nil},
		wire.PayloadSymbolsListReq:     {wire.PayloadSymbolsListRes, symbolsListPayload()},
		wire.PayloadSymbolByIDReq:      {wire.PayloadSymbolByIDRes, symbolDetailsPayload()},
		wire.PayloadTraderReq:          {wire.PayloadTraderRes, traderPayload(1_000_000)},
		wire.PayloadReconcileReq:       {wire.PayloadReconcileRes, reconcile},
	}
}

func bootAdapter(t *testing.T, canned map[uint32]cannedRes) (*Adapter, *fakeServer) {
	t.Helper()
	fs, dial := newFakeServer(t)
	serveCanned(t, fs, canned)

	client := NewClient("test.invalid", 0, dial, testLogger())
	a := NewAdapter(client, Credentials{ClientID: "app", ClientSecret: "secret", AccessToken: "token", AccountID: 5001}, testLogger())
	if err := a.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(a.Disconnect)
	return a, fs
}

func TestAdapterBootSequence(t *testing.T) {
	t.Parallel()

	a, _ := bootAdapter(t, bootScript(reconcilePayload()))

	info, ok := a.SymbolInfo("EURUSD")
	if !ok {
		t.Fatal("EURUSD not in registry after boot")
	}
	if info.ID != 1 || info.Digits != 5 || info.PipPosition != 4 {
		t.Errorf("descriptor = %+v", info)
	}
	if math.Abs(info.Point-1e-5) > 1e-12 {
		t.Errorf("point = %g, want 1e-5", info.Point)
	}
	if info.LotSize != 100000 {
		t.Errorf("lot size = %v, want default 100000", info.LotSize)
	}
	if info.MinVolume != 0.01 || info.StepVolume != 0.01 {
		t.Errorf("volume limits = %+v", info)
	}

	acc := a.GetAccount()
	if acc.Balance != 10000 || acc.Equity != 10000 {
		t.Errorf("account = %+v, want balance and equity 10000", acc)
	}
	if n := len(a.GetPositions()); n != 0 {
		t.Errorf("positions after empty reconcile = %d", n)
	}
}

func TestAdapterGetHistoryScalesAndSorts(t *testing.T) {
	t.Parallel()

	bar := func(mn uint64, low, dOpen, dClose, dHigh, vol uint64) []byte {
		var b msgBuilder
		b.varint(3, vol)
		b.varint(5, low)
		b.varint(6, dOpen)
		b.varint(7, dClose)
		b.varint(8, dHigh)
		b.varint(9, mn)
		return b.b
	}
	// Bars sent newest-first to prove the adapter sorts ascending.
	var m msgBuilder
	m.varint(2, 7)
	m.bytes(5, bar(28333340, 110050, 5, 20, 30, 900))
	m.bytes(5, bar(28333339, 110000, 10, 25, 40, 1500))

	canned := bootScript(reconcilePayload())
	canned[wire.PayloadGetTrendbarsReq] = cannedRes{wire.PayloadGetTrendbarsRes, m.b}
	a, _ := bootAdapter(t, canned)

	bars, err := a.GetHistory(context.Background(), "EURUSD", types.M15, 2)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(bars) != 2 {
		t.Fatalf("got %d bars, want 2", len(bars))
	}
	if bars[0].Time != 28333339*60 || bars[1].Time != 28333340*60 {
		t.Fatalf("times = %d, %d; want ascending minute boundaries", bars[0].Time, bars[1].Time)
	}

	b := bars[0]
	approx := func(got, want float64) bool { return math.Abs(got-want) < 1e-9 }
	if !approx(b.Low, 1.10000) || !approx(b.Open, 1.10010) || !approx(b.Close, 1.10025) || !approx(b.High, 1.10040) {
		t.Errorf("bar OHLC = %+v", b)
	}
	if b.Volume != 1500 || b.Symbol != "EURUSD" {
		t.Errorf("bar meta = %+v", b)
	}

	if _, err := a.GetHistory(context.Background(), "GBPJPY", types.M15, 2); err == nil {
		t.Error("history for unknown symbol should fail")
	}
}

func TestAdapterSpotUpdatesQuotesAndEquity(t *testing.T) {
	t.Parallel()

	long := positionPayload(7, 1, 1000, tradeSideBuy, 1.10000)
	a, fs := bootAdapter(t, bootScript(reconcilePayload(long)))

	pos, ok := a.GetPosition("EURUSD")
	if !ok {
		t.Fatal("reconciled position missing")
	}
	if pos.Ticket != 7 || pos.Direction != 1 || pos.Volume != 0.01 || pos.OpenPrice != 1.10000 {
		t.Fatalf("position = %+v", pos)
	}

	var spot msgBuilder
	spot.varint(3, 1)
	spot.varint(4, 110100) // bid 1.10100
	spot.varint(5, 110110) // ask 1.10110
	fs.send(t, wire.Envelope{PayloadType: wire.PayloadSpotEvent, Payload: spot.b})

	deadline := time.Now().Add(2 * time.Second)
	for a.GetAccount().Equity == 10000 {
		if time.Now().After(deadline) {
			t.Fatal("equity never updated from spot event")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Longs mark to the bid: 10 pips up on 0.01 lot is ~1 USD floating.
	pos, _ = a.GetPosition("EURUSD")
	if math.Abs(pos.CurrentPrice-1.10100) > 1e-9 {
		t.Errorf("current price = %v, want bid 1.10100", pos.CurrentPrice)
	}
	if math.Abs(pos.PnL-1.0) > 1e-6 {
		t.Errorf("floating pnl = %v, want ~1.0", pos.PnL)
	}
	if eq := a.GetAccount().Equity; math.Abs(eq-10001) > 1e-6 {
		t.Errorf("equity = %v, want ~10001", eq)
	}

	if mid, ok := a.LastPrice("EURUSD"); !ok || math.Abs(mid-1.10105) > 1e-9 {
		t.Errorf("last price = %v %v, want mid 1.10105", mid, ok)
	}
	if pips, ok := a.SpreadPips("EURUSD"); !ok || math.Abs(pips-1.0) > 1e-6 {
		t.Errorf("spread = %v %v, want 1.0 pips", pips, ok)
	}
}

func TestAdapterExecutionEventUpsertsAndEvicts(t *testing.T) {
	t.Parallel()

	a, fs := bootAdapter(t, bootScript(reconcilePayload()))

	exec := func(status int) []byte {
		pos := positionPayload(42, 1, 3000, tradeSideSell, 1.10000)
		if status != 0 {
			var b msgBuilder
			b.b = append(b.b, pos...)
			b.varint(3, uint64(status))
			pos = b.b
		}
		var m msgBuilder
		m.varint(3, 3)
		m.bytes(5, pos)
		return m.b
	}

	fs.send(t, wire.Envelope{PayloadType: wire.PayloadExecutionEvent, Payload: exec(0)})
	deadline := time.Now().Add(2 * time.Second)
	for {
		if pos, ok := a.GetPosition("EURUSD"); ok {
			if pos.Ticket != 42 || pos.Direction != -1 || pos.Volume != 0.03 {
				t.Fatalf("position = %+v", pos)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("execution event never upserted the position")
		}
		time.Sleep(5 * time.Millisecond)
	}

	fs.send(t, wire.Envelope{PayloadType: wire.PayloadExecutionEvent, Payload: exec(positionStatusClosed)})
	deadline = time.Now().Add(2 * time.Second)
	for {
		if _, ok := a.GetPosition("EURUSD"); !ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("closed position never evicted")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestAdapterOpenOrderVolumeOnWire(t *testing.T) {
	t.Parallel()

	var ack msgBuilder
	ack.varint(3, 3)
	ack.bytes(5, positionPayload(77, 1, 1000, tradeSideBuy, 1.10010))

	canned := bootScript(reconcilePayload())
	canned[wire.PayloadNewOrderReq] = cannedRes{wire.PayloadExecutionEvent, ack.b}
	a, fs := bootAdapter(t, canned)

	res := a.OpenOrder(context.Background(), OrderRequest{Symbol: "EURUSD", Direction: 1, Volume: 0.01})
	if !res.Success || res.Ticket != 77 {
		t.Fatalf("result = %+v", res)
	}

	// The request that went out must carry the scaled unit volume.
	var req wire.Envelope
	found := false
	fs.mu.Lock()
	for _, env := range fs.received {
		if env.PayloadType == wire.PayloadNewOrderReq {
			req, found = env, true
		}
	}
	fs.mu.Unlock()
	if !found {
		t.Fatal("order request never reached the server")
	}

	var units int64
	err := walkFields(req.Payload, func(num protowire.Number, typ protowire.Type, val uint64, raw []byte) error {
		if num == 6 && typ == protowire.VarintType {
			units = int64(val)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("walk order request: %v", err)
	}
	if units != 1000 {
		t.Fatalf("wire volume = %d units, want 1000 for 0.01 lot", units)
	}
}

func TestLotsToUnitsExact(t *testing.T) {
	t.Parallel()

	cases := []struct {
		lots  float64
		units int64
	}{
		{0.01, 1000},
		{0.03, 3000},
		{0.29, 29000}, // 0.29*100000 float-multiplies to 28999.999...
		{1, 100000},
		{0, 0},
	}
	for _, tc := range cases {
		if got := lotsToUnits(tc.lots); got != tc.units {
			t.Errorf("lotsToUnits(%v) = %d, want %d", tc.lots, got, tc.units)
		}
	}
}
