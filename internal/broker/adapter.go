// adapter.go wraps the raw client with trading-domain semantics: the auth
// boot sequence, the symbol registry, price and volume scaling, and the
// position/account caches that spot and execution events keep current.
//
// Cache mutation happens only on the adapter's own event path; readers get
// copies. Protocol error responses are logged and surfaced to the caller but
// never tear the connection down.
package broker

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"oracle-trader/internal/market"
	"oracle-trader/internal/wire"
	"oracle-trader/pkg/types"
)

const (
	symbolDetailChunk = 100
	defaultLotSize    = 100000
	// Rough floating-PnL approximation used between reconciles: one pip is
	// worth ~10 USD per lot on the majors.
	approxPipValuePerLot = 10.0
)

// Credentials carries the OAuth material and target account. RefreshToken is
// held for operator-driven token renewal; the protocol session itself only
// consumes AccessToken.
type Credentials struct {
	ClientID     string
	ClientSecret string
	AccessToken  string
	RefreshToken string
	AccountID    int64
}

// quote is the last seen bid/ask for one symbol.
type quote struct {
	bid, ask float64
	when     time.Time
}

// Adapter is the production Connector implementation.
type Adapter struct {
	client  *Client
	creds   Credentials
	limiter *RateLimiter
	synth   *market.Synthesizer
	logger  *slog.Logger

	mu        sync.Mutex
	symbols   map[string]types.SymbolInfo // by name
	idToName  map[int64]string
	nameToID  map[string]int64
	positions map[string]types.Position // by symbol name
	quotes    map[string]quote
	account   types.AccountInfo

	subscribed map[string]bool
	timeframe  types.Timeframe
	barCb      func(types.Candle)
}

// NewAdapter wires an adapter over a raw client. The client's handlers are
// registered here, once, to avoid callback cycles.
func NewAdapter(client *Client, creds Credentials, logger *slog.Logger) *Adapter {
	a := &Adapter{
		client:     client,
		creds:      creds,
		limiter:    NewRateLimiter(defaultRateLimit, defaultRateWindow),
		synth:      market.NewSynthesizer(),
		symbols:    make(map[string]types.SymbolInfo),
		idToName:   make(map[int64]string),
		nameToID:   make(map[string]int64),
		positions:  make(map[string]types.Position),
		quotes:     make(map[string]quote),
		subscribed: make(map[string]bool),
		logger:     logger.With("component", "broker-adapter"),
	}
	client.SetMessageHandler(a.handleEvent)
	client.SetDisconnectHandler(func(reason string) {
		a.logger.Warn("broker connection lost", "reason", reason)
	})
	return a
}

// ————————————————————————————————————————————————————————————————————————
// Connection and boot sequence
// ————————————————————————————————————————————————————————————————————————

// Connect opens the transport, runs the two-step auth handshake, then the
// boot sequence: symbols list, symbol details, trader record, reconcile.
// Auth failure is fatal and is not retried here.
func (a *Adapter) Connect(ctx context.Context) error {
	if err := a.client.Connect(ctx); err != nil {
		return err
	}

	if err := a.authenticate(ctx); err != nil {
		a.client.Disconnect()
		return err
	}
	if err := a.loadSymbols(ctx); err != nil {
		return fmt.Errorf("boot: %w", err)
	}
	if err := a.refreshTrader(ctx); err != nil {
		return fmt.Errorf("boot: %w", err)
	}
	if err := a.Reconcile(ctx); err != nil {
		return fmt.Errorf("boot: %w", err)
	}

	a.mu.Lock()
	nsym, npos := len(a.symbols), len(a.positions)
	bal := a.account.Balance
	a.mu.Unlock()
	a.logger.Info("broker ready", "symbols", nsym, "positions", npos, "balance", bal)
	return nil
}

// Disconnect tears down the transport.
func (a *Adapter) Disconnect() { a.client.Disconnect() }

// IsConnected reports transport state.
func (a *Adapter) IsConnected() bool { return a.client.IsConnected() }

func (a *Adapter) authenticate(ctx context.Context) error {
	rt, payload, err := a.request(ctx, wire.PayloadApplicationAuthReq,
		BuildApplicationAuthReq(a.creds.ClientID, a.creds.ClientSecret))
	if err != nil {
		return fmt.Errorf("%w: app auth: %v", ErrAuthentication, err)
	}
	if pe, isErr := a.asProtoError(rt, payload); isErr {
		return fmt.Errorf("%w: app auth rejected: %s (%s)", ErrAuthentication, pe.Code, pe.Desc)
	}

	rt, payload, err = a.request(ctx, wire.PayloadAccountAuthReq,
		BuildAccountAuthReq(a.creds.AccountID, a.creds.AccessToken))
	if err != nil {
		return fmt.Errorf("%w: account auth: %v", ErrAuthentication, err)
	}
	if pe, isErr := a.asProtoError(rt, payload); isErr {
		return fmt.Errorf("%w: account auth rejected: %s (%s)", ErrAuthentication, pe.Code, pe.Desc)
	}
	return nil
}

func (a *Adapter) loadSymbols(ctx context.Context) error {
	rt, payload, err := a.request(ctx, wire.PayloadSymbolsListReq, BuildSymbolsListReq(a.creds.AccountID))
	if err != nil {
		return fmt.Errorf("symbols list: %w", err)
	}
	if pe, isErr := a.asProtoError(rt, payload); isErr {
		return fmt.Errorf("symbols list rejected: %s (%s)", pe.Code, pe.Desc)
	}
	light, err := ParseSymbolsListRes(payload)
	if err != nil {
		return err
	}

	a.mu.Lock()
	ids := make([]int64, 0, len(light))
	for _, ls := range light {
		a.idToName[ls.ID] = ls.Name
		a.nameToID[ls.Name] = ls.ID
		ids = append(ids, ls.ID)
	}
	a.mu.Unlock()

	// Details come back in chunks of at most 100 ids per request.
	for start := 0; start < len(ids); start += symbolDetailChunk {
		end := start + symbolDetailChunk
		if end > len(ids) {
			end = len(ids)
		}
		rt, payload, err := a.request(ctx, wire.PayloadSymbolByIDReq,
			BuildSymbolByIDReq(a.creds.AccountID, ids[start:end]))
		if err != nil {
			return fmt.Errorf("symbol details [%d:%d]: %w", start, end, err)
		}
		if pe, isErr := a.asProtoError(rt, payload); isErr {
			a.logger.Warn("symbol details rejected", "code", pe.Code, "desc", pe.Desc)
			continue
		}
		raw, err := ParseSymbolByIDRes(payload)
		if err != nil {
			return err
		}

		a.mu.Lock()
		for _, rs := range raw {
			name, ok := a.idToName[rs.ID]
			if !ok {
				continue
			}
			lotSize := float64(defaultLotSize)
			if rs.LotSize > 0 {
				lotSize = float64(rs.LotSize) / 100
			}
			a.symbols[name] = types.SymbolInfo{
				Name:        name,
				ID:          rs.ID,
				Digits:      rs.Digits,
				PipPosition: rs.PipPosition,
				Point:       math.Pow(10, -float64(rs.Digits)),
				LotSize:     lotSize,
				MinVolume:   float64(rs.MinVolume) / 100,
				MaxVolume:   float64(rs.MaxVolume) / 100,
				StepVolume:  float64(rs.StepVolume) / 100,
			}
		}
		a.mu.Unlock()
	}
	return nil
}

func (a *Adapter) refreshTrader(ctx context.Context) error {
	rt, payload, err := a.request(ctx, wire.PayloadTraderReq, BuildTraderReq(a.creds.AccountID))
	if err != nil {
		return fmt.Errorf("trader: %w", err)
	}
	if pe, isErr := a.asProtoError(rt, payload); isErr {
		return fmt.Errorf("trader rejected: %s (%s)", pe.Code, pe.Desc)
	}
	cents, err := ParseTraderRes(payload)
	if err != nil {
		return err
	}

	a.mu.Lock()
	a.account.Balance = float64(cents) / 100
	if a.account.Equity == 0 {
		a.account.Equity = a.account.Balance
	}
	a.account.FreeMargin = a.account.Equity - a.account.Margin
	a.mu.Unlock()
	return nil
}

// Reconcile replaces the position cache with the broker's authoritative set.
func (a *Adapter) Reconcile(ctx context.Context) error {
	rt, payload, err := a.request(ctx, wire.PayloadReconcileReq, BuildReconcileReq(a.creds.AccountID))
	if err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}
	if pe, isErr := a.asProtoError(rt, payload); isErr {
		return fmt.Errorf("reconcile rejected: %s (%s)", pe.Code, pe.Desc)
	}
	raw, err := ParseReconcileRes(payload)
	if err != nil {
		return err
	}

	a.mu.Lock()
	a.positions = make(map[string]types.Position, len(raw))
	for _, rp := range raw {
		pos, ok := a.toPositionLocked(rp)
		if !ok {
			a.logger.Warn("reconcile: unknown symbol id", "symbolId", rp.SymbolID)
			continue
		}
		a.positions[pos.Symbol] = pos
	}
	a.mu.Unlock()
	return nil
}

// toPositionLocked converts a raw wire position. Caller holds a.mu.
func (a *Adapter) toPositionLocked(rp RawPosition) (types.Position, bool) {
	name, ok := a.idToName[rp.SymbolID]
	if !ok {
		return types.Position{}, false
	}
	dir := 1
	if rp.TradeSide == tradeSideSell {
		dir = -1
	}
	return types.Position{
		Ticket:     rp.PositionID,
		Symbol:     name,
		Direction:  dir,
		Volume:     float64(rp.VolumeUnits) / defaultLotSize,
		OpenPrice:  rp.Price,
		StopLoss:   rp.StopLoss,
		TakeProfit: rp.TakeProfit,
		OpenTime:   time.UnixMilli(rp.OpenTimestamp),
		Comment:    rp.Comment,
	}, true
}

// ————————————————————————————————————————————————————————————————————————
// Market data
// ————————————————————————————————————————————————————————————————————————

// GetHistory fetches the most recent bars for one symbol. Trendbar lows are
// absolute integers in units of 10^digits; open, high and close arrive as
// deltas from the low.
func (a *Adapter) GetHistory(ctx context.Context, symbol string, tf types.Timeframe, bars int) ([]types.Candle, error) {
	a.mu.Lock()
	id, ok := a.nameToID[symbol]
	info, okInfo := a.symbols[symbol]
	a.mu.Unlock()
	if !ok || !okInfo {
		return nil, fmt.Errorf("%w: %s", ErrSymbolNotFound, symbol)
	}

	toMs := time.Now().UnixMilli()
	fromMs := toMs - int64(bars)*tf.Seconds()*1000

	rt, payload, err := a.request(ctx, wire.PayloadGetTrendbarsReq,
		BuildGetTrendbarsReq(a.creds.AccountID, id, tf, fromMs, toMs))
	if err != nil {
		return nil, fmt.Errorf("history %s: %w", symbol, err)
	}
	if pe, isErr := a.asProtoError(rt, payload); isErr {
		return nil, fmt.Errorf("history %s rejected: %s (%s)", symbol, pe.Code, pe.Desc)
	}
	raw, err := ParseGetTrendbarsRes(payload)
	if err != nil {
		return nil, err
	}

	scale := math.Pow(10, float64(info.Digits))
	out := make([]types.Candle, 0, len(raw))
	for _, tb := range raw {
		low := float64(tb.Low) / scale
		out = append(out, types.Candle{
			Symbol: symbol,
			Time:   int64(tb.TimestampMn) * 60,
			Open:   low + float64(tb.DeltaOpen)/scale,
			High:   low + float64(tb.DeltaHigh)/scale,
			Low:    low,
			Close:  low + float64(tb.DeltaClose)/scale,
			Volume: float64(tb.Volume),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time < out[j].Time })
	return out, nil
}

// SubscribeBars subscribes spot quotes for the batch and binds each symbol
// to the candle synthesizer. cb fires once per closed bar.
func (a *Adapter) SubscribeBars(ctx context.Context, symbols []string, tf types.Timeframe, cb func(types.Candle)) error {
	a.mu.Lock()
	ids := make([]int64, 0, len(symbols))
	for _, s := range symbols {
		id, ok := a.nameToID[s]
		if !ok {
			a.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrSymbolNotFound, s)
		}
		ids = append(ids, id)
	}
	a.timeframe = tf
	a.barCb = cb
	a.mu.Unlock()

	rt, payload, err := a.request(ctx, wire.PayloadSubscribeSpotsReq,
		BuildSubscribeSpotsReq(a.creds.AccountID, ids))
	if err != nil {
		return fmt.Errorf("subscribe spots: %w", err)
	}
	if pe, isErr := a.asProtoError(rt, payload); isErr {
		return fmt.Errorf("subscribe spots rejected: %s (%s)", pe.Code, pe.Desc)
	}

	a.mu.Lock()
	for _, s := range symbols {
		a.subscribed[s] = true
	}
	a.mu.Unlock()
	for _, s := range symbols {
		a.synth.Register(s, tf, cb)
	}
	return nil
}

// UnsubscribeBars cancels the spot subscription and drops synthesizer state.
func (a *Adapter) UnsubscribeBars(ctx context.Context, symbols []string) error {
	a.mu.Lock()
	ids := make([]int64, 0, len(symbols))
	for _, s := range symbols {
		if id, ok := a.nameToID[s]; ok {
			ids = append(ids, id)
		}
		delete(a.subscribed, s)
	}
	a.mu.Unlock()

	for _, s := range symbols {
		a.synth.Unregister(s)
	}
	if len(ids) == 0 {
		return nil
	}
	_, _, err := a.request(ctx, wire.PayloadUnsubscribeSpotsReq,
		BuildUnsubscribeSpotsReq(a.creds.AccountID, ids))
	if err != nil {
		return fmt.Errorf("unsubscribe spots: %w", err)
	}
	return nil
}

// ————————————————————————————————————————————————————————————————————————
// Account and positions
// ————————————————————————————————————————————————————————————————————————

// GetAccount returns the cached account snapshot.
func (a *Adapter) GetAccount() types.AccountInfo {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.account
}

// GetPositions returns a copy of the open-position set.
func (a *Adapter) GetPositions() []types.Position {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]types.Position, 0, len(a.positions))
	for _, p := range a.positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticket < out[j].Ticket })
	return out
}

// GetPosition returns the open position for one symbol, if any.
func (a *Adapter) GetPosition(symbol string) (types.Position, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.positions[symbol]
	return p, ok
}

// GetDeals fetches the closed-deal history since the given time.
func (a *Adapter) GetDeals(ctx context.Context, since time.Time) ([]Deal, error) {
	rt, payload, err := a.request(ctx, wire.PayloadDealListReq,
		BuildDealListReq(a.creds.AccountID, since.UnixMilli(), time.Now().UnixMilli(), 0))
	if err != nil {
		return nil, fmt.Errorf("deal list: %w", err)
	}
	if pe, isErr := a.asProtoError(rt, payload); isErr {
		return nil, fmt.Errorf("deal list rejected: %s (%s)", pe.Code, pe.Desc)
	}
	raw, err := ParseDealListRes(payload)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Deal, 0, len(raw))
	for _, d := range raw {
		dir := 1
		if d.TradeSide == tradeSideSell {
			dir = -1
		}
		out = append(out, Deal{
			ID:         d.DealID,
			PositionID: d.PositionID,
			Symbol:     a.idToName[d.SymbolID],
			Volume:     float64(d.VolumeUnits) / defaultLotSize,
			Direction:  dir,
			Price:      d.ExecutionPrice,
			Time:       time.UnixMilli(d.ExecutionTime),
		})
	}
	return out, nil
}

// ————————————————————————————————————————————————————————————————————————
// Orders
// ————————————————————————————————————————————————————————————————————————

// OpenOrder submits a market order. Success means the broker did not reject
// the submission; the execution event stream confirms the fill and updates
// the position cache asynchronously.
func (a *Adapter) OpenOrder(ctx context.Context, req OrderRequest) types.OrderResult {
	a.mu.Lock()
	id, ok := a.nameToID[req.Symbol]
	a.mu.Unlock()
	if !ok {
		return types.OrderResult{ErrorCode: "SYMBOL_NOT_FOUND", ErrorDesc: req.Symbol}
	}

	units := lotsToUnits(req.Volume)
	rt, payload, err := a.request(ctx, wire.PayloadNewOrderReq,
		BuildNewOrderReq(a.creds.AccountID, id, req.Direction, units, req.StopLoss, req.TakeProfit, req.Comment))
	if err != nil {
		return types.OrderResult{ErrorCode: "SEND_FAILED", ErrorDesc: err.Error()}
	}
	if pe, isErr := a.asProtoError(rt, payload); isErr {
		a.logger.Error("order rejected", "symbol", req.Symbol, "code", pe.Code, "desc", pe.Desc)
		return types.OrderResult{ErrorCode: pe.Code, ErrorDesc: pe.Desc}
	}

	res := types.OrderResult{Success: true}
	if ev, err := ParseExecutionEvent(payload); err == nil && ev.Position != nil {
		res.Ticket = ev.Position.PositionID
	}
	return res
}

// ClosePosition closes part or all of a position. volume 0 is rejected by
// the broker, so callers pass the full position volume for a flat close.
func (a *Adapter) ClosePosition(ctx context.Context, ticket int64, volume float64) types.OrderResult {
	rt, payload, err := a.request(ctx, wire.PayloadClosePositionReq,
		BuildClosePositionReq(a.creds.AccountID, ticket, lotsToUnits(volume)))
	if err != nil {
		return types.OrderResult{ErrorCode: "SEND_FAILED", ErrorDesc: err.Error()}
	}
	if pe, isErr := a.asProtoError(rt, payload); isErr {
		a.logger.Error("close rejected", "ticket", ticket, "code", pe.Code, "desc", pe.Desc)
		return types.OrderResult{ErrorCode: pe.Code, ErrorDesc: pe.Desc}
	}
	return types.OrderResult{Success: true, Ticket: ticket}
}

// AmendPositionSLTP rewrites the stop and take prices of an open position.
func (a *Adapter) AmendPositionSLTP(ctx context.Context, ticket int64, sl, tp float64) types.OrderResult {
	rt, payload, err := a.request(ctx, wire.PayloadAmendPositionSLTPReq,
		BuildAmendPositionSLTPReq(a.creds.AccountID, ticket, sl, tp))
	if err != nil {
		return types.OrderResult{ErrorCode: "SEND_FAILED", ErrorDesc: err.Error()}
	}
	if pe, isErr := a.asProtoError(rt, payload); isErr {
		return types.OrderResult{ErrorCode: pe.Code, ErrorDesc: pe.Desc}
	}
	return types.OrderResult{Success: true, Ticket: ticket}
}

// lotsToUnits converts a lot volume to the wire's integer unit count without
// float drift (0.01 lot = 1000 units).
func lotsToUnits(lots float64) int64 {
	return decimal.NewFromFloat(lots).Mul(decimal.NewFromInt(defaultLotSize)).Round(0).IntPart()
}

// ————————————————————————————————————————————————————————————————————————
// Symbol info and spreads
// ————————————————————————————————————————————————————————————————————————

// SymbolInfo returns the cached descriptor for one symbol.
func (a *Adapter) SymbolInfo(symbol string) (types.SymbolInfo, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	info, ok := a.symbols[symbol]
	return info, ok
}

// LastPrice returns the mid of the last observed quote for the symbol.
func (a *Adapter) LastPrice(symbol string) (float64, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	q, ok := a.quotes[symbol]
	if !ok || q.bid == 0 {
		return 0, false
	}
	return (q.bid + q.ask) / 2, true
}

// SpreadPips returns the last observed spread in pips, if a quote exists.
// One pip is ten points on both 5-digit and 3-digit pricing.
func (a *Adapter) SpreadPips(symbol string) (float64, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	q, ok := a.quotes[symbol]
	info, okInfo := a.symbols[symbol]
	if !ok || !okInfo || info.Point == 0 {
		return 0, false
	}
	return (q.ask - q.bid) / (info.Point * 10), true
}

// ————————————————————————————————————————————————————————————————————————
// Event handling
// ————————————————————————————————————————————————————————————————————————

func (a *Adapter) handleEvent(payloadType uint32, payload []byte) {
	switch payloadType {
	case wire.PayloadSpotEvent:
		a.handleSpot(payload)
	case wire.PayloadExecutionEvent:
		a.handleExecution(payload)
	case wire.PayloadOrderErrorEvent:
		if pe, err := ParseErrorRes(wire.PayloadOAErrorRes, payload); err == nil {
			a.logger.Error("order error event", "code", pe.Code, "desc", pe.Desc)
		}
	case wire.PayloadAccountsTokenInvalidated:
		a.logger.Error("access token invalidated by broker")
	default:
		a.logger.Debug("unhandled event", "type", payloadType)
	}
}

// handleSpot updates the quote cache, refreshes floating PnL on the open
// position, recomputes equity, and feeds the candle synthesizer.
func (a *Adapter) handleSpot(payload []byte) {
	sq, err := ParseSpotEvent(payload)
	if err != nil {
		a.logger.Error("bad spot event", "error", err)
		return
	}

	a.mu.Lock()
	name, ok := a.idToName[sq.SymbolID]
	if !ok {
		a.mu.Unlock()
		return
	}
	info, ok := a.symbols[name]
	if !ok {
		a.mu.Unlock()
		return
	}

	scale := math.Pow(10, float64(info.Digits))
	q := a.quotes[name]
	if sq.BidRaw > 0 {
		q.bid = float64(sq.BidRaw) / scale
	}
	if sq.AskRaw > 0 {
		q.ask = float64(sq.AskRaw) / scale
	}
	q.when = time.Now()
	a.quotes[name] = q

	if pos, open := a.positions[name]; open && q.bid > 0 && q.ask > 0 {
		// Long positions close at the bid, shorts at the ask.
		current := q.bid
		if pos.Direction == -1 {
			current = q.ask
		}
		pos.CurrentPrice = current
		pips := (current - pos.OpenPrice) * float64(pos.Direction) / (info.Point * 10)
		pos.PnL = pips * approxPipValuePerLot * pos.Volume
		a.positions[name] = pos
	}

	floating := 0.0
	for _, p := range a.positions {
		floating += p.PnL
	}
	a.account.Equity = a.account.Balance + floating
	a.account.FreeMargin = a.account.Equity - a.account.Margin

	tickTime := time.Now().Unix()
	if sq.Timestamp > 0 {
		tickTime = sq.Timestamp / 1000
	}
	bid, ask := q.bid, q.ask
	a.mu.Unlock()

	if bid > 0 && ask > 0 {
		a.synth.OnTick(name, tickTime, bid, ask, 0)
	}
}

// handleExecution applies an execution event to the position cache: a
// closed status evicts the record, anything else upserts it.
func (a *Adapter) handleExecution(payload []byte) {
	ev, err := ParseExecutionEvent(payload)
	if err != nil {
		a.logger.Error("bad execution event", "error", err)
		return
	}
	if ev.ErrorCode != "" {
		a.logger.Error("execution error", "code", ev.ErrorCode)
	}
	if ev.Position == nil {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	pos, ok := a.toPositionLocked(*ev.Position)
	if !ok {
		return
	}
	if ev.Position.Status == positionStatusClosed {
		delete(a.positions, pos.Symbol)
		a.logger.Info("position closed", "symbol", pos.Symbol, "ticket", pos.Ticket)
		return
	}
	a.positions[pos.Symbol] = pos
	a.logger.Info("position updated", "symbol", pos.Symbol, "ticket", pos.Ticket,
		"direction", pos.Direction, "volume", pos.Volume)
}

// ————————————————————————————————————————————————————————————————————————
// Internals
// ————————————————————————————————————————————————————————————————————————

// request runs one rate-limited request/response exchange.
func (a *Adapter) request(ctx context.Context, payloadType uint32, payload []byte) (uint32, []byte, error) {
	if err := a.limiter.Acquire(ctx); err != nil {
		return 0, nil, err
	}
	return a.client.SendRequest(ctx, payloadType, payload)
}

// asProtoError decodes an error response if the payload type is one of the
// two error shapes. The connection stays up either way.
func (a *Adapter) asProtoError(payloadType uint32, payload []byte) (ProtoError, bool) {
	if payloadType != wire.PayloadErrorRes && payloadType != wire.PayloadOAErrorRes {
		return ProtoError{}, false
	}
	pe, err := ParseErrorRes(payloadType, payload)
	if err != nil {
		return ProtoError{Code: "PARSE_ERROR", Desc: err.Error()}, true
	}
	return pe, true
}
