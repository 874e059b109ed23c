package executor

import (
	"log/slog"
	"math"
	"strings"

	"oracle-trader/internal/broker"
)

// defaultPipValues is the fallback pip value per standard lot for a
// USD-denominated account, used when the broker does not expose one. Quote-USD
// pairs are exact; the rest are approximations that drift with the rate.
var defaultPipValues = map[string]float64{
	"EURUSD": 10.0,
	"GBPUSD": 10.0,
	"AUDUSD": 10.0,
	"NZDUSD": 10.0,
	"USDJPY": 6.7,
	"USDCHF": 10.5,
	"USDCAD": 7.3,
	"EURJPY": 6.7,
	"GBPJPY": 6.7,
	"EURGBP": 12.5,
	"AUDCAD": 7.3,
	"AUDNZD": 6.2,
	"AUDJPY": 6.7,
	"NZDJPY": 6.7,
	"CADJPY": 6.7,
	"EURAUD": 6.5,
	"EURCHF": 10.5,
	"EURCAD": 7.3,
	"GBPAUD": 6.5,
	"GBPCAD": 7.3,
	"GBPCHF": 10.5,
}

// PriceConverter turns a monetary risk budget (USD) into absolute stop and
// take prices. The broker API takes stops as absolute prices; submitting the
// USD figure directly would place the stop at that price level, so every
// order path goes through this conversion.
type PriceConverter struct {
	connector broker.Connector
	logger    *slog.Logger
}

// NewPriceConverter creates a converter backed by the connector's symbol
// registry.
func NewPriceConverter(connector broker.Connector, logger *slog.Logger) *PriceConverter {
	return &PriceConverter{
		connector: connector,
		logger:    logger.With("component", "price-converter"),
	}
}

// StopLossPrice converts slUSD to an absolute stop price. A LONG stop sits
// below the current price, a SHORT stop above. Zero slUSD means no stop.
func (c *PriceConverter) StopLossPrice(symbol string, direction int, slUSD, volume, currentPrice float64) float64 {
	if slUSD <= 0 {
		return 0
	}
	distance := c.priceDistance(symbol, slUSD, volume, currentPrice)
	if distance <= 0 {
		return 0
	}
	price := currentPrice - float64(direction)*distance
	return roundTo(price, c.digits(symbol))
}

// TakeProfitPrice mirrors StopLossPrice with the sign reversed.
func (c *PriceConverter) TakeProfitPrice(symbol string, direction int, tpUSD, volume, currentPrice float64) float64 {
	if tpUSD <= 0 {
		return 0
	}
	distance := c.priceDistance(symbol, tpUSD, volume, currentPrice)
	if distance <= 0 {
		return 0
	}
	price := currentPrice + float64(direction)*distance
	return roundTo(price, c.digits(symbol))
}

// priceDistance converts a USD amount into a price distance:
//
//	pip_value_total = pip_value_per_lot * volume
//	distance_pips   = usd / pip_value_total
//	distance_price  = distance_pips * point * 10
//
// The x10 reflects the one-pip-equals-ten-points convention shared by 5-digit
// and 3-digit pricing.
func (c *PriceConverter) priceDistance(symbol string, usd, volume, currentPrice float64) float64 {
	pipValue := c.pipValuePerLot(symbol, currentPrice)
	if volume <= 0 || pipValue <= 0 {
		c.logger.Warn("cannot convert risk to distance",
			"symbol", symbol, "volume", volume, "pip_value", pipValue)
		return 0
	}
	distancePips := usd / (pipValue * volume)
	return distancePips * c.point(symbol) * 10
}

// pipValuePerLot prefers the broker's figure, then the static table, then a
// structural estimate from the pair's currencies.
func (c *PriceConverter) pipValuePerLot(symbol string, currentPrice float64) float64 {
	if info, ok := c.connector.SymbolInfo(symbol); ok && info.PipValue > 0 {
		return info.PipValue
	}
	if v, ok := defaultPipValues[symbol]; ok {
		return v
	}
	return estimatePipValue(symbol, currentPrice, c.logger)
}

// estimatePipValue applies USD-account rules: quote USD is a fixed 10 per
// pip, base USD scales inversely with the rate, crosses fall back to 10.
func estimatePipValue(symbol string, currentPrice float64, logger *slog.Logger) float64 {
	if len(symbol) < 6 {
		logger.Warn("unrecognized symbol, assuming pip value 10", "symbol", symbol)
		return 10.0
	}
	base, quote := symbol[:3], symbol[3:6]
	switch {
	case quote == "USD":
		return 10.0
	case base == "USD":
		if currentPrice > 0 {
			return 10.0 / currentPrice
		}
		return 10.0
	}
	logger.Info("cross pair without pip value, estimating 10", "symbol", symbol)
	return 10.0
}

func (c *PriceConverter) point(symbol string) float64 {
	if info, ok := c.connector.SymbolInfo(symbol); ok && info.Point > 0 {
		return info.Point
	}
	if strings.Contains(symbol, "JPY") {
		return 0.001
	}
	return 0.00001
}

func (c *PriceConverter) digits(symbol string) int {
	if info, ok := c.connector.SymbolInfo(symbol); ok && info.Digits > 0 {
		return info.Digits
	}
	if strings.Contains(symbol, "JPY") {
		return 3
	}
	return 5
}

func roundTo(v float64, digits int) float64 {
	scale := math.Pow10(digits)
	return math.Round(v*scale) / scale
}
