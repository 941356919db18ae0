package api

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"time"

	"smartflow-perp/internal/constants"
	"smartflow-perp/internal/utils"
	"smartflow-perp/models"
)

// Candles returns up to limit bars in chronological order
func (c *RESTClient) Candles(ctx context.Context, symbol, interval string, limit int) ([]models.Candle, error) {
	q := url.Values{}
	q.Set("category", constants.Category)
	q.Set("symbol", symbol)
	q.Set("interval", interval)
	q.Set("limit", strconv.Itoa(limit))

	var r struct {
		List [][]string `json:"list"`
	}
	if err := c.get(ctx, "/v5/market/kline", q, &r); err != nil {
		return nil, err
	}
	out := make([]models.Candle, 0, len(r.List))
	for _, row := range r.List {
		if len(row) < 6 {
			continue
		}
		ms, err := strconv.ParseInt(row[0], 10, 64)
		if err != nil {
			continue
		}
		out = append(out, models.Candle{
			Time:   time.UnixMilli(ms).UTC(),
			Open:   utils.ParseFloat(row[1]),
			High:   utils.ParseFloat(row[2]),
			Low:    utils.ParseFloat(row[3]),
			Close:  utils.ParseFloat(row[4]),
			Volume: utils.ParseFloat(row[5]),
		})
	}
	// venue returns newest first
	sort.Slice(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out, nil
}

// Ticker is the subset of /v5/market/tickers the bot reads
type Ticker struct {
	LastPrice   float64
	MarkPrice   float64
	FundingRate float64
}

// GetTicker fetches the linear ticker for symbol
func (c *RESTClient) GetTicker(ctx context.Context, symbol string) (Ticker, error) {
	q := url.Values{}
	q.Set("category", constants.Category)
	q.Set("symbol", symbol)
	var r struct {
		List []struct {
			LastPrice   string `json:"lastPrice"`
			MarkPrice   string `json:"markPrice"`
			FundingRate string `json:"fundingRate"`
		} `json:"list"`
	}
	if err := c.get(ctx, "/v5/market/tickers", q, &r); err != nil {
		return Ticker{}, err
	}
	if len(r.List) == 0 {
		return Ticker{}, fmt.Errorf("no ticker for %s", symbol)
	}
	it := r.List[0]
	return Ticker{
		LastPrice:   utils.ParseFloat(it.LastPrice),
		MarkPrice:   utils.ParseFloat(it.MarkPrice),
		FundingRate: utils.ParseFloat(it.FundingRate),
	}, nil
}

// Price returns the last traded price
func (c *RESTClient) Price(ctx context.Context, symbol string) (float64, error) {
	t, err := c.GetTicker(ctx, symbol)
	if err != nil {
		return 0, err
	}
	if t.LastPrice <= 0 {
		return 0, fmt.Errorf("invalid last price for %s", symbol)
	}
	return t.LastPrice, nil
}

// FundingRate returns the current funding rate
func (c *RESTClient) FundingRate(ctx context.Context, symbol string) (float64, error) {
	t, err := c.GetTicker(ctx, symbol)
	if err != nil {
		return 0, err
	}
	return t.FundingRate, nil
}

// LongShortRatio returns the latest account long/short ratio
func (c *RESTClient) LongShortRatio(ctx context.Context, symbol string) (float64, error) {
	q := url.Values{}
	q.Set("category", constants.Category)
	q.Set("symbol", symbol)
	q.Set("period", "1h")
	q.Set("limit", "1")
	var r struct {
		List []struct {
			BuyRatio  string `json:"buyRatio"`
			SellRatio string `json:"sellRatio"`
		} `json:"list"`
	}
	if err := c.get(ctx, "/v5/market/account-ratio", q, &r); err != nil {
		return 0, err
	}
	if len(r.List) == 0 {
		return 0, fmt.Errorf("no account ratio for %s", symbol)
	}
	buy := utils.ParseFloat(r.List[0].BuyRatio)
	sell := utils.ParseFloat(r.List[0].SellRatio)
	if sell <= 0 {
		return 0, fmt.Errorf("invalid sell ratio for %s", symbol)
	}
	return buy / sell, nil
}

// Instrument fetches instrument information
func (c *RESTClient) Instrument(ctx context.Context, symbol string) (models.InstrumentInfo, error) {
	q := url.Values{}
	q.Set("category", constants.Category)
	q.Set("symbol", symbol)

	var r struct {
		List []struct {
			LotSizeFilter struct {
				MinNotionalValue string `json:"minNotionalValue"`
				MinOrderQty      string `json:"minOrderQty"`
				QtyStep          string `json:"qtyStep"`
			} `json:"lotSizeFilter"`
			PriceFilter struct {
				TickSize string `json:"tickSize"`
			} `json:"priceFilter"`
		} `json:"list"`
	}
	if err := c.get(ctx, "/v5/market/instruments-info", q, &r); err != nil {
		return models.InstrumentInfo{}, err
	}
	if len(r.List) == 0 {
		return models.InstrumentInfo{}, fmt.Errorf("instrument %s not found", symbol)
	}

	it := r.List[0]
	tickSize := utils.ParseFloat(it.PriceFilter.TickSize)
	if tickSize <= 0 {
		tickSize = c.Config.PriceTick
	}
	return models.InstrumentInfo{
		MinNotional: utils.ParseFloat(it.LotSizeFilter.MinNotionalValue),
		MinQty:      utils.ParseFloat(it.LotSizeFilter.MinOrderQty),
		QtyStep:     utils.ParseFloat(it.LotSizeFilter.QtyStep),
		TickSize:    tickSize,
	}, nil
}
