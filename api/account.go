package api

import (
	"context"
	"fmt"
	"net/url"

	"smartflow-perp/internal/constants"
	"smartflow-perp/internal/utils"
	"smartflow-perp/models"
)

// Equity returns total account equity from the wallet balance
func (c *RESTClient) Equity(ctx context.Context) (float64, error) {
	q := url.Values{}
	q.Set("accountType", c.Config.AccountType)
	q.Set("coin", c.Config.SettleCoin)
	var r struct {
		List []struct {
			TotalEquity string `json:"totalEquity"`
		} `json:"list"`
	}
	if err := c.get(ctx, "/v5/account/wallet-balance", q, &r); err != nil {
		return 0, err
	}
	if len(r.List) == 0 {
		return 0, fmt.Errorf("wallet balance: empty list")
	}
	return utils.ParseFloat(r.List[0].TotalEquity), nil
}

// OpenPositions lists non-empty linear positions settled in the configured coin
func (c *RESTClient) OpenPositions(ctx context.Context) ([]models.VenuePosition, error) {
	q := url.Values{}
	q.Set("category", constants.Category)
	q.Set("settleCoin", c.Config.SettleCoin)
	var r struct {
		List []struct {
			Symbol        string `json:"symbol"`
			Side          string `json:"side"`
			Size          string `json:"size"`
			AvgPrice      string `json:"avgPrice"`
			MarkPrice     string `json:"markPrice"`
			UnrealisedPnl string `json:"unrealisedPnl"`
		} `json:"list"`
	}
	if err := c.get(ctx, "/v5/position/list", q, &r); err != nil {
		return nil, err
	}
	out := make([]models.VenuePosition, 0, len(r.List))
	for _, p := range r.List {
		size := utils.ParseFloat(p.Size)
		if size == 0 {
			continue
		}
		dir := models.Long
		if p.Side == constants.Sell {
			dir = models.Short
		}
		out = append(out, models.VenuePosition{
			Symbol:        p.Symbol,
			Direction:     dir,
			Size:          size,
			EntryPrice:    utils.ParseFloat(p.AvgPrice),
			MarkPrice:     utils.ParseFloat(p.MarkPrice),
			UnrealizedPnL: utils.ParseFloat(p.UnrealisedPnl),
		})
	}
	return out, nil
}
