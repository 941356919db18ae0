package api

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"smartflow-perp/internal/constants"
	"smartflow-perp/internal/utils"
)

// retCode for "leverage not modified"
const leverageNotModified = 110043

func (c *RESTClient) orderLinkID() string {
	return "sf-" + strconv.FormatInt(c.Now().UnixNano(), 36)
}

type orderReply struct {
	OrderID string `json:"orderId"`
}

// PlaceMarketOrder sends an IOC market order
func (c *RESTClient) PlaceMarketOrder(ctx context.Context, symbol, side string, qty, qtyStep float64, reduceOnly bool) (string, error) {
	if side == "" {
		return "", fmt.Errorf("invalid side: empty")
	}
	body := map[string]interface{}{
		"category":    constants.Category,
		"symbol":      symbol,
		"side":        side,
		"orderType":   constants.Market,
		"qty":         utils.FormatToStep(qty, qtyStep),
		"timeInForce": "IOC",
		"positionIdx": 0,
		"orderLinkId": c.orderLinkID(),
	}
	if reduceOnly {
		body["reduceOnly"] = true
	}
	var r orderReply
	if err := c.post(ctx, "/v5/order/create", body, &r); err != nil {
		return "", err
	}
	c.Logger.Info("Market %s %s %s OK, order id %s", side, symbol, body["qty"], r.OrderID)
	return r.OrderID, nil
}

// PlaceStopOrder places a reduce-only conditional market order that fires
// when price crosses trigger in the given direction
func (c *RESTClient) PlaceStopOrder(ctx context.Context, symbol, side string, qty, qtyStep, trigger, tick float64, direction int) (string, error) {
	body := map[string]interface{}{
		"category":         constants.Category,
		"symbol":           symbol,
		"side":             side,
		"orderType":        constants.Market,
		"qty":              utils.FormatToStep(qty, qtyStep),
		"triggerPrice":     utils.FormatToStep(trigger, tick),
		"triggerDirection": direction,
		"triggerBy":        "LastPrice",
		"reduceOnly":       true,
		"closeOnTrigger":   true,
		"timeInForce":      "IOC",
		"positionIdx":      0,
		"orderLinkId":      c.orderLinkID(),
	}
	var r orderReply
	if err := c.post(ctx, "/v5/order/create", body, &r); err != nil {
		return "", err
	}
	c.Logger.Info("SL set @ %s (%s %s, qty %s)", body["triggerPrice"], side, symbol, body["qty"])
	return r.OrderID, nil
}

// CancelAllOrders cancels every open order on symbol
func (c *RESTClient) CancelAllOrders(ctx context.Context, symbol string) error {
	return c.post(ctx, "/v5/order/cancel-all", map[string]interface{}{
		"category": constants.Category,
		"symbol":   symbol,
	}, nil)
}

// SetLeverage sets both sides' leverage; an unchanged value is not an error
func (c *RESTClient) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	lev := strconv.Itoa(leverage)
	err := c.post(ctx, "/v5/position/set-leverage", map[string]interface{}{
		"category":     constants.Category,
		"symbol":       symbol,
		"buyLeverage":  lev,
		"sellLeverage": lev,
	}, nil)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.RetCode == leverageNotModified {
		return nil
	}
	return err
}
