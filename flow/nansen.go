package flow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"smartflow-perp/internal/httpclient"
	"smartflow-perp/logging"
	"smartflow-perp/models"
)

// Nansen reads smart-money and exchange flows from the Nansen API
type Nansen struct {
	BaseURL   string
	APIKey    string
	TimeRange string
	Client    *httpclient.Client
	Logger    logging.LoggerInterface
	Now       func() time.Time
}

// NewNansen creates a live provider
func NewNansen(baseURL, apiKey, timeRange string, client *httpclient.Client, logger logging.LoggerInterface) *Nansen {
	if timeRange == "" {
		timeRange = "24h"
	}
	return &Nansen{
		BaseURL:   strings.TrimRight(baseURL, "/"),
		APIKey:    apiKey,
		TimeRange: timeRange,
		Client:    client,
		Logger:    logger,
		Now:       time.Now,
	}
}

func (n *Nansen) post(ctx context.Context, endpoint string, payload interface{}) (map[string]interface{}, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	n.Logger.Debug("Nansen POST %s payload: %s", endpoint, body)
	raw, err := n.Client.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.BaseURL+endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("apikey", n.APIKey)
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return nil, fmt.Errorf("nansen %s: %w", endpoint, err)
	}
	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode nansen %s: %w", endpoint, err)
	}
	return out, nil
}

// Signal implements Provider
func (n *Nansen) Signal(ctx context.Context, token string) (models.FlowSignal, error) {
	info, mapped := Tokens[token]
	chain := info.Chain
	if !mapped {
		chain = "ethereum"
	}

	netflow, err := n.post(ctx, "/smart-money/netflow", map[string]string{
		"chain":      chain,
		"time_range": n.TimeRange,
	})
	if err != nil {
		return models.FlowSignal{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	smartMoney := number(netflow["netflow"])

	var exchange float64
	if mapped && info.Address != "" {
		data, err := n.post(ctx, "/tgm/flow-intelligence", map[string]string{
			"chain":         info.Chain,
			"token_address": info.Address,
		})
		if err != nil {
			n.Logger.Warning("exchange flow for %s unavailable, using 0: %v", token, err)
		} else {
			exchange = number(data["inflow"]) - number(data["outflow"])
		}
	} else {
		n.Logger.Debug("%s: no chain/address mapping, skipping exchange flow", token)
	}

	return Classify(token, smartMoney, exchange, n.Now()), nil
}

// number accepts JSON numbers and numeric strings
func number(v interface{}) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case string:
		f, err := strconv.ParseFloat(x, 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}
