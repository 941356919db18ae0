package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"smartflow-perp/config"
	"smartflow-perp/internal/httpclient"
	"smartflow-perp/logging"
)

// RESTClient provides methods to interact with Bybit REST API
type RESTClient struct {
	Config *config.Config
	Logger logging.LoggerInterface
	HTTP   *httpclient.Client
	Now    func() time.Time
}

// NewRESTClient creates a new REST API client
func NewRESTClient(cfg *config.Config, logger logging.LoggerInterface) *RESTClient {
	if logger == nil {
		logger = logging.NewWriterLogger(io.Discard, logging.ERROR)
	}
	return &RESTClient{
		Config: cfg,
		Logger: logger,
		HTTP: httpclient.New(httpclient.Options{
			Timeout:         cfg.CallTimeout,
			RequestsPerSec:  cfg.RequestsPerSec,
			MaxRetryTimeout: cfg.CallTimeout,
		}),
		Now: time.Now,
	}
}

// APIError is a response with a non-zero retCode
type APIError struct {
	Path    string
	RetCode int
	RetMsg  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: retCode %d: %s", e.Path, e.RetCode, e.RetMsg)
}

// SignREST signs a REST request
func (c *RESTClient) SignREST(secret, timestamp, apiKey, recvWindow, payload string) string {
	base := timestamp + apiKey + recvWindow + payload
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(base))
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *RESTClient) host() string {
	return strings.TrimRight(c.Config.RESTHost, "/")
}

func (c *RESTClient) sign(req *http.Request, payload string) {
	ts := fmt.Sprintf("%d", c.Now().UnixMilli())
	req.Header.Set("X-BAPI-API-KEY", c.Config.APIKey)
	req.Header.Set("X-BAPI-TIMESTAMP", ts)
	req.Header.Set("X-BAPI-RECV-WINDOW", c.Config.RecvWindow)
	req.Header.Set("X-BAPI-SIGN-TYPE", "2")
	req.Header.Set("X-BAPI-SIGN", c.SignREST(c.Config.APISecret, ts, c.Config.APIKey, c.Config.RecvWindow, payload))
}

type envelope struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

func (c *RESTClient) decode(path string, body []byte, out interface{}) error {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	if env.RetCode != 0 {
		c.Logger.Error("Error in %s response: %d: %s", path, env.RetCode, env.RetMsg)
		return &APIError{Path: path, RetCode: env.RetCode, RetMsg: env.RetMsg}
	}
	if out == nil || len(env.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("decode %s result: %w", path, err)
	}
	return nil
}

func (c *RESTClient) get(ctx context.Context, path string, q url.Values, out interface{}) error {
	query := q.Encode()
	c.Logger.Debug("Sending GET request to exchange: %s?%s", path, query)
	body, err := c.HTTP.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.host()+path+"?"+query, nil)
		if err != nil {
			return nil, err
		}
		c.sign(req, query)
		return req, nil
	})
	if err != nil {
		c.Logger.Error("Failed to send GET request to exchange: %v", err)
		return fmt.Errorf("GET %s: %w", path, err)
	}
	c.Logger.Debug("Received response from exchange for %s: %s", path, truncate(body))
	return c.decode(path, body, out)
}

func (c *RESTClient) post(ctx context.Context, path string, payload interface{}, out interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	c.Logger.Info("Sending POST request to exchange: %s, Body: %s", path, string(raw))
	body, err := c.HTTP.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host()+path, bytes.NewReader(raw))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		c.sign(req, string(raw))
		return req, nil
	})
	if err != nil {
		c.Logger.Error("Failed to send POST request to exchange: %v", err)
		return fmt.Errorf("POST %s: %w", path, err)
	}
	c.Logger.Info("Received response from exchange for %s: %s", path, truncate(body))
	return c.decode(path, body, out)
}

func truncate(b []byte) string {
	const max = 512
	if len(b) <= max {
		return string(b)
	}
	return string(b[:max]) + "..."
}
