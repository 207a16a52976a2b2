package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"spot_trader/internal/market"
	"spot_trader/internal/models"
)

const (
	BaseURL        = "https://api.binance.com"
	TestnetBaseURL = "https://testnet.binance.vision"
)

// Binance error codes we map explicitly.
const (
	codeTooManyRequests  = -1003
	codeBadSymbol        = -1121
	codeNewOrderRejected = -2010
	codeCancelRejected   = -2011
	codeNoSuchOrder      = -2013
)

// APIError captures structured error info returned by Binance.
type APIError struct {
	StatusCode int
	Code       int    `json:"code"`
	Message    string `json:"msg"`
	Body       string
}

func (e *APIError) Error() string {
	if e == nil {
		return "binance API error"
	}
	if e.Code != 0 || e.Message != "" {
		return fmt.Sprintf("binance API error %d (code=%d): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("binance API error %d: %s", e.StatusCode, e.Body)
}

// Unwrap classifies the error into the market error taxonomy.
func (e *APIError) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusTooManyRequests || e.StatusCode == http.StatusTeapot || e.Code == codeTooManyRequests:
		return market.ErrRateLimited
	case e.StatusCode >= 500:
		return market.ErrUnavailable
	case e.Code == codeBadSymbol:
		return market.ErrInvalidSymbol
	case e.Code == codeNoSuchOrder:
		return market.ErrOrderNotFound
	case e.Code == codeNewOrderRejected && strings.Contains(strings.ToLower(e.Message), "insufficient balance"):
		return market.ErrInsufficientBalance
	case e.Code == codeNewOrderRejected && strings.Contains(strings.ToLower(e.Message), "market is closed"):
		return market.ErrUnavailableInstrument
	}
	return market.ErrRejected
}

func parseAPIError(statusCode int, body []byte) error {
	var parsed struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && (parsed.Code != 0 || parsed.Msg != "") {
		return &APIError{StatusCode: statusCode, Code: parsed.Code, Message: parsed.Msg, Body: string(body)}
	}
	return &APIError{StatusCode: statusCode, Body: string(body)}
}

// Client talks to the Binance spot REST API. It implements market.Exchange.
type Client struct {
	apiKey     string
	secretKey  string
	baseURL    string
	quoteAsset string
	interval   string
	recvWindow time.Duration
	infoTTL    time.Duration
	httpClient *http.Client

	mu          sync.Mutex
	instruments map[string]models.Instrument
	infoAt      time.Time
}

var _ market.Exchange = (*Client)(nil)

// Options configures a Client.
type Options struct {
	APIKey     string
	SecretKey  string
	Testnet    bool
	BaseURL    string // overrides Testnet when set
	QuoteAsset string
	Interval   string // kline interval, default 1h
	Timeout    time.Duration
}

// NewClient creates a new Binance spot client.
func NewClient(opt Options) *Client {
	baseURL := BaseURL
	if opt.Testnet {
		baseURL = TestnetBaseURL
	}
	if opt.BaseURL != "" {
		baseURL = strings.TrimRight(opt.BaseURL, "/")
	}
	quote := opt.QuoteAsset
	if quote == "" {
		quote = "USDT"
	}
	interval := opt.Interval
	if interval == "" {
		interval = "1h"
	}
	timeout := opt.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		apiKey:      opt.APIKey,
		secretKey:   opt.SecretKey,
		baseURL:     baseURL,
		quoteAsset:  quote,
		interval:    interval,
		recvWindow:  5 * time.Second,
		infoTTL:     time.Hour,
		httpClient:  &http.Client{Timeout: timeout},
		instruments: make(map[string]models.Instrument),
	}
}

// publicGet performs an unsigned GET and decodes the JSON response into out.
func (c *Client) publicGet(ctx context.Context, endpoint string, params url.Values, out any) error {
	fullURL := c.baseURL + endpoint
	if len(params) > 0 {
		fullURL += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

// signedRequest adds timestamp and HMAC-SHA256 signature to params.
func (c *Client) signedRequest(ctx context.Context, method, endpoint string, params url.Values, out any) error {
	if params == nil {
		params = url.Values{}
	}
	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	params.Set("recvWindow", strconv.FormatInt(c.recvWindow.Milliseconds(), 10))

	queryString := params.Encode()
	fullURL := c.baseURL + endpoint + "?" + queryString + "&signature=" + c.sign(queryString)

	req, err := http.NewRequestWithContext(ctx, method, fullURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-MBX-APIKEY", c.apiKey)
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %s %s: %w", market.ErrUnavailable, req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read body: %w", market.ErrUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return parseAPIError(resp.StatusCode, body)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", req.URL.Path, err)
	}
	return nil
}

// sign creates HMAC SHA256 signature
func (c *Client) sign(message string) string {
	mac := hmac.New(sha256.New, []byte(c.secretKey))
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

func asAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	ok := errors.As(err, &apiErr)
	return apiErr, ok
}
