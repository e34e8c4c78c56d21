// Package chain is a client for the Flow Access REST API.
package chain

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"github.com/OKaluzny/wallet-custody/internal/metrics"
	"github.com/OKaluzny/wallet-custody/pkg/models"
)

// ErrNotFound is returned when the access node does not know the requested
// object yet. The watcher treats it as retryable.
var ErrNotFound = errors.New("not found on access node")

// APIError is a non-2xx response other than 404.
type APIError struct {
	StatusCode int    `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("access node: %d %s", e.StatusCode, e.Message)
}

// Config for a Client.
type Config struct {
	BaseURL   string
	Timeout   time.Duration
	RateLimit float64 // requests per second, 0 disables limiting
	Burst     int
}

// Client talks to one access node.
type Client struct {
	http    *resty.Client
	limiter *rate.Limiter
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewClient(cfg Config, m *metrics.Metrics) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	cl := resty.New().SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).SetTimeout(cfg.Timeout)
	cl.SetHeader("Content-Type", "application/json")
	cl.SetHeader("Accept", "application/json")
	cl.SetHeader("User-Agent", "wallet-custody/1.0")

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	return &Client{
		http:    cl,
		limiter: limiter,
		metrics: m,
		logger:  slog.Default().With("component", "chain_client"),
	}
}

// HTTPClient exposes the underlying client so tests can install transports.
func (c *Client) HTTPClient() *http.Client {
	return c.http.GetClient()
}

func (c *Client) do(ctx context.Context, op, method, path string, body, result interface{}) error {
	err := c.doRequest(ctx, method, path, body, result)
	c.metrics.Request(op, err)
	if err != nil && !errors.Is(err, ErrNotFound) {
		c.logger.Warn("access node request failed", "op", op, "path", path, "error", err)
	}
	return err
}

func (c *Client) doRequest(ctx context.Context, method, path string, body, result interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}

	var apiErr APIError
	req := c.http.R().SetContext(ctx).SetError(&apiErr)
	if result != nil {
		req.SetResult(result)
	}
	if body != nil {
		req.SetBody(body)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return fmt.Errorf("%s %s: %w", method, path, ErrNotFound)
	}
	if resp.IsError() {
		if apiErr.StatusCode == 0 {
			apiErr.StatusCode = resp.StatusCode()
		}
		if apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(resp.String())
		}
		return &apiErr
	}
	return nil
}

// SubmitTransaction sends a signed transaction and returns its id.
func (c *Client) SubmitTransaction(ctx context.Context, tx Transaction) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, "submit", http.MethodPost, "/v1/transactions", tx, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", errors.New("submit transaction: empty id in response")
	}
	return out.ID, nil
}

// TransactionStatus returns the current status of a transaction.
func (c *Client) TransactionStatus(ctx context.Context, id string) (models.ChainStatus, error) {
	var out transactionResult
	if err := c.do(ctx, "status", http.MethodGet, "/v1/transaction_results/"+id, nil, &out); err != nil {
		return models.ChainStatus{}, err
	}
	return out.status(), nil
}

// GetAccount returns an account with its keys.
func (c *Client) GetAccount(ctx context.Context, address string) (*models.Account, error) {
	var out accountJSON
	if err := c.do(ctx, "account", http.MethodGet, "/v1/accounts/"+address+"?expand=keys", nil, &out); err != nil {
		return nil, err
	}
	return out.account()
}

// LatestBlockID returns the id of the latest sealed block, used as the
// reference block of new transactions.
func (c *Client) LatestBlockID(ctx context.Context) (string, error) {
	var out []struct {
		Header struct {
			ID     string `json:"id"`
			Height string `json:"height"`
		} `json:"header"`
	}
	if err := c.do(ctx, "block", http.MethodGet, "/v1/blocks?height=sealed", nil, &out); err != nil {
		return "", err
	}
	if len(out) == 0 || out[0].Header.ID == "" {
		return "", errors.New("latest block: empty response")
	}
	return out[0].Header.ID, nil
}

// ExecuteScript runs a read-only script against the latest sealed block.
func (c *Client) ExecuteScript(ctx context.Context, script []byte, args [][]byte) (models.ScriptResult, error) {
	body := scriptRequest{
		Script:    base64.StdEncoding.EncodeToString(script),
		Arguments: make([]string, len(args)),
	}
	for i, a := range args {
		body.Arguments[i] = base64.StdEncoding.EncodeToString(a)
	}

	var out string
	if err := c.do(ctx, "script", http.MethodPost, "/v1/scripts?block_height=sealed", body, &out); err != nil {
		return models.ScriptResult{}, err
	}
	value, err := base64.StdEncoding.DecodeString(out)
	if err != nil {
		return models.ScriptResult{}, fmt.Errorf("decode script result: %w", err)
	}
	return models.ScriptResult{Value: value}, nil
}

// Transaction is the REST representation of a signed transaction.
type Transaction struct {
	Script             string      `json:"script"`
	Arguments          []string    `json:"arguments"`
	ReferenceBlockID   string      `json:"reference_block_id"`
	GasLimit           string      `json:"gas_limit"`
	Payer              string      `json:"payer"`
	ProposalKey        ProposalKey `json:"proposal_key"`
	Authorizers        []string    `json:"authorizers"`
	PayloadSignatures  []Signature `json:"payload_signatures"`
	EnvelopeSignatures []Signature `json:"envelope_signatures"`
}

type ProposalKey struct {
	Address        string `json:"address"`
	KeyIndex       string `json:"key_index"`
	SequenceNumber string `json:"sequence_number"`
}

type Signature struct {
	Address   string `json:"address"`
	KeyIndex  string `json:"key_index"`
	Signature string `json:"signature"`
}

type scriptRequest struct {
	Script    string   `json:"script"`
	Arguments []string `json:"arguments"`
}

type transactionResult struct {
	Status       string `json:"status"`
	StatusCode   int    `json:"status_code"`
	ErrorMessage string `json:"error_message"`
	Execution    string `json:"execution"`
}

func (r transactionResult) status() models.ChainStatus {
	phase, err := models.ParsePhase(r.Status)
	if err != nil {
		phase = models.PhaseUnknown
	}
	msg := r.ErrorMessage
	if msg == "" && r.Execution == "Failure" {
		msg = "execution failed"
	}
	return models.ChainStatus{Phase: phase, ErrorMessage: msg, StatusCode: r.StatusCode}
}

type accountJSON struct {
	Address string    `json:"address"`
	Keys    []keyJSON `json:"keys"`
}

type keyJSON struct {
	Index          string `json:"index"`
	PublicKey      string `json:"public_key"`
	SigningAlgo    string `json:"signing_algorithm"`
	HashingAlgo    string `json:"hashing_algorithm"`
	SequenceNumber string `json:"sequence_number"`
	Weight         string `json:"weight"`
	Revoked        bool   `json:"revoked"`
}

func (a accountJSON) account() (*models.Account, error) {
	keys := make([]models.AccountKey, 0, len(a.Keys))
	for _, k := range a.Keys {
		idx, err := strconv.ParseUint(k.Index, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("key index %q: %w", k.Index, err)
		}
		weight, err := strconv.ParseUint(k.Weight, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("key %d weight %q: %w", idx, k.Weight, err)
		}
		seq, err := strconv.ParseUint(k.SequenceNumber, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("key %d sequence number %q: %w", idx, k.SequenceNumber, err)
		}
		pub, err := hex.DecodeString(strings.TrimPrefix(k.PublicKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("key %d public key: %w", idx, err)
		}
		keys = append(keys, models.AccountKey{
			Index:          uint32(idx),
			PublicKey:      pub,
			Weight:         uint32(weight),
			SignAlgo:       models.SignAlgo(k.SigningAlgo),
			HashAlgo:       models.HashAlgo(k.HashingAlgo),
			SequenceNumber: seq,
			Revoked:        k.Revoked,
		})
	}
	return models.NewAccount(a.Address, keys)
}
