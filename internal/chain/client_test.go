package chain

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OKaluzny/wallet-custody/pkg/models"
)

const baseURL = "https://rest.test"

func newMockClient(t *testing.T, cfg Config) *Client {
	t.Helper()
	cfg.BaseURL = baseURL
	c := NewClient(cfg, nil)
	httpmock.ActivateNonDefault(c.HTTPClient())
	t.Cleanup(httpmock.DeactivateAndReset)
	return c
}

func TestClient_TransactionStatus(t *testing.T) {
	c := newMockClient(t, Config{})

	httpmock.RegisterResponder("GET", baseURL+"/v1/transaction_results/abc",
		httpmock.NewJsonResponderOrPanic(200, map[string]interface{}{
			"status":        "Executed",
			"status_code":   0,
			"error_message": "",
			"execution":     "Success",
		}))
	httpmock.RegisterResponder("GET", baseURL+"/v1/transaction_results/bad",
		httpmock.NewJsonResponderOrPanic(200, map[string]interface{}{
			"status":        "Sealed",
			"status_code":   1,
			"error_message": "[Error Code: 1101] cadence runtime error",
			"execution":     "Failure",
		}))

	st, err := c.TransactionStatus(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, models.PhaseExecuted, st.Phase)
	assert.Empty(t, st.ErrorMessage)

	st, err = c.TransactionStatus(context.Background(), "bad")
	require.NoError(t, err)
	assert.Equal(t, models.PhaseSealed, st.Phase)
	assert.Equal(t, 1, st.StatusCode)
	assert.Contains(t, st.ErrorMessage, "cadence runtime error")
}

func TestClient_NotFoundAndAPIError(t *testing.T) {
	c := newMockClient(t, Config{})

	httpmock.RegisterResponder("GET", baseURL+"/v1/transaction_results/unknown",
		httpmock.NewJsonResponderOrPanic(404, map[string]interface{}{"code": 404, "message": "not found"}))
	httpmock.RegisterResponder("GET", baseURL+"/v1/transaction_results/boom",
		httpmock.NewJsonResponderOrPanic(500, map[string]interface{}{"code": 500, "message": "internal"}))

	_, err := c.TransactionStatus(context.Background(), "unknown")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = c.TransactionStatus(context.Background(), "boom")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 500, apiErr.StatusCode)
	assert.Equal(t, "internal", apiErr.Message)
}

func TestClient_GetAccount(t *testing.T) {
	c := newMockClient(t, Config{})

	httpmock.RegisterResponder("GET", `=~^https://rest\.test/v1/accounts/0x01cf0e2f2f715450`,
		httpmock.NewJsonResponderOrPanic(200, map[string]interface{}{
			"address": "0x01cf0e2f2f715450",
			"balance": "100000",
			"keys": []map[string]interface{}{
				{
					"index":             "0",
					"public_key":        "0xabcd",
					"signing_algorithm": "ECDSA_P256",
					"hashing_algorithm": "SHA3_256",
					"sequence_number":   "42",
					"weight":            "1000",
					"revoked":           false,
				},
				{
					"index":             "1",
					"public_key":        "ef",
					"signing_algorithm": "ECDSA_secp256k1",
					"hashing_algorithm": "SHA2_256",
					"sequence_number":   "0",
					"weight":            "500",
					"revoked":           true,
				},
			},
		}))

	acct, err := c.GetAccount(context.Background(), "0x01cf0e2f2f715450")
	require.NoError(t, err)
	require.Len(t, acct.Keys, 2)

	k0 := acct.Keys[0]
	assert.Equal(t, []byte{0xab, 0xcd}, k0.PublicKey)
	assert.Equal(t, models.SignAlgoP256, k0.SignAlgo)
	assert.Equal(t, models.HashSHA3_256, k0.HashAlgo)
	assert.Equal(t, uint64(42), k0.SequenceNumber)
	assert.Equal(t, uint32(1000), k0.Weight)

	k1 := acct.Keys[1]
	assert.True(t, k1.Revoked)
	assert.Equal(t, uint32(500), k1.Weight)
}

func TestClient_GetAccount_BadPayload(t *testing.T) {
	c := newMockClient(t, Config{})
	httpmock.RegisterResponder("GET", `=~^https://rest\.test/v1/accounts/0x02`,
		httpmock.NewJsonResponderOrPanic(200, map[string]interface{}{
			"address": "0x02",
			"keys": []map[string]interface{}{
				{"index": "0", "public_key": "00", "weight": "1000", "sequence_number": "x"},
			},
		}))
	_, err := c.GetAccount(context.Background(), "0x02")
	assert.Error(t, err)
}

func TestClient_SubmitTransaction(t *testing.T) {
	c := newMockClient(t, Config{})

	var got Transaction
	httpmock.RegisterResponder("POST", baseURL+"/v1/transactions",
		func(req *http.Request) (*http.Response, error) {
			if err := json.NewDecoder(req.Body).Decode(&got); err != nil {
				return httpmock.NewStringResponse(400, err.Error()), nil
			}
			return httpmock.NewJsonResponse(201, map[string]string{"id": "tx123"})
		})

	id, err := c.SubmitTransaction(context.Background(), Transaction{
		Script:      "c2NyaXB0",
		Payer:       "0x01",
		ProposalKey: ProposalKey{Address: "0x01", KeyIndex: "0", SequenceNumber: "7"},
	})
	require.NoError(t, err)
	assert.Equal(t, "tx123", id)
	assert.Equal(t, "7", got.ProposalKey.SequenceNumber)
}

func TestClient_ExecuteScript(t *testing.T) {
	c := newMockClient(t, Config{})

	var body scriptRequest
	httpmock.RegisterResponder("POST", `=~^https://rest\.test/v1/scripts`,
		func(req *http.Request) (*http.Response, error) {
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				return httpmock.NewStringResponse(400, err.Error()), nil
			}
			return httpmock.NewJsonResponse(200, base64.StdEncoding.EncodeToString([]byte(`{"type":"UFix64","value":"1.0"}`)))
		})

	res, err := c.ExecuteScript(context.Background(), []byte("pub fun main(): UFix64 { return 1.0 }"), [][]byte{[]byte(`{"type":"Address","value":"0x01"}`)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"UFix64","value":"1.0"}`, string(res.Value))

	script, err := base64.StdEncoding.DecodeString(body.Script)
	require.NoError(t, err)
	assert.Contains(t, string(script), "pub fun main")
	assert.Len(t, body.Arguments, 1)
}

func TestClient_LatestBlockID(t *testing.T) {
	c := newMockClient(t, Config{})
	httpmock.RegisterResponder("GET", `=~^https://rest\.test/v1/blocks`,
		httpmock.NewJsonResponderOrPanic(200, []map[string]interface{}{
			{"header": map[string]string{"id": "blk1", "height": "10"}},
		}))

	id, err := c.LatestBlockID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "blk1", id)
}

func TestClient_RateLimitHonoursContext(t *testing.T) {
	c := newMockClient(t, Config{RateLimit: 0.001, Burst: 1})
	httpmock.RegisterResponder("GET", baseURL+"/v1/transaction_results/abc",
		httpmock.NewJsonResponderOrPanic(200, map[string]interface{}{"status": "Pending"}))

	_, err := c.TransactionStatus(context.Background(), "abc")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.TransactionStatus(ctx, "abc")
	assert.Error(t, err, "second request must wait for a token and give up with the context")
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}
