package aggregator

import (
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kjannette/trahn-swapbot/internal/httputil"
	"github.com/kjannette/trahn-swapbot/internal/swap"
)

const tokenAddr = "0x1f9840a85d5aF5bf1D1762F925BDADdC4201F984"

var owner = common.HexToAddress("0x00000000000000000000000000000000000b0b00")

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	logger, _ := test.NewNullLogger()
	return NewClient(Options{
		BaseURL:     srv.URL + "/",
		APIKey:      "k-123",
		RPS:         100,
		PriorityFee: big.NewInt(2_000_000_000),
		Retry:       httputil.RetryConfig{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
	}, logger)
}

func quoteReq() swap.QuoteRequest {
	return swap.QuoteRequest{
		InputAsset:  swap.NativeAsset,
		OutputAsset: tokenAddr,
		Amount:      big.NewInt(1_000_000_000_000_000_000),
		SlippageBps: 1500,
	}
}

func TestQuote(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/quote", r.URL.Path)
		assert.Equal(t, "k-123", r.Header.Get("x-api-key"))
		assert.Equal(t, tokenAddr, r.URL.Query().Get("outputMint"))
		assert.Equal(t, "1000000000000000000", r.URL.Query().Get("amount"))
		assert.Equal(t, "1500", r.URL.Query().Get("slippageBps"))
		_, _ = io.WriteString(w, `{
			"inputMint": "`+swap.NativeAsset+`",
			"outputMint": "`+tokenAddr+`",
			"inAmount": "1000000000000000000",
			"outAmount": "250000000000000000000",
			"otherAmountThreshold": "212500000000000000000",
			"priceImpactPct": "0.42",
			"slippageBps": 1500,
			"routePlan": [{"percent": 100}]
		}`)
	})

	q, err := c.Quote(t.Context(), quoteReq())
	require.NoError(t, err)
	assert.Equal(t, "250000000000000000000", q.OutAmount.String())
	assert.Equal(t, "212500000000000000000", q.MinOutAmount.String())
	assert.InDelta(t, 0.42, q.PriceImpactPct, 1e-9)
	assert.Contains(t, string(q.Raw), "routePlan")
}

func TestQuote_NoRoute(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":"Could not find any route","errorCode":"COULD_NOT_FIND_ANY_ROUTE"}`)
	})
	_, err := c.Quote(t.Context(), quoteReq())
	assert.ErrorIs(t, err, swap.ErrNoRoute)
}

func TestQuote_ZeroOutputIsNoRoute(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"inAmount":"1","outAmount":"0"}`)
	})
	_, err := c.Quote(t.Context(), quoteReq())
	assert.ErrorIs(t, err, swap.ErrNoRoute)
}

func TestQuote_ServerErrorRetriedThenFails(t *testing.T) {
	var hits atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})
	_, err := c.Quote(t.Context(), quoteReq())
	require.Error(t, err)
	assert.NotErrorIs(t, err, swap.ErrNoRoute)
	assert.Equal(t, int32(2), hits.Load())
}

func TestInstructions(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/swap-instructions", r.URL.Path)

		var body map[string]json.RawMessage
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.JSONEq(t, `{"routePlan":[]}`, string(body["quoteResponse"]))
		assert.Equal(t, `"`+owner.Hex()+`"`, string(body["userPublicKey"]))
		assert.Equal(t, `"0x77359400"`, string(body["prioritizationFee"]))

		_, _ = io.WriteString(w, `{
			"computeBudgetInstructions": [{"gas": "0x61a80", "maxPriorityFeePerGas": "0x77359400"}],
			"setupInstructions": [{"to": "`+tokenAddr+`", "data": "0x095ea7b3", "value": "0x0"}],
			"swapInstruction": {"to": "0x00000000000000000000000000000000000a11ce", "data": "0x12aa3caf", "value": "0xde0b6b3a7640000"},
			"cleanupInstruction": null
		}`)
	})

	set, err := c.Instructions(t.Context(), &swap.Quote{Raw: json.RawMessage(`{"routePlan":[]}`)}, owner)
	require.NoError(t, err)
	require.Len(t, set.ComputeBudget, 1)
	assert.Equal(t, uint64(400_000), set.ComputeBudget[0].Gas)
	assert.Equal(t, "2000000000", set.ComputeBudget[0].TipCap.String())
	require.Len(t, set.Setup, 1)
	assert.Equal(t, []byte{0x09, 0x5e, 0xa7, 0xb3}, set.Setup[0].Data)
	assert.Equal(t, "1000000000000000000", set.Swap.Value.String())
	assert.Nil(t, set.Cleanup)
}

func TestInstructions_ErrorBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"error":"token cannot be traded","errorCode":"TOKEN_NOT_TRADABLE"}`)
	})
	_, err := c.Instructions(t.Context(), &swap.Quote{Raw: json.RawMessage(`{}`)}, owner)
	assert.ErrorIs(t, err, swap.ErrNoRoute)
}

func TestInstructions_RequiresRawQuote(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	})
	_, err := c.Instructions(t.Context(), &swap.Quote{}, owner)
	assert.Error(t, err)
}
