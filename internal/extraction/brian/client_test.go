package brian

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	xerrors "StarkFinder/internal/errors"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := NewClient(Config{APIKey: "test-key", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}
	return client, server
}

func TestNewClientRequiresAPIKey(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Fatalf("expected error for missing API key")
	}
}

func TestExtractStarknetShape(t *testing.T) {
	var gotAuth, gotPath string
	var gotBody map[string]any
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("X-Brian-Api-Key")
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(`{"result":[{"action":"swap","data":{
			"description":"Swap 10 USDC for ETH",
			"steps":[{"contractAddress":"0xpool","entrypoint":"swap","calldata":["1","2"]}],
			"fromToken":{"symbol":"USDC"},"toToken":{"symbol":"ETH"},
			"fromAmount":"10","gasCostUSD":"0.42"}}]}`))
	})

	intent, err := client.Extract(context.Background(), "swap 10 USDC for ETH", "0xwallet", "4012")
	if err != nil {
		t.Fatalf("Extract returned error: %v", err)
	}

	if gotAuth != "test-key" {
		t.Fatalf("API key header not sent, got %q", gotAuth)
	}
	if gotPath != "/api/v0/agent" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if gotBody["prompt"] != "swap 10 USDC for ETH" || gotBody["address"] != "0xwallet" || gotBody["chainId"] != "4012" {
		t.Fatalf("unexpected request body: %v", gotBody)
	}

	if intent.Action != "swap" || intent.FromSymbol != "USDC" || intent.ToSymbol != "ETH" {
		t.Fatalf("unexpected intent: %+v", intent)
	}
	if intent.EstimatedCostUSD != "0.42" {
		t.Fatalf("unexpected cost: %q", intent.EstimatedCostUSD)
	}
	if len(intent.Steps) != 1 || intent.Steps[0].ContractAddress != "0xpool" || intent.Steps[0].Entrypoint != "swap" {
		t.Fatalf("unexpected steps: %+v", intent.Steps)
	}
	if intent.ID == "" || len(intent.ConfirmCode) != 6 {
		t.Fatalf("intent must carry an ID and a 6-char confirm code: %q %q", intent.ID, intent.ConfirmCode)
	}
}

func TestExtractEVMShape(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"result":[{"action":"transfer","data":{
			"steps":[{"to":"0xtoken","data":"0xa9059cbb"}],
			"receiver":"0xbob","fromAmount":"5"}}]}`))
	})

	intent, err := client.Extract(context.Background(), "send 5 to bob", "0xwallet", "1")
	if err != nil {
		t.Fatalf("Extract returned error: %v", err)
	}
	if intent.Steps[0].ContractAddress != "0xtoken" || intent.Steps[0].RawData != "0xa9059cbb" {
		t.Fatalf("unexpected steps: %+v", intent.Steps)
	}
	if intent.FromSymbol != "Unknown" || intent.ToSymbol != "Unknown" {
		t.Fatalf("missing token metadata should degrade to Unknown, got %q/%q", intent.FromSymbol, intent.ToSymbol)
	}
	if intent.Receiver != "0xbob" {
		t.Fatalf("unexpected receiver %q", intent.Receiver)
	}
}

func TestExtractFailures(t *testing.T) {
	cases := []struct {
		name string
		body string
		code int
	}{
		{"http error", `nope`, 500},
		{"service error", `{"error":"unsupported"}`, 200},
		{"empty result", `{"result":[]}`, 200},
		{"no steps", `{"result":[{"action":"swap","data":{"steps":[]}}]}`, 200},
		{"step without target", `{"result":[{"action":"swap","data":{"steps":[{"entrypoint":"swap"}]}}]}`, 200},
		{"step without entrypoint or data", `{"result":[{"action":"swap","data":{"steps":[{"to":"0xabc"}]}}]}`, 200},
	}
	for _, tc := range cases {
		client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(tc.code)
			_, _ = w.Write([]byte(tc.body))
		})
		_, err := client.Extract(context.Background(), "prompt", "0xwallet", "1")
		if err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
		if xerrors.CodeOf(err) != xerrors.CodeExtraction {
			t.Fatalf("%s: expected EXTRACTION_FAILURE, got %s", tc.name, xerrors.CodeOf(err))
		}
	}
}

func TestConfirmCodeDerivation(t *testing.T) {
	code := confirmCode("12345678-abcd-efgh")
	if code != "123456" {
		t.Fatalf("unexpected confirm code %q", code)
	}
}
