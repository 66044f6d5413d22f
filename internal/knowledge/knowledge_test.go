package knowledge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestStaticProviderMatching(t *testing.T) {
	provider := NewStaticProvider([]Snippet{
		{Title: "account abstraction", Content: "Accounts are contracts.", Keywords: []string{"account", "wallet"}},
		{Title: "fees", Content: "Fees are paid in ETH.", Keywords: []string{"fee", "gas"}},
	})

	if got := provider.Ask(context.Background(), "how do gas fees work?"); got != "Fees are paid in ETH." {
		t.Fatalf("unexpected answer %q", got)
	}
	if got := provider.Ask(context.Background(), "tell me about account abstraction"); got != "Accounts are contracts." {
		t.Fatalf("unexpected answer %q", got)
	}
	if got := provider.Ask(context.Background(), "completely unrelated"); got != Apology {
		t.Fatalf("no match should apologise, got %q", got)
	}
}

func TestLoadStaticProvider(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kb.json")
	entries := []Snippet{{Title: "fees", Content: "Fees are paid in ETH.", Keywords: []string{"gas"}}}
	raw, _ := json.Marshal(entries)
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatalf("write snippets: %v", err)
	}

	provider, err := LoadStaticProvider(path)
	if err != nil {
		t.Fatalf("LoadStaticProvider returned error: %v", err)
	}
	if got := provider.Ask(context.Background(), "gas?"); got != "Fees are paid in ETH." {
		t.Fatalf("unexpected answer %q", got)
	}

	if _, err := LoadStaticProvider(""); err == nil {
		t.Fatalf("empty path should fail")
	}
}

func TestRemoteProviderAsk(t *testing.T) {
	var gotAuth string
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("x-brian-api-key")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(`{"result":{"answer":"Starknet is a validity rollup."}}`))
	}))
	defer server.Close()

	provider, err := NewRemoteProvider(RemoteConfig{APIKey: "k", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("NewRemoteProvider returned error: %v", err)
	}
	if got := provider.Ask(context.Background(), "what is starknet?"); got != "Starknet is a validity rollup." {
		t.Fatalf("unexpected answer %q", got)
	}
	if gotAuth != "k" {
		t.Fatalf("API key header not sent")
	}
	if gotBody["prompt"] != "what is starknet?" || gotBody["kb"] != "starknet_kb" {
		t.Fatalf("unexpected request body: %v", gotBody)
	}
}

func TestRemoteProviderDegradesToApology(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(500)
	}))
	defer server.Close()

	provider, err := NewRemoteProvider(RemoteConfig{APIKey: "k", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("NewRemoteProvider returned error: %v", err)
	}
	if got := provider.Ask(context.Background(), "anything"); got != Apology {
		t.Fatalf("failure should degrade to apology, got %q", got)
	}
}
