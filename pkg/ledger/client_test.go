package ledger

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/finvault/cantor/pkg/errs"
)

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(ClientConfig{
		BaseURL: srv.URL,
		Tokens:  StaticTokenSource("test-token"),
	}, zap.NewNop().Sugar())
}

func TestParseTemplateID(t *testing.T) {
	tests := []struct {
		in      string
		wantErr bool
	}{
		{"abc123:Trading:Allocation", false},
		{"abc123:Trading", true},
		{"::", true},
		{"", true},
	}
	for _, tt := range tests {
		tpl, err := ParseTemplateID(tt.in)
		if tt.wantErr != (err != nil) {
			t.Errorf("ParseTemplateID(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if err == nil && tpl.String() != tt.in {
			t.Errorf("round trip %q -> %q", tt.in, tpl.String())
		}
	}
}

func TestSubmitAndWait_BearerAndCommandID(t *testing.T) {
	var gotAuth string
	var gotReq SubmitRequest

	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotReq)
		json.NewEncoder(w).Encode(SubmitResult{UpdateID: "u-1", CompletionOffset: 42})
	}))

	tpl := TemplateID{PackageID: "pkg", Module: "Trading", Entity: "Allocation"}
	res, err := c.SubmitAndWait(context.Background(), SubmitRequest{
		Commands: []Command{NewCreate(tpl, map[string]any{"sender": "alice"})},
		ActAs:    []Party{"venue"},
	})
	if err != nil {
		t.Fatalf("SubmitAndWait: %v", err)
	}
	if gotAuth != "Bearer test-token" {
		t.Errorf("auth header = %q", gotAuth)
	}
	if gotReq.CommandID == "" {
		t.Error("command id should be auto-generated")
	}
	if res.UpdateID != "u-1" || res.CompletionOffset != 42 {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestSubmitAndWait_ClassifiesLedgerErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   errs.Code
	}{
		{
			name:   "contract not found",
			status: 400,
			body:   `{"code":"CONTRACT_NOT_FOUND","cause":"00aa archived"}`,
			want:   errs.CodeStale,
		},
		{
			name:   "authorization",
			status: 400,
			body:   `{"code":"DAML_AUTHORIZATION_ERROR","cause":"requires venue"}`,
			want:   errs.CodeAuthorizationRejected,
		},
		{
			name:   "synchronizer down",
			status: 503,
			body:   `not even json`,
			want:   errs.CodeTransientSynchronizer,
		},
		{
			name:   "unknown",
			status: 500,
			body:   `{"code":"WEIRD","cause":"?"}`,
			want:   errs.CodeUnknownLedger,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			_, err := c.SubmitAndWait(context.Background(), SubmitRequest{ActAs: []Party{"venue"}})
			if err == nil {
				t.Fatal("expected error")
			}
			if got := errs.CodeOf(err); got != tt.want {
				t.Errorf("code = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWaitReady_FlipsFlag(t *testing.T) {
	calls := 0
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(map[string]int64{"offset": 7})
	}))

	if c.Ready() {
		t.Fatal("client ready before WaitReady")
	}
	if err := c.WaitReady(context.Background()); err != nil {
		t.Fatalf("WaitReady: %v", err)
	}
	if !c.Ready() {
		t.Error("readiness flag not set")
	}
	if calls < 3 {
		t.Errorf("expected retries, got %d calls", calls)
	}
}

func TestActiveContracts(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"activeContracts": []map[string]any{
				{"contractId": "00aa", "templateId": "pkg:Trading:Holding"},
				{"contractId": "00bb", "templateId": "pkg:Trading:Holding"},
			},
		})
	}))

	tpl := TemplateID{PackageID: "pkg", Module: "Trading", Entity: "Holding"}
	acs, err := c.ActiveContracts(context.Background(), "alice", tpl)
	if err != nil {
		t.Fatalf("ActiveContracts: %v", err)
	}
	if len(acs) != 2 || acs[0].ContractID != "00aa" {
		t.Errorf("unexpected acs %+v", acs)
	}
}
