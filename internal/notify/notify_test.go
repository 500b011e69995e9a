package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNormalizePhone(t *testing.T) {
	cases := map[string]string{
		"010-1234-5678": "821012345678",
		"01012345678":   "821012345678",
		"821012345678":  "821012345678",
		" 010-1111-2222 ": "821011112222",
	}
	for in, want := range cases {
		if got := NormalizePhone(in); got != want {
			t.Fatalf("NormalizePhone(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestGatewaySend(t *testing.T) {
	var got gatewayMessage
	var authz string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authz = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	g := &Gateway{URL: srv.URL, APIKey: "secret", SenderKey: "sk", SenderNo: "0200000000"}
	err := g.Send(context.Background(), "010-1234-5678", "crew_wakeup", map[string]string{"couple": "Han & Seo"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if authz != "Bearer secret" {
		t.Fatalf("authorization header: %s", authz)
	}
	if got.MessageType != "AT" || got.PhoneNumber != "821012345678" || got.TemplateCode != "crew_wakeup" {
		t.Fatalf("unexpected message %+v", got)
	}
	if got.TemplateParams["couple"] != "Han & Seo" {
		t.Fatalf("params not forwarded: %+v", got.TemplateParams)
	}
}

func TestGatewaySendRejectsNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	g := &Gateway{URL: srv.URL, APIKey: "secret"}
	if err := g.Send(context.Background(), "01012345678", "crew_wakeup", nil); err == nil {
		t.Fatalf("expected error on 502")
	}
}
