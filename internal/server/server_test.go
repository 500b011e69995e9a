package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/url"
	"testing"
	"time"

	"crewline/internal/config"
	"crewline/internal/db"
	"crewline/internal/domain"
	"crewline/internal/engine"
	"crewline/internal/migrate"
)

const testCronSecret = "test-cron-secret"

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	e := engine.New(conn, cfg, nil)
	e.Now = func() time.Time { return time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC) }
	for _, p := range []struct{ id, name, phone string }{
		{"p1", "Kim", "010-1111-2222"},
		{"p2", "Lee", "010-3333-4444"},
	} {
		if _, err := e.CreateParticipant(context.Background(), p.id, p.name, p.phone, "tester"); err != nil {
			t.Fatalf("seed participant: %v", err)
		}
	}
	handler, err := New(Config{
		Engine:     e,
		BasePath:   "/v0",
		Auth:       AuthConfig{AllowLegacyActorHeader: true},
		CronSecret: testCronSecret,
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func asAdmin() map[string]string { return map[string]string{"X-Actor-Id": "admin"} }

func asActor(id string) map[string]string { return map[string]string{"X-Actor-Id": id} }

func createAssignmentHTTP(t *testing.T, srv *testServer) domain.Assignment {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/assignments", map[string]any{
		"primary_participant_id":   "p1",
		"secondary_participant_id": "p2",
		"couple":                   "Han & Seo",
		"date":                     "2024-06-01",
		"start_time":               "16:00",
		"arrival_time":             "15:30",
		"venue":                    "Grand Hall",
	}, asAdmin())
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create assignment: %d %s", res.StatusCode, string(data))
	}
	var a domain.Assignment
	if err := json.Unmarshal(data, &a); err != nil {
		t.Fatalf("unmarshal assignment: %v", err)
	}
	return a
}

func TestAuthRequired(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/assignments", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d %s", res.StatusCode, string(data))
	}
	// health stays open
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health: %d", res.StatusCode)
	}
}

func TestAPIKeyAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/participants/p1/keys", map[string]any{
		"name": "phone",
	}, asAdmin())
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("mint key: %d %s", res.StatusCode, string(data))
	}
	var minted MintAPIKeyResponse
	if err := json.Unmarshal(data, &minted); err != nil {
		t.Fatalf("unmarshal key: %v", err)
	}
	if minted.Key == "" {
		t.Fatalf("expected plaintext key in response")
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/assignments/assigned", nil, map[string]string{
		"X-Api-Key": minted.Key,
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("api key auth: %d %s", res.StatusCode, string(data))
	}
}

func TestConfirmationFlowOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	a := createAssignmentHTTP(t, srv)

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/assignments/confirm", map[string]any{
		"assignment_ids": []string{a.ID},
	}, asActor("p1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("p1 confirm: %d %s", res.StatusCode, string(data))
	}
	var confirm ConfirmResponse
	if err := json.Unmarshal(data, &confirm); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(confirm.Results) != 1 || confirm.Results[0].Confirmed {
		t.Fatalf("expected pending quorum: %+v", confirm.Results)
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/assignments/confirm", map[string]any{
		"assignment_ids": []string{a.ID},
	}, asActor("p2"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("p2 confirm: %d %s", res.StatusCode, string(data))
	}
	if err := json.Unmarshal(data, &confirm); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !confirm.Results[0].Confirmed {
		t.Fatalf("expected quorum reached: %+v", confirm.Results)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/assignments/today?date=2024-06-01", nil, asActor("p1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("today: %d %s", res.StatusCode, string(data))
	}
	var today []engine.AssignmentView
	if err := json.Unmarshal(data, &today); err != nil {
		t.Fatalf("unmarshal today: %v", err)
	}
	if len(today) != 1 || len(today[0].Progress) != 2 {
		t.Fatalf("expected one assignment with seeded progress, got %s", string(data))
	}
}

func TestProgressReportAndErrors(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	a := createAssignmentHTTP(t, srv)
	for _, actor := range []string{"p1", "p2"} {
		doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/assignments/confirm", map[string]any{
			"assignment_ids": []string{a.ID},
		}, asActor(actor))
	}

	// a stranger cannot report
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/assignments/"+a.ID+"/progress", map[string]any{
		"status": "wakeup",
	}, asActor("stranger"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if envelope.Error.Code != "not_allowed" {
		t.Fatalf("expected not_allowed, got %s", envelope.Error.Code)
	}

	// out of order is rejected too
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/assignments/"+a.ID+"/progress", map[string]any{
		"status": "arrival",
	}, asActor("p1"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 on skip, got %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/assignments/"+a.ID+"/progress", map[string]any{
		"status": "wakeup",
	}, asActor("p1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("report wakeup: %d %s", res.StatusCode, string(data))
	}
	var rec domain.ProgressRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		t.Fatalf("unmarshal record: %v", err)
	}
	if rec.Status != domain.ProgressWakeup {
		t.Fatalf("expected wakeup, got %s", rec.Status)
	}

	// reverting a confirmed assignment conflicts
	res, data = doJSON(t, srv.Client(), http.MethodPatch, srv.URL+"/v0/assignments/"+a.ID, map[string]any{
		"status": "assigned",
	}, asAdmin())
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d %s", res.StatusCode, string(data))
	}

	// unknown assignment is 404
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/assignments/missing", nil, asAdmin())
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.StatusCode)
	}
}

func TestCronEscalateEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	a := createAssignmentHTTP(t, srv)
	for _, actor := range []string{"p1", "p2"} {
		doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/assignments/confirm", map[string]any{
			"assignment_ids": []string{a.ID},
		}, asActor(actor))
	}

	// wrong secret is rejected
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/cron/escalate", nil, map[string]string{
		"Authorization": "Bearer wrong",
	})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d %s", res.StatusCode, string(data))
	}

	now := url.QueryEscape("2024-06-01T10:00:05Z")
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/cron/escalate?now="+now, nil, map[string]string{
		"Authorization": "Bearer " + testCronSecret,
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("escalate: %d %s", res.StatusCode, string(data))
	}
	var report engine.PassReport
	if err := json.Unmarshal(data, &report); err != nil {
		t.Fatalf("unmarshal report: %v", err)
	}
	if len(report.Results) != 2 {
		t.Fatalf("expected wakeup reminders for both participants, got %s", string(data))
	}
	for _, r := range report.Results {
		if r.Action != engine.ActionWakeupReminder {
			t.Fatalf("unexpected action %+v", r)
		}
	}
}
