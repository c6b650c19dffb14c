package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"sprintreport/internal/app"
	"sprintreport/internal/config"
	"sprintreport/internal/domain"
	"sprintreport/internal/layout"
)

type fakeTracker struct {
	fail bool
}

func (f *fakeTracker) Search(_ context.Context, _ string, startAt, _ int) (domain.SearchPage, error) {
	if f.fail {
		return domain.SearchPage{}, errors.New("connection refused")
	}
	issues := []domain.RawIssue{
		{Key: "A-1", Fields: map[string]any{
			"status":   map[string]any{"name": "Open"},
			"sprint":   []any{"Sprint@1[id=3,name=Sprint 3,state=ACTIVE]"},
			"points":   3.0,
			"assignee": map[string]any{"displayName": "Alice"},
			"summary":  "Checkout <fast>",
		}},
		{Key: "A-2", Fields: map[string]any{
			"status": map[string]any{"name": "Resolved"},
			"points": 2.0,
		}},
	}
	return domain.SearchPage{StartAt: startAt, Total: len(issues), Issues: issues}, nil
}

func (f *fakeTracker) FetchIssue(context.Context, string) (domain.RawIssue, error) {
	return domain.RawIssue{}, errors.New("not found")
}

func (f *fakeTracker) ListFields(context.Context) ([]domain.Field, error) {
	return []domain.Field{
		{ID: "status", Name: "Status"},
		{ID: "sprint", Name: "Sprint"},
		{ID: "points", Name: "Story Points"},
		{ID: "assignee", Name: "Assignee"},
		{ID: "summary", Name: "Summary"},
	}, nil
}

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

type serverOptions struct {
	export  bool
	secret  string
	tracker *fakeTracker
}

func newTestServer(t *testing.T, opts serverOptions) (*testServer, func()) {
	t.Helper()
	cfg := config.Default("jira.example.com")
	if opts.tracker == nil {
		opts.tracker = &fakeTracker{}
	}
	runner := app.NewRunnerWithTracker(cfg, opts.tracker, func(k string) string {
		return "https://jira.example.com/browse/" + k
	}, zerolog.Nop())
	var tick atomic.Int64
	base := time.Date(2024, 3, 5, 14, 30, 0, 0, time.UTC)
	runner.Engine.Now = func() time.Time {
		return base.Add(time.Duration(tick.Add(1)) * time.Minute)
	}
	closeExport := func() error { return nil }
	if opts.export {
		cfg.Export.SQLitePath = filepath.Join(t.TempDir(), "reports.db")
		fn, err := runner.OpenExport(context.Background())
		if err != nil {
			t.Fatalf("open export: %v", err)
		}
		closeExport = fn
	}
	handler, err := New(Config{Runner: runner, BasePath: "/v0", Auth: AuthConfig{JWTSecret: opts.secret}, Log: zerolog.Nop()})
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
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			closeExport()
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

func decodeError(t *testing.T, data []byte) apiErrorBody {
	t.Helper()
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal error envelope: %v (%s)", err, string(data))
	}
	return env.Error
}

func TestHealthAndSearches(t *testing.T) {
	srv, cleanup := newTestServer(t, serverOptions{})
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/searches", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("searches status %d: %s", res.StatusCode, string(data))
	}
	var list searchList
	if err := json.Unmarshal(data, &list); err != nil {
		t.Fatalf("unmarshal searches: %v", err)
	}
	if len(list.Items) != 1 || list.Items[0].Name != "current" {
		t.Fatalf("unexpected searches: %+v", list.Items)
	}
	if list.Items[0].Schedule == nil || list.Items[0].Schedule.Cron != "0 9 * * 1,2,3,4,5" {
		t.Fatalf("unexpected schedule: %+v", list.Items[0].Schedule)
	}
}

func TestGenerateReport(t *testing.T) {
	srv, cleanup := newTestServer(t, serverOptions{})
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/searches/current/reports", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("generate status %d: %s", res.StatusCode, string(data))
	}
	var out GeneratedReportResponse
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal report: %v", err)
	}
	if out.Exported {
		t.Fatalf("expected exported=false")
	}
	if len(out.Report.Records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(out.Report.Records))
	}
	if len(out.Report.Groups) != 2 || out.Report.Groups[0].Label != "Sprint 3" || out.Report.Groups[1].Label != domain.BacklogLabel {
		t.Fatalf("unexpected groups: %+v", out.Report.Groups)
	}
	if len(out.Workbook.Sheets) != 2 {
		t.Fatalf("expected 2 sheets, got %d", len(out.Workbook.Sheets))
	}
	header := out.Workbook.Sheets[0].Rows[out.Workbook.Sheets[0].HeaderRow]
	if len(header) != len(layout.Columns) || header[0].String() != layout.Columns[0] {
		t.Fatalf("unexpected header row: %+v", header)
	}
}

func TestGenerateErrors(t *testing.T) {
	srv, cleanup := newTestServer(t, serverOptions{})
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/searches/nope/reports", nil, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d %s", res.StatusCode, string(data))
	}
	if e := decodeError(t, data); e.Code != "unknown_search" {
		t.Fatalf("expected unknown_search, got %+v", e)
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/searches/current/reports?export=true", nil, nil)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d %s", res.StatusCode, string(data))
	}
	if e := decodeError(t, data); e.Code != "export_disabled" {
		t.Fatalf("expected export_disabled, got %+v", e)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/reports", nil, nil)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 listing without export, got %d %s", res.StatusCode, string(data))
	}
}

func TestTrackerFailureIsBadGateway(t *testing.T) {
	srv, cleanup := newTestServer(t, serverOptions{tracker: &fakeTracker{fail: true}})
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/searches/current/reports", nil, nil)
	if res.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d %s", res.StatusCode, string(data))
	}
	e := decodeError(t, data)
	if e.Code != "tracker_error" || e.Details["search"] != "current" {
		t.Fatalf("unexpected error body: %+v", e)
	}
}

func TestExportedReportRoundTrip(t *testing.T) {
	srv, cleanup := newTestServer(t, serverOptions{export: true})
	defer cleanup()
	client := srv.Client()

	var ids []string
	for i := 0; i < 3; i++ {
		res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/searches/current/reports?export=true", nil, nil)
		if res.StatusCode != http.StatusOK {
			t.Fatalf("generate status %d: %s", res.StatusCode, string(data))
		}
		var out GeneratedReportResponse
		if err := json.Unmarshal(data, &out); err != nil {
			t.Fatalf("unmarshal report: %v", err)
		}
		if !out.Exported {
			t.Fatalf("expected exported=true")
		}
		ids = append(ids, out.Report.ID)
	}

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/reports?limit=2", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list status %d: %s", res.StatusCode, string(data))
	}
	var page paginatedReports
	if err := json.Unmarshal(data, &page); err != nil {
		t.Fatalf("unmarshal page: %v", err)
	}
	if len(page.Items) != 2 || page.NextCursor == "" {
		t.Fatalf("unexpected first page: %+v", page)
	}
	if page.Items[0].ID != ids[2] || page.Items[1].ID != ids[1] {
		t.Fatalf("expected newest first, got %s, %s", page.Items[0].ID, page.Items[1].ID)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/reports?limit=2&cursor="+url.QueryEscape(page.NextCursor), nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("second page status %d: %s", res.StatusCode, string(data))
	}
	page = paginatedReports{}
	if err := json.Unmarshal(data, &page); err != nil {
		t.Fatalf("unmarshal page: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].ID != ids[0] || page.NextCursor != "" {
		t.Fatalf("unexpected second page: %+v", page)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/reports/"+ids[0], nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get status %d: %s", res.StatusCode, string(data))
	}
	var report domain.Report
	if err := json.Unmarshal(data, &report); err != nil {
		t.Fatalf("unmarshal stored report: %v", err)
	}
	if report.ID != ids[0] || len(report.Records) != 2 {
		t.Fatalf("unexpected stored report: %+v", report)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/reports/"+ids[0]+"/email", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("email status %d: %s", res.StatusCode, string(data))
	}
	var email layout.Email
	if err := json.Unmarshal(data, &email); err != nil {
		t.Fatalf("unmarshal email: %v", err)
	}
	if email.Subject != report.Title {
		t.Fatalf("expected subject %q, got %q", report.Title, email.Subject)
	}
	if strings.Contains(email.HTMLBody, "<fast>") {
		t.Fatalf("html body not escaped")
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/reports/missing", nil, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/reports?cursor=garbage", nil, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad cursor, got %d %s", res.StatusCode, string(data))
	}
}

func TestJWTAuth(t *testing.T) {
	const secret = "s3cret"
	srv, cleanup := newTestServer(t, serverOptions{secret: secret})
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health must stay open, got %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/searches", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d %s", res.StatusCode, string(data))
	}
	if e := decodeError(t, data); e.Code != "unauthorized" {
		t.Fatalf("expected unauthorized, got %+v", e)
	}

	bad, err := IssueToken("other", "ops", jwt.RegisteredClaims{})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/searches", nil, map[string]string{"Authorization": "Bearer " + bad})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for foreign token, got %d %s", res.StatusCode, string(data))
	}
	if e := decodeError(t, data); e.Code != "invalid_credentials" {
		t.Fatalf("expected invalid_credentials, got %+v", e)
	}

	expired, err := IssueToken(secret, "ops", jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour))})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/searches", nil, map[string]string{"Authorization": "Bearer " + expired})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for expired token, got %d", res.StatusCode)
	}

	good, err := IssueToken(secret, "ops", jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/searches", nil, map[string]string{"Authorization": "Bearer " + good})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/openapi.json", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("openapi status %d", res.StatusCode)
	}
	var oas map[string]any
	if err := json.Unmarshal(data, &oas); err != nil {
		t.Fatalf("unmarshal openapi: %v", err)
	}
	components, _ := oas["components"].(map[string]any)
	schemes, _ := components["securitySchemes"].(map[string]any)
	if _, ok := schemes["bearerAuth"]; !ok {
		t.Fatalf("expected bearerAuth security scheme")
	}
}

func TestCursorHelpers(t *testing.T) {
	if got := normalizeLimit(0); got != 50 {
		t.Fatalf("expected default 50, got %d", got)
	}
	if got := normalizeLimit(1000); got != 200 {
		t.Fatalf("expected max 200, got %d", got)
	}
	ts, id, err := parseCompositeCursor(composeCursor("2024-03-05T14:30:00Z", "abc"))
	if err != nil || ts != "2024-03-05T14:30:00Z" || id != "abc" {
		t.Fatalf("cursor round trip: %q %q %v", ts, id, err)
	}
	if _, _, err := parseCompositeCursor("nope"); err == nil {
		t.Fatalf("expected error for malformed cursor")
	}
}
