package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"attendpay/internal/apperr"
	"attendpay/internal/attendance"
	"attendpay/internal/auth"
	"attendpay/internal/calendar"
	"attendpay/internal/payroll"
	"attendpay/internal/settings"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const (
	testSigningKey = "test-signing-key-with-enough-bytes"
	testIssuer     = "attendpay-test"
)

// ── Mock repositories ──

type memAttendanceRepo struct {
	mu   sync.Mutex
	logs map[string]attendance.Log
}

func (m *memAttendanceRepo) LoadRecords(context.Context) ([]attendance.Record, error) {
	return nil, nil
}

func (m *memAttendanceRepo) LoadLogs(context.Context) ([]attendance.Log, error) { return nil, nil }

func (m *memAttendanceRepo) LogByKey(_ context.Context, studentID string, d calendar.Date) (attendance.Log, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.logs {
		if l.StudentID == studentID && l.Date() == d {
			return l, true, nil
		}
	}
	return attendance.Log{}, false, nil
}

func (m *memAttendanceRepo) InsertEntry(_ context.Context, _ *attendance.Record, l attendance.Log) (attendance.Log, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs[l.ID] = l
	return l, nil
}

func (m *memAttendanceRepo) UpdateLog(_ context.Context, l attendance.Log) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs[l.ID] = l
	return nil
}

type memSettingsRepo struct {
	mu   sync.Mutex
	rows map[calendar.MonthKey]settings.Window
}

func (m *memSettingsRepo) LoadAll(context.Context) ([]settings.Window, error) { return nil, nil }

func (m *memSettingsRepo) Insert(_ context.Context, w settings.Window) (settings.Window, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.rows[w.Month]; ok {
		return existing, nil
	}
	m.rows[w.Month] = w
	return w, nil
}

func (m *memSettingsRepo) Update(_ context.Context, w settings.Window) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[w.Month] = w
	return nil
}

type mockPayroll struct {
	summary payroll.Summary
	total   payroll.StudentTotal
	err     error
}

func (m *mockPayroll) StudentTotal(context.Context, string, calendar.MonthKey) (payroll.StudentTotal, error) {
	return m.total, m.err
}

func (m *mockPayroll) RosterSummary(context.Context, calendar.MonthKey) (payroll.Summary, error) {
	return m.summary, m.err
}

type noLive struct{}

func (noLive) Serve(w http.ResponseWriter, _ *http.Request) error {
	w.WriteHeader(http.StatusSwitchingProtocols)
	return nil
}

// ── Harness ──

type testServer struct {
	router  *gin.Engine
	payroll *mockPayroll
	store   *attendance.Store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	now := time.Date(2024, time.July, 15, 9, 30, 0, 0, time.UTC)
	store := attendance.NewStore()
	svc := attendance.NewService(&memAttendanceRepo{logs: map[string]attendance.Log{}}, store, calendar.FixedClock{T: now}, nil, zap.NewNop())
	resolver := settings.NewResolver(&memSettingsRepo{rows: map[calendar.MonthKey]settings.Window{}}, nil, zap.NewNop())
	pay := &mockPayroll{}

	h := &Handler{
		Attendance: svc,
		Logs:       store,
		Windows:    resolver,
		Payroll:    pay,
		Live:       noLive{},
		Clock:      calendar.FixedClock{T: now},
		Tokens: TokenConfig{
			Issuer:     testIssuer,
			SigningKey: testSigningKey,
			AccessTTL:  time.Minute,
			Keys:       auth.NewKeyRing("op-key", "admin-key"),
		},
		Logger: zap.NewNop(),
	}
	return &testServer{
		router:  NewRouter(h, RouterConfig{RateLimitPerMin: 1000}),
		payroll: pay,
		store:   store,
	}
}

func (s *testServer) token(t *testing.T, role string) string {
	t.Helper()
	tok, err := auth.Issue("op-"+role, role, testIssuer, testSigningKey, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	return tok.AccessToken
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			if err := json.NewEncoder(&buf).Encode(b); err != nil {
				t.Fatal(err)
			}
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %s: %v", w.Body.String(), err)
	}
}

var julyQuery = "month=" + url.QueryEscape("July 2024")

// ── Tests ──

func TestIssueToken(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/auth/token", bytes.NewBufferString(`{"operator_id":"alice"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("no key: status %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/v1/auth/token", bytes.NewBufferString(`{"operator_id":"alice"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", "admin-key")
	w = httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		AccessToken string `json:"access_token"`
		Role        string `json:"role"`
	}
	decode(t, w, &resp)
	claims, err := auth.Parse(resp.AccessToken, testSigningKey, testIssuer)
	if err != nil || claims.Subject != "alice" || claims.Role != auth.RoleAdmin {
		t.Errorf("claims = %+v, %v", claims, err)
	}
}

func TestRequiresToken(t *testing.T) {
	s := newTestServer(t)
	if w := s.do(t, http.MethodGet, "/v1/settings?"+julyQuery, "", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("status %d, want 401", w.Code)
	}
}

func TestSettingsLifecycle(t *testing.T) {
	s := newTestServer(t)
	op, admin := s.token(t, auth.RoleOperator), s.token(t, auth.RoleAdmin)

	w := s.do(t, http.MethodGet, "/v1/settings?"+julyQuery, op, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET status %d: %s", w.Code, w.Body.String())
	}
	var win windowView
	decode(t, w, &win)
	if win.Month != "July 2024" || win.StartDay != 1 || win.EndDay != 31 {
		t.Errorf("default window = %+v", win)
	}

	body := map[string]any{"month": "July 2024", "start_day": 5, "end_day": 20}
	if w := s.do(t, http.MethodPut, "/v1/settings", op, body); w.Code != http.StatusForbidden {
		t.Errorf("operator PUT status %d, want 403", w.Code)
	}
	w = s.do(t, http.MethodPut, "/v1/settings", admin, body)
	if w.Code != http.StatusOK {
		t.Fatalf("admin PUT status %d: %s", w.Code, w.Body.String())
	}
	decode(t, w, &win)
	if win.StartDay != 5 || win.EndDay != 20 {
		t.Errorf("updated window = %+v", win)
	}

	bad := map[string]any{"month": "July 2024", "start_day": 25}
	if w := s.do(t, http.MethodPut, "/v1/settings", admin, bad); w.Code != http.StatusBadRequest {
		t.Errorf("start after end: status %d, want 400", w.Code)
	}
	if w := s.do(t, http.MethodGet, "/v1/settings?month=Smarch+2024", op, nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad month: status %d, want 400", w.Code)
	}
}

func TestLogsFlow(t *testing.T) {
	s := newTestServer(t)
	op := s.token(t, auth.RoleOperator)

	if w := s.do(t, http.MethodPost, "/v1/logs/excused", op, `{"student_id":"s-1","date":"2024-07-20"}`); w.Code != http.StatusOK {
		t.Fatalf("excused status %d: %s", w.Code, w.Body.String())
	}
	full := `{"student_id":"s-2","date":"2024-07-03","time_in_am":800,"time_out_am":1200,"time_in_pm":1300,"time_out_pm":1700}`
	if w := s.do(t, http.MethodPost, "/v1/logs", op, full); w.Code != http.StatusOK {
		t.Fatalf("save status %d: %s", w.Code, w.Body.String())
	}

	w := s.do(t, http.MethodGet, "/v1/logs?"+julyQuery, op, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list status %d", w.Code)
	}
	var resp struct {
		Logs []struct {
			StudentID string `json:"student_id"`
			Status    string `json:"status"`
			TimeInAM  int    `json:"time_in_am"`
		} `json:"logs"`
	}
	decode(t, w, &resp)
	if len(resp.Logs) != 2 {
		t.Fatalf("logs = %+v", resp.Logs)
	}
	// Sorted by date: the 3rd before the 20th.
	if resp.Logs[0].Status != "PRESENT" || resp.Logs[1].Status != "EXCUSED" || resp.Logs[1].TimeInAM != -1 {
		t.Errorf("logs = %+v", resp.Logs)
	}
}

func TestUpdateTimesMissingIs404(t *testing.T) {
	s := newTestServer(t)
	body := `{"student_id":"s-1","date":"2024-07-05","time_in_am":800,"time_out_am":1200}`
	w := s.do(t, http.MethodPut, "/v1/logs", s.token(t, auth.RoleOperator), body)
	if w.Code != http.StatusNotFound {
		t.Errorf("status %d, want 404", w.Code)
	}
	if s.store.Len() != 0 {
		t.Error("PUT created a log")
	}
}

func TestBadInputIs400(t *testing.T) {
	s := newTestServer(t)
	op := s.token(t, auth.RoleOperator)
	cases := []string{
		`{"student_id":"s-1","date":"2024-07-05","time_in_am":2500}`,
		`{"student_id":"s-1","date":"2024-02-30"}`,
		`{"student_id":"","date":"2024-07-05"}`,
		`{"student_id":"s-1"}`,
	}
	for _, body := range cases {
		if w := s.do(t, http.MethodPost, "/v1/logs", op, body); w.Code != http.StatusBadRequest {
			t.Errorf("%s: status %d, want 400", body, w.Code)
		}
	}
}

func TestPunch(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodPost, "/v1/punches", s.token(t, auth.RoleOperator), `{"student_id":"s-1"}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	var l struct {
		TimeInAM int `json:"time_in_am"`
	}
	decode(t, w, &l)
	if l.TimeInAM != 930 {
		t.Errorf("time_in_am = %d, want 930", l.TimeInAM)
	}
}

func TestPayrollEndpoints(t *testing.T) {
	s := newTestServer(t)
	op := s.token(t, auth.RoleOperator)
	s.payroll.summary = payroll.Summary{Month: "July 2024", Total: decimal.NewFromInt(375)}

	w := s.do(t, http.MethodGet, "/v1/payroll/roster?"+julyQuery, op, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	var sum payroll.Summary
	decode(t, w, &sum)
	if !sum.Total.Equal(decimal.NewFromInt(375)) {
		t.Errorf("total = %s", sum.Total)
	}

	if w := s.do(t, http.MethodGet, "/v1/payroll/roster", op, nil); w.Code != http.StatusBadRequest {
		t.Errorf("missing month: status %d, want 400", w.Code)
	}

	s.payroll.err = apperr.Persistence("roster.LoadStudents", errors.New("db down"))
	if w := s.do(t, http.MethodGet, "/v1/payroll/students/s-1?"+julyQuery, op, nil); w.Code != http.StatusServiceUnavailable {
		t.Errorf("persistence failure: status %d, want 503", w.Code)
	}
}

func TestCalendarEndpoints(t *testing.T) {
	s := newTestServer(t)
	op := s.token(t, auth.RoleOperator)

	w := s.do(t, http.MethodGet, "/v1/calendar/current", op, nil)
	var resp struct {
		AcademicYear string      `json:"academic_year"`
		Months       []monthView `json:"months"`
	}
	decode(t, w, &resp)
	if resp.AcademicYear != "2024-2025" || len(resp.Months) != 12 || resp.Months[0].Key != "July 2024" {
		t.Errorf("current = %+v", resp)
	}

	if w := s.do(t, http.MethodGet, "/v1/calendar/academic-years/2023-2025/months", op, nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad label: status %d, want 400", w.Code)
	}
}

func TestLiveRequiresToken(t *testing.T) {
	s := newTestServer(t)
	if w := s.do(t, http.MethodGet, "/v1/live", "", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("status %d, want 401", w.Code)
	}
	w := s.do(t, http.MethodGet, "/v1/live?access_token="+s.token(t, auth.RoleOperator), "", nil)
	if w.Code != http.StatusSwitchingProtocols {
		t.Errorf("status %d, want 101", w.Code)
	}
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{apperr.InvalidFormat("op", "x"), http.StatusBadRequest},
		{apperr.InvalidRange("op", "x"), http.StatusBadRequest},
		{apperr.NotFound("op", "x"), http.StatusNotFound},
		{apperr.Persistence("op", errors.New("x")), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := StatusFor(tc.err); got != tc.want {
			t.Errorf("StatusFor(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}
