// Package api exposes the attendance and payroll engine over HTTP.
package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"attendpay/internal/apperr"
	"attendpay/internal/attendance"
	"attendpay/internal/auth"
	"attendpay/internal/calendar"
	"attendpay/internal/payroll"
	"attendpay/internal/settings"
)

// AttendanceService writes attendance logs.
type AttendanceService interface {
	UpsertExcused(ctx context.Context, studentID string, d calendar.Date) (attendance.Log, error)
	UpdateTimes(ctx context.Context, studentID string, d calendar.Date, p attendance.Punches) (attendance.Log, bool, error)
	SaveTimes(ctx context.Context, studentID string, d calendar.Date, p attendance.Punches) (attendance.Log, error)
	Punch(ctx context.Context, studentID string) (attendance.Log, error)
}

// LogReader returns snapshots of the in-memory store.
type LogReader interface {
	FilterByYear(year int) []attendance.Log
	FilterByMonth(month calendar.MonthKey) []attendance.Log
	FilterByStudent(studentID string) []attendance.Log
	StudentMonth(studentID string, month calendar.MonthKey) []attendance.Log
}

// WindowService resolves and edits attendance windows.
type WindowService interface {
	Resolve(ctx context.Context, month calendar.MonthKey) (settings.Window, error)
	SetStart(ctx context.Context, month calendar.MonthKey, day int) (settings.Window, error)
	SetEnd(ctx context.Context, month calendar.MonthKey, day int) (settings.Window, error)
	SetRange(ctx context.Context, month calendar.MonthKey, start, end int) (settings.Window, error)
}

// PayrollService computes payroll.
type PayrollService interface {
	StudentTotal(ctx context.Context, studentID string, month calendar.MonthKey) (payroll.StudentTotal, error)
	RosterSummary(ctx context.Context, month calendar.MonthKey) (payroll.Summary, error)
}

// LiveServer streams change events to websocket viewers.
type LiveServer interface {
	Serve(w http.ResponseWriter, r *http.Request) error
}

// TokenConfig signs operator tokens.
type TokenConfig struct {
	Issuer     string
	SigningKey string
	AccessTTL  time.Duration
	Keys       *auth.KeyRing
}

// Handler holds the HTTP endpoints.
type Handler struct {
	Attendance AttendanceService
	Logs       LogReader
	Windows    WindowService
	Payroll    PayrollService
	Live       LiveServer
	Clock      calendar.Clock
	Tokens     TokenConfig
	Logger     *zap.Logger
}

// IssueToken exchanges a bootstrap API key for an operator access token.
// POST /v1/auth/token
func (h *Handler) IssueToken(c *gin.Context) {
	role, ok := h.Tokens.Keys.RoleFor(c.GetHeader("X-API-Key"))
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid api key"})
		return
	}
	var req struct {
		OperatorID string `json:"operator_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	tok, err := auth.Issue(req.OperatorID, role, h.Tokens.Issuer, h.Tokens.SigningKey, h.Tokens.AccessTTL)
	if err != nil {
		h.Logger.Error("token issue failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"access_token": tok.AccessToken,
		"expires_at":   tok.AccessExp.Unix(),
		"role":         role,
	})
}

type monthView struct {
	Key   string `json:"key"`
	Year  int    `json:"year"`
	Month int    `json:"month"`
}

func viewMonths(months []calendar.MonthKey) []monthView {
	out := make([]monthView, 0, len(months))
	for _, m := range months {
		out = append(out, monthView{Key: m.String(), Year: m.Year, Month: int(m.Month)})
	}
	return out
}

// CurrentAcademicYear returns the academic year containing today and its months.
// GET /v1/calendar/current
func (h *Handler) CurrentAcademicYear(c *gin.Context) {
	label := calendar.CurrentAcademicYearLabel(h.Clock.Now())
	months, err := calendar.MonthsOfAcademicYear(label)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"academic_year": label, "months": viewMonths(months)})
}

// AcademicYearMonths lists the months of a labelled academic year.
// GET /v1/calendar/academic-years/:label/months
func (h *Handler) AcademicYearMonths(c *gin.Context) {
	label := c.Param("label")
	months, err := calendar.MonthsOfAcademicYear(label)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"academic_year": label, "months": viewMonths(months)})
}

type windowView struct {
	Month    string `json:"month"`
	StartDay int    `json:"start_day"`
	EndDay   int    `json:"end_day"`
}

func viewWindow(w settings.Window) windowView {
	return windowView{Month: w.Month.String(), StartDay: w.StartDay, EndDay: w.EndDay}
}

// GetSettings returns the window of a month, creating the default on first use.
// GET /v1/settings?month=July%202024
func (h *Handler) GetSettings(c *gin.Context) {
	month, err := h.monthParam(c, true)
	if err != nil {
		h.fail(c, err)
		return
	}
	w, err := h.Windows.Resolve(c.Request.Context(), month)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, viewWindow(w))
}

// UpdateSettings edits one or both bounds of a month's window.
// PUT /v1/settings
func (h *Handler) UpdateSettings(c *gin.Context) {
	var req struct {
		Month    string `json:"month" binding:"required"`
		StartDay *int   `json:"start_day"`
		EndDay   *int   `json:"end_day"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	month, err := calendar.ParseMonthKey(req.Month)
	if err != nil {
		h.fail(c, err)
		return
	}

	ctx := c.Request.Context()
	var w settings.Window
	switch {
	case req.StartDay != nil && req.EndDay != nil:
		w, err = h.Windows.SetRange(ctx, month, *req.StartDay, *req.EndDay)
	case req.StartDay != nil:
		w, err = h.Windows.SetStart(ctx, month, *req.StartDay)
	case req.EndDay != nil:
		w, err = h.Windows.SetEnd(ctx, month, *req.EndDay)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "start_day or end_day required"})
		return
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, viewWindow(w))
}

type logView struct {
	attendance.Log
	Status attendance.Status `json:"status"`
}

// ListLogs returns a filtered snapshot of logs with each day's evaluated status.
// GET /v1/logs?student_id=&month=&year=
func (h *Handler) ListLogs(c *gin.Context) {
	studentID := c.Query("student_id")
	month, err := h.monthParam(c, false)
	if err != nil {
		h.fail(c, err)
		return
	}

	var logs []attendance.Log
	switch {
	case studentID != "" && month.Valid():
		logs = h.Logs.StudentMonth(studentID, month)
	case month.Valid():
		logs = h.Logs.FilterByMonth(month)
	case studentID != "":
		logs = h.Logs.FilterByStudent(studentID)
	case c.Query("year") != "":
		year, err := strconv.Atoi(c.Query("year"))
		if err != nil || year <= 0 {
			h.fail(c, apperr.InvalidFormat("api.ListLogs", "year %q", c.Query("year")))
			return
		}
		logs = h.Logs.FilterByYear(year)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "student_id, month or year required"})
		return
	}

	windows := make(map[calendar.MonthKey]settings.Window)
	out := make([]logView, 0, len(logs))
	for _, l := range logs {
		key := l.Date().MonthKey()
		w, ok := windows[key]
		if !ok {
			if w, err = h.Windows.Resolve(c.Request.Context(), key); err != nil {
				h.fail(c, err)
				return
			}
			windows[key] = w
		}
		out = append(out, logView{Log: l, Status: attendance.Evaluate(l, w, l.Date())})
	}
	c.JSON(http.StatusOK, gin.H{"logs": out})
}

type logKeyRequest struct {
	StudentID string        `json:"student_id" binding:"required"`
	Date      calendar.Date `json:"date"`
}

type timesRequest struct {
	StudentID string        `json:"student_id" binding:"required"`
	Date      calendar.Date `json:"date"`
	attendance.Punches
}

// MarkExcused marks a student's day excused.
// POST /v1/logs/excused
func (h *Handler) MarkExcused(c *gin.Context) {
	var req logKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badBody(c, err)
		return
	}
	l, err := h.Attendance.UpsertExcused(c.Request.Context(), req.StudentID, req.Date)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, l)
}

// UpdateTimes overwrites the punches of an existing log.
// PUT /v1/logs
func (h *Handler) UpdateTimes(c *gin.Context) {
	var req timesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badBody(c, err)
		return
	}
	l, ok, err := h.Attendance.UpdateTimes(c.Request.Context(), req.StudentID, req.Date, req.Punches)
	if err != nil {
		h.fail(c, err)
		return
	}
	if !ok {
		h.fail(c, apperr.NotFound("api.UpdateTimes", "no log for %s on %s", req.StudentID, req.Date))
		return
	}
	c.JSON(http.StatusOK, l)
}

// SaveTimes creates or updates the punches of a day.
// POST /v1/logs
func (h *Handler) SaveTimes(c *gin.Context) {
	var req timesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badBody(c, err)
		return
	}
	l, err := h.Attendance.SaveTimes(c.Request.Context(), req.StudentID, req.Date, req.Punches)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, l)
}

// Punch records the current time for a student.
// POST /v1/punches
func (h *Handler) Punch(c *gin.Context) {
	var req struct {
		StudentID string `json:"student_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badBody(c, err)
		return
	}
	l, err := h.Attendance.Punch(c.Request.Context(), req.StudentID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, l)
}

// StudentPayroll returns one student's payroll for a month.
// GET /v1/payroll/students/:id?month=
func (h *Handler) StudentPayroll(c *gin.Context) {
	month, err := h.monthParam(c, true)
	if err != nil {
		h.fail(c, err)
		return
	}
	total, err := h.Payroll.StudentTotal(c.Request.Context(), c.Param("id"), month)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, total)
}

// RosterPayroll returns the payroll summary of a month.
// GET /v1/payroll/roster?month=
func (h *Handler) RosterPayroll(c *gin.Context) {
	month, err := h.monthParam(c, true)
	if err != nil {
		h.fail(c, err)
		return
	}
	sum, err := h.Payroll.RosterSummary(c.Request.Context(), month)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}

// LiveEvents upgrades to a websocket. Browsers cannot set headers on the upgrade, so
// the token may come as the access_token query parameter.
// GET /v1/live
func (h *Handler) LiveEvents(c *gin.Context) {
	token := c.Query("access_token")
	if authz := c.GetHeader("Authorization"); token == "" && strings.HasPrefix(strings.ToLower(authz), "bearer ") {
		token = strings.TrimSpace(authz[len("bearer "):])
	}
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}
	if _, err := auth.Parse(token, h.Tokens.SigningKey, h.Tokens.Issuer); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	if err := h.Live.Serve(c.Writer, c.Request); err != nil {
		h.Logger.Debug("websocket upgrade failed", zap.Error(err))
	}
}

// monthParam reads the month query parameter. When required is false a missing
// parameter yields the zero MonthKey.
func (h *Handler) monthParam(c *gin.Context, required bool) (calendar.MonthKey, error) {
	raw := c.Query("month")
	if raw == "" {
		if required {
			return calendar.MonthKey{}, apperr.InvalidFormat("api.month", "month query parameter required")
		}
		return calendar.MonthKey{}, nil
	}
	return calendar.ParseMonthKey(raw)
}
