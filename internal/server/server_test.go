package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	auditdomain "github.com/smallbiznis/destiny/internal/audit/domain"
	auditrepo "github.com/smallbiznis/destiny/internal/audit/repository"
	auditservice "github.com/smallbiznis/destiny/internal/audit/service"
	"github.com/smallbiznis/destiny/internal/clock"
	"github.com/smallbiznis/destiny/internal/config"
	"github.com/smallbiznis/destiny/internal/engine"
	"github.com/smallbiznis/destiny/internal/engine/builtin"
	profiledomain "github.com/smallbiznis/destiny/internal/profile/domain"
	reportdomain "github.com/smallbiznis/destiny/internal/report/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type stubReports struct {
	reportdomain.Service
	jobs []reportdomain.GenerationJob
}

func (s *stubReports) InFlight() []reportdomain.GenerationJob {
	return s.jobs
}

type testServer struct {
	server   *Server
	auditSvc auditdomain.Service
	reports  *stubReports
}

func newTestServer(t *testing.T) testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&auditdomain.AuditLog{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	auditSvc := auditservice.NewService(auditservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  auditrepo.Provide(),
		Clock: clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
	})

	registry, err := builtin.NewRegistry()
	require.NoError(t, err)

	reports := &stubReports{}
	s := NewServer(Params{
		Config:   config.Config{},
		DB:       db,
		Log:      zap.NewNop(),
		Registry: registry,
		Reports:  reports,
		AuditSvc: auditSvc,
	})
	return testServer{server: s, auditSvc: auditSvc, reports: reports}
}

func (ts testServer) do(t *testing.T, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	ts.server.Engine().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestListEngines(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/internal/engines")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data []engine.Descriptor `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Data, len(engine.AllSystems()))
	for _, d := range body.Data {
		assert.NotEmpty(t, d.Version, d.System)
	}
}

func TestListJobs(t *testing.T) {
	ts := newTestServer(t)
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ts.reports.jobs = []reportdomain.GenerationJob{{
		Token:     "01J0000000000000000000000",
		UserID:    "u1",
		System:    engine.SystemBazi,
		StartedAt: started,
		Deadline:  started.Add(5 * time.Second),
	}}

	rec := ts.do(t, http.MethodGet, "/internal/jobs")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data []reportdomain.GenerationJob `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Data, 1)
	assert.Equal(t, "u1", body.Data[0].UserID)
	assert.Equal(t, engine.SystemBazi, body.Data[0].System)
}

func TestListAuditLogs(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	target := "u1/bazi"
	require.NoError(t, ts.auditSvc.AuditLog(ctx, "", nil, "report.regenerated", "system_report", &target, nil))
	require.NoError(t, ts.auditSvc.AuditLog(ctx, "", nil, "report.deleted", "system_report", &target, nil))

	rec := ts.do(t, http.MethodGet, "/internal/audit-logs?action=report.deleted")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data []auditdomain.AuditLog `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Data, 1)
	assert.Equal(t, "report.deleted", body.Data[0].Action)
}

func TestListAuditLogs_InvalidRange(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/internal/audit-logs?start_at=2026-03-02&end_at=2026-03-01")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "validation_error", body.Error.Type)
	require.Len(t, body.Error.Errors, 1)
	assert.Equal(t, "invalid_time_range", body.Error.Errors[0].Code)

	rec = ts.do(t, http.MethodGet, "/internal/audit-logs?start_at=yesterday")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "start_at", body.Error.Errors[0].Field)
}

func TestMapError(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{reportdomain.ErrNotFound, http.StatusNotFound},
		{profiledomain.ErrNotLocked, http.StatusConflict},
		{profiledomain.ErrProfileLocked, http.StatusConflict},
		{engine.ErrUnknownSystem, http.StatusBadRequest},
		{errors.Join(ErrServiceUnavailable, errors.New("dial tcp")), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		status, _ := mapError(tc.err)
		assert.Equal(t, tc.status, status, tc.err.Error())
	}
}

func TestParseOptionalTime(t *testing.T) {
	got, err := parseOptionalTime(" ", false)
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = parseOptionalTime("2026-03-01", true)
	require.NoError(t, err)
	assert.Equal(t, 23, got.Hour())

	_, err = parseOptionalTime("03/01/2026", false)
	assert.Error(t, err)
}
