package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jordanlanch/leadrouting/pkg/database"
	"github.com/jordanlanch/leadrouting/pkg/history"
	"github.com/jordanlanch/leadrouting/pkg/leadassignment"
	"github.com/jordanlanch/leadrouting/pkg/logger"
	"github.com/jordanlanch/leadrouting/pkg/metrics"
	"github.com/jordanlanch/leadrouting/pkg/queue"
	"github.com/jordanlanch/leadrouting/pkg/rules"
	"github.com/jordanlanch/leadrouting/pkg/territory"
	"github.com/jordanlanch/leadrouting/pkg/testdata"
	"github.com/jordanlanch/leadrouting/pkg/workload"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	e     *echo.Echo
	leads *testdata.LeadDirectory
	users *testdata.UserDirectory
}

func setupTestServer(t *testing.T) *testServer {
	db, err := database.OpenSQLite(context.Background(), "file:"+t.Name()+"?mode=memory&_fk=1")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s := &testServer{
		e:     echo.New(),
		leads: testdata.NewLeadDirectory(),
		users: testdata.NewUserDirectory(),
	}
	service := leadassignment.NewService(leadassignment.Deps{
		Rules:       rules.NewStore(db, nil),
		Territories: territory.NewService(db),
		Workload:    workload.NewTracker(db, 10),
		Queue:       queue.New(db, queue.DefaultConfig()),
		History:     history.NewLog(db),
		Leads:       s.leads,
		Users:       s.users,
		Metrics:     metrics.NewWithRegistry(prometheus.NewRegistry()),
		Logger:      logger.Nop(),
	})

	g := s.e.Group("/api/v1/tenants/:tenant_id")
	NewLeadAssignmentHandler(service).RegisterRoutes(g)
	NewTerritoryHandler(service).RegisterRoutes(g)
	return s
}

// do sends a request through the router and returns the recorder.
func (s *testServer) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}
