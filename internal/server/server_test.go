package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-engine/internal/model"
	"github.com/sells-group/outreach-engine/internal/store"
)

var srvNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T) (*httptest.Server, *store.SQLiteStore) {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })

	srv := New(s).WithNow(func() time.Time { return srvNow })
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, s
}

func seedFixtures(t *testing.T, s *store.SQLiteStore) {
	t.Helper()
	ctx := context.Background()
	l := model.NewLead("l1", srvNow)
	l.Attributes["email"] = model.Attribute{
		Active: model.AttributeValue{Value: "jo@acme.com", Source: "import", Confidence: 0.8},
	}
	require.NoError(t, s.CreateLead(ctx, l))
	require.NoError(t, s.PutCampaign(ctx, &model.Campaign{
		ID: "c1", Name: "outreach", Version: 1, CreatedAt: srvNow,
		Steps: []model.Step{{Name: "intro", Action: model.ActionSend, Channel: "email", Body: "hi"}},
	}))
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func postJSON(t *testing.T, url, body string, out any) int {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestHealth(t *testing.T) {
	ts, _ := newTestServer(t)
	var body map[string]string
	code := getJSON(t, ts.URL+"/health", &body)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
}

func TestEnrollEndpoint(t *testing.T) {
	ts, s := newTestServer(t)
	seedFixtures(t, s)

	var enr model.Enrollment
	code := postJSON(t, ts.URL+"/enroll", `{"lead_id": "l1", "campaign_id": "c1"}`, &enr)
	assert.Equal(t, http.StatusCreated, code)
	assert.Equal(t, model.EnrollmentPending, enr.State)
	assert.Equal(t, "l1", enr.LeadID)

	// Duplicate enrollment conflicts.
	code = postJSON(t, ts.URL+"/enroll", `{"lead_id": "l1", "campaign_id": "c1"}`, nil)
	assert.Equal(t, http.StatusConflict, code)
}

func TestEnrollEndpoint_BadRequests(t *testing.T) {
	ts, s := newTestServer(t)
	seedFixtures(t, s)

	code := postJSON(t, ts.URL+"/enroll", `not json`, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code = postJSON(t, ts.URL+"/enroll", `{"lead_id": "l1"}`, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code = postJSON(t, ts.URL+"/enroll", `{"lead_id": "l1", "campaign_id": "nope"}`, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestGetEnrollment(t *testing.T) {
	ts, s := newTestServer(t)
	seedFixtures(t, s)

	var created model.Enrollment
	code := postJSON(t, ts.URL+"/enroll", `{"lead_id": "l1", "campaign_id": "c1"}`, &created)
	require.Equal(t, http.StatusCreated, code)

	var got model.Enrollment
	code = getJSON(t, ts.URL+"/enrollments/"+created.ID, &got)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, created.ID, got.ID)

	code = getJSON(t, ts.URL+"/enrollments/missing", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestListCampaigns(t *testing.T) {
	ts, s := newTestServer(t)

	var empty []model.Campaign
	code := getJSON(t, ts.URL+"/campaigns", &empty)
	assert.Equal(t, http.StatusOK, code)
	assert.Empty(t, empty)

	seedFixtures(t, s)
	var campaigns []model.Campaign
	code = getJSON(t, ts.URL+"/campaigns", &campaigns)
	assert.Equal(t, http.StatusOK, code)
	require.Len(t, campaigns, 1)
	assert.Equal(t, "outreach", campaigns[0].Name)
}

func TestCampaignSummary(t *testing.T) {
	ts, s := newTestServer(t)
	seedFixtures(t, s)
	code := postJSON(t, ts.URL+"/enroll", `{"lead_id": "l1", "campaign_id": "c1"}`, nil)
	require.Equal(t, http.StatusCreated, code)

	var summary struct {
		Campaign model.Campaign `json:"campaign"`
		States   map[string]int `json:"states"`
	}
	code = getJSON(t, ts.URL+"/campaigns/c1/summary", &summary)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "outreach", summary.Campaign.Name)
	assert.Equal(t, 1, summary.States["pending"])

	code = getJSON(t, ts.URL+"/campaigns/nope/summary", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestPauseResume(t *testing.T) {
	ts, s := newTestServer(t)
	seedFixtures(t, s)
	ctx := context.Background()

	code := postJSON(t, ts.URL+"/campaigns/c1/pause", "", nil)
	assert.Equal(t, http.StatusOK, code)
	camp, err := s.GetCampaign(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, camp.Paused)

	code = postJSON(t, ts.URL+"/campaigns/c1/resume", "", nil)
	assert.Equal(t, http.StatusOK, code)
	camp, err = s.GetCampaign(ctx, "c1")
	require.NoError(t, err)
	assert.False(t, camp.Paused)

	code = postJSON(t, ts.URL+"/campaigns/nope/pause", "", nil)
	assert.Equal(t, http.StatusNotFound, code)
}
