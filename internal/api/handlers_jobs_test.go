package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cronguard/internal/core"
	"cronguard/internal/jobs"
	"cronguard/internal/logging"
	"cronguard/internal/store"
)

type apiFixture struct {
	store  *store.Store
	server *Server
	job    *core.Job
	calls  *atomic.Int32
}

func newAPIFixture(t *testing.T, token string) *apiFixture {
	t.Helper()
	ctx := context.Background()
	st, err := store.Open(ctx, t.TempDir(), 5)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	job := &core.Job{Name: "report", Handler: "test", IntervalMinutes: 60, StaleLockTimeoutMinutes: 30, Active: true}
	require.NoError(t, st.UpsertJob(ctx, job))

	logger := logging.NewWithWriter(io.Discard, "debug", "text")
	calls := &atomic.Int32{}
	reg := core.NewRegistry()
	require.NoError(t, reg.Register("test", func(*core.Job) (core.Body, error) {
		return core.BodyFunc(func(ctx context.Context, env *core.Env) error {
			calls.Add(1)
			env.Printf("generated report")
			return nil
		}), nil
	}))
	guard := core.NewGuard(st, logger, core.WithOwner("api-test"))
	sched, err := core.NewScheduler(st, guard, reg, logger, "", jobs.RunLogHook(st, logger))
	require.NoError(t, err)

	return &apiFixture{
		store:  st,
		server: NewServer("", token, st, sched, nil, logger),
		job:    job,
		calls:  calls,
	}
}

func (f *apiFixture) do(t *testing.T, method, path, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealthz(t *testing.T) {
	f := newAPIFixture(t, "")
	rec := f.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuth(t *testing.T) {
	f := newAPIFixture(t, "secret")

	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodGet, "/v1/jobs", "").Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodGet, "/v1/jobs", "", "Authorization", "Bearer wrong").Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/v1/jobs", "", "Authorization", "Bearer secret").Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/v1/jobs?token=secret", "").Code)
	// Health stays public for probes.
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/healthz", "").Code)
}

func TestListAndGetJob(t *testing.T) {
	f := newAPIFixture(t, "")

	rec := f.do(t, http.MethodGet, "/v1/jobs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]jobResponse](t, rec)
	require.Len(t, list, 1)
	assert.Equal(t, "report", list[0].Name)
	assert.True(t, list[0].Due)
	assert.False(t, list[0].Locked)

	rec = f.do(t, http.MethodGet, "/v1/jobs/"+f.job.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, f.job.ID, decode[jobResponse](t, rec).ID)

	rec = f.do(t, http.MethodGet, "/v1/jobs/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/jobs?active=maybe", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRunJob(t *testing.T) {
	f := newAPIFixture(t, "")

	rec := f.do(t, http.MethodPost, "/v1/jobs/"+f.job.ID+"/run", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[resultResponse](t, rec)
	assert.Equal(t, "succeeded", res.Outcome)
	assert.Contains(t, res.Messages, "generated report")

	rec = f.do(t, http.MethodPost, "/v1/jobs/"+f.job.ID+"/run", "")
	require.Equal(t, http.StatusOK, rec.Code)
	res = decode[resultResponse](t, rec)
	assert.Equal(t, "skipped", res.Outcome)
	assert.Equal(t, "not_due", res.Reason)

	rec = f.do(t, http.MethodPost, "/v1/jobs/"+f.job.ID+"/run?force=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	res = decode[resultResponse](t, rec)
	assert.Equal(t, "succeeded", res.Outcome)
	assert.True(t, res.Forced)
	assert.EqualValues(t, 2, f.calls.Load())

	rec = f.do(t, http.MethodPost, "/v1/jobs/missing/run", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRunLockedJobConflicts(t *testing.T) {
	f := newAPIFixture(t, "")
	ctx := context.Background()
	_, err := f.store.UpdateJob(ctx, f.job.ID, core.Fields{
		core.FieldLocked:   true,
		core.FieldLockedAt: time.Now().UTC(),
		core.FieldLockedBy: "elsewhere",
	})
	require.NoError(t, err)

	rec := f.do(t, http.MethodPost, "/v1/jobs/"+f.job.ID+"/run?force=true", "")
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "locked", decode[resultResponse](t, rec).Reason)

	rec = f.do(t, http.MethodPost, "/v1/jobs/"+f.job.ID+"/unlock", "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	job, err := f.store.GetJob(ctx, f.job.ID)
	require.NoError(t, err)
	assert.False(t, job.Locked)

	rec = f.do(t, http.MethodPost, "/v1/jobs/missing/unlock", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateJob(t *testing.T) {
	f := newAPIFixture(t, "")
	path := "/v1/jobs/" + f.job.ID

	rec := f.do(t, http.MethodPatch, path, `{"active":false,"interval_minutes":15}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decode[jobResponse](t, rec)
	assert.False(t, updated.Active)
	assert.Equal(t, 15, updated.IntervalMinutes)
	assert.Equal(t, 30, updated.StaleLockTimeoutMinutes)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPatch, path, `{"interval_minutes":-1}`).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPatch, path, `{"stale_lock_timeout_minutes":-1}`).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPatch, path, `{}`).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPatch, path, `not json`).Code)

	// Inactive jobs only run when forced.
	rec = f.do(t, http.MethodPost, path+"/run", "")
	assert.Equal(t, "inactive", decode[resultResponse](t, rec).Reason)
}

func TestPreview(t *testing.T) {
	f := newAPIFixture(t, "")

	rec := f.do(t, http.MethodGet, "/v1/jobs/"+f.job.ID+"/preview?count=3", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[struct {
		NextTimes []string `json:"next_times"`
	}](t, rec)
	require.Len(t, body.NextTimes, 3)

	first, err := time.Parse(time.RFC3339, body.NextTimes[0])
	require.NoError(t, err)
	second, err := time.Parse(time.RFC3339, body.NextTimes[1])
	require.NoError(t, err)
	assert.Equal(t, time.Hour, second.Sub(first).Round(time.Second))
}

func TestRunLog(t *testing.T) {
	f := newAPIFixture(t, "")
	path := "/v1/jobs/" + f.job.ID + "/log"

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, path, "").Code)

	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/v1/jobs/"+f.job.ID+"/run", "").Code)

	rec := f.do(t, http.MethodGet, path, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `Cronjob "report" started.`)
	assert.Contains(t, rec.Body.String(), "generated report")

	rec = f.do(t, http.MethodGet, path+"?tail=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, strings.Count(rec.Body.String(), "\n"))
	assert.Contains(t, rec.Body.String(), "completed")
}
