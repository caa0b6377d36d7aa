package notify

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cronguard/internal/core"
)

func TestBarkNotifierSend(t *testing.T) {
	var (
		mu  sync.Mutex
		got *http.Request
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		got = r.Clone(context.Background())
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	bark, err := NewBarkNotifier(srv.URL + "/device-key/")
	require.NoError(t, err)
	require.NoError(t, bark.Send(context.Background(), "title", "body text"))

	mu.Lock()
	defer mu.Unlock()
	require.NotNil(t, got)
	assert.Equal(t, http.MethodPost, got.Method)
	assert.Equal(t, "/device-key", got.URL.Path)
	assert.Equal(t, "title", got.URL.Query().Get("title"))
	assert.Equal(t, "body text", got.URL.Query().Get("body"))
	assert.Equal(t, "cronguard", got.URL.Query().Get("group"))
}

func TestBarkNotifierErrors(t *testing.T) {
	_, err := NewBarkNotifier("  ")
	require.Error(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	bark, err := NewBarkNotifier(srv.URL)
	require.NoError(t, err)
	err = bark.Send(context.Background(), "t", "b")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}

type recordingNotifier struct {
	titles []string
	bodies []string
	err    error
}

func (r *recordingNotifier) Send(_ context.Context, title, body string) error {
	r.titles = append(r.titles, title)
	r.bodies = append(r.bodies, body)
	return r.err
}

func TestMultiNotifierCombinesErrors(t *testing.T) {
	ok := &recordingNotifier{}
	bad := &recordingNotifier{err: errors.New("offline")}
	multi := NewMultiNotifier(bad, ok, &NoOpNotifier{})

	err := multi.Send(context.Background(), "t", "b")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "offline")
	assert.Len(t, ok.titles, 1, "later notifiers still receive the message")
}

func TestFailureHook(t *testing.T) {
	rec := &recordingNotifier{}
	hook := FailureHook(rec, nil)

	hook(context.Background(), &core.Result{JobID: "job-1", JobName: "backup", Outcome: core.OutcomeSucceeded})
	assert.Empty(t, rec.titles)

	hook(context.Background(), &core.Result{JobID: "job-1", JobName: "backup", Outcome: core.OutcomeFailed, Detail: "exit 1", Forced: true})
	require.Len(t, rec.titles, 1)
	assert.Equal(t, "Cronjob backup failed", rec.titles[0])
	assert.Equal(t, "[forced] exit 1", rec.bodies[0])
}
