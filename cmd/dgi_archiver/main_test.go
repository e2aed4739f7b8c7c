package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/italolelis/dgi_archiver/internal/telemetry"
)

func TestReferenceTime(t *testing.T) {
	loc, err := time.LoadLocation("Africa/Douala")
	require.NoError(t, err)

	fixed := time.Date(2026, time.March, 14, 23, 30, 0, 0, time.UTC)

	got, err := referenceTime("", loc, func() time.Time { return fixed })
	require.NoError(t, err)
	assert.Equal(t, 15, got.Day(), "23:30 UTC is already the next day in Douala")

	got, err = referenceTime("2026-03-15", loc, time.Now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, time.March, 15, 0, 0, 0, 0, loc), got)

	_, err = referenceTime("15/03/2026", loc, time.Now)
	assert.Error(t, err)
}

func TestWindowCommand(t *testing.T) {
	t.Setenv("RETENTION_YEARS", "5")

	var out bytes.Buffer

	app := newApp()
	app.Writer = &out

	require.NoError(t, app.Run([]string{"dgi_archiver", "window", "--date", "2026-03-15", "--years", "1"}))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 14)

	assert.Equal(t, "retention: 1 years, cutoff 2025-03-15", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "2025-03\tFICHIER_MARS_2025.xlsx\thttps://teledeclaration-dgi.cm/"), lines[1])
	assert.True(t, strings.HasSuffix(lines[13], "FICHIER%20MARS%202026.xlsx"), lines[13])
}

func TestWindowCommand_RejectsShortWindow(t *testing.T) {
	var out bytes.Buffer

	app := newApp()
	app.Writer = &out

	err := app.Run([]string{"dgi_archiver", "window", "--date", "2026-03-15", "--years=-2"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RETENTION_YEARS must be at least 1")
	assert.Empty(t, out.String())
}

func TestRunCommand_InvalidConfig(t *testing.T) {
	t.Setenv("DESTINATION", "ftp")

	err := newApp().Run([]string{"dgi_archiver", "run"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestNewScheduler(t *testing.T) {
	loc, err := time.LoadLocation("Africa/Douala")
	require.NoError(t, err)

	s, err := newScheduler("0 6 2 * *", loc, func() {})
	require.NoError(t, err)

	from := time.Date(2026, time.March, 15, 0, 0, 0, 0, loc)
	assert.Equal(t, time.Date(2026, time.April, 2, 6, 0, 0, 0, loc), s.next(from))

	_, err = newScheduler("every month", loc, func() {})
	assert.Error(t, err)
}

func TestScheduler_StopWaitsForRunningJob(t *testing.T) {
	var (
		finished atomic.Bool
		once     sync.Once
	)

	started := make(chan struct{})

	s, err := newScheduler("@every 1s", time.UTC, func() {
		once.Do(func() { close(started) })
		time.Sleep(100 * time.Millisecond)
		finished.Store(true)
	})
	require.NoError(t, err)

	s.start()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("job did not start")
	}

	done := make(chan struct{})
	go func() {
		s.stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}

	assert.True(t, finished.Load())
}

func TestRouter_Healthz(t *testing.T) {
	s, err := newScheduler("0 6 2 * *", time.UTC, func() {})
	require.NoError(t, err)

	a := &archiver{loc: time.UTC}
	a.last.Store(&runStatus{RunID: "run-1", FinishedAt: time.Date(2026, time.March, 2, 6, 5, 0, 0, time.UTC), Error: "1 upload(s) failed"})

	server := httptest.NewServer(newRouter(a, s))
	t.Cleanup(server.Close)

	resp, err := http.Get(server.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body healthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))

	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, "0 6 2 * *", body.Schedule)
	assert.Equal(t, 2, body.NextRun.Day())
	require.NotNil(t, body.LastRun)
	assert.Equal(t, "run-1", body.LastRun.RunID)
	assert.Equal(t, "1 upload(s) failed", body.LastRun.Error)
}

func TestRouter_Metrics(t *testing.T) {
	s, err := newScheduler("0 6 2 * *", time.UTC, func() {})
	require.NoError(t, err)

	tel, err := telemetry.New(context.Background(), telemetry.Config{Enabled: true, ServiceName: "test"})
	require.NoError(t, err)

	t.Cleanup(func() { _ = tel.Shutdown(context.Background()) })

	tel.RecordUpload("uploaded")

	server := httptest.NewServer(newRouter(&archiver{loc: time.UTC, telemetry: tel}, s))
	t.Cleanup(server.Close)

	resp, err := http.Get(server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `status="uploaded"`)

	disabled := httptest.NewServer(newRouter(&archiver{loc: time.UTC}, s))
	t.Cleanup(disabled.Close)

	resp, err = http.Get(disabled.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
