package daemon

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"voicelog/internal/config"
	"voicelog/internal/ingest"
	"voicelog/internal/ledger"
	"voicelog/internal/pipeline"
	"voicelog/internal/stage"
	"voicelog/internal/testsupport"
	"voicelog/internal/transcribe"
	"voicelog/internal/volume"
	"voicelog/internal/workflow"
)

func newTestAPI(t *testing.T, token string) (http.Handler, *Daemon, *ledger.Store) {
	t.Helper()
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedWhisper(""))
	cfg.App.APIToken = token
	store := testsupport.MustOpenLedger(t, cfg)
	mgr := workflow.NewManager(cfg, workflow.Deps{
		Store:    store,
		Watcher:  volume.NewWatcher(volume.NewMountSource(cfg, nil), volume.WithSettle(0)),
		Migrator: ingest.NewMigrator(cfg, store, nil),
		Runner:   pipeline.NewRunner(store, []stage.Handler{transcribe.New(cfg, nil)}, nil),
	}, nil)
	d, err := New(cfg, store, mgr, nil, nil, "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	srv, err := newAPIServer(cfg, d, nil)
	if err != nil || srv == nil {
		t.Fatalf("newAPIServer: %v", err)
	}
	return srv.server.Handler, d, store
}

func serve(h http.Handler, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestAPIRequiresBearerToken(t *testing.T) {
	h, _, _ := newTestAPI(t, "secret")

	if w := serve(h, http.MethodGet, "/api/status", ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}
	if w := serve(h, http.MethodGet, "/api/status", "wrong"); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong token, got %d", w.Code)
	}
	if w := serve(h, http.MethodGet, "/api/status", "secret"); w.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", w.Code)
	}
	if w := serve(h, http.MethodGet, "/health", ""); w.Code != http.StatusOK {
		t.Fatalf("expected health without token, got %d: %s", w.Code, w.Body.String())
	}
}

func TestAPIPauseResumeAndStatus(t *testing.T) {
	h, d, _ := newTestAPI(t, "")

	if w := serve(h, http.MethodPost, "/api/pause", ""); w.Code != http.StatusOK {
		t.Fatalf("pause: %d", w.Code)
	}
	w := serve(h, http.MethodGet, "/api/status", "")
	var status Status
	if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if !status.Paused || !status.Cycle.Paused {
		t.Fatalf("expected paused status, got %+v", status)
	}
	if len(status.Stages) != 1 || status.Stages[0].Name != config.StageTranscribe {
		t.Fatalf("unexpected stages: %+v", status.Stages)
	}

	if w := serve(h, http.MethodPost, "/api/resume", ""); w.Code != http.StatusOK {
		t.Fatalf("resume: %d", w.Code)
	}
	if d.workflow.Paused() {
		t.Fatal("expected resumed")
	}
	if w := serve(h, http.MethodGet, "/api/pause", ""); w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 for GET /api/pause, got %d", w.Code)
	}
}

func TestAPIStopRequestsShutdown(t *testing.T) {
	h, d, _ := newTestAPI(t, "secret")

	if w := serve(h, http.MethodPost, "/api/stop", ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}
	select {
	case <-d.shutdown:
		t.Fatal("unauthorized stop must not shut down")
	default:
	}

	w := serve(h, http.MethodPost, "/api/stop", "secret")
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", w.Code)
	}
	select {
	case <-d.shutdown:
	case <-time.After(time.Second):
		t.Fatal("expected shutdown requested")
	}
	// A repeated stop is harmless.
	if w := serve(h, http.MethodPost, "/api/stop", "secret"); w.Code != http.StatusAccepted {
		t.Fatalf("expected repeated stop accepted, got %d", w.Code)
	}
}

func TestAPIRunDroppedWhenNotRunning(t *testing.T) {
	h, _, _ := newTestAPI(t, "")
	w := serve(h, http.MethodPost, "/api/run", "")
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 when the manager is not running, got %d", w.Code)
	}
	var resp ActionResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.OK || !strings.Contains(resp.Message, "dropped") {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestAPILedgerList(t *testing.T) {
	h, _, store := newTestAPI(t, "")
	ctx := context.Background()
	at := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	for _, id := range []string{"A.wav|1|1", "B.wav|1|2"} {
		entry := ledger.Entry{
			SourceIdentity: id,
			SourceRelPath:  strings.Split(id, "|")[0],
			SourceSize:     1,
			SourceModTime:  at,
			LocalPath:      "/library/raw/" + strings.Split(id, "|")[0],
		}
		if id == "B.wav|1|2" {
			entry.Stages = map[string]ledger.StageResult{
				config.StageTranscribe: ledger.Failed("transcribe", "boom", "", at),
			}
		}
		if err := store.Record(ctx, entry); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	w := serve(h, http.MethodGet, "/api/ledger", "")
	var resp LedgerListResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(resp.Entries))
	}

	w = serve(h, http.MethodGet, "/api/ledger?failed=1", "")
	resp = LedgerListResponse{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Entries) != 1 || resp.Entries[0].SourceIdentity != "B.wav|1|2" {
		t.Fatalf("unexpected failed entries: %+v", resp.Entries)
	}

	if w := serve(h, http.MethodGet, "/api/ledger?limit=x", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", w.Code)
	}
}
