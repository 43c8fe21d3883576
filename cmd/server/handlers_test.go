package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"gridpush.dev/internal/sim/tuning"
	"gridpush.dev/internal/sim/world"
)

func findRepoRootForServerTests(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatalf("could not locate go.mod from %s", dir)
		}
		dir = parent
	}
}

func newTestApp(t *testing.T) *app {
	t.Helper()
	lt := tuning.Defaults().Level
	w := world.New(world.WorldConfig{ID: "w_test", TickRateHz: 10})
	if err := rebuildFromLayout(w, generatedLayout(lt, lt.Seed)); err != nil {
		t.Fatalf("build: %v", err)
	}
	w.StepOnce(time.Unix(0, 0), nil, nil, nil)
	return &app{
		worldID:   "w_test",
		w:         w,
		log:       zap.NewNop(),
		configDir: filepath.Join(findRepoRootForServerTests(t), "configs"),
		level:     lt,
	}
}

func do(t *testing.T, h http.Handler, method, target, remote string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	req.RemoteAddr = remote
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

const local = "127.0.0.1:40000"

func TestMetricsExposition(t *testing.T) {
	a := newTestApp(t)
	rr := do(t, a.routes(true, false), http.MethodGet, "/metrics", "192.0.2.1:1234")
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	body := rr.Body.String()
	for _, want := range []string{
		`gridpush_world_tick{world="w_test"} 1`,
		`gridpush_world_entities{world="w_test"} ` + itoa(a.w.Metrics().Entities),
		`gridpush_intents_rejected_total{world="w_test",reason="blocked"} 0`,
		`gridpush_world_queue_depth{world="w_test",queue="inbox"} 0`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics missing %q:\n%s", want, body)
		}
	}
	if strings.Contains(body, "gridpush_index_") {
		t.Fatalf("index metrics without an index")
	}
}

func TestRegenerateIsLoopbackOnlyAndRebuilds(t *testing.T) {
	a := newTestApp(t)
	mux := a.routes(true, false)
	before := a.w.Digest()

	if rr := do(t, mux, http.MethodPost, "/admin/v1/regenerate?seed=99", "192.0.2.1:1234"); rr.Code != http.StatusForbidden {
		t.Fatalf("remote regenerate status=%d", rr.Code)
	}
	if rr := do(t, mux, http.MethodGet, "/admin/v1/regenerate", local); rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET regenerate status=%d", rr.Code)
	}
	if rr := do(t, mux, http.MethodPost, "/admin/v1/regenerate?seed=x", local); rr.Code != http.StatusBadRequest {
		t.Fatalf("bad seed status=%d", rr.Code)
	}

	rr := do(t, mux, http.MethodPost, "/admin/v1/regenerate?seed=99", local)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	var resp struct {
		OK     bool   `json:"ok"`
		Level  string `json:"level"`
		Digest string `json:"digest"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.OK || resp.Level != "generated-99" || resp.Digest != a.w.Digest() {
		t.Fatalf("resp=%+v digest=%s", resp, a.w.Digest())
	}
	if resp.Digest == before {
		t.Fatalf("board unchanged after regenerate")
	}
	if err := a.w.CheckInvariants(); err != nil {
		t.Fatalf("invariants: %v", err)
	}
}

func TestRegenerateFromLevelFile(t *testing.T) {
	a := newTestApp(t)
	mux := a.routes(true, false)

	rr := do(t, mux, http.MethodPost, "/admin/v1/regenerate?level=demo", local)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), `"level":"demo"`) {
		t.Fatalf("body=%s", rr.Body.String())
	}
	if rr := do(t, mux, http.MethodPost, "/admin/v1/regenerate?level=nope", local); rr.Code != http.StatusNotFound {
		t.Fatalf("missing level status=%d", rr.Code)
	}
}

func TestAdminDisabledAndMovesWithoutIndex(t *testing.T) {
	a := newTestApp(t)
	if rr := do(t, a.routes(false, false), http.MethodGet, "/admin/v1/state", local); rr.Code != http.StatusNotFound {
		t.Fatalf("disabled admin status=%d", rr.Code)
	}
	mux := a.routes(true, false)
	if rr := do(t, mux, http.MethodGet, "/admin/v1/moves?entity=1", local); rr.Code != http.StatusNotFound {
		t.Fatalf("moves without index status=%d", rr.Code)
	}
	rr := do(t, mux, http.MethodGet, "/admin/v1/state", local)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), a.w.Digest()) {
		t.Fatalf("state status=%d body=%s", rr.Code, rr.Body.String())
	}
}

func TestIsLoopbackRemote(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1:8080": true,
		"[::1]:9000":     true,
		"::1":            true,
		"10.0.0.2:80":    false,
		"not-an-ip":      false,
	}
	for in, want := range cases {
		if got := isLoopbackRemote(in); got != want {
			t.Fatalf("isLoopbackRemote(%q)=%v want %v", in, got, want)
		}
	}
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("GRIDPUSH_TEST_BOOL", "true")
	t.Setenv("GRIDPUSH_TEST_INT", "-3")
	if !envBool("GRIDPUSH_TEST_BOOL", false) || envBool("GRIDPUSH_TEST_MISSING", false) {
		t.Fatalf("envBool")
	}
	if envInt("GRIDPUSH_TEST_INT", 7) != 7 {
		t.Fatalf("envInt must reject non-positive values")
	}
}

func itoa(n int) string {
	b, _ := json.Marshal(n)
	return string(b)
}
