package e2e

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"chatd/internal/engine"
	"chatd/internal/httpapi"
	"chatd/internal/registry"
	"chatd/internal/session"
	"chatd/pkg/types"
)

// service exposes a session and a registry through httpapi.Service.
type service struct {
	*session.Session
	reg *registry.Registry
}

func (s service) ListModels() []types.Model { return s.reg.Models() }

// createTempModelsDir creates a temporary directory populated with empty .gguf files
// and returns the directory path and the list of model IDs (filenames).
func createTempModelsDir(t *testing.T, names ...string) (string, []string) {
	t.Helper()
	dir := t.TempDir()
	for _, n := range names {
		p := filepath.Join(dir, n)
		if err := os.WriteFile(p, []byte(""), 0o644); err != nil {
			t.Fatalf("write temp model %s: %v", p, err)
		}
	}
	return dir, names
}

// newServer wires registry, factory, session and HTTP mux the way chatd
// serve does and returns the test server.
func newServer(t *testing.T, modelsDir string, factory engine.Factory, defaultModel string) (*httptest.Server, *session.Session) {
	t.Helper()
	models, err := registry.LoadDir(modelsDir)
	if err != nil {
		t.Fatalf("scan models: %v", err)
	}
	sess := session.New(session.Config{Factory: factory, DefaultModel: defaultModel})
	t.Cleanup(func() { sess.Close(context.Background()) })
	srv := httptest.NewServer(httpapi.NewMux(service{Session: sess, reg: registry.New(models)}))
	t.Cleanup(srv.Close)
	return srv, sess
}

func httpGet(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do req: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, body
}

func httpPostJSON(t *testing.T, url string, payload []byte) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do req: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, body
}

func getStatus(t *testing.T, base string) types.StatusResponse {
	t.Helper()
	resp, body := httpGet(t, base+"/status")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/status %d %s", resp.StatusCode, body)
	}
	var st types.StatusResponse
	if err := json.Unmarshal(body, &st); err != nil {
		t.Fatalf("/status json: %v body=%s", err, body)
	}
	return st
}

// waitStatus polls /status until cond holds.
func waitStatus(t *testing.T, base string, cond func(types.StatusResponse) bool) types.StatusResponse {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		st := getStatus(t, base)
		if cond(st) {
			return st
		}
		if time.Now().After(deadline) {
			t.Fatalf("status condition not met in time; last=%+v", st)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

// parseChat splits an NDJSON chat body into its deltas and final line.
func parseChat(t *testing.T, body []byte) ([]string, types.ChatLine) {
	t.Helper()
	var deltas []string
	var final types.ChatLine
	sc := bufio.NewScanner(bytes.NewReader(body))
	for sc.Scan() {
		ln := strings.TrimSpace(sc.Text())
		if ln == "" {
			continue
		}
		var l types.ChatLine
		if err := json.Unmarshal([]byte(ln), &l); err != nil {
			t.Fatalf("bad ndjson line %q: %v", ln, err)
		}
		if l.Done {
			final = l
			continue
		}
		deltas = append(deltas, l.Delta)
	}
	return deltas, final
}

// jsonString escapes a string for embedding inside a JSON literal we build manually.
func jsonString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
