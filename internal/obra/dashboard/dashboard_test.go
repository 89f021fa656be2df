package dashboard

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log"
	"maps"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/mschirtzinger/obracontrol/internal/metrics"
	"github.com/mschirtzinger/obracontrol/internal/obra/assist"
	"github.com/mschirtzinger/obracontrol/internal/obra/gateway"
	"github.com/mschirtzinger/obracontrol/internal/obra/local"
	"github.com/mschirtzinger/obracontrol/internal/obra/report"
	"github.com/mschirtzinger/obracontrol/internal/obra/schema"
	obrasync "github.com/mschirtzinger/obracontrol/internal/obra/sync"
)

var quiet = log.New(io.Discard, "", 0)

type fakeGenerator struct {
	answer string
}

func (g fakeGenerator) Generate(context.Context, string) (string, error) {
	return g.answer, nil
}

type fixture struct {
	server    *Server
	handler   *Handler
	workspace *obrasync.Workspace
	base      string
}

// setupDashboard starts a server on a random port backed by a local-only
// workspace opened on key.
func setupDashboard(t *testing.T, gen assist.Generator) *fixture {
	t.Helper()

	gwConfig := gateway.DefaultConfig()
	gwConfig.Logger = quiet
	store := local.NewMemory()
	gw, err := gateway.NewWithConfig(store, nil, nil, gwConfig)
	if err != nil {
		t.Fatalf("gateway.NewWithConfig() error = %v", err)
	}
	ws, err := obrasync.Open(context.Background(), gw, store, &obrasync.Config{Key: "OBRA-1234", Logger: quiet})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	var assistant *assist.Assistant
	if gen != nil {
		assistant = assist.New(&assist.Config{Generator: gen, Logger: quiet})
	}

	server := NewServer(&Config{Port: 0, Host: "127.0.0.1", Metrics: metrics.New(), Logger: quiet})
	handler := NewHandler(server, ws, assistant, quiet)
	handler.Attach()

	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	t.Cleanup(func() {
		handler.Detach()
		server.Stop()
		ws.Close(context.Background())
	})

	return &fixture{
		server:    server,
		handler:   handler,
		workspace: ws,
		base:      "http://" + server.Addr(),
	}
}

func (f *fixture) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	header := http.Header{}
	if body != "" {
		header.Set("Content-Type", "application/json")
	}
	return f.doWith(t, method, path, body, header)
}

func (f *fixture) doWith(t *testing.T, method, path, body string, header http.Header) *http.Response {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, f.base+path, r)
	if err != nil {
		t.Fatal(err)
	}
	maps.Copy(req.Header, header)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (f *fixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws://"+f.server.Addr()+"/ws", nil)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

// waitClients waits until the server has registered n clients. The welcome
// snapshot is queued before registration.
func (f *fixture) waitClients(t *testing.T, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for f.server.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("Expected %d clients, got %d", n, f.server.ClientCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// readUntil reads messages until one of type typ arrives.
func readUntil(t *testing.T, conn *websocket.Conn, typ MessageType) Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("Failed to read %s message: %v", typ, err)
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("Failed to unmarshal message: %v", err)
		}
		if msg.Type == typ {
			return msg
		}
	}
}

func TestServerStartStop(t *testing.T) {
	server := NewServer(&Config{Port: 0, Host: "127.0.0.1", Logger: quiet})

	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	if addr := server.Addr(); strings.HasSuffix(addr, ":0") {
		t.Fatalf("Addr() = %s, want a bound port", addr)
	}
	if err := server.Stop(); err != nil {
		t.Fatalf("Failed to stop server: %v", err)
	}
}

func TestWebSocketWelcomeSnapshot(t *testing.T) {
	f := setupDashboard(t, nil)
	conn := f.dial(t)

	msg := readUntil(t, conn, MessageTypeSnapshot)
	var data SnapshotData
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		t.Fatalf("Failed to unmarshal snapshot: %v", err)
	}
	if data.Key != "OBRA-1234" {
		t.Errorf("Key = %s, want OBRA-1234", data.Key)
	}
	if data.Status != gateway.StatusOffline {
		t.Errorf("Status = %s, want offline", data.Status)
	}
	if len(data.Projects) == 0 {
		t.Error("welcome snapshot has no projects")
	}
	if _, ok := data.Projects[data.ActiveProject]; !ok {
		t.Errorf("active project %d not in snapshot", data.ActiveProject)
	}

	f.waitClients(t, 1)
}

func TestMultipleClients(t *testing.T) {
	f := setupDashboard(t, nil)

	numClients := 3
	for i := 0; i < numClients; i++ {
		conn := f.dial(t)
		readUntil(t, conn, MessageTypeSnapshot)
	}

	f.waitClients(t, numClients)
}

func TestBroadcastOnChange(t *testing.T) {
	f := setupDashboard(t, nil)
	conn := f.dial(t)
	readUntil(t, conn, MessageTypeSnapshot)
	f.waitClients(t, 1)

	resp := f.do(t, http.MethodPost, "/api/projects", `{"name":"Casa Norte","budget":5000}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("POST /api/projects = %d", resp.StatusCode)
	}
	var created map[string]schema.ID
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		msg := readUntil(t, conn, MessageTypeSnapshot)
		var data SnapshotData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			t.Fatal(err)
		}
		if p, ok := data.Projects[created["id"]]; ok {
			if p.Name != "Casa Norte" {
				t.Errorf("broadcast name = %s", p.Name)
			}
			return
		}
		if ctx.Err() != nil {
			t.Fatal("no snapshot with the new project")
		}
	}
}

func TestKeyChangedMessage(t *testing.T) {
	f := setupDashboard(t, nil)
	conn := f.dial(t)
	readUntil(t, conn, MessageTypeSnapshot)
	f.waitClients(t, 1)

	resp := f.do(t, http.MethodPut, "/api/key", `{"key":" obra-5678 "}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("PUT /api/key = %d", resp.StatusCode)
	}

	msg := readUntil(t, conn, MessageTypeKeyChanged)
	var data KeyChangedData
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		t.Fatal(err)
	}
	if data.Key != "OBRA-5678" {
		t.Errorf("key_changed key = %s, want OBRA-5678", data.Key)
	}

	if resp := f.do(t, http.MethodPut, "/api/key", `{"key":"ab"}`); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("short key = %d, want 400", resp.StatusCode)
	}
}

func TestProjectRoutes(t *testing.T) {
	f := setupDashboard(t, nil)
	id := f.workspace.ActiveProject().String()

	matID, err := f.workspace.AddMaterial(context.Background(), f.workspace.ActiveProject(), schema.MaterialItem{
		Name: "Cemento", Quantity: "10 bolsas", Status: schema.MaterialPending,
	})
	if err != nil {
		t.Fatalf("AddMaterial() error = %v", err)
	}

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"list", http.MethodGet, "/api/projects", "", http.StatusOK},
		{"get", http.MethodGet, "/api/projects/" + id, "", http.StatusOK},
		{"get missing", http.MethodGet, "/api/projects/42", "", http.StatusNotFound},
		{"get bad id", http.MethodGet, "/api/projects/abc", "", http.StatusBadRequest},
		{"patch", http.MethodPatch, "/api/projects/" + id, `{"name":"Renombrada","status":"paused"}`, http.StatusOK},
		{"patch bad status", http.MethodPatch, "/api/projects/" + id, `{"status":"done"}`, http.StatusBadRequest},
		{"create without name", http.MethodPost, "/api/projects", `{"budget":1}`, http.StatusBadRequest},
		{"replace logs", http.MethodPut, "/api/projects/" + id + "/logs", `[]`, http.StatusNoContent},
		{"replace unknown", http.MethodPut, "/api/projects/" + id + "/photos", `[]`, http.StatusBadRequest},
		{"advance", http.MethodPost, "/api/projects/" + id + "/materials/" + matID.String() + "/advance", "", http.StatusNoContent},
		{"advance missing", http.MethodPost, "/api/projects/" + id + "/materials/7/advance", "", http.StatusNotFound},
		{"approve missing", http.MethodPost, "/api/projects/" + id + "/labor/7/approve", "", http.StatusNotFound},
		{"analysis disabled", http.MethodPost, "/api/projects/" + id + "/analysis", "", http.StatusServiceUnavailable},
		{"status", http.MethodGet, "/api/status", "", http.StatusOK},
		{"health", http.MethodGet, "/health", "", http.StatusOK},
		{"metrics", http.MethodGet, "/metrics", "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := f.do(t, tt.method, tt.path, tt.body)
			if resp.StatusCode != tt.want {
				body, _ := io.ReadAll(resp.Body)
				t.Errorf("%s %s = %d, want %d: %s", tt.method, tt.path, resp.StatusCode, tt.want, body)
			}
		})
	}

	p, err := f.workspace.Project(f.workspace.ActiveProject())
	if err != nil {
		t.Fatal(err)
	}
	if p.Name != "Renombrada" || p.Status != schema.StatusPaused {
		t.Errorf("after patch: name=%s status=%s", p.Name, p.Status)
	}
	if len(p.Logs) != 0 {
		t.Errorf("logs not replaced: %d", len(p.Logs))
	}
	for _, m := range p.Materials {
		if m.ID == matID && m.Status != schema.MaterialOrdered {
			t.Errorf("material status = %s, want %s", m.Status, schema.MaterialOrdered)
		}
	}
}

func TestDeleteLastProject(t *testing.T) {
	f := setupDashboard(t, nil)

	for _, sum := range f.workspace.Projects() {
		resp := f.do(t, http.MethodDelete, "/api/projects/"+sum.ID.String(), "")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("DELETE = %d", resp.StatusCode)
		}
	}
	if n := len(f.workspace.Projects()); n != 1 {
		t.Errorf("projects after deleting all = %d, want 1", n)
	}
}

func TestExportImportRoutes(t *testing.T) {
	f := setupDashboard(t, nil)

	resp := f.do(t, http.MethodGet, "/api/export", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /api/export = %d", resp.StatusCode)
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, "obracontrol-OBRA-1234-") {
		t.Errorf("Content-Disposition = %q", cd)
	}
	exported, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}

	before := f.workspace.Snapshot()
	if resp := f.do(t, http.MethodPost, "/api/import", "not json"); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("garbage import = %d, want 400", resp.StatusCode)
	}
	if len(f.workspace.Snapshot()) != len(before) {
		t.Error("garbage import changed the store")
	}

	if _, err := f.workspace.CreateProject(context.Background(), "Temporal", 0); err != nil {
		t.Fatal(err)
	}
	resp = f.do(t, http.MethodPost, "/api/import", string(exported))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("import = %d", resp.StatusCode)
	}
	if got := len(f.workspace.Snapshot()); got != len(before) {
		t.Errorf("projects after import = %d, want %d", got, len(before))
	}
}

func TestReportRoute(t *testing.T) {
	f := setupDashboard(t, nil)
	id := f.workspace.ActiveProject()
	p, _ := f.workspace.Project(id)

	resp := f.do(t, http.MethodGet, "/api/projects/"+id.String()+"/report", "")
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("text report = %d", resp.StatusCode)
	}
	if !bytes.Contains(body, []byte(p.Name)) {
		t.Errorf("text report missing project name:\n%s", body)
	}

	resp = f.do(t, http.MethodGet, "/api/projects/"+id.String()+"/report?format=xlsx", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("xlsx report = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != report.XLSXContentType {
		t.Errorf("Content-Type = %s", ct)
	}

	resp = f.do(t, http.MethodGet, "/api/projects/"+id.String()+"/report?format=pdf", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("pdf report = %d, want 400", resp.StatusCode)
	}
}

func TestAssistRoutes(t *testing.T) {
	f := setupDashboard(t, fakeGenerator{answer: "```json\n[\"Excavar\", \"Armar encofrado\", \"Hormigonar\"]\n```"})
	id := f.workspace.ActiveProject()
	before, _ := f.workspace.Project(id)

	resp := f.do(t, http.MethodPost, "/api/projects/"+id.String()+"/plan", `{"goal":"Fundaciones"}`)
	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("plan = %d: %s", resp.StatusCode, body)
	}
	var tasks []schema.Task
	if err := json.NewDecoder(resp.Body).Decode(&tasks); err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 3 || tasks[0].Deadline != schema.SuggestedDeadline {
		t.Errorf("tasks = %+v", tasks)
	}

	after, _ := f.workspace.Project(id)
	if len(after.Tasks) != len(before.Tasks)+3 {
		t.Errorf("tasks stored = %d, want %d", len(after.Tasks), len(before.Tasks)+3)
	}

	resp = f.do(t, http.MethodPost, "/api/projects/"+id.String()+"/analysis", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("analysis = %d", resp.StatusCode)
	}
	var analysis map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&analysis); err != nil {
		t.Fatal(err)
	}
	if analysis["analysis"] == "" {
		t.Error("empty analysis")
	}
}

// A page on another site must not be able to post into the dashboard.
func TestMutatingRoutesRejectCrossSite(t *testing.T) {
	f := setupDashboard(t, nil)

	resp := f.do(t, http.MethodGet, "/api/export", "")
	exported, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.workspace.CreateProject(context.Background(), "Temporal", 0); err != nil {
		t.Fatal(err)
	}
	before := len(f.workspace.Snapshot())

	tests := []struct {
		name   string
		header http.Header
		want   int
	}{
		{"text/plain from another origin", http.Header{
			"Content-Type": {"text/plain"},
			"Origin":       {"http://evil.example"},
		}, http.StatusForbidden},
		{"json from another origin", http.Header{
			"Content-Type": {"application/json"},
			"Origin":       {"http://evil.example"},
		}, http.StatusForbidden},
		{"cross-site fetch metadata", http.Header{
			"Content-Type":   {"application/json"},
			"Sec-Fetch-Site": {"cross-site"},
		}, http.StatusForbidden},
		{"form encoded", http.Header{
			"Content-Type": {"application/x-www-form-urlencoded"},
		}, http.StatusUnsupportedMediaType},
		{"text/plain without origin", http.Header{
			"Content-Type": {"text/plain"},
		}, http.StatusUnsupportedMediaType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := f.doWith(t, http.MethodPost, "/api/import", string(exported), tt.header)
			if resp.StatusCode != tt.want {
				t.Errorf("POST /api/import = %d, want %d", resp.StatusCode, tt.want)
			}
			if got := len(f.workspace.Snapshot()); got != before {
				t.Errorf("projects = %d after rejected import, want %d", got, before)
			}
		})
	}

	// The dashboard's own page is accepted.
	same := http.Header{
		"Content-Type":   {"application/json; charset=utf-8"},
		"Origin":         {f.base},
		"Sec-Fetch-Site": {"same-origin"},
	}
	if resp := f.doWith(t, http.MethodPost, "/api/import", string(exported), same); resp.StatusCode != http.StatusOK {
		t.Errorf("same-origin import = %d, want 200", resp.StatusCode)
	}
}

func TestWebSocketRejectsForeignOrigin(t *testing.T) {
	f := setupDashboard(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, resp, err := websocket.Dial(ctx, "ws://"+f.server.Addr()+"/ws", &websocket.DialOptions{
		HTTPHeader: http.Header{"Origin": {"http://evil.example"}},
	})
	if err == nil {
		t.Fatal("Dial() from a foreign origin should fail")
	}
	if resp != nil && resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want 403", resp.StatusCode)
	}
	if n := f.server.ClientCount(); n != 0 {
		t.Errorf("ClientCount() = %d, want 0", n)
	}
}

// The section route takes the same attachment checks as the gantt command.
func TestReplaceGanttSectionValidates(t *testing.T) {
	f := setupDashboard(t, nil)
	pid := f.workspace.ActiveProject()
	path := "/api/projects/" + pid.String() + "/ganttFile"

	encode := func(data []byte) string {
		raw, _ := json.Marshal("data:application/pdf;base64," + base64.StdEncoding.EncodeToString(data))
		return string(raw)
	}
	tests := []struct {
		name string
		body string
		want int
	}{
		{"not a pdf", encode([]byte("hola")), http.StatusBadRequest},
		{"image data URL", `"data:image/png;base64,iVBORw0KGgo="`, http.StatusBadRequest},
		{"over 1MB", encode(append([]byte("%PDF-1.4\n"), bytes.Repeat([]byte("x"), 1<<20)...)), http.StatusRequestEntityTooLarge},
		{"clear", `""`, http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if resp := f.do(t, http.MethodPut, path, tt.body); resp.StatusCode != tt.want {
				t.Errorf("PUT %s = %d, want %d", path, resp.StatusCode, tt.want)
			}
			p, err := f.workspace.Project(pid)
			if err != nil {
				t.Fatal(err)
			}
			if p.GanttFile != "" {
				t.Errorf("GanttFile = %.40q, want empty", p.GanttFile)
			}
		})
	}
}
