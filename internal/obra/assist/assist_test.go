package assist

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/mschirtzinger/obracontrol/internal/obra/schema"
)

type fakeGenerator struct {
	mu      sync.Mutex
	answer  string
	err     error
	prompts []string
}

func (f *fakeGenerator) Generate(_ context.Context, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	return f.answer, f.err
}

func (f *fakeGenerator) setAnswer(answer string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answer = answer
}

func (f *fakeGenerator) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

func newAssistant(gen Generator) *Assistant {
	return New(&Config{Generator: gen, CacheTTL: time.Minute, Logger: log.New(io.Discard, "", 0)})
}

func TestParseTaskList(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []string
		wantErr bool
	}{
		{"plain", `["Excavar", "Armar encofrado"]`, []string{"Excavar", "Armar encofrado"}, false},
		{"json fence", "```json\n[\"Excavar\", \"Hormigonar\"]\n```", []string{"Excavar", "Hormigonar"}, false},
		{"bare fence", "```\n[\"Excavar\"]\n```", []string{"Excavar"}, false},
		{"surrounding prose", "Aquí está el plan:\n[\"A\", \"B\", \"C\"]\nSuerte.", []string{"A", "B", "C"}, false},
		{"blank entries dropped", `["A", "  ", "B"]`, []string{"A", "B"}, false},
		{"not json", "Primero excavar, luego hormigonar.", nil, true},
		{"object", `{"tasks": ["A"]}`, nil, true},
		{"numbers", `[1, 2]`, nil, true},
		{"empty array", `[]`, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTaskList(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrGenerative) {
					t.Errorf("ParseTaskList() error = %v, want ErrGenerative", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseTaskList() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseTaskList() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAnalysisPrompt_UsesLatestFive(t *testing.T) {
	var logs []schema.LogEntry
	for i := range 7 {
		logs = schema.PrependLog(logs, schema.LogEntry{ID: schema.ID(i + 1), Date: "2024-01-0" + string(rune('1'+i)), Notes: "nota"})
	}

	prompt := AnalysisPrompt(logs)
	if got := strings.Count(prompt, "Fecha:"); got != RecentLogs {
		t.Errorf("prompt has %d logs, want %d", got, RecentLogs)
	}
	if !strings.Contains(prompt, "2024-01-07") || strings.Contains(prompt, "2024-01-01") {
		t.Errorf("prompt should hold the newest logs:\n%s", prompt)
	}

	if !strings.Contains(AnalysisPrompt(nil), "Sin datos recientes") {
		t.Error("empty log list should say there is no data")
	}
}

func TestAnalyzeLogs(t *testing.T) {
	gen := &fakeGenerator{answer: "  Reforzar cuadrilla los días de lluvia.\n"}
	a := newAssistant(gen)
	p := schema.NewProject("Casa", 0)
	p.Logs = schema.PrependLog(p.Logs, schema.LogEntry{Date: "2024-01-01", Weather: schema.WeatherRain, Notes: "Faltaron 3 operarios"})

	got, err := a.AnalyzeLogs(context.Background(), p)
	if err != nil {
		t.Fatalf("AnalyzeLogs() error = %v", err)
	}
	if got != "Reforzar cuadrilla los días de lluvia." {
		t.Errorf("AnalyzeLogs() = %q", got)
	}

	// The same prompt is served from cache.
	if _, err := a.AnalyzeLogs(context.Background(), p); err != nil {
		t.Fatalf("AnalyzeLogs() error = %v", err)
	}
	if gen.calls() != 1 {
		t.Errorf("generator calls = %d, want 1", gen.calls())
	}
}

func TestAssistFailures(t *testing.T) {
	p := schema.NewProject("Casa", 0)

	tests := []struct {
		name string
		a    *Assistant
	}{
		{"no generator", newAssistant(nil)},
		{"endpoint error", newAssistant(&fakeGenerator{err: errors.New("503")})},
		{"empty answer", newAssistant(&fakeGenerator{answer: "   "})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.a.AnalyzeLogs(context.Background(), p); !errors.Is(err, ErrGenerative) {
				t.Errorf("AnalyzeLogs() error = %v, want ErrGenerative", err)
			}
			if _, err := tt.a.PlanTasks(context.Background(), "Terminar losa"); !errors.Is(err, ErrGenerative) {
				t.Errorf("PlanTasks() error = %v, want ErrGenerative", err)
			}
		})
	}
}

func TestPlanTasks(t *testing.T) {
	gen := &fakeGenerator{answer: "```json\n[\"Replantear\", \"Excavar\", \"Hormigonar\"]\n```"}
	a := newAssistant(gen)

	got, err := a.PlanTasks(context.Background(), "Hacer la platea")
	if err != nil {
		t.Fatalf("PlanTasks() error = %v", err)
	}
	if !reflect.DeepEqual(got, []string{"Replantear", "Excavar", "Hormigonar"}) {
		t.Errorf("PlanTasks() = %v", got)
	}
	if !strings.Contains(gen.prompts[0], `"Hacer la platea"`) {
		t.Errorf("prompt does not quote the goal: %s", gen.prompts[0])
	}

	if _, err := a.PlanTasks(context.Background(), "  "); !errors.Is(err, ErrGenerative) {
		t.Errorf("PlanTasks(blank) error = %v, want ErrGenerative", err)
	}
}

func TestPlanTasks_MalformedAnswer(t *testing.T) {
	a := newAssistant(&fakeGenerator{answer: "Lo siento, no puedo ayudar."})
	if _, err := a.PlanTasks(context.Background(), "Hacer la platea"); !errors.Is(err, ErrGenerative) {
		t.Errorf("PlanTasks() error = %v, want ErrGenerative", err)
	}
}

// A malformed answer is not cached, so asking again reaches the model.
func TestPlanTasks_RetriesAfterMalformedAnswer(t *testing.T) {
	ctx := context.Background()
	gen := &fakeGenerator{answer: "Primero replantear, luego excavar."}
	a := newAssistant(gen)

	if _, err := a.PlanTasks(ctx, "Hacer la platea"); !errors.Is(err, ErrGenerative) {
		t.Fatalf("PlanTasks() error = %v, want ErrGenerative", err)
	}

	gen.setAnswer(`["Replantear", "Excavar"]`)
	got, err := a.PlanTasks(ctx, "Hacer la platea")
	if err != nil {
		t.Fatalf("PlanTasks() after a good answer error = %v", err)
	}
	if !reflect.DeepEqual(got, []string{"Replantear", "Excavar"}) {
		t.Errorf("PlanTasks() = %v", got)
	}
	if n := gen.calls(); n != 2 {
		t.Errorf("generator calls = %d, want 2", n)
	}

	// The good answer is cached.
	if _, err := a.PlanTasks(ctx, "Hacer la platea"); err != nil {
		t.Fatalf("PlanTasks() from cache error = %v", err)
	}
	if n := gen.calls(); n != 2 {
		t.Errorf("generator calls = %d after a cached answer, want 2", n)
	}
}

func TestSuggestedTasks(t *testing.T) {
	now := time.UnixMilli(1700000000000)
	tasks := SuggestedTasks([]string{"A", "B"}, now)

	if len(tasks) != 2 {
		t.Fatalf("len = %d, want 2", len(tasks))
	}
	for i, task := range tasks {
		if task.ID != schema.ID(1700000000000+int64(i)) {
			t.Errorf("task %d id = %d", i, task.ID)
		}
		if task.Deadline != schema.SuggestedDeadline || task.Type != schema.TaskGeneral || task.Assignee != schema.ToBeDefined {
			t.Errorf("task %d = %+v", i, task)
		}
		if task.Completed || task.Progress != 0 {
			t.Errorf("task %d should start open", i)
		}
	}
}

func TestRateLimitHonorsContext(t *testing.T) {
	gen := &fakeGenerator{answer: "ok"}
	a := New(&Config{Generator: gen, RatePerMinute: 1, Logger: log.New(io.Discard, "", 0)})
	p := schema.NewProject("Casa", 0)

	if _, err := a.AnalyzeLogs(context.Background(), p); err != nil {
		t.Fatalf("first call error = %v", err)
	}

	p.Logs = schema.PrependLog(p.Logs, schema.LogEntry{Notes: "otro"})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := a.AnalyzeLogs(ctx, p); !errors.Is(err, ErrGenerative) {
		t.Errorf("limited call error = %v, want ErrGenerative", err)
	}
}

func TestNewAnthropicGenerator_MissingKey(t *testing.T) {
	if _, err := NewAnthropicGenerator("", "", 0); !errors.Is(err, ErrGenerative) {
		t.Errorf("NewAnthropicGenerator() error = %v, want ErrGenerative", err)
	}
}

func TestAnthropicGenerator(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{
			"id": "msg_1", "type": "message", "role": "assistant", "model": "test",
			"content": [{"type": "text", "text": "[\"A\", \"B\"]"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 1, "output_tokens": 1}
		}`)
	}))
	defer srv.Close()

	gen, err := NewAnthropicGenerator("test-key", "", 0, option.WithBaseURL(srv.URL), option.WithMaxRetries(0))
	if err != nil {
		t.Fatalf("NewAnthropicGenerator() error = %v", err)
	}
	got, err := gen.Generate(context.Background(), "hola")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if got != `["A", "B"]` {
		t.Errorf("Generate() = %q", got)
	}
}

func TestAnthropicGenerator_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"type":"error","error":{"type":"overloaded_error","message":"busy"}}`, http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	gen, err := NewAnthropicGenerator("test-key", "", 0, option.WithBaseURL(srv.URL), option.WithMaxRetries(0))
	if err != nil {
		t.Fatalf("NewAnthropicGenerator() error = %v", err)
	}
	if _, err := gen.Generate(context.Background(), "hola"); !errors.Is(err, ErrGenerative) {
		t.Errorf("Generate() error = %v, want ErrGenerative", err)
	}
}
