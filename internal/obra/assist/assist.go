// Package assist wraps the generative-text endpoint used for log analysis
// and goal decomposition.
//
// Every failure wraps ErrGenerative. Callers degrade to "no suggestion"
// instead of propagating it: nothing in this package touches persistence.
package assist

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"github.com/mschirtzinger/obracontrol/internal/metrics"
	"github.com/mschirtzinger/obracontrol/internal/obra/schema"
)

// ErrGenerative is returned when no usable answer could be produced.
var ErrGenerative = errors.New("generative call failed")

// NoAnalysis is shown when log analysis fails.
const NoAnalysis = "No se pudo generar el análisis. Intenta nuevamente."

// RecentLogs is how many logs are sent for analysis.
const RecentLogs = 5

// Generator turns a prompt into text.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Config holds assistant configuration.
type Config struct {
	// Generator answers prompts. Nil disables the assistant.
	Generator Generator

	// CacheTTL keeps identical prompts from being sent twice. Zero disables
	// caching.
	CacheTTL time.Duration

	// RatePerMinute limits calls to the endpoint. Zero means unlimited.
	RatePerMinute int

	// Metrics counts calls. Optional.
	Metrics *metrics.Metrics

	// Logger for assistant activity (default: stderr logger)
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		CacheTTL:      10 * time.Minute,
		RatePerMinute: 10,
		Logger:        log.New(os.Stderr, "[assist] ", log.LstdFlags),
	}
}

// Assistant produces suggestions from project data.
type Assistant struct {
	config  *Config
	cache   *cache.Cache
	limiter *rate.Limiter
}

// New creates an assistant.
func New(config *Config) *Assistant {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = DefaultConfig().Logger
	}
	a := &Assistant{config: config}
	if config.CacheTTL > 0 {
		a.cache = cache.New(config.CacheTTL, 2*config.CacheTTL)
	}
	if config.RatePerMinute > 0 {
		a.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(config.RatePerMinute)), config.RatePerMinute)
	}
	return a
}

// Enabled reports whether a generator is configured.
func (a *Assistant) Enabled() bool {
	return a.config.Generator != nil
}

// AnalyzeLogs asks for one short risk recommendation based on the most
// recent logs of p.
func (a *Assistant) AnalyzeLogs(ctx context.Context, p *schema.Project) (string, error) {
	text, err := a.generate(ctx, "analysis", AnalysisPrompt(p.Logs), nil)
	a.config.Metrics.ObserveAssist("analysis", err)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// PlanTasks breaks goal into 3 to 5 sequential task descriptions.
func (a *Assistant) PlanTasks(ctx context.Context, goal string) ([]string, error) {
	goal = strings.TrimSpace(goal)
	if goal == "" {
		return nil, fmt.Errorf("%w: empty goal", ErrGenerative)
	}
	var tasks []string
	_, err := a.generate(ctx, "plan", PlanPrompt(goal), func(text string) error {
		var err error
		tasks, err = ParseTaskList(text)
		return err
	})
	a.config.Metrics.ObserveAssist("plan", err)
	if err != nil {
		return nil, err
	}
	return tasks, nil
}

// generate returns the answer for prompt. When parse is set it must accept
// the answer, cached or fresh; only accepted answers are cached.
func (a *Assistant) generate(ctx context.Context, kind, prompt string, parse func(string) error) (string, error) {
	if a.config.Generator == nil {
		return "", fmt.Errorf("%w: no generator configured", ErrGenerative)
	}

	key := cacheKey(prompt)
	if a.cache != nil {
		if cached, ok := a.cache.Get(key); ok {
			if parse == nil || parse(cached.(string)) == nil {
				return cached.(string), nil
			}
			a.cache.Delete(key)
		}
	}

	if a.limiter != nil {
		if err := a.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("%w: %w", ErrGenerative, err)
		}
	}

	text, err := a.config.Generator.Generate(ctx, prompt)
	if err != nil {
		a.config.Logger.Printf("%s call failed: %v", kind, err)
		if errors.Is(err, ErrGenerative) {
			return "", err
		}
		return "", fmt.Errorf("%w: %w", ErrGenerative, err)
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: empty response", ErrGenerative)
	}
	if parse != nil {
		if err := parse(text); err != nil {
			a.config.Logger.Printf("%s answer rejected: %v", kind, err)
			return "", err
		}
	}

	if a.cache != nil {
		a.cache.SetDefault(key, text)
	}
	return text, nil
}

func cacheKey(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return hex.EncodeToString(sum[:])
}

// AnalysisPrompt builds the log analysis prompt from the newest logs.
func AnalysisPrompt(logs []schema.LogEntry) string {
	lines := make([]string, 0, RecentLogs)
	for _, l := range logs[:min(len(logs), RecentLogs)] {
		lines = append(lines, fmt.Sprintf("Fecha: %s, Clima: %s, Notas: %s", l.Date, l.Weather, l.Notes))
	}
	recent := strings.Join(lines, "\n")
	if recent == "" {
		recent = "Sin datos recientes"
	}
	return "Actúa como un Jefe de Obra experto analizando esta bitácora reciente:\n" + recent +
		"\n\nIdentifica patrones de riesgo (ej: clima, ausentismo, retrasos) y dame 1 recomendación breve y accionable. Responde en texto plano breve."
}

// PlanPrompt builds the goal decomposition prompt.
func PlanPrompt(goal string) string {
	return fmt.Sprintf("Actúa como un planificador de obras experto. El usuario quiere lograr: %q. "+
		"Desglosa esto en 3 a 5 tareas específicas y secuenciales para el plan de obra. "+
		`Devuelve SOLO un JSON array de strings válido, sin markdown. Ejemplo: ["Tarea 1", "Tarea 2"].`, goal)
}

// ParseTaskList extracts a JSON array of strings from a model answer,
// tolerating surrounding markdown fences.
func ParseTaskList(text string) ([]string, error) {
	cleaned := StripFences(text)
	if start, end := strings.Index(cleaned, "["), strings.LastIndex(cleaned, "]"); start >= 0 && end > start {
		cleaned = cleaned[start : end+1]
	}

	var raw []string
	if err := json.Unmarshal([]byte(cleaned), &raw); err != nil {
		return nil, fmt.Errorf("%w: answer is not a JSON array of strings: %v", ErrGenerative, err)
	}

	tasks := make([]string, 0, len(raw))
	for _, t := range raw {
		if t = strings.TrimSpace(t); t != "" {
			tasks = append(tasks, t)
		}
	}
	if len(tasks) == 0 {
		return nil, fmt.Errorf("%w: no tasks in answer", ErrGenerative)
	}
	return tasks, nil
}

// StripFences removes ``` and ```json markers.
func StripFences(text string) string {
	text = strings.ReplaceAll(text, "```json", "")
	text = strings.ReplaceAll(text, "```", "")
	return strings.TrimSpace(text)
}

// SuggestedTasks turns plan texts into board tasks marked as suggested.
// Ids are now in milliseconds plus the index.
func SuggestedTasks(texts []string, now time.Time) []schema.Task {
	base := now.UnixMilli()
	out := make([]schema.Task, len(texts))
	for i, text := range texts {
		out[i] = schema.Task{
			ID:       schema.ID(base + int64(i)),
			Text:     text,
			Deadline: schema.SuggestedDeadline,
			Type:     schema.TaskGeneral,
			Assignee: schema.ToBeDefined,
		}
	}
	return out
}
