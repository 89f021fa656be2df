// Package loadtest measures save latency of the sync layer.
//
// It opens a real workspace on a SQLite local cache and, optionally, a
// SQLite-backed remote document store, then simulates several crew members
// editing projects at once. Every operation goes through the full save path:
// store update, local write and the background remote write.
package loadtest

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log"
	"math/rand/v2"
	"path/filepath"
	"slices"
	"sync"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"

	"github.com/mschirtzinger/obracontrol/internal/obra/codec"
	"github.com/mschirtzinger/obracontrol/internal/obra/gateway"
	"github.com/mschirtzinger/obracontrol/internal/obra/local"
	"github.com/mschirtzinger/obracontrol/internal/obra/remote"
	"github.com/mschirtzinger/obracontrol/internal/obra/schema"
	"github.com/mschirtzinger/obracontrol/internal/obra/session"
	obrasync "github.com/mschirtzinger/obracontrol/internal/obra/sync"
)

// BenchKey is the project key used by the bench workspace.
const BenchKey = "OBRA-BENCH"

// Options configures a bench workspace.
type Options struct {
	// Projects to create before measuring.
	Projects int

	// EntriesPerProject seeds each project's sections.
	EntriesPerProject int

	// Remote adds a SQLite-backed remote store and a signed-in session.
	Remote bool

	// Logger for the workspace stack (default: discard)
	Logger *log.Logger
}

// Bench is a populated workspace for load testing.
type Bench struct {
	Local     *local.DB
	Remote    *remote.SQL
	Gateway   *gateway.Gateway
	Workspace *obrasync.Workspace
	Projects  []schema.ID
}

// LatencyStats captures performance metrics from load tests.
type LatencyStats struct {
	Min        time.Duration
	Max        time.Duration
	Mean       time.Duration
	P50        time.Duration // Median
	P95        time.Duration
	P99        time.Duration
	TotalSaves int
	Errors     int
	Durations  []time.Duration
}

// CreateBench opens a workspace under dir and fills it with projects.
func CreateBench(ctx context.Context, dir string, opts Options) (*Bench, error) {
	if opts.Projects <= 0 {
		opts.Projects = 1
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard, "", 0)
	}

	db, err := local.OpenContext(ctx, filepath.Join(dir, "obra.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to open local database: %w", err)
	}
	b := &Bench{Local: db}

	config := gateway.DefaultConfig()
	config.Logger = opts.Logger
	config.Seed = func() schema.Snapshot { return schema.Snapshot{} }
	// Only this process writes the bench key, so polling would just add
	// read load to the measurement.
	config.PollInterval = time.Hour

	var (
		rs   remote.DocumentStore
		sess *session.Session
	)
	if opts.Remote {
		conn, err := sql.Open("sqlite3", "file:"+filepath.Join(dir, "remote.db"))
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("failed to open remote database: %w", err)
		}
		b.Remote, err = remote.NewSQL(ctx, conn)
		if err != nil {
			_ = conn.Close()
			b.Close()
			return nil, fmt.Errorf("failed to initialize remote database: %w", err)
		}
		rs = b.Remote

		provider, err := session.NewJWTProvider("loadtest", "obra-loadtest", time.Hour)
		if err != nil {
			b.Close()
			return nil, err
		}
		sess = session.New(&session.Config{Provider: provider, Logger: opts.Logger})
	}

	b.Gateway, err = gateway.NewWithConfig(db, rs, sess, config)
	if err != nil {
		b.Close()
		return nil, err
	}
	b.Workspace, err = obrasync.Open(ctx, b.Gateway, db, &obrasync.Config{Key: BenchKey, Logger: opts.Logger})
	if err != nil {
		b.Close()
		return nil, err
	}

	// The empty seed leaves one fallback project in the store.
	b.Projects = append(b.Projects, b.Workspace.ActiveProject())
	for i := 1; i < opts.Projects; i++ {
		id, err := b.Workspace.CreateProject(ctx, fmt.Sprintf("Obra %d", i), float64(1_000_000*(i+1)))
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("failed to create project %d: %w", i, err)
		}
		b.Projects = append(b.Projects, id)
	}
	for _, id := range b.Projects {
		if err := b.populate(ctx, id, opts.EntriesPerProject); err != nil {
			b.Close()
			return nil, err
		}
	}
	if err := b.Workspace.Flush(ctx); err != nil {
		b.Close()
		return nil, err
	}
	return b, nil
}

// populate fills every section of a project in a single save.
func (b *Bench) populate(ctx context.Context, id schema.ID, n int) error {
	if n <= 0 {
		return nil
	}
	rng := rand.New(rand.NewPCG(uint64(id), 42))
	weathers := []string{schema.WeatherSunny, schema.WeatherCloudy, schema.WeatherRain, schema.WeatherWind}
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	return b.Workspace.Mutate(ctx, id, func(p *schema.Project) error {
		for i := range n {
			entryID := schema.NewID()
			date := day.AddDate(0, 0, i).Format(schema.DateLayout)
			p.Logs = schema.PrependLog(p.Logs, schema.LogEntry{
				ID: entryID, Date: date, Weather: weathers[i%len(weathers)],
				Workers: 2 + rng.IntN(10), Notes: fmt.Sprintf("Jornada %d", i),
			})
			p.Materials = schema.AppendMaterial(p.Materials, schema.MaterialItem{
				ID: entryID, Name: fmt.Sprintf("Material %d", i), Quantity: "10 u",
				Cost:     float64(1000 * (1 + rng.IntN(50))),
				Status:   schema.MaterialPending,
				Category: schema.MaterialCategories[i%len(schema.MaterialCategories)],
				Date:     date,
			})
			p.Tasks = append(p.Tasks, schema.Task{
				ID: entryID, Text: fmt.Sprintf("Tarea %d", i), Deadline: date,
				Type: schema.TaskGeneral, Assignee: schema.Unassigned,
			})
		}
		return nil
	})
}

// Close closes the workspace and the databases.
func (b *Bench) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var firstErr error
	if b.Workspace != nil {
		if err := b.Workspace.Close(ctx); err != nil {
			firstErr = err
		}
	}
	if b.Remote != nil {
		if err := b.Remote.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if b.Local != nil {
		if err := b.Local.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// RunConcurrentSaves simulates numCrews members editing at once, each
// performing opsPerCrew operations. Latency covers the synchronous part of a
// save (store and local write); remote writes are flushed before returning.
func (b *Bench) RunConcurrentSaves(ctx context.Context, numCrews, opsPerCrew int) (*LatencyStats, error) {
	var wg sync.WaitGroup
	resultsChan := make(chan []time.Duration, numCrews)
	errorsChan := make(chan error, numCrews*opsPerCrew)

	for i := 0; i < numCrews; i++ {
		wg.Add(1)
		go func(crew int) {
			defer wg.Done()

			durations := make([]time.Duration, 0, opsPerCrew)
			for j := 0; j < opsPerCrew; j++ {
				id := b.Projects[(crew+j)%len(b.Projects)]

				start := time.Now()
				err := b.operation(ctx, crew, j, id)
				durations = append(durations, time.Since(start))

				if err != nil {
					errorsChan <- fmt.Errorf("crew %d op %d failed: %w", crew, j, err)
				}
			}
			resultsChan <- durations
		}(i)
	}

	wg.Wait()
	close(resultsChan)
	close(errorsChan)

	var all []time.Duration
	for durations := range resultsChan {
		all = append(all, durations...)
	}
	if len(all) == 0 {
		return nil, fmt.Errorf("no saves completed")
	}

	stats := computeLatencyStats(all)
	for range errorsChan {
		stats.Errors++
	}

	if err := b.Workspace.Flush(ctx); err != nil {
		return stats, fmt.Errorf("failed to flush remote writes: %w", err)
	}
	return stats, nil
}

// operation rotates through the edits a crew makes during a day.
func (b *Bench) operation(ctx context.Context, crew, n int, id schema.ID) error {
	switch n % 4 {
	case 0:
		_, err := b.Workspace.AddLog(ctx, id, schema.LogEntry{
			Weather: schema.WeatherSunny, Workers: crew + 1,
			Notes: fmt.Sprintf("Cuadrilla %d, parte %d", crew, n),
		})
		return err
	case 1:
		_, err := b.Workspace.AddMaterial(ctx, id, schema.MaterialItem{
			Name: fmt.Sprintf("Pedido %d-%d", crew, n), Quantity: "1 u",
			Status: schema.MaterialPending, Category: schema.CategoryMiscellanea,
		})
		return err
	case 2:
		_, err := b.Workspace.AddTasks(ctx, id, schema.Task{
			Text: fmt.Sprintf("Revisar %d-%d", crew, n), Deadline: schema.NoDeadline,
			Type: schema.TaskGeneral, Assignee: schema.Unassigned,
		})
		return err
	default:
		progress := (crew*7 + n) % 101
		return b.Workspace.UpdateDetails(ctx, id, obrasync.Details{Progress: &progress})
	}
}

// VerifyConsistency checks that the local cache, and the remote document
// when present, hold the same dataset as the in-memory store.
func (b *Bench) VerifyConsistency(ctx context.Context) error {
	if err := b.Workspace.Flush(ctx); err != nil {
		return err
	}
	want := fingerprint(b.Workspace.Snapshot())

	raw, ok, err := b.Local.Get(ctx, local.DataKey(BenchKey))
	if err != nil {
		return fmt.Errorf("failed to read local cache: %w", err)
	}
	if !ok {
		return fmt.Errorf("local cache for %s is missing", BenchKey)
	}
	cached, err := codec.Import([]byte(raw))
	if err != nil {
		return fmt.Errorf("failed to decode local cache: %w", err)
	}
	if got := fingerprint(cached); !slices.Equal(got, want) {
		return fmt.Errorf("local cache differs from store:\n got %v\nwant %v", got, want)
	}

	if b.Remote == nil {
		return nil
	}
	doc, err := b.Remote.Get(ctx, remote.DocPath(gateway.DefaultAppID, BenchKey))
	if err != nil {
		return fmt.Errorf("failed to read remote document: %w", err)
	}
	mirrored, err := codec.Import(doc.FullData)
	if err != nil {
		return fmt.Errorf("failed to decode remote document: %w", err)
	}
	if got := fingerprint(mirrored); !slices.Equal(got, want) {
		return fmt.Errorf("remote document differs from store:\n got %v\nwant %v", got, want)
	}
	return nil
}

// fingerprint summarizes a snapshot as one line per project.
func fingerprint(snap schema.Snapshot) []string {
	out := make([]string, 0, len(snap))
	for _, id := range snap.IDs() {
		p := snap[id]
		out = append(out, fmt.Sprintf("%d:%s:%d:logs=%d:materials=%d:tasks=%d",
			id, p.Name, p.Progress, len(p.Logs), len(p.Materials), len(p.Tasks)))
	}
	return out
}

// computeLatencyStats calculates statistics from a slice of durations.
func computeLatencyStats(durations []time.Duration) *LatencyStats {
	if len(durations) == 0 {
		return &LatencyStats{}
	}

	sorted := slices.Clone(durations)
	slices.Sort(sorted)

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return &LatencyStats{
		Min:        sorted[0],
		Max:        sorted[len(sorted)-1],
		Mean:       sum / time.Duration(len(durations)),
		P50:        sorted[len(sorted)*50/100],
		P95:        sorted[len(sorted)*95/100],
		P99:        sorted[len(sorted)*99/100],
		TotalSaves: len(durations),
		Durations:  sorted,
	}
}

// PrintStats writes latency statistics to w.
func (s *LatencyStats) PrintStats(w io.Writer) {
	fmt.Fprintf(w, "Latency Statistics:\n")
	fmt.Fprintf(w, "  Total Saves:   %d\n", s.TotalSaves)
	fmt.Fprintf(w, "  Errors:        %d\n", s.Errors)
	fmt.Fprintf(w, "  Min:           %v\n", s.Min)
	fmt.Fprintf(w, "  P50 (Median):  %v\n", s.P50)
	fmt.Fprintf(w, "  Mean:          %v\n", s.Mean)
	fmt.Fprintf(w, "  P95:           %v\n", s.P95)
	fmt.Fprintf(w, "  P99:           %v\n", s.P99)
	fmt.Fprintf(w, "  Max:           %v\n", s.Max)
}
