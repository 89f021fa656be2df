package codec

import (
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/mschirtzinger/obracontrol/internal/obra/schema"
)

func richSnapshot() schema.Snapshot {
	snap := schema.Seed()
	p := snap[1]
	p.Logs = schema.PrependLog(p.Logs, schema.LogEntry{
		ID: 11, Date: "2023-10-24", Weather: schema.WeatherSunny, Workers: 5,
		Notes: "Se completó el llenado de zapatas del sector B.", Image: "https://example.com/a.jpg",
	})
	p.Materials = schema.AppendMaterial(p.Materials, schema.MaterialItem{
		ID: 12, Name: "Arena Fina", Quantity: "10 m3", Cost: 180000.5,
		Status: schema.MaterialOrdered, Category: schema.CategoryMasonry, Provider: "Arenera Costa", Date: "2023-10-24",
	})
	p.Tasks = schema.AppendTask(p.Tasks, schema.Task{ID: 13, Text: "Finalizar capa aisladora", Deadline: "2023-11-01"})
	p.Fees = schema.AppendContractor(p.Fees, schema.Contractor{ID: 14, Name: "Arq. Pérez", Role: "Dirección", TotalBudget: 900000})
	p.GanttFile = "data:application/pdf;base64,JVBERi0="

	snap[1700000000000] = &schema.Project{Name: "Casa X", Status: schema.StatusPaused, Budget: 1e6}
	snap[1700000000001] = schema.NewProject("Local Centro", 0)
	return snap
}

func TestRoundTrip(t *testing.T) {
	snapshots := map[string]schema.Snapshot{
		"seed": schema.Seed(),
		"rich": richSnapshot(),
	}

	for name, snap := range snapshots {
		t.Run(name, func(t *testing.T) {
			data, err := Export(snap)
			if err != nil {
				t.Fatalf("Export() error = %v", err)
			}
			got, err := Import(data)
			if err != nil {
				t.Fatalf("Import() error = %v", err)
			}
			if !reflect.DeepEqual(got, snap) {
				t.Errorf("Import(Export(S)) != S\n got: %+v\nwant: %+v", got, snap)
			}
		})
	}
}

func TestImport_Rejects(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"not json", "not json"},
		{"empty", ""},
		{"whitespace", "   \n"},
		{"null", "null"},
		{"array", `[1, 2]`},
		{"string", `"hola"`},
		{"empty object", `{}`},
		{"non numeric project id", `{"abc": {"name": "x"}}`},
		{"null project", `{"1": null}`},
		{"bad section shape", `{"1": {"logs": "oops"}}`},
		{"foreign format", `{"format": "other", "version": "v1.0.0", "fullData": {"1": {}}}`},
		{"future major", `{"format": "obracontrol", "version": "v2.0.0", "fullData": {"1": {}}}`},
		{"invalid version", `{"format": "obracontrol", "version": "1.0", "fullData": {"1": {}}}`},
		{"empty envelope", `{"format": "obracontrol", "version": "v1.0.0", "fullData": {}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Import([]byte(tt.input))
			if !errors.Is(err, ErrImportParse) {
				t.Errorf("Import(%q) error = %v, want ErrImportParse", tt.input, err)
			}
		})
	}
}

func TestImport_BareObject(t *testing.T) {
	got, err := Import([]byte(`{"1": {"name": "Edificio", "status": "active", "budget": 100, "logs": []}}`))
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	p := got[1]
	if p == nil || p.Name != "Edificio" || p.Budget != 100 {
		t.Fatalf("Import() = %+v", p)
	}
	if p.Logs == nil || len(p.Logs) != 0 {
		t.Errorf("Logs = %#v, want empty non-nil", p.Logs)
	}
	if p.Materials != nil {
		t.Errorf("missing section should decode as nil, got %#v", p.Materials)
	}
}

func TestImport_MinorVersionAccepted(t *testing.T) {
	input := `{"format": "obracontrol", "version": "v1.4.2", "projectKey": "OBRA-9", "fullData": {"1": {"name": "x"}}}`
	env, err := ImportEnvelope([]byte(input))
	if err != nil {
		t.Fatalf("ImportEnvelope() error = %v", err)
	}
	if env.ProjectKey != "OBRA-9" || env.Version != "v1.4.2" {
		t.Errorf("envelope = %+v", env)
	}
}

func TestExportWithMeta(t *testing.T) {
	at := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)
	data, err := ExportWithMeta(schema.Seed(), Meta{ProjectKey: "OBRA-1234", ExportedAt: at})
	if err != nil {
		t.Fatalf("ExportWithMeta() error = %v", err)
	}
	for _, want := range []string{`"format": "obracontrol"`, `"version": "v1.0.0"`, `"projectKey": "OBRA-1234"`, `"exportedAt": "2024-03-05T10:00:00Z"`} {
		if !strings.Contains(string(data), want) {
			t.Errorf("export missing %s", want)
		}
	}
}

func TestFileName(t *testing.T) {
	at := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)
	if got := FileName("OBRA-1234", at); got != "obracontrol-OBRA-1234-20240305-100000.json" {
		t.Errorf("FileName() = %q", got)
	}
	if got := FileName("", at); !strings.HasPrefix(got, "obracontrol-obra-") {
		t.Errorf("FileName(\"\") = %q", got)
	}
}
