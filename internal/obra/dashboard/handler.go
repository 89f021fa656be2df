package dashboard

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mschirtzinger/obracontrol/internal/obra/assist"
	"github.com/mschirtzinger/obracontrol/internal/obra/codec"
	"github.com/mschirtzinger/obracontrol/internal/obra/gantt"
	"github.com/mschirtzinger/obracontrol/internal/obra/gateway"
	"github.com/mschirtzinger/obracontrol/internal/obra/report"
	"github.com/mschirtzinger/obracontrol/internal/obra/schema"
	"github.com/mschirtzinger/obracontrol/internal/obra/store"
	obrasync "github.com/mschirtzinger/obracontrol/internal/obra/sync"
)

// maxBody bounds request bodies. Imports carry the Gantt data URL, so this
// leaves room for a full 1MB attachment after base64.
const maxBody = 4 << 20

// SnapshotData is the payload of a snapshot message.
type SnapshotData struct {
	Key           string          `json:"key"`
	ActiveProject schema.ID       `json:"activeProject"`
	Status        gateway.Status  `json:"status"`
	Projects      schema.Snapshot `json:"projects"`
}

// StatusData is the payload of a status message.
type StatusData struct {
	Status gateway.Status `json:"status"`
	Label  string         `json:"label"`
}

// KeyChangedData is the payload of a key_changed message.
type KeyChangedData struct {
	Key           string    `json:"key"`
	ActiveProject schema.ID `json:"activeProject"`
}

// Handler bridges workspace events to the WebSocket server and serves the
// project API.
type Handler struct {
	server    *Server
	workspace *obrasync.Workspace
	assistant *assist.Assistant
	logger    *log.Logger
	now       func() time.Time

	detach []func()
}

// NewHandler creates a handler and registers its routes on the server.
// The assistant may be nil, in which case the analysis and plan routes
// answer 503.
func NewHandler(server *Server, ws *obrasync.Workspace, assistant *assist.Assistant, logger *log.Logger) *Handler {
	if logger == nil {
		logger = server.logger
	}

	h := &Handler{
		server:    server,
		workspace: ws,
		assistant: assistant,
		logger:    logger,
		now:       time.Now,
	}
	server.welcome = func() (Message, bool) {
		msg, err := newMessage(MessageTypeSnapshot, h.snapshotData())
		return msg, err == nil
	}
	h.routes(server.Router())
	return h
}

// Attach subscribes to workspace events and broadcasts them.
func (h *Handler) Attach() {
	h.detach = append(h.detach,
		h.workspace.OnChange(h.onChange),
		h.workspace.OnStatus(h.onStatus),
	)
}

// Detach removes the workspace subscriptions.
func (h *Handler) Detach() {
	for _, fn := range h.detach {
		fn()
	}
	h.detach = nil
}

func (h *Handler) onChange(change obrasync.Change) {
	if change.Kind == obrasync.ChangeKey {
		h.logger.Printf("Project key changed: %s", change.Key)
		h.server.BroadcastData(MessageTypeKeyChanged, KeyChangedData{
			Key:           change.Key,
			ActiveProject: change.ActiveProject,
		})
	}
	h.server.BroadcastData(MessageTypeSnapshot, h.snapshotData())
}

func (h *Handler) onStatus(status gateway.Status) {
	h.server.BroadcastData(MessageTypeStatus, StatusData{Status: status, Label: status.Label()})
}

func (h *Handler) snapshotData() SnapshotData {
	return SnapshotData{
		Key:           h.workspace.Key(),
		ActiveProject: h.workspace.ActiveProject(),
		Status:        h.workspace.Status(),
		Projects:      h.workspace.Snapshot(),
	}
}

func (h *Handler) routes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.AllowContentType("application/json"))

		r.Get("/status", h.handleStatus)
		r.Get("/key", h.handleGetKey)
		r.Put("/key", h.handleSwitchKey)
		r.Get("/export", h.handleExport)
		r.Post("/import", h.handleImport)

		r.Route("/projects", func(r chi.Router) {
			r.Get("/", h.handleListProjects)
			r.Post("/", h.handleCreateProject)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.handleGetProject)
				r.Patch("/", h.handleUpdateProject)
				r.Delete("/", h.handleDeleteProject)
				r.Put("/{section}", h.handleReplaceSection)
				r.Post("/labor/{cid}/approve", h.handleApprove(store.SectionLabor))
				r.Post("/fees/{cid}/approve", h.handleApprove(store.SectionFees))
				r.Post("/materials/{mid}/advance", h.handleAdvanceMaterial)
				r.Post("/analysis", h.handleAnalysis)
				r.Post("/plan", h.handlePlan)
				r.Get("/report", h.handleReport)
			})
		})
	})
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := h.workspace.Status()
	writeJSON(w, http.StatusOK, map[string]any{
		"key":           h.workspace.Key(),
		"status":        status,
		"label":         status.Label(),
		"activeProject": h.workspace.ActiveProject(),
		"projects":      len(h.workspace.Projects()),
		"clients":       h.server.ClientCount(),
	})
}

func (h *Handler) handleGetKey(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"key": h.workspace.Key()})
}

func (h *Handler) handleSwitchKey(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Key string `json:"key"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.workspace.SwitchKey(r.Context(), req.Key); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"key": h.workspace.Key()})
}

func (h *Handler) handleListProjects(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.workspace.Projects())
}

func (h *Handler) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name   string  `json:"name"`
		Budget float64 `json:"budget"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("name is required"))
		return
	}
	id, err := h.workspace.CreateProject(r.Context(), req.Name, req.Budget)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]schema.ID{"id": id})
}

func (h *Handler) handleGetProject(w http.ResponseWriter, r *http.Request) {
	id, ok := projectID(w, r)
	if !ok {
		return
	}
	p, err := h.workspace.Project(id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) handleUpdateProject(w http.ResponseWriter, r *http.Request) {
	id, ok := projectID(w, r)
	if !ok {
		return
	}
	var req struct {
		Name     *string               `json:"name"`
		Budget   *float64              `json:"budget"`
		Progress *int                  `json:"progress"`
		Status   *schema.ProjectStatus `json:"status"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Status != nil && !req.Status.Valid() {
		writeJSON(w, http.StatusBadRequest, errorBody(fmt.Sprintf("invalid status %q", *req.Status)))
		return
	}

	d := obrasync.Details{Name: req.Name, Budget: req.Budget, Progress: req.Progress}
	if d.Name != nil || d.Budget != nil || d.Progress != nil {
		if err := h.workspace.UpdateDetails(r.Context(), id, d); err != nil {
			h.writeError(w, err)
			return
		}
	}
	if req.Status != nil {
		if err := h.workspace.SetProjectStatus(r.Context(), id, *req.Status); err != nil {
			h.writeError(w, err)
			return
		}
	}
	h.handleGetProject(w, r)
}

func (h *Handler) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	id, ok := projectID(w, r)
	if !ok {
		return
	}
	active, err := h.workspace.RemoveProject(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]schema.ID{"activeProject": active})
}

func (h *Handler) handleReplaceSection(w http.ResponseWriter, r *http.Request) {
	id, ok := projectID(w, r)
	if !ok {
		return
	}
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
	if err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorBody(err.Error()))
		return
	}
	section := store.Section(chi.URLParam(r, "section"))
	if err := h.workspace.ReplaceSection(r.Context(), id, section, payload); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleApprove(roster obrasync.Roster) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := projectID(w, r)
		if !ok {
			return
		}
		cid, err := schema.ParseID(chi.URLParam(r, "cid"))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
			return
		}
		if err := h.workspace.ApprovePayment(r.Context(), id, roster, cid); err != nil {
			h.writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *Handler) handleAdvanceMaterial(w http.ResponseWriter, r *http.Request) {
	id, ok := projectID(w, r)
	if !ok {
		return
	}
	mid, err := schema.ParseID(chi.URLParam(r, "mid"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	if err := h.workspace.AdvanceMaterial(r.Context(), id, mid); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleAnalysis(w http.ResponseWriter, r *http.Request) {
	if !h.assistEnabled(w) {
		return
	}
	id, ok := projectID(w, r)
	if !ok {
		return
	}
	p, err := h.workspace.Project(id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	text, err := h.assistant.AnalyzeLogs(r.Context(), p)
	if err != nil {
		h.logger.Printf("Log analysis failed: %v", err)
		text = assist.NoAnalysis
	}
	writeJSON(w, http.StatusOK, map[string]string{"analysis": text})
}

func (h *Handler) handlePlan(w http.ResponseWriter, r *http.Request) {
	if !h.assistEnabled(w) {
		return
	}
	id, ok := projectID(w, r)
	if !ok {
		return
	}
	var req struct {
		Goal string `json:"goal"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	texts, err := h.assistant.PlanTasks(r.Context(), req.Goal)
	if err != nil {
		h.writeError(w, err)
		return
	}
	tasks := assist.SuggestedTasks(texts, h.now())
	if _, err := h.workspace.AddTasks(r.Context(), id, tasks...); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tasks)
}

func (h *Handler) assistEnabled(w http.ResponseWriter) bool {
	if h.assistant == nil || !h.assistant.Enabled() {
		writeJSON(w, http.StatusServiceUnavailable, errorBody("assistant is not configured"))
		return false
	}
	return true
}

func (h *Handler) handleReport(w http.ResponseWriter, r *http.Request) {
	id, ok := projectID(w, r)
	if !ok {
		return
	}
	p, err := h.workspace.Project(id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	weekly := report.Build(p, h.now())

	switch r.URL.Query().Get("format") {
	case "", "text":
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if err := report.WriteText(w, weekly); err != nil {
			h.logger.Printf("Failed to write report: %v", err)
		}
	case "xlsx":
		w.Header().Set("Content-Type", report.XLSXContentType)
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="informe-%s.xlsx"`, id))
		if err := report.WriteXLSX(w, weekly); err != nil {
			h.logger.Printf("Failed to write report: %v", err)
		}
	default:
		writeJSON(w, http.StatusBadRequest, errorBody("format must be text or xlsx"))
	}
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	data, err := h.workspace.Export()
	if err != nil {
		h.writeError(w, err)
		return
	}
	name := codec.FileName(h.workspace.Key(), h.now())
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, name))
	_, _ = w.Write(data)
}

func (h *Handler) handleImport(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
	if err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorBody(err.Error()))
		return
	}
	if err := h.workspace.Import(r.Context(), data); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.workspace.Projects())
}

// writeError maps domain errors to status codes.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrProjectNotFound), errors.Is(err, schema.ErrEntryNotFound):
		status = http.StatusNotFound
	case errors.Is(err, store.ErrUnknownSection),
		errors.Is(err, obrasync.ErrInvalidKey),
		errors.Is(err, codec.ErrImportParse),
		errors.Is(err, schema.ErrBackwardTransition):
		status = http.StatusBadRequest
	case errors.Is(err, gantt.ErrTooLarge):
		status = http.StatusRequestEntityTooLarge
	case errors.Is(err, gantt.ErrNotPDF):
		status = http.StatusBadRequest
	case errors.Is(err, assist.ErrGenerative):
		status = http.StatusBadGateway
	case errors.Is(err, obrasync.ErrClosed):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		h.logger.Printf("Request failed: %v", err)
	}
	writeJSON(w, status, errorBody(err.Error()))
}

func projectID(w http.ResponseWriter, r *http.Request) (schema.ID, bool) {
	id, err := schema.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return 0, false
	}
	return id, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body: "+err.Error()))
		return false
	}
	return true
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
