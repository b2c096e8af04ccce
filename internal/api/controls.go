package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/aadegtyarev/go2wb/internal/journal"
	"github.com/aadegtyarev/go2wb/internal/wb"
)

// controlEntry is the JSON form of one registry value.
type controlEntry struct {
	Device  string   `json:"device"`
	Control string   `json:"control"`
	Value   wb.Value `json:"value"`
	Kind    string   `json:"kind"`
}

func newControlEntry(path wb.ControlPath, value wb.Value) controlEntry {
	return controlEntry{
		Device:  path.Device,
		Control: path.Control,
		Value:   value,
		Kind:    value.Kind().String(),
	}
}

// controlEvent is the payload of a control.changed WebSocket event.
type controlEvent struct {
	controlEntry
	Source string `json:"source"`
}

// deviceResponse is the JSON form of a virtual device. Controls are rendered
// as their published meta documents.
type deviceResponse struct {
	ID       string           `json:"id"`
	Title    wb.Title         `json:"title"`
	Controls []wb.ControlSpec `json:"controls"`
}

// setControlRequest is the body of PUT /controls/{device}/{control}.
type setControlRequest struct {
	Value *wb.Value `json:"value"`
}

// handleListDevices returns the session's virtual devices in creation order.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	devices := s.session.VirtualDevices()

	resp := make([]deviceResponse, 0, len(devices))
	for _, d := range devices {
		controls := d.Controls
		if controls == nil {
			controls = []wb.ControlSpec{}
		}
		resp = append(resp, deviceResponse{ID: d.ID, Title: d.Title, Controls: controls})
	}

	writeJSON(w, http.StatusOK, map[string]any{"devices": resp, "count": len(resp)})
}

// handleListControls returns every known control value sorted by path.
//
// Query parameters:
//   - device: only controls of this device
func (s *Server) handleListControls(w http.ResponseWriter, r *http.Request) {
	deviceFilter := r.URL.Query().Get("device")

	entries := controlEntries(s.session.ListAll(), func(path wb.ControlPath) bool {
		return deviceFilter == "" || path.Device == deviceFilter
	})

	writeJSON(w, http.StatusOK, map[string]any{"controls": entries, "count": len(entries)})
}

// controlEntries converts the values accepted by keep into entries sorted by
// device, then control.
func controlEntries(values map[wb.ControlPath]wb.Value, keep func(wb.ControlPath) bool) []controlEntry {
	entries := make([]controlEntry, 0, len(values))
	for path, value := range values {
		if keep(path) {
			entries = append(entries, newControlEntry(path, value))
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Device != entries[j].Device {
			return entries[i].Device < entries[j].Device
		}
		return entries[i].Control < entries[j].Control
	})
	return entries
}

func (s *Server) handleGetControl(w http.ResponseWriter, r *http.Request) {
	path, ok := controlPathParam(w, r)
	if !ok {
		return
	}

	value, found := s.session.Get(path)
	if !found {
		writeNotFound(w, "control not found")
		return
	}
	writeJSON(w, http.StatusOK, newControlEntry(path, value))
}

// handleSetControl publishes a value through Session.Set. Virtual controls
// get a retained state update, foreign ones a command on /on.
func (s *Server) handleSetControl(w http.ResponseWriter, r *http.Request) {
	path, ok := controlPathParam(w, r)
	if !ok {
		return
	}

	var req setControlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Value == nil || !req.Value.IsKnown() {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "value is required")
		return
	}

	if err := s.session.Set(path, *req.Value); err != nil {
		if status := sessionErrorStatus(err); status == http.StatusBadGateway {
			s.logger.Warn("control write failed", "path", path.String(), "error", err)
		}
		writeSessionError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, newControlEntry(path, *req.Value))
}

// handleControlHistory returns journal entries for a control, newest first.
//
// Query parameters:
//   - limit: maximum entries (default 50, max 200)
func (s *Server) handleControlHistory(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeServiceUnavailable(w, "journal is disabled")
		return
	}

	path, ok := controlPathParam(w, r)
	if !ok {
		return
	}

	limit, err := parseHistoryLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	entries, err := s.journal.History(r.Context(), path, limit)
	if err != nil {
		s.logger.Error("journal query failed", "path", path.String(), "error", err)
		writeInternalError(w, "failed to read history")
		return
	}
	if entries == nil {
		entries = []journal.Entry{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"device":  path.Device,
		"control": path.Control,
		"history": entries,
		"count":   len(entries),
	})
}

// controlPathParam reads {device}/{control}; wildcards are rejected.
func controlPathParam(w http.ResponseWriter, r *http.Request) (wb.ControlPath, bool) {
	path, err := wb.ParsePath(chi.URLParam(r, "device") + "/" + chi.URLParam(r, "control"))
	if err != nil || path.HasWildcard() {
		writeBadRequest(w, "invalid control path")
		return wb.ControlPath{}, false
	}
	return path, true
}

// parseHistoryLimit parses the limit query parameter. Empty means default.
func parseHistoryLimit(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		return 0, fmt.Errorf("limit must be a positive integer")
	}
	return limit, nil
}
