package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/c360/avflow/config"
	"github.com/c360/avflow/errors"
	"github.com/c360/avflow/event"
	"github.com/c360/avflow/media"
	"github.com/c360/avflow/streamlet"
)

const maxRequestBody = 1 << 20

// NodeInfo describes one node in a streamlet listing.
type NodeInfo struct {
	Tag      string `json:"tag"`
	Category string `json:"category"`
	State    string `json:"state"`
	Queue    int    `json:"queue"`
	InFlight int    `json:"in_flight"`
	Error    string `json:"error,omitempty"`
}

// StreamletInfo describes one streamlet in a listing.
type StreamletInfo struct {
	Name  string     `json:"name"`
	Kind  string     `json:"kind"`
	Group uint64     `json:"group"`
	Nodes []NodeInfo `json:"nodes"`
}

// EventRequest is the body of an event request. Fields not used by Kind are
// ignored.
type EventRequest struct {
	To       string          `yaml:"to"`
	Kind     string          `yaml:"kind"`
	Layout   int             `yaml:"layout,omitempty"`
	Cells    []event.Cell    `yaml:"cells,omitempty"`
	Mute     []media.GroupID `yaml:"mute,omitempty"`
	Unmute   []media.GroupID `yaml:"unmute,omitempty"`
	URL      string          `yaml:"url,omitempty"`
	ForceIDR bool            `yaml:"force_idr,omitempty"`
}

// Event converts the request into the event it names.
func (r EventRequest) Event() (event.Event, error) {
	switch strings.ToLower(r.Kind) {
	case "videomixlayoutupdate":
		return &event.VideoMixLayoutUpdate{Layout: event.Layout(r.Layout), Cells: r.Cells}, nil
	case "audiomixmuteunmute":
		return &event.AudioMixMuteUnmute{Mute: r.Mute, Unmute: r.Unmute}, nil
	case "videomixsetbackground":
		return &event.VideoMixSetBackground{URL: r.URL}, nil
	case "videokeyframerequest":
		return &event.VideoKeyFrameRequest{ForceIDR: r.ForceIDR}, nil
	case "stoppublishing":
		return &event.StopPublishing{}, nil
	}
	return nil, fmt.Errorf("%w: event kind %q", errors.ErrValueInvalid, r.Kind)
}

// RegisterHTTPHandlers registers the control endpoints under prefix.
func (e *Engine) RegisterHTTPHandlers(prefix string, mux *http.ServeMux) {
	if !strings.HasSuffix(prefix, "/") {
		prefix = prefix + "/"
	}

	mux.HandleFunc("GET "+prefix+"health", e.handleHealth)
	mux.HandleFunc("GET "+prefix+"load", e.handleLoad)
	mux.HandleFunc("GET "+prefix+"streamlets", e.handleList)
	mux.HandleFunc("POST "+prefix+"streamlets", e.handleAdd)
	mux.HandleFunc("DELETE "+prefix+"streamlets/{name}", e.handleRemove)
	mux.HandleFunc("POST "+prefix+"streamlets/{name}/pause", e.handlePause)
	mux.HandleFunc("POST "+prefix+"streamlets/{name}/resume", e.handleResume)
	mux.HandleFunc("POST "+prefix+"links", e.handleLink)
	mux.HandleFunc("DELETE "+prefix+"links", e.handleUnlink)
	mux.HandleFunc("POST "+prefix+"events", e.handleEvent)

	e.logger.Info("Engine HTTP handlers registered", "prefix", prefix)
}

// HealthHandler serves the river health, answering 503 when unhealthy.
func (e *Engine) HealthHandler() http.HandlerFunc { return e.handleHealth }

func (e *Engine) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := e.river.Health()
	code := http.StatusOK
	if status.IsUnhealthy() {
		code = http.StatusServiceUnavailable
	}
	e.writeJSON(w, code, status)
}

func (e *Engine) handleLoad(w http.ResponseWriter, _ *http.Request) {
	e.writeJSON(w, http.StatusOK, e.river.Load())
}

func (e *Engine) handleList(w http.ResponseWriter, _ *http.Request) {
	streamlets := e.river.Streamlets()
	out := make([]StreamletInfo, 0, len(streamlets))
	for _, s := range streamlets {
		out = append(out, describe(s))
	}
	e.writeJSON(w, http.StatusOK, out)
}

func describe(s *streamlet.Streamlet) StreamletInfo {
	info := StreamletInfo{
		Name:  s.Tag().Name,
		Kind:  s.Tag().Kind.String(),
		Group: uint64(s.GroupID()),
	}
	for _, n := range s.Nodes() {
		ni := NodeInfo{
			Tag:      n.Tag(),
			Category: n.Category().String(),
			State:    n.State().String(),
			Queue:    n.QueueLen(),
			InFlight: n.InFlight(),
		}
		if err := n.Failure(); err != nil {
			ni.Error = err.Error()
		}
		info.Nodes = append(info.Nodes, ni)
	}
	return info
}

func (e *Engine) handleAdd(w http.ResponseWriter, r *http.Request) {
	var def config.StreamletDef
	if !e.decode(w, r, &def) {
		return
	}
	s, err := e.AddStreamlet(&def)
	if err != nil && s == nil {
		e.writeError(w, err)
		return
	}
	if err != nil {
		// built and added but failed to start; the monitor reports it
		e.writeJSON(w, http.StatusAccepted, describe(s))
		return
	}
	e.writeJSON(w, http.StatusCreated, describe(s))
}

func (e *Engine) handleRemove(w http.ResponseWriter, r *http.Request) {
	if err := e.RemoveStreamlet(r.PathValue("name")); err != nil {
		e.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (e *Engine) handlePause(w http.ResponseWriter, r *http.Request) {
	if err := e.Pause(r.PathValue("name")); err != nil {
		e.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (e *Engine) handleResume(w http.ResponseWriter, r *http.Request) {
	if err := e.Resume(r.PathValue("name")); err != nil {
		e.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (e *Engine) handleLink(w http.ResponseWriter, r *http.Request) {
	var l config.Link
	if !e.decode(w, r, &l) {
		return
	}
	if err := e.Link(l); err != nil {
		e.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (e *Engine) handleUnlink(w http.ResponseWriter, r *http.Request) {
	var l config.Link
	if !e.decode(w, r, &l) {
		return
	}
	if err := e.Unlink(l); err != nil {
		e.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (e *Engine) handleEvent(w http.ResponseWriter, r *http.Request) {
	var req EventRequest
	if !e.decode(w, r, &req) {
		return
	}
	ev, err := req.Event()
	if err != nil {
		e.writeError(w, errors.WrapInvalid(err, "Engine", "handleEvent", "build event"))
		return
	}
	if err := e.SendEvent(config.ParseEndpoint(req.To), ev); err != nil {
		e.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// decodeRequest reads a YAML or JSON body into v. Unknown fields are
// rejected.
func decodeRequest(body []byte, v any) error {
	dec := yaml.NewDecoder(bytes.NewReader(body))
	dec.KnownFields(true)
	if err := dec.Decode(v); err != nil {
		return errors.WrapInvalid(err, "Engine", "decodeRequest", "decode body")
	}
	return nil
}

// decode reads a request body into v, answering 400 on failure.
func (e *Engine) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err == nil {
		err = decodeRequest(body, v)
	}
	if err != nil {
		e.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return false
	}
	return true
}

func (e *Engine) writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, errors.ErrNoSuchKey):
		code = http.StatusNotFound
	case errors.Is(err, errors.ErrKeyExists):
		code = http.StatusConflict
	case errors.IsInvalid(err), errors.Is(err, errors.ErrEventNotSupported):
		code = http.StatusBadRequest
	}
	e.writeJSON(w, code, map[string]string{"error": err.Error()})
}

func (e *Engine) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		e.logger.Error("Failed to encode response", "error", err)
	}
}
