package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"whisperflow/internal/api"
	"whisperflow/internal/logging"
	"whisperflow/internal/media"
	"whisperflow/internal/pipeline"
	"whisperflow/internal/services"
	"whisperflow/internal/subtitles"
)

const (
	multipartMemory = 32 << 20
	writeWait       = 10 * time.Second
)

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	if s.cfg.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	}
	release, err := s.deps.Lock.TryAcquire()
	if err != nil {
		s.writeError(w, err)
		return
	}
	handedOff := false
	defer func() {
		if !handedOff {
			release()
		}
	}()

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, err)
			return
		}
		s.writeError(w, services.Wrap(services.ErrInvalidOptions, "", "parse upload", "expected a multipart form with a file field", err))
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	opts, err := parseOptions(r, s.cfg.Defaults)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := opts.Validate(); err != nil {
		s.writeError(w, err)
		return
	}
	token, err := s.token(opts)
	if err != nil {
		s.writeError(w, err)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, services.Wrap(services.ErrInvalidOptions, "", "parse upload", "missing file field", err))
		return
	}
	defer file.Close()
	kind, err := media.CheckUpload(header.Filename)
	if err != nil {
		s.writeError(w, err)
		return
	}
	wave, err := s.deps.Ingest.Load(r.Context(), media.Upload{Name: header.Filename, Body: file})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.metrics.UploadAccepted(r.Context(), kindLabel(kind))

	run := s.orch.NewRun()
	e := &entry{run: run, wave: wave, done: make(chan struct{})}
	s.retain(e)
	handedOff = true
	s.start(e, pipeline.Request{Waveform: wave, Options: opts, Token: token}, release)

	if wantsWait(r) {
		select {
		case <-e.done:
			s.writeJSON(w, http.StatusOK, api.FromSnapshot(run.Snapshot(), true))
		case <-r.Context().Done():
		}
		return
	}
	w.Header().Set("Location", "/api/transcriptions/"+run.ID())
	s.writeJSON(w, http.StatusAccepted, api.FromSnapshot(run.Snapshot(), false))
}

// start executes the run in the background and frees the lock afterwards.
func (s *Server) start(e *entry, req pipeline.Request, release func()) {
	s.runs.Add(1)
	s.active.Store(true)
	ctx := s.runCtx
	go func() {
		defer s.runs.Done()
		defer close(e.done)
		defer release()
		defer s.active.Store(false)

		s.metrics.RunStarted(ctx)
		_ = s.orch.ExecuteRun(ctx, e.run, req)
		s.metrics.RunFinished(ctx, e.run.Snapshot())
	}()
}

func (s *Server) token(opts pipeline.Options) (string, error) {
	if !opts.Diarize {
		return "", nil
	}
	if s.deps.Tokens == nil {
		return "", services.Wrap(services.ErrMissingCredential, "", "load token", "no credential store configured", nil)
	}
	token, _, err := s.deps.Tokens.Token()
	if err != nil {
		return "", services.Wrap(services.ErrMissingCredential, "", "load token", "read secrets file", err)
	}
	if token == "" {
		return "", services.Wrap(services.ErrMissingCredential, "", "load token", "diarization requires a Hugging Face token", nil)
	}
	return token, nil
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	e := s.lookup(r.PathValue("id"))
	if e == nil {
		s.writeJSON(w, http.StatusNotFound, api.ErrorResponse{Error: api.Error{Kind: "not_found", Message: "run not found"}})
		return
	}
	s.writeJSON(w, http.StatusOK, api.FromSnapshot(e.run.Snapshot(), true))
}

func (s *Server) handleSubtitles(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	e := s.lookup(id)
	if e == nil {
		s.writeJSON(w, http.StatusNotFound, api.ErrorResponse{Error: api.Error{Kind: "not_found", Message: "run not found"}})
		return
	}
	snap := e.run.Snapshot()
	switch snap.State {
	case pipeline.StateCompleted:
	case pipeline.StateFailed:
		s.writeError(w, snap.Err)
		return
	default:
		s.writeError(w, services.Wrap(services.ErrBusy, "", "download", fmt.Sprintf("run is %s", snap.State), nil))
		return
	}

	query := r.URL.Query()
	format, err := subtitles.ParseFormat(query.Get("format"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	speakersFlag, err := parseBool(query.Get("speakers"), false)
	if err != nil {
		s.writeError(w, services.Wrap(services.ErrInvalidOptions, "", "download", "speakers must be a boolean", err))
		return
	}
	content, filename, err := subtitles.FormatWith(*snap.Result, format, subtitles.FormatOptions{TrimText: true, SpeakerPrefix: speakersFlag})
	if err != nil {
		s.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", subtitles.MIMEType+"; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(content)); err != nil {
		s.logger.Warn("subtitle download interrupted",
			logging.Error(err),
			logging.String(logging.FieldEventType, "download_interrupted"),
			logging.String(logging.FieldErrorHint, "the client can request the artifact again"),
			logging.String(logging.FieldImpact, "run retained"),
		)
		return
	}
	s.discard(id)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	e := s.lookup(r.PathValue("id"))
	if e == nil {
		s.writeJSON(w, http.StatusNotFound, api.ErrorResponse{Error: api.Error{Kind: "not_found", Message: "run not found"}})
		return
	}
	events, unsubscribe := s.hub.subscribe(e.run.ID())
	defer unsubscribe()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	snap := e.run.Snapshot()
	current := pipeline.Event{RunID: snap.ID, State: snap.State, Progress: snap.Progress, Time: time.Now()}
	if err := writeEvent(conn, current); err != nil || snap.State.Terminal() {
		closeNormal(conn)
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				final := e.run.Snapshot()
				_ = writeEvent(conn, pipeline.Event{RunID: final.ID, State: final.State, Progress: final.Progress, Time: time.Now()})
				closeNormal(conn)
				return
			}
			if err := writeEvent(conn, evt); err != nil {
				return
			}
			if evt.State.Terminal() {
				closeNormal(conn)
				return
			}
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	payload := api.Health{Ready: true, Busy: s.active.Load(), Checks: []api.CheckStatus{}}
	if s.deps.Health != nil {
		payload.Checks = api.FromChecks(s.deps.Health(r.Context()))
	}
	for _, c := range payload.Checks {
		if !c.Ready {
			payload.Ready = false
		}
	}
	status := http.StatusOK
	if !payload.Ready {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, payload)
}

func writeEvent(conn *websocket.Conn, evt pipeline.Event) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(api.FromEvent(evt))
}

func closeNormal(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}

// parseOptions overlays form values on defaults.
func parseOptions(r *http.Request, defaults pipeline.Options) (pipeline.Options, error) {
	opts := defaults
	var err error
	flags := []struct {
		name string
		dst  *bool
	}{
		{"align", &opts.Align},
		{"return_char_alignments", &opts.ReturnCharAlignments},
		{"diarize", &opts.Diarize},
	}
	for _, f := range flags {
		if *f.dst, err = parseBool(r.FormValue(f.name), *f.dst); err != nil {
			return opts, services.Wrap(services.ErrInvalidOptions, "", "parse options",
				fmt.Sprintf("%s must be a boolean", f.name), err)
		}
	}
	if v := strings.TrimSpace(r.FormValue("batch_size")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return opts, services.Wrap(services.ErrInvalidOptions, "", "parse options", "batch_size must be an integer", err)
		}
		opts.BatchSize = n
	}
	if v := strings.TrimSpace(r.FormValue("compute_type")); v != "" {
		ct, err := pipeline.ParseComputeType(v)
		if err != nil {
			return opts, err
		}
		opts.ComputeType = ct
	}
	return opts, nil
}

func parseBool(value string, fallback bool) (bool, error) {
	value = strings.ToLower(strings.TrimSpace(value))
	switch value {
	case "":
		return fallback, nil
	case "on", "yes":
		return true, nil
	case "off", "no":
		return false, nil
	}
	return strconv.ParseBool(value)
}

func wantsWait(r *http.Request) bool {
	wait, _ := parseBool(r.URL.Query().Get("wait"), false)
	return wait
}

func kindLabel(kind media.Kind) string {
	if kind == media.KindVideo {
		return "video"
	}
	return "audio"
}
