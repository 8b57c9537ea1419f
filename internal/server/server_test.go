package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"whisperflow/internal/api"
	"whisperflow/internal/credentials"
	"whisperflow/internal/media"
	"whisperflow/internal/observe"
	"whisperflow/internal/pipeline"
	"whisperflow/internal/preflight"
	"whisperflow/internal/services"
	"whisperflow/internal/speakers"
	"whisperflow/internal/transcript"
)

type fakeHandle struct{}

func (fakeHandle) Release() error { return nil }

type fakeASR struct {
	fakeHandle
	gate   chan struct{}
	result transcript.Result
}

func (f *fakeASR) Transcribe(context.Context, media.Waveform, int) (transcript.Result, error) {
	if f.gate != nil {
		<-f.gate
	}
	return f.result.Clone(), nil
}

type fakeAligner struct{ fakeHandle }

func (fakeAligner) Align(_ context.Context, segs []transcript.Segment, _ media.Waveform, _ bool) ([]transcript.Segment, error) {
	out := make([]transcript.Segment, len(segs))
	for i, seg := range segs {
		seg.Words = []transcript.WordSpan{{Word: seg.Text, Start: seg.Start, End: seg.End}}
		out[i] = seg
	}
	return out, nil
}

type fakeDiarizer struct{ fakeHandle }

func (fakeDiarizer) Diarize(context.Context, media.Waveform) ([]speakers.Turn, error) {
	return []speakers.Turn{{Start: 0, End: 10, Speaker: "SPEAKER_00"}}, nil
}

func fakeModels(asr *fakeASR) pipeline.Models {
	return pipeline.Models{
		LoadASR: func(context.Context, pipeline.ASRConfig) (pipeline.ASRModel, error) { return asr, nil },
		LoadAligner: func(_ context.Context, lang string) (pipeline.AlignModel, error) {
			if lang != "en" {
				return nil, services.Wrap(services.ErrUnsupportedLanguage, "align", "load", "no model for "+lang, nil)
			}
			return fakeAligner{}, nil
		},
		LoadDiarizer: func(context.Context, string) (pipeline.DiarizeModel, error) { return fakeDiarizer{}, nil },
	}
}

type fakeIngest struct {
	mu    sync.Mutex
	names []string
}

func (f *fakeIngest) Load(_ context.Context, up media.Upload) (media.Waveform, error) {
	if _, err := io.Copy(io.Discard, up.Body); err != nil {
		return media.Waveform{}, err
	}
	f.mu.Lock()
	f.names = append(f.names, up.Name)
	f.mu.Unlock()
	return media.FromSamples(make([]float32, media.SampleRate)), nil
}

type staticTokens string

func (s staticTokens) Token() (string, credentials.Source, error) {
	if s == "" {
		return "", credentials.SourceNone, nil
	}
	return string(s), credentials.SourceFile, nil
}

var englishResult = transcript.Result{Language: "en", Segments: []transcript.Segment{
	{Start: 0, End: 1.5, Text: " Hello there."},
	{Start: 2, End: 3.25, Text: " General Kenobi."},
}}

type harness struct {
	srv     *Server
	handler http.Handler
	ingest  *fakeIngest
	lock    *pipeline.RunLock
}

func newHarness(t *testing.T, cfg Config, asr *fakeASR, mutate func(*Dependencies)) *harness {
	t.Helper()
	if asr == nil {
		asr = &fakeASR{result: englishResult}
	}
	h := &harness{ingest: &fakeIngest{}, lock: pipeline.NewRunLock("")}
	deps := Dependencies{
		Models: fakeModels(asr),
		Ingest: h.ingest,
		Tokens: staticTokens(""),
		Lock:   h.lock,
	}
	if mutate != nil {
		mutate(&deps)
	}
	srv, err := New(cfg, deps)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(srv.Close)
	h.srv = srv
	h.handler = srv.Handler()
	return h
}

func uploadRequest(t *testing.T, name string, fields map[string]string, query string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		t.Fatalf("create file: %v", err)
	}
	_, _ = part.Write([]byte("RIFF....WAVEfmt "))
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	target := "/api/transcriptions"
	if query != "" {
		target += "?" + query
	}
	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeRun(t *testing.T, rec *httptest.ResponseRecorder) api.Run {
	t.Helper()
	var run api.Run
	if err := json.Unmarshal(rec.Body.Bytes(), &run); err != nil {
		t.Fatalf("decode run: %v (%s)", err, rec.Body.String())
	}
	return run
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) api.Error {
	t.Helper()
	var resp api.ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error: %v (%s)", err, rec.Body.String())
	}
	return resp.Error
}

func TestUploadWaitAndDownloadSRT(t *testing.T) {
	h := newHarness(t, Config{}, nil, nil)

	rec := serve(h.handler, uploadRequest(t, "talk.WAV", nil, "wait=true"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	run := decodeRun(t, rec)
	if run.State != "completed" || run.Progress != 100 || !run.Final {
		t.Fatalf("unexpected run: %+v", run)
	}
	if len(run.Segments) != 2 || run.Language != "en" {
		t.Fatalf("unexpected segments: %+v", run)
	}

	rec = serve(h.handler, httptest.NewRequest(http.MethodGet, "/api/transcriptions/"+run.ID+"/subtitles?format=srt", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("download: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	want := "1\n00:00:00,000 --> 00:00:01,500\nHello there.\n\n2\n00:00:02,000 --> 00:00:03,250\nGeneral Kenobi.\n\n"
	if rec.Body.String() != want {
		t.Fatalf("unexpected srt:\n%q\nwant\n%q", rec.Body.String(), want)
	}
	if got := rec.Header().Get("Content-Disposition"); !strings.Contains(got, "transcription.srt") {
		t.Fatalf("unexpected content disposition %q", got)
	}
	if !strings.HasPrefix(rec.Header().Get("Content-Type"), "text/plain") {
		t.Fatalf("unexpected content type %q", rec.Header().Get("Content-Type"))
	}

	rec = serve(h.handler, httptest.NewRequest(http.MethodGet, "/api/transcriptions/"+run.ID, nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("run should be discarded after download, got %d", rec.Code)
	}
}

func TestUploadRejectsUnsupportedExtension(t *testing.T) {
	h := newHarness(t, Config{}, nil, nil)
	rec := serve(h.handler, uploadRequest(t, "notes.flac", nil, ""))
	if rec.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected 415, got %d", rec.Code)
	}
	if e := decodeError(t, rec); e.Kind != "unsupported_file_type" {
		t.Fatalf("unexpected error kind %q", e.Kind)
	}
	if len(h.ingest.names) != 0 {
		t.Fatal("ingest should not run for rejected uploads")
	}
}

func TestUploadRejectsInvalidOptions(t *testing.T) {
	h := newHarness(t, Config{}, nil, nil)
	tests := []struct {
		name   string
		fields map[string]string
	}{
		{"batch too large", map[string]string{"batch_size": "40"}},
		{"batch zero", map[string]string{"batch_size": "0"}},
		{"batch not int", map[string]string{"batch_size": "many"}},
		{"compute type", map[string]string{"compute_type": "float64"}},
		{"flag", map[string]string{"align": "maybe"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := serve(h.handler, uploadRequest(t, "a.mp3", tc.fields, ""))
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
			}
			if e := decodeError(t, rec); e.Kind != "invalid_options" {
				t.Fatalf("unexpected kind %q", e.Kind)
			}
		})
	}
}

func TestDiarizeWithoutTokenReleasesLock(t *testing.T) {
	h := newHarness(t, Config{}, nil, nil)
	rec := serve(h.handler, uploadRequest(t, "a.m4a", map[string]string{"diarize": "true"}, ""))
	if rec.Code != http.StatusPreconditionFailed {
		t.Fatalf("expected 412, got %d: %s", rec.Code, rec.Body.String())
	}
	release, err := h.lock.TryAcquire()
	if err != nil {
		t.Fatalf("lock should be free after rejection: %v", err)
	}
	release()
}

func TestDiarizeWithToken(t *testing.T) {
	h := newHarness(t, Config{}, nil, func(d *Dependencies) { d.Tokens = staticTokens("hf_abc") })
	rec := serve(h.handler, uploadRequest(t, "a.mp4", map[string]string{"align": "on", "diarize": "yes"}, "wait=1"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	run := decodeRun(t, rec)
	if len(run.Speakers) != 1 || run.Speakers[0] != "SPEAKER_00" {
		t.Fatalf("expected one speaker, got %+v", run.Speakers)
	}
	rec = serve(h.handler, httptest.NewRequest(http.MethodGet, "/api/transcriptions/"+run.ID+"/subtitles?format=txt&speakers=true", nil))
	if got := rec.Body.String(); got != "[SPEAKER_00] Hello there.\n[SPEAKER_00] General Kenobi.\n" {
		t.Fatalf("unexpected txt: %q", got)
	}
}

func TestUploadWhileBusy(t *testing.T) {
	h := newHarness(t, Config{}, nil, nil)
	release, err := h.lock.TryAcquire()
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer release()

	rec := serve(h.handler, uploadRequest(t, "a.wav", nil, ""))
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestUploadTooLarge(t *testing.T) {
	h := newHarness(t, Config{MaxUploadBytes: 16}, nil, nil)
	rec := serve(h.handler, uploadRequest(t, "a.wav", nil, ""))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestFailedRunDownloadMapsError(t *testing.T) {
	asr := &fakeASR{result: transcript.Result{Language: "xx", Segments: []transcript.Segment{{Start: 0, End: 1, Text: "?"}}}}
	h := newHarness(t, Config{}, asr, func(d *Dependencies) { d.Fallback = pipeline.FallbackFail })

	rec := serve(h.handler, uploadRequest(t, "a.wav", map[string]string{"align": "true"}, "wait=true"))
	run := decodeRun(t, rec)
	if run.State != "failed" || run.Error == nil || run.Error.Kind != "unsupported_language" {
		t.Fatalf("unexpected run: %+v", run)
	}
	rec = serve(h.handler, httptest.NewRequest(http.MethodGet, "/api/transcriptions/"+run.ID+"/subtitles", nil))
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
}

func TestUnknownRun(t *testing.T) {
	h := newHarness(t, Config{}, nil, nil)
	for _, path := range []string{"/api/transcriptions/nope", "/api/transcriptions/nope/subtitles"} {
		if rec := serve(h.handler, httptest.NewRequest(http.MethodGet, path, nil)); rec.Code != http.StatusNotFound {
			t.Fatalf("%s: expected 404, got %d", path, rec.Code)
		}
	}
}

func TestEventsStreamUntilCompleted(t *testing.T) {
	asr := &fakeASR{gate: make(chan struct{}), result: englishResult}
	h := newHarness(t, Config{}, asr, nil)
	ts := httptest.NewServer(h.handler)
	defer ts.Close()

	rec := serve(h.handler, uploadRequest(t, "a.wav", nil, ""))
	if rec.Code != http.StatusAccepted {
		close(asr.gate)
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	run := decodeRun(t, rec)

	// A download before completion is rejected.
	if r := serve(h.handler, httptest.NewRequest(http.MethodGet, "/api/transcriptions/"+run.ID+"/subtitles", nil)); r.Code != http.StatusConflict {
		close(asr.gate)
		t.Fatalf("expected 409 while running, got %d", r.Code)
	}

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/transcriptions/" + run.ID + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		close(asr.gate)
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	var first api.Event
	if err := conn.ReadJSON(&first); err != nil {
		close(asr.gate)
		t.Fatalf("read first event: %v", err)
	}
	if first.RunID != run.ID || (first.State != "idle" && first.State != "transcribing") {
		close(asr.gate)
		t.Fatalf("unexpected first event: %+v", first)
	}
	close(asr.gate)

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	last := first
	for {
		var evt api.Event
		if err := conn.ReadJSON(&evt); err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) && closeErr.Code == websocket.CloseNormalClosure {
				break
			}
			t.Fatalf("read event: %v", err)
		}
		if evt.Progress < last.Progress {
			t.Fatalf("progress went backwards: %d -> %d", last.Progress, evt.Progress)
		}
		last = evt
	}
	if last.State != "completed" || last.Progress != 100 {
		t.Fatalf("expected completed/100 as the final event, got %+v", last)
	}
}

func TestHealthReportsChecks(t *testing.T) {
	h := newHarness(t, Config{}, nil, func(d *Dependencies) {
		d.Health = func(context.Context) []preflight.Result {
			return []preflight.Result{
				{Name: "ffmpeg", Passed: true, Detail: "/usr/bin/ffmpeg"},
				{Name: "uvx", Detail: "binary \"uvx\" not found"},
			}
		}
	})
	rec := serve(h.handler, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	var payload api.Health
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Ready || len(payload.Checks) != 2 {
		t.Fatalf("unexpected health: %+v", payload)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	telemetry, err := observe.NewProvider(false)
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	t.Cleanup(func() { _ = telemetry.Shutdown(context.Background()) })
	h := newHarness(t, Config{}, nil, func(d *Dependencies) { d.Telemetry = telemetry })

	serve(h.handler, uploadRequest(t, "a.wav", nil, "wait=true"))
	rec := serve(h.handler, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{"whisperflow_runs", "whisperflow_stage_duration", "whisperflow_http_request_duration"} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics missing %s", want)
		}
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{services.Wrap(services.ErrInvalidOptions, "", "", "x", nil), http.StatusBadRequest},
		{services.Wrap(services.ErrUnsupportedFileType, "", "", "x", nil), http.StatusUnsupportedMediaType},
		{services.Wrap(services.ErrMissingCredential, "", "", "x", nil), http.StatusPreconditionFailed},
		{services.Wrap(services.ErrUnsupportedLanguage, "", "", "x", nil), http.StatusUnprocessableEntity},
		{services.Wrap(services.ErrBusy, "", "", "x", nil), http.StatusConflict},
		{services.Wrap(services.ErrModelLoad, "", "", "x", nil), http.StatusInternalServerError},
		{services.Wrap(services.ErrInference, "", "", "x", nil), http.StatusInternalServerError},
		{services.Wrap(services.ErrExternalTool, "", "", "x", nil), http.StatusBadGateway},
		{&http.MaxBytesError{Limit: 1}, http.StatusRequestEntityTooLarge},
		{errors.New("plain"), http.StatusInternalServerError},
	}
	for _, tc := range tests {
		if got := statusFor(tc.err); got != tc.want {
			t.Errorf("statusFor(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}
