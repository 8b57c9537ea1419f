package whisperx

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"whisperflow/internal/media"
	"whisperflow/internal/pipeline"
	"whisperflow/internal/services"
	"whisperflow/internal/transcript"
)

// fakeWorker speaks the bridge protocol over in-memory pipes.
type fakeWorker struct {
	spec    CommandSpec
	handle  func(req request) (reply, bool)
	stderr  []string
	inR     *io.PipeReader
	inW     *io.PipeWriter
	outR    *io.PipeReader
	outW    *io.PipeWriter
	errR    *io.PipeReader
	errW    *io.PipeWriter
	done    chan struct{}
	mu      sync.Mutex
	seen    []request
	killed  bool
	killMux sync.Once
}

func (f *fakeWorker) run() {
	defer close(f.done)
	defer f.errW.Close()
	defer f.outW.Close()
	for _, line := range f.stderr {
		_, _ = io.WriteString(f.errW, line+"\n")
	}
	scanner := bufio.NewScanner(f.inR)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var req request
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			return
		}
		f.mu.Lock()
		f.seen = append(f.seen, req)
		f.mu.Unlock()
		resp, ok := f.handle(req)
		if !ok {
			return
		}
		if resp.Event == "" {
			continue
		}
		data, _ := json.Marshal(resp)
		if _, err := f.outW.Write(append(data, '\n')); err != nil {
			return
		}
	}
}

func (f *fakeWorker) Stdin() io.WriteCloser { return f.inW }
func (f *fakeWorker) Stdout() io.Reader     { return f.outR }
func (f *fakeWorker) Stderr() io.Reader     { return f.errR }

func (f *fakeWorker) Wait() error {
	<-f.done
	return nil
}

func (f *fakeWorker) Kill() error {
	f.killMux.Do(func() {
		f.mu.Lock()
		f.killed = true
		f.mu.Unlock()
		_ = f.inR.CloseWithError(io.ErrClosedPipe)
		_ = f.outW.Close()
		_ = f.errW.Close()
	})
	return nil
}

func (f *fakeWorker) requests() []request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.seen)
}

type fakeStarter struct {
	handle  func(req request) (reply, bool)
	stderr  []string
	mu      sync.Mutex
	workers []*fakeWorker
}

func (s *fakeStarter) start(_ context.Context, spec CommandSpec) (Process, error) {
	f := &fakeWorker{spec: spec, handle: s.handle, stderr: s.stderr, done: make(chan struct{})}
	f.inR, f.inW = io.Pipe()
	f.outR, f.outW = io.Pipe()
	f.errR, f.errW = io.Pipe()
	go f.run()
	s.mu.Lock()
	s.workers = append(s.workers, f)
	s.mu.Unlock()
	return f, nil
}

func (s *fakeStarter) last(t *testing.T) *fakeWorker {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.workers) == 0 {
		t.Fatal("no worker started")
	}
	return s.workers[len(s.workers)-1]
}

func resultReply(t *testing.T, v any) reply {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return reply{Event: eventResult, Result: data}
}

func ptr(v float64) *float64 { return &v }

func newTestService(starter *fakeStarter, cfg Config) *Service {
	return New(cfg, WithStarter(starter.start))
}

var testWave = media.Waveform{Path: "/tmp/audio.wav", SampleRate: media.SampleRate, Duration: 4 * time.Second}

func TestCommandUsesCUDAIndexesAndTorchOverride(t *testing.T) {
	t.Setenv("TORCH_FORCE_NO_WEIGHTS_ONLY_LOAD", "")
	svc := New(Config{Device: CUDADevice, CUDAIndexURL: "https://cuda.example/whl"})
	spec := svc.command([]string{"HF_TOKEN=secret"})

	if spec.Name != UVXCommand {
		t.Fatalf("expected uvx binary, got %q", spec.Name)
	}
	joined := strings.Join(spec.Args, " ")
	for _, want := range []string{
		"--index-url https://cuda.example/whl",
		"--extra-index-url https://pypi.org/simple",
		"--from whisperx python",
	} {
		if !strings.Contains(joined, want) {
			t.Fatalf("args missing %q: %v", want, spec.Args)
		}
	}
	if strings.Contains(joined, "secret") {
		t.Fatal("token leaked into arguments")
	}
	if !slices.Contains(spec.Env, "TORCH_FORCE_NO_WEIGHTS_ONLY_LOAD=1") {
		t.Fatalf("expected torch override in env, got %v", spec.Env)
	}
	if !slices.Contains(spec.Env, "HF_TOKEN=secret") {
		t.Fatalf("expected token in env, got %v", spec.Env)
	}
}

func TestCommandCPUUsesPypiOnly(t *testing.T) {
	svc := New(Config{Device: CPUDevice})
	spec := svc.command(nil)
	if slices.Contains(spec.Args, "--extra-index-url") {
		t.Fatalf("cpu command should not add cuda index: %v", spec.Args)
	}
	if spec.Args[0] != "--index-url" || spec.Args[1] != "https://pypi.org/simple" {
		t.Fatalf("unexpected index args: %v", spec.Args[:2])
	}
}

func TestTranscribeRoundTrip(t *testing.T) {
	starter := &fakeStarter{}
	starter.handle = func(req request) (reply, bool) {
		switch req.Op {
		case "load":
			return reply{Event: eventReady}, true
		case "transcribe":
			return resultReply(t, wireTranscript{
				Language: "en",
				Segments: []wireSegment{
					{Start: 0, End: 1.5, Text: " Hello there. "},
					{Start: 2, End: 3.5, Text: "General Kenobi."},
				},
			}), true
		}
		return reply{Event: eventError, Message: "unexpected"}, true
	}
	svc := newTestService(starter, Config{Device: CPUDevice})

	model, err := svc.LoadASR(context.Background(), pipeline.ASRConfig{ComputeType: pipeline.ComputeFloat16})
	if err != nil {
		t.Fatalf("LoadASR: %v", err)
	}
	res, err := model.Transcribe(context.Background(), testWave, 8)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if err := model.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}

	if res.Language != "en" || len(res.Segments) != 2 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Segments[0].Text != "Hello there." {
		t.Fatalf("expected trimmed text, got %q", res.Segments[0].Text)
	}
	reqs := starter.last(t).requests()
	if len(reqs) != 2 {
		t.Fatalf("expected load and transcribe requests, got %d", len(reqs))
	}
	if reqs[0].ComputeType != CPUComputeType {
		t.Fatalf("expected float16 to fall back to %s on cpu, got %q", CPUComputeType, reqs[0].ComputeType)
	}
	if reqs[1].BatchSize != 8 || reqs[1].Audio != testWave.Path {
		t.Fatalf("unexpected transcribe request: %+v", reqs[1])
	}
}

func TestAlignFillsMissingWordTimes(t *testing.T) {
	starter := &fakeStarter{}
	starter.handle = func(req request) (reply, bool) {
		if req.Op == "load" {
			return reply{Event: eventReady}, true
		}
		return resultReply(t, wireTranscript{Segments: []wireSegment{{
			Start: 1, End: 3, Text: "in 1999 ok",
			Words: []wireWord{
				{Word: "in", Start: ptr(1), End: ptr(1.2)},
				{Word: "1999"},
				{Word: "ok", Start: ptr(2.5)},
			},
			Chars: []wireChar{{Char: "i", Start: ptr(1), End: ptr(1.1)}},
		}}}), true
	}
	svc := newTestService(starter, Config{})

	model, err := svc.LoadAligner(context.Background(), "en")
	if err != nil {
		t.Fatalf("LoadAligner: %v", err)
	}
	defer model.Release()
	segs, err := model.Align(context.Background(), []transcript.Segment{{Start: 1, End: 3, Text: "in 1999 ok"}}, testWave, false)
	if err != nil {
		t.Fatalf("Align: %v", err)
	}
	words := segs[0].Words
	if len(words) != 3 {
		t.Fatalf("expected 3 words, got %d", len(words))
	}
	if words[1].Start != 1.2 || words[1].End != 1.2 {
		t.Fatalf("expected missing span to inherit previous end, got %+v", words[1])
	}
	if words[2].Start != 2.5 || words[2].End != 2.5 {
		t.Fatalf("expected missing end to collapse onto start, got %+v", words[2])
	}
	if segs[0].Chars != nil {
		t.Fatal("character spans should be dropped when not requested")
	}
	if req := starter.last(t).requests()[0]; req.Language != "en" || req.Kind != kindAlign {
		t.Fatalf("unexpected load request: %+v", req)
	}
}

func TestLoadAlignerRejectsUnknownLanguageWithoutWorker(t *testing.T) {
	starter := &fakeStarter{handle: func(request) (reply, bool) { return reply{Event: eventReady}, true }}
	svc := newTestService(starter, Config{})

	_, err := svc.LoadAligner(context.Background(), "xx")
	if !errors.Is(err, services.ErrUnsupportedLanguage) {
		t.Fatalf("expected ErrUnsupportedLanguage, got %v", err)
	}
	if len(starter.workers) != 0 {
		t.Fatal("no worker should start for an unsupported language")
	}
}

func TestWorkerErrorKindsMapToMarkers(t *testing.T) {
	tests := []struct {
		kind string
		want error
	}{
		{errorKindUnsupportedLanguage, services.ErrUnsupportedLanguage},
		{errorKindModelLoad, services.ErrModelLoad},
	}
	for _, tc := range tests {
		t.Run(tc.kind, func(t *testing.T) {
			starter := &fakeStarter{handle: func(request) (reply, bool) {
				return reply{Event: eventError, Kind: tc.kind, Message: "nope"}, true
			}}
			svc := newTestService(starter, Config{})
			_, err := svc.LoadAligner(context.Background(), "fr")
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestDiarizerTokenHandling(t *testing.T) {
	starter := &fakeStarter{}
	starter.handle = func(req request) (reply, bool) {
		if req.Op == "load" {
			return reply{Event: eventReady}, true
		}
		return resultReply(t, wireDiarization{Turns: []wireTurn{
			{Start: 0, End: 2, Speaker: "SPEAKER_00"},
			{Start: 3, End: 2, Speaker: "SPEAKER_01"},
		}}), true
	}
	svc := newTestService(starter, Config{})

	if _, err := svc.LoadDiarizer(context.Background(), ""); !errors.Is(err, services.ErrMissingCredential) {
		t.Fatalf("expected ErrMissingCredential, got %v", err)
	}

	model, err := svc.LoadDiarizer(context.Background(), "hf_test")
	if err != nil {
		t.Fatalf("LoadDiarizer: %v", err)
	}
	defer model.Release()
	if !slices.Contains(starter.last(t).spec.Env, "HF_TOKEN=hf_test") {
		t.Fatalf("expected token in worker env, got %v", starter.last(t).spec.Env)
	}
	turns, err := model.Diarize(context.Background(), testWave)
	if err != nil {
		t.Fatalf("Diarize: %v", err)
	}
	if len(turns) != 1 || turns[0].Speaker != "SPEAKER_00" {
		t.Fatalf("expected inverted turn to be dropped, got %+v", turns)
	}
}

func TestWorkerCrashIsInferenceError(t *testing.T) {
	starter := &fakeStarter{stderr: []string{"Traceback (most recent call last):", "RuntimeError: CUDA out of memory"}}
	starter.handle = func(req request) (reply, bool) {
		if req.Op == "load" {
			return reply{Event: eventReady}, true
		}
		return reply{}, false
	}
	svc := newTestService(starter, Config{})

	model, err := svc.LoadASR(context.Background(), pipeline.ASRConfig{ComputeType: pipeline.ComputeInt8})
	if err != nil {
		t.Fatalf("LoadASR: %v", err)
	}
	defer model.Release()
	_, err = model.Transcribe(context.Background(), testWave, 16)
	if !errors.Is(err, services.ErrInference) {
		t.Fatalf("expected ErrInference, got %v", err)
	}
}

func TestLoadTimeoutKillsWorker(t *testing.T) {
	starter := &fakeStarter{handle: func(request) (reply, bool) { return reply{}, true }}
	svc := newTestService(starter, Config{LoadTimeout: 50 * time.Millisecond})

	_, err := svc.LoadASR(context.Background(), pipeline.ASRConfig{ComputeType: pipeline.ComputeInt8})
	if !errors.Is(err, services.ErrModelLoad) {
		t.Fatalf("expected ErrModelLoad, got %v", err)
	}
	w := starter.last(t)
	w.mu.Lock()
	killed := w.killed
	w.mu.Unlock()
	if !killed {
		t.Fatal("expected the stalled worker to be killed")
	}
}

func TestTranscribeRequiresBackingFile(t *testing.T) {
	starter := &fakeStarter{handle: func(request) (reply, bool) { return reply{Event: eventReady}, true }}
	svc := newTestService(starter, Config{})
	model, err := svc.LoadASR(context.Background(), pipeline.ASRConfig{ComputeType: pipeline.ComputeInt8})
	if err != nil {
		t.Fatalf("LoadASR: %v", err)
	}
	defer model.Release()
	_, err = model.Transcribe(context.Background(), media.FromSamples([]float32{0, 0.1}), 16)
	if !errors.Is(err, services.ErrInference) {
		t.Fatalf("expected ErrInference, got %v", err)
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	starter := &fakeStarter{handle: func(request) (reply, bool) { return reply{Event: eventReady}, true }}
	svc := newTestService(starter, Config{})
	model, err := svc.LoadASR(context.Background(), pipeline.ASRConfig{ComputeType: pipeline.ComputeInt8})
	if err != nil {
		t.Fatalf("LoadASR: %v", err)
	}
	if err := model.Release(); err != nil {
		t.Fatalf("first release: %v", err)
	}
	if err := model.Release(); err != nil {
		t.Fatalf("second release: %v", err)
	}
	select {
	case <-starter.last(t).done:
	default:
		t.Fatal("worker still running after release")
	}
}

func TestModelsAdapter(t *testing.T) {
	svc := New(Config{})
	models := svc.Models()
	if models.LoadASR == nil || models.LoadAligner == nil || models.LoadDiarizer == nil {
		t.Fatal("expected all loaders to be set")
	}
	if _, err := models.LoadAligner(context.Background(), "xx"); !errors.Is(err, services.ErrUnsupportedLanguage) {
		t.Fatalf("expected ErrUnsupportedLanguage, got %v", err)
	}
}
