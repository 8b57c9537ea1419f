package whisperx

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"whisperflow/internal/logging"
	"whisperflow/internal/services"
)

const (
	stderrTailLines = 20
	releaseGrace    = 10 * time.Second
)

var progressPattern = regexp.MustCompile(`Progress:\s*([0-9]+(?:\.[0-9]+)?)%`)

// request is one line sent to the worker. Audio is a path to a 16 kHz WAV.
type request struct {
	Op          string        `json:"op"`
	Kind        string        `json:"kind,omitempty"`
	Model       string        `json:"model,omitempty"`
	Device      string        `json:"device,omitempty"`
	ComputeType string        `json:"compute_type,omitempty"`
	Language    string        `json:"language,omitempty"`
	Audio       string        `json:"audio,omitempty"`
	BatchSize   int           `json:"batch_size,omitempty"`
	Segments    []wireSegment `json:"segments,omitempty"`
	ReturnChars bool          `json:"return_char_alignments,omitempty"`
}

type reply struct {
	Event   string          `json:"event"`
	Kind    string          `json:"kind,omitempty"`
	Message string          `json:"message,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
}

const (
	eventReady  = "ready"
	eventResult = "result"
	eventError  = "error"

	errorKindUnsupportedLanguage = "unsupported_language"
	errorKindModelLoad           = "model_load"
)

// worker owns one bridge process holding one loaded model.
type worker struct {
	stage   string
	proc    Process
	enc     *json.Encoder
	replies *bufio.Reader
	logger  *slog.Logger

	mu         sync.Mutex
	tailMu     sync.Mutex
	tail       []string
	stderrDone chan struct{}

	releaseOnce sync.Once
	releaseErr  error
}

func startWorker(ctx context.Context, start Starter, spec CommandSpec, stage string, load request, timeout time.Duration, logger *slog.Logger) (*worker, error) {
	proc, err := start(ctx, spec)
	if err != nil {
		return nil, services.Wrap(services.ErrModelLoad, stage, "start worker", "failed to launch whisperx worker", err)
	}
	w := &worker{
		stage:      stage,
		proc:       proc,
		enc:        json.NewEncoder(proc.Stdin()),
		replies:    bufio.NewReader(proc.Stdout()),
		logger:     logger,
		stderrDone: make(chan struct{}),
	}
	go w.drainStderr()

	loadCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	resp, err := w.roundTrip(loadCtx, load)
	if err == nil && resp.Event != eventReady {
		err = w.replyError(resp, services.ErrModelLoad, "load")
	}
	if err != nil {
		_ = w.Release()
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, services.Wrap(services.ErrModelLoad, stage, "load", fmt.Sprintf("worker not ready after %s", timeout), err)
		}
		var svcErr *services.Error
		if errors.As(err, &svcErr) {
			return nil, err
		}
		return nil, services.Wrap(services.ErrModelLoad, stage, "load", w.describe("model load failed"), err)
	}
	return w, nil
}

// call sends req and decodes the result payload into out.
func (w *worker) call(ctx context.Context, req request, out any) error {
	resp, err := w.roundTrip(ctx, req)
	if err != nil {
		var svcErr *services.Error
		if errors.As(err, &svcErr) {
			return err
		}
		return services.Wrap(services.ErrInference, w.stage, req.Op, w.describe("worker request failed"), err)
	}
	if resp.Event != eventResult {
		return w.replyError(resp, services.ErrInference, req.Op)
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return services.Wrap(services.ErrInference, w.stage, req.Op, "malformed worker result", err)
	}
	return nil
}

func (w *worker) roundTrip(ctx context.Context, req request) (reply, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.enc.Encode(req); err != nil {
		return reply{}, fmt.Errorf("send %s: %w", req.Op, err)
	}
	type outcome struct {
		resp reply
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		line, err := w.replies.ReadBytes('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			done <- outcome{err: fmt.Errorf("worker exited: %w", err)}
			return
		}
		var resp reply
		if err := json.Unmarshal(line, &resp); err != nil {
			done <- outcome{err: fmt.Errorf("decode reply: %w", err)}
			return
		}
		done <- outcome{resp: resp}
	}()
	select {
	case out := <-done:
		return out.resp, out.err
	case <-ctx.Done():
		_ = w.proc.Kill()
		return reply{}, ctx.Err()
	}
}

func (w *worker) replyError(resp reply, fallback error, op string) error {
	marker := fallback
	switch resp.Kind {
	case errorKindUnsupportedLanguage:
		marker = services.ErrUnsupportedLanguage
	case errorKindModelLoad:
		marker = services.ErrModelLoad
	}
	msg := strings.TrimSpace(resp.Message)
	if msg == "" {
		msg = fmt.Sprintf("unexpected worker event %q", resp.Event)
	}
	return services.Wrap(marker, w.stage, op, msg, nil)
}

func (w *worker) drainStderr() {
	defer close(w.stderrDone)
	sampler := logging.NewProgressSampler(10)
	scanner := bufio.NewScanner(w.proc.Stderr())
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if m := progressPattern.FindStringSubmatch(line); m != nil {
			percent, _ := strconv.ParseFloat(m[1], 64)
			if sample, ok := sampler.Observe(percent); ok {
				w.logger.Info("worker progress",
					logging.String(logging.FieldEventType, "worker_progress"),
					logging.Float64(logging.FieldProgress, sample.Percent),
					logging.Int("request", sample.Request),
				)
			}
			continue
		}
		w.remember(line)
		w.logger.Debug("worker output", logging.String("line", line))
	}
}

func (w *worker) remember(line string) {
	w.tailMu.Lock()
	defer w.tailMu.Unlock()
	w.tail = append(w.tail, line)
	if len(w.tail) > stderrTailLines {
		w.tail = w.tail[len(w.tail)-stderrTailLines:]
	}
}

// describe appends the last stderr line, usually the Python exception.
func (w *worker) describe(msg string) string {
	w.tailMu.Lock()
	defer w.tailMu.Unlock()
	if len(w.tail) == 0 {
		return msg
	}
	return msg + ": " + w.tail[len(w.tail)-1]
}

// Release stops the worker. The bridge exits on stdin EOF; a worker that
// ignores it is killed after a grace period.
func (w *worker) Release() error {
	w.releaseOnce.Do(func() {
		_ = w.proc.Stdin().Close()
		timer := time.NewTimer(releaseGrace)
		defer timer.Stop()
		select {
		case <-w.stderrDone:
		case <-timer.C:
			w.logger.Warn("worker ignored shutdown; killing",
				logging.String(logging.FieldEventType, "worker_kill"),
				logging.String(logging.FieldErrorHint, "check GPU driver state"),
				logging.String(logging.FieldImpact, "model memory reclaimed forcibly"),
			)
			_ = w.proc.Kill()
			<-w.stderrDone
		}
		if err := w.proc.Wait(); err != nil && !isKilled(err) {
			w.releaseErr = fmt.Errorf("whisperx worker exit: %w", err)
		}
	})
	return w.releaseErr
}

func isKilled(err error) bool {
	return strings.Contains(err.Error(), "signal: killed")
}
