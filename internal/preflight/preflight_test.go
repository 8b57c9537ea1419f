package preflight

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"whisperflow/internal/config"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckModelFile(t *testing.T) {
	model := filepath.Join(t.TempDir(), "ggml-base.bin")
	if err := os.WriteFile(model, []byte("ggml"), 0o644); err != nil {
		t.Fatal(err)
	}
	if r := CheckModelFile("model", model); !r.Passed {
		t.Fatalf("expected pass, got %s", r.Detail)
	}
	if r := CheckModelFile("model", ""); r.Passed {
		t.Fatal("expected failure for empty path")
	}
	if r := CheckModelFile("model", filepath.Dir(model)); r.Passed {
		t.Fatal("expected failure for directory")
	}
}

func TestCheckPackageIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/simple/whisperx/" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	if r := CheckPackageIndex(context.Background(), srv.URL+"/simple/"); !r.Passed {
		t.Fatalf("expected pass, got %s", r.Detail)
	}
	if r := CheckPackageIndex(context.Background(), srv.URL+"/other"); r.Passed {
		t.Fatal("expected failure for 404")
	}
	if r := CheckPackageIndex(context.Background(), " "); r.Passed || r.Detail != "missing url" {
		t.Fatalf("unexpected result for empty url: %+v", r)
	}
}

func TestCheckToken(t *testing.T) {
	if r := CheckToken(true, true); !r.Passed {
		t.Fatal("present token should pass")
	}
	if r := CheckToken(false, true); r.Passed {
		t.Fatal("missing token should fail when diarization is on by default")
	}
	if r := CheckToken(false, false); !r.Passed {
		t.Fatal("missing token is informational when diarization is opt-in")
	}
}

func TestRunAll_NilConfig(t *testing.T) {
	if results := RunAll(context.Background(), nil, false); results != nil {
		t.Fatalf("expected nil results, got %v", results)
	}
}

func TestRunAll_WhisperCppBackend(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.WorkDir = t.TempDir()
	cfg.Paths.LogDir = ""
	cfg.WhisperX.Backend = config.BackendWhisperCpp
	cfg.WhisperX.WhisperCppModel = filepath.Join(t.TempDir(), "missing.bin")

	results := RunAll(context.Background(), &cfg, true)
	names := map[string]Result{}
	for _, r := range results {
		names[r.Name] = r
	}
	if !names["Work directory"].Passed {
		t.Fatalf("work dir should pass: %+v", names["Work directory"])
	}
	if r, ok := names["whisper.cpp model"]; !ok || r.Passed {
		t.Fatalf("expected failing model check, got %+v (present=%v)", r, ok)
	}
	if _, ok := names["Package index"]; ok {
		t.Fatal("package index should not be checked for the whisper.cpp backend")
	}
	failed := Failed(results)
	if len(failed) == 0 {
		t.Fatal("expected at least the model check to fail")
	}
	for _, r := range failed {
		if r.Passed {
			t.Fatalf("Failed returned a passing check: %+v", r)
		}
	}
}
