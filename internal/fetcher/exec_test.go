package fetcher

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/seantiz/courier/internal/credential"
	"github.com/seantiz/courier/internal/model"
	"github.com/seantiz/courier/internal/stage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func testCred() credential.Credential {
	return credential.Credential{Name: "test", Identity: "t@example.com", Secret: "pw"}
}

// writeScript creates an executable shell script and returns its path.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported on windows")
	}
	path := filepath.Join(t.TempDir(), "fake-fetch.sh")
	script := "#!/bin/sh\n" + body + "\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func failureKind(t *testing.T, err error) string {
	t.Helper()
	var f *stage.Failure
	if !errors.As(err, &f) {
		t.Fatalf("err = %v, want *stage.Failure", err)
	}
	return f.Kind
}

func TestFetchCountsWrittenFiles(t *testing.T) {
	script := writeScript(t, `touch a.jpg b.mp4 c.txt`)
	f := NewExecFetcher(script, testLogger())

	dest := filepath.Join(t.TempDir(), "job")
	result, err := f.Fetch(context.Background(), "ref", dest, testCred())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if result.FilesWritten != 3 {
		t.Errorf("FilesWritten = %d, want 3", result.FilesWritten)
	}
}

func TestFetchPassesCredentialEnv(t *testing.T) {
	script := writeScript(t, `printf '%s' "$COURIER_FETCH_IDENTITY" > ident.txt`)
	f := NewExecFetcher(script, testLogger())

	dest := filepath.Join(t.TempDir(), "job")
	if _, err := f.Fetch(context.Background(), "ref", dest, testCred()); err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dest, "ident.txt"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "t@example.com" {
		t.Errorf("identity env = %q, want %q", string(data), "t@example.com")
	}
}

func TestFetchClassifiesQuota(t *testing.T) {
	script := writeScript(t, `echo "ERROR: quota exceeded on account" >&2; exit 1`)
	f := NewExecFetcher(script, testLogger())

	_, err := f.Fetch(context.Background(), "ref", filepath.Join(t.TempDir(), "job"), testCred())
	if kind := failureKind(t, err); kind != model.FailQuotaExceeded {
		t.Errorf("kind = %q, want quota-exceeded", kind)
	}
}

func TestFetchClassifiesInvalidReference(t *testing.T) {
	script := writeScript(t, `echo "folder not found" >&2; exit 1`)
	f := NewExecFetcher(script, testLogger())

	_, err := f.Fetch(context.Background(), "ref", filepath.Join(t.TempDir(), "job"), testCred())
	if kind := failureKind(t, err); kind != model.FailInvalidReference {
		t.Errorf("kind = %q, want invalid-reference", kind)
	}
}

func TestFetchClassifiesNetworkByDefault(t *testing.T) {
	script := writeScript(t, `echo "connection reset by peer" >&2; exit 1`)
	f := NewExecFetcher(script, testLogger())

	_, err := f.Fetch(context.Background(), "ref", filepath.Join(t.TempDir(), "job"), testCred())
	if kind := failureKind(t, err); kind != model.FailNetwork {
		t.Errorf("kind = %q, want network", kind)
	}
}

func TestFetchClassifiesTimeout(t *testing.T) {
	script := writeScript(t, `sleep 5`)
	f := NewExecFetcher(script, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := f.Fetch(ctx, "ref", filepath.Join(t.TempDir(), "job"), testCred())
	if kind := failureKind(t, err); kind != model.FailTimeout {
		t.Errorf("kind = %q, want timeout", kind)
	}
}

func TestClassifyOutputTable(t *testing.T) {
	tests := []struct {
		output string
		want   string
	}{
		{"Quota Exceeded", model.FailQuotaExceeded},
		{"account storage full", model.FailQuotaExceeded},
		{"folder Not Found", model.FailInvalidReference},
		{"invalid link", model.FailInvalidReference},
		{"dial tcp: i/o timeout", model.FailNetwork},
		{"", model.FailNetwork},
	}
	for _, tt := range tests {
		f := classifyOutput(tt.output, errors.New("exit status 1"))
		if f.Kind != tt.want {
			t.Errorf("classifyOutput(%q).Kind = %q, want %q", tt.output, f.Kind, tt.want)
		}
	}
}
