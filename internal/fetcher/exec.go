// Package fetcher retrieves remote folders by shelling out to an external
// transfer CLI and classifying its failures for the engine's retry policy.
package fetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/seantiz/courier/internal/credential"
	"github.com/seantiz/courier/internal/model"
	"github.com/seantiz/courier/internal/stage"
)

// Credential environment variables passed to the transfer CLI.
const (
	envIdentity = "COURIER_FETCH_IDENTITY"
	envSecret   = "COURIER_FETCH_SECRET"
)

// Compile-time interface satisfaction check.
var _ stage.Fetcher = (*ExecFetcher)(nil)

// ExecFetcher runs a transfer CLI (mega-get style: one positional folder
// reference, files written into the working directory) and counts what it
// wrote. The caller's context deadline bounds the process lifetime; on expiry
// the process is killed and the attempt classified as a timeout.
type ExecFetcher struct {
	command string
	logger  *slog.Logger
}

// NewExecFetcher creates a fetcher that invokes the given command.
func NewExecFetcher(command string, logger *slog.Logger) *ExecFetcher {
	return &ExecFetcher{command: command, logger: logger}
}

// Fetch downloads the referenced remote folder into destPath.
func (f *ExecFetcher) Fetch(ctx context.Context, reference, destPath string, cred credential.Credential) (stage.FetchResult, error) {
	if err := os.MkdirAll(destPath, 0o755); err != nil {
		return stage.FetchResult{}, stage.NewFailure(model.FailInternal, "create destination: %v", err)
	}

	cmd := exec.CommandContext(ctx, f.command, reference)
	cmd.Dir = destPath
	cmd.Env = append(os.Environ(),
		envIdentity+"="+cred.Identity,
		envSecret+"="+cred.Secret,
	)

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	f.logger.Debug("running fetch command",
		"command", f.command,
		"reference", reference,
		"dest", destPath,
		"credential", cred.Name,
	)

	err := cmd.Run()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return stage.FetchResult{}, stage.NewFailure(model.FailTimeout, "fetch timed out for %s", reference)
		}
		return stage.FetchResult{}, classifyOutput(output.String(), err)
	}

	files, err := stage.ListFiles(destPath)
	if err != nil {
		return stage.FetchResult{}, stage.NewFailure(model.FailInternal, "count fetched files: %v", err)
	}

	return stage.FetchResult{FilesWritten: len(files)}, nil
}

// classifyOutput maps the CLI's combined output to a failure kind. The
// substrings follow what the transfer tools actually print on each failure.
func classifyOutput(output string, runErr error) *stage.Failure {
	lower := strings.ToLower(output)
	msg := strings.TrimSpace(output)
	if msg == "" {
		msg = runErr.Error()
	}

	switch {
	case strings.Contains(lower, "quota exceeded") || strings.Contains(lower, "storage"):
		return stage.NewFailure(model.FailQuotaExceeded, "%s", msg)
	case strings.Contains(lower, "not found") || strings.Contains(lower, "invalid"):
		return stage.NewFailure(model.FailInvalidReference, "%s", msg)
	default:
		return stage.NewFailure(model.FailNetwork, "%s", msg)
	}
}

// Verify checks that the transfer command can be executed at all. Used at
// startup so a missing binary surfaces immediately rather than per job.
func (f *ExecFetcher) Verify() error {
	path, err := exec.LookPath(f.command)
	if errors.Is(err, exec.ErrNotFound) {
		return fmt.Errorf("transfer command %q not found in PATH", f.command)
	}
	if err != nil {
		return fmt.Errorf("look up transfer command: %w", err)
	}
	f.logger.Info("transfer command resolved", "path", path)
	return nil
}
