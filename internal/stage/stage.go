// Package stage defines the pipeline stage contracts the engine depends on
// and the local-filesystem stage executors (relabel, cleanup).
package stage

import (
	"context"
	"fmt"

	"github.com/seantiz/courier/internal/credential"
	"github.com/seantiz/courier/internal/model"
)

// Failure is a classified stage failure. The engine's retry policy branches
// on Kind; adapters render Kind and Message verbatim.
type Failure struct {
	Kind    string
	Message string
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

// NewFailure builds a classified failure.
func NewFailure(kind, format string, args ...any) *Failure {
	return &Failure{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// FetchResult reports what a fetch wrote into the destination path.
type FetchResult struct {
	FilesWritten int
}

// Fetcher retrieves all files of a remote folder reference into the
// destination path using the given credential, or fails with a classified
// *Failure.
type Fetcher interface {
	Fetch(ctx context.Context, reference, destPath string, cred credential.Credential) (FetchResult, error)
}

// PublishResult carries the share links returned by the sharing service.
type PublishResult struct {
	Links []string
}

// Publisher uploads a local folder's contents to a remote sharing service and
// returns shareable links, or fails with a classified *Failure.
type Publisher interface {
	Publish(ctx context.Context, folderPath string) (PublishResult, error)
}

// RelabelResult reports how many of the eligible media files were renamed.
type RelabelResult struct {
	Renamed       int
	TotalEligible int
}

// internalFailure wraps an unclassified error as a Failure of kind internal.
func internalFailure(err error) *Failure {
	return &Failure{Kind: model.FailInternal, Message: err.Error()}
}
