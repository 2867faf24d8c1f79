// Package publisher uploads a local folder's video files to a doodstream-style
// sharing service and collects the returned share links.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"

	"github.com/seantiz/courier/internal/model"
	"github.com/seantiz/courier/internal/stage"
)

// Compile-time interface satisfaction check.
var _ stage.Publisher = (*DoodPublisher)(nil)

// DoodPublisher implements the two-step upload flow: resolve an upload server
// from the API, then multipart-POST each video file to it.
type DoodPublisher struct {
	apiURL string
	apiKey string
	client *http.Client
	logger *slog.Logger
}

// NewDoodPublisher creates a publisher against the given API endpoint.
func NewDoodPublisher(apiURL, apiKey string, client *http.Client, logger *slog.Logger) *DoodPublisher {
	if client == nil {
		client = http.DefaultClient
	}
	return &DoodPublisher{apiURL: apiURL, apiKey: apiKey, client: client, logger: logger}
}

type serverResponse struct {
	Result string `json:"result"`
}

type uploadResponse struct {
	Success     bool   `json:"success"`
	DownloadURL string `json:"download_url"`
	Message     string `json:"msg"`
}

// Publish uploads every video file under folderPath and returns their share
// links. Any failure is classified as publish-error; the engine treats it as
// terminal for the job.
func (p *DoodPublisher) Publish(ctx context.Context, folderPath string) (stage.PublishResult, error) {
	if p.apiKey == "" {
		return stage.PublishResult{}, stage.NewFailure(model.FailPublishError, "publish API key not configured")
	}

	files, err := stage.ListFiles(folderPath)
	if err != nil {
		return stage.PublishResult{}, stage.NewFailure(model.FailPublishError, "walk folder: %v", err)
	}

	var videos []string
	for _, f := range files {
		if stage.IsVideo(f) {
			videos = append(videos, f)
		}
	}
	if len(videos) == 0 {
		return stage.PublishResult{}, stage.NewFailure(model.FailPublishError, "no video files to publish in %s", folderPath)
	}

	server, err := p.resolveServer(ctx)
	if err != nil {
		return stage.PublishResult{}, err
	}

	var links []string
	for i, path := range videos {
		p.logger.Info("uploading file", "file", filepath.Base(path), "progress", fmt.Sprintf("%d/%d", i+1, len(videos)))
		link, err := p.uploadFile(ctx, server, path)
		if err != nil {
			return stage.PublishResult{}, err
		}
		links = append(links, link)
	}

	return stage.PublishResult{Links: links}, nil
}

// resolveServer asks the API for the upload server to use.
func (p *DoodPublisher) resolveServer(ctx context.Context) (string, error) {
	u := p.apiURL + "?key=" + url.QueryEscape(p.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", stage.NewFailure(model.FailPublishError, "build server request: %v", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return "", stage.NewFailure(model.FailPublishError, "resolve upload server: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", stage.NewFailure(model.FailPublishError, "resolve upload server: status %d", resp.StatusCode)
	}

	var sr serverResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return "", stage.NewFailure(model.FailPublishError, "decode server response: %v", err)
	}
	if sr.Result == "" {
		return "", stage.NewFailure(model.FailPublishError, "upload server response missing result")
	}
	return sr.Result, nil
}

// uploadFile multipart-POSTs one file and returns its share link.
func (p *DoodPublisher) uploadFile(ctx context.Context, server, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", stage.NewFailure(model.FailPublishError, "open %s: %v", filepath.Base(path), err)
	}
	defer f.Close()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		part, err := mw.CreateFormFile("file", filepath.Base(path))
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, f); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(mw.Close())
	}()

	u := server + "/upload/" + url.PathEscape(p.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, pr)
	if err != nil {
		return "", stage.NewFailure(model.FailPublishError, "build upload request: %v", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.client.Do(req)
	if err != nil {
		return "", stage.NewFailure(model.FailPublishError, "upload %s: %v", filepath.Base(path), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", stage.NewFailure(model.FailPublishError, "upload %s: status %d", filepath.Base(path), resp.StatusCode)
	}

	var ur uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&ur); err != nil {
		return "", stage.NewFailure(model.FailPublishError, "decode upload response: %v", err)
	}
	if !ur.Success {
		return "", stage.NewFailure(model.FailPublishError, "upload %s rejected: %s", filepath.Base(path), ur.Message)
	}
	return ur.DownloadURL, nil
}
