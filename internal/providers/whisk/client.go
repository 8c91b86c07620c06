// Package whisk drives the Google Labs Whisk remix workflow: upload the
// reference images, run an image recipe over them, then fetch the result.
package whisk

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nguyen2715-hue/web/internal/domain"
	"github.com/nguyen2715-hue/web/internal/infra"
	"github.com/nguyen2715-hue/web/internal/metrics"
)

const (
	defaultUploadURL      = "https://labs.google/fx/api/trpc/backbone.uploadImage"
	defaultRecipeURL      = "https://aisandbox-pa.googleapis.com/v1/whisk:runImageRecipe"
	defaultTimeout        = 90 * time.Second
	defaultUploadTimeout  = 60 * time.Second
	defaultFetchTimeout   = 30 * time.Second
	mediaCategorySubject  = "MEDIA_CATEGORY_SUBJECT"
	sessionCookieName     = "__Secure-next-auth.session-token"
	recipeTool            = "BACKBONE"
	recipeImageModel      = "R2I"
	maxResponseExcerpt    = 200
	maxDownloadImageBytes = 32 << 20
)

// Step names used in logs and metrics.
const (
	StepUpload   = "upload"
	StepGenerate = "generate"
	StepFetch    = "fetch"
)

// Options controls how the Whisk client is configured.
type Options struct {
	Pool          domain.CredentialPool
	UploadURL     string
	RecipeURL     string
	HTTPClient    *http.Client
	Logger        *infra.Logger
	Progress      domain.ProgressSink
	Metrics       *metrics.Collector
	UploadTimeout time.Duration
	FetchTimeout  time.Duration
	// Now stamps session identifiers; defaults to time.Now.
	Now func() time.Time
}

type Client struct {
	pool          domain.CredentialPool
	uploadURL     string
	recipeURL     string
	httpClient    *http.Client
	logger        *infra.Logger
	progress      domain.ProgressSink
	metrics       *metrics.Collector
	uploadTimeout time.Duration
	fetchTimeout  time.Duration
	now           func() time.Time
}

type clientContext struct {
	WorkflowID string `json:"workflowId"`
	Tool       string `json:"tool,omitempty"`
	SessionID  string `json:"sessionId"`
}

type uploadRequest struct {
	JSON struct {
		ClientContext    clientContext `json:"clientContext"`
		UploadMediaInput struct {
			MediaCategory string `json:"mediaCategory"`
			RawBytes      string `json:"rawBytes"`
		} `json:"uploadMediaInput"`
	} `json:"json"`
}

type uploadResponse struct {
	Result struct {
		Data struct {
			JSON struct {
				MediaGenerationID string `json:"mediaGenerationId"`
			} `json:"json"`
		} `json:"data"`
	} `json:"result"`
}

type mediaInput struct {
	MediaGenerationID string `json:"mediaGenerationId"`
	MediaCategory     string `json:"mediaCategory"`
}

type recipeInput struct {
	MediaInput mediaInput `json:"mediaInput"`
}

type recipeRequest struct {
	ClientContext      clientContext `json:"clientContext"`
	UserInstruction    string        `json:"userInstruction"`
	RecipeMediaInputs  []recipeInput `json:"recipeMediaInputs"`
	ImageModelSettings struct {
		ImageModel  string `json:"imageModel"`
		AspectRatio string `json:"aspectRatio"`
	} `json:"imageModelSettings"`
}

type recipeResponse struct {
	GeneratedImages []struct {
		ImageURL string `json:"imageUrl"`
	} `json:"generatedImages"`
}

// NewClient constructs a Whisk client with defaults for every unset option.
func NewClient(opts Options) (*Client, error) {
	if opts.Pool == nil {
		return nil, errors.New("whisk: credential pool is required")
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	uploadURL := strings.TrimSpace(opts.UploadURL)
	if uploadURL == "" {
		uploadURL = defaultUploadURL
	}
	recipeURL := strings.TrimSpace(opts.RecipeURL)
	if recipeURL == "" {
		recipeURL = defaultRecipeURL
	}
	uploadTimeout := opts.UploadTimeout
	if uploadTimeout <= 0 {
		uploadTimeout = defaultUploadTimeout
	}
	fetchTimeout := opts.FetchTimeout
	if fetchTimeout <= 0 {
		fetchTimeout = defaultFetchTimeout
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Client{
		pool:          opts.Pool,
		uploadURL:     uploadURL,
		recipeURL:     recipeURL,
		httpClient:    client,
		logger:        infra.LoggerOrDiscard(opts.Logger),
		progress:      opts.Progress,
		metrics:       opts.Metrics,
		uploadTimeout: uploadTimeout,
		fetchTimeout:  fetchTimeout,
		now:           now,
	}, nil
}

// Generate runs upload, generate and fetch in order. Nothing is retried;
// every failure wraps domain.ErrWorkflowStep.
func (c *Client) Generate(ctx context.Context, prompt string, refs []string, aspect domain.AspectRatio, timeout time.Duration) (domain.GenerationResult, error) {
	started := time.Now()
	result, step, err := c.run(ctx, prompt, refs, aspect, timeout)
	if err != nil {
		c.metrics.WorkflowStepFailed(step)
		c.metrics.ProviderCall(string(domain.ProviderWhisk), metrics.OutcomeFailure, time.Since(started))
		c.progress.Error("Whisk: %s failed: %s", step, domain.Truncate(err.Error(), 150))
		c.logger.Warn().Err(err).Str("step", step).Msg("whisk: workflow failed")
		return domain.GenerationResult{}, err
	}
	result.Elapsed = time.Since(started)
	c.metrics.ProviderCall(string(domain.ProviderWhisk), metrics.OutcomeSuccess, result.Elapsed)
	c.progress.Success("Whisk: image ready in %.1fs", result.Elapsed.Seconds())
	return result, nil
}

func (c *Client) run(ctx context.Context, prompt string, refs []string, aspect domain.AspectRatio, timeout time.Duration) (domain.GenerationResult, string, error) {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if err := c.pool.Refresh(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("whisk: credential refresh failed, using cached tokens")
	}
	session := NewSession(c.now())
	c.progress.Info("Whisk: starting workflow")
	c.logger.Debug().Str("workflow_id", session.WorkflowID).Str("session_id", session.SessionID).Msg("whisk: session created")

	mediaIDs, err := c.uploadAll(ctx, session, refs)
	if err != nil {
		return domain.GenerationResult{}, StepUpload, err
	}

	imageURL, err := c.runRecipe(ctx, session, prompt, mediaIDs, aspect, timeout)
	if err != nil {
		return domain.GenerationResult{}, StepGenerate, err
	}

	data, err := c.fetch(ctx, imageURL)
	if err != nil {
		return domain.GenerationResult{}, StepFetch, err
	}
	return domain.GenerationResult{Bytes: data, Provider: domain.ProviderWhisk}, "", nil
}

func (c *Client) uploadAll(ctx context.Context, session Session, refs []string) ([]string, error) {
	token, ok := firstCredential(c.pool, domain.RoleUpload)
	if !ok {
		c.progress.Error("Whisk: no session token configured for uploads")
		return nil, stepError(domain.ErrNoUploadCredential, "")
	}

	refs = domain.GenerationRequest{ReferenceImages: refs}.References()
	c.progress.Info("Whisk: uploading %d reference image(s)", len(refs))

	mediaIDs := make([]string, 0, len(refs))
	for i, path := range refs {
		if err := ctx.Err(); err != nil {
			return nil, stepError(domain.ErrNoImagesUploaded, err.Error())
		}
		name := filepath.Base(path)
		c.progress.Info("Whisk: uploading image %d/%d (%s)", i+1, len(refs), name)
		id, err := c.upload(ctx, session, token, path)
		if err != nil {
			c.progress.Error("Whisk: upload of %s failed: %s", name, domain.Truncate(err.Error(), 100))
			c.logger.Warn().Err(err).Str("file", name).Msg("whisk: upload skipped")
			continue
		}
		mediaIDs = append(mediaIDs, id)
		c.progress.Success("Whisk: uploaded %s", name)
	}

	if len(mediaIDs) == 0 {
		c.progress.Error("Whisk: no images uploaded successfully")
		return nil, stepError(domain.ErrNoImagesUploaded, "")
	}
	return mediaIDs, nil
}

func (c *Client) upload(ctx context.Context, session Session, token domain.Credential, path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read reference image: %w", err)
	}

	var payload uploadRequest
	payload.JSON.ClientContext = clientContext{WorkflowID: session.WorkflowID, SessionID: session.SessionID}
	payload.JSON.UploadMediaInput.MediaCategory = mediaCategorySubject
	payload.JSON.UploadMediaInput.RawBytes = "data:" + mimeForPath(path) + ";base64," + base64.StdEncoding.EncodeToString(raw)
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode upload: %w", err)
	}

	uploadCtx, cancel := context.WithTimeout(ctx, c.uploadTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(uploadCtx, http.MethodPost, c.uploadURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Cookie", sessionCookieName+"="+string(token))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload request: %w", err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read upload response: %w", err)
	}
	c.progress.Debug("Whisk: upload response status %d", resp.StatusCode)
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("upload status %d: %s", resp.StatusCode, domain.Truncate(strings.TrimSpace(string(respBody)), maxResponseExcerpt))
	}

	var decoded uploadResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return "", fmt.Errorf("decode upload response: %w", err)
	}
	id := strings.TrimSpace(decoded.Result.Data.JSON.MediaGenerationID)
	if id == "" {
		return "", errors.New("no mediaGenerationId in upload response")
	}
	return id, nil
}

func (c *Client) runRecipe(ctx context.Context, session Session, prompt string, mediaIDs []string, aspect domain.AspectRatio, timeout time.Duration) (string, error) {
	token, ok := firstCredential(c.pool, domain.RoleGeneration)
	if !ok {
		c.progress.Error("Whisk: no OAuth token configured for generation")
		return "", stepError(domain.ErrNoGenerationCredential, "")
	}

	var payload recipeRequest
	payload.ClientContext = clientContext{WorkflowID: session.WorkflowID, Tool: recipeTool, SessionID: session.SessionID}
	payload.UserInstruction = prompt
	for _, id := range mediaIDs {
		payload.RecipeMediaInputs = append(payload.RecipeMediaInputs, recipeInput{
			MediaInput: mediaInput{MediaGenerationID: id, MediaCategory: mediaCategorySubject},
		})
	}
	payload.ImageModelSettings.ImageModel = recipeImageModel
	payload.ImageModelSettings.AspectRatio = AspectValue(aspect)
	body, err := json.Marshal(payload)
	if err != nil {
		return "", stepError(domain.ErrGenerationRequestFailed, "encode recipe: "+err.Error())
	}

	c.progress.Info("Whisk: generating with %d reference(s)", len(mediaIDs))
	genCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(genCtx, http.MethodPost, c.recipeURL, bytes.NewReader(body))
	if err != nil {
		return "", stepError(domain.ErrGenerationRequestFailed, "build request: "+err.Error())
	}
	req.Header.Set("Authorization", "Bearer "+string(token))
	req.Header.Set("Content-Type", "text/plain;charset=UTF-8")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", stepError(domain.ErrGenerationRequestFailed, fmt.Sprintf("timeout after %s", timeout))
		}
		return "", stepError(domain.ErrGenerationRequestFailed, err.Error())
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", stepError(domain.ErrGenerationRequestFailed, "read response: "+err.Error())
	}
	c.progress.Debug("Whisk: generate response status %d", resp.StatusCode)
	if resp.StatusCode != http.StatusOK {
		return "", stepError(domain.ErrGenerationRequestFailed, fmt.Sprintf("status %d: %s", resp.StatusCode, domain.Truncate(strings.TrimSpace(string(respBody)), maxResponseExcerpt)))
	}

	var decoded recipeResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return "", stepError(domain.ErrGenerationRequestFailed, "decode response: "+err.Error())
	}
	if len(decoded.GeneratedImages) == 0 {
		return "", stepError(domain.ErrGenerationRequestFailed, "no generatedImages in response")
	}
	imageURL := strings.TrimSpace(decoded.GeneratedImages[0].ImageURL)
	if imageURL == "" {
		return "", stepError(domain.ErrGenerationRequestFailed, "empty imageUrl")
	}
	return imageURL, nil
}

func (c *Client) fetch(ctx context.Context, imageURL string) ([]byte, error) {
	parsed, err := url.Parse(imageURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return nil, stepError(domain.ErrDownloadFailed, "invalid image url")
	}

	c.progress.Info("Whisk: downloading generated image")
	fetchCtx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, stepError(domain.ErrDownloadFailed, err.Error())
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, stepError(domain.ErrDownloadFailed, err.Error())
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, stepError(domain.ErrDownloadFailed, fmt.Sprintf("status %d", resp.StatusCode))
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadImageBytes))
	if err != nil {
		return nil, stepError(domain.ErrDownloadFailed, err.Error())
	}
	if len(data) == 0 {
		return nil, stepError(domain.ErrDownloadFailed, "empty body")
	}
	return data, nil
}

func firstCredential(pool domain.CredentialPool, role domain.Role) (domain.Credential, bool) {
	creds := pool.ListCredentials(domain.ProviderWhisk, role)
	if len(creds) == 0 {
		return "", false
	}
	return creds[0], true
}

func stepError(kind error, detail string) error {
	if detail == "" {
		return fmt.Errorf("whisk: %w: %w", domain.ErrWorkflowStep, kind)
	}
	return fmt.Errorf("whisk: %w: %w: %s", domain.ErrWorkflowStep, kind, detail)
}
