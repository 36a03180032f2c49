package processing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"stylist/internal/credits"
	"stylist/internal/imaging"
	"stylist/internal/infra"
	"stylist/internal/projects"
	"stylist/internal/storage"
	"stylist/internal/templates"
)

const processImagePath = "/process-image"

// TokenProvider supplies the bearer token for remote calls. Token acquisition
// itself (refresh, caching) belongs to the auth collaborator.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenProvider backed by a fixed string, for development
// and tests.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) { return string(t), nil }

// Options configures a Runner.
type Options struct {
	// BaseURL of the remote generation service.
	BaseURL string
	// ScratchDir parks original photos and response payloads so they survive
	// until the completion path has consumed them.
	ScratchDir string
	// RequestTimeout bounds connection establishment (dial, TLS handshake);
	// ResourceTimeout bounds the whole transfer including remote generation
	// time, which can run to minutes.
	RequestTimeout  time.Duration
	ResourceTimeout time.Duration
	Registry        *Registry
	Store           *projects.Store
	Hub             *Hub
	Tokens          TokenProvider
	// Credits, when set, is consulted before each submission.
	Credits credits.Gate
	Logger  *infra.Logger
}

// Runner submits styling jobs and finishes them when the remote service
// responds, however long that takes. Submission returns immediately; the
// round trip happens out of band on a runner-owned goroutine, and the outcome
// is delivered through the Hub. A failed job is never retried automatically;
// retry is a fresh submission with a new job id.
type Runner struct {
	client          *resty.Client
	scratch         *storage.FileStore
	resourceTimeout time.Duration
	registry        *Registry
	store           *projects.Store
	hub             *Hub
	tokens          TokenProvider
	creditsGate     credits.Gate
	logger          *infra.Logger
}

// SubmitRequest carries one styling submission.
type SubmitRequest struct {
	Template  templates.TemplateRef
	ImageData []byte
}

type processImageRequest struct {
	TemplateID  string `json:"template_id"`
	ImageBase64 string `json:"image_base64"`
}

// NewRunner constructs a Runner. Registry, Store and Hub are required.
func NewRunner(opts Options) (*Runner, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("processing: base url is required")
	}
	if opts.Registry == nil || opts.Store == nil || opts.Hub == nil {
		return nil, errors.New("processing: registry, store and hub are required")
	}
	scratch, err := storage.NewFileStore(opts.ScratchDir)
	if err != nil {
		return nil, fmt.Errorf("processing: configure scratch area: %w", err)
	}

	requestTimeout := opts.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = 60 * time.Second
	}
	resourceTimeout := opts.ResourceTimeout
	if resourceTimeout < requestTimeout {
		resourceTimeout = 5 * requestTimeout
	}

	logger := opts.Logger
	if logger == nil {
		discard := zerolog.Nop()
		logger = &discard
	}

	// One connection to the remote host at a time; concurrent submissions
	// queue on the transport instead of thrashing the generation backend.
	//
	// The request timeout bounds connection establishment only. The server
	// holds the request open while it generates, so an end-to-end client
	// timeout would kill any generation slower than the request phase; the
	// full round trip is bounded per job by the resource-timeout context.
	client := resty.New().
		SetBaseURL(baseURL).
		SetTransport(&http.Transport{
			MaxConnsPerHost:     1,
			DialContext:         (&net.Dialer{Timeout: requestTimeout}).DialContext,
			TLSHandshakeTimeout: requestTimeout,
		}).
		SetHeader("Accept", "application/json")

	return &Runner{
		client:          client,
		scratch:         scratch,
		resourceTimeout: resourceTimeout,
		registry:        opts.Registry,
		store:           opts.Store,
		hub:             opts.Hub,
		tokens:          opts.Tokens,
		creditsGate:     opts.Credits,
		logger:          logger,
	}, nil
}

// Submit compresses the photo, parks it in the scratch area, registers the
// job and hands the transfer off. It returns the job id without waiting for
// network completion.
func (r *Runner) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	if strings.TrimSpace(req.Template.ID) == "" {
		return "", errors.New("processing: template id is required")
	}

	compressed, err := imaging.CompressForUpload(req.ImageData)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrImageSaveFailed, err)
	}

	jobID := uuid.NewString()
	originalPath, err := r.scratch.Write(jobID+"-original.jpg", compressed)
	if err != nil {
		return "", fmt.Errorf("%w: park original: %v", ErrImageSaveFailed, err)
	}

	// Credits are reserved only after every local step that can fail has
	// succeeded; there is no refund path for a reserved credit.
	if r.creditsGate != nil {
		if err := r.creditsGate.Reserve(ctx); err != nil {
			if rmErr := os.Remove(originalPath); rmErr != nil && !os.IsNotExist(rmErr) {
				r.logger.Warn().Err(rmErr).Str("job_id", jobID).Msg("processing: failed to remove parked original")
			}
			return "", fmt.Errorf("processing: reserve credits: %w", err)
		}
	}

	r.registry.Put(Job{
		ID:                jobID,
		TemplateID:        req.Template.ID,
		TemplateName:      req.Template.Name,
		OriginalAssetPath: originalPath,
		CreatedAt:         time.Now().UTC(),
	})

	go r.transfer(jobID, req.Template.ID, imaging.ToDataURL(compressed))

	r.logger.Info().
		Str("job_id", jobID).
		Str("template_id", req.Template.ID).
		Msg("processing: job submitted")
	return jobID, nil
}

// Outstanding returns jobs still awaiting a terminal outcome, including any
// rediscovered from a previous run's job log.
func (r *Runner) Outstanding() []Job {
	return r.registry.Outstanding()
}

// transfer runs the remote round trip on a runner-owned goroutine. The
// response body always lands in a scratch file before decoding, whatever the
// status, so diagnostics survive the request.
func (r *Runner) transfer(jobID, templateID, imagePayload string) {
	ctx, cancel := context.WithTimeout(context.Background(), r.resourceTimeout)
	defer cancel()

	var token string
	if r.tokens != nil {
		var err error
		token, err = r.tokens.Token(ctx)
		if err != nil {
			r.handleCompletion(jobID, "", 0, fmt.Errorf("acquire token: %w", err))
			return
		}
	}

	resp, err := r.client.R().
		SetContext(ctx).
		SetHeader("X-Request-ID", jobID).
		SetAuthToken(token).
		SetBody(processImageRequest{TemplateID: templateID, ImageBase64: imagePayload}).
		SetDoNotParseResponse(true).
		Post(processImagePath)
	if err != nil {
		r.handleCompletion(jobID, "", 0, err)
		return
	}
	defer resp.RawBody().Close()

	body, err := io.ReadAll(resp.RawBody())
	if err != nil {
		r.handleCompletion(jobID, "", resp.StatusCode(), err)
		return
	}
	landing, err := r.scratch.Write(jobID+"-response.json", body)
	if err != nil {
		r.handleCompletion(jobID, "", resp.StatusCode(), err)
		return
	}

	r.handleCompletion(jobID, landing, resp.StatusCode(), nil)
}

// handleCompletion finishes one job: correlate, decode, commit, publish. The
// registry entry is removed exactly once; a completion for an id no longer
// registered (duplicate callback, or a job from a run whose context is gone)
// is logged and dropped.
func (r *Runner) handleCompletion(jobID, landingPath string, status int, transportErr error) {
	job, ok := r.registry.Remove(jobID)
	if !ok {
		r.logger.Warn().Str("job_id", jobID).Msg("processing: completion for unregistered job, dropping")
		return
	}

	// Publish after scratch cleanup (defers run last-in-first-out) so a
	// consumer never observes the outcome while job files still linger.
	var outcome *Outcome
	defer func() {
		if outcome != nil {
			r.hub.Publish(*outcome)
		}
	}()
	defer r.cleanupScratch(job.OriginalAssetPath, landingPath)

	if transportErr != nil {
		r.logger.Error().Err(transportErr).Str("job_id", jobID).Msg("processing: transfer failed")
		outcome = &Outcome{JobID: jobID, Err: fmt.Errorf("%w: %v", ErrNetwork, transportErr)}
		return
	}

	raw, err := os.ReadFile(landingPath)
	if err != nil {
		r.logger.Error().Err(err).Str("job_id", jobID).Msg("processing: response payload unreadable")
		outcome = &Outcome{JobID: jobID, Err: fmt.Errorf("%w: read payload: %v", ErrInvalidResponse, err)}
		return
	}

	if status < 200 || status >= 300 {
		snippet := bodySnippet(raw)
		r.logger.Error().
			Int("status", status).
			Str("job_id", jobID).
			Str("body", snippet).
			Msg("processing: remote returned error status")
		outcome = &Outcome{JobID: jobID, Err: fmt.Errorf("%w: status %d: %s", ErrInvalidResponse, status, snippet)}
		return
	}

	envelope, err := DecodeResponse(raw)
	if err != nil {
		r.logger.Error().Err(err).Str("job_id", jobID).Msg("processing: undecodable response")
		outcome = &Outcome{JobID: jobID, Err: err}
		return
	}

	if _, err := os.Stat(job.OriginalAssetPath); err != nil {
		// The parked original is gone (duplicate delivery after cleanup, or
		// external removal). Abort this completion path without failing the
		// process.
		r.logger.Warn().Str("job_id", jobID).Msg("processing: original asset missing, aborting completion")
		return
	}

	project := projects.Project{
		TemplateID:   job.TemplateID,
		TemplateName: job.TemplateName,
		CreatedAt:    time.Now().UTC(),
		Status:       projects.StatusCompleted,
	}
	committed, skipped, err := r.store.Commit(jobID, envelope.ImageData, project)
	if err != nil {
		// A decoded result that cannot be persisted must not be reported as
		// completed.
		r.logger.Error().Err(err).Str("job_id", jobID).Msg("processing: commit failed")
		outcome = &Outcome{JobID: jobID, Err: fmt.Errorf("%w: persist result: %v", ErrImageSaveFailed, err)}
		return
	}
	if skipped {
		r.logger.Debug().Str("job_id", jobID).Str("project_id", committed.ID).Msg("processing: duplicate commit skipped")
	}

	r.logger.Info().
		Str("job_id", jobID).
		Str("project_id", committed.ID).
		Str("model", envelope.ModelUsed).
		Int("generation_time_ms", envelope.GenerationTimeMs).
		Int("width", envelope.Width).
		Int("height", envelope.Height).
		Msg("processing: job completed")
	outcome = &Outcome{JobID: jobID, Project: &committed}
}

func (r *Runner) cleanupScratch(originalPath, landingPath string) {
	if originalPath != "" {
		if err := os.Remove(originalPath); err != nil && !os.IsNotExist(err) {
			r.logger.Warn().Err(err).Msg("processing: failed to remove parked original")
		}
	}
	if landingPath != "" {
		if err := os.Remove(landingPath); err != nil && !os.IsNotExist(err) {
			r.logger.Warn().Err(err).Msg("processing: failed to remove response payload")
		}
	}
}
