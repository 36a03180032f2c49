package processing

import (
	"context"
	"encoding/json"
	"errors"
	"image/color"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"stylist/internal/credits"
	"stylist/internal/imaging"
	"stylist/internal/projects"
	"stylist/internal/templates"
)

type runnerFixture struct {
	runner   *Runner
	registry *Registry
	store    *projects.Store
	hub      *Hub
	scratch  string
}

func newRunnerFixture(t *testing.T, baseURL string, gate credits.Gate) *runnerFixture {
	t.Helper()
	return newRunnerFixtureTimeouts(t, baseURL, gate, 5*time.Second, 10*time.Second)
}

func newRunnerFixtureTimeouts(t *testing.T, baseURL string, gate credits.Gate, requestTimeout, resourceTimeout time.Duration) *runnerFixture {
	t.Helper()

	scratch := t.TempDir()
	store, err := projects.NewStore(projects.Options{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	registry, err := NewRegistry(scratch, nil)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	hub := NewHub()

	runner, err := NewRunner(Options{
		BaseURL:         baseURL,
		ScratchDir:      scratch,
		RequestTimeout:  requestTimeout,
		ResourceTimeout: resourceTimeout,
		Registry:        registry,
		Store:           store,
		Hub:             hub,
		Tokens:          StaticToken("test-token"),
		Credits:         gate,
	})
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	return &runnerFixture{runner: runner, registry: registry, store: store, hub: hub, scratch: scratch}
}

func awaitOutcome(t *testing.T, hub *Hub, jobID string) Outcome {
	t.Helper()
	ch, cancel := hub.Subscribe(jobID)
	defer cancel()
	select {
	case outcome := <-ch:
		return outcome
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for outcome of %s", jobID)
		return Outcome{}
	}
}

func sourcePhoto(t *testing.T) []byte {
	t.Helper()
	data, err := imaging.SolidJPEG(20, 20, color.RGBA{B: 255, A: 255})
	if err != nil {
		t.Fatalf("SolidJPEG: %v", err)
	}
	return data
}

func TestRunnerEndToEndCompleted(t *testing.T) {
	resultPayload, _ := testImageBase64(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/process-image" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("Authorization = %q", got)
		}
		if r.Header.Get("X-Request-ID") == "" {
			t.Errorf("missing X-Request-ID header")
		}
		var req processImageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request body: %v", err)
		}
		if req.TemplateID != "anime-style" {
			t.Errorf("template_id = %q", req.TemplateID)
		}
		if !strings.Contains(req.ImageBase64, "base64,") {
			t.Errorf("image payload missing data-url prefix")
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{
				"processed_image_base64": "data:image/jpeg;base64," + resultPayload,
				"metadata":               testMetadata(),
			},
		})
	}))
	defer server.Close()

	fx := newRunnerFixture(t, server.URL, nil)
	jobID, err := fx.runner.Submit(context.Background(), SubmitRequest{
		Template:  templates.TemplateRef{ID: "anime-style", Name: "Anime Style"},
		ImageData: sourcePhoto(t),
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	outcome := awaitOutcome(t, fx.hub, jobID)
	if outcome.Err != nil {
		t.Fatalf("outcome error: %v", outcome.Err)
	}
	project := outcome.Project
	if project == nil {
		t.Fatalf("expected a committed project")
	}
	if project.TemplateID != "anime-style" || project.TemplateName != "Anime Style" {
		t.Fatalf("project template mismatch: %+v", project)
	}
	if project.Status != projects.StatusCompleted {
		t.Fatalf("project status = %q, want completed", project.Status)
	}

	imageData, ok := fx.store.GetImage(project.ID)
	if !ok || len(imageData) == 0 {
		t.Fatalf("committed project has no image sidecar")
	}
	if _, _, err := imaging.Validate(imageData); err != nil {
		t.Fatalf("stored image not decodable: %v", err)
	}

	if _, ok := fx.registry.Get(jobID); ok {
		t.Fatalf("registry entry should be removed after completion")
	}
	entries, err := os.ReadDir(fx.scratch)
	if err != nil {
		t.Fatalf("read scratch dir: %v", err)
	}
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), jobID) {
			t.Fatalf("scratch file %s not cleaned up", entry.Name())
		}
	}
}

func TestRunnerServerErrorFailsJob(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"model unavailable"}`))
	}))
	defer server.Close()

	fx := newRunnerFixture(t, server.URL, nil)
	jobID, err := fx.runner.Submit(context.Background(), SubmitRequest{
		Template:  templates.TemplateRef{ID: "anime-style", Name: "Anime Style"},
		ImageData: sourcePhoto(t),
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	outcome := awaitOutcome(t, fx.hub, jobID)
	if !errors.Is(outcome.Err, ErrInvalidResponse) {
		t.Fatalf("outcome err = %v, want ErrInvalidResponse", outcome.Err)
	}

	if _, ok := fx.registry.Get(jobID); ok {
		t.Fatalf("registry entry should be removed after failure")
	}
	all, err := fx.store.GetAll()
	if err != nil {
		t.Fatalf("GetAll: %v", err)
	}
	if len(all) != 0 {
		t.Fatalf("no project should be created on failure, got %d", len(all))
	}
}

func TestRunnerSurvivesSlowGeneration(t *testing.T) {
	resultPayload, _ := testImageBase64(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Generation holds the request open well past the request-phase
		// timeout; only the resource deadline may bound it.
		time.Sleep(1 * time.Second)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{
				"processed_image_base64": resultPayload,
				"metadata":               testMetadata(),
			},
		})
	}))
	defer server.Close()

	fx := newRunnerFixtureTimeouts(t, server.URL, nil, 200*time.Millisecond, 10*time.Second)
	jobID, err := fx.runner.Submit(context.Background(), SubmitRequest{
		Template:  templates.TemplateRef{ID: "anime-style", Name: "Anime Style"},
		ImageData: sourcePhoto(t),
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	outcome := awaitOutcome(t, fx.hub, jobID)
	if outcome.Err != nil {
		t.Fatalf("slow generation failed the job: %v", outcome.Err)
	}
	if outcome.Project == nil || outcome.Project.Status != projects.StatusCompleted {
		t.Fatalf("expected a completed project, got %+v", outcome.Project)
	}
}

func TestRunnerResourceDeadlineBoundsTransfer(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	fx := newRunnerFixtureTimeouts(t, server.URL, nil, 100*time.Millisecond, 500*time.Millisecond)
	jobID, err := fx.runner.Submit(context.Background(), SubmitRequest{
		Template:  templates.TemplateRef{ID: "anime-style"},
		ImageData: sourcePhoto(t),
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	outcome := awaitOutcome(t, fx.hub, jobID)
	if !errors.Is(outcome.Err, ErrNetwork) {
		t.Fatalf("outcome err = %v, want ErrNetwork", outcome.Err)
	}
}

func TestRunnerTransportErrorFailsJob(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	server.Close() // refuse all connections

	fx := newRunnerFixture(t, server.URL, nil)
	jobID, err := fx.runner.Submit(context.Background(), SubmitRequest{
		Template:  templates.TemplateRef{ID: "anime-style"},
		ImageData: sourcePhoto(t),
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	outcome := awaitOutcome(t, fx.hub, jobID)
	if !errors.Is(outcome.Err, ErrNetwork) {
		t.Fatalf("outcome err = %v, want ErrNetwork", outcome.Err)
	}
}

func TestRunnerDuplicateCompletionDropped(t *testing.T) {
	resultPayload, _ := testImageBase64(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{
				"processed_image_base64": resultPayload,
				"metadata":               testMetadata(),
			},
		})
	}))
	defer server.Close()

	fx := newRunnerFixture(t, server.URL, nil)
	jobID, err := fx.runner.Submit(context.Background(), SubmitRequest{
		Template:  templates.TemplateRef{ID: "anime-style", Name: "Anime Style"},
		ImageData: sourcePhoto(t),
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if outcome := awaitOutcome(t, fx.hub, jobID); outcome.Err != nil {
		t.Fatalf("first completion failed: %v", outcome.Err)
	}

	// A redelivered callback for an id no longer registered must be dropped
	// without creating a second project or panicking.
	fx.runner.handleCompletion(jobID, "", 200, nil)

	all, err := fx.store.GetAll()
	if err != nil {
		t.Fatalf("GetAll: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("projects after duplicate completion = %d, want 1", len(all))
	}
}

func TestRunnerInsufficientCredits(t *testing.T) {
	fx := newRunnerFixture(t, "http://localhost:0", deniedGate{})
	_, err := fx.runner.Submit(context.Background(), SubmitRequest{
		Template:  templates.TemplateRef{ID: "anime-style"},
		ImageData: sourcePhoto(t),
	})
	if !errors.Is(err, credits.ErrInsufficient) {
		t.Fatalf("Submit err = %v, want credits.ErrInsufficient", err)
	}

	// The original parked before the denied reservation must not linger.
	entries, err := os.ReadDir(fx.scratch)
	if err != nil {
		t.Fatalf("read scratch dir: %v", err)
	}
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), "-original.jpg") {
			t.Fatalf("denied submission leaked scratch file %s", entry.Name())
		}
	}
}

func TestRunnerRejectsUndecodablePhoto(t *testing.T) {
	gate := &countingGate{}
	fx := newRunnerFixture(t, "http://localhost:0", gate)
	_, err := fx.runner.Submit(context.Background(), SubmitRequest{
		Template:  templates.TemplateRef{ID: "anime-style"},
		ImageData: []byte("not an image"),
	})
	if !errors.Is(err, ErrImageSaveFailed) {
		t.Fatalf("Submit err = %v, want ErrImageSaveFailed", err)
	}
	// A submission that fails before anything leaves the device must not
	// consume a credit.
	if gate.reserved != 0 {
		t.Fatalf("local failure consumed %d credits", gate.reserved)
	}
}

type deniedGate struct{}

func (deniedGate) Balance(context.Context) (int, error) { return 0, nil }
func (deniedGate) Reserve(context.Context) error        { return credits.ErrInsufficient }

type countingGate struct {
	reserved int
}

func (g *countingGate) Balance(context.Context) (int, error) { return 1, nil }
func (g *countingGate) Reserve(context.Context) error {
	g.reserved++
	return nil
}
