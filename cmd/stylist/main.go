// Command stylist submits one photo to the remote styling service and waits
// for the result to land in the local project library. It is the development
// harness for the continuation engine; the production consumer is a
// presentation layer.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"stylist/internal/i18n"
	"stylist/internal/infra"
	"stylist/internal/processing"
	"stylist/internal/projects"
	"stylist/internal/templates"
)

func main() {
	imagePath := flag.String("image", "", "path to the source photo (jpeg or png)")
	templateID := flag.String("template", "", "style template id")
	templateName := flag.String("name", "", "style template display name")
	flag.Parse()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	if *imagePath == "" || *templateID == "" {
		logger.Fatal().Msg("stylist: -image and -template are required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := projects.NewStore(projects.Options{
		Dir:       cfg.ProjectsDir,
		LegacyDir: cfg.LegacyDir,
		Logger:    &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("stylist: failed to open project library")
	}

	registry, err := processing.NewRegistry(cfg.ScratchDir, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("stylist: failed to open job registry")
	}

	hub := processing.NewHub()
	runner, err := processing.NewRunner(processing.Options{
		BaseURL:         cfg.RemoteBaseURL,
		ScratchDir:      cfg.ScratchDir,
		RequestTimeout:  cfg.RequestTimeout,
		ResourceTimeout: cfg.ResourceTimeout,
		Registry:        registry,
		Store:           store,
		Hub:             hub,
		Tokens:          processing.StaticToken(cfg.APIToken),
		Logger:          &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("stylist: failed to configure transfer runner")
	}

	machine := processing.NewStateMachine()
	for _, job := range runner.Outstanding() {
		logger.Warn().
			Str("job_id", job.ID).
			Str("template_id", job.TemplateID).
			Msg("stylist: outstanding job from a previous session")
		machine.AdoptBackground(job.ID)
	}

	data, err := os.ReadFile(*imagePath)
	if err != nil {
		logger.Fatal().Err(err).Str("path", *imagePath).Msg("stylist: failed to read photo")
	}

	if err := machine.Begin(); err != nil {
		logger.Fatal().Err(err).Msg("stylist: cannot start a new job")
	}
	machine.Uploading()

	jobID, err := runner.Submit(ctx, processing.SubmitRequest{
		Template:  templates.TemplateRef{ID: *templateID, Name: *templateName},
		ImageData: data,
	})
	if err != nil {
		machine.Fail(err)
		msg := i18n.FailureMessage(cfg.DefaultLocale, err)
		logger.Fatal().Err(err).Str("user_message", msg.Text).Msg("stylist: submission failed")
	}
	machine.Processing(jobID)

	outcomes, cancel := hub.Subscribe(jobID)
	defer cancel()

	select {
	case <-ctx.Done():
		logger.Warn().Str("job_id", jobID).Msg("stylist: interrupted; the job continues against the durable job log")
	case outcome := <-outcomes:
		if outcome.Err != nil {
			machine.Fail(outcome.Err)
			msg := i18n.FailureMessage(cfg.DefaultLocale, outcome.Err)
			logger.Error().
				Err(outcome.Err).
				Str("user_message", msg.Text).
				Bool("offer_credits_flow", msg.Action == i18n.ActionPurchaseCredits).
				Msg("stylist: job failed")
			os.Exit(1)
		}
		machine.Complete(*outcome.Project)
		logger.Info().
			Str("job_id", jobID).
			Str("project_id", outcome.Project.ID).
			Str("template_id", outcome.Project.TemplateID).
			Time("created_at", outcome.Project.CreatedAt).
			Msg("stylist: project saved")
	}
}
