package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/slavoc-ai/Focus-Flow-sub000/internal/config"
	"github.com/slavoc-ai/Focus-Flow-sub000/internal/domain"
	"github.com/slavoc-ai/Focus-Flow-sub000/internal/repo"
)

// ResolveProjectAndConfig picks the active project and ensures a project +
// config exist in the DB, seeding defaults if missing. It prefers the
// override, then single-project DB. A missing project is created on the fly.
func ResolveProjectAndConfig(ctx context.Context, projectOverride string, r repo.Repo) (string, *config.Config, error) {
	projectID := projectOverride
	if projectID == "" {
		p, err := r.SingleProject(ctx)
		if err != nil {
			return "", nil, fmt.Errorf("project not specified; use --project")
		}
		projectID = p.ID
	}
	seedCfg := config.Default(projectID)

	if _, err := r.GetProject(ctx, projectID); err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return "", nil, err
		}
		if err := createProject(ctx, r, projectID, seedCfg); err != nil {
			return "", nil, err
		}
	}
	cfg, err := r.GetProjectConfig(ctx, projectID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			if err := r.UpsertProjectConfig(ctx, projectID, seedCfg); err != nil {
				return "", nil, fmt.Errorf("seed project config: %w", err)
			}
			cfg = seedCfg
		} else {
			return "", nil, err
		}
	}
	cfg.Project.ID = projectID
	return projectID, cfg, nil
}

func createProject(ctx context.Context, r repo.Repo, projectID string, seedCfg *config.Config) error {
	if seedCfg == nil {
		seedCfg = config.Default(projectID)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	p := domain.Project{
		ID:        projectID,
		Kind:      "focus-project",
		Status:    "active",
		CreatedAt: now,
	}
	if err := r.InitProject(ctx, p, seedCfg, "local-user"); err != nil {
		return fmt.Errorf("init project: %w", err)
	}
	return nil
}
