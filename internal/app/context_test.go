package app

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"

	"frequency/internal/config"
)

func quietOptions(workspace string) Options {
	return Options{Workspace: workspace, User: "tester", Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

func TestOpenSeedsConfigAndCategoriesOnce(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	first, err := Open(ctx, quietOptions(dir))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	cats, err := first.Engine.ListCategories(ctx)
	if err != nil {
		t.Fatalf("list categories: %v", err)
	}
	if len(cats) != len(first.Config.Categories) || cats[0].Name != "Company" {
		t.Fatalf("expected seeded categories, got %+v", cats)
	}
	if err := first.Engine.DeleteCategory(ctx, cats[0].ID, first.User.ID); err != nil {
		t.Fatalf("delete category: %v", err)
	}
	userID := first.User.ID
	first.Close()

	second, err := Open(ctx, quietOptions(dir))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer second.Close()
	if second.User.ID != userID {
		t.Fatalf("user should be stable across opens")
	}
	cats, err = second.Engine.ListCategories(ctx)
	if err != nil {
		t.Fatalf("list categories: %v", err)
	}
	if len(cats) != len(second.Config.Categories)-1 {
		t.Fatalf("categories should not be reseeded, got %d", len(cats))
	}
}

func TestOpenPrefersWorkspaceFile(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	cfg := config.Default("team")
	cfg.Categories = []string{"Company", "Ops"}
	cfg.Objectives.DefaultCategory = "Ops"
	data, err := cfg.Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(config.Path(dir), data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	c, err := Open(ctx, quietOptions(dir))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer c.Close()
	if c.Config.Workspace.Name != "team" || c.Config.Objectives.DefaultCategory != "Ops" {
		t.Fatalf("expected file config, got %+v", c.Config)
	}
	stored, err := c.Repo.GetWorkspaceConfig(ctx, WorkspaceKey)
	if err != nil {
		t.Fatalf("stored config: %v", err)
	}
	if len(stored.Categories) != 2 {
		t.Fatalf("expected stored config to match file, got %+v", stored.Categories)
	}
}
