// Seed provisions a local development environment: the default tenant, the
// built-in skill catalog with approvals and installs, a funded wallet, and a
// demo workflow that is approved and version locked.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"skillmarket/backend/internal/billing"
	"skillmarket/backend/internal/config"
	"skillmarket/backend/internal/install"
	"skillmarket/backend/internal/logging"
	"skillmarket/backend/internal/metrics"
	"skillmarket/backend/internal/registry"
	"skillmarket/backend/internal/repository"
	"skillmarket/backend/internal/skills"
	"skillmarket/backend/internal/workflow"
	"skillmarket/backend/pkg/models"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "seed",
		Short: "Seed the marketplace with the built-in skills and a demo tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath)
		},
	}
	rootCmd.Flags().StringVar(&configPath, "config", "", "path to config file")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	logger := logging.NewLogger()
	defer logger.Sync()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.DB.Host, cfg.DB.Port, cfg.DB.User, cfg.DB.Password, cfg.DB.Name, cfg.DB.SSLMode,
	)
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()

	repo := repository.NewPostgres(pool, logger)
	if err := repo.Migrate(ctx); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	m := metrics.NewDefault()
	registrySvc := registry.NewService(repo.Registry(), logger)
	installSvc := install.NewService(repo.Installs(), registrySvc, logger)
	billingSvc := billing.NewService(repo.Wallets(), repo.Ledger(), repo.Registry(), billing.Pricing{
		UnitCreditValueUSD: cfg.Billing.UnitCreditValueUSD,
		PlatformFeePercent: cfg.Billing.PlatformFeePercent,
		StarterCredits:     cfg.Billing.StarterCredits,
	}, logger, m)
	definitions := workflow.NewDefinitions(repo.Workflows(), logger)

	// default tenant, resolved by email domain on login
	domain := "localhost"
	tenant, err := repo.GetTenantByDomain(ctx, domain)
	if err != nil {
		return fmt.Errorf("look up tenant: %w", err)
	}
	if tenant == nil {
		tenant = &models.Tenant{Name: "Local Dev Tenant", Domain: domain}
		if err := repo.CreateTenant(ctx, tenant); err != nil {
			return fmt.Errorf("create tenant: %w", err)
		}
		logger.Info("created default tenant", "tenant_id", tenant.ID, "domain", domain)
	} else {
		logger.Info("found existing tenant", "tenant_id", tenant.ID)
	}

	if err := billingSvc.EnsureWallet(ctx, tenant.ID); err != nil {
		return fmt.Errorf("ensure wallet: %w", err)
	}

	// publish, approve, and install every built-in skill
	skillRegistry := skills.NewRegistry()
	skills.RegisterBuiltins(skillRegistry)

	for _, meta := range skillRegistry.List() {
		if err := registrySvc.PublishSkill(ctx, &models.SkillMeta{
			SkillID:     meta.SkillID,
			Name:        meta.SkillID,
			Version:     meta.Version,
			Category:    meta.Category,
			RiskLevel:   meta.RiskLevel,
			DeveloperID: "dev_builtin",
			Visibility:  models.VisibilityPublic,
		}); err != nil {
			return fmt.Errorf("publish skill %s: %w", meta.SkillID, err)
		}
		if err := registrySvc.Approve(ctx, meta.SkillID, meta.Version); err != nil {
			return fmt.Errorf("approve skill %s: %w", meta.SkillID, err)
		}
		if _, err := installSvc.Install(ctx, tenant.ID, meta.SkillID, meta.Version, "seed"); err != nil {
			return fmt.Errorf("install skill %s: %w", meta.SkillID, err)
		}
		logger.Info("seeded skill", "skill_id", meta.SkillID, "version", meta.Version)
	}

	// demo workflow, approved and version locked so named-mode runs work
	existing, err := definitions.List(ctx)
	if err != nil {
		return fmt.Errorf("list workflows: %w", err)
	}
	for _, wf := range existing {
		if wf.Name == "redact_and_tag" {
			logger.Info("demo workflow already present", "workflow_id", wf.WorkflowID)
			return nil
		}
	}

	wf, err := definitions.Create(ctx, "redact_and_tag", "1.0.0", "dev_builtin", []models.WorkflowStep{
		{SkillID: "clean_text", Input: map[string]any{"text": "{text}"}},
		{SkillID: "pii_redactor", Input: map[string]any{"text": "{cleaned}"}},
		{SkillID: "keyword_extract", Input: map[string]any{"text": "{redacted}", "top_k": 5}},
	})
	if err != nil {
		return fmt.Errorf("create demo workflow: %w", err)
	}
	if _, err := definitions.Submit(ctx, wf.WorkflowID); err != nil {
		return fmt.Errorf("submit demo workflow: %w", err)
	}
	if _, err := definitions.Approve(ctx, wf.WorkflowID); err != nil {
		return fmt.Errorf("approve demo workflow: %w", err)
	}
	logger.Info("seeded demo workflow", "workflow_id", wf.WorkflowID, "version", wf.Version)

	return nil
}
