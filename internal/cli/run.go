// Package cli wires the cobra root command implementing spec.md §6's
// minimal supervisory CLI surface: --tool, --model, --repo, --auto,
// --agents N, --label PREFIX, --permission-mode, --resume, --fresh.
package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/homer-dev/homer/internal/config"
	"github.com/homer-dev/homer/internal/core/toolcatalog"
	"github.com/homer-dev/homer/internal/models"
	"github.com/homer-dev/homer/internal/ports/primary"
	"github.com/homer-dev/homer/internal/wire"
)

// defaultAddr is where the control surface listens. spec.md §6 names the
// routes but not a binding; this default is ours to pick.
const defaultAddr = ":4173"

// RootCmd builds the `homer` root command.
func RootCmd() *cobra.Command {
	var (
		tool       string
		model      string
		repo       string
		auto       bool
		agents     int
		label      string
		permission string
		resume     bool
		fresh      bool
		addr       string
		origins    []string
		configPath string
	)

	cmd := &cobra.Command{
		Use:   "homer",
		Short: "HOMER — multi-agent orchestrator for interactive AI coding CLIs",
		Long: `HOMER supervises many PTY-attached coding-agent child processes,
feeds them tasks from a local PRD or issue tracker, detects completion
signals in their output, re-runs project verification, and learns from
every run into a per-repository memory store.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := runFlags{
				Tool: tool, Model: model, Repo: repo, Auto: auto, Agents: agents,
				Label: label, Permission: permission, Resume: resume, Fresh: fresh,
				Addr: addr, AllowOrigins: origins,
			}
			if configPath != "" {
				fileCfg, err := config.LoadYAML(configPath)
				if err != nil {
					return err
				}
				applyConfigFallback(cmd, &f, fileCfg)
			}
			return runOrchestrator(f)
		},
	}

	cmd.Flags().StringVar(&tool, "tool", "", "tool id to launch agents with (e.g. claude, aider)")
	cmd.Flags().StringVar(&model, "model", "", "model identifier passed through to the tool")
	cmd.Flags().StringVar(&repo, "repo", "", "owner/name of the repo being worked, empty for local-only")
	cmd.Flags().BoolVar(&auto, "auto", false, "auto-pull tasks from the scheduler instead of running interactively")
	cmd.Flags().IntVar(&agents, "agents", config.DefaultAgents, "target concurrency for auto mode")
	cmd.Flags().StringVar(&label, "label", "", "prefix applied to agent-spawned branch/PR labels")
	cmd.Flags().StringVar(&permission, "permission-mode", "", "permission mode forwarded to tools that support one")
	cmd.Flags().BoolVar(&resume, "resume", false, "resume the last session for this repo if one is found")
	cmd.Flags().BoolVar(&fresh, "fresh", false, "ignore any resumable session and start clean")
	cmd.Flags().StringVar(&addr, "addr", defaultAddr, "control surface listen address")
	cmd.Flags().StringSliceVar(&origins, "allow-origin", nil, "additional origins allowed on the control surface")
	cmd.Flags().StringVar(&configPath, "config", "", "YAML config file; fills in any flag not passed explicitly")

	return cmd
}

// applyConfigFallback fills fields of f from fileCfg wherever the
// corresponding flag was not explicitly passed on the command line
// (spec.md §6: CLI flags take precedence over the --config file).
func applyConfigFallback(cmd *cobra.Command, f *runFlags, fileCfg config.Config) {
	changed := cmd.Flags().Changed
	if !changed("tool") && fileCfg.Tool != "" {
		f.Tool = fileCfg.Tool
	}
	if !changed("model") && fileCfg.Model != "" {
		f.Model = fileCfg.Model
	}
	if !changed("repo") && fileCfg.Repo != "" {
		f.Repo = fileCfg.Repo
	}
	if !changed("auto") && fileCfg.Auto {
		f.Auto = fileCfg.Auto
	}
	if !changed("agents") && fileCfg.Agents != 0 {
		f.Agents = fileCfg.Agents
	}
	if !changed("label") && fileCfg.LabelPrefix != "" {
		f.Label = fileCfg.LabelPrefix
	}
	if !changed("permission-mode") && fileCfg.PermissionMode != "" {
		f.Permission = fileCfg.PermissionMode
	}
}

type runFlags struct {
	Tool, Model, Repo, Label, Permission, Addr string
	Auto, Resume, Fresh                        bool
	Agents                                      int
	AllowOrigins                                []string
}

// runOrchestrator is the single `homer` entrypoint: it resolves the tool,
// wires services, optionally resumes a prior session, spawns the initial
// agent set in auto mode, serves the control surface, and blocks until a
// shutdown signal (spec.md §6: exit 0 on clean shutdown, 1 on
// unrecoverable init error such as a named tool not found).
func runOrchestrator(f runFlags) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to resolve working directory: %w", err)
	}

	if f.Tool != "" {
		desc := toolcatalog.Resolve(f.Tool)
		if _, err := exec.LookPath(desc.Command); err != nil {
			return fmt.Errorf("tool %q not found: %w", f.Tool, err)
		}
	}

	opts := models.RunOptions{
		Tool: f.Tool, Model: f.Model, Repo: f.Repo, Auto: f.Auto, Agents: f.Agents,
		LabelPrefix: f.Label, PermissionMode: f.Permission, Resume: f.Resume, Fresh: f.Fresh,
	}
	wire.Configure(opts, cwd)
	logger := wire.Logger()
	defer logger.Sync() //nolint:errcheck

	persisted := config.Config{
		Tool: f.Tool, Model: f.Model, Repo: f.Repo, Auto: f.Auto, Agents: f.Agents,
		LabelPrefix: f.Label, PermissionMode: f.Permission,
	}
	if err := config.Save(persisted); err != nil {
		logger.Warn("failed to persist config", zap.Error(err))
	}

	sup := wire.SupervisorImpl()

	if !f.Fresh && f.Resume {
		if snap, ok := sup.DetectResumableSession(); ok {
			ids := sup.ResumeAll(snap)
			logger.Info("resumed session", zap.String("sessionId", snap.SessionID), zap.Int("agents", len(ids)))
		} else {
			logger.Info("no resumable session found, starting fresh")
		}
	}

	if f.Auto {
		target := f.Agents
		if target <= 0 {
			target = config.DefaultAgents
		}
		for i := 0; i < target; i++ {
			if _, err := sup.Spawn(primary.SpawnRequest{ToolID: f.Tool, Model: f.Model, Perm: f.Permission}); err != nil {
				logger.Warn("failed to spawn initial agent", zap.Error(err))
			}
		}
	}

	heartbeat := wire.HeartbeatScheduler()
	heartbeat.Start()
	defer heartbeat.Stop()

	srv := &http.Server{
		Addr:    f.Addr,
		Handler: wire.ControlServer(f.AllowOrigins).Handler(),
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("control surface listening", zap.String("addr", f.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			logger.Error("control surface failed", zap.Error(err))
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("control surface shutdown error", zap.Error(err))
	}

	if err := sup.Shutdown(); err != nil {
		logger.Error("supervisor shutdown failed", zap.Error(err))
		return err
	}
	return nil
}
