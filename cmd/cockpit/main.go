package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"cockpit/internal/config"
	"cockpit/internal/controller"
	"cockpit/internal/kv"
	"cockpit/internal/permission"
	"cockpit/internal/rules"
	"cockpit/internal/runtime"
	"cockpit/internal/session"
	"cockpit/internal/teams"
	"cockpit/internal/tui"
)

func main() {
	var (
		configPath string
		useTUI     bool
	)
	flag.StringVar(&configPath, "config", "", "Path to config JSON/JSONC")
	flag.BoolVar(&useTUI, "tui", false, "Run the full-screen TUI instead of the REPL")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(cfg.Storage.BaseDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "init storage dir failed: %v\n", err)
		os.Exit(1)
	}
	store, err := kv.NewSQLiteStore(cfg.DatabasePath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "open database failed: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	workspaceRoot, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "resolve cwd failed: %v\n", err)
		os.Exit(1)
	}

	ruleStore := rules.NewStore(store)
	engine := permission.New(ruleStore)
	sessions := session.NewStore(store)

	dispatcher := runtime.NewClient(runtime.Config{
		BaseURL:      cfg.Backend.BaseURL,
		APIKey:       cfg.Backend.APIKey,
		Model:        cfg.Backend.Model,
		TimeoutMS:    cfg.Backend.TimeoutMS,
		MaxSteps:     cfg.Backend.MaxSteps,
		SystemPrompt: cfg.Backend.SystemPrompt,
	}, newShellExecutor(workspaceRoot))

	ctrl := controller.New(controller.Options{
		Dispatcher:   dispatcher,
		Engine:       engine,
		Sessions:     sessions,
		ContextLimit: cfg.Backend.ContextTokenLimit,
		Model:        cfg.Backend.Model,
	})

	var teamSync *teams.Synchronizer
	if cfg.Teams.BaseURL != "" {
		teamSync = teams.NewSynchronizer(teams.NewClient(teams.ClientConfig{
			BaseURL:   cfg.Teams.BaseURL,
			APIKey:    cfg.Teams.APIKey,
			TimeoutMS: cfg.Teams.TimeoutMS,
		}))
		if err := teamSync.Start(context.Background()); err != nil {
			fmt.Fprintf(os.Stderr, "team sync unavailable: %v\n", err)
		} else {
			defer teamSync.Stop()
		}
	}

	if useTUI {
		err := tui.Run(tui.Options{
			Controller: ctrl,
			Teams:      teamSync,
			Rules:      ruleStore,
			Model:      dispatcher.CurrentModel(),
			Markdown:   cfg.UI.Markdown,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "tui failed: %v\n", err)
			os.Exit(1)
		}
		return
	}

	reader, readerErr := newLineInput(filepath.Join(cfg.Storage.BaseDir, "repl.history"))
	if readerErr != nil {
		fmt.Fprintf(os.Stderr, "line editor unavailable, fallback to basic input: %v\n", readerErr)
	}
	defer reader.Close()

	r := newREPL(ctrl, dispatcher, engine, teamSync, reader, cfg)
	fmt.Printf("cockpit started, workspace: %s\n", workspaceRoot)
	fmt.Printf("model: %s\n", dispatcher.CurrentModel())
	printREPLCommands(os.Stdout)
	r.loop()
}
