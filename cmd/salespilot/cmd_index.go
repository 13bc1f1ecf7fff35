package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"salespilot/internal/config"
	"salespilot/internal/index"
)

var indexWatch bool

// indexCmd validates the prompt library and builds the index once, printing
// stats. With --watch it stays running and rebuilds on library file changes.
var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Validate the prompt library and build the index",
	RunE:  runIndex,
}

func init() {
	indexCmd.Flags().BoolVar(&indexWatch, "watch", false, "keep running and rebuild when the library file changes")
}

func runIndex(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	engine, err := newEmbeddingEngine(cfg)
	if err != nil {
		return err
	}

	lib, err := loadLibrary(cfg)
	if err != nil {
		return err
	}

	ci := index.New(engine)
	if err := ci.BuildFromLibrary(ctx, lib); err != nil {
		return fmt.Errorf("index build failed: %w", err)
	}

	fmt.Printf("Library OK: %d records across %d categories\n", lib.Len(), len(lib.Categories()))
	for _, s := range lib.Summary() {
		fmt.Printf("  %-20s %d\n", s.Category, s.Count)
	}
	if engine != nil {
		fmt.Printf("Dense backend: %s (%d dims)\n", engine.Name(), engine.Dimensions())
	} else {
		fmt.Println("Dense backend: disabled (sparse-only)")
	}

	if !indexWatch && !cfg.Library.Watch {
		return nil
	}
	if cfg.Library.PromptsPath == "" {
		return fmt.Errorf("--watch requires a library file (set library.prompts_path or SALESPILOT_PROMPTS)")
	}

	w, err := index.Watch(ctx, ci, cfg.Library.PromptsPath)
	if err != nil {
		return err
	}
	defer w.Close()

	fmt.Printf("Watching %s; press Ctrl-C to stop\n", cfg.Library.PromptsPath)
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	select {
	case <-ctx.Done():
	case <-sig:
	}
	return nil
}
