package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"salespilot/internal/capability"
	"salespilot/internal/config"
	"salespilot/internal/router"
	"salespilot/internal/session"
)

var routeSessionID string

// routeCmd runs the full pipeline for one query, negotiating missing
// variables interactively on stdin.
var routeCmd = &cobra.Command{
	Use:   "route [query]",
	Short: "Route a sales request to a template and generate the artifact",
	Long: `Runs a query through the full pipeline:
  1. Dispatch: classify the query into top categories
  2. Search: hybrid retrieval (dense + sparse, RRF) within those categories
  3. Negotiate: ask for any template variables not yet known
  4. Generate: produce the final sales artifact

Requires GEMINI_API_KEY for the dispatch, question, and generation calls.

Example:
  salespilot route "prospect ghosting me after I sent pricing"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRoute,
}

func init() {
	routeCmd.Flags().StringVar(&routeSessionID, "session", "", "session id to resume (default: new session)")
}

func runRoute(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	query := strings.Join(args, " ")

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if cfg.LLM.APIKey == "" {
		return fmt.Errorf("GEMINI_API_KEY is required for route (dispatch and generation)")
	}

	client, err := capability.NewGenAIClient(ctx, capability.Config{
		APIKey: cfg.LLM.APIKey,
		Model:  cfg.LLM.Model,
	})
	if err != nil {
		return err
	}

	engine, err := newEmbeddingEngine(cfg)
	if err != nil {
		return err
	}

	ci, retriever, sessions, cleanup, err := buildCore(ctx, cfg, engine)
	if err != nil {
		return err
	}
	defer cleanup()

	eng := router.New(router.Deps{
		Index:       ci,
		Retriever:   retriever,
		Sessions:    sessions,
		Categorizer: client,
		Generator:   client,
		Phraser:     client,
		MaxRounds:   cfg.Session.MaxRounds,
	})

	sess, err := eng.Start(ctx, routeSessionID, query)
	if err != nil {
		return err
	}

	if err := negotiate(ctx, eng, sess); err != nil {
		return err
	}

	switch sess.State() {
	case session.StateNotFound:
		if sess.Err() != nil {
			fmt.Println("Could not fill the template; giving up. Try again with more detail.")
		} else {
			fmt.Println("No matching template found. Try rephrasing your request.")
		}
		return nil
	case session.StateReady:
		artifact, err := eng.Generate(ctx, sess)
		if err != nil {
			return err
		}
		fmt.Printf("Template: %s (%s)\n\n", sess.Winner().ID, sess.Winner().UseCase)
		fmt.Println(artifact)
		return nil
	default:
		return fmt.Errorf("unexpected session state %s", sess.State())
	}
}

// negotiate loops on stdin until the session leaves NEGOTIATING.
func negotiate(ctx context.Context, eng *router.Engine, sess *session.Session) error {
	reader := bufio.NewReader(os.Stdin)

	for sess.State() == session.StateNegotiating {
		question, err := eng.ClarifyingQuestion(ctx, sess)
		if err != nil {
			// Question phrasing is cosmetic; fall back to the raw list.
			question = fmt.Sprintf("Please provide: %s", strings.Join(sess.Missing(), ", "))
		}
		fmt.Println(question)

		updates := make(map[string]string)
		for _, name := range sess.Missing() {
			fmt.Printf("  %s: ", name)
			line, err := reader.ReadString('\n')
			if err != nil {
				return fmt.Errorf("failed to read answer: %w", err)
			}
			line = strings.TrimSpace(line)
			if line != "" {
				updates[name] = line
			}
		}
		if err := eng.Answer(ctx, sess, updates); err != nil {
			return err
		}
	}
	return nil
}
