package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/chatplan/internal/pipeline"
	"github.com/mohammad-safakhou/chatplan/internal/runtime"
)

func planCmd(a *app) *cobra.Command {
	var (
		searchMode bool
		model      string
	)
	cmd := &cobra.Command{
		Use:   "plan <prompt>",
		Short: "Generate plans for one prompt and print the final state as JSON",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			streamer, err := newStreamer(a.cfg.LLM, a.logger)
			if err != nil {
				return err
			}
			opts := pipelineOptions(a.cfg, "cli")
			if cmd.Flags().Changed("search") {
				opts.SearchMode = searchMode
			}
			if model != "" {
				opts.Model = model
			}
			ctrl := pipeline.NewController(streamer, opts, pipeline.WithLogger(a.logger))

			ctx, stop := runtime.SignalContext(cmd.Context(), a.logger)
			defer stop()
			outcome, _ := ctrl.Start(ctx, strings.Join(args, " ")).Wait()

			st := ctrl.State()
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			enc.SetEscapeHTML(false)
			if err := enc.Encode(st); err != nil {
				return err
			}
			if outcome != pipeline.OutcomeSucceeded {
				return fmt.Errorf("plan generation %s: %s", outcome, st.Error)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&searchMode, "search", false, "allow the model side a multi-step search budget")
	cmd.Flags().StringVar(&model, "model", "", "model id (overrides planner.model)")
	return cmd
}
