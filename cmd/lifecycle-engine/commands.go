// cmd/lifecycle-engine/commands.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"loan-lifecycle/internal/lifecycle/view"
	"loan-lifecycle/internal/models"
)

func reconcileCmd(configPath *string) *cobra.Command {
	var trigger string

	cmd := &cobra.Command{
		Use:   "reconcile <applicationId>...",
		Short: "Recompute and apply the stage for one or more applications",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := models.TriggerKind(trigger)
			if !kind.Valid() {
				return fmt.Errorf("unknown trigger %q", trigger)
			}

			ctx := context.Background()
			e, err := newEngine(ctx, *configPath)
			if err != nil {
				return err
			}
			defer e.Close()

			failed := 0
			for _, id := range args {
				res, err := e.apply.Reconcile(ctx, id, kind)
				if err != nil {
					failed++
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", id, err)
					continue
				}
				if err := printJSON(cmd.OutOrStdout(), map[string]interface{}{"applicationId": id, "result": res}); err != nil {
					return err
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d reconciliations failed", failed, len(args))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&trigger, "trigger", "t", string(models.TriggerManual), "trigger recorded on the transition")
	return cmd
}

func remapCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "remap <applicationId>...",
		Short: "Re-resolve stored raw fields against the current field schema",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			e, err := newEngine(ctx, *configPath)
			if err != nil {
				return err
			}
			defer e.Close()

			for _, id := range args {
				promoted, err := e.fields.Remap(ctx, id)
				if err != nil {
					return fmt.Errorf("%s: %w", id, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d field(s) promoted\n", id, promoted)
			}
			return nil
		},
	}
}

type inspection struct {
	View  *view.View                     `json:"view"`
	Audit []models.StageTransitionRecord `json:"auditIndex,omitempty"`
}

func inspectCmd(configPath *string) *cobra.Command {
	var (
		withProvenance bool
		auditSize      int
	)

	cmd := &cobra.Command{
		Use:   "inspect <applicationId>",
		Short: "Print the application view, optionally with provenance and indexed transitions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			e, err := newEngine(ctx, *configPath)
			if err != nil {
				return err
			}
			defer e.Close()

			v, err := e.view.Get(ctx, args[0], withProvenance)
			if err != nil {
				return err
			}
			out := inspection{View: v}

			if e.audit != nil && auditSize > 0 {
				recs, err := e.audit.Recent(ctx, args[0], auditSize)
				if err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "audit index: %v\n", err)
				}
				out.Audit = recs
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}

	cmd.Flags().BoolVarP(&withProvenance, "provenance", "p", false, "tag each field with where its value came from")
	cmd.Flags().IntVar(&auditSize, "audit", 0, "also list the N most recent transitions from the audit index")
	return cmd
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
