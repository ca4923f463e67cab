package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/psantana5/launchgate/internal/handoff"
)

var resolveOutput string

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Print the application target gunicorn would load",
	Args:  noArgs,
	RunE:  runResolve,
}

func init() {
	rootCmd.AddCommand(resolveCmd)
	resolveCmd.Flags().StringVarP(&resolveOutput, "output", "o", "text", "Output format: text, json")
}

type resolveResult struct {
	Target   string `json:"target"`
	Kind     string `json:"kind"`
	Fallback bool   `json:"fallback"`
	Reason   string `json:"reason"`
}

func runResolve(cmd *cobra.Command, args []string) error {
	res := newLauncher(handoff.RoleWeb, nil).ResolveEntryPoint(cmd.Context())

	if resolveOutput == "json" {
		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		return encoder.Encode(resolveResult{
			Target:   res.Target.String(),
			Kind:     res.Target.Kind.String(),
			Fallback: res.Fallback,
			Reason:   res.Reason,
		})
	}

	fmt.Fprintln(cmd.OutOrStdout(), res.Target.String())
	return nil
}
