package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/psantana5/launchgate/internal/handoff"
	"github.com/psantana5/launchgate/internal/launcher"
)

var webCmd = &cobra.Command{
	Use:   "web [-- extra server args]",
	Short: "Wait for the broker, resolve the app target and start gunicorn",
	Long: `Runs the full startup pipeline for the web role. The application target is
MODULE:FACTORY() when the module defines the factory, MODULE:INSTANCE otherwise.
Arguments after -- are passed to the server unchanged.`,
	RunE: runRole(handoff.RoleWeb),
}

var workerCmd = &cobra.Command{
	Use:   "worker [-- extra worker args]",
	Short: "Wait for the broker and start the rq worker",
	Long: `Runs the startup pipeline for the queue worker. With WORKERS > 1 an rq
worker-pool is started. Arguments after -- are passed to rq unchanged.`,
	RunE: runRole(handoff.RoleWorker),
}

func init() {
	rootCmd.AddCommand(webCmd)
	rootCmd.AddCommand(workerCmd)
}

func runRole(role handoff.Role) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		l := newLauncher(role, args)

		if !dryRun {
			return l.Run(cmd.Context())
		}

		plan := l.Plan(cmd.Context())
		printPlan(cmd, plan)
		return nil
	}
}

func printPlan(cmd *cobra.Command, plan launcher.Plan) {
	out := cmd.OutOrStdout()
	for _, g := range plan.Gates {
		switch {
		case g.Skipped:
			fmt.Fprintf(out, "# %s %s: skipped (%s)\n", g.Name, g.URL, g.SkipReason)
		case g.Result.Reachable:
			fmt.Fprintf(out, "# %s %s: reachable after %d attempt(s)\n", g.Name, g.URL, g.Result.Attempts)
		default:
			fmt.Fprintf(out, "# %s %s: not reachable after %ds\n", g.Name, g.URL, g.Result.ElapsedSeconds())
		}
	}
	if plan.Resolution != nil {
		fmt.Fprintf(out, "# entry point: %s (%s)\n", plan.Resolution.Target, plan.Resolution.Reason)
	}
	fmt.Fprintln(out, plan.Command.String())
}
