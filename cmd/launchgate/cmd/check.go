package cmd

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/psantana5/launchgate/internal/handoff"
)

var errNotReady = errors.New("dependency not reachable")

var checkOnce bool

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Probe the broker (and database) and report readiness",
	Long: `Runs only the readiness gates. Exits 0 when every configured dependency
answered and 1 otherwise, which makes it usable as a container healthcheck.`,
	Args: noArgs,
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().BoolVar(&checkOnce, "once", false, "probe a single time instead of waiting for WAIT_TIMEOUT")
}

func runCheck(cmd *cobra.Command, args []string) error {
	if checkOnce {
		runtimeCfg.PollTimeoutSeconds = runtimeCfg.PollIntervalSeconds
	}

	l := newLauncher(handoff.RoleWeb, nil)
	outcomes := l.WaitForDependencies(cmd.Context())

	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.Header("Dependency", "URL", "Status", "Attempts", "Waited")

	ready := true
	for _, o := range outcomes {
		status := "ready"
		switch {
		case o.Skipped:
			status = "skipped"
		case !o.Result.Reachable:
			status = "unreachable"
			ready = false
		}
		table.Append(o.Name, o.URL, status, strconv.Itoa(o.Result.Attempts), fmt.Sprintf("%ds", o.Result.ElapsedSeconds()))
	}
	table.Render()

	if !ready {
		return errNotReady
	}
	return nil
}
