package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"runtime"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/psantana5/launchgate/internal/config"
	"github.com/psantana5/launchgate/internal/gate"
)

var (
	showOutput      string
	recommendOutput string
	recommendRole   string
	memPerWorkerMiB int
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect configuration and get sizing recommendations",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the resolved runtime configuration",
	Long: `Prints the configuration launchgate would run with after applying flags,
environment, the dotenv file and preset defaults. Credentials in URLs are
masked.`,
	Args: noArgs,
	RunE: runConfigShow,
}

var configRecommendCmd = &cobra.Command{
	Use:   "recommend",
	Short: "Recommend WORKERS for this machine",
	Long: `Inspects CPU and memory and suggests a worker count. Web servers get the
usual (2 x cores) + 1, worker pools one process per core, both capped by the
memory available for MEM_PER_WORKER MiB each.`,
	Args: noArgs,
	RunE: runConfigRecommend,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configRecommendCmd)

	configShowCmd.Flags().StringVarP(&showOutput, "output", "o", "table", "Output format: table, json, yaml")
	configRecommendCmd.Flags().StringVarP(&recommendOutput, "output", "o", "text", "Output format: text, json, yaml, bash")
	configRecommendCmd.Flags().StringVarP(&recommendRole, "role", "r", "web", "Role to size: web or worker")
	configRecommendCmd.Flags().IntVar(&memPerWorkerMiB, "mem-per-worker", 256, "Expected resident memory per worker process in MiB")
}

// setting is one row of config show.
type setting struct {
	Key   string
	Env   string
	Value interface{}
}

func settings(cfg config.RuntimeConfig) []setting {
	row := func(key string, value interface{}) setting {
		env := ""
		if names := config.EnvNames(key); len(names) > 0 {
			env = names[0]
		}
		return setting{Key: key, Env: env, Value: value}
	}

	rows := []setting{
		row(config.KeyPreset, string(cfg.Preset)),
		row(config.KeyDependencyURL, gate.Redact(cfg.DependencyURL)),
		row(config.KeyDatabaseURL, redactOptional(cfg.DatabaseURL)),
		row(config.KeyPort, cfg.ListenPort),
		row(config.KeyBindHost, cfg.BindHost),
		row(config.KeyWorkers, cfg.WorkerConcurrency),
		row(config.KeyTimeout, cfg.RequestTimeoutSeconds),
		row(config.KeyWaitInterval, cfg.PollIntervalSeconds),
		row(config.KeyWaitTimeout, cfg.PollTimeoutSeconds),
		row(config.KeyProbeTimeout, cfg.ProbeTimeoutSeconds),
		row(config.KeyAppModule, cfg.AppModule),
		row(config.KeyAppFactory, cfg.FactorySymbol),
		row(config.KeyAppInstance, cfg.InstanceSymbol),
		row(config.KeyIntrospect, string(cfg.Introspection)),
		row(config.KeyAppDir, cfg.AppDir),
		row(config.KeyPythonBin, cfg.PythonBin),
		row(config.KeyServerBin, cfg.ServerBin),
		row(config.KeyWorkerBin, cfg.WorkerBin),
		row(config.KeyQueues, cfg.Queues),
		row(config.KeyHandoffMode, string(cfg.HandoffMode)),
		row(config.KeyLogLevel, cfg.LogLevel),
		row(config.KeyLogFormat, cfg.LogFormat),
		row(config.KeyMetricsTextfile, cfg.MetricsTextfile),
		row(config.KeyPushgatewayURL, redactOptional(cfg.PushgatewayURL)),
		row(config.KeyOTLPEndpoint, redactOptional(cfg.OTLPEndpoint)),
	}
	return rows
}

func redactOptional(raw string) string {
	if raw == "" {
		return ""
	}
	return gate.Redact(raw)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	return writeSettings(cmd.OutOrStdout(), settings(runtimeCfg), showOutput)
}

func writeSettings(w io.Writer, rows []setting, format string) error {
	switch format {
	case "json", "yaml":
		values := make(map[string]interface{}, len(rows))
		for _, r := range rows {
			values[r.Key] = r.Value
		}
		if format == "json" {
			encoder := json.NewEncoder(w)
			encoder.SetIndent("", "  ")
			return encoder.Encode(values)
		}
		encoder := yaml.NewEncoder(w)
		encoder.SetIndent(2)
		if err := encoder.Encode(values); err != nil {
			return err
		}
		return encoder.Close()

	default:
		table := tablewriter.NewWriter(w)
		table.Header("Setting", "Variable", "Value")
		for _, r := range rows {
			table.Append(r.Key, r.Env, fmt.Sprint(r.Value))
		}
		return table.Render()
	}
}

// Recommendation is the output of config recommend.
type Recommendation struct {
	Role      string `json:"role" yaml:"role"`
	CPUs      int    `json:"cpus" yaml:"cpus"`
	MemoryMiB uint64 `json:"memory_mib" yaml:"memory_mib"`
	Workers   int    `json:"workers" yaml:"workers"`
	Rationale string `json:"rationale" yaml:"rationale"`
}

func runConfigRecommend(cmd *cobra.Command, args []string) error {
	cpus, err := cpu.Counts(true)
	if err != nil || cpus < 1 {
		cpus = runtime.NumCPU()
	}

	vmem, err := mem.VirtualMemory()
	if err != nil {
		return fmt.Errorf("failed to read memory info: %w", err)
	}

	rec := recommend(recommendRole, cpus, vmem.Available, memPerWorkerMiB)
	return outputRecommendation(cmd.OutOrStdout(), rec, recommendOutput)
}

func recommend(role string, cpus int, availableBytes uint64, perWorkerMiB int) Recommendation {
	if role != "worker" {
		role = "web"
	}
	if cpus < 1 {
		cpus = 1
	}
	if perWorkerMiB < 1 {
		perWorkerMiB = 256
	}

	byCPU := cpus
	basis := fmt.Sprintf("one process per core (%d)", cpus)
	if role == "web" {
		byCPU = 2*cpus + 1
		basis = fmt.Sprintf("(2 x %d cores) + 1 = %d", cpus, byCPU)
	}

	memMiB := availableBytes / (1024 * 1024)
	byMem := int(memMiB / uint64(perWorkerMiB))

	workers := byCPU
	rationale := basis
	if byMem < workers {
		workers = byMem
		rationale = fmt.Sprintf("%s, capped to %d by %d MiB available at %d MiB per worker",
			basis, byMem, memMiB, perWorkerMiB)
	}
	if workers < 1 {
		workers = 1
	}

	return Recommendation{
		Role:      role,
		CPUs:      cpus,
		MemoryMiB: memMiB,
		Workers:   workers,
		Rationale: rationale,
	}
}

func outputRecommendation(w io.Writer, rec Recommendation, format string) error {
	switch format {
	case "json":
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(rec)

	case "yaml":
		encoder := yaml.NewEncoder(w)
		encoder.SetIndent(2)
		if err := encoder.Encode(rec); err != nil {
			return err
		}
		return encoder.Close()

	case "bash":
		fmt.Fprintf(w, "# %s\n", rec.Rationale)
		fmt.Fprintf(w, "export WORKERS=%s\n", strconv.Itoa(rec.Workers))
		return nil

	default: // text
		fmt.Fprintln(w, "Machine:")
		fmt.Fprintf(w, "  CPUs: %d\n", rec.CPUs)
		fmt.Fprintf(w, "  Available memory: %d MiB\n", rec.MemoryMiB)
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Recommended for %s:\n", rec.Role)
		fmt.Fprintf(w, "  WORKERS=%d\n", rec.Workers)
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Rationale:")
		fmt.Fprintf(w, "  %s\n", rec.Rationale)
		return nil
	}
}
