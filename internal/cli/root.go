// Package cli wires the engine's commands with cobra.
package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lakeland/bronze-core/internal/config"
	"github.com/lakeland/bronze-core/internal/integrity"
)

// NewRootCmd builds the bronze command tree.
func NewRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:          "bronze",
		Short:        "Landing-zone extraction engine for the bronze layer",
		Long:         "bronze extracts source data into checkpointed, checksummed chunk files\npartitioned by run date, ready for downstream silver-layer processing.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "bronze.yaml", "path to the engine config file")

	rootCmd.AddCommand(newRunCmd(&configPath))
	rootCmd.AddCommand(newVerifyCmd(&configPath))
	rootCmd.AddCommand(newHealthCmd(&configPath))

	return rootCmd
}

func newRunCmd(configPath *string) *cobra.Command {
	var runDate string
	var jobName string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the configured extraction jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			return runBatch(cmd.Context(), cfg, runDate, jobName)
		},
	}
	cmd.Flags().StringVar(&runDate, "date", "", "run date partition, YYYY-MM-DD (default today)")
	cmd.Flags().StringVar(&jobName, "job", "", "run only the named job")
	return cmd
}

func newVerifyCmd(configPath *string) *cobra.Command {
	var runDate string
	var jobName string

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify checksum manifests for already-produced partitions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			jobs, err := selectJobs(cfg, jobName)
			if err != nil {
				return err
			}
			invalid := 0
			for _, job := range jobs {
				run := config.NewRunContext(job, runDate)
				result := integrity.VerifyManifest(run.OutputDir, job.LoadPattern)
				status := "VALID"
				if !result.Valid {
					status = "INVALID"
					invalid++
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-10s %s  verified=%d missing=%d mismatched=%d\n",
					status, run.PartitionPath, len(result.VerifiedFiles), len(result.MissingFiles), len(result.MismatchedFiles))
			}
			if invalid > 0 {
				return fmt.Errorf("%d partition(s) failed verification", invalid)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&runDate, "date", "", "run date partition, YYYY-MM-DD (default today)")
	cmd.Flags().StringVar(&jobName, "job", "", "verify only the named job")
	return cmd
}

func newHealthCmd(configPath *string) *cobra.Command {
	var jobName string

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Probe the configured storage backends",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			jobs, err := selectJobs(cfg, jobName)
			if err != nil {
				return err
			}
			unhealthy := 0
			for _, job := range jobs {
				if !job.Storage.Enabled {
					continue
				}
				backend, err := buildBackend(cmd.Context(), job)
				if err != nil {
					return fmt.Errorf("job %s: %w", job.Name, err)
				}
				report := backend.HealthCheck(cmd.Context())
				if !report.IsHealthy {
					unhealthy++
				}
				out, _ := json.MarshalIndent(report, "", "  ")
				fmt.Fprintf(cmd.OutOrStdout(), "%s (%s):\n%s\n", job.Name, job.Storage.Backend, out)
			}
			if unhealthy > 0 {
				return fmt.Errorf("%d backend(s) unhealthy", unhealthy)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&jobName, "job", "", "probe only the named job's backend")
	return cmd
}

func selectJobs(cfg *config.Config, jobName string) ([]config.JobConfig, error) {
	if jobName == "" {
		return cfg.Jobs, nil
	}
	for _, job := range cfg.Jobs {
		if job.Name == jobName {
			return []config.JobConfig{job}, nil
		}
	}
	return nil, fmt.Errorf("no job named %q in config", jobName)
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}
