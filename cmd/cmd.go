// cmd.go - Haupt-CLI Setup und Root Command
// Hauptfunktionen: NewCLI, appendEnvDocs
package cmd

import (
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/latentflow/latentflow/envconfig"
	"github.com/latentflow/latentflow/version"
)

// appendEnvDocs - Fuegt Umgebungsvariablen-Dokumentation zum Command hinzu
func appendEnvDocs(cmd *cobra.Command, envs []envconfig.EnvVar) {
	if len(envs) == 0 {
		return
	}

	envUsage := `
Environment Variables:
`
	for _, e := range envs {
		envUsage += fmt.Sprintf("      %-26s   %s\n", e.Name, e.Description)
	}

	cmd.SetUsageTemplate(cmd.UsageTemplate() + envUsage)
}

// NewCLI - Erstellt das Haupt-CLI mit allen Commands
func NewCLI() *cobra.Command {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	cobra.EnableCommandSorting = false

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: envconfig.LogLevel(),
	})))

	rootCmd := &cobra.Command{
		Use:           "latentflow",
		Short:         "Multimodal latent-diffusion training orchestrator",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		Run: func(cmd *cobra.Command, args []string) {
			if v, _ := cmd.Flags().GetBool("version"); v {
				fmt.Println(version.Version)
				return
			}
			cmd.Print(cmd.UsageString())
		},
	}

	rootCmd.Flags().BoolP("version", "v", false, "Show version information")

	trainCmd := &cobra.Command{
		Use:   "train",
		Short: "Build the latent cache and run the training loop",
		Args:  cobra.ExactArgs(0),
		RunE:  TrainHandler,
	}

	trainCmd.Flags().Bool("resume", false, "Resume training from the most recent checkpoint")
	trainCmd.Flags().String("model", "transfusion", "Name of the registered model to train")
	trainCmd.Flags().Float64("learning-rate", 5e-5, "Learning rate for training")
	trainCmd.Flags().Int("batch-size", 4, "Batch size per cache shard")
	trainCmd.Flags().Int("cache-batch-size", 2, "Number of shards grouped per training step")
	trainCmd.Flags().Int("image-size", 256, "Image size for training")
	trainCmd.Flags().Int("patch-size", 2, "Patch size for the latent transform")
	trainCmd.Flags().Bool("gradient-checkpointing", false, "Use gradient checkpointing")
	trainCmd.Flags().Float64("diffusion-loss-weight", 5, "Weight for the diffusion loss")
	trainCmd.Flags().Int("max-length", 128, "Max token length for the input text")
	trainCmd.Flags().Int("epochs", 10, "Number of training epochs")
	trainCmd.Flags().Int("debug-steps", 20, "Step cadence for debug renders")
	trainCmd.Flags().Int("inference-steps", 200, "Step cadence for inference barriers")
	trainCmd.Flags().Int("save-steps", 200, "Step cadence for checkpoint saves")
	trainCmd.Flags().Bool("cache", false, "Force a rebuild of the latent cache")
	trainCmd.Flags().Int64("seed", 42, "Seed for timestep sampling and the sample-noise blend")
	trainCmd.Flags().StringSlice("source", []string{"source"}, "Source directories for text-image pairs")
	trainCmd.Flags().String("status-addr", "", "Address for the HTTP status endpoint (empty disables)")

	envVars := envconfig.AsMap()
	appendEnvDocs(trainCmd, []envconfig.EnvVar{
		envVars["LATENTFLOW_DEBUG"],
		envVars["LATENTFLOW_CACHE"],
		envVars["LATENTFLOW_CHECKPOINT"],
		envVars["LATENTFLOW_PAIRS"],
		envVars["LATENTFLOW_METRICS"],
		envVars["LATENTFLOW_CACHE_WORKERS"],
	})

	rootCmd.AddCommand(trainCmd)
	return rootCmd
}
