package cli

import (
	"fmt"
	"os"

	"github.com/harun/umile/internal/config"
	"github.com/spf13/cobra"
)

var (
	configureProvider string
	configureModel    string
	configureForce    bool
)

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Write a starter configuration file",
	Long: `Write a configuration file with the default settings and the chosen
pipeline provider. API keys are best supplied through UMILE_PIPELINE_API_KEY,
OPENAI_API_KEY or ANTHROPIC_API_KEY.`,
	Args: cobra.NoArgs,
	RunE: runConfigure,
}

func init() {
	configureCmd.Flags().StringVar(&configureProvider, "provider", "openai", "pipeline provider (openai, anthropic, echo)")
	configureCmd.Flags().StringVar(&configureModel, "model", "", "model name (provider default when empty)")
	configureCmd.Flags().BoolVar(&configureForce, "force", false, "overwrite an existing file")
	rootCmd.AddCommand(configureCmd)
}

var defaultModels = map[string]string{
	"openai":    "gpt-4o-mini",
	"anthropic": "claude-3-5-haiku-latest",
	"echo":      "",
}

func runConfigure(cmd *cobra.Command, args []string) error {
	defaultModel, ok := defaultModels[configureProvider]
	if !ok {
		return fmt.Errorf("unsupported provider: %s", configureProvider)
	}

	loader := config.NewLoader(cfgFile)
	configPath := loader.GetConfigPath()
	if _, err := os.Stat(configPath); err == nil && !configureForce {
		return fmt.Errorf("config file already exists: %s (use --force to overwrite)", configPath)
	}

	cfg := config.DefaultConfig()
	cfg.Pipeline.Provider = configureProvider
	cfg.Pipeline.Model = defaultModel
	if configureModel != "" {
		cfg.Pipeline.Model = configureModel
	}

	if err := loader.Save(cfg); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Configuration saved to: %s\n", configPath)
	fmt.Fprintln(cmd.OutOrStdout(), "You can now start umile with: umile serve")

	return nil
}
