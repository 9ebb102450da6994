package cli

import (
	"fmt"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"github.com/custodia-labs/storekb/internal/adapters/driven/config/file"
	"github.com/custodia-labs/storekb/internal/config"
)

var (
	configForce bool
	configJSON  bool
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the storekb configuration file",
}

var configInitCmd = &cobra.Command{
	Use:         "init",
	Short:       "Write a configuration file with default values",
	Args:        cobra.NoArgs,
	Annotations: map[string]string{annotationOffline: "true"},
	RunE:        runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the resolved configuration",
	Long: `Prints the configuration after applying the file and STOREKB_*
environment overrides. API keys are masked.`,
	Args:        cobra.NoArgs,
	Annotations: map[string]string{annotationOffline: "true"},
	RunE:        runConfigShow,
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "overwrite an existing file")
	configShowCmd.Flags().BoolVar(&configJSON, "json", false, "output as JSON")
	configCmd.AddCommand(configInitCmd, configShowCmd)
	rootCmd.AddCommand(configCmd)
}

// openConfigStore opens the store at --config, or the default directory.
func openConfigStore() (*file.ConfigStore, error) {
	if configPath != "" {
		return file.NewConfigStoreFromFile(configPath)
	}
	return file.NewConfigStore("")
}

func runConfigInit(cmd *cobra.Command, _ []string) error {
	store, err := openConfigStore()
	if err != nil {
		return err
	}
	if store.Exists() && !configForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", store.Path())
	}
	if err := store.Save(config.Default()); err != nil {
		return err
	}
	cmd.Printf("Wrote %s\n", store.Path())
	cmd.Println("Set content.root (or content.base_url) and your provider keys, then run 'storekb sync full'.")
	return nil
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	store, err := openConfigStore()
	if err != nil {
		return err
	}
	cfg := store.Config()
	if err := cfg.ApplyEnv(); err != nil {
		return err
	}
	masked := maskSecrets(cfg)

	if configJSON {
		return printJSON(cmd, masked)
	}

	data, err := toml.Marshal(masked)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	cmd.Printf("# %s\n", store.Path())
	cmd.Print(string(data))

	if err := cfg.Validate(); err != nil {
		cmd.Printf("\n# invalid: %v\n", err)
	}
	return nil
}

const maskedSecret = "********"

func maskSecrets(cfg *config.Config) *config.Config {
	cp := *cfg
	for _, key := range []*string{&cp.Content.APIKey, &cp.Embedding.APIKey, &cp.Generation.APIKey} {
		if *key != "" {
			*key = maskedSecret
		}
	}
	return &cp
}
