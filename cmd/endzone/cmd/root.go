package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/MeKo-Tech/endzone/internal/config"
	"github.com/MeKo-Tech/endzone/internal/version"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var (
	// Loader of the current invocation.
	configLoader *config.Loader
	// Configuration of the current invocation, flags included.
	globalConfig *config.Config
	// Configuration file path.
	cfgFile string
	// Closes the rotating log file, if one was opened.
	logCloser io.Closer
)

// flagBinding ties a config key to a command flag.
type flagBinding struct {
	key  string
	flag string
}

var rootBindings = []flagBinding{
	{"verbose", "verbose"},
	{"log_level", "log-level"},
	{"log_file", "log-file"},
}

// commandBindings holds the per-command flag bindings. They are applied to a
// fresh viper per invocation so commands sharing a key do not clash.
var commandBindings = map[*cobra.Command][]flagBinding{}

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "endzone",
	Short: "Detect point starts in recorded sports video",
	Long: `endzone samples a recorded match, detects players inside the configured
field regions and marks the moments a point starts: the sharp drop in
end-zone occupancy ("cliff") after both teams lined up.

This tool provides:
- Elastic reader, crop and detection worker pools
- ONNX Runtime person detection with optional tiling and CUDA
- Incremental CSV, JSON and annotated image artifacts
- An HTTP control server with live progress over websocket

Examples:
  endzone process match.mp4 --regions regions.yaml --model yolo.onnx
  endzone serve --port 12206
  endzone config init`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig(cmd)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		v, _ := cmd.Flags().GetBool("version")
		if v {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.String())
			return nil
		}
		return cmd.Help()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	closeLog()
	if err != nil {
		os.Exit(1)
	}
}

// GetRootCommand returns the root command for testing purposes.
// This allows tests to execute commands without calling os.Exit().
func GetRootCommand() *cobra.Command {
	return rootCmd
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default is endzone.yaml in ., $HOME, $HOME/.config/endzone, /etc/endzone)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output (equivalent to --log-level=debug)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-file", "", "also write logs to this file, rotated daily")
	rootCmd.Flags().Bool("version", false, "print version information and exit")
}

// initConfig resolves the configuration for cmd: defaults, config file,
// ENDZONE_* environment and the flags the user changed. Validation is left
// to the commands that run pipelines.
func initConfig(cmd *cobra.Command) error {
	v := viper.New()
	if err := bindFlags(v, cmd.Flags(), rootBindings); err != nil {
		return err
	}
	if err := bindFlags(v, cmd.Flags(), commandBindings[cmd]); err != nil {
		return err
	}

	configLoader = config.NewLoaderWithViper(v)
	cfg, err := configLoader.LoadWithFileWithoutValidation(cfgFile)
	if err != nil {
		return fmt.Errorf("error loading configuration: %w", err)
	}
	globalConfig = cfg

	closeLog()
	closer, err := setupLogging(cfg, os.Stdout)
	if err != nil {
		return err
	}
	logCloser = closer
	return nil
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet, bindings []flagBinding) error {
	for _, b := range bindings {
		f := flags.Lookup(b.flag)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(b.key, f); err != nil {
			return fmt.Errorf("failed to bind flag %s: %w", b.flag, err)
		}
	}
	return nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func closeLog() {
	if logCloser != nil {
		_ = logCloser.Close()
		logCloser = nil
	}
}

// GetConfig returns the configuration of the current invocation.
func GetConfig() *config.Config {
	if globalConfig == nil {
		cfg := config.DefaultConfig()
		return &cfg
	}
	return globalConfig
}

// GetConfigLoader returns the loader of the current invocation.
func GetConfigLoader() *config.Loader {
	if configLoader == nil {
		configLoader = config.NewLoaderWithViper(viper.New())
	}
	return configLoader
}
