package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/san-kum/medassist/server/config"
)

// app carries what every subcommand shares. Settings resolve as flags, then
// MEDASSIST_* variables, then the config file.
type app struct {
	v      *viper.Viper
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New(), logger: zap.NewNop()}
	var configFile string

	root := &cobra.Command{
		Use:           "medassist",
		Short:         "Offline tools for the medassist diagnosis pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd, configFile)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			_ = a.logger.Sync()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "config file (yaml, json or toml)")
	flags.String("rules", "", "rule tables file, defaults are used when empty")
	flags.String("log-level", "warn", "log level")

	root.AddCommand(a.newAnalyzeCmd(), a.newRulesCmd(), a.newTokenCmd())
	return root
}

func (a *app) init(cmd *cobra.Command, configFile string) error {
	a.v.SetEnvPrefix("MEDASSIST")
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()

	if configFile != "" {
		a.v.SetConfigFile(configFile)
		if err := a.v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}
	}
	if err := a.v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	zcfg := zap.NewDevelopmentConfig()
	level, err := zap.ParseAtomicLevel(a.v.GetString("log-level"))
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	zcfg.Level = level
	zcfg.OutputPaths = []string{"stderr"}
	logger, err := zcfg.Build()
	if err != nil {
		return err
	}
	a.logger = logger
	return nil
}

func (a *app) rules() (*config.Rules, error) {
	return config.LoadRules(a.v.GetString("rules"))
}
