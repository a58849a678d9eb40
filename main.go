package main

import (
	"os"
	"strings"

	"github.com/go-i2p/go-i2p-core/lib/config"
	"github.com/go-i2p/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var log = logger.GetGoI2PLogger()

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "go-i2p-core",
		Short:         "Transport sessions and tunnels for an I2P-style router",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			config.InitConfig()
			if level := viper.GetString("log_level"); level != "" {
				os.Setenv("DEBUG_I2P", strings.ToLower(level))
			}
		},
	}
	root.PersistentFlags().StringVar(&config.CfgFile, "config", "", "config file (default $HOME/.go-i2p-core/config.yaml)")
	root.PersistentFlags().String("log-level", "", "log level: debug, warn or error")
	viper.BindPFlag("log_level", root.PersistentFlags().Lookup("log-level"))

	root.AddCommand(keygenCmd(), identityCmd(), runCmd(), selftestCmd())
	return root
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		log.WithError(err).Error("command failed")
		os.Exit(1)
	}
}
