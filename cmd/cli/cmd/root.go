package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "fleetctl",
	Short: "fleetctl starts, stops and lists fleet instances through a fleetgate dispatcher",
	Long: `fleetctl is the command-line interface for fleetgate.

fleetgate sits in front of a fleet of virtual machines (EC2, Docker containers,
Kubernetes Deployments or a local simulator) and lets holders of a shared secret
list the fleet and start or stop individual instances.

Common workflows:

  List instances:
    fleetctl status

  Start an instance:
    fleetctl start i-0123456789abcdef0

  Stop an instance:
    fleetctl stop i-0123456789abcdef0

  Show recorded actions (requires a running auditor):
    fleetctl history i-0123456789abcdef0

Configuration:
  Set the dispatcher endpoint and secret via flags, environment variables or a config file:
    FLEETGATE_URL       Dispatcher endpoint (default: http://localhost:8080)
    FLEETGATE_SECRET    Shared security string
    FLEETGATE_AUDIT_URL Auditor endpoint (default: http://localhost:8081)`,
}

func Execute() error {
	return rootCmd.Execute()
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		// Search config in home directory with name ".fleetctl"
		viper.AddConfigPath(home)
		viper.SetConfigName(".fleetctl")
		viper.SetConfigType("yaml")
	}

	// Read environment variables that match "FLEETGATE_VARNAME"
	viper.SetEnvPrefix("FLEETGATE")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.fleetctl.yaml)")

	rootCmd.PersistentFlags().String("url", "http://localhost:8080", "fleetgate dispatcher URL")
	viper.BindPFlag("url", rootCmd.PersistentFlags().Lookup("url"))

	rootCmd.PersistentFlags().StringP("secret", "s", "", "Shared security string")
	viper.BindPFlag("secret", rootCmd.PersistentFlags().Lookup("secret"))

	rootCmd.PersistentFlags().Duration("timeout", defaultTimeout, "Request timeout")
	viper.BindPFlag("timeout", rootCmd.PersistentFlags().Lookup("timeout"))
}
