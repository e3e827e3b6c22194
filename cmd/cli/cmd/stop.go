package cmd

import (
	"github.com/spf13/cobra"
)

var stopCmd = &cobra.Command{
	Use:   "stop [instance_id]",
	Short: "Stop a running instance",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client, ok := newClient(cmd)
		if !ok {
			return
		}

		result, err := client.Stop(args[0])
		if err != nil {
			cmd.Println(err)
			return
		}
		cmd.Printf("🛑 %s\n", result.Message)
	},
}

func init() {
	rootCmd.AddCommand(stopCmd)
}
