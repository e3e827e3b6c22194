package cmd

import (
	"github.com/spf13/cobra"
)

var startCmd = &cobra.Command{
	Use:   "start [instance_id]",
	Short: "Start a stopped instance",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client, ok := newClient(cmd)
		if !ok {
			return
		}

		result, err := client.Start(args[0])
		if err != nil {
			cmd.Println(err)
			return
		}
		cmd.Printf("🚀 %s\n", result.Message)
	},
}

func init() {
	rootCmd.AddCommand(startCmd)
}
