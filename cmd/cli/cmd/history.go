package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history [instance_id]",
	Short: "Show recorded start and stop actions",
	Long:  `Show the start and stop actions recorded by the fleetgate auditor, newest first. Pass an instance ID to narrow the log to one instance.`,
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		secret := viper.GetString("secret")
		if secret == "" {
			cmd.Println("Security string not found. Please set it using the --secret flag or the FLEETGATE_SECRET environment variable")
			return
		}

		var instanceID string
		if len(args) == 1 {
			instanceID = args[0]
		}

		client := NewAuditClient(viper.GetString("audit_url"), secret, viper.GetDuration("timeout"))
		result, err := client.History(instanceID, historyLimit)
		if err != nil {
			cmd.Println(err)
			return
		}

		if len(result.Actions) == 0 {
			cmd.Println("No actions recorded")
			return
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tINSTANCE ID\tACTION\tREQUEST ID")
		for _, a := range result.Actions {
			reqID := a.RequestID
			if reqID == "" {
				reqID = "-"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", a.OccurredAt.Local().Format("2006-01-02 15:04:05"), a.InstanceID, a.Action, reqID)
		}
		w.Flush()
	},
}

func init() {
	historyCmd.Flags().String("audit-url", "http://localhost:8081", "fleetgate auditor URL")
	viper.BindPFlag("audit_url", historyCmd.Flags().Lookup("audit-url"))

	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Maximum number of actions to show (1-100)")
	rootCmd.AddCommand(historyCmd)
}
