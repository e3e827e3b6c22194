package cmd

import (
	"encoding/json"
	"fmt"
	"sort"
	"text/tabwriter"

	"fleetgate/pkg/api"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var statusOutput string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "List instances in the fleet",
	Long:  `List every instance the dispatcher can manage with its name, state (pending, running, stopping, stopped, shutting-down) and public IP address. Terminated instances are omitted.`,
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		client, ok := newClient(cmd)
		if !ok {
			return
		}

		result, err := client.Status()
		if err != nil {
			cmd.Println(err)
			return
		}

		if statusOutput == "json" {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			enc.Encode(result)
			return
		}
		printInstances(cmd, result.Instances)
	},
}

// newClient builds a client from flags, env and config, or prints why it cannot.
func newClient(cmd *cobra.Command) (*FleetClient, bool) {
	secret := viper.GetString("secret")
	if secret == "" {
		cmd.Println("Security string not found. Please set it using the --secret flag or the FLEETGATE_SECRET environment variable")
		return nil, false
	}
	return NewFleetClient(viper.GetString("url"), secret, viper.GetDuration("timeout")), true
}

func printInstances(cmd *cobra.Command, instances []api.InstanceRecord) {
	if len(instances) == 0 {
		cmd.Println("No instances found")
		return
	}

	sort.Slice(instances, func(i, j int) bool {
		if instances[i].Name != instances[j].Name {
			return instances[i].Name < instances[j].Name
		}
		return instances[i].InstanceID < instances[j].InstanceID
	})

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	// State goes last: its escape codes would otherwise skew column widths.
	fmt.Fprintln(w, "INSTANCE ID\tNAME\tIP ADDRESS\tSTATE")
	for _, inst := range instances {
		name := inst.Name
		if name == "" {
			name = "-"
		}
		ip := inst.IPAddress
		if ip == "" {
			ip = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", inst.InstanceID, name, ip, colorizeState(inst.State))
	}
	w.Flush()
}

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorGray   = "\033[90m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
)

func stateIcon(state string) string {
	switch state {
	case "running":
		return "●"
	case "pending", "stopping":
		return "◐"
	case "stopped":
		return "○"
	case "shutting-down":
		return "✗"
	default:
		return "•"
	}
}

func colorizeState(state string) string {
	color := colorGray
	switch state {
	case "running":
		color = colorGreen
	case "pending", "stopping":
		color = colorYellow
	case "stopped":
		color = colorCyan
	case "shutting-down":
		color = colorRed
	}
	return color + stateIcon(state) + " " + state + colorReset
}

func init() {
	statusCmd.Flags().StringVarP(&statusOutput, "output", "o", "table", "Output format: table or json")
	rootCmd.AddCommand(statusCmd)
}
