package cmd

import (
	"fmt"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var alertCmd = &cobra.Command{
	Use:   "alert",
	Short: "Manage the network alerts for your account",
}

var alertListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all the active alerts",
	Args:  cobra.NoArgs,
	Run:   runAlertList,
}

var alertRemoveCmd = &cobra.Command{
	Use:   "remove <alert id>",
	Short: "Remove the specified network alert",
	Args:  cobra.ExactArgs(1),
	Run:   runAlertRemove,
}

var alertClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove all alerts",
	Args:  cobra.NoArgs,
	Run:   runAlertClear,
}

func runAlertList(cmd *cobra.Command, args []string) {
	ctx, stop := signalContext()
	defer stop()

	alerts, err := newClient(loadConfig()).Alerts(ctx)
	if err != nil {
		log.Fatalf("error: %v", err)
	}

	newReporter(os.Stdout).Alerts(alerts)
}

func runAlertRemove(cmd *cobra.Command, args []string) {
	ctx, stop := signalContext()
	defer stop()

	id := strings.TrimSpace(args[0])
	if id == "" {
		log.Fatal("empty alert id")
	}

	if err := newClient(loadConfig()).DeleteAlert(ctx, id); err != nil {
		log.Fatalf("error removing alert %s: %v", id, err)
	}

	fmt.Println("Alert deleted")
}

func runAlertClear(cmd *cobra.Command, args []string) {
	ctx, stop := signalContext()
	defer stop()

	client := newClient(loadConfig())
	alerts, err := client.Alerts(ctx)
	if err != nil {
		log.Fatalf("error: %v", err)
	}

	fmt.Println("Removing network alerts")
	for _, a := range alerts {
		if err := ctx.Err(); err != nil {
			log.Fatal("interrupted")
		}

		fmt.Printf("Removing %s (%s)\n", a.Name, a.ID)
		if err := client.DeleteAlert(ctx, a.ID); err != nil {
			log.Fatalf("error removing alert %s: %v", a.ID, err)
		}
	}

	fmt.Println("Alerts deleted")
}

func init() {
	rootCmd.AddCommand(alertCmd)
	alertCmd.AddCommand(alertListCmd, alertRemoveCmd, alertClearCmd)
}
