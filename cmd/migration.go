package cmd

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/atendezap/zapdesk/infrastructure/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run schema migrations and exit",
	Run: func(_ *cobra.Command, _ []string) {
		// initApp already ran AutoMigrate; a second pass is a no-op and
		// confirms the schema converged.
		if err := store.AutoMigrate(appDB); err != nil {
			logrus.Fatalf("[MIGRATION] Failed: %v", err)
		}
		logrus.Info("[MIGRATION] Schema is up to date")
		StopApp()
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
