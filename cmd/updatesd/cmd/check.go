package cmd

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/tomekzaw/expo/internal/engine"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "run a one-shot checkForUpdate without downloading assets",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := newEngine()
		if err != nil {
			return err
		}
		ctx := context.Background()
		if err := eng.Start(ctx); err != nil {
			return err
		}
		eng.LaunchAssetFile()

		done := make(chan engine.CheckResult, 1)
		eng.CheckForUpdate(ctx, func(result engine.CheckResult) {
			done <- result
		})
		result := <-done

		switch result.Kind {
		case engine.CheckNoUpdateAvailable:
			fmt.Println("no update available")
		case engine.CheckUpdateAvailable:
			fmt.Printf("update available: %s\n", result.Manifest.ID)
		case engine.CheckRollBackToEmbedded:
			fmt.Printf("rollback to embedded directive, commitTime=%d\n", result.RollbackAt)
		case engine.CheckError:
			log.Errorf("check failed: %v", result.Err)
		}
		return nil
	},
}
