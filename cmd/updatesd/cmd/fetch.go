package cmd

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/tomekzaw/expo/internal/engine"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "run a one-shot fetchUpdate, downloading and persisting a newer update if one exists",
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

		done := make(chan engine.FetchResult, 1)
		eng.FetchUpdate(ctx, func(result engine.FetchResult) {
			done <- result
		})
		result := <-done

		switch result.Kind {
		case engine.FetchSuccess:
			fmt.Printf("fetched update: %s\n", result.Manifest.ID)
		case engine.FetchFailure:
			fmt.Println("already up to date")
		case engine.FetchRollBackToEmbedded:
			fmt.Printf("rollback to embedded directive, commitTime=%d\n", result.RollbackAt)
		case engine.FetchError:
			log.Errorf("fetch failed: %v", result.Err)
		}
		return nil
	},
}
