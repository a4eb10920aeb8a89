package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "start the engine, launch the best available update, and idle until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := newEngine()
		if err != nil {
			return err
		}
		ctx := context.Background()
		if err := eng.Start(ctx); err != nil {
			return err
		}

		launcher := eng.LaunchAssetFile()
		if launcher.Embedded {
			fmt.Printf("launching embedded bundle: %s\n", eng.BundleAssetName())
		} else {
			fmt.Printf("launching update %s from %s\n", launcher.UpdateID, launcher.LaunchAssetPath)
		}
		eng.OnJSInstanceCreated()

		c := make(chan os.Signal, 1)
		signal.Notify(c, os.Interrupt, syscall.SIGTERM)
		<-c
		fmt.Println("shutting down")
		return nil
	},
}
