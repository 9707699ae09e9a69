package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/webmonitoring/diffing-service/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the diffing-service version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
