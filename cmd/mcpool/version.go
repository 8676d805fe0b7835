package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xfeldman/mcpool/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the mcpool version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.Version())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
