package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/recapworks/recapd/pkg/buildinfo"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Run: func(cmd *cobra.Command, args []string) {
		info := buildinfo.Get("recapd")
		fmt.Printf("recapd %s\n", buildinfo.String())
		fmt.Printf("  go: %s\n", info.GoVersion)
	},
}
