package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// AppVersion is set by main.go before command execution via -ldflags.
var AppVersion = "0.0.0-dev"

// VersionCmd prints the running version.
var VersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the bbridge version",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("bbridge %s\n", AppVersion)
		return nil
	},
}
