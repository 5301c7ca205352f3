package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	// overridden at build time with -ldflags "-X main.version=..."
	version = "dev"
	logo    = `
   ____       _                           
  / ___| __ _| |_ _____      ____ _ _   _ 
 | |  _ / _' | __/ _ \ \ /\ / / _' | | | |
 | |_| | (_| | ||  __/\ V  V / (_| | |_| |
  \____|\__,_|\__\___| \_/\_/ \__,_|\__, |
                                    |___/ 
`
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Multi-tenant WhatsApp automation gateway",
	Long:  color.CyanString(logo) + "\nHosts many WhatsApp accounts in one process and runs a command bot on each.",
	Run: func(cmd *cobra.Command, args []string) {
		_ = cmd.Help()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "gateway %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (yaml, json or toml); environment variables override it")
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
}
