// Elaj - conversational assistant for Adjara realty listings
// License: MIT
//
// Copyright (c) 2026 Elaj contributors

package main

import (
	"strings"

	"github.com/spf13/cobra"
)

func executeCLI() error {
	return buildRootCommand().Execute()
}

func buildRootCommand() *cobra.Command {
	var showVersion bool

	root := &cobra.Command{
		Use:   "elaj",
		Short: "Conversational assistant for Adjara realty listings",
		Long: strings.TrimSpace(`elaj turns inbound chat messages into assistant-backed answers
with listing photos, bounded conversation memory, and activity-aware context.

Run the serve command to start the Telegram/Discord bridges and the events
gateway, or chat for a local console session.`),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				printVersion()
				return nil
			}
			return cmd.Help()
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.Flags().BoolVarP(&showVersion, "version", "v", false, "Show build/version metadata")

	root.AddCommand(newServeCommand())
	root.AddCommand(newChatCommand())
	root.AddCommand(newVersionCommand())

	return root
}

func newServeCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:     "serve",
		Short:   "Run the channel bridges, agent loop, and events gateway",
		Example: "  elaj serve\n  elaj serve --config ./elaj.json",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to config file")
	return cmd
}

func newChatCommand() *cobra.Command {
	var (
		configPath string
		message    string
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the assistant on the local console",
		Example: strings.Join([]string{
			"  elaj chat",
			"  elaj chat --message \"two-bedroom in Batumi under 120k?\"",
		}, "\n"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return chat(configPath, message)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to config file")
	cmd.Flags().StringVarP(&message, "message", "m", "", "One-shot message instead of a REPL")
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show build/version metadata",
		Run: func(cmd *cobra.Command, args []string) {
			printVersion()
		},
	}
}
