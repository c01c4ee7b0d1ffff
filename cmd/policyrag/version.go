package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/version"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the policyrag version, git commit and build date",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
}
