package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"whisperflow/internal/credentials"
)

func newTokenCommand(ctx *commandContext) *cobra.Command {
	tokenCmd := &cobra.Command{
		Use:   "token",
		Short: "Manage the Hugging Face token used for diarization",
	}

	tokenCmd.AddCommand(newTokenSetCommand(ctx))
	tokenCmd.AddCommand(newTokenShowCommand(ctx))
	tokenCmd.AddCommand(newTokenClearCommand(ctx))
	return tokenCmd
}

func newTokenSetCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "set [token]",
		Short: "Store a token (read from stdin when omitted)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.tokenStore()
			if err != nil {
				return err
			}
			var token string
			if len(args) == 1 {
				token = args[0]
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return errors.New("read token from stdin: no input")
				}
				token = line
			}
			token = strings.TrimSpace(token)
			if err := store.Save(token); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved token %s to %s\n", credentials.Mask(token), store.Path())
			return nil
		},
	}
}

func newTokenShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the active token (masked) and where it comes from",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.tokenStore()
			if err != nil {
				return err
			}
			token, source, err := store.Token()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if token == "" {
				fmt.Fprintln(out, "No token configured")
				fmt.Fprintf(out, "Run `whisperflow token set` or export %s to enable diarization.\n", credentials.EnvToken)
				return nil
			}
			fmt.Fprintf(out, "Token:  %s\n", credentials.Mask(token))
			fmt.Fprintf(out, "Source: %s\n", source)
			return nil
		},
	}
}

func newTokenClearCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove the stored token",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.tokenStore()
			if err != nil {
				return err
			}
			if err := store.Clear(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", store.Path())
			return nil
		},
	}
}
