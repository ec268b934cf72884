// Package main prints the bcrypt hash of an API key. The exchange stores only hashes, so
// this is used to seed organizations.api_key_hash by hand without running the server.
//
//	hash <key>          hash the argument
//	echo <key> | hash   hash the first line of stdin
package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/threat-exchange/threat-exchange/internal/auth"
)

func main() {
	var cost int

	cmd := &cobra.Command{
		Use:          "hash [key]",
		Short:        "Print the bcrypt hash of an API key",
		Args:         cobra.MaximumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var key string
			if len(args) == 1 {
				key = args[0]
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return errors.New("no key given on the command line or stdin")
				}
				key = strings.TrimSpace(line)
			}

			hash, err := auth.HashAPIKey(key, cost)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
	cmd.Flags().IntVar(&cost, "cost", auth.BcryptCost, "bcrypt cost")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
