package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/andressep95/broker-auth-service/pkg/hash"
)

var hashTokenCmd = &cobra.Command{
	Use:   "hash-token [token]",
	Short: "Create an operator token and its OPERATOR_TOKEN_HASH",
	Long: `Hashes the given operator token with argon2id, or generates a new token
when none is given. Put the hash in OPERATOR_TOKEN_HASH and hand the token to
operators as a Bearer token.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var token string
		if len(args) == 1 {
			token = args[0]
		} else {
			generated, err := hash.NewToken()
			if err != nil {
				return err
			}
			token = generated
		}

		encoded, err := hash.HashToken(token, hash.DefaultParams)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if len(args) == 0 {
			fmt.Fprintf(out, "token: %s\n", token)
		}
		fmt.Fprintf(out, "OPERATOR_TOKEN_HASH=%s\n", encoded)
		return nil
	},
}
