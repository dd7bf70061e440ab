package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/tendant/simple-portal/pkg/permission"
)

var (
	tokenUser  string
	tokenEmail string
	tokenName  string
	tokenRoles []string
	tokenTTL   time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an access token signed with JWT_SECRET, for local testing",
	RunE: func(cmd *cobra.Command, args []string) error {
		issuer := permission.NewTokenIssuer(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.Audience)
		token, expiresAt, err := issuer.Issue(permission.Principal{
			UserID: tokenUser,
			Email:  tokenEmail,
			Name:   tokenName,
			Roles:  tokenRoles,
		}, tokenTTL)
		if err != nil {
			return err
		}
		logger.Info("Issued token", "user_id", tokenUser, "roles", tokenRoles, "expires_at", expiresAt)
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenUser, "user", "", "user id placed in the sub claim")
	tokenCmd.Flags().StringVar(&tokenEmail, "email", "", "email claim")
	tokenCmd.Flags().StringVar(&tokenName, "name", "", "name claim")
	tokenCmd.Flags().StringSliceVar(&tokenRoles, "role", []string{"admin"}, "role claim, repeatable")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", time.Hour, "token lifetime")
	_ = tokenCmd.MarkFlagRequired("user")
}
