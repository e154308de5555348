package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bionicotaku/lingo-utils-authjwt"
)

func newIssueCmd(a *app) *cobra.Command {
	var (
		subject  string
		extra    []string
		refresh  bool
		tokenIDs bool
	)
	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Sign an access (or refresh) token",
		RunE: func(cmd *cobra.Command, args []string) error {
			signing, err := a.cfg.SigningConfig()
			if err != nil {
				return err
			}
			opts := []authjwt.Option{authjwt.WithLogger(a.log)}
			if tokenIDs {
				opts = append(opts, authjwt.WithTokenIDs())
			}
			issuer, err := authjwt.NewTokenIssuer(signing, opts...)
			if err != nil {
				return err
			}

			claims := authjwt.Claims{authjwt.ClaimSubject: subject}
			for _, kv := range extra {
				k, v, ok := strings.Cut(kv, "=")
				if !ok || k == "" {
					return fmt.Errorf("claim %q must be key=value", kv)
				}
				claims[k] = v
			}

			var token string
			if refresh {
				token, err = issuer.SignRefreshToken(claims)
			} else {
				token, err = issuer.SignAccessToken(claims)
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "sub", "", "Subject claim")
	cmd.Flags().StringArrayVar(&extra, "claim", nil, "Extra string claim as key=value (repeatable)")
	cmd.Flags().BoolVar(&refresh, "refresh", false, "Use the refresh token lifetime")
	cmd.Flags().BoolVar(&tokenIDs, "jti", false, "Add a random jti claim")
	_ = cmd.MarkFlagRequired("sub")
	return cmd
}

func newValidateCmd(a *app) *cobra.Command {
	var token string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a token with the configured public key or JWKS URL",
		RunE: func(cmd *cobra.Command, args []string) error {
			if token == "" {
				token = os.Getenv("AUTH_TOKEN")
			}
			if token == "" {
				return fmt.Errorf("token is required (flag --token or env AUTH_TOKEN)")
			}
			vcfg, err := a.cfg.ValidationConfig()
			if err != nil {
				return err
			}
			validator, err := authjwt.NewValidator(vcfg, authjwt.WithLogger(a.log))
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			claims, err := validator.Validate(ctx, token)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), claims)
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "Token to validate (env AUTH_TOKEN)")
	return cmd
}

func newJWKCmd(a *app) *cobra.Command {
	var (
		pemPath string
		kid     string
	)
	cmd := &cobra.Command{
		Use:   "jwk",
		Short: "Print the JWKS document for a PEM public key",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(pemPath)
			if err != nil {
				return err
			}
			publisher := authjwt.NewJwksPublisher(
				authjwt.StaticKeySource{{KID: kid, PublicKey: string(raw)}},
				authjwt.WithLogger(a.log),
			)
			doc, err := publisher.Publish(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), doc)
		},
	}
	cmd.Flags().StringVar(&pemPath, "pem", "", "PEM encoded public key file")
	cmd.Flags().StringVar(&kid, "kid", "", "Key id (defaults to the RFC 7638 thumbprint)")
	_ = cmd.MarkFlagRequired("pem")
	return cmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(v)
}
