package main

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jnoller/racer/internal/cli"
	"github.com/jnoller/racer/pkg/api/client"
	"github.com/jnoller/racer/pkg/crypto"
)

func (a *app) probeCmd(use, short string, fn func(context.Context, *client.Client) (any, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := a.client()
			if err != nil {
				return err
			}
			res, err := fn(cmd.Context(), c)
			if err != nil {
				return err
			}
			if fields, ok := res.(map[string]any); ok && !a.jsonOut {
				printFields(a, fields, "")
				return nil
			}
			if s, ok := res.(string); ok && !a.jsonOut {
				fmt.Fprintln(a.out, s)
				return nil
			}
			return cli.PrintJSON(a.out, res)
		},
	}
}

func printFields(a *app, fields map[string]any, indent string) {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if nested, ok := fields[k].(map[string]any); ok {
			fmt.Fprintf(a.out, "%s%s:\n", indent, k)
			printFields(a, nested, indent+"  ")
			continue
		}
		fmt.Fprintf(a.out, "%s%s: %v\n", indent, k, fields[k])
	}
}

func (a *app) loginCmd() *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Exchange the admin password for a token and save it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			secret := password
			if secret == "" {
				var err error
				if secret, err = a.secret("Admin password: "); err != nil {
					return err
				}
			}
			if strings.TrimSpace(secret) == "" {
				return cli.UsageError{Msg: "password is required"}
			}
			cfg, err := a.config()
			if err != nil {
				return err
			}
			c, err := client.New(cfg.APIURL, client.WithTimeout(a.timeout))
			if err != nil {
				return err
			}
			token, err := c.Login(cmd.Context(), secret)
			if err != nil {
				return err
			}
			cfg.AdminToken = token.AccessToken
			if err := cli.SaveConfig(cfg); err != nil {
				return fmt.Errorf("save token: %w", err)
			}
			fmt.Fprintf(a.out, "login successful, token valid until %s\n", token.ExpiresAt.Local().Format(time.RFC1123))
			return nil
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "admin password (prompted when omitted)")
	return cmd
}

func (a *app) hashPasswordCmd() *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "hash-password",
		Short: "Print a bcrypt hash for ADMIN_PASSWORD_HASH",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			secret := password
			if secret == "" {
				var err error
				if secret, err = a.secret("Password: "); err != nil {
					return err
				}
			}
			hash, err := crypto.HashPassword(secret)
			if err != nil {
				return cli.UsageError{Msg: err.Error()}
			}
			fmt.Fprintln(a.out, hash)
			return nil
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "password to hash (prompted when omitted)")
	return cmd
}
