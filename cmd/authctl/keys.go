package main

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	"github.com/adeilh/go-handshake/auth"
	"github.com/adeilh/go-handshake/internal/config"
)

func keysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Inspect, check and encode instance keys",
	}
	cmd.AddCommand(keysInspectCmd(), keysCheckCmd(), keysEncodeCmd())
	return cmd
}

func keysInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <key>",
		Short: "Decode a publishable or secret key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			raw := strings.TrimSpace(args[0])
			if strings.HasPrefix(raw, "sk_") {
				sk, err := auth.ParseSecretKey(raw)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "kind:        secret\n")
				fmt.Fprintf(out, "environment: %s\n", sk.Type)
				fmt.Fprintf(out, "instance:    %s\n", sk.InstanceID)
				return nil
			}
			pk, err := auth.ParsePublishableKey(raw)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "kind:         publishable\n")
			fmt.Fprintf(out, "environment:  %s\n", pk.Type)
			fmt.Fprintf(out, "instance:     %s\n", pk.InstanceID())
			fmt.Fprintf(out, "frontend api: %s\n", pk.FrontendAPI)
			return nil
		},
	}
}

func keysCheckCmd() *cobra.Command {
	var publishable, secret string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Verify that a publishable and a secret key belong to the same instance",
		RunE: func(cmd *cobra.Command, args []string) error {
			if publishable == "" || secret == "" {
				env, err := config.FromEnv()
				if err != nil {
					return err
				}
				if publishable == "" {
					publishable = env.PublishableKey
				}
				if secret == "" {
					secret = env.SecretKey
				}
			}
			instance, err := auth.NewKeyResolver().Resolve(auth.KeyPair{PublishableKey: publishable, SecretKey: secret})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: %s instance %s\n", instance.Type, instance.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&publishable, "publishable-key", "", "Publishable key (default $CLERK_PUBLISHABLE_KEY)")
	cmd.Flags().StringVar(&secret, "secret-key", "", "Secret key (default $CLERK_SECRET_KEY)")
	return cmd
}

func keysEncodeCmd() *cobra.Command {
	var (
		frontendAPI string
		secret      string
		production  bool
	)

	cmd := &cobra.Command{
		Use:   "encode",
		Short: "Build a key pair for a frontend API host (fixtures and local testing)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if frontendAPI == "" {
				return fmt.Errorf("--frontend-api is required")
			}
			typ := auth.InstanceDevelopment
			if production {
				typ = auth.InstanceProduction
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "CLERK_PUBLISHABLE_KEY=%s\n", auth.EncodePublishableKey(typ, frontendAPI))
			if secret != "" {
				fmt.Fprintf(out, "CLERK_SECRET_KEY=%s\n", auth.EncodeSecretKey(typ, frontendAPI, secret))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&frontendAPI, "frontend-api", "", "Frontend API host, e.g. clerk.example.com")
	cmd.Flags().StringVar(&secret, "secret", "", "Secret part of the secret key; omitted keys are not printed")
	cmd.Flags().BoolVar(&production, "production", false, "Emit live keys instead of test keys")
	return cmd
}

func handshakeURLCmd() *cobra.Command {
	var (
		forwardedHost  string
		forwardedProto string
		devBrowser     string
	)

	cmd := &cobra.Command{
		Use:   "handshake-url <request-url>",
		Short: "Print the handshake redirect target for a request URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := config.FromEnv()
			if err != nil {
				return err
			}
			instance, err := auth.NewKeyResolver().Resolve(auth.KeyPair{PublishableKey: env.PublishableKey, SecretKey: env.SecretKey})
			if err != nil {
				return err
			}
			u, err := url.Parse(args[0])
			if err != nil {
				return err
			}
			header := http.Header{}
			header.Set(auth.HeaderHost, u.Host)
			if forwardedHost != "" {
				header.Set(auth.HeaderForwardedHost, forwardedHost)
			}
			if forwardedProto != "" {
				header.Set(auth.HeaderForwardedProto, forwardedProto)
			}
			if devBrowser != "" {
				header.Add("Cookie", (&http.Cookie{Name: auth.CookieDevBrowser, Value: devBrowser}).String())
			}
			sig := auth.Extract(auth.Request{Method: http.MethodGet, URL: u, Header: header}, false)
			fmt.Fprintln(cmd.OutOrStdout(), auth.HandshakeURL(sig, instance, env.Domain, env.ProxyURL))
			return nil
		},
	}

	cmd.Flags().StringVar(&forwardedHost, "forwarded-host", "", "X-Forwarded-Host seen by the server")
	cmd.Flags().StringVar(&forwardedProto, "forwarded-proto", "", "X-Forwarded-Proto seen by the server")
	cmd.Flags().StringVar(&devBrowser, "dev-browser", "", "Dev browser token to propagate")
	return cmd
}
