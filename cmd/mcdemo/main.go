// Command mcdemo drives a Mobile Connect client from the command line. It
// can validate a config, run a single discovery, host the browser flow on
// chi, Fiber or fasthttp, and start a local sandbox operator to test
// against.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/keksclan/goMobileConnect/adapters/common"
	"github.com/keksclan/goMobileConnect/mobileconnect"
	"github.com/keksclan/goMobileConnect/mobileconnectconfig"
)

type cli struct {
	ConfigPath string
	OutFormat  string // "json" | "text"
	LogLevel   string
}

func (c *cli) logger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// loader picks a config loader by file extension. Without a path the
// MC_* environment variables are read.
func (c *cli) loader() (mobileconnectconfig.Loader, error) {
	if c.ConfigPath == "" {
		return mobileconnectconfig.FromEnv(), nil
	}
	switch strings.ToLower(filepath.Ext(c.ConfigPath)) {
	case ".json":
		return mobileconnectconfig.FromJSONFile(c.ConfigPath), nil
	case ".yaml", ".yml":
		return mobileconnectconfig.FromYAMLFile(c.ConfigPath), nil
	case ".lua":
		return mobileconnectconfig.FromLuaFile(c.ConfigPath), nil
	default:
		return nil, fmt.Errorf("unsupported config file %q (want .json, .yaml or .lua)", c.ConfigPath)
	}
}

func (c *cli) loadConfig(ctx context.Context) (*mobileconnect.Config, error) {
	l, err := c.loader()
	if err != nil {
		return nil, err
	}
	return l.Load(ctx)
}

func (c *cli) newInterface(ctx context.Context, opts ...mobileconnect.Option) (*mobileconnect.Interface, error) {
	cfg, err := c.loadConfig(ctx)
	if err != nil {
		return nil, err
	}
	opts = append([]mobileconnect.Option{mobileconnect.WithLogger(c.logger())}, opts...)
	return mobileconnect.New(*cfg, opts...)
}

func (c *cli) print(v any) {
	if c.OutFormat == "json" {
		p, _ := json.MarshalIndent(v, "", "  ")
		fmt.Println(string(p))
		return
	}
	fmt.Printf("%+v\n", v)
}

func main() {
	c := &cli{
		ConfigPath: os.Getenv("MC_CONFIG"),
		OutFormat:  envOr("MC_OUT", "text"),
		LogLevel:   envOr("MC_LOG_LEVEL", "info"),
	}

	root := &cobra.Command{
		Use:           "mcdemo",
		Short:         "Mobile Connect client demo",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&c.ConfigPath, "config", c.ConfigPath, "config file (.json, .yaml, .lua); env MC_* when empty (env MC_CONFIG)")
	root.PersistentFlags().StringVar(&c.OutFormat, "out", c.OutFormat, "output format: text|json (env MC_OUT)")
	root.PersistentFlags().StringVar(&c.LogLevel, "log-level", c.LogLevel, "log level: debug|info|warn|error (env MC_LOG_LEVEL)")

	root.AddCommand(configCmd(c), discoverCmd(c), serveCmd(c), sandboxCmd(c))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// ---------------------------------------------------------------------------
// config
// ---------------------------------------------------------------------------

func configCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Inspect configuration"}
	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Load and validate the config, compiling any claims policy",
		RunE: func(cmd *cobra.Command, _ []string) error {
			mc, err := c.newInterface(cmd.Context())
			if err != nil {
				return err
			}
			defer mc.Close()
			cfg := mc.Config()
			c.print(map[string]any{
				"valid":           true,
				"client_id":       cfg.ClientID,
				"discovery_url":   cfg.DiscoveryURL,
				"redirect_url":    cfg.RedirectURL,
				"discovery_cache": cfg.DiscoveryCache.Backend,
				"claims_policy":   cfg.ClaimsPolicy.Lua != "",
			})
			return nil
		},
	})
	return cmd
}

// ---------------------------------------------------------------------------
// discover
// ---------------------------------------------------------------------------

func discoverCmd(c *cli) *cobra.Command {
	var (
		opts    mobileconnect.DiscoveryOptions
		network string
	)
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Run one discovery call and print the resulting status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if network != "" {
				mcc, mnc, ok := strings.Cut(network, "_")
				if !ok {
					return fmt.Errorf("--network must be MCC_MNC, got %q", network)
				}
				opts.IdentifiedMCC, opts.IdentifiedMNC = mcc, mnc
			}
			mc, err := c.newInterface(cmd.Context())
			if err != nil {
				return err
			}
			defer mc.Close()

			st := mc.AttemptDiscovery(cmd.Context(), &opts, nil)
			reply := common.Render(st)
			out := map[string]any{"status": reply.StatusCode}
			if reply.Location != "" {
				out["location"] = reply.Location
			}
			for k, v := range reply.Body {
				out[k] = v
			}
			if ready, ok := st.(mobileconnect.ReadyToAuthenticateStatus); ok {
				if u, err := ready.DiscoveryResponse.AuthorizationURL(); err == nil {
					out["authorization_url"] = u
				}
				out["client_id"] = ready.DiscoveryResponse.ClientID()
			}
			c.print(out)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.MSISDN, "msisdn", "", "subscriber MSISDN")
	f.StringVar(&network, "network", "", "identified network as MCC_MNC")
	f.BoolVar(&opts.ManuallySelect, "manual", false, "ask the discovery service for operator selection")
	f.BoolVar(&opts.UsingMobileData, "mobile-data", false, "report the device as using mobile data")
	f.StringVar(&opts.LocalClientIP, "local-ip", "", "device local IP")
	f.StringVar(&opts.ClientIP, "client-ip", "", "end-user IP (sent when include_request_ip is on)")
	return cmd
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
