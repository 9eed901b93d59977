package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	"github.com/yuriy-kovalchuk/dyndns/internal/config"
	"github.com/yuriy-kovalchuk/dyndns/internal/controller"
	"github.com/yuriy-kovalchuk/dyndns/internal/dns"
	_ "github.com/yuriy-kovalchuk/dyndns/internal/dns/providers"
	"github.com/yuriy-kovalchuk/dyndns/internal/server"
)

var Version = "dev"

var flags struct {
	configPath       string
	host             string
	domain           string
	token            string
	provider         string
	porkbunAPIKey    string
	porkbunSecretKey string
	trustedProxies   []string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := zap.Options{
		Development: true,
	}

	cmd := &cobra.Command{
		Use:           "dyndns",
		Short:         "Dynamic DNS update endpoint",
		Long:          "dyndns serves an HTTP endpoint that points DNS records at the caller's address (or explicit values).",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctrl.SetLogger(zap.New(zap.UseFlagOptions(&opts)))
			gin.SetMode(gin.ReleaseMode)
			return run(ctrl.SetupSignalHandler(), cmd.Flags())
		},
	}

	f := cmd.Flags()
	f.StringVarP(&flags.configPath, "config", "c", "", "Path to YAML configuration file (defaults to $DYNDNS_CONFIG)")
	f.StringVar(&flags.host, "host", config.DefaultListen, "Address to listen on")
	f.StringVar(&flags.domain, "domain", "", "Domain under which records are managed, e.g. ddns.example.com")
	f.StringVar(&flags.token, "token", "", "Token callers must present (empty disables authentication)")
	f.StringVar(&flags.provider, "provider", config.DefaultProvider, "DNS provider ("+fmt.Sprint(dns.Registered())+")")
	f.StringVar(&flags.porkbunAPIKey, "porkbun-api-key", "", "Porkbun API key")
	f.StringVar(&flags.porkbunSecretKey, "porkbun-secret-key", "", "Porkbun secret API key")
	f.StringSliceVar(&flags.trustedProxies, "trusted-proxy", nil, "CIDR or address whose forwarding headers are trusted (repeatable)")

	goflags := flag.NewFlagSet("zap", flag.ContinueOnError)
	opts.BindFlags(goflags)
	f.AddGoFlagSet(goflags)

	return cmd
}

// loadConfig merges the config file (if any) with explicitly set flags.
func loadConfig(f *pflag.FlagSet) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if flags.configPath != "" {
		cfg, err = config.LoadFromPath(flags.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	if f.Changed("host") || cfg.Listen == "" {
		cfg.Listen = flags.host
	}
	if f.Changed("domain") {
		cfg.Domain = flags.domain
	}
	if f.Changed("token") {
		cfg.Token = flags.token
	}
	if f.Changed("provider") {
		cfg.Provider = flags.provider
	}
	if f.Changed("porkbun-api-key") {
		cfg.Settings["api_key"] = flags.porkbunAPIKey
	}
	if f.Changed("porkbun-secret-key") {
		cfg.Settings["secret_api_key"] = flags.porkbunSecretKey
	}
	if f.Changed("trusted-proxy") {
		cfg.TrustedProxies = flags.trustedProxies
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run(ctx context.Context, f *pflag.FlagSet) error {
	log := ctrl.Log.WithName("setup")

	log.Info("starting dyndns", "version", Version)

	cfg, err := loadConfig(f)
	if err != nil {
		return fmt.Errorf("unable to load config: %w", err)
	}
	log.Info("loaded config", "domain", cfg.Domain, "provider", cfg.Provider, "auth", cfg.Token != "")

	_, zone, err := dns.SplitDomain(cfg.Domain)
	if err != nil {
		return err
	}

	dnsProvider, err := dns.NewProvider(cfg.Provider, ctrl.Log.WithName(cfg.Provider), zone, cfg.Settings)
	if err != nil {
		return fmt.Errorf("unable to create DNS provider: %w", err)
	}

	reconciler := &controller.UpdateReconciler{
		DNS:    dnsProvider,
		Log:    ctrl.Log.WithName("update"),
		Domain: cfg.Domain,
		Token:  cfg.Token,
	}

	srv := server.New(reconciler, ctrl.Log.WithName("server"), cfg.Listen, cfg.TrustedProxies)
	if err := srv.Run(ctx); err != nil {
		return fmt.Errorf("server exited with error: %w", err)
	}
	return nil
}
