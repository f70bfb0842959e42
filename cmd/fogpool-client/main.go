package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/kabir325/fogpool/internal/agent"
	"github.com/kabir325/fogpool/internal/config"
	"github.com/kabir325/fogpool/internal/logx"
)

var (
	version   = "dev"
	buildSHA  = "unknown"
	buildDate = "unknown"
)

func loadConfig(args []string) (config.ClientConfig, bool, error) {
	var cfg config.ClientConfig
	if p, ok := config.FlagValue(args, "config"); ok {
		cfg.ConfigFile = p
	} else if p := config.GetEnv("CONFIG_FILE", ""); p != "" {
		cfg.ConfigFile = p
	}
	cfg.SetDefaults()
	if err := cfg.LoadFile(cfg.ConfigFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, false, fmt.Errorf("load %s: %w", cfg.ConfigFile, err)
	}
	cfg.ApplyEnv()

	fs := flag.NewFlagSet("fogpool-client", flag.ContinueOnError)
	showVersion := fs.Bool("version", false, "print version and exit")
	cfg.BindFlagsFromCurrent(fs)
	fs.Usage = func() {
		_, _ = fmt.Fprintf(fs.Output(), "fogpool-client version=%s sha=%s date=%s\n\n", version, buildSHA, buildDate)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return cfg, false, err
	}
	return cfg, *showVersion, nil
}

func main() {
	cfg, showVersion, err := loadConfig(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if showVersion {
		fmt.Printf("fogpool-client version=%s sha=%s date=%s\n", version, buildSHA, buildDate)
		return
	}
	logx.Configure(cfg.LogLevel)
	if err != nil {
		logx.Log.Fatal().Err(err).Msg("config")
	}
	agent.SetBuildInfo(version, buildSHA, buildDate)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := logx.Log.Info().Str("server_url", cfg.ServerURL).Str("client_name", cfg.ClientName)
	if cfg.ClientKey != "" {
		log = log.Str("client_key", config.MaskSecret(cfg.ClientKey))
	}
	log.Msg("client starting")

	if err := agent.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		logx.Log.Fatal().Err(err).Msg("client exited")
	}
}
