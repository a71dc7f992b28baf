package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"fimtab/client/fim"
	"fimtab/client/telemetry"
	"fimtab/config"
	"fimtab/engine"
	"fimtab/logger"
	"fimtab/nvim"
	"fimtab/prompt"
	"fimtab/track"
	"fimtab/types"
)

func main() {
	configPath := flag.String("config", defaultConfigPath(), "path to the TOML config file")
	logPath := flag.String("log", "", "log file path (overrides config)")
	flag.Parse()

	if err := run(*configPath, *logPath); err != nil {
		fmt.Fprintf(os.Stderr, "fimtab: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, logPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if logPath == "" {
		logPath = cfg.Log.Path
	}
	if logPath != "" {
		if err := logger.Init(logPath, logger.ParseLevel(cfg.Log.Level)); err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		defer logger.Close()
	}
	logger.Info("fimtab starting, provider %s model %s", cfg.Provider.URL, cfg.Provider.Model)

	apiKey := config.ResolveAPIKey(cfg.Provider.APIKey, cfg.Provider.APIKeyEnv)
	client := fim.NewClient(cfg.Provider.URL, apiKey)
	gateway := fim.NewGateway(client, declaredModels(cfg), cfg.Provider.Model, cfg.Provider.Temperature)

	var sink track.Sink = track.NopSink{}
	if cfg.Telemetry.Enabled {
		telemetryKey := config.ResolveAPIKey(cfg.Telemetry.APIKey, cfg.Telemetry.APIKeyEnv)
		sink = telemetry.NewClient(cfg.Telemetry.URL, telemetryKey)
	}
	tracker := track.New(sink, track.SystemClock(), cfg.Engine.AcceptTimeout())

	adapter, err := nvim.New(cfg.Engine.AutoTrigger, os.Stdin, os.Stdout)
	if err != nil {
		return err
	}

	eng, err := engine.New(
		adapter,
		adapter,
		adapter,
		&gatewayAdapter{gateway},
		tracker,
		prompt.NewBuilder(adapter),
		engine.Config{
			Debounce:          cfg.Engine.Debounce(),
			CompletionTimeout: cfg.Engine.CompletionTimeout(),
			CacheTTL:          cfg.Engine.CacheTTL(),
		},
		engine.SystemClock(),
	)
	if err != nil {
		return err
	}

	if err := adapter.Bind(eng); err != nil {
		return fmt.Errorf("failed to register handlers: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go eng.Run(ctx)

	return adapter.Serve()
}

// gatewayAdapter lifts the concrete stream type to the engine's interface.
type gatewayAdapter struct {
	*fim.Gateway
}

func (a *gatewayAdapter) StreamFIM(ctx context.Context, prefix, suffix string) engine.TokenStream {
	return a.Gateway.StreamFIM(ctx, prefix, suffix)
}

func declaredModels(cfg *config.Config) []types.ModelInfo {
	models := make([]types.ModelInfo, 0, len(cfg.Provider.Models))
	for _, m := range cfg.Provider.Models {
		models = append(models, types.ModelInfo{
			Name:            m.Name,
			SupportsFIM:     m.SupportsFIM,
			MaxOutputTokens: m.MaxOutputTokens,
		})
	}
	return models
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return home + "/.config/fimtab/config.toml"
}
