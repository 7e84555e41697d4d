package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/sharetube/syncroom/internal/app"
)

type configVar[T any] struct {
	envKey       string
	flagKey      string
	defaultValue T
}

var (
	port = configVar[int]{
		envKey:       "RELAY_PORT",
		flagKey:      "port",
		defaultValue: 8080,
	}
	host = configVar[string]{
		envKey:       "RELAY_HOST",
		flagKey:      "host",
		defaultValue: "0.0.0.0",
	}
	logLevel = configVar[string]{
		envKey:       "RELAY_LOG_LEVEL",
		flagKey:      "log-level",
		defaultValue: "INFO",
	}
)

func loadRelayConfig() *app.RelayConfig {
	pflag.Int(port.flagKey, port.defaultValue, "Relay port")
	pflag.String(host.flagKey, host.defaultValue, "Relay host")
	pflag.String(logLevel.flagKey, logLevel.defaultValue, "Logging level")
	pflag.Parse()

	viper.BindPFlags(pflag.CommandLine)

	viper.BindEnv(port.flagKey, port.envKey)
	viper.BindEnv(host.flagKey, host.envKey)
	viper.BindEnv(logLevel.flagKey, logLevel.envKey)

	viper.SetDefault(port.flagKey, port.defaultValue)
	viper.SetDefault(host.flagKey, host.defaultValue)
	viper.SetDefault(logLevel.flagKey, logLevel.defaultValue)

	return &app.RelayConfig{
		Host:     viper.GetString(host.flagKey),
		Port:     viper.GetInt(port.flagKey),
		LogLevel: viper.GetString(logLevel.flagKey),
	}
}

func main() {
	cfg := loadRelayConfig()
	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}

	jsonConfig, _ := json.MarshalIndent(cfg, "", "  ")
	fmt.Printf("starting relay with config: %s\n", jsonConfig)

	if err := app.RunRelay(context.Background(), cfg); err != nil {
		log.Fatal(err)
	}
}
