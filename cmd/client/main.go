package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

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
	variant = configVar[string]{
		envKey:       "SYNCROOM_VARIANT",
		flagKey:      "variant",
		defaultValue: app.VariantSocket,
	}
	relayURL = configVar[string]{
		envKey:       "SYNCROOM_RELAY_URL",
		flagKey:      "relay-url",
		defaultValue: "ws://localhost:8080/api/v1/ws",
	}
	roomID = configVar[string]{
		envKey:       "SYNCROOM_ROOM",
		flagKey:      "room",
		defaultValue: "",
	}
	username = configVar[string]{
		envKey:       "SYNCROOM_USERNAME",
		flagKey:      "username",
		defaultValue: "",
	}
	admin = configVar[bool]{
		envKey:       "SYNCROOM_ADMIN",
		flagKey:      "admin",
		defaultValue: false,
	}
	logLevel = configVar[string]{
		envKey:       "SYNCROOM_LOG_LEVEL",
		flagKey:      "log-level",
		defaultValue: "WARN",
	}
	logPath = configVar[string]{
		envKey:       "SYNCROOM_LOG_PATH",
		flagKey:      "log-path",
		defaultValue: "",
	}
	redisHost = configVar[string]{
		envKey:       "REDIS_HOST",
		flagKey:      "redis-host",
		defaultValue: "localhost",
	}
	redisPort = configVar[int]{
		envKey:       "REDIS_PORT",
		flagKey:      "redis-port",
		defaultValue: 6379,
	}
	redisPassword = configVar[string]{
		envKey:       "REDIS_PASSWORD",
		flagKey:      "redis-password",
		defaultValue: "",
	}
	redisDB = configVar[int]{
		envKey:       "REDIS_DB",
		flagKey:      "redis-db",
		defaultValue: 0,
	}
	roomExpire = configVar[time.Duration]{
		envKey:       "SYNCROOM_ROOM_EXPIRE",
		flagKey:      "room-expire",
		defaultValue: 24 * time.Hour,
	}
	driftInterval = configVar[time.Duration]{
		envKey:       "SYNCROOM_DRIFT_INTERVAL",
		flagKey:      "drift-interval",
		defaultValue: time.Second,
	}
)

func loadClientConfig() *app.ClientConfig {
	pflag.String(variant.flagKey, variant.defaultValue, "Relay variant: socket or redis")
	pflag.String(relayURL.flagKey, relayURL.defaultValue, "Socket relay url")
	pflag.String(roomID.flagKey, roomID.defaultValue, "Room id")
	pflag.String(username.flagKey, username.defaultValue, "Display name")
	pflag.Bool(admin.flagKey, admin.defaultValue, "Create the room instead of joining it")
	pflag.String(logLevel.flagKey, logLevel.defaultValue, "Logging level")
	pflag.String(logPath.flagKey, logPath.defaultValue, "Log file path, stderr when empty")
	pflag.String(redisHost.flagKey, redisHost.defaultValue, "Redis host")
	pflag.Int(redisPort.flagKey, redisPort.defaultValue, "Redis port")
	pflag.String(redisPassword.flagKey, redisPassword.defaultValue, "Redis password")
	pflag.Int(redisDB.flagKey, redisDB.defaultValue, "Redis database")
	pflag.Duration(roomExpire.flagKey, roomExpire.defaultValue, "Expiry of an abandoned room record")
	pflag.Duration(driftInterval.flagKey, driftInterval.defaultValue, "How often the player position is checked for drift")
	pflag.Parse()

	viper.BindPFlags(pflag.CommandLine)

	viper.BindEnv(variant.flagKey, variant.envKey)
	viper.BindEnv(relayURL.flagKey, relayURL.envKey)
	viper.BindEnv(roomID.flagKey, roomID.envKey)
	viper.BindEnv(username.flagKey, username.envKey)
	viper.BindEnv(admin.flagKey, admin.envKey)
	viper.BindEnv(logLevel.flagKey, logLevel.envKey)
	viper.BindEnv(logPath.flagKey, logPath.envKey)
	viper.BindEnv(redisHost.flagKey, redisHost.envKey)
	viper.BindEnv(redisPort.flagKey, redisPort.envKey)
	viper.BindEnv(redisPassword.flagKey, redisPassword.envKey)
	viper.BindEnv(redisDB.flagKey, redisDB.envKey)
	viper.BindEnv(roomExpire.flagKey, roomExpire.envKey)
	viper.BindEnv(driftInterval.flagKey, driftInterval.envKey)

	viper.SetDefault(variant.flagKey, variant.defaultValue)
	viper.SetDefault(relayURL.flagKey, relayURL.defaultValue)
	viper.SetDefault(roomID.flagKey, roomID.defaultValue)
	viper.SetDefault(username.flagKey, username.defaultValue)
	viper.SetDefault(admin.flagKey, admin.defaultValue)
	viper.SetDefault(logLevel.flagKey, logLevel.defaultValue)
	viper.SetDefault(logPath.flagKey, logPath.defaultValue)
	viper.SetDefault(redisHost.flagKey, redisHost.defaultValue)
	viper.SetDefault(redisPort.flagKey, redisPort.defaultValue)
	viper.SetDefault(redisPassword.flagKey, redisPassword.defaultValue)
	viper.SetDefault(redisDB.flagKey, redisDB.defaultValue)
	viper.SetDefault(roomExpire.flagKey, roomExpire.defaultValue)
	viper.SetDefault(driftInterval.flagKey, driftInterval.defaultValue)

	return &app.ClientConfig{
		Variant:       viper.GetString(variant.flagKey),
		RelayURL:      viper.GetString(relayURL.flagKey),
		RoomID:        viper.GetString(roomID.flagKey),
		Username:      viper.GetString(username.flagKey),
		Admin:         viper.GetBool(admin.flagKey),
		LogLevel:      viper.GetString(logLevel.flagKey),
		LogPath:       viper.GetString(logPath.flagKey),
		RedisHost:     viper.GetString(redisHost.flagKey),
		RedisPort:     viper.GetInt(redisPort.flagKey),
		RedisPassword: viper.GetString(redisPassword.flagKey),
		RedisDB:       viper.GetInt(redisDB.flagKey),
		RoomExpire:    viper.GetDuration(roomExpire.flagKey),
		DriftInterval: viper.GetDuration(driftInterval.flagKey),
	}
}

func main() {
	cfg := loadClientConfig()
	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}

	jsonConfig, _ := json.MarshalIndent(cfg, "", "  ")
	fmt.Fprintf(os.Stderr, "starting client with config: %s\n", jsonConfig)

	if err := app.RunClient(context.Background(), cfg, os.Stdin, os.Stdout); err != nil {
		log.Fatal(err)
	}
}
