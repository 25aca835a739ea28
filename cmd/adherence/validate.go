package main

import (
	"fmt"
	"os"
	"reflect"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/goodtune/adherence/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	validateDump bool
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long:  `Validate the Adherence configuration file for syntax and semantic errors.`,
	RunE:  runValidate,
}

func init() {
	validateCmd.Flags().BoolVar(&validateDump, "dump", false, "Dump full configuration with defaults highlighted")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Configuration validation failed: %v\n", err)
		return err
	}

	// Check for unknown keys (always, not just with --dump)
	unknownKeys, err := findUnknownKeys(configPath)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "⚠️  Warning: Could not check for unknown keys: %v\n", err)
	}

	_, _ = fmt.Fprintf(os.Stdout, "✅ Configuration is valid: %s\n", configPath)

	if len(unknownKeys) > 0 {
		red := color.New(color.FgRed, color.Bold)
		fmt.Fprintln(os.Stdout)
		red.Fprintf(os.Stdout, "⚠️  WARNING: Found %d unknown configuration key(s):\n", len(unknownKeys))
		for _, key := range unknownKeys {
			red.Fprintf(os.Stdout, "   - %s\n", key)
		}
		fmt.Fprintln(os.Stdout, "\nThese keys will be ignored and may indicate typos or deprecated settings.")
	}

	if validateDump {
		_, _ = fmt.Fprintln(os.Stdout, "\n"+strings.Repeat("=", 80))
		_, _ = fmt.Fprintln(os.Stdout, "FULL CONFIGURATION (values different from defaults are highlighted)")
		_, _ = fmt.Fprintln(os.Stdout, strings.Repeat("=", 80))

		dumpConfig(cfg, config.Defaults())
	}

	return nil
}

// findUnknownKeys loads the config file and checks for unknown keys
func findUnknownKeys(configPath string) ([]string, error) {
	v := viper.New()
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	validKeys := config.ValidKeys()

	unknown := []string{}
	for _, key := range v.AllKeys() {
		if !validKeys[key] {
			unknown = append(unknown, key)
		}
	}
	sort.Strings(unknown)

	return unknown, nil
}

// dumpConfig prints the configuration with values that differ from defaults highlighted
func dumpConfig(cfg, defaultCfg *config.Config) {
	yellow := color.New(color.FgYellow, color.Bold)
	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan, color.Bold)

	_, _ = cyan.Println("\n[server]")
	dumpField("  api_port", cfg.Server.APIPort, defaultCfg.Server.APIPort, yellow, green)
	dumpField("  metrics_port", cfg.Server.MetricsPort, defaultCfg.Server.MetricsPort, yellow, green)
	dumpField("  bind_address", cfg.Server.BindAddress, defaultCfg.Server.BindAddress, yellow, green)
	dumpField("  shutdown_timeout", cfg.Server.ShutdownTimeout, defaultCfg.Server.ShutdownTimeout, yellow, green)

	_, _ = cyan.Println("\n[storage]")
	dumpField("  type", cfg.Storage.Type, defaultCfg.Storage.Type, yellow, green)
	dumpField("  path", cfg.Storage.Path, defaultCfg.Storage.Path, yellow, green)
	_, _ = cyan.Println("  [storage.redis]")
	dumpField("    host", cfg.Storage.Redis.Host, defaultCfg.Storage.Redis.Host, yellow, green)
	dumpField("    port", cfg.Storage.Redis.Port, defaultCfg.Storage.Redis.Port, yellow, green)
	dumpField("    password", redactPassword(cfg.Storage.Redis.Password), redactPassword(defaultCfg.Storage.Redis.Password), yellow, green)
	dumpField("    db", cfg.Storage.Redis.DB, defaultCfg.Storage.Redis.DB, yellow, green)
	dumpField("    pool_size", cfg.Storage.Redis.PoolSize, defaultCfg.Storage.Redis.PoolSize, yellow, green)
	dumpField("    min_idle_conns", cfg.Storage.Redis.MinIdleConns, defaultCfg.Storage.Redis.MinIdleConns, yellow, green)
	dumpField("    dial_timeout", cfg.Storage.Redis.DialTimeout, defaultCfg.Storage.Redis.DialTimeout, yellow, green)
	dumpField("    read_timeout", cfg.Storage.Redis.ReadTimeout, defaultCfg.Storage.Redis.ReadTimeout, yellow, green)
	dumpField("    write_timeout", cfg.Storage.Redis.WriteTimeout, defaultCfg.Storage.Redis.WriteTimeout, yellow, green)
	_, _ = cyan.Println("  [storage.postgres]")
	dumpField("    dsn", redactDSN(cfg.Storage.Postgres.DSN), redactDSN(defaultCfg.Storage.Postgres.DSN), yellow, green)
	dumpField("    max_open_conns", cfg.Storage.Postgres.MaxOpenConns, defaultCfg.Storage.Postgres.MaxOpenConns, yellow, green)
	dumpField("    max_idle_conns", cfg.Storage.Postgres.MaxIdleConns, defaultCfg.Storage.Postgres.MaxIdleConns, yellow, green)
	dumpField("    conn_max_lifetime", cfg.Storage.Postgres.ConnMaxLifetime, defaultCfg.Storage.Postgres.ConnMaxLifetime, yellow, green)

	_, _ = cyan.Println("\n[logging]")
	dumpField("  level", cfg.Logging.Level, defaultCfg.Logging.Level, yellow, green)
	dumpField("  format", cfg.Logging.Format, defaultCfg.Logging.Format, yellow, green)

	_, _ = cyan.Println("\n[analytics]")
	dumpField("  default_days", cfg.Analytics.DefaultDays, defaultCfg.Analytics.DefaultDays, yellow, green)
	dumpField("  max_days", cfg.Analytics.MaxDays, defaultCfg.Analytics.MaxDays, yellow, green)

	_, _ = cyan.Println("\n[realtime]")
	dumpField("  queue_size", cfg.Realtime.QueueSize, defaultCfg.Realtime.QueueSize, yellow, green)
	dumpField("  subscriber_buffer", cfg.Realtime.SubscriberBuffer, defaultCfg.Realtime.SubscriberBuffer, yellow, green)

	_, _ = cyan.Println("\n[auth]")
	dumpField("  jwt_secret", redactPassword(cfg.Auth.JWTSecret), redactPassword(defaultCfg.Auth.JWTSecret), yellow, green)
	dumpField("  token_expiration", cfg.Auth.TokenExpiration, defaultCfg.Auth.TokenExpiration, yellow, green)
	dumpField("  allowed_origins", cfg.Auth.AllowedOrigins, defaultCfg.Auth.AllowedOrigins, yellow, green)

	_, _ = cyan.Println("\n[mqtt]")
	dumpField("  enabled", cfg.MQTT.Enabled, defaultCfg.MQTT.Enabled, yellow, green)
	dumpField("  broker", cfg.MQTT.Broker, defaultCfg.MQTT.Broker, yellow, green)
	dumpField("  client_id", cfg.MQTT.ClientID, defaultCfg.MQTT.ClientID, yellow, green)
	dumpField("  username", cfg.MQTT.Username, defaultCfg.MQTT.Username, yellow, green)
	dumpField("  password", redactPassword(cfg.MQTT.Password), redactPassword(defaultCfg.MQTT.Password), yellow, green)
	dumpField("  topic", cfg.MQTT.Topic, defaultCfg.MQTT.Topic, yellow, green)
	dumpField("  qos", cfg.MQTT.QoS, defaultCfg.MQTT.QoS, yellow, green)

	_, _ = cyan.Println("\n[cache]")
	dumpField("  identity_size", cfg.Cache.IdentitySize, defaultCfg.Cache.IdentitySize, yellow, green)

	fmt.Println()
}

func dumpField(name string, value, defaultValue interface{}, modifiedColor, defaultColor *color.Color) {
	isDefault := reflect.DeepEqual(value, defaultValue)

	valueStr := fmt.Sprintf("%v", value)

	if isDefault {
		_, _ = defaultColor.Printf("%s = %s\n", name, valueStr)
	} else {
		_, _ = modifiedColor.Printf("%s = %s  (modified from default: %v)\n", name, valueStr, defaultValue)
	}
}

// redactPassword redacts password if not empty
func redactPassword(password string) string {
	if password == "" {
		return ""
	}
	return "***REDACTED***"
}

// redactDSN hides the password component of a connection URL.
func redactDSN(dsn string) string {
	scheme, rest, ok := strings.Cut(dsn, "://")
	if !ok {
		return dsn
	}
	userinfo, host, ok := strings.Cut(rest, "@")
	if !ok {
		return dsn
	}
	user, _, hasPassword := strings.Cut(userinfo, ":")
	if !hasPassword {
		return dsn
	}
	return scheme + "://" + user + ":***REDACTED***@" + host
}
