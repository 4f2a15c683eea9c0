package cli

import (
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type SilentError error

// Cli loads and exposes this mapper's configuration, backed by viper so
// flags, environment variables (TEDGE_MAPPER_*) and an optional config file
// all resolve through the same precedence rules.
type Cli struct {
	ConfigFile string
}

func (c *Cli) OnInit() {
	if c.ConfigFile != "" {
		viper.SetConfigFile(c.ConfigFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)
		viper.AddConfigPath(home)
		viper.AddConfigPath("/etc/tedge-c8y-mapper")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".tedge-c8y-mapper")
	}

	viper.SetEnvPrefix("TEDGE_MAPPER")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err == nil {
		slog.Info("Using config file", "path", viper.ConfigFileUsed())
	}
}

func (c *Cli) GetString(key string) string {
	return viper.GetString(key)
}

func (c *Cli) GetBool(key string) bool {
	return viper.GetBool(key)
}

func (c *Cli) PrintConfig() {
	keys := viper.AllKeys()
	sort.Strings(keys)
	for _, key := range keys {
		slog.Info("setting", "item", fmt.Sprintf("%s=%v", key, viper.Get(key)))
	}
}

func (c *Cli) GetMQTTHost() string {
	return viper.GetString("mqtt.client.host")
}

func (c *Cli) GetMQTTPort() uint16 {
	if v := viper.GetUint16("mqtt.client.port"); v != 0 {
		return v
	}
	return 1883
}

func (c *Cli) GetCumulocityHost() string {
	return viper.GetString("c8y.proxy.client.host")
}

func (c *Cli) GetCumulocityPort() uint16 {
	if v := viper.GetUint16("c8y.proxy.client.port"); v != 0 {
		return v
	}
	return 8001
}

func (c *Cli) GetTenantDomain() string {
	return viper.GetString("c8y.tenant_domain")
}

func (c *Cli) GetTedgeHTTPHost() string {
	return viper.GetString("http.host")
}

func (c *Cli) GetDataDir() string {
	return viper.GetString("data_dir")
}

func (c *Cli) GetOpsDir() string {
	return viper.GetString("ops_dir")
}

func (c *Cli) GetConfigDir() string {
	return viper.GetString("config_dir")
}

func (c *Cli) GetDeviceID() string {
	return viper.GetString("device_id")
}

// GetSyncWindow clamps the configured startup sync window to a sane floor,
// the same guard pattern the teacher applies to its own metrics interval.
func (c *Cli) GetSyncWindow() time.Duration {
	window := viper.GetDuration("sync_window")
	if window < time.Second {
		slog.Warn("sync_window is lower than allowed limit.", "old", window, "new", time.Second)
		window = time.Second
	}
	return window
}

func (c *Cli) EnableConfigSnapshot() bool {
	return viper.GetBool("capabilities.config_snapshot")
}

func (c *Cli) EnableConfigUpdate() bool {
	return viper.GetBool("capabilities.config_update")
}
