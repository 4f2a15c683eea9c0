/*
Copyright © 2024 thin-edge.io <info@thin-edge.io>
*/
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/reubenmiller/go-c8y/pkg/c8y"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/thin-edge/tedge-c8y-mapper/pkg/cli"
	"github.com/thin-edge/tedge-c8y-mapper/pkg/httpproxy"
	"github.com/thin-edge/tedge-c8y-mapper/pkg/mapper"
	"github.com/thin-edge/tedge-c8y-mapper/pkg/tedge"
	"github.com/thin-edge/tedge-c8y-mapper/pkg/topic"
)

// NewRunCommand builds the "run" subcommand, which starts the Mapper Actor
// and blocks until interrupted.
func NewRunCommand(cliConfig *cli.Cli) *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the mapper",
		Long: `Start the mapper, bridging the thin-edge.io edge bus and the
Cumulocity cloud until interrupted.
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cliConfig.PrintConfig()
			return runMapper(cliConfig)
		},
	}

	DefaultDataDir := "/var/tedge/c8y-mapper"
	DefaultOpsDir := "/etc/tedge/operations/c8y"
	DefaultConfigDir := "/etc/tedge/c8y"

	runCmd.Flags().String("mqtt-host", "127.0.0.1", "MQTT broker host")
	runCmd.Flags().Uint16("mqtt-port", 1883, "MQTT broker port")
	runCmd.Flags().String("c8y-host", "127.0.0.1", "Local Cumulocity auth proxy host")
	runCmd.Flags().Uint16("c8y-port", 8001, "Local Cumulocity auth proxy port")
	runCmd.Flags().String("c8y-tenant-domain", "", "Cumulocity tenant domain, used to recognise tenant-hosted download URLs")
	runCmd.Flags().String("tedge-http-host", "127.0.0.1:8000", "Local file-transfer HTTP server host:port")
	runCmd.Flags().String("data-dir", DefaultDataDir, "Directory for the download cache and file-transfer symlinks")
	runCmd.Flags().String("ops-dir", DefaultOpsDir, "Directory for supported-operations capability markers")
	runCmd.Flags().String("config-dir", DefaultConfigDir, "Directory for this mapper's own configuration")
	runCmd.Flags().String("device-id", "", "Main device's Cumulocity external id (defaults to hostname)")
	runCmd.Flags().Duration("sync-window", 3*time.Second, "Startup window during which retained messages are buffered before processing begins")
	runCmd.Flags().Bool("enable-config-snapshot", true, "Enable the config_snapshot (upload) operation")
	runCmd.Flags().Bool("enable-config-update", true, "Enable the config_update (download) operation")

	_ = viper.BindPFlag("mqtt.client.host", runCmd.Flags().Lookup("mqtt-host"))
	_ = viper.BindPFlag("mqtt.client.port", runCmd.Flags().Lookup("mqtt-port"))
	_ = viper.BindPFlag("c8y.proxy.client.host", runCmd.Flags().Lookup("c8y-host"))
	_ = viper.BindPFlag("c8y.proxy.client.port", runCmd.Flags().Lookup("c8y-port"))
	_ = viper.BindPFlag("c8y.tenant_domain", runCmd.Flags().Lookup("c8y-tenant-domain"))
	_ = viper.BindPFlag("http.host", runCmd.Flags().Lookup("tedge-http-host"))
	_ = viper.BindPFlag("data_dir", runCmd.Flags().Lookup("data-dir"))
	_ = viper.BindPFlag("ops_dir", runCmd.Flags().Lookup("ops-dir"))
	_ = viper.BindPFlag("config_dir", runCmd.Flags().Lookup("config-dir"))
	_ = viper.BindPFlag("device_id", runCmd.Flags().Lookup("device-id"))
	_ = viper.BindPFlag("sync_window", runCmd.Flags().Lookup("sync-window"))
	_ = viper.BindPFlag("capabilities.config_snapshot", runCmd.Flags().Lookup("enable-config-snapshot"))
	_ = viper.BindPFlag("capabilities.config_update", runCmd.Flags().Lookup("enable-config-update"))

	return runCmd
}

func runMapper(cliConfig *cli.Cli) error {
	deviceID := cliConfig.GetDeviceID()
	if deviceID == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return err
		}
		deviceID = hostname
	}

	mainTopic := topic.ID{Device: "main"}

	broker := tedge.NewPahoBroker(tedge.ClientConfig{
		Host:     cliConfig.GetMQTTHost(),
		Port:     cliConfig.GetMQTTPort(),
		ClientID: "tedge-c8y-mapper",
	})
	if err := broker.Connect(); err != nil {
		return err
	}
	defer broker.Disconnect()

	if err := broker.Subscribe(topic.Root + "/device/+/+/+/+"); err != nil {
		return err
	}
	if err := broker.Subscribe(topic.Root + "/device/+/service/+/+/+"); err != nil {
		return err
	}
	if err := broker.Subscribe(mapper.CloudDownstreamTopic); err != nil {
		return err
	}

	c8yURL := fmt.Sprintf("http://%s:%d", cliConfig.GetCumulocityHost(), cliConfig.GetCumulocityPort())
	c8yClient := c8y.NewClient(nil, c8yURL, "", "", "", true)
	proxy := httpproxy.NewC8yProxy(c8yClient, cliConfig.GetTenantDomain(), c8yURL+"/c8y")

	actor, err := mapper.Build(mapper.BuildOptions{
		Config: mapper.Config{
			TedgeHTTPHost: cliConfig.GetTedgeHTTPHost(),
			DataDir:       cliConfig.GetDataDir(),
			OpsDir:        cliConfig.GetOpsDir(),
			ConfigDir:     cliConfig.GetConfigDir(),
			SyncWindow:    cliConfig.GetSyncWindow(),
			Capabilities: mapper.Capabilities{
				ConfigSnapshot: cliConfig.EnableConfigSnapshot(),
				ConfigUpdate:   cliConfig.EnableConfigUpdate(),
			},
		},
		MainDeviceTopic: mainTopic,
		MainExternalID:  deviceID,
		Broker:          broker,
		Proxy:           proxy,
	})
	if err != nil {
		return err
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		actor.Run(ctx)
		close(done)
	}()

	<-stop
	slog.Info("Shutting down...")
	cancel()
	<-done
	return nil
}
