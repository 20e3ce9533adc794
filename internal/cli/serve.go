package cli

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/vladislavdragonenkov/picnic-sensors/internal/app"
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Poll Picnic and serve sensor states over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, closer, err := opts.load(cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer closer.Close()

			log.WithFields(log.Fields{
				"http_addr":      cfg.HTTP.Addr,
				"grpc_addr":      cfg.GRPC.Addr,
				"country_code":   cfg.CountryCode,
				"scan_interval":  cfg.ScanInterval,
				"min_refresh":    cfg.MinRefreshInterval,
				"delivery_scope": cfg.DeliveryScope,
				"kafka":          cfg.Kafka.Enabled(),
			}).Info("запускаем picnic-sensors")

			if err := app.Run(cmd.Context(), cfg); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			log.Info("picnic-sensors остановлен")
			return nil
		},
	}

	flags := cmd.Flags()
	flags.String("http-addr", ":8080", "HTTP listen address")
	flags.String("grpc-addr", "", "gRPC health listen address (empty disables)")
	flags.Duration("scan-interval", 30*time.Second, "sensor update interval")
	_ = opts.viper.BindPFlag("http.addr", flags.Lookup("http-addr"))
	_ = opts.viper.BindPFlag("grpc.addr", flags.Lookup("grpc-addr"))
	_ = opts.viper.BindPFlag("scan_interval", flags.Lookup("scan-interval"))

	return cmd
}
