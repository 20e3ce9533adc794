// Package cli описывает команды picnic-sensors на cobra.
package cli

import (
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/vladislavdragonenkov/picnic-sensors/internal/config"
	"github.com/vladislavdragonenkov/picnic-sensors/internal/logging"
)

type rootOptions struct {
	configFile string
	envFiles   []string
	viper      *viper.Viper
}

// NewRootCommand собирает корневую команду со всеми подкомандами.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{viper: config.NewViper()}

	cmd := &cobra.Command{
		Use:           "picnic-sensors",
		Short:         "Picnic cart, delivery and time slot sensors",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configFile, "config", "", "YAML config file")
	flags.StringSliceVar(&opts.envFiles, "env-file", []string{".env"}, ".env files to load before reading the environment")
	flags.String("username", "", "Picnic account e-mail")
	flags.String("country-code", "NL", "Picnic country code")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("log-format", "text", "log format (text or json)")

	_ = opts.viper.BindPFlag("username", flags.Lookup("username"))
	_ = opts.viper.BindPFlag("country_code", flags.Lookup("country-code"))
	_ = opts.viper.BindPFlag("logging.level", flags.Lookup("log-level"))
	_ = opts.viper.BindPFlag("logging.format", flags.Lookup("log-format"))

	cmd.AddCommand(
		newServeCommand(opts),
		newSnapshotCommand(opts),
		newVersionCommand(),
	)
	return cmd
}

// load читает .env, файл конфигурации и окружение, затем настраивает логирование.
func (o *rootOptions) load(logOut io.Writer) (config.Config, io.Closer, error) {
	if err := config.LoadDotEnv(o.envFiles...); err != nil {
		return config.Config{}, nil, err
	}
	cfg, err := config.Load(o.viper, o.configFile)
	if err != nil {
		return config.Config{}, nil, err
	}
	closer, err := logging.SetupTo(cfg.Logging, logOut)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, closer, nil
}
