package pgrest

import (
	"fmt"
	"os"
	"strings"

	"github.com/edgeflare/pgrest/pkg/config"
	"github.com/edgeflare/pgrest/pkg/postgrest"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var cfgFile string
var logLevel string
var cfg *config.Config
var rootCmd = &cobra.Command{
	Use:   "pgrest",
	Short: "pgrest talks to PostgREST-compatible APIs",
	Long: `pgrest sends schema-aware requests to a PostgREST-compatible API and
serves an in-memory multi-schema fixture for testing clients`,
	SilenceUsage: true,
	Run: func(cmd *cobra.Command, args []string) {
		versionFlag, _ := cmd.Flags().GetBool("version")
		if versionFlag {
			fmt.Fprintln(cmd.OutOrStdout(), config.Version)
			return
		}

		// If no subcommand is provided, print help
		cmd.Help()
	},
}

func Main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	f := rootCmd.PersistentFlags()
	f.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/pgrest.yaml)")
	f.StringVarP(&logLevel, "log-level", "L", "", "log at this level (debug, info, warn, error, none)")
	f.String("url", "", "PostgREST base URL (env REST_URL)")
	f.String("apikey", "", "API key sent as apikey and bearer token (env APIKEY)")
	f.String("token", "", "bearer token, overrides the apikey bearer")
	f.StringP("schema", "s", "", "schema to address, empty for the server default")
	rootCmd.Flags().BoolP("version", "v", false, "Print the version number")

	viper.BindPFlag("rest.url", f.Lookup("url"))
	viper.BindPFlag("rest.apikey", f.Lookup("apikey"))
	viper.BindPFlag("rest.token", f.Lookup("token"))
	viper.BindPFlag("rest.schema", f.Lookup("schema"))
	viper.BindPFlag("log.level", f.Lookup("log-level"))
}

func initConfig() {
	var err error
	cfg, err = config.LoadWith(viper.GetViper(), cfgFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error loading config:", err)
		os.Exit(1)
	}
}

// newLogger builds a production zap logger at the configured level. "none"
// disables logging.
func newLogger(level string) (*zap.Logger, error) {
	if strings.EqualFold(level, "none") {
		return zap.NewNop(), nil
	}
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}

// newClient builds a client from the loaded config.
func newClient(logger *zap.Logger) (*postgrest.Client, error) {
	rc := cfg.REST
	opts := []postgrest.Option{
		postgrest.WithSchema(rc.Schema),
		postgrest.WithTimeout(rc.Timeout),
		postgrest.WithLogger(logger),
	}
	for k, v := range rc.RequestHeaders() {
		opts = append(opts, postgrest.WithHeader(k, v))
	}
	if rc.Retries > 0 {
		opts = append(opts, postgrest.WithRetry(postgrest.RetryConfig{MaxRetries: rc.Retries}))
	}
	return postgrest.New(rc.URL, opts...)
}
