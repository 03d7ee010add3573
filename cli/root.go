// Package cli wires the osmcore binary's subcommands: serve (spatial
// materializer + read-only HTTP facade), materialize (materializer only,
// no HTTP), and sweep-changesets (idle/expired changeset closer).
package cli

import (
	"fmt"
	"os"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"osmcore.dev/config"
)

var cfgFile string
var v = viper.New()

// RootCmd is the osmcore binary's entry point.
var RootCmd = &cobra.Command{
	Use:   "osmcore",
	Short: "OSM element store and spatial materializer",
	Long: `osmcore runs the element store's read path (spatial materializer and
query facade) and changeset maintenance, backed by a pluggable store
(BoltDB or Postgres) and a Postgres-backed changeset ledger. The write
path (commit pipeline) is a library entry point; no subcommand runs it.`,
}

func init() {
	cobra.OnInitialize(initConfig)

	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.osmcore.yaml)")

	RootCmd.PersistentFlags().String("store-backend", "", "store backend: bolt or pg")
	RootCmd.PersistentFlags().String("bolt-path", "", "bolt database file path")
	RootCmd.PersistentFlags().String("postgres-dsn", "", "postgres DSN for the pg store backend")
	RootCmd.PersistentFlags().String("changeset-dsn", "", "postgres DSN for the changeset ledger")
	RootCmd.PersistentFlags().String("redis-addr", "", "redis address for the staging queue")
	RootCmd.PersistentFlags().String("rabbitmq-url", "", "rabbitmq URL for commit receipts")
	RootCmd.PersistentFlags().String("rabbitmq-queue", "", "rabbitmq queue name for commit receipts")
	RootCmd.PersistentFlags().String("reference-policy", "", "strict or lenient")
	RootCmd.PersistentFlags().Int("materializer-shards", 0, "number of spatial materializer shards")
	RootCmd.PersistentFlags().Int("relation-max-depth", 0, "max relation nesting depth the dependency resolver follows")

	for _, name := range []string{
		"store-backend", "bolt-path", "postgres-dsn", "changeset-dsn", "redis-addr",
		"rabbitmq-url", "rabbitmq-queue", "reference-policy", "materializer-shards", "relation-max-depth",
	} {
		key := viperKey(name)
		v.BindPFlag(key, RootCmd.PersistentFlags().Lookup(name))
	}

	RootCmd.AddCommand(serveCmd)
	RootCmd.AddCommand(materializeCmd)
	RootCmd.AddCommand(sweepChangesetsCmd)
}

// viperKey turns a "some-flag" flag name into the "some_flag" config.Load key.
func viperKey(name string) string {
	out := make([]byte, len(name))
	for i := 0; i < len(name); i++ {
		if name[i] == '-' {
			out[i] = '_'
		} else {
			out[i] = name[i]
		}
	}
	return string(out)
}

func initConfig() {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		home, err := homedir.Dir()
		cobra.CheckErr(err)

		v.AddConfigPath(home)
		v.AddConfigPath(".")
		v.SetConfigType("yaml")
		v.SetConfigName(".osmcore")
	}

	v.SetEnvPrefix("osmcore")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err == nil {
		fmt.Println("using config file:", v.ConfigFileUsed())
	}
}

func loadConfig() config.Config {
	cfg := config.Load(v)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "invalid configuration:", err)
		os.Exit(1)
	}
	return cfg
}
