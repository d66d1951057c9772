package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var Version = "dev"

var Commit = "none"

var Date = "unknown"
var envFile string

var rootCmd = &cobra.Command{
	Use:           "gwbridge",
	Short:         "gwbridge: relay cloud WebSocket commands to local HTTP gateways",
	Version:       fmt.Sprintf("%s (commit %s, built %s)", Version, Commit, Date),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file with default settings")
	cobra.OnInitialize(initConfig)
}

func initConfig() {
	if err := loadDotEnv(envFile); err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}
	viper.AutomaticEnv()
}

// loadDotEnv exports the variables in path that are not already set, so the
// real environment always wins over the file.
func loadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}
	for _, k := range v.AllKeys() {
		name := strings.ToUpper(k)
		if _, ok := os.LookupEnv(name); ok {
			continue
		}
		if err := os.Setenv(name, v.GetString(k)); err != nil {
			return err
		}
	}
	return nil
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
