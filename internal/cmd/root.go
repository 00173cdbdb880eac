package cmd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "volbackup",
		Short: "volbackup - back up Docker named volumes from remote hosts over SSH",
		Long: `volbackup archives every Docker named volume on a list of remote hosts, copies the
archives to this machine over SSH, verifies them and removes the remote copies.
Verified archives can optionally be mirrored to MinIO/S3 or an AWS Glacier vault.`,
		Version:       "1.0.0",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	return err
}

func init() {
	cobra.OnInitialize(initConfig)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.volbackup.yaml)")
	pf.String("env", "", "Path to a .env file loaded before flags are parsed")
	pf.String("log-level", "info", "Log level (debug, info, warn, error)")
	pf.CountP("verbose", "v", "Increase log verbosity (-v for debug)")
	pf.String("hosts-file", "servers.yaml", "Hosts file listing the servers to back up")
	pf.String("known-hosts", "", "known_hosts file used to verify host keys (default ~/.ssh/known_hosts)")
	pf.String("transfer", "scp", "File transfer protocol (scp or sftp)")
	pf.DurationP("timeout", "t", 30*time.Second, "SSH connection timeout")
	pf.BoolP("agent", "a", true, "Use SSH agent")
	pf.StringP("key", "k", "", "Default SSH private key for hosts without ssh_key_path")

	viper.BindPFlag("log_level", pf.Lookup("log-level"))
	viper.BindPFlag("verbose", pf.Lookup("verbose"))
	viper.BindPFlag("hosts_file", pf.Lookup("hosts-file"))
	viper.BindPFlag("known_hosts", pf.Lookup("known-hosts"))
	viper.BindPFlag("transfer", pf.Lookup("transfer"))
	viper.BindPFlag("timeout", pf.Lookup("timeout"))
	viper.BindPFlag("agent", pf.Lookup("agent"))
	viper.BindPFlag("ssh_key", pf.Lookup("key"))

	// Load environment variables from a .env file. An explicit --env wins over
	// the one in the current directory. A missing default .env is fine.
	if envFile := findEnvArg(os.Args[1:]); envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: Error loading env file %s: %v\n", envFile, err)
		}
	} else if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Warning: Error loading .env file: %v\n", err)
		}
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".volbackup")
	}

	viper.SetEnvPrefix("VOLBACKUP")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		if viper.GetInt("verbose") > 0 {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}
}
