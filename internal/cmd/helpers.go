package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"volbackup/internal/auth"
	"volbackup/internal/backup"
	"volbackup/internal/logging"
)

// findEnvArg inspects argv for an explicit --env argument and returns
// the value if present. Supports `--env=path` and `--env path` forms.
func findEnvArg(argv []string) string {
	for i := 0; i < len(argv); i++ {
		a := argv[i]
		if strings.HasPrefix(a, "--env=") {
			return strings.TrimPrefix(a, "--env=")
		}
		if a == "--env" && i+1 < len(argv) {
			return argv[i+1]
		}
	}
	return ""
}

// mustGetStringFlag gets a string flag value from a cobra command
func mustGetStringFlag(cmd *cobra.Command, name string) string {
	val, _ := cmd.Flags().GetString(name)
	return val
}

// mustGetBoolFlag gets a boolean flag value from a cobra command
func mustGetBoolFlag(cmd *cobra.Command, name string) bool {
	val, _ := cmd.Flags().GetBool(name)
	return val
}

// mustGetDurationFlag gets a duration flag value from a cobra command
func mustGetDurationFlag(cmd *cobra.Command, name string) time.Duration {
	val, _ := cmd.Flags().GetDuration(name)
	return val
}

// mustGetIntFlag gets an int flag value from a cobra command
func mustGetIntFlag(cmd *cobra.Command, name string) int {
	val, _ := cmd.Flags().GetInt(name)
	return val
}

// mustGetStringSliceFlag gets a string slice flag value from a cobra command
func mustGetStringSliceFlag(cmd *cobra.Command, name string) []string {
	val, _ := cmd.Flags().GetStringSlice(name)
	return val
}

// getEnvWithDefault returns the environment variable value or a default
func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBoolWithDefault returns the environment variable as a bool or a default
func getEnvBoolWithDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvDurationWithDefault returns the environment variable as a duration or a default
func getEnvDurationWithDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvIntWithDefault returns the environment variable as an int or a default
func getEnvIntWithDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// newLogger builds the logger for a command from --log-level and -v.
func newLogger() *log.Logger {
	level := logging.LevelName(viper.GetString("log_level"), viper.GetInt("verbose"))
	return logging.New(os.Stderr, level)
}

// loadHosts reads the hosts file named by --hosts-file.
func loadHosts() ([]backup.HostRecord, error) {
	return backup.LoadHosts(auth.ExpandHome(viper.GetString("hosts_file")))
}

// findHost returns the named host from the hosts file.
func findHost(name string) (backup.HostRecord, error) {
	hosts, err := loadHosts()
	if err != nil {
		return backup.HostRecord{}, err
	}
	selected, err := backup.SelectHosts(hosts, []string{name})
	if err != nil {
		return backup.HostRecord{}, err
	}
	return selected[0], nil
}

// transferMode parses --transfer.
func transferMode() (auth.TransferMode, error) {
	mode, err := auth.ParseTransferMode(viper.GetString("transfer"))
	if err != nil {
		return "", &backup.ConfigurationError{Err: err}
	}
	return mode, nil
}

// sshConfigFor builds the transport configuration for a host.
func sshConfigFor(host backup.HostRecord) (auth.SSHConfig, error) {
	transfer, err := transferMode()
	if err != nil {
		return auth.SSHConfig{}, err
	}

	keyPath := host.SSHKeyPath
	if keyPath == "" {
		keyPath = viper.GetString("ssh_key")
	}

	return auth.SSHConfig{
		Hostname:       host.Hostname,
		Username:       host.Username,
		Port:           host.PortString(),
		KeyPath:        auth.ExpandHome(keyPath),
		UseAgent:       viper.GetBool("agent"),
		KnownHostsPath: viper.GetString("known_hosts"),
		Timeout:        viper.GetDuration("timeout"),
		KeepAlive:      30 * time.Second,
		Transfer:       transfer,
	}, nil
}

// connect opens an SSH connection to host.
func connect(host backup.HostRecord) (*auth.SSHClient, error) {
	config, err := sshConfigFor(host)
	if err != nil {
		return nil, err
	}
	client, err := auth.NewSSHClient(config)
	if err != nil {
		return nil, &backup.ConnectionError{Host: host.Name, Address: host.Address(), Err: err}
	}
	return client, nil
}

// dialHost adapts connect to backup.Dialer.
func dialHost(host backup.HostRecord) (backup.Conn, error) {
	client, err := connect(host)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// addMirrorFlags registers the offsite mirror flags with environment defaults.
func addMirrorFlags(cmd *cobra.Command) {
	cmd.Flags().String("minio-endpoint", getEnvWithDefault("MINIO_ENDPOINT", ""), "Minio endpoint (env: MINIO_ENDPOINT)")
	// Do NOT display sensitive API keys in --help output; read from env or flags at runtime
	cmd.Flags().String("minio-access-key", "", "Minio access key (env: MINIO_ACCESS_KEY)")
	cmd.Flags().String("minio-secret-key", "", "Minio secret key (env: MINIO_SECRET_KEY)")
	cmd.Flags().String("minio-bucket", getEnvWithDefault("MINIO_BUCKET", "backups"), "Minio bucket name (env: MINIO_BUCKET)")
	cmd.Flags().Bool("minio-ssl", getEnvBoolWithDefault("MINIO_SSL", true), "Use SSL for Minio connection (env: MINIO_SSL)")
	cmd.Flags().Duration("minio-http-timeout", getEnvDurationWithDefault("MINIO_HTTP_TIMEOUT", 0), "Minio HTTP client timeout (e.g., 0s for no timeout) (env: MINIO_HTTP_TIMEOUT)")
	cmd.Flags().String("bucket-path", getEnvWithDefault("MINIO_BUCKET_PATH", ""), "Path prefix within Minio bucket (e.g., 'production/volumes', env: MINIO_BUCKET_PATH)")

	cmd.Flags().String("aws-vault", getEnvWithDefault("AWS_VAULT", ""), "AWS Glacier vault name (env: AWS_VAULT)")
	cmd.Flags().String("aws-account-id", getEnvWithDefault("AWS_ACCOUNT_ID", "-"), "AWS account ID or '-' for current account (env: AWS_ACCOUNT_ID, default: -)")
	cmd.Flags().String("aws-access-key", "", "AWS access key (env: AWS_ACCESS_KEY)")
	cmd.Flags().String("aws-secret-access-key", "", "AWS secret access key (env: AWS_SECRET_ACCESS_KEY)")
	cmd.Flags().String("aws-region", getEnvWithDefault("AWS_REGION", "us-east-1"), "AWS region (env: AWS_REGION, default: us-east-1)")
	cmd.Flags().Duration("aws-http-timeout", getEnvDurationWithDefault("AWS_HTTP_TIMEOUT", 0), "AWS HTTP client timeout (e.g., 0s for no timeout) (env: AWS_HTTP_TIMEOUT)")
}

// getMinioConfig creates Minio configuration from command flags. It returns
// nil when no endpoint is configured.
func getMinioConfig(cmd *cobra.Command) (*backup.MinioConfig, error) {
	endpoint := mustGetStringFlag(cmd, "minio-endpoint")
	if endpoint == "" {
		endpoint = getEnvWithDefault("MINIO_ENDPOINT", "")
	}
	if endpoint == "" {
		return nil, nil
	}

	accessKey := mustGetStringFlag(cmd, "minio-access-key")
	if accessKey == "" {
		accessKey = getEnvWithDefault("MINIO_ACCESS_KEY", "")
	}
	if accessKey == "" {
		return nil, fmt.Errorf("minio-access-key is required (use --minio-access-key or set MINIO_ACCESS_KEY)")
	}

	secretKey := mustGetStringFlag(cmd, "minio-secret-key")
	if secretKey == "" {
		secretKey = getEnvWithDefault("MINIO_SECRET_KEY", "")
	}
	if secretKey == "" {
		return nil, fmt.Errorf("minio-secret-key is required (use --minio-secret-key or set MINIO_SECRET_KEY)")
	}

	return &backup.MinioConfig{
		Endpoint:    endpoint,
		AccessKey:   accessKey,
		SecretKey:   secretKey,
		Bucket:      mustGetStringFlag(cmd, "minio-bucket"),
		UseSSL:      mustGetBoolFlag(cmd, "minio-ssl"),
		BucketPath:  mustGetStringFlag(cmd, "bucket-path"),
		HTTPTimeout: mustGetDurationFlag(cmd, "minio-http-timeout"),
	}, nil
}

// getGlacierConfig creates AWS Glacier configuration from command flags. It
// returns nil when no vault is configured.
func getGlacierConfig(cmd *cobra.Command) (*backup.GlacierConfig, error) {
	vault := mustGetStringFlag(cmd, "aws-vault")
	if vault == "" {
		vault = getEnvWithDefault("AWS_VAULT", "")
	}
	if vault == "" {
		return nil, nil
	}

	accessKey := mustGetStringFlag(cmd, "aws-access-key")
	if accessKey == "" {
		accessKey = getEnvWithDefault("AWS_ACCESS_KEY", "")
	}

	secretKey := mustGetStringFlag(cmd, "aws-secret-access-key")
	if secretKey == "" {
		secretKey = getEnvWithDefault("AWS_SECRET_ACCESS_KEY", "")
	}
	if (accessKey == "") != (secretKey == "") {
		return nil, fmt.Errorf("aws-access-key and aws-secret-access-key must be set together")
	}

	region := mustGetStringFlag(cmd, "aws-region")
	if region == "" {
		region = getEnvWithDefault("AWS_REGION", "us-east-1")
	}

	accountID := mustGetStringFlag(cmd, "aws-account-id")
	if accountID == "" {
		accountID = getEnvWithDefault("AWS_ACCOUNT_ID", "-")
	}

	return &backup.GlacierConfig{
		Vault:       vault,
		AccountID:   accountID,
		AccessKey:   accessKey,
		SecretKey:   secretKey,
		Region:      region,
		HTTPTimeout: mustGetDurationFlag(cmd, "aws-http-timeout"),
	}, nil
}

// buildMirrors returns the configured mirrors, MinIO first.
func buildMirrors(ctx context.Context, cmd *cobra.Command) ([]backup.Mirror, error) {
	var mirrors []backup.Mirror

	minioConfig, err := getMinioConfig(cmd)
	if err != nil {
		return nil, err
	}
	if minioConfig != nil {
		m, err := backup.NewMinioMirror(minioConfig)
		if err != nil {
			return nil, err
		}
		mirrors = append(mirrors, m)
	}

	glacierConfig, err := getGlacierConfig(cmd)
	if err != nil {
		return nil, err
	}
	if glacierConfig != nil {
		g, err := backup.NewGlacierMirror(ctx, glacierConfig)
		if err != nil {
			return nil, err
		}
		mirrors = append(mirrors, g)
	}

	return mirrors, nil
}

// minioMirror returns the MinIO mirror or an error when none is configured.
func minioMirror(cmd *cobra.Command) (*backup.MinioMirror, error) {
	cfg, err := getMinioConfig(cmd)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, errors.New("Minio is not configured (use --minio-endpoint or set MINIO_ENDPOINT)")
	}
	return backup.NewMinioMirror(cfg)
}
