package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/jacktea/blobsvc/pkg/datauri"
	"github.com/jacktea/blobsvc/pkg/logging"
	"github.com/jacktea/blobsvc/pkg/server/httpapi"
	"github.com/jacktea/blobsvc/pkg/server/middleware"
	"github.com/jacktea/blobsvc/pkg/service"
)

type app struct {
	ctx     context.Context
	log     *slog.Logger
	svc     *service.Service
	closers []io.Closer
}

func (a *app) ensureService() error {
	if a.svc != nil {
		return nil
	}
	ctx := context.Background()
	log := logging.New(os.Stderr, viper.GetString("log_level"), viper.GetString("log_format"))

	backend, err := buildStack(ctx, viper.GetViper(), log, &a.closers)
	if err != nil {
		return fmt.Errorf("storage config: %w", err)
	}
	svc, err := service.New(service.Config{
		Backend: backend,
		IDField: viper.GetString("id_field"),
		Logger:  log,
	})
	if err != nil {
		return err
	}
	a.ctx = ctx
	a.log = log
	a.svc = svc
	return nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil && a.log != nil {
			a.log.Warn("close failed", "err", err)
		}
	}
	a.closers = nil
}

var (
	cfgFile     string
	application = &app{}
	rootCmd     = &cobra.Command{
		Use:           "blobsvc",
		Short:         "Content-addressed blob store fronted by data URIs",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return application.ensureService()
		},
	}
)

func init() {
	cobra.OnInitialize(initConfig)
	initRootFlags()
	initCommands()
}

func main() {
	err := rootCmd.Execute()
	application.close()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("blobsvc")
		viper.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "blobsvc"))
		}
	}
	viper.SetEnvPrefix("BLOBSVC")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()
	if err := viper.ReadInConfig(); err != nil {
		var nf viper.ConfigFileNotFoundError
		if !errors.As(err, &nf) {
			fmt.Fprintf(os.Stderr, "read config: %v\n", err)
		}
	}
}

func bindConfig(key string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		panic(err)
	}
}

func initRootFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (TOML or YAML)")

	flags.String("backend", "fs", "storage backend: fs|memory|bolt|redis|s3|bucket|postgres")
	flags.String("id-field", service.DefaultIDField, "record field that carries the blob id")
	flags.String("log-level", "info", "log level: debug|info|warn|error")
	flags.String("log-format", "text", "log format: text|plain|json")

	flags.String("fs-root", ".blobsvc/blobs", "blob root directory (fs backend)")
	flags.Bool("fs-fanout", false, "spread flat keys over two directory levels (fs backend)")
	flags.String("bolt-path", ".blobsvc/blobs.db", "database file (bolt backend)")
	flags.String("redis-addr", "", "redis address host:port")
	flags.String("redis-password", "", "redis password")
	flags.Int("redis-db", 0, "redis database number")
	flags.String("redis-prefix", "blob:", "prefix for redis keys")
	flags.String("s3-bucket", "", "S3 bucket")
	flags.String("s3-prefix", "", "key prefix inside the S3 bucket")
	flags.String("s3-region", "", "S3 region")
	flags.String("s3-endpoint", "", "S3-compatible endpoint URL")
	flags.String("s3-access-key", "", "S3 access key")
	flags.String("s3-secret-key", "", "S3 secret key")
	flags.Bool("s3-path-style", false, "use path-style S3 addressing")
	flags.String("bucket-url", "", "Go CDK bucket URL, e.g. s3://b?region=x, gs://b, file:///dir, mem://")
	flags.String("bucket-prefix", "", "key prefix inside the bucket")
	flags.String("postgres-dsn", "", "postgres connection string")
	flags.String("postgres-table", "blobs", "postgres table")

	flags.String("mirror-backend", "", "secondary backend receiving mirrored writes (configure it under mirror.*)")
	flags.Bool("mirror-cache-on-read", true, "copy blobs read from the mirror back into the primary")

	flags.Int("cache-entries", 0, "read cache entries (0 disables unless cache-bytes is set)")
	flags.Int64("cache-bytes", 0, "read cache byte budget")
	flags.Duration("cache-ttl", 0, "read cache entry lifetime (0 keeps entries until evicted)")

	for key, flag := range map[string]string{
		"backend":              "backend",
		"id_field":             "id-field",
		"log_level":            "log-level",
		"log_format":           "log-format",
		"fs.root":              "fs-root",
		"fs.fanout":            "fs-fanout",
		"bolt.path":            "bolt-path",
		"redis.addr":           "redis-addr",
		"redis.password":       "redis-password",
		"redis.db":             "redis-db",
		"redis.prefix":         "redis-prefix",
		"s3.bucket":            "s3-bucket",
		"s3.prefix":            "s3-prefix",
		"s3.region":            "s3-region",
		"s3.endpoint":          "s3-endpoint",
		"s3.access_key":        "s3-access-key",
		"s3.secret_key":        "s3-secret-key",
		"s3.path_style":        "s3-path-style",
		"bucket.url":           "bucket-url",
		"bucket.prefix":        "bucket-prefix",
		"postgres.dsn":         "postgres-dsn",
		"postgres.table":       "postgres-table",
		"mirror.backend":       "mirror-backend",
		"mirror.cache_on_read": "mirror-cache-on-read",
		"cache.entries":        "cache-entries",
		"cache.bytes":          "cache-bytes",
		"cache.ttl":            "cache-ttl",
	} {
		bindConfig(key, flags.Lookup(flag))
	}
}

func initCommands() {
	rootCmd.AddCommand(
		newCreateCmd(),
		newGetCmd(),
		newRemoveCmd(),
		newServeCmd(),
	)
}

func newCreateCmd() *cobra.Command {
	var mediaType, id string
	cmd := &cobra.Command{
		Use:   "create <file|->",
		Short: "Store a file (or stdin) and print its record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openInput(args[0], cmd.InOrStdin())
			if err != nil {
				return err
			}
			defer r.Close()
			return doCreate(application.ctx, application.svc, r, mediaType, id, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&mediaType, "type", "", "media type (detected from content when empty)")
	cmd.Flags().StringVar(&id, "id", "", "explicit blob id (content-derived when empty)")
	return cmd
}

func newGetCmd() *cobra.Command {
	var raw bool
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Print a blob record, or its bytes with --raw",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return doGet(application.ctx, application.svc, args[0], raw, cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "write the blob bytes instead of the JSON record")
	return cmd
}

func newRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "remove <id>",
		Aliases: []string{"rm"},
		Short:   "Delete a blob",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return doRemove(application.ctx, application.svc, args[0], cmd.OutOrStdout())
		},
	}
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Expose the blob API over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := httpapi.Options{
				APIKey:  viper.GetString("serve.api_key"),
				MaxBody: viper.GetInt64("serve.max_body"),
			}
			if limit := viper.GetInt("serve.rate_limit"); limit > 0 {
				opts.RateLimit = middleware.RateLimitOptions{
					Requests: limit,
					Window:   viper.GetDuration("serve.rate_window"),
				}
			}
			ctx, stop := signal.NotifyContext(application.ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()
			server := &httpapi.Server{Service: application.svc, Log: application.log, Opts: opts}
			if err := server.Start(ctx, viper.GetString("serve.addr")); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().String("addr", ":8080", "listen address")
	cmd.Flags().String("api-key", "", "require API key (X-API-Key or Bearer token)")
	cmd.Flags().Int("rate-limit", 0, "requests allowed per client per window (0 disables)")
	cmd.Flags().Duration("rate-window", time.Second, "rate limit window")
	cmd.Flags().Int64("max-body", httpapi.DefaultMaxBody, "maximum create request body in bytes")
	bindConfig("serve.addr", cmd.Flags().Lookup("addr"))
	bindConfig("serve.api_key", cmd.Flags().Lookup("api-key"))
	bindConfig("serve.rate_limit", cmd.Flags().Lookup("rate-limit"))
	bindConfig("serve.rate_window", cmd.Flags().Lookup("rate-window"))
	bindConfig("serve.max_body", cmd.Flags().Lookup("max-body"))
	return cmd
}

func openInput(name string, stdin io.Reader) (io.ReadCloser, error) {
	if name == "-" {
		return io.NopCloser(stdin), nil
	}
	f, err := os.Open(name)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	return f, nil
}

func doCreate(ctx context.Context, svc *service.Service, r io.Reader, mediaType, id string, out io.Writer) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	if mediaType == "" {
		mediaType = mimetype.Detect(data).String()
	}
	rec, err := svc.Create(ctx, service.CreateInput{URI: datauri.Encode(data, mediaType), ID: id})
	if err != nil {
		return err
	}
	return printRecord(out, rec)
}

func doGet(ctx context.Context, svc *service.Service, id string, raw bool, out io.Writer) error {
	rec, err := svc.Get(ctx, id)
	if err != nil {
		return err
	}
	if raw {
		_, err := out.Write(rec.Content)
		return err
	}
	return printRecord(out, rec)
}

func doRemove(ctx context.Context, svc *service.Service, id string, out io.Writer) error {
	rec, err := svc.Remove(ctx, id)
	if err != nil {
		return err
	}
	return printRecord(out, rec)
}

func printRecord(out io.Writer, rec service.Record) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(rec)
}
