// Command lumbermill moves log events into Kafka or stdout. The run
// command polls object storage for CloudWatch log batches and decodes
// them; the serve command accepts events pushed over HTTP.
//
// Logging:
//   - Base logger is created here with output format and level
//   - Logger is passed to all components via dependency injection
//   - No global slog configuration (no slog.SetDefault)
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/msgpo/lumber-mill/internal/cloudwatch"
	"github.com/msgpo/lumber-mill/internal/connector"
	"github.com/msgpo/lumber-mill/internal/event"
	"github.com/msgpo/lumber-mill/internal/lookup"
	"github.com/msgpo/lumber-mill/internal/objectstore"
	"github.com/msgpo/lumber-mill/internal/pipeline"
	"github.com/msgpo/lumber-mill/internal/sink"
	sinkkafka "github.com/msgpo/lumber-mill/internal/sink/kafka"
	"github.com/msgpo/lumber-mill/internal/source"
	"github.com/msgpo/lumber-mill/internal/source/httpsrc"
	"github.com/msgpo/lumber-mill/internal/stage"
	"github.com/msgpo/lumber-mill/internal/template"
)

var version = "dev"

// sinkOptions carries the flags shared by commands that forward events.
type sinkOptions struct {
	kafkaBrokers  []string
	kafkaTopic    string
	kafkaEncoding string
}

// runOptions carries the run command's flag values.
type runOptions struct {
	bucket          string
	prefix          string
	suffix          string
	interval        time.Duration
	minAge          time.Duration
	maxConcurrent   int64
	removeOnSuccess bool

	geoipPath  string
	geoipField string

	s3Region    string
	s3Endpoint  string
	s3PathStyle bool

	sinkOptions
}

// serveOptions carries the serve command's flag values.
type serveOptions struct {
	listen  string
	maxBody int64
	queue   int

	geoipPath  string
	geoipField string

	sinkOptions
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "lumbermill",
		Short: "Log enrichment and forwarding pipeline",
	}
	rootCmd.PersistentFlags().String("log-level", "info", "log level: debug, info, warn, or error")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Poll a bucket and stream decoded log events",
		RunE: func(cmd *cobra.Command, args []string) error {
			level, _ := cmd.Flags().GetString("log-level")
			logger, err := buildLogger(level)
			if err != nil {
				return err
			}

			flags := cmd.Flags()
			var opts runOptions
			opts.bucket, _ = flags.GetString("bucket")
			opts.prefix, _ = flags.GetString("prefix")
			opts.suffix, _ = flags.GetString("suffix")
			opts.interval, _ = flags.GetDuration("interval")
			opts.minAge, _ = flags.GetDuration("min-age")
			opts.maxConcurrent, _ = flags.GetInt64("max-concurrent")
			opts.removeOnSuccess, _ = flags.GetBool("remove-on-success")
			opts.geoipPath, _ = flags.GetString("geoip")
			opts.geoipField, _ = flags.GetString("geoip-field")
			opts.s3Region, _ = flags.GetString("s3-region")
			opts.s3Endpoint, _ = flags.GetString("s3-endpoint")
			opts.s3PathStyle, _ = flags.GetBool("s3-path-style")
			opts.sinkOptions = sinkOptionsFrom(cmd)

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()

			return run(ctx, logger, opts)
		},
	}

	runCmd.Flags().String("bucket", "", "bucket to poll (required)")
	runCmd.Flags().String("prefix", "", "key prefix template, e.g. \"{REGION || us}/logs/\"")
	runCmd.Flags().String("suffix", "", "only consider keys with this suffix")
	runCmd.Flags().Duration("interval", 5*time.Second, "poll interval")
	runCmd.Flags().Duration("min-age", 0, "skip objects younger than this")
	runCmd.Flags().Int64("max-concurrent", 5, "maximum objects processed at once")
	runCmd.Flags().Bool("remove-on-success", false, "delete objects after successful processing")
	runCmd.Flags().String("s3-region", "", "S3 region (default: AWS environment)")
	runCmd.Flags().String("s3-endpoint", "", "S3 endpoint URL for non-AWS stores")
	runCmd.Flags().Bool("s3-path-style", false, "use path-style S3 addressing")
	addGeoIPFlags(runCmd)
	addSinkFlags(runCmd)

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Accept events pushed over HTTP and forward them",
		RunE: func(cmd *cobra.Command, args []string) error {
			level, _ := cmd.Flags().GetString("log-level")
			logger, err := buildLogger(level)
			if err != nil {
				return err
			}

			flags := cmd.Flags()
			var opts serveOptions
			opts.listen, _ = flags.GetString("listen")
			opts.maxBody, _ = flags.GetInt64("max-body")
			opts.queue, _ = flags.GetInt("queue")
			opts.geoipPath, _ = flags.GetString("geoip")
			opts.geoipField, _ = flags.GetString("geoip-field")
			opts.sinkOptions = sinkOptionsFrom(cmd)

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()

			return serve(ctx, logger, opts)
		},
	}

	serveCmd.Flags().String("listen", ":8080", "address to listen on")
	serveCmd.Flags().Int64("max-body", 10<<20, "request body size cap in bytes")
	serveCmd.Flags().Int("queue", 256, "pending event queue size")
	addGeoIPFlags(serveCmd)
	addSinkFlags(serveCmd)

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}

	rootCmd.AddCommand(runCmd, serveCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func addGeoIPFlags(cmd *cobra.Command) {
	cmd.Flags().String("geoip", "", "path to a MaxMind GeoLite2 database for IP enrichment")
	cmd.Flags().String("geoip-field", "ip", "payload field holding the IP address to look up")
}

func addSinkFlags(cmd *cobra.Command) {
	cmd.Flags().StringSlice("kafka-brokers", nil, "Kafka brokers; events go to stdout when empty")
	cmd.Flags().String("kafka-topic", "", "Kafka topic for outgoing events")
	cmd.Flags().String("kafka-encoding", "json", "Kafka record encoding: json or msgpack")
}

func sinkOptionsFrom(cmd *cobra.Command) sinkOptions {
	var opts sinkOptions
	flags := cmd.Flags()
	opts.kafkaBrokers, _ = flags.GetStringSlice("kafka-brokers")
	opts.kafkaTopic, _ = flags.GetString("kafka-topic")
	opts.kafkaEncoding, _ = flags.GetString("kafka-encoding")
	return opts
}

func run(ctx context.Context, logger *slog.Logger, opts runOptions) error {
	store, err := objectstore.NewS3(ctx, objectstore.S3Config{
		Region:       opts.s3Region,
		Endpoint:     opts.s3Endpoint,
		UsePathStyle: opts.s3PathStyle,
	})
	if err != nil {
		return fmt.Errorf("s3 client: %w", err)
	}

	conn, err := connector.New(connector.Config{Store: store, Logger: logger})
	if err != nil {
		return err
	}

	prefix, err := template.Compile(opts.prefix)
	if err != nil {
		return fmt.Errorf("compile prefix: %w", err)
	}

	// Each polled object is downloaded, split into lines, and every
	// line decoded as a CloudWatch Logs batch envelope.
	stages := []pipeline.Stage{
		conn.Download(connector.DownloadConfig{
			Bucket:          template.MustCompile("{bucket}"),
			Key:             template.MustCompile("{key}"),
			RemoveOnSuccess: opts.removeOnSuccess,
		}),
		stage.ReadFileLines("path"),
		stage.ExtractField("message"),
		stage.ParseJSON(),
	}
	stages = append(stages, cloudwatch.Stages()...)

	if opts.geoipPath != "" {
		geo, cleanup, err := geoStage(opts.geoipPath, opts.geoipField)
		if err != nil {
			return err
		}
		defer cleanup()
		stages = append(stages, geo)
	}

	out, cleanup, err := buildSink(logger, opts.sinkOptions)
	if err != nil {
		return err
	}
	defer cleanup()

	poller, err := conn.Poll(connector.PollConfig{
		Bucket:        opts.bucket,
		Prefix:        prefix,
		Suffix:        opts.suffix,
		MinObjectAge:  opts.minAge,
		MaxConcurrent: opts.maxConcurrent,
		Interval:      opts.interval,
	})
	if err != nil {
		return err
	}

	pipe := pipeline.New(pipeline.Config{Stages: stages, Logger: logger})

	logger.Info("pipeline starting",
		"bucket", opts.bucket,
		"interval", opts.interval,
		"sink", sinkName(opts.sinkOptions),
	)

	if err := poller.Run(ctx, pipe, out); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

func serve(ctx context.Context, logger *slog.Logger, opts serveOptions) error {
	var stages []pipeline.Stage
	if opts.geoipPath != "" {
		geo, cleanup, err := geoStage(opts.geoipPath, opts.geoipField)
		if err != nil {
			return err
		}
		defer cleanup()
		stages = append(stages, geo)
	}

	out, cleanup, err := buildSink(logger, opts.sinkOptions)
	if err != nil {
		return err
	}
	defer cleanup()

	recv := httpsrc.New(httpsrc.Config{
		Addr:        opts.listen,
		MaxBodySize: opts.maxBody,
		Logger:      logger,
	})
	pipe := pipeline.New(pipeline.Config{Stages: stages, Logger: logger})
	queue := make(chan *event.Event, opts.queue)

	logger.Info("pipeline starting",
		"listen", opts.listen,
		"sink", sinkName(opts.sinkOptions),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return recv.Run(gctx, queue)
	})
	g.Go(func() error {
		return pipe.Run(gctx, source.FromChan(gctx, queue), out)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

// geoStage builds the optional GeoIP enrichment stage. The returned
// cleanup stops the database file watcher.
func geoStage(path, field string) (pipeline.Stage, func(), error) {
	src, err := template.Compile("{" + field + "}")
	if err != nil {
		return nil, nil, fmt.Errorf("geoip field: %w", err)
	}
	db := lookup.NewGeoIP()
	if err := db.WatchFile(path); err != nil {
		return nil, nil, fmt.Errorf("load geoip database: %w", err)
	}
	st := stage.Lookup(stage.LookupConfig{
		Source: src,
		Target: "geoip",
		Table:  db,
	})
	return st, func() { db.Close() }, nil
}

// buildSink selects the event destination: a Kafka producer when brokers
// are configured, NDJSON on stdout otherwise.
func buildSink(logger *slog.Logger, opts sinkOptions) (pipeline.Sink, func(), error) {
	if len(opts.kafkaBrokers) == 0 {
		return sink.NewWriter(os.Stdout), func() {}, nil
	}

	ks, err := sinkkafka.New(sinkkafka.Config{
		Brokers:  opts.kafkaBrokers,
		Topic:    opts.kafkaTopic,
		Encoding: opts.kafkaEncoding,
		Logger:   logger,
	})
	if err != nil {
		return nil, nil, err
	}

	cleanup := func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := ks.Close(closeCtx); err != nil {
			logger.Error("kafka sink close error", "error", err)
		}
	}
	return ks, cleanup, nil
}

func sinkName(opts sinkOptions) string {
	if len(opts.kafkaBrokers) == 0 {
		return "stdout"
	}
	return "kafka"
}

// buildLogger creates the base text logger all components share.
func buildLogger(level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", level, err)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})), nil
}
