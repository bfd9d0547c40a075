// Package main is the entry point for replicator, the worker process that
// drives the cross-region/cross-backend Replication Task Engine: it binds
// the Worker Harness (and, optionally, the Metadata Mirror Processor) to
// the log bus and runs until signalled to stop.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bleepstore/replicator/internal/bus"
	"github.com/bleepstore/replicator/internal/config"
	"github.com/bleepstore/replicator/internal/destgw"
	"github.com/bleepstore/replicator/internal/logentry"
	"github.com/bleepstore/replicator/internal/logging"
	"github.com/bleepstore/replicator/internal/metrics"
	"github.com/bleepstore/replicator/internal/mirror"
	"github.com/bleepstore/replicator/internal/publish"
	"github.com/bleepstore/replicator/internal/rangeplan"
	"github.com/bleepstore/replicator/internal/replication"
	"github.com/bleepstore/replicator/internal/retry"
	"github.com/bleepstore/replicator/internal/sourcegw"
	"github.com/bleepstore/replicator/internal/worker"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format, os.Stdout)
	metrics.RegisterReplication()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Observability.Metrics {
		go serveMetrics(cfg.Server.Host, cfg.Server.Port)
	}

	sourceGW, err := buildSourceGateway(ctx, cfg.Replication.Source)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build source gateway: %v\n", err)
		os.Exit(1)
	}

	sites, destFactories, err := buildDestinations(ctx, cfg.Replication.Sites)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build destination gateways: %v\n", err)
		os.Exit(1)
	}

	logBus, err := bus.Connect(ctx, bus.Config{
		URL:        cfg.Replication.Bus.URL,
		StreamName: cfg.Replication.Bus.StreamName,
		Subjects:   cfg.Replication.Bus.Subjects,
		AckWait:    time.Duration(cfg.Replication.Bus.AckWaitSeconds) * time.Second,
		MaxDeliver: cfg.Replication.Bus.MaxDeliver,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to log bus: %v\n", err)
		os.Exit(1)
	}
	defer logBus.Close()

	taskCfg := replication.Config{
		Concurrency: cfg.Replication.Task.Concurrency,
		Retry: retry.Config{
			MinBackoff: time.Duration(cfg.Replication.Task.MinBackoffMs) * time.Millisecond,
			MaxBackoff: time.Duration(cfg.Replication.Task.MaxBackoffMs) * time.Millisecond,
			Factor:     cfg.Replication.Task.BackoffFactor,
			MaxRetries: uint64(cfg.Replication.Task.MaxRetries),
			Timeout:    5 * time.Minute,
		},
	}

	publisher := publish.New(logBus, publish.Topics{
		Status:  cfg.Replication.Bus.StatusTopic,
		Metrics: cfg.Replication.Bus.MetricsTopic,
	}, func() int64 { return time.Now().UnixMilli() })

	newTask := func(entry logentry.Entry, site string) *replication.Task {
		return &replication.Task{
			Entry:       entry,
			Site:        site,
			Family:      destFactories[site].family,
			SourceGW:    sourceGW,
			DestFactory: destFactories[site].factory,
			Hosts:       destFactories[site].hosts,
			Publisher:   publisher,
			Cfg:         taskCfg,
		}
	}

	harness := &worker.Harness{
		Consumer: &bus.BoundConsumer{
			Bus: logBus,
			Cfg: bus.Config{
				URL:          cfg.Replication.Bus.URL,
				StreamName:   cfg.Replication.Bus.StreamName,
				Subjects:     cfg.Replication.Bus.Subjects,
				ConsumerName: cfg.Replication.Bus.WorkerConsumerName,
				AckWait:      time.Duration(cfg.Replication.Bus.AckWaitSeconds) * time.Second,
				MaxDeliver:   cfg.Replication.Bus.MaxDeliver,
			},
		},
		NewTask: newTask,
		Sites:   sites,
		Cfg:     worker.Config{Concurrency: cfg.Replication.Worker.Concurrency},
		Logger:  slog.Default(),
	}

	errCh := make(chan error, 2)
	go func() {
		log.Printf("worker harness consuming %v on %s", cfg.Replication.Bus.Subjects, cfg.Replication.Bus.URL)
		errCh <- harness.Run(ctx)
	}()

	if cfg.Replication.Mirror.Enabled {
		mirrorProc, err := buildMirrorProcessor(ctx, cfg, logBus)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to build mirror processor: %v\n", err)
			os.Exit(1)
		}
		go func() {
			log.Printf("metadata mirror processor running (engine=%s)", cfg.Replication.Mirror.Engine)
			errCh <- mirrorProc.Run(ctx)
		}()
	}

	select {
	case <-ctx.Done():
		log.Printf("shutdown signal received, draining in-flight tasks...")
		timeout := time.Duration(cfg.Server.ShutdownTimeout) * time.Second
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		select {
		case <-errCh:
		case <-time.After(timeout):
			log.Printf("shutdown timeout elapsed, exiting")
		}
	case err := <-errCh:
		if err != nil && ctx.Err() == nil {
			fmt.Fprintf(os.Stderr, "replicator error: %v\n", err)
			os.Exit(1)
		}
	}
}

func serveMetrics(host string, port int) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	addr := fmt.Sprintf("%s:%d", host, port)
	log.Printf("metrics listening on %s/metrics", addr)
	if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
		log.Printf("metrics server error: %v", err)
	}
}

func buildSourceGateway(ctx context.Context, cfg config.SourceConfig) (*sourcegw.Gateway, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("loading aws config for source gateway: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.EndpointURL != "" {
			o.BaseEndpoint = &cfg.EndpointURL
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return sourcegw.New(client), nil
}

// destBinding is everything a Task needs to reach one configured site.
type destBinding struct {
	family  rangeplan.Family
	factory replication.DestinationGatewayFactory
	hosts   *retry.HostPicker
}

func buildDestinations(ctx context.Context, sites []config.SiteConfig) ([]string, map[string]destBinding, error) {
	names := make([]string, 0, len(sites))
	bindings := make(map[string]destBinding, len(sites))

	for _, site := range sites {
		if len(site.Hosts) == 0 {
			return nil, nil, fmt.Errorf("site %q: at least one host is required", site.Name)
		}
		hosts := retry.NewHostPicker(site.Hosts)

		var family rangeplan.Family
		var factory replication.DestinationGatewayFactory

		switch site.StorageType {
		case "gcp":
			family = rangeplan.FamilyGCP
			client, err := destgw.NewRealGCSClient(ctx)
			if err != nil {
				return nil, nil, fmt.Errorf("site %q: creating GCS client: %w", site.Name, err)
			}
			backend := destgw.NewGCPBackend(client, slog.Default())
			factory = func(host string) destgw.DestinationGateway { return backend }
		case "azure":
			family = rangeplan.FamilyAzure
			accountURL := site.Azure.AccountURL
			if accountURL == "" && site.Azure.Account != "" {
				accountURL = fmt.Sprintf("https://%s.blob.core.windows.net", site.Azure.Account)
			}
			client, err := destgw.NewRealAzureClient(accountURL)
			if err != nil {
				return nil, nil, fmt.Errorf("site %q: creating Azure client: %w", site.Name, err)
			}
			backend := destgw.NewAzureBackend(client)
			factory = func(host string) destgw.DestinationGateway { return backend }
		default:
			family = rangeplan.FamilyGeneric
			region := site.AWS.Region
			if region == "" {
				region = "us-east-1"
			}
			awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
			if err != nil {
				return nil, nil, fmt.Errorf("site %q: loading aws config: %w", site.Name, err)
			}
			backend := destgw.NewGenericBackend(s3.NewFromConfig(awsCfg, func(o *s3.Options) {
				if site.AWS.EndpointURL != "" {
					o.BaseEndpoint = &site.AWS.EndpointURL
				}
				o.UsePathStyle = site.AWS.UsePathStyle
			}))
			factory = func(host string) destgw.DestinationGateway { return backend }
		}

		names = append(names, site.Name)
		bindings[site.Name] = destBinding{family: family, factory: factory, hosts: hosts}
	}

	return names, bindings, nil
}

func buildMirrorProcessor(ctx context.Context, cfg *config.Config, logBus *bus.JetStreamBus) (*mirror.Processor, error) {
	var store mirror.Store
	var err error
	switch cfg.Replication.Mirror.Engine {
	case "firestore":
		store, err = mirror.NewFirestoreStore(ctx, mirror.FirestoreConfig{
			ProjectID:       cfg.Replication.Mirror.Firestore.ProjectID,
			Collection:      cfg.Replication.Mirror.Firestore.Collection,
			CredentialsFile: cfg.Replication.Mirror.Firestore.CredentialsFile,
		})
	default:
		store, err = mirror.NewDynamoDBStore(ctx, mirror.DynamoDBConfig{
			Table:       cfg.Replication.Mirror.DynamoDB.Table,
			Region:      cfg.Replication.Mirror.DynamoDB.Region,
			EndpointURL: cfg.Replication.Mirror.DynamoDB.EndpointURL,
		})
	}
	if err != nil {
		return nil, err
	}

	return &mirror.Processor{
		Consumer: &bus.BoundConsumer{
			Bus: logBus,
			Cfg: bus.Config{
				URL:          cfg.Replication.Bus.URL,
				StreamName:   cfg.Replication.Bus.StreamName,
				Subjects:     cfg.Replication.Bus.Subjects,
				ConsumerName: cfg.Replication.Bus.MirrorConsumerName,
				AckWait:      time.Duration(cfg.Replication.Bus.AckWaitSeconds) * time.Second,
				MaxDeliver:   cfg.Replication.Bus.MaxDeliver,
			},
		},
		Store: store,
		Cfg: mirror.Config{
			DataStoreName:      cfg.Replication.Mirror.DataStoreName,
			DataStoreType:      cfg.Replication.Mirror.DataStoreType,
			HandleBucketEvents: cfg.Replication.Mirror.HandleBucketEvents,
		},
		Logger: slog.Default(),
	}, nil
}
