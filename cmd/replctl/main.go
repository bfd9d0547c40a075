// Package main is the entry point for replctl, an operator inspection CLI
// for the replication task engine: it reads current per-object mirror
// state and can force reprocessing of a site by republishing a pending
// status entry onto the log bus.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/bleepstore/replicator/internal/bus"
	"github.com/bleepstore/replicator/internal/config"
	"github.com/bleepstore/replicator/internal/logentry"
	"github.com/bleepstore/replicator/internal/mirror"
)

var configPath string

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "replctl",
		Short: "Inspect and control the replication task engine",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to configuration file")
	root.AddCommand(newStatusCmd())
	root.AddCommand(newRequeueCmd())
	return root
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <bucket> <key>",
		Short: "Print the mirrored replication state for an object",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			bucket, key := args[0], args[1]

			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			store, err := buildMirrorStore(ctx, cfg)
			if err != nil {
				return err
			}

			rec, found, err := store.GetObjectNoVer(ctx, bucket, key)
			if err != nil {
				return fmt.Errorf("reading mirror record: %w", err)
			}
			if !found {
				fmt.Printf("%s/%s: no mirrored record\n", bucket, key)
				return nil
			}

			fmt.Printf("bucket:          %s\n", rec.Bucket)
			fmt.Printf("key:             %s\n", rec.Key)
			fmt.Printf("versionID:       %s\n", rec.VersionID)
			fmt.Printf("size:            %d\n", rec.Size)
			fmt.Printf("etag:            %s\n", rec.ETag)
			fmt.Printf("contentType:     %s\n", rec.ContentType)
			fmt.Printf("dataStoreName:   %s\n", rec.DataStoreName)
			fmt.Printf("dataStoreType:   %s\n", rec.DataStoreType)
			fmt.Printf("isDeleteMarker:  %t\n", rec.IsDeleteMarker)
			return nil
		},
	}
}

func newRequeueCmd() *cobra.Command {
	var site string
	cmd := &cobra.Command{
		Use:   "requeue <bucket> <key>",
		Short: "Republish a pending status entry to force reprocessing at --site",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if site == "" {
				return fmt.Errorf("--site is required")
			}
			bucket, key := args[0], args[1]

			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			store, err := buildMirrorStore(ctx, cfg)
			if err != nil {
				return err
			}

			rec, found, err := store.GetObjectNoVer(ctx, bucket, key)
			if err != nil {
				return fmt.Errorf("reading mirror record: %w", err)
			}
			if !found {
				return fmt.Errorf("%s/%s: no mirrored record to requeue from", bucket, key)
			}

			logBus, err := bus.Connect(ctx, bus.Config{
				URL:        cfg.Replication.Bus.URL,
				StreamName: cfg.Replication.Bus.StreamName,
				Subjects:   cfg.Replication.Bus.Subjects,
			})
			if err != nil {
				return fmt.Errorf("connecting to log bus: %w", err)
			}
			defer logBus.Close()

			entry := &logentry.ObjectEntry{
				Bucket:        bucket,
				Key:           key,
				VersionID:     rec.VersionID,
				ContentLength: rec.Size,
				ContentType:   rec.ContentType,
				UserMetadata:  rec.UserMetadata,
				Location: []logentry.PartLocation{
					{PartNumber: 1, PartSize: rec.Size, DataStoreETag: rec.ETag, DataStoreName: rec.DataStoreName},
				},
				IsDeleteMarker: rec.IsDeleteMarker,
				ReplicationInfo: logentry.ReplicationInfo{
					Sites:   map[string]logentry.SiteStatus{site: logentry.SiteStatusPending},
					Content: []logentry.ContentCategory{logentry.ContentData},
				},
			}

			payload, err := logentry.Serialize(entry)
			if err != nil {
				return fmt.Errorf("serializing requeue entry: %w", err)
			}

			subject := firstSubject(cfg.Replication.Bus.Subjects)
			if err := logBus.Publish(ctx, subject, bus.Record{Value: payload}); err != nil {
				return fmt.Errorf("publishing requeue entry: %w", err)
			}

			fmt.Printf("%s/%s requeued at site %q\n", bucket, key, site)
			return nil
		},
	}
	cmd.Flags().StringVar(&site, "site", "", "destination site to requeue (required)")
	return cmd
}

func buildMirrorStore(ctx context.Context, cfg *config.Config) (mirror.Store, error) {
	switch cfg.Replication.Mirror.Engine {
	case "firestore":
		return mirror.NewFirestoreStore(ctx, mirror.FirestoreConfig{
			ProjectID:       cfg.Replication.Mirror.Firestore.ProjectID,
			Collection:      cfg.Replication.Mirror.Firestore.Collection,
			CredentialsFile: cfg.Replication.Mirror.Firestore.CredentialsFile,
		})
	default:
		return mirror.NewDynamoDBStore(ctx, mirror.DynamoDBConfig{
			Table:       cfg.Replication.Mirror.DynamoDB.Table,
			Region:      cfg.Replication.Mirror.DynamoDB.Region,
			EndpointURL: cfg.Replication.Mirror.DynamoDB.EndpointURL,
		})
	}
}

// firstSubject derives a concrete publish subject from the stream's
// (possibly wildcarded) capture subject, since a producer cannot publish
// directly to a NATS wildcard subject.
func firstSubject(subjects []string) string {
	if len(subjects) == 0 {
		return "replication.log.requeue"
	}
	s := subjects[0]
	if strings.HasSuffix(s, ".>") {
		return strings.TrimSuffix(s, ">") + "requeue"
	}
	return s
}
