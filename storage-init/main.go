// Command storage-init provisions the tables, queue and SQL schema taskhub
// expects before the service starts.
package main

import (
	"context"
	"errors"
	"os"
	"strconv"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	log "github.com/sirupsen/logrus"

	"taskhub/storage"
)

const queueAlreadyExists = "QueueAlreadyExists"

func main() {
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}
	log.Info("storage init starting")
	ctx := context.Background()

	if connStr := os.Getenv("STORAGE_CONNECTION_STRING"); connStr != "" {
		tables := tableNames(os.Getenv)
		if err := createTables(ctx, connStr, tables); err != nil {
			log.Fatalf("create tables: %v", err)
		}
		log.WithField("tables", tables).Info("tables ready")

		if q := os.Getenv("EVENTS_QUEUE"); q != "" {
			if err := createQueues(ctx, connStr, []string{q}); err != nil {
				log.Fatalf("create queues: %v", err)
			}
			log.WithField("queue", q).Info("queue ready")
		}
	}

	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		db, err := storage.OpenPostgres(dsn)
		if err != nil {
			log.Fatalf("postgres: %v", err)
		}
		s, err := storage.NewSQLStore(db)
		if err != nil {
			log.Fatalf("postgres: %v", err)
		}
		if err := s.Migrate(ctx); err != nil {
			log.Fatalf("migrate: %v", err)
		}
		if err := s.Close(); err != nil {
			log.WithError(err).Warn("close database")
		}
		log.Info("schema migrated")
	}

	log.Info("storage init complete")
}

// tableNames returns the configured table names, falling back to the
// service defaults.
func tableNames(getenv func(string) string) []string {
	names := make([]string, 0, 3)
	for _, kv := range [][2]string{
		{"TASKS_TABLE", "Tasks"},
		{"PROJECTS_TABLE", "Projects"},
		{"USERS_TABLE", "Users"},
	} {
		if v := getenv(kv[0]); v != "" {
			names = append(names, v)
		} else {
			names = append(names, kv[1])
		}
	}
	return names
}

func createTables(ctx context.Context, connStr string, names []string) error {
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, nil)
	if err != nil {
		return err
	}
	for _, name := range names {
		c := svc.NewClient(name)
		if _, err := c.CreateTable(ctx, nil); err != nil && !alreadyExists(err, string(aztables.TableAlreadyExists)) {
			return err
		}
	}
	return nil
}

func createQueues(ctx context.Context, connStr string, names []string) error {
	for _, name := range names {
		q, err := azqueue.NewQueueClientFromConnectionString(connStr, name, nil)
		if err != nil {
			return err
		}
		if _, err := q.Create(ctx, nil); err != nil && !alreadyExists(err, queueAlreadyExists) {
			return err
		}
	}
	return nil
}

func alreadyExists(err error, code string) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.ErrorCode == code
}
