package store

import (
	"context"
	"database/sql"
	"fmt"

	"cloud.google.com/go/spanner"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/clearbanc-pay/payment-event-dispatcher/pkg/config"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// Constructor hooks, swappable in tests.
var (
	NewMongoStoresFactory = func(client *mongo.Client, database string) (EventStore, ViewStore) {
		return NewMongoEventStore(client, database), NewMongoViewStore(client, database)
	}
	NewSpannerStoresFactory = func(client *spanner.Client) (EventStore, ViewStore) {
		return NewSpannerEventStore(client), NewSpannerViewStore(client)
	}
)

// NewRepositories builds the event store and view store for the configured
// database backend.
func NewRepositories(ctx context.Context, cfg config.DbSettings) (EventStore, ViewStore, error) {
	switch cfg.Type {
	case "mongo":
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
		if err != nil {
			return nil, nil, err
		}
		events, views := NewMongoStoresFactory(client, cfg.Database)
		return events, views, nil
	case "postgres":
		db, err := sql.Open("postgres", cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		return NewPostgresEventStore(db), NewPostgresViewStore(db), nil
	case "spanner":
		client, err := spanner.NewClient(ctx, cfg.URI)
		if err != nil {
			return nil, nil, err
		}
		events, views := NewSpannerStoresFactory(client)
		return events, views, nil
	default:
		return nil, nil, fmt.Errorf("unsupported DB type: %s", cfg.Type)
	}
}
