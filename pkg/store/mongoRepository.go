package store

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.opentelemetry.io/otel"

	"github.com/clearbanc-pay/payment-event-dispatcher/pkg/transaction"
)

const (
	eventCollection = "eventstore"
	viewCollection  = "transactions-view"
)

// MongoEventStore implements EventStore on a MongoDB collection. This is the
// primary backend.
type MongoEventStore struct {
	client   *mongo.Client
	database string
}

func NewMongoEventStore(client *mongo.Client, database string) *MongoEventStore {
	return &MongoEventStore{client: client, database: database}
}

func (m *MongoEventStore) Append(ctx context.Context, event transaction.Event) error {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "EventStore.Append")
	defer span.End()

	startTime := time.Now()

	collection := m.client.Database(m.database).Collection(eventCollection)
	if _, err := collection.InsertOne(ctx, event); err != nil {
		span.RecordError(err)
		return err
	}

	addDBStatsToSpan(span, "mongodb", "InsertOne eventstore", 1, time.Since(startTime))
	return nil
}

func (m *MongoEventStore) FindByTransactionID(ctx context.Context, transactionID string) ([]transaction.Event, error) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "EventStore.FindByTransactionID")
	defer span.End()

	startTime := time.Now()

	collection := m.client.Database(m.database).Collection(eventCollection)
	filter := bson.M{"transactionId": transactionID}
	opts := options.Find().SetSort(bson.D{{Key: "creationDate", Value: 1}})
	cursor, err := collection.Find(ctx, filter, opts)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	defer cursor.Close(ctx)

	var events []transaction.Event
	for cursor.Next(ctx) {
		var event transaction.Event
		if err := cursor.Decode(&event); err != nil {
			span.RecordError(err)
			return nil, err
		}
		events = append(events, event)
	}

	if err := cursor.Err(); err != nil {
		span.RecordError(err)
		return nil, err
	}

	addDBStatsToSpan(span, "mongodb", "Find eventstore", len(events), time.Since(startTime))
	return events, nil
}

// MongoViewStore implements ViewStore on a MongoDB collection.
type MongoViewStore struct {
	client   *mongo.Client
	database string
}

func NewMongoViewStore(client *mongo.Client, database string) *MongoViewStore {
	return &MongoViewStore{client: client, database: database}
}

func (m *MongoViewStore) Upsert(ctx context.Context, view TransactionView) error {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "ViewStore.Upsert")
	defer span.End()

	startTime := time.Now()

	collection := m.client.Database(m.database).Collection(viewCollection)
	filter := bson.M{"transactionId": view.TransactionID}
	opts := options.Replace().SetUpsert(true)
	if _, err := collection.ReplaceOne(ctx, filter, view, opts); err != nil {
		span.RecordError(err)
		return err
	}

	addDBStatsToSpan(span, "mongodb", "ReplaceOne transactions-view", 1, time.Since(startTime))
	return nil
}

func (m *MongoViewStore) FindByTransactionID(ctx context.Context, transactionID string) (TransactionView, error) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "ViewStore.FindByTransactionID")
	defer span.End()

	collection := m.client.Database(m.database).Collection(viewCollection)
	var view TransactionView
	err := collection.FindOne(ctx, bson.M{"transactionId": transactionID}).Decode(&view)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return TransactionView{}, ErrViewNotFound
	}
	if err != nil {
		span.RecordError(err)
		return TransactionView{}, err
	}
	return view, nil
}
