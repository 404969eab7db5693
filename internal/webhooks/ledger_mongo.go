package webhooks

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoLedger stores records in the webhook_events collection keyed by
// provider event id.
type MongoLedger struct {
	col *mongo.Collection
}

func NewMongoLedger(db *mongo.Database) *MongoLedger {
	return &MongoLedger{col: db.Collection("webhook_events")}
}

// EnsureIndexes creates the secondary indexes used for audit queries.
func (l *MongoLedger) EnsureIndexes(ctx context.Context) error {
	_, err := l.col.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "receivedAt", Value: -1}}},
		{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "receivedAt", Value: -1}}},
	})
	return err
}

func (l *MongoLedger) Begin(ctx context.Context, eventID, eventType string, receivedAt time.Time) (*Record, error) {
	filter := bson.M{"_id": eventID}
	update := bson.M{"$setOnInsert": bson.M{"type": eventType, "receivedAt": receivedAt}}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	var r Record
	err := l.col.FindOneAndUpdate(ctx, filter, update, opts).Decode(&r)
	if mongo.IsDuplicateKeyError(err) {
		// lost a concurrent upsert race; the other insert is visible now
		return l.Get(ctx, eventID)
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (l *MongoLedger) Get(ctx context.Context, eventID string) (*Record, error) {
	var r Record
	err := l.col.FindOne(ctx, bson.M{"_id": eventID}).Decode(&r)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (l *MongoLedger) MarkProcessed(ctx context.Context, eventID, userID, outcome string, at time.Time) error {
	filter := bson.M{"_id": eventID, "processedAt": bson.M{"$exists": false}}
	update := bson.M{"$set": bson.M{"processedAt": at, "userId": userID, "outcome": outcome}}
	_, err := l.col.UpdateOne(ctx, filter, update)
	return err
}
