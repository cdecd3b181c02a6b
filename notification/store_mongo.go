package notification

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// CollectionNotifications is the collection the bell/inbox UI reads.
const CollectionNotifications = "notifications"

type mongoNotification struct {
	ID        string    `bson:"_id"`
	UserID    string    `bson:"user_id"`
	Type      string    `bson:"type"`
	Message   string    `bson:"message"`
	ActionURL string    `bson:"action_url"`
	Read      bool      `bson:"read"`
	CreatedAt time.Time `bson:"created_at"`
}

// MongoStore keeps notifications in a MongoDB collection.
type MongoStore struct {
	collection *mongo.Collection
}

// NewMongoStore stores notifications in the notifications collection of database.
func NewMongoStore(client *mongo.Client, database string) *MongoStore {
	return &MongoStore{collection: client.Database(database).Collection(CollectionNotifications)}
}

// ConnectMongo dials and pings the deployment at uri.
func ConnectMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("notification: mongo connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("notification: mongo ping: %w", err)
	}
	return client, nil
}

// EnsureIndexes creates the inbox lookup index.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "user_id", Value: 1},
			{Key: "read", Value: 1},
			{Key: "created_at", Value: -1},
		},
	})
	if err != nil {
		return fmt.Errorf("notification: create mongo index: %w", err)
	}
	return nil
}

// Insert stores n. A duplicate id is treated as already delivered.
func (s *MongoStore) Insert(ctx context.Context, n Notification) error {
	_, err := s.collection.InsertOne(ctx, mongoNotification{
		ID:        n.ID,
		UserID:    n.UserID,
		Type:      string(n.Type),
		Message:   n.Message,
		ActionURL: n.ActionURL,
		Read:      n.Read,
		CreatedAt: n.CreatedAt,
	})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil
		}
		return fmt.Errorf("notification: mongo insert: %w", err)
	}
	return nil
}

func (s *MongoStore) ListUnread(ctx context.Context, userID string, limit int) ([]Notification, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := s.collection.Find(ctx, bson.M{"user_id": userID, "read": false}, opts)
	if err != nil {
		return nil, fmt.Errorf("notification: mongo find: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []mongoNotification
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("notification: mongo decode: %w", err)
	}

	out := make([]Notification, 0, len(docs))
	for _, d := range docs {
		out = append(out, Notification{
			ID:        d.ID,
			UserID:    d.UserID,
			Type:      Type(d.Type),
			Message:   d.Message,
			ActionURL: d.ActionURL,
			Read:      d.Read,
			CreatedAt: d.CreatedAt,
		})
	}
	return out, nil
}

func (s *MongoStore) MarkRead(ctx context.Context, userID, id string) error {
	res, err := s.collection.UpdateOne(ctx,
		bson.M{"_id": id, "user_id": userID},
		bson.M{"$set": bson.M{"read": true}},
	)
	if err != nil {
		return fmt.Errorf("notification: mongo mark read: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}
