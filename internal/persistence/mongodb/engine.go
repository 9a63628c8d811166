package mongodb

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/goevery/relay/internal/persistence"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

const DefaultDatabase = "aneerequests"

const (
	errorCodeIndexOptionsConflict  = 85
	errorCodeIndexKeySpecsConflict = 86
)

var ttlIndexKeys = bson.D{{Key: "createTime", Value: 1}}

type Event struct {
	Id         bson.ObjectID `bson:"_id,omitempty"`
	CreateTime time.Time     `bson:"createTime"`
	Channel    string        `bson:"channel"`
	Kind       string        `bson:"kind"`
	Source     string        `bson:"source"`
	Recipients int           `bson:"recipients"`
	Payload    string        `bson:"payload"`
}

type PersistenceEngine struct {
	client     *mongo.Client
	collection *mongo.Collection
	ttl        time.Duration
}

// Connect opens a client for uri. No connection is made until the first
// operation; use PersistenceEngine.Ping to check the deployment answers.
func Connect(uri string) (*mongo.Client, error) {
	return mongo.Connect(options.Client().ApplyURI(uri))
}

// DatabaseFromURI returns the database named in the uri path, if any.
func DatabaseFromURI(uri string) string {
	parsed, err := url.Parse(uri)
	if err != nil {
		return DefaultDatabase
	}

	database := strings.Trim(parsed.Path, "/")
	if database == "" {
		return DefaultDatabase
	}

	return database
}

func NewPersistenceEngine(client *mongo.Client, database string, ttl time.Duration) *PersistenceEngine {
	collection := client.Database(database).Collection("events")

	return &PersistenceEngine{
		client,
		collection,
		ttl,
	}
}

// Setup creates the journal indexes. An existing TTL index with another
// expiry is updated in place.
func (e *PersistenceEngine) Setup(ctx context.Context) error {
	expireAfter := int32(e.ttl.Seconds())
	if expireAfter <= 0 {
		return fmt.Errorf("invalid journal ttl %s", e.ttl)
	}

	_, err := e.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    ttlIndexKeys,
		Options: options.Index().SetExpireAfterSeconds(expireAfter),
	})
	if isIndexConflict(err) {
		err = e.collection.Database().
			RunCommand(ctx, ttlIndexUpdate(e.collection.Name(), expireAfter)).
			Err()
	}
	if err != nil {
		return fmt.Errorf("failed to create ttl index: %w", err)
	}

	_, err = e.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "channel", Value: 1},
			{Key: "_id", Value: -1},
		},
	})

	return err
}

func isIndexConflict(err error) bool {
	var serverErr mongo.ServerError
	if !errors.As(err, &serverErr) {
		return false
	}

	return serverErr.HasErrorCode(errorCodeIndexOptionsConflict) ||
		serverErr.HasErrorCode(errorCodeIndexKeySpecsConflict)
}

func ttlIndexUpdate(collection string, expireAfter int32) bson.D {
	return bson.D{
		{Key: "collMod", Value: collection},
		{Key: "index", Value: bson.D{
			{Key: "keyPattern", Value: ttlIndexKeys},
			{Key: "expireAfterSeconds", Value: expireAfter},
		}},
	}
}

func (e *PersistenceEngine) Ping(ctx context.Context) error {
	return e.client.Ping(ctx, readpref.Primary())
}

func (e *PersistenceEngine) Save(ctx context.Context, request persistence.SaveRequest) error {
	document, err := newEvent(request, time.Now())
	if err != nil {
		return err
	}

	_, err = e.collection.InsertOne(ctx, document)

	return err
}

func newEvent(request persistence.SaveRequest, createTime time.Time) (Event, error) {
	if request.Channel == "" {
		return Event{}, errors.New("channel is required")
	}

	payloadJson, err := request.Event.Params()
	if err != nil {
		return Event{}, err
	}

	return Event{
		CreateTime: createTime,
		Channel:    request.Channel,
		Kind:       string(request.Event.Kind),
		Source:     string(request.Source),
		Recipients: request.Recipients,
		Payload:    string(payloadJson),
	}, nil
}
