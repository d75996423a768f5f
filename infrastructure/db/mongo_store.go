package db

import (
	"context"
	"errors"
	"fmt"

	"post-mirror/domain/repository"
	"post-mirror/infrastructure/logger"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// MongoStore runs units of work as MongoDB multi-document transactions.
// The deployment must be a replica set.
type MongoStore struct {
	client   *mongo.Client
	database *mongo.Database
	signaler repository.ISignaler
}

func NewMongoStore(client *mongo.Client, databaseName string) *MongoStore {
	return &MongoStore{client: client, database: client.Database(databaseName)}
}

func (s *MongoStore) WithSignaler(signaler repository.ISignaler) *MongoStore {
	s.signaler = signaler
	return s
}

func (s *MongoStore) Run(ctx context.Context, fn func(ctx context.Context, manager repository.TransactionManager) error) error {
	session, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer session.EndSession(ctx)

	var tx *mongoTx
	_, err = session.WithTransaction(ctx, func(txCtx context.Context) (interface{}, error) {
		// WithTransaction may call us again after a transient conflict.
		tx = &mongoTx{database: s.database}
		return nil, fn(txCtx, tx)
	})
	if err != nil {
		return err
	}
	emitSignals(ctx, s.signaler, &tx.touched)
	return nil
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// EnsureIndexes creates the secondary indexes the repositories query on.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	indexes := map[string][]string{
		repository.CollectionPlatformPosts: {"postId", "posted.post_id"},
		repository.CollectionPosts:         {"authorUserId"},
		repository.CollectionTriples:       {"postId"},
		repository.CollectionProfiles:      {"userId"},
	}
	for collection, fields := range indexes {
		for _, field := range fields {
			_, err := s.database.Collection(collection).Indexes().CreateOne(ctx, mongo.IndexModel{Keys: bson.D{{Key: field, Value: 1}}})
			if err != nil {
				logger.GetLogger().WithFields(map[string]interface{}{"collection": collection, "field": field, "error": err}).Warn("failed creating index")
			}
		}
	}
	return nil
}

type mongoTx struct {
	database *mongo.Database
	touched  touchSet
}

func (t *mongoTx) Get(ctx context.Context, collection, id string) (bson.Raw, error) {
	raw, err := t.database.Collection(collection).FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Raw()
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("get %s/%s: %w", collection, id, err)
	}
	return raw, nil
}

func (t *mongoTx) Query(ctx context.Context, q repository.Query) ([]bson.Raw, error) {
	filter := bson.D{}
	for _, cond := range q.Where {
		switch cond.Op {
		case repository.OpEq, "":
			filter = append(filter, bson.E{Key: cond.Field, Value: cond.Value})
		case repository.OpIn:
			filter = append(filter, bson.E{Key: cond.Field, Value: bson.D{{Key: "$in", Value: cond.Value}}})
		case repository.OpGt:
			filter = append(filter, bson.E{Key: cond.Field, Value: bson.D{{Key: "$gt", Value: cond.Value}}})
		default:
			return nil, fmt.Errorf("unsupported operator %q", cond.Op)
		}
	}
	orderBy := q.OrderBy
	if orderBy == "" {
		orderBy = "_id"
	}
	opts := options.Find().SetSort(bson.D{{Key: orderBy, Value: 1}})
	if q.Limit > 0 {
		opts = opts.SetLimit(int64(q.Limit))
	}
	cursor, err := t.database.Collection(q.Collection).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", q.Collection, err)
	}
	defer func(cursor *mongo.Cursor, ctx context.Context) {
		if err := cursor.Close(ctx); err != nil {
			logger.GetLogger().WithField("error", err).Error("Error while closing cursor")
		}
	}(cursor, ctx)

	var out []bson.Raw
	for cursor.Next(ctx) {
		out = append(out, cloneRaw(cursor.Current))
	}
	return out, cursor.Err()
}

func (t *mongoTx) Create(ctx context.Context, collection, id string, doc interface{}) error {
	raw, err := encode(collection, id, doc)
	if err != nil {
		return err
	}
	if _, err := t.database.Collection(collection).InsertOne(ctx, raw); err != nil {
		return fmt.Errorf("create %s/%s: %w", collection, id, err)
	}
	t.touched.add(collection, id)
	return nil
}

func (t *mongoTx) Set(ctx context.Context, collection, id string, doc interface{}) error {
	raw, err := encode(collection, id, doc)
	if err != nil {
		return err
	}
	_, err = t.database.Collection(collection).ReplaceOne(ctx, bson.D{{Key: "_id", Value: id}}, raw, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("set %s/%s: %w", collection, id, err)
	}
	t.touched.add(collection, id)
	return nil
}

func (t *mongoTx) Delete(ctx context.Context, collection, id string) error {
	if _, err := t.database.Collection(collection).DeleteOne(ctx, bson.D{{Key: "_id", Value: id}}); err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, id, err)
	}
	t.touched.add(collection, id)
	return nil
}
