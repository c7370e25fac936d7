package docstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"stockcount-sync-api/internal/logging"
)

// MongoStore implements Store on MongoDB, one collection per Store collection.
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
	log    zerolog.Logger
}

// Indexes created at connect time, keyed by collection.
var mongoIndexes = map[string][]bson.D{
	"sync_conflicts": {
		{{Key: "status", Value: 1}, {Key: "created_at", Value: -1}},
		{{Key: "session_id", Value: 1}},
		{{Key: "entity_type", Value: 1}},
	},
	"verification_records": {{{Key: "session_id", Value: 1}}},
	"serial_numbers":       {{{Key: "client_record_id", Value: 1}}},
	"count_lines":          {{{Key: "session_id", Value: 1}}},
	"sync_runs":            {{{Key: "status", Value: 1}, {Key: "started_at", Value: -1}}},
}

// NewMongoStore connects to MongoDB and ensures the secondary indexes.
func NewMongoStore(uri, database string) (*MongoStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Nested documents decode as maps so that snapshot fields round-trip
	// through encoding/json unchanged.
	clientOpts := options.Client().
		ApplyURI(uri).
		SetMaxPoolSize(50).
		SetMinPoolSize(5).
		SetMaxConnIdleTime(5 * time.Minute).
		SetRetryWrites(true).
		SetBSONOptions(&options.BSONOptions{DefaultDocumentM: true})

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	s := &MongoStore{
		client: client,
		db:     client.Database(database),
		log:    logging.Component("docstore").With().Str("engine", "mongodb").Logger(),
	}

	for coll, keys := range mongoIndexes {
		for _, k := range keys {
			if _, err := s.db.Collection(coll).Indexes().CreateOne(ctx, mongo.IndexModel{Keys: k}); err != nil {
				s.log.Warn().Err(err).Str("collection", coll).Msg("failed to create index")
			}
		}
	}

	s.log.Info().Str("database", database).Msg("connected")
	return s, nil
}

func mongoFilter(filter Filter) (bson.M, error) {
	if len(filter) == 0 {
		return bson.M{}, nil
	}
	conds := make(bson.A, 0, len(filter))
	for _, c := range filter {
		var op string
		switch c.Op {
		case OpEq:
			op = "$eq"
		case OpLt:
			op = "$lt"
		case OpIn:
			op = "$in"
		default:
			return nil, fmt.Errorf("docstore: unsupported operator %q", c.Op)
		}
		conds = append(conds, bson.M{c.Field: bson.M{op: c.Value}})
	}
	if len(conds) == 1 {
		return conds[0].(bson.M), nil
	}
	return bson.M{"$and": conds}, nil
}

// toBSON marshals doc into a document with _id set.
func toBSON(id string, doc any) (bson.M, error) {
	raw, err := bson.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document %s: %w", id, err)
	}
	var m bson.M
	if err := bson.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	m["_id"] = id
	return m, nil
}

// FindOne decodes the first match into out.
func (s *MongoStore) FindOne(ctx context.Context, coll string, filter Filter, out any) error {
	f, err := mongoFilter(filter)
	if err != nil {
		return err
	}
	err = s.db.Collection(coll).FindOne(ctx, f).Decode(out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to find %s document: %w", coll, err)
	}
	return nil
}

// Find decodes every match into out.
func (s *MongoStore) Find(ctx context.Context, coll string, filter Filter, opts FindOptions, out any) error {
	f, err := mongoFilter(filter)
	if err != nil {
		return err
	}

	findOpts := options.Find()
	if opts.Sort != "" {
		dir := 1
		if opts.Descending {
			dir = -1
		}
		findOpts.SetSort(bson.D{{Key: opts.Sort, Value: dir}, {Key: "_id", Value: dir}})
	}
	if opts.Limit > 0 {
		findOpts.SetLimit(int64(opts.Limit))
	}

	cursor, err := s.db.Collection(coll).Find(ctx, f, findOpts)
	if err != nil {
		return fmt.Errorf("failed to query %s: %w", coll, err)
	}
	if err := cursor.All(ctx, out); err != nil {
		return fmt.Errorf("failed to decode %s: %w", coll, err)
	}
	return nil
}

// Count returns the number of matches.
func (s *MongoStore) Count(ctx context.Context, coll string, filter Filter) (int64, error) {
	f, err := mongoFilter(filter)
	if err != nil {
		return 0, err
	}
	n, err := s.db.Collection(coll).CountDocuments(ctx, f)
	if err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", coll, err)
	}
	return n, nil
}

// CountBy groups matches by field with an aggregation pipeline.
func (s *MongoStore) CountBy(ctx context.Context, coll string, filter Filter, field string) (map[string]int64, error) {
	f, err := mongoFilter(filter)
	if err != nil {
		return nil, err
	}

	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: f}},
		{{Key: "$group", Value: bson.M{"_id": "$" + field, "count": bson.M{"$sum": 1}}}},
	}
	cursor, err := s.db.Collection(coll).Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to group %s by %s: %w", coll, field, err)
	}

	var groups []struct {
		Key   any   `bson:"_id"`
		Count int64 `bson:"count"`
	}
	if err := cursor.All(ctx, &groups); err != nil {
		return nil, err
	}

	counts := make(map[string]int64, len(groups))
	for _, g := range groups {
		key := ""
		if g.Key != nil {
			key = fmt.Sprint(g.Key)
		}
		counts[key] += g.Count
	}
	return counts, nil
}

// Insert stores a new document.
func (s *MongoStore) Insert(ctx context.Context, coll, id string, doc any) error {
	m, err := toBSON(id, doc)
	if err != nil {
		return err
	}
	if _, err := s.db.Collection(coll).InsertOne(ctx, m); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to insert %s/%s: %w", coll, id, err)
	}
	return nil
}

// Upsert replaces the document, writing keepOnUpdate fields only on insert.
func (s *MongoStore) Upsert(ctx context.Context, coll, id string, doc any, keepOnUpdate ...string) (bool, error) {
	m, err := toBSON(id, doc)
	if err != nil {
		return false, err
	}
	delete(m, "_id")

	onInsert := bson.M{}
	for _, k := range keepOnUpdate {
		if v, ok := m[k]; ok {
			onInsert[k] = v
			delete(m, k)
		}
	}

	update := bson.M{"$set": m}
	if len(onInsert) > 0 {
		update["$setOnInsert"] = onInsert
	}

	res, err := s.db.Collection(coll).UpdateOne(ctx, bson.M{"_id": id}, update, options.Update().SetUpsert(true))
	if err != nil {
		return false, fmt.Errorf("failed to upsert %s/%s: %w", coll, id, err)
	}
	return res.UpsertedCount == 1, nil
}

// UpsertMany replaces or inserts every document with one unordered bulk write.
func (s *MongoStore) UpsertMany(ctx context.Context, coll string, docs []Doc) error {
	if len(docs) == 0 {
		return nil
	}

	models := make([]mongo.WriteModel, 0, len(docs))
	for _, d := range docs {
		m, err := toBSON(d.ID, d.Value)
		if err != nil {
			return err
		}
		models = append(models, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"_id": d.ID}).
			SetReplacement(m).
			SetUpsert(true))
	}

	if _, err := s.db.Collection(coll).BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false)); err != nil {
		return fmt.Errorf("failed to batch upsert %s: %w", coll, err)
	}
	s.log.Debug().Str("collection", coll).Int("count", len(docs)).Msg("batch upserted")
	return nil
}

// Update sets fields on every match.
func (s *MongoStore) Update(ctx context.Context, coll string, filter Filter, set map[string]any) (int64, error) {
	f, err := mongoFilter(filter)
	if err != nil {
		return 0, err
	}
	res, err := s.db.Collection(coll).UpdateMany(ctx, f, bson.M{"$set": set})
	if err != nil {
		return 0, fmt.Errorf("failed to update %s: %w", coll, err)
	}
	return res.MatchedCount, nil
}

// Delete removes matches.
func (s *MongoStore) Delete(ctx context.Context, coll string, filter Filter) (int64, error) {
	f, err := mongoFilter(filter)
	if err != nil {
		return 0, err
	}
	res, err := s.db.Collection(coll).DeleteMany(ctx, f)
	if err != nil {
		return 0, fmt.Errorf("failed to delete from %s: %w", coll, err)
	}
	return res.DeletedCount, nil
}

// Stats returns document counts per collection and the database size.
func (s *MongoStore) Stats(ctx context.Context) (map[string]any, error) {
	stats := map[string]any{"engine": "mongodb", "status": "connected"}

	names, err := s.db.ListCollectionNames(ctx, bson.M{})
	if err != nil {
		return stats, err
	}
	collections := make(map[string]int64, len(names))
	for _, name := range names {
		n, err := s.db.Collection(name).EstimatedDocumentCount(ctx)
		if err != nil {
			return stats, err
		}
		collections[name] = n
	}
	stats["collections"] = collections

	var dbStats bson.M
	if err := s.db.RunCommand(ctx, bson.D{{Key: "dbStats", Value: 1}}).Decode(&dbStats); err == nil {
		switch size := dbStats["dataSize"].(type) {
		case int64:
			stats["db_size_bytes"] = size
		case int32:
			stats["db_size_bytes"] = int64(size)
		case float64:
			stats["db_size_bytes"] = int64(size)
		}
	}

	return stats, nil
}

// Ping checks the connection.
func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close closes the MongoDB connection.
func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

var _ Store = (*MongoStore)(nil)
