// Package mongostore is the MongoDB storage adapter. One collection per
// class, documents keyed by the object id (stored as _id).
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"graphbase.dev/internal/database"
	"graphbase.dev/internal/ids"
)

// Store implements database.Adapter over a mongo database.
type Store struct {
	client *mongo.Client
	dbName string
}

// New connects the client. The connection is verified on Connect, not
// here, so construction never blocks on the network.
func New(ctx context.Context, uri, dbName string) (*Store, error) {
	if uri == "" || dbName == "" {
		return nil, errors.New("mongostore: uri and database name are required")
	}
	opts := options.Client().ApplyURI(uri).
		SetConnectTimeout(10 * time.Second).
		SetServerSelectionTimeout(10 * time.Second)
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("mongostore: connect: %w", err)
	}
	return &Store{client: client, dbName: dbName}, nil
}

var _ database.Adapter = (*Store)(nil)

func (s *Store) Connect(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *Store) CreateClassIfNotExist(ctx context.Context, className string) error {
	// Mongo creates collections lazily; an explicit create just surfaces
	// configuration problems at startup. NamespaceExists is fine.
	err := s.client.Database(s.dbName).CreateCollection(ctx, collectionName(className))
	if err != nil && !isNamespaceExists(err) {
		return fmt.Errorf("mongostore: create collection %s: %w", className, err)
	}
	return nil
}

func (s *Store) collection(className string) *mongo.Collection {
	return s.client.Database(s.dbName).Collection(collectionName(className))
}

func collectionName(className string) string {
	return strings.ToLower(className)
}

func (s *Store) GetObject(ctx context.Context, p database.GetObjectParams) (map[string]any, error) {
	opts := options.FindOne()
	if projection := buildProjection(p.Fields); projection != nil {
		opts.SetProjection(projection)
	}
	var doc bson.M
	err := s.collection(p.ClassName).FindOne(ctx, bson.M{"_id": p.ID}, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, database.ErrObjectNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("mongostore: get %s: %w", p.ClassName, err)
	}
	return fromDocument(doc), nil
}

func (s *Store) GetObjects(ctx context.Context, p database.GetObjectsParams) ([]map[string]any, error) {
	filter, err := BuildFilter(p.Where)
	if err != nil {
		return nil, err
	}
	opts := options.Find()
	if projection := buildProjection(p.Fields); projection != nil {
		opts.SetProjection(projection)
	}
	if p.Offset > 0 {
		opts.SetSkip(int64(p.Offset))
	}
	if p.Limit > 0 {
		opts.SetLimit(int64(p.Limit))
	}

	cursor, err := s.collection(p.ClassName).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("mongostore: find %s: %w", p.ClassName, err)
	}
	defer cursor.Close(ctx)

	out := []map[string]any{}
	for cursor.Next(ctx) {
		var doc bson.M
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("mongostore: decode %s: %w", p.ClassName, err)
		}
		out = append(out, fromDocument(doc))
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("mongostore: cursor %s: %w", p.ClassName, err)
	}
	return out, nil
}

func (s *Store) CreateObject(ctx context.Context, p database.CreateObjectParams) (map[string]any, error) {
	doc := toDocument(p.Data)
	if _, err := s.collection(p.ClassName).InsertOne(ctx, doc); err != nil {
		return nil, fmt.Errorf("mongostore: insert %s: %w", p.ClassName, err)
	}
	return s.GetObject(ctx, database.GetObjectParams{
		ClassName: p.ClassName,
		ID:        doc["_id"].(string),
		Fields:    p.Fields,
	})
}

func (s *Store) CreateObjects(ctx context.Context, p database.CreateObjectsParams) ([]map[string]any, error) {
	if len(p.Data) == 0 {
		return []map[string]any{}, nil
	}
	docs := make([]any, 0, len(p.Data))
	insertedIDs := make([]string, 0, len(p.Data))
	for _, data := range p.Data {
		doc := toDocument(data)
		docs = append(docs, doc)
		insertedIDs = append(insertedIDs, doc["_id"].(string))
	}
	if _, err := s.collection(p.ClassName).InsertMany(ctx, docs); err != nil {
		return nil, fmt.Errorf("mongostore: insert %s: %w", p.ClassName, err)
	}
	insertedIDs = windowIDs(insertedIDs, p.Offset, p.Limit)
	return s.byIDs(ctx, p.ClassName, insertedIDs, p.Fields)
}

func (s *Store) UpdateObject(ctx context.Context, p database.UpdateObjectParams) (map[string]any, error) {
	result, err := s.collection(p.ClassName).UpdateOne(ctx,
		bson.M{"_id": p.ID},
		bson.M{"$set": bson.M(p.Data)},
	)
	if err != nil {
		return nil, fmt.Errorf("mongostore: update %s: %w", p.ClassName, err)
	}
	if result.MatchedCount == 0 {
		return nil, database.ErrObjectNotFound
	}
	return s.GetObject(ctx, database.GetObjectParams{
		ClassName: p.ClassName,
		ID:        p.ID,
		Fields:    p.Fields,
	})
}

func (s *Store) UpdateObjects(ctx context.Context, p database.UpdateObjectsParams) ([]map[string]any, error) {
	matched, err := s.GetObjects(ctx, database.GetObjectsParams{
		ClassName: p.ClassName,
		Where:     p.Where,
		Fields:    []string{"id"},
		Offset:    p.Offset,
		Limit:     p.Limit,
	})
	if err != nil {
		return nil, err
	}
	matchedIDs := make([]string, 0, len(matched))
	for _, object := range matched {
		if id, ok := object["id"].(string); ok {
			matchedIDs = append(matchedIDs, id)
		}
	}
	if len(matchedIDs) == 0 {
		return []map[string]any{}, nil
	}
	if _, err := s.collection(p.ClassName).UpdateMany(ctx,
		bson.M{"_id": bson.M{"$in": matchedIDs}},
		bson.M{"$set": bson.M(p.Data)},
	); err != nil {
		return nil, fmt.Errorf("mongostore: update %s: %w", p.ClassName, err)
	}
	return s.byIDs(ctx, p.ClassName, matchedIDs, p.Fields)
}

func (s *Store) DeleteObject(ctx context.Context, p database.DeleteObjectParams) error {
	result, err := s.collection(p.ClassName).DeleteOne(ctx, bson.M{"_id": p.ID})
	if err != nil {
		return fmt.Errorf("mongostore: delete %s: %w", p.ClassName, err)
	}
	if result.DeletedCount == 0 {
		return database.ErrObjectNotFound
	}
	return nil
}

func (s *Store) DeleteObjects(ctx context.Context, p database.DeleteObjectsParams) error {
	filter, err := BuildFilter(p.Where)
	if err != nil {
		return err
	}
	if _, err := s.collection(p.ClassName).DeleteMany(ctx, filter); err != nil {
		return fmt.Errorf("mongostore: delete %s: %w", p.ClassName, err)
	}
	return nil
}

func (s *Store) byIDs(ctx context.Context, className string, objectIDs []string, fields []string) ([]map[string]any, error) {
	if len(objectIDs) == 0 {
		return []map[string]any{}, nil
	}
	return s.GetObjects(ctx, database.GetObjectsParams{
		ClassName: className,
		Where:     database.Where{"id": map[string]any{database.OpIn: toAnySlice(objectIDs)}},
		Fields:    fields,
	})
}

// toDocument maps the external id field onto _id, minting one when the
// caller did not supply it.
func toDocument(data map[string]any) bson.M {
	doc := bson.M{}
	for k, v := range data {
		if k == "id" {
			continue
		}
		doc[k] = v
	}
	id, _ := data["id"].(string)
	if id == "" {
		id = ids.New()
	}
	doc["_id"] = id
	return doc
}

func fromDocument(doc bson.M) map[string]any {
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		if k == "_id" {
			out["id"] = v
			continue
		}
		out[k] = normalizeBSON(v)
	}
	return out
}

// normalizeBSON rewrites bson composite types into the plain map/slice
// shapes the rest of the system works with.
func normalizeBSON(v any) any {
	switch t := v.(type) {
	case bson.M:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = normalizeBSON(item)
		}
		return out
	case bson.D:
		out := make(map[string]any, len(t))
		for _, e := range t {
			out[e.Key] = normalizeBSON(e.Value)
		}
		return out
	case bson.A:
		out := make([]any, 0, len(t))
		for _, item := range t {
			out = append(out, normalizeBSON(item))
		}
		return out
	default:
		return v
	}
}

func buildProjection(fields []string) bson.M {
	if len(fields) == 0 {
		return nil
	}
	projection := bson.M{"_id": 1}
	for _, field := range fields {
		if field == "id" {
			continue
		}
		projection[field] = 1
	}
	return projection
}

func windowIDs(objectIDs []string, offset, limit int) []string {
	if offset > 0 {
		if offset >= len(objectIDs) {
			return nil
		}
		objectIDs = objectIDs[offset:]
	}
	if limit > 0 && limit < len(objectIDs) {
		objectIDs = objectIDs[:limit]
	}
	return objectIDs
}

func toAnySlice(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}

func isNamespaceExists(err error) bool {
	var cmdErr mongo.CommandError
	return errors.As(err, &cmdErr) && cmdErr.Code == 48
}
