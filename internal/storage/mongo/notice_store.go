// Package mongo provides a MongoDB-backed notice store.
package mongo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/loksewa/noticemirror/internal/notice"
)

const (
	defaultDBName         = "loksewa"
	defaultCollectionName = "loksewa-notices"
)

// Config holds the connection URI and target collection.
type Config struct {
	URI        string
	Database   string
	Collection string
}

type noticeDoc struct {
	Key           primitive.ObjectID `bson:"_id,omitempty"`
	ID            int64              `bson:"id"`
	PDFLink       string             `bson:"noticePDFLink"`
	DatePublished string             `bson:"datePublished"`
	Title         string             `bson:"title"`
	// Extra holds unmodelled upstream fields as raw JSON text.
	Extra map[string]string `bson:"extra,omitempty"`
}

func toDoc(n notice.Notice) noticeDoc {
	doc := noticeDoc{ID: n.ID, PDFLink: n.PDFLink, DatePublished: n.DatePublished, Title: n.Title}
	if len(n.Extra) > 0 {
		doc.Extra = make(map[string]string, len(n.Extra))
		for k, v := range n.Extra {
			doc.Extra[k] = string(v)
		}
	}
	return doc
}

func (d noticeDoc) notice() notice.Notice {
	n := notice.Notice{ID: d.ID, PDFLink: d.PDFLink, DatePublished: d.DatePublished, Title: d.Title}
	if len(d.Extra) > 0 {
		n.Extra = make(map[string]json.RawMessage, len(d.Extra))
		for k, v := range d.Extra {
			n.Extra[k] = json.RawMessage(v)
		}
	}
	return n
}

// NoticeStore stores one document per notice. Document keys are ObjectID hex strings.
type NoticeStore struct {
	client  *mongodriver.Client
	db      *mongodriver.Database
	name    string
	notices *mongodriver.Collection
}

var _ notice.Store = (*NoticeStore)(nil)

// New connects, pings and ensures the id index.
func New(ctx context.Context, cfg Config) (*NoticeStore, error) {
	if cfg.URI == "" {
		return nil, fmt.Errorf("mongo: empty uri")
	}

	cli, err := mongodriver.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}

	if err := cli.Ping(ctx, readpref.Primary()); err != nil {
		_ = cli.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	dbName := cfg.Database
	if dbName == "" {
		dbName = databaseFromURI(cfg.URI)
	}
	collection := cfg.Collection
	if collection == "" {
		collection = defaultCollectionName
	}
	db := cli.Database(dbName)

	s := &NoticeStore{
		client:  cli,
		db:      db,
		name:    collection,
		notices: db.Collection(collection),
	}

	if err := ensureIndexes(ctx, s.notices); err != nil {
		_ = s.Close(ctx)
		return nil, err
	}

	return s, nil
}

// ensureIndexes creates the ascending id index used for ordered listing.
func ensureIndexes(ctx context.Context, coll *mongodriver.Collection) error {
	model := mongodriver.IndexModel{
		Keys:    bson.D{{Key: "id", Value: 1}},
		Options: options.Index().SetName("id_asc"),
	}
	if _, err := coll.Indexes().CreateOne(ctx, model); err != nil {
		return fmt.Errorf("mongo ensure indexes: %w", err)
	}
	return nil
}

// ListAll returns every notice ordered by id.
func (s *NoticeStore) ListAll(ctx context.Context) ([]notice.Notice, error) {
	opts := options.Find().SetSort(bson.D{{Key: "id", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := s.notices.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, unavailable("find notices", err)
	}
	defer cur.Close(ctx)

	out := []notice.Notice{}
	for cur.Next(ctx) {
		var doc noticeDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, unavailable("decode notice", err)
		}
		out = append(out, doc.notice())
	}
	if err := cur.Err(); err != nil {
		return nil, unavailable("iterate notices", err)
	}
	return out, nil
}

// ListKeys returns ObjectID hex keys in natural _id order.
func (s *NoticeStore) ListKeys(ctx context.Context) ([]string, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "_id", Value: 1}}).
		SetProjection(bson.D{{Key: "_id", Value: 1}})
	cur, err := s.notices.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, unavailable("find keys", err)
	}
	defer cur.Close(ctx)

	keys := []string{}
	for cur.Next(ctx) {
		var doc struct {
			Key primitive.ObjectID `bson:"_id"`
		}
		if err := cur.Decode(&doc); err != nil {
			return nil, unavailable("decode key", err)
		}
		keys = append(keys, doc.Key.Hex())
	}
	if err := cur.Err(); err != nil {
		return nil, unavailable("iterate keys", err)
	}
	return keys, nil
}

// Delete removes one document. Keys that are not ObjectIDs match nothing.
func (s *NoticeStore) Delete(ctx context.Context, key string) error {
	oid, err := primitive.ObjectIDFromHex(strings.TrimSpace(key))
	if err != nil {
		return nil
	}
	if _, err := s.notices.DeleteOne(ctx, bson.D{{Key: "_id", Value: oid}}); err != nil {
		return unavailable("delete notice", err)
	}
	return nil
}

// DeleteAll removes every document.
func (s *NoticeStore) DeleteAll(ctx context.Context) (int64, error) {
	res, err := s.notices.DeleteMany(ctx, bson.D{})
	if err != nil {
		return 0, unavailable("delete notices", err)
	}
	return res.DeletedCount, nil
}

// Insert adds one document.
func (s *NoticeStore) Insert(ctx context.Context, n notice.Notice) error {
	if _, err := s.notices.InsertOne(ctx, toDoc(n)); err != nil {
		return unavailable("insert notice", err)
	}
	return nil
}

// ReplaceAll fills a staging collection and renames it over the live one with
// dropTarget, so readers switch sets in one step.
func (s *NoticeStore) ReplaceAll(ctx context.Context, notices []notice.Notice) (int64, error) {
	removed, err := s.notices.CountDocuments(ctx, bson.D{})
	if err != nil {
		return 0, unavailable("count notices", err)
	}

	stagingName := stagingCollectionName(s.name)
	if err := s.db.CreateCollection(ctx, stagingName); err != nil {
		return 0, unavailable("create staging collection", err)
	}
	staging := s.db.Collection(stagingName)

	if err := s.fillStaging(ctx, staging, notices); err != nil {
		_ = staging.Drop(context.Background())
		return 0, err
	}

	cmd := bson.D{
		{Key: "renameCollection", Value: s.db.Name() + "." + stagingName},
		{Key: "to", Value: s.db.Name() + "." + s.name},
		{Key: "dropTarget", Value: true},
	}
	if err := s.client.Database("admin").RunCommand(ctx, cmd).Err(); err != nil {
		_ = staging.Drop(context.Background())
		return 0, unavailable("swap collections", err)
	}
	return removed, nil
}

func (s *NoticeStore) fillStaging(ctx context.Context, staging *mongodriver.Collection, notices []notice.Notice) error {
	if err := ensureIndexes(ctx, staging); err != nil {
		return unavailable("index staging collection", err)
	}
	if len(notices) == 0 {
		return nil
	}
	docs := make([]any, 0, len(notices))
	for _, n := range notices {
		docs = append(docs, toDoc(n))
	}
	if _, err := staging.InsertMany(ctx, docs, options.InsertMany().SetOrdered(true)); err != nil {
		return unavailable("fill staging collection", err)
	}
	return nil
}

// MaxID returns the largest id, or 0 for an empty collection.
func (s *NoticeStore) MaxID(ctx context.Context) (int64, error) {
	opts := options.FindOne().
		SetSort(bson.D{{Key: "id", Value: -1}}).
		SetProjection(bson.D{{Key: "id", Value: 1}})
	var doc noticeDoc
	err := s.notices.FindOne(ctx, bson.D{}, opts).Decode(&doc)
	if errors.Is(err, mongodriver.ErrNoDocuments) {
		return 0, nil
	}
	if err != nil {
		return 0, unavailable("max id", err)
	}
	return doc.ID, nil
}

// Ping checks the primary is reachable.
func (s *NoticeStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx, readpref.Primary()); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// Close disconnects the client.
func (s *NoticeStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func stagingCollectionName(base string) string {
	return base + "_staging_" + primitive.NewObjectID().Hex()
}

// databaseFromURI extracts the database name from the URI path, falling back
// to the default.
func databaseFromURI(uri string) string {
	u, err := url.Parse(uri)
	if err == nil {
		if name := strings.Trim(u.Path, "/"); name != "" {
			return name
		}
	}
	return defaultDBName
}

func unavailable(op string, err error) error {
	return fmt.Errorf("mongo %s: %w: %w", op, notice.ErrStoreUnavailable, err)
}
