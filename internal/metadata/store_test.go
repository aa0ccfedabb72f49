package metadata_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/plinthdb/plinth/internal/errs"
	"github.com/plinthdb/plinth/internal/metadata"
	"github.com/plinthdb/plinth/internal/queue"
)

// testStore connects to the MongoDB instance named by
// PLINTH_TEST_MONGO_URI on a throwaway database, skipping the test
// when no instance is reachable.
func testStore(t *testing.T) (*metadata.Store, string) {
	t.Helper()

	uri := os.Getenv("PLINTH_TEST_MONGO_URI")
	if uri == "" {
		uri = "mongodb://localhost:27017"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		t.Skipf("skipping: cannot connect to MongoDB: %v", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(context.Background())
		t.Skipf("skipping: cannot ping MongoDB: %v", err)
	}

	dbName := fmt.Sprintf("plinth_meta_test_%s", queue.NewID())
	t.Cleanup(func() {
		client.Database(dbName).Drop(context.Background())
		client.Disconnect(context.Background())
	})
	return metadata.NewStoreWithClient(client, dbName), dbName
}

func seedCollection(t *testing.T, store *metadata.Store, id string) {
	t.Helper()
	err := store.InsertCollection(context.Background(), &metadata.Collection{
		ID:        id,
		ProjectID: "p1",
		Name:      "books",
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("InsertCollection: %v", err)
	}
}

func TestAttributeLifecycle(t *testing.T) {
	store, _ := testStore(t)
	ctx := context.Background()
	seedCollection(t, store, "col1")

	attr := &metadata.Attribute{
		ID:           "attr1",
		ProjectID:    "p1",
		CollectionID: "col1",
		Key:          "title",
		Type:         metadata.TypeString,
		Status:       metadata.StatusPending,
	}
	if err := store.InsertAttribute(ctx, attr); err != nil {
		t.Fatalf("InsertAttribute: %v", err)
	}

	if err := store.SetAttributeStatus(ctx, "attr1", metadata.StatusAvailable, ""); err != nil {
		t.Fatalf("SetAttributeStatus: %v", err)
	}
	got, err := store.GetAttribute(ctx, "attr1")
	if err != nil {
		t.Fatalf("GetAttribute: %v", err)
	}
	if got.Status != metadata.StatusAvailable {
		t.Errorf("expected available, got %s", got.Status)
	}

	byKey, err := store.GetAttributeByKey(ctx, "col1", "title")
	if err != nil {
		t.Fatalf("GetAttributeByKey: %v", err)
	}
	if byKey.ID != "attr1" {
		t.Errorf("lookup by key returned %s", byKey.ID)
	}

	if err := store.RemoveAttribute(ctx, "attr1"); err != nil {
		t.Fatalf("RemoveAttribute: %v", err)
	}
	if _, err := store.GetAttribute(ctx, "attr1"); !errs.IsKind(err, errs.KindNotFound) {
		t.Errorf("expected not_found after removal, got %v", err)
	}
}

func TestSetAttributeStatusRejectsUnknownTransition(t *testing.T) {
	store, _ := testStore(t)
	ctx := context.Background()
	seedCollection(t, store, "col1")

	attr := &metadata.Attribute{
		ID:           "attr1",
		ProjectID:    "p1",
		CollectionID: "col1",
		Key:          "title",
		Type:         metadata.TypeString,
		Status:       metadata.StatusFailed,
	}
	if err := store.InsertAttribute(ctx, attr); err != nil {
		t.Fatalf("InsertAttribute: %v", err)
	}

	err := store.SetAttributeStatus(ctx, "attr1", metadata.StatusAvailable, "")
	if err == nil {
		t.Fatal("expected failed→available to be rejected")
	}
}

func TestFindRelationshipsTo(t *testing.T) {
	store, _ := testStore(t)
	ctx := context.Background()
	seedCollection(t, store, "authors")
	seedCollection(t, store, "books")

	rel := &metadata.Attribute{
		ID:           "rel1",
		ProjectID:    "p1",
		CollectionID: "books",
		Key:          "author",
		Type:         metadata.TypeRelationship,
		Status:       metadata.StatusAvailable,
		Options: metadata.RelationOptions{
			RelatedCollection: "authors",
			RelationType:      metadata.RelationManyToOne,
			Side:              metadata.SideParent,
		},
	}
	plain := &metadata.Attribute{
		ID:           "attr2",
		ProjectID:    "p1",
		CollectionID: "books",
		Key:          "title",
		Type:         metadata.TypeString,
		Status:       metadata.StatusAvailable,
	}
	for _, a := range []*metadata.Attribute{rel, plain} {
		if err := store.InsertAttribute(ctx, a); err != nil {
			t.Fatalf("InsertAttribute %s: %v", a.ID, err)
		}
	}

	found, err := store.FindRelationshipsTo(ctx, "authors")
	if err != nil {
		t.Fatalf("FindRelationshipsTo: %v", err)
	}
	if len(found) != 1 || found[0].ID != "rel1" {
		t.Fatalf("expected only the pointing relationship, got %+v", found)
	}
}

func TestRefreshCollectionSnapshot(t *testing.T) {
	store, _ := testStore(t)
	ctx := context.Background()
	seedCollection(t, store, "col1")

	attr := &metadata.Attribute{
		ID:           "attr1",
		ProjectID:    "p1",
		CollectionID: "col1",
		Key:          "title",
		Type:         metadata.TypeString,
		Status:       metadata.StatusAvailable,
	}
	if err := store.InsertAttribute(ctx, attr); err != nil {
		t.Fatalf("InsertAttribute: %v", err)
	}
	idx := &metadata.Index{
		ID:           "idx1",
		ProjectID:    "p1",
		CollectionID: "col1",
		Key:          "by_title",
		Type:         metadata.IndexKey,
		Attributes:   []string{"title"},
		Orders:       []string{"ASC"},
		Status:       metadata.StatusAvailable,
	}
	if err := store.InsertIndex(ctx, idx); err != nil {
		t.Fatalf("InsertIndex: %v", err)
	}

	if err := store.RefreshCollectionSnapshot(ctx, "col1"); err != nil {
		t.Fatalf("RefreshCollectionSnapshot: %v", err)
	}
	col, err := store.GetCollection(ctx, "col1")
	if err != nil {
		t.Fatalf("GetCollection: %v", err)
	}
	if len(col.Attributes) != 1 || col.Attributes[0].ID != "attr1" {
		t.Errorf("snapshot attributes not refreshed: %+v", col.Attributes)
	}
	if len(col.Indexes) != 1 || col.Indexes[0].ID != "idx1" {
		t.Errorf("snapshot indexes not refreshed: %+v", col.Indexes)
	}
}

func TestAttributeGroupPagesAndDeletes(t *testing.T) {
	store, _ := testStore(t)
	ctx := context.Background()
	seedCollection(t, store, "col1")

	for i := 0; i < 7; i++ {
		attr := &metadata.Attribute{
			ID:           fmt.Sprintf("attr%02d", i),
			ProjectID:    "p1",
			CollectionID: "col1",
			Key:          fmt.Sprintf("k%02d", i),
			Type:         metadata.TypeString,
			Status:       metadata.StatusAvailable,
		}
		if err := store.InsertAttribute(ctx, attr); err != nil {
			t.Fatalf("InsertAttribute: %v", err)
		}
	}

	fetch, del := store.AttributeGroup("col1")
	page, err := fetch(ctx, 3, "")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(page) != 3 {
		t.Fatalf("expected a page of 3, got %d", len(page))
	}
	next, err := fetch(ctx, 3, page[len(page)-1].DocID())
	if err != nil {
		t.Fatalf("fetch after cursor: %v", err)
	}
	if len(next) != 3 || next[0].ID == page[0].ID {
		t.Fatalf("cursor did not advance: %+v", next)
	}

	if err := del(ctx, page[0]); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.GetAttribute(ctx, page[0].ID); !errs.IsKind(err, errs.KindNotFound) {
		t.Errorf("expected not_found after delete, got %v", err)
	}
}

func TestIncrementUsage(t *testing.T) {
	store, dbName := testStore(t)
	ctx := context.Background()

	for _, d := range []int64{2, 3, -1} {
		if err := store.IncrementUsage(ctx, "p1", "collections", d); err != nil {
			t.Fatalf("IncrementUsage: %v", err)
		}
	}
	// Upsert semantics: the counter exists and accumulated to 4. Read it
	// back through the raw client since no engine-facing reader exists.
	var doc struct {
		Value int64 `bson:"value"`
	}
	err := store.Client().Database(dbName).Collection("usage").
		FindOne(ctx, bson.M{"projectId": "p1", "key": "collections"}).Decode(&doc)
	if err != nil {
		t.Fatalf("reading usage counter: %v", err)
	}
	if doc.Value != 4 {
		t.Errorf("expected accumulated 4, got %d", doc.Value)
	}
}
