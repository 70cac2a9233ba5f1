package xdlock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// mockCollection 记录调用参数并返回预设结果，实现 lockCollection。
type mockCollection struct {
	insertDoc  any
	insertErr  error
	deleteArg  any
	deleteErr  error
	updateArgs struct {
		filter, update any
		upsert         bool
	}
	updateErr error
	findArg   any
	findRec   *Record
	findErr   error
	pingErr   error
}

func (m *mockCollection) InsertOne(_ context.Context, doc any) error {
	m.insertDoc = doc
	return m.insertErr
}

func (m *mockCollection) DeleteOne(_ context.Context, filter any) error {
	m.deleteArg = filter
	return m.deleteErr
}

func (m *mockCollection) UpdateOne(_ context.Context, filter, update any, upsert bool) error {
	m.updateArgs.filter = filter
	m.updateArgs.update = update
	m.updateArgs.upsert = upsert
	return m.updateErr
}

func (m *mockCollection) FindOne(_ context.Context, filter, out any) error {
	m.findArg = filter
	if m.findErr != nil {
		return m.findErr
	}
	if m.findRec == nil {
		return mongo.ErrNoDocuments
	}
	*out.(*Record) = *m.findRec
	return nil
}

func (m *mockCollection) Ping(_ context.Context) error {
	return m.pingErr
}

func newMockMongoStore() (*MongoStore, *mockCollection) {
	coll := &mockCollection{}
	return &MongoStore{coll: coll}, coll
}

func TestNewMongoStore_NilCollection(t *testing.T) {
	s, err := NewMongoStore(nil)
	assert.Nil(t, s)
	assert.ErrorIs(t, err, ErrNilStore)
}

func TestMongoStore_Insert(t *testing.T) {
	s, coll := newMockMongoStore()
	rec := Record{Name: "job1", Owner: "w1", Expires: time.UnixMilli(1000)}

	require.NoError(t, s.Insert(context.Background(), rec))
	assert.Equal(t, rec, coll.insertDoc)
}

func TestMongoStore_InsertDuplicateIsVerbatim(t *testing.T) {
	s, coll := newMockMongoStore()
	dup := mongo.WriteException{
		WriteErrors: []mongo.WriteError{{Code: 11000, Message: "E11000 duplicate key error"}},
	}
	coll.insertErr = dup

	err := s.Insert(context.Background(), Record{Name: "job1", Owner: "w1"})
	assert.Equal(t, dup, err)
	assert.True(t, IsDuplicateKey(err))
}

func TestMongoStore_RecordEncoding(t *testing.T) {
	rec := Record{Name: "job1", Owner: "w1", Expires: time.UnixMilli(1_700_000_000_000).UTC()}
	raw, err := bson.Marshal(rec)
	require.NoError(t, err)

	var doc bson.M
	require.NoError(t, bson.Unmarshal(raw, &doc))
	assert.Equal(t, "job1", doc["_id"])
	assert.Equal(t, "w1", doc["owner"])
	assert.Equal(t, bson.DateTime(1_700_000_000_000), doc["expires"])
}

func TestMongoStore_RemoveFilters(t *testing.T) {
	now := time.UnixMilli(5000)
	tests := []struct {
		name   string
		filter Filter
		want   bson.M
	}{
		{
			name:   "owner",
			filter: Filter{Name: "job1", Owner: "w1"},
			want:   bson.M{"_id": "job1", "owner": "w1"},
		},
		{
			name:   "expired",
			filter: Filter{Name: "job1", ExpiresBefore: now},
			want:   bson.M{"_id": "job1", "expires": bson.M{"$lt": now}},
		},
		{
			name:   "name only",
			filter: Filter{Name: "job1"},
			want:   bson.M{"_id": "job1"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, coll := newMockMongoStore()
			require.NoError(t, s.Remove(context.Background(), tt.filter))
			assert.Equal(t, tt.want, coll.deleteArg)
		})
	}
}

func TestMongoStore_Update(t *testing.T) {
	s, coll := newMockMongoStore()
	expires := time.UnixMilli(9000)

	require.NoError(t, s.Update(context.Background(), Filter{Name: "job1", Owner: "w1"}, expires, true))
	assert.Equal(t, bson.M{"_id": "job1", "owner": "w1"}, coll.updateArgs.filter)
	assert.Equal(t, bson.M{"$set": bson.M{"expires": expires}}, coll.updateArgs.update)
	assert.True(t, coll.updateArgs.upsert)
}

func TestMongoStore_FindOne(t *testing.T) {
	s, coll := newMockMongoStore()
	ctx := context.Background()

	rec, err := s.FindOne(ctx, "job1")
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.Equal(t, bson.M{"_id": "job1"}, coll.findArg)

	coll.findRec = &Record{Name: "job1", Owner: "w1"}
	rec, err = s.FindOne(ctx, "job1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "w1", rec.Owner)

	boom := errors.New("boom")
	coll.findErr = boom
	_, err = s.FindOne(ctx, "job1")
	assert.Same(t, boom, err)
}

func TestMongoStore_Health(t *testing.T) {
	s, coll := newMockMongoStore()
	require.NoError(t, s.Health(context.Background()))

	coll.pingErr = errors.New("no reachable servers")
	assert.EqualError(t, s.Health(context.Background()), "no reachable servers")
}

func TestMongoStore_WithManager(t *testing.T) {
	s, coll := newMockMongoStore()
	m, err := New(s)
	require.NoError(t, err)

	coll.insertErr = mongo.WriteException{
		WriteErrors: []mongo.WriteError{{Code: 11000, Message: "E11000 duplicate key error"}},
	}
	err = m.Acquire(context.Background(), "job1", "w2", 0)
	assert.True(t, mongo.IsDuplicateKeyError(err))

	// 最后一次删除是过期回收
	filter, ok := coll.deleteArg.(bson.M)
	require.True(t, ok)
	assert.Equal(t, "job1", filter["_id"])
	assert.Contains(t, filter, "expires")
	assert.NotContains(t, filter, "owner")
}
