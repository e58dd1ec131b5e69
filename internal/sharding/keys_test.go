package sharding

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"gopkg.in/yaml.v3"
)

func TestKeysUnmarshalYAMLKeepsOrder(t *testing.T) {
	var doc struct {
		Key Keys `yaml:"key"`
	}
	err := yaml.Unmarshal([]byte("key: {uid: 1, createTime: -1, _id: hashed}\n"), &doc)
	require.NoError(t, err)

	assert.Equal(t, []string{"uid", "createTime", "_id"}, doc.Key.Fields())
	assert.Equal(t, Keys{Asc("uid"), Desc("createTime"), Hashed("_id")}, doc.Key)
	assert.Equal(t, 2, doc.Key.HashedIndex())
}

func TestKeysUnmarshalYAMLErrors(t *testing.T) {
	for _, in := range []string{
		"key: [a, b]\n",
		"key: {a: 0}\n",
		"key: {a: {b: 1}}\n",
		"key: {a: ''}\n",
	} {
		var doc struct {
			Key Keys `yaml:"key"`
		}
		assert.Error(t, yaml.Unmarshal([]byte(in), &doc), in)
	}
}

func TestKeysEqualAndPrefix(t *testing.T) {
	a := Keys{Asc("appID"), Asc("status")}

	fromServer, err := KeysFromBSON(bson.D{{Key: "appID", Value: 1.0}, {Key: "status", Value: int64(1)}})
	require.NoError(t, err)
	assert.True(t, a.Equal(fromServer))

	assert.False(t, a.Equal(Keys{Asc("status"), Asc("appID")}), "order matters")
	assert.False(t, a.Equal(Keys{Asc("appID"), Desc("status")}))
	assert.True(t, a.HasPrefix(Keys{Asc("appID")}))
	assert.False(t, a.HasPrefix(Keys{Asc("status")}))
	assert.False(t, Keys{Asc("appID")}.HasPrefix(a))
}

func TestKeysString(t *testing.T) {
	assert.Equal(t, "{ _id: hashed }", Keys{Hashed("_id")}.String())
	assert.Equal(t, "{ uid: 1, createTime: -1 }", Keys{Asc("uid"), Desc("createTime")}.String())
	assert.Equal(t, "{}", Keys{}.String())
}

func TestKeysBSON(t *testing.T) {
	assert.Equal(t,
		bson.D{{Key: "uid", Value: int32(1)}, {Key: "_id", Value: "hashed"}},
		Keys{Asc("uid"), Hashed("_id")}.BSON())
}

func TestIndexNameAndFind(t *testing.T) {
	assert.Equal(t, "uid_1_createTime_-1", IndexSpec{Keys: Keys{Asc("uid"), Desc("createTime")}}.IndexName())
	assert.Equal(t, "_id_hashed", IndexSpec{Keys: Keys{Hashed("_id")}}.IndexName())
	assert.Equal(t, "idx_x", IndexSpec{Keys: Keys{Asc("x")}, Name: "idx_x"}.IndexName())

	existing := []IndexInfo{
		{Name: "_id_", Keys: Keys{Asc("_id")}},
		{Name: "uid_1_createTime_-1", Keys: Keys{Asc("uid"), Desc("createTime")}},
	}

	got, ok := FindIndex(existing, IndexSpec{Keys: Keys{Asc("uid"), Desc("createTime")}, Name: "idx_uid_createTime"})
	assert.True(t, ok, "same key pattern under another name")
	assert.Equal(t, "uid_1_createTime_-1", got.Name)

	_, ok = FindIndex(existing, IndexSpec{Keys: Keys{Asc("phoneNum")}, Name: "idx_phoneNum"})
	assert.False(t, ok)

	assert.True(t, HasKeyPrefix(existing, Keys{Asc("uid")}))
	assert.False(t, HasKeyPrefix(existing, Keys{Hashed("_id")}))
}

func TestIndexModel(t *testing.T) {
	ttl := int32(3600)
	m := IndexSpec{Keys: Keys{Asc("cpOrderID")}, Name: "idx_cpOrderID", Sparse: true, ExpireAfterSeconds: &ttl}.Model()

	assert.Equal(t, bson.D{{Key: "cpOrderID", Value: int32(1)}}, m.Keys)
	require.NotNil(t, m.Options)
	assert.Equal(t, "idx_cpOrderID", *m.Options.Name)
	assert.True(t, *m.Options.Sparse)
	assert.Equal(t, int32(3600), *m.Options.ExpireAfterSeconds)
	assert.Nil(t, m.Options.Unique)
}
