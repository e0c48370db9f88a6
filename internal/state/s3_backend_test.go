package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackform-io/stackform/internal/ir"
)

func TestNewS3BackendRequiresBucket(t *testing.T) {
	_, err := newS3Backend(map[string]string{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket")
}

func TestNewS3BackendDefaults(t *testing.T) {
	b, err := newS3Backend(map[string]string{
		"bucket":   "state-bucket",
		"endpoint": "http://localhost:4566",
	})
	require.NoError(t, err)

	s3b, ok := b.(*s3Backend)
	require.True(t, ok)
	assert.Equal(t, "state-bucket", s3b.bucket)
	assert.Equal(t, "stackform/state.json", s3b.key)
	assert.Equal(t, "us-east-1", s3b.region)
	assert.Empty(t, s3b.dynamoDBTable)
	assert.False(t, s3b.encrypt)
	assert.Nil(t, s3b.dbClient)
}

func TestNewS3BackendCustomConfig(t *testing.T) {
	b, err := newS3Backend(map[string]string{
		"bucket":         "custom-bucket",
		"key":            "env/prod/state.json",
		"region":         "eu-west-1",
		"dynamodb_table": "stackform-locks",
		"encrypt":        "true",
		"endpoint":       "http://localhost:4566",
	})
	require.NoError(t, err)

	s3b, ok := b.(*s3Backend)
	require.True(t, ok)
	assert.Equal(t, "custom-bucket", s3b.bucket)
	assert.Equal(t, "env/prod/state.json", s3b.key)
	assert.Equal(t, "eu-west-1", s3b.region)
	assert.Equal(t, "stackform-locks", s3b.dynamoDBTable)
	assert.True(t, s3b.encrypt)
	assert.NotNil(t, s3b.dbClient)
}

func TestNewBackendSelection(t *testing.T) {
	local, err := NewBackend(nil, "/tmp/state.json")
	require.NoError(t, err)
	_, ok := local.(*Manager)
	assert.True(t, ok)

	_, err = NewBackend(&ir.BackendConfig{Type: "consul"}, "/tmp/state.json")
	require.Error(t, err)
}
