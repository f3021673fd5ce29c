package clickhouse

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildDSN(t *testing.T) {
	dsn := BuildDSN(ClientConfig{
		Host:        "ch.local",
		Port:        9000,
		Database:    "market",
		User:        "reader",
		Password:    "s3cret",
		DialTimeout: 5 * time.Second,
		MaxExecTime: 90 * time.Second,
	})

	u, err := url.Parse(dsn)
	require.NoError(t, err)
	assert.Equal(t, "clickhouse", u.Scheme)
	assert.Equal(t, "ch.local:9000", u.Host)
	assert.Equal(t, "/market", u.Path)
	assert.Equal(t, "reader", u.User.Username())
	assert.Equal(t, "5s", u.Query().Get("dial_timeout"))
	assert.Equal(t, "90", u.Query().Get("max_execution_time"))
	assert.Empty(t, u.Query().Get("read_timeout"))
}

func TestBuildDSNHTTP(t *testing.T) {
	dsn := BuildDSN(ClientConfig{Host: "ch", Port: 8123, Database: "default", UseHTTP: true})
	assert.Contains(t, dsn, "http://")
}
