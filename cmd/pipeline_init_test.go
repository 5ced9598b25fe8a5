package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/billscan/billscan/internal/config"
)

func TestInitStoreSQLite(t *testing.T) {
	cfg = &config.Config{Store: config.StoreConfig{
		Driver:      "sqlite",
		DatabaseURL: filepath.Join(t.TempDir(), "billscan.db"),
	}}

	st, err := initStore(context.Background())
	require.NoError(t, err)
	defer st.Close()
	require.NoError(t, st.Migrate(context.Background()))
}

func TestInitStorePostgresBadURL(t *testing.T) {
	cfg = &config.Config{Store: config.StoreConfig{
		Driver:      "postgres",
		DatabaseURL: "://not-a-conn-string",
		MaxConns:    4,
		MinConns:    1,
	}}

	_, err := initStore(context.Background())
	assert.Error(t, err)
}

func TestInitStoreUnknownDriver(t *testing.T) {
	cfg = &config.Config{Store: config.StoreConfig{Driver: "mysql"}}

	_, err := initStore(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported store driver")
}
