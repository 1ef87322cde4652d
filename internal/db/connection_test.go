package db

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kjannette/trahn-swapbot/internal/testutil"
)

func TestConnect_BadDSN(t *testing.T) {
	logger, _ := test.NewNullLogger()
	_, err := Connect(context.Background(), "postgres://%zz", logger)
	assert.ErrorContains(t, err, "parse dsn")
}

func TestConnect_Live(t *testing.T) {
	dsn := testutil.EnvOr("TEST_DATABASE_URL", "")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping Postgres integration test")
	}
	logger, hook := test.NewNullLogger()
	p, err := Connect(context.Background(), dsn, logger)
	require.NoError(t, err)
	defer p.Close()
	assert.Equal(t, "database connection successful", hook.LastEntry().Message)
}
