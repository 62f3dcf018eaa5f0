package objectstore

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStorePutGetStatDelete(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	body := "attachment bytes"
	key := "org-1/slack/F0123/report.pdf"
	require.NoError(t, s.Put(ctx, key, strings.NewReader(body), int64(len(body)), "application/pdf"))

	rc, err := s.Get(ctx, key)
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, body, string(got))

	info, err := s.Stat(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(len(body)), info.SizeBytes)

	require.NoError(t, s.Delete(ctx, key))
	_, err = s.Get(ctx, key)
	assert.ErrorIs(t, err, ErrObjectNotFound)
}

func TestLocalStoreOverwriteReplaces(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.Put(ctx, "k", strings.NewReader("v1"), 2, ""))
	require.NoError(t, s.Put(ctx, "k", strings.NewReader("v2"), 2, ""))

	rc, err := s.Get(ctx, "k")
	require.NoError(t, err)
	got, _ := io.ReadAll(rc)
	rc.Close()
	assert.Equal(t, "v2", string(got))
}

func TestLocalStoreRejectsEscapingKeys(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	for _, key := range []string{"../escape", "/abs/path", "."} {
		err := s.Put(ctx, key, strings.NewReader("x"), 1, "")
		assert.Error(t, err, "key %q", key)
	}
}
