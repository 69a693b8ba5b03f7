package schedule

import (
	"context"
	"errors"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStatic(t *testing.T) {
	provider, err := ParseStatic(`{"P1": ["9:00", "10:00", "14:00"]}`)
	require.NoError(t, err)

	slots, err := provider.TemplateFor(context.Background(), "P1")
	require.NoError(t, err)
	assert.Equal(t, []string{"09:00", "10:00", "14:00"}, slots)

	_, err = provider.TemplateFor(context.Background(), "P2")
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestParseStaticRejectsBadTemplates(t *testing.T) {
	cases := map[string]string{
		"malformed json": `{"P1": [}`,
		"bad slot":       `{"P1": ["25:00"]}`,
		"duplicate":      `{"P1": ["09:00", "9:00"]}`,
		"empty":          `{"P1": []}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseStatic(raw)
			assert.Error(t, err)
		})
	}
}

func TestNormalizeSlot(t *testing.T) {
	for raw, want := range map[string]string{
		"09:00":    "09:00",
		"9:05":     "09:05",
		" 14:30 ":  "14:30",
		"09:00:00": "09:00",
	} {
		got, err := NormalizeSlot(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got, raw)
	}

	for _, raw := range []string{"09:00:59", "09:00:01", "24:00", "9", "noon", ""} {
		_, err := NormalizeSlot(raw)
		assert.Error(t, err, raw)
	}
}

func TestStaticReturnsCopy(t *testing.T) {
	provider, err := NewStatic(map[string][]string{"P1": {"09:00", "10:00"}})
	require.NoError(t, err)

	slots, _ := provider.TemplateFor(context.Background(), "P1")
	slots[0] = "mutated"

	again, _ := provider.TemplateFor(context.Background(), "P1")
	assert.Equal(t, "09:00", again[0])
}

func TestRedisStorePutAndGet(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStore(client, nil)
	ctx := context.Background()

	saved, err := store.Put(ctx, "P1", []string{"9:00", "11:00"})
	require.NoError(t, err)
	assert.Equal(t, []string{"09:00", "11:00"}, saved)

	slots, err := store.TemplateFor(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, []string{"09:00", "11:00"}, slots)

	require.NoError(t, store.Delete(ctx, "P1"))
	_, err = store.TemplateFor(ctx, "P1")
	assert.True(t, errors.Is(err, ErrUnknownProvider))
}

func TestRedisStoreFallsBack(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	fallback, err := NewStatic(map[string][]string{"P9": {"08:00"}})
	require.NoError(t, err)
	store := NewRedisStore(client, fallback)

	slots, err := store.TemplateFor(context.Background(), "P9")
	require.NoError(t, err)
	assert.Equal(t, []string{"08:00"}, slots)
}

func TestRedisStoreRejectsInvalidPut(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStore(client, nil)

	_, err := store.Put(context.Background(), "P1", []string{"noon"})
	assert.Error(t, err)
	assert.False(t, mr.Exists("schedule:template:P1"))
}
