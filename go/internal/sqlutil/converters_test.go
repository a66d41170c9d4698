package sqlutil

import (
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNullJSON(t *testing.T) {
	assert.False(t, ToNullJSON(nil).Valid)
	assert.False(t, ToNullJSON(json.RawMessage("null")).Valid)

	v := ToNullJSON(json.RawMessage(`{"name":"A"}`))
	assert.True(t, v.Valid)
	assert.JSONEq(t, `{"name":"A"}`, string(FromNullJSON(v)))
	assert.Nil(t, FromNullJSON(sql.NullString{}))
}

func TestNullInt64RoundTrip(t *testing.T) {
	assert.Nil(t, FromNullInt64(ToNullInt64(nil)))

	n := int64(1_200_000)
	got := FromNullInt64(ToNullInt64(&n))
	if assert.NotNil(t, got) {
		assert.Equal(t, n, *got)
	}
}

func TestNullTime(t *testing.T) {
	assert.Nil(t, FromNullTime(ToNullTime(nil)))

	now := time.Date(2026, 3, 1, 12, 0, 0, 250_000_000, time.UTC)
	got := FromNullTime(ToNullTime(&now))
	if assert.NotNil(t, got) {
		assert.True(t, now.Equal(*got))
	}
}
