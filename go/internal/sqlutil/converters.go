package sqlutil

import (
	"database/sql"
	"encoding/json"
	"time"
)

// Helper functions for converting between Go types and sql.Null* types.
// Timestamps are stored as unix milliseconds.

// ToNullInt64 converts a Go int64 pointer to sql.NullInt64
func ToNullInt64(val *int64) sql.NullInt64 {
	if val == nil {
		return sql.NullInt64{Valid: false}
	}
	return sql.NullInt64{Int64: *val, Valid: true}
}

// FromNullInt64 converts sql.NullInt64 to Go int64 pointer
func FromNullInt64(val sql.NullInt64) *int64 {
	if !val.Valid {
		return nil
	}
	i := val.Int64
	return &i
}

// ToSqlString converts a Go string to sql.NullString, treating "" as NULL
func ToSqlString(val string) sql.NullString {
	if val == "" {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: val, Valid: true}
}

// FromSqlString converts sql.NullString to Go string with default
func FromSqlString(val sql.NullString, defaultVal string) string {
	if !val.Valid {
		return defaultVal
	}
	return val.String
}

// ToNullJSON converts raw JSON to sql.NullString; nil and "null" become NULL
func ToNullJSON(val json.RawMessage) sql.NullString {
	if len(val) == 0 || string(val) == "null" {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: string(val), Valid: true}
}

// FromNullJSON converts sql.NullString to raw JSON, nil when NULL
func FromNullJSON(val sql.NullString) json.RawMessage {
	if !val.Valid {
		return nil
	}
	return json.RawMessage(val.String)
}

// ToUnixMilli converts a time to unix milliseconds
func ToUnixMilli(t time.Time) int64 {
	return t.UnixMilli()
}

// FromUnixMilli converts unix milliseconds to UTC time
func FromUnixMilli(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// ToNullTime converts a Go time pointer to unix milliseconds, NULL when nil
func ToNullTime(val *time.Time) sql.NullInt64 {
	if val == nil {
		return sql.NullInt64{Valid: false}
	}
	return sql.NullInt64{Int64: val.UnixMilli(), Valid: true}
}

// FromNullTime converts nullable unix milliseconds to a Go time pointer
func FromNullTime(val sql.NullInt64) *time.Time {
	if !val.Valid {
		return nil
	}
	t := FromUnixMilli(val.Int64)
	return &t
}

// BoolToInt converts a bool to SQLite's 0/1 representation
func BoolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
