package entity

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/pokerclock/go/internal/sqlutil"
)

// Store applies entity versions to their tables using a mapping table.
type Store struct {
	mappings map[string]Mapping
}

// NewStore creates a store over mappings, or DefaultMappings when none given.
func NewStore(mappings ...Mapping) *Store {
	if len(mappings) == 0 {
		mappings = DefaultMappings()
	}
	s := &Store{mappings: make(map[string]Mapping, len(mappings))}
	for _, m := range mappings {
		s.mappings[m.EntityType] = m
	}
	return s
}

// Mapping returns the mapping of entityType.
func (s *Store) Mapping(entityType string) (Mapping, bool) {
	m, ok := s.mappings[entityType]
	return m, ok
}

// IsDeletion reports whether version represents a removed entity.
func IsDeletion(version json.RawMessage) bool {
	v := bytes.TrimSpace(version)
	return len(v) == 0 || bytes.Equal(v, []byte("null"))
}

// Apply writes version for the entity: an upsert of the supplied fields, or
// a delete when version is nil.
func (s *Store) Apply(ctx context.Context, q sqlutil.Querier, entityType string, id uuid.UUID, version json.RawMessage) error {
	m, ok := s.mappings[entityType]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEntity, entityType)
	}

	if IsDeletion(version) {
		_, err := q.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE %s = ?`, m.Table, m.KeyColumn), id.String())
		if err != nil {
			return fmt.Errorf("failed to delete %s %s: %w", entityType, id, err)
		}
		return nil
	}

	values, err := decodeVersion(m, version)
	if err != nil {
		return err
	}

	cols := make([]string, 0, len(values))
	for col := range values {
		cols = append(cols, col)
	}
	sort.Strings(cols)

	placeholders := make([]string, 0, len(cols)+1)
	args := make([]any, 0, len(cols)+1)
	placeholders = append(placeholders, "?")
	args = append(args, id.String())
	updates := make([]string, 0, len(cols))
	for _, col := range cols {
		placeholders = append(placeholders, "?")
		args = append(args, values[col])
		updates = append(updates, fmt.Sprintf("%s = excluded.%s", col, col))
	}

	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`,
		m.Table,
		strings.Join(append([]string{m.KeyColumn}, cols...), ", "),
		strings.Join(placeholders, ", "),
	)
	if len(updates) > 0 {
		query += fmt.Sprintf(` ON CONFLICT (%s) DO UPDATE SET %s`, m.KeyColumn, strings.Join(updates, ", "))
	} else {
		query += fmt.Sprintf(` ON CONFLICT (%s) DO NOTHING`, m.KeyColumn)
	}

	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to apply %s %s: %w", entityType, id, err)
	}
	return nil
}

// Get returns the stored version of the entity, nil when it does not exist.
func (s *Store) Get(ctx context.Context, q sqlutil.Querier, entityType string, id uuid.UUID) (json.RawMessage, error) {
	m, ok := s.mappings[entityType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntity, entityType)
	}

	cols := make([]string, len(m.Fields))
	dest := make([]any, len(m.Fields))
	for i, f := range m.Fields {
		cols[i] = f.Column
		switch f.Kind {
		case KindString, KindUUID:
			dest[i] = new(sql.NullString)
		default:
			dest[i] = new(sql.NullInt64)
		}
	}

	row := q.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM %s WHERE %s = ?`, strings.Join(cols, ", "), m.Table, m.KeyColumn),
		id.String())
	if err := row.Scan(dest...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get %s %s: %w", entityType, id, err)
	}

	out := map[string]any{"id": id.String()}
	for i, f := range m.Fields {
		out[f.JSON] = encodeColumn(f, dest[i])
	}
	return json.Marshal(out)
}

// Exists reports whether the entity is stored.
func (s *Store) Exists(ctx context.Context, q sqlutil.Querier, entityType string, id uuid.UUID) (bool, error) {
	m, ok := s.mappings[entityType]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownEntity, entityType)
	}
	var one int
	err := q.QueryRowContext(ctx, fmt.Sprintf(`SELECT 1 FROM %s WHERE %s = ?`, m.Table, m.KeyColumn), id.String()).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to look up %s %s: %w", entityType, id, err)
	}
	return true, nil
}

// CheckPayload validates version against the mapping. Creates must carry
// every required field.
func (s *Store) CheckPayload(entityType string, create bool, version json.RawMessage) error {
	m, ok := s.mappings[entityType]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEntity, entityType)
	}
	values, err := decodeVersion(m, version)
	if err != nil {
		return err
	}
	if create {
		for _, f := range m.Fields {
			if _, ok := values[f.Column]; f.Required && !ok {
				return fmt.Errorf("%w: %s requires %s", ErrInvalidPayload, entityType, f.JSON)
			}
		}
	}
	return nil
}

// CheckReferences verifies that every referencing field in version points at
// an existing entity.
func (s *Store) CheckReferences(ctx context.Context, q sqlutil.Querier, entityType string, version json.RawMessage) error {
	m, ok := s.mappings[entityType]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEntity, entityType)
	}
	if IsDeletion(version) {
		return nil
	}

	var raw map[string]any
	if err := json.Unmarshal(version, &raw); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	for _, f := range m.Fields {
		if f.References == "" {
			continue
		}
		v, ok := raw[f.JSON]
		if !ok || v == nil {
			continue
		}
		str, _ := v.(string)
		ref, err := uuid.Parse(str)
		if err != nil {
			return fmt.Errorf("%w: %s is not a uuid", ErrInvalidPayload, f.JSON)
		}
		exists, err := s.Exists(ctx, q, f.References, ref)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("%w: %s %s", ErrMissingReference, f.References, ref)
		}
	}
	return nil
}

// decodeVersion converts the mapped properties of version to column values.
// Unmapped properties (including "id") are ignored.
func decodeVersion(m Mapping, version json.RawMessage) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(version))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: expected an object", ErrInvalidPayload)
	}

	out := make(map[string]any, len(raw))
	for name, v := range raw {
		f, ok := m.field(name)
		if !ok {
			continue
		}
		col, err := decodeValue(f, v)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPayload, name, err)
		}
		out[f.Column] = col
	}
	return out, nil
}

func decodeValue(f Field, v any) (any, error) {
	if v == nil {
		if f.Kind == KindNullableInt {
			return nil, nil
		}
		return nil, errors.New("must not be null")
	}

	switch f.Kind {
	case KindString:
		s, ok := v.(string)
		if !ok {
			return nil, errors.New("expected string")
		}
		return s, nil
	case KindUUID:
		s, ok := v.(string)
		if !ok {
			return nil, errors.New("expected uuid string")
		}
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, err
		}
		return id.String(), nil
	case KindInt, KindNullableInt:
		n, ok := v.(json.Number)
		if !ok {
			return nil, errors.New("expected integer")
		}
		return n.Int64()
	case KindBool:
		b, ok := v.(bool)
		if !ok {
			return nil, errors.New("expected boolean")
		}
		return sqlutil.BoolToInt(b), nil
	case KindTime:
		switch t := v.(type) {
		case string:
			parsed, err := time.Parse(time.RFC3339Nano, t)
			if err != nil {
				return nil, err
			}
			return parsed.UnixMilli(), nil
		case json.Number:
			return t.Int64()
		}
		return nil, errors.New("expected timestamp")
	}
	return nil, fmt.Errorf("unsupported kind %d", f.Kind)
}

func encodeColumn(f Field, dest any) any {
	switch d := dest.(type) {
	case *sql.NullString:
		if !d.Valid {
			return nil
		}
		return d.String
	case *sql.NullInt64:
		if !d.Valid {
			return nil
		}
		switch f.Kind {
		case KindBool:
			return d.Int64 == 1
		case KindTime:
			return time.UnixMilli(d.Int64).UTC().Format(time.RFC3339Nano)
		}
		return d.Int64
	}
	return nil
}
