package entity

import "github.com/mcdev12/pokerclock/go/internal/models"

// Kind is the storage type of a mapped field.
type Kind int

const (
	KindString Kind = iota
	KindInt
	KindBool
	KindUUID
	KindNullableInt
	// KindTime is stored as unix milliseconds and exchanged as RFC 3339.
	KindTime
)

// Field maps one JSON property to one column.
type Field struct {
	JSON     string
	Column   string
	Kind     Kind
	Required bool
	// References names the entity type this field points at, if any.
	References string
}

// Mapping describes how an entity type is stored.
type Mapping struct {
	EntityType string
	Table      string
	KeyColumn  string
	Fields     []Field
}

func (m Mapping) field(jsonName string) (Field, bool) {
	for _, f := range m.Fields {
		if f.JSON == jsonName {
			return f, true
		}
	}
	return Field{}, false
}

// DefaultMappings covers every entity type clients may change.
func DefaultMappings() []Mapping {
	return []Mapping{
		{
			EntityType: models.EntityTournament,
			Table:      "tournaments",
			KeyColumn:  "id",
			Fields: []Field{
				{JSON: "name", Column: "name", Kind: KindString, Required: true},
				{JSON: "status", Column: "status", Kind: KindString},
				{JSON: "buyIn", Column: "buy_in", Kind: KindInt},
				{JSON: "startingChips", Column: "starting_chips", Kind: KindInt},
				{JSON: "createdAt", Column: "created_at", Kind: KindTime},
			},
		},
		{
			EntityType: models.EntityPlayer,
			Table:      "players",
			KeyColumn:  "id",
			Fields: []Field{
				{JSON: "tournamentId", Column: "tournament_id", Kind: KindUUID, Required: true, References: models.EntityTournament},
				{JSON: "name", Column: "name", Kind: KindString, Required: true},
				{JSON: "chipCount", Column: "chip_count", Kind: KindInt},
				{JSON: "seat", Column: "seat", Kind: KindNullableInt},
				{JSON: "eliminated", Column: "eliminated", Kind: KindBool},
			},
		},
		{
			EntityType: models.EntityBlindLevel,
			Table:      "blind_levels",
			KeyColumn:  "id",
			Fields: []Field{
				{JSON: "tournamentId", Column: "tournament_id", Kind: KindUUID, Required: true, References: models.EntityTournament},
				{JSON: "level", Column: "level", Kind: KindInt, Required: true},
				{JSON: "smallBlind", Column: "small_blind", Kind: KindInt, Required: true},
				{JSON: "bigBlind", Column: "big_blind", Kind: KindInt, Required: true},
				{JSON: "ante", Column: "ante", Kind: KindInt},
				{JSON: "durationMinutes", Column: "duration_minutes", Kind: KindInt, Required: true},
				{JSON: "isBreak", Column: "is_break", Kind: KindBool},
			},
		},
	}
}
