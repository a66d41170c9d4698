package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/pokerclock/go/internal/database"
	"github.com/mcdev12/pokerclock/go/internal/dbconfig"
	"github.com/mcdev12/pokerclock/go/internal/entity"
	"github.com/mcdev12/pokerclock/go/internal/ledger"
	"github.com/mcdev12/pokerclock/go/internal/models"
	"github.com/mcdev12/pokerclock/go/internal/schedule"
	"github.com/mcdev12/pokerclock/go/internal/sqlutil"
)

const seedOrigin = "seed"

// tournament is the entity payload written for each schedule block.
type tournament struct {
	Name          string    `json:"name"`
	Status        string    `json:"status"`
	BuyIn         int64     `json:"buyIn"`
	StartingChips int64     `json:"startingChips"`
	CreatedAt     time.Time `json:"createdAt"`
}

func main() {
	ctx := context.Background()

	path := "go/internal/assets/schedule.yaml"
	if len(os.Args) > 1 {
		path = os.Args[1]
	}

	// 1) Load and validate the schedule file
	parsed, err := schedule.LoadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load schedule: %v\n", err)
		os.Exit(1)
	}

	// 2) Open the database using shared dbconfig
	cfg := dbconfig.NewConfigFromEnv()
	sqlDB, err := database.OpenAndMigrate(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open database: %v\n", err)
		os.Exit(1)
	}
	defer sqlDB.Close()

	db := database.StaticProvider(sqlDB)
	clock := clockwork.NewRealClock()
	store := entity.NewStore()
	changes := ledger.New(db, clock)
	schedules := schedule.NewApp(schedule.NewRepository(db))

	// 3) Upsert tournaments through the ledger so devices pull them, then
	// store their schedules
	var (
		total    = len(parsed.Tournaments)
		inserted int
		updated  int
		errs     int
	)
	for id, ts := range parsed.Tournaments {
		created, err := upsertTournament(ctx, db, store, changes, id, ts, clock.Now())
		if err != nil {
			fmt.Fprintf(os.Stderr, "error seeding tournament %s: %v\n", id, err)
			errs++
			continue
		}
		if _, err := schedules.SetSchedule(ctx, id, ts.Levels); err != nil {
			fmt.Fprintf(os.Stderr, "error storing schedule for %s: %v\n", id, err)
			errs++
			continue
		}
		if created {
			inserted++
		} else {
			updated++
		}
	}

	// 4) Print summary
	fmt.Printf(
		"Schedule seed complete: %d total, %d inserted, %d updated, %d errors\n",
		total, inserted, updated, errs,
	)
	if errs > 0 {
		os.Exit(1)
	}
}

func upsertTournament(ctx context.Context, db database.Provider, store *entity.Store, changes *ledger.Ledger, id uuid.UUID, ts schedule.TournamentSchedule, now time.Time) (bool, error) {
	name := ts.Name
	if name == "" {
		name = "Tournament " + id.String()[:8]
	}

	var created bool
	err := sqlutil.Run(ctx, db.DB(), func(tx *sql.Tx) error {
		exists, err := store.Exists(ctx, tx, models.EntityTournament, id)
		if err != nil {
			return err
		}
		created = !exists

		// an update leaves status and createdAt as they are
		op := models.OperationUpdate
		var version []byte
		if created {
			op = models.OperationCreate
			version, err = json.Marshal(tournament{
				Name:          name,
				Status:        "SCHEDULED",
				BuyIn:         ts.BuyIn,
				StartingChips: ts.StartingChips,
				CreatedAt:     now.UTC(),
			})
		} else {
			version, err = json.Marshal(map[string]any{
				"name":          name,
				"buyIn":         ts.BuyIn,
				"startingChips": ts.StartingChips,
			})
		}
		if err != nil {
			return err
		}

		if err := store.Apply(ctx, tx, models.EntityTournament, id, version); err != nil {
			return err
		}
		_, err = changes.AppendTx(ctx, tx, models.ChangeRecord{
			ChangeID:       uuid.New(),
			OriginID:       seedOrigin,
			EntityType:     models.EntityTournament,
			Operation:      op,
			EntityID:       id,
			Payload:        version,
			LocalTimestamp: now.UnixMilli(),
		})
		return err
	})
	return created, err
}
