package cmd

import (
	"fmt"
	"log"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"github.com/voxsocial/notifygw/internal/config"
	"github.com/voxsocial/notifygw/internal/db"
	"github.com/voxsocial/notifygw/internal/model"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with demo identities and follow edges",
	RunE: func(cmd *cobra.Command, args []string) error {
		// 1) load config
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		// 2) connect MySQL
		sqlDB, err := db.NewMySQLConnection(cfg.MySQL.DSN, db.MySQLOpts{
			MaxOpenConns:    cfg.MySQL.MaxOpenConns,
			MaxIdleConns:    cfg.MySQL.MaxIdleConns,
			ConnMaxLifetime: cfg.MySQL.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.MySQL.ConnMaxIdleTime,
			PingTimeout:     cfg.MySQL.PingTimeout,
		})
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer sqlDB.Close()

		log.Println(">> Seeding demo identities...")

		if err := seedIdentities(sqlDB); err != nil {
			return err
		}
		if err := seedFollows(sqlDB); err != nil {
			return err
		}

		log.Println(">> Seed completed ✅")
		return nil
	},
}

// seedIdentities inserts 5 deterministic demo identities (idempotent).
func seedIdentities(dbx *sqlx.DB) error {
	identities := []model.Identity{
		{ID: "u-alice", Username: "alice", Privacy: model.PrivacyPublic},
		{ID: "u-bob", Username: "bob", Privacy: model.PrivacyPublic},
		{ID: "u-carol", Username: "carol", Privacy: model.PrivacyPrivate},
		{ID: "u-dave", Username: "dave", Privacy: model.PrivacyPublic},
		{ID: "u-erin", Username: "erin", Privacy: model.PrivacyPrivate},
	}

	// idempotent upsert based on id (PRIMARY KEY)
	const q = `
INSERT INTO users
    (id, username, privacy, created_at, updated_at)
VALUES
    (?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
    username   = VALUES(username),
    privacy    = VALUES(privacy),
    updated_at = VALUES(updated_at)
`
	tx, err := dbx.Beginx()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now()
	for _, id := range identities {
		if _, err := tx.Exec(q, id.ID, id.Username, id.Privacy, now, now); err != nil {
			return fmt.Errorf("insert identity %q: %w", id.Username, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit identities: %w", err)
	}
	return nil
}

// seedFollows wires a small demo graph: everyone follows alice, bob and
// carol follow each other, dave follows carol (a private account).
func seedFollows(dbx *sqlx.DB) error {
	edges := []model.FollowEdge{
		{FollowerID: "u-bob", FolloweeID: "u-alice"},
		{FollowerID: "u-carol", FolloweeID: "u-alice"},
		{FollowerID: "u-dave", FolloweeID: "u-alice"},
		{FollowerID: "u-erin", FolloweeID: "u-alice"},
		{FollowerID: "u-bob", FolloweeID: "u-carol"},
		{FollowerID: "u-carol", FolloweeID: "u-bob"},
		{FollowerID: "u-dave", FolloweeID: "u-carol"},
	}

	const q = `
INSERT INTO follows (follower_id, followee_id, created_at)
VALUES (?, ?, ?)
ON DUPLICATE KEY UPDATE follower_id = follower_id
`
	now := time.Now()
	for _, e := range edges {
		if _, err := dbx.Exec(q, e.FollowerID, e.FolloweeID, now); err != nil {
			return fmt.Errorf("insert follow %s -> %s: %w", e.FollowerID, e.FolloweeID, err)
		}
	}
	return nil
}
