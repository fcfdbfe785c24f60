// seed inserts development sample data for local testing.
// Idempotent: skips inserts if the admin user (admin@example.com) already exists.
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"live-game-backend/internal/config"
	"live-game-backend/internal/db"
	"live-game-backend/internal/security"
	userrepo "live-game-backend/internal/user/repository"
)

const (
	adminEmail  = "admin@example.com"
	playerEmail = "player@example.com"
	devPassword = "password123"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
	}

	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer conn.Close()

	ctx := context.Background()
	users := userrepo.NewPostgresRepository(conn)

	existing, err := users.GetByEmail(ctx, adminEmail)
	if err != nil {
		log.Fatalf("seed check: %v", err)
	}
	if existing != nil {
		log.Println("Seed already applied (admin@example.com exists). Skipping.")
		os.Exit(0)
	}

	hasher := security.NewHasher(cfg.BcryptCost)
	passwordHash, err := hasher.Hash([]byte(devPassword))
	if err != nil {
		log.Fatalf("hash password: %v", err)
	}

	var adminID, playerID int64
	if err := conn.QueryRowContext(ctx,
		`INSERT INTO users (email, display_name, password_hash, is_admin) VALUES ($1, $2, $3, TRUE) RETURNING id`,
		adminEmail, "Ops Admin", passwordHash,
	).Scan(&adminID); err != nil {
		log.Fatalf("create admin user: %v", err)
	}
	if err := conn.QueryRowContext(ctx,
		`INSERT INTO users (email, display_name, password_hash, is_admin) VALUES ($1, $2, $3, FALSE) RETURNING id`,
		playerEmail, "Test Player", passwordHash,
	).Scan(&playerID); err != nil {
		log.Fatalf("create player user: %v", err)
	}

	if _, err := conn.ExecContext(ctx,
		`INSERT INTO characters (user_id, name, zone_level_id, is_selected) VALUES ($1, $2, $3, TRUE)`,
		playerID, "Testa", int64(1),
	); err != nil {
		log.Fatalf("create character: %v", err)
	}

	if _, err := conn.ExecContext(ctx,
		`INSERT INTO release_policy (id, latest_version, min_supported_version, latest_content_version_key, min_supported_content_version_key, updated_by)
		 VALUES (1, '1.0.0', '1.0.0', 'content-2026.01', 'content-2026.01', 'seed')
		 ON CONFLICT (id) DO NOTHING`,
	); err != nil {
		log.Fatalf("seed release policy: %v", err)
	}

	log.Println("Seed completed successfully.")
	fmt.Printf("Admin login: %s / %s\n", adminEmail, devPassword)
	fmt.Printf("Player login: %s / %s\n", playerEmail, devPassword)
}
