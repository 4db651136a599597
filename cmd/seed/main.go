package main

import (
	"context"
	"errors"
	"flag"

	"github.com/xtrntr/cryptop2p/internal/auth"
	"github.com/xtrntr/cryptop2p/internal/config"
	"github.com/xtrntr/cryptop2p/internal/db"
	"github.com/xtrntr/cryptop2p/internal/models"

	log "github.com/sirupsen/logrus"
)

var demoUsers = []string{"trader1@example.com", "trader2@example.com"}

const demoPassword = "password123"

// Seed the database with the network reference table and, on request,
// demo users
func main() {
	demo := flag.Bool("demo", false, "also create demo users")
	flag.Parse()

	ctx := context.Background()
	vip := config.New()

	// Connect to database
	database, err := db.NewDB(ctx, vip.GetString(config.DBURLKey))
	if err != nil {
		log.WithError(err).Fatal("failed to connect to database")
	}
	defer database.Close(ctx)

	if err := db.SeedNetworks(ctx, database); err != nil {
		log.WithError(err).Fatal("failed to seed networks")
	}
	log.Infof("seeded %d networks", len(db.DefaultNetworks))

	if !*demo {
		return
	}

	// Tokens are never issued here, so the signing secret is irrelevant
	authService := auth.NewAuthService(database, "seed", 0)
	for _, email := range demoUsers {
		user, err := authService.Register(ctx, email, demoPassword)
		if errors.Is(err, models.ErrConflict) {
			log.Infof("user %s already exists", email)
			continue
		}
		if err != nil {
			log.WithError(err).Fatalf("failed to create user %s", email)
		}
		log.Infof("created user %s (id %d)", user.Email, user.ID)
	}
}
