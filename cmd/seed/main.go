package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"seatlock/internal/seats"
	"seatlock/internal/shared/config"
	"seatlock/internal/shared/constants"
	"seatlock/internal/shared/database"
	"seatlock/internal/shared/middleware"
	"seatlock/pkg/cache"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

type Seeder struct {
	db      *database.DB
	service seats.Service
}

// defaultLayout is a small arena: two platinum rows at the front, gold in the middle, silver at the back
var defaultLayout = seats.CreateSeatsRequest{
	Categories: []seats.CategoryLayout{
		{Category: seats.CategoryPlatinum, Price: 250, Rows: []string{"A", "B"}, SeatsPerRow: 12},
		{Category: seats.CategoryGold, Price: 150, Rows: []string{"C", "D", "E", "F"}, SeatsPerRow: 16},
		{Category: seats.CategorySilver, Price: 80, Rows: []string{"G", "H", "I", "J", "K"}, SeatsPerRow: 20},
	},
}

func main() {
	concerts := flag.Int("concerts", 2, "number of concerts to create")
	clean := flag.Bool("clean", false, "truncate seats and bookings first")
	flag.Parse()

	fmt.Println("🌱 Starting seatlock seeder...")

	_ = godotenv.Load()
	cfg := config.Load()
	if cfg.UsesMemoryStore() {
		log.Fatalf("SEAT_STORE_DRIVER=memory has nothing to seed; use postgres")
	}

	db, err := database.InitDB(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	seeder := &Seeder{
		db:      db,
		service: seats.NewService(seats.NewRepository(db.GetPostgreSQL()), nil, seats.Options{LockTTL: cfg.Locks.TTL}),
	}

	if *clean {
		fmt.Println("\n🧹 Cleaning seats and bookings...")
		if err := seeder.CleanDatabase(); err != nil {
			log.Fatalf("Failed to clean database: %v", err)
		}
	}

	fmt.Println("\n🎫 Seeding concerts...")
	ids, err := seeder.SeedConcerts(context.Background(), *concerts)
	if err != nil {
		log.Fatalf("Failed to seed concerts: %v", err)
	}

	if err := seeder.ClearCache(context.Background()); err != nil {
		log.Printf("Warning: Failed to clear seat map cache: %v", err)
	}

	fmt.Println("\n🔑 Development tokens:")
	for _, user := range []struct{ id, email, role string }{
		{"admin", "admin@seatlock.dev", middleware.RoleAdmin},
		{"user-1", "fan.one@seatlock.dev", middleware.RoleUser},
		{"user-2", "fan.two@seatlock.dev", middleware.RoleUser},
	} {
		token, err := middleware.NewAccessToken(cfg.JWT.Secret, user.id, user.email, user.role)
		if err != nil {
			log.Fatalf("Failed to sign token: %v", err)
		}
		fmt.Printf("  %-7s %s\n", user.id, token)
	}

	fmt.Printf("\n🎉 Seeding completed! Concerts: %v\n", ids)
}

// CleanDatabase truncates the seat and booking tables
func (s *Seeder) CleanDatabase() error {
	tx := s.db.PostgreSQL.Begin()
	for _, table := range []string{"bookings", "seats"} {
		fmt.Printf("  Truncating table: %s\n", table)
		if err := tx.Exec(fmt.Sprintf("TRUNCATE TABLE %s", table)).Error; err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to truncate table %s: %w", table, err)
		}
	}
	return tx.Commit().Error
}

// SeedConcerts creates n concerts with the default layout and returns their ids
func (s *Seeder) SeedConcerts(ctx context.Context, n int) ([]string, error) {
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		concertID := uuid.NewString()
		created, err := s.service.CreateSeats(ctx, concertID, defaultLayout)
		if err != nil {
			return ids, fmt.Errorf("failed to create seats for concert %s: %w", concertID, err)
		}
		ids = append(ids, concertID)
		fmt.Printf("    ✅ Concert %s: %d seats\n", concertID, len(created))
	}
	return ids, nil
}

// ClearCache drops cached seat maps so servers read the fresh tables
func (s *Seeder) ClearCache(ctx context.Context) error {
	if s.db.Redis == nil {
		return nil
	}
	return cache.NewService(s.db.Redis).DeletePattern(ctx, constants.CACHE_KEY_SEAT_MAP+"*")
}
