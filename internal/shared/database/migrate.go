package database

import (
	"fmt"

	"seatlock/internal/seats"

	"gorm.io/gorm"
)

func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&seats.Seat{},
		&seats.Booking{},
	); err != nil {
		return fmt.Errorf("auto migrate failed: %w", err)
	}
	return MigrateConstraints(db)
}
