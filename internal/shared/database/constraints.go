package database

import (
	"fmt"

	"gorm.io/gorm"
)

// MigrateConstraints adds the constraints that keep seat lock fields consistent
// with the seat status, whatever code path writes them.
func MigrateConstraints(db *gorm.DB) error {
	// RESERVED always carries a holder and a timestamp; no other status does
	err := db.Exec(`
		DO $$
		BEGIN
			IF NOT EXISTS (SELECT 1 FROM pg_constraint WHERE conname = 'chk_seats_lock_fields') THEN
				ALTER TABLE seats ADD CONSTRAINT chk_seats_lock_fields CHECK (
					(status = 'RESERVED' AND locked_by IS NOT NULL AND locked_at IS NOT NULL)
					OR (status <> 'RESERVED' AND locked_by IS NULL AND locked_at IS NULL)
				);
			END IF;
		END $$;
	`).Error
	if err != nil {
		return fmt.Errorf("failed to add seat lock constraint: %w", err)
	}

	err = db.Exec(`
		DO $$
		BEGIN
			IF NOT EXISTS (SELECT 1 FROM pg_constraint WHERE conname = 'chk_seats_booked') THEN
				ALTER TABLE seats ADD CONSTRAINT chk_seats_booked CHECK (
					status <> 'BOOKED' OR booking_id IS NOT NULL
				);
			END IF;
		END $$;
	`).Error
	if err != nil {
		return fmt.Errorf("failed to add booked seat constraint: %w", err)
	}

	// The expiry sweep only ever scans reserved seats
	err = db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_seats_reserved_locked_at
		ON seats (locked_at) WHERE status = 'RESERVED';
	`).Error
	if err != nil {
		return fmt.Errorf("failed to add reserved seat index: %w", err)
	}

	return nil
}
