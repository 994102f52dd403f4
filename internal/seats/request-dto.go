package seats

// LockSeatsRequest is the body of POST /seats/lock and POST /seats/unlock
type LockSeatsRequest struct {
	ConcertID string   `json:"concertId" validate:"required"`
	SeatIDs   []string `json:"seatIds" validate:"required,min=1,max=50,dive,required"`
}

// UnlockSeatsRequest may omit seat ids to release every seat the caller holds
type UnlockSeatsRequest struct {
	ConcertID string   `json:"concertId" validate:"required"`
	SeatIDs   []string `json:"seatIds" validate:"omitempty,max=50,dive,required"`
}

// CreateSeatsRequest bulk imports a concert's seat map by category
type CreateSeatsRequest struct {
	Categories []CategoryLayout `json:"categories" validate:"required,min=1,dive"`
}

type CategoryLayout struct {
	Category    Category `json:"category" validate:"required,oneof=platinum gold silver"`
	Price       float64  `json:"price" validate:"gt=0"`
	Rows        []string `json:"rows" validate:"required,min=1,dive,required,max=8"`
	SeatsPerRow int      `json:"seatsPerRow" validate:"required,min=1,max=200"`
}
