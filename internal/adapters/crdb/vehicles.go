package crdb

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/vehicle-rentals/internal/domain"
)

func (r *Repository) CreateVehicle(ctx context.Context, v *domain.Vehicle) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO vehicles (owner_id, make, model, plate, year, price_per_day)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, v.OwnerID, v.Make, v.Model, v.Plate, v.Year, v.PricePerDay).Scan(&v.ID)
	if err != nil {
		return errors.Wrap(translate(err), "insert vehicle")
	}
	return nil
}

func (r *Repository) GetVehicle(ctx context.Context, id int64) (*domain.Vehicle, error) {
	var v domain.Vehicle
	err := r.pool.QueryRow(ctx, `
		SELECT id, owner_id, make, model, plate, year, price_per_day
		FROM vehicles WHERE id = $1
	`, id).Scan(&v.ID, &v.OwnerID, &v.Make, &v.Model, &v.Plate, &v.Year, &v.PricePerDay)
	if err != nil {
		return nil, translate(err)
	}
	return &v, nil
}
