package crdb

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/vehicle-rentals/internal/domain"
)

// CreateUser is used for seeding; registration lives elsewhere.
func (r *Repository) CreateUser(ctx context.Context, u *domain.User) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO users (name, email, role, is_active)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, u.Name, u.Email, string(u.Role), u.IsActive).Scan(&u.ID)
	if err != nil {
		return errors.Wrap(translate(err), "insert user")
	}
	return nil
}

func (r *Repository) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, email, role, is_active FROM users ORDER BY id`)
	if err != nil {
		return nil, errors.Wrap(err, "query users")
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		var u domain.User
		var role string
		if err := rows.Scan(&u.ID, &u.Name, &u.Email, &role, &u.IsActive); err != nil {
			return nil, errors.Wrap(err, "scan user")
		}
		u.Role = domain.Role(role)
		users = append(users, u)
	}
	return users, errors.Wrap(rows.Err(), "iterate users")
}
