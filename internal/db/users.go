package db

import (
	"context"

	"github.com/google/uuid"
)

const getUserByID = `
SELECT id, name, email, care_person_email, emergency_contact_email, created_at, updated_at
FROM users
WHERE id = $1
`

// GetUserByID loads the profile fields the pipeline needs. Returns
// sql.ErrNoRows when the user does not exist.
func (q *Queries) GetUserByID(ctx context.Context, id uuid.UUID) (User, error) {
	row := q.db.QueryRowContext(ctx, getUserByID, id)
	var u User
	err := row.Scan(
		&u.ID,
		&u.Name,
		&u.Email,
		&u.CarePersonEmail,
		&u.EmergencyContactEmail,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	return u, err
}
