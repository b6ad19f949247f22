package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/saeid-a/ClinicChatBack/internal/models"
)

type DoctorProfileRepository struct {
	db DBTX
}

func NewDoctorProfileRepository(db DBTX) *DoctorProfileRepository {
	return &DoctorProfileRepository{db: db}
}

func (r *DoctorProfileRepository) Create(ctx context.Context, profile *models.DoctorProfile) error {
	query := `
		INSERT INTO doctor_profiles (user_id, prefix, specialization)
		VALUES ($1, $2, $3)
		RETURNING id, is_approved, created_at, updated_at
	`
	return r.db.QueryRow(ctx, query, profile.UserID, profile.Prefix, profile.Specialization).
		Scan(&profile.ID, &profile.IsApproved, &profile.CreatedAt, &profile.UpdatedAt)
}

func (r *DoctorProfileRepository) GetByUserID(ctx context.Context, userID int64) (*models.DoctorProfile, error) {
	query := `
		SELECT id, user_id, prefix, specialization, is_approved, created_at, updated_at
		FROM doctor_profiles
		WHERE user_id = $1
	`
	var profile models.DoctorProfile
	err := r.db.QueryRow(ctx, query, userID).Scan(
		&profile.ID,
		&profile.UserID,
		&profile.Prefix,
		&profile.Specialization,
		&profile.IsApproved,
		&profile.CreatedAt,
		&profile.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

type DoctorListFilter struct {
	Specialization string
	ApprovedOnly   bool
	Offset         int
	Limit          int
}

// List returns directory entries ordered by name, plus the total matching
// the filter before pagination.
func (r *DoctorProfileRepository) List(ctx context.Context, filter DoctorListFilter) ([]models.DoctorListing, int, error) {
	where := []string{"u.role = 'doctor'"}
	args := []any{}
	if filter.Specialization != "" {
		args = append(args, "%"+escapeLike(filter.Specialization)+"%")
		where = append(where, fmt.Sprintf("dp.specialization ILIKE $%d", len(args)))
	}
	if filter.ApprovedOnly {
		where = append(where, "dp.is_approved")
	}
	clause := strings.Join(where, " AND ")

	var total int
	countQuery := `
		SELECT COUNT(*)
		FROM doctor_profiles dp
		JOIN users u ON u.id = dp.user_id
		WHERE ` + clause
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, filter.Limit, filter.Offset)
	query := `
		SELECT u.id, u.name, dp.prefix, dp.specialization, dp.is_approved
		FROM doctor_profiles dp
		JOIN users u ON u.id = dp.user_id
		WHERE ` + clause + fmt.Sprintf(`
		ORDER BY u.name ASC, u.id ASC
		LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	listings := make([]models.DoctorListing, 0, filter.Limit)
	for rows.Next() {
		var listing models.DoctorListing
		if err := rows.Scan(
			&listing.UserID,
			&listing.Name,
			&listing.Prefix,
			&listing.Specialization,
			&listing.IsApproved,
		); err != nil {
			return nil, 0, err
		}
		listings = append(listings, listing)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	return listings, total, nil
}

func (r *DoctorProfileRepository) GetListing(ctx context.Context, userID int64) (*models.DoctorListing, error) {
	query := `
		SELECT u.id, u.name, dp.prefix, dp.specialization, dp.is_approved
		FROM doctor_profiles dp
		JOIN users u ON u.id = dp.user_id
		WHERE u.id = $1 AND u.role = 'doctor'
	`
	var listing models.DoctorListing
	err := r.db.QueryRow(ctx, query, userID).Scan(
		&listing.UserID,
		&listing.Name,
		&listing.Prefix,
		&listing.Specialization,
		&listing.IsApproved,
	)
	if err != nil {
		return nil, err
	}
	return &listing, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLike makes s match literally inside an ILIKE pattern. Backslash is the
// default LIKE escape character in Postgres.
func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
