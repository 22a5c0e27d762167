package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bobarin/memorial/internal/models"
)

// ErrPersonNotFound is returned when no person matches the given id.
var ErrPersonNotFound = errors.New("person not found")

const personColumns = `
	id, name, birth_date, death_date, qr_path,
	images_uploaded, video_processing, video_generated, video_path,
	created_at, updated_at
`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPerson(row rowScanner, p *models.Person) error {
	return row.Scan(
		&p.ID, &p.Name, &p.BirthDate, &p.DeathDate, &p.QRPath,
		&p.ImagesUploaded, &p.VideoProcessing, &p.VideoGenerated, &p.VideoPath,
		&p.CreatedAt, &p.UpdatedAt,
	)
}

func (db *DB) CreatePerson(ctx context.Context, person *models.Person) error {
	query := `
		INSERT INTO persons (
			name, birth_date, death_date, images_uploaded,
			video_processing, video_generated, created_at, updated_at
		) VALUES ($1, $2, $3, FALSE, FALSE, FALSE, $4, $5)
		RETURNING id
	`

	now := time.Now().UTC()
	if err := db.QueryRowContext(
		ctx, query,
		person.Name, person.BirthDate, person.DeathDate, now, now,
	).Scan(&person.ID); err != nil {
		return fmt.Errorf("failed to create person: %w", err)
	}

	person.CreatedAt = now
	person.UpdatedAt = now
	return nil
}

func (db *DB) GetPerson(ctx context.Context, id int64) (*models.Person, error) {
	query := `SELECT ` + personColumns + ` FROM persons WHERE id = $1`

	person := &models.Person{}
	err := scanPerson(db.QueryRowContext(ctx, query, id), person)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("person %d: %w", id, ErrPersonNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get person: %w", err)
	}

	return person, nil
}

// ListPersons returns persons newest first. A non-empty search filters by a
// case-insensitive substring match on the name.
func (db *DB) ListPersons(ctx context.Context, search string) ([]models.Person, error) {
	search = strings.TrimSpace(search)
	if search == "" {
		return db.queryPersons(ctx, `SELECT `+personColumns+` FROM persons ORDER BY id DESC`)
	}

	query := `SELECT ` + personColumns + ` FROM persons WHERE LOWER(name) LIKE $1 ESCAPE '\' ORDER BY id DESC`
	return db.queryPersons(ctx, query, likePattern(search))
}

// ListPersonsForExport returns every person in ascending id order.
func (db *DB) ListPersonsForExport(ctx context.Context) ([]models.Person, error) {
	return db.queryPersons(ctx, `SELECT `+personColumns+` FROM persons ORDER BY id ASC`)
}

func (db *DB) queryPersons(ctx context.Context, query string, args ...interface{}) ([]models.Person, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list persons: %w", err)
	}
	defer rows.Close()

	persons := []models.Person{}
	for rows.Next() {
		var p models.Person
		if err := scanPerson(rows, &p); err != nil {
			return nil, fmt.Errorf("failed to scan person: %w", err)
		}
		persons = append(persons, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate persons: %w", err)
	}

	return persons, nil
}

func (db *DB) SetPersonQRPath(ctx context.Context, id int64, qrPath string) error {
	query := `UPDATE persons SET qr_path = $1, updated_at = $2 WHERE id = $3`
	return db.execOne(ctx, id, query, qrPath, time.Now().UTC(), id)
}

// MarkImagesUploaded flips images_uploaded to true. It returns false when the
// flag was already set, so a second upload batch can be rejected.
func (db *DB) MarkImagesUploaded(ctx context.Context, id int64) (bool, error) {
	query := `
		UPDATE persons
		SET images_uploaded = TRUE, updated_at = $1
		WHERE id = $2 AND images_uploaded = FALSE
	`
	return db.execConditional(ctx, query, time.Now().UTC(), id)
}

// ClaimVideoProcessing sets video_processing for a person whose images are
// uploaded and whose video is neither generated nor in flight. It returns
// false when the person is not in that state.
func (db *DB) ClaimVideoProcessing(ctx context.Context, id int64) (bool, error) {
	query := `
		UPDATE persons
		SET video_processing = TRUE, updated_at = $1
		WHERE id = $2
			AND images_uploaded = TRUE
			AND video_generated = FALSE
			AND video_processing = FALSE
	`
	return db.execConditional(ctx, query, time.Now().UTC(), id)
}

func (db *DB) SetPersonVideoProcessing(ctx context.Context, id int64, processing bool) error {
	query := `UPDATE persons SET video_processing = $1, updated_at = $2 WHERE id = $3`
	return db.execOne(ctx, id, query, processing, time.Now().UTC(), id)
}

// SetPersonVideo records a successfully generated video.
func (db *DB) SetPersonVideo(ctx context.Context, id int64, videoPath string) error {
	query := `
		UPDATE persons
		SET video_path = $1, video_generated = TRUE, updated_at = $2
		WHERE id = $3
	`
	return db.execOne(ctx, id, query, videoPath, time.Now().UTC(), id)
}

// ResetStaleProcessing clears video_processing on every record. Used at startup
// when queued jobs did not survive the previous process.
func (db *DB) ResetStaleProcessing(ctx context.Context) (int64, error) {
	query := `UPDATE persons SET video_processing = FALSE, updated_at = $1 WHERE video_processing = TRUE`

	result, err := db.ExecContext(ctx, query, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to reset processing flags: %w", err)
	}
	return result.RowsAffected()
}

func (db *DB) execOne(ctx context.Context, id int64, query string, args ...interface{}) error {
	result, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update person %d: %w", id, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update person %d: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("person %d: %w", id, ErrPersonNotFound)
	}
	return nil
}

func (db *DB) execConditional(ctx context.Context, query string, args ...interface{}) (bool, error) {
	result, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to update person: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to update person: %w", err)
	}
	return n > 0, nil
}

// likePattern lowercases the search term and escapes LIKE wildcards.
func likePattern(search string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + replacer.Replace(strings.ToLower(search)) + "%"
}
