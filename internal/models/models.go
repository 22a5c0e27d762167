package models

import (
	"database/sql/driver"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// DateLayout is the wire and storage format for calendar dates.
const DateLayout = "2006-01-02"

// ReportDateLayout is the date format used in roster exports.
const ReportDateLayout = "02/01/2006"

const MaxNameLength = 150

// Roster status labels
type PersonStatus string

const (
	PersonStatusNoImages       PersonStatus = "no images"
	PersonStatusImagesUploaded PersonStatus = "images uploaded"
	PersonStatusVideoGenerated PersonStatus = "video generated"
)

// Date is a calendar date without a time component.
type Date struct {
	time.Time
}

func NewDate(year int, month time.Month, day int) Date {
	return Date{time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", s)
	}
	return Date{t}, nil
}

func (d Date) String() string {
	return d.Format(DateLayout)
}

func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

func (d *Date) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Value stores the date as YYYY-MM-DD, which both DATE columns and SQLite text accept.
func (d Date) Value() (driver.Value, error) {
	if d.IsZero() {
		return nil, nil
	}
	return d.String(), nil
}

func (d *Date) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*d = Date{}
		return nil
	case time.Time:
		*d = NewDate(v.Year(), v.Month(), v.Day())
		return nil
	case string:
		return d.scanText(v)
	case []byte:
		return d.scanText(string(v))
	default:
		return fmt.Errorf("cannot scan %T into Date", value)
	}
}

func (d *Date) scanText(s string) error {
	if len(s) > len(DateLayout) {
		s = s[:len(DateLayout)]
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Models

type Person struct {
	ID              int64     `json:"id"`
	Name            string    `json:"name"`
	BirthDate       Date      `json:"birth_date"`
	DeathDate       Date      `json:"death_date"`
	QRPath          *string   `json:"qr_path,omitempty"`    // Relative to the public root, e.g. "qrcodes/qr_7.png"
	ImagesUploaded  bool      `json:"images_uploaded"`
	VideoProcessing bool      `json:"video_processing"`
	VideoGenerated  bool      `json:"video_generated"`
	VideoPath       *string   `json:"video_path,omitempty"` // Relative to the public root, e.g. "videos/memorial_7_1700000000.mp4"
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Status is the roster status shown in exports.
func (p *Person) Status() PersonStatus {
	switch {
	case p.VideoGenerated:
		return PersonStatusVideoGenerated
	case p.ImagesUploaded:
		return PersonStatusImagesUploaded
	default:
		return PersonStatusNoImages
	}
}

// CanGenerateVideo reports whether a video job may be enqueued for this person.
func (p *Person) CanGenerateVideo() bool {
	return p.ImagesUploaded && !p.VideoGenerated && !p.VideoProcessing
}

// DTOs for API requests and responses

type CreatePersonRequest struct {
	Name      string `json:"name"`
	BirthDate Date   `json:"birth_date"`
	DeathDate Date   `json:"death_date"`
}

// Validate checks the request fields. Death before birth is accepted as-is.
func (r *CreatePersonRequest) Validate() error {
	name := strings.TrimSpace(r.Name)
	if name == "" {
		return fmt.Errorf("name is required")
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return fmt.Errorf("name must be at most %d characters", MaxNameLength)
	}
	if r.BirthDate.IsZero() {
		return fmt.Errorf("birth_date is required")
	}
	if r.DeathDate.IsZero() {
		return fmt.Errorf("death_date is required")
	}
	return nil
}

type PersonResponse struct {
	Person
	Status     PersonStatus `json:"status"`
	QRURL      *string      `json:"qr_url,omitempty"`
	VideoURL   *string      `json:"video_url,omitempty"`
	ImageFiles []string     `json:"image_files"`
}

type ListPersonsResponse struct {
	Persons []PersonResponse `json:"persons"`
	Total   int              `json:"total"`
	Search  string           `json:"search,omitempty"`
}

type GenerateVideoResponse struct {
	PersonID        int64 `json:"person_id"`
	VideoProcessing bool  `json:"video_processing"`
}
