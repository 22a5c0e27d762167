package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/bobarin/memorial/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()

	database, err := New("", filepath.Join(t.TempDir(), "instance", "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	return database
}

func createTestPerson(t *testing.T, database *DB, name string) *models.Person {
	t.Helper()

	person := &models.Person{
		Name:      name,
		BirthDate: models.NewDate(1950, time.May, 4),
		DeathDate: models.NewDate(2021, time.August, 19),
	}
	require.NoError(t, database.CreatePerson(context.Background(), person))
	return person
}

func TestCreateAndGetPerson(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()

	person := createTestPerson(t, database, "María López")
	assert.Positive(t, person.ID)
	assert.False(t, person.CreatedAt.IsZero())

	found, err := database.GetPerson(ctx, person.ID)
	require.NoError(t, err)
	assert.Equal(t, "María López", found.Name)
	assert.Equal(t, person.BirthDate, found.BirthDate)
	assert.Equal(t, person.DeathDate, found.DeathDate)
	assert.Nil(t, found.QRPath)
	assert.Nil(t, found.VideoPath)
	assert.False(t, found.ImagesUploaded)
	assert.False(t, found.VideoProcessing)
	assert.False(t, found.VideoGenerated)
}

func TestGetPersonNotFound(t *testing.T) {
	database := setupTestDB(t)

	_, err := database.GetPerson(context.Background(), 999)
	assert.ErrorIs(t, err, ErrPersonNotFound)
}

func TestListPersons(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()

	first := createTestPerson(t, database, "Juan Pérez")
	second := createTestPerson(t, database, "Ana Juárez")
	third := createTestPerson(t, database, "Luis 100%")

	all, err := database.ListPersons(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []int64{third.ID, second.ID, first.ID}, []int64{all[0].ID, all[1].ID, all[2].ID})

	matches, err := database.ListPersons(ctx, "JUAN")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, first.ID, matches[0].ID)

	wildcard, err := database.ListPersons(ctx, "%")
	require.NoError(t, err)
	require.Len(t, wildcard, 1)
	assert.Equal(t, third.ID, wildcard[0].ID)

	none, err := database.ListPersons(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestListPersonsForExport(t *testing.T) {
	database := setupTestDB(t)

	a := createTestPerson(t, database, "A")
	b := createTestPerson(t, database, "B")

	persons, err := database.ListPersonsForExport(context.Background())
	require.NoError(t, err)
	require.Len(t, persons, 2)
	assert.Equal(t, a.ID, persons[0].ID)
	assert.Equal(t, b.ID, persons[1].ID)
}

func TestSetPersonQRPath(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()
	person := createTestPerson(t, database, "QR")

	require.NoError(t, database.SetPersonQRPath(ctx, person.ID, "qrcodes/qr_1.png"))

	found, err := database.GetPerson(ctx, person.ID)
	require.NoError(t, err)
	require.NotNil(t, found.QRPath)
	assert.Equal(t, "qrcodes/qr_1.png", *found.QRPath)

	assert.ErrorIs(t, database.SetPersonQRPath(ctx, 999, "x"), ErrPersonNotFound)
}

func TestMarkImagesUploadedOnce(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()
	person := createTestPerson(t, database, "Once")

	changed, err := database.MarkImagesUploaded(ctx, person.ID)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = database.MarkImagesUploaded(ctx, person.ID)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestClaimVideoProcessing(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()
	person := createTestPerson(t, database, "Claim")

	// No images yet
	claimed, err := database.ClaimVideoProcessing(ctx, person.ID)
	require.NoError(t, err)
	assert.False(t, claimed)

	_, err = database.MarkImagesUploaded(ctx, person.ID)
	require.NoError(t, err)

	claimed, err = database.ClaimVideoProcessing(ctx, person.ID)
	require.NoError(t, err)
	assert.True(t, claimed)

	// Already processing
	claimed, err = database.ClaimVideoProcessing(ctx, person.ID)
	require.NoError(t, err)
	assert.False(t, claimed)

	require.NoError(t, database.SetPersonVideoProcessing(ctx, person.ID, false))
	require.NoError(t, database.SetPersonVideo(ctx, person.ID, "videos/memorial_1_1.mp4"))

	// Already generated
	claimed, err = database.ClaimVideoProcessing(ctx, person.ID)
	require.NoError(t, err)
	assert.False(t, claimed)

	found, err := database.GetPerson(ctx, person.ID)
	require.NoError(t, err)
	assert.True(t, found.VideoGenerated)
	assert.False(t, found.VideoProcessing)
	require.NotNil(t, found.VideoPath)
	assert.Equal(t, "videos/memorial_1_1.mp4", *found.VideoPath)
}

func TestResetStaleProcessing(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()

	a := createTestPerson(t, database, "A")
	b := createTestPerson(t, database, "B")
	require.NoError(t, database.SetPersonVideoProcessing(ctx, a.ID, true))
	require.NoError(t, database.SetPersonVideoProcessing(ctx, b.ID, true))

	n, err := database.ResetStaleProcessing(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	found, err := database.GetPerson(ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, found.VideoProcessing)
}

func TestLikePattern(t *testing.T) {
	assert.Equal(t, `%ana%`, likePattern("Ana"))
	assert.Equal(t, `%50\%\_off%`, likePattern("50%_off"))
}
