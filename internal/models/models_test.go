package models

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDateJSON(t *testing.T) {
	var req CreatePersonRequest
	err := json.Unmarshal([]byte(`{"name":"Ana","birth_date":"1940-03-02","death_date":"2020-11-30"}`), &req)
	require.NoError(t, err)

	assert.Equal(t, NewDate(1940, time.March, 2), req.BirthDate)
	assert.Equal(t, "2020-11-30", req.DeathDate.String())

	data, err := json.Marshal(req.BirthDate)
	require.NoError(t, err)
	assert.Equal(t, `"1940-03-02"`, string(data))
}

func TestDateJSONInvalid(t *testing.T) {
	var d Date
	err := json.Unmarshal([]byte(`"02/03/1940"`), &d)
	assert.Error(t, err)
}

func TestPersonStatus(t *testing.T) {
	p := &Person{}
	assert.Equal(t, PersonStatusNoImages, p.Status())

	p.ImagesUploaded = true
	assert.Equal(t, PersonStatusImagesUploaded, p.Status())

	p.VideoGenerated = true
	assert.Equal(t, PersonStatusVideoGenerated, p.Status())
}

func TestCanGenerateVideo(t *testing.T) {
	tests := []struct {
		name   string
		person Person
		want   bool
	}{
		{"no images", Person{}, false},
		{"ready", Person{ImagesUploaded: true}, true},
		{"processing", Person{ImagesUploaded: true, VideoProcessing: true}, false},
		{"generated", Person{ImagesUploaded: true, VideoGenerated: true}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.person.CanGenerateVideo())
		})
	}
}

func TestCreatePersonRequestValidate(t *testing.T) {
	valid := CreatePersonRequest{
		Name:      "Ana",
		BirthDate: NewDate(1940, time.March, 2),
		DeathDate: NewDate(2020, time.November, 30),
	}
	assert.NoError(t, valid.Validate())

	// Death before birth is stored as given.
	reversed := valid
	reversed.DeathDate = NewDate(1930, time.January, 1)
	assert.NoError(t, reversed.Validate())

	blank := valid
	blank.Name = "   "
	assert.Error(t, blank.Validate())

	missing := valid
	missing.BirthDate = Date{}
	assert.Error(t, missing.Validate())

	// Length is counted in characters, not bytes.
	accented := valid
	accented.Name = strings.Repeat("é", MaxNameLength)
	assert.NoError(t, accented.Validate())
	accented.Name += "é"
	assert.Error(t, accented.Validate())
}

func TestDateScan(t *testing.T) {
	want := NewDate(1940, time.March, 2)

	inputs := []interface{}{
		"1940-03-02",
		[]byte("1940-03-02"),
		"1940-03-02T00:00:00Z",
		time.Date(1940, time.March, 2, 13, 45, 0, 0, time.UTC),
	}
	for _, in := range inputs {
		var d Date
		require.NoError(t, d.Scan(in))
		assert.Equal(t, want, d)
	}

	var d Date
	require.NoError(t, d.Scan(nil))
	assert.True(t, d.IsZero())

	assert.Error(t, d.Scan(42))
}

func TestDateValue(t *testing.T) {
	v, err := NewDate(2020, time.November, 30).Value()
	require.NoError(t, err)
	assert.Equal(t, "2020-11-30", v)

	v, err = Date{}.Value()
	require.NoError(t, err)
	assert.Nil(t, v)
}
