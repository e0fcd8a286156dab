package services

import (
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
)

var testStations = map[string]int{
	"monib":      0,
	"mekky":      1,
	"om_masryen": 2,
	"giza":       3,
	"faisal":     4,
}

func TestStationTable_Resolve(t *testing.T) {
	table := NewStationTableFromMap(testStations)

	t.Run("known station", func(t *testing.T) {
		ordinal, err := table.Resolve("giza")
		assert.NoError(t, err)
		assert.Equal(t, 3, ordinal)
	})

	t.Run("case insensitive", func(t *testing.T) {
		ordinal, err := table.Resolve("GiZa")
		assert.NoError(t, err)
		assert.Equal(t, 3, ordinal)

		ordinal, err = table.Resolve("  MONIB ")
		assert.NoError(t, err)
		assert.Equal(t, 0, ordinal)
	})

	t.Run("unknown station", func(t *testing.T) {
		_, err := table.Resolve("atlantis")
		assert.ErrorIs(t, err, ErrInvalidStation)
	})
}

func TestStationTable_Distance(t *testing.T) {
	table := NewStationTableFromMap(testStations)

	t.Run("forward and backward are symmetric", func(t *testing.T) {
		forward, err := table.Distance("monib", "giza")
		assert.NoError(t, err)
		backward, err := table.Distance("giza", "monib")
		assert.NoError(t, err)
		assert.Equal(t, 3, forward)
		assert.Equal(t, forward, backward)
	})

	t.Run("same station is zero", func(t *testing.T) {
		d, err := table.Distance("faisal", "faisal")
		assert.NoError(t, err)
		assert.Equal(t, 0, d)
	})

	t.Run("unknown endpoint", func(t *testing.T) {
		_, err := table.Distance("monib", "atlantis")
		assert.ErrorIs(t, err, ErrInvalidStation)
	})
}

func TestStationTable_List(t *testing.T) {
	table := NewStationTableFromMap(testStations)

	stations := table.List()
	assert.Len(t, stations, 5)
	for i := 1; i < len(stations); i++ {
		assert.Less(t, stations[i-1].Ordinal, stations[i].Ordinal)
	}
	assert.Equal(t, "monib", stations[0].Name)
}

func TestNewStationTable_LoadsExistingRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM stations").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	mock.ExpectQuery("SELECT name, ordinal FROM stations").
		WillReturnRows(sqlmock.NewRows([]string{"name", "ordinal"}).
			AddRow("monib", 0).
			AddRow("Mekky", 1).
			AddRow("giza", 3))

	table, err := NewStationTable(db)
	assert.NoError(t, err)

	// Mixed-case rows resolve case-insensitively.
	ordinal, err := table.Resolve("mekky")
	assert.NoError(t, err)
	assert.Equal(t, 1, ordinal)

	assert.NoError(t, mock.ExpectationsWereMet())
}
