package services

import (
	"database/sql"
	"log"
	"net/http"
	"sort"
	"strings"

	"github.com/metropass/backend/internal/models"
)

// defaultStations is the Line 2 topology seeded into an empty stations
// table. Ordinals encode position along the line and drive distance math.
var defaultStations = map[string]int{
	"monib":      0,
	"mekky":      1,
	"om_masryen": 2,
	"giza":       3,
	"faisal":     4,
	"cairouni":   5,
	"behos":      6,
	"dokki":      7,
	"opera":      8,
	"sadat":      9,
	"naguib":     10,
}

// StationTable resolves station names to ordinals. Station topology is fixed
// reference data: it is seeded and loaded once at startup and never mutated.
type StationTable struct {
	ordinals map[string]int
}

// NewStationTable seeds the stations table if empty and loads it into memory.
func NewStationTable(db *sql.DB) (*StationTable, error) {
	if err := seedStations(db); err != nil {
		return nil, err
	}

	rows, err := db.Query(`SELECT name, ordinal FROM stations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ordinals := make(map[string]int)
	for rows.Next() {
		var name string
		var ordinal int
		if err := rows.Scan(&name, &ordinal); err != nil {
			return nil, err
		}
		ordinals[strings.ToLower(name)] = ordinal
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	log.Printf("[STATION] Loaded %d stations", len(ordinals))
	return &StationTable{ordinals: ordinals}, nil
}

// NewStationTableFromMap builds a table directly from a name->ordinal map.
func NewStationTableFromMap(ordinals map[string]int) *StationTable {
	lowered := make(map[string]int, len(ordinals))
	for name, ordinal := range ordinals {
		lowered[strings.ToLower(name)] = ordinal
	}
	return &StationTable{ordinals: lowered}
}

func seedStations(db *sql.DB) error {
	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM stations`).Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	for name, ordinal := range defaultStations {
		if _, err := db.Exec(`
			INSERT INTO stations (name, ordinal) VALUES ($1, $2)
			ON CONFLICT (name) DO NOTHING
		`, name, ordinal); err != nil {
			return err
		}
	}
	log.Printf("[STATION] Seeded %d default stations", len(defaultStations))
	return nil
}

// Resolve maps a station name to its ordinal. Matching is case-insensitive.
func (st *StationTable) Resolve(name string) (int, error) {
	ordinal, ok := st.ordinals[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return 0, ErrInvalidStation
	}
	return ordinal, nil
}

// Distance returns the number of station units between two stations.
func (st *StationTable) Distance(from, to string) (int, error) {
	a, err := st.Resolve(from)
	if err != nil {
		return 0, err
	}
	b, err := st.Resolve(to)
	if err != nil {
		return 0, err
	}
	if a > b {
		return a - b, nil
	}
	return b - a, nil
}

// List returns all stations ordered by position on the line.
func (st *StationTable) List() []models.Station {
	stations := make([]models.Station, 0, len(st.ordinals))
	for name, ordinal := range st.ordinals {
		stations = append(stations, models.Station{Name: name, Ordinal: ordinal})
	}
	sort.Slice(stations, func(i, j int) bool {
		return stations[i].Ordinal < stations[j].Ordinal
	})
	return stations
}

// ListStations returns the station table
// @Summary List stations
// @Description Get all stations with their line ordinals
// @Tags stations
// @Produce json
// @Success 200 {object} object{stations=[]models.Station,count=int}
// @Router /stations [get]
func (st *StationTable) ListStations(w http.ResponseWriter, r *http.Request) {
	stations := st.List()
	SendJSON(w, http.StatusOK, map[string]any{
		"stations": stations,
		"count":    len(stations),
	})
}
