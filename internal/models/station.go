package models

// Station maps a station name to its ordinal position on the line. The
// ordinal is a one-dimensional distance proxy: the fare for a trip is
// |ordinal(exit) - ordinal(entry)| times the current rate.
type Station struct {
	Name    string `json:"name" db:"name"`
	Ordinal int    `json:"ordinal" db:"ordinal"`
}
