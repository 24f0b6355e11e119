package domain

// ScoreRecord is a persisted mock-exam result. The JSON field names and their
// casing are fixed: they must round-trip against blobs written by existing
// installs of the app.
type ScoreRecord struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	Year       int     `json:"year"`
	Month      string  `json:"month"`
	Korean     int     `json:"korean"`
	Math       int     `json:"math"`
	English    int     `json:"english"`
	Science1   int     `json:"science1"`
	Science2   int     `json:"science2"`
	TotalGrade float64 `json:"totalGrade"`
}
