package matcher

// Thresholds are the similarity cut-offs (0-100) used to turn a score into a
// found/matched decision. The defaults were tuned against real scans; changing
// them changes acceptance behavior.
type Thresholds struct {
	FirstName         float64
	MiddleName        float64
	LastName          float64
	UniversityFound   float64
	UniversityMatched float64
	CourseMatch       float64
	PlaceMatch        float64

	// Per-word Levenshtein floors
	GeneralFuzzyWord float64
	NameFuzzyWord    float64

	// Exact word-match ratio that short-circuits the fuzzy pass in Match
	WordMatchAccept float64
}

// DefaultThresholds returns the production cut-offs.
func DefaultThresholds() Thresholds {
	return Thresholds{
		FirstName:         33,
		MiddleName:        33,
		LastName:          50,
		UniversityFound:   60,
		UniversityMatched: 70,
		CourseMatch:       70,
		PlaceMatch:        70,
		GeneralFuzzyWord:  80,
		NameFuzzyWord:     70,
		WordMatchAccept:   70,
	}
}

func (t Thresholds) FirstNameFound(similarity float64) bool  { return similarity >= t.FirstName }
func (t Thresholds) MiddleNameFound(similarity float64) bool { return similarity >= t.MiddleName }
func (t Thresholds) LastNameFound(similarity float64) bool   { return similarity >= t.LastName }

func (t Thresholds) UniversityIsFound(similarity float64) bool   { return similarity >= t.UniversityFound }
func (t Thresholds) UniversityIsMatched(similarity float64) bool { return similarity >= t.UniversityMatched }

func (t Thresholds) CourseAccepted(similarity float64) bool { return similarity >= t.CourseMatch }

// PlaceFound applies to municipality and barangay names.
func (t Thresholds) PlaceFound(similarity float64) bool { return similarity >= t.PlaceMatch }
