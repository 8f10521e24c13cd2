package verification

import (
	"math"
	"regexp"
	"strings"

	"github.com/educaid/docverify-worker/internal/matcher"
)

// Fixed confidences for pattern-based extraction
const (
	programCodeConfidence   = 95
	coursePatternConfidence = 85
	yearLevelConfidence     = 85
	academicYearConfidence  = 90
	studentIDConfidence     = 75
)

var programField = regexp.MustCompile(`(?i)PROGRAM\s*[:;]\s*([A-Z]{2,6})\b`)

var programCodes = map[string]string{
	"IT":      "BS Information Technology",
	"CS":      "BS Computer Science",
	"BSIT":    "BS Information Technology",
	"BSCS":    "BS Computer Science",
	"CE":      "BS Civil Engineering",
	"EE":      "BS Electrical Engineering",
	"ME":      "BS Mechanical Engineering",
	"ECE":     "BS Electronics and Communications Engineering",
	"CPE":     "BS Computer Engineering",
	"BSCE":    "BS Civil Engineering",
	"BSEE":    "BS Electrical Engineering",
	"BSME":    "BS Mechanical Engineering",
	"BSECE":   "BS Electronics and Communications Engineering",
	"ARCH":    "BS Architecture",
	"ARCHI":   "BS Architecture",
	"BSA":     "BS Accountancy",
	"BSBA":    "BS Business Administration",
	"BSN":     "BS Nursing",
	"BSPSYCH": "BS Psychology",
	"ABPSYCH": "AB Psychology",
	"ABCOMM":  "AB Communication",
	"BEED":    "Bachelor of Elementary Education",
	"BSED":    "Bachelor of Secondary Education",
}

// Degree patterns; the longest match in the text wins.
var coursePatterns = compileAll(
	`(?i)\b(?:BS|B\.S\.|Bachelor.*?Science.*?in)?\s*Information\s+Technology\b`,
	`(?i)\b(?:BS|B\.S\.)\s*IT\b`,
	`(?i)\bBSIT\b`,
	`(?i)\b(?:BS|B\.S\.|Bachelor.*?Science.*?in)?\s*Computer\s+Science\b`,
	`(?i)\b(?:BS|B\.S\.)\s*CompSci\b`,
	`(?i)\b(?:BS|B\.S\.)\s*CS\b`,
	`(?i)\bBSCS\b`,
	`(?i)\b(?:BS|B\.S\.)\s*Civil\s+Engineering\b`,
	`(?i)\b(?:BS|B\.S\.)\s*Electrical\s+Engineering\b`,
	`(?i)\b(?:BS|B\.S\.)\s*Mechanical\s+Engineering\b`,
	`(?i)\b(?:BS|B\.S\.)\s*Electronics?\s+(?:and\s+)?Communications?\s+Engineering\b`,
	`(?i)\b(?:BS|B\.S\.)\s*Chemical\s+Engineering\b`,
	`(?i)\b(?:BS|B\.S\.)\s*Industrial\s+Engineering\b`,
	`(?i)\bBSCE\b`,
	`(?i)\bBSEE\b`,
	`(?i)\bBSME\b`,
	`(?i)\bBSECE\b`,
	`(?i)\b(?:BS|B\.S\.)\s*Architecture\b`,
	`(?i)\bBSArch\b`,
	`(?i)\b(?:BS|B\.S\.)\s*Accountancy\b`,
	`(?i)\b(?:BS|B\.S\.)\s*Accounting\b`,
	`(?i)\b(?:BS|B\.S\.)\s*Business\s+Administration\b`,
	`(?i)\b(?:BS|B\.S\.)\s*Management\b`,
	`(?i)\bBSA\b`,
	`(?i)\bBSBA\b`,
	`(?i)\bBSBM\b`,
	`(?i)\b(?:BS|B\.S\.)\s*Nursing\b`,
	`(?i)\b(?:BS|B\.S\.)\s*Pharmacy\b`,
	`(?i)\b(?:BS|B\.S\.)\s*Physical\s+Therapy\b`,
	`(?i)\b(?:BS|B\.S\.)\s*Medical\s+Technology\b`,
	`(?i)\bBSN\b`,
	`(?i)\b(?:BS|B\.S\.)\s*Psychology\b`,
	`(?i)\b(?:AB|A\.B\.)\s*Psychology\b`,
	`(?i)\bBSPsych\b`,
	`(?i)\bABPsych\b`,
	`(?i)\b(?:AB|A\.B\.)\s*Communication\b`,
	`(?i)\b(?:AB|A\.B\.)\s*Mass\s+Communication\b`,
	`(?i)\b(?:AB|A\.B\.)\s*Political\s+Science\b`,
	`(?i)\bABPolSci\b`,
	`(?i)\b(?:B\.?Ed|Bachelor.*?Education)\s*(?:Elementary|Secondary)?\b`,
	`(?i)\bBEED\b`,
	`(?i)\bBSED\b`,
	`(?i)\bBECEd\b`,
)

// Keyword fallback when no degree pattern matches, in priority order
var courseKeywords = []string{
	"Information Technology",
	"Computer Science",
	"Civil Engineering",
	"Electrical Engineering",
	"Mechanical Engineering",
	"Electronics and Communications Engineering",
	"Architecture",
	"Accountancy",
	"Business Administration",
	"Nursing",
	"Psychology",
	"Education",
	"Communication",
	"Political Science",
}

var (
	degreePrefix = regexp.MustCompile(`(?i)^(BS|B\.S\.|AB|A\.B\.|Bachelor\s+of\s+Science\s+in|Bachelor\s+of\s+Arts\s+in)\s+`)
	hasDegree    = regexp.MustCompile(`(?i)^(BS|AB|B\.Ed|Bachelor)`)
	expansions   = []struct {
		re   *regexp.Regexp
		full string
	}{
		{regexp.MustCompile(`(?i)\bCS\b`), "Computer Science"},
		{regexp.MustCompile(`(?i)\bIT\b`), "Information Technology"},
		{regexp.MustCompile(`(?i)\bCE\b`), "Civil Engineering"},
		{regexp.MustCompile(`(?i)\bEE\b`), "Electrical Engineering"},
		{regexp.MustCompile(`(?i)\bME\b`), "Mechanical Engineering"},
		{regexp.MustCompile(`(?i)\bECE\b`), "Electronics and Communications Engineering"},
		{regexp.MustCompile(`(?i)\bArchi\b`), "Architecture"},
		{regexp.MustCompile(`(?i)\bBA\b`), "Business Administration"},
		{regexp.MustCompile(`(?i)\bCompSci\b`), "Computer Science"},
	}
)

var yearLevels = []struct {
	re    *regexp.Regexp
	label string
}{
	{regexp.MustCompile(`(?i)\b(1st|First|I)\s*Year\b`), "1st Year College"},
	{regexp.MustCompile(`(?i)\b(2nd|Second|II)\s*Year\b`), "2nd Year College"},
	{regexp.MustCompile(`(?i)\b(3rd|Third|III)\s*Year\b`), "3rd Year College"},
	{regexp.MustCompile(`(?i)\b(4th|Fourth|IV)\s*Year\b`), "4th Year College"},
	{regexp.MustCompile(`(?i)\b(5th|Fifth|V)\s*Year\b`), "5th Year College"},
}

var academicYear = regexp.MustCompile(`\b(\d{4})\s*[-–]\s*(\d{4})\b`)

var studentIDPatterns = compileAll(
	`(?i)(?:ID|Student|Stud\.)\s*(?:No\.?|Number|#)?\s*:?\s*([A-Z0-9]{8,15})`,
	`\b([0-9]{4,6}[-\s]?[0-9]{4,6})\b`,
	`\b(\d{8,15})\b`,
)

func compileAll(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(p)
	}
	return out
}

// NormalizeCourse canonicalizes a course name: degree prefix stripped,
// standalone abbreviations expanded, "BS " prefix restored.
func NormalizeCourse(raw string) string {
	s := strings.TrimSpace(whitespace(raw))
	s = degreePrefix.ReplaceAllString(s, "")
	for _, e := range expansions {
		s = e.re.ReplaceAllString(s, e.full)
	}
	if !hasDegree.MatchString(s) {
		s = "BS " + s
	}
	return strings.TrimSpace(s)
}

// extractor evaluates fields against one document's text
type extractor struct {
	m    *matcher.Matcher
	th   matcher.Thresholds
	text string // reading-order OCR text, single spaced
}

func newExtractor(m *matcher.Matcher, fullText string) *extractor {
	return &extractor{m: m, th: m.Thresholds(), text: whitespace(fullText)}
}

// names returns first, middle, last and the combined student_name field.
// An undeclared middle name counts as found with similarity 100.
func (x *extractor) names(p Profile) (first, middle, last, combined ExtractedField) {
	first = x.name(p.FirstName, x.th.FirstNameFound)
	last = x.name(p.LastName, x.th.LastNameFound)
	if strings.TrimSpace(p.MiddleName) == "" {
		middle = ExtractedField{Found: true, Similarity: 100, Confidence: 100}
	} else {
		middle = x.name(p.MiddleName, x.th.MiddleNameFound)
	}

	score := round1((first.Similarity + middle.Similarity + last.Similarity) / 3)
	combined = ExtractedField{
		RawValue:        whitespace(p.FirstName + " " + p.MiddleName + " " + p.LastName),
		NormalizedValue: matcher.Normalize(p.FirstName + " " + p.MiddleName + " " + p.LastName),
		Found:           first.Found && last.Found,
		Similarity:      score,
		Confidence:      score,
	}
	return first, middle, last, combined
}

func (x *extractor) name(declared string, found func(float64) bool) ExtractedField {
	if strings.TrimSpace(declared) == "" {
		return ExtractedField{}
	}
	sim := x.m.MatchName(declared, x.text)
	return ExtractedField{
		RawValue:        declared,
		NormalizedValue: matcher.Normalize(declared),
		Found:           found(sim),
		Similarity:      sim,
		Confidence:      sim,
	}
}

// course finds the program on the form, then compares it with the declared course.
func (x *extractor) course(declared string) ExtractedField {
	f := x.detectCourse()
	if !f.Found || strings.TrimSpace(declared) == "" {
		return f
	}
	f.Similarity = x.m.Match(NormalizeCourse(declared), f.NormalizedValue)
	f.Matched = x.th.CourseAccepted(f.Similarity)
	return f
}

func (x *extractor) detectCourse() ExtractedField {
	if m := programField.FindStringSubmatch(x.text); m != nil {
		code := strings.ToUpper(strings.TrimSpace(m[1]))
		if full, ok := programCodes[code]; ok {
			return ExtractedField{
				RawValue:        code,
				NormalizedValue: NormalizeCourse(full),
				Found:           true,
				Confidence:      programCodeConfidence,
			}
		}
	}

	best := ""
	for _, re := range coursePatterns {
		if m := re.FindString(x.text); len(strings.TrimSpace(m)) > len(best) {
			best = strings.TrimSpace(m)
		}
	}
	if best != "" {
		return ExtractedField{
			RawValue:        best,
			NormalizedValue: NormalizeCourse(best),
			Found:           true,
			Confidence:      coursePatternConfidence,
		}
	}

	bestSim := 0.0
	for _, kw := range courseKeywords {
		if sim := x.m.Match(kw, x.text); sim >= x.th.CourseMatch && sim > bestSim {
			bestSim = sim
			best = kw
		}
	}
	if best != "" {
		return ExtractedField{
			RawValue:        best,
			NormalizedValue: NormalizeCourse(best),
			Found:           true,
			Confidence:      bestSim,
		}
	}
	return ExtractedField{}
}

func (x *extractor) yearLevel() ExtractedField {
	for _, yl := range yearLevels {
		if yl.re.MatchString(x.text) {
			return ExtractedField{
				RawValue:        yl.label,
				NormalizedValue: yl.label,
				Found:           true,
				Confidence:      yearLevelConfidence,
			}
		}
	}
	return ExtractedField{}
}

// university compares the declared school with the text. ok is false when
// nothing was declared, which makes the field not applicable.
func (x *extractor) university(declared string) (f ExtractedField, ok bool) {
	if strings.TrimSpace(declared) == "" {
		return ExtractedField{}, false
	}
	sim := x.m.Match(declared, x.text)
	return ExtractedField{
		RawValue:        declared,
		NormalizedValue: matcher.Normalize(declared),
		Found:           x.th.UniversityIsFound(sim),
		Matched:         x.th.UniversityIsMatched(sim),
		Similarity:      sim,
		Confidence:      sim,
	}, true
}

// institutionMentioned reports whether any significant word of the declared
// school (longer than 3 letters) appears on the document.
func (x *extractor) institutionMentioned(declared string) bool {
	words := matcher.Words(matcher.Normalize(x.text))
	for _, w := range matcher.Words(matcher.Normalize(declared)) {
		if len([]rune(w)) <= 3 {
			continue
		}
		for _, tw := range words {
			if tw == w {
				return true
			}
		}
	}
	return false
}

func (x *extractor) academicYear() ExtractedField {
	m := academicYear.FindStringSubmatch(x.text)
	if m == nil {
		return ExtractedField{}
	}
	v := m[1] + "-" + m[2]
	return ExtractedField{RawValue: m[0], NormalizedValue: v, Found: true, Confidence: academicYearConfidence}
}

func (x *extractor) studentID() ExtractedField {
	for _, re := range studentIDPatterns {
		if m := re.FindStringSubmatch(x.text); m != nil {
			id := strings.TrimSpace(m[1])
			return ExtractedField{RawValue: id, NormalizedValue: id, Found: true, Confidence: studentIDConfidence}
		}
	}
	return ExtractedField{}
}

// place scores the best of several spellings of a place name.
func (x *extractor) place(names ...string) (ExtractedField, bool) {
	best := ExtractedField{}
	declared := false
	for _, n := range names {
		if strings.TrimSpace(n) == "" {
			continue
		}
		declared = true
		sim := x.m.Match(n, x.text)
		if sim > best.Similarity || best.RawValue == "" {
			best = ExtractedField{
				RawValue:        n,
				NormalizedValue: matcher.Normalize(n),
				Found:           x.th.PlaceFound(sim),
				Similarity:      sim,
				Confidence:      sim,
			}
		}
	}
	return best, declared
}

func whitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
