package verification

import (
	"fmt"
	"strings"

	"github.com/educaid/docverify-worker/internal/classifier"
	"github.com/educaid/docverify-worker/internal/registry"
)

// enrollmentSignalsRequired is how many of the five enrollment-form signals must hold
const enrollmentSignalsRequired = 4

// evaluation carries everything a rule looks at for one document
type evaluation struct {
	dt             registry.DocumentType
	profile        Profile
	places         Places
	x              *extractor
	classification classifier.Result
	detect         func() (classifier.Result, bool)
	names          func(code string) string
	fields         map[FieldName]ExtractedField
}

// rule declares which fields a document type extracts and how they gate a pass.
// check returns no reasons when the document passes.
type rule struct {
	collect func(ev *evaluation)
	check   func(ev *evaluation) []Reason
}

var rules = map[string]rule{
	registry.RuleEnrollment:  {collect: collectEnrollment, check: checkEnrollment},
	registry.RuleGrades:      {collect: collectGrades, check: checkGrades},
	registry.RuleLetter:      {collect: collectLetter, check: checkLetter},
	registry.RuleCertificate: {collect: collectCertificate, check: checkCertificate},
}

func collectNames(ev *evaluation) {
	first, middle, last, combined := ev.x.names(ev.profile)
	ev.fields[FieldFirstName] = first
	ev.fields[FieldMiddleName] = middle
	ev.fields[FieldLastName] = last
	ev.fields[FieldStudentName] = combined
}

func collectUniversity(ev *evaluation) {
	if u, ok := ev.x.university(ev.profile.University); ok {
		ev.fields[FieldUniversity] = u
	}
}

func collectMunicipality(ev *evaluation) {
	names := append([]string{ev.places.Municipality}, ev.places.Aliases...)
	if f, ok := ev.x.place(names...); ok {
		f.RawValue = ev.places.Municipality
		ev.fields[FieldMunicipality] = f
	}
}

func collectEnrollment(ev *evaluation) {
	collectNames(ev)
	ev.fields[FieldCourse] = ev.x.course(ev.profile.Course)
	ev.fields[FieldYearLevel] = ev.x.yearLevel()
	collectUniversity(ev)
	ev.fields[FieldAcademicYear] = ev.x.academicYear()
	ev.fields[FieldStudentID] = ev.x.studentID()
}

func collectGrades(ev *evaluation) {
	collectNames(ev)
	collectUniversity(ev)
	ev.fields[FieldAcademicYear] = ev.x.academicYear()
	ev.fields[FieldStudentID] = ev.x.studentID()
}

func collectLetter(ev *evaluation) {
	collectNames(ev)
	collectMunicipality(ev)
}

func collectCertificate(ev *evaluation) {
	collectNames(ev)
	collectMunicipality(ev)
	if f, ok := ev.x.place(ev.profile.Barangay); ok {
		ev.fields[FieldBarangay] = f
	}
}

// Enrollment form: at least 4 of first name, last name, course, year level and
// the classifier must hold. A school that is visible but does not match the
// declared one, or a program that differs from the declared course, blocks the
// pass regardless of the count.
func checkEnrollment(ev *evaluation) []Reason {
	f := ev.fields
	signals := []struct {
		ok     bool
		reason func() Reason
	}{
		{f[FieldFirstName].Found, func() Reason { return notFound(FieldFirstName, "First name", ev.profile.FirstName) }},
		{f[FieldLastName].Found, func() Reason { return notFound(FieldLastName, "Last name", ev.profile.LastName) }},
		{f[FieldCourse].Found, func() Reason { return notFound(FieldCourse, "Course", ev.profile.Course) }},
		{f[FieldYearLevel].Found, func() Reason { return notFound(FieldYearLevel, "Year level", ev.profile.YearLevel) }},
		{ev.classification.Matched, ev.wrongType},
	}

	held := 0
	for _, s := range signals {
		if s.ok {
			held++
		}
	}

	var reasons []Reason
	if held < enrollmentSignalsRequired {
		for _, s := range signals {
			if !s.ok {
				reasons = append(reasons, s.reason())
			}
		}
	}

	if u, ok := f[FieldUniversity]; ok && u.Found && !u.Matched {
		reasons = append(reasons, Reason{
			Code:     ReasonFieldMismatch,
			Field:    string(FieldUniversity),
			Expected: ev.profile.University,
			Found:    fmt.Sprintf("%.0f%% similar", u.Similarity),
			Message:  fmt.Sprintf("The school on the form does not match your registered university (%s)", ev.profile.University),
		})
	}
	if c := f[FieldCourse]; c.Found && strings.TrimSpace(ev.profile.Course) != "" && !c.Matched {
		reasons = append(reasons, Reason{
			Code:     ReasonFieldMismatch,
			Field:    string(FieldCourse),
			Expected: ev.profile.Course,
			Found:    c.NormalizedValue,
			Message:  fmt.Sprintf("The program on the form (%s) does not match your registered course (%s)", c.NormalizedValue, ev.profile.Course),
		})
	}
	return reasons
}

// Grades: any part of the name, the school, and an academic keyword.
func checkGrades(ev *evaluation) []Reason {
	var reasons []Reason
	if !ev.fields[FieldFirstName].Found && !ev.fields[FieldLastName].Found {
		reasons = append(reasons, notFound(FieldStudentName, "Your name", ev.fields[FieldStudentName].RawValue))
	}
	u, declared := ev.fields[FieldUniversity]
	if !declared || !(u.Found || ev.x.institutionMentioned(ev.profile.University)) {
		reasons = append(reasons, Reason{
			Code:     ReasonKeywordMissing,
			Field:    string(FieldUniversity),
			Expected: ev.profile.University,
			Message:  "Your school's name was not found on the grades document",
		})
	}
	if !ev.classification.Matched {
		reasons = append(reasons, ev.wrongType())
	}
	return reasons
}

// Letter: surname, municipality and the addressee keyword, no partial credit.
func checkLetter(ev *evaluation) []Reason {
	var reasons []Reason
	if !ev.fields[FieldLastName].Found {
		reasons = append(reasons, notFound(FieldLastName, "Last name", ev.profile.LastName))
	}
	if !ev.fields[FieldMunicipality].Found {
		reasons = append(reasons, notFound(FieldMunicipality, "Municipality", ev.places.Municipality))
	}
	if !ev.classification.Matched {
		reasons = append(reasons, ev.wrongType())
	}
	return reasons
}

// Certificate: surname, municipality, barangay when declared, and both certificate keywords.
func checkCertificate(ev *evaluation) []Reason {
	reasons := checkLetter(ev)
	if b, declared := ev.fields[FieldBarangay]; declared && !b.Found {
		reasons = append(reasons, notFound(FieldBarangay, "Barangay", ev.profile.Barangay))
	}
	return reasons
}

func notFound(field FieldName, label, expected string) Reason {
	msg := fmt.Sprintf("%s was not found on the document", label)
	if strings.TrimSpace(expected) != "" {
		msg = fmt.Sprintf("%s %q was not found on the document", label, expected)
	}
	return Reason{
		Code:     ReasonFieldNotFound,
		Field:    string(field),
		Expected: expected,
		Message:  msg,
	}
}

// wrongType explains a classifier rejection, naming what the upload looks like when possible.
func (ev *evaluation) wrongType() Reason {
	r := Reason{
		Code:     ReasonWrongDocumentType,
		Field:    string(FieldDocumentType),
		Expected: ev.dt.Name,
	}
	if detected, ok := ev.detect(); ok && detected.DocumentType != ev.dt.Code {
		r.Found = ev.names(detected.DocumentType)
		r.Message = fmt.Sprintf("This looks like a %s, not a %s", r.Found, ev.dt.Name)
		return r
	}
	r.Message = fmt.Sprintf("This does not look like a %s (missing: %s)", ev.dt.Name, strings.Join(ev.classification.Missing, ", "))
	return r
}
