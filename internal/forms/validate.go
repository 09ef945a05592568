package forms

import (
	"fmt"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

// ValidationError names every field that blocked a submission, in form order.
type ValidationError struct {
	Missing []string `json:"missing"`
	Invalid []string `json:"invalid"`
}

func (e *ValidationError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "الحقول التالية مطلوبة: "+strings.Join(e.Missing, "، "))
	}
	if len(e.Invalid) > 0 {
		parts = append(parts, "قيم غير صحيحة: "+strings.Join(e.Invalid, "، "))
	}
	return strings.Join(parts, " | ")
}

// Validate checks every field of the submission against its category schema
// and reports all problems at once. today bounds the date fields.
func Validate(s *Submission, today time.Time) error {
	verr := &ValidationError{}
	minDate, _ := time.Parse(dateLayout, MinDate)
	maxDate := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)

	for _, f := range s.Category.Fields {
		required := f.Required || (f.RequiredWhen != nil && s.active(f))
		switch f.Kind {
		case KindFile:
			if required && !s.Files[f.Key].present() {
				verr.Missing = append(verr.Missing, f.Label)
			}
		case KindNumber:
			raw := s.Value(f.Key)
			if raw == "" {
				if required {
					verr.Missing = append(verr.Missing, f.Label)
				}
				continue
			}
			n, ok := s.Number(f.Key)
			if !ok {
				verr.Invalid = append(verr.Invalid, f.Label+": يجب أن يكون رقماً صحيحاً")
				continue
			}
			if n < f.Min {
				verr.Invalid = append(verr.Invalid, fmt.Sprintf("%s: الحد الأدنى %d", f.Label, f.Min))
			}
		case KindDate:
			raw := s.Value(f.Key)
			if raw == "" {
				if required {
					verr.Missing = append(verr.Missing, f.Label)
				}
				continue
			}
			d, err := time.Parse(dateLayout, raw)
			if err != nil {
				verr.Invalid = append(verr.Invalid, f.Label+": تاريخ غير صحيح")
				continue
			}
			if f.Bounded && (d.Before(minDate) || d.After(maxDate)) {
				verr.Invalid = append(verr.Invalid, fmt.Sprintf("%s: يجب أن يكون بين %s و %s", f.Label, MinDate, maxDate.Format(dateLayout)))
			}
		case KindChoice:
			raw := s.Value(f.Key)
			if raw == "" {
				if required {
					verr.Missing = append(verr.Missing, f.Label)
				}
				continue
			}
			if !contains(f.Options, raw) {
				verr.Invalid = append(verr.Invalid, f.Label+": قيمة غير معروفة")
			}
		default:
			if required && s.Value(f.Key) == "" {
				verr.Missing = append(verr.Missing, f.Label)
			}
		}
	}

	if len(verr.Missing) == 0 && len(verr.Invalid) == 0 {
		return nil
	}
	return verr
}

func contains(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
