package forms

import (
	"strconv"
	"strings"
)

type Attachment struct {
	Name        string
	ContentType string
	Data        []byte
}

func (a *Attachment) present() bool {
	return a != nil && len(a.Data) > 0
}

// IsImage reports whether the attachment can be laid out as a picture.
func (a *Attachment) IsImage() bool {
	return a != nil && strings.HasPrefix(a.ContentType, "image/")
}

// Submission is one filled-in form. Values holds the raw text of every
// non-file field, including dates and numbers; Files holds attachments by
// field key.
type Submission struct {
	Category Category
	Values   map[string]string
	Files    map[string]*Attachment
}

func NewSubmission(c Category) *Submission {
	return &Submission{
		Category: c,
		Values:   map[string]string{},
		Files:    map[string]*Attachment{},
	}
}

func (s *Submission) Value(key string) string {
	return strings.TrimSpace(s.Values[key])
}

// Number returns a numeric field. ok is false when the field is unset or
// not an integer.
func (s *Submission) Number(key string) (int64, bool) {
	raw := s.Value(key)
	if raw == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// active reports whether a conditional field applies to this submission.
func (s *Submission) active(f Field) bool {
	if f.RequiredWhen == nil {
		return true
	}
	return s.Value(f.RequiredWhen.Field) == f.RequiredWhen.Value
}

// Attachments returns one entry per key of UploadOrder. Keys without a file,
// and conditional files whose condition does not hold, are nil.
func (s *Submission) Attachments() []*Attachment {
	order := s.Category.UploadOrder()
	out := make([]*Attachment, len(order))
	for i, key := range order {
		f, _ := s.Category.Field(key)
		if !s.active(f) {
			continue
		}
		if a := s.Files[key]; a.present() {
			out[i] = a
		}
	}
	return out
}
