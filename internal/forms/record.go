package forms

import "strings"

type Entry struct {
	Label string `json:"label" yaml:"label"`
	Value string `json:"value" yaml:"value"`
}

type NamedAttachment struct {
	Caption    string
	Attachment *Attachment
}

// Record is the export form of a submission: a title, the text fields in
// form order, then the attachments that were provided.
type Record struct {
	Title       string
	FileName    string
	Entries     []Entry
	Attachments []NamedAttachment
}

func BuildRecord(s *Submission) Record {
	rec := Record{
		Title:    s.Category.Title,
		FileName: recordFileName(s),
	}
	for _, f := range s.Category.Fields {
		if f.Kind == KindFile {
			if !s.active(f) {
				continue
			}
			if a := s.Files[f.Key]; a.present() {
				rec.Attachments = append(rec.Attachments, NamedAttachment{Caption: f.Label, Attachment: a})
			}
			continue
		}
		rec.Entries = append(rec.Entries, Entry{Label: f.Label, Value: s.Value(f.Key)})
	}
	return rec
}

func recordFileName(s *Submission) string {
	id := sanitizeFileToken(s.Value("computer_no"))
	if id == "" {
		id = "record"
	}
	return s.Category.Slug + "-" + id + ".pdf"
}

func sanitizeFileToken(value string) string {
	var b strings.Builder
	for _, r := range value {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '-', r == '_':
			b.WriteRune(r)
		}
	}
	return b.String()
}
