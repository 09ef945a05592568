package forms

// BuildRow lays a validated submission out in its category's column order.
// links holds one entry per key of UploadOrder; empty entries and inactive
// conditional attachments become empty cells. Numbers are written as
// integers, everything else as text.
func BuildRow(s *Submission, links []string) []any {
	linkByKey := map[string]string{}
	for i, key := range s.Category.UploadOrder() {
		if i < len(links) {
			linkByKey[key] = links[i]
		}
	}

	row := make([]any, 0, len(s.Category.layout))
	for _, key := range s.Category.layout {
		f, _ := s.Category.Field(key)
		switch f.Kind {
		case KindFile:
			if !s.active(f) {
				row = append(row, "")
				continue
			}
			row = append(row, linkByKey[key])
		case KindNumber:
			if n, ok := s.Number(key); ok {
				row = append(row, n)
			} else {
				row = append(row, "")
			}
		default:
			row = append(row, s.Value(key))
		}
	}
	return row
}
