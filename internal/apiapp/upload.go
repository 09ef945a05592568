package apiapp

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/nrc-it/staffforms/internal/forms"
)

const (
	maxFileBytes = 10 << 20
	// maxFormOverhead covers the text fields and multipart framing.
	maxFormOverhead = 2 << 20
	maxMemoryBytes  = 32 << 20
)

var allowedAttachmentMimes = []string{
	"image/jpeg",
	"image/png",
	"image/webp",
	"application/pdf",
}

var (
	errUnsupportedType = errors.New("نوع الملف غير مدعوم")
	errFileTooLarge    = fmt.Errorf("حجم الملف أكبر من %d ميغابايت", maxFileBytes>>20)
)

// parseSubmission reads a multipart form into a submission. Attachments that
// are too large or of an unsupported type are left out and reported by label
// in rejected.
func parseSubmission(w http.ResponseWriter, r *http.Request, c forms.Category) (*forms.Submission, []string, error) {
	fileCount := int64(len(c.UploadOrder()))
	r.Body = http.MaxBytesReader(w, r.Body, fileCount*maxFileBytes+maxFormOverhead)
	if err := r.ParseMultipartForm(maxMemoryBytes); err != nil {
		return nil, nil, errors.New("invalid upload form")
	}

	sub := forms.NewSubmission(c)
	var rejected []string
	for _, f := range c.Fields {
		if f.Kind != forms.KindFile {
			sub.Values[f.Key] = r.FormValue(f.Key)
			continue
		}
		att, err := parseOptionalUploadedFile(r, f.Key, maxFileBytes, allowedAttachmentMimes)
		if err != nil {
			rejected = append(rejected, f.Label+": "+err.Error())
			continue
		}
		if att != nil {
			sub.Files[f.Key] = att
		}
	}
	return sub, rejected, nil
}

// validateSubmission runs the form rules and folds in attachment problems
// found while parsing. A rejected attachment is reported once, as invalid.
func validateSubmission(sub *forms.Submission, rejected []string, today time.Time) *forms.ValidationError {
	err := forms.Validate(sub, today)
	var verr *forms.ValidationError
	if err != nil && !errors.As(err, &verr) {
		verr = &forms.ValidationError{Invalid: []string{err.Error()}}
	}
	if len(rejected) == 0 {
		return verr
	}
	if verr == nil {
		verr = &forms.ValidationError{}
	}
	skip := map[string]bool{}
	for _, entry := range rejected {
		label, _, _ := strings.Cut(entry, ": ")
		skip[label] = true
	}
	missing := verr.Missing[:0:0]
	for _, label := range verr.Missing {
		if !skip[label] {
			missing = append(missing, label)
		}
	}
	verr.Missing = missing
	verr.Invalid = append(verr.Invalid, rejected...)
	return verr
}

func parseOptionalUploadedFile(r *http.Request, fieldName string, maxBytes int64, allowedMimes []string) (*forms.Attachment, error) {
	file, header, err := r.FormFile(fieldName)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return nil, nil
		}
		return nil, errors.New("invalid uploaded file")
	}
	defer file.Close()
	raw, err := io.ReadAll(io.LimitReader(file, maxBytes+1))
	if err != nil {
		return nil, errors.New("unable to read uploaded file")
	}
	if len(raw) == 0 {
		return nil, nil
	}
	if int64(len(raw)) > maxBytes {
		return nil, errFileTooLarge
	}
	detected := http.DetectContentType(raw)
	if len(allowedMimes) > 0 {
		ok := false
		for _, allowed := range allowedMimes {
			if strings.EqualFold(strings.TrimSpace(allowed), detected) {
				ok = true
				break
			}
		}
		if !ok {
			return nil, errUnsupportedType
		}
	}
	fileName := strings.TrimSpace(filepath.Base(header.Filename))
	if fileName == "" || fileName == "." {
		fileName = fieldName + extensionFor(detected)
	}
	return &forms.Attachment{Name: fileName, ContentType: detected, Data: raw}, nil
}

func extensionFor(mime string) string {
	switch mime {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "application/pdf":
		return ".pdf"
	default:
		return ".bin"
	}
}
