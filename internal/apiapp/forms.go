package apiapp

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/nrc-it/staffforms/internal/forms"
	"github.com/nrc-it/staffforms/internal/gate"
	"github.com/nrc-it/staffforms/internal/metrics"
	"github.com/nrc-it/staffforms/internal/storage"
	"go.uber.org/zap"
)

type formSchema struct {
	forms.Category
	Accept  string   `json:"accept"`
	Columns []string `json:"columns"`
}

type validationResponse struct {
	Error   string   `json:"error"`
	Missing []string `json:"missing"`
	Invalid []string `json:"invalid"`
}

type submitResponse struct {
	SubmissionID string   `json:"submissionId"`
	Message      string   `json:"message"`
	UploadErrors []string `json:"uploadErrors"`
}

func schemaFor(c forms.Category) formSchema {
	return formSchema{Category: c, Accept: forms.AcceptedAttachmentTypes(), Columns: c.Columns()}
}

func (s *Server) listForms(w http.ResponseWriter, r *http.Request) {
	all := forms.All()
	out := make([]formSchema, 0, len(all))
	for _, c := range all {
		out = append(out, schemaFor(c))
	}
	writeJSON(w, http.StatusOK, map[string]any{"forms": out})
}

func (s *Server) getForm(w http.ResponseWriter, r *http.Request) {
	c, ok := forms.Lookup(r.PathValue("category"))
	if !ok {
		writeError(w, http.StatusNotFound, msgUnknownForm)
		return
	}
	writeJSON(w, http.StatusOK, schemaFor(c))
}

// readSubmission resolves the category, parses the multipart body and
// validates it. It writes the error response itself and returns ok=false
// when the request cannot go further.
func (s *Server) readSubmission(w http.ResponseWriter, r *http.Request) (*forms.Submission, bool) {
	c, ok := forms.Lookup(r.PathValue("category"))
	if !ok {
		writeError(w, http.StatusNotFound, msgUnknownForm)
		return nil, false
	}
	sub, rejected, err := parseSubmission(w, r, c)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	if verr := validateSubmission(sub, rejected, s.now()); verr != nil {
		s.metrics.Submissions.WithLabelValues(c.Slug, metrics.Rejected).Inc()
		writeJSON(w, http.StatusUnprocessableEntity, validationResponse{
			Error:   verr.Error(),
			Missing: nonNil(verr.Missing),
			Invalid: nonNil(verr.Invalid),
		})
		return nil, false
	}
	return sub, true
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request) {
	sub, ok := s.readSubmission(w, r)
	if !ok {
		return
	}
	c := sub.Category
	submissionID := uuid.NewString()
	logger := s.requestLogger(r).With(
		zap.String("category", c.Slug),
		zap.String("submission_id", submissionID),
	)
	if sess, ok := r.Context().Value(gateSessionKey).(gate.Session); ok && sess.Category != "" && sess.Category != c.Slug {
		logger.Debug("gate opened from another form", zap.String("gate_category", sess.Category))
	}

	results := storage.UploadAll(r.Context(), s.files, c.Slug, sub.Attachments(), logger)
	for _, res := range results {
		switch {
		case res.Skipped:
			s.metrics.Uploads.WithLabelValues(c.Slug, metrics.Skipped).Inc()
		case res.Err != nil:
			s.metrics.Uploads.WithLabelValues(c.Slug, metrics.Failed).Inc()
		default:
			s.metrics.Uploads.WithLabelValues(c.Slug, metrics.OK).Inc()
		}
	}
	uploadErrors := make([]string, 0)
	for _, failure := range storage.Failures(results) {
		uploadErrors = append(uploadErrors, msgUploadFailed+failure)
	}

	row := forms.BuildRow(sub, storage.Links(results))
	if err := s.sheets.AppendRow(r.Context(), c, row); err != nil {
		logger.Error("append row", zap.Error(err))
		s.metrics.Submissions.WithLabelValues(c.Slug, metrics.Failed).Inc()
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"error":        msgSheetFailed,
			"submissionId": submissionID,
			"uploadErrors": uploadErrors,
		})
		return
	}

	s.metrics.Submissions.WithLabelValues(c.Slug, metrics.OK).Inc()
	logger.Info("submission saved",
		zap.Int("columns", len(row)),
		zap.Int("upload_failures", len(uploadErrors)))
	writeJSON(w, http.StatusOK, submitResponse{
		SubmissionID: submissionID,
		Message:      msgSaved,
		UploadErrors: uploadErrors,
	})
}

func (s *Server) exportPDF(w http.ResponseWriter, r *http.Request) {
	sub, ok := s.readSubmission(w, r)
	if !ok {
		return
	}
	c := sub.Category
	rec := forms.BuildRecord(sub)
	reference := uuid.NewString()
	doc, err := s.renderer.Render(rec, reference)
	if err != nil {
		s.requestLogger(r).Error("render pdf", zap.String("category", c.Slug), zap.Error(err))
		s.metrics.PDFRenders.WithLabelValues(c.Slug, metrics.Failed).Inc()
		writeError(w, http.StatusInternalServerError, msgPDFFailed)
		return
	}
	s.metrics.PDFRenders.WithLabelValues(c.Slug, metrics.OK).Inc()

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="`+rec.FileName+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(doc.Data)))
	w.Header().Set("X-PDF-Pages", strconv.Itoa(doc.Pages))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(doc.Data)
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
