package cli

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/nrc-it/staffforms/internal/forms"
	"github.com/nrc-it/staffforms/internal/pdfrender"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// recordFile is the offline input of the render command. File paths are
// relative to the YAML file.
type recordFile struct {
	Category string            `yaml:"category"`
	Values   map[string]string `yaml:"values"`
	Files    map[string]string `yaml:"files"`
}

func newRenderCommand(a *app) *cobra.Command {
	var out string
	var strict bool
	cmd := &cobra.Command{
		Use:   "render <record.yaml>",
		Short: "Render a record described in YAML to PDF without the server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sub, err := loadRecordFile(args[0])
			if err != nil {
				return err
			}
			if verr := forms.Validate(sub, time.Now()); verr != nil {
				if strict {
					return verr
				}
				a.logger.Warn("record is incomplete", zap.String("file", args[0]), zap.Error(verr))
			}

			renderer, err := pdfrender.New(pdfrender.Options{FontPath: a.cfg.PDF.Font, FontFamily: a.cfg.PDF.Family})
			if err != nil {
				return err
			}
			rec := forms.BuildRecord(sub)
			doc, err := renderer.Render(rec, uuid.NewString())
			if err != nil {
				return err
			}
			if out == "" {
				out = rec.FileName
			}
			if err := os.WriteFile(out, doc.Data, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d pages)\n", out, doc.Pages)
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "output path (default <category>-<computer no>.pdf)")
	cmd.Flags().BoolVar(&strict, "strict", false, "refuse to render a record that fails validation")
	return cmd
}

func loadRecordFile(path string) (*forms.Submission, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rf recordFile
	if err := yaml.Unmarshal(raw, &rf); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	c, err := lookupCategory(rf.Category)
	if err != nil {
		return nil, err
	}

	sub := forms.NewSubmission(c)
	for key, value := range rf.Values {
		if _, ok := c.Field(key); !ok {
			return nil, fmt.Errorf("%s: unknown field %q for %s", path, key, c.Slug)
		}
		sub.Values[key] = value
	}
	base := filepath.Dir(path)
	for key, name := range rf.Files {
		f, ok := c.Field(key)
		if !ok || f.Kind != forms.KindFile {
			return nil, fmt.Errorf("%s: %q is not an attachment of %s", path, key, c.Slug)
		}
		if !filepath.IsAbs(name) {
			name = filepath.Join(base, name)
		}
		data, err := os.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("read attachment %s: %w", key, err)
		}
		if len(data) == 0 {
			return nil, errors.New("attachment " + key + " is empty")
		}
		sub.Files[key] = &forms.Attachment{
			Name:        filepath.Base(name),
			ContentType: http.DetectContentType(data),
			Data:        data,
		}
	}
	return sub, nil
}
