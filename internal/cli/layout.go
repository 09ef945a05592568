package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/nrc-it/staffforms/internal/forms"
	"github.com/nrc-it/staffforms/internal/layoutcheck"
	"github.com/nrc-it/staffforms/internal/storage"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

type layoutDoc struct {
	Slug    string   `yaml:"slug"`
	Title   string   `yaml:"title"`
	Sheet   string   `yaml:"sheet"`
	Columns []string `yaml:"columns"`
}

func newLayoutCommand() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:         "layout [category]",
		Short:       "Print the spreadsheet column layout of one or all forms",
		Annotations: skipConfig,
		Args:        cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cats := forms.All()
			if len(args) == 1 {
				c, err := lookupCategory(args[0])
				if err != nil {
					return err
				}
				cats = []forms.Category{c}
			}
			return printLayouts(cmd.OutOrStdout(), cats, format)
		},
	}
	cmd.Flags().StringVar(&format, "format", "text", "output format: text or yaml")
	return cmd
}

func printLayouts(w io.Writer, cats []forms.Category, format string) error {
	switch format {
	case "yaml":
		docs := make([]layoutDoc, 0, len(cats))
		for _, c := range cats {
			docs = append(docs, layoutDoc{Slug: c.Slug, Title: c.Title, Sheet: c.SheetName, Columns: c.Columns()})
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(docs); err != nil {
			return err
		}
		return enc.Close()
	case "text":
		for i, c := range cats {
			if i > 0 {
				fmt.Fprintln(w)
			}
			fmt.Fprintf(w, "%s (%s)\n", c.Slug, c.SheetName)
			for n, col := range c.Columns() {
				fmt.Fprintf(w, "%3d  %s\n", n+1, col)
			}
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown format %q (text | yaml)", ErrUsage, format)
	}
}

func newVerifyLayoutCommand(a *app) *cobra.Command {
	var category, format string
	cmd := &cobra.Command{
		Use:   "verify-layout [file]",
		Short: "Check an exported .xlsx or .xls sheet, or the local workbook, against a form's column layout",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := lookupCategory(category)
			if err != nil {
				return err
			}

			var report layoutcheck.Report
			var source string
			if len(args) == 0 {
				store := storage.NewWorkbookStore(a.cfg.Local.Dir)
				source = store.Path(c)
				rows, err := store.Rows(c)
				if err != nil {
					return fmt.Errorf("read %s: %w", source, err)
				}
				report, err = layoutcheck.VerifyRows(rows, c)
				if err != nil {
					return fmt.Errorf("verify %s: %w", source, err)
				}
			} else {
				source = args[0]
				f, err := os.Open(source)
				if err != nil {
					return err
				}
				defer f.Close()
				report, err = layoutcheck.Verify(f, filepath.Base(source), c)
				if err != nil {
					return fmt.Errorf("verify %s: %w", source, err)
				}
			}

			if err := printReport(cmd.OutOrStdout(), report, format); err != nil {
				return err
			}
			if !report.OK() {
				return fmt.Errorf("%s: %d column(s) out of place", source, len(report.Problems))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "form slug: employees, contracts or service")
	cmd.Flags().StringVar(&format, "format", "text", "output format: text or yaml")
	_ = cmd.MarkFlagRequired("category")
	return cmd
}

func printReport(w io.Writer, r layoutcheck.Report, format string) error {
	switch format {
	case "yaml":
		return yaml.NewEncoder(w).Encode(r)
	case "text":
		status := "OK"
		if !r.OK() {
			status = "MISMATCH"
		}
		fmt.Fprintf(w, "%s: %s (%d data rows)\n", r.Category, status, r.DataRows)
		for _, p := range r.Problems {
			fmt.Fprintf(w, "  column %d: expected %q, found %q\n", p.Column, p.Expected, p.Found)
		}
		if len(r.Appended) > 0 {
			fmt.Fprintf(w, "  extra columns: %s\n", strings.Join(r.Appended, ", "))
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown format %q (text | yaml)", ErrUsage, format)
	}
}

func lookupCategory(slug string) (forms.Category, error) {
	if c, ok := forms.Lookup(slug); ok {
		return c, nil
	}
	if slug == "" {
		return forms.Category{}, fmt.Errorf("%w: a category is required", ErrUsage)
	}
	return forms.Category{}, errors.Join(ErrUsage, fmt.Errorf("unknown category %q (employees | contracts | service)", slug))
}
