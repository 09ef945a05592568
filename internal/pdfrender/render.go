// Package pdfrender lays a captured record out as a paginated PDF: a title,
// one "value : label" line per field, then each attachment on its own page
// beneath its caption.
package pdfrender

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"strings"

	"github.com/go-pdf/fpdf"
	"github.com/nrc-it/staffforms/internal/forms"
	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const (
	margin        = 15.0
	titleSize     = 16.0
	bodySize      = 12.0
	lineHeight    = 8.0
	titleHeight   = 12.0
	captionHeight = 10.0
	footerHeight  = 8.0

	// Attachments wider than this are scaled down before embedding.
	maxImagePixels = 1600

	// Images whose header claims more pixels than this are not decoded.
	maxDecodePixels = 40_000_000
)

var errImageTooLarge = errors.New("image dimensions exceed the decode limit")

type Renderer struct {
	family string
	font   []byte
}

type Options struct {
	// FontPath points at a TTF with Arabic glyphs. Without it the core
	// Helvetica font is used and non-Latin text will not render.
	FontPath   string
	FontFamily string
}

func New(opts Options) (*Renderer, error) {
	r := &Renderer{family: "Helvetica"}
	if opts.FontPath == "" {
		return r, nil
	}
	data, err := os.ReadFile(opts.FontPath)
	if err != nil {
		return nil, fmt.Errorf("read pdf font: %w", err)
	}
	r.font = data
	r.family = opts.FontFamily
	if r.family == "" {
		r.family = "Body"
	}
	return r, nil
}

type Document struct {
	Data  []byte
	Pages int
}

// layout tracks the write cursor so page breaks are decided before drawing.
type layout struct {
	pdf       *fpdf.Fpdf
	tr        func(string) string
	family    string
	pageW     float64
	pageH     float64
	contentW  float64
	bottom    float64
	reference string
}

func (r *Renderer) Render(rec forms.Record, reference string) (*Document, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(margin, margin, margin)
	pdf.SetAutoPageBreak(false, margin)

	l := &layout{pdf: pdf, family: r.family, reference: reference, tr: func(s string) string { return s }}
	if r.font != nil {
		pdf.AddUTF8FontFromBytes(r.family, "", r.font)
		pdf.RTL()
	} else {
		l.tr = pdf.UnicodeTranslatorFromDescriptor("")
	}
	l.pageW, l.pageH = pdf.GetPageSize()
	l.contentW = l.pageW - 2*margin
	l.bottom = l.pageH - margin - footerHeight
	pdf.SetFooterFunc(l.footer)

	l.newPage()
	pdf.SetFont(l.family, "", titleSize)
	l.line(rec.Title, titleHeight, "C")

	pdf.SetFont(l.family, "", bodySize)
	for _, e := range rec.Entries {
		l.wrapped(fmt.Sprintf("%s : %s", e.Value, e.Label))
	}

	for i, a := range rec.Attachments {
		l.attachment(i, a)
	}

	if pdf.Err() {
		return nil, fmt.Errorf("render pdf: %w", pdf.Error())
	}
	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("write pdf: %w", err)
	}
	return &Document{Data: buf.Bytes(), Pages: pdf.PageNo()}, nil
}

func (l *layout) newPage() {
	l.pdf.AddPage()
	l.pdf.SetXY(margin, margin)
}

func (l *layout) footer() {
	l.pdf.SetY(l.pageH - margin)
	l.pdf.SetFont(l.family, "", 8)
	text := fmt.Sprintf("%d", l.pdf.PageNo())
	if l.reference != "" {
		text = l.reference + "  -  " + text
	}
	l.pdf.CellFormat(l.contentW, 5, l.tr(text), "", 0, "C", false, 0, "")
}

// room breaks to a new page when h more millimetres would cross the bottom
// margin.
func (l *layout) room(h float64) {
	if l.pdf.GetY()+h > l.bottom {
		l.newPage()
	}
}

func (l *layout) line(text string, h float64, align string) {
	l.room(h)
	l.pdf.SetX(margin)
	l.pdf.CellFormat(l.contentW, h, l.tr(text), "", 1, align, false, 0, "")
}

func (l *layout) wrapped(text string) {
	for _, ln := range l.split(l.tr(text)) {
		l.room(lineHeight)
		l.pdf.SetX(margin)
		l.pdf.CellFormat(l.contentW, lineHeight, ln, "", 1, "", false, 0, "")
	}
}

// split breaks already-translated text on spaces so every line fits the
// content width. A single word wider than the page keeps its own line.
func (l *layout) split(text string) []string {
	words := strings.Split(text, " ")
	limit := l.contentW - 2
	var lines []string
	current := ""
	for _, word := range words {
		candidate := word
		if current != "" {
			candidate = current + " " + word
		}
		if current != "" && l.pdf.GetStringWidth(candidate) > limit {
			lines = append(lines, current)
			current = word
			continue
		}
		current = candidate
	}
	return append(lines, current)
}

func (l *layout) attachment(index int, a forms.NamedAttachment) {
	l.newPage()
	l.pdf.SetFont(l.family, "", bodySize)
	l.line(a.Caption, captionHeight, "C")

	if !a.Attachment.IsImage() {
		l.wrapped(fmt.Sprintf("%s : %s", a.Attachment.Name, "ملف مرفق غير قابل للعرض"))
		return
	}
	data, imageType, w, h, err := prepareImage(a.Attachment.Data)
	if err != nil {
		l.wrapped(fmt.Sprintf("%s : %s", a.Attachment.Name, "تعذر قراءة الصورة"))
		return
	}

	name := fmt.Sprintf("attachment-%d", index)
	opts := fpdf.ImageOptions{ImageType: imageType}
	l.pdf.RegisterImageOptionsReader(name, opts, bytes.NewReader(data))

	top := l.pdf.GetY() + 2
	drawW, drawH := fitImage(float64(w), float64(h), l.contentW, l.bottom-top)
	x := margin + (l.contentW-drawW)/2
	l.pdf.ImageOptions(name, x, top, drawW, drawH, false, opts, 0, "")
	l.pdf.SetY(top + drawH)
}

// fitImage scales a w×h picture to the content width, then shrinks it again
// if it would run past the available height.
func fitImage(w, h, maxW, maxH float64) (float64, float64) {
	if w <= 0 || h <= 0 || maxW <= 0 || maxH <= 0 {
		return 0, 0
	}
	ratio := h / w
	drawW := maxW
	drawH := drawW * ratio
	if drawH > maxH {
		drawH = maxH
		drawW = drawH / ratio
	}
	return drawW, drawH
}

// prepareImage decodes png, jpeg or webp bytes, downsizes large pictures and
// re-encodes them in a format the PDF writer embeds directly. The header is
// checked first so a small file claiming huge dimensions is never decoded.
func prepareImage(raw []byte) ([]byte, string, int, int, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, "", 0, 0, err
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, "", 0, 0, errors.New("invalid image dimensions")
	}
	if int64(cfg.Width)*int64(cfg.Height) > maxDecodePixels {
		return nil, "", 0, 0, fmt.Errorf("%w: %dx%d", errImageTooLarge, cfg.Width, cfg.Height)
	}

	img, format, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, "", 0, 0, err
	}
	bounds := img.Bounds()
	if bounds.Dx() <= 0 || bounds.Dy() <= 0 {
		return nil, "", 0, 0, errors.New("invalid image dimensions")
	}

	if bounds.Dx() > maxImagePixels {
		targetH := bounds.Dy() * maxImagePixels / bounds.Dx()
		if targetH < 1 {
			targetH = 1
		}
		resized := image.NewRGBA(image.Rect(0, 0, maxImagePixels, targetH))
		xdraw.CatmullRom.Scale(resized, resized.Bounds(), img, bounds, xdraw.Over, nil)
		img = resized
		bounds = resized.Bounds()
	} else if format == "jpeg" {
		return raw, "JPG", bounds.Dx(), bounds.Dy(), nil
	} else if format == "png" {
		return raw, "PNG", bounds.Dx(), bounds.Dy(), nil
	}

	var out bytes.Buffer
	if strings.EqualFold(format, "jpeg") {
		if err := jpeg.Encode(&out, img, &jpeg.Options{Quality: 85}); err != nil {
			return nil, "", 0, 0, err
		}
		return out.Bytes(), "JPG", bounds.Dx(), bounds.Dy(), nil
	}
	if err := png.Encode(&out, img); err != nil {
		return nil, "", 0, 0, err
	}
	return out.Bytes(), "PNG", bounds.Dx(), bounds.Dy(), nil
}
