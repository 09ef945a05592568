package pdfrender

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/nrc-it/staffforms/internal/forms"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/font/gofont/goregular"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, x%h, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func jpegBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, image.NewGray(image.Rect(0, 0, w, h)), nil))
	return buf.Bytes()
}

// oversizedPNG is a PNG signature and IHDR chunk claiming w×h RGBA pixels
// with no image data behind it.
func oversizedPNG(w, h uint32) []byte {
	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")
	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:4], w)
	binary.BigEndian.PutUint32(ihdr[4:8], h)
	ihdr[8] = 8 // bit depth
	ihdr[9] = 6 // truecolour with alpha
	chunk := append([]byte("IHDR"), ihdr...)
	_ = binary.Write(&buf, binary.BigEndian, uint32(len(ihdr)))
	buf.Write(chunk)
	_ = binary.Write(&buf, binary.BigEndian, crc32.ChecksumIEEE(chunk))
	return buf.Bytes()
}

var showText = regexp.MustCompile(`\(((?:\\.|[^\\)])*)\)\s?Tj`)

// pageStrings inflates every compressed stream in a PDF and returns the
// strings drawn with Tj, in content order.
func pageStrings(t *testing.T, pdf []byte) []string {
	t.Helper()
	var out []string
	rest := pdf
	for {
		start := bytes.Index(rest, []byte("stream\n"))
		if start < 0 {
			return out
		}
		rest = rest[start+len("stream\n"):]
		end := bytes.Index(rest, []byte("endstream"))
		require.GreaterOrEqual(t, end, 0)
		body := rest[:end]
		rest = rest[end+len("endstream"):]

		zr, err := zlib.NewReader(bytes.NewReader(body))
		if err != nil {
			continue
		}
		content, err := io.ReadAll(zr)
		_ = zr.Close()
		if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
			continue
		}
		for _, m := range showText.FindAllSubmatch(content, -1) {
			out = append(out, strings.NewReplacer(`\(`, "(", `\)`, ")", `\\`, `\`).Replace(string(m[1])))
		}
	}
}

func TestRenderWritesTitleThenValueLabelLines(t *testing.T) {
	r, err := New(Options{})
	require.NoError(t, err)

	rec := forms.Record{
		Title: "TITLE",
		Entries: []forms.Entry{
			{Label: "L1", Value: "V1"},
			{Label: "L2", Value: "V2"},
		},
	}
	doc, err := r.Render(rec, "ref")
	require.NoError(t, err)
	assert.Equal(t, []string{"TITLE", "V1 : L1", "V2 : L2", "ref  -  1"}, pageStrings(t, doc.Data))
}

func TestRenderCaptionsAttachmentPages(t *testing.T) {
	r, err := New(Options{})
	require.NoError(t, err)

	rec := forms.Record{
		Title: "T",
		Attachments: []forms.NamedAttachment{
			{Caption: "Permit copy", Attachment: &forms.Attachment{Name: "permit.png", ContentType: "image/png", Data: pngBytes(t, 10, 10)}},
		},
	}
	doc, err := r.Render(rec, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"T", "1", "Permit copy", "2"}, pageStrings(t, doc.Data))
}

func TestRenderWithTrueTypeFont(t *testing.T) {
	fontPath := filepath.Join(t.TempDir(), "goregular.ttf")
	require.NoError(t, os.WriteFile(fontPath, goregular.TTF, 0o600))

	r, err := New(Options{FontPath: fontPath})
	require.NoError(t, err)
	assert.Equal(t, "Body", r.family)

	rec := forms.Record{
		Title:   "Service record",
		Entries: []forms.Entry{{Label: "Computer no", Value: "2002"}},
		Attachments: []forms.NamedAttachment{
			{Caption: "Order", Attachment: &forms.Attachment{Name: "order.pdf", ContentType: "application/pdf", Data: []byte("%PDF-1.4")}},
		},
	}
	doc, err := r.Render(rec, "ref-2")
	require.NoError(t, err)
	assert.Equal(t, 2, doc.Pages)
	assert.True(t, bytes.HasPrefix(doc.Data, []byte("%PDF-")))
	assert.Contains(t, string(doc.Data), "/FontFile2")
}

func TestPrepareImageRefusesOversizedHeader(t *testing.T) {
	raw := oversizedPNG(20000, 20000)
	_, _, _, _, err := prepareImage(raw)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errImageTooLarge))

	r, err := New(Options{})
	require.NoError(t, err)
	rec := forms.Record{
		Title: "Huge",
		Attachments: []forms.NamedAttachment{
			{Caption: "Bomb", Attachment: &forms.Attachment{Name: "bomb.png", ContentType: "image/png", Data: raw}},
		},
	}
	doc, err := r.Render(rec, "")
	require.NoError(t, err)
	assert.Equal(t, 2, doc.Pages)
}

func TestRenderPutsEachAttachmentOnItsOwnPage(t *testing.T) {
	r, err := New(Options{})
	require.NoError(t, err)

	rec := forms.Record{
		Title: "Employee record",
		Entries: []forms.Entry{
			{Label: "Computer no", Value: "1001"},
			{Label: "Department", Value: "Maintenance"},
		},
		Attachments: []forms.NamedAttachment{
			{Caption: "Permit copy", Attachment: &forms.Attachment{Name: "permit.png", ContentType: "image/png", Data: pngBytes(t, 40, 20)}},
			{Caption: "ID front", Attachment: &forms.Attachment{Name: "id.jpg", ContentType: "image/jpeg", Data: jpegBytes(t, 30, 60)}},
			{Caption: "Order", Attachment: &forms.Attachment{Name: "order.pdf", ContentType: "application/pdf", Data: []byte("%PDF-1.4")}},
		},
	}

	doc, err := r.Render(rec, "ref-1")
	require.NoError(t, err)
	assert.Equal(t, 4, doc.Pages)
	assert.True(t, bytes.HasPrefix(doc.Data, []byte("%PDF-")))
}

func TestRenderBreaksLongFieldListsAcrossPages(t *testing.T) {
	r, err := New(Options{})
	require.NoError(t, err)

	rec := forms.Record{Title: "Many fields"}
	for i := 0; i < 80; i++ {
		rec.Entries = append(rec.Entries, forms.Entry{Label: fmt.Sprintf("Field %d", i), Value: "value"})
	}

	doc, err := r.Render(rec, "")
	require.NoError(t, err)
	assert.Equal(t, 3, doc.Pages, "80 lines of 8mm need three A4 pages")
}

func TestRenderToleratesBrokenImages(t *testing.T) {
	r, err := New(Options{})
	require.NoError(t, err)

	rec := forms.Record{
		Title: "Broken",
		Attachments: []forms.NamedAttachment{
			{Caption: "Bad", Attachment: &forms.Attachment{Name: "bad.png", ContentType: "image/png", Data: []byte("not a png")}},
		},
	}
	doc, err := r.Render(rec, "")
	require.NoError(t, err)
	assert.Equal(t, 2, doc.Pages)
}

func TestPrepareImageDownscalesWidePictures(t *testing.T) {
	data, kind, w, h, err := prepareImage(pngBytes(t, 3200, 800))
	require.NoError(t, err)
	assert.Equal(t, "PNG", kind)
	assert.Equal(t, maxImagePixels, w)
	assert.Equal(t, 400, h)

	decoded, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, maxImagePixels, decoded.Bounds().Dx())
}

func TestPrepareImageKeepsSmallJPEG(t *testing.T) {
	raw := jpegBytes(t, 50, 50)
	data, kind, _, _, err := prepareImage(raw)
	require.NoError(t, err)
	assert.Equal(t, "JPG", kind)
	assert.Equal(t, raw, data)
}

func TestFitImage(t *testing.T) {
	w, h := fitImage(100, 50, 180, 250)
	assert.InDelta(t, 180, w, 0.001)
	assert.InDelta(t, 90, h, 0.001)

	w, h = fitImage(100, 400, 180, 250)
	assert.InDelta(t, 250, h, 0.001)
	assert.InDelta(t, 62.5, w, 0.001)

	w, h = fitImage(0, 10, 180, 250)
	assert.Zero(t, w)
	assert.Zero(t, h)
}

func TestNewFailsOnMissingFont(t *testing.T) {
	_, err := New(Options{FontPath: "/nonexistent/font.ttf"})
	assert.Error(t, err)
}
