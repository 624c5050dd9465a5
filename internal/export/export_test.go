package export

import (
	"strings"
	"testing"
	"time"
)

func TestExportHTML(t *testing.T) {
	result, err := Export(Request{
		Kind:        "story",
		Title:       "Anniversary Story",
		ProjectName: "Anniversary Memories",
		Author:      "Dana",
		ContentHTML: "<p>We danced all night.</p>",
		CreatedAt:   time.Date(2025, 6, 14, 12, 0, 0, 0, time.UTC),
		Format:      FormatHTML,
	})
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	html := string(result.Data)
	for _, want := range []string{"Anniversary Story", "Anniversary Memories", "<p>We danced all night.</p>", "June 14, 2025"} {
		if !strings.Contains(html, want) {
			t.Errorf("export missing %q", want)
		}
	}
	if result.Filename != "Anniversary-Story.html" {
		t.Errorf("filename = %q", result.Filename)
	}
	if !strings.HasPrefix(result.MimeType, "text/html") {
		t.Errorf("mime = %q", result.MimeType)
	}
}

func TestExportUnsupportedFormat(t *testing.T) {
	if _, err := Export(Request{Title: "x", Format: Format("docx")}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestSanitizeFilename(t *testing.T) {
	cases := map[string]string{
		"Anniversary Story":     "Anniversary-Story",
		"What?! A <quiz>":       "What-A-quiz",
		"":                      "artifact",
		strings.Repeat("a", 60): strings.Repeat("a", 50),
	}
	for in, want := range cases {
		if got := sanitizeFilename(in); got != want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestPercentEncodeForDataURL(t *testing.T) {
	got := percentEncodeForDataURL("a b+c")
	if got != "a%20b%2Bc" {
		t.Fatalf("got %q", got)
	}
}
