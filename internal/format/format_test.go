// ABOUTME: Unit tests for the markdown/MDX to gemtext line formatters and
// ABOUTME: the document conversion driver. Pure logic, no I/O.
package format_test

import (
	"strings"
	"testing"

	"github.com/thanosengine/ChandraGen/internal/format"
)

func convert(t *testing.T, src, ext string) string {
	t.Helper()
	return format.DefaultRegistry().Convert(src, ext)
}

func TestConvert_BulletPointLink(t *testing.T) {
	t.Parallel()
	got := convert(t, "- [Example](https://example.com)", "md")
	if got != "=> https://example.com Example" {
		t.Errorf("got %q", got)
	}
}

func TestConvert_StripsHTMLComments(t *testing.T) {
	t.Parallel()
	src := "before\n<!-- hidden -->\nafter"
	got := convert(t, src, "md")
	if strings.Contains(got, "hidden") {
		t.Errorf("comment survived: %q", got)
	}
	if !strings.Contains(got, "before") || !strings.Contains(got, "after") {
		t.Errorf("surrounding lines lost: %q", got)
	}
}

func TestConvert_InlineLinksBufferedUntilBlankLine(t *testing.T) {
	t.Parallel()
	src := "see [docs](https://docs.example.com) for more\n\nnext paragraph"
	got := convert(t, src, "md")

	lines := strings.Split(got, "\n")
	if lines[0] != "see docs (see below) for more" {
		t.Errorf("line 0 = %q", lines[0])
	}
	// The gemtext link line lands before the blank line ending the paragraph.
	if lines[1] != "=> https://docs.example.com docs" {
		t.Errorf("line 1 = %q", lines[1])
	}
	if lines[2] != "" {
		t.Errorf("line 2 = %q, want blank", lines[2])
	}
}

func TestConvert_InlineLinkAtEOFStillFlushed(t *testing.T) {
	t.Parallel()
	got := convert(t, "tail [ref](https://ref.example.com)", "md")
	if !strings.Contains(got, "=> https://ref.example.com ref") {
		t.Errorf("buffered link not flushed at EOF: %q", got)
	}
}

func TestConvert_PreformatBlockUntouched(t *testing.T) {
	t.Parallel()
	src := "```python\n**not bold** [x](y)\n```"
	got := convert(t, src, "md")

	lines := strings.Split(got, "\n")
	if lines[0] != "```" {
		t.Errorf("fence not normalized: %q", lines[0])
	}
	if lines[1] != "**not bold** [x](y)" {
		t.Errorf("preformatted line rewritten: %q", lines[1])
	}
	if lines[2] != "```" {
		t.Errorf("closing fence: %q", lines[2])
	}
}

func TestConvert_StripInlineMarkdown(t *testing.T) {
	t.Parallel()
	got := convert(t, "a **bold** and _italic_ thing", "md")
	if got != "a bold and italic thing" {
		t.Errorf("got %q", got)
	}
}

func TestConvert_StripInlineMarkdownKeepsBulletPrefix(t *testing.T) {
	t.Parallel()
	got := convert(t, "* a **bold** bullet", "md")
	if got != "* a bold bullet" {
		t.Errorf("got %q", got)
	}
}

func TestConvert_MDXImportsDropped(t *testing.T) {
	t.Parallel()
	src := "import { Note } from 'components'\n\nbody text"
	got := convert(t, src, "mdx")
	if strings.Contains(got, "import") {
		t.Errorf("import survived: %q", got)
	}
	if !strings.Contains(got, "body text") {
		t.Errorf("body lost: %q", got)
	}
}

func TestConvert_MDXImportsKeptForPlainMarkdown(t *testing.T) {
	t.Parallel()
	src := "import is a fine word to start a sentence with"
	if got := convert(t, src, "md"); got != src {
		t.Errorf("md input rewritten by mdx formatter: %q", got)
	}
}

func TestConvert_KnownMDXComponents(t *testing.T) {
	t.Parallel()
	got := convert(t, "<Note>careful here", "mdx")
	if !strings.HasPrefix(got, "NOTE:") {
		t.Errorf("got %q", got)
	}
}

func TestConvert_JSXExpressionsStripped(t *testing.T) {
	t.Parallel()
	got := convert(t, "count is {props.count} items", "mdx")
	if got != "count is  items" {
		t.Errorf("got %q", got)
	}
}

func TestForExtension_FiltersAndKeepsOrder(t *testing.T) {
	t.Parallel()
	reg := format.DefaultRegistry()
	md := reg.ForExtension("md")
	mdx := reg.ForExtension("mdx")
	if len(md) == 0 || len(mdx) <= len(md) {
		t.Fatalf("md = %d formatters, mdx = %d; want mdx superset", len(md), len(mdx))
	}
	for _, f := range md {
		if strings.HasPrefix(f.Name, "strip_jsx") {
			t.Errorf("mdx-only formatter %s registered for md", f.Name)
		}
	}
}
