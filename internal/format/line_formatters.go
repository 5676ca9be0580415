package format

import (
	"regexp"
	"strings"
)

var (
	inlineMDPattern  = regexp.MustCompile(`\*{1,3}|_{1,3}`)
	inlineLinkRegex  = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)
	jsxExprPattern   = regexp.MustCompile(`\{.*?\}`)
	mdxComponentRepl = strings.NewReplacer(
		"<Note>", "NOTE:",
		"</Note>", "",
		"<Warning>", "WARNING:",
		"</Warning>", "",
	)
)

// DefaultRegistry returns the built-in markdown/MDX to gemtext formatter
// table. MDX strippers run first so that what remains is plain markdown for
// the converters further down.
func DefaultRegistry() *Registry {
	return NewRegistry(
		LineFormatter{
			Name:  "strip_imports_exports",
			Exts:  []string{"mdx"},
			Apply: stripImportsExports,
		},
		LineFormatter{
			Name:  "convert_known_mdx_components",
			Exts:  []string{"mdx"},
			Apply: convertKnownMDXComponents,
		},
		LineFormatter{
			Name:  "strip_jsx_tags",
			Exts:  []string{"mdx"},
			Apply: stripJSXTags,
		},
		LineFormatter{
			Name:  "strip_jsx_expressions",
			Exts:  []string{"mdx"},
			Apply: stripJSXExpressions,
		},
		LineFormatter{
			Name:  "strip_html_comments",
			Exts:  []string{"md", "mdx"},
			Apply: stripHTMLComments,
		},
		LineFormatter{
			Name:  "convert_bullet_point_links",
			Exts:  []string{"md", "mdx"},
			Apply: convertBulletPointLinks,
		},
		LineFormatter{
			Name:  "convert_inline_links",
			Exts:  []string{"md", "mdx"},
			Apply: convertInlineLinks,
		},
		LineFormatter{
			Name:  "strip_inline_md_formatting",
			Exts:  []string{"md", "mdx"},
			Apply: stripInlineMarkdown,
		},
	)
}

// stripImportsExports removes JSX import/export lines entirely.
func stripImportsExports(line string, _ *Flags) string {
	trimmed := strings.TrimSpace(line)
	if strings.HasPrefix(trimmed, "import ") || strings.HasPrefix(trimmed, "export ") {
		return ""
	}
	return line
}

// convertKnownMDXComponents rewrites MDX note/warning components to plain
// NOTE: / WARNING: prefixes and drops their closing tags.
func convertKnownMDXComponents(line string, _ *Flags) string {
	return mdxComponentRepl.Replace(line)
}

// stripJSXTags naively removes lines that look like a JSX/HTML tag, leaving
// comments and doctype declarations alone.
func stripJSXTags(line string, _ *Flags) string {
	trimmed := strings.TrimSpace(line)
	if strings.HasPrefix(trimmed, "<") && strings.Contains(trimmed, ">") &&
		!strings.HasPrefix(trimmed, "<!--") && !strings.HasPrefix(trimmed, "<!DOCTYPE") {
		return ""
	}
	return line
}

// stripJSXExpressions naively strips anything enclosed by curly braces.
func stripJSXExpressions(line string, _ *Flags) string {
	return jsxExprPattern.ReplaceAllString(line, "")
}

// stripHTMLComments drops single-line HTML comments.
func stripHTMLComments(line string, _ *Flags) string {
	if strings.HasPrefix(line, "<!--") && strings.HasSuffix(line, "-->") {
		return ""
	}
	return line
}

// convertBulletPointLinks rewrites "- [label](url)" bullet links into
// gemtext link lines ("=> url label").
func convertBulletPointLinks(line string, _ *Flags) string {
	if !strings.HasPrefix(line, "- [") || !strings.HasSuffix(line, ")") {
		return line
	}
	label, url, ok := strings.Cut(line[3:len(line)-1], "](")
	if !ok {
		return line
	}
	return "=> " + url + " " + label
}

// convertInlineLinks replaces inline markdown links with "label (see below)"
// and buffers a gemtext link line for each, flushed at the next blank line.
// Bullet-point links are left for convertBulletPointLinks.
func convertInlineLinks(line string, flags *Flags) string {
	if strings.HasPrefix(line, "- [") {
		return line
	}
	matches := inlineLinkRegex.FindAllStringSubmatchIndex(line, -1)
	if matches == nil {
		return line
	}

	var b strings.Builder
	last := 0
	for _, m := range matches {
		label := line[m[2]:m[3]]
		url := line[m[4]:m[5]]
		flags.LinkBuffer = append(flags.LinkBuffer, "=> "+url+" "+label)
		b.WriteString(line[last:m[0]])
		b.WriteString(label + " (see below)")
		last = m[1]
	}
	b.WriteString(line[last:])
	return b.String()
}

// stripInlineMarkdown removes bold/italic markers. The first two characters
// are preserved so list bullets ("* ", "- ") survive untouched.
func stripInlineMarkdown(line string, _ *Flags) string {
	if len(line) <= 2 {
		return line
	}
	return line[:2] + inlineMDPattern.ReplaceAllString(line[2:], "")
}
