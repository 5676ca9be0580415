// Package format converts markdown and MDX documents to gemtext one line at
// a time. Formatters are plain table entries assembled by [DefaultRegistry]
// at startup; there is no import-time registration.
package format

import "strings"

// Flags is the per-document state threaded through every formatter.
type Flags struct {
	// InPreformat is true between ``` fences. Managed by Convert; formatters
	// never run inside preformatted blocks.
	InPreformat bool
	// LinkBuffer holds gemtext link lines produced by inline-link conversion,
	// flushed at the next blank line (or end of document).
	LinkBuffer []string
}

// LineFormatter rewrites a single line. Returning the empty string for a
// non-empty input drops the line from the output.
type LineFormatter struct {
	Name  string
	Exts  []string
	Apply func(line string, flags *Flags) string
}

// Registry holds line formatters in application order.
type Registry struct {
	line []LineFormatter
}

// NewRegistry creates a registry with the given formatters, applied in the
// order listed.
func NewRegistry(formatters ...LineFormatter) *Registry {
	return &Registry{line: formatters}
}

// ForExtension returns the formatters applicable to the given file
// extension, preserving registry order.
func (r *Registry) ForExtension(ext string) []LineFormatter {
	var out []LineFormatter
	for _, f := range r.line {
		for _, e := range f.Exts {
			if e == ext {
				out = append(out, f)
				break
			}
		}
	}
	return out
}

// Convert runs src through every formatter registered for ext and returns
// the resulting gemtext. Fence lines toggle preformat state and are
// normalized to a bare ``` so language annotations do not leak into
// gemtext; no other formatter runs inside a preformatted block.
func (r *Registry) Convert(src, ext string) string {
	formatters := r.ForExtension(ext)
	flags := &Flags{}

	var out []string
	for _, line := range strings.Split(src, "\n") {
		if strings.HasPrefix(line, "```") {
			flags.InPreformat = !flags.InPreformat
			out = append(out, "```")
			continue
		}
		if flags.InPreformat {
			out = append(out, line)
			continue
		}

		if strings.TrimSpace(line) == "" {
			// Blank line: flush any pending link lines before it so links
			// land at the end of their paragraph.
			if len(flags.LinkBuffer) > 0 {
				out = append(out, flags.LinkBuffer...)
				flags.LinkBuffer = nil
			}
			out = append(out, line)
			continue
		}

		dropped := false
		for _, f := range formatters {
			line = f.Apply(line, flags)
			if line == "" {
				dropped = true
				break
			}
		}
		if !dropped {
			out = append(out, line)
		}
	}

	if len(flags.LinkBuffer) > 0 {
		out = append(out, flags.LinkBuffer...)
		flags.LinkBuffer = nil
	}
	return strings.Join(out, "\n")
}
