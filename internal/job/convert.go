package job

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/thanosengine/ChandraGen/internal/format"
	"github.com/thanosengine/ChandraGen/internal/store"
)

// TypeConvertDocument converts a markdown/MDX file to gemtext.
const TypeConvertDocument = "convert_document"

// convertPayload is the expected payload for convert_document jobs.
type convertPayload struct {
	InputPath  string `json:"input_path"`
	OutputPath string `json:"output_path"`
	// Extension selects the formatter set ("md" or "mdx"). Empty means
	// derive it from InputPath.
	Extension string `json:"extension,omitempty"`
}

// convertRunner runs one document conversion through the formatter pipeline.
type convertRunner struct {
	st      *store.Store
	reg     *format.Registry
	job     store.Job
	payload convertPayload
	src     string
}

// NewConvertRunner returns the factory for convert_document runners.
func NewConvertRunner(st *store.Store) Factory {
	reg := format.DefaultRegistry()
	return func(j store.Job) Runner {
		return &convertRunner{st: st, reg: reg, job: j}
	}
}

// Setup parses the payload and reads the input document.
func (r *convertRunner) Setup(ctx context.Context) error {
	if err := json.Unmarshal(r.job.Payload, &r.payload); err != nil {
		return fmt.Errorf("convert_document payload: %w", err)
	}
	if r.payload.InputPath == "" || r.payload.OutputPath == "" {
		return fmt.Errorf("convert_document payload: input_path and output_path are required")
	}
	if r.payload.Extension == "" {
		r.payload.Extension = strings.TrimPrefix(filepath.Ext(r.payload.InputPath), ".")
	}

	src, err := os.ReadFile(r.payload.InputPath)
	if err != nil {
		return fmt.Errorf("read input document: %w", err)
	}
	r.src = string(src)
	return nil
}

// Run converts the document and writes the gemtext output.
func (r *convertRunner) Run(ctx context.Context) error {
	out := r.reg.Convert(r.src, r.payload.Extension)
	if err := os.WriteFile(r.payload.OutputPath, []byte(out), 0o644); err != nil {
		return fmt.Errorf("write output document: %w", err)
	}
	return nil
}

func (r *convertRunner) Cleanup(ctx context.Context) error {
	r.src = ""
	slog.Debug("convert_document finished", "job_id", r.job.ID, "output", r.payload.OutputPath)
	return nil
}

// Retry releases the claim so the job re-enters pending state.
func (r *convertRunner) Retry(ctx context.Context) error {
	return r.st.ReleaseJob(ctx, r.job.ID)
}
