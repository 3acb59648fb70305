package output

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/abdul-hamid-achik/hitsuite/packages/core/parser"
	"github.com/abdul-hamid-achik/hitsuite/packages/core/rerun"
)

// RerunHeaderPrefix starts the first line of every rerun suite.
const RerunHeaderPrefix = "# Rerun of "

// WriteRerunSuite writes the part of doc selected by plan to path as a
// runnable suite document. Relative commands and env files keep resolving
// against the original document's directory.
func WriteRerunSuite(path string, doc *parser.Document, plan *rerun.Plan) error {
	var buf bytes.Buffer
	if err := EncodeRerunSuite(&buf, doc, plan); err != nil {
		return err
	}
	return atomicWriteToFile(path, buf.Bytes())
}

// EncodeRerunSuite writes the rerun suite of WriteRerunSuite to w.
func EncodeRerunSuite(w io.Writer, doc *parser.Document, plan *rerun.Plan) error {
	filtered := parser.Filter(doc, plan)
	if doc.Path != "" && !filepath.IsAbs(filtered.WorkDir) {
		dir, err := filepath.Abs(filepath.Join(filepath.Dir(doc.Path), filtered.WorkDir))
		if err != nil {
			return fmt.Errorf("resolving suite directory: %w", err)
		}
		filtered.WorkDir = dir
	}

	data, err := parser.Marshal(filtered)
	if err != nil {
		return fmt.Errorf("encoding rerun suite: %w", err)
	}

	fmt.Fprintf(w, "%s%s", RerunHeaderPrefix, plan.Suite)
	if plan.RunID != "" {
		fmt.Fprintf(w, " (run %s)", plan.RunID)
	}
	fmt.Fprintf(w, ": %d units\n", plan.Len())
	_, err = w.Write(data)
	return err
}

// atomicWriteToFile writes data to path using temp file + rename pattern.
func atomicWriteToFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("writing temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming temp file: %w", err)
	}

	return nil
}
