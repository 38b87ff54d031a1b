// Package ingest converts a directory of student documents into markdown
// submission rows. Conversion runs through the configured OCR provider with
// bounded concurrency; documents that fail conversion are logged and skipped
// rather than failing the run.
package ingest

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/autograder/internal/model"
	"github.com/sells-group/autograder/internal/ocr"
	"github.com/sells-group/autograder/internal/resilience"
	"github.com/sells-group/autograder/internal/stage"
)

// supportedExtensions are the document formats the OCR providers accept.
var supportedExtensions = map[string]bool{
	".pdf":  true,
	".docx": true,
	".xlsx": true,
	".png":  true,
	".jpg":  true,
	".jpeg": true,
}

// Supported reports whether a file name has an ingestible extension.
func Supported(name string) bool {
	return supportedExtensions[strings.ToLower(filepath.Ext(name))]
}

// Options configures an ingest run.
type Options struct {
	// Concurrency bounds parallel conversions.
	Concurrency int

	// BackupDir, when set, receives a .md copy of every converted
	// document, named after the source file.
	BackupDir string
}

// Ingester converts documents via an OCR extractor.
type Ingester struct {
	extractor ocr.Extractor
	retry     resilience.RetryConfig
}

// New creates an Ingester. Conversion calls retry on transient failures.
func New(extractor ocr.Extractor) *Ingester {
	cfg := resilience.DefaultRetryConfig()
	cfg.OnRetry = resilience.RetryLogger("ocr", "extract_text")
	return &Ingester{extractor: extractor, retry: cfg}
}

// ListDocuments returns the supported files directly under dir, sorted by
// name. Subdirectories are not descended into.
func ListDocuments(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: read directory %s", dir)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || !Supported(e.Name()) {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	return files, nil
}

// Directory converts every supported document under dir into a submission
// row. The submission ID is the file name without its extension. Documents
// that fail conversion after retries are skipped.
func (in *Ingester) Directory(ctx context.Context, dir string, opts Options) ([]model.Submission, error) {
	files, err := ListDocuments(dir)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, eris.Errorf("ingest: no supported documents in %s", dir)
	}

	results, err := stage.Run(ctx,
		stage.Options{Name: "ingest_submissions", Concurrency: opts.Concurrency},
		files,
		func(ctx context.Context, path string) (*model.Submission, error) {
			sub, err := in.convert(ctx, path, opts.BackupDir)
			if err != nil {
				return nil, err
			}
			return &sub, nil
		},
		func(path string, err error) *model.Submission {
			// Skipped; logged by the stage runner.
			return nil
		},
	)
	if err != nil {
		return nil, err
	}

	subs := make([]model.Submission, 0, len(results))
	for _, r := range results {
		if r != nil {
			subs = append(subs, *r)
		}
	}
	if len(subs) == 0 {
		return nil, eris.Errorf("ingest: all %d documents in %s failed conversion", len(files), dir)
	}
	return subs, nil
}

// File converts a single document, such as a provided answer key or rubric,
// and returns its markdown.
func (in *Ingester) File(ctx context.Context, path string) (string, error) {
	if !Supported(path) {
		return "", eris.Errorf("ingest: unsupported document type %s", filepath.Ext(path))
	}
	sub, err := in.convert(ctx, path, "")
	if err != nil {
		return "", err
	}
	return sub.Markdown, nil
}

func (in *Ingester) convert(ctx context.Context, path, backupDir string) (model.Submission, error) {
	markdown, err := resilience.DoVal(ctx, in.retry, func(ctx context.Context) (string, error) {
		return in.extractor.ExtractText(ctx, path)
	})
	if err != nil {
		return model.Submission{}, eris.Wrapf(err, "ingest: convert %s", filepath.Base(path))
	}

	fileName := filepath.Base(path)
	submissionID := strings.TrimSuffix(fileName, filepath.Ext(fileName))

	if backupDir != "" {
		if err := writeBackup(backupDir, submissionID, markdown); err != nil {
			// The conversion succeeded; losing the backup copy is not
			// worth losing the submission over.
			zap.L().Warn("markdown backup failed",
				zap.String("file", fileName),
				zap.Error(err),
			)
		}
	}

	return model.Submission{
		FileName:     fileName,
		SubmissionID: submissionID,
		Markdown:     markdown,
	}, nil
}

func writeBackup(dir, submissionID, markdown string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrap(err, "ingest: create backup dir")
	}
	path := filepath.Join(dir, submissionID+".md")
	if err := os.WriteFile(path, []byte(markdown), 0o644); err != nil {
		return eris.Wrap(err, "ingest: write backup")
	}
	return nil
}
