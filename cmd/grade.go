package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/autograder/internal/checkpoint"
	"github.com/sells-group/autograder/internal/ingest"
	"github.com/sells-group/autograder/internal/ocr"
	"github.com/sells-group/autograder/internal/pipeline"
	anthropicpkg "github.com/sells-group/autograder/pkg/anthropic"
	"github.com/sells-group/autograder/pkg/openai"
)

var (
	gradeAnswerKey      string
	gradeRubric         string
	gradeAssignment     string
	gradeOutput         string
	gradeBackupDir      string
	gradeCheckpointsDir string
	gradePasses         int
)

var gradeCmd = &cobra.Command{
	Use:   "grade <submissions-dir>",
	Short: "Grade every submission in a directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if cfg.Anthropic.Key == "" {
			return eris.New("anthropic.key is not configured")
		}

		extractor, err := ocr.NewExtractor(cfg.OCR)
		if err != nil {
			return err
		}

		// The locate stage only runs when an embeddings endpoint is set.
		var embedder openai.EmbeddingsClient
		if cfg.Embeddings.Endpoint != "" {
			embedder = openai.NewClient(cfg.Embeddings.Endpoint, cfg.Embeddings.Key,
				openai.WithModel(cfg.Embeddings.Model))
		}

		store, err := checkpoint.NewStore(gradeCheckpointsDir)
		if err != nil {
			return err
		}

		p := pipeline.New(cfg,
			anthropicpkg.NewClient(cfg.Anthropic.Key),
			ingest.New(extractor),
			embedder,
			store,
		)

		return p.Run(ctx, pipeline.RunOptions{
			SubmissionsDir: args[0],
			AnswerKeyFile:  gradeAnswerKey,
			RubricFile:     gradeRubric,
			AssignmentFile: gradeAssignment,
			OutputFile:     gradeOutput,
			BackupDir:      gradeBackupDir,
			Passes:         gradePasses,
		})
	},
}

func init() {
	gradeCmd.Flags().StringVar(&gradeAnswerKey, "answer-key", "", "answer key document; omit to generate one by solving each question")
	gradeCmd.Flags().StringVar(&gradeRubric, "rubric", "", "rubric document; omit to generate one from sample answers")
	gradeCmd.Flags().StringVar(&gradeAssignment, "assignment", "", "blank assignment document to take the question list from")
	gradeCmd.Flags().StringVar(&gradeOutput, "output", "grader_output.csv", "grades CSV output path")
	gradeCmd.Flags().StringVar(&gradeBackupDir, "backup-dir", "submissions_backup", "directory for converted markdown backups")
	gradeCmd.Flags().StringVar(&gradeCheckpointsDir, "checkpoints-dir", "checkpoints", "directory for stage checkpoint artifacts")
	gradeCmd.Flags().IntVar(&gradePasses, "passes", 1, "number of independent grading passes")
	rootCmd.AddCommand(gradeCmd)
}
