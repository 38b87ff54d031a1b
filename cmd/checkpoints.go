package main

import (
	"bytes"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/autograder/internal/checkpoint"
)

var (
	checkpointsDir string
	checkpointsAll bool
)

var checkpointsCmd = &cobra.Command{
	Use:   "checkpoints",
	Short: "List saved stage artifacts",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := checkpoint.NewStore(checkpointsDir)
		if err != nil {
			return err
		}

		stages, err := store.List()
		if err != nil {
			return err
		}
		if len(stages) == 0 {
			fmt.Println("no checkpoints")
			return nil
		}
		for _, s := range stages {
			fmt.Printf("%s\t%d rows\n", s, artifactRows(store.Path(s)))
		}
		return nil
	},
}

// artifactRows counts data rows in a CSV artifact (lines minus header).
func artifactRows(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	n := bytes.Count(data, []byte("\n"))
	if len(data) > 0 && data[len(data)-1] != '\n' {
		n++
	}
	if n > 0 {
		n--
	}
	return n
}

var checkpointsRmCmd = &cobra.Command{
	Use:   "rm [stage]",
	Short: "Delete stage artifacts so the next run recomputes them",
	Long:  "Deletes the named stage's artifact, or every artifact with --all. Use this after changing an input document; downstream stages do not detect stale upstreams on their own.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := checkpoint.NewStore(checkpointsDir)
		if err != nil {
			return err
		}

		if checkpointsAll {
			stages, err := store.List()
			if err != nil {
				return err
			}
			for _, s := range stages {
				if err := store.Remove(s); err != nil {
					return err
				}
				fmt.Printf("removed %s\n", s)
			}
			return nil
		}

		if len(args) == 0 {
			return eris.New("pass a stage name or --all")
		}
		if !store.Exists(args[0]) {
			return eris.Errorf("no artifact for stage %q", args[0])
		}
		if err := store.Remove(args[0]); err != nil {
			return err
		}
		fmt.Printf("removed %s\n", args[0])
		return nil
	},
}

func init() {
	checkpointsCmd.PersistentFlags().StringVar(&checkpointsDir, "checkpoints-dir", "checkpoints", "directory holding stage checkpoint artifacts")
	checkpointsRmCmd.Flags().BoolVar(&checkpointsAll, "all", false, "remove every stage artifact")
	checkpointsCmd.AddCommand(checkpointsRmCmd)
	rootCmd.AddCommand(checkpointsCmd)
}
