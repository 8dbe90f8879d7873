package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/malloctag/mtag/internal/tagpost"
)

var (
	postprocessInput  string
	postprocessConfig string
	postprocessOutput string
)

// postprocessCmd is the external aggregation collaborator: it loads a
// previously written snapshot document, applies any configured
// "aggregate_trees" rules, and writes the merged result — kept out of
// the core packages since it only consumes the public JSON document, the
// same boundary the original standalone postprocess tool drew.
var postprocessCmd = &cobra.Command{
	Use:   "postprocess",
	Short: "Aggregate trees in a written snapshot per a rules file",
	Long: `postprocess loads a snapshot JSON document and, if a rules file is
given, merges every tree whose ThreadName matches each rule's
matching_prefix regular expression into one, concatenating names and
summing counters. With no rules file it writes the input back out
without merging anything; per-scope weight percentages are copied as
read, not recomputed.`,
	RunE: runPostProcess,
}

func init() {
	rootCmd.AddCommand(postprocessCmd)
	postprocessCmd.Flags().StringVarP(&postprocessInput, "input", "i", "", "Input snapshot JSON file (required)")
	postprocessCmd.Flags().StringVarP(&postprocessConfig, "rules", "r", "", "Aggregation rules JSON file")
	postprocessCmd.Flags().StringVarP(&postprocessOutput, "output", "o", "", "Output JSON file (defaults to stdout)")
	postprocessCmd.MarkFlagRequired("input")
}

func runPostProcess(cmd *cobra.Command, args []string) error {
	out, err := tagpost.RunPostProcess(tagpost.RunOptions{
		InputPath:  postprocessInput,
		ConfigPath: postprocessConfig,
		OutputPath: postprocessOutput,
	})
	if err != nil {
		return fmt.Errorf("mtagctl postprocess: %w", err)
	}
	if postprocessOutput == "" {
		fmt.Println(string(out))
	} else {
		GetLogger().Info("mtagctl postprocess: wrote %s", postprocessOutput)
	}
	return nil
}
