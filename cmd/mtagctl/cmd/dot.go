package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/malloctag/mtag/internal/tagpost"
)

var (
	dotInput  string
	dotOutput string
)

// dotCmd is the external JSON-to-DOT renderer collaborator: it loads a
// snapshot document and renders it as a Graphviz digraph, one subgraph
// cluster per thread tree, kept out of the core packages for the same
// reason postprocess is — it only consumes the public JSON document.
var dotCmd = &cobra.Command{
	Use:   "dot",
	Short: "Render a snapshot JSON document as a Graphviz DOT digraph",
	RunE:  runDOT,
}

func init() {
	rootCmd.AddCommand(dotCmd)
	dotCmd.Flags().StringVarP(&dotInput, "input", "i", "", "Input snapshot JSON file (required)")
	dotCmd.Flags().StringVarP(&dotOutput, "output", "o", "", "Output DOT file (defaults to stdout)")
	dotCmd.MarkFlagRequired("input")
}

func runDOT(cmd *cobra.Command, args []string) error {
	dot, err := tagpost.RunJSONToDOT(tagpost.RunOptions{
		InputPath:  dotInput,
		OutputPath: dotOutput,
	})
	if err != nil {
		return fmt.Errorf("mtagctl dot: %w", err)
	}
	if dotOutput == "" {
		fmt.Println(dot)
	} else {
		GetLogger().Info("mtagctl dot: wrote %s", dotOutput)
	}
	return nil
}
