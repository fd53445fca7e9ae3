package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/mlld-lang/mlld/internal/graphviz"
	"github.com/mlld-lang/mlld/internal/parser"
)

// graphCmd renders a mlld script's /exe/import/load call graph, mirroring
// cmd/attractor/graph.go's --format text/dot split but over a parsed mlld
// program instead of a DOT pipeline (its own output format is always DOT,
// since graphing *is* the DOT-emission side of this command).
func graphCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "graph <script.mld>",
		Short: "Render a script's /exe call graph as DOT",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			scriptFile := args[0]
			src, err := os.ReadFile(scriptFile)
			if err != nil {
				return fmt.Errorf("read file: %w", err)
			}
			nodes, err := parser.ParseDocument(string(src), scriptFile)
			if err != nil {
				return fmt.Errorf("parse: %w", err)
			}
			b := graphviz.New(filepath.Base(scriptFile))
			b.Walk(filepath.Base(scriptFile), nodes)
			fmt.Print(b.String())
			return nil
		},
	}
	return cmd
}
