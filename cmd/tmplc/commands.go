package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/sergi/go-diff/diffmatchpatch"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/neurodesk/tmplc/pkg/compiler"
	"github.com/neurodesk/tmplc/pkg/options"
)

// maxParallel bounds the number of templates compiled at once.
const maxParallel = 8

type dump struct {
	file string
	text string
	err  error
}

// compileFiles compiles each file with its own compiler and dumps stage.
// Every file is attempted; failures are reported together.
func compileFiles(tc *toolchain, files []string, stage compiler.Stage) ([]dump, error) {
	out := make([]dump, len(files))
	var g errgroup.Group
	g.SetLimit(maxParallel)
	for i, file := range files {
		g.Go(func() error {
			out[i] = dump{file: file}
			out[i].text, out[i].err = compileFile(tc, file, stage)
			return nil
		})
	}
	_ = g.Wait()

	var errs *multierror.Error
	for _, d := range out {
		if d.err != nil {
			errs = multierror.Append(errs, d.err)
		}
	}
	return out, errs.ErrorOrNil()
}

func compileFile(tc *toolchain, file string, stage compiler.Stage) (string, error) {
	src, err := os.ReadFile(file)
	if err != nil {
		return "", err
	}
	c, err := tc.compiler(file)
	if err != nil {
		return "", err
	}
	res, err := c.Compile(string(src), classname(file))
	if err != nil {
		return "", err
	}
	return res.Dump(stage)
}

// lineDiff renders the line-level differences between a and b with
// "-", "+" and " " prefixes.
func lineDiff(a, b string) string {
	dmp := diffmatchpatch.New()
	ca, cb, lines := dmp.DiffLinesToChars(a, b)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(ca, cb, false), lines)

	var sb strings.Builder
	for _, d := range diffs {
		prefix := " "
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			prefix = "-"
		case diffmatchpatch.DiffInsert:
			prefix = "+"
		}
		for _, line := range strings.SplitAfter(d.Text, "\n") {
			if line == "" {
				continue
			}
			sb.WriteString(prefix)
			sb.WriteString(line)
			if !strings.HasSuffix(line, "\n") {
				sb.WriteByte('\n')
			}
		}
	}
	return sb.String()
}

func newCompileCmd(s *settings) *cobra.Command {
	var stage string
	cmd := &cobra.Command{
		Use:   "compile [files...]",
		Short: "Compile templates and print the tree of one stage",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := compiler.ParseStage(stage)
			if err != nil {
				return err
			}
			tc, err := s.load(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			dumps, err := compileFiles(tc, args, st)
			writeDumps(cmd.OutOrStdout(), dumps, len(args) > 1)
			return err
		},
	}
	cmd.Flags().StringVar(&stage, "stage", string(compiler.StageFinal), "Stage to print: parse, analyzed, optimized or final")
	return cmd
}

func writeDumps(w io.Writer, dumps []dump, headers bool) {
	for _, d := range dumps {
		if d.err != nil {
			continue
		}
		if headers {
			fmt.Fprintf(w, "# %s\n", d.file)
		}
		fmt.Fprint(w, d.text)
		if !strings.HasSuffix(d.text, "\n") {
			fmt.Fprintln(w)
		}
	}
}

func newDiffCmd(s *settings) *cobra.Command {
	var from, to string
	cmd := &cobra.Command{
		Use:   "diff [file]",
		Short: "Show how the tree of a template changes between two stages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fromStage, err := compiler.ParseStage(from)
			if err != nil {
				return err
			}
			toStage, err := compiler.ParseStage(to)
			if err != nil {
				return err
			}
			tc, err := s.load(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			src, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			c, err := tc.compiler(args[0])
			if err != nil {
				return err
			}
			res, err := c.Compile(string(src), classname(args[0]))
			if err != nil {
				return err
			}
			a, err := res.Dump(fromStage)
			if err != nil {
				return err
			}
			b, err := res.Dump(toStage)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "--- %s\n+++ %s\n", fromStage, toStage)
			fmt.Fprint(cmd.OutOrStdout(), lineDiff(a, b))
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", string(compiler.StageAnalyzed), "Stage to diff from")
	cmd.Flags().StringVar(&to, "to", string(compiler.StageFinal), "Stage to diff to")
	return cmd
}

func newOptionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "options",
		Short: "List the flags accepted by -X",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), strings.ReplaceAll(options.Help(), ", ", "\n"))
			return err
		},
	}
}
