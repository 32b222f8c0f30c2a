package optimizer

import (
	"bufio"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"strings"

	"github.com/neurodesk/tmplc/pkg/ast"
)

var (
	templateFunctionRe = regexp.MustCompile(`^[^#]*#(def|block)\s+(\w+)`)
	extendsRe          = regexp.MustCompile(`^#extends\s+([\.\w]+)`)
)

var templateExtensions = []string{".spt", ".tmpl"}

// TemplateFunctions lists the #def and #block names a template defines,
// following its #extends chain. name is a slash separated path without
// extension, relative to fsys.
func TemplateFunctions(fsys fs.FS, name string) (ast.Set, error) {
	out := ast.Set{}
	return out, scanTemplate(fsys, name, out, map[string]bool{})
}

func resolveTemplate(fsys fs.FS, name string) (string, error) {
	for _, ext := range templateExtensions {
		p := path.Clean(name) + ext
		if _, err := fs.Stat(fsys, p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: could not find .spt or .tmpl file for %s during dependency check", ErrMissingTemplate, name)
}

func scanTemplate(fsys fs.FS, name string, out ast.Set, seen map[string]bool) error {
	p, err := resolveTemplate(fsys, name)
	if err != nil {
		return err
	}
	if seen[p] {
		return nil
	}
	seen[p] = true

	f, err := fsys.Open(p)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if m := templateFunctionRe.FindStringSubmatch(line); m != nil {
			out.Add(m[2])
			continue
		}
		if m := extendsRe.FindStringSubmatch(line); m != nil {
			if err := scanTemplate(fsys, strings.ReplaceAll(m[1], ".", "/"), out, seen); err != nil {
				return err
			}
		}
	}
	return scanner.Err()
}
