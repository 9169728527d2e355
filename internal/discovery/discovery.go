// Package discovery walks a synced source tree and extracts its documentable
// API surface: exported functions and methods with their doc comments and
// signatures.
package discovery

import (
	"bytes"
	"fmt"
	"go/ast"
	"go/parser"
	"go/printer"
	"go/token"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	pipeerrors "github.com/ericharmeling/docs-pipeline/internal/errors"
	"github.com/ericharmeling/docs-pipeline/internal/logfields"
)

// Unit represents one documentable API element found in source.
type Unit struct {
	Name       string   // function or Type.Method name
	Module     string   // package import path relative to the repo root
	Doc        string   // doc comment, trimmed
	Signature  string   // rendered func signature
	SourcePath string   // canonical absolute path of the defining file
	RelPath    string   // slash-separated path relative to the repo root
	Repository string   // owning repository name
	Siblings   []string // repo-relative paths of other files in the same package
}

// ID returns the stable identifier used in logs and reports. It is built
// from the repo-relative path so identifiers survive workspace relocation.
func (u Unit) ID() string {
	return fmt.Sprintf("%s:%s", u.RelPath, u.Name)
}

// StateKey returns the key the build cache tracks this unit's file under.
// Every unit in the same file shares a key.
func (u Unit) StateKey() string {
	return u.Repository + ":" + u.RelPath
}

// Directories never scanned for documentable units.
var excludedDirs = map[string]bool{
	"testdata": true,
	"vendor":   true,
	"docs":     true,
	"site":     true,
	".git":     true,
}

// Discovery finds documentable units under a repository root.
type Discovery struct {
	logger *slog.Logger
}

// NewDiscovery creates a discovery instance.
func NewDiscovery() *Discovery {
	return &Discovery{logger: slog.Default()}
}

// WithLogger sets a custom logger.
func (d *Discovery) WithLogger(logger *slog.Logger) *Discovery {
	d.logger = logger
	return d
}

// Discover parses Go sources under root and returns their exported functions
// and methods. When paths is non-empty, only those subdirectories are
// scanned. Test files and documentation-build directories are excluded.
func (d *Discovery) Discover(repoName, root string, paths []string) ([]Unit, error) {
	roots := []string{root}
	if len(paths) > 0 {
		roots = roots[:0]
		for _, p := range paths {
			roots = append(roots, filepath.Join(root, p))
		}
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		absRoot = root
	}

	var units []Unit
	for _, r := range roots {
		found, err := d.scanTree(repoName, absRoot, r)
		if err != nil {
			return nil, pipeerrors.DiscoveryFailed(r, err)
		}
		units = append(units, found...)
	}

	d.logger.Info("Discovered documentable units",
		logfields.Repository(repoName), logfields.Count(len(units)))
	return units, nil
}

func (d *Discovery) scanTree(repoName, repoRoot, scanRoot string) ([]Unit, error) {
	if _, err := os.Stat(scanRoot); err != nil {
		return nil, fmt.Errorf("scan root missing: %w", err)
	}

	var units []Unit
	err := filepath.WalkDir(scanRoot, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			if excludedDirs[entry.Name()] || strings.HasPrefix(entry.Name(), "_") {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(path, ".go") || strings.HasSuffix(path, "_test.go") {
			return nil
		}

		fileUnits, err := d.scanFile(repoName, repoRoot, path)
		if err != nil {
			// A single unparsable file degrades to a warning; the rest of
			// the tree still contributes units.
			d.logger.Warn("Skipping unparsable source file", logfields.Path(path), logfields.Error(err))
			return nil
		}
		units = append(units, fileUnits...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return units, nil
}

func (d *Discovery) scanFile(repoName, repoRoot, path string) ([]Unit, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, path, nil, parser.ParseComments)
	if err != nil {
		return nil, err
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}

	relPath := repoRelative(repoRoot, abs)
	module := packagePath(repoRoot, path)
	siblings := packageSiblings(repoRoot, abs)

	var units []Unit
	for _, decl := range file.Decls {
		fn, ok := decl.(*ast.FuncDecl)
		if !ok || !fn.Name.IsExported() {
			continue
		}
		name := fn.Name.Name
		if fn.Recv != nil && len(fn.Recv.List) > 0 {
			recv := receiverName(fn.Recv.List[0].Type)
			if recv == "" || !ast.IsExported(recv) {
				continue
			}
			name = recv + "." + name
		}

		sig, err := renderSignature(fset, fn)
		if err != nil {
			return nil, err
		}

		units = append(units, Unit{
			Name:       name,
			Module:     module,
			Doc:        strings.TrimSpace(fn.Doc.Text()),
			Signature:  sig,
			SourcePath: abs,
			RelPath:    relPath,
			Repository: repoName,
			Siblings:   siblings,
		})
	}
	return units, nil
}

// repoRelative converts abs into a slash-separated path under repoRoot.
func repoRelative(repoRoot, abs string) string {
	rel, err := filepath.Rel(repoRoot, abs)
	if err != nil {
		return filepath.ToSlash(abs)
	}
	return filepath.ToSlash(rel)
}

// packagePath derives the slash-separated package path relative to the repo root.
func packagePath(repoRoot, path string) string {
	rel, err := filepath.Rel(repoRoot, filepath.Dir(path))
	if err != nil || rel == "." {
		return ""
	}
	return filepath.ToSlash(rel)
}

// packageSiblings lists the other non-test Go files in the unit's directory,
// as repo-relative paths.
func packageSiblings(repoRoot, abs string) []string {
	entries, err := os.ReadDir(filepath.Dir(abs))
	if err != nil {
		return nil
	}
	var siblings []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".go") || strings.HasSuffix(e.Name(), "_test.go") {
			continue
		}
		p := filepath.Join(filepath.Dir(abs), e.Name())
		if p != abs {
			siblings = append(siblings, repoRelative(repoRoot, p))
		}
	}
	return siblings
}

func receiverName(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.Ident:
		return t.Name
	case *ast.StarExpr:
		return receiverName(t.X)
	case *ast.IndexExpr: // generic receiver
		return receiverName(t.X)
	case *ast.IndexListExpr:
		return receiverName(t.X)
	default:
		return ""
	}
}

// renderSignature prints "func Name(args) results" without body or doc.
func renderSignature(fset *token.FileSet, fn *ast.FuncDecl) (string, error) {
	stripped := &ast.FuncDecl{Recv: fn.Recv, Name: fn.Name, Type: fn.Type}
	var buf bytes.Buffer
	if err := printer.Fprint(&buf, fset, stripped); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}
