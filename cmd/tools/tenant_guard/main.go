package main

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// tenantGuard scans Go sources for SQL statement literals and ensures every
// statement that touches tenant-owned tables filters or writes tenant_id.
// Exit code 0 = ok, 1 = violation, 2 = other error.
func main() {
	root := "internal"
	if len(os.Args) > 1 {
		root = os.Args[1]
	}
	deny, err := scan(root)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tenant_guard error: %v\n", err)
		os.Exit(2)
	}
	if len(deny) > 0 {
		for _, v := range deny {
			fmt.Fprintf(os.Stderr, "VIOLATION: %s\n", v)
		}
		os.Exit(1)
	}
	fmt.Println("tenant_guard: OK")
}

var (
	reStatement = regexp.MustCompile(`(?i)^\s*(select|update|delete|insert|with)\b`)
	reTables    = regexp.MustCompile(`(?i)\b(price_rules|price_rule_customer_usages|articles|customers)\b`)
	reTenant    = regexp.MustCompile(`(?i)\btenant_id\b`)
)

func scan(dir string) ([]string, error) {
	var violations []string
	fset := token.NewFileSet()
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), "_") || d.Name() == "testdata" {
				return filepath.SkipDir
			}
			return nil
		}
		if filepath.Ext(path) != ".go" || strings.HasSuffix(path, "_test.go") {
			return nil
		}
		found, err := checkFile(fset, path)
		if err != nil {
			return err
		}
		violations = append(violations, found...)
		return nil
	})
	return violations, err
}

func checkFile(fset *token.FileSet, path string) ([]string, error) {
	file, err := parser.ParseFile(fset, path, nil, parser.SkipObjectResolution)
	if err != nil {
		return nil, err
	}
	var out []string
	ast.Inspect(file, func(n ast.Node) bool {
		lit, ok := n.(*ast.BasicLit)
		if !ok || lit.Kind != token.STRING {
			return true
		}
		sql, err := strconv.Unquote(lit.Value)
		if err != nil || !reStatement.MatchString(sql) || !reTables.MatchString(sql) {
			return true
		}
		if !reTenant.MatchString(sql) {
			out = append(out, fset.Position(lit.Pos()).String())
		}
		return true
	})
	return out, nil
}
