package main

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sfops/sfcheck/internal/support"
)

// sourceFile is one file discovered under the configured source dirs.
// Rel is workspace-relative with forward slashes for stable report output.
type sourceFile struct {
	Path string
	Rel  string
}

func collectSourceFiles(workspace string) []sourceFile {
	files := []sourceFile{}
	seen := map[string]struct{}{}
	for _, rel := range config.Scan.SourceDirs {
		root := filepath.Join(workspace, rel)
		_ = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return nil
			}
			if info.IsDir() {
				if isExcludedDir(info.Name()) {
					return filepath.SkipDir
				}
				return nil
			}
			if _, ok := seen[path]; ok {
				return nil
			}
			seen[path] = struct{}{}
			relPath, err := filepath.Rel(workspace, path)
			if err != nil {
				relPath = path
			}
			files = append(files, sourceFile{Path: path, Rel: filepath.ToSlash(relPath)})
			return nil
		})
	}
	return files
}

func isExcludedDir(name string) bool {
	for _, ex := range config.Scan.ExcludeDirs {
		if name == strings.TrimSuffix(ex, "/") {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// XML well-formedness
// ---------------------------------------------------------------------------

func checkXMLWellFormed(files []sourceFile) []finding {
	results := []finding{}
	for _, f := range files {
		if !strings.HasSuffix(f.Path, ".xml") {
			continue
		}
		if err := parseXMLFile(f.Path); err != nil {
			line := 1
			if syn, ok := err.(*xml.SyntaxError); ok {
				line = syn.Line
			}
			results = append(results, finding{
				File:    f.Rel,
				Line:    line,
				Message: fmt.Sprintf("malformed XML: %v", err),
			})
		}
	}
	return results
}

func parseXMLFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	dec := xml.NewDecoder(strings.NewReader(string(support.StripBOM(data))))
	for {
		_, err := dec.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

// ---------------------------------------------------------------------------
// API version floor
// ---------------------------------------------------------------------------

// apiVersionOf scans descriptor tokens for the first apiVersion element.
// Returns ok=false when the file carries no apiVersion at all.
func apiVersionOf(path string) (float64, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false, err
	}
	dec := xml.NewDecoder(strings.NewReader(string(support.StripBOM(data))))
	for {
		tok, err := dec.Token()
		if err != nil {
			return 0, false, nil
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "apiVersion" {
			continue
		}
		var raw string
		if err := dec.DecodeElement(&raw, &start); err != nil {
			return 0, true, err
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return 0, true, fmt.Errorf("unparsable apiVersion %q", raw)
		}
		return v, true, nil
	}
}

func checkAPIVersionFloor(files []sourceFile) ([]finding, map[string]interface{}) {
	floor := config.Scan.APIVersionFloor
	results := []finding{}
	checked := 0
	for _, f := range files {
		if !strings.HasSuffix(f.Path, "-meta.xml") {
			continue
		}
		v, ok, err := apiVersionOf(f.Path)
		if err != nil {
			results = append(results, finding{
				File:    f.Rel,
				Message: err.Error(),
			})
			continue
		}
		if !ok {
			continue
		}
		checked++
		if v < floor {
			results = append(results, finding{
				File:    f.Rel,
				Message: fmt.Sprintf("apiVersion %.1f below floor %.1f", v, floor),
			})
		}
	}
	evidence := map[string]interface{}{
		"apiVersionFloor":    floor,
		"descriptorsChecked": checked,
	}
	return results, evidence
}

// ---------------------------------------------------------------------------
// Meta-file presence
// ---------------------------------------------------------------------------

// checkMetaFilePresence pairs each Apex source with its -meta.xml descriptor
// and flags orphan descriptors whose source was deleted.
func checkMetaFilePresence(files []sourceFile) []finding {
	byPath := map[string]struct{}{}
	for _, f := range files {
		byPath[f.Rel] = struct{}{}
	}
	results := []finding{}
	for _, f := range files {
		ext := filepath.Ext(f.Rel)
		switch ext {
		case ".cls", ".trigger":
			if _, ok := byPath[f.Rel+"-meta.xml"]; !ok {
				results = append(results, finding{
					File:    f.Rel,
					Message: fmt.Sprintf("missing %s-meta.xml descriptor", filepath.Base(f.Rel)),
				})
			}
		}
		if strings.HasSuffix(f.Rel, ".cls-meta.xml") || strings.HasSuffix(f.Rel, ".trigger-meta.xml") {
			base := strings.TrimSuffix(f.Rel, "-meta.xml")
			if _, ok := byPath[base]; !ok {
				results = append(results, finding{
					File:    f.Rel,
					Message: fmt.Sprintf("orphan descriptor: %s not found", filepath.Base(base)),
				})
			}
		}
	}
	return results
}

// ---------------------------------------------------------------------------
// Deprecated components
// ---------------------------------------------------------------------------

func checkDeprecatedComponents(files []sourceFile) ([]finding, map[string]interface{}) {
	results := []finding{}
	counts := map[string]int{}
	for _, f := range files {
		for _, ext := range config.Scan.DeprecatedExtensions {
			if strings.HasSuffix(f.Rel, ext) {
				counts[ext]++
				results = append(results, finding{
					File:    f.Rel,
					Message: fmt.Sprintf("deprecated component type %s", ext),
				})
			}
		}
		if strings.HasSuffix(f.Rel, ".flow-meta.xml") && flowHasDeprecatedType(f.Path, config.Scan.DeprecatedFlowType) {
			counts[".flow("+config.Scan.DeprecatedFlowType+")"]++
			results = append(results, finding{
				File:    f.Rel,
				Message: fmt.Sprintf("flow uses deprecated processType %s", config.Scan.DeprecatedFlowType),
			})
		}
	}
	evidence := map[string]interface{}{"deprecatedCounts": counts}
	return results, evidence
}

func flowHasDeprecatedType(path, processType string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	dec := xml.NewDecoder(strings.NewReader(string(support.StripBOM(data))))
	for {
		tok, err := dec.Token()
		if err != nil {
			return false
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "processType" {
			continue
		}
		var raw string
		if err := dec.DecodeElement(&raw, &start); err != nil {
			return false
		}
		return strings.TrimSpace(raw) == processType
	}
}

// ---------------------------------------------------------------------------
// Package manifest
// ---------------------------------------------------------------------------

type manifestPackage struct {
	XMLName xml.Name        `xml:"Package"`
	Types   []manifestTypes `xml:"types"`
	Version string          `xml:"version"`
}

type manifestTypes struct {
	Members []string `xml:"members"`
	Name    string   `xml:"name"`
}

func findManifest(workspace string) string {
	for _, rel := range config.Scan.ManifestPaths {
		path := filepath.Join(workspace, rel)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

func checkManifest(workspace string) ([]finding, map[string]interface{}) {
	path := findManifest(workspace)
	evidence := map[string]interface{}{"manifestPath": ""}
	if path == "" {
		return []finding{{
			File:    strings.Join(config.Scan.ManifestPaths, ", "),
			Message: "package manifest not found",
		}}, evidence
	}
	rel, err := filepath.Rel(workspace, path)
	if err != nil {
		rel = path
	}
	rel = filepath.ToSlash(rel)
	evidence["manifestPath"] = rel

	data, err := os.ReadFile(path)
	if err != nil {
		return []finding{{File: rel, Message: fmt.Sprintf("cannot read manifest: %v", err)}}, evidence
	}
	var pkg manifestPackage
	if err := xml.Unmarshal(support.StripBOM(data), &pkg); err != nil {
		line := 1
		if syn, ok := err.(*xml.SyntaxError); ok {
			line = syn.Line
		}
		return []finding{{File: rel, Line: line, Message: fmt.Sprintf("malformed manifest: %v", err)}}, evidence
	}

	results := []finding{}
	if strings.TrimSpace(pkg.Version) == "" {
		results = append(results, finding{File: rel, Message: "manifest missing <version>"})
	}
	if len(pkg.Types) == 0 {
		results = append(results, finding{File: rel, Message: "manifest declares no <types>"})
	}
	for i, t := range pkg.Types {
		if strings.TrimSpace(t.Name) == "" {
			results = append(results, finding{File: rel, Message: fmt.Sprintf("types block %d missing <name>", i+1)})
		}
		if len(t.Members) == 0 {
			results = append(results, finding{File: rel, Message: fmt.Sprintf("types block %q has no <members>", t.Name)})
		}
	}
	evidence["typesCount"] = len(pkg.Types)
	return results, evidence
}
