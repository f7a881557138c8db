// Package materialize expands a workflow group template across a set of
// selected source files, producing one concrete group per selection.
//
// The materializer is pure: it does no I/O and never mutates its inputs.
// Path rewrites preserve the separator style already present in the
// template and selections, so Windows-style templates stay Windows-style.
package materialize

import (
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/forgeflow/forgeflow/pkg/errors"
	"github.com/forgeflow/forgeflow/pkg/workflow"
)

// SharedInputName marks a file input shared across all materialized groups.
// Inputs with this name ("API document") are never rewritten.
const SharedInputName = "接口文档"

// Selection pairs a source root with one file identifier relative to it.
type Selection struct {
	// SourcePath is the root the selection was made from.
	SourcePath string `json:"sourcePath"`
	// FilePath is the file identifier, possibly with subdirectories.
	FilePath string `json:"filePath"`
}

// Options adjusts naming of the materialized groups.
type Options struct {
	// NamePrefix prefixes output file names and, absent NamePattern,
	// group names.
	NamePrefix string `json:"namePrefix,omitempty"`
	// NamePattern names groups with {fileName} substituted.
	NamePattern string `json:"namePattern,omitempty"`
	// Description templates group descriptions with {fileName} and
	// {sourcePath} substituted.
	Description string `json:"description,omitempty"`
}

// Materialize produces one workflow group per selection by deep-copying the
// template and rewriting file inputs and output targets for that
// selection's file.
func Materialize(tmpl *workflow.Template, selections []Selection, opts Options) ([]*workflow.Group, error) {
	if tmpl == nil {
		return nil, &errors.ValidationError{Field: "template", Message: "template is required"}
	}
	if len(selections) == 0 {
		return nil, &errors.ValidationError{Field: "selections", Message: "at least one selection is required"}
	}

	groups := make([]*workflow.Group, 0, len(selections))
	for _, sel := range selections {
		if sel.FilePath == "" {
			return nil, &errors.ValidationError{Field: "selections", Message: "selection file path must not be empty"}
		}
		groups = append(groups, materializeOne(tmpl, sel, opts))
	}
	return groups, nil
}

func materializeOne(tmpl *workflow.Template, sel Selection, opts Options) *workflow.Group {
	fileName := baseName(sel.FilePath)
	base, _ := splitExt(fileName)
	capitalized := capitalizeFirst(base)
	relPrefix := dirPart(sel.FilePath)

	clone := tmpl.Clone()
	for _, w := range clone.Workflows {
		w.ResetRuntime()
		for _, s := range w.Steps {
			rewriteStep(s, sel, opts, fileName, capitalized, relPrefix)
		}
	}

	now := time.Now().UTC()
	return &workflow.Group{
		ID:          uuid.NewString(),
		Name:        groupName(opts, capitalized),
		Description: groupDescription(opts, sel, fileName),
		Template:    clone,
		Status:      workflow.GroupIdle,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func rewriteStep(s *workflow.Step, sel Selection, opts Options, fileName, capitalized, relPrefix string) {
	for i := range s.Config.FileInputs {
		in := &s.Config.FileInputs[i]
		if in.Name == SharedInputName || in.DependsOn != "" || in.Path == "" {
			continue
		}

		sep := detectSep(in.Path)
		dir := dirPart(in.Path)
		_, ext := splitExt(baseName(in.Path))

		// A .jsp input consumes the selection's raw file directly.
		if strings.EqualFold(ext, ".jsp") {
			in.Path = joinWith(detectSep(sel.SourcePath, sel.FilePath), sel.SourcePath, sel.FilePath)
			continue
		}

		if relPrefix != "" && !containsPath(dir, relPrefix) {
			dir = joinWith(sep, dir, relPrefix)
		}
		in.Path = joinWith(sep, dir, capitalized+ext)
	}

	if s.Config.OutputFileName != "" {
		_, outExt := splitExt(s.Config.OutputFileName)
		s.Config.OutputFileName = opts.NamePrefix + capitalized + outExt
	}
	if relPrefix != "" && s.Config.OutputFolder != "" && !containsPath(s.Config.OutputFolder, relPrefix) {
		s.Config.OutputFolder = joinWith(detectSep(s.Config.OutputFolder), s.Config.OutputFolder, relPrefix)
	}
}

func groupName(opts Options, capitalized string) string {
	if opts.NamePattern != "" {
		return strings.ReplaceAll(opts.NamePattern, "{fileName}", capitalized)
	}
	prefix := strings.TrimRight(opts.NamePrefix, "-")
	if prefix == "" {
		prefix = "task"
	}
	return prefix + "-" + capitalized
}

func groupDescription(opts Options, sel Selection, fileName string) string {
	desc := strings.ReplaceAll(opts.Description, "{fileName}", fileName)
	return strings.ReplaceAll(desc, "{sourcePath}", sel.SourcePath)
}

// capitalizeFirst upper-cases the first rune only.
func capitalizeFirst(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

// detectSep picks the separator style already used by the given paths,
// preferring backslash when any path contains one.
func detectSep(paths ...string) string {
	for _, p := range paths {
		if strings.Contains(p, `\`) {
			return `\`
		}
	}
	return "/"
}

// normalize maps both separator styles to forward slashes for comparisons.
func normalize(p string) string {
	return strings.ReplaceAll(p, `\`, "/")
}

// baseName returns the last segment of a path in either separator style.
func baseName(p string) string {
	n := normalize(p)
	if i := strings.LastIndex(n, "/"); i >= 0 {
		return n[i+1:]
	}
	return n
}

// dirPart returns the directory portion of a path, "" when flat. The
// result keeps the input's separator style.
func dirPart(p string) string {
	sep := detectSep(p)
	n := normalize(p)
	i := strings.LastIndex(n, "/")
	if i < 0 {
		return ""
	}
	dir := n[:i]
	if sep == `\` {
		dir = strings.ReplaceAll(dir, "/", `\`)
	}
	return dir
}

// splitExt splits a file name into (base, extension). The extension keeps
// its leading dot; a name without a dot has an empty extension.
func splitExt(name string) (string, string) {
	if i := strings.LastIndex(name, "."); i > 0 {
		return name[:i], name[i:]
	}
	return name, ""
}

// containsPath reports whether dir already contains sub, comparing with
// normalized separators.
func containsPath(dir, sub string) bool {
	return strings.Contains(normalize(dir), normalize(sub))
}

// joinWith joins non-empty parts with sep, trimming redundant separators at
// the seams. The first part keeps its leading separator so absolute paths
// stay absolute.
func joinWith(sep string, parts ...string) string {
	var out []string
	for _, p := range parts {
		if len(out) == 0 {
			p = strings.TrimRight(p, `\/`)
		} else {
			p = strings.Trim(p, `\/`)
		}
		if p != "" {
			out = append(out, p)
		}
	}
	joined := strings.Join(out, sep)
	if sep == `\` {
		joined = strings.ReplaceAll(joined, "/", `\`)
	} else {
		joined = strings.ReplaceAll(joined, `\`, "/")
	}
	return joined
}
