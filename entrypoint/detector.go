package entrypoint

import (
	"path"
	"regexp"
	"strings"

	"github.com/isdmx/runbox/apperr"
	"github.com/isdmx/runbox/project"
)

// NoMainMessage is reported when no file declares an entry point.
const NoMainMessage = "No main method found. Please ensure your file contains 'public static void main(String[] args)'."

var (
	mainPattern = regexp.MustCompile(
		`public\s+static\s+(?:final\s+)?void\s+main\s*\(\s*(?:final\s+)?String\s*(?:\[\s*\]\s*\w+|\.\.\.\s*\w+|\w+\s*\[\s*\])\s*\)`)
	packagePattern = regexp.MustCompile(`(?m)^\s*package\s+([\w.]+)\s*;`)
	typePattern    = regexp.MustCompile(`\b(?:class|interface|enum|record)\s+([A-Za-z_$][\w$]*)`)
	namePattern    = regexp.MustCompile(`^[A-Za-z_$][\w$]*(?:\.[A-Za-z_$][\w$]*)*$`)
)

// Detector finds main classes in source files with the given extension.
type Detector struct {
	ext string
}

// NewJavaDetector returns a detector for .java sources.
func NewJavaDetector() *Detector {
	return &Detector{ext: ".java"}
}

// Detect returns the fully qualified name of the first class declaring main.
func (d *Detector) Detect(files []project.SourceFile) (string, error) {
	for _, f := range files {
		if !strings.HasSuffix(f.Path, d.ext) {
			continue
		}
		loc := mainPattern.FindStringIndex(f.Content)
		if loc == nil {
			continue
		}
		head := f.Content[:loc[0]]

		typeName := strings.TrimSuffix(path.Base(f.Path), d.ext)
		if types := typePattern.FindAllStringSubmatch(head, -1); len(types) > 0 {
			typeName = types[len(types)-1][1]
		}

		if pkg := packagePattern.FindStringSubmatch(head); pkg != nil {
			return pkg[1] + "." + typeName, nil
		}
		return typeName, nil
	}
	return "", apperr.New(apperr.NoEntryPointFound, NoMainMessage)
}

// ValidName reports whether name is a syntactically valid qualified class name.
func ValidName(name string) bool {
	return namePattern.MatchString(name)
}
