package loader

import (
	"debug/elf"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"
)

// ArtifactKind distinguishes the two artifact families the loader binds.
type ArtifactKind string

const (
	// KindNative is a compiled shared library (ELF shared object).
	KindNative ArtifactKind = "native"
	// KindScript is a text module whose exports are declared functions.
	KindScript ArtifactKind = "script"
)

// binder validates an artifact on disk and extracts its export table. One
// binder exists per artifact kind; LoadModule dispatches through the table
// below, so adding an artifact family means adding a table entry, not
// touching the load path.
type binder interface {
	// Verify checks artifact integrity before any symbols are read.
	Verify(path string) error
	// Exports returns the artifact's exported symbol names.
	Exports(path string) ([]string, error)
}

var binders = map[ArtifactKind]binder{
	KindNative: nativeBinder{},
	KindScript: scriptBinder{},
}

var scriptExtensions = map[string]struct{}{
	".py":  {},
	".lua": {},
	".js":  {},
	".sh":  {},
}

// KindForPath infers the artifact kind from the file extension. Shared
// library extensions map to native; known script extensions map to script.
func KindForPath(path string) (ArtifactKind, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".so", ".dll", ".dylib":
		return KindNative, nil
	}
	if _, ok := scriptExtensions[ext]; ok {
		return KindScript, nil
	}
	return "", fmt.Errorf("unsupported artifact extension %q", ext)
}

// nativeBinder handles ELF shared objects. Verification reads the ELF header
// and rejects anything that is not a dynamic library; exports come from the
// dynamic symbol table, restricted to defined functions.
type nativeBinder struct{}

func (nativeBinder) Verify(path string) error {
	f, err := elf.Open(path)
	if err != nil {
		return fmt.Errorf("not a valid ELF object: %w", err)
	}
	defer f.Close()

	if f.Type != elf.ET_DYN {
		return fmt.Errorf("ELF type %s is not a shared object", f.Type)
	}
	return nil
}

func (nativeBinder) Exports(path string) ([]string, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open ELF object: %w", err)
	}
	defer f.Close()

	syms, err := f.DynamicSymbols()
	if err != nil {
		return nil, fmt.Errorf("read dynamic symbols: %w", err)
	}

	var exports []string
	for _, s := range syms {
		if elf.ST_TYPE(s.Info) != elf.STT_FUNC {
			continue
		}
		// Section index 0 marks an undefined symbol imported from elsewhere.
		if s.Section == elf.SHN_UNDEF {
			continue
		}
		exports = append(exports, s.Name)
	}
	return exports, nil
}

// scriptBinder handles text modules. Verification requires valid UTF-8;
// exports are top-level function declarations matched across the script
// dialects the platform ships drivers in.
type scriptBinder struct{}

var scriptFuncPattern = regexp.MustCompile(`(?m)^\s*(?:def|function|local\s+function)\s+([A-Za-z_][A-Za-z0-9_]*)`)

func (scriptBinder) Verify(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if !utf8.Valid(data) {
		return fmt.Errorf("script %s contains invalid UTF-8", filepath.Base(path))
	}
	return nil
}

func (scriptBinder) Exports(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var exports []string
	for _, m := range scriptFuncPattern.FindAllStringSubmatch(string(data), -1) {
		name := m[1]
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		exports = append(exports, name)
	}
	return exports, nil
}
