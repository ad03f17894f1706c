package catalog

import (
	_ "embed"
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	cueyaml "cuelang.org/go/encoding/yaml"
)

//go:embed catalog.cue
var catalogCUE string

// Error reports an invalid catalog file.
type Error struct {
	File    string
	Path    string
	Message string
}

func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s: %s", e.File, e.Path, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.File, e.Message)
}

type validator struct {
	ctx  *cue.Context
	defs cue.Value
}

func newValidator() (*validator, error) {
	ctx := cuecontext.New()
	defs := ctx.CompileString(catalogCUE, cue.Filename("catalog.cue"))
	if err := defs.Err(); err != nil {
		return nil, fmt.Errorf("compile catalog definitions: %w", err)
	}
	return &validator{ctx: ctx, defs: defs}, nil
}

// validate unifies the YAML document with definition def and requires a
// concrete result.
func (v *validator) validate(name, def string, data []byte) error {
	file, err := cueyaml.Extract(name, data)
	if err != nil {
		return &Error{File: name, Message: fmt.Sprintf("parse: %v", err)}
	}
	doc := v.ctx.BuildFile(file)
	if err := doc.Err(); err != nil {
		return &Error{File: name, Message: fmt.Sprintf("build: %v", err)}
	}

	schema := v.defs.LookupPath(cue.ParsePath(def))
	if !schema.Exists() {
		return fmt.Errorf("catalog definition %s not found", def)
	}

	unified := schema.Unify(doc)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return convertCUEError(name, err)
	}
	return nil
}

// convertCUEError keeps the first CUE error with its path.
func convertCUEError(name string, err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return &Error{File: name, Message: err.Error()}
	}
	first := errs[0]
	format, args := first.Msg()
	msg := fmt.Sprintf(format, args...)
	if len(errs) > 1 {
		msg = fmt.Sprintf("%s (and %d more errors)", msg, len(errs)-1)
	}
	return &Error{File: name, Path: strings.Join(first.Path(), "."), Message: msg}
}
