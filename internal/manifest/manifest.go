// SPDX-License-Identifier: MPL-2.0

// Package manifest edits Cargo.toml documents in place. Only the bytes of the
// string values being replaced change; comments, ordering, whitespace and
// every other value are preserved byte for byte.
package manifest

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2/unstable"
)

// pathSep joins key segments into index keys. It cannot appear in a TOML key
// produced by the parser for the tables this package edits.
const pathSep = "\x00"

var (
	// ErrFieldNotFound is returned when the field to edit is not declared.
	ErrFieldNotFound = errors.New("manifest field not found")
	// ErrNotString is returned when the field to edit is not a string value.
	ErrNotString = errors.New("manifest field is not a string")
	// ErrInherited is returned when the field uses `workspace = true` and
	// must be edited in the workspace root manifest instead.
	ErrInherited = errors.New("manifest field is inherited from the workspace")
)

type (
	// Document is a parsed manifest that records the byte range of every
	// scalar value so individual strings can be replaced without
	// re-serializing the file.
	Document struct {
		src    []byte
		values map[string]value
		edits  map[uint32]edit
	}

	value struct {
		rng  unstable.Range
		kind unstable.Kind
	}

	edit struct {
		rng         unstable.Range
		replacement []byte
	}

	// FieldError reports a failed edit of one field.
	FieldError struct {
		Path []string
		Err  error
	}
)

// Error implements the error interface.
func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %v", strings.Join(e.Path, "."), e.Err)
}

// Unwrap returns the underlying sentinel.
func (e *FieldError) Unwrap() error { return e.Err }

// Load reads and parses the manifest at path.
func Load(path string) (*Document, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	doc, err := Parse(src)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return doc, nil
}

// Parse parses a TOML document. The input is retained and must not be
// modified by the caller afterwards.
func Parse(src []byte) (*Document, error) {
	d := &Document{
		src:    src,
		values: make(map[string]value),
		edits:  make(map[uint32]edit),
	}

	p := unstable.Parser{}
	p.Reset(src)
	var table []string
	for p.NextExpression() {
		expr := p.Expression()
		switch expr.Kind {
		case unstable.Table:
			table = keyParts(expr.Key())
		case unstable.ArrayTable:
			// Keys below an array table are never edited; the marker keeps them
			// from matching any lookup path.
			table = append(keyParts(expr.Key()), "[]")
		case unstable.KeyValue:
			d.index(table, expr)
		}
	}
	if err := p.Error(); err != nil {
		return nil, err
	}
	return d, nil
}

func keyParts(it unstable.Iterator) []string {
	var parts []string
	for it.Next() {
		parts = append(parts, string(it.Node().Data))
	}
	return parts
}

// index records the key-value node kv declared under prefix, descending into
// inline tables.
func (d *Document) index(prefix []string, kv *unstable.Node) {
	path := append(slices.Clone(prefix), keyParts(kv.Key())...)
	val := kv.Value()
	switch val.Kind {
	case unstable.InlineTable:
		d.values[strings.Join(path, pathSep)] = value{kind: val.Kind}
		it := val.Children()
		for it.Next() {
			if child := it.Node(); child.Kind == unstable.KeyValue {
				d.index(path, child)
			}
		}
	default:
		d.values[strings.Join(path, pathSep)] = value{rng: val.Raw, kind: val.Kind}
	}
}

// Has reports whether the field at path is declared.
func (d *Document) Has(path ...string) bool {
	_, ok := d.values[strings.Join(path, pathSep)]
	return ok
}

// Get returns the current string value at path, including pending edits.
func (d *Document) Get(path ...string) (string, error) {
	v, err := d.lookup(path)
	if err != nil {
		return "", err
	}
	raw := d.src[v.rng.Offset : v.rng.Offset+v.rng.Length]
	if e, ok := d.edits[v.rng.Offset]; ok {
		raw = e.replacement
	}
	return unquote(raw), nil
}

func (d *Document) lookup(path []string) (value, error) {
	v, ok := d.values[strings.Join(path, pathSep)]
	if !ok {
		if d.isInherited(path) {
			return value{}, &FieldError{Path: path, Err: ErrInherited}
		}
		return value{}, &FieldError{Path: path, Err: ErrFieldNotFound}
	}
	if v.kind == unstable.InlineTable && d.isInherited(path) {
		return value{}, &FieldError{Path: path, Err: ErrInherited}
	}
	if v.kind != unstable.String {
		return value{}, &FieldError{Path: path, Err: ErrNotString}
	}
	return v, nil
}

func (d *Document) isInherited(path []string) bool {
	v, ok := d.values[strings.Join(append(slices.Clone(path), "workspace"), pathSep)]
	return ok && v.kind == unstable.Bool
}

// Set replaces the string value at path, keeping its quote style.
func (d *Document) Set(newValue string, path ...string) error {
	v, err := d.lookup(path)
	if err != nil {
		return err
	}
	original := d.src[v.rng.Offset : v.rng.Offset+v.rng.Length]
	d.edits[v.rng.Offset] = edit{rng: v.rng, replacement: quoteLike(original, newValue)}
	return nil
}

// SetPackageVersion replaces package.version.
func (d *Document) SetPackageVersion(version string) error {
	return d.Set(version, "package", "version")
}

// SetWorkspacePackageVersion replaces workspace.package.version, the version
// inherited by members declaring `version.workspace = true`.
func (d *Document) SetWorkspacePackageVersion(version string) error {
	return d.Set(version, "workspace", "package", "version")
}

// SetDependencyRequirement replaces the version requirement of the dependency
// declared as key in the given table, whether written in string form
// (`b = "1.0"`) or table form (`b = { version = "1.0" }`, `[dependencies.b]`).
func (d *Document) SetDependencyRequirement(table []string, key, requirement string) error {
	path := append(slices.Clone(table), key)
	if d.isInherited(path) {
		return &FieldError{Path: path, Err: ErrInherited}
	}
	v, ok := d.values[strings.Join(path, pathSep)]
	if ok && v.kind == unstable.String {
		return d.Set(requirement, path...)
	}
	return d.Set(requirement, append(path, "version")...)
}

// Changed reports whether any edit is pending.
func (d *Document) Changed() bool {
	for _, e := range d.edits {
		if string(e.replacement) != string(d.src[e.rng.Offset:e.rng.Offset+e.rng.Length]) {
			return true
		}
	}
	return false
}

// Original returns the bytes the document was parsed from.
func (d *Document) Original() []byte { return d.src }

// Bytes returns the document with all edits applied. Edits are applied from
// the end of the input so earlier offsets stay valid.
func (d *Document) Bytes() []byte {
	edits := make([]edit, 0, len(d.edits))
	for _, e := range d.edits {
		edits = append(edits, e)
	}
	slices.SortFunc(edits, func(a, b edit) int { return int(b.rng.Offset) - int(a.rng.Offset) })

	out := slices.Clone(d.src)
	for _, e := range edits {
		start := int(e.rng.Offset)
		end := start + int(e.rng.Length)
		out = slices.Replace(out, start, end, e.replacement...)
	}
	return out
}

func quoteLike(original []byte, s string) []byte {
	if len(original) > 0 && original[0] == '\'' && !strings.Contains(s, "'") {
		return []byte("'" + s + "'")
	}
	if strings.ContainsAny(s, "\"\\") {
		return []byte(strconv.Quote(s))
	}
	return []byte(`"` + s + `"`)
}

func unquote(raw []byte) string {
	s := string(raw)
	if len(s) >= 2 && s[0] == '\'' {
		return s[1 : len(s)-1]
	}
	if u, err := strconv.Unquote(s); err == nil {
		return u
	}
	return strings.Trim(s, `"`)
}
