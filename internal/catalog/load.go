package catalog

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

var (
	//go:embed data/schema.yaml
	schemaYAML []byte

	//go:embed data/roles.yaml
	rolesYAML []byte

	//go:embed data/seed.yaml
	seedYAML []byte
)

// Catalog bundles the three catalog files.
type Catalog struct {
	Schema *Schema
	Roles  *Roles
	Seed   *Seed
}

// Sources is the raw YAML of each catalog file.
type Sources struct {
	Schema []byte
	Roles  []byte
	Seed   []byte
}

// Embedded returns the catalog files compiled into the binary.
func Embedded() Sources {
	return Sources{Schema: schemaYAML, Roles: rolesYAML, Seed: seedYAML}
}

// Load validates and decodes the embedded catalog.
func Load() (*Catalog, error) {
	return LoadSources(Embedded())
}

// LoadSources validates and decodes src.
func LoadSources(src Sources) (*Catalog, error) {
	v, err := newValidator()
	if err != nil {
		return nil, err
	}

	files := []struct {
		name string
		def  string
		data []byte
		out  any
	}{
		{"schema.yaml", "#Schema", src.Schema, new(Schema)},
		{"roles.yaml", "#Roles", src.Roles, new(Roles)},
		{"seed.yaml", "#Seed", src.Seed, new(Seed)},
	}

	for _, f := range files {
		if err := v.validate(f.name, f.def, f.data); err != nil {
			return nil, err
		}
		if err := decodeStrict(f.data, f.out); err != nil {
			return nil, &Error{File: f.name, Message: err.Error()}
		}
	}

	cat := &Catalog{
		Schema: files[0].out.(*Schema),
		Roles:  files[1].out.(*Roles),
		Seed:   files[2].out.(*Seed),
	}
	if err := cat.Check(); err != nil {
		return nil, err
	}
	return cat, nil
}

// MustLoad is Load for tests and static initialisation.
func MustLoad() *Catalog {
	cat, err := Load()
	if err != nil {
		panic(err)
	}
	return cat
}

func decodeStrict(data []byte, out any) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}
