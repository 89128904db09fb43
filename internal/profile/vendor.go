package profile

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"example.com/fitgate/internal/basetype"
)

// Manufacturer-specific global numbers start here.
const VendorRangeStart uint16 = 0xFF00

// VendorFile is the YAML document listing non-standard messages.
type VendorFile struct {
	Messages []VendorMessage `yaml:"messages"`
}

type VendorMessage struct {
	Num    int           `yaml:"num"`
	Name   string        `yaml:"name"`
	Fields []VendorField `yaml:"fields"`
}

type VendorField struct {
	Num         int     `yaml:"num"`
	Name        string  `yaml:"name"`
	Type        string  `yaml:"type"`
	Scale       float64 `yaml:"scale,omitempty"`
	Offset      float64 `yaml:"offset,omitempty"`
	Units       string  `yaml:"units,omitempty"`
	Profile     string  `yaml:"profile,omitempty"`
	Accumulated bool    `yaml:"accumulated,omitempty"`
}

// ParseVendor decodes a vendor YAML document into message descriptors.
func ParseVendor(r io.Reader) ([]MessageDescriptor, error) {
	var file VendorFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("decode vendor profile: %w", err)
	}
	return file.Descriptors()
}

// Descriptors validates the document and converts it.
func (vf VendorFile) Descriptors() ([]MessageDescriptor, error) {
	out := make([]MessageDescriptor, 0, len(vf.Messages))
	seen := make(map[int]struct{}, len(vf.Messages))
	for i, m := range vf.Messages {
		if m.Num < 0 || m.Num > 0xFFFE {
			return nil, fmt.Errorf("messages[%d]: num %d out of range", i, m.Num)
		}
		if _, dup := seen[m.Num]; dup {
			return nil, fmt.Errorf("messages[%d]: duplicate num %d", i, m.Num)
		}
		seen[m.Num] = struct{}{}
		name := strings.TrimSpace(m.Name)
		if name == "" {
			return nil, fmt.Errorf("messages[%d]: name is empty", i)
		}
		desc := MessageDescriptor{Num: uint16(m.Num), Name: name, Vendor: true}
		fieldSeen := make(map[int]struct{}, len(m.Fields))
		for j, f := range m.Fields {
			if f.Num < 0 || f.Num > 0xFE {
				return nil, fmt.Errorf("messages[%d].fields[%d]: num %d out of range", i, j, f.Num)
			}
			if _, dup := fieldSeen[f.Num]; dup {
				return nil, fmt.Errorf("messages[%d].fields[%d]: duplicate num %d", i, j, f.Num)
			}
			fieldSeen[f.Num] = struct{}{}
			t, ok := basetype.ByName(strings.ToLower(strings.TrimSpace(f.Type)))
			if !ok {
				return nil, fmt.Errorf("messages[%d].fields[%d]: unknown type %q", i, j, f.Type)
			}
			fname := strings.TrimSpace(f.Name)
			if fname == "" {
				fname = fmt.Sprintf("field_%d", f.Num)
			}
			desc.Fields = append(desc.Fields, FieldDescriptor{
				Num:         uint8(f.Num),
				Name:        fname,
				Type:        t,
				Scale:       f.Scale,
				Offset:      f.Offset,
				Units:       strings.TrimSpace(f.Units),
				Profile:     strings.TrimSpace(f.Profile),
				Accumulated: f.Accumulated,
			})
		}
		out = append(out, desc)
	}
	return out, nil
}

// LoadVendor reads a vendor YAML file and returns base extended with it. An
// empty path returns base unchanged.
func LoadVendor(base *Catalog, path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return base, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	msgs, err := ParseVendor(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return base.Extend(msgs...)
}
