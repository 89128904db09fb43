package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"example.com/fitgate/internal/fit"
)

// PolicyFile is the YAML form of a discard policy. Unset keys keep the
// value from fit.DefaultPolicy.
type PolicyFile struct {
	Lenient           *bool          `yaml:"lenient"`
	CheckRedefinition *bool          `yaml:"checkRedefinition"`
	Discard           DiscardFlags   `yaml:"discard"`
	MaxGlobal         *uint16        `yaml:"maxGlobal"`
	MaxMessageSize    *int           `yaml:"maxMessageSize"`
	MaxTimeJump       *time.Duration `yaml:"maxTimeJump"`
	MaxPositionJump   *float64       `yaml:"maxPositionJump"`
}

type DiscardFlags struct {
	Redefinition      *bool `yaml:"redefinition"`
	UnknownBaseType   *bool `yaml:"unknownBaseType"`
	InvalidGlobal     *bool `yaml:"invalidGlobal"`
	UnsupportedArch   *bool `yaml:"unsupportedArch"`
	OversizedMessage  *bool `yaml:"oversizedMessage"`
	ImplausibleRecord *bool `yaml:"implausibleRecord"`
	MisplacedFileID   *bool `yaml:"misplacedFileId"`
}

// ParsePolicy reads a policy document. An empty document yields the default
// policy.
func ParsePolicy(r io.Reader) (fit.Policy, error) {
	var pf PolicyFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&pf); err != nil && !errors.Is(err, io.EOF) {
		return fit.Policy{}, fmt.Errorf("decode policy: %w", err)
	}
	return pf.Policy()
}

// LoadPolicy reads the policy file at path. An empty path yields the
// default policy.
func LoadPolicy(path string) (fit.Policy, error) {
	if path == "" {
		return fit.DefaultPolicy(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return fit.Policy{}, err
	}
	defer f.Close()
	p, err := ParsePolicy(f)
	if err != nil {
		return p, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// Policy applies the document over the defaults.
func (pf PolicyFile) Policy() (fit.Policy, error) {
	p := fit.DefaultPolicy()
	setBool(&p.Lenient, pf.Lenient)
	setBool(&p.CheckRedefinition, pf.CheckRedefinition)
	setBool(&p.DiscardRedefinition, pf.Discard.Redefinition)
	setBool(&p.DiscardUnknownBaseType, pf.Discard.UnknownBaseType)
	setBool(&p.DiscardInvalidGlobal, pf.Discard.InvalidGlobal)
	setBool(&p.DiscardUnsupportedArch, pf.Discard.UnsupportedArch)
	setBool(&p.DiscardOversizedMessage, pf.Discard.OversizedMessage)
	setBool(&p.DiscardImplausibleRecord, pf.Discard.ImplausibleRecord)
	setBool(&p.DiscardMisplacedFileID, pf.Discard.MisplacedFileID)

	if pf.MaxGlobal != nil {
		if *pf.MaxGlobal == 0xFFFF {
			return p, errors.New("maxGlobal 0xFFFF is the invalid marker")
		}
		p.MaxGlobal = *pf.MaxGlobal
	}
	if pf.MaxMessageSize != nil {
		if *pf.MaxMessageSize < 0 {
			return p, fmt.Errorf("maxMessageSize %d is negative", *pf.MaxMessageSize)
		}
		p.MaxMessageSize = *pf.MaxMessageSize
	}
	if pf.MaxTimeJump != nil {
		if *pf.MaxTimeJump < 0 {
			return p, fmt.Errorf("maxTimeJump %s is negative", *pf.MaxTimeJump)
		}
		p.MaxTimeJump = uint32(pf.MaxTimeJump.Seconds())
	}
	if pf.MaxPositionJump != nil {
		if *pf.MaxPositionJump < 0 {
			return p, fmt.Errorf("maxPositionJump %g is negative", *pf.MaxPositionJump)
		}
		p.MaxPositionJump = *pf.MaxPositionJump
	}
	return p, nil
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}
