package fit

// Policy decides, per anomaly class, whether the decoder drops the offending
// definition or message and carries on, or aborts the parse.
//
// Definition anomalies abort unless Lenient is set, in which case the
// matching Discard flag picks discard over abort. Data message anomalies are
// governed by their Discard flag alone. Policy is a plain value; the decoder
// copies it.
type Policy struct {
	// Lenient tolerates header checksum mismatches, truncated payloads and
	// file checksum mismatches, and enables the definition discard flags.
	Lenient bool

	DiscardRedefinition    bool
	DiscardUnknownBaseType bool
	DiscardInvalidGlobal   bool
	DiscardUnsupportedArch bool

	DiscardOversizedMessage  bool
	DiscardImplausibleRecord bool
	DiscardMisplacedFileID   bool

	// CheckRedefinition enables detection of a global message number bound
	// to two local numbers at once. Device firmware does this legitimately,
	// so it is off by default.
	CheckRedefinition bool

	// MaxGlobal is the highest accepted global message number below the
	// manufacturer range. 0xFFFF is never accepted.
	MaxGlobal uint16
	// MaxMessageSize bounds the byte size of one data message. Zero disables
	// the check.
	MaxMessageSize int
	// MaxTimeJump bounds the seconds between consecutive records. Zero
	// disables the check.
	MaxTimeJump uint32
	// MaxPositionJump bounds the degrees of latitude or longitude between
	// consecutive records. Zero disables the check.
	MaxPositionJump float64
}

// DefaultPolicy keeps going on data message anomalies and aborts on
// structural definition errors.
func DefaultPolicy() Policy {
	return Policy{
		DiscardRedefinition:      true,
		DiscardUnknownBaseType:   true,
		DiscardInvalidGlobal:     true,
		DiscardUnsupportedArch:   true,
		DiscardOversizedMessage:  true,
		DiscardImplausibleRecord: true,
		DiscardMisplacedFileID:   true,
		MaxGlobal:                0xFFFE,
		MaxMessageSize:           4096,
		MaxTimeJump:              30 * 24 * 3600,
		MaxPositionJump:          1.0,
	}
}

// LenientPolicy is DefaultPolicy with Lenient set.
func LenientPolicy() Policy {
	p := DefaultPolicy()
	p.Lenient = true
	return p
}

// Discards reports whether an anomaly of class a is dropped rather than
// aborting the parse.
func (p Policy) Discards(a Anomaly) bool {
	switch a {
	case AnomalyRedefinition:
		return p.Lenient && p.DiscardRedefinition
	case AnomalyUnknownBaseType:
		return p.Lenient && p.DiscardUnknownBaseType
	case AnomalyInvalidGlobal:
		return p.Lenient && p.DiscardInvalidGlobal
	case AnomalyUnsupportedArch:
		return p.Lenient && p.DiscardUnsupportedArch
	case AnomalyOversizedMessage:
		return p.DiscardOversizedMessage
	case AnomalyImplausibleRecord:
		return p.DiscardImplausibleRecord
	case AnomalyMisplacedFileID:
		return p.DiscardMisplacedFileID
	}
	return false
}

func (p Policy) validGlobal(global uint16) bool {
	if global == 0xFFFF {
		return false
	}
	limit := p.MaxGlobal
	if limit == 0 {
		limit = 0xFFFE
	}
	return global <= limit || global >= 0xFF00
}
