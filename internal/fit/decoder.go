package fit

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"example.com/fitgate/internal/basetype"
	"example.com/fitgate/internal/profile"
)

const (
	headerFlagCompressed = 0x80
	headerFlagDefinition = 0x40
	headerFlagDeveloper  = 0x20
	localMask            = 0x0F
	compressedLocalMask  = 0x60
	compressedTimeMask   = 0x1F

	semicirclesToDegrees = 180.0 / (1 << 31)
)

// Result is the outcome of a decode. File is the first section of the
// stream; any further header+payload sections follow in Chained.
type Result struct {
	File      *File
	Chained   []*File
	Issues    []Issue
	Discarded int
}

// Err folds every issue into one error, or returns nil when there are none.
func (r *Result) Err() error {
	if r == nil {
		return nil
	}
	var merr *multierror.Error
	for _, is := range r.Issues {
		merr = multierror.Append(merr, fmt.Errorf("%s: %w", is.Action, is.Err))
	}
	return merr.ErrorOrNil()
}

// Warnings lists the folded issues one line each.
func (r *Result) Warnings() []string {
	var merr *multierror.Error
	if !errors.As(r.Err(), &merr) {
		return nil
	}
	out := make([]string, 0, merr.Len())
	for _, err := range merr.WrappedErrors() {
		out = append(out, err.Error())
	}
	return out
}

// Files returns File followed by Chained.
func (r *Result) Files() []*File {
	if r == nil || r.File == nil {
		return nil
	}
	return append([]*File{r.File}, r.Chained...)
}

// DecoderOption configures a Decoder.
type DecoderOption func(*Decoder)

// WithLogger routes decoder warnings to l.
func WithLogger(l logrus.FieldLogger) DecoderOption {
	return func(d *Decoder) {
		if l != nil {
			d.log = l
		}
	}
}

// Decoder parses byte streams into Files. A Decoder holds no per-stream
// state and may be shared between goroutines.
type Decoder struct {
	catalog *profile.Catalog
	policy  Policy
	log     logrus.FieldLogger
}

// NewDecoder returns a decoder resolving names through catalog. A nil
// catalog means profile.Standard().
func NewDecoder(catalog *profile.Catalog, policy Policy, opts ...DecoderOption) *Decoder {
	if catalog == nil {
		catalog = profile.Standard()
	}
	d := &Decoder{catalog: catalog, policy: policy, log: logrus.StandardLogger()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Decode parses data with the standard catalog.
func Decode(data []byte, policy Policy) (*Result, error) {
	return NewDecoder(nil, policy).DecodeBytes(data)
}

// Decode reads r to the end and parses it.
func (d *Decoder) Decode(r io.Reader) (*Result, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read stream: %w", err)
	}
	return d.DecodeBytes(data)
}

// DecodeBytes parses an in-memory stream. Fatal structural errors return a
// nil Result. A checksum mismatch or truncated payload under a non-lenient
// policy returns the parsed Result together with the error.
func (d *Decoder) DecodeBytes(data []byte) (*Result, error) {
	res := &Result{}
	off := 0
	for {
		st := &sectionState{dec: d, res: res, data: data[off:], base: int64(off)}
		file, n, err := st.decode()
		if file != nil {
			if res.File == nil {
				res.File = file
			} else {
				res.Chained = append(res.Chained, file)
			}
		}
		if err != nil {
			if res.File != nil && (errors.Is(err, ErrChecksumMismatch) || errors.Is(err, ErrTruncatedStream)) {
				return res, err
			}
			return nil, err
		}
		off += n
		rest := data[off:]
		if len(rest) == 0 {
			break
		}
		if len(rest) < legacyHeaderSize || string(rest[8:12]) != DataType {
			res.tolerate(d.log, AnomalyNone, &StreamError{
				Kind:   ErrMalformedStream,
				Offset: int64(off),
				Reason: fmt.Sprintf("%d trailing bytes ignored", len(rest)),
			})
			break
		}
	}
	return res, nil
}

func (r *Result) tolerate(log logrus.FieldLogger, a Anomaly, err *StreamError) {
	r.Issues = append(r.Issues, Issue{Action: ActionTolerated, Anomaly: a, Err: err})
	log.WithField("offset", err.Offset).Warn(err.Error())
}

type slot struct {
	def         *MessageDefinition
	quarantined bool
}

type accumKey struct {
	global uint16
	field  uint8
}

type accumulator struct {
	last  uint64
	value uint64
	seen  bool
}

func (a *accumulator) next(raw, mask uint64) uint64 {
	if !a.seen {
		a.seen = true
		a.last = raw
		a.value = raw
		return raw
	}
	a.value += (raw - a.last) & mask
	a.last = raw
	return a.value
}

type lastRecord struct {
	ts       uint32
	hasTS    bool
	lat, lon int64
	hasPos   bool
}

// sectionState is the per-section decode state: the slot table, the
// accumulators and the running timestamp base.
type sectionState struct {
	dec  *Decoder
	res  *Result
	data []byte
	base int64

	payload   []byte
	payloadAt int
	pos       int
	truncated bool

	file     *File
	slots    [16]slot
	accum    map[accumKey]*accumulator
	lastTS   uint32
	hasTS    bool
	dataSeen int
	rec      lastRecord
}

func (st *sectionState) offset() int64 {
	return st.base + int64(st.payloadAt+st.pos)
}

func (st *sectionState) fail(kind error, at int64, global uint16, local uint8, format string, args ...interface{}) *StreamError {
	return &StreamError{Kind: kind, Offset: at, Global: global, Local: local, Reason: fmt.Sprintf(format, args...)}
}

func (st *sectionState) decode() (*File, int, error) {
	hdr, err := st.readHeader()
	if err != nil {
		return nil, 0, err
	}
	st.file = &File{Header: hdr}
	st.accum = make(map[accumKey]*accumulator)

	st.payloadAt = int(hdr.Size)
	end := st.payloadAt + int(hdr.DataSize)
	if end > len(st.data) {
		st.truncated = true
		end = len(st.data)
	}
	st.payload = st.data[st.payloadAt:end]

	for st.pos < len(st.payload) {
		if err := st.readRecord(); err != nil {
			var serr *StreamError
			if errors.As(err, &serr) && errors.Is(serr, ErrTruncatedStream) {
				return st.file, end, st.truncation(serr)
			}
			return nil, 0, err
		}
	}
	if st.truncated {
		return st.file, end, st.truncation(st.fail(ErrTruncatedStream, st.offset(), 0, 0,
			"payload declares %d bytes, %d present", hdr.DataSize, len(st.payload)))
	}

	if len(st.data) < end+2 {
		return st.file, len(st.data), st.truncation(st.fail(ErrTruncatedStream, int64(end)+st.base, 0, 0, "missing file checksum"))
	}
	want := binary.LittleEndian.Uint16(st.data[end:])
	got := Checksum(st.data[:end])
	if want != got {
		serr := st.fail(ErrChecksumMismatch, st.base+int64(end), 0, 0, "file checksum 0x%04X, computed 0x%04X", want, got)
		if !st.dec.policy.Lenient {
			return st.file, end + 2, serr
		}
		st.res.tolerate(st.dec.log, AnomalyNone, serr)
	}
	return st.file, end + 2, nil
}

func (st *sectionState) truncation(err *StreamError) error {
	if st.dec.policy.Lenient {
		st.res.tolerate(st.dec.log, AnomalyNone, err)
		return nil
	}
	return err
}

func (st *sectionState) readHeader() (Header, error) {
	data := st.data
	if len(data) < legacyHeaderSize {
		return Header{}, st.fail(ErrMalformedHeader, st.base, 0, 0, "stream has %d bytes, header needs %d", len(data), legacyHeaderSize)
	}
	size := data[0]
	if size != headerSize && size != legacyHeaderSize {
		return Header{}, st.fail(ErrMalformedHeader, st.base, 0, 0, "unsupported header size %d", size)
	}
	if len(data) < int(size) {
		return Header{}, st.fail(ErrMalformedHeader, st.base, 0, 0, "stream has %d bytes, header needs %d", len(data), size)
	}
	hdr := Header{
		Size:     size,
		Protocol: data[1],
		Profile:  binary.LittleEndian.Uint16(data[2:4]),
		DataSize: binary.LittleEndian.Uint32(data[4:8]),
		DataType: string(data[8:12]),
	}
	if hdr.DataType != DataType {
		return Header{}, st.fail(ErrMalformedHeader, st.base+8, 0, 0, "data type %q", hdr.DataType)
	}
	if size == headerSize {
		hdr.CRC = binary.LittleEndian.Uint16(data[12:14])
		if hdr.CRC == 0 {
			hdr.SkipCRC = true
		} else if got := Checksum(data[:12]); got != hdr.CRC {
			serr := st.fail(ErrMalformedHeader, st.base+12, 0, 0, "header checksum 0x%04X, computed 0x%04X", hdr.CRC, got)
			if !st.dec.policy.Lenient {
				return Header{}, serr
			}
			st.res.tolerate(st.dec.log, AnomalyNone, serr)
		}
	}
	return hdr, nil
}

// take returns the next n payload bytes.
func (st *sectionState) take(n int, global uint16, local uint8) ([]byte, error) {
	if st.pos+n > len(st.payload) {
		kind := ErrMalformedStream
		reason := "record crosses end of payload"
		if st.truncated {
			kind = ErrTruncatedStream
			reason = "stream ends inside record"
		}
		return nil, st.fail(kind, st.offset(), global, local, "%s (need %d bytes, %d left)", reason, n, len(st.payload)-st.pos)
	}
	b := st.payload[st.pos : st.pos+n]
	st.pos += n
	return b, nil
}

func (st *sectionState) readRecord() error {
	at := st.offset()
	h := st.payload[st.pos]
	st.pos++
	switch {
	case h&headerFlagCompressed != 0:
		local := (h & compressedLocalMask) >> 5
		return st.readData(at, local, true, h&compressedTimeMask)
	case h&headerFlagDefinition != 0:
		return st.readDefinition(at, h&localMask, h&headerFlagDeveloper != 0)
	default:
		return st.readData(at, h&localMask, false, 0)
	}
}

func (st *sectionState) readDefinition(at int64, local uint8, dev bool) error {
	fixed, err := st.take(5, 0, local)
	if err != nil {
		return err
	}
	arch := fixed[1]
	var order binary.ByteOrder = binary.LittleEndian
	if arch == 1 {
		order = binary.BigEndian
	}
	def := &MessageDefinition{
		Local:     local,
		Global:    order.Uint16(fixed[2:4]),
		BigEndian: arch == 1,
	}
	n := int(fixed[4])
	triples, err := st.take(3*n, def.Global, local)
	if err != nil {
		return err
	}
	def.Fields = make([]FieldDef, n)
	for i := 0; i < n; i++ {
		def.Fields[i] = FieldDef{Num: triples[3*i], Size: triples[3*i+1], Type: basetype.Type(triples[3*i+2])}
	}
	if dev {
		cnt, err := st.take(1, def.Global, local)
		if err != nil {
			return err
		}
		devTriples, err := st.take(3*int(cnt[0]), def.Global, local)
		if err != nil {
			return err
		}
		def.DevFields = make([]DevFieldDef, cnt[0])
		for i := range def.DevFields {
			def.DevFields[i] = DevFieldDef{Num: devTriples[3*i], Size: devTriples[3*i+1], DevIndex: devTriples[3*i+2]}
		}
	}

	if a, reason := st.checkDefinition(def, arch); a != AnomalyNone {
		serr := st.fail(a.kind(), at, def.Global, local, "%s", reason)
		if !st.dec.policy.Discards(a) {
			return serr
		}
		st.slots[local] = slot{def: def, quarantined: true}
		st.res.Issues = append(st.res.Issues, Issue{Action: ActionDiscardedDefinition, Anomaly: a, Err: serr})
		st.dec.log.WithFields(logrus.Fields{"offset": at, "global": def.Global, "local": local}).
			Warnf("discarding definition: %s", reason)
		return nil
	}
	st.slots[local] = slot{def: def}
	st.file.Entities = append(st.file.Entities, def)
	return nil
}

func (st *sectionState) checkDefinition(def *MessageDefinition, arch byte) (Anomaly, string) {
	p := st.dec.policy
	if arch > 1 {
		return AnomalyUnsupportedArch, fmt.Sprintf("architecture byte %d", arch)
	}
	if !p.validGlobal(def.Global) {
		return AnomalyInvalidGlobal, fmt.Sprintf("global message number %d out of range", def.Global)
	}
	for _, f := range def.Fields {
		if _, ok := basetype.Lookup(uint8(f.Type)); !ok {
			return AnomalyUnknownBaseType, fmt.Sprintf("field %d declares base type 0x%02X", f.Num, uint8(f.Type))
		}
	}
	if p.CheckRedefinition {
		for i, s := range st.slots {
			if uint8(i) == def.Local || s.def == nil || s.quarantined {
				continue
			}
			if s.def.Global == def.Global {
				return AnomalyRedefinition, fmt.Sprintf("global %d already bound to local %d", def.Global, i)
			}
		}
	}
	return AnomalyNone, ""
}

func (st *sectionState) readData(at int64, local uint8, compressed bool, timeOffset uint8) error {
	s := st.slots[local]
	if s.def == nil {
		return st.fail(ErrMalformedStream, at, 0, local, "data message on unbound local number")
	}
	def := s.def
	body, err := st.take(def.DataSize(), def.Global, local)
	if err != nil {
		return err
	}
	st.dataSeen++
	if compressed {
		st.lastTS = resolveCompressed(st.lastTS, timeOffset)
		st.hasTS = true
	}
	if s.quarantined {
		st.res.Discarded++
		return nil
	}

	p := st.dec.policy
	if p.MaxMessageSize > 0 && len(body) > p.MaxMessageSize {
		return st.anomaly(at, def, AnomalyOversizedMessage, "message is %d bytes, limit %d", len(body), p.MaxMessageSize)
	}

	msg := st.buildMessage(def, body)
	if compressed {
		msg.Compressed = true
		msg.CompressedTime = st.lastTS
	} else if ts, ok := msg.Field(profile.FieldTimestamp).Raw(); ok {
		st.lastTS = uint32(ts)
		st.hasTS = true
	}

	if def.Global == profile.MesgFileID && st.dataSeen > 1 {
		return st.anomaly(at, def, AnomalyMisplacedFileID, "file_id is message %d", st.dataSeen)
	}
	if def.Global == profile.MesgRecord {
		if reason := st.checkRecord(msg); reason != "" {
			return st.anomaly(at, def, AnomalyImplausibleRecord, "%s", reason)
		}
	}

	st.unroll(msg)
	st.file.Entities = append(st.file.Entities, msg)
	return nil
}

func (st *sectionState) anomaly(at int64, def *MessageDefinition, a Anomaly, format string, args ...interface{}) error {
	serr := st.fail(a.kind(), at, def.Global, def.Local, format, args...)
	if !st.dec.policy.Discards(a) {
		return serr
	}
	st.res.Discarded++
	st.res.Issues = append(st.res.Issues, Issue{Action: ActionDiscardedMessage, Anomaly: a, Err: serr})
	st.dec.log.WithFields(logrus.Fields{"offset": at, "global": def.Global, "local": def.Local}).
		Warnf("discarding message: %s", serr.Reason)
	return nil
}

func resolveCompressed(last uint32, off uint8) uint32 {
	o := uint32(off) & compressedTimeMask
	ts := (last &^ compressedTimeMask) + o
	if o < last&compressedTimeMask {
		ts += compressedTimeMask + 1
	}
	return ts
}

func (st *sectionState) buildMessage(def *MessageDefinition, body []byte) *Message {
	cat := st.dec.catalog
	msg := &Message{
		Name:       cat.MessageName(def.Global),
		Global:     def.Global,
		Local:      def.Local,
		Fields:     make([]Field, 0, len(def.Fields)),
		Definition: def,
	}
	pos := 0
	for _, fd := range def.Fields {
		raw := body[pos : pos+int(fd.Size)]
		pos += int(fd.Size)
		f := Field{Num: fd.Num, Name: profile.UnknownName, Type: fd.Type, Scale: 1}
		if desc, ok := cat.Field(def.Global, fd.Num); ok {
			f.Name = desc.Name
			f.Scale = desc.Scale
			f.Offset = desc.Offset
			f.Units = desc.Units
			f.Profile = desc.Profile
			f.Accumulated = desc.Accumulated
		}
		info, _ := basetype.Lookup(uint8(fd.Type))
		if info.Kind == basetype.KindString || len(raw)%info.Size != 0 {
			f.Bytes = append([]byte{}, raw...)
		} else {
			n := len(raw) / info.Size
			f.Values = make([]uint64, n)
			for i := 0; i < n; i++ {
				f.Values[i] = info.Read(raw[i*info.Size:], def.BigEndian)
			}
		}
		msg.Fields = append(msg.Fields, f)
	}
	for _, dd := range def.DevFields {
		msg.DevFields = append(msg.DevFields, DevField{
			Num:      dd.Num,
			DevIndex: dd.DevIndex,
			Bytes:    append([]byte{}, body[pos:pos+int(dd.Size)]...),
		})
		pos += int(dd.Size)
	}
	return msg
}

func (st *sectionState) checkRecord(msg *Message) string {
	p := st.dec.policy
	ts, hasTS := msg.Timestamp()
	lat, hasLat := msg.Int(profile.RecordPositionLat)
	lon, hasLon := msg.Int(profile.RecordPositionLong)
	hasPos := hasLat && hasLon

	if p.MaxTimeJump > 0 && hasTS && st.rec.hasTS {
		d := int64(ts) - int64(st.rec.ts)
		if d < 0 {
			d = -d
		}
		if d > int64(p.MaxTimeJump) {
			return fmt.Sprintf("timestamp jumps %ds from previous record", d)
		}
	}
	if p.MaxPositionJump > 0 && hasPos && st.rec.hasPos {
		dLat := math.Abs(float64(lat-st.rec.lat)) * semicirclesToDegrees
		dLon := math.Abs(float64(lon-st.rec.lon)) * semicirclesToDegrees
		if dLon > 180 {
			dLon = 360 - dLon
		}
		if dLat > p.MaxPositionJump || dLon > p.MaxPositionJump {
			return fmt.Sprintf("position jumps %.4f/%.4f degrees from previous record", dLat, dLon)
		}
	}
	if hasTS {
		st.rec.ts, st.rec.hasTS = ts, true
	}
	if hasPos {
		st.rec.lat, st.rec.lon, st.rec.hasPos = lat, lon, true
	}
	return ""
}

func (st *sectionState) unroll(msg *Message) {
	for i := range msg.Fields {
		f := &msg.Fields[i]
		if !f.Accumulated || len(f.Values) != 1 {
			continue
		}
		raw, ok := f.Raw()
		if !ok {
			continue
		}
		key := accumKey{msg.Global, f.Num}
		a := st.accum[key]
		if a == nil {
			a = &accumulator{}
			st.accum[key] = a
		}
		f.Unrolled = a.next(raw, f.Info().Mask())
	}
}
