package server

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"example.com/fitgate/internal/fit"
)

// messageFilter selects messages by name or global number. An empty filter
// passes everything.
type messageFilter struct {
	names   map[string]bool
	globals map[uint16]bool
}

// parseFilter reads comma separated "name" and "global" query values.
func parseFilter(q url.Values) (messageFilter, error) {
	var mf messageFilter
	for _, v := range q["name"] {
		for _, n := range strings.Split(v, ",") {
			if n = strings.TrimSpace(n); n != "" {
				if mf.names == nil {
					mf.names = map[string]bool{}
				}
				mf.names[n] = true
			}
		}
	}
	for _, v := range q["global"] {
		for _, g := range strings.Split(v, ",") {
			if g = strings.TrimSpace(g); g == "" {
				continue
			}
			num, err := strconv.ParseUint(g, 0, 16)
			if err != nil {
				return mf, err
			}
			if mf.globals == nil {
				mf.globals = map[uint16]bool{}
			}
			mf.globals[uint16(num)] = true
		}
	}
	return mf, nil
}

func (mf messageFilter) match(m *fit.Message) bool {
	if mf.names == nil && mf.globals == nil {
		return true
	}
	return mf.names[m.Name] || mf.globals[m.Global]
}

// messageStream writes one message view per line, flushing every batch
// messages when the response supports it.
type messageStream struct {
	enc     *json.Encoder
	flusher http.Flusher
	batch   int
	pending int
	sent    int
}

func newMessageStream(w http.ResponseWriter, batch int) *messageStream {
	if batch <= 0 {
		batch = 1
	}
	flusher, _ := w.(http.Flusher)
	return &messageStream{enc: json.NewEncoder(w), flusher: flusher, batch: batch}
}

func (s *messageStream) send(m *fit.Message) error {
	if err := s.enc.Encode(m.View()); err != nil {
		return err
	}
	s.sent++
	s.pending++
	if s.pending >= s.batch {
		s.flush()
	}
	return nil
}

func (s *messageStream) flush() {
	if s.flusher != nil && s.pending > 0 {
		s.flusher.Flush()
	}
	s.pending = 0
}
