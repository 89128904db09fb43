package report

import (
	"embed"
	"errors"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/goccy/go-json"
)

// Language is a report language code.
type Language string

const (
	LangEnglish Language = "en"
	LangGerman  Language = "de"
)

var ErrUnsupportedLanguage = errors.New("report: unsupported language")

//go:embed locales/*.json
var localeFS embed.FS

type dictionary map[string]string

var (
	loadOnce sync.Once
	loadErr  error
	dicts    map[Language]dictionary
)

// loadLocales reads every locales/<code>.json file once.
func loadLocales() (map[Language]dictionary, error) {
	loadOnce.Do(func() {
		entries, err := localeFS.ReadDir("locales")
		if err != nil {
			loadErr = err
			return
		}
		dicts = make(map[Language]dictionary, len(entries))
		for _, e := range entries {
			name := e.Name()
			data, err := localeFS.ReadFile(path.Join("locales", name))
			if err != nil {
				loadErr = err
				return
			}
			var d dictionary
			if err := json.Unmarshal(data, &d); err != nil {
				loadErr = fmt.Errorf("locale %s: %w", name, err)
				return
			}
			dicts[Language(strings.TrimSuffix(name, ".json"))] = d
		}
	})
	return dicts, loadErr
}

// Translator looks up report strings, falling back to English and then to
// the key itself.
type Translator struct {
	lang Language
	dict dictionary
	base dictionary
}

func NewTranslator(lang Language) Translator {
	all, err := loadLocales()
	if err != nil {
		panic(fmt.Sprintf("report: load locales: %v", err))
	}
	d, ok := all[lang]
	if !ok {
		lang, d = LangEnglish, all[LangEnglish]
	}
	return Translator{lang: lang, dict: d, base: all[LangEnglish]}
}

func (t Translator) Lang() Language { return t.lang }

func (t Translator) T(key string) string {
	if v, ok := t.dict[key]; ok {
		return v
	}
	if v, ok := t.base[key]; ok {
		return v
	}
	return key
}

var aliases = map[string]Language{
	"":        LangEnglish,
	"en":      LangEnglish,
	"english": LangEnglish,
	"de":      LangGerman,
	"german":  LangGerman,
	"deutsch": LangGerman,
}

// ParseLanguage accepts a language code, a code with region (en-GB, de_AT)
// or the language name.
func ParseLanguage(s string) (Language, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	if i := strings.IndexAny(key, "-_."); i > 0 {
		key = key[:i]
	}
	if lang, ok := aliases[key]; ok {
		return lang, nil
	}
	return LangEnglish, fmt.Errorf("%w: %s", ErrUnsupportedLanguage, s)
}

// Negotiate picks the supported language with the highest q value from an
// Accept-Language header.
func Negotiate(header string) (Language, bool) {
	type candidate struct {
		lang Language
		q    float64
	}
	var cands []candidate
	for _, part := range strings.Split(header, ",") {
		tag, params, _ := strings.Cut(strings.TrimSpace(part), ";")
		if tag == "" || tag == "*" {
			continue
		}
		q := 1.0
		if v, ok := strings.CutPrefix(strings.TrimSpace(params), "q="); ok {
			parsed, err := strconv.ParseFloat(v, 64)
			if err != nil {
				continue
			}
			q = parsed
		}
		lang, err := ParseLanguage(tag)
		if err != nil || q <= 0 {
			continue
		}
		cands = append(cands, candidate{lang, q})
	}
	if len(cands) == 0 {
		return "", false
	}
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].q > cands[j].q })
	return cands[0].lang, true
}
