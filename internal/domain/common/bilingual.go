package common

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
)

// Programme languages. English is the working language and is always
// required; French is optional per record.
const (
	LocaleEN = "en"
	LocaleFR = "fr"
)

// BilingualText is a pair of translations stored as a single jsonb column
// ({"en": "...", "fr": "..."}). Records missing the French translation fall
// back to English when resolved.
type BilingualText struct {
	EN string `json:"en"`
	FR string `json:"fr,omitempty"`
}

func NewBilingual(en, fr string) BilingualText {
	return BilingualText{EN: strings.TrimSpace(en), FR: strings.TrimSpace(fr)}
}

// Resolve returns the text for the requested locale, falling back to English
// when the translation is missing. The second return reports whether the
// requested locale was actually available.
func (b BilingualText) Resolve(locale string) (string, bool) {
	switch NormalizeLocale(locale) {
	case LocaleFR:
		if strings.TrimSpace(b.FR) != "" {
			return b.FR, true
		}
		return b.EN, false
	default:
		return b.EN, true
	}
}

func (b BilingualText) IsZero() bool {
	return strings.TrimSpace(b.EN) == "" && strings.TrimSpace(b.FR) == ""
}

// Validate enforces the programme rule that English text is mandatory.
func (b BilingualText) Validate() error {
	if strings.TrimSpace(b.EN) == "" {
		return fmt.Errorf("bilingual text: english text required")
	}
	return nil
}

// Value implements driver.Valuer so the type maps onto a jsonb column.
func (b BilingualText) Value() (driver.Value, error) {
	raw, err := json.Marshal(b)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

// Scan implements sql.Scanner.
func (b *BilingualText) Scan(src any) error {
	if src == nil {
		*b = BilingualText{}
		return nil
	}
	var raw []byte
	switch v := src.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("bilingual text: unsupported scan type %T", src)
	}
	if len(raw) == 0 {
		*b = BilingualText{}
		return nil
	}
	return json.Unmarshal(raw, b)
}

func (BilingualText) GormDataType() string { return "jsonb" }

// NormalizeLocale maps arbitrary locale strings ("fr-FR", "EN") onto the two
// programme locales, defaulting to English.
func NormalizeLocale(locale string) string {
	l := strings.ToLower(strings.TrimSpace(locale))
	if l == LocaleFR || strings.HasPrefix(l, "fr-") || strings.HasPrefix(l, "fr_") {
		return LocaleFR
	}
	return LocaleEN
}
