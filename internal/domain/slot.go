package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// slotTimeLayouts перечисляет ISO-8601 форматы, которые встречаются в ответах Picnic.
// Дробные секунды time.Parse принимает без отдельного шаблона.
var slotTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04",
	"2006-01-02",
}

// SlotTime — временная отметка слота: либо ещё текстовая (как пришла из API), либо уже разобранная.
type SlotTime struct {
	raw    string
	at     time.Time
	parsed bool
}

// TextSlotTime создаёт неразобранное значение.
func TextSlotTime(raw string) SlotTime {
	return SlotTime{raw: raw}
}

// ParsedSlotTime создаёт уже разобранное значение.
func ParsedSlotTime(at time.Time) SlotTime {
	return SlotTime{at: at, parsed: true}
}

// IsZero сообщает, что значение отсутствует.
func (s SlotTime) IsZero() bool {
	return !s.parsed && s.raw == ""
}

// IsParsed сообщает, что значение уже приведено к time.Time.
func (s SlotTime) IsParsed() bool {
	return s.parsed
}

// Raw возвращает исходный текст (пустой для разобранных значений).
func (s SlotTime) Raw() string {
	return s.raw
}

// Time возвращает разобранное время.
func (s SlotTime) Time() (time.Time, bool) {
	return s.at, s.parsed
}

// Parse приводит значение к time.Time. Операция идемпотентна: разобранное значение
// и пустое значение возвращаются без изменений.
func (s SlotTime) Parse() (SlotTime, error) {
	if s.parsed || s.raw == "" {
		return s, nil
	}

	value := strings.TrimSpace(s.raw)
	for _, layout := range slotTimeLayouts {
		if at, err := time.Parse(layout, value); err == nil {
			return ParsedSlotTime(at), nil
		}
	}

	return s, fmt.Errorf("%w: unrecognised timestamp %q", ErrMalformedPayload, s.raw)
}

// Value отдаёт значение для атрибутов: time.Time, строку или nil.
func (s SlotTime) Value() any {
	switch {
	case s.parsed:
		return s.at
	case s.raw != "":
		return s.raw
	default:
		return nil
	}
}

func (s SlotTime) String() string {
	if s.parsed {
		return s.at.Format(time.RFC3339)
	}
	return s.raw
}

// MarshalJSON кодирует разобранное время в RFC 3339, текстовое отдаёт как есть.
func (s SlotTime) MarshalJSON() ([]byte, error) {
	if s.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(s.String())
}

// UnmarshalJSON принимает строку или null; результат остаётся текстовым.
func (s *SlotTime) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*s = SlotTime{}
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: slot time must be a string: %v", ErrMalformedPayload, err)
	}
	*s = TextSlotTime(raw)
	return nil
}
