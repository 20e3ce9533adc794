package domain

import "errors"

// Ключи временных полей слота в ответах Picnic.
const (
	SlotWindowStart = "window_start"
	SlotWindowEnd   = "window_end"
	SlotCutOffTime  = "cut_off_time"
)

// SlotTimeKeys — поля слота, которые приводятся к времени.
var SlotTimeKeys = []string{SlotWindowStart, SlotWindowEnd, SlotCutOffTime}

// TimeSlot описывает окно доставки. Поля, не относящиеся ко времени, лежат в Extra без изменений.
type TimeSlot struct {
	WindowStart SlotTime
	WindowEnd   SlotTime
	CutOffTime  SlotTime
	Extra       map[string]any
}

// Normalize возвращает копию слота с разобранными временными полями.
// Неразобранные поля остаются текстовыми, ошибки объединяются.
func (s TimeSlot) Normalize() (TimeSlot, error) {
	out := s
	out.Extra = cloneMap(s.Extra)

	var errs []error
	var err error
	if out.WindowStart, err = s.WindowStart.Parse(); err != nil {
		errs = append(errs, err)
	}
	if out.WindowEnd, err = s.WindowEnd.Parse(); err != nil {
		errs = append(errs, err)
	}
	if out.CutOffTime, err = s.CutOffTime.Parse(); err != nil {
		errs = append(errs, err)
	}
	return out, errors.Join(errs...)
}

// Attributes отдаёт плоское представление слота: дополнительные поля плюс три временных.
func (s TimeSlot) Attributes() map[string]any {
	attrs := make(map[string]any, len(s.Extra)+len(SlotTimeKeys))
	for k, v := range s.Extra {
		attrs[k] = v
	}
	attrs[SlotWindowStart] = s.WindowStart.Value()
	attrs[SlotWindowEnd] = s.WindowEnd.Value()
	attrs[SlotCutOffTime] = s.CutOffTime.Value()
	return attrs
}

func cloneMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
