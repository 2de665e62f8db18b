package attendance

import (
	"encoding/json"
	"fmt"
	"time"

	"attendpay/internal/apperr"
)

// ExcusedCode is the integer stored in every time column of an excused day.
const ExcusedCode = -1

type codeKind uint8

const (
	kindUnset codeKind = iota
	kindRecorded
	kindExcused
)

// TimeCode is one punch slot: unset, a recorded clock time, or excused.
// The HHMM integer form only exists at the database and JSON boundary.
type TimeCode struct {
	kind    codeKind
	minutes int
}

// Unset is the zero TimeCode.
var Unset = TimeCode{}

// Excused marks a slot as administratively excused.
var Excused = TimeCode{kind: kindExcused}

// At records hour:minute. Out-of-range values fail with InvalidFormat.
func At(hour, minute int) (TimeCode, error) {
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 || hour*60+minute == 0 {
		return Unset, apperr.InvalidFormat("attendance.At", "time %02d:%02d", hour, minute)
	}
	return TimeCode{kind: kindRecorded, minutes: hour*60 + minute}, nil
}

// MustAt is At for constants known to be valid.
func MustAt(hour, minute int) TimeCode {
	c, err := At(hour, minute)
	if err != nil {
		panic(err)
	}
	return c
}

// ClockTime records the wall-clock minute of t.
func ClockTime(t time.Time) (TimeCode, error) {
	return At(t.Hour(), t.Minute())
}

// DecodeTimeCode parses the HHMM integer encoding.
func DecodeTimeCode(v int) (TimeCode, error) {
	switch {
	case v == 0:
		return Unset, nil
	case v == ExcusedCode:
		return Excused, nil
	case v < 0:
		return Unset, apperr.InvalidFormat("attendance.DecodeTimeCode", "time code %d", v)
	}
	c, err := At(v/100, v%100)
	if err != nil {
		return Unset, apperr.InvalidFormat("attendance.DecodeTimeCode", "time code %d", v)
	}
	return c, nil
}

// Encode returns the HHMM integer form.
func (c TimeCode) Encode() int {
	switch c.kind {
	case kindRecorded:
		return (c.minutes/60)*100 + c.minutes%60
	case kindExcused:
		return ExcusedCode
	default:
		return 0
	}
}

func (c TimeCode) IsUnset() bool    { return c.kind == kindUnset }
func (c TimeCode) IsRecorded() bool { return c.kind == kindRecorded }
func (c TimeCode) IsExcused() bool  { return c.kind == kindExcused }

// Minutes since midnight; only meaningful for recorded codes.
func (c TimeCode) Minutes() int { return c.minutes }

func (c TimeCode) String() string {
	switch c.kind {
	case kindRecorded:
		return fmt.Sprintf("%02d:%02d", c.minutes/60, c.minutes%60)
	case kindExcused:
		return "excused"
	default:
		return "unset"
	}
}

func (c TimeCode) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Encode())
}

func (c *TimeCode) UnmarshalJSON(b []byte) error {
	var v int
	if err := json.Unmarshal(b, &v); err != nil {
		return apperr.InvalidFormat("attendance.TimeCode", "time code %s", string(b))
	}
	decoded, err := DecodeTimeCode(v)
	if err != nil {
		return err
	}
	*c = decoded
	return nil
}
