package attendance

import (
	"encoding/json"
	"errors"
	"testing"

	"attendpay/internal/apperr"
)

func TestTimeCodeCodec(t *testing.T) {
	cases := []struct {
		encoded int
		check   func(TimeCode) bool
		text    string
	}{
		{0, TimeCode.IsUnset, "unset"},
		{ExcusedCode, TimeCode.IsExcused, "excused"},
		{730, TimeCode.IsRecorded, "07:30"},
		{1430, TimeCode.IsRecorded, "14:30"},
		{2359, TimeCode.IsRecorded, "23:59"},
		{1, TimeCode.IsRecorded, "00:01"},
	}
	for _, tc := range cases {
		c, err := DecodeTimeCode(tc.encoded)
		if err != nil {
			t.Fatalf("decode %d: %v", tc.encoded, err)
		}
		if !tc.check(c) {
			t.Errorf("%d decoded to wrong variant %v", tc.encoded, c)
		}
		if c.String() != tc.text {
			t.Errorf("%d: String() = %q, want %q", tc.encoded, c.String(), tc.text)
		}
		if c.Encode() != tc.encoded {
			t.Errorf("%d re-encoded as %d", tc.encoded, c.Encode())
		}
	}
}

func TestDecodeTimeCodeRejectsOutOfRange(t *testing.T) {
	for _, v := range []int{-2, 60, 1260, 2400, 9999, 10000} {
		if _, err := DecodeTimeCode(v); !errors.Is(err, apperr.ErrInvalidFormat) {
			t.Errorf("%d: expected ErrInvalidFormat, got %v", v, err)
		}
	}
}

func TestTimeCodeOrdering(t *testing.T) {
	if MustAt(8, 0).Minutes() >= MustAt(12, 0).Minutes() {
		t.Error("08:00 should be before 12:00")
	}
}

func TestPunchesJSON(t *testing.T) {
	p := Punches{TimeInAM: MustAt(8, 0), TimeOutAM: MustAt(12, 0), TimeInPM: Excused}
	b, err := json.Marshal(p)
	if err != nil {
		t.Fatal(err)
	}
	want := `{"time_in_am":800,"time_out_am":1200,"time_in_pm":-1,"time_out_pm":0}`
	if string(b) != want {
		t.Errorf("json = %s, want %s", b, want)
	}

	var back Punches
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatal(err)
	}
	if back != p {
		t.Errorf("round trip = %+v, want %+v", back, p)
	}

	if err := json.Unmarshal([]byte(`{"time_in_am":2500}`), &back); err == nil {
		t.Error("expected error for 2500")
	}
}
