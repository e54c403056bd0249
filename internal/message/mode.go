package message

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Mode selects which content policy stages run before a message is sent.
type Mode int

const (
	ModeSendMail Mode = iota
	ModeSendMailWithPIIScan
	ModeSendWithPIIRedacted
	ModeSendMailWithHarmfulContentScan
	ModeSendMailWithPIIAndHarmfulContentScan
	ModeSendMailWithGeneratedBody
)

var modeNames = [...]string{
	ModeSendMail:                             "SendMail",
	ModeSendMailWithPIIScan:                  "SendMailWithPIIScan",
	ModeSendWithPIIRedacted:                  "SendWithPIIRedacted",
	ModeSendMailWithHarmfulContentScan:       "SendMailWithHarmfulContentScan",
	ModeSendMailWithPIIAndHarmfulContentScan: "SendMailWithPIIAndHarmfulContentScan",
	ModeSendMailWithGeneratedBody:            "SendMailWithGeneratedBody",
}

// Valid reports whether m is one of the defined modes.
func (m Mode) Valid() bool {
	return m >= ModeSendMail && int(m) < len(modeNames)
}

func (m Mode) String() string {
	if m.Valid() {
		return modeNames[m]
	}
	return "Mode(" + strconv.Itoa(int(m)) + ")"
}

// ParseMode accepts a mode name (case-insensitive) or its numeric value.
// Numbers outside the defined range are returned as-is so the content
// policy can reject them; unknown names are an error.
func ParseMode(s string) (Mode, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		return Mode(n), nil
	}
	for i, name := range modeNames {
		if strings.EqualFold(s, name) {
			return Mode(i), nil
		}
	}
	return 0, fmt.Errorf("unknown processing mode %q", s)
}

// MarshalJSON writes the numeric wire value.
func (m Mode) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Itoa(int(m))), nil
}

// UnmarshalJSON accepts either a number or a mode name.
func (m *Mode) UnmarshalJSON(data []byte) error {
	var n int
	if err := json.Unmarshal(data, &n); err == nil {
		*m = Mode(n)
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("processing mode must be a number or a name: %w", err)
	}
	parsed, err := ParseMode(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
