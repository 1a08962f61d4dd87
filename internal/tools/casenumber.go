package tools

import (
	"context"
	"regexp"
	"strings"
)

// CaseNumberValidator checks a unified (CNJ) case number. Checksum
// validation belongs to the case-number service; the core only consumes it.
type CaseNumberValidator interface {
	Validate(ctx context.Context, number string) (CaseNumberResult, error)
}

// CaseNumberResult describes a validated case number.
type CaseNumberResult struct {
	Number    string `json:"number"`
	Valid     bool   `json:"valid"`
	Formatted string `json:"formatted,omitempty"`
	Segment   string `json:"segment,omitempty"`
	Court     string `json:"court,omitempty"`
	Year      string `json:"year,omitempty"`
	Checked   string `json:"checked"`
	Reason    string `json:"reason,omitempty"`
}

var (
	cnjFormatted = regexp.MustCompile(`^(\d{7})-(\d{2})\.(\d{4})\.(\d)\.(\d{2})\.(\d{4})$`)
	cnjDigits    = regexp.MustCompile(`^\d{20}$`)
)

var judicialSegments = map[string]string{
	"1": "Supremo Tribunal Federal",
	"2": "Conselho Nacional de Justiça",
	"3": "Superior Tribunal de Justiça",
	"4": "Justiça Federal",
	"5": "Justiça do Trabalho",
	"6": "Justiça Eleitoral",
	"7": "Justiça Militar da União",
	"8": "Justiça Estadual",
	"9": "Justiça Militar Estadual",
}

// FormatValidator is the default adapter: it checks the NNNNNNN-DD.AAAA.J.TR.OOOO
// layout and decodes its fields without verifying check digits.
type FormatValidator struct{}

func (FormatValidator) Validate(_ context.Context, number string) (CaseNumberResult, error) {
	n := strings.TrimSpace(number)
	res := CaseNumberResult{Number: n, Checked: "format"}

	if cnjDigits.MatchString(n) {
		n = n[0:7] + "-" + n[7:9] + "." + n[9:13] + "." + n[13:14] + "." + n[14:16] + "." + n[16:20]
	}
	m := cnjFormatted.FindStringSubmatch(n)
	if m == nil {
		res.Reason = "formato esperado NNNNNNN-DD.AAAA.J.TR.OOOO"
		return res, nil
	}
	segment, ok := judicialSegments[m[4]]
	if !ok {
		res.Reason = "segmento do judiciário inválido"
		return res, nil
	}
	res.Valid = true
	res.Formatted = n
	res.Segment = segment
	res.Court = m[5]
	res.Year = m[3]
	return res, nil
}
