// Package statement normalizes bank statement export files (OFX and QIF)
// into canonical transaction records for reconciliation.
package statement

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Format identifies the interchange format of an export artifact.
type Format string

const (
	FormatOFX Format = "ofx"
	FormatQIF Format = "qif"
)

// CanonicalTransaction is the format-independent record produced by the
// parser. Date is normalized to YYYY-MM-DD; ExternalID is the
// institution-assigned transaction id, or a deterministic synthetic id for
// formats that lack one.
type CanonicalTransaction struct {
	ExternalID  string
	Date        string
	Amount      decimal.Decimal
	Description string
	StatusHint  string
}

// ParseError indicates a malformed statement file. The whole file is
// rejected: no partial statement is ever handed to reconciliation.
type ParseError struct {
	Format Format
	Line   int
	Reason string
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("statement: %s parse error at line %d: %s", e.Format, e.Line, e.Reason)
	}
	return fmt.Sprintf("statement: %s parse error: %s", e.Format, e.Reason)
}

// Parse dispatches to the parser for the given format. accountHint feeds
// synthetic external ids so the same file imported into the same account
// always produces the same ids.
func Parse(format Format, data []byte, accountHint string) ([]CanonicalTransaction, error) {
	switch format {
	case FormatOFX:
		return ParseOFX(data)
	case FormatQIF:
		return ParseQIF(data, accountHint)
	default:
		return nil, &ParseError{Format: format, Reason: fmt.Sprintf("unsupported format %q", format)}
	}
}

// Detect sniffs the format of an export artifact from its content.
func Detect(data []byte) (Format, error) {
	head := strings.ToUpper(string(data[:min(len(data), 512)]))
	switch {
	case strings.Contains(head, "<OFX>") || strings.Contains(head, "OFXHEADER"):
		return FormatOFX, nil
	case strings.Contains(head, "!TYPE:"):
		return FormatQIF, nil
	default:
		return "", fmt.Errorf("statement: unrecognized file format")
	}
}

// syntheticID derives a deterministic external id from the record's
// identifying fields. Known limitation: two genuinely distinct transactions
// with identical account, date, amount and description collide and only one
// survives reconciliation.
func syntheticID(account, date, amount, description string) string {
	sum := sha256.Sum256([]byte(account + "|" + date + "|" + amount + "|" + description))
	return "qif-" + hex.EncodeToString(sum[:8])
}
