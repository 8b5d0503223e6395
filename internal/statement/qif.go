package statement

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// qifRecord accumulates field lines until a "^" terminator emits it.
type qifRecord struct {
	date      string
	amount    string
	payee     string
	memo      string
	refNumber string
	cleared   string
	hasFields bool
	startLine int
}

// ParseQIF parses a QIF export. QIF is line-oriented: each line is a field
// code followed by its value, "^" terminates a record, and "!Type:" header
// lines are skipped. Records without a reference number get a deterministic
// synthetic external id derived from accountHint, date, amount and
// description.
func ParseQIF(data []byte, accountHint string) ([]CanonicalTransaction, error) {
	var txns []CanonicalTransaction
	rec := qifRecord{}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "!") {
			// Section headers like "!Type:Bank" carry no transaction data.
			continue
		}

		code, value := line[:1], strings.TrimSpace(line[1:])
		switch code {
		case "^":
			if rec.hasFields {
				txn, err := rec.emit(accountHint)
				if err != nil {
					return nil, err
				}
				txns = append(txns, txn)
			}
			rec = qifRecord{}
		case "D":
			rec.setField(&rec.date, value, lineNo)
		case "T":
			rec.setField(&rec.amount, value, lineNo)
		case "P":
			rec.setField(&rec.payee, value, lineNo)
		case "M":
			rec.setField(&rec.memo, value, lineNo)
		case "N":
			rec.setField(&rec.refNumber, value, lineNo)
		case "C":
			rec.setField(&rec.cleared, value, lineNo)
		default:
			// Unknown field codes (categories, splits, addresses) are
			// tolerated and skipped.
			rec.hasFields = true
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, &ParseError{Format: FormatQIF, Reason: fmt.Sprintf("read failed: %v", err)}
	}

	// A trailing record without a terminator still counts.
	if rec.hasFields {
		txn, err := rec.emit(accountHint)
		if err != nil {
			return nil, err
		}
		txns = append(txns, txn)
	}

	return txns, nil
}

func (r *qifRecord) setField(dst *string, value string, lineNo int) {
	if !r.hasFields {
		r.startLine = lineNo
	}
	r.hasFields = true
	*dst = value
}

func (r *qifRecord) emit(accountHint string) (CanonicalTransaction, error) {
	date, err := qifDate(r.date, r.startLine)
	if err != nil {
		return CanonicalTransaction{}, err
	}

	amount, err := qifAmount(r.amount, r.startLine)
	if err != nil {
		return CanonicalTransaction{}, err
	}

	description := r.payee
	if r.memo != "" {
		if description != "" {
			description += " " + r.memo
		} else {
			description = r.memo
		}
	}

	externalID := r.refNumber
	if externalID == "" {
		externalID = syntheticID(accountHint, date, amount.String(), description)
	}

	return CanonicalTransaction{
		ExternalID:  externalID,
		Date:        date,
		Amount:      amount,
		Description: description,
		StatusHint:  qifStatusHint(r.cleared),
	}, nil
}

// qifAmount parses a QIF amount, tolerating thousands separators
// ("1,234.56").
func qifAmount(raw string, line int) (decimal.Decimal, error) {
	cleaned := strings.ReplaceAll(strings.TrimSpace(raw), ",", "")
	if cleaned == "" {
		return decimal.Decimal{}, &ParseError{Format: FormatQIF, Line: line, Reason: "record missing amount"}
	}
	amount, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Decimal{}, &ParseError{Format: FormatQIF, Line: line, Reason: fmt.Sprintf("invalid amount %q", raw)}
	}
	return amount, nil
}

// qifDate parses the loose QIF date syntax: month, day and year separated by
// "/", "'" or "-". Two-digit years pivot at 70: 70..99 are 19xx, 00..69 are
// 20xx.
func qifDate(raw string, line int) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", &ParseError{Format: FormatQIF, Line: line, Reason: "record missing date"}
	}

	parts := strings.FieldsFunc(raw, func(r rune) bool {
		return r == '/' || r == '\'' || r == '-'
	})
	if len(parts) != 3 {
		return "", &ParseError{Format: FormatQIF, Line: line, Reason: fmt.Sprintf("invalid date %q", raw)}
	}

	month, err1 := strconv.Atoi(strings.TrimSpace(parts[0]))
	day, err2 := strconv.Atoi(strings.TrimSpace(parts[1]))
	year, err3 := strconv.Atoi(strings.TrimSpace(parts[2]))
	if err1 != nil || err2 != nil || err3 != nil {
		return "", &ParseError{Format: FormatQIF, Line: line, Reason: fmt.Sprintf("invalid date %q", raw)}
	}

	if year < 100 {
		if year >= 70 {
			year += 1900
		} else {
			year += 2000
		}
	}

	// time.Parse rejects calendar-invalid combinations like Feb 31.
	date := fmt.Sprintf("%04d-%02d-%02d", year, month, day)
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return "", &ParseError{Format: FormatQIF, Line: line, Reason: fmt.Sprintf("invalid date %q", raw)}
	}

	return date, nil
}

func qifStatusHint(cleared string) string {
	switch cleared {
	case "*", "c", "C":
		return "cleared"
	case "X", "R":
		return "reconciled"
	default:
		return ""
	}
}
