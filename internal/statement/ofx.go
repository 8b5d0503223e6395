package statement

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ofxNode is one element of the parsed OFX structure. Leaf elements carry
// inline text; aggregate elements carry children and are closed explicitly.
// OFX is SGML-flavored: leaf tags have no closing tag, so any tag followed
// by text is treated as a leaf.
type ofxNode struct {
	name     string
	text     string
	children []*ofxNode
}

func (n *ofxNode) child(name string) *ofxNode {
	for _, c := range n.children {
		if c.name == name {
			return c
		}
	}
	return nil
}

func (n *ofxNode) childText(name string) string {
	if c := n.child(name); c != nil {
		return c.text
	}
	return ""
}

// findAll collects every descendant element with the given name.
func (n *ofxNode) findAll(name string, out []*ofxNode) []*ofxNode {
	for _, c := range n.children {
		if c.name == name {
			out = append(out, c)
		}
		out = c.findAll(name, out)
	}
	return out
}

// ParseOFX parses an OFX export into canonical transactions. It locates the
// bank and credit-card statement response blocks and extracts every
// transaction element found beneath them.
func ParseOFX(data []byte) ([]CanonicalTransaction, error) {
	root, err := parseOFXTree(string(data))
	if err != nil {
		return nil, err
	}

	var stmtTrns []*ofxNode
	for _, block := range []string{"BANKMSGSRSV1", "CREDITCARDMSGSRSV1"} {
		for _, msgSet := range root.findAll(block, nil) {
			stmtTrns = append(stmtTrns, msgSet.findAll("STMTTRN", nil)...)
		}
	}
	if len(stmtTrns) == 0 && root.child("OFX") == nil {
		return nil, &ParseError{Format: FormatOFX, Reason: "no OFX element found"}
	}

	txns := make([]CanonicalTransaction, 0, len(stmtTrns))
	for _, trn := range stmtTrns {
		txn, err := ofxTransaction(trn)
		if err != nil {
			return nil, err
		}
		txns = append(txns, txn)
	}
	return txns, nil
}

func ofxTransaction(trn *ofxNode) (CanonicalTransaction, error) {
	date, err := ofxDate(trn.childText("DTPOSTED"))
	if err != nil {
		return CanonicalTransaction{}, err
	}

	rawAmount := strings.TrimSpace(trn.childText("TRNAMT"))
	amount, err := decimal.NewFromString(rawAmount)
	if err != nil {
		return CanonicalTransaction{}, &ParseError{Format: FormatOFX, Reason: fmt.Sprintf("invalid TRNAMT %q", rawAmount)}
	}

	fitID := strings.TrimSpace(trn.childText("FITID"))
	if fitID == "" {
		return CanonicalTransaction{}, &ParseError{Format: FormatOFX, Reason: "transaction missing FITID"}
	}

	description := strings.TrimSpace(trn.childText("MEMO"))
	if description == "" {
		description = strings.TrimSpace(trn.childText("NAME"))
	}

	return CanonicalTransaction{
		ExternalID:  fitID,
		Date:        date,
		Amount:      amount,
		Description: description,
		StatusHint:  strings.ToLower(strings.TrimSpace(trn.childText("TRNTYPE"))),
	}, nil
}

// ofxDate normalizes a DTPOSTED value. OFX dates carry optional time and
// timezone suffixes ("20230915120000[-5:EST]"); only the leading 8 digits
// are meaningful here.
func ofxDate(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if len(raw) < 8 {
		return "", &ParseError{Format: FormatOFX, Reason: fmt.Sprintf("invalid DTPOSTED %q", raw)}
	}
	raw = raw[:8]
	parsed, err := time.Parse("20060102", raw)
	if err != nil {
		return "", &ParseError{Format: FormatOFX, Reason: fmt.Sprintf("invalid DTPOSTED %q", raw)}
	}
	return parsed.Format("2006-01-02"), nil
}

// parseOFXTree builds the element tree. Any SGML header lines before the
// first tag are skipped. A tag immediately followed by text is a leaf; a tag
// followed by another tag opens an aggregate that must be closed with a
// matching end tag.
func parseOFXTree(src string) (*ofxNode, error) {
	root := &ofxNode{name: ""}
	stack := []*ofxNode{root}

	pos := strings.Index(src, "<")
	if pos < 0 {
		return nil, &ParseError{Format: FormatOFX, Reason: "no markup found"}
	}

	for pos < len(src) {
		end := strings.Index(src[pos:], ">")
		if end < 0 {
			return nil, &ParseError{Format: FormatOFX, Reason: "unterminated tag"}
		}
		tag := strings.TrimSpace(src[pos+1 : pos+end])
		rest := src[pos+end+1:]

		if strings.HasPrefix(tag, "/") {
			name := strings.ToUpper(tag[1:])
			matched := false
			for len(stack) > 1 {
				top := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				if top.name == name {
					matched = true
					break
				}
			}
			if !matched {
				return nil, &ParseError{Format: FormatOFX, Reason: fmt.Sprintf("unexpected closing tag </%s>", name)}
			}
		} else if tag != "" {
			name := strings.ToUpper(tag)
			node := &ofxNode{name: name}
			parent := stack[len(stack)-1]
			parent.children = append(parent.children, node)

			// Inline text up to the next tag makes this element a leaf.
			next := strings.Index(rest, "<")
			var text string
			if next < 0 {
				text = rest
			} else {
				text = rest[:next]
			}
			if trimmed := strings.TrimSpace(text); trimmed != "" {
				node.text = ofxUnescape(trimmed)
			} else {
				stack = append(stack, node)
			}
		}

		next := strings.Index(rest, "<")
		if next < 0 {
			break
		}
		pos = pos + end + 1 + next
	}

	return root, nil
}

var ofxUnescaper = strings.NewReplacer("&lt;", "<", "&gt;", ">", "&amp;", "&")

func ofxUnescape(s string) string {
	return ofxUnescaper.Replace(s)
}
