package cluster

import (
	"strings"
)

// SelectorElement is one requirement in a label selector.
type SelectorElement interface {
	// QueryString renders the requirement against `label` in the
	// form the kubernetes list API takes.
	QueryString(label string) string

	// Equal holds when the other element selects the same values.
	// Elements of a different concrete type are never equal.
	Equal(other SelectorElement) bool
}

// LabelSelector selects pods by their labels, one element per label.
type LabelSelector map[string]SelectorElement

func (ls LabelSelector) QueryString() string {
	exprs := make([]string, 0, len(ls))
	for label, el := range ls {
		exprs = append(exprs, el.QueryString(label))
	}
	return strings.Join(exprs, ",")
}

// EqualityBased is an equality-based requirement: "value", "=value",
// "==value" or "!=value".
//
// https://kubernetes.io/docs/concepts/overview/working-with-objects/labels/#equality-based-requirement
type EqualityBased string

var _ SelectorElement = EqualityBased("")

func Eq(value string) EqualityBased {
	_, v := EqualityBased(value).destruct()
	return EqualityBased("=" + v)
}

func NotEq(value string) EqualityBased {
	_, v := EqualityBased(value).destruct()
	return EqualityBased("!=" + v)
}

func (eqb EqualityBased) destruct() (operator string, value string) {
	exp := string(eqb)
	if exp == "" {
		return "=", ""
	}

	switch exp[0] {
	case '=':
		offset := 1
		operator = "="
		if exp[1] == '=' {
			offset += 1
		}
		value = exp[offset:]
	case '!':
		offset := 1
		operator = "!="
		if exp[1] == '=' {
			offset += 1
		} else {
			offset -= 1 // "!foo" does not mean "!=foo" .
			operator = "="
		}
		value = exp[offset:]
	default:
		operator = "="
		value = exp
	}

	return operator, value
}

func (eqb EqualityBased) QueryString(label string) string {
	op, v := eqb.destruct()
	return label + op + v
}

func (eqb EqualityBased) Equal(other SelectorElement) bool {
	o, ok := other.(EqualityBased)
	if !ok {
		return false
	}
	op, v := eqb.destruct()
	oop, ov := o.destruct()
	return op == oop && v == ov
}

// LabelsToSelector requires exact equality on every given label.
func LabelsToSelector(ls map[string]string) LabelSelector {
	sel := LabelSelector{}
	for k, v := range ls {
		sel[k] = EqualityBased(v)
	}
	return sel
}
