package render

import "regexp"

// blockScalarHint matches a block scalar indicator that carries an explicit
// indentation hint, e.g. "|2", "|2-", ">-3". Only the marker at the end of
// the line is matched; the indented content below it is left untouched.
var blockScalarHint = regexp.MustCompile(`(?m)(^|[ \t])([|>])(?:([1-9])([+-]?)|([+-])([1-9]))[ \t]*$`)

// NormalizeBlockScalars rewrites width-annotated block scalar indicators to
// their plain form ("|2-" becomes "|-"). The YAML emitter likes to attach
// indentation hints to literal blocks whose content starts with whitespace,
// but the downstream manifest-merge tool chokes on the annotated form.
func NormalizeBlockScalars(doc []byte) []byte {
	return blockScalarHint.ReplaceAll(doc, []byte("${1}${2}${4}${5}"))
}
