// Package expr implements the lexer, parser, and evaluator for the four
// DynamoDB-style expression sublanguages: condition, update, key-condition,
// and projection expressions (spec §4.1).
//
// Parsing never back-tracks and produces a typed AST (ast.go) rather than
// scraping tokens with regular expressions — nested parentheses and
// operator precedence (OR, AND, NOT, then atoms) are handled structurally.
//
// Evaluation is pure and threads an EvaluationContext carrying the current
// item, the #name substitution map, and the :value substitution map.
// Unresolved name placeholders keep their '#' prefix (so they never match
// a real attribute); unresolved value placeholders evaluate to the
// Undefined sentinel, which compares false against everything.
//
// Arithmetic on a non-numeric or missing SET operand is dropped rather
// than failing the whole update — see SPEC_FULL.md §9 for why this
// implementation picked that one of the three documented options.
package expr
