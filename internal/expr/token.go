package expr

// TokenKind identifies a lexical token class shared by all four
// sublanguages (spec §4.1).
type TokenKind int

const (
	TokEOF TokenKind = iota
	TokIdent
	TokNamePlaceholder  // #ident
	TokValuePlaceholder // :ident
	TokNumber
	TokString

	TokAnd
	TokOr
	TokNot
	TokBetween
	TokIn

	TokSet
	TokRemove
	TokAdd
	TokDelete

	TokEq
	TokNe
	TokLe
	TokGe
	TokLt
	TokGt
	TokPlus
	TokMinus

	TokLParen
	TokRParen
	TokComma
	TokDot
	TokLBracket
	TokRBracket
)

var keywords = map[string]TokenKind{
	"AND":     TokAnd,
	"OR":      TokOr,
	"NOT":     TokNot,
	"BETWEEN": TokBetween,
	"IN":      TokIn,
	"SET":     TokSet,
	"REMOVE":  TokRemove,
	"ADD":     TokAdd,
	"DELETE":  TokDelete,
}

// Token is one lexed unit with its source position (byte offset) for
// ParseError reporting.
type Token struct {
	Kind TokenKind
	Text string
	Pos  int
}
