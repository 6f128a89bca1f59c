package lexer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextTokenPunctuationAndOperators(t *testing.T) {
	input := `(){};,.-+*/! != = == < <= > >=`
	want := []TokenType{
		TokenLeftParen, TokenRightParen, TokenLeftBrace, TokenRightBrace,
		TokenSemicolon, TokenComma, TokenDot, TokenMinus, TokenPlus,
		TokenStar, TokenSlash, TokenBang, TokenBangEqual, TokenEqual,
		TokenEqualEqual, TokenLess, TokenLessEqual, TokenGreater, TokenGreaterEqual,
		TokenEOF,
	}

	l := New(input)
	for i, tt := range want {
		tok := l.NextToken()
		require.Equalf(t, tt, tok.Type, "token %d", i)
	}
}

func TestNextTokenKeywords(t *testing.T) {
	input := "and class else false for fun if nil or print return super this true var while"
	want := []TokenType{
		TokenAnd, TokenClass, TokenElse, TokenFalse, TokenFor, TokenFun,
		TokenIf, TokenNil, TokenOr, TokenPrint, TokenReturn, TokenSuper,
		TokenThis, TokenTrue, TokenVar, TokenWhile, TokenEOF,
	}
	l := New(input)
	for i, tt := range want {
		tok := l.NextToken()
		require.Equalf(t, tt, tok.Type, "token %d", i)
	}
}

func TestNextTokenIdentifierNotKeywordPrefix(t *testing.T) {
	l := New("forest classroom thistle")
	for _, lexeme := range []string{"forest", "classroom", "thistle"} {
		tok := l.NextToken()
		assert.Equal(t, TokenIdentifier, tok.Type)
		assert.Equal(t, lexeme, tok.Lexeme)
	}
}

func TestNextTokenNumber(t *testing.T) {
	l := New("123 45.67 0")
	for _, lexeme := range []string{"123", "45.67", "0"} {
		tok := l.NextToken()
		require.Equal(t, TokenNumber, tok.Type)
		assert.Equal(t, lexeme, tok.Lexeme)
	}
}

func TestNextTokenString(t *testing.T) {
	l := New(`"hello world"`)
	tok := l.NextToken()
	require.Equal(t, TokenString, tok.Type)
	assert.Equal(t, `"hello world"`, tok.Lexeme)
}

func TestNextTokenStringSpansLines(t *testing.T) {
	l := New("\"line one\nline two\"\n1")
	tok := l.NextToken()
	require.Equal(t, TokenString, tok.Type)
	num := l.NextToken()
	assert.Equal(t, 3, num.Line)
}

func TestNextTokenUnterminatedString(t *testing.T) {
	l := New(`"no closing quote`)
	tok := l.NextToken()
	require.Equal(t, TokenError, tok.Type)
	assert.Equal(t, "unterminated string", tok.Message)
}

func TestNextTokenUnexpectedCharacter(t *testing.T) {
	l := New("@")
	tok := l.NextToken()
	require.Equal(t, TokenError, tok.Type)
	assert.Equal(t, "unexpected character", tok.Message)
}

func TestNextTokenSkipsCommentsAndWhitespace(t *testing.T) {
	l := New("// a comment\n  \t 42")
	tok := l.NextToken()
	require.Equal(t, TokenNumber, tok.Type)
	assert.Equal(t, "42", tok.Lexeme)
	assert.Equal(t, 2, tok.Line)
}

func TestNextTokenLineTracking(t *testing.T) {
	l := New("1\n2\n\n3")
	lines := []int{1, 2, 4}
	for _, want := range lines {
		tok := l.NextToken()
		require.Equal(t, TokenNumber, tok.Type)
		assert.Equal(t, want, tok.Line)
	}
}
