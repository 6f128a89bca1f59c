package compiler

import (
	"strconv"

	"github.com/kristofer/smog/pkg/heap"
	"github.com/kristofer/smog/pkg/lexer"
	"github.com/kristofer/smog/pkg/value"
)

// Precedence orders binding power from loosest to tightest, matching the
// Pratt table in spec.md §4.F.
type Precedence int

const (
	PrecNone Precedence = iota
	PrecAssignment
	PrecOr
	PrecAnd
	PrecEquality
	PrecComparison
	PrecTerm
	PrecFactor
	PrecUnary
	PrecCall
	PrecPrimary
)

type parseFn func(c *Compiler, canAssign bool)

type parseRule struct {
	prefix     parseFn
	infix      parseFn
	precedence Precedence
}

var rules [int(lexer.TokenEOF) + 1]parseRule

func rule(t lexer.TokenType, prefix, infix parseFn, prec Precedence) {
	rules[int(t)] = parseRule{prefix: prefix, infix: infix, precedence: prec}
}

func init() {
	rule(lexer.TokenLeftParen, grouping, call, PrecCall)
	rule(lexer.TokenDot, nil, dot, PrecCall)
	rule(lexer.TokenMinus, unary, binary, PrecTerm)
	rule(lexer.TokenPlus, nil, binary, PrecTerm)
	rule(lexer.TokenSlash, nil, binary, PrecFactor)
	rule(lexer.TokenStar, nil, binary, PrecFactor)
	rule(lexer.TokenBang, unary, nil, PrecNone)
	rule(lexer.TokenBangEqual, nil, binary, PrecEquality)
	rule(lexer.TokenEqualEqual, nil, binary, PrecEquality)
	rule(lexer.TokenGreater, nil, binary, PrecComparison)
	rule(lexer.TokenGreaterEqual, nil, binary, PrecComparison)
	rule(lexer.TokenLess, nil, binary, PrecComparison)
	rule(lexer.TokenLessEqual, nil, binary, PrecComparison)
	rule(lexer.TokenIdentifier, variable, nil, PrecNone)
	rule(lexer.TokenString, stringLiteral, nil, PrecNone)
	rule(lexer.TokenNumber, number, nil, PrecNone)
	rule(lexer.TokenAnd, nil, and_, PrecAnd)
	rule(lexer.TokenOr, nil, or_, PrecOr)
	rule(lexer.TokenFalse, literal, nil, PrecNone)
	rule(lexer.TokenTrue, literal, nil, PrecNone)
	rule(lexer.TokenNil, literal, nil, PrecNone)
	rule(lexer.TokenThis, this_, nil, PrecNone)
	rule(lexer.TokenSuper, super_, nil, PrecNone)
}

func getRule(t lexer.TokenType) parseRule { return rules[int(t)] }

func (c *Compiler) expression() {
	c.parsePrecedence(PrecAssignment)
}

func (c *Compiler) parsePrecedence(prec Precedence) {
	c.p.advance()
	prefixRule := getRule(c.p.previous.Type).prefix
	if prefixRule == nil {
		c.p.error("Expect expression.")
		return
	}

	canAssign := prec <= PrecAssignment
	prefixRule(c, canAssign)

	for prec <= getRule(c.p.current.Type).precedence {
		c.p.advance()
		infixRule := getRule(c.p.previous.Type).infix
		infixRule(c, canAssign)
	}

	if canAssign && c.p.match(lexer.TokenEqual) {
		c.p.error("Invalid assignment target.")
	}
}

func grouping(c *Compiler, _ bool) {
	c.expression()
	c.p.consume(lexer.TokenRightParen, "Expect ')' after expression.")
}

func number(c *Compiler, _ bool) {
	n, err := strconv.ParseFloat(c.p.previous.Lexeme, 64)
	if err != nil {
		c.p.error("Invalid number literal.")
		return
	}
	c.emitConstant(value.Number(n))
}

func stringLiteral(c *Compiler, _ bool) {
	lexeme := c.p.previous.Lexeme
	raw := lexeme[1 : len(lexeme)-1]
	s := c.h.InternString(raw)
	c.emitConstant(value.FromObj(s))
}

func literal(c *Compiler, _ bool) {
	switch c.p.previous.Type {
	case lexer.TokenFalse:
		c.emitOp(heap.OpFalse)
	case lexer.TokenTrue:
		c.emitOp(heap.OpTrue)
	case lexer.TokenNil:
		c.emitOp(heap.OpNil)
	}
}

func unary(c *Compiler, _ bool) {
	opType := c.p.previous.Type
	c.parsePrecedence(PrecUnary)
	switch opType {
	case lexer.TokenBang:
		c.emitOp(heap.OpNot)
	case lexer.TokenMinus:
		c.emitOp(heap.OpNegate)
	}
}

func binary(c *Compiler, _ bool) {
	opType := c.p.previous.Type
	r := getRule(opType)
	c.parsePrecedence(r.precedence + 1)

	switch opType {
	case lexer.TokenBangEqual:
		c.emitOp(heap.OpEqual)
		c.emitOp(heap.OpNot)
	case lexer.TokenEqualEqual:
		c.emitOp(heap.OpEqual)
	case lexer.TokenGreater:
		c.emitOp(heap.OpGreater)
	case lexer.TokenGreaterEqual:
		c.emitOp(heap.OpLess)
		c.emitOp(heap.OpNot)
	case lexer.TokenLess:
		c.emitOp(heap.OpLess)
	case lexer.TokenLessEqual:
		c.emitOp(heap.OpGreater)
		c.emitOp(heap.OpNot)
	case lexer.TokenPlus:
		c.emitOp(heap.OpAdd)
	case lexer.TokenMinus:
		c.emitOp(heap.OpSubtract)
	case lexer.TokenStar:
		c.emitOp(heap.OpMultiply)
	case lexer.TokenSlash:
		c.emitOp(heap.OpDivide)
	}
}

func and_(c *Compiler, _ bool) {
	endJump := c.emitJump(heap.OpJumpIfFalse)
	c.emitOp(heap.OpPop)
	c.parsePrecedence(PrecAnd)
	c.patchJump(endJump)
}

func or_(c *Compiler, _ bool) {
	elseJump := c.emitJump(heap.OpJumpIfFalse)
	endJump := c.emitJump(heap.OpJump)
	c.patchJump(elseJump)
	c.emitOp(heap.OpPop)
	c.parsePrecedence(PrecOr)
	c.patchJump(endJump)
}

func call(c *Compiler, _ bool) {
	argCount := c.argumentList()
	c.emitOpByte(heap.OpCall, argCount)
}

func (c *Compiler) argumentList() byte {
	count := 0
	if !c.p.check(lexer.TokenRightParen) {
		for {
			c.expression()
			if count == maxArgs {
				c.p.error("Can't have more than 255 arguments.")
			}
			count++
			if !c.p.match(lexer.TokenComma) {
				break
			}
		}
	}
	c.p.consume(lexer.TokenRightParen, "Expect ')' after arguments.")
	return byte(count)
}

func dot(c *Compiler, canAssign bool) {
	c.p.consume(lexer.TokenIdentifier, "Expect property name after '.'.")
	name := c.identifierConstant(c.p.previous)

	switch {
	case canAssign && c.p.match(lexer.TokenEqual):
		c.expression()
		c.emitOpByte(heap.OpSetProperty, name)
	case c.p.match(lexer.TokenLeftParen):
		argCount := c.argumentList()
		c.emitOpByte(heap.OpInvoke, name)
		c.emitByte(argCount)
	default:
		c.emitOpByte(heap.OpGetProperty, name)
	}
}

func variable(c *Compiler, canAssign bool) {
	c.namedVariable(c.p.previous, canAssign)
}

func (c *Compiler) namedVariable(tok lexer.Token, canAssign bool) {
	var getOp, setOp heap.OpCode
	arg := resolveLocal(c, tok.Lexeme)
	if arg != -1 {
		getOp, setOp = heap.OpGetLocal, heap.OpSetLocal
	} else if arg = resolveUpvalue(c, tok.Lexeme); arg != -1 {
		getOp, setOp = heap.OpGetUpvalue, heap.OpSetUpvalue
	} else {
		arg = int(c.identifierConstant(tok))
		getOp, setOp = heap.OpGetGlobal, heap.OpSetGlobal
	}

	if canAssign && c.p.match(lexer.TokenEqual) {
		c.expression()
		c.emitOpByte(setOp, byte(arg))
	} else {
		c.emitOpByte(getOp, byte(arg))
	}
}

func this_(c *Compiler, _ bool) {
	if c.class == nil {
		c.p.error("Can't use 'this' outside of a class.")
		return
	}
	variable(c, false)
}

func super_(c *Compiler, _ bool) {
	switch {
	case c.class == nil:
		c.p.error("Can't use 'super' outside of a class.")
	case !c.class.hasSuperclass:
		c.p.error("Can't use 'super' in a class with no superclass.")
	}

	c.p.consume(lexer.TokenDot, "Expect '.' after 'super'.")
	c.p.consume(lexer.TokenIdentifier, "Expect superclass method name.")
	name := c.identifierConstant(c.p.previous)

	c.namedVariable(lexer.Token{Type: lexer.TokenThis, Lexeme: "this"}, false)
	if c.p.match(lexer.TokenLeftParen) {
		argCount := c.argumentList()
		c.namedVariable(lexer.Token{Type: lexer.TokenSuper, Lexeme: "super"}, false)
		c.emitOpByte(heap.OpSuperInvoke, name)
		c.emitByte(argCount)
	} else {
		c.namedVariable(lexer.Token{Type: lexer.TokenSuper, Lexeme: "super"}, false)
		c.emitOpByte(heap.OpGetSuper, name)
	}
}
