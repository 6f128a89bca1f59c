// Package compiler implements smog's single-pass compiler: a Pratt
// expression parser that emits bytecode directly into a heap.Chunk, with
// local-variable and upvalue resolution done on the fly rather than over a
// separate intermediate representation.
package compiler

import (
	"fmt"

	"github.com/kristofer/smog/pkg/heap"
	"github.com/kristofer/smog/pkg/lexer"
	"github.com/kristofer/smog/pkg/value"
)

// maxLocals, maxUpvalues, and maxConstants mirror the one-byte operand
// widths the bytecode format uses for slot/upvalue/constant indices.
const (
	maxLocals    = 256
	maxUpvalues  = 256
	maxConstants = 256
	maxArgs      = 255
	maxJump      = 1<<16 - 1
)

// FunctionKind distinguishes the four contexts a function body can be
// compiled in, since each has slightly different rules around `this`,
// `return`, and the implicit receiver slot.
type FunctionKind int

const (
	KindScript FunctionKind = iota
	KindFunction
	KindMethod
	KindInitializer
)

type local struct {
	name       string
	depth      int // -1 means "declared but not yet initialized"
	isCaptured bool
}

type upvalueDesc struct {
	index   int
	isLocal bool
}

// classState tracks the class currently being compiled, chained through
// enclosing so nested class declarations (a class body can itself contain
// no nested classes in smog, but methods recurse through classState via
// the shared parser) resolve `this`/`super` correctly.
type classState struct {
	enclosing     *classState
	hasSuperclass bool
}

// parser is the token-stream state shared by every Compiler in a single
// compilation chain: only one token stream exists regardless of how many
// nested function compilers are pushed.
type parser struct {
	lex       *lexer.Lexer
	current   lexer.Token
	previous  lexer.Token
	hadError  bool
	panicMode bool
	errors    []string
	root      *compilerRoot
}

// compilerRoot is registered with the heap as a GC root for the duration of
// compilation; it marks the function under construction for every Compiler
// in the chain from the innermost active one outward (spec.md §4.F
// "compiler chain", §9 "Compiler-as-root").
type compilerRoot struct {
	current *Compiler
}

func (r *compilerRoot) MarkRoots(h *heap.Heap) {
	for c := r.current; c != nil; c = c.enclosing {
		if c.function != nil {
			h.MarkValue(value.FromObj(c.function))
		}
	}
}

// Compiler holds the per-function compilation state: the function object
// under construction, its locals and upvalue descriptors, and a back-link
// to the enclosing function's Compiler (spec.md §4.F "Compiler state").
type Compiler struct {
	p         *parser
	h         *heap.Heap
	enclosing *Compiler

	function *heap.Function
	kind     FunctionKind

	locals     []local
	scopeDepth int
	upvalues   []upvalueDesc

	class *classState
}

// Compile parses source into a top-level function of arity zero. On
// success ok is true and fn is ready to be wrapped in a closure and run.
// On failure ok is false and errs lists every accumulated compile error
// (panic-mode synchronization means there may be more than one).
func Compile(source string, h *heap.Heap) (fn *heap.Function, errs []string, ok bool) {
	p := &parser{lex: lexer.New(source), root: &compilerRoot{}}
	c := newCompiler(p, h, nil, KindScript, nil)
	p.root.current = c
	h.AddRootMarker(p.root)
	defer h.RemoveRootMarker(p.root)

	p.advance()
	for !p.match(lexer.TokenEOF) {
		c.declaration()
	}
	fn = c.endCompiler()

	if p.hadError {
		return nil, p.errors, false
	}
	return fn, nil, true
}

func newCompiler(p *parser, h *heap.Heap, enclosing *Compiler, kind FunctionKind, name *heap.String) *Compiler {
	c := &Compiler{
		p:         p,
		h:         h,
		enclosing: enclosing,
		kind:      kind,
		function:  h.NewFunction(name),
	}
	var receiver string
	if kind == KindMethod || kind == KindInitializer {
		receiver = "this"
	}
	c.locals = append(c.locals, local{name: receiver, depth: 0})
	if enclosing != nil {
		c.class = enclosing.class
	}
	return c
}

func (c *Compiler) currentChunk() *heap.Chunk { return c.function.Chunk }

// --- token stream helpers (operate through the shared parser) ---

func (p *parser) advance() {
	p.previous = p.current
	for {
		p.current = p.lex.NextToken()
		if p.current.Type != lexer.TokenError {
			break
		}
		p.errorAtCurrent(p.current.Message)
	}
}

func (p *parser) check(t lexer.TokenType) bool { return p.current.Type == t }

func (p *parser) match(t lexer.TokenType) bool {
	if !p.check(t) {
		return false
	}
	p.advance()
	return true
}

func (p *parser) consume(t lexer.TokenType, message string) {
	if p.current.Type == t {
		p.advance()
		return
	}
	p.errorAtCurrent(message)
}

func (p *parser) errorAtCurrent(message string) { p.errorAt(p.current, message) }
func (p *parser) error(message string)          { p.errorAt(p.previous, message) }

func (p *parser) errorAt(tok lexer.Token, message string) {
	if p.panicMode {
		return
	}
	p.panicMode = true
	p.hadError = true

	where := fmt.Sprintf("at '%s'", tok.Lexeme)
	switch tok.Type {
	case lexer.TokenEOF:
		where = "at end"
	case lexer.TokenError:
		where = ""
		message = tok.Message
	}
	if where == "" {
		p.errors = append(p.errors, fmt.Sprintf("[line %d] Error: %s", tok.Line, message))
	} else {
		p.errors = append(p.errors, fmt.Sprintf("[line %d] Error %s: %s", tok.Line, where, message))
	}
}

func (c *Compiler) synchronize() {
	c.p.panicMode = false
	for c.p.current.Type != lexer.TokenEOF {
		if c.p.previous.Type == lexer.TokenSemicolon {
			return
		}
		switch c.p.current.Type {
		case lexer.TokenClass, lexer.TokenFun, lexer.TokenVar, lexer.TokenFor,
			lexer.TokenIf, lexer.TokenWhile, lexer.TokenPrint, lexer.TokenReturn:
			return
		}
		c.p.advance()
	}
}

// --- byte/jump emission ---

func (c *Compiler) emitByte(b byte) {
	c.currentChunk().Write(b, c.p.previous.Line)
}

func (c *Compiler) emitOp(op heap.OpCode) { c.emitByte(byte(op)) }

func (c *Compiler) emitBytes(a, b byte) {
	c.emitByte(a)
	c.emitByte(b)
}

func (c *Compiler) emitOpByte(op heap.OpCode, b byte) { c.emitBytes(byte(op), b) }

func (c *Compiler) makeConstant(v value.Value) byte {
	idx := c.currentChunk().AddConstant(v)
	if idx > maxConstants-1 {
		c.p.error("Too many constants in one chunk.")
		return 0
	}
	return byte(idx)
}

func (c *Compiler) emitConstant(v value.Value) {
	c.emitOpByte(heap.OpConstant, c.makeConstant(v))
}

func (c *Compiler) emitJump(op heap.OpCode) int {
	c.emitOp(op)
	c.emitByte(0xff)
	c.emitByte(0xff)
	return len(c.currentChunk().Code) - 2
}

func (c *Compiler) patchJump(offset int) {
	jump := len(c.currentChunk().Code) - offset - 2
	if jump > maxJump {
		c.p.error("Too much code to jump over.")
		return
	}
	code := c.currentChunk().Code
	code[offset] = byte((jump >> 8) & 0xff)
	code[offset+1] = byte(jump & 0xff)
}

func (c *Compiler) emitLoop(loopStart int) {
	c.emitOp(heap.OpLoop)
	offset := len(c.currentChunk().Code) - loopStart + 2
	if offset > maxJump {
		c.p.error("Loop body too large.")
		return
	}
	c.emitByte(byte((offset >> 8) & 0xff))
	c.emitByte(byte(offset & 0xff))
}

func (c *Compiler) emitReturn() {
	if c.kind == KindInitializer {
		c.emitOpByte(heap.OpGetLocal, 0)
	} else {
		c.emitOp(heap.OpNil)
	}
	c.emitOp(heap.OpReturn)
}

func (c *Compiler) endCompiler() *heap.Function {
	c.emitReturn()
	fn := c.function
	c.p.root.current = c.enclosing
	return fn
}

// --- scopes ---

func (c *Compiler) beginScope() { c.scopeDepth++ }

func (c *Compiler) endScope() {
	c.scopeDepth--
	for len(c.locals) > 0 && c.locals[len(c.locals)-1].depth > c.scopeDepth {
		last := c.locals[len(c.locals)-1]
		if last.isCaptured {
			c.emitOp(heap.OpCloseUpvalue)
		} else {
			c.emitOp(heap.OpPop)
		}
		c.locals = c.locals[:len(c.locals)-1]
	}
}

// --- variable declaration / resolution ---

func (c *Compiler) identifierConstant(tok lexer.Token) byte {
	s := c.h.InternString(tok.Lexeme)
	return c.makeConstant(value.FromObj(s))
}

func (c *Compiler) addLocal(name string) {
	if len(c.locals) >= maxLocals {
		c.p.error("Too many local variables in function.")
		return
	}
	c.locals = append(c.locals, local{name: name, depth: -1})
}

func (c *Compiler) declareVariable() {
	if c.scopeDepth == 0 {
		return
	}
	name := c.p.previous.Lexeme
	for i := len(c.locals) - 1; i >= 0; i-- {
		l := c.locals[i]
		if l.depth != -1 && l.depth < c.scopeDepth {
			break
		}
		if l.name == name {
			c.p.error("Already a variable with this name in this scope.")
		}
	}
	c.addLocal(name)
}

func (c *Compiler) parseVariable(errMessage string) byte {
	c.p.consume(lexer.TokenIdentifier, errMessage)
	c.declareVariable()
	if c.scopeDepth > 0 {
		return 0
	}
	return c.identifierConstant(c.p.previous)
}

func (c *Compiler) markInitialized() {
	if c.scopeDepth == 0 {
		return
	}
	c.locals[len(c.locals)-1].depth = c.scopeDepth
}

func (c *Compiler) defineVariable(global byte) {
	if c.scopeDepth > 0 {
		c.markInitialized()
		return
	}
	c.emitOpByte(heap.OpDefineGlobal, global)
}

func resolveLocal(c *Compiler, name string) int {
	for i := len(c.locals) - 1; i >= 0; i-- {
		if c.locals[i].name == name {
			if c.locals[i].depth == -1 {
				c.p.error("Can't read local variable in its own initializer.")
			}
			return i
		}
	}
	return -1
}

func addUpvalue(c *Compiler, index int, isLocal bool) int {
	for i, uv := range c.upvalues {
		if uv.index == index && uv.isLocal == isLocal {
			return i
		}
	}
	if len(c.upvalues) >= maxUpvalues {
		c.p.error("Too many closure variables in function.")
		return 0
	}
	c.upvalues = append(c.upvalues, upvalueDesc{index: index, isLocal: isLocal})
	c.function.UpvalueCount = len(c.upvalues)
	return len(c.upvalues) - 1
}

func resolveUpvalue(c *Compiler, name string) int {
	if c.enclosing == nil {
		return -1
	}
	if local := resolveLocal(c.enclosing, name); local != -1 {
		c.enclosing.locals[local].isCaptured = true
		return addUpvalue(c, local, true)
	}
	if uv := resolveUpvalue(c.enclosing, name); uv != -1 {
		return addUpvalue(c, uv, false)
	}
	return -1
}

// --- statements ---

func (c *Compiler) declaration() {
	switch {
	case c.p.match(lexer.TokenClass):
		c.classDeclaration()
	case c.p.match(lexer.TokenFun):
		c.funDeclaration()
	case c.p.match(lexer.TokenVar):
		c.varDeclaration()
	default:
		c.statement()
	}
	if c.p.panicMode {
		c.synchronize()
	}
}

func (c *Compiler) funDeclaration() {
	global := c.parseVariable("Expect function name.")
	c.markInitialized()
	c.function_(KindFunction)
	c.defineVariable(global)
}

func (c *Compiler) varDeclaration() {
	global := c.parseVariable("Expect variable name.")
	if c.p.match(lexer.TokenEqual) {
		c.expression()
	} else {
		c.emitOp(heap.OpNil)
	}
	c.p.consume(lexer.TokenSemicolon, "Expect ';' after variable declaration.")
	c.defineVariable(global)
}

func (c *Compiler) statement() {
	switch {
	case c.p.match(lexer.TokenPrint):
		c.printStatement()
	case c.p.match(lexer.TokenFor):
		c.forStatement()
	case c.p.match(lexer.TokenIf):
		c.ifStatement()
	case c.p.match(lexer.TokenReturn):
		c.returnStatement()
	case c.p.match(lexer.TokenWhile):
		c.whileStatement()
	case c.p.match(lexer.TokenLeftBrace):
		c.beginScope()
		c.block()
		c.endScope()
	default:
		c.expressionStatement()
	}
}

func (c *Compiler) block() {
	for !c.p.check(lexer.TokenRightBrace) && !c.p.check(lexer.TokenEOF) {
		c.declaration()
	}
	c.p.consume(lexer.TokenRightBrace, "Expect '}' after block.")
}

func (c *Compiler) printStatement() {
	c.expression()
	c.p.consume(lexer.TokenSemicolon, "Expect ';' after value.")
	c.emitOp(heap.OpPrint)
}

func (c *Compiler) expressionStatement() {
	c.expression()
	c.p.consume(lexer.TokenSemicolon, "Expect ';' after expression.")
	c.emitOp(heap.OpPop)
}

func (c *Compiler) ifStatement() {
	c.p.consume(lexer.TokenLeftParen, "Expect '(' after 'if'.")
	c.expression()
	c.p.consume(lexer.TokenRightParen, "Expect ')' after condition.")

	thenJump := c.emitJump(heap.OpJumpIfFalse)
	c.emitOp(heap.OpPop)
	c.statement()

	elseJump := c.emitJump(heap.OpJump)
	c.patchJump(thenJump)
	c.emitOp(heap.OpPop)

	if c.p.match(lexer.TokenElse) {
		c.statement()
	}
	c.patchJump(elseJump)
}

func (c *Compiler) whileStatement() {
	loopStart := len(c.currentChunk().Code)
	c.p.consume(lexer.TokenLeftParen, "Expect '(' after 'while'.")
	c.expression()
	c.p.consume(lexer.TokenRightParen, "Expect ')' after condition.")

	exitJump := c.emitJump(heap.OpJumpIfFalse)
	c.emitOp(heap.OpPop)
	c.statement()
	c.emitLoop(loopStart)

	c.patchJump(exitJump)
	c.emitOp(heap.OpPop)
}

func (c *Compiler) forStatement() {
	c.beginScope()
	c.p.consume(lexer.TokenLeftParen, "Expect '(' after 'for'.")

	switch {
	case c.p.match(lexer.TokenSemicolon):
		// no initializer
	case c.p.match(lexer.TokenVar):
		c.varDeclaration()
	default:
		c.expressionStatement()
	}

	loopStart := len(c.currentChunk().Code)
	exitJump := -1
	if !c.p.match(lexer.TokenSemicolon) {
		c.expression()
		c.p.consume(lexer.TokenSemicolon, "Expect ';' after loop condition.")
		exitJump = c.emitJump(heap.OpJumpIfFalse)
		c.emitOp(heap.OpPop)
	}

	if !c.p.match(lexer.TokenRightParen) {
		bodyJump := c.emitJump(heap.OpJump)
		incrementStart := len(c.currentChunk().Code)
		c.expression()
		c.emitOp(heap.OpPop)
		c.p.consume(lexer.TokenRightParen, "Expect ')' after for clauses.")

		c.emitLoop(loopStart)
		loopStart = incrementStart
		c.patchJump(bodyJump)
	}

	c.statement()
	c.emitLoop(loopStart)

	if exitJump != -1 {
		c.patchJump(exitJump)
		c.emitOp(heap.OpPop)
	}
	c.endScope()
}

func (c *Compiler) returnStatement() {
	if c.kind == KindScript {
		c.p.error("Can't return from top-level code.")
	}
	if c.p.match(lexer.TokenSemicolon) {
		c.emitReturn()
		return
	}
	if c.kind == KindInitializer {
		c.p.error("Can't return a value from an initializer.")
	}
	c.expression()
	c.p.consume(lexer.TokenSemicolon, "Expect ';' after return value.")
	c.emitOp(heap.OpReturn)
}

// --- functions and classes ---

func (c *Compiler) function_(kind FunctionKind) {
	name := c.h.InternString(c.p.previous.Lexeme)
	fc := newCompiler(c.p, c.h, c, kind, name)
	c.p.root.current = fc
	fc.beginScope()

	fc.p.consume(lexer.TokenLeftParen, "Expect '(' after function name.")
	if !fc.p.check(lexer.TokenRightParen) {
		for {
			fc.function.Arity++
			if fc.function.Arity > maxArgs {
				fc.p.errorAtCurrent("Can't have more than 255 parameters.")
			}
			constant := fc.parseVariable("Expect parameter name.")
			fc.defineVariable(constant)
			if !fc.p.match(lexer.TokenComma) {
				break
			}
		}
	}
	fc.p.consume(lexer.TokenRightParen, "Expect ')' after parameters.")
	fc.p.consume(lexer.TokenLeftBrace, "Expect '{' before function body.")
	fc.block()

	fn := fc.endCompiler()
	upvalues := fc.upvalues

	c.emitOpByte(heap.OpClosure, c.makeConstant(value.FromObj(fn)))
	for _, uv := range upvalues {
		isLocal := byte(0)
		if uv.isLocal {
			isLocal = 1
		}
		c.emitByte(isLocal)
		c.emitByte(byte(uv.index))
	}
}

func (c *Compiler) classDeclaration() {
	c.p.consume(lexer.TokenIdentifier, "Expect class name.")
	classNameTok := c.p.previous
	nameConstant := c.identifierConstant(classNameTok)
	c.declareVariable()

	c.emitOpByte(heap.OpClass, nameConstant)
	c.defineVariable(nameConstant)

	cs := &classState{enclosing: c.class}
	c.class = cs

	if c.p.match(lexer.TokenLess) {
		c.p.consume(lexer.TokenIdentifier, "Expect superclass name.")
		c.namedVariable(c.p.previous, false)
		if c.p.previous.Lexeme == classNameTok.Lexeme {
			c.p.error("A class can't inherit from itself.")
		}

		c.beginScope()
		c.addLocal("super")
		c.defineVariable(0)

		c.namedVariable(classNameTok, false)
		c.emitOp(heap.OpInherit)
		cs.hasSuperclass = true
	}

	c.namedVariable(classNameTok, false)
	c.p.consume(lexer.TokenLeftBrace, "Expect '{' before class body.")
	for !c.p.check(lexer.TokenRightBrace) && !c.p.check(lexer.TokenEOF) {
		c.method()
	}
	c.p.consume(lexer.TokenRightBrace, "Expect '}' after class body.")
	c.emitOp(heap.OpPop)

	if cs.hasSuperclass {
		c.endScope()
	}
	c.class = cs.enclosing
}

func (c *Compiler) method() {
	c.p.consume(lexer.TokenIdentifier, "Expect method name.")
	name := c.p.previous.Lexeme
	constant := c.identifierConstant(c.p.previous)

	kind := KindMethod
	if name == "init" {
		kind = KindInitializer
	}
	c.function_(kind)
	c.emitOpByte(heap.OpMethod, constant)
}
