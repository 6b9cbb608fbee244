// Package compiler turns source text into executable functions.
//
// The compiler is a single-pass Pratt parser: it consumes tokens from the
// scanner and emits bytecode directly into the chunk of the function being
// built, with no AST in between. Lexical scope is resolved as it parses —
// a chain of resolver frames, one per in-flight function, tracks locals
// and the upvalues nested functions capture from their enclosing scopes.
//
// The resolver chain is also a garbage-collection root: the functions it
// is building are not yet reachable from the VM, so the compiler registers
// itself with the heap for the duration of a compile.
package compiler

import (
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/kristofer/glox/pkg/bytecode"
	"github.com/kristofer/glox/pkg/scanner"
)

// ErrCompile is returned when compilation reported one or more errors.
// The diagnostics themselves have already been written to the error
// writer by the time Compile returns.
var ErrCompile = errors.New("compile error")

// Precedence levels, low to high.
type Precedence int

const (
	PrecNone       Precedence = iota
	PrecAssignment            // =
	PrecXor                   // xor
	PrecOr                    // or
	PrecAnd                   // and
	PrecEquality              // == !=
	PrecComparison            // < > <= >=
	PrecTerm                  // + -
	PrecFactor                // * / %
	PrecUnary                 // ! -
	PrecExponent              // **
	PrecCall                  // . ()
	PrecPrimary
)

// FunctionType tells the resolver what kind of function body it is
// compiling; methods and initializers get "this" in slot 0 and
// initializers return the instance implicitly.
type FunctionType int

const (
	TypeScript FunctionType = iota
	TypeFunction
	TypeMethod
	TypeInitializer
)

// A function body owns at most this many local slots, matching the
// 256-slot stack window of a call frame.
const maxLocals = 256

// maxUpvalues bounds the captures of one function; closure operands
// carry a 16-bit upvalue index.
const maxUpvalues = 65536

type parseFn func(c *Compiler, canAssign bool)

type parseRule struct {
	prefix     parseFn
	infix      parseFn
	precedence Precedence
}

var rules [scanner.TokenEOF + 1]parseRule

// The rule table refers to methods that recurse through parsePrecedence,
// so it is populated in init to break the initialization cycle.
func init() {
	rules[scanner.TokenLeftParen] = parseRule{(*Compiler).grouping, (*Compiler).call, PrecCall}
	rules[scanner.TokenDot] = parseRule{nil, (*Compiler).dot, PrecCall}
	rules[scanner.TokenMinus] = parseRule{(*Compiler).unary, (*Compiler).binary, PrecTerm}
	rules[scanner.TokenPlus] = parseRule{nil, (*Compiler).binary, PrecTerm}
	rules[scanner.TokenSlash] = parseRule{nil, (*Compiler).binary, PrecFactor}
	rules[scanner.TokenStar] = parseRule{nil, (*Compiler).binary, PrecFactor}
	rules[scanner.TokenPercent] = parseRule{nil, (*Compiler).binary, PrecFactor}
	rules[scanner.TokenStarStar] = parseRule{nil, (*Compiler).power, PrecExponent}
	rules[scanner.TokenBang] = parseRule{(*Compiler).unary, nil, PrecNone}
	rules[scanner.TokenBangEqual] = parseRule{nil, (*Compiler).binary, PrecEquality}
	rules[scanner.TokenEqualEqual] = parseRule{nil, (*Compiler).binary, PrecEquality}
	rules[scanner.TokenGreater] = parseRule{nil, (*Compiler).binary, PrecComparison}
	rules[scanner.TokenGreaterEqual] = parseRule{nil, (*Compiler).binary, PrecComparison}
	rules[scanner.TokenLess] = parseRule{nil, (*Compiler).binary, PrecComparison}
	rules[scanner.TokenLessEqual] = parseRule{nil, (*Compiler).binary, PrecComparison}
	rules[scanner.TokenPlusPlus] = parseRule{(*Compiler).prefixIncDec, nil, PrecNone}
	rules[scanner.TokenMinusMinus] = parseRule{(*Compiler).prefixIncDec, nil, PrecNone}
	rules[scanner.TokenIdentifier] = parseRule{(*Compiler).variable, nil, PrecNone}
	rules[scanner.TokenString] = parseRule{(*Compiler).stringLiteral, nil, PrecNone}
	rules[scanner.TokenNumber] = parseRule{(*Compiler).number, nil, PrecNone}
	rules[scanner.TokenAnd] = parseRule{nil, (*Compiler).and, PrecAnd}
	rules[scanner.TokenOr] = parseRule{nil, (*Compiler).or, PrecOr}
	rules[scanner.TokenXor] = parseRule{nil, (*Compiler).xor, PrecXor}
	rules[scanner.TokenFalse] = parseRule{(*Compiler).literal, nil, PrecNone}
	rules[scanner.TokenTrue] = parseRule{(*Compiler).literal, nil, PrecNone}
	rules[scanner.TokenNil] = parseRule{(*Compiler).literal, nil, PrecNone}
	rules[scanner.TokenThis] = parseRule{(*Compiler).this, nil, PrecNone}
	rules[scanner.TokenSuper] = parseRule{(*Compiler).super, nil, PrecNone}
}

func getRule(tt scanner.TokenType) *parseRule {
	return &rules[tt]
}

// local is one slot of the resolver's scope tracking. depth -1 marks a
// variable that is declared but not yet defined, so its own initializer
// cannot read it.
type local struct {
	name     scanner.Token
	depth    int
	captured bool
}

type upvalue struct {
	index   int
	isLocal bool
}

// resolver is the per-function compile state. Resolvers stack to mirror
// function nesting; slot 0 is reserved for the callee, or for "this" in
// methods and initializers.
type resolver struct {
	enclosing  *resolver
	function   *bytecode.FunctionObj
	ftype      FunctionType
	locals     []local
	scopeDepth int
	upvalues   []upvalue
}

// classContext tracks the innermost class declaration so "this" and
// "super" can be validated at compile time.
type classContext struct {
	enclosing     *classContext
	hasSuperclass bool
}

// Compiler holds the parser state for one compile. The parser keeps
// exactly two tokens: previous and current.
type Compiler struct {
	heap    *bytecode.Heap
	scanner *scanner.Scanner
	stderr  io.Writer

	previous scanner.Token
	current  scanner.Token

	hadError  bool
	panicMode bool

	res   *resolver
	class *classContext
}

// Compile compiles source into the top-level script function. On error
// it returns ErrCompile; the diagnostics have been written to stderr.
func Compile(source string, heap *bytecode.Heap, stderr io.Writer) (*bytecode.FunctionObj, error) {
	c := &Compiler{
		heap:    heap,
		scanner: scanner.New(source),
		stderr:  stderr,
	}
	heap.AddRootSource(c)
	defer heap.RemoveRootSource(c)

	c.beginResolver(TypeScript)
	c.advance()
	for !c.match(scanner.TokenEOF) {
		c.declaration()
	}
	fn, _ := c.endResolver()
	if c.hadError {
		return nil, ErrCompile
	}
	return fn, nil
}

// MarkRoots marks every in-flight function along the resolver chain.
// Until compilation hands them over they are reachable from nowhere
// else.
func (c *Compiler) MarkRoots(h *bytecode.Heap) {
	for r := c.res; r != nil; r = r.enclosing {
		h.MarkObject(&r.function.ObjHeader)
	}
}

func (c *Compiler) beginResolver(ftype FunctionType) {
	r := &resolver{
		enclosing: c.res,
		function:  c.heap.NewFunction(),
		ftype:     ftype,
	}
	c.res = r
	if ftype != TypeScript {
		r.function.Name = c.heap.NewString(c.previous.Lexeme)
	}

	// slot 0 belongs to the callee; in methods it is the receiver
	slot := local{depth: 0}
	if ftype == TypeMethod || ftype == TypeInitializer {
		slot.name = scanner.Token{Type: scanner.TokenThis, Lexeme: "this"}
	}
	r.locals = append(r.locals, slot)
}

func (c *Compiler) endResolver() (*bytecode.FunctionObj, []upvalue) {
	c.emitReturn()
	fn := c.res.function
	ups := c.res.upvalues
	c.res = c.res.enclosing
	return fn, ups
}

func (c *Compiler) currentChunk() *bytecode.Chunk {
	return &c.res.function.Chunk
}

// ----- token plumbing -----

func (c *Compiler) advance() {
	c.previous = c.current
	for {
		c.current = c.scanner.ScanToken()
		if c.current.Type != scanner.TokenError {
			break
		}
		c.errorAtCurrent(c.current.Lexeme)
	}
}

func (c *Compiler) consume(tt scanner.TokenType, message string) {
	if c.current.Type == tt {
		c.advance()
		return
	}
	c.errorAtCurrent(message)
}

func (c *Compiler) check(tt scanner.TokenType) bool {
	return c.current.Type == tt
}

func (c *Compiler) match(tt scanner.TokenType) bool {
	if !c.check(tt) {
		return false
	}
	c.advance()
	return true
}

// ----- error reporting -----

func (c *Compiler) errorAt(token scanner.Token, message string) {
	if c.panicMode {
		return
	}
	c.panicMode = true
	fmt.Fprintf(c.stderr, "[line %4d column %2d Error]", token.Line, token.Column)
	switch token.Type {
	case scanner.TokenEOF:
		fmt.Fprint(c.stderr, " at end")
	case scanner.TokenError:
		// the lexeme holds the message, not source text
	default:
		fmt.Fprintf(c.stderr, " at '%s'", token.Lexeme)
	}
	fmt.Fprintf(c.stderr, " : %s\n", message)
	c.hadError = true
}

func (c *Compiler) error(message string) {
	c.errorAt(c.previous, message)
}

func (c *Compiler) errorAtCurrent(message string) {
	c.errorAt(c.current, message)
}

// synchronize skips tokens to a statement boundary so one mistake
// produces one diagnostic.
func (c *Compiler) synchronize() {
	c.panicMode = false
	for c.current.Type != scanner.TokenEOF {
		if c.previous.Type == scanner.TokenSemicolon {
			return
		}
		switch c.current.Type {
		case scanner.TokenClass, scanner.TokenFun, scanner.TokenVar,
			scanner.TokenFor, scanner.TokenIf, scanner.TokenWhile,
			scanner.TokenPrint, scanner.TokenReturn:
			return
		}
		c.advance()
	}
}

// ----- emission -----

func (c *Compiler) emitByte(b byte) {
	c.currentChunk().Write(b, c.previous.Line, c.previous.Column)
}

func (c *Compiler) emitOp(op bytecode.OpCode) {
	c.emitByte(byte(op))
}

func (c *Compiler) emitOps(ops ...bytecode.OpCode) {
	for _, op := range ops {
		c.emitOp(op)
	}
}

// emitIndexed emits the narrow form for operands that fit a byte, or the
// wide form with a little-endian 16-bit operand.
func (c *Compiler) emitIndexed(narrow, wide bytecode.OpCode, idx int) {
	if idx <= math.MaxUint8 {
		c.emitOp(narrow)
		c.emitByte(byte(idx))
		return
	}
	c.emitOp(wide)
	c.emitByte(byte(idx & 0xff))
	c.emitByte(byte(idx >> 8))
}

func (c *Compiler) emitReturn() {
	if c.res.ftype == TypeInitializer {
		// an initializer always hands back the instance in slot 0
		c.emitOp(bytecode.OpGetLocal)
		c.emitByte(0)
	} else {
		c.emitOp(bytecode.OpNil)
	}
	c.emitOp(bytecode.OpReturn)
}

func (c *Compiler) makeConstant(v bytecode.Value) int {
	idx := c.currentChunk().AddConstant(c.heap, v)
	if idx >= bytecode.MaxConstants {
		c.error("Too many constants in one chunk.")
		return 0
	}
	return idx
}

func (c *Compiler) emitConstant(v bytecode.Value) {
	c.emitIndexed(bytecode.OpConstant, bytecode.OpConstant16, c.makeConstant(v))
}

// emitJump emits op with a placeholder offset and returns the operand's
// position for patchJump.
func (c *Compiler) emitJump(op bytecode.OpCode) int {
	c.emitOp(op)
	c.emitByte(0xff)
	c.emitByte(0xff)
	return c.currentChunk().Count() - 2
}

func (c *Compiler) patchJump(offset int) {
	// the jump is relative to the byte after the 2-byte operand
	jump := c.currentChunk().Count() - offset - 2
	if jump > math.MaxUint16 {
		c.error("Too much code to jump over.")
	}
	c.currentChunk().Code[offset] = byte(jump & 0xff)
	c.currentChunk().Code[offset+1] = byte(jump >> 8)
}

func (c *Compiler) emitLoop(loopStart int) {
	c.emitOp(bytecode.OpLoop)
	offset := c.currentChunk().Count() - loopStart + 2
	if offset > math.MaxUint16 {
		c.error("Too much code to jump over.")
	}
	c.emitByte(byte(offset & 0xff))
	c.emitByte(byte(offset >> 8))
}

// ----- declarations -----

func (c *Compiler) declaration() {
	switch {
	case c.match(scanner.TokenClass):
		c.classDeclaration()
	case c.match(scanner.TokenFun):
		c.funDeclaration()
	case c.match(scanner.TokenVar):
		c.varDeclaration()
	default:
		c.statement()
	}
	if c.panicMode {
		c.synchronize()
	}
}

func (c *Compiler) varDeclaration() {
	global := c.parseVariable("Expect variable name.")
	if c.match(scanner.TokenEqual) {
		c.expression()
	} else {
		c.emitOp(bytecode.OpNil)
	}
	c.consume(scanner.TokenSemicolon, "Expect ';' after variable declaration.")
	c.defineVariable(global)
}

func (c *Compiler) funDeclaration() {
	global := c.parseVariable("Expect function name.")
	// a function may call itself, so the name is usable in its own body
	c.markInitialized()
	c.function(TypeFunction)
	c.defineVariable(global)
}

// function compiles a function body under a fresh resolver and emits the
// CLOSURE instruction with one {isLocal, index} operand pair per
// captured upvalue, the exact layout the VM consumes.
func (c *Compiler) function(ftype FunctionType) {
	c.beginResolver(ftype)
	c.beginScope()

	c.consume(scanner.TokenLeftParen, "Expect '(' after function name.")
	if !c.check(scanner.TokenRightParen) {
		for {
			c.res.function.Arity++
			if c.res.function.Arity > 255 {
				c.errorAtCurrent("Can't have more than 255 parameters.")
			}
			idx := c.parseVariable("Expect parameter name.")
			c.defineVariable(idx)
			if !c.match(scanner.TokenComma) {
				break
			}
		}
	}
	c.consume(scanner.TokenRightParen, "Expect ')' after parameters.")
	c.consume(scanner.TokenLeftBrace, "Expect '{' before function body.")
	c.block()

	fn, ups := c.endResolver()
	c.emitIndexed(bytecode.OpClosure, bytecode.OpClosure16,
		c.makeConstant(bytecode.ObjValue(&fn.ObjHeader)))
	for _, u := range ups {
		if u.isLocal {
			c.emitByte(1)
		} else {
			c.emitByte(0)
		}
		c.emitByte(byte(u.index & 0xff))
		c.emitByte(byte(u.index >> 8))
	}
}

func (c *Compiler) classDeclaration() {
	c.consume(scanner.TokenIdentifier, "Expect class name.")
	className := c.previous
	nameIdx := c.identifierConstant(className)
	c.declareVariable()
	c.emitIndexed(bytecode.OpClass, bytecode.OpClass16, nameIdx)
	c.defineVariable(nameIdx)

	cc := &classContext{enclosing: c.class}
	c.class = cc

	if c.match(scanner.TokenLess) {
		c.consume(scanner.TokenIdentifier, "Expect superclass name.")
		c.variable(false)
		if className.Lexeme == c.previous.Lexeme {
			c.error("A class can't inherit from itself.")
		}

		// the superclass lives in a scope of its own, named "super"
		c.beginScope()
		c.addLocal(syntheticToken("super"))
		c.markInitialized()

		c.namedVariable(className, false)
		c.emitOp(bytecode.OpInherit)
		cc.hasSuperclass = true
	}

	c.namedVariable(className, false)
	c.consume(scanner.TokenLeftBrace, "Expect '{' before class body.")
	for !c.check(scanner.TokenRightBrace) && !c.check(scanner.TokenEOF) {
		c.method()
	}
	c.consume(scanner.TokenRightBrace, "Expect '}' after class body.")
	c.emitOp(bytecode.OpPop)

	if cc.hasSuperclass {
		c.endScope()
	}
	c.class = cc.enclosing
}

func (c *Compiler) method() {
	c.consume(scanner.TokenIdentifier, "Expect method name.")
	nameIdx := c.identifierConstant(c.previous)
	ftype := TypeMethod
	if c.previous.Lexeme == "init" {
		ftype = TypeInitializer
	}
	c.function(ftype)
	c.emitIndexed(bytecode.OpMethod, bytecode.OpMethod16, nameIdx)
}

// ----- statements -----

func (c *Compiler) statement() {
	switch {
	case c.match(scanner.TokenPrint):
		c.printStatement()
	case c.match(scanner.TokenFor):
		c.forStatement()
	case c.match(scanner.TokenIf):
		c.ifStatement()
	case c.match(scanner.TokenReturn):
		c.returnStatement()
	case c.match(scanner.TokenWhile):
		c.whileStatement()
	case c.match(scanner.TokenLeftBrace):
		c.beginScope()
		c.block()
		c.endScope()
	default:
		c.expressionStatement()
	}
}

func (c *Compiler) printStatement() {
	c.expression()
	c.consume(scanner.TokenSemicolon, "Expect ';' after value.")
	c.emitOp(bytecode.OpPrint)
}

func (c *Compiler) expressionStatement() {
	c.expression()
	c.consume(scanner.TokenSemicolon, "Expect ';' after expression.")
	c.emitOp(bytecode.OpPop)
}

func (c *Compiler) block() {
	for !c.check(scanner.TokenRightBrace) && !c.check(scanner.TokenEOF) {
		c.declaration()
	}
	c.consume(scanner.TokenRightBrace, "Expect '}' after block.")
}

func (c *Compiler) ifStatement() {
	c.consume(scanner.TokenLeftParen, "Expect '(' after 'if'.")
	c.expression()
	c.consume(scanner.TokenRightParen, "Expect ')' after condition.")

	thenJump := c.emitJump(bytecode.OpJumpIfFalse)
	c.emitOp(bytecode.OpPop)
	c.statement()
	elseJump := c.emitJump(bytecode.OpJump)

	c.patchJump(thenJump)
	c.emitOp(bytecode.OpPop)
	if c.match(scanner.TokenElse) {
		c.statement()
	}
	c.patchJump(elseJump)
}

func (c *Compiler) whileStatement() {
	loopStart := c.currentChunk().Count()
	c.consume(scanner.TokenLeftParen, "Expect '(' after 'while'.")
	c.expression()
	c.consume(scanner.TokenRightParen, "Expect ')' after condition.")

	exitJump := c.emitJump(bytecode.OpJumpIfFalse)
	c.emitOp(bytecode.OpPop)
	c.statement()
	c.emitLoop(loopStart)

	c.patchJump(exitJump)
	c.emitOp(bytecode.OpPop)
}

// forStatement desugars for(init; cond; incr) inside its own scope. The
// increment runs after the body, so when there is an increment, entry
// jumps over it to the body and the loop's back edge targets it.
func (c *Compiler) forStatement() {
	c.beginScope()
	c.consume(scanner.TokenLeftParen, "Expect '(' after 'for'.")
	switch {
	case c.match(scanner.TokenSemicolon):
		// no initializer
	case c.match(scanner.TokenVar):
		c.varDeclaration()
	default:
		c.expressionStatement()
	}

	loopStart := c.currentChunk().Count()
	exitJump := -1
	if !c.match(scanner.TokenSemicolon) {
		c.expression()
		c.consume(scanner.TokenSemicolon, "Expect ';' after loop condition.")
		exitJump = c.emitJump(bytecode.OpJumpIfFalse)
		c.emitOp(bytecode.OpPop)
	}

	if !c.match(scanner.TokenRightParen) {
		bodyJump := c.emitJump(bytecode.OpJump)
		incrementStart := c.currentChunk().Count()
		c.expression()
		c.emitOp(bytecode.OpPop)
		c.consume(scanner.TokenRightParen, "Expect ')' after for clauses.")

		c.emitLoop(loopStart)
		loopStart = incrementStart
		c.patchJump(bodyJump)
	}

	c.statement()
	c.emitLoop(loopStart)

	if exitJump != -1 {
		c.patchJump(exitJump)
		c.emitOp(bytecode.OpPop)
	}
	c.endScope()
}

func (c *Compiler) returnStatement() {
	if c.res.ftype == TypeScript {
		c.error("Can't return from top-level code.")
	}
	if c.match(scanner.TokenSemicolon) {
		c.emitReturn()
		return
	}
	if c.res.ftype == TypeInitializer {
		c.error("Can't return a value from an initializer.")
	}
	c.expression()
	c.consume(scanner.TokenSemicolon, "Expect ';' after return value.")
	c.emitOp(bytecode.OpReturn)
}

// ----- scope handling -----

func (c *Compiler) beginScope() {
	c.res.scopeDepth++
}

// endScope pops the scope's locals; captured ones are closed into their
// upvalues instead of discarded.
func (c *Compiler) endScope() {
	c.res.scopeDepth--
	for len(c.res.locals) > 0 &&
		c.res.locals[len(c.res.locals)-1].depth > c.res.scopeDepth {
		if c.res.locals[len(c.res.locals)-1].captured {
			c.emitOp(bytecode.OpCloseUpvalue)
		} else {
			c.emitOp(bytecode.OpPop)
		}
		c.res.locals = c.res.locals[:len(c.res.locals)-1]
	}
}

func (c *Compiler) parseVariable(message string) int {
	c.consume(scanner.TokenIdentifier, message)
	c.declareVariable()
	if c.res.scopeDepth > 0 {
		return 0
	}
	return c.identifierConstant(c.previous)
}

func (c *Compiler) identifierConstant(name scanner.Token) int {
	s := c.heap.NewString(name.Lexeme)
	return c.makeConstant(bytecode.ObjValue(&s.ObjHeader))
}

func (c *Compiler) declareVariable() {
	if c.res.scopeDepth == 0 {
		return
	}
	name := c.previous
	for i := len(c.res.locals) - 1; i >= 0; i-- {
		l := &c.res.locals[i]
		if l.depth != -1 && l.depth < c.res.scopeDepth {
			break
		}
		if l.name.Lexeme == name.Lexeme {
			c.error("Already a variable with this name in this scope.")
		}
	}
	c.addLocal(name)
}

func (c *Compiler) addLocal(name scanner.Token) {
	if len(c.res.locals) == maxLocals {
		c.error("Too many local variables in function.")
		return
	}
	c.res.locals = append(c.res.locals, local{name: name, depth: -1})
}

func (c *Compiler) markInitialized() {
	if c.res.scopeDepth == 0 {
		return
	}
	c.res.locals[len(c.res.locals)-1].depth = c.res.scopeDepth
}

func (c *Compiler) defineVariable(global int) {
	if c.res.scopeDepth > 0 {
		c.markInitialized()
		return
	}
	c.emitIndexed(bytecode.OpDefineGlobal, bytecode.OpDefineGlobal16, global)
}

func (c *Compiler) resolveLocal(r *resolver, name scanner.Token) int {
	for i := len(r.locals) - 1; i >= 0; i-- {
		l := &r.locals[i]
		if l.name.Lexeme == name.Lexeme {
			if l.depth == -1 {
				c.error("Can't read local variable in its own initializer.")
			}
			return i
		}
	}
	return -1
}

// resolveUpvalue finds name in an enclosing function, capturing it as a
// chain of upvalues down to the current one. A local captured anywhere
// is flagged so its scope exit closes it instead of popping it.
func (c *Compiler) resolveUpvalue(r *resolver, name scanner.Token) int {
	if r.enclosing == nil {
		return -1
	}
	if localIdx := c.resolveLocal(r.enclosing, name); localIdx != -1 {
		r.enclosing.locals[localIdx].captured = true
		return c.addUpvalue(r, localIdx, true)
	}
	if upIdx := c.resolveUpvalue(r.enclosing, name); upIdx != -1 {
		return c.addUpvalue(r, upIdx, false)
	}
	return -1
}

func (c *Compiler) addUpvalue(r *resolver, index int, isLocal bool) int {
	for i, u := range r.upvalues {
		if u.index == index && u.isLocal == isLocal {
			return i
		}
	}
	if len(r.upvalues) == maxUpvalues {
		c.error("Too many closure variables in function.")
		return 0
	}
	r.upvalues = append(r.upvalues, upvalue{index: index, isLocal: isLocal})
	r.function.UpvalueCount = len(r.upvalues)
	return len(r.upvalues) - 1
}

// ----- expressions -----

func (c *Compiler) expression() {
	c.parsePrecedence(PrecAssignment)
}

// parsePrecedence is the Pratt core: dispatch the prefix rule for the
// token just consumed, then fold infix rules while their precedence
// holds. canAssign flows into the prefix rule so assignment targets are
// only accepted where an assignment may start.
func (c *Compiler) parsePrecedence(prec Precedence) {
	c.advance()
	prefix := getRule(c.previous.Type).prefix
	if prefix == nil {
		c.error("Expect expression.")
		return
	}
	canAssign := prec <= PrecAssignment
	prefix(c, canAssign)

	for prec <= getRule(c.current.Type).precedence {
		c.advance()
		infix := getRule(c.previous.Type).infix
		infix(c, canAssign)
	}

	if canAssign && c.match(scanner.TokenEqual) {
		c.error("Invalid assignment target.")
	}
}

func (c *Compiler) grouping(bool) {
	c.expression()
	c.consume(scanner.TokenRightParen, "Expect ')' after expression.")
}

func (c *Compiler) number(bool) {
	v, _ := strconv.ParseFloat(c.previous.Lexeme, 64)
	c.emitConstant(bytecode.NumberValue(v))
}

func (c *Compiler) stringLiteral(bool) {
	lexeme := c.previous.Lexeme
	s := c.heap.NewString(lexeme[1 : len(lexeme)-1])
	c.emitConstant(bytecode.ObjValue(&s.ObjHeader))
}

func (c *Compiler) literal(bool) {
	switch c.previous.Type {
	case scanner.TokenFalse:
		c.emitOp(bytecode.OpFalse)
	case scanner.TokenTrue:
		c.emitOp(bytecode.OpTrue)
	case scanner.TokenNil:
		c.emitOp(bytecode.OpNil)
	}
}

func (c *Compiler) unary(bool) {
	op := c.previous.Type
	c.parsePrecedence(PrecUnary)
	switch op {
	case scanner.TokenMinus:
		c.emitOp(bytecode.OpNegate)
	case scanner.TokenBang:
		c.emitOp(bytecode.OpNot)
	}
}

func (c *Compiler) binary(bool) {
	op := c.previous.Type
	rule := getRule(op)
	c.parsePrecedence(rule.precedence + 1)

	switch op {
	case scanner.TokenPlus:
		c.emitOp(bytecode.OpAdd)
	case scanner.TokenMinus:
		c.emitOp(bytecode.OpSubtract)
	case scanner.TokenStar:
		c.emitOp(bytecode.OpMultiply)
	case scanner.TokenSlash:
		c.emitOp(bytecode.OpDivide)
	case scanner.TokenPercent:
		c.emitOp(bytecode.OpModulo)
	case scanner.TokenBangEqual:
		c.emitOps(bytecode.OpEqual, bytecode.OpNot)
	case scanner.TokenEqualEqual:
		c.emitOp(bytecode.OpEqual)
	case scanner.TokenGreater:
		c.emitOp(bytecode.OpGreater)
	case scanner.TokenGreaterEqual:
		c.emitOps(bytecode.OpLess, bytecode.OpNot)
	case scanner.TokenLess:
		c.emitOp(bytecode.OpLess)
	case scanner.TokenLessEqual:
		c.emitOps(bytecode.OpGreater, bytecode.OpNot)
	}
}

// power is right-associative, so the right operand parses at the same
// precedence rather than one above.
func (c *Compiler) power(bool) {
	c.parsePrecedence(PrecExponent)
	c.emitOp(bytecode.OpPower)
}

func (c *Compiler) and(bool) {
	endJump := c.emitJump(bytecode.OpJumpIfFalse)
	c.emitOp(bytecode.OpPop)
	c.parsePrecedence(PrecAnd)
	c.patchJump(endJump)
}

func (c *Compiler) or(bool) {
	elseJump := c.emitJump(bytecode.OpJumpIfFalse)
	endJump := c.emitJump(bytecode.OpJump)
	c.patchJump(elseJump)
	c.emitOp(bytecode.OpPop)
	c.parsePrecedence(PrecOr)
	c.patchJump(endJump)
}

// xor evaluates both operands, then branches on the right one: a truthy
// right operand negates the left, a falsy one leaves it as the result.
func (c *Compiler) xor(bool) {
	c.parsePrecedence(PrecXor)
	elseJump := c.emitJump(bytecode.OpJumpIfFalse)
	c.emitOp(bytecode.OpPop)
	c.emitOp(bytecode.OpNot)
	endJump := c.emitJump(bytecode.OpJump)
	c.patchJump(elseJump)
	c.emitOp(bytecode.OpPop)
	c.patchJump(endJump)
}

func (c *Compiler) call(bool) {
	argc := c.argumentList()
	c.emitOp(bytecode.OpCall)
	c.emitByte(argc)
}

func (c *Compiler) argumentList() byte {
	var argc byte
	if !c.check(scanner.TokenRightParen) {
		for {
			c.expression()
			if argc == 255 {
				c.error("Can't have more than 255 arguments.")
			}
			argc++
			if !c.match(scanner.TokenComma) {
				break
			}
		}
	}
	c.consume(scanner.TokenRightParen, "Expect ')' after arguments.")
	return argc
}

func (c *Compiler) dot(canAssign bool) {
	c.consume(scanner.TokenIdentifier, "Expect property name after '.'.")
	nameIdx := c.identifierConstant(c.previous)

	switch {
	case canAssign && c.match(scanner.TokenEqual):
		c.expression()
		c.emitIndexed(bytecode.OpSetProperty, bytecode.OpSetProperty16, nameIdx)
	case c.match(scanner.TokenLeftParen):
		argc := c.argumentList()
		c.emitIndexed(bytecode.OpInvoke, bytecode.OpInvoke16, nameIdx)
		c.emitByte(argc)
	default:
		c.emitIndexed(bytecode.OpGetProperty, bytecode.OpGetProperty16, nameIdx)
	}
}

func (c *Compiler) variable(canAssign bool) {
	c.namedVariable(c.previous, canAssign)
}

// variableOps is the resolved addressing of a named variable: which
// get/set opcode pair to use and the operand.
type variableOps struct {
	getNarrow, getWide bytecode.OpCode
	setNarrow, setWide bytecode.OpCode
	arg                int
}

func (c *Compiler) resolveVariable(name scanner.Token) variableOps {
	if arg := c.resolveLocal(c.res, name); arg != -1 {
		return variableOps{
			bytecode.OpGetLocal, bytecode.OpGetLocal16,
			bytecode.OpSetLocal, bytecode.OpSetLocal16, arg,
		}
	}
	if arg := c.resolveUpvalue(c.res, name); arg != -1 {
		return variableOps{
			bytecode.OpGetUpvalue, bytecode.OpGetUpvalue16,
			bytecode.OpSetUpvalue, bytecode.OpSetUpvalue16, arg,
		}
	}
	return variableOps{
		bytecode.OpGetGlobal, bytecode.OpGetGlobal16,
		bytecode.OpSetGlobal, bytecode.OpSetGlobal16,
		c.identifierConstant(name),
	}
}

func (ops variableOps) emitGet(c *Compiler) { c.emitIndexed(ops.getNarrow, ops.getWide, ops.arg) }
func (ops variableOps) emitSet(c *Compiler) { c.emitIndexed(ops.setNarrow, ops.setWide, ops.arg) }

func (c *Compiler) namedVariable(name scanner.Token, canAssign bool) {
	ops := c.resolveVariable(name)

	switch {
	case canAssign && c.match(scanner.TokenEqual):
		c.expression()
		ops.emitSet(c)
	case canAssign && c.matchCompound():
		op := compoundOp(c.previous.Type)
		ops.emitGet(c)
		c.expression()
		c.emitOp(op)
		ops.emitSet(c)
	case canAssign && (c.match(scanner.TokenPlusPlus) || c.match(scanner.TokenMinusMinus)):
		// postfix: leave the old value, store the stepped one
		op := bytecode.OpAdd
		if c.previous.Type == scanner.TokenMinusMinus {
			op = bytecode.OpSubtract
		}
		ops.emitGet(c)
		ops.emitGet(c)
		c.emitConstant(bytecode.NumberValue(1))
		c.emitOp(op)
		ops.emitSet(c)
		c.emitOp(bytecode.OpPop)
	default:
		ops.emitGet(c)
	}
}

func (c *Compiler) matchCompound() bool {
	switch c.current.Type {
	case scanner.TokenPlusEqual, scanner.TokenMinusEqual,
		scanner.TokenStarEqual, scanner.TokenSlashEqual,
		scanner.TokenPercentEqual:
		c.advance()
		return true
	}
	return false
}

func compoundOp(tt scanner.TokenType) bytecode.OpCode {
	switch tt {
	case scanner.TokenPlusEqual:
		return bytecode.OpAdd
	case scanner.TokenMinusEqual:
		return bytecode.OpSubtract
	case scanner.TokenStarEqual:
		return bytecode.OpMultiply
	case scanner.TokenSlashEqual:
		return bytecode.OpDivide
	default:
		return bytecode.OpModulo
	}
}

// prefixIncDec handles ++x and --x; the stepped value is the result.
func (c *Compiler) prefixIncDec(bool) {
	op := bytecode.OpAdd
	message := "Expect variable after '++'."
	if c.previous.Type == scanner.TokenMinusMinus {
		op = bytecode.OpSubtract
		message = "Expect variable after '--'."
	}
	c.consume(scanner.TokenIdentifier, message)
	ops := c.resolveVariable(c.previous)
	ops.emitGet(c)
	c.emitConstant(bytecode.NumberValue(1))
	c.emitOp(op)
	ops.emitSet(c)
}

func (c *Compiler) this(bool) {
	if c.class == nil {
		c.error("Can't use 'this' outside of a class.")
		return
	}
	c.variable(false)
}

func (c *Compiler) super(bool) {
	if c.class == nil {
		c.error("Can't use 'super' outside of a class.")
	} else if !c.class.hasSuperclass {
		c.error("Can't use 'super' in a class with no superclass.")
	}

	c.consume(scanner.TokenDot, "Expect '.' after 'super'.")
	c.consume(scanner.TokenIdentifier, "Expect superclass method name.")
	nameIdx := c.identifierConstant(c.previous)

	c.namedVariable(syntheticToken("this"), false)
	if c.match(scanner.TokenLeftParen) {
		argc := c.argumentList()
		c.namedVariable(syntheticToken("super"), false)
		c.emitIndexed(bytecode.OpInvokeSuper, bytecode.OpInvokeSuper16, nameIdx)
		c.emitByte(argc)
	} else {
		c.namedVariable(syntheticToken("super"), false)
		c.emitIndexed(bytecode.OpGetSuper, bytecode.OpGetSuper16, nameIdx)
	}
}

func syntheticToken(lexeme string) scanner.Token {
	return scanner.Token{Type: scanner.TokenIdentifier, Lexeme: lexeme}
}
