// Package parser implements a recursive descent parser for SysY
package parser

import (
	"fmt"
	"strconv"

	"sysycc/pkg/lexer"
	"sysycc/pkg/sysy"
)

// Parser parses SysY source code into a sysy AST
type Parser struct {
	l         *lexer.Lexer
	curToken  lexer.Token
	peekToken lexer.Token
	errors    []string
}

// New creates a new Parser for the given lexer
func New(l *lexer.Lexer) *Parser {
	p := &Parser{l: l}
	// Read two tokens to initialize curToken and peekToken
	p.nextToken()
	p.nextToken()
	return p
}

func (p *Parser) nextToken() {
	p.curToken = p.peekToken
	p.peekToken = p.l.NextToken()
}

// Errors returns the list of parsing errors
func (p *Parser) Errors() []string {
	return p.errors
}

func (p *Parser) addError(msg string) {
	p.errors = append(p.errors, fmt.Sprintf("line %d, col %d: %s",
		p.curToken.Line, p.curToken.Column, msg))
}

func (p *Parser) curTokenIs(t lexer.TokenType) bool {
	return p.curToken.Type == t
}

func (p *Parser) peekTokenIs(t lexer.TokenType) bool {
	return p.peekToken.Type == t
}

func (p *Parser) expect(t lexer.TokenType) bool {
	if p.curTokenIs(t) {
		p.nextToken()
		return true
	}
	p.addError(fmt.Sprintf("expected %s, got %s", t, p.curToken.Type))
	return false
}

// ParseCompUnit parses a whole translation unit
func (p *Parser) ParseCompUnit() *sysy.CompUnit {
	cu := &sysy.CompUnit{}
	for !p.curTokenIs(lexer.TokenEOF) {
		decl := p.parseTopLevel()
		if decl == nil {
			// Error recovery: skip a token so we don't loop forever
			p.nextToken()
			continue
		}
		cu.Decls = append(cu.Decls, decl)
	}
	return cu
}

// parseTopLevel parses a declaration or function definition. Both start
// with an optional const, a base type and an identifier; a '(' after the
// identifier marks a function definition.
func (p *Parser) parseTopLevel() sysy.Decl {
	if p.curTokenIs(lexer.TokenConst) {
		return p.parseVarDecl()
	}

	if !p.isTypeSpecifier() {
		p.addError(fmt.Sprintf("expected declaration, got %s", p.curToken.Type))
		return nil
	}

	if p.peekTokenIs(lexer.TokenIdent) {
		// Look past the identifier by deciding on the token after it.
		// The lexer has no pushback, so isFuncAhead reads that token
		// from a scratch copy of the lexer.
		if p.isFuncAhead() {
			return p.parseFuncDef()
		}
	}
	return p.parseVarDecl()
}

// isFuncAhead reports whether the current "type ident" is followed by '('.
// curToken is the type and peekToken the identifier; a scratch copy of the
// lexer yields the token after the identifier without consuming state.
func (p *Parser) isFuncAhead() bool {
	scratch := *p.l
	after := scratch.NextToken()
	return after.Type == lexer.TokenLParen
}

func (p *Parser) isTypeSpecifier() bool {
	switch p.curToken.Type {
	case lexer.TokenInt, lexer.TokenFloat, lexer.TokenVoid:
		return true
	}
	return false
}

func (p *Parser) parseBType() (sysy.BType, bool) {
	switch p.curToken.Type {
	case lexer.TokenInt:
		p.nextToken()
		return sysy.BInt, true
	case lexer.TokenFloat:
		p.nextToken()
		return sysy.BFloat, true
	case lexer.TokenVoid:
		p.nextToken()
		return sysy.BVoid, true
	}
	p.addError(fmt.Sprintf("expected type specifier, got %s", p.curToken.Type))
	return sysy.BInt, false
}

// parseVarDecl parses "const? btype def (, def)* ;"
func (p *Parser) parseVarDecl() *sysy.VarDecl {
	decl := &sysy.VarDecl{Line: p.curToken.Line, Col: p.curToken.Column}
	if p.curTokenIs(lexer.TokenConst) {
		decl.Const = true
		p.nextToken()
	}

	btype, ok := p.parseBType()
	if !ok {
		return nil
	}
	if btype == sysy.BVoid {
		p.addError("variables cannot have void type")
		return nil
	}
	decl.Type = btype

	for {
		def := p.parseVarDef()
		if def == nil {
			return nil
		}
		decl.Items = append(decl.Items, def)
		if !p.curTokenIs(lexer.TokenComma) {
			break
		}
		p.nextToken()
	}

	if !p.expect(lexer.TokenSemicolon) {
		return nil
	}
	return decl
}

func (p *Parser) parseVarDef() *sysy.VarDef {
	if !p.curTokenIs(lexer.TokenIdent) {
		p.addError(fmt.Sprintf("expected identifier, got %s", p.curToken.Type))
		return nil
	}
	def := &sysy.VarDef{
		Name: p.curToken.Literal,
		Line: p.curToken.Line,
		Col:  p.curToken.Column,
	}
	p.nextToken()

	for p.curTokenIs(lexer.TokenLBracket) {
		p.nextToken()
		dim := p.parseExpr()
		if dim == nil {
			return nil
		}
		def.Dims = append(def.Dims, dim)
		if !p.expect(lexer.TokenRBracket) {
			return nil
		}
	}

	if p.curTokenIs(lexer.TokenAssign) {
		p.nextToken()
		def.Init = p.parseInitVal()
		if def.Init == nil {
			return nil
		}
	}
	return def
}

func (p *Parser) parseInitVal() sysy.InitVal {
	if !p.curTokenIs(lexer.TokenLBrace) {
		e := p.parseExpr()
		if e == nil {
			return nil
		}
		return &sysy.ExprInit{E: e}
	}

	p.nextToken() // consume '{'
	list := &sysy.ListInit{}
	if p.curTokenIs(lexer.TokenRBrace) {
		p.nextToken()
		return list
	}
	for {
		item := p.parseInitVal()
		if item == nil {
			return nil
		}
		list.Items = append(list.Items, item)
		if !p.curTokenIs(lexer.TokenComma) {
			break
		}
		p.nextToken()
	}
	if !p.expect(lexer.TokenRBrace) {
		return nil
	}
	return list
}

func (p *Parser) parseFuncDef() *sysy.FuncDef {
	fn := &sysy.FuncDef{Line: p.curToken.Line, Col: p.curToken.Column}

	ret, ok := p.parseBType()
	if !ok {
		return nil
	}
	fn.Ret = ret

	if !p.curTokenIs(lexer.TokenIdent) {
		p.addError(fmt.Sprintf("expected function name, got %s", p.curToken.Type))
		return nil
	}
	fn.Name = p.curToken.Literal
	p.nextToken()

	if !p.expect(lexer.TokenLParen) {
		return nil
	}
	if !p.curTokenIs(lexer.TokenRParen) {
		for {
			param := p.parseParam()
			if param == nil {
				return nil
			}
			fn.Params = append(fn.Params, param)
			if !p.curTokenIs(lexer.TokenComma) {
				break
			}
			p.nextToken()
		}
	}
	if !p.expect(lexer.TokenRParen) {
		return nil
	}

	if !p.curTokenIs(lexer.TokenLBrace) {
		p.addError(fmt.Sprintf("expected '{', got %s", p.curToken.Type))
		return nil
	}
	fn.Body = p.parseBlock()
	return fn
}

func (p *Parser) parseParam() *sysy.Param {
	param := &sysy.Param{Line: p.curToken.Line, Col: p.curToken.Column}

	btype, ok := p.parseBType()
	if !ok {
		return nil
	}
	if btype == sysy.BVoid {
		p.addError("parameters cannot have void type")
		return nil
	}
	param.Type = btype

	if !p.curTokenIs(lexer.TokenIdent) {
		p.addError(fmt.Sprintf("expected parameter name, got %s", p.curToken.Type))
		return nil
	}
	param.Name = p.curToken.Literal
	p.nextToken()

	if p.curTokenIs(lexer.TokenLBracket) {
		// First dimension is elided: ident[][dim]...
		p.nextToken()
		if !p.expect(lexer.TokenRBracket) {
			return nil
		}
		param.IsArray = true
		for p.curTokenIs(lexer.TokenLBracket) {
			p.nextToken()
			dim := p.parseExpr()
			if dim == nil {
				return nil
			}
			param.Dims = append(param.Dims, dim)
			if !p.expect(lexer.TokenRBracket) {
				return nil
			}
		}
	}
	return param
}

func (p *Parser) parseBlock() *sysy.Block {
	block := &sysy.Block{}

	p.nextToken() // consume '{'
	for !p.curTokenIs(lexer.TokenRBrace) && !p.curTokenIs(lexer.TokenEOF) {
		stmt := p.parseStatement()
		if stmt == nil {
			p.nextToken()
			continue
		}
		block.Items = append(block.Items, stmt)
	}
	p.nextToken() // consume '}'

	return block
}

func (p *Parser) parseStatement() sysy.Stmt {
	switch p.curToken.Type {
	case lexer.TokenConst, lexer.TokenInt, lexer.TokenFloat:
		decl := p.parseVarDecl()
		if decl == nil {
			return nil
		}
		return &sysy.DeclStmt{Decl: decl}
	case lexer.TokenLBrace:
		return p.parseBlock()
	case lexer.TokenIf:
		return p.parseIf()
	case lexer.TokenWhile:
		return p.parseWhile()
	case lexer.TokenBreak:
		stmt := &sysy.Break{Line: p.curToken.Line, Col: p.curToken.Column}
		p.nextToken()
		if !p.expect(lexer.TokenSemicolon) {
			return nil
		}
		return stmt
	case lexer.TokenContinue:
		stmt := &sysy.Continue{Line: p.curToken.Line, Col: p.curToken.Column}
		p.nextToken()
		if !p.expect(lexer.TokenSemicolon) {
			return nil
		}
		return stmt
	case lexer.TokenReturn:
		return p.parseReturn()
	case lexer.TokenSemicolon:
		p.nextToken()
		return &sysy.Empty{}
	default:
		return p.parseExprOrAssign()
	}
}

func (p *Parser) parseIf() sysy.Stmt {
	p.nextToken() // consume 'if'
	if !p.expect(lexer.TokenLParen) {
		return nil
	}
	cond := p.parseExpr()
	if cond == nil {
		return nil
	}
	if !p.expect(lexer.TokenRParen) {
		return nil
	}
	then := p.parseStatement()
	if then == nil {
		return nil
	}
	stmt := &sysy.If{Cond: cond, Then: then}
	if p.curTokenIs(lexer.TokenElse) {
		p.nextToken()
		stmt.Else = p.parseStatement()
		if stmt.Else == nil {
			return nil
		}
	}
	return stmt
}

func (p *Parser) parseWhile() sysy.Stmt {
	p.nextToken() // consume 'while'
	if !p.expect(lexer.TokenLParen) {
		return nil
	}
	cond := p.parseExpr()
	if cond == nil {
		return nil
	}
	if !p.expect(lexer.TokenRParen) {
		return nil
	}
	body := p.parseStatement()
	if body == nil {
		return nil
	}
	return &sysy.While{Cond: cond, Body: body}
}

func (p *Parser) parseReturn() sysy.Stmt {
	stmt := &sysy.Return{Line: p.curToken.Line, Col: p.curToken.Column}
	p.nextToken() // consume 'return'
	if !p.curTokenIs(lexer.TokenSemicolon) {
		stmt.Value = p.parseExpr()
		if stmt.Value == nil {
			return nil
		}
	}
	if !p.expect(lexer.TokenSemicolon) {
		return nil
	}
	return stmt
}

// parseExprOrAssign parses either an assignment or an expression statement.
// An assignment starts with an lvalue followed by '='.
func (p *Parser) parseExprOrAssign() sysy.Stmt {
	e := p.parseExpr()
	if e == nil {
		return nil
	}

	if p.curTokenIs(lexer.TokenAssign) {
		lv, ok := e.(*sysy.LVal)
		if !ok {
			p.addError("left side of assignment is not an lvalue")
			return nil
		}
		p.nextToken()
		rhs := p.parseExpr()
		if rhs == nil {
			return nil
		}
		if !p.expect(lexer.TokenSemicolon) {
			return nil
		}
		return &sysy.Assign{LHS: lv, RHS: rhs}
	}

	if !p.expect(lexer.TokenSemicolon) {
		return nil
	}
	return &sysy.ExprStmt{E: e}
}

// Expression grammar, lowest precedence first:
//   lor  := land ('||' land)*
//   land := eq ('&&' eq)*
//   eq   := rel (('=='|'!=') rel)*
//   rel  := add (('<'|'>'|'<='|'>=') add)*
//   add  := mul (('+'|'-') mul)*
//   mul  := unary (('*'|'/'|'%') unary)*

// parseExpr parses a full expression
func (p *Parser) parseExpr() sysy.Expr {
	return p.parseLOr()
}

func (p *Parser) parseLOr() sysy.Expr {
	left := p.parseLAnd()
	for left != nil && p.curTokenIs(lexer.TokenOr) {
		p.nextToken()
		right := p.parseLAnd()
		if right == nil {
			return nil
		}
		left = &sysy.Binary{Op: sysy.OpLOr, X: left, Y: right}
	}
	return left
}

func (p *Parser) parseLAnd() sysy.Expr {
	left := p.parseEq()
	for left != nil && p.curTokenIs(lexer.TokenAnd) {
		p.nextToken()
		right := p.parseEq()
		if right == nil {
			return nil
		}
		left = &sysy.Binary{Op: sysy.OpLAnd, X: left, Y: right}
	}
	return left
}

func (p *Parser) parseEq() sysy.Expr {
	left := p.parseRel()
	for left != nil && (p.curTokenIs(lexer.TokenEq) || p.curTokenIs(lexer.TokenNe)) {
		op := sysy.OpEq
		if p.curTokenIs(lexer.TokenNe) {
			op = sysy.OpNe
		}
		p.nextToken()
		right := p.parseRel()
		if right == nil {
			return nil
		}
		left = &sysy.Binary{Op: op, X: left, Y: right}
	}
	return left
}

func (p *Parser) parseRel() sysy.Expr {
	left := p.parseAdd()
	for left != nil {
		var op sysy.BinOp
		switch p.curToken.Type {
		case lexer.TokenLt:
			op = sysy.OpLt
		case lexer.TokenGt:
			op = sysy.OpGt
		case lexer.TokenLe:
			op = sysy.OpLe
		case lexer.TokenGe:
			op = sysy.OpGe
		default:
			return left
		}
		p.nextToken()
		right := p.parseAdd()
		if right == nil {
			return nil
		}
		left = &sysy.Binary{Op: op, X: left, Y: right}
	}
	return left
}

func (p *Parser) parseAdd() sysy.Expr {
	left := p.parseMul()
	for left != nil && (p.curTokenIs(lexer.TokenPlus) || p.curTokenIs(lexer.TokenMinus)) {
		op := sysy.OpAdd
		if p.curTokenIs(lexer.TokenMinus) {
			op = sysy.OpSub
		}
		p.nextToken()
		right := p.parseMul()
		if right == nil {
			return nil
		}
		left = &sysy.Binary{Op: op, X: left, Y: right}
	}
	return left
}

func (p *Parser) parseMul() sysy.Expr {
	left := p.parseUnary()
	for left != nil {
		var op sysy.BinOp
		switch p.curToken.Type {
		case lexer.TokenStar:
			op = sysy.OpMul
		case lexer.TokenSlash:
			op = sysy.OpDiv
		case lexer.TokenPercent:
			op = sysy.OpRem
		default:
			return left
		}
		p.nextToken()
		right := p.parseUnary()
		if right == nil {
			return nil
		}
		left = &sysy.Binary{Op: op, X: left, Y: right}
	}
	return left
}

func (p *Parser) parseUnary() sysy.Expr {
	switch p.curToken.Type {
	case lexer.TokenPlus:
		p.nextToken()
		x := p.parseUnary()
		if x == nil {
			return nil
		}
		return &sysy.Unary{Op: sysy.OpPos, X: x}
	case lexer.TokenMinus:
		p.nextToken()
		x := p.parseUnary()
		if x == nil {
			return nil
		}
		return &sysy.Unary{Op: sysy.OpNeg, X: x}
	case lexer.TokenNot:
		p.nextToken()
		x := p.parseUnary()
		if x == nil {
			return nil
		}
		return &sysy.Unary{Op: sysy.OpLNot, X: x}
	}
	return p.parsePrimary()
}

func (p *Parser) parsePrimary() sysy.Expr {
	switch p.curToken.Type {
	case lexer.TokenLParen:
		p.nextToken()
		e := p.parseExpr()
		if e == nil {
			return nil
		}
		if !p.expect(lexer.TokenRParen) {
			return nil
		}
		return e
	case lexer.TokenIntLit:
		lit := &sysy.IntLit{Line: p.curToken.Line, Col: p.curToken.Column}
		// base 0 handles decimal, octal (leading 0) and hex (0x)
		v, err := strconv.ParseInt(p.curToken.Literal, 0, 64)
		if err != nil {
			// Out-of-range literals wrap like the target's 32-bit ints
			u, uerr := strconv.ParseUint(p.curToken.Literal, 0, 64)
			if uerr != nil {
				p.addError(fmt.Sprintf("invalid integer literal %q", p.curToken.Literal))
				return nil
			}
			v = int64(u)
		}
		lit.Value = v
		p.nextToken()
		return lit
	case lexer.TokenFloatLit:
		lit := &sysy.FloatLit{Line: p.curToken.Line, Col: p.curToken.Column}
		v, err := strconv.ParseFloat(p.curToken.Literal, 64)
		if err != nil {
			p.addError(fmt.Sprintf("invalid float literal %q", p.curToken.Literal))
			return nil
		}
		lit.Value = v
		p.nextToken()
		return lit
	case lexer.TokenIdent:
		name := p.curToken.Literal
		line, col := p.curToken.Line, p.curToken.Column
		if p.peekTokenIs(lexer.TokenLParen) {
			p.nextToken() // move to '('
			p.nextToken() // consume '('
			call := &sysy.Call{Name: name, Line: line, Col: col}
			if !p.curTokenIs(lexer.TokenRParen) {
				for {
					arg := p.parseExpr()
					if arg == nil {
						return nil
					}
					call.Args = append(call.Args, arg)
					if !p.curTokenIs(lexer.TokenComma) {
						break
					}
					p.nextToken()
				}
			}
			if !p.expect(lexer.TokenRParen) {
				return nil
			}
			return call
		}

		lv := &sysy.LVal{Name: name, Line: line, Col: col}
		p.nextToken()
		for p.curTokenIs(lexer.TokenLBracket) {
			p.nextToken()
			idx := p.parseExpr()
			if idx == nil {
				return nil
			}
			lv.Indices = append(lv.Indices, idx)
			if !p.expect(lexer.TokenRBracket) {
				return nil
			}
		}
		return lv
	}
	p.addError(fmt.Sprintf("unexpected token in expression: %s", p.curToken.Type))
	return nil
}
