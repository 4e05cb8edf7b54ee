package query

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/reedbase/reedbase/pkg/reederr"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokNumber
	tokString
	tokPunct
)

type token struct {
	kind   tokenKind
	text   string
	offset int
}

// lex splits sql into tokens, tracking each token's byte offset for
// ParseError reporting.
func lex(sql string) ([]token, error) {
	var toks []token
	i := 0
	n := len(sql)
	for i < n {
		c := sql[i]
		switch {
		case unicode.IsSpace(rune(c)):
			i++
		case c == '\'':
			start := i
			i++
			var b strings.Builder
			closed := false
			for i < n {
				if sql[i] == '\'' {
					if i+1 < n && sql[i+1] == '\'' {
						b.WriteByte('\'')
						i += 2
						continue
					}
					i++
					closed = true
					break
				}
				b.WriteByte(sql[i])
				i++
			}
			if !closed {
				return nil, newParseError(start, "unterminated string literal")
			}
			toks = append(toks, token{kind: tokString, text: b.String(), offset: start})
		case isIdentStart(c):
			start := i
			for i < n && isIdentPart(sql[i]) {
				i++
			}
			toks = append(toks, token{kind: tokIdent, text: sql[start:i], offset: start})
		case c >= '0' && c <= '9':
			start := i
			for i < n && (sql[i] >= '0' && sql[i] <= '9' || sql[i] == '.') {
				i++
			}
			toks = append(toks, token{kind: tokNumber, text: sql[start:i], offset: start})
		case c == '<' || c == '>' || c == '!':
			start := i
			i++
			if i < n && sql[i] == '=' {
				i++
			}
			toks = append(toks, token{kind: tokPunct, text: sql[start:i], offset: start})
		default:
			toks = append(toks, token{kind: tokPunct, text: string(c), offset: i})
			i++
		}
	}
	toks = append(toks, token{kind: tokEOF, text: "", offset: n})
	return toks, nil
}

func isIdentStart(c byte) bool {
	return c == '_' || c == '*' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9') || c == '.'
}

func newParseError(offset int, hint string) error {
	return reederr.New(reederr.KindParseError, "failed to parse query").WithHint(hint).WithOffset(offset)
}

// parser is a small recursive-descent parser over the token stream.
type parser struct {
	toks []token
	pos  int
}

// Parse parses one SQL-subset statement. Trailing garbage after a
// complete, recognised statement is rejected.
func Parse(sql string) (Statement, error) {
	toks, err := lex(sql)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}

	kw := strings.ToUpper(p.peekText())
	var stmt Statement
	switch kw {
	case "SELECT":
		stmt, err = p.parseSelect()
	case "INSERT":
		stmt, err = p.parseInsert()
	case "UPDATE":
		stmt, err = p.parseUpdate()
	case "DELETE":
		stmt, err = p.parseDelete()
	default:
		return nil, newParseError(p.cur().offset, "expected SELECT, INSERT, UPDATE, or DELETE")
	}
	if err != nil {
		return nil, err
	}
	if p.cur().kind != tokEOF {
		return nil, newParseError(p.cur().offset, "unexpected trailing input")
	}
	return stmt, nil
}

func (p *parser) cur() token  { return p.toks[p.pos] }
func (p *parser) advance() token {
	t := p.toks[p.pos]
	if p.pos < len(p.toks)-1 {
		p.pos++
	}
	return t
}
func (p *parser) peekText() string { return p.cur().text }

func (p *parser) expectKeyword(kw string) error {
	if !strings.EqualFold(p.cur().text, kw) {
		return newParseError(p.cur().offset, "did you mean \""+kw+"\"?")
	}
	p.advance()
	return nil
}

func (p *parser) expectPunct(s string) error {
	if p.cur().text != s {
		return newParseError(p.cur().offset, "expected \""+s+"\"")
	}
	p.advance()
	return nil
}

func (p *parser) parseIdent() (string, error) {
	if p.cur().kind != tokIdent {
		return "", newParseError(p.cur().offset, "expected an identifier")
	}
	return p.advance().text, nil
}

func (p *parser) parseSelect() (Statement, error) {
	p.advance() // SELECT
	stmt := SelectStmt{}

	for {
		if agg, ok, err := p.tryParseAggregate(); err != nil {
			return nil, err
		} else if ok {
			stmt.Aggregates = append(stmt.Aggregates, agg)
		} else if p.cur().text == "*" {
			p.advance()
			stmt.Columns = nil
		} else {
			col, err := p.parseIdent()
			if err != nil {
				return nil, err
			}
			stmt.Columns = append(stmt.Columns, col)
		}
		if p.cur().text == "," {
			p.advance()
			continue
		}
		break
	}

	if err := p.expectKeyword("FROM"); err != nil {
		return nil, err
	}
	table, err := p.parseIdent()
	if err != nil {
		return nil, err
	}
	stmt.Table = table

	if strings.EqualFold(p.cur().text, "WHERE") {
		p.advance()
		conds, err := p.parseConditions()
		if err != nil {
			return nil, err
		}
		stmt.Where = conds
	}

	if strings.EqualFold(p.cur().text, "ORDER") {
		p.advance()
		if err := p.expectKeyword("BY"); err != nil {
			return nil, err
		}
		for {
			col, err := p.parseIdent()
			if err != nil {
				return nil, err
			}
			desc := false
			if strings.EqualFold(p.cur().text, "ASC") {
				p.advance()
			} else if strings.EqualFold(p.cur().text, "DESC") {
				desc = true
				p.advance()
			}
			stmt.OrderBy = append(stmt.OrderBy, OrderTerm{Column: col, Desc: desc})
			if p.cur().text == "," {
				p.advance()
				continue
			}
			break
		}
	}

	if strings.EqualFold(p.cur().text, "LIMIT") {
		p.advance()
		n, err := p.parseInt()
		if err != nil {
			return nil, err
		}
		stmt.Limit = n
		stmt.HasLimit = true
		if strings.EqualFold(p.cur().text, "OFFSET") {
			p.advance()
			m, err := p.parseInt()
			if err != nil {
				return nil, err
			}
			stmt.Offset = m
		}
	}

	return stmt, nil
}

func (p *parser) tryParseAggregate() (Aggregate, bool, error) {
	name := strings.ToLower(p.cur().text)
	switch name {
	case "count", "sum", "avg", "min", "max":
	default:
		return Aggregate{}, false, nil
	}
	save := p.pos
	p.advance()
	if p.cur().text != "(" {
		p.pos = save
		return Aggregate{}, false, nil
	}
	p.advance()
	agg := Aggregate{Func: name}
	if p.cur().text == "*" {
		agg.Star = true
		p.advance()
	} else {
		col, err := p.parseIdent()
		if err != nil {
			return Aggregate{}, false, err
		}
		agg.Column = col
	}
	if err := p.expectPunct(")"); err != nil {
		return Aggregate{}, false, err
	}
	return agg, true, nil
}

func (p *parser) parseConditions() ([]Condition, error) {
	var conds []Condition
	for {
		cond, err := p.parseCondition()
		if err != nil {
			return nil, err
		}
		conds = append(conds, cond)
		if strings.EqualFold(p.cur().text, "AND") {
			p.advance()
			continue
		}
		break
	}
	return conds, nil
}

func (p *parser) parseCondition() (Condition, error) {
	col, err := p.parseIdent()
	if err != nil {
		return Condition{}, err
	}

	if strings.EqualFold(p.cur().text, "LIKE") {
		p.advance()
		val, err := p.parseLiteral()
		if err != nil {
			return Condition{}, err
		}
		return Condition{Column: col, Op: OpLike, Value: val}, nil
	}
	if strings.EqualFold(p.cur().text, "IN") {
		p.advance()
		if err := p.expectPunct("("); err != nil {
			return Condition{}, err
		}
		var vals []string
		for {
			v, err := p.parseLiteral()
			if err != nil {
				return Condition{}, err
			}
			vals = append(vals, v)
			if p.cur().text == "," {
				p.advance()
				continue
			}
			break
		}
		if err := p.expectPunct(")"); err != nil {
			return Condition{}, err
		}
		return Condition{Column: col, Op: OpIn, Values: vals}, nil
	}

	op, err := p.parseOp()
	if err != nil {
		return Condition{}, err
	}
	val, err := p.parseLiteral()
	if err != nil {
		return Condition{}, err
	}
	return Condition{Column: col, Op: op, Value: val}, nil
}

func (p *parser) parseOp() (Op, error) {
	t := p.cur()
	switch t.text {
	case "=":
		p.advance()
		return OpEq, nil
	case "!=", "<>":
		p.advance()
		return OpNeq, nil
	case "<":
		p.advance()
		return OpLt, nil
	case ">":
		p.advance()
		return OpGt, nil
	case "<=":
		p.advance()
		return OpLte, nil
	case ">=":
		p.advance()
		return OpGte, nil
	default:
		return 0, newParseError(t.offset, "expected a comparison operator (= < > <= >= !=)")
	}
}

func (p *parser) parseLiteral() (string, error) {
	t := p.cur()
	switch t.kind {
	case tokString, tokNumber:
		p.advance()
		return t.text, nil
	default:
		return "", newParseError(t.offset, "expected a literal value")
	}
}

func (p *parser) parseInt() (int, error) {
	t := p.cur()
	if t.kind != tokNumber {
		return 0, newParseError(t.offset, "expected an integer")
	}
	p.advance()
	n, err := strconv.Atoi(t.text)
	if err != nil {
		return 0, newParseError(t.offset, "invalid integer literal")
	}
	return n, nil
}

func (p *parser) parseInsert() (Statement, error) {
	p.advance() // INSERT
	if err := p.expectKeyword("INTO"); err != nil {
		return nil, err
	}
	table, err := p.parseIdent()
	if err != nil {
		return nil, err
	}
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	var cols []string
	for {
		c, err := p.parseIdent()
		if err != nil {
			return nil, err
		}
		cols = append(cols, c)
		if p.cur().text == "," {
			p.advance()
			continue
		}
		break
	}
	if err := p.expectPunct(")"); err != nil {
		return nil, err
	}
	if err := p.expectKeyword("VALUES"); err != nil {
		return nil, err
	}
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	var vals []string
	for {
		v, err := p.parseLiteral()
		if err != nil {
			return nil, err
		}
		vals = append(vals, v)
		if p.cur().text == "," {
			p.advance()
			continue
		}
		break
	}
	if err := p.expectPunct(")"); err != nil {
		return nil, err
	}
	if len(cols) != len(vals) {
		return nil, newParseError(p.cur().offset, "column count does not match value count")
	}
	return InsertStmt{Table: table, Columns: cols, Values: vals}, nil
}

func (p *parser) parseUpdate() (Statement, error) {
	p.advance() // UPDATE
	table, err := p.parseIdent()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("SET"); err != nil {
		return nil, err
	}
	stmt := UpdateStmt{Table: table, Set: map[string]string{}}
	for {
		col, err := p.parseIdent()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct("="); err != nil {
			return nil, err
		}
		val, err := p.parseLiteral()
		if err != nil {
			return nil, err
		}
		stmt.Set[col] = val
		stmt.SetCol = append(stmt.SetCol, col)
		if p.cur().text == "," {
			p.advance()
			continue
		}
		break
	}
	if strings.EqualFold(p.cur().text, "WHERE") {
		p.advance()
		conds, err := p.parseConditions()
		if err != nil {
			return nil, err
		}
		stmt.Where = conds
	}
	return stmt, nil
}

func (p *parser) parseDelete() (Statement, error) {
	p.advance() // DELETE
	if err := p.expectKeyword("FROM"); err != nil {
		return nil, err
	}
	table, err := p.parseIdent()
	if err != nil {
		return nil, err
	}
	stmt := DeleteStmt{Table: table}
	if strings.EqualFold(p.cur().text, "WHERE") {
		p.advance()
		conds, err := p.parseConditions()
		if err != nil {
			return nil, err
		}
		stmt.Where = conds
	}
	return stmt, nil
}
