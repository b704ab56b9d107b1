package expr

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"
)

// 词法常量
const (
	tokenLParen   = "("
	tokenRParen   = ")"
	tokenLBracket = "["
	tokenRBracket = "]"
	tokenComma    = ","
	tokenPlus     = "+"
	tokenMinus    = "-"
	tokenMul      = "*"
	tokenDiv      = "/"
	tokenPow      = "^"
	indexNow      = "t"  // 当前时刻下标
	indexPrev     = "t0" // 上一时刻下标
)

// parser 递归下降解析器
type parser struct {
	src    string
	tokens []string
	pos    int
}

// Parse 解析文本表达式，如 "Vo[t] + 0.5*exp(Vi[t0])"
func Parse(s string) (Expr, error) {
	scanner := bufio.NewScanner(strings.NewReader(s))
	scanner.Split(SplitTokens)
	p := &parser{src: s}
	for scanner.Scan() {
		if token := scanner.Text(); strings.TrimSpace(token) != "" {
			p.tokens = append(p.tokens, token)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("表达式 %q 分词失败: %w", s, err)
	}
	if len(p.tokens) == 0 {
		return nil, fmt.Errorf("表达式为空")
	}
	e, err := p.sum()
	if err != nil {
		return nil, err
	}
	if p.pos < len(p.tokens) {
		return nil, p.errorf("多余的符号 %q", p.tokens[p.pos])
	}
	return e, nil
}

// MustParse 解析失败时 panic，用于测试和静态定义
func MustParse(s string) Expr {
	e, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return e
}

// MustParseList 解析列表，失败时 panic
func MustParseList(list ...string) []Expr {
	out, err := ParseList(list...)
	if err != nil {
		panic(err)
	}
	return out
}

// ParseList 依次解析表达式列表
func ParseList(list ...string) ([]Expr, error) {
	out := make([]Expr, len(list))
	for i, s := range list {
		e, err := Parse(s)
		if err != nil {
			return nil, err
		}
		out[i] = e
	}
	return out, nil
}

func (p *parser) errorf(format string, args ...any) error {
	return fmt.Errorf("表达式 %q 第 %d 个符号: %s", p.src, p.pos+1, fmt.Sprintf(format, args...))
}

func (p *parser) peek() string {
	if p.pos < len(p.tokens) {
		return p.tokens[p.pos]
	}
	return ""
}

func (p *parser) next() string {
	token := p.peek()
	p.pos++
	return token
}

func (p *parser) expect(token string) error {
	if got := p.next(); got != token {
		return p.errorf("需要 %q, 得到 %q", token, got)
	}
	return nil
}

// sum := product (('+'|'-') product)*
func (p *parser) sum() (Expr, error) {
	first, err := p.product()
	if err != nil {
		return nil, err
	}
	terms := Add{first}
	for {
		switch p.peek() {
		case tokenPlus:
			p.next()
			e, err := p.product()
			if err != nil {
				return nil, err
			}
			terms = append(terms, e)
		case tokenMinus:
			p.next()
			e, err := p.product()
			if err != nil {
				return nil, err
			}
			terms = append(terms, Neg(e))
		default:
			if len(terms) == 1 {
				return terms[0], nil
			}
			return terms, nil
		}
	}
}

// product := unary (('*'|'/') unary)*
func (p *parser) product() (Expr, error) {
	first, err := p.unary()
	if err != nil {
		return nil, err
	}
	factors := Mul{first}
	for {
		switch p.peek() {
		case tokenMul:
			p.next()
			e, err := p.unary()
			if err != nil {
				return nil, err
			}
			factors = append(factors, e)
		case tokenDiv:
			p.next()
			e, err := p.unary()
			if err != nil {
				return nil, err
			}
			factors = append(factors, Pow{e, Const(-1)})
		default:
			if len(factors) == 1 {
				return factors[0], nil
			}
			return factors, nil
		}
	}
}

// unary := '-' unary | power
func (p *parser) unary() (Expr, error) {
	switch p.peek() {
	case tokenMinus:
		p.next()
		e, err := p.unary()
		if err != nil {
			return nil, err
		}
		if c, ok := e.(Const); ok {
			return -c, nil
		}
		return Neg(e), nil
	case tokenPlus:
		p.next()
		return p.unary()
	}
	return p.power()
}

// power := primary ('^' unary)?
func (p *parser) power() (Expr, error) {
	base, err := p.primary()
	if err != nil {
		return nil, err
	}
	if p.peek() != tokenPow {
		return base, nil
	}
	p.next()
	exp, err := p.unary()
	if err != nil {
		return nil, err
	}
	return Pow{base, exp}, nil
}

// primary := number | name | name '[' index ']' | name '(' args ')' | '(' sum ')'
func (p *parser) primary() (Expr, error) {
	token := p.next()
	switch {
	case token == "":
		return nil, p.errorf("表达式意外结束")
	case token == tokenLParen:
		e, err := p.sum()
		if err != nil {
			return nil, err
		}
		return e, p.expect(tokenRParen)
	case isDigit(token[0]) || token[0] == '.':
		v, err := strconv.ParseFloat(token, 64)
		if err != nil {
			return nil, p.errorf("无效数值 %q", token)
		}
		return Const(v), nil
	case isNameStart(token[0]):
		switch p.peek() {
		case tokenLBracket:
			p.next()
			index := p.next()
			if err := p.expect(tokenRBracket); err != nil {
				return nil, err
			}
			switch index {
			case indexNow:
				return Var{Name: token}, nil
			case indexPrev:
				return Var{Name: token, Prev: true}, nil
			}
			return nil, p.errorf("变量 %s 的下标 %q 只能是 t 或 t0", token, index)
		case tokenLParen:
			p.next()
			call := Call{Func: token}
			if p.peek() == tokenRParen {
				p.next()
				return call, nil
			}
			for {
				arg, err := p.sum()
				if err != nil {
					return nil, err
				}
				call.Args = append(call.Args, arg)
				if p.peek() != tokenComma {
					break
				}
				p.next()
			}
			return call, p.expect(tokenRParen)
		}
		return Sym(token), nil
	}
	return nil, p.errorf("无法识别的符号 %q", token)
}

func isDigit(ch byte) bool { return ch >= '0' && ch <= '9' }

func isNameStart(ch byte) bool {
	return (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || ch == '_'
}

func isNamePart(ch byte) bool { return isNameStart(ch) || isDigit(ch) || ch == '.' }

// SplitTokens 表达式分词
func SplitTokens(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	i := 0
	for i < len(data) && (data[i] == ' ' || data[i] == '\t' || data[i] == '\n' || data[i] == '\r') {
		i++
	}
	if i > 0 {
		return i, data[:i], nil
	}
	switch c := data[0]; {
	case isDigit(c) || c == '.':
		for i < len(data) {
			c := data[i]
			if isDigit(c) || c == '.' {
				i++
				continue
			}
			// 科学计数法指数部分
			if (c == 'e' || c == 'E') && i+1 < len(data) {
				j := i + 1
				if data[j] == '+' || data[j] == '-' {
					j++
				}
				if j < len(data) && isDigit(data[j]) {
					i = j
					continue
				}
			}
			break
		}
	case isNameStart(c):
		for i < len(data) && isNamePart(data[i]) {
			i++
		}
	default:
		i = 1
	}
	if i == len(data) && !atEOF {
		// 可能被截断，请求更多数据
		return 0, nil, nil
	}
	return i, data[:i], nil
}
