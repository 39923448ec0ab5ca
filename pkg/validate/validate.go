// Package validate 用声明式模式校验识别文本并提取规范化的值
//
// 模式由字面锚点和类型占位符组成，如 "L:(number)H:(number)R:(number)"。
// 多个备选模式用逗号分隔，任一备选匹配即视为匹配。
//
// 支持的占位符：
//   - (number) 非负整数
//   - (signed) 可带 +/- 的整数
//   - (letter) 单个 ASCII 字母
//   - (text)   任意非空文本
//
// 字面锚点区分大小写；数字占位符内容允许常见的字形混淆（O→0、l→1 等）。
package validate

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ErrMalformedPattern 模式定义错误
var ErrMalformedPattern = errors.New("验证模式格式错误")

// Value 规范化后的提取值
type Value struct {
	// Text 替换混淆字形后的完整文本
	Text string `json:"text"`
	// Numbers 数字占位符按顺序提取的整数
	Numbers []int `json:"numbers,omitempty"`
}

type slot int

const (
	slotNumber slot = iota
	slotSigned
	slotLetter
	slotText
)

// 数字占位符允许的混淆字形
const confusable = "OoDIl|!ZzSsBGq"

var digitFor = map[rune]rune{
	'O': '0', 'o': '0', 'D': '0',
	'I': '1', 'l': '1', '|': '1', '!': '1',
	'Z': '2', 'z': '2',
	'S': '5', 's': '5',
	'G': '6',
	'B': '8',
	'q': '9',
}

var slots = map[string]struct {
	kind slot
	expr string
}{
	"number": {slotNumber, `([0-9` + regexp.QuoteMeta(confusable) + `]+)`},
	"signed": {slotSigned, `([+\-]?[0-9` + regexp.QuoteMeta(confusable) + `]+)`},
	"letter": {slotLetter, `([A-Za-z])`},
	"text":   {slotText, `(.+?)`},
}

var placeholderRe = regexp.MustCompile(`\(([a-z]+)\)`)

type alternative struct {
	re    *regexp.Regexp
	slots []slot
}

// Pattern 编译后的验证模式，nil 表示未配置模式
type Pattern struct {
	source   string
	alts     []alternative
	expected map[string]struct{}
}

// Compile 编译模式；expected 为可选的允许取值列表
// source 与 expected 都为空时返回 nil
func Compile(source string, expected ...string) (*Pattern, error) {
	source = strings.TrimSpace(source)
	p := &Pattern{source: source}

	for _, v := range expected {
		if v = strings.TrimSpace(v); v != "" {
			if p.expected == nil {
				p.expected = make(map[string]struct{})
			}
			p.expected[v] = struct{}{}
		}
	}

	if source == "" {
		if p.expected == nil {
			return nil, nil
		}
		return p, nil
	}

	for i, part := range strings.Split(source, ",") {
		alt, err := compileAlternative(part)
		if err != nil {
			return nil, fmt.Errorf("%w: 第 %d 个备选 %q: %v", ErrMalformedPattern, i+1, part, err)
		}
		p.alts = append(p.alts, alt)
	}
	return p, nil
}

func compileAlternative(part string) (alternative, error) {
	part = strings.TrimSpace(part)
	if part == "" {
		return alternative{}, errors.New("备选为空")
	}

	var (
		expr strings.Builder
		alt  alternative
		last int
	)
	expr.WriteString("^")
	for _, loc := range placeholderRe.FindAllStringSubmatchIndex(part, -1) {
		name := part[loc[2]:loc[3]]
		s, ok := slots[name]
		if !ok {
			return alternative{}, fmt.Errorf("未知占位符 (%s)", name)
		}
		expr.WriteString(regexp.QuoteMeta(part[last:loc[0]]))
		expr.WriteString(s.expr)
		alt.slots = append(alt.slots, s.kind)
		last = loc[1]
	}
	expr.WriteString(regexp.QuoteMeta(part[last:]))
	expr.WriteString("$")

	re, err := regexp.Compile(expr.String())
	if err != nil {
		return alternative{}, err
	}
	alt.re = re
	return alt, nil
}

// Source 原始模式字符串
func (p *Pattern) Source() string {
	if p == nil {
		return ""
	}
	return p.source
}

// Validate 校验文本，nil 模式下任何非空文本都视为匹配
func Validate(text string, p *Pattern) (bool, Value) {
	if p == nil {
		return trivial(text)
	}
	return p.Validate(text)
}

// Validate 校验文本并返回规范化值
func (p *Pattern) Validate(text string) (bool, Value) {
	if p == nil {
		return trivial(text)
	}

	for _, attempt := range fallbacks(text) {
		if len(p.alts) == 0 {
			if p.allowed(attempt) {
				ok, v := trivial(attempt)
				if ok {
					return true, v
				}
			}
			continue
		}
		for _, alt := range p.alts {
			v, ok := alt.match(attempt)
			if ok && p.allowed(v.Text) {
				return true, v
			}
		}
	}

	trimmed := strings.TrimSpace(text)
	return false, Value{Text: trimmed}
}

func (p *Pattern) allowed(text string) bool {
	if p.expected == nil {
		return true
	}
	_, ok := p.expected[text]
	return ok
}

func (a alternative) match(text string) (Value, bool) {
	idx := a.re.FindStringSubmatchIndex(text)
	if idx == nil {
		return Value{}, false
	}

	var (
		out  strings.Builder
		nums []int
		last int
	)
	for i, kind := range a.slots {
		start, end := idx[2*i+2], idx[2*i+3]
		group := text[start:end]
		out.WriteString(text[last:start])

		switch kind {
		case slotNumber, slotSigned:
			digits, ok := normalizeDigits(group)
			if !ok {
				return Value{}, false
			}
			n, err := strconv.Atoi(digits)
			if err != nil {
				return Value{}, false
			}
			nums = append(nums, n)
			out.WriteString(digits)
		default:
			out.WriteString(group)
		}
		last = end
	}
	out.WriteString(text[last:])

	return Value{Text: out.String(), Numbers: nums}, true
}

// normalizeDigits 将混淆字形替换为数字
// 多于一个字符时至少要有一个真正的数字，避免把纯字母单词当成数字
func normalizeDigits(s string) (string, bool) {
	var (
		b         strings.Builder
		realDigit bool
		count     int
	)
	for i, r := range s {
		switch {
		case i == 0 && (r == '+' || r == '-'):
			b.WriteRune(r)
			continue
		case r >= '0' && r <= '9':
			realDigit = true
			b.WriteRune(r)
		default:
			d, ok := digitFor[r]
			if !ok {
				return "", false
			}
			b.WriteRune(d)
		}
		count++
	}
	if count == 0 || (count > 1 && !realDigit) {
		return "", false
	}
	return b.String(), true
}

// fallbacks 按固定顺序生成替换后的候选文本
func fallbacks(text string) []string {
	trimmed := strings.TrimSpace(text)
	compact := strings.Join(strings.Fields(trimmed), "")
	colon := strings.NewReplacer(";", ":", ".", ":").Replace(compact)

	out := []string{trimmed}
	for _, s := range []string{compact, colon} {
		if s != out[len(out)-1] && s != out[0] {
			out = append(out, s)
		}
	}
	return out
}

func trivial(text string) (bool, Value) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false, Value{}
	}
	v := Value{Text: trimmed}
	if n, err := strconv.Atoi(trimmed); err == nil {
		v.Numbers = []int{n}
	}
	return true, v
}
