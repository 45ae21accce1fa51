package service

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ReferencePattern 单号模板，形如 "BO-{ref:04d}"
// {ref} 占位符为递增序号，可带零填充宽度
type ReferencePattern struct {
	prefix string
	suffix string
	width  int
}

var refPlaceholder = regexp.MustCompile(`\{ref(?::0(\d+)d)?\}`)

// ParseReferencePattern 解析单号模板
func ParseReferencePattern(pattern string) (*ReferencePattern, error) {
	loc := refPlaceholder.FindStringSubmatchIndex(pattern)
	if loc == nil {
		return nil, fmt.Errorf("单号模板缺少 {ref} 占位符: %s", pattern)
	}
	p := &ReferencePattern{
		prefix: pattern[:loc[0]],
		suffix: pattern[loc[1]:],
	}
	if loc[2] >= 0 {
		width, err := strconv.Atoi(pattern[loc[2]:loc[3]])
		if err != nil {
			return nil, fmt.Errorf("单号模板宽度无效: %s", pattern)
		}
		p.width = width
	}
	return p, nil
}

// Format 按模板生成单号
func (p *ReferencePattern) Format(seq int64) string {
	if p.width > 0 {
		return fmt.Sprintf("%s%0*d%s", p.prefix, p.width, seq, p.suffix)
	}
	return fmt.Sprintf("%s%d%s", p.prefix, seq, p.suffix)
}

// Parse 从单号中提取序号，不匹配模板时返回 ok=false
func (p *ReferencePattern) Parse(reference string) (int64, bool) {
	if !strings.HasPrefix(reference, p.prefix) || !strings.HasSuffix(reference, p.suffix) {
		return 0, false
	}
	middle := reference[len(p.prefix) : len(reference)-len(p.suffix)]
	if middle == "" {
		return 0, false
	}
	seq, err := strconv.ParseInt(middle, 10, 64)
	if err != nil || seq < 0 {
		return 0, false
	}
	return seq, true
}

// Validate 校验单号是否符合模板
func (p *ReferencePattern) Validate(reference string) error {
	if _, ok := p.Parse(reference); !ok {
		return fmt.Errorf("单号不符合模板: %s", reference)
	}
	return nil
}
