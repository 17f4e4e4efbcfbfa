package extract

import (
	"regexp"
	"strings"
)

var listItemRe = regexp.MustCompile(`^\s*(?:[-*•]|\d+[.)])\s+(.+)$`)

// StripFences 去掉模型常加的 ``` 代码块包裹
func StripFences(text string) string {
	s := strings.TrimSpace(text)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```markdown")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// ListItems 解析无序或有序列表项，去掉 markdown 加粗标记
func ListItems(text string) []string {
	var items []string
	for _, line := range strings.Split(StripFences(text), "\n") {
		m := listItemRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		item := strings.TrimSpace(strings.ReplaceAll(m[1], "**", ""))
		if item != "" {
			items = append(items, item)
		}
	}
	return items
}

// Labeled 读取 "Label: value" 形式的字段，忽略大小写，没有时返回空串
func Labeled(text, label string) string {
	prefix := strings.ToLower(label) + ":"
	for _, line := range strings.Split(text, "\n") {
		l := strings.TrimSpace(strings.ReplaceAll(line, "**", ""))
		if strings.HasPrefix(strings.ToLower(l), prefix) {
			return strings.TrimSpace(l[len(prefix):])
		}
	}
	return ""
}
