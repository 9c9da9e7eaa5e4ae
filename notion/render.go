package notion

import (
	"fmt"
	"strings"
	"unicode"
)

// RenderBlocks walks a block tree and produces the plain-text form of
// the page plus a list of multimedia references in document order.
func RenderBlocks(blocks []Block) (string, []MediaRef) {
	r := &renderer{}
	r.walk(blocks, 0)
	return strings.TrimRight(r.out.String(), "\n"), r.refs
}

type renderer struct {
	out      strings.Builder
	refs     []MediaRef
	position int
	numbered int
}

func (r *renderer) walk(blocks []Block, indent int) {
	for _, b := range blocks {
		r.render(b, indent)
		if len(b.Children) > 0 && b.Type != "table" {
			r.walk(b.Children, indent+1)
		}
	}
}

func (r *renderer) render(b Block, indent int) {
	if b.Type != "numbered_list_item" {
		r.numbered = 0
	}

	pad := strings.Repeat("  ", indent)
	text := richText(b.Content["rich_text"])

	switch b.Type {
	case "paragraph":
		if text != "" {
			r.line(pad + text)
			r.blank()
		}
	case "heading_1":
		r.line("# " + text)
		r.blank()
	case "heading_2":
		r.line("## " + text)
		r.blank()
	case "heading_3":
		r.line("### " + text)
		r.blank()
	case "bulleted_list_item":
		r.line(pad + "- " + text)
	case "numbered_list_item":
		r.numbered++
		r.line(fmt.Sprintf("%s%d. %s", pad, r.numbered, text))
	case "to_do":
		marker := "[ ]"
		if checked, ok := b.Content["checked"].(bool); ok && checked {
			marker = "[x]"
		}
		r.line(pad + "- " + marker + " " + text)
	case "toggle", "callout":
		if text != "" {
			r.line(pad + text)
		}
	case "quote":
		for _, ln := range strings.Split(text, "\n") {
			r.line(pad + "> " + ln)
		}
		r.blank()
	case "code":
		lang, _ := b.Content["language"].(string)
		r.line(pad + "```" + lang)
		r.line(text)
		r.line(pad + "```")
		r.blank()
	case "divider":
		r.line("---")
		r.blank()
	case "table":
		r.renderTable(b)
	case "table_row":
		// handled by renderTable
	case "bookmark", "link_preview", "embed":
		url, _ := b.Content["url"].(string)
		caption := richText(b.Content["caption"])
		if url != "" {
			if caption != "" {
				r.line(fmt.Sprintf("%s[Bookmark: %s](%s)", pad, caption, url))
			} else {
				r.line(fmt.Sprintf("%s[Bookmark](%s)", pad, url))
			}
			r.addRef("bookmark", url, caption)
			r.blank()
		}
	case "image", "video", "file", "pdf", "audio":
		url := fileURL(b.Content)
		caption := richText(b.Content["caption"])
		if url != "" {
			r.addRef(b.Type, url, caption)
			if caption != "" {
				r.line(fmt.Sprintf("%s[%s: %s]", pad, capitalize(b.Type), caption))
			} else {
				r.line(fmt.Sprintf("%s[%s]", pad, capitalize(b.Type)))
			}
			r.blank()
		}
	case "child_page":
		if title, ok := b.Content["title"].(string); ok && title != "" {
			r.line(pad + "[Subpage: " + title + "]")
			r.blank()
		}
	case "child_database":
		if title, ok := b.Content["title"].(string); ok && title != "" {
			r.line(pad + "[Database: " + title + "]")
			r.blank()
		}
	default:
		if text != "" {
			r.line(pad + text)
		}
	}
}

func (r *renderer) renderTable(b Block) {
	for i, row := range b.Children {
		if row.Type != "table_row" {
			continue
		}
		cellsRaw, ok := row.Content["cells"].([]interface{})
		if !ok {
			continue
		}
		cells := make([]string, 0, len(cellsRaw))
		for _, cell := range cellsRaw {
			cells = append(cells, richText(cell))
		}
		r.line("| " + strings.Join(cells, " | ") + " |")
		if i == 0 {
			seps := make([]string, len(cells))
			for j := range seps {
				seps[j] = "---"
			}
			r.line("| " + strings.Join(seps, " | ") + " |")
		}
	}
	r.blank()
}

func (r *renderer) line(s string) {
	r.out.WriteString(s)
	r.out.WriteString("\n")
	r.position++
}

func (r *renderer) blank() {
	r.out.WriteString("\n")
}

func (r *renderer) addRef(refType, url, caption string) {
	r.refs = append(r.refs, MediaRef{
		Type:     refType,
		URL:      url,
		Caption:  caption,
		Position: r.position,
	})
}

// capitalize upper-cases the first rune of a one-word block type for
// the rendered media label.
func capitalize(s string) string {
	if s == "" {
		return s
	}
	runes := []rune(s)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}

// richText flattens a rich_text array into its plain text.
func richText(v interface{}) string {
	arr, ok := v.([]interface{})
	if !ok {
		return ""
	}
	var sb strings.Builder
	for _, item := range arr {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		if plain, ok := m["plain_text"].(string); ok {
			sb.WriteString(plain)
		}
	}
	return sb.String()
}

// fileURL digs the URL out of a file-bearing block, which nests it
// under "file" (uploaded) or "external" (linked).
func fileURL(content map[string]interface{}) string {
	if f, ok := content["file"].(map[string]interface{}); ok {
		if url, ok := f["url"].(string); ok {
			return url
		}
	}
	if e, ok := content["external"].(map[string]interface{}); ok {
		if url, ok := e["url"].(string); ok {
			return url
		}
	}
	if url, ok := content["url"].(string); ok {
		return url
	}
	return ""
}
