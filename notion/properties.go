package notion

import (
	"fmt"
	"strings"
)

// TitleOf finds the title property of a page and returns its plain
// text, or "Untitled" when the page has none.
func TitleOf(properties map[string]interface{}) string {
	for _, raw := range properties {
		prop, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		if propType, _ := prop["type"].(string); propType == "title" {
			if title := richText(prop["title"]); title != "" {
				return title
			}
		}
	}
	return "Untitled"
}

// Property returns the raw property object with the given name.
func Property(properties map[string]interface{}, name string) (map[string]interface{}, bool) {
	raw, ok := properties[name]
	if !ok {
		return nil, false
	}
	prop, ok := raw.(map[string]interface{})
	return prop, ok
}

// TextValue extracts the plain text of a title or rich_text property.
func TextValue(prop map[string]interface{}) (string, bool) {
	switch propType(prop) {
	case "title":
		return richText(prop["title"]), true
	case "rich_text":
		return richText(prop["rich_text"]), true
	case "url":
		s, ok := prop["url"].(string)
		return s, ok
	case "email":
		s, ok := prop["email"].(string)
		return s, ok
	}
	return "", false
}

// NumberValue extracts a number property.
func NumberValue(prop map[string]interface{}) (float64, bool) {
	n, ok := prop["number"].(float64)
	return n, ok
}

// SelectValue extracts the selected option name of a select property.
func SelectValue(prop map[string]interface{}) (string, bool) {
	sel, ok := prop["select"].(map[string]interface{})
	if !ok {
		return "", false
	}
	name, ok := sel["name"].(string)
	return name, ok
}

// MultiSelectValues extracts the option names of a multi_select
// property.
func MultiSelectValues(prop map[string]interface{}) ([]string, bool) {
	arr, ok := prop["multi_select"].([]interface{})
	if !ok {
		return nil, false
	}
	var values []string
	for _, item := range arr {
		if m, ok := item.(map[string]interface{}); ok {
			if name, ok := m["name"].(string); ok {
				values = append(values, name)
			}
		}
	}
	return values, true
}

// DateValue extracts the start (and optional end) of a date property
// as the API's ISO strings.
func DateValue(prop map[string]interface{}) (start, end string, ok bool) {
	d, ok := prop["date"].(map[string]interface{})
	if !ok {
		return "", "", false
	}
	start, _ = d["start"].(string)
	end, _ = d["end"].(string)
	return start, end, start != ""
}

// CheckboxValue extracts a checkbox property.
func CheckboxValue(prop map[string]interface{}) (bool, bool) {
	b, ok := prop["checkbox"].(bool)
	return b, ok
}

// DisplayValue renders any supported property as a human-readable
// string, used when echoing properties into document text.
func DisplayValue(prop map[string]interface{}) string {
	switch propType(prop) {
	case "title", "rich_text", "url", "email":
		s, _ := TextValue(prop)
		return s
	case "number":
		if n, ok := NumberValue(prop); ok {
			return fmt.Sprintf("%g", n)
		}
	case "select":
		s, _ := SelectValue(prop)
		return s
	case "multi_select":
		if values, ok := MultiSelectValues(prop); ok {
			return strings.Join(values, ", ")
		}
	case "date":
		start, end, ok := DateValue(prop)
		if !ok {
			return ""
		}
		if end != "" {
			return start + " to " + end
		}
		return start
	case "checkbox":
		if b, ok := CheckboxValue(prop); ok {
			return fmt.Sprintf("%v", b)
		}
	}
	return ""
}

func propType(prop map[string]interface{}) string {
	t, _ := prop["type"].(string)
	return t
}
