package formatter

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tjfontaine/console-bridge/internal/core/domain"
)

// renderer turns serialized values into text.
type renderer struct {
	pal *palette
}

func (r renderer) message(args []domain.Value) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = r.arg(a)
	}
	return strings.Join(parts, " ")
}

// arg renders a top-level console argument with colour.
func (r renderer) arg(v domain.Value) string {
	switch v.Type {
	case domain.TypeString:
		return stringText(v)
	case domain.TypeNumber, domain.TypeBoolean:
		return r.pal.yellow.Sprint(plain(v))
	case domain.TypeNull, domain.TypeUndefined, domain.TypeMaxDepth:
		return r.pal.gray.Sprint(plain(v))
	case domain.TypeDate:
		return r.pal.magenta.Sprint(plain(v))
	case domain.TypeRegExp:
		return r.pal.red.Sprint(plain(v))
	case domain.TypeError:
		out := r.pal.red.Sprint(plain(v))
		if v.Stack != "" {
			out += "\n" + r.pal.gray.Sprint(v.Stack)
		}
		return out
	case domain.TypeArray, domain.TypeObject, domain.TypeMap, domain.TypeSet:
		return pretty(v, 0)
	case domain.TypeUnknown:
		return v.Text
	default:
		return r.pal.cyan.Sprint(plain(v))
	}
}

// plain renders v on one line without colour.
func plain(v domain.Value) string {
	switch v.Type {
	case domain.TypeNull:
		return "null"
	case domain.TypeUndefined, "":
		return "undefined"
	case domain.TypeString:
		return stringText(v)
	case domain.TypeNumber:
		return v.NumberText()
	case domain.TypeBoolean:
		return strconv.FormatBool(v.Bool)
	case domain.TypeFunction:
		if v.Name == "" {
			return "[Function (anonymous)]"
		}
		return "[Function: " + v.Name + "]"
	case domain.TypeError:
		name := v.Name
		if name == "" {
			name = "Error"
		}
		if v.Text == "" {
			return name
		}
		return name + ": " + v.Text
	case domain.TypeCircular:
		if v.Path != "" {
			return "[Circular: " + v.Path + "]"
		}
		return v.Text
	case domain.TypeMaxDepth:
		if v.Text == "" {
			return "[Object]"
		}
		return v.Text
	case domain.TypeDOM:
		return element(v)
	case domain.TypeArrayBuffer:
		return fmt.Sprintf("ArrayBuffer { byteLength: %d }", v.ByteLength)
	case domain.TypeDataView:
		return fmt.Sprintf("DataView { byteLength: %d }", v.ByteLength)
	case domain.TypeTypedArray:
		kind := v.Kind
		if kind == "" {
			kind = "TypedArray"
		}
		return fmt.Sprintf("%s(%d)", kind, v.Length)
	case domain.TypePromise:
		return "Promise {}"
	case domain.TypeWeakMap:
		return "WeakMap { <items unknown> }"
	case domain.TypeWeakSet:
		return "WeakSet { <items unknown> }"
	case domain.TypeArray, domain.TypeObject, domain.TypeMap, domain.TypeSet:
		return compact(v)
	default:
		return v.Text
	}
}

func stringText(v domain.Value) string {
	if v.Truncated && v.OriginalLength > 0 {
		more := v.OriginalLength - len([]rune(v.Text))
		return v.Text + fmt.Sprintf("... [%d more characters]", more)
	}
	return v.Text
}

func element(v domain.Value) string {
	var b strings.Builder
	b.WriteString("<")
	b.WriteString(v.TagName)
	if v.ID != "" {
		b.WriteString("#" + v.ID)
	}
	for _, cls := range strings.Fields(v.ClassName) {
		b.WriteString("." + cls)
	}
	b.WriteString(">")
	return b.String()
}

// pretty renders containers over several lines with two-space indentation.
func pretty(v domain.Value, level int) string {
	pad := strings.Repeat("  ", level+1)
	closing := strings.Repeat("  ", level)

	block := func(start, end string, lines []string) string {
		if len(lines) == 0 {
			return start + end
		}
		return start + "\n" + pad + strings.Join(lines, ",\n"+pad) + "\n" + closing + end
	}

	switch v.Type {
	case domain.TypeArray:
		lines := make([]string, 0, len(v.Items)+1)
		for _, item := range v.Items {
			lines = append(lines, pretty(item, level+1))
		}
		if v.Truncated && v.TotalLength > len(v.Items) {
			lines = append(lines, fmt.Sprintf("... %d more items", v.TotalLength-len(v.Items)))
		}
		return block("[", "]", lines)
	case domain.TypeObject:
		if v.Fields == nil && v.Text != "" {
			return v.Text
		}
		lines := make([]string, 0, len(v.Fields)+1)
		for _, f := range v.Fields {
			lines = append(lines, strconv.Quote(f.Key)+": "+pretty(f.Value, level+1))
		}
		if v.Truncated && v.TotalKeys > len(v.Fields) {
			lines = append(lines, fmt.Sprintf("... %d more keys", v.TotalKeys-len(v.Fields)))
		}
		return block(classPrefix(v)+"{", "}", lines)
	case domain.TypeMap:
		lines := make([]string, 0, len(v.Entries)+1)
		for _, e := range v.Entries {
			lines = append(lines, pretty(e.Key, level+1)+" => "+pretty(e.Value, level+1))
		}
		if v.Truncated && v.Size > len(v.Entries) {
			lines = append(lines, fmt.Sprintf("... %d more entries", v.Size-len(v.Entries)))
		}
		return block(fmt.Sprintf("Map(%d) {", v.Size), "}", lines)
	case domain.TypeSet:
		lines := make([]string, 0, len(v.Values)+1)
		for _, item := range v.Values {
			lines = append(lines, pretty(item, level+1))
		}
		if v.Truncated && v.Size > len(v.Values) {
			lines = append(lines, fmt.Sprintf("... %d more items", v.Size-len(v.Values)))
		}
		return block(fmt.Sprintf("Set(%d) [", v.Size), "]", lines)
	case domain.TypeString:
		return strconv.Quote(stringText(v))
	default:
		return plain(v)
	}
}

// compact renders containers on a single line, used for table cells.
func compact(v domain.Value) string {
	switch v.Type {
	case domain.TypeArray:
		parts := make([]string, 0, len(v.Items))
		for _, item := range v.Items {
			parts = append(parts, compactItem(item))
		}
		if v.Truncated && v.TotalLength > len(v.Items) {
			parts = append(parts, fmt.Sprintf("... %d more items", v.TotalLength-len(v.Items)))
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case domain.TypeObject:
		if v.Fields == nil && v.Text != "" {
			return v.Text
		}
		parts := make([]string, 0, len(v.Fields))
		for _, f := range v.Fields {
			parts = append(parts, f.Key+": "+compactItem(f.Value))
		}
		if len(parts) == 0 {
			return classPrefix(v) + "{}"
		}
		return classPrefix(v) + "{ " + strings.Join(parts, ", ") + " }"
	case domain.TypeMap:
		parts := make([]string, 0, len(v.Entries))
		for _, e := range v.Entries {
			parts = append(parts, compactItem(e.Key)+" => "+compactItem(e.Value))
		}
		return fmt.Sprintf("Map(%d) {%s}", v.Size, strings.Join(parts, ", "))
	case domain.TypeSet:
		parts := make([]string, 0, len(v.Values))
		for _, item := range v.Values {
			parts = append(parts, compactItem(item))
		}
		return fmt.Sprintf("Set(%d) [%s]", v.Size, strings.Join(parts, ", "))
	default:
		return plain(v)
	}
}

func compactItem(v domain.Value) string {
	if v.Type == domain.TypeString {
		return strconv.Quote(stringText(v))
	}
	return compact(v)
}

func classPrefix(v domain.Value) string {
	if v.ClassName == "" || v.ClassName == "Object" {
		return ""
	}
	return v.ClassName + " "
}

// label extracts the counter or timer name from the first argument.
func label(args []domain.Value) string {
	if len(args) == 0 {
		return "default"
	}
	var text string
	if args[0].Type == domain.TypeString {
		text = args[0].Text
	} else if args[0].Type != domain.TypeUndefined {
		text = plain(args[0])
	}
	if text == "" {
		return "default"
	}
	return text
}
