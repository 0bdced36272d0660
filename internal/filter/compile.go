package filter

import (
	"fmt"
	"strings"

	"canon/internal/canonerr"
)

// Compile lowers an AST into a single parameterized SQL boolean expression
// over a `sources s` row, per spec.md §4.1 "Combination": "must remain a
// single query (no per-row script callbacks)." The returned fragment is
// meant to follow a `WHERE` clause; callers supply their own `FROM sources
// s` (optionally joined further) and append the returned args in order.
func Compile(n Node) (string, []any, error) {
	c := &compiler{}
	sql, err := c.compile(n)
	if err != nil {
		return "", nil, err
	}
	return sql, c.args, nil
}

type compiler struct {
	args []any
}

func (c *compiler) compile(n Node) (string, error) {
	switch node := n.(type) {
	case Exists:
		return c.compileExists(node.Key)
	case Compare:
		return c.compileCompare(node)
	case And:
		return c.compileBinary(node.Left, node.Right, "AND")
	case Or:
		return c.compileBinary(node.Left, node.Right, "OR")
	case Not:
		inner, err := c.compile(node.Inner)
		if err != nil {
			return "", err
		}
		return "NOT (" + inner + ")", nil
	default:
		return "", canonerr.Wrap(canonerr.ErrUserInput, "filter", "compile", fmt.Sprintf("unhandled node type %T", n), nil)
	}
}

func (c *compiler) compileBinary(left, right Node, op string) (string, error) {
	l, err := c.compile(left)
	if err != nil {
		return "", err
	}
	r, err := c.compile(right)
	if err != nil {
		return "", err
	}
	return "(" + l + ") " + op + " (" + r + ")", nil
}

func (c *compiler) compileExists(key string) (string, error) {
	if strings.HasPrefix(key, "source.") {
		if key == "source.object_id" {
			return "s.object_id IS NOT NULL", nil
		}
		// Every other source.* key is treated as always present: source.ext
		// derives from rel_path, and the remaining keys are source columns
		// set on every scanned row.
		return "1=1", nil
	}
	c.args = append(c.args, key, key)
	return `(EXISTS (SELECT 1 FROM facts f WHERE f.target_kind = 'source' AND f.target_id = s.id AND f.key = ?)
		OR (s.object_id IS NOT NULL AND EXISTS (SELECT 1 FROM facts f WHERE f.target_kind = 'object' AND f.target_id = s.object_id AND f.key = ?)))`, nil
}

func (c *compiler) compileCompare(cmp Compare) (string, error) {
	if strings.HasPrefix(cmp.Key, "source.") {
		return c.compileSourceCompare(cmp)
	}

	col, arg, err := valueColumnAndArg(cmp.Value)
	if err != nil {
		return "", err
	}

	c.args = append(c.args, cmp.Key, arg, cmp.Key, arg)
	return fmt.Sprintf(`(EXISTS (SELECT 1 FROM facts f WHERE f.target_kind = 'source' AND f.target_id = s.id AND f.key = ? AND f.%s %s ?)
		OR (s.object_id IS NOT NULL AND EXISTS (SELECT 1 FROM facts f WHERE f.target_kind = 'object' AND f.target_id = s.object_id AND f.key = ? AND f.%s %s ?)))`,
		col, cmp.Op, col, cmp.Op), nil
}

func (c *compiler) compileSourceCompare(cmp Compare) (string, error) {
	if cmp.Key == "source.ext" {
		if cmp.Op != "=" && cmp.Op != "!=" {
			return "", canonerr.Wrap(canonerr.ErrUserInput, "filter", "compile",
				fmt.Sprintf("operator %q is not supported for source.ext (only = and != are)", cmp.Op), nil)
		}
		c.args = append(c.args, strings.ToLower(cmp.Value.Text))
		expr := "LOWER(s.rel_path) LIKE '%.' || ?"
		if cmp.Op == "!=" {
			return "NOT (" + expr + ")", nil
		}
		return expr, nil
	}

	col, ok := sourceColumnFor(cmp.Key)
	if !ok {
		return "", canonerr.Wrap(canonerr.ErrUserInput, "filter", "compile", fmt.Sprintf("unknown built-in key %q", cmp.Key), nil)
	}

	var arg any
	switch cmp.Value.Kind {
	case ValueNumber:
		arg = cmp.Value.Num
	case ValueDate:
		arg = cmp.Value.Time
	default:
		arg = cmp.Value.Text
	}
	c.args = append(c.args, arg)
	return fmt.Sprintf("s.%s %s ?", col, cmp.Op), nil
}

func sourceColumnFor(key string) (string, bool) {
	switch key {
	case "source.size":
		return "size", true
	case "source.mtime":
		return "mtime", true
	case "source.root_id":
		return "root_id", true
	case "source.rel_path":
		return "rel_path", true
	case "source.basis_rev":
		return "basis_rev", true
	case "source.seen_rev":
		return "seen_rev", true
	case "source.device":
		return "device", true
	case "source.inode":
		return "inode", true
	case "source.object_id":
		return "object_id", true
	default:
		return "", false
	}
}

// valueColumnAndArg picks the fact table's typed column to compare against
// for a non-builtin key, based on the filter literal's own lexical kind,
// per spec.md §4.1: "Comparisons coerce both sides: if both parse as
// numbers, compare numerically; if both parse as dates, compare
// temporally; else compare as strings."
func valueColumnAndArg(v Value) (string, any, error) {
	switch v.Kind {
	case ValueNumber:
		return "value_num", v.Num, nil
	case ValueDate:
		return "value_time", v.Time, nil
	default:
		return "value_text", v.Text, nil
	}
}
