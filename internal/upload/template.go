package upload

import (
	"fmt"
	"io"
	"strings"

	"github.com/valyala/fasttemplate"
)

// expand substitutes {tag} placeholders in s from vars. Unknown tags are left as they are
func expand(s string, vars map[string]string) (string, error) {
	if !strings.Contains(s, "{") {
		return s, nil
	}
	t, err := fasttemplate.NewTemplate(s, "{", "}")
	if err != nil {
		return s, fmt.Errorf("failed to compile template %s: %w", s, err)
	}
	return t.ExecuteFuncString(func(w io.Writer, tag string) (int, error) {
		if v, ok := vars[tag]; ok {
			return w.Write([]byte(v))
		}
		return w.Write([]byte("{" + tag + "}"))
	}), nil
}
