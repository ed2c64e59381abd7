// Package yaml wraps gopkg.in/yaml.v3 and edits config files in place
// without losing comments and formatting of untouched keys.
package yaml

import (
	"bytes"
	"errors"
	"strings"

	"gopkg.in/yaml.v3"
)

var ErrPathNotExist = errors.New("yaml: path not exist")

func Unmarshal(in []byte, out any) error {
	return yaml.Unmarshal(in, out)
}

func Marshal(v any) ([]byte, error) {
	return Encode(v, 2)
}

func Encode(v any, indent int) ([]byte, error) {
	b := bytes.NewBuffer(nil)
	e := yaml.NewEncoder(b)
	e.SetIndent(indent)

	if err := e.Encode(v); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// Patch set key to value inside path, nil value removes the key.
// Missing path is created only at the top level.
func Patch(src []byte, key string, value any, path ...string) ([]byte, error) {
	parent, err := findParent(src, path...)
	if err != nil {
		return nil, err
	}

	var dst []byte

	if parent != nil {
		dst, err = replace(src, key, value, parent)
	} else {
		dst, err = appendSection(src, key, value, path...)
	}
	if err != nil {
		return nil, err
	}

	// result must stay valid
	if err = yaml.Unmarshal(dst, map[string]any{}); err != nil {
		return nil, err
	}

	return dst, nil
}

// findParent return mapping node for path or nil
func findParent(src []byte, path ...string) (*yaml.Node, error) {
	if len(src) == 0 {
		return nil, nil
	}

	var root yaml.Node
	if err := yaml.Unmarshal(src, &root); err != nil {
		return nil, err
	}

	if root.Content == nil {
		return nil, nil
	}

	parent := root.Content[0] // document
	for _, name := range path {
		if parent == nil {
			break
		}
		_, parent = findChild(parent, name)
	}
	return parent, nil
}

func findChild(node *yaml.Node, name string) (key, value *yaml.Node) {
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == name {
			return node.Content[i], node.Content[i+1]
		}
	}
	return nil, nil
}

func firstChild(node *yaml.Node) *yaml.Node {
	if node.Content == nil {
		return node
	}
	return node.Content[0]
}

func lastChild(node *yaml.Node) *yaml.Node {
	if node.Content == nil {
		return node
	}
	return lastChild(node.Content[len(node.Content)-1])
}

func replace(src []byte, key string, value any, parent *yaml.Node) ([]byte, error) {
	put, err := Encode(map[string]any{key: value}, 2)
	if err != nil {
		return nil, err
	}

	var i0, i1 int

	if nodeKey, nodeValue := findChild(parent, key); nodeKey != nil {
		put = indent(put, nodeKey.Column-1)
		i0 = lineOffset(src, nodeKey.Line)
		i1 = lineOffset(src, lastChild(nodeValue).Line+1)
	} else {
		put = indent(put, firstChild(parent).Column-1)
		i0 = lineOffset(src, lastChild(parent).Line+1)
		i1 = i0

		if i0 < 0 {
			// no new line on the end of file
			src = append(src, '\n')
			i0, i1 = len(src), len(src)
		}
	}

	if i1 < 0 {
		i1 = len(src)
	}

	dst := make([]byte, 0, len(src)+len(put))
	dst = append(dst, src[:i0]...)
	if value != nil {
		dst = append(dst, put...)
	}
	return append(dst, src[i1:]...), nil
}

func appendSection(src []byte, key string, value any, path ...string) ([]byte, error) {
	if len(path) != 1 || value == nil {
		return nil, ErrPathNotExist
	}

	put, err := Encode(map[string]map[string]any{path[0]: {key: value}}, 2)
	if err != nil {
		return nil, err
	}

	dst := make([]byte, 0, len(src)+len(put)+1)
	dst = append(dst, src...)
	if l := len(src); l > 0 && src[l-1] != '\n' {
		dst = append(dst, '\n')
	}
	return append(dst, put...), nil
}

func indent(src []byte, n int) []byte {
	if n <= 0 {
		return src
	}

	pre := strings.Repeat(" ", n)

	var dst []byte
	for len(src) > 0 {
		dst = append(dst, pre...)
		i := bytes.IndexByte(src, '\n') + 1
		if i == 0 {
			dst = append(dst, src...)
			break
		}
		dst = append(dst, src[:i]...)
		src = src[i:]
	}
	return dst
}

// lineOffset return byte offset of line (1-based) or -1
func lineOffset(b []byte, line int) (offset int) {
	for l := 1; ; l++ {
		if l == line {
			return offset
		}

		i := bytes.IndexByte(b[offset:], '\n') + 1
		if i == 0 {
			break
		}
		offset += i
	}
	return -1
}
