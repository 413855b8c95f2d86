package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// Leaves maps full leaf paths to their JSON values.
type Leaves map[string]json.RawMessage

// Op replaces the subtree at Path with Leaves. Applying an op also removes
// any leaf stored at an ancestor of Path. An op with no leaves is a delete.
type Op struct {
	Path   string
	Leaves Leaves
}

// Flatten splits raw into leaves below path. Objects become one leaf per
// scalar or array; null and empty objects produce no leaves.
func Flatten(path string, raw json.RawMessage) (Leaves, error) {
	leaves := Leaves{}
	if err := flatten(path, raw, leaves); err != nil {
		return nil, err
	}
	return leaves, nil
}

func flatten(path string, raw json.RawMessage, into Leaves) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	if trimmed[0] != '{' {
		var buf bytes.Buffer
		if err := json.Compact(&buf, trimmed); err != nil {
			return fmt.Errorf("invalid value at %s: %w", path, err)
		}
		into[path] = json.RawMessage(buf.Bytes())
		return nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return fmt.Errorf("invalid object at %s: %w", path, err)
	}
	for k, v := range obj {
		if k == "" {
			return fmt.Errorf("empty key in object at %s", path)
		}
		if err := flatten(Child(path, k), v, into); err != nil {
			return err
		}
	}
	return nil
}

// Assemble rebuilds the value at root from the leaves at or below it. It
// returns nil when there are none. Object keys come out sorted.
func Assemble(root string, leaves Leaves) (json.RawMessage, error) {
	if v, ok := leaves[root]; ok {
		return v, nil
	}

	tree := map[string]any{}
	found := false
	prefix := root + Separator
	for p, v := range leaves {
		if !strings.HasPrefix(p, prefix) {
			continue
		}
		found = true
		segs := strings.Split(strings.TrimPrefix(p, prefix), Separator)
		node := tree
		for i, seg := range segs {
			key, err := url.PathUnescape(seg)
			if err != nil {
				key = seg
			}
			if i == len(segs)-1 {
				node[key] = v
				break
			}
			next, ok := node[key].(map[string]any)
			if !ok {
				next = map[string]any{}
				node[key] = next
			}
			node = next
		}
	}
	if !found {
		return nil, nil
	}
	b, err := json.Marshal(tree)
	if err != nil {
		return nil, fmt.Errorf("assemble %s: %w", root, err)
	}
	return b, nil
}

// ApplyOps applies ops to an in-memory leaf set and returns the paths of the
// leaves that were removed or changed.
func ApplyOps(leaves Leaves, ops []Op) []string {
	var changed []string
	for _, op := range ops {
		for _, a := range Ancestors(op.Path) {
			if _, ok := leaves[a]; ok {
				delete(leaves, a)
				changed = append(changed, a)
			}
		}
		for p, old := range leaves {
			if !Within(p, op.Path) {
				continue
			}
			if nv, ok := op.Leaves[p]; ok && bytes.Equal(nv, old) {
				continue
			}
			delete(leaves, p)
			changed = append(changed, p)
		}
		for p, v := range op.Leaves {
			if old, ok := leaves[p]; ok && bytes.Equal(old, v) {
				continue
			}
			leaves[p] = v
			changed = append(changed, p)
		}
	}
	return changed
}

func encode(value any) (json.RawMessage, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return v, nil
	case []byte:
		return json.RawMessage(v), nil
	}
	b, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	return b, nil
}
