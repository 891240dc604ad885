package corefact

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/zero-day-ai/tiermem/memory"
)

// Separator joins key path segments.
const Separator = "."

// ParsePath splits a dot-separated key path into segments. The empty path
// addresses the root and yields no segments.
func ParsePath(op, path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}

	segs := strings.Split(path, Separator)
	for i, seg := range segs {
		if err := checkSegment(seg); err != nil {
			return nil, memory.Validation(op, "key path %q segment %d: %v", path, i, err)
		}
	}
	return segs, nil
}

func checkSegment(seg string) error {
	switch {
	case seg == "":
		return errEmptySegment
	case strings.TrimSpace(seg) != seg:
		return errSegmentSpace
	case strings.Contains(seg, Separator):
		return errSegmentDot
	}
	return nil
}

// ancestors returns every proper prefix of segs as a joined path.
func ancestors(segs []string) []string {
	out := make([]string, 0, len(segs)-1)
	for i := 1; i < len(segs); i++ {
		out = append(out, strings.Join(segs[:i], Separator))
	}
	return out
}

// covers reports whether key is path itself or lies beneath it.
func covers(path, key string) bool {
	if path == "" {
		return true
	}
	return key == path || strings.HasPrefix(key, path+Separator)
}

// flatten converts value into leaves keyed by full path. Values are first
// normalized through JSON so any JSON-encodable Go value is accepted.
// Non-empty objects become interior nodes; everything else is a leaf.
func flatten(op, path string, value any) (map[string]json.RawMessage, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, memory.Validation(op, "value for %q is not JSON-compatible: %v", path, err)
	}

	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, memory.Validation(op, "value for %q is not JSON-compatible: %v", path, err)
	}

	out := make(map[string]json.RawMessage)
	if err := walk(op, path, generic, out); err != nil {
		return nil, err
	}
	return out, nil
}

func walk(op, path string, v any, out map[string]json.RawMessage) error {
	obj, ok := v.(map[string]any)
	if !ok || len(obj) == 0 {
		raw, err := json.Marshal(v)
		if err != nil {
			return memory.Validation(op, "encode %q: %v", path, err)
		}
		out[path] = raw
		return nil
	}

	for k, child := range obj {
		if err := checkSegment(k); err != nil {
			return memory.Validation(op, "key %q under %q: %v", k, path, err)
		}
		if err := walk(op, path+Separator+k, child, out); err != nil {
			return err
		}
	}
	return nil
}

// buildTree assembles leaves under root into a nested map. Leaf keys are
// full paths; root is stripped from them.
func buildTree(root string, leaves map[string]any) map[string]any {
	tree := make(map[string]any)

	keys := make([]string, 0, len(leaves))
	for k := range leaves {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		rel := key
		if root != "" {
			rel = strings.TrimPrefix(key, root+Separator)
		}
		segs := strings.Split(rel, Separator)

		node := tree
		for _, seg := range segs[:len(segs)-1] {
			child, ok := node[seg].(map[string]any)
			if !ok {
				child = make(map[string]any)
				node[seg] = child
			}
			node = child
		}
		node[segs[len(segs)-1]] = leaves[key]
	}
	return tree
}
