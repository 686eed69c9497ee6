package store

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
)

func splitPath(path string) ([]string, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	parts := strings.Split(path, ".")
	for _, p := range parts {
		if p == "" {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPath, path)
		}
	}
	return parts, nil
}

func getPath(doc map[string]interface{}, path string) (interface{}, bool) {
	parts, err := splitPath(path)
	if err != nil {
		return nil, false
	}

	var cur interface{} = doc
	for _, p := range parts {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = m[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// applyUpdates mutates doc in place. Values are normalised before they land so
// the result is identical whichever backend stores it.
func applyUpdates(doc map[string]interface{}, updates []Update) error {
	for _, u := range updates {
		parts, err := splitPath(u.Path)
		if err != nil {
			return err
		}

		parent := doc
		for _, p := range parts[:len(parts)-1] {
			next, ok := parent[p].(map[string]interface{})
			if !ok {
				if u.kind == updateDelete {
					parent = nil
					break
				}
				next = map[string]interface{}{}
				parent[p] = next
			}
			parent = next
		}
		leaf := parts[len(parts)-1]

		switch u.kind {
		case updateSet:
			v, err := normalize(u.values[0])
			if err != nil {
				return err
			}
			parent[leaf] = v

		case updateAppend:
			var list []interface{}
			switch existing := parent[leaf].(type) {
			case nil:
			case []interface{}:
				list = existing
			default:
				return fmt.Errorf("%w: %s is %T, not a list", ErrInvalidPath, u.Path, existing)
			}
			for _, raw := range u.values {
				v, err := normalize(raw)
				if err != nil {
					return err
				}
				list = append(list, v)
			}
			parent[leaf] = list

		case updateDelete:
			if parent != nil {
				delete(parent, leaf)
			}
		}
	}
	return nil
}

// deepMerge copies src into dst, descending into maps present on both sides.
func deepMerge(dst, src map[string]interface{}) {
	for k, v := range src {
		srcMap, srcIsMap := v.(map[string]interface{})
		dstMap, dstIsMap := dst[k].(map[string]interface{})
		if srcIsMap && dstIsMap {
			deepMerge(dstMap, srcMap)
			continue
		}
		dst[k] = v
	}
}

func matches(doc map[string]interface{}, filters []normalizedFilter) bool {
	for _, f := range filters {
		v, ok := getPath(doc, f.path)
		if !ok || !reflect.DeepEqual(v, f.value) {
			return false
		}
	}
	return true
}

type normalizedFilter struct {
	path  string
	value interface{}
}

func normalizeFilters(filters []Filter) ([]normalizedFilter, error) {
	out := make([]normalizedFilter, 0, len(filters))
	for _, f := range filters {
		if _, err := splitPath(f.Path); err != nil {
			return nil, err
		}
		v, err := normalize(f.Value)
		if err != nil {
			return nil, err
		}
		out = append(out, normalizedFilter{path: f.Path, value: v})
	}
	return out, nil
}

func sortDocuments(docs []*Document, orderBy string, desc bool) {
	if orderBy == "" {
		sort.SliceStable(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
		return
	}
	sort.SliceStable(docs, func(i, j int) bool {
		a, okA := getPath(docs[i].Data, orderBy)
		b, okB := getPath(docs[j].Data, orderBy)
		if okA != okB {
			// documents without the field go last either way
			return okA
		}
		c := compareValues(a, b)
		if c == 0 {
			return docs[i].ID < docs[j].ID
		}
		if desc {
			return c > 0
		}
		return c < 0
	})
}

// compareValues orders missing < bool < number < string, then by value.
func compareValues(a, b interface{}) int {
	ra, rb := typeRank(a), typeRank(b)
	if ra != rb {
		return ra - rb
	}
	switch av := a.(type) {
	case bool:
		bv := b.(bool)
		switch {
		case av == bv:
			return 0
		case !av:
			return -1
		default:
			return 1
		}
	case float64:
		bv := b.(float64)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		default:
			return 0
		}
	case string:
		return strings.Compare(av, b.(string))
	default:
		return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
	}
}

func typeRank(v interface{}) int {
	switch v.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case float64:
		return 2
	case string:
		return 3
	default:
		return 4
	}
}

func deepCopy(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = deepCopy(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = deepCopy(val)
		}
		return out
	default:
		return v
	}
}

func copyDocument(id string, data map[string]interface{}) *Document {
	return &Document{ID: id, Data: deepCopy(data).(map[string]interface{})}
}
