// Package normalize maps untyped source items onto the canonical record draft.
package normalize

import (
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/kailas-cloud/vulnharvest/internal/domain/vulnerability"
	"github.com/kailas-cloud/vulnharvest/internal/source"
)

// Placeholder text for items that carry neither title nor description.
const (
	titlePlaceholderFmt    = "Vulnerability from %s"
	descriptionPlaceholder = "Security vulnerability related to search query"
)

// json sorts map keys, so the serialized form of an item is stable across runs.
var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Generic normalizes an item from a source that has no Normalize of its own.
// Field lookups fall back in a fixed order; missing or mistyped values never fail the item.
func Generic(sourceName string, item source.RawItem) (vulnerability.Draft, bool) {
	if len(item) == 0 {
		return vulnerability.Draft{}, false
	}

	serialized := Serialize(item)

	cveID := String(item["cve_id"])
	if cveID == "" {
		cveID = vulnerability.FindCVE(serialized)
	}
	if cveID == "" {
		cveID = vulnerability.SyntheticID(sourceName, serialized)
	}

	title := First(item, "title", "summary")
	if title == "" {
		title = fmt.Sprintf(titlePlaceholderFmt, sourceName)
	}
	description := First(item, "description", "details")
	if description == "" {
		description = descriptionPlaceholder
	}

	packages := Strings(item["affected_packages"])
	if len(packages) == 0 {
		packages = Strings(item["packages"])
	}

	return vulnerability.Draft{
		CVEID:            cveID,
		Title:            title,
		Description:      description,
		Severity:         String(item["severity"]),
		CVSSScore:        Float(item["cvss_score"]),
		CVSSVector:       String(item["cvss_vector"]),
		SourceName:       sourceName,
		SourceURL:        First(item, "source_url", "link", "url"),
		PublishedAt:      ParseDate(item["published_date"]),
		AffectedPackages: packages,
		References:       Strings(item["references"]),
		FallbackKey:      serialized,
	}, true
}

// Serialize renders an item as JSON. Unserializable items fall back to fmt.
func Serialize(item source.RawItem) string {
	b, err := json.Marshal(item)
	if err != nil {
		return fmt.Sprintf("%v", map[string]any(item))
	}
	return string(b)
}

// First returns the first non-empty string value among keys.
func First(item source.RawItem, keys ...string) string {
	for _, k := range keys {
		if s := String(item[k]); s != "" {
			return s
		}
	}
	return ""
}

// FindCVE returns the first CVE identifier in any of texts.
func FindCVE(texts ...string) string {
	for _, t := range texts {
		if id := vulnerability.FindCVE(t); id != "" {
			return id
		}
	}
	return ""
}

// String coerces scalar values to a trimmed string. Composite values yield "".
func String(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(x)
	case []byte:
		return strings.TrimSpace(string(x))
	case fmt.Stringer:
		return strings.TrimSpace(x.String())
	case bool, int, int32, int64, uint, uint32, uint64, float32, float64:
		return fmt.Sprint(x)
	default:
		return ""
	}
}

// Strings coerces a list-ish value to non-empty strings, keeping order.
// A bare string becomes a one-element list. Package maps render as "ecosystem/name".
func Strings(v any) []string {
	switch x := v.(type) {
	case nil:
		return nil
	case string:
		if s := strings.TrimSpace(x); s != "" {
			return []string{s}
		}
		return nil
	case []string:
		out := make([]string, 0, len(x))
		for _, s := range x {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		return out
	case []any:
		out := make([]string, 0, len(x))
		for _, e := range x {
			s := String(e)
			if s == "" {
				s = packageRef(e)
			}
			if s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func packageRef(v any) string {
	m, ok := v.(map[string]any)
	if !ok {
		return ""
	}
	name := String(m["name"])
	if name == "" {
		return String(m["url"])
	}
	if eco := String(m["ecosystem"]); eco != "" {
		return eco + "/" + name
	}
	return name
}

// Decode re-reads an item into a typed wire struct.
func Decode(item source.RawItem, out any) error {
	b, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("encode item: %w", err)
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("decode item: %w", err)
	}
	return nil
}
