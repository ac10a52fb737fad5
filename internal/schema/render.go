package schema

import (
	"fmt"
	"os"
	"sort"
	"strings"
)

// RenderTypeDefs renders the loaded classes as GraphQL type definitions.
// The output is a development artifact only; the runtime never reads it.
func (s *Schema) RenderTypeDefs() string {
	var b strings.Builder
	b.WriteString("# Code generated from the application schema. DO NOT EDIT.\n")

	for _, scalar := range s.Scalars {
		fmt.Fprintf(&b, "\nscalar %s\n", scalar.Name)
	}
	for _, enum := range s.Enums {
		fmt.Fprintf(&b, "\nenum %s {\n", enum.Name)
		for _, name := range sortedKeys(enum.Values) {
			fmt.Fprintf(&b, "  %s\n", name)
		}
		b.WriteString("}\n")
	}
	for _, class := range s.Classes {
		renderClass(&b, class)
	}
	return b.String()
}

// WriteTypeDefs writes the rendered definitions to path, replacing any
// previous artifact.
func (s *Schema) WriteTypeDefs(path string) error {
	return os.WriteFile(path, []byte(s.RenderTypeDefs()), 0o644)
}

func renderClass(b *strings.Builder, class *Class) {
	var nested []*Class

	if class.Description != "" {
		fmt.Fprintf(b, "\n\"\"\"%s\"\"\"\n", class.Description)
	} else {
		b.WriteString("\n")
	}
	fmt.Fprintf(b, "type %s {\n", class.Name)
	b.WriteString("  id: ID!\n")
	for _, name := range sortedFieldNames(class.Fields) {
		field := class.Fields[name]
		fmt.Fprintf(b, "  %s: %s\n", name, renderFieldType(field))
		if field.Type == TypeObject {
			nested = append(nested, field.Object)
		}
	}
	b.WriteString("}\n")

	for _, n := range nested {
		renderClass(b, n)
	}
}

func renderFieldType(field Field) string {
	var t string
	switch field.Type {
	case TypeArray:
		t = fmt.Sprintf("[%s]", field.TypeValue)
	case TypeObject:
		t = field.Object.Name
	case TypePointer:
		t = field.Class
	case TypeRelation:
		t = fmt.Sprintf("[%s]", field.Class)
	default:
		t = string(field.Type)
	}
	if field.Required {
		t += "!"
	}
	return t
}

func sortedFieldNames(fields map[string]Field) []string {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
