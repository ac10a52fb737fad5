package schema

import "fmt"

// Error reports a malformed or incomplete schema. It is raised at load or
// synthesis time and always prevents server start.
type Error struct {
	Class   string
	Field   string
	Message string
}

func (e *Error) Error() string {
	switch {
	case e.Class != "" && e.Field != "":
		return fmt.Sprintf("schema: class %s field %s: %s", e.Class, e.Field, e.Message)
	case e.Class != "":
		return fmt.Sprintf("schema: class %s: %s", e.Class, e.Message)
	default:
		return "schema: " + e.Message
	}
}
