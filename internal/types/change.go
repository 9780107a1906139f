package types

// Change records one field rewritten by a pipeline component
type Change struct {
	Field  string `json:"field"`
	Old    any    `json:"old"`
	New    any    `json:"new"`
	Reason string `json:"reason,omitempty"`
}

// Flag marks a record that needs a human to look at it
type Flag struct {
	Reason string `json:"reason"`
}

// ChangeFields collects the new values of a change list for a store update.
// A later change to the same field wins.
func ChangeFields(changes []Change) FieldValues {
	fv := make(FieldValues, len(changes))
	for _, c := range changes {
		fv[c.Field] = c.New
	}
	return fv
}
