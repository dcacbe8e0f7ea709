package model

// TodoStatus is the collection state of a single field.
type TodoStatus string

const (
	TodoPending    TodoStatus = "pending"
	TodoInProgress TodoStatus = "in_progress"
	TodoComplete   TodoStatus = "complete"
)

// Confidence grades how certain the extraction was about a value.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// rank orders confidences for overwrite policies. Unset ranks lowest.
func (c Confidence) rank() int {
	switch c {
	case ConfidenceHigh:
		return 3
	case ConfidenceMedium:
		return 2
	case ConfidenceLow:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether c is at least as confident as o.
func (c Confidence) AtLeast(o Confidence) bool {
	return c.rank() >= o.rank()
}

// TodoItem is the per-field collection state.
// Invariant: Status == TodoComplete exactly when Value != nil.
type TodoItem struct {
	Status     TodoStatus  `json:"status"`
	Value      *FieldValue `json:"value,omitempty"`
	Confidence Confidence  `json:"confidence,omitempty"`
	// Provenance is the history index of the user turn the value came from.
	Provenance *int `json:"provenance,omitempty"`
}

// TodoList maps every registry field key to exactly one TodoItem. The mapping
// is dense: NewTodoList seeds every key and keys are never removed.
type TodoList map[string]TodoItem

// NewTodoList creates a TodoList with one pending item per registry field.
func NewTodoList(reg *FieldRegistry) TodoList {
	list := make(TodoList, reg.Len())
	for _, f := range reg.Fields {
		list[f.Key] = TodoItem{Status: TodoPending}
	}
	return list
}

// Clone returns a deep copy of the list.
func (l TodoList) Clone() TodoList {
	out := make(TodoList, len(l))
	for k, item := range l {
		if item.Value != nil {
			v := *item.Value
			if v.List != nil {
				v.List = append([]string(nil), v.List...)
			}
			item.Value = &v
		}
		if item.Provenance != nil {
			p := *item.Provenance
			item.Provenance = &p
		}
		out[k] = item
	}
	return out
}

// IsComplete reports whether every required registry field is complete.
// Optional fields never affect the result.
func (l TodoList) IsComplete(reg *FieldRegistry) bool {
	for _, f := range reg.Required() {
		if l[f.Key].Status != TodoComplete {
			return false
		}
	}
	return true
}

// MissingRequired returns the required fields not yet complete, in registry order.
func (l TodoList) MissingRequired(reg *FieldRegistry) []*Field {
	var missing []*Field
	for _, f := range reg.Required() {
		if l[f.Key].Status != TodoComplete {
			missing = append(missing, f)
		}
	}
	return missing
}

// CompletedCount returns how many items are complete.
func (l TodoList) CompletedCount() int {
	n := 0
	for _, item := range l {
		if item.Status == TodoComplete {
			n++
		}
	}
	return n
}
