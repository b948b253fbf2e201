package state

// Merger combines an old and new value for a single field into the value
// that should appear in the resulting State. Registered per field name in a
// Registry; a field with no registered Merger is replace-on-update (spec
// §4.1).
type Merger func(old, new any) any

// Registry maps field name -> Merger. The zero value is a Registry with no
// mergers registered (every field replace-on-update); use NewRegistry to
// get the standard one with the Messages append-only merger pre-registered.
type Registry struct {
	mergers map[string]Merger
}

// Field names matching State's JSON-ish keys, used as Registry/delta keys.
const (
	FieldMessages   = "messages"
	FieldNextAction = "next_action"
	FieldAgentName  = "agent_name"
	FieldRoutingKey = "routing_key"
	FieldMetadata   = "metadata"
)

// NewRegistry returns a Registry with the Message-sequence merger
// registered as `old ++ new` (order-preserving concatenation, spec §4.1).
func NewRegistry() *Registry {
	r := &Registry{mergers: make(map[string]Merger)}
	r.Register(FieldMessages, mergeMessages)
	return r
}

// Register adds or replaces the Merger for field.
func (r *Registry) Register(field string, m Merger) {
	if r.mergers == nil {
		r.mergers = make(map[string]Merger)
	}
	r.mergers[field] = m
}

func mergeMessages(old, new any) any {
	oldMsgs, _ := old.([]Message)
	switch n := new.(type) {
	case []Message:
		out := make([]Message, 0, len(oldMsgs)+len(n))
		out = append(out, oldMsgs...)
		out = append(out, n...)
		return out
	case Message:
		out := make([]Message, 0, len(oldMsgs)+1)
		out = append(out, oldMsgs...)
		out = append(out, n)
		return out
	default:
		return oldMsgs
	}
}

// Delta is a set of field -> new-value updates to apply to a State. Only
// keys present in Delta are touched; everything else in the State is
// carried over unchanged.
type Delta map[string]any

// Apply produces a new State from s by applying every entry in delta,
// field-by-field, through the Registry's registered Mergers (or
// replace-on-update when none is registered). s itself is never mutated —
// Apply always returns an independently serializable value (spec §4.1).
func (r *Registry) Apply(s State, delta Delta) State {
	out := s.clone()

	for field, newVal := range delta {
		switch field {
		case FieldMessages:
			merged := r.mergeField(field, out.Messages, newVal)
			if msgs, ok := merged.([]Message); ok {
				out.Messages = msgs
			}
		case FieldNextAction:
			if v, ok := r.mergeField(field, out.NextAction, newVal).(string); ok {
				out.NextAction = v
			}
		case FieldAgentName:
			if v, ok := r.mergeField(field, out.AgentName, newVal).(string); ok {
				out.AgentName = v
			}
		case FieldRoutingKey:
			if v, ok := r.mergeField(field, out.RoutingKey, newVal).(string); ok {
				out.RoutingKey = v
			}
		case FieldMetadata:
			merged := r.mergeField(field, out.Metadata, newVal)
			if md, ok := merged.(map[string]any); ok {
				out.Metadata = md
			}
		default:
			// Unknown/custom field: metadata-style replace, stashed under
			// Metadata so callers never silently lose a delta key.
			if out.Metadata == nil {
				out.Metadata = make(map[string]any)
			}
			clonedMD := make(map[string]any, len(out.Metadata))
			for k, v := range out.Metadata {
				clonedMD[k] = v
			}
			clonedMD[field] = newVal
			out.Metadata = clonedMD
		}
	}

	return out
}

func (r *Registry) mergeField(field string, old, new any) any {
	if m, ok := r.mergers[field]; ok {
		return m(old, new)
	}
	return new
}

// AppendMessage is a convenience that builds the Delta for appending a
// single Message and applies it.
func (r *Registry) AppendMessage(s State, m Message) State {
	return r.Apply(s, Delta{FieldMessages: m})
}
