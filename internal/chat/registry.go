package chat

// placeholderName is used until the directory resolves a real name.
const placeholderName = "Customer"

// Registry holds the known customer sessions in a stable order. It is
// mutated only from the Coordinator's event loop and therefore carries no
// lock of its own.
type Registry struct {
	order    []string
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// UpsertFromDirectory merges a bulk directory fetch. Known ids are left
// untouched so locally accumulated unread counts survive a refresh.
func (r *Registry) UpsertFromDirectory(entries []Session) {
	for _, e := range entries {
		if e.ID == "" {
			continue
		}
		if _, ok := r.sessions[e.ID]; ok {
			continue
		}
		name := e.DisplayName
		if name == "" {
			name = placeholderName
		}
		r.insert(&Session{ID: e.ID, DisplayName: name})
	}
}

// RecordInbound updates session state for an inbound message. Unknown
// sessions are created with a placeholder name. When the session is not
// the active one, the unread counter and preview are updated; for the
// active session the Coordinator routes the message to the displayed
// sequence instead.
func (r *Registry) RecordInbound(msg Message, active bool) {
	s, ok := r.sessions[msg.SessionID]
	if !ok {
		s = &Session{ID: msg.SessionID, DisplayName: placeholderName}
		r.insert(s)
	}
	if !active {
		s.UnreadCount++
		s.LastMessagePreview = msg.Body
	}
}

// Activate resets the unread counter for id.
func (r *Registry) Activate(id string) {
	if s, ok := r.sessions[id]; ok {
		s.UnreadCount = 0
	}
}

// Remove deletes the session entry for id.
func (r *Registry) Remove(id string) {
	if _, ok := r.sessions[id]; !ok {
		return
	}
	delete(r.sessions, id)
	for i, sid := range r.order {
		if sid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// SetPreview updates the list preview for id, if known.
func (r *Registry) SetPreview(id, body string) {
	if s, ok := r.sessions[id]; ok {
		s.LastMessagePreview = body
	}
}

// DisplayName resolves the label for id, falling back to the placeholder.
func (r *Registry) DisplayName(id string) string {
	if s, ok := r.sessions[id]; ok {
		return s.DisplayName
	}
	return placeholderName
}

// Get returns a copy of the session for id.
func (r *Registry) Get(id string) (Session, bool) {
	s, ok := r.sessions[id]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// Snapshot returns the sessions in insertion order.
func (r *Registry) Snapshot() []Session {
	out := make([]Session, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.sessions[id])
	}
	return out
}

func (r *Registry) insert(s *Session) {
	r.sessions[s.ID] = s
	r.order = append(r.order, s.ID)
}
