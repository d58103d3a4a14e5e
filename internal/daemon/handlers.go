package daemon

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/soukly/convo/internal/attach"
	"github.com/soukly/convo/internal/bus"
	"github.com/soukly/convo/internal/compose"
	"github.com/soukly/convo/internal/gateway"
	"github.com/soukly/convo/internal/geo"
	"github.com/soukly/convo/internal/messages"
	"github.com/soukly/convo/internal/presence"
	"github.com/soukly/convo/internal/registry"
	"github.com/soukly/convo/internal/store"
	"github.com/soukly/convo/internal/typing"
)

// writeJSON is a small helper to send JSON responses.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, messages.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, messages.ErrNotSender):
		return http.StatusForbidden
	case errors.Is(err, messages.ErrDeleted):
		return http.StatusConflict
	case errors.Is(err, compose.ErrEmptyDraft), errors.Is(err, compose.ErrSelfChat):
		return http.StatusBadRequest
	case errors.Is(err, attach.ErrTooManyImages), errors.Is(err, attach.ErrImageTooLarge):
		return http.StatusUnprocessableEntity
	case errors.Is(err, attach.ErrStaleBatch):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func handleListConversations(reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter := registry.Filter(r.URL.Query().Get("filter"))
		switch filter {
		case "", registry.FilterAll:
			filter = registry.FilterAll
		case registry.FilterUnread, registry.FilterRead:
		default:
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown filter"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"conversations": reg.List(filter)})
	}
}

func handleGetConversation(reg *registry.Registry, coord *typing.Coordinator, tracker *presence.Tracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "conversationID")
		conv, ok := reg.Get(id)
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "conversation not found"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"conversation": conv,
			"peer_typing":  coord.PeerTyping(id),
			"peer_online":  tracker.IsOnline(conv.Peer.ID),
		})
	}
}

func handleSelectConversation(reg *registry.Registry, composer *compose.Composer, st *messages.Store, ar archiveReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "conversationID")
		reg.Select(id)
		composer.MarkRead(id)
		// Top up the window from the archive; already-loaded ids dedup away.
		_ = ar.LoadPage(st, id, 0, 50)
		conv, ok := reg.Get(id)
		if !ok {
			writeJSON(w, http.StatusOK, map[string]any{"conversation_id": id})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"conversation": conv})
	}
}

func handleListMessages(st *messages.Store, ar archiveReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "conversationID")

		// An explicit before cursor pulls an older page out of the archive
		// into the window first.
		if beforeStr := r.URL.Query().Get("before"); beforeStr != "" {
			before, err := strconv.ParseInt(beforeStr, 10, 64)
			if err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid before cursor"})
				return
			}
			limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
			if err := ar.LoadPage(st, id, before, limit); err != nil {
				writeError(w, http.StatusInternalServerError, err)
				return
			}
		}

		resp := map[string]any{"messages": st.Conversation(id)}
		if target := r.URL.Query().Get("target"); target != "" {
			idx, err := st.ScrollTarget(id, target)
			if err != nil {
				writeError(w, statusFor(err), err)
				return
			}
			resp["target_index"] = idx
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

type sendMessageRequest struct {
	ConversationID string           `json:"conversation_id"`
	PeerID         string           `json:"peer_id"`
	Body           string           `json:"body"`
	ReplyTo        string           `json:"reply_to,omitempty"`
	ImagePaths     []string         `json:"image_paths,omitempty"`
	Location       *locationRequest `json:"location,omitempty"`
}

type locationRequest struct {
	Lat   float64 `json:"lat"`
	Lng   float64 `json:"lng"`
	Label string  `json:"label,omitempty"`
}

func handleSendMessage(composer *compose.Composer, pipeline *attach.Pipeline, geocoder *geo.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req sendMessageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
			return
		}

		var atts []attach.Attachment
		if len(req.ImagePaths) > 0 {
			staged, err := pipeline.StageImages(r.Context(), req.ImagePaths)
			if err != nil {
				writeError(w, statusFor(err), err)
				return
			}
			atts = staged
		}
		if req.Location != nil {
			label, address := req.Location.Label, ""
			if label == "" {
				label, address = geocoder.ResolveLabel(r.Context(), req.Location.Lat, req.Location.Lng)
			}
			loc := attach.NormalizeLocation(req.Location.Lat, req.Location.Lng, label, address)
			atts = append(atts, attach.LocationAttachment(loc))
		}

		tempID, err := composer.Compose(compose.Draft{
			ConversationID: req.ConversationID,
			PeerID:         req.PeerID,
			Body:           req.Body,
			Attachments:    atts,
			ReplyTo:        req.ReplyTo,
		})
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		pipeline.Reset()
		writeJSON(w, http.StatusAccepted, map[string]string{"temp_id": tempID})
	}
}

func handleEditMessage(composer *compose.Composer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Body string `json:"body"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
			return
		}
		id := chi.URLParam(r, "messageID")
		if err := composer.Edit(id, req.Body); err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"message_id": id})
	}
}

func handleDeleteMessage(composer *compose.Composer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "messageID")
		if err := composer.Delete(id); err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"message_id": id})
	}
}

func handleTyping(coord *typing.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Action string `json:"action"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
			return
		}
		id := chi.URLParam(r, "conversationID")
		switch req.Action {
		case "keystroke":
			if err := coord.Keystroke(id); err != nil {
				writeError(w, http.StatusBadGateway, err)
				return
			}
		case "cleared":
			coord.InputCleared(id)
		case "flush":
			coord.Flush(id)
		default:
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown action"})
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleGetPresence(tracker *presence.Tracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		peerID := chi.URLParam(r, "peerID")
		writeJSON(w, http.StatusOK, map[string]any{
			"peer_id": peerID,
			"online":  tracker.IsOnline(peerID),
		})
	}
}

func handleSearchMessages(db *store.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query().Get("q")
		if q == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing query"})
			return
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		results, err := db.SearchMessages(q, r.URL.Query().Get("conversation_id"), limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"results": results})
	}
}

func handleSearchPlaces(geocoder *geo.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query().Get("q")
		if q == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing query"})
			return
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		places, err := geocoder.Search(r.Context(), q, limit)
		if err != nil {
			writeError(w, http.StatusBadGateway, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"places": places})
	}
}

func handleStatus(p Params, gw *gateway.Gateway, reg *registry.Registry, b *bus.Bus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"profile":             p.Profile,
			"gateway_state":       gw.State(),
			"active_conversation": reg.ActiveID(),
			"dropped_events":      b.Dropped(),
		})
	}
}
