package admin

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/burrowhq/burrow/telemetry"
	"github.com/burrowhq/burrow/watch"
)

// NamespaceNotification is one entry of the long-poll request and response:
// the namespace and the latest change-message id the client has seen.
type NamespaceNotification struct {
	NamespaceName  string `json:"namespaceName"`
	NotificationID int64  `json:"notificationId"`
}

// handleNotifications is the client long-poll endpoint. The subscriber's
// watch keys are assembled, compared against the message cache, and when
// nothing has changed yet the request parks on the hub until a signal or
// the timeout. A timeout answers 304.
//
// The hub subscription is taken before the cache comparison; a release
// landing between the two is caught by the comparison, one landing after
// it by the signal, so no window is lost.
func (h *Handlers) handleNotifications(w http.ResponseWriter, r *http.Request) {
	appID := r.URL.Query().Get("appId")
	if appID == "" {
		writeErrorResponse(w, http.StatusBadRequest, "appId is required")
		return
	}
	cluster := r.URL.Query().Get("cluster")
	if cluster == "" {
		cluster = watch.ClusterNameDefault
	}
	dataCenter := r.URL.Query().Get("dataCenter")

	rawNotifications := r.URL.Query().Get("notifications")
	if rawNotifications == "" {
		writeErrorResponse(w, http.StatusBadRequest, "notifications is required")
		return
	}
	var requested []NamespaceNotification
	if err := json.Unmarshal([]byte(rawNotifications), &requested); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "invalid notifications: "+err.Error())
		return
	}
	if len(requested) == 0 {
		writeErrorResponse(w, http.StatusBadRequest, "notifications must not be empty")
		return
	}

	ctx := r.Context()
	seenIDs := make(map[string]int64, len(requested))
	names := make([]string, 0, len(requested))
	for _, n := range requested {
		name, err := h.assembler.NormalizeNamespace(ctx, appID, n.NamespaceName)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		if _, ok := seenIDs[name]; !ok {
			names = append(names, name)
		}
		seenIDs[name] = n.NotificationID
	}

	watchedKeys, err := h.assembler.AssembleAllWatchKeys(ctx, appID, cluster, names, dataCenter)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	var flatKeys []string
	for _, keys := range watchedKeys {
		flatKeys = append(flatKeys, keys...)
	}
	if len(flatKeys) == 0 {
		writeErrorResponse(w, http.StatusBadRequest, "nothing to watch")
		return
	}

	// Subscribe before comparing so no release falls between the two.
	signals, cancel := h.hub.Subscribe(flatKeys)
	defer cancel()

	changed := h.changedNotifications(names, watchedKeys, seenIDs)
	if len(changed) > 0 {
		writeJSONResponse(w, changed)
		return
	}

	telemetry.LongPollActive.Inc()
	defer telemetry.LongPollActive.Dec()

	deadline := time.After(h.longPollTimeout)
	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline:
			w.WriteHeader(http.StatusNotModified)
			return
		case <-signals:
			// A watched key changed; re-answer from the cache so the
			// response carries the authoritative latest ids.
			changed = h.changedNotifications(names, watchedKeys, seenIDs)
			if len(changed) > 0 {
				writeJSONResponse(w, changed)
				return
			}
		}
	}
}

func (h *Handlers) changedNotifications(names []string, watchedKeys map[string][]string, seenIDs map[string]int64) []NamespaceNotification {
	var changed []NamespaceNotification
	for _, name := range names {
		latest := h.cache.FindLatestForContents(watchedKeys[name])
		if latest != nil && latest.ID > seenIDs[name] {
			changed = append(changed, NamespaceNotification{
				NamespaceName:  name,
				NotificationID: latest.ID,
			})
		}
	}
	return changed
}
