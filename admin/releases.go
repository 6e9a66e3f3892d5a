package admin

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/burrowhq/burrow/release"
)

type publishBody struct {
	Name        string   `json:"name"`
	Comment     string   `json:"comment"`
	Operator    string   `json:"operator"`
	IsEmergency bool     `json:"isEmergency"`
	GrayDelKeys []string `json:"grayDelKeys,omitempty"`
}

func (b publishBody) request(appID, clusterName, namespaceName string) release.PublishRequest {
	return release.PublishRequest{
		AppID:         appID,
		ClusterName:   clusterName,
		NamespaceName: namespaceName,
		Name:          b.Name,
		Comment:       b.Comment,
		Operator:      b.Operator,
		IsEmergency:   b.IsEmergency,
	}
}

func namespaceParams(r *http.Request) (appID, clusterName, namespaceName string) {
	return chi.URLParam(r, "appID"), chi.URLParam(r, "cluster"), chi.URLParam(r, "namespace")
}

func (h *Handlers) handlePublish(w http.ResponseWriter, r *http.Request) {
	var body publishBody
	if !decodeBody(w, r, &body) {
		return
	}
	appID, cluster, namespace := namespaceParams(r)
	rel, err := h.releases.Publish(r.Context(), body.request(appID, cluster, namespace))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSONResponse(w, rel)
}

func (h *Handlers) handleGrayDelPublish(w http.ResponseWriter, r *http.Request) {
	var body publishBody
	if !decodeBody(w, r, &body) {
		return
	}
	appID, cluster, namespace := namespaceParams(r)
	rel, err := h.releases.GrayDeletionPublish(r.Context(), body.request(appID, cluster, namespace), body.GrayDelKeys)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSONResponse(w, rel)
}

type mergeReleaseBody struct {
	publishBody
	ChangeSets release.ItemChangeSets `json:"changeSets"`
}

func (h *Handlers) handleMergeRelease(w http.ResponseWriter, r *http.Request) {
	var body mergeReleaseBody
	if !decodeBody(w, r, &body) {
		return
	}
	appID, cluster, namespace := namespaceParams(r)
	branch := chi.URLParam(r, "branch")
	rel, err := h.releases.MergeBranchChangeSetsAndRelease(r.Context(),
		body.request(appID, cluster, namespace), branch, body.ChangeSets)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSONResponse(w, rel)
}

func (h *Handlers) handleRollback(w http.ResponseWriter, r *http.Request) {
	releaseID, err := strconv.ParseInt(chi.URLParam(r, "releaseID"), 10, 64)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "invalid release id")
		return
	}
	operator := r.URL.Query().Get("operator")
	if operator == "" {
		writeErrorResponse(w, http.StatusBadRequest, "operator is required")
		return
	}
	rel, err := h.releases.Rollback(r.Context(), releaseID, operator)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSONResponse(w, rel)
}

func (h *Handlers) handleGetRelease(w http.ResponseWriter, r *http.Request) {
	releaseID, err := strconv.ParseInt(chi.URLParam(r, "releaseID"), 10, 64)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "invalid release id")
		return
	}
	rel, err := h.releases.FindRelease(r.Context(), releaseID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSONResponse(w, rel)
}

func (h *Handlers) handleGetReleasesByIDs(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("releaseIds")
	if raw == "" {
		writeErrorResponse(w, http.StatusBadRequest, "releaseIds is required")
		return
	}
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			writeErrorResponse(w, http.StatusBadRequest, "invalid release id: "+part)
			return
		}
		ids = append(ids, id)
	}
	rels, err := h.releases.FindByReleaseIDs(r.Context(), ids)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSONResponse(w, rels)
}

func (h *Handlers) handleLatestActiveRelease(w http.ResponseWriter, r *http.Request) {
	appID, cluster, namespace := namespaceParams(r)
	rel, err := h.releases.FindLatestActiveRelease(r.Context(), appID, cluster, namespace)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if rel == nil {
		writeErrorResponse(w, http.StatusNotFound, "no active release")
		return
	}
	writeJSONResponse(w, rel)
}

func (h *Handlers) handleActiveReleases(w http.ResponseWriter, r *http.Request) {
	appID, cluster, namespace := namespaceParams(r)
	page, size := parsePage(r)
	rels, err := h.releases.FindActiveReleases(r.Context(), appID, cluster, namespace, page, size)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSONResponse(w, rels)
}

func (h *Handlers) handleAllReleases(w http.ResponseWriter, r *http.Request) {
	appID, cluster, namespace := namespaceParams(r)
	page, size := parsePage(r)
	rels, err := h.releases.FindAllReleases(r.Context(), appID, cluster, namespace, page, size)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSONResponse(w, rels)
}

func (h *Handlers) handleReleaseHistories(w http.ResponseWriter, r *http.Request) {
	appID, cluster, namespace := namespaceParams(r)
	page, size := parsePage(r)
	histories, err := h.releases.FindReleaseHistories(r.Context(), appID, cluster, namespace, page, size)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSONResponse(w, histories)
}
