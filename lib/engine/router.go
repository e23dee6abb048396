// Copyright (C) The MigraHosting Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package engine

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/migrahosting-alt/mpanel-sub019/lib/ledger"
	"github.com/migrahosting-alt/mpanel-sub019/lib/pods"
	"github.com/migrahosting-alt/mpanel-sub019/sdk/go/ctxlog"
	"github.com/migrahosting-alt/mpanel-sub019/sdk/go/mpanel"
)

// Router returns the management API. All /v1 routes require the
// configured management token as a bearer credential; /metrics and
// /_health are open.
func (eng *Engine) Router() http.Handler {
	rtr := httprouter.New()
	rtr.Handler("GET", "/metrics", promhttp.HandlerFor(eng.Registry, promhttp.HandlerOpts{}))
	rtr.HandlerFunc("GET", "/_health", func(w http.ResponseWriter, r *http.Request) {
		eng.writeJSON(w, http.StatusOK, map[string]string{"health": "OK"})
	})

	rtr.POST("/v1/jobs", eng.auth(eng.apiEnqueue))
	rtr.GET("/v1/jobs", eng.auth(eng.apiListJobs))
	rtr.GET("/v1/jobs/:id", eng.auth(eng.apiGetJob))
	rtr.POST("/v1/jobs/:id/retry", eng.auth(eng.apiRetryJob))
	rtr.POST("/v1/jobs/:id/cancel", eng.auth(eng.apiCancelJob))
	rtr.GET("/v1/cloudpods", eng.auth(eng.apiListPods))
	rtr.GET("/v1/cloudpods/:id", eng.auth(eng.apiGetPod))
	rtr.GET("/v1/cloudpods/:id/events", eng.auth(eng.apiPodEvents))
	rtr.GET("/v1/nodes", eng.auth(eng.apiListNodes))
	rtr.POST("/v1/sweep", eng.auth(eng.apiSweep))
	rtr.POST("/v1/reconcile", eng.auth(eng.apiReconcile))
	return rtr
}

func (eng *Engine) auth(h httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		token := eng.Cfg.ManagementToken
		if token != "" && r.Header.Get("Authorization") != "Bearer "+token {
			eng.writeError(w, http.StatusUnauthorized, errors.New("management token required"))
			return
		}
		r = r.WithContext(ctxlog.Context(r.Context(), eng.Logger))
		h(w, r, ps)
	}
}

type enqueueRequest struct {
	TenantID string          `json:"tenant_id"`
	Type     mpanel.JobType  `json:"jtype"`
	Payload  json.RawMessage `json:"payload"`
}

func (eng *Engine) apiEnqueue(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		eng.writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.TenantID == "" {
		eng.writeError(w, http.StatusBadRequest, mpanel.ValidationError{Field: "tenant_id", Reason: "must not be empty"})
		return
	}
	payload, err := mpanel.UnmarshalPayload(req.Type, req.Payload)
	if err != nil {
		eng.writeError(w, http.StatusBadRequest, err)
		return
	}
	job, err := eng.Queue.Enqueue(r.Context(), req.TenantID, payload)
	if err != nil {
		eng.writeAPIError(w, err)
		return
	}
	eng.writeJSON(w, http.StatusCreated, job)
}

func (eng *Engine) apiListJobs(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	t := mpanel.JobType(r.URL.Query().Get("jtype"))
	status := mpanel.JobStatus(r.URL.Query().Get("status"))
	jobs, err := eng.Queue.List(r.Context(), t, status)
	if err != nil {
		eng.writeAPIError(w, err)
		return
	}
	eng.writeJSON(w, http.StatusOK, map[string]interface{}{"items": jobs})
}

func (eng *Engine) apiGetJob(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	job, err := eng.Queue.Get(r.Context(), ps.ByName("id"))
	if err != nil {
		eng.writeAPIError(w, err)
		return
	}
	eng.writeJSON(w, http.StatusOK, job)
}

func (eng *Engine) apiRetryJob(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if err := eng.Queue.Retry(r.Context(), ps.ByName("id")); err != nil {
		eng.writeAPIError(w, err)
		return
	}
	eng.writeJSON(w, http.StatusOK, map[string]string{"status": "queued"})
}

func (eng *Engine) apiCancelJob(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if err := eng.Queue.Cancel(r.Context(), ps.ByName("id")); err != nil {
		eng.writeAPIError(w, err)
		return
	}
	eng.writeJSON(w, http.StatusOK, map[string]string{"status": "failed"})
}

func (eng *Engine) apiListPods(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	filter := pods.ListFilter{
		TenantID: r.URL.Query().Get("tenant_id"),
		NodeID:   r.URL.Query().Get("node_id"),
	}
	items, err := eng.Pods.List(r.Context(), filter)
	if err != nil {
		eng.writeAPIError(w, err)
		return
	}
	eng.writeJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

func (eng *Engine) apiGetPod(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	pod, err := eng.Pods.Get(r.Context(), ps.ByName("id"))
	if err != nil {
		eng.writeAPIError(w, err)
		return
	}
	eng.writeJSON(w, http.StatusOK, pod)
}

func (eng *Engine) apiPodEvents(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	events, err := eng.Pods.ListEvents(r.Context(), ps.ByName("id"))
	if err != nil {
		eng.writeAPIError(w, err)
		return
	}
	eng.writeJSON(w, http.StatusOK, map[string]interface{}{"items": events})
}

type nodeView struct {
	mpanel.Node
	Reserved ledger.Usage `json:"reserved"`
}

func (eng *Engine) apiListNodes(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	nodes, err := eng.Nodes.All(r.Context())
	if err != nil {
		eng.writeAPIError(w, err)
		return
	}
	items := make([]nodeView, len(nodes))
	for i, node := range nodes {
		usage, err := eng.Ledger.NodeUsage(r.Context(), node.ID)
		if err != nil {
			eng.writeAPIError(w, err)
			return
		}
		items[i] = nodeView{Node: node, Reserved: usage}
	}
	eng.writeJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

func (eng *Engine) apiSweep(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	enqueued := eng.SweepNow(r.Context())
	eng.writeJSON(w, http.StatusOK, map[string]bool{"enqueued": enqueued})
}

func (eng *Engine) apiReconcile(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	drifts, err := eng.ReconcileNow(r.Context())
	if err != nil {
		eng.writeAPIError(w, err)
		return
	}
	eng.writeJSON(w, http.StatusOK, map[string]interface{}{"drifts": drifts})
}

// writeAPIError maps the error taxonomy onto HTTP statuses.
func (eng *Engine) writeAPIError(w http.ResponseWriter, err error) {
	var ve mpanel.ValidationError
	var ise mpanel.InvalidStateError
	switch {
	case mpanel.NotFound(err):
		eng.writeError(w, http.StatusNotFound, err)
	case errors.As(err, &ve):
		eng.writeError(w, http.StatusBadRequest, err)
	case errors.As(err, &ise):
		eng.writeError(w, http.StatusConflict, err)
	default:
		eng.writeError(w, http.StatusInternalServerError, err)
	}
}

func (eng *Engine) writeError(w http.ResponseWriter, code int, err error) {
	eng.writeJSON(w, code, map[string]interface{}{"errors": []string{err.Error()}})
}

func (eng *Engine) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		eng.Logger.WithError(err).Error("error encoding response")
	}
}
