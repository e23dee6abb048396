// Copyright (C) The MigraHosting Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package pods

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/migrahosting-alt/mpanel-sub019/sdk/go/ctxlog"
	"github.com/migrahosting-alt/mpanel-sub019/sdk/go/mpanel"
)

// Recorder writes CloudPod lifecycle events. It is fire-and-forget:
// a failed write is logged and dropped, never propagated, so event
// sink trouble cannot fail the enclosing job.
type Recorder struct {
	store Store
}

func NewRecorder(store Store) *Recorder {
	return &Recorder{store: store}
}

// RecordEvent appends one event. cloudPodID may be empty for
// fleet-wide events (health sweeps). data is marshalled to JSON;
// nil means no structured data.
func (rec *Recorder) RecordEvent(ctx context.Context, tenantID, cloudPodID string, etype mpanel.EventType, message string, data interface{}) {
	logger := ctxlog.FromContext(ctx).WithFields(logrus.Fields{
		"CloudPodID": cloudPodID,
		"EventType":  etype,
	})
	var raw json.RawMessage
	if data != nil {
		var err error
		raw, err = json.Marshal(data)
		if err != nil {
			logger.WithError(err).Warn("dropping unencodable event data")
		}
	}
	ev := &mpanel.CloudPodEvent{
		ID:         uuid.NewString(),
		TenantID:   tenantID,
		CloudPodID: cloudPodID,
		Type:       etype,
		Message:    message,
		Data:       raw,
		CreatedAt:  time.Now().UTC(),
	}
	if err := rec.store.AddEvent(ctx, ev); err != nil {
		logger.WithError(err).Warn("error recording event")
	}
}
