// Copyright (C) The MigraHosting Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package pods

import (
	"context"
	"sort"
	"sync"

	"github.com/migrahosting-alt/mpanel-sub019/sdk/go/mpanel"
)

// MemStore is the in-memory Store used by tests and ephemeral
// mode.
type MemStore struct {
	mtx    sync.Mutex
	pods   map[string]*mpanel.CloudPod
	events []mpanel.CloudPodEvent
	seq    map[string]int
	nextId int
}

func NewMemStore() *MemStore {
	return &MemStore{
		pods: map[string]*mpanel.CloudPod{},
		seq:  map[string]int{},
	}
}

func copyPod(pod *mpanel.CloudPod) *mpanel.CloudPod {
	p := *pod
	return &p
}

func (ms *MemStore) Insert(ctx context.Context, pod *mpanel.CloudPod) error {
	ms.mtx.Lock()
	defer ms.mtx.Unlock()
	ms.nextId++
	ms.seq[pod.ID] = ms.nextId
	ms.pods[pod.ID] = copyPod(pod)
	return nil
}

func (ms *MemStore) Get(ctx context.Context, id string) (*mpanel.CloudPod, error) {
	ms.mtx.Lock()
	defer ms.mtx.Unlock()
	pod, ok := ms.pods[id]
	if !ok {
		return nil, mpanel.InvalidStateError{Op: "get pod", ID: id, Current: "missing"}
	}
	return copyPod(pod), nil
}

func (ms *MemStore) Update(ctx context.Context, pod *mpanel.CloudPod) error {
	ms.mtx.Lock()
	defer ms.mtx.Unlock()
	if _, ok := ms.pods[pod.ID]; !ok {
		return mpanel.InvalidStateError{Op: "update pod", ID: pod.ID, Current: "missing"}
	}
	ms.pods[pod.ID] = copyPod(pod)
	return nil
}

func (ms *MemStore) List(ctx context.Context, filter ListFilter) ([]mpanel.CloudPod, error) {
	ms.mtx.Lock()
	defer ms.mtx.Unlock()
	var out []mpanel.CloudPod
	for _, pod := range ms.pods {
		if filter.TenantID != "" && pod.TenantID != filter.TenantID {
			continue
		}
		if filter.NodeID != "" && pod.NodeID != filter.NodeID {
			continue
		}
		if filter.OnlyReserved && !pod.Status.Reserved() {
			continue
		}
		out = append(out, *copyPod(pod))
	}
	sort.Slice(out, func(i, j int) bool {
		return ms.seq[out[i].ID] < ms.seq[out[j].ID]
	})
	return out, nil
}

func (ms *MemStore) VMIDsOnNode(ctx context.Context, nodeID string) ([]int, error) {
	ms.mtx.Lock()
	defer ms.mtx.Unlock()
	var ids []int
	for _, pod := range ms.pods {
		if pod.NodeID == nodeID && pod.Status != mpanel.PodDeleted {
			ids = append(ids, pod.VMID)
		}
	}
	return ids, nil
}

func (ms *MemStore) UsedIPs(ctx context.Context) ([]string, error) {
	ms.mtx.Lock()
	defer ms.mtx.Unlock()
	var ips []string
	for _, pod := range ms.pods {
		if pod.Status != mpanel.PodDeleted && pod.IP != "" {
			ips = append(ips, pod.IP)
		}
	}
	return ips, nil
}

func (ms *MemStore) CountOnNode(ctx context.Context, nodeID string) (int, error) {
	ms.mtx.Lock()
	defer ms.mtx.Unlock()
	n := 0
	for _, pod := range ms.pods {
		if pod.NodeID == nodeID && pod.Status.Reserved() {
			n++
		}
	}
	return n, nil
}

func (ms *MemStore) AddEvent(ctx context.Context, ev *mpanel.CloudPodEvent) error {
	ms.mtx.Lock()
	defer ms.mtx.Unlock()
	ms.events = append(ms.events, *ev)
	return nil
}

func (ms *MemStore) ListEvents(ctx context.Context, podID string) ([]mpanel.CloudPodEvent, error) {
	ms.mtx.Lock()
	defer ms.mtx.Unlock()
	var out []mpanel.CloudPodEvent
	for _, ev := range ms.events {
		if podID == "" || ev.CloudPodID == podID {
			out = append(out, ev)
		}
	}
	return out, nil
}
