package arca

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeArray is an in-memory ARCA REST API served by httptest.
type fakeArray struct {
	mu        sync.Mutex
	volumes   map[string]*Volume
	snapshots map[string]*Snapshot
	policies  map[string]*ExportPolicy
	rels      map[string]*Replication
	transfers map[string]*Transfer
	seq       int

	// fail answers the next n requests matching "METHOD /path" with status.
	fail map[string]failure
	hits map[string]int

	lastCreate *CreateVolumeRequest
	lastPatch  *PatchVolumeRequest
	authHeader string

	server *httptest.Server
}

type failure struct {
	status  int
	message string
	count   int
}

func newFakeArray(t *testing.T) *fakeArray {
	f := &fakeArray{
		volumes:   map[string]*Volume{},
		snapshots: map[string]*Snapshot{},
		policies:  map[string]*ExportPolicy{},
		rels:      map[string]*Replication{},
		transfers: map[string]*Transfer{},
		fail:      map[string]failure{},
		hits:      map[string]int{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/volumes", f.createVolume)
	mux.HandleFunc("GET /v1/volumes", f.listVolumes)
	mux.HandleFunc("GET /v1/volumes/{svm}/{name}", f.getVolume)
	mux.HandleFunc("PATCH /v1/volumes/{svm}/{name}", f.patchVolume)
	mux.HandleFunc("DELETE /v1/volumes/{svm}/{name}", f.deleteVolume)
	mux.HandleFunc("POST /v1/volumes/{svm}/{name}/snapshots", f.createSnapshot)
	mux.HandleFunc("GET /v1/volumes/{svm}/{name}/snapshots", f.listSnapshots)
	mux.HandleFunc("GET /v1/volumes/{svm}/{name}/snapshots/{snap}", f.getSnapshot)
	mux.HandleFunc("DELETE /v1/volumes/{svm}/{name}/snapshots/{snap}", f.deleteSnapshot)
	mux.HandleFunc("GET /v1/snapshots", f.listSVMSnapshots)
	mux.HandleFunc("POST /v1/export-policies", f.createPolicy)
	mux.HandleFunc("DELETE /v1/export-policies/{svm}/{name}", f.deletePolicy)
	mux.HandleFunc("POST /v1/replications", f.createReplication)
	mux.HandleFunc("GET /v1/replications/{uuid}", f.getReplication)
	mux.HandleFunc("POST /v1/replications/{uuid}/transfers", f.startTransfer)
	mux.HandleFunc("GET /v1/replications/{uuid}/transfers/{transfer}", f.getTransfer)
	mux.HandleFunc("POST /v1/cli", f.cli)
	mux.HandleFunc("GET /v1/svms/{name}", f.getSVM)

	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		key := r.Method + " " + r.URL.Path
		f.hits[key]++
		f.authHeader = r.Header.Get("Authorization")
		fl, ok := f.fail[key]
		if ok {
			fl.count--
			if fl.count <= 0 {
				delete(f.fail, key)
			} else {
				f.fail[key] = fl
			}
		}
		f.mu.Unlock()

		if ok {
			writeError(w, fl.status, fl.message)
			return
		}
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeArray) client(t *testing.T) *Client {
	c, err := NewClient(&ClientConfig{
		BaseURL:      f.server.URL,
		RetryCount:   2,
		RetryBackoff: time.Millisecond,
		AuthToken:    "secret",
	})
	require.NoError(t, err)
	return c
}

func (f *fakeArray) failNext(method, path string, status int, message string, count int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[method+" "+path] = failure{status: status, message: message, count: count}
}

func (f *fakeArray) hitCount(method, path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits[method+" "+path]
}

func (f *fakeArray) nextUUID() string {
	f.seq++
	return fmt.Sprintf("uuid-%04d", f.seq)
}

func writeData(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(APIResponse{Data: data})
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(APIResponse{Error: message})
}

func volKey(svm, name string) string { return svm + "/" + name }

func snapKey(svm, vol, name string) string { return svm + "/" + vol + "@" + name }

func (f *fakeArray) createVolume(w http.ResponseWriter, r *http.Request) {
	var req CreateVolumeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastCreate = &req

	key := volKey(req.SVM, req.Name)
	if _, ok := f.volumes[key]; ok {
		writeError(w, http.StatusConflict, "volume already exists")
		return
	}

	vol := &Volume{
		UUID:           f.nextUUID(),
		Name:           req.Name,
		SVM:            req.SVM,
		Size:           req.Size,
		Style:          req.Style,
		Aggregates:     req.Aggregates,
		State:          VolumeStateOnline,
		Comment:        req.Comment,
		ExportPolicy:   req.ExportPolicy,
		SnapshotPolicy: req.SnapshotPolicy,
		JunctionPath:   req.JunctionPath,
		CreatedAt:      time.Now().UTC(),
	}
	if c := req.Clone; c != nil {
		if _, ok := f.snapshots[snapKey(c.ParentSVM, c.ParentVolume, c.ParentSnapshot)]; !ok {
			writeError(w, http.StatusNotFound, "parent snapshot not found")
			return
		}
		parent := f.volumes[volKey(c.ParentSVM, c.ParentVolume)]
		if vol.Size == 0 && parent != nil {
			vol.Size = parent.Size
		}
		vol.Clone = &CloneInfo{
			IsClone:        true,
			ParentSVM:      c.ParentSVM,
			ParentVolume:   c.ParentVolume,
			ParentSnapshot: c.ParentSnapshot,
		}
	}
	f.volumes[key] = vol
	writeData(w, http.StatusCreated, vol)
}

func (f *fakeArray) getVolume(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	vol, ok := f.volumes[volKey(r.PathValue("svm"), r.PathValue("name"))]
	if !ok {
		writeError(w, http.StatusNotFound, "volume not found")
		return
	}
	writeData(w, http.StatusOK, vol)
}

func (f *fakeArray) listVolumes(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	svm := r.URL.Query().Get("svm")
	vols := []*Volume{}
	for _, v := range f.volumes {
		if v.SVM == svm {
			vols = append(vols, v)
		}
	}
	writeData(w, http.StatusOK, vols)
}

func (f *fakeArray) patchVolume(w http.ResponseWriter, r *http.Request) {
	var req PatchVolumeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastPatch = &req

	vol, ok := f.volumes[volKey(r.PathValue("svm"), r.PathValue("name"))]
	if !ok {
		writeError(w, http.StatusNotFound, "volume not found")
		return
	}
	if req.RestoreToSnapshot != "" {
		if _, ok := f.snapshots[snapKey(vol.SVM, vol.Name, req.RestoreToSnapshot)]; !ok {
			writeError(w, http.StatusNotFound, "snapshot not found")
			return
		}
	}
	if req.SplitClone {
		if vol.Clone == nil || !vol.Clone.IsClone {
			writeError(w, http.StatusBadRequest, "volume is not a clone")
			return
		}
		vol.Clone.SplitInitiated = true
	}
	writeData(w, http.StatusOK, vol)
}

func (f *fakeArray) deleteVolume(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := volKey(r.PathValue("svm"), r.PathValue("name"))
	if _, ok := f.volumes[key]; !ok {
		writeError(w, http.StatusNotFound, "volume not found")
		return
	}
	delete(f.volumes, key)
	for k := range f.snapshots {
		if strings.HasPrefix(k, key+"@") {
			delete(f.snapshots, k)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (f *fakeArray) createSnapshot(w http.ResponseWriter, r *http.Request) {
	var req CreateSnapshotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	svm, name := r.PathValue("svm"), r.PathValue("name")
	vol, ok := f.volumes[volKey(svm, name)]
	if !ok {
		writeError(w, http.StatusNotFound, "volume not found")
		return
	}
	key := snapKey(svm, name, req.Name)
	if _, ok := f.snapshots[key]; ok {
		writeError(w, http.StatusConflict, "snapshot already exists")
		return
	}
	snap := &Snapshot{
		UUID:            f.nextUUID(),
		Name:            req.Name,
		SVM:             svm,
		Volume:          name,
		State:           SnapshotStateValid,
		Size:            vol.Size,
		SnapMirrorLabel: req.SnapMirrorLabel,
		CreatedAt:       time.Now().UTC(),
	}
	f.snapshots[key] = snap
	writeData(w, http.StatusCreated, snap)
}

func (f *fakeArray) getSnapshot(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap, ok := f.snapshots[snapKey(r.PathValue("svm"), r.PathValue("name"), r.PathValue("snap"))]
	if !ok {
		writeError(w, http.StatusNotFound, "snapshot not found")
		return
	}
	writeData(w, http.StatusOK, snap)
}

func (f *fakeArray) listSnapshots(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	svm, name := r.PathValue("svm"), r.PathValue("name")
	if _, ok := f.volumes[volKey(svm, name)]; !ok {
		writeError(w, http.StatusNotFound, "volume not found")
		return
	}
	snaps := []*Snapshot{}
	for _, s := range f.snapshots {
		if s.SVM == svm && s.Volume == name {
			snaps = append(snaps, s)
		}
	}
	writeData(w, http.StatusOK, snaps)
}

func (f *fakeArray) listSVMSnapshots(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	svm := r.URL.Query().Get("svm")
	snaps := []*Snapshot{}
	for _, s := range f.snapshots {
		if s.SVM == svm {
			snaps = append(snaps, s)
		}
	}
	writeData(w, http.StatusOK, snaps)
}

func (f *fakeArray) deleteSnapshot(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	svm, name, snap := r.PathValue("svm"), r.PathValue("name"), r.PathValue("snap")
	key := snapKey(svm, name, snap)
	if _, ok := f.snapshots[key]; !ok {
		writeError(w, http.StatusNotFound, "snapshot not found")
		return
	}
	for _, v := range f.volumes {
		if c := v.Clone; c != nil && c.IsClone && !c.SplitInitiated &&
			c.ParentSVM == svm && c.ParentVolume == name && c.ParentSnapshot == snap {
			writeError(w, http.StatusConflict, "snapshot is in use by a clone")
			return
		}
	}
	delete(f.snapshots, key)
	w.WriteHeader(http.StatusNoContent)
}

func (f *fakeArray) createPolicy(w http.ResponseWriter, r *http.Request) {
	var req ExportPolicy
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	key := volKey(req.SVM, req.Name)
	if _, ok := f.policies[key]; ok {
		writeError(w, http.StatusConflict, "export policy already exists")
		return
	}
	f.policies[key] = &req
	writeData(w, http.StatusCreated, &req)
}

func (f *fakeArray) deletePolicy(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := volKey(r.PathValue("svm"), r.PathValue("name"))
	if _, ok := f.policies[key]; !ok {
		writeError(w, http.StatusNotFound, "export policy not found")
		return
	}
	delete(f.policies, key)
	w.WriteHeader(http.StatusNoContent)
}

func (f *fakeArray) createReplication(w http.ResponseWriter, r *http.Request) {
	var req CreateReplicationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	rel := &Replication{
		UUID:        f.nextUUID(),
		Source:      req.Source,
		Destination: req.Destination,
		Policy:      req.Policy,
		State:       "snapmirrored",
		Healthy:     true,
	}
	f.rels[rel.UUID] = rel
	writeData(w, http.StatusCreated, rel)
}

func (f *fakeArray) getReplication(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rel, ok := f.rels[r.PathValue("uuid")]
	if !ok {
		writeError(w, http.StatusNotFound, "replication relationship not found")
		return
	}
	writeData(w, http.StatusOK, rel)
}

func (f *fakeArray) startTransfer(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rel, ok := f.rels[r.PathValue("uuid")]
	if !ok {
		writeError(w, http.StatusNotFound, "replication relationship not found")
		return
	}
	now := time.Now().UTC()
	t := &Transfer{UUID: f.nextUUID(), State: "success", BytesTransferred: 4096, EndTime: &now}
	f.transfers[rel.UUID+"/"+t.UUID] = t
	rel.LastTransfer = t
	writeData(w, http.StatusAccepted, &Transfer{UUID: t.UUID, State: "queued"})
}

func (f *fakeArray) getTransfer(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.transfers[r.PathValue("uuid")+"/"+r.PathValue("transfer")]
	if !ok {
		writeError(w, http.StatusNotFound, "transfer not found")
		return
	}
	writeData(w, http.StatusOK, t)
}

func (f *fakeArray) cli(w http.ResponseWriter, r *http.Request) {
	var req CLIRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeData(w, http.StatusOK, CLIResponse{Output: "ran: " + req.Command})
}

func (f *fakeArray) getSVM(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if name != "svm0" {
		writeError(w, http.StatusNotFound, "svm not found")
		return
	}
	writeData(w, http.StatusOK, SVM{Name: name, UUID: "svm-uuid", State: "running"})
}
