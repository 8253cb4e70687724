package testing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/dl-alexandre/mrisync/internal/utils"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

var parentQuery = regexp.MustCompile(`'([^']+)' in parents`)

// DriveServer is an in-memory Drive v3 endpoint covering the calls the
// sync makes: files.generateIds, files.list by parent, files.create
// (folder or multipart upload), files.update with media and files.get.
type DriveServer struct {
	Server *httptest.Server

	mu       sync.Mutex
	files    map[string]*drive.File
	content  map[string][]byte
	nextID   int
	pageSize int
	failures map[string][]int
	drops    map[string][]int
	requests map[string]int
}

// NewDriveServer starts a server and registers its shutdown with t
func NewDriveServer(t *testing.T) *DriveServer {
	t.Helper()
	ds := &DriveServer{
		files:    make(map[string]*drive.File),
		content:  make(map[string][]byte),
		failures: make(map[string][]int),
		drops:    make(map[string][]int),
		requests: make(map[string]int),
	}
	ds.Server = httptest.NewServer(http.HandlerFunc(ds.handle))
	t.Cleanup(ds.Server.Close)
	return ds
}

// Service returns a Drive client pointed at the server
func (ds *DriveServer) Service(t *testing.T) *drive.Service {
	t.Helper()
	svc, err := drive.NewService(context.Background(),
		option.WithEndpoint(ds.Server.URL+"/"),
		option.WithHTTPClient(ds.Server.Client()),
	)
	if err != nil {
		t.Fatalf("drive.NewService: %v", err)
	}
	return svc
}

// SetPageSize caps listing pages so pagination is exercised
func (ds *DriveServer) SetPageSize(n int) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.pageSize = n
}

// FailNext makes the next requests of op ("list", "create", "upload",
// "update", "get") answer with the given HTTP status codes, in order.
func (ds *DriveServer) FailNext(op string, codes ...int) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.failures[op] = append(ds.failures[op], codes...)
}

// DropNext makes the next requests of op succeed on the server but answer
// with the given HTTP status codes, as when a response is lost in transit
func (ds *DriveServer) DropNext(op string, codes ...int) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.drops[op] = append(ds.drops[op], codes...)
}

// Children returns the stored children of parent named name
func (ds *DriveServer) Children(parent, name string) []*drive.File {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	var out []*drive.File
	for _, f := range ds.files {
		if f.Name != name {
			continue
		}
		for _, p := range f.Parents {
			if p == parent {
				out = append(out, f)
				break
			}
		}
	}
	return out
}

// Requests returns how many requests of op were received
func (ds *DriveServer) Requests(op string) int {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	return ds.requests[op]
}

// AddFile seeds the server with f and returns it
func (ds *DriveServer) AddFile(f *drive.File, content []byte) *drive.File {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	if f.Id == "" {
		f.Id = ds.newID()
	}
	if content != nil {
		ds.content[f.Id] = content
		f.Size = int64(len(content))
	}
	ds.files[f.Id] = f
	return f
}

// File returns the stored metadata of id
func (ds *DriveServer) File(id string) (*drive.File, bool) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	f, ok := ds.files[id]
	return f, ok
}

// Content returns the stored bytes of id
func (ds *DriveServer) Content(id string) []byte {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	return ds.content[id]
}

func (ds *DriveServer) newID() string {
	ds.nextID++
	return fmt.Sprintf("id%04d", ds.nextID)
}

func (ds *DriveServer) handle(w http.ResponseWriter, r *http.Request) {
	op := operation(r)

	ds.mu.Lock()
	ds.requests[op]++
	if codes := ds.failures[op]; len(codes) > 0 {
		code := codes[0]
		ds.failures[op] = codes[1:]
		ds.mu.Unlock()
		writeError(w, code)
		return
	}
	if codes := ds.drops[op]; len(codes) > 0 {
		code := codes[0]
		ds.drops[op] = codes[1:]
		ds.mu.Unlock()
		ds.serve(httptest.NewRecorder(), r, op)
		writeError(w, code)
		return
	}
	ds.mu.Unlock()

	ds.serve(w, r, op)
}

func (ds *DriveServer) serve(w http.ResponseWriter, r *http.Request, op string) {
	switch op {
	case "generateIds":
		ds.generateIDs(w, r)
	case "list":
		ds.list(w, r)
	case "get":
		ds.get(w, r)
	case "create":
		ds.create(w, r)
	case "upload", "update":
		ds.upload(w, r, op)
	default:
		writeError(w, http.StatusNotImplemented)
	}
}

func operation(r *http.Request) string {
	path := strings.TrimSuffix(r.URL.Path, "/")
	switch {
	case r.Method == http.MethodGet && strings.HasSuffix(path, "/files/generateIds"):
		return "generateIds"
	case r.Method == http.MethodGet && strings.HasSuffix(path, "/files"):
		return "list"
	case r.Method == http.MethodGet:
		return "get"
	case r.Method == http.MethodPost && strings.HasPrefix(path, "/upload/"):
		return "upload"
	case r.Method == http.MethodPost:
		return "create"
	case r.Method == http.MethodPatch:
		return "update"
	}
	return r.Method
}

func (ds *DriveServer) list(w http.ResponseWriter, r *http.Request) {
	m := parentQuery.FindStringSubmatch(r.URL.Query().Get("q"))
	if m == nil {
		writeError(w, http.StatusBadRequest)
		return
	}
	parent := m[1]

	ds.mu.Lock()
	var children []*drive.File
	for _, f := range ds.files {
		if f.Trashed {
			continue
		}
		for _, p := range f.Parents {
			if p == parent {
				children = append(children, f)
				break
			}
		}
	}
	pageSize := ds.pageSize
	ds.mu.Unlock()

	sort.Slice(children, func(i, j int) bool { return children[i].Id < children[j].Id })

	offset, _ := strconv.Atoi(r.URL.Query().Get("pageToken"))
	if offset > len(children) {
		offset = len(children)
	}
	page := children[offset:]
	next := ""
	if pageSize > 0 && len(page) > pageSize {
		page = page[:pageSize]
		next = strconv.Itoa(offset + pageSize)
	}

	writeJSON(w, &drive.FileList{Files: page, NextPageToken: next})
}

func (ds *DriveServer) generateIDs(w http.ResponseWriter, r *http.Request) {
	count, err := strconv.Atoi(r.URL.Query().Get("count"))
	if err != nil || count < 1 {
		count = 10
	}
	ds.mu.Lock()
	ids := make([]string, count)
	for i := range ids {
		ids[i] = ds.newID()
	}
	ds.mu.Unlock()
	writeJSON(w, &drive.GeneratedIds{Ids: ids, Space: "drive", Kind: "drive#generatedIds"})
}

// store adds meta unless its id is taken, which Drive answers with 409
func (ds *DriveServer) store(w http.ResponseWriter, meta *drive.File, content []byte) {
	if meta.Id != "" {
		if _, taken := ds.File(meta.Id); taken {
			writeError(w, http.StatusConflict)
			return
		}
	}
	writeJSON(w, ds.AddFile(meta, content))
}

func (ds *DriveServer) get(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
	f, ok := ds.File(id)
	if !ok {
		writeError(w, http.StatusNotFound)
		return
	}
	writeJSON(w, f)
}

func (ds *DriveServer) create(w http.ResponseWriter, r *http.Request) {
	var meta drive.File
	if err := json.NewDecoder(r.Body).Decode(&meta); err != nil {
		writeError(w, http.StatusBadRequest)
		return
	}
	ds.store(w, &meta, nil)
}

func (ds *DriveServer) upload(w http.ResponseWriter, r *http.Request, op string) {
	meta, body, err := readMultipart(r)
	if err != nil {
		writeError(w, http.StatusBadRequest)
		return
	}

	if op == "upload" {
		ds.store(w, meta, body)
		return
	}

	id := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
	ds.mu.Lock()
	f, ok := ds.files[id]
	if ok {
		ds.content[id] = body
		f.Size = int64(len(body))
		if meta.ModifiedTime != "" {
			f.ModifiedTime = meta.ModifiedTime
		}
	}
	ds.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound)
		return
	}
	writeJSON(w, f)
}

func readMultipart(r *http.Request) (*drive.File, []byte, error) {
	mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return nil, nil, err
	}
	if !strings.HasPrefix(mediaType, "multipart/") {
		return nil, nil, fmt.Errorf("unexpected content type %q", mediaType)
	}

	mr := multipart.NewReader(r.Body, params["boundary"])
	metaPart, err := mr.NextPart()
	if err != nil {
		return nil, nil, err
	}
	var meta drive.File
	if err := json.NewDecoder(metaPart).Decode(&meta); err != nil {
		return nil, nil, err
	}
	mediaPart, err := mr.NextPart()
	if err != nil {
		return nil, nil, err
	}
	body, err := io.ReadAll(mediaPart)
	if err != nil {
		return nil, nil, err
	}
	return &meta, body, nil
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]interface{}{
			"code":    code,
			"message": http.StatusText(code),
		},
	})
}

// IsFolder reports whether f is a Drive folder
func IsFolder(f *drive.File) bool {
	return f.MimeType == utils.MimeTypeFolder
}
