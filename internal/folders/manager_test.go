package folders

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/dl-alexandre/mrisync/internal/api"
	testutil "github.com/dl-alexandre/mrisync/internal/testing"
	"github.com/dl-alexandre/mrisync/internal/utils"
)

func newTestManager(t *testing.T) (*Manager, *testutil.DriveServer) {
	t.Helper()
	srv := testutil.NewDriveServer(t)
	client := api.NewClient(srv.Service(t), 3, 1, nil)
	return NewManager(client), srv
}

func TestNewManager(t *testing.T) {
	client := &api.Client{}
	manager := NewManager(client)

	if manager == nil {
		t.Fatal("NewManager returned nil")
	}
	if manager.client != client {
		t.Error("Manager client not set correctly")
	}
}

func TestCreate(t *testing.T) {
	manager, srv := newTestManager(t)

	folder, err := manager.Create(testutil.TestContext(), testutil.TestRequestContext(), "hlp17umm01234_05678", "root")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if folder.MimeType != utils.MimeTypeFolder {
		t.Errorf("MimeType = %s, want folder", folder.MimeType)
	}

	stored, ok := srv.File(folder.ID)
	if !ok {
		t.Fatal("folder not stored")
	}
	if stored.Name != "hlp17umm01234_05678" || stored.Parents[0] != "root" {
		t.Errorf("stored = %+v", stored)
	}
}

func TestListAll_Paginates(t *testing.T) {
	manager, srv := newTestManager(t)
	srv.SetPageSize(2)

	for i := 0; i < 5; i++ {
		srv.AddFile(testutil.TestFile("", fmt.Sprintf("f%d.dcm", i), 0, "parent"), []byte("x"))
	}
	srv.AddFile(testutil.TestFolder("", "sub", "parent"), nil)
	srv.AddFile(testutil.TestFile("", "elsewhere.dcm", 0, "other"), []byte("x"))

	children, err := manager.ListAll(testutil.TestContext(), testutil.TestRequestContext(), "parent")
	if err != nil {
		t.Fatalf("ListAll() error = %v", err)
	}
	if len(children) != 6 {
		t.Fatalf("ListAll() returned %d entries, want 6", len(children))
	}
	if srv.Requests("list") != 3 {
		t.Errorf("list requests = %d, want 3", srv.Requests("list"))
	}
}

func TestList_RetriesTransientFailure(t *testing.T) {
	manager, srv := newTestManager(t)
	srv.AddFile(testutil.TestFile("", "a.dcm", 0, "parent"), []byte("x"))
	srv.FailNext("list", http.StatusInternalServerError, http.StatusTooManyRequests)

	result, err := manager.List(testutil.TestContext(), testutil.TestRequestContext(), "parent", 0, "")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(result.Files) != 1 {
		t.Errorf("List() returned %d files, want 1", len(result.Files))
	}
	if srv.Requests("list") != 3 {
		t.Errorf("list requests = %d, want 3", srv.Requests("list"))
	}
}

func TestList_PermissionDenied(t *testing.T) {
	manager, srv := newTestManager(t)
	srv.FailNext("list", http.StatusForbidden)

	_, err := manager.List(testutil.TestContext(), testutil.TestRequestContext(), "parent", 0, "")
	if err == nil {
		t.Fatal("expected error")
	}
	if code := utils.CodeOf(err); code != utils.ErrCodePermissionDenied {
		t.Errorf("error code = %s, want %s", code, utils.ErrCodePermissionDenied)
	}
	if srv.Requests("list") != 1 {
		t.Errorf("403 without rate-limit reason must not be retried, got %d requests", srv.Requests("list"))
	}
}

func TestGet(t *testing.T) {
	manager, srv := newTestManager(t)
	f := srv.AddFile(testutil.TestFolder("", "MRI", "root"), nil)

	got, err := manager.Get(testutil.TestContext(), testutil.TestRequestContext(), f.Id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Name != "MRI" || got.MimeType != utils.MimeTypeFolder {
		t.Errorf("Get() = %+v", got)
	}
}
